// Package backendtest provides fixtures for tests of backend clients.
package backendtest

import (
	"bytes"
	"encoding/binary"
)

// WAV returns a silent 16-bit mono PCM stream of the given length. When
// extraChunk is set an odd-sized LIST chunk precedes the fmt chunk.
func WAV(sampleRate uint32, seconds float64, extraChunk bool) []byte {
	const channels, bits = 1, 16
	byteRate := sampleRate * channels * bits / 8
	dataLen := uint32(float64(byteRate) * seconds)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	if extraChunk {
		buf.WriteString("LIST")
		_ = binary.Write(&buf, binary.LittleEndian, uint32(3))
		buf.Write([]byte{1, 2, 3, 0})
	}

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, sampleRate)
	_ = binary.Write(&buf, binary.LittleEndian, byteRate)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels*bits/8))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bits))

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(make([]byte, dataLen))

	return buf.Bytes()
}

package backend

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ErrNotWAV is returned when audio bytes carry no RIFF/WAVE header
var ErrNotWAV = errors.New("not a RIFF/WAVE stream")

// WAVDuration reads the playback length from a WAV header. Chunks other than
// "fmt " and "data" are skipped.
func WAVDuration(data []byte) (time.Duration, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, ErrNotWAV
	}

	var byteRate uint32
	var dataSize uint32
	found := false

	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := binary.LittleEndian.Uint32(data[off+4 : off+8])
		body := off + 8

		switch id {
		case "fmt ":
			if body+12 > len(data) {
				return 0, fmt.Errorf("truncated fmt chunk: %w", ErrNotWAV)
			}
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
		case "data":
			dataSize = size
			// streamed responses may leave the size unset
			if size == 0 || size == 0xFFFFFFFF || int(size) > len(data)-body {
				dataSize = uint32(len(data) - body)
			}
			found = true
		}

		if found && byteRate > 0 {
			break
		}

		// chunks are word aligned
		next := body + int(size) + int(size&1)
		if next <= off {
			break
		}
		off = next
	}

	if !found || byteRate == 0 {
		return 0, fmt.Errorf("missing fmt or data chunk: %w", ErrNotWAV)
	}

	return time.Duration(float64(dataSize) / float64(byteRate) * float64(time.Second)), nil
}

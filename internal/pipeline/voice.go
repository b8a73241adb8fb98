package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/cuongbtq/narra-sync/internal/backend"
	"github.com/cuongbtq/narra-sync/internal/backend/voicevox"
	"github.com/cuongbtq/narra-sync/internal/orchestrator"
	"github.com/cuongbtq/narra-sync/internal/orchestrator/domain"
)

// ErrNoInput is returned when a request names neither a file nor inline input
var ErrNoInput = errors.New("no input given")

const audioPattern = "audio_%03d.wav"

// VoiceRequest describes one narration batch. SourceFile wins over Sentences.
type VoiceRequest struct {
	// SourceFile holds one sentence per line
	SourceFile string
	Sentences  []string
	// Name stems the info file when there is no SourceFile
	Name    string
	Backend string
	// Params are passed to every payload, e.g. a speaker or voice preset
	Params    map[string]string
	OutputDir string
}

// AudioEntry is one sentence slot of a VoiceReport
type AudioEntry struct {
	ID        int              `json:"id"`
	Sentence  string           `json:"sentence"`
	AudioFile string           `json:"audio_file,omitempty"`
	Duration  float64          `json:"duration"`
	Skipped   bool             `json:"skipped,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorKind domain.ErrorKind `json:"error_kind,omitempty"`
}

// VoiceReport is written next to the audio files as <stem>_audio_info.json
type VoiceReport struct {
	SourceFile            string       `json:"source_file"`
	InfoFile              string       `json:"info_file"`
	TotalSentences        int          `json:"total_sentences"`
	TotalDuration         float64      `json:"total_duration"`
	SuccessfulGenerations int          `json:"successful_generations"`
	AudioFiles            []AudioEntry `json:"audio_files"`
}

// Voice runs narration batches
type Voice struct {
	orch      *orchestrator.Orchestrator
	source    Source
	outputDir string
	logger    *slog.Logger
}

// NewVoice creates a Voice writing to outputDir unless a request overrides it
func NewVoice(orch *orchestrator.Orchestrator, source Source, outputDir string, logger *slog.Logger) *Voice {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Voice{orch: orch, source: source, outputDir: outputDir, logger: logger}
}

// Run synthesizes every sentence and writes the info file. Individual sentence
// failures are recorded in the report; only setup failures return an error.
func (v *Voice) Run(ctx context.Context, req VoiceRequest) (*VoiceReport, error) {
	sentences := req.Sentences
	stem := req.Name
	if req.SourceFile != "" {
		var err error
		if sentences, err = ReadSentences(req.SourceFile); err != nil {
			return nil, err
		}
		stem = strings.TrimSuffix(filepath.Base(req.SourceFile), filepath.Ext(req.SourceFile))
	}
	if len(sentences) == 0 {
		return nil, ErrNoInput
	}
	if stem == "" {
		stem = "batch_" + uuid.NewString()[:8]
	}

	name := req.Backend
	if name == "" {
		name = voicevox.Name
	}
	adapter, limit, err := v.source.Adapter(name)
	if err != nil {
		return nil, err
	}

	dir := req.OutputDir
	if dir == "" {
		dir = v.outputDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audio directory: %w", err)
	}

	inputs := make([]domain.Payload, len(sentences))
	for i, s := range sentences {
		inputs[i] = domain.Payload{
			Text:   s,
			Output: filepath.Join(dir, fmt.Sprintf(audioPattern, i)),
			Params: maps.Clone(req.Params),
		}
	}

	// narration text is never rewritten
	outcomes, err := v.orch.RunBatch(ctx, inputs, limit, adapter, domain.RetryPolicy{})
	if err != nil {
		return nil, fmt.Errorf("failed to run voice batch: %w", err)
	}

	report := buildVoiceReport(req.SourceFile, outcomes)
	report.InfoFile = filepath.Join(dir, stem+"_audio_info.json")

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode audio info: %w", err)
	}
	if err := backend.WriteFile(report.InfoFile, data); err != nil {
		return nil, fmt.Errorf("failed to write audio info: %w", err)
	}

	v.logger.Info("Voice batch finished",
		slog.String("backend", name),
		slog.String("info_file", report.InfoFile),
		slog.Int("sentences", report.TotalSentences),
		slog.Int("succeeded", report.SuccessfulGenerations),
		slog.Float64("total_duration", report.TotalDuration),
	)
	return report, nil
}

func buildVoiceReport(source string, outcomes []domain.Outcome) *VoiceReport {
	report := &VoiceReport{
		SourceFile:     source,
		TotalSentences: len(outcomes),
		AudioFiles:     make([]AudioEntry, len(outcomes)),
	}

	for i, o := range outcomes {
		entry := AudioEntry{ID: o.Index, Sentence: o.Input.Text}
		switch o.State {
		case domain.JobStateSucceeded:
			entry.AudioFile = filepath.Base(o.Artifact.Path)
			entry.Duration = o.Artifact.Duration.Seconds()
			report.TotalDuration += entry.Duration
			report.SuccessfulGenerations++
		case domain.JobStateSkipped:
			entry.Skipped = true
		default:
			if o.Error != nil {
				entry.Error = o.Error.Message
				entry.ErrorKind = o.Error.Kind
			}
		}
		report.AudioFiles[i] = entry
	}
	return report
}

// ReadSentences returns the trimmed lines of path. Blank lines are kept so
// sentence ids stay aligned with line numbers.
func ReadSentences(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sentence file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sentence file: %w", err)
	}
	return lines, nil
}

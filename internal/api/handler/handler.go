package handler

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cuongbtq/narra-sync/internal/backend/voicevox"
	"github.com/cuongbtq/narra-sync/internal/pipeline"
)

// VoiceRunner runs narration batches
type VoiceRunner interface {
	Run(ctx context.Context, req pipeline.VoiceRequest) (*pipeline.VoiceReport, error)
}

// ImageRunner runs scene batches and single-scene regenerations
type ImageRunner interface {
	Run(ctx context.Context, req pipeline.ImagesRequest) (*pipeline.ImagesReport, error)
	Regenerate(ctx context.Context, req pipeline.RegenerateRequest) (*pipeline.SceneEntry, error)
}

// SpeakerLister lists the voices of the speech engine
type SpeakerLister interface {
	ListSpeakers(ctx context.Context) ([]voicevox.Speaker, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Voice    VoiceRunner
	Images   ImageRunner
	Speakers SpeakerLister
	// OutputDir is the only directory scene files are read from
	OutputDir string
	Gatherer  prometheus.Gatherer
}

// BatchHandler handles batch-related HTTP requests
type BatchHandler struct {
	logger    *slog.Logger
	voice     VoiceRunner
	images    ImageRunner
	speakers  SpeakerLister
	outputDir string
}

// NewBatchHandler creates a new BatchHandler instance
func NewBatchHandler(deps *Dependencies) *BatchHandler {
	return &BatchHandler{
		logger:    deps.Logger,
		voice:     deps.Voice,
		images:    deps.Images,
		speakers:  deps.Speakers,
		outputDir: deps.OutputDir,
	}
}

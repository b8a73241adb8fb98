// Package pipeline turns narration files and scene lists into orchestrated
// batches and records what each batch produced.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/cuongbtq/narra-sync/internal/backend"
	"github.com/cuongbtq/narra-sync/internal/backend/comfyui"
	"github.com/cuongbtq/narra-sync/internal/backend/midjourney"
	"github.com/cuongbtq/narra-sync/internal/backend/openaitts"
	"github.com/cuongbtq/narra-sync/internal/backend/voicevox"
	"github.com/cuongbtq/narra-sync/internal/config"
	"github.com/cuongbtq/narra-sync/internal/orchestrator/domain"
	"github.com/cuongbtq/narra-sync/internal/orchestrator/task"
	"github.com/cuongbtq/narra-sync/internal/rewrite"
	"github.com/cuongbtq/narra-sync/shared/retry"
	"github.com/cuongbtq/narra-sync/shared/telemetry"
)

// ErrUnknownBackend is returned for a backend name no adapter is registered under
var ErrUnknownBackend = errors.New("unknown backend")

// Source resolves a backend name to an adapter and the concurrency limit
// batches against it run with
type Source interface {
	Adapter(name string) (backend.Adapter, int, error)
}

// Backends builds adapters from configuration
type Backends struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// NewBackends creates a Backends. metrics may be nil.
func NewBackends(cfg *config.Config, logger *slog.Logger, metrics *telemetry.Metrics) *Backends {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Backends{cfg: cfg, logger: logger, metrics: metrics}
}

// VoiceNames lists the backends a voice batch can run against
func VoiceNames() []string { return []string{voicevox.Name, openaitts.Name} }

// ImageNames lists the backends an image batch can run against
func ImageNames() []string { return []string{midjourney.Name, comfyui.Name} }

// Adapter returns a fresh adapter for name
func (b *Backends) Adapter(name string) (backend.Adapter, int, error) {
	switch name {
	case voicevox.Name:
		return b.VoiceVox().Adapter(), b.cfg.VoiceVox.Concurrency, nil

	case openaitts.Name:
		c := b.cfg.OpenAITTS
		if c.APIKey == "" {
			return nil, 0, fmt.Errorf("%s requires OPENAI_API_KEY", openaitts.Name)
		}
		client := openaitts.NewClient(openaitts.Config{
			BaseURL: c.BaseURL,
			APIKey:  c.APIKey,
			Model:   c.Model,
			Voice:   c.Voice,
			Preset:  c.Preset,
			Timeout: c.Timeout,
			Retry:   transient(c.Retry),
		}, nil, b.logger)
		return client.Adapter(), c.Concurrency, nil

	case midjourney.Name:
		c := b.cfg.Midjourney
		return b.Midjourney().Machine(b.poll(c.Poll), b.machineOptions()...), c.Concurrency, nil

	case comfyui.Name:
		c := b.cfg.ComfyUI
		client, err := comfyui.NewClient(comfyui.Config{
			BaseURL:      b.cfg.ComfyUIURL(),
			Style:        c.Style,
			WorkflowPath: c.WorkflowPath,
			Timeout:      c.Timeout,
		}, nil, b.logger)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to create comfyui client: %w", err)
		}
		return client.Machine(b.poll(c.Poll), b.machineOptions()...), c.Concurrency, nil
	}

	return nil, 0, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
}

// VoiceVox returns a client for the configured engine
func (b *Backends) VoiceVox() *voicevox.Client {
	c := b.cfg.VoiceVox
	return voicevox.NewClient(voicevox.Config{
		BaseURL:    c.URL,
		Speaker:    c.Speaker,
		SpeedScale: c.SpeedScale,
		Timeout:    c.Timeout,
		Retry:      transient(c.Retry),
	}, nil, b.logger)
}

// Midjourney returns a client for the configured proxy
func (b *Backends) Midjourney() *midjourney.Client {
	c := b.cfg.Midjourney
	return midjourney.NewClient(midjourney.Config{
		BaseURL:     b.cfg.MidjourneyURL(),
		AspectRatio: c.AspectRatio,
		Timeout:     c.Timeout,
	}, nil, b.logger)
}

// Preflight checks that the named backend is reachable before a batch is
// started against it. Only the midjourney proxy has a health endpoint; other
// backends report nil.
func (b *Backends) Preflight(ctx context.Context, name string) error {
	if name != midjourney.Name {
		return nil
	}
	if err := b.Midjourney().Ping(ctx); err != nil {
		return fmt.Errorf("midjourney proxy at %s is not reachable, check MIDJOURNEY_API_HOST and MIDJOURNEY_API_PORT: %w",
			b.cfg.MidjourneyURL(), err)
	}
	return nil
}

// Policy builds the rewrite-retry policy from the orchestrator section
func Policy(cfg config.OrchestratorConfig) domain.RetryPolicy {
	extra := make([]rewrite.Substitution, 0, len(cfg.Substitutions))
	for _, s := range cfg.Substitutions {
		extra = append(extra, rewrite.Substitution{From: s.From, To: s.To})
	}

	softener := cfg.Softener
	if softener == "" {
		softener = rewrite.DefaultSoftener
	}

	return domain.RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		Rewrite:    rewrite.New(rewrite.Merge(extra), softener),
	}
}

// transient converts a config section; the clients install their own OnRetry
func transient(c config.TransientRetryConfig) retry.Config {
	return retry.Config{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay,
		Multiplier:  c.Multiplier,
	}
}

func (b *Backends) poll(c config.PollConfig) task.Config {
	return task.Config{PollInterval: c.Interval, MaxPolls: c.MaxPolls}
}

func (b *Backends) machineOptions() []task.Option {
	return []task.Option{task.WithLogger(b.logger), task.WithMetrics(b.metrics)}
}

// VoiceParams maps request options onto payload parameters. Zero values are left out.
func VoiceParams(speaker int, voice, preset string, speed float64) map[string]string {
	params := map[string]string{}
	if speaker > 0 {
		params[voicevox.ParamSpeaker] = strconv.Itoa(speaker)
	}
	if voice != "" {
		params[openaitts.ParamVoice] = voice
	}
	if preset != "" {
		params[openaitts.ParamPreset] = preset
	}
	if speed > 0 {
		params[voicevox.ParamSpeed] = strconv.FormatFloat(speed, 'f', -1, 64)
	}
	return params
}

// ImageParams maps request options onto payload parameters. Zero values are left out.
func ImageParams(aspectRatio, loraStyle string) map[string]string {
	params := map[string]string{}
	if aspectRatio != "" {
		params[midjourney.ParamAspectRatio] = aspectRatio
	}
	if loraStyle != "" {
		params[comfyui.ParamStyle] = loraStyle
	}
	return params
}

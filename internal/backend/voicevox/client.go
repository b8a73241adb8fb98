// Package voicevox is a direct backend for a VOICEVOX engine.
package voicevox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/narra-sync/internal/backend"
	"github.com/cuongbtq/narra-sync/internal/orchestrator/domain"
	"github.com/cuongbtq/narra-sync/shared/retry"
)

const (
	Name = "voicevox"

	// Payload parameters
	ParamSpeaker = "speaker"
	ParamSpeed   = "speed"

	DefaultSpeaker = 13
)

// Config holds VOICEVOX client settings
type Config struct {
	BaseURL    string
	Speaker    int
	SpeedScale float64
	Timeout    time.Duration
	Retry      retry.Config
}

// Speaker is one selectable voice style
type Speaker struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Style string `json:"style"`
}

// Client talks to a VOICEVOX engine over HTTP. It keeps no per-call state.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a Client. A nil httpClient gets one with cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if cfg.Speaker == 0 {
		cfg.Speaker = DefaultSpeaker
	}
	if cfg.SpeedScale <= 0 {
		cfg.SpeedScale = 1.0
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Config{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 1.5}
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{cfg: cfg, http: httpClient, logger: logger}
}

// Adapter exposes the client to the orchestrator
func (c *Client) Adapter() *backend.Direct {
	return backend.NewDirect(Name, c.Synthesize)
}

// Synthesize renders in.Text and writes the WAV to in.Output. The speaker and
// speed may be overridden per payload.
func (c *Client) Synthesize(ctx context.Context, in domain.Payload) (domain.Artifact, error) {
	speaker, err := strconv.Atoi(in.Param(ParamSpeaker, strconv.Itoa(c.cfg.Speaker)))
	if err != nil {
		return domain.Artifact{}, domain.SubmissionFailure("invalid speaker id", err)
	}
	speed, err := strconv.ParseFloat(in.Param(ParamSpeed, strconv.FormatFloat(c.cfg.SpeedScale, 'f', -1, 64)), 64)
	if err != nil {
		return domain.Artifact{}, domain.SubmissionFailure("invalid speed scale", err)
	}

	var query map[string]any
	err = c.withRetry(ctx, "audio query", func() error {
		q, err := c.audioQuery(ctx, in.Text, speaker)
		query = q
		return err
	})
	if err != nil {
		return domain.Artifact{}, domain.SubmissionFailure("failed to get audio query", err)
	}

	query["speedScale"] = speed

	var audio []byte
	err = c.withRetry(ctx, "synthesis", func() error {
		b, err := c.synthesis(ctx, query, speaker)
		audio = b
		return err
	})
	if err != nil {
		return domain.Artifact{}, domain.SubmissionFailure("failed to synthesize audio", err)
	}

	duration, err := backend.WAVDuration(audio)
	if err != nil {
		return domain.Artifact{}, domain.DownloadFailure("engine returned unreadable audio", err)
	}

	art := domain.Artifact{Duration: duration}
	if in.Output != "" {
		if err := backend.WriteFile(in.Output, audio); err != nil {
			return domain.Artifact{}, domain.DownloadFailure("failed to write audio", err)
		}
		art.Path = in.Output
	}

	c.logger.Debug("Audio synthesized",
		slog.String("output", in.Output),
		slog.Int("speaker", speaker),
		slog.Duration("duration", duration),
	)

	return art, nil
}

// ListSpeakers returns every style the engine offers, one entry per style id
func (c *Client) ListSpeakers(ctx context.Context) ([]Speaker, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/speakers", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build speakers request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list speakers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to list speakers: HTTP %d", resp.StatusCode)
	}

	var raw []struct {
		Name   string `json:"name"`
		Styles []struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
		} `json:"styles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode speakers: %w", err)
	}

	var out []Speaker
	for _, s := range raw {
		for _, st := range s.Styles {
			out = append(out, Speaker{ID: st.ID, Name: s.Name, Style: st.Name})
		}
	}
	return out, nil
}

func (c *Client) audioQuery(ctx context.Context, text string, speaker int) (map[string]any, error) {
	q := url.Values{}
	q.Set("text", text)
	q.Set("speaker", strconv.Itoa(speaker))

	body, err := c.post(ctx, "/audio_query?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var query map[string]any
	if err := json.Unmarshal(body, &query); err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to decode audio query: %w", err))
	}
	return query, nil
}

func (c *Client) synthesis(ctx context.Context, query map[string]any, speaker int) ([]byte, error) {
	payload, err := json.Marshal(query)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to encode audio query: %w", err))
	}
	return c.post(ctx, "/synthesis?speaker="+strconv.Itoa(speaker), payload)
}

// post returns the response body. Client errors are permanent; server and
// transport errors may be retried.
func (c *Client) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, retry.Permanent(err)
		}
		return nil, fmt.Errorf("failed to call %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(body))
	default:
		return nil, retry.Permanent(fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(body)))
	}
}

func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	cfg := c.cfg.Retry
	cfg.OnRetry = func(attempt int, err error) {
		c.logger.Warn("VOICEVOX call failed, retrying",
			slog.String("operation", op),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	return retry.Do(ctx, cfg, fn)
}

func truncate(b []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

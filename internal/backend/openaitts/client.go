// Package openaitts is a direct backend for the OpenAI speech endpoint.
package openaitts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/narra-sync/internal/backend"
	"github.com/cuongbtq/narra-sync/internal/orchestrator/domain"
	"github.com/cuongbtq/narra-sync/shared/retry"
)

const (
	Name = "openai_tts"

	// Payload parameters
	ParamVoice  = "voice"
	ParamPreset = "preset"
	ParamSpeed  = "speed"

	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini-tts"
	DefaultVoice   = "alloy"
)

// Config holds OpenAI TTS client settings
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Voice   string
	Preset  string
	Timeout time.Duration
	Retry   retry.Config
}

// Client calls POST /audio/speech and stores WAV output
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

type speechRequest struct {
	Model          string  `json:"model"`
	Voice          string  `json:"voice"`
	Input          string  `json:"input"`
	Speed          float64 `json:"speed,omitempty"`
	ResponseFormat string  `json:"response_format"`
	Instructions   string  `json:"instructions,omitempty"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewClient creates a Client. A nil httpClient gets one with cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
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

// Synthesize renders in.Text and writes the WAV to in.Output
func (c *Client) Synthesize(ctx context.Context, in domain.Payload) (domain.Artifact, error) {
	req, err := c.buildRequest(in)
	if err != nil {
		return domain.Artifact{}, domain.SubmissionFailure("invalid speech parameters", err)
	}

	var audio []byte
	err = retry.Do(ctx, c.retryConfig(), func() error {
		b, err := c.speech(ctx, req)
		audio = b
		return err
	})
	if err != nil {
		// a content-policy refusal surfaces as a record from speech
		return domain.Artifact{}, err
	}

	duration, err := backend.WAVDuration(audio)
	if err != nil {
		return domain.Artifact{}, domain.DownloadFailure("api returned unreadable audio", err)
	}

	art := domain.Artifact{Duration: duration}
	if in.Output != "" {
		if err := backend.WriteFile(in.Output, audio); err != nil {
			return domain.Artifact{}, domain.DownloadFailure("failed to write audio", err)
		}
		art.Path = in.Output
	}
	return art, nil
}

func (c *Client) buildRequest(in domain.Payload) (speechRequest, error) {
	voice := in.Param(ParamVoice, c.cfg.Voice)
	if id, err := strconv.Atoi(voice); err == nil {
		name, ok := Voices[id]
		if !ok {
			return speechRequest{}, fmt.Errorf("unknown voice id %d", id)
		}
		voice = name
	}

	preset := in.Param(ParamPreset, c.cfg.Preset)
	instructions, ok := Presets[preset]
	if preset != "" && !ok {
		return speechRequest{}, fmt.Errorf("unknown voice preset %q", preset)
	}

	speed := 0.0
	if s := in.Param(ParamSpeed, ""); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return speechRequest{}, fmt.Errorf("invalid speed %q: %w", s, err)
		}
		speed = v
	}

	return speechRequest{
		Model:          c.cfg.Model,
		Voice:          voice,
		Input:          in.Text,
		Speed:          speed,
		ResponseFormat: "wav",
		Instructions:   instructions,
	}, nil
}

func (c *Client) speech(ctx context.Context, body speechRequest) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, retry.Permanent(domain.SubmissionFailure("failed to encode request", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, retry.Permanent(domain.SubmissionFailure("failed to build request", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.SubmissionFailure("speech request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.SubmissionFailure("failed to read speech response", err)
	}

	if resp.StatusCode == http.StatusOK {
		return data, nil
	}

	var apiErr apiError
	_ = json.Unmarshal(data, &apiErr)
	msg := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, apiErr.Error.Message)

	if isContentPolicy(apiErr) {
		return nil, retry.Permanent(domain.PolicyRejection(msg, domain.ErrContentPolicy))
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, domain.SubmissionFailure(msg, nil)
	}
	return nil, retry.Permanent(domain.SubmissionFailure(msg, nil))
}

func isContentPolicy(e apiError) bool {
	if e.Error.Code == "content_policy_violation" || e.Error.Type == "content_policy_violation" {
		return true
	}
	return strings.Contains(strings.ToLower(e.Error.Message), "content policy")
}

func (c *Client) retryConfig() retry.Config {
	cfg := c.cfg.Retry
	cfg.OnRetry = func(attempt int, err error) {
		c.logger.Warn("OpenAI TTS call failed, retrying",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	return cfg
}

// Package comfyui drives a ComfyUI server as a submit-then-poll backend.
package comfyui

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/narra-sync/internal/backend"
	"github.com/cuongbtq/narra-sync/internal/orchestrator/domain"
	"github.com/cuongbtq/narra-sync/internal/orchestrator/task"
)

const (
	Name = "comfyui"

	// ParamStyle selects a LoRA from Styles
	ParamStyle = "style"

	DefaultStyle = "cinematic"

	positiveSuffix = ", masterpiece, best quality"
	negativePrompt = "text, watermark, bad quality, worst quality, low quality, illustration, 3d render, cartoon, anime, manga"

	// node ids in the workflow template
	nodeSampler  = "3"
	nodePositive = "6"
	nodeNegative = "7"
)

//go:embed workflow.json
var defaultWorkflow []byte

// Styles maps style names to LoRA files
var Styles = map[string]string{
	"ink":          "写实水墨水彩风格_F1_水墨.safetensors",
	"sketch":       "星揽_手绘线条小清新漫画风格V2_v1.0.safetensors",
	"classical":    "中国古典风格滤镜_flux_V1.0.safetensors",
	"illustration": "Illustration_story book.safetensors",
	"realistic":    "adilson-farias-flux1-dev-v1-000088.safetensors",
	"cinematic":    "Cinematic style 3 (FLUX).safetensors",
}

// StyleNames returns the style names in a stable order
func StyleNames() []string {
	names := make([]string, 0, len(Styles))
	for n := range Styles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Config holds ComfyUI client settings
type Config struct {
	BaseURL string
	Style   string
	// WorkflowPath overrides the embedded workflow template
	WorkflowPath string
	Timeout      time.Duration
}

type node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// Client implements task.Backend. It has no dependent phase.
type Client struct {
	cfg      Config
	http     *http.Client
	logger   *slog.Logger
	workflow []byte
	clientID string
	seed     func() int64
}

var _ task.Backend = (*Client)(nil)

// NewClient loads the workflow template and creates a Client
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if cfg.Style == "" {
		cfg.Style = DefaultStyle
	}
	if _, ok := Styles[cfg.Style]; !ok {
		return nil, fmt.Errorf("unknown style %q, available: %s", cfg.Style, strings.Join(StyleNames(), ", "))
	}

	workflow := defaultWorkflow
	if cfg.WorkflowPath != "" {
		data, err := os.ReadFile(cfg.WorkflowPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read workflow: %w", err)
		}
		workflow = data
	}

	var parsed map[string]node
	if err := json.Unmarshal(workflow, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse workflow: %w", err)
	}
	for _, id := range []string{nodeSampler, nodePositive, nodeNegative} {
		if n, ok := parsed[id]; !ok || n.Inputs == nil {
			return nil, fmt.Errorf("workflow is missing node %s", id)
		}
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:      cfg,
		http:     httpClient,
		logger:   logger,
		workflow: workflow,
		clientID: uuid.NewString(),
		seed:     func() int64 { return rand.Int64N(9_999_999_999) + 1 },
	}, nil
}

func (c *Client) Name() string { return Name }

// Machine wraps the client in a task state machine ready for the orchestrator
func (c *Client) Machine(cfg task.Config, opts ...task.Option) *task.Machine {
	cfg.Candidates = 0
	return task.New(c, cfg, opts...)
}

// Submit queues a workflow built from in and returns the prompt id
func (c *Client) Submit(ctx context.Context, in domain.Payload) (string, error) {
	workflow, err := c.buildWorkflow(in)
	if err != nil {
		return "", domain.SubmissionFailure("failed to build workflow", err)
	}

	payload, err := json.Marshal(map[string]any{"prompt": workflow, "client_id": c.clientID})
	if err != nil {
		return "", domain.SubmissionFailure("failed to encode prompt", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/prompt", bytes.NewReader(payload))
	if err != nil {
		return "", domain.SubmissionFailure("failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", domain.SubmissionFailure("comfyui request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.SubmissionFailure("failed to read comfyui response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", domain.SubmissionFailure(fmt.Sprintf("comfyui returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var out struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.PromptID == "" {
		return "", domain.SubmissionFailure("comfyui accepted the prompt without an id", err)
	}
	return out.PromptID, nil
}

// Fetch reads the prompt history. An empty history means the prompt is still queued.
func (c *Client) Fetch(ctx context.Context, promptID string) (task.Poll, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return task.Poll{}, fmt.Errorf("failed to build history request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return task.Poll{}, fmt.Errorf("failed to fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return task.Poll{}, fmt.Errorf("failed to fetch history: HTTP %d", resp.StatusCode)
	}

	var history map[string]struct {
		Status struct {
			StatusStr string `json:"status_str"`
			Completed bool   `json:"completed"`
		} `json:"status"`
		Outputs map[string]struct {
			Images []struct {
				Filename  string `json:"filename"`
				Subfolder string `json:"subfolder"`
				Type      string `json:"type"`
			} `json:"images"`
		} `json:"outputs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return task.Poll{}, fmt.Errorf("failed to decode history: %w", err)
	}

	entry, ok := history[promptID]
	if !ok {
		return task.Poll{Status: task.StatusPending}, nil
	}

	if entry.Status.StatusStr == "error" {
		return task.Poll{Status: task.StatusFailure, FailReason: "workflow execution failed"}, nil
	}

	// node ids sort for a deterministic pick when several nodes save images
	ids := make([]string, 0, len(entry.Outputs))
	for id := range entry.Outputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if images := entry.Outputs[id].Images; len(images) > 0 {
			img := images[0]
			q := url.Values{}
			q.Set("filename", img.Filename)
			q.Set("subfolder", img.Subfolder)
			q.Set("type", img.Type)
			return task.Poll{
				Status:    task.StatusSuccess,
				ResultURL: c.cfg.BaseURL + "/view?" + q.Encode(),
			}, nil
		}
	}

	if entry.Status.Completed {
		return task.Poll{Status: task.StatusFailure, FailReason: "workflow produced no images"}, nil
	}
	return task.Poll{Status: task.StatusPending}, nil
}

// Download saves the image served by /view
func (c *Client) Download(ctx context.Context, resultURL, dest string) error {
	return backend.Download(ctx, c.http, resultURL, dest, nil)
}

func (c *Client) buildWorkflow(in domain.Payload) (map[string]node, error) {
	style := in.Param(ParamStyle, c.cfg.Style)
	lora, ok := Styles[style]
	if !ok {
		return nil, fmt.Errorf("unknown style %q", style)
	}

	// decode per call so concurrent jobs never share node maps
	var wf map[string]node
	if err := json.Unmarshal(c.workflow, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse workflow: %w", err)
	}

	wf[nodeSampler].Inputs["seed"] = c.seed()
	wf[nodePositive].Inputs["text"] = in.Text + positiveSuffix
	wf[nodeNegative].Inputs["text"] = negativePrompt

	for _, n := range wf {
		if n.ClassType == "LoraLoader" && n.Inputs != nil {
			n.Inputs["lora_name"] = lora
		}
	}
	return wf, nil
}

// Package midjourney drives a midjourney-proxy server as a two-phase backend:
// an imagine task produces a grid of candidates and an upscale task refines one.
package midjourney

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/narra-sync/internal/backend"
	"github.com/cuongbtq/narra-sync/internal/orchestrator/domain"
	"github.com/cuongbtq/narra-sync/internal/orchestrator/task"
)

const (
	Name = "midjourney"

	// ParamAspectRatio selects "16:9" or "9:16"; anything else keeps the square default
	ParamAspectRatio = "aspect_ratio"

	// Candidates is the size of the imagine grid
	Candidates = 4

	promptSuffix = ", high quality, detailed"
)

// Proxy response codes
const (
	codeSuccess = 1
	codeExists  = 21
	codeQueued  = 22
	codeBanned  = 24
)

// Config holds proxy client settings
type Config struct {
	BaseURL     string
	AspectRatio string
	Timeout     time.Duration
}

// Client implements task.DependentBackend against the proxy's /mj API
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

var _ task.DependentBackend = (*Client)(nil)

type submitResponse struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
	Result      string `json:"result"`
}

type fetchResponse struct {
	Status     string `json:"status"`
	Progress   string `json:"progress"`
	FailReason string `json:"failReason"`
	ImageURL   string `json:"imageUrl"`
}

// NewClient creates a Client. BaseURL is the proxy root such as http://localhost:8080.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{cfg: cfg, http: httpClient, logger: logger}
}

func (c *Client) Name() string { return Name }

// Submit posts an imagine task and returns its id
func (c *Client) Submit(ctx context.Context, in domain.Payload) (string, error) {
	body := map[string]any{
		"prompt":     c.enhance(in),
		"base64":     nil,
		"notifyHook": nil,
	}

	var resp submitResponse
	if err := c.postJSON(ctx, "/mj/submit/imagine", body, &resp); err != nil {
		return "", err
	}

	switch resp.Code {
	case codeSuccess, codeQueued:
	case codeBanned:
		return "", domain.PolicyRejection("imagine refused: "+resp.Description, domain.ErrContentPolicy)
	default:
		return "", domain.SubmissionFailure(fmt.Sprintf("imagine refused with code %d: %s", resp.Code, resp.Description), nil)
	}

	if resp.Result == "" {
		return "", domain.SubmissionFailure("imagine accepted without a task id", nil)
	}
	return resp.Result, nil
}

// SubmitDependent upscales candidate choice (1-based) of the parent grid
func (c *Client) SubmitDependent(ctx context.Context, parentID string, choice int) (string, error) {
	if choice < 1 || choice > Candidates {
		return "", domain.SubmissionFailure(fmt.Sprintf("upscale choice %d out of range", choice), nil)
	}

	body := map[string]any{
		"content":    fmt.Sprintf("%s U%d", parentID, choice),
		"notifyHook": nil,
	}

	var resp submitResponse
	if err := c.postJSON(ctx, "/mj/submit/simple-change", body, &resp); err != nil {
		return "", err
	}

	switch resp.Code {
	case codeSuccess, codeExists, codeQueued:
	default:
		return "", domain.SubmissionFailure(fmt.Sprintf("upscale refused with code %d: %s", resp.Code, resp.Description), nil)
	}

	if resp.Result == "" {
		return "", domain.SubmissionFailure("upscale accepted without a task id", nil)
	}
	return resp.Result, nil
}

// Fetch reports the status of taskID
func (c *Client) Fetch(ctx context.Context, taskID string) (task.Poll, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/mj/task/"+taskID+"/fetch", nil)
	if err != nil {
		return task.Poll{}, fmt.Errorf("failed to build fetch request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return task.Poll{}, fmt.Errorf("failed to fetch task: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return task.Poll{}, fmt.Errorf("failed to fetch task: HTTP %d", resp.StatusCode)
	}

	var fr fetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return task.Poll{}, fmt.Errorf("failed to decode task: %w", err)
	}

	poll := task.Poll{
		Progress:   fr.Progress,
		FailReason: fr.FailReason,
		ResultURL:  fr.ImageURL,
	}

	switch fr.Status {
	case "SUCCESS":
		poll.Status = task.StatusSuccess
	case "FAILURE":
		poll.Status = task.StatusFailure
		poll.Rejected = isBanned(fr.FailReason)
	default:
		// NOT_START, SUBMITTED, IN_PROGRESS
		poll.Status = task.StatusPending
	}
	return poll, nil
}

// Download saves the result image. Discord CDN refuses requests without a
// browser-like user agent. On failure the URL is left next to dest so it
// can be fetched by hand.
func (c *Client) Download(ctx context.Context, resultURL, dest string) error {
	headers := map[string]string{
		"User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36",
		"Accept":     "image/avif,image/webp,image/apng,image/*,*/*;q=0.8",
		"Referer":    "https://www.midjourney.com/",
	}

	err := backend.Download(ctx, c.http, resultURL, dest, headers)
	if err == nil {
		return nil
	}

	note := fmt.Sprintf("Image URL: %s\nDownload failed, open the URL in a browser to save it.\n", resultURL)
	if werr := backend.WriteFile(dest+"_url.txt", []byte(note)); werr != nil {
		c.logger.Warn("Failed to save result url",
			slog.String("dest", dest),
			slog.String("error", werr.Error()),
		)
	}
	return err
}

func (c *Client) enhance(in domain.Payload) string {
	prompt := in.Text + promptSuffix
	switch ar := in.Param(ParamAspectRatio, c.cfg.AspectRatio); ar {
	case "16:9", "9:16":
		prompt += " --ar " + ar
	}
	return prompt
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out *submitResponse) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return domain.SubmissionFailure("failed to encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return domain.SubmissionFailure("failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.SubmissionFailure("proxy request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.SubmissionFailure(fmt.Sprintf("proxy returned HTTP %d", resp.StatusCode), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.SubmissionFailure("failed to decode proxy response", err)
	}
	return nil
}

func isBanned(reason string) bool {
	r := strings.ToLower(reason)
	return strings.Contains(r, "banned") || strings.Contains(r, "sensitive") || strings.Contains(r, "moderation")
}

// Machine wraps the client in a task state machine ready for the orchestrator
func (c *Client) Machine(cfg task.Config, opts ...task.Option) *task.Machine {
	if cfg.Candidates == 0 {
		cfg.Candidates = Candidates
	}
	return task.New(c, cfg, opts...)
}

// Ping checks that the proxy answers its task list endpoint
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/mj/task/list?limit=1", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach midjourney proxy: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("midjourney proxy returned HTTP %d", resp.StatusCode)
	}
	return nil
}

package pipeline

import (
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
	"github.com/cuongbtq/narra-sync/internal/backend/midjourney"
	"github.com/cuongbtq/narra-sync/internal/config"
	"github.com/cuongbtq/narra-sync/internal/orchestrator"
	"github.com/cuongbtq/narra-sync/internal/orchestrator/domain"
)

// ErrSceneNotFound is returned when a scene id is outside the scene list
var ErrSceneNotFound = errors.New("scene not found")

const (
	sceneImagePattern = "scene_%03d.png"

	// fallbackStyle is used for a style name the configuration does not define
	fallbackStyle = "high quality, detailed"
)

// Scene statuses in an ImagesReport
const (
	SceneGenerated = "generated"
	SceneExists    = "exists"
	SceneSkipped   = "skipped"
	SceneFailed    = "failed"
)

// ImagesRequest describes one scene batch. ScenesFile wins over Scenes.
type ImagesRequest struct {
	ScenesFile string
	Scenes     []Scene
	// Name stems the info file when there is no ScenesFile
	Name    string
	Backend string
	// Style names an entry of output.image_styles; CustomStyle replaces it
	Style       string
	CustomStyle string
	// Params are passed to every payload, e.g. an aspect ratio or LoRA style
	Params    map[string]string
	OutputDir string
	// Overwrite regenerates scenes whose image file already exists
	Overwrite bool
}

// RegenerateRequest regenerates a single scene of a scenes file
type RegenerateRequest struct {
	ScenesFile string
	// SceneID is the 1-based position of the scene in the file
	SceneID int
	// Prompt replaces the stored prompt when set
	Prompt      string
	Backend     string
	Style       string
	CustomStyle string
	Params      map[string]string
	OutputDir   string
}

// SceneEntry is the outcome of one scene
type SceneEntry struct {
	SceneID   int    `json:"scene_id"`
	ImageFile string `json:"image_file"`
	Prompt    string `json:"prompt"`
	// FinalPrompt is the prompt that produced the image, after any rewrite
	FinalPrompt string           `json:"final_prompt,omitempty"`
	URL         string           `json:"url,omitempty"`
	Attempts    int              `json:"attempts"`
	Status      string           `json:"status"`
	Error       string           `json:"error,omitempty"`
	ErrorKind   domain.ErrorKind `json:"error_kind,omitempty"`
}

// ImagesReport is written next to the images as <stem>_image_info.json
type ImagesReport struct {
	ScenesFile  string       `json:"scenes_file"`
	InfoFile    string       `json:"info_file"`
	Backend     string       `json:"backend"`
	TotalScenes int          `json:"total_scenes"`
	Generated   int          `json:"generated"`
	Failed      int          `json:"failed"`
	Scenes      []SceneEntry `json:"scenes"`
}

// Images runs scene image batches
type Images struct {
	orch   *orchestrator.Orchestrator
	source Source
	policy domain.RetryPolicy
	out    config.OutputConfig
	logger *slog.Logger
}

// NewImages creates an Images. policy governs rewrite-and-resubmit on
// content-policy rejections.
func NewImages(orch *orchestrator.Orchestrator, source Source, policy domain.RetryPolicy, out config.OutputConfig, logger *slog.Logger) *Images {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Images{orch: orch, source: source, policy: policy, out: out, logger: logger}
}

// Run generates an image per scene and writes the info file
func (im *Images) Run(ctx context.Context, req ImagesRequest) (*ImagesReport, error) {
	scenes := req.Scenes
	stem := req.Name
	if req.ScenesFile != "" {
		var err error
		if scenes, err = LoadScenes(req.ScenesFile); err != nil {
			return nil, err
		}
		stem = strings.TrimSuffix(filepath.Base(req.ScenesFile), filepath.Ext(req.ScenesFile))
	}
	if len(scenes) == 0 {
		return nil, ErrNoInput
	}
	if stem == "" {
		stem = "scenes_" + uuid.NewString()[:8]
	}

	name, adapter, limit, err := im.adapter(req.Backend, req.Style, req.CustomStyle)
	if err != nil {
		return nil, err
	}
	dir, err := im.dir(req.OutputDir)
	if err != nil {
		return nil, err
	}

	inputs := make([]domain.Payload, len(scenes))
	existing := make([]bool, len(scenes))
	for i := range scenes {
		s := &scenes[i]
		if s.ImageFile == "" {
			s.ImageFile = fmt.Sprintf(sceneImagePattern, i+1)
		}
		out := filepath.Join(dir, s.ImageFile)

		if !req.Overwrite && fileExists(out) {
			// blank text makes the orchestrator skip the slot
			existing[i] = true
			continue
		}
		inputs[i] = domain.Payload{Text: s.Prompt, Output: out, Params: maps.Clone(req.Params)}
	}

	outcomes, err := im.orch.RunBatch(ctx, inputs, limit, adapter, im.policy)
	if err != nil {
		return nil, fmt.Errorf("failed to run image batch: %w", err)
	}

	report := &ImagesReport{
		ScenesFile:  req.ScenesFile,
		InfoFile:    filepath.Join(dir, stem+"_image_info.json"),
		Backend:     name,
		TotalScenes: len(scenes),
		Scenes:      make([]SceneEntry, len(scenes)),
	}
	for i, o := range outcomes {
		entry := sceneEntry(scenes[i], o)
		if existing[i] {
			entry.Status = SceneExists
		}
		switch entry.Status {
		case SceneGenerated:
			report.Generated++
		case SceneFailed:
			report.Failed++
		}
		report.Scenes[i] = entry
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode image info: %w", err)
	}
	if err := backend.WriteFile(report.InfoFile, data); err != nil {
		return nil, fmt.Errorf("failed to write image info: %w", err)
	}

	im.logger.Info("Image batch finished",
		slog.String("backend", name),
		slog.String("info_file", report.InfoFile),
		slog.Int("scenes", report.TotalScenes),
		slog.Int("generated", report.Generated),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}

// Regenerate runs a one-element batch for a single scene. When the image is
// produced the prompt that produced it is saved back to the scenes file; a
// failed attempt leaves the file untouched.
func (im *Images) Regenerate(ctx context.Context, req RegenerateRequest) (*SceneEntry, error) {
	scenes, err := LoadScenes(req.ScenesFile)
	if err != nil {
		return nil, err
	}
	idx := req.SceneID - 1
	if idx < 0 || idx >= len(scenes) {
		return nil, fmt.Errorf("%w: %d (scene count %d)", ErrSceneNotFound, req.SceneID, len(scenes))
	}

	scene := scenes[idx]
	if req.Prompt != "" {
		scene.Prompt = req.Prompt
	}
	if strings.TrimSpace(scene.Prompt) == "" {
		return nil, fmt.Errorf("scene %d: %w", req.SceneID, ErrNoInput)
	}
	if scene.ImageFile == "" {
		scene.ImageFile = fmt.Sprintf(sceneImagePattern, req.SceneID)
	}

	_, adapter, _, err := im.adapter(req.Backend, req.Style, req.CustomStyle)
	if err != nil {
		return nil, err
	}
	dir, err := im.dir(req.OutputDir)
	if err != nil {
		return nil, err
	}

	input := domain.Payload{
		Text:   scene.Prompt,
		Output: filepath.Join(dir, scene.ImageFile),
		Params: maps.Clone(req.Params),
	}
	outcomes, err := im.orch.RunBatch(ctx, []domain.Payload{input}, 1, adapter, im.policy)
	if err != nil {
		return nil, fmt.Errorf("failed to regenerate scene: %w", err)
	}

	entry := sceneEntry(scene, outcomes[0])
	if !outcomes[0].Succeeded() {
		im.logger.Warn("Scene regeneration failed, keeping stored prompt",
			slog.Int("scene_id", req.SceneID),
			slog.String("error_kind", string(entry.ErrorKind)),
		)
		return &entry, nil
	}

	scene.Prompt = entry.FinalPrompt
	scenes[idx] = scene
	if err := SaveScenes(req.ScenesFile, scenes); err != nil {
		return nil, err
	}

	im.logger.Info("Scene regenerated",
		slog.Int("scene_id", req.SceneID),
		slog.Int("attempts", entry.Attempts),
		slog.String("image_file", entry.ImageFile),
	)
	return &entry, nil
}

func (im *Images) adapter(name, style, custom string) (string, backend.Adapter, int, error) {
	if name == "" {
		name = midjourney.Name
	}
	adapter, limit, err := im.source.Adapter(name)
	if err != nil {
		return "", nil, 0, err
	}
	if suffix := im.styleText(style, custom); suffix != "" {
		adapter = styled{Adapter: adapter, suffix: ", " + suffix}
	}
	return name, adapter, limit, nil
}

func (im *Images) styleText(style, custom string) string {
	if c := strings.TrimSpace(custom); c != "" {
		return c
	}
	if style == "" || style == "none" {
		return ""
	}
	if text, ok := im.out.ImageStyles[style]; ok {
		return text
	}
	im.logger.Warn("Unknown image style, using fallback", slog.String("style", style))
	return fallbackStyle
}

func (im *Images) dir(override string) (string, error) {
	dir := override
	if dir == "" {
		dir = im.out.ImageDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create image directory: %w", err)
	}
	return dir, nil
}

func sceneEntry(scene Scene, o domain.Outcome) SceneEntry {
	entry := SceneEntry{
		SceneID:   scene.SceneID,
		ImageFile: scene.ImageFile,
		Prompt:    scene.Prompt,
		Attempts:  o.Attempts,
	}
	switch o.State {
	case domain.JobStateSucceeded:
		entry.Status = SceneGenerated
		entry.FinalPrompt = o.Artifact.Input.Text
		entry.URL = o.Artifact.URL
	case domain.JobStateSkipped:
		entry.Status = SceneSkipped
	default:
		entry.Status = SceneFailed
		if o.Error != nil {
			entry.Error = o.Error.Message
			entry.ErrorKind = o.Error.Kind
		}
	}
	return entry
}

// styled appends a style suffix on the way to the backend. The artifact
// reports the unstyled payload so a rewritten prompt can be stored as is.
type styled struct {
	backend.Adapter
	suffix string
}

func (s styled) Run(ctx context.Context, in domain.Payload) (domain.Artifact, error) {
	art, err := s.Adapter.Run(ctx, in.WithText(in.Text+s.suffix))
	if err != nil {
		return art, err
	}
	art.Input = in
	return art, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

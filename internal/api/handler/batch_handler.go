package handler

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/narra-sync/internal/api/dto"
	"github.com/cuongbtq/narra-sync/internal/pipeline"
)

const defaultScenesFile = "key_scenes.json"

var errNotLocal = errors.New("path must be a plain name inside the output directory")

// CreateVoiceBatch handles POST /api/v1/batches/voice
// Synthesizes every sentence and returns the ordered per-sentence report
func (h *BatchHandler) CreateVoiceBatch(c *gin.Context) {
	var req dto.VoiceBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if req.Name != "" && !filepath.IsLocal(req.Name) {
		h.badRequest(c, fmt.Errorf("name: %w", errNotLocal))
		return
	}

	report, err := h.voice.Run(c.Request.Context(), pipeline.VoiceRequest{
		Sentences: req.Sentences,
		Name:      req.Name,
		Backend:   req.Backend,
		Params:    pipeline.VoiceParams(req.Speaker, req.Voice, req.Preset, req.Speed),
	})
	if err != nil {
		h.fail(c, "Voice batch failed", err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// CreateImageBatch handles POST /api/v1/batches/images
// Generates an image per scene and returns the ordered per-scene report
func (h *BatchHandler) CreateImageBatch(c *gin.Context) {
	var req dto.ImageBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if req.Name != "" && !filepath.IsLocal(req.Name) {
		h.badRequest(c, fmt.Errorf("name: %w", errNotLocal))
		return
	}
	for _, s := range req.Scenes {
		if s.ImageFile != "" && !filepath.IsLocal(s.ImageFile) {
			h.badRequest(c, fmt.Errorf("scene %d image_file: %w", s.SceneID, errNotLocal))
			return
		}
	}

	preq := pipeline.ImagesRequest{
		Name:        req.Name,
		Backend:     req.Backend,
		Style:       req.Style,
		CustomStyle: req.CustomStyle,
		Params:      pipeline.ImageParams(req.AspectRatio, req.LoraStyle),
		Overwrite:   req.Overwrite,
	}
	if len(req.Scenes) > 0 {
		preq.Scenes = req.PipelineScenes()
	} else {
		path, err := h.scenesPath(req.ScenesFile)
		if err != nil {
			h.badRequest(c, err)
			return
		}
		preq.ScenesFile = path
	}

	report, err := h.images.Run(c.Request.Context(), preq)
	if err != nil {
		h.fail(c, "Image batch failed", err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// RegenerateScene handles POST /api/v1/scenes/regenerate
// Regenerates one scene, rewriting its prompt on content-policy rejections
func (h *BatchHandler) RegenerateScene(c *gin.Context) {
	var req dto.RegenerateSceneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	path, err := h.scenesPath(req.ScenesFile)
	if err != nil {
		h.badRequest(c, err)
		return
	}

	entry, err := h.images.Regenerate(c.Request.Context(), pipeline.RegenerateRequest{
		ScenesFile:  path,
		SceneID:     req.SceneID,
		Prompt:      req.Prompt,
		Backend:     req.Backend,
		Style:       req.Style,
		CustomStyle: req.CustomStyle,
		Params:      pipeline.ImageParams(req.AspectRatio, req.LoraStyle),
	})
	if err != nil {
		h.fail(c, "Scene regeneration failed", err)
		return
	}

	c.JSON(http.StatusOK, entry)
}

// ListSpeakers handles GET /api/v1/speakers
func (h *BatchHandler) ListSpeakers(c *gin.Context) {
	speakers, err := h.speakers.ListSpeakers(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list speakers", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, dto.ErrorResponse{Error: "Failed to reach speech engine"})
		return
	}

	c.JSON(http.StatusOK, speakers)
}

func (h *BatchHandler) scenesPath(name string) (string, error) {
	if name == "" {
		name = defaultScenesFile
	}
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("scenes_file: %w", errNotLocal)
	}
	return filepath.Join(h.outputDir, name), nil
}

func (h *BatchHandler) badRequest(c *gin.Context, err error) {
	h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
}

// fail maps pipeline errors onto status codes. Per-job failures never get
// here; they are part of a 200 report.
func (h *BatchHandler) fail(c *gin.Context, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrNoInput), errors.Is(err, pipeline.ErrUnknownBackend):
		status = http.StatusBadRequest
	case errors.Is(err, pipeline.ErrSceneNotFound), errors.Is(err, fs.ErrNotExist):
		status = http.StatusNotFound
	}

	h.logger.Error(msg, slog.Int("status", status), slog.String("error", err.Error()))
	c.JSON(status, dto.ErrorResponse{Error: err.Error()})
}

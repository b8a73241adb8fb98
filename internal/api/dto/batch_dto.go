package dto

import (
	"github.com/cuongbtq/narra-sync/internal/pipeline"
)

type VoiceBatchRequest struct {
	Sentences []string `json:"sentences" binding:"required,min=1"`
	// Name stems the info file
	Name    string  `json:"name" binding:"omitempty,max=64"`
	Backend string  `json:"backend" binding:"omitempty,oneof=voicevox openai_tts"`
	Speaker int     `json:"speaker" binding:"omitempty,gte=0"`
	Voice   string  `json:"voice"`
	Preset  string  `json:"preset"`
	Speed   float64 `json:"speed" binding:"omitempty,gt=0,lte=4"`
}

type SceneDTO struct {
	SceneID   int    `json:"scene_id" binding:"gte=0"`
	Prompt    string `json:"prompt"`
	ImageFile string `json:"image_file"`
}

type ImageBatchRequest struct {
	// Scenes are used as given; otherwise ScenesFile is read from the output directory
	Scenes      []SceneDTO `json:"scenes" binding:"omitempty,dive"`
	ScenesFile  string     `json:"scenes_file"`
	Name        string     `json:"name" binding:"omitempty,max=64"`
	Backend     string     `json:"backend" binding:"omitempty,oneof=midjourney comfyui"`
	Style       string     `json:"style"`
	CustomStyle string     `json:"custom_style"`
	AspectRatio string     `json:"aspect_ratio" binding:"omitempty,oneof=1:1 16:9 9:16"`
	LoraStyle   string     `json:"lora_style"`
	Overwrite   bool       `json:"overwrite"`
}

type RegenerateSceneRequest struct {
	ScenesFile  string `json:"scenes_file"`
	SceneID     int    `json:"scene_id" binding:"required,gte=1"`
	Prompt      string `json:"prompt"`
	Backend     string `json:"backend" binding:"omitempty,oneof=midjourney comfyui"`
	Style       string `json:"style"`
	CustomStyle string `json:"custom_style"`
	AspectRatio string `json:"aspect_ratio" binding:"omitempty,oneof=1:1 16:9 9:16"`
	LoraStyle   string `json:"lora_style"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// PipelineScenes converts request scenes for the image pipeline
func (r ImageBatchRequest) PipelineScenes() []pipeline.Scene {
	out := make([]pipeline.Scene, len(r.Scenes))
	for i, s := range r.Scenes {
		out[i] = pipeline.Scene{SceneID: s.SceneID, Prompt: s.Prompt, ImageFile: s.ImageFile}
	}
	return out
}

package pipeline

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cuongbtq/narra-sync/internal/backend"
)

// Scene is one entry of key_scenes.json. Keys other than the three below are
// kept as they are so saving a file never drops analysis data.
type Scene struct {
	SceneID   int
	Prompt    string
	ImageFile string

	extra map[string]json.RawMessage
}

type sceneFields struct {
	SceneID   int    `json:"scene_id"`
	Prompt    string `json:"prompt"`
	ImageFile string `json:"image_file"`
}

func (s *Scene) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var f sceneFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}

	delete(raw, "scene_id")
	delete(raw, "prompt")
	delete(raw, "image_file")

	*s = Scene{SceneID: f.SceneID, Prompt: f.Prompt, ImageFile: f.ImageFile}
	if len(raw) > 0 {
		s.extra = raw
	}
	return nil
}

func (s Scene) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.extra)+3)
	for k, v := range s.extra {
		out[k] = v
	}
	out["scene_id"] = s.SceneID
	out["prompt"] = s.Prompt
	out["image_file"] = s.ImageFile
	return json.Marshal(out)
}

// LoadScenes reads a scene list
func LoadScenes(path string) ([]Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenes file: %w", err)
	}

	var scenes []Scene
	if err := json.Unmarshal(data, &scenes); err != nil {
		return nil, fmt.Errorf("failed to parse scenes file: %w", err)
	}
	return scenes, nil
}

// SaveScenes replaces the scene list at path
func SaveScenes(path string, scenes []Scene) error {
	data, err := json.MarshalIndent(scenes, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode scenes: %w", err)
	}
	return backend.WriteFile(path, data)
}

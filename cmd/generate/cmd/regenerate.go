package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/narra-sync/internal/pipeline"
)

func newRegenerateCommand(a *app) *cobra.Command {
	var (
		f      imageFlags
		prompt string
	)

	cmd := &cobra.Command{
		Use:   "regenerate <scenes-file> <scene-id>",
		Short: "Regenerate the image of one scene",
		Long: `Regenerate the image of one scene, counting scenes from 1.

When the image is produced, the prompt that produced it is saved back to the
scenes file. A failed attempt leaves the file untouched.

Example:
  narra-sync regenerate output/key_scenes.json 4
  narra-sync regenerate output/key_scenes.json 4 --prompt "a torn banner in the wind"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid scene id %q: %w", args[1], err)
			}
			if err := a.backends.Preflight(cmd.Context(), f.backend); err != nil {
				return err
			}

			entry, err := a.images().Regenerate(cmd.Context(), pipeline.RegenerateRequest{
				ScenesFile:  args[0],
				SceneID:     id,
				Prompt:      prompt,
				Backend:     f.backend,
				Style:       f.style,
				CustomStyle: f.customStyle,
				Params:      pipeline.ImageParams(f.aspectRatio, f.loraStyle),
				OutputDir:   f.outputDir,
			})
			if err != nil {
				return err
			}

			if entry.Status != pipeline.SceneGenerated {
				return fmt.Errorf("scene %d failed after %d attempts (%s): %s", id, entry.Attempts, entry.ErrorKind, entry.Error)
			}
			cmd.Printf("Scene %d regenerated: %s (%d attempts)\n", id, entry.ImageFile, entry.Attempts)
			if entry.FinalPrompt != entry.Prompt {
				cmd.Printf("Saved rewritten prompt: %s\n", entry.FinalPrompt)
			}
			return nil
		},
	}

	f.register(cmd)
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Replace the stored prompt")

	return cmd
}

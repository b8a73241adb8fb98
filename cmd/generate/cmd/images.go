package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/narra-sync/internal/pipeline"
)

// imageFlags are shared by images and regenerate
type imageFlags struct {
	backend     string
	style       string
	customStyle string
	aspectRatio string
	loraStyle   string
	outputDir   string
}

func (f *imageFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.backend, "backend", "b", "midjourney", "Image backend: midjourney or comfyui")
	flags.StringVar(&f.style, "style", "", "Style name from output.image_styles appended to every prompt")
	flags.StringVar(&f.customStyle, "custom-style", "", "Style text appended to every prompt, overrides --style")
	flags.StringVar(&f.aspectRatio, "aspect-ratio", "", "Midjourney aspect ratio: 16:9 or 9:16")
	flags.StringVar(&f.loraStyle, "lora-style", "", "ComfyUI LoRA style (default comfyui.style)")
	flags.StringVarP(&f.outputDir, "output", "o", "", "Output directory (default output.image_dir)")
}

func newImagesCommand(a *app) *cobra.Command {
	var (
		f         imageFlags
		overwrite bool
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "images <scenes-file>",
		Short: "Generate an image for every scene of a scenes file",
		Long: `Generate an image for every scene of a key_scenes.json file.

Scenes whose image file already exists are left alone unless --overwrite is set.
A prompt the backend refuses on content grounds is rewritten and resubmitted up
to orchestrator.max_retries times.

Example:
  narra-sync images output/key_scenes.json --aspect-ratio 16:9 --style cinematic
  narra-sync images output/key_scenes.json --backend comfyui --lora-style ink`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.backends.Preflight(cmd.Context(), f.backend); err != nil {
				return err
			}

			report, err := a.images().Run(cmd.Context(), pipeline.ImagesRequest{
				ScenesFile:  args[0],
				Backend:     f.backend,
				Style:       f.style,
				CustomStyle: f.customStyle,
				Params:      pipeline.ImageParams(f.aspectRatio, f.loraStyle),
				OutputDir:   f.outputDir,
				Overwrite:   overwrite,
			})
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), report)
			}

			cmd.Printf("Generated %d/%d scene images with %s\n", report.Generated, report.TotalScenes, report.Backend)
			for _, s := range report.Scenes {
				switch s.Status {
				case pipeline.SceneFailed:
					cmd.Printf("  scene %d failed (%s): %s\n", s.SceneID, s.ErrorKind, s.Error)
				case pipeline.SceneGenerated:
					if s.FinalPrompt != s.Prompt {
						cmd.Printf("  scene %d used rewritten prompt: %s\n", s.SceneID, s.FinalPrompt)
					}
				}
			}
			cmd.Printf("Info: %s\n", report.InfoFile)
			if report.Failed > 0 {
				return fmt.Errorf("%d scenes failed", report.Failed)
			}
			return nil
		},
	}

	f.register(cmd)
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Regenerate scenes whose image already exists")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full report as JSON")

	return cmd
}

func (a *app) images() *pipeline.Images {
	return pipeline.NewImages(a.orch, a.backends, pipeline.Policy(a.cfg.Orchestrator), a.cfg.Output, a.logger.Logger)
}

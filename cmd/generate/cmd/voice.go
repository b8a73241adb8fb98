package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/narra-sync/internal/pipeline"
)

func newVoiceCommand(a *app) *cobra.Command {
	var (
		backendName string
		speaker     int
		voice       string
		preset      string
		speed       float64
		outputDir   string
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "voice <text-file>",
		Short: "Synthesize one audio file per line of a text file",
		Long: `Synthesize one WAV file per line of a text file.

Blank lines keep their slot in the info file but produce no audio.
Files are named audio_000.wav, audio_001.wav, ... and the summary is written to
<output>/<text-file-stem>_audio_info.json.

Example:
  narra-sync voice story.txt --speaker 13 --speed 1.1
  narra-sync voice story.txt --backend openai_tts --voice nova --preset storyteller`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := pipeline.NewVoice(a.orch, a.backends, a.cfg.Output.AudioDir, a.logger.Logger)
			report, err := v.Run(cmd.Context(), pipeline.VoiceRequest{
				SourceFile: args[0],
				Backend:    backendName,
				Params:     pipeline.VoiceParams(speaker, voice, preset, speed),
				OutputDir:  outputDir,
			})
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), report)
			}

			cmd.Printf("Generated %d/%d audio files (%.2fs total)\n",
				report.SuccessfulGenerations, report.TotalSentences, report.TotalDuration)
			for _, e := range report.AudioFiles {
				if e.Error != "" {
					cmd.Printf("  #%03d failed (%s): %s\n", e.ID, e.ErrorKind, e.Error)
				}
			}
			cmd.Printf("Info: %s\n", report.InfoFile)
			if failed := countFailedAudio(report); failed > 0 {
				return fmt.Errorf("%d sentences failed", failed)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&backendName, "backend", "b", "voicevox", "Speech backend: voicevox or openai_tts")
	flags.IntVarP(&speaker, "speaker", "s", 0, "VOICEVOX speaker id (default from config)")
	flags.StringVar(&voice, "voice", "", "OpenAI voice name")
	flags.StringVar(&preset, "preset", "", "OpenAI voice preset")
	flags.Float64Var(&speed, "speed", 0, "Speech speed scale (default from config)")
	flags.StringVarP(&outputDir, "output", "o", "", "Output directory (default output.audio_dir)")
	flags.BoolVar(&asJSON, "json", false, "Print the full report as JSON")

	return cmd
}

func countFailedAudio(report *pipeline.VoiceReport) int {
	n := 0
	for _, e := range report.AudioFiles {
		if e.Error != "" {
			n++
		}
	}
	return n
}

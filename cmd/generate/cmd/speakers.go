package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSpeakersCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "speakers",
		Short: "List the speakers of the VOICEVOX engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			speakers, err := a.backends.VoiceVox().ListSpeakers(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer w.Flush()
			_, _ = w.Write([]byte("ID\tNAME\tSTYLE\n"))
			for _, s := range speakers {
				if _, err := fmt.Fprintf(w, "%d\t%s\t%s\n", s.ID, s.Name, s.Style); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

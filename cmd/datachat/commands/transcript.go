package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sergioferragut/data-chat/internal/storage"
)

var transcriptJSON bool

var transcriptCmd = &cobra.Command{
	Use:   "transcript [session-id]",
	Short: "List stored transcripts or print one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		transcripts := storage.NewTranscripts(storage.New(storageDir(cfg)))
		out := cmd.OutOrStdout()

		if len(args) == 0 {
			ids, err := transcripts.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(out, id)
			}
			return nil
		}

		tr, err := transcripts.Get(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("transcript %s: %w", args[0], err)
		}
		if transcriptJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(tr)
		}
		for _, turn := range tr.Turns {
			ts := time.UnixMilli(turn.Time).Format(time.DateTime)
			fmt.Fprintf(out, "[%s] %s:\n%s\n\n", ts, turn.Role, turn.Content)
		}
		return nil
	},
}

func init() {
	transcriptCmd.Flags().BoolVar(&transcriptJSON, "json", false, "Print the raw JSON")
}

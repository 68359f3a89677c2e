package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sergioferragut/data-chat/internal/config"
	"github.com/sergioferragut/data-chat/internal/sandbox"
)

var sweepTimeout time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove exited sandboxes left by earlier runs",
	Long: `Remove every exited sandbox container under the configured prefix.
Running sandboxes are left alone, since they may belong to a live gateway.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), sweepTimeout)
		defer cancel()

		docker := sandbox.NewDocker(cfg.Sandbox.Docker, config.Millis(cfg.Sandbox.CallTimeoutMs))
		janitor := sandbox.NewJanitor(docker, sandboxPrefix(cfg), cfg.Sandbox.SweepConcurrency, nil)
		res := janitor.Sweep(ctx)

		fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, removed %d, failed %d\n", res.Scanned, res.Removed, res.Failed)
		if res.Failed > 0 {
			return fmt.Errorf("%d sandboxes could not be removed", res.Failed)
		}
		return nil
	},
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepTimeout, "timeout", 2*time.Minute, "Give up after this long")
}

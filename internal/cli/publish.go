package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"sftpmirror/internal/run"
	"sftpmirror/pkg/publisher"
	"sftpmirror/pkg/task"
)

func newPublishCmd(flags *rootFlags, exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Queue a mirror run for a running daemon.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags, true)
			if err != nil {
				*exitCode = run.ExitInternal
				return err
			}

			pub, err := publisher.NewPublisher(cfg)
			if err != nil {
				*exitCode = run.ExitInternal
				return fmt.Errorf("create publisher: %w", err)
			}
			defer pub.Close()

			info, err := pub.PublishMirrorRun(task.TriggerCLI)
			if err != nil {
				*exitCode = run.ExitInternal
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "queued mirror run %s\n", info.ID)
			return nil
		},
	}
}

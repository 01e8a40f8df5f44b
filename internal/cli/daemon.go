package cli

import (
	"github.com/spf13/cobra"

	"sftpmirror/internal/daemon"
	"sftpmirror/internal/run"
	"sftpmirror/pkg/logger"
)

func newDaemonCmd(flags *rootFlags, exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run mirror passes on a schedule.",
		Long: "Run mirror passes on daemon.schedule through a redis-backed queue,\n" +
			"and serve /publish, /status and /metrics on daemon.http_addr.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags, true)
			if err != nil {
				*exitCode = run.ExitInternal
				return err
			}

			d, err := daemon.NewDaemonService(cfg, run.Options{})
			if err != nil {
				*exitCode = run.ExitInternal
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			logger.Info("starting sftpmirror daemon", nil)
			if err := d.Run(ctx); err != nil {
				*exitCode = run.ExitInternal
				return err
			}
			logger.Info("daemon stopped successfully", nil)
			return nil
		},
	}
}

package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sftpmirror/internal/run"
	"sftpmirror/pkg/config"
	"sftpmirror/pkg/logger"
)

type rootFlags struct {
	configFile string
	envFile    string
	logLevel   string
}

// Execute runs the command line and returns the process exit status.
func Execute() int {
	exitCode := run.ExitOK
	cmd := newRootCmd(&exitCode)
	if err := cmd.Execute(); err != nil {
		logger.Error("command failed", err, nil)
		if exitCode == run.ExitOK {
			exitCode = run.ExitInternal
		}
	}
	return exitCode
}

func newRootCmd(exitCode *int) *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "sftpmirror",
		Short: "Copy files missing on one SFTP server from another.",
		Long: "Copy every file present under the source directory but missing\n" +
			"under the destination directory, staging it on local disk.\n" +
			"Without a subcommand, a single run is performed.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd.Context(), flags, exitCode)
		},
	}

	rootCmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "path to a dotenv file")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log.level")

	rootCmd.AddCommand(
		newRunCmd(flags, exitCode),
		newDaemonCmd(flags, exitCode),
		newPublishCmd(flags, exitCode),
	)
	return rootCmd
}

func loadConfig(flags *rootFlags, daemon bool) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: flags.configFile,
		EnvFile:    flags.envFile,
		Daemon:     daemon,
	})
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	logger.SetDefault(logger.NewDefault().WithLevel(logger.ParseLevel(cfg.Log.Level)))
	return cfg, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

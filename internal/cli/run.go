package cli

import (
	"context"

	"github.com/spf13/cobra"

	"sftpmirror/internal/run"
)

func newRunCmd(flags *rootFlags, exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Perform a single mirror run and exit.",
		Long: "Perform a single mirror run and exit. The exit status is 0 on\n" +
			"success, 2 when some files failed, 3 when an endpoint could not be\n" +
			"reached, 4 when a listing failed and 1 for anything else.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd.Context(), flags, exitCode)
		},
	}
}

func runOnce(ctx context.Context, flags *rootFlags, exitCode *int) error {
	cfg, err := loadConfig(flags, false)
	if err != nil {
		*exitCode = run.ExitInternal
		return err
	}

	ctx, cancel := signalContext(ctx)
	defer cancel()

	summary, err := run.Execute(ctx, cfg, run.Options{})
	*exitCode = run.ExitCode(summary, err)
	if summary == nil {
		return err
	}
	// the run log already carries the failure
	return nil
}

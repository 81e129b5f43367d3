package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/collate/internal/config"
)

// loadSettings layers defaults, the --config file, COLLATE_* variables and
// then every flag the user set on cmd.
func loadSettings(opts *RootOptions, apply func(*config.Config)) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return cfg, WrapExitError(ExitCommandError, "failed to load settings", err).WithReason(CodeConfig)
	}
	if apply != nil {
		apply(&cfg)
	}
	return cfg, nil
}

// setupLogging installs a text handler on w as the default logger. Debug
// records only appear with --verbose.
func setupLogging(w io.Writer, verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// signalContext derives a context from cmd's that is cancelled on SIGINT or
// SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

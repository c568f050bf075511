package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/fwatch/internal/config"
	"github.com/conneroisu/fwatch/internal/daemon"
	"github.com/conneroisu/fwatch/internal/logging"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	Aliases: []string{"d"},
	Short:   "Run the fwatch daemon in the foreground",
	Long: `Run the daemon that watches tracked files and serves control commands.

The daemon listens on the control socket (default .fwatch/fwatch.sock),
resumes watching every file tracked before it last stopped, and runs until it
receives SIGINT or SIGTERM. Logs go to stderr and, unless log.file is false,
to a dated file under .fwatch/logs.

Examples:
  fwatch daemon                       # Run with .fwatch.yml or defaults
  fwatch daemon --log-level debug     # Verbose logging
  fwatch daemon --state-dir ~/.fwatch # Keep state somewhere else`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, closeLog, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	return d.Run(ctx)
}

// buildLogger returns the stderr logger, teed into a dated file in the
// state directory when log.file is set.
func buildLogger(cfg *config.Config) (logging.Logger, func(), error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}

	logCfg := &logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	}
	stderr := logging.NewLogger(logCfg)
	if !cfg.Log.File {
		return stderr, func() {}, nil
	}

	file, err := logging.NewFileLogger(logCfg, cfg.LogDir())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return logging.NewMultiLogger(stderr, file), func() { _ = file.Close() }, nil
}

// cmdContext returns the command context, falling back to Background when
// the command was invoked without one.
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

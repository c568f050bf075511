package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conneroisu/fwatch/internal/client"
	"github.com/conneroisu/fwatch/internal/config"
	fwerrors "github.com/conneroisu/fwatch/internal/errors"
)

// newClient loads the configuration and returns a client for its socket.
func newClient() (*client.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return client.New(cfg.SocketPath(), cfg.Server.IOTimeout), nil
}

// printReply writes a successful reply to stdout. An error reply becomes the
// command's error so the process exits non-zero.
func printReply(cmd *cobra.Command, reply string, err error) error {
	if errors.Is(err, client.ErrDaemonNotRunning) {
		return fmt.Errorf("%w (start it with `fwatch daemon`)", err)
	}
	if err != nil {
		return err
	}
	if client.IsErrorReply(reply) {
		return errors.New(strings.TrimPrefix(reply, fwerrors.ReplyPrefix))
	}
	if reply != "" {
		fmt.Fprintln(cmd.OutOrStdout(), reply)
	}
	return nil
}

// absPath resolves a file argument against the working directory.
func absPath(arg string) (string, error) {
	abs, err := filepath.Abs(arg)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", arg, err)
	}
	return abs, nil
}

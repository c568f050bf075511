// Package alias derives the display label of a tracked file.
package alias

import (
	"context"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/conneroisu/fwatch/internal/logging"
	"github.com/conneroisu/fwatch/internal/script"
	"github.com/conneroisu/fwatch/internal/types"
)

// Resolver computes aliases. It never fails: a broken alias script falls
// back to the basename so the action still runs.
type Resolver struct {
	runner *script.Runner
	logger logging.Logger
}

// NewResolver creates a resolver running alias scripts through runner.
func NewResolver(runner *script.Runner, logger logging.Logger) *Resolver {
	return &Resolver{
		runner: runner,
		logger: logger.WithComponent("alias"),
	}
}

// Resolve returns the alias of path for the given event.
func (r *Resolver) Resolve(ctx context.Context, path string, event types.EventKind, policy types.AliasPolicy) string {
	base := filepath.Base(path)
	if policy.Kind != types.AliasScript {
		return base
	}

	res, err := r.runner.Run(ctx, policy.Script, event.String(), path)
	if err != nil {
		r.logger.Warn(ctx, err, "Alias script failed, using basename",
			"path", path, "script", policy.Script, "exit_code", res.ExitCode)
		return base
	}

	alias := norm.NFC.String(strings.TrimSpace(res.Stdout))
	if alias == "" {
		r.logger.Warn(ctx, nil, "Alias script printed nothing, using basename",
			"path", path, "script", policy.Script)
		return base
	}

	return alias
}

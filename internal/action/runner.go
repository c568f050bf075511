// Package action executes the configured reaction to a tracked file change.
package action

import (
	"context"
	"os"
	"time"

	fwerrors "github.com/conneroisu/fwatch/internal/errors"
	"github.com/conneroisu/fwatch/internal/script"
	"github.com/conneroisu/fwatch/internal/types"
)

// Appender is the part of the snapshot store the save action needs.
type Appender interface {
	Append(path string, payload []byte) (types.Snapshot, error)
}

// Result describes one action run. Failures are reported in Err, never as
// a panic or a separate return value.
type Result struct {
	Action   types.ActionPolicy
	Path     string
	Alias    string
	Event    types.EventKind
	Snapshot *types.Snapshot
	Output   string
	Skipped  bool
	Err      error
	Duration time.Duration
}

// OK reports whether the action completed or was skipped without error.
func (r Result) OK() bool {
	return r.Err == nil
}

// Runner runs save and script actions.
type Runner struct {
	store   Appender
	scripts *script.Runner
}

// NewRunner creates an action runner.
func NewRunner(store Appender, scripts *script.Runner) *Runner {
	return &Runner{store: store, scripts: scripts}
}

// Run performs f's action for ev. alias is passed to action scripts.
func (r *Runner) Run(ctx context.Context, ev types.Event, f types.TrackedFile, alias string) Result {
	start := time.Now()
	res := Result{
		Action: f.Action,
		Path:   f.Path,
		Alias:  alias,
		Event:  ev.Kind,
	}

	switch f.Action.Kind {
	case types.ActionSave:
		r.save(&res)
	case types.ActionScript:
		r.script(ctx, &res)
	default:
		res.Err = fwerrors.NewInternalError(fwerrors.ErrCodeInternalError,
			"unknown action "+f.Action.Kind.String(), nil).WithPath(f.Path)
	}

	res.Duration = time.Since(start)
	return res
}

func (r *Runner) save(res *Result) {
	// Nothing left to capture.
	if res.Event.Gone() {
		res.Skipped = true
		return
	}

	payload, err := os.ReadFile(res.Path)
	if err != nil {
		res.Err = fwerrors.WrapIO(err, fwerrors.ErrCodeReadFailed, res.Path, "read tracked file")
		return
	}

	snap, err := r.store.Append(res.Path, payload)
	if err != nil {
		res.Err = err
		return
	}
	snap.Payload = nil
	res.Snapshot = &snap
}

func (r *Runner) script(ctx context.Context, res *Result) {
	out, err := r.scripts.Run(ctx, res.Action.Script, res.Event.String(), res.Path, res.Alias)
	res.Output = out.Stdout
	res.Err = err
}

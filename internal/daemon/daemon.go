// Package daemon wires the store, watcher, resolvers and control server
// into the long-running fwatch process.
package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/conneroisu/fwatch/internal/action"
	"github.com/conneroisu/fwatch/internal/alias"
	"github.com/conneroisu/fwatch/internal/config"
	fwerrors "github.com/conneroisu/fwatch/internal/errors"
	"github.com/conneroisu/fwatch/internal/logging"
	"github.com/conneroisu/fwatch/internal/script"
	"github.com/conneroisu/fwatch/internal/server"
	"github.com/conneroisu/fwatch/internal/store"
	"github.com/conneroisu/fwatch/internal/types"
	"github.com/conneroisu/fwatch/internal/watcher"
)

// shutdownTimeout bounds how long in-flight requests may delay exit.
const shutdownTimeout = 10 * time.Second

// Daemon owns all daemon state. Every control handler and watch callback
// reaches that state through it.
type Daemon struct {
	cfg    *config.Config
	logger logging.Logger
	errs   *fwerrors.Handler

	store   *store.Store
	watcher *watcher.FileWatcher
	aliases *alias.Resolver
	actions *action.Runner
	server  *server.ControlServer

	// trackMu keeps the registry row and the watch subscription of a path
	// changing together.
	trackMu sync.Mutex

	// OnAction, when set, observes every completed action. Tests use it.
	OnAction func(action.Result)
}

// New opens the store and builds the components. Nothing is watched or
// served until Run.
func New(cfg *config.Config, logger logging.Logger) (*Daemon, error) {
	st, err := store.Open(cfg.DatabasePath(), cfg.ObjectsDir())
	if err != nil {
		return nil, err
	}

	scripts := script.NewRunner(cfg.Scripts.Timeout)
	d := &Daemon{
		cfg:     cfg,
		logger:  logger.WithComponent("daemon"),
		errs:    fwerrors.NewHandler(logger.WithComponent("daemon")),
		store:   st,
		aliases: alias.NewResolver(scripts, logger),
		actions: action.NewRunner(st, scripts),
	}

	d.watcher, err = watcher.NewFileWatcher(cfg.Watch.Debounce, d.onEvent, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	d.server = server.New(d, logger, server.Options{
		IOTimeout: cfg.Server.IOTimeout,
		MaxFrame:  cfg.Server.MaxFrame,
	})

	return d, nil
}

// Run binds the control socket, resumes watching every active registry
// entry and serves until ctx is cancelled. A socket another daemon is
// serving is fatal.
func (d *Daemon) Run(ctx context.Context) error {
	l, err := server.Listen(d.cfg.SocketPath())
	if err != nil {
		d.close()
		return err
	}

	if err := d.watcher.Start(ctx); err != nil {
		l.Close()
		d.close()
		return err
	}
	d.restore(ctx)

	d.logger.Info(ctx, "Daemon started", "socket", d.cfg.SocketPath(), "state_dir", d.cfg.StateDir)

	serveErr := d.server.Serve(ctx, l)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn(shutdownCtx, err, "Control connections did not finish")
	}
	d.close()

	d.logger.Info(shutdownCtx, "Daemon stopped")
	return serveErr
}

func (d *Daemon) restore(ctx context.Context) {
	files, err := d.store.Tracked()
	if err != nil {
		d.errs.Handle(ctx, err)
		return
	}

	for _, f := range files {
		if err := d.watcher.Track(f.Path); err != nil {
			// Keep the entry; a later track command can retry.
			d.errs.Handle(ctx, err, "path", f.Path)
			continue
		}
	}
	d.logger.Info(ctx, "Restored tracked files", "count", len(files))
}

func (d *Daemon) close() {
	if err := d.watcher.Stop(); err != nil {
		d.logger.Warn(context.Background(), err, "Failed to stop watcher")
	}
	if err := d.store.Close(); err != nil {
		d.logger.Warn(context.Background(), err, "Failed to close store")
	}
}

// onEvent is the watcher callback: resolve the alias, run the action and
// record failures without stopping the watch loop.
func (d *Daemon) onEvent(ctx context.Context, ev types.Event) {
	f, err := d.store.Get(ev.Path)
	if err != nil {
		d.errs.Handle(ctx, err, "event", ev.Kind.String())
		return
	}
	if !f.Active {
		return
	}

	label := d.aliases.Resolve(ctx, f.Path, ev.Kind, f.Alias)
	res := d.actions.Run(ctx, ev, f, label)

	switch {
	case res.Err != nil:
		d.errs.Handle(ctx, res.Err, "event", ev.Kind.String(), "alias", label, "action", f.Action.String())
	case res.Skipped:
		d.logger.Debug(ctx, "Action skipped", "path", f.Path, "event", ev.Kind.String())
	case res.Snapshot != nil:
		d.logger.Info(ctx, "Snapshot saved",
			"path", f.Path, "alias", label, "hash", res.Snapshot.Hash, "size", res.Snapshot.Size)
	default:
		d.logger.Info(ctx, "Action script ran",
			"path", f.Path, "alias", label, "script", f.Action.Script, "duration", res.Duration)
	}

	if d.OnAction != nil {
		d.OnAction(res)
	}
}

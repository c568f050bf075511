package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/conneroisu/fwatch/internal/digest"
	fwerrors "github.com/conneroisu/fwatch/internal/errors"
	"github.com/conneroisu/fwatch/internal/protocol"
	"github.com/conneroisu/fwatch/internal/types"
	"github.com/conneroisu/fwatch/internal/watcher"
)

// Handle implements server.Handler.
func (d *Daemon) Handle(ctx context.Context, p protocol.Packet) (string, error) {
	switch p.Command {
	case protocol.CommandTrack:
		t, err := protocol.DecodeTrack(p.Payload)
		if err != nil {
			return "", err
		}
		return d.track(ctx, t)

	case protocol.CommandUntrack:
		path, err := protocol.DecodeString(p.Payload)
		if err != nil {
			return "", err
		}
		return d.untrack(ctx, path)

	case protocol.CommandList:
		pattern, err := protocol.DecodeString(p.Payload)
		if err != nil {
			return "", err
		}
		return d.list(pattern)

	case protocol.CommandSelect:
		pair, err := protocol.DecodePair(p.Payload)
		if err != nil {
			return "", err
		}
		return d.selectSnapshot(pair.First, pair.Second)

	case protocol.CommandEcho:
		return protocol.DecodeString(p.Payload)

	case protocol.CommandEchoerr:
		msg, err := protocol.DecodeString(p.Payload)
		if err != nil {
			return "", err
		}
		return fwerrors.ReplyPrefix + msg, nil
	}

	return "", fwerrors.ErrUnsupportedCommand(uint64(p.Command))
}

func (d *Daemon) track(ctx context.Context, t protocol.Track) (string, error) {
	path, err := canonical(t.Path)
	if err != nil {
		return "", err
	}

	d.trackMu.Lock()
	defer d.trackMu.Unlock()

	_, watched := d.watcher.State(path)
	if err := d.watcher.Track(path); err != nil {
		return "", err
	}

	f, err := d.store.Track(types.TrackedFile{Path: path, Alias: t.Alias, Action: t.Action})
	if err != nil {
		if !watched {
			_ = d.watcher.Untrack(path)
		}
		return "", err
	}

	d.logger.Info(ctx, "Tracking file", "path", f.Path, "alias", f.Alias.String(), "action", f.Action.String())
	return fmt.Sprintf("tracking %s (alias=%s, action=%s)", f.Path, f.Alias, f.Action), nil
}

func (d *Daemon) untrack(ctx context.Context, raw string) (string, error) {
	path, err := canonical(raw)
	if err != nil {
		return "", err
	}

	d.trackMu.Lock()
	defer d.trackMu.Unlock()

	// The watcher may not know the path if restoring it failed; the
	// registry decides whether it was tracked.
	if err := d.watcher.Untrack(path); err != nil && !fwerrors.IsNotFound(err) {
		return "", err
	}
	if err := d.store.Untrack(path); err != nil {
		return "", err
	}

	d.logger.Info(ctx, "Untracked file", "path", path)
	return "untracked " + path, nil
}

func (d *Daemon) list(pattern string) (string, error) {
	pattern = strings.TrimSpace(pattern)
	// A literal path names a file the same way track does.
	if filepath.IsAbs(pattern) && !strings.ContainsAny(pattern, "*?[\\") {
		pattern = resolve(filepath.Clean(pattern))
	}
	seq, err := d.store.List(pattern)
	if err != nil {
		return "", err
	}

	states := d.watcher.States()
	var lines []string
	for sum := range seq {
		lines = append(lines, formatSummary(sum, states))
	}

	if len(lines) == 0 {
		if pattern == "" {
			pattern = "*"
		}
		return "no tracked files match " + pattern, nil
	}
	return strings.Join(lines, "\n"), nil
}

func formatSummary(sum types.Summary, states map[string]watcher.State) string {
	state := "untracked"
	if sum.Active {
		state = "unwatched"
		if s, ok := states[sum.Path]; ok {
			state = s.String()
		}
	}

	latest := "no snapshots"
	if sum.Latest != nil {
		latest = fmt.Sprintf("latest %s %s", digest.Short(sum.Latest.Hash), sum.Latest.CapturedAt.Format(time.RFC3339))
	}

	return fmt.Sprintf("%s  %d snapshot(s)  %s  [%s]", sum.Path, sum.Count, latest, state)
}

func (d *Daemon) selectSnapshot(raw, prefix string) (string, error) {
	path, err := canonical(raw)
	if err != nil {
		return "", err
	}

	snap, err := d.store.Select(path, prefix)
	if err != nil {
		return "", err
	}
	return string(snap.Payload), nil
}

// maxLinks bounds symlink chains followed by resolve.
const maxLinks = 40

// canonical checks that a client supplied path is absolute and resolves it
// to the file it names, so a symlink and its target share one registry
// entry and the watch lands on the directory the writes go to. Clients
// resolve relative paths against their own working directory.
func canonical(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fwerrors.ErrInvalidPath(path, "empty path")
	}
	if !filepath.IsAbs(path) {
		return "", fwerrors.ErrInvalidPath(path, "path must be absolute")
	}
	return resolve(filepath.Clean(path)), nil
}

// resolve follows symlinks in path. A file that does not exist (yet) keeps
// its name under the resolved parent directory; a dangling link resolves to
// where it points. A path whose directory is gone is returned as is.
func resolve(path string) string {
	for i := 0; i < maxLinks; i++ {
		if resolved, err := filepath.EvalSymlinks(path); err == nil {
			return resolved
		}
		info, err := os.Lstat(path)
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			break
		}
		target, err := os.Readlink(path)
		if err != nil {
			break
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(path), target)
		}
		path = filepath.Clean(target)
	}

	if dir, err := filepath.EvalSymlinks(filepath.Dir(path)); err == nil {
		return filepath.Join(dir, filepath.Base(path))
	}
	return path
}

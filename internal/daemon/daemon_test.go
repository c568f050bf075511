package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"

	"github.com/conneroisu/fwatch/internal/action"
	"github.com/conneroisu/fwatch/internal/client"
	"github.com/conneroisu/fwatch/internal/config"
	"github.com/conneroisu/fwatch/internal/digest"
	fwerrors "github.com/conneroisu/fwatch/internal/errors"
	"github.com/conneroisu/fwatch/internal/logging"
	"github.com/conneroisu/fwatch/internal/testutils"
	"github.com/conneroisu/fwatch/internal/types"
)

type harness struct {
	daemon  *Daemon
	client  *client.Client
	cfg     *config.Config
	files   string
	results chan action.Result
	stop    func()
}

func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	project := testutils.CreateTempProject(t)
	cfg := testutils.CreateTestConfig(project)
	sock, err := nettest.LocalPath()
	require.NoError(t, err)
	cfg.Server.Socket = sock
	t.Cleanup(func() { os.Remove(sock) })
	return cfg, filepath.Join(project, "files")
}

func startDaemon(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	d, err := New(cfg, logging.Discard())
	require.NoError(t, err)

	results := make(chan action.Result, 64)
	d.OnAction = func(r action.Result) { results <- r }

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- d.Run(ctx) }()

	c := client.New(cfg.SocketPath(), 2*time.Second)
	testutils.Eventually(t, 5*time.Second, func() bool {
		reply, err := c.Echo(context.Background(), "ready")
		return err == nil && reply == "ready"
	}, "daemon accepts connections")

	var stopped bool
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		select {
		case err := <-errc:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	}
	t.Cleanup(stop)

	return &harness{daemon: d, client: c, cfg: cfg, results: results, stop: stop}
}

func newHarness(t *testing.T) *harness {
	cfg, files := testConfig(t)
	h := startDaemon(t, cfg)
	h.files = files
	return h
}

func (h *harness) waitResult(t *testing.T) action.Result {
	t.Helper()
	select {
	case r := <-h.results:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("no action result")
		return action.Result{}
	}
}

func (h *harness) expectNoResult(t *testing.T) {
	t.Helper()
	select {
	case r := <-h.results:
		t.Fatalf("unexpected action for %s (%s)", r.Path, r.Event)
	case <-time.After(5 * h.cfg.Watch.Debounce):
	}
}

func (h *harness) track(t *testing.T, path string, alias types.AliasPolicy, act types.ActionPolicy) {
	t.Helper()
	reply, err := h.client.Track(context.Background(), path, alias, act)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(reply, "tracking "+path), "reply %q", reply)
}

func TestEchoAndEchoerr(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	reply, err := h.client.Echo(ctx, "ping")
	require.NoError(t, err)
	assert.Equal(t, "ping", reply)
	assert.False(t, client.IsErrorReply(reply))

	reply, err = h.client.Echoerr(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "error: x", reply)
	assert.True(t, client.IsErrorReply(reply))
}

func TestBurstWritesProduceOneSnapshot(t *testing.T) {
	h := newHarness(t)
	path := testutils.WriteFile(t, h.files, "a.txt", "initial")
	h.track(t, path, types.AliasPolicy{}, types.ActionPolicy{})

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("hello ")
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	_, err = f.WriteString("world")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	res := h.waitResult(t)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Snapshot)
	assert.Equal(t, "a.txt", res.Alias)
	h.expectNoResult(t)

	history, err := h.daemon.store.History(path)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, digest.Sum([]byte("hello world")), history[0].Hash)

	reply, err := h.client.Select(context.Background(), path, history[0].Hash[:8])
	require.NoError(t, err)
	assert.Equal(t, "hello world", reply)
}

func TestSelectNoMatchStillReplies(t *testing.T) {
	h := newHarness(t)
	path := testutils.WriteFile(t, h.files, "a.txt", "v0")
	h.track(t, path, types.AliasPolicy{}, types.ActionPolicy{})

	testutils.WriteFile(t, h.files, "a.txt", "v1")
	res := h.waitResult(t)
	require.NoError(t, res.Err)

	prefix := "ffff"
	if strings.HasPrefix(res.Snapshot.Hash, prefix) {
		prefix = "0000"
	}
	reply, err := h.client.Select(context.Background(), path, prefix)
	require.NoError(t, err)
	assert.True(t, client.IsErrorReply(reply))
	assert.Contains(t, reply, fwerrors.ErrCodeSnapshotNotFound)

	reply, err = h.client.Select(context.Background(), filepath.Join(h.files, "nope.txt"), "ab")
	require.NoError(t, err)
	assert.Contains(t, reply, fwerrors.ErrCodePathNotTracked)
}

func TestUntrackReleasesSubscription(t *testing.T) {
	h := newHarness(t)
	path := testutils.WriteFile(t, h.files, "a.txt", "v0")
	h.track(t, path, types.AliasPolicy{}, types.ActionPolicy{})

	testutils.WriteFile(t, h.files, "a.txt", "v1")
	h.waitResult(t)

	reply, err := h.client.Untrack(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "untracked "+path, reply)

	testutils.WriteFile(t, h.files, "a.txt", "v2")
	h.expectNoResult(t)

	history, err := h.daemon.store.History(path)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	reply, err = h.client.Untrack(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, reply, fwerrors.ErrCodePathNotTracked)

	reply, err = h.client.List(context.Background(), "*")
	require.NoError(t, err)
	assert.Contains(t, reply, "[untracked]")
}

func TestListSortedByPath(t *testing.T) {
	h := newHarness(t)
	b := testutils.WriteFile(t, h.files, "b.txt", "b0")
	a := testutils.WriteFile(t, h.files, "a.txt", "a0")
	h.track(t, b, types.AliasPolicy{}, types.ActionPolicy{})
	h.track(t, a, types.AliasPolicy{}, types.ActionPolicy{})

	testutils.WriteFile(t, h.files, "b.txt", "b1")
	h.waitResult(t)
	testutils.WriteFile(t, h.files, "a.txt", "a1")
	h.waitResult(t)

	reply, err := h.client.List(context.Background(), "*")
	require.NoError(t, err)
	lines := strings.Split(reply, "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], a+"  1 snapshot(s)  latest "), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], b+"  1 snapshot(s)  latest "), lines[1])
	assert.True(t, strings.HasSuffix(lines[0], "[active]"), lines[0])

	reply, err = h.client.List(context.Background(), "*.md")
	require.NoError(t, err)
	assert.Equal(t, "no tracked files match *.md", reply)

	reply, err = h.client.List(context.Background(), "[")
	require.NoError(t, err)
	assert.Contains(t, reply, fwerrors.ErrCodeInvalidPattern)
}

func TestScriptActionAndAliasFallback(t *testing.T) {
	h := newHarness(t)
	scripts := t.TempDir()
	out := filepath.Join(scripts, "out.txt")
	act := testutils.WriteScript(t, scripts, "act.sh", `echo "$1 $3" >> `+out)
	badAlias := testutils.WriteScript(t, scripts, "alias.sh", "exit 1")
	goodAlias := testutils.WriteScript(t, scripts, "alias2.sh", `echo "notes"`)

	a := testutils.WriteFile(t, h.files, "a.txt", "v0")
	h.track(t, a,
		types.AliasPolicy{Kind: types.AliasScript, Script: goodAlias},
		types.ActionPolicy{Kind: types.ActionScript, Script: act})

	testutils.WriteFile(t, h.files, "a.txt", "v1")
	res := h.waitResult(t)
	require.NoError(t, res.Err)
	assert.Equal(t, "notes", res.Alias)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "modified notes\n", string(data))

	// A failing alias script must not stop the snapshot.
	b := testutils.WriteFile(t, h.files, "b.txt", "v0")
	h.track(t, b, types.AliasPolicy{Kind: types.AliasScript, Script: badAlias}, types.ActionPolicy{})
	testutils.WriteFile(t, h.files, "b.txt", "v1")
	res = h.waitResult(t)
	require.NoError(t, res.Err)
	assert.Equal(t, "b.txt", res.Alias)
	assert.NotNil(t, res.Snapshot)
}

func TestFailingActionDoesNotStopWatching(t *testing.T) {
	h := newHarness(t)
	scripts := t.TempDir()
	failing := testutils.WriteScript(t, scripts, "fail.sh", "exit 7")

	a := testutils.WriteFile(t, h.files, "a.txt", "v0")
	b := testutils.WriteFile(t, h.files, "b.txt", "v0")
	h.track(t, a, types.AliasPolicy{}, types.ActionPolicy{Kind: types.ActionScript, Script: failing})
	h.track(t, b, types.AliasPolicy{}, types.ActionPolicy{})

	testutils.WriteFile(t, h.files, "a.txt", "v1")
	res := h.waitResult(t)
	assert.True(t, fwerrors.IsScript(res.Err))

	testutils.WriteFile(t, h.files, "b.txt", "v1")
	res = h.waitResult(t)
	require.NoError(t, res.Err)
	assert.Equal(t, b, res.Path)
}

func TestDeleteAndRecreate(t *testing.T) {
	h := newHarness(t)
	path := testutils.WriteFile(t, h.files, "a.txt", "v0")
	h.track(t, path, types.AliasPolicy{}, types.ActionPolicy{})

	require.NoError(t, os.Remove(path))
	res := h.waitResult(t)
	assert.Equal(t, types.EventDeleted, res.Event)
	assert.True(t, res.Skipped)

	reply, err := h.client.List(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, reply, "[pending]")

	testutils.WriteFile(t, h.files, "a.txt", "back")
	res = h.waitResult(t)
	assert.Equal(t, types.EventCreated, res.Event)
	require.NotNil(t, res.Snapshot)
}

func TestRestartRestoresRegistry(t *testing.T) {
	cfg, files := testConfig(t)
	h := startDaemon(t, cfg)
	path := testutils.WriteFile(t, files, "a.txt", "v0")
	h.track(t, path, types.AliasPolicy{}, types.ActionPolicy{})
	testutils.WriteFile(t, files, "a.txt", "v1")
	first := h.waitResult(t)
	h.stop()

	h = startDaemon(t, cfg)
	reply, err := h.client.Select(context.Background(), path, first.Snapshot.Hash[:10])
	require.NoError(t, err)
	assert.Equal(t, "v1", reply)

	testutils.WriteFile(t, files, "a.txt", "v2")
	res := h.waitResult(t)
	require.NoError(t, res.Err)
	assert.Equal(t, digest.Sum([]byte("v2")), res.Snapshot.Hash)
}

func TestSecondDaemonFails(t *testing.T) {
	h := newHarness(t)

	cfg := *h.cfg
	cfg.StateDir = t.TempDir()
	d, err := New(&cfg, logging.Discard())
	require.NoError(t, err)

	err = d.Run(context.Background())
	require.Error(t, err)
	assert.True(t, fwerrors.IsIO(err))
}

func TestTrackThroughSymlink(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	realDir := filepath.Join(h.files, "real")
	require.NoError(t, os.Mkdir(realDir, 0755))
	target := testutils.WriteFile(t, realDir, "target.txt", "v0")
	link := filepath.Join(h.files, "link.txt")
	require.NoError(t, os.Symlink(target, link))

	reply, err := h.client.Track(ctx, link, types.AliasPolicy{}, types.ActionPolicy{})
	require.NoError(t, err)
	assert.Equal(t, "tracking "+target+" (alias=basename, action=save)", reply)

	require.NoError(t, os.WriteFile(link, []byte("v1"), 0644))
	res := h.waitResult(t)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Snapshot)
	assert.Equal(t, target, res.Path)
	assert.Equal(t, "target.txt", res.Alias)

	// Both spellings name one registry entry.
	h.track(t, target, types.AliasPolicy{}, types.ActionPolicy{})
	reply, err = h.client.List(ctx, "*")
	require.NoError(t, err)
	assert.Equal(t, 1, len(strings.Split(reply, "\n")), reply)
	assert.True(t, strings.HasPrefix(reply, target+"  1 snapshot(s)"), reply)

	reply, err = h.client.List(ctx, link)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(reply, target), reply)

	reply, err = h.client.Select(ctx, link, res.Snapshot.Hash[:8])
	require.NoError(t, err)
	assert.Equal(t, "v1", reply)

	reply, err = h.client.Untrack(ctx, link)
	require.NoError(t, err)
	assert.Equal(t, "untracked "+target, reply)
}

func TestCanonical(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	realDir := filepath.Join(dir, "real")
	require.NoError(t, os.Mkdir(realDir, 0755))
	target := testutils.WriteFile(t, realDir, "target.txt", "x")
	require.NoError(t, os.Symlink(target, filepath.Join(dir, "link.txt")))
	require.NoError(t, os.Symlink(realDir, filepath.Join(dir, "dirlink")))
	require.NoError(t, os.Symlink("real/missing.txt", filepath.Join(dir, "dangling.txt")))

	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{"plain file", target, target},
		{"unclean", realDir + "/./sub/../target.txt", target},
		{"file link", filepath.Join(dir, "link.txt"), target},
		{"directory link", filepath.Join(dir, "dirlink", "target.txt"), target},
		{"missing file under directory link", filepath.Join(dir, "dirlink", "new.txt"), filepath.Join(realDir, "new.txt")},
		{"dangling link", filepath.Join(dir, "dangling.txt"), filepath.Join(realDir, "missing.txt")},
		{"missing directory", filepath.Join(dir, "gone", "a.txt"), filepath.Join(dir, "gone", "a.txt")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := canonical(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	_, err = canonical("relative.txt")
	assert.True(t, fwerrors.IsValidation(err))
	_, err = canonical("  ")
	assert.True(t, fwerrors.IsValidation(err))
}

func TestHandleRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	reply, err := h.client.Track(ctx, "relative.txt", types.AliasPolicy{}, types.ActionPolicy{})
	require.NoError(t, err)
	assert.Contains(t, reply, fwerrors.ErrCodeInvalidPath)

	reply, err = h.client.Track(ctx, "/does/not/exist/a.txt", types.AliasPolicy{}, types.ActionPolicy{})
	require.NoError(t, err)
	assert.True(t, client.IsErrorReply(reply))

	reply, err = h.client.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "no tracked files match *", reply)
}

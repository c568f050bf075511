package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"

	"github.com/conneroisu/fwatch/internal/config"
	"github.com/conneroisu/fwatch/internal/daemon"
	"github.com/conneroisu/fwatch/internal/digest"
	"github.com/conneroisu/fwatch/internal/logging"
	"github.com/conneroisu/fwatch/internal/testutils"
	"github.com/conneroisu/fwatch/internal/types"
)

// useSocket points the global configuration at sock for the test.
func useSocket(t *testing.T, sock, stateDir string) {
	t.Helper()
	viper.Set("server.socket", sock)
	viper.Set("state_dir", stateDir)
	t.Cleanup(func() {
		viper.Set("server.socket", "")
		viper.Set("state_dir", "")
	})
}

// startDaemon runs a daemon in-process and returns the directory for
// tracked files.
func startDaemon(t *testing.T) string {
	t.Helper()
	project := testutils.CreateTempProject(t)
	cfg := testutils.CreateTestConfig(project)
	sock, err := nettest.LocalPath()
	require.NoError(t, err)
	cfg.Server.Socket = sock
	t.Cleanup(func() { os.Remove(sock) })

	d, err := daemon.New(cfg, logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errc:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})

	useSocket(t, sock, cfg.StateDir)
	testutils.Eventually(t, 5*time.Second, func() bool {
		_, err := run(runEcho, "ready")
		return err == nil
	}, "daemon accepts connections")

	return filepath.Join(project, "files")
}

// run invokes a command's RunE with a fresh command capturing its output.
func run(fn func(*cobra.Command, []string) error, args ...string) (string, error) {
	var out bytes.Buffer
	c := &cobra.Command{}
	c.SetOut(&out)
	err := fn(c, args)
	return out.String(), err
}

func TestEchoCommands(t *testing.T) {
	startDaemon(t)

	out, err := run(runEcho, "hello", "world")
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", out)

	out, err = run(runEchoerr, "x")
	require.Error(t, err)
	assert.Equal(t, "x", err.Error())
	assert.Empty(t, out)
}

func TestTrackListSelectUntrack(t *testing.T) {
	files := startDaemon(t)
	trackFlags.Reset()
	path := testutils.WriteFile(t, files, "notes.md", "v0")

	out, err := run(runTrack, path)
	require.NoError(t, err)
	assert.Equal(t, "tracking "+path+" (alias=basename, action=save)\n", out)

	testutils.WriteFile(t, files, "notes.md", "v1")
	testutils.Eventually(t, 5*time.Second, func() bool {
		out, err := run(runList)
		return err == nil && strings.Contains(out, "1 snapshot(s)")
	}, "snapshot listed")

	out, err = run(runList, "*.md")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, path+"  1 snapshot(s)  latest "), "list %q", out)
	assert.Contains(t, out, digest.Short(digest.Sum([]byte("v1"))))
	assert.Contains(t, out, "[active]")

	out, err = run(runSelect, path, digest.Sum([]byte("v1"))[:10])
	require.NoError(t, err)
	assert.Equal(t, "v1", out)

	out, err = run(runUntrack, path)
	require.NoError(t, err)
	assert.Equal(t, "untracked "+path+"\n", out)

	out, err = run(runList)
	require.NoError(t, err)
	assert.Contains(t, out, "[untracked]")
}

func TestTrackWithScripts(t *testing.T) {
	files := startDaemon(t)
	dir := t.TempDir()
	alias := testutils.WriteScript(t, dir, "alias.sh", `echo "label"`)
	action := testutils.WriteScript(t, dir, "action.sh", `exit 0`)
	path := testutils.WriteFile(t, files, "a.txt", "v0")

	trackFlags.Reset()
	defer trackFlags.Reset()
	require.NoError(t, trackFlags.Alias.Set(alias))
	require.NoError(t, trackFlags.Action.Set(action))

	out, err := run(runTrack, path)
	require.NoError(t, err)
	assert.Contains(t, out, "alias=script:"+alias)
	assert.Contains(t, out, "action=script:"+action)
}

func TestErrorRepliesFailTheCommand(t *testing.T) {
	files := startDaemon(t)

	_, err := run(runUntrack, filepath.Join(files, "never.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERR_PATH_NOT_TRACKED")

	_, err = run(runSelect, filepath.Join(files, "never.txt"), "abcd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERR_PATH_NOT_TRACKED")

	out, err := run(runList, "nothing-*")
	require.NoError(t, err)
	assert.Equal(t, "no tracked files match nothing-*\n", out)
}

func TestDaemonNotRunning(t *testing.T) {
	dir := t.TempDir()
	useSocket(t, filepath.Join(dir, "missing.sock"), dir)

	_, err := run(runEcho, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fwatch daemon")
}

func TestSelectRejectsBadPrefix(t *testing.T) {
	tests := []string{"", "xyz", strings.Repeat("a", digest.Size+1)}
	for _, prefix := range tests {
		t.Run(prefix, func(t *testing.T) {
			_, err := run(runSelect, "/tmp/a.txt", prefix)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid hash prefix")
		})
	}
}

func TestScriptFlag(t *testing.T) {
	var f scriptFlag
	assert.Error(t, f.Set("  "))
	require.NoError(t, f.Set("hook.sh"))
	assert.True(t, filepath.IsAbs(f.String()))
	assert.Equal(t, "path", f.Type())

	flags := &PolicyFlags{}
	alias, action := flags.Policies()
	assert.Equal(t, types.AliasBasename, alias.Kind)
	assert.Equal(t, types.ActionSave, action.Kind)

	require.NoError(t, flags.Action.Set("/bin/true"))
	_, action = flags.Policies()
	assert.Equal(t, types.ActionPolicy{Kind: types.ActionScript, Script: "/bin/true"}, action)

	flags.Reset()
	_, action = flags.Policies()
	assert.Equal(t, types.ActionSave, action.Kind)
}

func TestConfigInit(t *testing.T) {
	target := filepath.Join(t.TempDir(), "fwatch.yml")
	configOutput, configForce = target, false
	defer func() { configOutput, configForce = ".fwatch.yml", false }()

	out, err := run(runConfigInit)
	require.NoError(t, err)
	assert.Equal(t, "Wrote "+target+"\n", out)

	v := viper.New()
	v.SetConfigFile(target)
	require.NoError(t, v.ReadInConfig())
	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultDebounce, cfg.Watch.Debounce)

	_, err = run(runConfigInit)
	assert.ErrorContains(t, err, "already exists")

	configForce = true
	_, err = run(runConfigInit)
	assert.NoError(t, err)
}

func TestVersionCommand(t *testing.T) {
	defer func() { versionFormat, versionShort = "text", false }()

	versionFormat = "json"
	out, err := run(runVersionCommand)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Contains(t, decoded, "version")
	assert.Contains(t, decoded, "platform")

	versionFormat, versionShort = "text", true
	out, err = run(runVersionCommand)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"))

	versionFormat = "xml"
	_, err = run(runVersionCommand)
	assert.Error(t, err)
}

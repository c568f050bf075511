package testutils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/conneroisu/fwatch/internal/config"
	"github.com/stretchr/testify/require"
)

// CreateTempProject creates a temporary project with an empty state
// directory and a "files" directory for tracked files. The returned path has
// its symlinks resolved, as the daemon resolves tracked paths.
func CreateTempProject(t *testing.T) string {
	tempDir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	for _, dir := range []string{"files", config.DefaultStateDir} {
		err = os.MkdirAll(filepath.Join(tempDir, dir), 0755)
		require.NoError(t, err)
	}

	return tempDir
}

// CreateTestConfig creates a test configuration rooted at projectDir with
// short timeouts.
func CreateTestConfig(projectDir string) *config.Config {
	cfg := config.Default()
	cfg.StateDir = filepath.Join(projectDir, config.DefaultStateDir)
	cfg.Server.IOTimeout = 2 * time.Second
	cfg.Watch.Debounce = 50 * time.Millisecond
	cfg.Scripts.Timeout = 2 * time.Second
	cfg.Log.File = false
	return cfg
}

// WriteFile writes content to dir/name and returns the absolute path.
func WriteFile(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	err := os.WriteFile(path, []byte(content), 0644)
	require.NoError(t, err)
	abs, err := filepath.Abs(path)
	require.NoError(t, err)
	return abs
}

// WriteScript writes an executable /bin/sh script with the given body.
func WriteScript(t *testing.T, dir, name, body string) string {
	path := filepath.Join(dir, name)
	err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755)
	require.NoError(t, err)
	return path
}

// Eventually polls cond until it holds or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

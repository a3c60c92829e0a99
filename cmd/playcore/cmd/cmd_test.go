package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/playcore/pkg/version"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, version.GetInfo().Short()+"\n", out)

	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "playcore")
}

func TestEDLCommand(t *testing.T) {
	dir := t.TempDir()
	media := filepath.Join(dir, "show.ts")
	require.NoError(t, os.WriteFile(media, nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "show.edl"), []byte("10 20 0\n30 45 3\n"), 0o644))

	out, err := execute(t, "--log-level", "error", "edl", media)
	require.NoError(t, err)
	assert.Contains(t, out, "show.edl")
	assert.Contains(t, out, "cut")
	assert.Contains(t, out, "commbreak")
	assert.Contains(t, out, "45s")
	assert.Contains(t, out, "total cut time")
}

func TestEDLCommand_Missing(t *testing.T) {
	_, err := execute(t, "--log-level", "error", "edl", filepath.Join(t.TempDir(), "nothing.ts"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no edit list found")
}

func TestEDLCommand_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.edl")
	require.NoError(t, os.WriteFile(path, []byte("ten twenty\n"), 0o644))

	_, err := execute(t, "--log-level", "error", "edl", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestPlayCommand_Synthetic(t *testing.T) {
	done := make(chan error, 1)
	go func() {
		_, err := execute(t, "--log-level", "error", "play", "synthetic", "--synthetic", "1s", "--status-interval", "0")
		done <- err
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("play did not finish")
	}
}

func TestRootCommand_BadConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "edl", "x.edl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

package testpipe

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/testpipe/testpipe/flags"
	"github.com/testpipe/testpipe/runner"
)

// buildConfig runs the CLI with the given arguments and returns the resulting
// Config, mirroring how the entrypoint constructs it.
func buildConfig(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	var cfg *Config
	var cfgErr error

	app := cli.NewApp()
	app.Name = "testpipe"
	app.Flags = flags.Flags
	app.Action = func(ctx *cli.Context) error {
		cfg, cfgErr = NewConfig(ctx, discardLogger())
		return nil
	}
	if err := app.Run(append([]string{"testpipe"}, args...)); err != nil {
		return nil, err
	}
	return cfg, cfgErr
}

func TestNewConfigRequiresHarness(t *testing.T) {
	_, err := buildConfig(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "harness")
}

func TestNewConfigDefaults(t *testing.T) {
	cfg, err := buildConfig(t, "--harness", "pytest")
	require.NoError(t, err)

	assert.Equal(t, "pytest", cfg.HarnessCommand)
	assert.True(t, cfg.RunOnce)
	assert.Equal(t, runner.DefaultChunkSize, cfg.ChunkSize)
	assert.True(t, filepath.IsAbs(cfg.LogDir))
	assert.True(t, filepath.IsAbs(cfg.ProjectDir))
	assert.Equal(t, 80, cfg.SurfaceWidth)
	assert.Equal(t, 24, cfg.SurfaceHeight)
}

func TestNewConfigRunInterval(t *testing.T) {
	cfg, err := buildConfig(t, "--harness", "pytest", "--run-interval", "30m")
	require.NoError(t, err)

	assert.False(t, cfg.RunOnce)
	assert.Equal(t, 30*time.Minute, cfg.RunInterval)
}

func TestNewConfigProfile(t *testing.T) {
	dir := t.TempDir()
	profile := filepath.Join(dir, "testpipe.yaml")
	content := `
harness: pytest
args:
  - "-x"
  - "--tb=short"
logdir: ` + filepath.Join(dir, "profile-logs") + `
chunk_size: 4096
progress_interval: 10s
`
	require.NoError(t, os.WriteFile(profile, []byte(content), 0o644))

	cfg, err := buildConfig(t, "--harness", "pytest", "--profile", profile)
	require.NoError(t, err)

	assert.Equal(t, []string{"-x", "--tb=short"}, cfg.HarnessArgs)
	assert.Equal(t, 4096, cfg.ChunkSize)
	assert.Equal(t, 10*time.Second, cfg.ProgressInterval)
	assert.Equal(t, filepath.Join(dir, "profile-logs"), cfg.LogDir)
}

func TestNewConfigFlagsOverrideProfile(t *testing.T) {
	dir := t.TempDir()
	profile := filepath.Join(dir, "testpipe.yaml")
	require.NoError(t, os.WriteFile(profile, []byte("harness: pytest\nchunk_size: 4096\n"), 0o644))

	cfg, err := buildConfig(t, "--harness", "tox", "--chunk-size", "512", "--profile", profile)
	require.NoError(t, err)

	assert.Equal(t, "tox", cfg.HarnessCommand)
	assert.Equal(t, 512, cfg.ChunkSize)
}

func TestNewConfigMissingProfile(t *testing.T) {
	_, err := buildConfig(t, "--harness", "pytest", "--profile", "/nonexistent/profile.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read run profile")
}

package testpipe

import (
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"golang.org/x/mod/modfile"
	"gopkg.in/yaml.v3"

	"github.com/testpipe/testpipe/flags"
	"github.com/testpipe/testpipe/runner"
)

// Config holds the application configuration
type Config struct {
	HarnessCommand   string        // Command that launches the test-execution harness
	HarnessArgs      []string      // Extra arguments passed to the harness
	ProjectDir       string        // Project root the harness runs in
	ProjectModule    string        // Module path parsed from the project's go.mod, if any
	RunInterval      time.Duration // Interval between test runs
	RunOnce          bool          // Indicates if the service should exit after one test run
	LogDir           string        // Directory to store run logs
	ChunkSize        int           // Read chunk size for the harness output stream
	ShowProgress     bool          // Whether to log periodic progress updates
	ProgressInterval time.Duration // Interval between progress updates
	StdIndicators    bool          // Use conventional outcome markers
	SurfaceWidth     int           // Rendering surface width for progress grouping
	SurfaceHeight    int           // Rendering surface height for progress grouping
	Log              log.Logger
}

// runProfile is the optional YAML run profile. Values set in the profile are
// defaults; explicit flags override them.
type runProfile struct {
	Harness    string   `yaml:"harness"`
	Args       []string `yaml:"args"`
	ProjectDir string   `yaml:"project_dir"`
	LogDir     string   `yaml:"logdir"`
	ChunkSize  int      `yaml:"chunk_size"`
	// ProgressInterval is a duration string, e.g. "10s".
	ProgressInterval string `yaml:"progress_interval"`
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, logger log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, errors.Wrap(err, "missing required flags")
	}

	cfg := &Config{
		HarnessCommand:   ctx.String(flags.HarnessCommand.Name),
		HarnessArgs:      ctx.StringSlice(flags.HarnessArgs.Name),
		ProjectDir:       ctx.String(flags.ProjectDir.Name),
		RunInterval:      ctx.Duration(flags.RunInterval.Name),
		LogDir:           ctx.String(flags.LogDir.Name),
		ChunkSize:        ctx.Int(flags.ChunkSize.Name),
		ShowProgress:     ctx.Bool(flags.ShowProgress.Name),
		ProgressInterval: ctx.Duration(flags.ProgressInterval.Name),
		StdIndicators:    ctx.Bool(flags.StdIndicators.Name),
		SurfaceWidth:     ctx.Int(flags.SurfaceWidth.Name),
		SurfaceHeight:    ctx.Int(flags.SurfaceHeight.Name),
		Log:              logger,
	}

	if profilePath := ctx.String(flags.Profile.Name); profilePath != "" {
		if err := cfg.applyProfile(ctx, profilePath); err != nil {
			return nil, err
		}
	}

	cfg.RunOnce = cfg.RunInterval == 0
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = runner.DefaultChunkSize
	}
	if cfg.LogDir == "" {
		cfg.LogDir = "logs"
	}

	if cfg.ProjectDir == "" {
		root, err := findProjectRoot()
		if err != nil {
			return nil, errors.Wrap(err, "failed to discover project root")
		}
		cfg.ProjectDir = root
	}
	absProject, err := filepath.Abs(cfg.ProjectDir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve absolute path for project directory %q", cfg.ProjectDir)
	}
	cfg.ProjectDir = absProject

	if module, err := readModulePath(cfg.ProjectDir); err == nil {
		cfg.ProjectModule = module
	}

	absLogDir, err := filepath.Abs(cfg.LogDir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve absolute path for log directory %q", cfg.LogDir)
	}
	cfg.LogDir = absLogDir

	return cfg, nil
}

// applyProfile merges a YAML run profile into the config. Explicit flags win
// over profile values.
func (c *Config) applyProfile(ctx *cli.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read run profile %q", path)
	}
	var profile runProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return errors.Wrapf(err, "failed to parse run profile %q", path)
	}

	if !ctx.IsSet(flags.HarnessCommand.Name) && profile.Harness != "" {
		c.HarnessCommand = profile.Harness
	}
	if !ctx.IsSet(flags.HarnessArgs.Name) && len(profile.Args) > 0 {
		c.HarnessArgs = profile.Args
	}
	if !ctx.IsSet(flags.ProjectDir.Name) && profile.ProjectDir != "" {
		c.ProjectDir = profile.ProjectDir
	}
	if !ctx.IsSet(flags.LogDir.Name) && profile.LogDir != "" {
		c.LogDir = profile.LogDir
	}
	if !ctx.IsSet(flags.ChunkSize.Name) && profile.ChunkSize > 0 {
		c.ChunkSize = profile.ChunkSize
	}
	if !ctx.IsSet(flags.ProgressInterval.Name) && profile.ProgressInterval != "" {
		interval, err := time.ParseDuration(profile.ProgressInterval)
		if err != nil {
			return errors.Wrapf(err, "invalid progress_interval in run profile %q", path)
		}
		c.ProgressInterval = interval
	}
	return nil
}

// findProjectRoot walks up from the working directory looking for a go.mod,
// which marks the project root the harness should run in.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	// No enclosing module: fall back to the working directory.
	return os.Getwd()
}

// readModulePath parses the project's go.mod for its module path.
func readModulePath(projectDir string) (string, error) {
	path := filepath.Join(projectDir, "go.mod")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	f, err := modfile.ParseLax(path, data, nil)
	if err != nil {
		return "", errors.Wrapf(err, "failed to parse %q", path)
	}
	if f.Module == nil {
		return "", errors.Errorf("%q has no module directive", path)
	}
	return f.Module.Mod.Path, nil
}

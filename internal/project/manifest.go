package project

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/xyproto/env/v2"
)

// Environment overrides, applied on top of lowerc.toml.
const (
	EnvTarget  = "LOWERC_TARGET"
	EnvJobs    = "LOWERC_JOBS"
	EnvOutDir  = "LOWERC_OUT_DIR"
	EnvNoCache = "LOWERC_NO_CACHE"
)

// DefaultTarget is used when neither the manifest nor the environment name one.
const DefaultTarget = "x86_64-linux-gnu"

// Manifest is a loaded lowerc.toml.
type Manifest struct {
	Path   string
	Root   string
	Config Config
}

// Config mirrors the lowerc.toml layout.
type Config struct {
	Package PackageConfig `toml:"package"`
	Build   BuildConfig   `toml:"build"`
	Trace   TraceConfig   `toml:"trace"`
}

type PackageConfig struct {
	Name string `toml:"name"`
}

// BuildConfig holds the [build] table. Relative paths are resolved against
// the manifest directory by Load.
type BuildConfig struct {
	Target string   `toml:"target"`
	Jobs   int      `toml:"jobs"`
	OutDir string   `toml:"out_dir"`
	Cache  bool     `toml:"cache"`
	Inputs []string `toml:"inputs"`
}

type TraceConfig struct {
	Level  string `toml:"level"`
	Mode   string `toml:"mode"`
	Output string `toml:"output"`
}

// DefaultConfig is the configuration used outside of a project.
func DefaultConfig() Config {
	return Config{
		Build: BuildConfig{
			Target: DefaultTarget,
			OutDir: ".",
			Cache:  true,
		},
		Trace: TraceConfig{
			Level: "off",
			Mode:  "stream",
		},
	}
}

// Load finds lowerc.toml above startDir and decodes it. ok is false when no
// manifest exists; that is not an error.
func Load(startDir string) (*Manifest, bool, error) {
	path, ok, err := FindManifest(startDir)
	if err != nil || !ok {
		return nil, ok, err
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, true, err
	}
	root := filepath.Dir(path)
	cfg.Build.OutDir = resolve(root, cfg.Build.OutDir)
	for i, in := range cfg.Build.Inputs {
		cfg.Build.Inputs[i] = resolve(root, in)
	}
	if cfg.Trace.Output != "" {
		cfg.Trace.Output = resolve(root, cfg.Trace.Output)
	}
	return &Manifest{Path: path, Root: root, Config: cfg}, true, nil
}

// LoadConfig decodes one manifest file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if !meta.IsDefined("package") {
		return Config{}, fmt.Errorf("%s: missing [package]", path)
	}
	if !meta.IsDefined("package", "name") || strings.TrimSpace(cfg.Package.Name) == "" {
		return Config{}, fmt.Errorf("%s: missing [package].name", path)
	}
	if cfg.Build.Jobs < 0 {
		return Config{}, fmt.Errorf("%s: [build].jobs must not be negative", path)
	}
	if meta.IsDefined("build", "target") && strings.TrimSpace(cfg.Build.Target) == "" {
		return Config{}, fmt.Errorf("%s: [build].target is empty", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%s: unknown key %s", path, undecoded[0])
	}
	return cfg, nil
}

// ApplyEnv overrides build settings from LOWERC_* variables. The
// environment is read afresh on every call.
func (c *Config) ApplyEnv() {
	env.Load()
	c.Build.Target = env.Str(EnvTarget, c.Build.Target)
	c.Build.Jobs = env.Int(EnvJobs, c.Build.Jobs)
	c.Build.OutDir = env.Str(EnvOutDir, c.Build.OutDir)
	if env.Has(EnvNoCache) && env.Bool(EnvNoCache) {
		c.Build.Cache = false
	}
}

func resolve(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, filepath.FromSlash(p))
}

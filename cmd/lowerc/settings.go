package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"lowerc/internal/project"
	"lowerc/internal/target"
)

// loadSettings layers lowerc.toml (if any) and LOWERC_* variables over the
// defaults. Command-line flags are applied by the caller.
func loadSettings(startDir string) (project.Config, *project.Manifest, error) {
	cfg := project.DefaultConfig()
	manifest, ok, err := project.Load(startDir)
	if err != nil {
		return cfg, nil, err
	}
	if ok {
		cfg = manifest.Config
	}
	cfg.ApplyEnv()
	return cfg, manifest, nil
}

// applyBuildFlags overrides cfg with every build flag set explicitly.
func applyBuildFlags(cmd *cobra.Command, cfg *project.Config) error {
	flags := cmd.Flags()
	if flags.Changed("target") {
		v, err := flags.GetString("target")
		if err != nil {
			return err
		}
		cfg.Build.Target = v
	}
	if flags.Changed("jobs") {
		v, err := flags.GetInt("jobs")
		if err != nil {
			return err
		}
		cfg.Build.Jobs = v
	}
	if flags.Changed("out-dir") {
		v, err := flags.GetString("out-dir")
		if err != nil {
			return err
		}
		cfg.Build.OutDir = v
	}
	if flags.Changed("no-cache") {
		v, err := flags.GetBool("no-cache")
		if err != nil {
			return err
		}
		cfg.Build.Cache = !v
	}
	root := cmd.Root().PersistentFlags()
	for flag, dst := range map[string]*string{
		"trace":       &cfg.Trace.Output,
		"trace-level": &cfg.Trace.Level,
		"trace-mode":  &cfg.Trace.Mode,
	} {
		if !root.Changed(flag) {
			continue
		}
		v, err := root.GetString(flag)
		if err != nil {
			return err
		}
		*dst = v
	}
	// --trace без уровня включает фазовый уровень
	if root.Changed("trace") && !root.Changed("trace-level") && (cfg.Trace.Level == "" || cfg.Trace.Level == "off") {
		cfg.Trace.Level = "phase"
	}
	if cfg.Build.Jobs < 0 {
		return fmt.Errorf("--jobs must not be negative")
	}
	return nil
}

// resolveTarget accepts a built-in target name or a path to a TOML
// target description.
func resolveTarget(ref string) (*target.Target, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		ref = project.DefaultTarget
	}
	if strings.HasSuffix(ref, ".toml") || strings.ContainsRune(ref, filepath.Separator) {
		return target.Load(ref)
	}
	tgt, err := target.Lookup(ref)
	if err != nil {
		return nil, fmt.Errorf("%w (known: %s)", err, strings.Join(target.Names(), ", "))
	}
	return tgt, nil
}

// buildInputs picks the inputs: arguments, then [build].inputs, then the
// project root or the current directory.
func buildInputs(args []string, cfg project.Config, manifest *project.Manifest) []string {
	if len(args) > 0 {
		return args
	}
	if len(cfg.Build.Inputs) > 0 {
		return cfg.Build.Inputs
	}
	if manifest != nil {
		return []string{manifest.Root}
	}
	return []string{"."}
}

type colorMode string

const (
	colorAuto colorMode = "auto"
	colorOn   colorMode = "on"
	colorOff  colorMode = "off"
)

func readColorMode(cmd *cobra.Command) (colorMode, error) {
	v, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return "", err
	}
	switch strings.TrimSpace(strings.ToLower(v)) {
	case "", "auto":
		return colorAuto, nil
	case "on", "always":
		return colorOn, nil
	case "off", "never":
		return colorOff, nil
	}
	return "", fmt.Errorf("invalid --color value %q (expected auto|on|off)", v)
}

func useColor(mode colorMode, f *os.File) bool {
	switch mode {
	case colorOn:
		return true
	case colorOff:
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return isTerminal(f)
}

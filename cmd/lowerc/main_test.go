package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"lowerc/internal/ast"
	"lowerc/internal/diag"
	"lowerc/internal/driver"
	"lowerc/internal/project"
	"lowerc/internal/source"
)

func newTestRoot() (*cobra.Command, *cobra.Command) {
	root := &cobra.Command{Use: "lowerc", SilenceUsage: true, SilenceErrors: true}
	addPersistentFlags(root)
	build := &cobra.Command{Use: "build", RunE: runBuild}
	addBuildFlags(build)
	root.AddCommand(build)
	return root, build
}

func TestReadUIMode(t *testing.T) {
	tests := map[string]uiMode{"": uiModeAuto, "AUTO": uiModeAuto, "on": uiModeOn, " off ": uiModeOff}
	for in, want := range tests {
		got, err := readUIMode(in)
		if err != nil || got != want {
			t.Errorf("readUIMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := readUIMode("sometimes"); err == nil {
		t.Error("invalid mode accepted")
	}
	if shouldUseTUI(uiModeOff) || !shouldUseTUI(uiModeOn) {
		t.Error("explicit modes ignored")
	}
}

func TestResolveTarget(t *testing.T) {
	tgt, err := resolveTarget("")
	if err != nil || tgt.Name != project.DefaultTarget {
		t.Fatalf("default target: %v %v", tgt, err)
	}
	if _, err := resolveTarget("pdp11"); err == nil || !strings.Contains(err.Error(), "known:") {
		t.Fatalf("unknown target error = %v", err)
	}
	if _, err := resolveTarget(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("missing target file accepted")
	}
}

func TestBuildInputs(t *testing.T) {
	cfg := project.DefaultConfig()
	if got := buildInputs([]string{"a"}, cfg, nil); len(got) != 1 || got[0] != "a" {
		t.Fatalf("args ignored: %v", got)
	}
	if got := buildInputs(nil, cfg, &project.Manifest{Root: "/p"}); got[0] != "/p" {
		t.Fatalf("manifest root ignored: %v", got)
	}
	cfg.Build.Inputs = []string{"/p/ast"}
	if got := buildInputs(nil, cfg, &project.Manifest{Root: "/p"}); got[0] != "/p/ast" {
		t.Fatalf("[build].inputs ignored: %v", got)
	}
	if got := buildInputs(nil, project.DefaultConfig(), nil); got[0] != "." {
		t.Fatalf("fallback = %v", got)
	}
}

func TestApplyBuildFlagsOverridesConfig(t *testing.T) {
	root, build := newTestRoot()
	for name, v := range map[string]string{"jobs": "3", "out-dir": "ll", "no-cache": "true", "target": "i686-linux-gnu"} {
		if err := build.Flags().Set(name, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := root.PersistentFlags().Set("trace", "trace.ndjson"); err != nil {
		t.Fatal(err)
	}
	cfg := project.DefaultConfig()
	cfg.Build.Jobs = 8
	if err := applyBuildFlags(build, &cfg); err != nil {
		t.Fatal(err)
	}
	b := cfg.Build
	if b.Jobs != 3 || b.OutDir != "ll" || b.Cache || b.Target != "i686-linux-gnu" {
		t.Fatalf("build = %+v", b)
	}
	if cfg.Trace.Output != "trace.ndjson" || cfg.Trace.Level != "phase" {
		t.Fatalf("trace = %+v", cfg.Trace)
	}
}

func TestApplyBuildFlagsKeepsUnsetValues(t *testing.T) {
	_, build := newTestRoot()
	cfg := project.DefaultConfig()
	cfg.Build.Jobs = 5
	if err := applyBuildFlags(build, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Build.Jobs != 5 || !cfg.Build.Cache || cfg.Trace.Level != "off" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestMergeDiagnosticsRemapsFiles(t *testing.T) {
	mk := func(path string, line uint32) driver.ModuleResult {
		files := source.NewFileSet()
		files.Add("unrelated.d")
		id := files.Add(path)
		bag := diag.NewBag(0)
		bag.Add(diag.NewError(diag.LowLinkageConflict, source.Pos{File: id, Line: line}, "clash").
			WithNote(source.Pos{File: id, Line: 1}, "first declared here"))
		return driver.ModuleResult{Files: files, Bag: bag}
	}
	res := &driver.Result{Modules: []driver.ModuleResult{mk("b.d", 2), mk("a.d", 9), {}}}
	bag, fs := mergeDiagnostics(res)
	items := bag.Items()
	if len(items) != 2 {
		t.Fatalf("items = %d", len(items))
	}
	if got := fs.Path(items[0].Primary.File); got != "b.d" {
		t.Fatalf("first file = %q", got)
	}
	if got := fs.Path(items[1].Notes[0].Pos.File); got != "a.d" {
		t.Fatalf("note file = %q", got)
	}
}

func TestBuildCommandWritesModules(t *testing.T) {
	t.Setenv(project.EnvTarget, "")
	os.Unsetenv(project.EnvTarget)
	in := t.TempDir()
	out := t.TempDir()

	m := ast.NewModule("app.main", "app/main.d")
	void := m.AddType(ast.TypeDesc{Kind: "void"})
	fnT := m.AddType(ast.TypeDesc{Kind: "fn", Result: void})
	body := m.AddStmt(ast.Stmt{Kind: ast.StmtBlock})
	m.AddFunc(ast.Func{Name: "noop", Type: fnT, Body: body})
	if err := ast.Save(filepath.Join(in, "main.ast.json"), m); err != nil {
		t.Fatal(err)
	}

	root, _ := newTestRoot()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs([]string{"build", in, "--out-dir", out, "--no-cache", "--ui", "off", "--color", "off", "--list-symbols"})
	if err := root.Execute(); err != nil {
		t.Fatalf("build: %v\n%s", err, stderr.String())
	}
	data, err := os.ReadFile(filepath.Join(out, "app.main.ll"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "define void @noop()") {
		t.Fatalf("unexpected IR:\n%s", data)
	}
	if !strings.Contains(stdout.String(), "app.main:\n  noop\n") {
		t.Fatalf("symbol listing:\n%s", stdout.String())
	}
	if !strings.Contains(stderr.String(), "lowered 1 module(s), 0 cached, 0 failed") {
		t.Fatalf("summary:\n%s", stderr.String())
	}
}

func TestBuildCommandRejectsFormat(t *testing.T) {
	root, _ := newTestRoot()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"build", "--format", "xml", "--no-cache"})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "unsupported format") {
		t.Fatalf("err = %v", err)
	}
}

package diagfmt

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"lowerc/internal/diag"
	"lowerc/internal/source"
)

func sampleBag(t *testing.T) (*diag.Bag, *source.FileSet) {
	t.Helper()
	fs := source.NewFileSet()
	file := fs.Add("/home/user/project/src/app.d")
	bag := diag.NewBag(10)
	bag.Add(diag.NewError(diag.LowInvalidControlFlow, source.Pos{File: file, Line: 12, Col: 5}, "goto into try-finally block").
		WithNote(source.Pos{File: file, Line: 20, Col: 1}, "label defined here"))
	bag.Add(diag.New(diag.SevWarning, diag.LowLinkageConflict, source.Pos{File: file, Line: 3}, "symbol clash"))
	return bag, fs
}

// TestPathModes проверяет различные режимы форматирования путей
func TestPathModes(t *testing.T) {
	bag, fs := sampleBag(t)
	tests := []struct {
		name     string
		mode     PathMode
		contains string
	}{
		{"absolute", PathModeAbsolute, "/home/user/project/src/app.d:12:5"},
		{"relative", PathModeRelative, "src/app.d:12:5"},
		{"basename", PathModeBasename, "app.d:12:5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			Pretty(&buf, bag, fs, PrettyOpts{PathMode: tt.mode, BaseDir: "/home/user/project"})
			out := buf.String()
			if !strings.Contains(out, tt.contains) {
				t.Fatalf("expected %q in:\n%s", tt.contains, out)
			}
			if tt.mode == PathModeRelative && strings.Contains(out, "/home/user") {
				t.Fatalf("relative mode leaked base dir:\n%s", out)
			}
		})
	}
}

func TestPrettyLayout(t *testing.T) {
	bag, fs := sampleBag(t)
	var buf bytes.Buffer
	Pretty(&buf, bag, fs, PrettyOpts{ShowNotes: true})
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	want := []string{
		"/home/user/project/src/app.d:12:5: ERROR LOW7001: goto into try-finally block",
		"  note: /home/user/project/src/app.d:20:1: label defined here",
		"/home/user/project/src/app.d:3: WARNING LOW7002: symbol clash",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestPrettyColorAndMax(t *testing.T) {
	bag, fs := sampleBag(t)

	var plain bytes.Buffer
	Pretty(&plain, bag, fs, PrettyOpts{Max: 1})
	if strings.Contains(plain.String(), "\x1b[") {
		t.Fatal("escape codes without Color")
	}
	if !strings.Contains(plain.String(), "... and 1 more") {
		t.Fatalf("missing overflow line:\n%s", plain.String())
	}
	if strings.Contains(plain.String(), "note:") {
		t.Fatal("notes printed without ShowNotes")
	}

	var colored bytes.Buffer
	Pretty(&colored, bag, fs, PrettyOpts{Color: true})
	if !strings.Contains(colored.String(), "\x1b[") {
		t.Fatal("no escape codes with Color")
	}
}

func TestJSONOutput(t *testing.T) {
	bag, fs := sampleBag(t)
	var buf bytes.Buffer
	if err := JSON(&buf, bag, fs, JSONOpts{PathMode: PathModeBasename, IncludeNotes: true}); err != nil {
		t.Fatalf("JSON: %v", err)
	}
	var out DiagnosticsOutput
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Count != 2 || len(out.Diagnostics) != 2 {
		t.Fatalf("count = %d", out.Count)
	}
	first := out.Diagnostics[0]
	if first.Code != "LOW7001" || first.Severity != "ERROR" || first.Location.File != "app.d" || first.Location.Line != 12 {
		t.Fatalf("first = %+v", first)
	}
	if len(first.Notes) != 1 || first.Notes[0].Location == nil || first.Notes[0].Location.Line != 20 {
		t.Fatalf("notes = %+v", first.Notes)
	}
}

func TestSarifOutput(t *testing.T) {
	bag, fs := sampleBag(t)
	var buf bytes.Buffer
	err := Sarif(&buf, bag, fs, SarifRunMeta{ToolName: "lowerc", ToolVersion: "0.1.0", InvocationArgs: []string{"build"}})
	if err != nil {
		t.Fatalf("Sarif: %v", err)
	}
	var log sarifLog
	if err := json.Unmarshal(buf.Bytes(), &log); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if log.Version != "2.1.0" || len(log.Runs) != 1 {
		t.Fatalf("log = %+v", log)
	}
	run := log.Runs[0]
	if len(run.Tool.Driver.Rules) != 2 || len(run.Results) != 2 {
		t.Fatalf("rules=%d results=%d", len(run.Tool.Driver.Rules), len(run.Results))
	}
	if run.Results[0].Level != "error" || run.Results[1].Level != "warning" {
		t.Fatalf("levels %q %q", run.Results[0].Level, run.Results[1].Level)
	}
	if len(run.Results[0].Related) != 1 {
		t.Fatal("note should become a related location")
	}
	if run.Invocations[0].ExecutionSuccessful {
		t.Fatal("errors present, execution must not be successful")
	}
}

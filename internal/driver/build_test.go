package driver_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"lowerc/internal/ast"
	"lowerc/internal/diag"
	"lowerc/internal/driver"
	"lowerc/internal/lower"
	"lowerc/internal/observ"
	"lowerc/internal/target"
)

// answerModule defines `int answer() { return 42; }`.
func answerModule(name string) *ast.Module {
	m := ast.NewModule(name, name+".d")
	i32 := m.AddType(ast.TypeDesc{Kind: "int", Width: 32})
	fnT := m.AddType(ast.TypeDesc{Kind: "fn", Result: i32})
	lit := m.AddExpr(ast.Expr{Kind: ast.ExprInt, Type: i32, Int: 42})
	ret := m.AddStmt(ast.Stmt{Kind: ast.StmtReturn, X: lit})
	body := m.AddStmt(ast.Stmt{Kind: ast.StmtBlock, Stmts: []ast.StmtID{ret}})
	m.AddFunc(ast.Func{Name: "answer", Type: fnT, Body: body})
	return m
}

// gotoModule jumps into a try-finally body, a module-scoped error.
func gotoModule(name string) *ast.Module {
	m := ast.NewModule(name, name+".d")
	void := m.AddType(ast.TypeDesc{Kind: "void"})
	fnT := m.AddType(ast.TypeDesc{Kind: "fn", Result: void})
	jump := m.AddStmt(ast.Stmt{Kind: ast.StmtGoto, Label: "inside", Line: 2})
	lbl := m.AddStmt(ast.Stmt{Kind: ast.StmtLabel, Label: "inside", Line: 4})
	tryBody := m.AddStmt(ast.Stmt{Kind: ast.StmtBlock, Stmts: []ast.StmtID{lbl}})
	fin := m.AddStmt(ast.Stmt{Kind: ast.StmtBlock})
	try := m.AddStmt(ast.Stmt{Kind: ast.StmtTryFinally, A: tryBody, B: fin})
	body := m.AddStmt(ast.Stmt{Kind: ast.StmtBlock, Stmts: []ast.StmtID{jump, try}})
	m.AddFunc(ast.Func{Name: "jumpy", Type: fnT, Body: body})
	return m
}

// fatalModule adds two integers into a void result.
func fatalModule(name string) *ast.Module {
	m := ast.NewModule(name, name+".d")
	void := m.AddType(ast.TypeDesc{Kind: "void"})
	i32 := m.AddType(ast.TypeDesc{Kind: "int", Width: 32})
	fnT := m.AddType(ast.TypeDesc{Kind: "fn", Result: void})
	one := m.AddExpr(ast.Expr{Kind: ast.ExprInt, Type: i32, Int: 1})
	sum := m.AddExpr(ast.Expr{Kind: ast.ExprBinary, Type: void, Op: ast.OpAdd, X: one, Y: one})
	st := m.AddStmt(ast.Stmt{Kind: ast.StmtExpr, X: sum})
	body := m.AddStmt(ast.Stmt{Kind: ast.StmtBlock, Stmts: []ast.StmtID{st}})
	m.AddFunc(ast.Func{Name: "broken", Type: fnT, Body: body})
	return m
}

func save(t *testing.T, dir, file string, m *ast.Module) string {
	t.Helper()
	path := filepath.Join(dir, file)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := ast.Save(path, m); err != nil {
		t.Fatalf("save %s: %v", file, err)
	}
	return path
}

type recordSink struct {
	mu     sync.Mutex
	events []driver.Event
}

func (s *recordSink) OnEvent(e driver.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordSink) count(st driver.Status) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Status == st {
			n++
		}
	}
	return n
}

func TestBuildAllWritesIR(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "ll")
	save(t, in, "a.ast.json", answerModule("app.a"))
	save(t, in, "nested/b.ast.mp", answerModule("app.b"))

	timer := observ.NewTimer()
	res, err := driver.BuildAll(context.Background(), []string{in}, driver.Options{
		Target: target.X86_64LinuxGNU(),
		Jobs:   2,
		OutDir: out,
		Timer:  timer,
	})
	if err != nil {
		t.Fatalf("BuildAll: %+v", err)
	}
	if len(res.Modules) != 2 || res.Failed() != 0 {
		t.Fatalf("modules=%d failed=%d", len(res.Modules), res.Failed())
	}
	for i, name := range []string{"app.a", "app.b"} {
		mr := res.Modules[i]
		if mr.Name != name {
			t.Fatalf("module %d = %q, want %q", i, mr.Name, name)
		}
		data, err := os.ReadFile(filepath.Join(out, name+".ll"))
		if err != nil {
			t.Fatalf("read output: %v", err)
		}
		text := string(data)
		if !strings.Contains(text, "define i32 @answer()") || !strings.Contains(text, "ret i32 42") {
			t.Fatalf("unexpected IR:\n%s", text)
		}
		if !strings.Contains(text, `target triple = "x86_64-unknown-linux-gnu"`) {
			t.Fatalf("missing target triple:\n%s", text)
		}
		if !slices.Contains(mr.Symbols, "answer") {
			t.Fatalf("symbols = %v", mr.Symbols)
		}
	}
	if rep := timer.Report(); len(rep.Phases) == 0 {
		t.Fatal("timer recorded no phases")
	}
}

func TestBuildAllIsolatesModuleErrors(t *testing.T) {
	in := t.TempDir()
	save(t, in, "good.ast.json", answerModule("app.good"))
	save(t, in, "bad.ast.json", gotoModule("app.bad"))

	res, err := driver.BuildAll(context.Background(), []string{in}, driver.Options{
		Target: target.X86_64LinuxGNU(),
		OutDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("module errors must not fail the build: %v", err)
	}
	if res.Failed() != 1 {
		t.Fatalf("failed = %d, want 1", res.Failed())
	}
	bad, good := res.Modules[0], res.Modules[1]
	if bad.Err == nil || bad.Output != "" {
		t.Fatalf("bad module: err=%v output=%q", bad.Err, bad.Output)
	}
	if lower.KindOf(bad.Err) != lower.InvalidControlFlow {
		t.Fatalf("bad kind = %v", lower.KindOf(bad.Err))
	}
	items := bad.Bag.Items()
	if len(items) != 1 || items[0].Code != diag.LowInvalidControlFlow {
		t.Fatalf("bad diagnostics: %+v", items)
	}
	if got := bad.Files.Path(items[0].Primary.File); got != "app.bad.d" {
		t.Fatalf("diagnostic file = %q", got)
	}
	if good.Err != nil || good.Output == "" {
		t.Fatalf("good module: err=%v output=%q", good.Err, good.Output)
	}
}

func TestBuildAllFatalErrorStopsBuild(t *testing.T) {
	in := t.TempDir()
	save(t, in, "broken.ast.json", fatalModule("app.broken"))

	_, err := driver.BuildAll(context.Background(), []string{in}, driver.Options{
		Target: target.X86_64LinuxGNU(),
	})
	if err == nil {
		t.Fatal("expected a fatal error")
	}
	if !lower.IsFatal(err) || lower.KindOf(err) != lower.InvalidConversion {
		t.Fatalf("got %v (kind %v), want fatal conversion", err, lower.KindOf(err))
	}
	if !strings.Contains(err.Error(), "broken.ast.json") {
		t.Fatalf("error should name the input: %v", err)
	}
}

func TestBuildAllReportsUndecodableInput(t *testing.T) {
	in := t.TempDir()
	path := filepath.Join(in, "junk.ast.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	res, err := driver.BuildAll(context.Background(), []string{path}, driver.Options{Target: target.X86_64LinuxGNU()})
	if err != nil {
		t.Fatalf("BuildAll: %v", err)
	}
	mr := res.Modules[0]
	if mr.Err == nil || mr.Bag.Len() != 1 || mr.Bag.Items()[0].Code != diag.IODecodeAST {
		t.Fatalf("result = %+v", mr)
	}
}

func TestBuildAllUsesCache(t *testing.T) {
	in := t.TempDir()
	save(t, in, "a.ast.mp", answerModule("app.a"))
	cache, err := driver.OpenDiskCacheAt(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	build := func(sink *recordSink) driver.ModuleResult {
		t.Helper()
		res, err := driver.BuildAll(context.Background(), []string{in}, driver.Options{
			Target:   target.X86_64LinuxGNU(),
			OutDir:   t.TempDir(),
			Cache:    cache,
			Progress: sink,
		})
		if err != nil {
			t.Fatalf("BuildAll: %v", err)
		}
		return res.Modules[0]
	}

	first := build(&recordSink{})
	if first.Cached {
		t.Fatal("first build cannot be cached")
	}
	sink := &recordSink{}
	second := build(sink)
	if !second.Cached || second.IR != first.IR {
		t.Fatalf("second build: cached=%v sameIR=%v", second.Cached, second.IR == first.IR)
	}
	if second.Output == "" {
		t.Fatal("cached module must still be written")
	}
	if sink.count(driver.StatusCached) != 1 || sink.count(driver.StatusDone) != 0 {
		t.Fatalf("events: %+v", sink.events)
	}

	// другая цель - другой ключ
	arm, err := target.Lookup("aarch64-linux-gnu")
	if err != nil {
		t.Fatal(err)
	}
	res, err := driver.BuildAll(context.Background(), []string{in}, driver.Options{
		Target: arm,
		Cache:  cache,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Modules[0].Cached {
		t.Fatal("cache entry reused across targets")
	}
}

func TestBuildAllRejectsOutputCollision(t *testing.T) {
	in := t.TempDir()
	save(t, in, "one.ast.json", answerModule("app.same"))
	save(t, in, "two.ast.json", answerModule("app.same"))

	res, err := driver.BuildAll(context.Background(), []string{in}, driver.Options{
		Target: target.X86_64LinuxGNU(),
		OutDir: t.TempDir(),
		Jobs:   1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed() != 1 {
		t.Fatalf("failed = %d, want 1", res.Failed())
	}
	if res.Modules[1].Bag.Items()[0].Code != diag.IOWriteOutput {
		t.Fatalf("diagnostics: %+v", res.Modules[1].Bag.Items())
	}
}

func TestChannelSinkForwards(t *testing.T) {
	ch := make(chan driver.Event, 1)
	driver.ChannelSink{Ch: ch}.OnEvent(driver.Event{File: "x", Stage: driver.StageLower, Status: driver.StatusWorking})
	got := <-ch
	if got.File != "x" || got.Stage != driver.StageLower {
		t.Fatalf("event = %+v", got)
	}
	driver.ChannelSink{}.OnEvent(driver.Event{}) // nil channel is a no-op
}

func TestListInputs(t *testing.T) {
	dir := t.TempDir()
	a := save(t, dir, "z/a.ast.json", answerModule("a"))
	b := save(t, dir, "b.ast.mp", answerModule("b"))
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := driver.ListInputs([]string{dir, a})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != b || got[1] != a {
		t.Fatalf("inputs = %v", got)
	}
	if _, err := driver.ListInputs([]string{filepath.Join(dir, "notes.txt")}); err == nil {
		t.Fatal("plain files must be rejected")
	}
	if _, err := driver.ListInputs([]string{filepath.Join(dir, "missing")}); err == nil {
		t.Fatal("missing input must fail")
	}
}

func TestOutputName(t *testing.T) {
	tests := map[string]string{
		"app.main":    "app.main.ll",
		"pkg/sub:mod": "pkg_sub_mod.ll",
	}
	for in, want := range tests {
		if got := driver.OutputName(in); got != want {
			t.Errorf("OutputName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTimingDiagnostic(t *testing.T) {
	timer := observ.NewTimer()
	timer.Begin("lower")("")
	d, ok := driver.TimingDiagnostic("", "", timer.Report())
	if !ok {
		t.Fatal("no diagnostic")
	}
	if d.Code != diag.ObsTimings || !strings.HasPrefix(d.Message, "timings (build)") {
		t.Fatalf("diagnostic = %+v", d)
	}
	if len(d.Notes) != 1 || !strings.Contains(d.Notes[0].Msg, `"name":"lower"`) {
		t.Fatalf("notes = %+v", d.Notes)
	}
}

package driver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"lowerc/internal/ast"
	"lowerc/internal/diag"
	"lowerc/internal/lower"
	"lowerc/internal/observ"
	"lowerc/internal/project"
	"lowerc/internal/source"
	"lowerc/internal/target"
	"lowerc/internal/trace"
)

// Options configure BuildAll.
type Options struct {
	Target         *target.Target
	Jobs           int    // <= 0: GOMAXPROCS
	OutDir         string // "" means do not write .ll files
	Cache          *DiskCache
	MaxDiagnostics int
	Progress       ProgressSink
	Timer          *observ.Timer
}

// ModuleResult is the outcome for one input file.
type ModuleResult struct {
	Path    string
	Name    string
	Output  string // written .ll path, "" when nothing was written
	IR      string
	Files   *source.FileSet
	Bag     *diag.Bag
	Symbols []string
	Cached  bool
	Err     error
}

// Result collects per-module outcomes in input order.
type Result struct {
	Modules []ModuleResult
}

// Failed counts modules that produced no IR.
func (r *Result) Failed() int {
	n := 0
	for i := range r.Modules {
		if r.Modules[i].Err != nil {
			n++
		}
	}
	return n
}

// ListInputs expands directories into their AST module files and returns
// a sorted, duplicate-free list.
func ListInputs(inputs []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(p string) {
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}
	for _, in := range inputs {
		info, err := os.Stat(in)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			if !isASTFile(in) {
				return nil, fmt.Errorf("%s: not an AST module file (*.ast.mp, *.ast.json)", in)
			}
			add(in)
			continue
		}
		err = filepath.WalkDir(in, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isASTFile(path) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	// Сортируем для детерминированного порядка
	sort.Strings(files)
	return files, nil
}

func isASTFile(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	for _, ext := range []string{".ast.mp", ".ast.msgpack", ".ast.json"} {
		if strings.HasSuffix(base, ext) {
			return true
		}
	}
	return false
}

type builder struct {
	opts    Options
	tgtKey  project.Digest
	outputs sync.Map // .ll path -> source path
}

// BuildAll lowers every input module in parallel. Module-scoped failures
// are recorded in the result and do not stop the other modules; the first
// fatal lowering error cancels the build and is returned.
func BuildAll(ctx context.Context, inputs []string, opts Options) (*Result, error) {
	if opts.Target == nil {
		return nil, errors.New("driver: no target")
	}
	files, err := ListInputs(inputs)
	if err != nil {
		return nil, err
	}
	res := &Result{Modules: make([]ModuleResult, len(files))}
	if len(files) == 0 {
		return res, nil
	}
	tgtKey, err := targetDigest(opts.Target)
	if err != nil {
		return nil, fmt.Errorf("hash target %s: %w", opts.Target.Name, err)
	}
	if opts.OutDir != "" {
		if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
			return nil, err
		}
	}

	tracer := trace.FromContext(ctx)
	span := trace.Begin(tracer, trace.ScopeDriver, "build", trace.CurrentSpan(ctx))
	span.WithExtra("modules", fmt.Sprint(len(files))).WithExtra("target", opts.Target.Name)
	defer span.End("")
	ctx = trace.WithSpan(ctx, span)

	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	for _, path := range files {
		emit(opts.Progress, Event{File: path, Stage: StageLoad, Status: StatusQueued})
	}

	b := &builder{opts: opts, tgtKey: tgtKey}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, len(files)))
	for i, path := range files {
		g.Go(func() error {
			// Проверка отмены
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			return b.buildOne(gctx, path, &res.Modules[i])
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	return res, nil
}

func (b *builder) buildOne(ctx context.Context, path string, out *ModuleResult) error {
	start := time.Now()
	out.Path = path
	out.Files = source.NewFileSet()
	out.Bag = diag.NewBag(b.opts.MaxDiagnostics)

	span := trace.Begin(trace.FromContext(ctx), trace.ScopeModule, "module", trace.CurrentSpan(ctx))
	span.WithExtra("path", path)
	defer span.End("")
	ctx = trace.WithSpan(ctx, span)

	fail := func(stage Stage, code diag.Code, pos source.Pos, err error) error {
		out.Err = err
		out.Bag.Add(diag.NewError(code, pos, err.Error()))
		emit(b.opts.Progress, Event{File: path, Stage: stage, Status: StatusError, Err: err, Elapsed: time.Since(start)})
		return nil
	}

	emit(b.opts.Progress, Event{File: path, Stage: StageLoad, Status: StatusWorking})
	stop := b.opts.Timer.Begin("load")
	mod, raw, err := ast.Load(path)
	stop("")
	if err != nil {
		code := diag.IODecodeAST
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			code = diag.IOLoadFileError
		}
		return fail(StageLoad, code, source.Pos{File: out.Files.Add(path)}, err)
	}
	out.Name = mod.Name
	modPos := source.Pos{File: out.Files.Add(mod.File)}

	key := moduleKey(raw, b.tgtKey)
	emit(b.opts.Progress, Event{File: path, Stage: StageCache, Status: StatusWorking})
	var cached DiskPayload
	hit, err := b.opts.Cache.Get(key, &cached)
	if err != nil {
		out.Bag.Add(diag.New(diag.SevWarning, diag.IOCacheCorrupted, modPos, err.Error()))
		hit = false
	}
	if hit && cached.Module == mod.Name && cached.Target == b.opts.Target.Name {
		out.IR, out.Symbols, out.Cached = cached.IR, cached.Symbols, true
		span.WithExtra("cached", "true")
		if err := b.write(path, out); err != nil {
			return fail(StageWrite, diag.IOWriteOutput, modPos, err)
		}
		emit(b.opts.Progress, Event{File: path, Stage: StageCache, Status: StatusCached, Elapsed: time.Since(start)})
		return nil
	}

	emit(b.opts.Progress, Event{File: path, Stage: StageLower, Status: StatusWorking})
	stop = b.opts.Timer.Begin("lower")
	lc, err := lower.NewContext(mod, lower.Options{
		Target:   b.opts.Target,
		Files:    out.Files,
		Reporter: diag.BagReporter{Bag: out.Bag},
	})
	if err != nil {
		stop("")
		return fail(StageLower, diag.IODecodeAST, modPos, err)
	}
	irm, err := lc.LowerModule(ctx)
	stop("")
	if err != nil {
		if lower.IsFatal(err) {
			out.Err = err
			emit(b.opts.Progress, Event{File: path, Stage: StageLower, Status: StatusError, Err: err, Elapsed: time.Since(start)})
			return pkgerrors.Wrapf(err, "%s", path)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// диагностики уже в Bag
		out.Err = err
		emit(b.opts.Progress, Event{File: path, Stage: StageLower, Status: StatusError, Err: err, Elapsed: time.Since(start)})
		return nil
	}
	out.IR = irm.String()
	out.Symbols = lc.Symbols.Names()

	emit(b.opts.Progress, Event{File: path, Stage: StageWrite, Status: StatusWorking})
	stop = b.opts.Timer.Begin("write")
	err = b.write(path, out)
	stop("")
	if err != nil {
		return fail(StageWrite, diag.IOWriteOutput, modPos, err)
	}
	if !out.Bag.HasErrors() {
		payload := &DiskPayload{Module: mod.Name, Target: b.opts.Target.Name, IR: out.IR, Symbols: out.Symbols}
		if err := b.opts.Cache.Put(key, payload); err != nil {
			out.Bag.Add(diag.New(diag.SevWarning, diag.IOCacheCorrupted, modPos, "cache store: "+err.Error()))
		}
	}
	emit(b.opts.Progress, Event{File: path, Stage: StageWrite, Status: StatusDone, Elapsed: time.Since(start)})
	return nil
}

// OutputName maps a module name to its .ll file name.
func OutputName(module string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, module)
	return name + ".ll"
}

func (b *builder) write(src string, out *ModuleResult) error {
	if b.opts.OutDir == "" {
		return nil
	}
	dst := filepath.Join(b.opts.OutDir, OutputName(out.Name))
	if prev, loaded := b.outputs.LoadOrStore(dst, src); loaded {
		return fmt.Errorf("module %s: %s is already produced by %s", out.Name, dst, prev)
	}
	if err := os.WriteFile(dst, []byte(out.IR), 0o644); err != nil {
		return err
	}
	out.Output = dst
	return nil
}

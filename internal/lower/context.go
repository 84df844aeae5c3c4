// Package lower turns a type-checked AST module into LLVM IR. It owns the
// declaration materializer, the conversion and arithmetic lowering, the
// cleanup-scope manager with landing pads, and call lowering.
//
// One Context lowers one module on one goroutine. Nothing in this package
// is shared between contexts, so modules are lowered in parallel by giving
// each its own Context.
package lower

import (
	"context"
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	irtypes "github.com/llir/llvm/ir/types"
	pkgerrors "github.com/pkg/errors"
	"github.com/rickypai/natsort"

	"lowerc/internal/ast"
	"lowerc/internal/diag"
	"lowerc/internal/layout"
	"lowerc/internal/source"
	"lowerc/internal/target"
	"lowerc/internal/trace"
	"lowerc/internal/types"
)

// Options configure a lowering Context.
type Options struct {
	Target   *target.Target
	Files    *source.FileSet
	Reporter diag.Reporter
}

// Context is the per-module lowering state.
type Context struct {
	Module  *ast.Module
	Types   *types.Interner
	TypeMap ast.TypeMap
	Layout  *layout.Engine
	Target  *target.Target
	IR      *ir.Module
	Symbols *SymbolTable

	Files    *source.FileSet
	Reporter diag.Reporter

	file   source.FileID
	tracer trace.Tracer
	span   uint64

	decls    map[Decl]*DeclRecord
	reported map[*Error]bool
	strings  map[string]*ir.Global
	uniq     map[string]int
	ctors    []structor
	dtors    []structor
}

type structor struct {
	priority int
	fn       *ir.Func
}

// NewContext builds the semantic types of mod and prepares an empty backend
// module for tgt.
func NewContext(mod *ast.Module, opts Options) (*Context, error) {
	if opts.Target == nil {
		return nil, fmt.Errorf("lower: no target")
	}
	in := types.NewInterner()
	tm, err := ast.BuildTypes(mod, in)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "module %s", mod.Name)
	}
	files := opts.Files
	if files == nil {
		files = source.NewFileSet()
	}
	rep := opts.Reporter
	if rep == nil {
		rep = diag.NopReporter{}
	}
	c := &Context{
		Module:   mod,
		Types:    in,
		TypeMap:  tm,
		Layout:   layout.New(opts.Target, in),
		Target:   opts.Target,
		IR:       ir.NewModule(),
		Symbols:  NewSymbolTable(),
		Files:    files,
		Reporter: rep,
		file:     files.Add(mod.File),
		tracer:   trace.Nop,
		decls:    make(map[Decl]*DeclRecord, 64),
		reported: make(map[*Error]bool),
		strings:  make(map[string]*ir.Global, 16),
		uniq:     make(map[string]int, 16),
	}
	c.IR.SourceFilename = mod.File
	c.IR.TargetTriple = opts.Target.Triple
	c.IR.DataLayout = opts.Target.DataLayout
	return c, nil
}

// LowerModule materializes every declaration of the module and defines
// every body. Module-scoped errors are reported and lowering continues
// with the next declaration; fatal errors stop immediately.
func (c *Context) LowerModule(ctx context.Context) (*ir.Module, error) {
	c.tracer = trace.FromContext(ctx)
	span := trace.Begin(c.tracer, trace.ScopeModule, "lower "+c.Module.Name, trace.CurrentSpan(ctx))
	c.span = span.ID()
	defer span.End("")

	var errs []error
	// A module error does not stop the loop: the remaining declarations
	// are still lowered so that one run reports every error, and the
	// module yields no IR at the end. A fatal error stops at once.
	// step returns false on a fatal error.
	step := func(err error) bool {
		if err == nil {
			return true
		}
		if IsFatal(err) {
			errs = append([]error{err}, errs...)
			return false
		}
		if c.report(err) {
			errs = append(errs, err)
		}
		return true
	}

	var decls []Decl
	for _, ref := range c.Module.Aggregates {
		decls = append(decls, AggregateDecl(ref))
	}
	for _, id := range c.Module.Functions {
		decls = append(decls, FuncDecl(id))
	}
	for _, id := range c.Module.Globals {
		decls = append(decls, VarDecl(id))
	}
	for _, d := range decls {
		if _, err := c.Resolve(d); !step(err) {
			return nil, errs[0]
		}
	}
	for _, d := range decls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !c.definable(d) {
			continue
		}
		if rec := c.Record(d); rec != nil && rec.Err != nil {
			// already reported by Resolve
			continue
		}
		if !step(c.Define(d)) {
			return nil, errs[0]
		}
	}
	c.finish()
	span.WithExtra("symbols", fmt.Sprint(c.Symbols.Len()))
	if len(errs) > 0 {
		return nil, pkgerrors.Wrapf(errs[0], "module %s: %d lowering error(s)", c.Module.Name, len(errs))
	}
	return c.IR, nil
}

func (c *Context) definable(d Decl) bool {
	switch d.Kind {
	case DeclFunc:
		return c.Module.Func(d.Func).Body.IsValid()
	case DeclVar:
		return !c.Module.Var(d.Var).Extern
	}
	return true
}

// finish appends named struct types and the constructor tables.
func (c *Context) finish() {
	named := c.Layout.NamedTypes()
	byName := make(map[string]*irtypes.StructType, len(named))
	names := make([]string, 0, len(named))
	for _, st := range named {
		byName[st.TypeName] = st
		names = append(names, st.TypeName)
	}
	natsort.Strings(names)
	for _, n := range names {
		c.IR.TypeDefs = append(c.IR.TypeDefs, byName[n])
	}
	c.emitStructors("llvm.global_ctors", c.ctors)
	c.emitStructors("llvm.global_dtors", c.dtors)
}

func (c *Context) emitStructors(name string, list []structor) {
	if len(list) == 0 {
		return
	}
	fnPtr := irtypes.NewPointer(irtypes.NewFunc(irtypes.Void))
	entryT := irtypes.NewStruct(irtypes.I32, fnPtr, irtypes.I8Ptr)
	arrT := irtypes.NewArray(uint64(len(list)), entryT)
	elems := make([]constant.Constant, len(list))
	for i, s := range list {
		elems[i] = constant.NewStruct(entryT,
			constant.NewInt(irtypes.I32, int64(s.priority)),
			s.fn,
			constant.NewNull(irtypes.I8Ptr),
		)
	}
	g := c.IR.NewGlobalDef(name, constant.NewArray(arrT, elems...))
	g.Linkage = enum.LinkageAppending
	c.Symbols.Insert(name, g)
}

func (c *Context) pos(line, col uint32) source.Pos {
	return source.Pos{File: c.file, Line: line, Col: col}
}

func (c *Context) typeOf(ref ast.TypeRef) types.TypeID {
	return c.TypeMap.Get(ref)
}

// irType maps t and turns layout failures into fatal errors: the input was
// type checked, so a type without a layout is a lowering bug.
func (c *Context) irType(t types.TypeID) (irtypes.Type, error) {
	irT, err := c.Layout.IRType(t)
	if err != nil {
		return nil, pkgerrors.WithStack(&Error{
			Kind: InternalInvariantViolation, Component: "layout",
			Msg: fmt.Sprintf("type %s: %v", c.Types.String(t), err),
		})
	}
	return irT, nil
}

func (c *Context) ptrType(t types.TypeID) types.TypeID {
	return c.Types.Intern(types.MakePointer(t))
}

// uniqueName returns prefix, then prefix.1, prefix.2 and so on.
func (c *Context) uniqueName(prefix string) string {
	n := c.uniq[prefix]
	c.uniq[prefix] = n + 1
	if n == 0 {
		return prefix
	}
	return fmt.Sprintf("%s.%d", prefix, n)
}

func (c *Context) point(name, detail string) {
	trace.Point(c.tracer, trace.ScopeNode, name, detail, c.span)
}

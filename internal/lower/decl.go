package lower

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	irtypes "github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"golang.org/x/text/unicode/norm"

	"lowerc/internal/ast"
	"lowerc/internal/layout"
	"lowerc/internal/source"
	"lowerc/internal/target"
	"lowerc/internal/types"
)

// DeclKind selects which arena a Decl points into.
type DeclKind uint8

const (
	DeclFunc DeclKind = iota + 1
	DeclVar
	DeclAggregate
)

// Decl names one declaration of the module being lowered.
type Decl struct {
	Kind DeclKind
	Func ast.FuncID
	Var  ast.VarID
	Type ast.TypeRef
}

func FuncDecl(id ast.FuncID) Decl        { return Decl{Kind: DeclFunc, Func: id} }
func VarDecl(id ast.VarID) Decl          { return Decl{Kind: DeclVar, Var: id} }
func AggregateDecl(ref ast.TypeRef) Decl { return Decl{Kind: DeclAggregate, Type: ref} }

// DeclState is the materialization progress of one declaration. It only
// moves forward: Unresolved -> Resolved -> Defined.
type DeclState uint8

const (
	Unresolved DeclState = iota
	Resolved
	Defined
)

func (s DeclState) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case Defined:
		return "defined"
	}
	return "unresolved"
}

// DeclRecord is the lowering state attached to a declaration.
type DeclRecord struct {
	Decl  Decl
	State DeclState
	Name  string // linkage name
	Pos   source.Pos

	// Symbol is the *ir.Func or *ir.Global of functions and variables.
	Symbol value.Value
	Sig    *layout.Signature

	// Aggregates: default initializer, class vtable and class descriptor.
	Init      *ir.Global
	VTable    *ir.Global
	ClassInfo *ir.Global

	// Err is the failure of the first Resolve; later calls return it
	// instead of trying again.
	Err error
}

// Func returns the function symbol of a resolved function declaration.
func (r *DeclRecord) Func() *ir.Func {
	f, _ := r.Symbol.(*ir.Func)
	return f
}

// Global returns the variable symbol of a resolved variable declaration.
func (r *DeclRecord) Global() *ir.Global {
	g, _ := r.Symbol.(*ir.Global)
	return g
}

// Record returns the state of d, or nil before the first Resolve.
func (c *Context) Record(d Decl) *DeclRecord {
	return c.decls[d]
}

// Resolve declares the backend symbols of d. It is idempotent, failures
// included.
func (c *Context) Resolve(d Decl) (*DeclRecord, error) {
	if rec, ok := c.decls[d]; ok {
		if rec.Err != nil {
			return nil, rec.Err
		}
		return rec, nil
	}
	rec := &DeclRecord{Decl: d}
	c.decls[d] = rec
	var err error
	switch d.Kind {
	case DeclFunc:
		err = c.resolveFunc(rec)
	case DeclVar:
		err = c.resolveVar(rec)
	case DeclAggregate:
		err = c.resolveAggregate(rec)
	default:
		err = internalf("materializer", source.Pos{}, "bad declaration kind %d", d.Kind)
	}
	if err != nil {
		rec.Err = err
		return nil, err
	}
	rec.State = Resolved
	return rec, nil
}

// Define emits the body or initializer of d. Defining twice is a lowering
// bug and fails with InternalInvariantViolation.
func (c *Context) Define(d Decl) error {
	rec, err := c.Resolve(d)
	if err != nil {
		return err
	}
	if rec.State == Defined {
		return internalf("materializer", rec.Pos, "%s defined twice", rec.Name)
	}
	switch d.Kind {
	case DeclFunc:
		err = c.defineFunc(rec)
	case DeclVar:
		err = c.defineVar(rec)
	case DeclAggregate:
		err = c.defineAggregate(rec)
	}
	if err != nil {
		return err
	}
	rec.State = Defined
	c.point("define", rec.Name)
	return nil
}

// LinkageName normalizes a symbol name to NFC so that differently composed
// identifiers map onto one symbol.
func LinkageName(mangle, name string) string {
	if mangle == "" {
		mangle = name
	}
	return norm.NFC.String(mangle)
}

func linkageFor(template, private bool) enum.Linkage {
	switch {
	case template:
		return enum.LinkageLinkOnceODR
	case private:
		return enum.LinkageInternal
	}
	return enum.LinkageNone
}

// GlobalOpts describe a global requested through GetOrCreateGlobal.
type GlobalOpts struct {
	TLS       bool
	Immutable bool
}

// GetOrCreateGlobal returns the global called name, declaring it on first
// use. Asking again with the same content type returns the same symbol;
// any other type is a LinkageConflict.
func (c *Context) GetOrCreateGlobal(pos source.Pos, name string, content irtypes.Type, opts GlobalOpts) (*ir.Global, error) {
	name = norm.NFC.String(name)
	if v, ok := c.Symbols.Lookup(name); ok {
		g, isGlobal := v.(*ir.Global)
		if !isGlobal || !irtypes.Equal(g.ContentType, content) || (g.TLSModel != enum.TLSModelNone) != opts.TLS {
			return nil, linkageConflict(pos, name, describe(v), content.String())
		}
		return g, nil
	}
	g := c.IR.NewGlobal(name, content)
	g.Immutable = opts.Immutable
	if opts.TLS {
		g.TLSModel = enum.TLSModelGeneric
	}
	c.Symbols.Insert(name, g)
	return g, nil
}

// declareFunc is GetOrCreateGlobal for functions.
func (c *Context) declareFunc(pos source.Pos, name string, sig *irtypes.FuncType) (*ir.Func, error) {
	name = norm.NFC.String(name)
	if v, ok := c.Symbols.Lookup(name); ok {
		f, isFunc := v.(*ir.Func)
		if !isFunc || !irtypes.Equal(f.Sig, sig) {
			return nil, linkageConflict(pos, name, describe(v), sig.String())
		}
		return f, nil
	}
	params := make([]*ir.Param, len(sig.Params))
	for i, p := range sig.Params {
		params[i] = ir.NewParam("", p)
	}
	f := c.IR.NewFunc(name, sig.RetType, params...)
	f.Sig.Variadic = sig.Variadic
	c.Symbols.Insert(name, f)
	return f, nil
}

func (c *Context) runtimeFunc(name string, ret irtypes.Type, params ...irtypes.Type) (*ir.Func, error) {
	return c.declareFunc(source.Pos{}, name, irtypes.NewFunc(ret, params...))
}

func describe(v value.Value) string {
	switch v := v.(type) {
	case *ir.Global:
		return "global " + v.ContentType.String()
	case *ir.Func:
		return "function " + v.Sig.String()
	}
	return v.Type().String()
}

// --- functions ---------------------------------------------------------------

func (c *Context) resolveFunc(rec *DeclRecord) error {
	fn := c.Module.Func(rec.Decl.Func)
	rec.Pos = c.pos(fn.Line, 0)
	rec.Name = LinkageName(fn.Mangle, fn.Name)
	sig, err := c.Layout.Signature(c.typeOf(fn.Type), fn.HasContext())
	if err != nil {
		return internalf("materializer", rec.Pos, "signature of %s: %v", fn.Name, err)
	}
	f, err := c.declareFunc(rec.Pos, rec.Name, sig.IR)
	if err != nil {
		return err
	}
	rec.Symbol, rec.Sig = f, sig
	if sig.Conv == target.ConvStdCall {
		f.CallingConv = enum.CallingConvX86StdCall
	}
	if len(f.ReturnAttrs) == 0 {
		f.ReturnAttrs = retAttrs(sig.Ret)
	}
	for i, p := range sig.Params {
		if i >= len(f.Params) || len(f.Params[i].Attrs) > 0 {
			continue
		}
		f.Params[i].Attrs = paramAttrs(p)
	}
	return nil
}

// paramAttrs are the attributes of one lowered parameter. Declarations and
// call sites use the same lists.
func paramAttrs(p layout.IRParam) []ir.ParamAttribute {
	var attrs []ir.ParamAttribute
	switch {
	case p.Role == layout.RoleSRet:
		attrs = append(attrs, ir.SRet{Typ: pointee(p.Type)}, enum.ParamAttrNoAlias)
	case p.Indirect:
		attrs = append(attrs, ir.Byval{Typ: pointee(p.Type)})
	case p.ABI.SignExt:
		attrs = append(attrs, enum.ParamAttrSignExt)
	case p.ABI.ZeroExt:
		attrs = append(attrs, enum.ParamAttrZeroExt)
	}
	return attrs
}

func retAttrs(abi target.ArgABI) []ir.ReturnAttribute {
	switch {
	case abi.SignExt:
		return []ir.ReturnAttribute{enum.ReturnAttrSignExt}
	case abi.ZeroExt:
		return []ir.ReturnAttribute{enum.ReturnAttrZeroExt}
	}
	return nil
}

func pointee(t irtypes.Type) irtypes.Type {
	if pt, ok := t.(*irtypes.PointerType); ok {
		return pt.ElemType
	}
	return t
}

func (c *Context) defineFunc(rec *DeclRecord) error {
	fn := c.Module.Func(rec.Decl.Func)
	if !fn.Body.IsValid() {
		return internalf("materializer", rec.Pos, "%s has no body to define", rec.Name)
	}
	f := rec.Func()
	if len(f.Blocks) > 0 {
		return internalf("materializer", rec.Pos, "%s already has a body", rec.Name)
	}
	f.Linkage = linkageFor(fn.Template, fn.Private)
	fl := newFuncLowerer(c, rec.Decl.Func, rec)
	if err := fl.lower(); err != nil {
		// leave a declaration behind rather than a half-built body
		f.Blocks = nil
		f.Linkage = enum.LinkageNone
		f.Personality = nil
		return err
	}
	if err := verifyFunc(f); err != nil {
		return internalf("verifier", rec.Pos, "%s: %v", rec.Name, err)
	}
	if fn.Ctor {
		c.ctors = append(c.ctors, structor{priority: priorityOf(fn), fn: f})
	}
	if fn.Dtor {
		c.dtors = append(c.dtors, structor{priority: priorityOf(fn), fn: f})
	}
	return nil
}

func priorityOf(fn *ast.Func) int {
	if fn.Priority == 0 {
		return 65535
	}
	return fn.Priority
}

// --- variables ---------------------------------------------------------------

func (c *Context) resolveVar(rec *DeclRecord) error {
	v := c.Module.Var(rec.Decl.Var)
	rec.Pos = c.pos(v.Line, 0)
	rec.Name = LinkageName(v.Mangle, v.Name)
	if v.Kind != ast.VarGlobal && v.Kind != ast.VarTLS {
		return internalf("materializer", rec.Pos, "%s is not a module-level variable", v.Name)
	}
	irT, err := c.irType(c.typeOf(v.Type))
	if err != nil {
		return err
	}
	g, err := c.GetOrCreateGlobal(rec.Pos, rec.Name, irT, GlobalOpts{TLS: v.Kind == ast.VarTLS})
	if err != nil {
		return err
	}
	rec.Symbol = g
	return nil
}

func (c *Context) defineVar(rec *DeclRecord) error {
	v := c.Module.Var(rec.Decl.Var)
	g := rec.Global()
	if g.Init != nil {
		return internalf("materializer", rec.Pos, "%s already initialized", rec.Name)
	}
	t := c.typeOf(v.Type)
	var (
		init constant.Constant
		err  error
	)
	if v.Init.IsValid() {
		init, err = c.constExpr(v.Init, t)
	} else {
		init, err = c.DefaultInit(t)
	}
	if err != nil {
		return err
	}
	g.Init = init
	g.Immutable = v.Immutable
	g.Linkage = linkageFor(v.Template, v.Private)
	g.Align = ir.Align(c.alignOf(t, g.ContentType))
	return nil
}

func (c *Context) alignOf(t types.TypeID, irT irtypes.Type) uint32 {
	a, err := c.Layout.AlignOf(t)
	if err != nil {
		a = 1
	}
	if ia := c.Layout.IRAlign(irT); ia > a {
		a = ia
	}
	return a
}

// --- aggregates --------------------------------------------------------------

func (c *Context) resolveAggregate(rec *DeclRecord) error {
	rec.Pos = c.pos(c.Module.Type(rec.Decl.Type).Line, 0)
	t := c.typeOf(rec.Decl.Type)
	info, ok := c.Types.Aggregate(t)
	if !ok {
		return internalf("materializer", rec.Pos, "type#%d is not an aggregate", t)
	}
	rec.Name = LinkageName(info.Mangle, info.Name)
	agg, err := c.Layout.Aggregate(t)
	if err != nil {
		return internalf("materializer", rec.Pos, "layout of %s: %v", info.Name, err)
	}
	kind := c.Types.Kind(t)
	if kind == types.KindInterface {
		return nil
	}
	if rec.Init, err = c.GetOrCreateGlobal(rec.Pos, rec.Name+"6__initZ", agg.IR, GlobalOpts{Immutable: true}); err != nil {
		return err
	}
	if kind != types.KindClass {
		return nil
	}
	if rec.ClassInfo, err = c.classInfo(t); err != nil {
		return err
	}
	vt := irtypes.NewArray(uint64(len(info.VTable)+1), irtypes.I8Ptr)
	rec.VTable, err = c.GetOrCreateGlobal(rec.Pos, rec.Name+"6__vtblZ", vt, GlobalOpts{Immutable: true})
	return err
}

// classInfo declares the runtime descriptor of class t. Descriptors are
// emitted by the runtime support library, so they stay external.
func (c *Context) classInfo(t types.TypeID) (*ir.Global, error) {
	info, _ := c.Types.Aggregate(t)
	return c.GetOrCreateGlobal(source.Pos{}, LinkageName(info.Mangle, info.Name)+"7__ClassZ", irtypes.I8, GlobalOpts{})
}

func (c *Context) defineAggregate(rec *DeclRecord) error {
	t := c.typeOf(rec.Decl.Type)
	info, _ := c.Types.Aggregate(t)
	if rec.Init == nil {
		return nil
	}
	init, err := c.instanceInit(t, rec.VTable)
	if err != nil {
		return err
	}
	rec.Init.Init = init
	rec.Init.Linkage = linkageFor(info.Template, false)
	if rec.VTable == nil {
		return nil
	}
	entries := make([]constant.Constant, 0, len(info.VTable)+1)
	entries = append(entries, rec.ClassInfo)
	for _, name := range info.VTable {
		m, err := c.vtableEntry(rec.Pos, name)
		if err != nil {
			return err
		}
		entries = append(entries, m)
	}
	rec.VTable.Init = constant.NewArray(rec.VTable.ContentType.(*irtypes.ArrayType), entries...)
	rec.VTable.Linkage = linkageFor(info.Template, false)
	return nil
}

// vtableEntry returns a method as i8*. Methods from other modules are
// declared as opaque symbols.
func (c *Context) vtableEntry(pos source.Pos, name string) (constant.Constant, error) {
	name = norm.NFC.String(name)
	v, ok := c.Symbols.Lookup(name)
	if !ok {
		g, err := c.GetOrCreateGlobal(pos, name, irtypes.I8, GlobalOpts{})
		if err != nil {
			return nil, err
		}
		return g, nil
	}
	k, ok := v.(constant.Constant)
	if !ok {
		return nil, internalf("materializer", pos, "vtable entry %s is not constant", name)
	}
	if irtypes.Equal(k.Type(), irtypes.I8Ptr) {
		return k, nil
	}
	return constant.NewBitCast(k, irtypes.I8Ptr), nil
}

// TypeInfoOf declares the runtime type descriptor of t.
func (c *Context) TypeInfoOf(t types.TypeID) (*ir.Global, error) {
	id := "TypeInfo_" + c.Types.Mangle(t)
	name := fmt.Sprintf("_D%d%s6__initZ", len(id), id)
	return c.GetOrCreateGlobal(source.Pos{}, name, irtypes.I8, GlobalOpts{})
}

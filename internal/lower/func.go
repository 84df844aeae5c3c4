package lower

import (
	"fmt"

	"fortio.org/safecast"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	irtypes "github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"lowerc/internal/ast"
	"lowerc/internal/layout"
	"lowerc/internal/source"
	"lowerc/internal/trace"
	"lowerc/internal/types"
)

// FuncLowerer holds the state of one function body under construction.
// The first block only holds stack slots; it branches to the body once
// the function is complete, so every alloca dominates its uses.
type FuncLowerer struct {
	c   *Context
	id  ast.FuncID
	fn  *ast.Func
	rec *DeclRecord
	sig *layout.Signature
	f   *ir.Func

	allocas *ir.Block
	body    *ir.Block
	cur     *ir.Block
	names   map[string]int

	locals    map[ast.VarID]Value
	result    types.TypeID
	sret      value.Value
	arguments value.Value
	argptr    value.Value

	scopes      []*cleanupScope
	nextScope   int
	handlers    []*HandlerRecord
	labels      map[string]*labelInfo
	labelBlocks map[string]*ir.Block

	span *trace.Span
}

func newFuncLowerer(c *Context, id ast.FuncID, rec *DeclRecord) *FuncLowerer {
	fn := c.Module.Func(id)
	return &FuncLowerer{
		c:           c,
		id:          id,
		fn:          fn,
		rec:         rec,
		sig:         rec.Sig,
		f:           rec.Func(),
		names:       make(map[string]int, 16),
		locals:      make(map[ast.VarID]Value, len(fn.Params)+8),
		labels:      make(map[string]*labelInfo),
		labelBlocks: make(map[string]*ir.Block),
	}
}

func (fl *FuncLowerer) lower() error {
	fl.span = trace.Begin(fl.c.tracer, trace.ScopeFunction, fl.rec.Name, fl.c.span)
	defer fl.span.End("")

	if err := fl.begin(); err != nil {
		return err
	}
	if err := fl.lowerStmt(fl.fn.Body); err != nil {
		return err
	}
	if err := fl.finishBody(); err != nil {
		return err
	}
	fl.allocas.NewBr(fl.body)
	for _, b := range fl.f.Blocks {
		if b.Term == nil {
			b.NewUnreachable()
		}
	}
	fl.span.WithExtra("blocks", fmt.Sprint(len(fl.f.Blocks)))
	return nil
}

// begin opens the entry and body blocks and the function scope, and binds
// the parameters.
func (fl *FuncLowerer) begin() error {
	if err := fl.collectLabels(fl.fn.Body); err != nil {
		return err
	}
	fl.allocas = fl.newBlock("entry")
	fl.body = fl.newBlock("body")
	fl.cur = fl.body
	fl.result = fl.sig.Info.Result

	fl.EnterScope(ScopeFunction, ast.NoStmtID, fl.pos(fl.fn.Line, 0))
	return fl.bindParams()
}

// finishBody closes the function scope on fall-through and verifies that
// every scope opened by the body was closed again.
func (fl *FuncLowerer) finishBody() error {
	if len(fl.scopes) != 1 || fl.scopes[0].kind != ScopeFunction {
		return internalf("scopes", fl.pos(fl.fn.Line, 0), "%s: %d scopes open at end of body", fl.rec.Name, len(fl.scopes))
	}
	open := !fl.terminated()
	if _, err := fl.LeaveScope(LeaveNormal); err != nil {
		return err
	}
	if open && !fl.terminated() {
		if fl.c.Types.Kind(fl.result) == types.KindVoid || fl.sig.SRet() {
			fl.cur.NewRet(nil)
		} else {
			fl.cur.NewUnreachable()
		}
	}
	if len(fl.scopes) != 0 {
		return internalf("scopes", fl.pos(fl.fn.Line, 0), "%s: scope stack not empty", fl.rec.Name)
	}
	return nil
}

// bindParams gives every declared parameter an address. By-value
// parameters are spilled so that they can be assigned.
func (fl *FuncLowerer) bindParams() error {
	for i, p := range fl.sig.Params {
		arg := fl.f.Params[i]
		switch p.Role {
		case layout.RoleSRet:
			arg.SetName(".sret")
			fl.sret = arg
		case layout.RoleContext:
			arg.SetName(".this")
			if !fl.fn.This.IsValid() {
				continue
			}
			v := fl.c.Module.Var(fl.fn.This)
			t := fl.c.typeOf(v.Type)
			thisV, err := fl.bitcast(arg, t)
			if err != nil {
				return err
			}
			slot, err := fl.AllocateStack(t, "this")
			if err != nil {
				return err
			}
			fl.cur.NewStore(thisV, slot)
			fl.locals[fl.fn.This] = lvalueOf(slot, t)
		case layout.RoleUser:
			if p.Index >= len(fl.fn.Params) {
				return internalf("lower", fl.pos(fl.fn.Line, 0), "%s: parameter %d has no declaration", fl.rec.Name, p.Index)
			}
			vid := fl.fn.Params[p.Index]
			v := fl.c.Module.Var(vid)
			t := fl.c.typeOf(v.Type)
			arg.SetName(fl.unique(v.Name))
			if p.ByRef || p.Indirect {
				fl.locals[vid] = lvalueOf(arg, t)
				continue
			}
			slot, err := fl.AllocateStack(t, v.Name+".addr")
			if err != nil {
				return err
			}
			fl.cur.NewStore(arg, slot)
			fl.locals[vid] = lvalueOf(slot, t)
		case layout.RoleArguments:
			arg.SetName("_arguments")
			fl.arguments = arg
		case layout.RoleArgPtr:
			arg.SetName("_argptr")
			fl.argptr = arg
		}
	}
	return nil
}

func (fl *FuncLowerer) pos(line, col uint32) source.Pos {
	return fl.c.pos(line, col)
}

// unique returns a local name not used before in this function. Blocks and
// values share the namespace.
func (fl *FuncLowerer) unique(name string) string {
	n := fl.names[name]
	fl.names[name] = n + 1
	if n == 0 {
		return name
	}
	return fmt.Sprintf("%s.%d", name, n)
}

func (fl *FuncLowerer) newBlock(name string) *ir.Block {
	return fl.f.NewBlock(fl.unique(name))
}

func (fl *FuncLowerer) terminated() bool {
	return fl.cur.Term != nil
}

// ensureOpen moves emission to a fresh block when the current one already
// ended, e.g. after a goto. Code emitted there is unreachable.
func (fl *FuncLowerer) ensureOpen() {
	if fl.terminated() {
		fl.cur = fl.newBlock("dead")
	}
}

func (fl *FuncLowerer) irType(t types.TypeID) (irtypes.Type, error) {
	return fl.c.irType(t)
}

// rvalue loads v when it is an address.
func (fl *FuncLowerer) rvalue(v Value) (value.Value, error) {
	if !v.LValue {
		return v.V, nil
	}
	irT, err := fl.irType(v.Type)
	if err != nil {
		return nil, err
	}
	fl.ensureOpen()
	return fl.load(irT, v), nil
}

// load reads through the address in v with the alignment v guarantees.
func (fl *FuncLowerer) load(irT irtypes.Type, v Value) *ir.InstLoad {
	ld := fl.cur.NewLoad(irT, v.V)
	if v.Align != 0 {
		ld.Align = ir.Align(v.Align)
	}
	return ld
}

// store writes x through the address in dst.
func (fl *FuncLowerer) store(x value.Value, dst Value) *ir.InstStore {
	st := fl.cur.NewStore(x, dst.V)
	if dst.Align != 0 {
		st.Align = ir.Align(dst.Align)
	}
	return st
}

// bitcast reinterprets a pointer-shaped value as the IR type of t.
func (fl *FuncLowerer) bitcast(v value.Value, t types.TypeID) (value.Value, error) {
	irT, err := fl.irType(t)
	if err != nil {
		return nil, err
	}
	return fl.castTo(v, irT), nil
}

func (fl *FuncLowerer) castTo(v value.Value, irT irtypes.Type) value.Value {
	if irtypes.Equal(v.Type(), irT) {
		return v
	}
	if k, ok := v.(constant.Constant); ok {
		return constant.NewBitCast(k, irT)
	}
	return fl.cur.NewBitCast(v, irT)
}

func (fl *FuncLowerer) sizeT(n int64) value.Value {
	return constant.NewInt(fl.c.Layout.SizeT(), n)
}

// sizeConst is the size_t constant for a byte count or offset.
func (fl *FuncLowerer) sizeConst(pos source.Pos, n uint64) (value.Value, error) {
	v, err := safecast.Conv[int64](n)
	if err != nil {
		return nil, internalf("layout", pos, "size %d: %v", n, err)
	}
	return fl.sizeT(v), nil
}

func (fl *FuncLowerer) point(name, detail string) {
	trace.Point(fl.c.tracer, trace.ScopeNode, name, detail, fl.span.ID())
}

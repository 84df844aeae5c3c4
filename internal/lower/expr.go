package lower

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	irtypes "github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"lowerc/internal/ast"
	"lowerc/internal/source"
	"lowerc/internal/types"
)

func (fl *FuncLowerer) lowerExpr(id ast.ExprID) (Value, error) {
	if !id.IsValid() {
		return Value{}, internalf("expr", source.Pos{}, "missing expression")
	}
	e := fl.c.Module.Expr(id)
	pos := fl.pos(e.Line, e.Col)
	t := fl.c.typeOf(e.Type)
	fl.ensureOpen()
	switch e.Kind {
	case ast.ExprInt, ast.ExprFloat, ast.ExprBool, ast.ExprNull, ast.ExprString:
		k, err := fl.c.literal(e, t)
		if err != nil {
			return Value{}, err
		}
		return rvalueOf(k, t), nil
	case ast.ExprVar:
		return fl.varRef(pos, e.Var)
	case ast.ExprFunc:
		rec, err := fl.c.Resolve(FuncDecl(e.Func))
		if err != nil {
			return Value{}, err
		}
		v, err := fl.bitcast(rec.Func(), t)
		if err != nil {
			return Value{}, err
		}
		return rvalueOf(v, t), nil
	case ast.ExprBinary:
		return fl.lowerBinary(pos, e, t)
	case ast.ExprCall:
		return fl.lowerCallExpr(pos, e)
	case ast.ExprCast:
		if x := fl.c.Module.Expr(e.X); x.Kind == ast.ExprNull {
			k, err := fl.c.literal(x, t)
			if err != nil {
				return Value{}, err
			}
			return rvalueOf(k, t), nil
		}
		x, err := fl.lowerExpr(e.X)
		if err != nil {
			return Value{}, err
		}
		if e.Paint {
			return fl.Paint(pos, x, t)
		}
		return fl.Convert(pos, x, t)
	case ast.ExprNew:
		return fl.lowerNew(pos, e, t)
	case ast.ExprAddrOf:
		x, err := fl.lowerExpr(e.X)
		if err != nil {
			return Value{}, err
		}
		if x, err = fl.MakeLValue(pos, x); err != nil {
			return Value{}, err
		}
		v, err := fl.bitcast(x.V, t)
		if err != nil {
			return Value{}, err
		}
		return rvalueOf(v, t), nil
	case ast.ExprDeref:
		x, err := fl.lowerExpr(e.X)
		if err != nil {
			return Value{}, err
		}
		p, err := fl.rvalue(x)
		if err != nil {
			return Value{}, err
		}
		addr, err := fl.bitcast(p, fl.c.ptrType(t))
		if err != nil {
			return Value{}, err
		}
		return Value{V: addr, Type: t, LValue: true}, nil
	case ast.ExprMember:
		return fl.lowerMember(pos, e, t)
	case ast.ExprIndex:
		return fl.lowerIndex(pos, e, t)
	case ast.ExprNeg, ast.ExprNot, ast.ExprCom:
		return fl.lowerUnary(pos, e, t)
	case ast.ExprDecl:
		return fl.declareLocal(e.Var)
	case ast.ExprDelegate:
		return fl.lowerDelegate(pos, e, t)
	case ast.ExprThis:
		if v, ok := fl.locals[fl.fn.This]; ok && fl.fn.This.IsValid() {
			return v, nil
		}
		return Value{}, internalf("expr", pos, "this outside of a method")
	}
	return Value{}, fl.unsupported(pos, "expression", e.Kind.String())
}

func (fl *FuncLowerer) varRef(pos source.Pos, id ast.VarID) (Value, error) {
	if v, ok := fl.locals[id]; ok {
		return v, nil
	}
	v := fl.c.Module.Var(id)
	if v.Kind != ast.VarGlobal && v.Kind != ast.VarTLS {
		return Value{}, unresolved(pos, v.Name)
	}
	rec, err := fl.c.Resolve(VarDecl(id))
	if err != nil {
		return Value{}, err
	}
	return lvalueOf(rec.Global(), fl.c.typeOf(v.Type)), nil
}

func (fl *FuncLowerer) lowerBinary(pos source.Pos, e *ast.Expr, t types.TypeID) (Value, error) {
	if e.Op == ast.OpAndAnd || e.Op == ast.OpOrOr {
		return fl.shortCircuit(e)
	}
	l, err := fl.lowerExpr(e.X)
	if err != nil {
		return Value{}, err
	}
	r, err := fl.lowerExpr(e.Y)
	if err != nil {
		return Value{}, err
	}
	if e.Op.IsComparison() {
		return fl.Compare(pos, e.Op, l, r)
	}
	return fl.BinaryOp(pos, e.Op, t, l, r)
}

// shortCircuit evaluates the right operand only when the left one does
// not decide the result.
func (fl *FuncLowerer) shortCircuit(e *ast.Expr) (Value, error) {
	and := e.Op == ast.OpAndAnd
	lhs, err := fl.lowerCond(e.X)
	if err != nil {
		return Value{}, err
	}
	from := fl.cur
	prefix := "or"
	if and {
		prefix = "and"
	}
	rhsB, end := fl.newBlock(prefix+".rhs"), fl.newBlock(prefix+".end")
	if and {
		fl.cur.NewCondBr(lhs, rhsB, end)
	} else {
		fl.cur.NewCondBr(lhs, end, rhsB)
	}
	fl.cur = rhsB
	rhs, err := fl.lowerCond(e.Y)
	if err != nil {
		return Value{}, err
	}
	rhsEnd := fl.cur
	fl.cur.NewBr(end)
	fl.cur = end
	phi := fl.cur.NewPhi(ir.NewIncoming(constant.NewBool(!and), from), ir.NewIncoming(rhs, rhsEnd))
	return fl.boolResult(phi), nil
}

func (fl *FuncLowerer) lowerCallExpr(pos source.Pos, e *ast.Expr) (Value, error) {
	var callee Callee
	if e.Func.IsValid() {
		rec, err := fl.c.Resolve(FuncDecl(e.Func))
		if err != nil {
			return Value{}, err
		}
		fn := fl.c.Module.Func(e.Func)
		callee = Callee{Fn: fl.c.typeOf(fn.Type), Direct: rec.Func(), HasContext: fn.HasContext()}
		if callee.HasContext {
			if callee.Context, err = fl.contextOf(pos, e.X); err != nil {
				return Value{}, err
			}
		}
	} else {
		cv, err := fl.lowerExpr(e.X)
		if err != nil {
			return Value{}, err
		}
		x, err := fl.rvalue(cv)
		if err != nil {
			return Value{}, err
		}
		switch fl.c.Types.Kind(cv.Type) {
		case types.KindDelegate:
			callee = Callee{
				Fn:         fl.c.Types.Elem(cv.Type),
				Ptr:        fl.cur.NewExtractValue(x, 1),
				Context:    fl.cur.NewExtractValue(x, 0),
				HasContext: true,
			}
		case types.KindPointer:
			callee = Callee{Fn: fl.c.Types.Elem(cv.Type), Ptr: x}
		default:
			return Value{}, conversionf(pos, "cannot call a value of type %s", fl.c.Types.String(cv.Type))
		}
	}
	args := make([]Value, len(e.Args))
	for i, a := range e.Args {
		v, err := fl.lowerExpr(a)
		if err != nil {
			return Value{}, err
		}
		args[i] = v
	}
	res, _, err := fl.LowerCall(pos, callee, args)
	return res, err
}

// contextOf evaluates the object a method is called on. Without an
// explicit object the current method's this is used.
func (fl *FuncLowerer) contextOf(pos source.Pos, obj ast.ExprID) (value.Value, error) {
	v, ok := fl.locals[fl.fn.This]
	if obj.IsValid() {
		var err error
		if v, err = fl.lowerExpr(obj); err != nil {
			return nil, err
		}
	} else if !ok || !fl.fn.This.IsValid() {
		return nil, internalf("expr", pos, "no object for a method call in %s", fl.fn.Name)
	}
	if fl.c.Types.Kind(v.Type) == types.KindStruct {
		lv, err := fl.MakeLValue(pos, v)
		if err != nil {
			return nil, err
		}
		return lv.V, nil
	}
	return fl.rvalue(v)
}

func (fl *FuncLowerer) lowerNew(pos source.Pos, e *ast.Expr, t types.TypeID) (Value, error) {
	in := fl.c.Types
	switch in.Kind(t) {
	case types.KindSlice:
		n, err := fl.lowerExpr(e.X)
		if err != nil {
			return Value{}, err
		}
		return fl.AllocateArray(pos, in.Elem(t), n)
	case types.KindClass:
		obj, err := fl.AllocateHeap(pos, t)
		if err != nil {
			return Value{}, err
		}
		if !e.Func.IsValid() {
			return obj, nil
		}
		rec, err := fl.c.Resolve(FuncDecl(e.Func))
		if err != nil {
			return Value{}, err
		}
		ctor := fl.c.Module.Func(e.Func)
		args := make([]Value, len(e.Args))
		for i, a := range e.Args {
			if args[i], err = fl.lowerExpr(a); err != nil {
				return Value{}, err
			}
		}
		callee := Callee{Fn: fl.c.typeOf(ctor.Type), Direct: rec.Func(), Context: obj.V, HasContext: true}
		if _, _, err := fl.LowerCall(pos, callee, args); err != nil {
			return Value{}, err
		}
		return obj, nil
	case types.KindPointer:
		elem := in.Elem(t)
		p, err := fl.AllocateHeap(pos, elem)
		if err != nil {
			return Value{}, err
		}
		if e.X.IsValid() {
			x, err := fl.lowerExpr(e.X)
			if err != nil {
				return Value{}, err
			}
			conv, err := fl.Convert(pos, x, elem)
			if err != nil {
				return Value{}, err
			}
			init, err := fl.rvalue(conv)
			if err != nil {
				return Value{}, err
			}
			fl.cur.NewStore(init, p.V)
		}
		p.Type = t
		return p, nil
	}
	return Value{}, conversionf(pos, "cannot allocate a value of type %s", in.String(t))
}

func (fl *FuncLowerer) lowerMember(pos source.Pos, e *ast.Expr, t types.TypeID) (Value, error) {
	in := fl.c.Types
	x, err := fl.lowerExpr(e.X)
	if err != nil {
		return Value{}, err
	}
	idx := e.Field
	switch k := in.Kind(x.Type); k {
	case types.KindSlice, types.KindDelegate, types.KindComplex:
		if idx != 0 && idx != 1 {
			return Value{}, internalf("expr", pos, "%s has no part %d", k, idx)
		}
		irT, err := fl.irType(t)
		if err != nil {
			return Value{}, err
		}
		if x.LValue {
			whole, err := fl.irType(x.Type)
			if err != nil {
				return Value{}, err
			}
			zero := constant.NewInt(irtypes.I32, 0)
			addr := fl.cur.NewGetElementPtr(whole, x.V, zero, constant.NewInt(irtypes.I32, int64(idx)))
			return Value{V: fl.castTo(addr, irtypes.NewPointer(irT)), Type: t, LValue: true}, nil
		}
		part := fl.cur.NewExtractValue(x.V, uint64(idx))
		return rvalueOf(fl.castTo(part, irT), t), nil
	case types.KindStruct:
		lv, err := fl.MakeLValue(pos, x)
		if err != nil {
			return Value{}, err
		}
		return fl.fieldRef(pos, x.Type, lv.V, lv.Align, idx)
	case types.KindClass:
		obj, err := fl.rvalue(x)
		if err != nil {
			return Value{}, err
		}
		return fl.fieldRef(pos, x.Type, obj, 0, idx)
	case types.KindPointer:
		elem := in.Elem(x.Type)
		if in.Kind(elem) != types.KindStruct {
			break
		}
		p, err := fl.rvalue(x)
		if err != nil {
			return Value{}, err
		}
		return fl.fieldRef(pos, elem, p, 0, idx)
	}
	return Value{}, conversionf(pos, "%s has no members", in.String(x.Type))
}

// fieldRef addresses member idx of the aggregate at base. Members without
// a slot of their own are reached through their byte offset. baseAlign is
// the alignment known for base, 0 when it is the aggregate's own.
func (fl *FuncLowerer) fieldRef(pos source.Pos, aggT types.TypeID, base value.Value, baseAlign uint32, idx int) (Value, error) {
	agg, err := fl.c.Layout.Aggregate(aggT)
	if err != nil {
		return Value{}, internalf("expr", pos, "layout: %v", err)
	}
	info, _ := fl.c.Types.Aggregate(aggT)
	if idx < 0 || idx >= len(info.Fields) {
		return Value{}, internalf("expr", pos, "%s has no field %d", info.Name, idx)
	}
	f := info.Fields[idx]
	fieldIR, err := fl.irType(f.Type)
	if err != nil {
		return Value{}, err
	}
	fl.ensureOpen()
	base = fl.castTo(base, irtypes.NewPointer(agg.IR))
	var addr value.Value
	if slot, ok := agg.FieldSlot(idx); ok {
		zero := constant.NewInt(irtypes.I32, 0)
		addr = fl.cur.NewGetElementPtr(agg.IR, base, zero, constant.NewInt(irtypes.I32, int64(slot)))
	} else {
		raw := fl.castTo(base, irtypes.I8Ptr)
		addr = fl.cur.NewGetElementPtr(irtypes.I8, raw, fl.sizeT(int64(f.Offset)))
	}
	out := Value{V: fl.castTo(addr, irtypes.NewPointer(fieldIR)), Type: f.Type, LValue: true}
	if baseAlign == 0 {
		baseAlign = agg.Align
	}
	if a := offsetAlign(baseAlign, f.Offset); a < fl.c.Layout.IRAlign(fieldIR) {
		out.Align = a
	}
	return out, nil
}

// offsetAlign is the alignment guaranteed at off bytes past an address
// aligned to base.
func offsetAlign(base uint32, off uint64) uint32 {
	a := max(base, 1)
	for a > 1 && off%uint64(a) != 0 {
		a /= 2
	}
	return a
}

func (fl *FuncLowerer) lowerIndex(pos source.Pos, e *ast.Expr, t types.TypeID) (Value, error) {
	in := fl.c.Types
	x, err := fl.lowerExpr(e.X)
	if err != nil {
		return Value{}, err
	}
	iv, err := fl.lowerExpr(e.Y)
	if err != nil {
		return Value{}, err
	}
	conv, err := fl.Convert(pos, iv, fl.sizeTType())
	if err != nil {
		return Value{}, err
	}
	idx, err := fl.rvalue(conv)
	if err != nil {
		return Value{}, err
	}
	elemIR, err := fl.irType(t)
	if err != nil {
		return Value{}, err
	}
	var ptr value.Value
	switch in.Kind(x.Type) {
	case types.KindArray:
		lv, err := fl.MakeLValue(pos, x)
		if err != nil {
			return Value{}, err
		}
		arrIR, err := fl.irType(x.Type)
		if err != nil {
			return Value{}, err
		}
		return Value{V: fl.cur.NewGetElementPtr(arrIR, lv.V, fl.sizeT(0), idx), Type: t, LValue: true, Align: lv.Align}, nil
	case types.KindSlice:
		s, err := fl.rvalue(x)
		if err != nil {
			return Value{}, err
		}
		ptr = fl.cur.NewExtractValue(s, 1)
	case types.KindPointer:
		if ptr, err = fl.rvalue(x); err != nil {
			return Value{}, err
		}
	default:
		return Value{}, conversionf(pos, "cannot index %s", in.String(x.Type))
	}
	base := fl.castTo(ptr, irtypes.NewPointer(elemIR))
	return Value{V: fl.cur.NewGetElementPtr(elemIR, base, idx), Type: t, LValue: true}, nil
}

func (fl *FuncLowerer) lowerUnary(pos source.Pos, e *ast.Expr, t types.TypeID) (Value, error) {
	in := fl.c.Types
	operandT := t
	if e.Kind == ast.ExprNot {
		operandT = in.Builtins().Bool
	}
	x, err := fl.lowerExpr(e.X)
	if err != nil {
		return Value{}, err
	}
	conv, err := fl.Convert(pos, x, operandT)
	if err != nil {
		return Value{}, err
	}
	v, err := fl.rvalue(conv)
	if err != nil {
		return Value{}, err
	}
	fl.ensureOpen()
	b := fl.cur
	switch e.Kind {
	case ast.ExprNot:
		return fl.boolResult(b.NewXor(v, constant.True)), nil
	case ast.ExprCom:
		it, ok := v.Type().(*irtypes.IntType)
		if !ok {
			break
		}
		return rvalueOf(b.NewXor(v, constant.NewInt(it, -1)), t), nil
	case ast.ExprNeg:
		switch in.Kind(t) {
		case types.KindInt:
			return rvalueOf(b.NewSub(constant.NewInt(v.Type().(*irtypes.IntType), 0), v), t), nil
		case types.KindFloat, types.KindImaginary:
			return rvalueOf(b.NewFNeg(v), t), nil
		case types.KindComplex:
			re, im := b.NewFNeg(b.NewExtractValue(v, 0)), b.NewFNeg(b.NewExtractValue(v, 1))
			return rvalueOf(fl.makeComplex(v.Type().(*irtypes.StructType), re, im), t), nil
		}
	}
	return Value{}, conversionf(pos, "operator %s is not defined on %s", e.Kind, in.String(t))
}

// lowerDelegate pairs a context with a method or nested function.
func (fl *FuncLowerer) lowerDelegate(pos source.Pos, e *ast.Expr, t types.TypeID) (Value, error) {
	rec, err := fl.c.Resolve(FuncDecl(e.Func))
	if err != nil {
		return Value{}, err
	}
	ctx, err := fl.contextOf(pos, e.X)
	if err != nil {
		return Value{}, err
	}
	irT, err := fl.irType(t)
	if err != nil {
		return Value{}, err
	}
	st, ok := irT.(*irtypes.StructType)
	if !ok || len(st.Fields) != 2 {
		return Value{}, internalf("expr", pos, "%s is not a delegate type", fl.c.Types.String(t))
	}
	fl.ensureOpen()
	out := fl.cur.NewInsertValue(constant.NewUndef(st), fl.castTo(ctx, irtypes.I8Ptr), 0)
	d := fl.cur.NewInsertValue(out, fl.castTo(rec.Func(), st.Fields[1]), 1)
	return rvalueOf(d, t), nil
}

func (fl *FuncLowerer) unsupported(pos source.Pos, what, kind string) error {
	return &Error{Kind: UnsupportedNode, Component: "lower", Pos: pos, Msg: fmt.Sprintf("%s %q is not supported", what, kind)}
}

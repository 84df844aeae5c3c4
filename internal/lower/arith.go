package lower

import (
	"github.com/llir/llvm/ir/constant"
	irtypes "github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"lowerc/internal/ast"
	"lowerc/internal/source"
	"lowerc/internal/types"
)

// BinaryOp lowers an arithmetic or bitwise operator producing a value of
// type result. Floating operands may mix real, imaginary and complex
// types; each is split into real and imaginary parts and a missing part
// is a known zero that generates no code.
func (fl *FuncLowerer) BinaryOp(pos source.Pos, op ast.Op, result types.TypeID, lhs, rhs Value) (Value, error) {
	in := fl.c.Types
	lk, rk := in.Kind(lhs.Type), in.Kind(rhs.Type)
	if lk == types.KindPointer && (op == ast.OpAdd || op == ast.OpSub) {
		return fl.pointerArith(pos, op, result, lhs, rhs)
	}
	if rk == types.KindPointer && op == ast.OpAdd {
		return fl.pointerArith(pos, op, result, rhs, lhs)
	}
	switch in.Kind(result) {
	case types.KindInt, types.KindBool:
		return fl.intArith(pos, op, result, lhs, rhs)
	case types.KindFloat, types.KindImaginary, types.KindComplex:
		return fl.floatArith(pos, op, result, lhs, rhs)
	}
	return Value{}, conversionf(pos, "operator %s is not defined on %s", op, in.String(result))
}

func (fl *FuncLowerer) intArith(pos source.Pos, op ast.Op, result types.TypeID, lhs, rhs Value) (Value, error) {
	l, err := fl.Convert(pos, lhs, result)
	if err != nil {
		return Value{}, err
	}
	// shift counts keep their own type in the source; the backend needs
	// both operands in the result type
	r, err := fl.Convert(pos, rhs, result)
	if err != nil {
		return Value{}, err
	}
	x, err := fl.rvalue(l)
	if err != nil {
		return Value{}, err
	}
	y, err := fl.rvalue(r)
	if err != nil {
		return Value{}, err
	}
	unsigned := fl.c.Types.IsUnsigned(result) || fl.c.Types.Kind(result) == types.KindBool
	fl.ensureOpen()
	b := fl.cur
	var out value.Value
	switch op {
	case ast.OpAdd:
		out = b.NewAdd(x, y)
	case ast.OpSub:
		out = b.NewSub(x, y)
	case ast.OpMul:
		out = b.NewMul(x, y)
	case ast.OpDiv:
		if unsigned {
			out = b.NewUDiv(x, y)
		} else {
			out = b.NewSDiv(x, y)
		}
	case ast.OpRem:
		if unsigned {
			out = b.NewURem(x, y)
		} else {
			out = b.NewSRem(x, y)
		}
	case ast.OpAnd:
		out = b.NewAnd(x, y)
	case ast.OpOr:
		out = b.NewOr(x, y)
	case ast.OpXor:
		out = b.NewXor(x, y)
	case ast.OpShl:
		out = b.NewShl(x, y)
	case ast.OpShr:
		if unsigned {
			out = b.NewLShr(x, y)
		} else {
			out = b.NewAShr(x, y)
		}
	case ast.OpUShr:
		out = b.NewLShr(x, y)
	default:
		return Value{}, conversionf(pos, "operator %s is not defined on %s", op, fl.c.Types.String(result))
	}
	return rvalueOf(out, result), nil
}

// pointerArith handles ptr+int, ptr-int and ptr-ptr. Offsets are in
// elements; the difference of two pointers is in elements too.
func (fl *FuncLowerer) pointerArith(pos source.Pos, op ast.Op, result types.TypeID, ptr, other Value) (Value, error) {
	in := fl.c.Types
	elem := in.Elem(ptr.Type)
	elemIR, err := fl.irType(elem)
	if err != nil {
		return Value{}, err
	}
	if in.Kind(elem) == types.KindVoid {
		elemIR = irtypes.I8
	}
	p, err := fl.rvalue(ptr)
	if err != nil {
		return Value{}, err
	}
	if in.Kind(other.Type) == types.KindPointer {
		if op != ast.OpSub {
			return Value{}, conversionf(pos, "cannot add two pointers")
		}
		q, err := fl.rvalue(other)
		if err != nil {
			return Value{}, err
		}
		size := fl.c.Layout.IRSize(elemIR)
		if size == 0 {
			size = 1
		}
		fl.ensureOpen()
		b := fl.cur
		sizeT := fl.c.Layout.SizeT()
		diff := b.NewSub(b.NewPtrToInt(p, sizeT), b.NewPtrToInt(q, sizeT))
		var n value.Value = diff
		if size != 1 {
			div := b.NewSDiv(diff, fl.sizeT(int64(size)))
			div.Exact = true
			n = div
		}
		out, err := fl.Convert(pos, rvalueOf(n, fl.ptrdiffType()), result)
		if err != nil {
			return Value{}, err
		}
		return out, nil
	}
	idxV, err := fl.Convert(pos, other, fl.ptrdiffType())
	if err != nil {
		return Value{}, err
	}
	idx, err := fl.rvalue(idxV)
	if err != nil {
		return Value{}, err
	}
	fl.ensureOpen()
	if op == ast.OpSub {
		idx = fl.cur.NewSub(fl.sizeT(0), idx)
	}
	base := fl.castTo(p, irtypes.NewPointer(elemIR))
	moved := fl.cur.NewGetElementPtr(elemIR, base, idx)
	out, err := fl.bitcast(moved, result)
	if err != nil {
		return Value{}, err
	}
	return rvalueOf(out, result), nil
}

func (fl *FuncLowerer) ptrdiffType() types.TypeID {
	b := fl.c.Types.Builtins()
	if fl.c.Target.PtrSize == 4 {
		return b.Int
	}
	return b.Long
}

// parts is a floating value split into real and imaginary components.
// A nil component is a known zero.
type parts struct {
	re, im value.Value
}

func (fl *FuncLowerer) split(pos source.Pos, v Value, ft *irtypes.FloatType) (parts, error) {
	in := fl.c.Types
	x, err := fl.rvalue(v)
	if err != nil {
		return parts{}, err
	}
	fl.ensureOpen()
	switch in.Kind(v.Type) {
	case types.KindFloat:
		return parts{re: fl.floatToFloat(x, ft)}, nil
	case types.KindImaginary:
		return parts{im: fl.floatToFloat(x, ft)}, nil
	case types.KindComplex:
		return parts{
			re: fl.floatToFloat(fl.cur.NewExtractValue(x, 0), ft),
			im: fl.floatToFloat(fl.cur.NewExtractValue(x, 1), ft),
		}, nil
	case types.KindInt, types.KindBool:
		re, err := fl.Convert(pos, rvalueOf(x, v.Type), fl.componentType(ft))
		if err != nil {
			return parts{}, err
		}
		return parts{re: re.V}, nil
	}
	return parts{}, conversionf(pos, "%s is not a numeric type", in.String(v.Type))
}

// componentType maps a backend float type back to a real type.
func (fl *FuncLowerer) componentType(ft *irtypes.FloatType) types.TypeID {
	b := fl.c.Types.Builtins()
	switch ft.Kind {
	case irtypes.FloatKindFloat:
		return b.Float
	case irtypes.FloatKindDouble:
		return b.Double
	}
	return b.Real
}

func (fl *FuncLowerer) floatArith(pos source.Pos, op ast.Op, result types.TypeID, lhs, rhs Value) (Value, error) {
	resIR, err := fl.irType(result)
	if err != nil {
		return Value{}, err
	}
	ft, _ := resIR.(*irtypes.FloatType)
	if st, ok := resIR.(*irtypes.StructType); ok {
		ft = st.Fields[0].(*irtypes.FloatType)
	}
	a, err := fl.split(pos, lhs, ft)
	if err != nil {
		return Value{}, err
	}
	c, err := fl.split(pos, rhs, ft)
	if err != nil {
		return Value{}, err
	}
	var out parts
	switch op {
	case ast.OpAdd:
		out = parts{re: fl.fadd(a.re, c.re), im: fl.fadd(a.im, c.im)}
	case ast.OpSub:
		out = parts{re: fl.fsub(a.re, c.re), im: fl.fsub(a.im, c.im)}
	case ast.OpMul:
		// (a+bi)(c+di) = (ac-bd) + (ad+bc)i
		out = parts{
			re: fl.fsub(fl.fmul(a.re, c.re), fl.fmul(a.im, c.im)),
			im: fl.fadd(fl.fmul(a.re, c.im), fl.fmul(a.im, c.re)),
		}
	case ast.OpDiv:
		out = fl.fdivParts(a, c)
	case ast.OpRem:
		if c.im != nil || c.re == nil {
			return Value{}, conversionf(pos, "remainder is only defined for a real divisor")
		}
		out = parts{re: fl.frem(a.re, c.re), im: fl.frem(a.im, c.re)}
	default:
		return Value{}, conversionf(pos, "operator %s is not defined on %s", op, fl.c.Types.String(result))
	}
	zero := constant.NewFloat(ft, 0)
	orZero := func(v value.Value) value.Value {
		if v == nil {
			return zero
		}
		return v
	}
	switch fl.c.Types.Kind(result) {
	case types.KindFloat:
		return rvalueOf(orZero(out.re), result), nil
	case types.KindImaginary:
		return rvalueOf(orZero(out.im), result), nil
	}
	return rvalueOf(fl.makeComplex(resIR.(*irtypes.StructType), orZero(out.re), orZero(out.im)), result), nil
}

// fdivParts divides a by c. A purely real or purely imaginary divisor
// divides component-wise; otherwise the textbook formula is used.
func (fl *FuncLowerer) fdivParts(a, c parts) parts {
	switch {
	case c.im == nil:
		return parts{re: fl.fdiv(a.re, c.re), im: fl.fdiv(a.im, c.re)}
	case c.re == nil:
		// (x+yi)/(di) = y/d - (x/d)i
		return parts{re: fl.fdiv(a.im, c.im), im: fl.fneg(fl.fdiv(a.re, c.im))}
	}
	// ((xc+yd) + (yc-xd)i) / (c²+d²)
	den := fl.fadd(fl.fmul(c.re, c.re), fl.fmul(c.im, c.im))
	re := fl.fadd(fl.fmul(a.re, c.re), fl.fmul(a.im, c.im))
	im := fl.fsub(fl.fmul(a.im, c.re), fl.fmul(a.re, c.im))
	return parts{re: fl.fdiv(re, den), im: fl.fdiv(im, den)}
}

func (fl *FuncLowerer) fadd(x, y value.Value) value.Value {
	switch {
	case x == nil:
		return y
	case y == nil:
		return x
	}
	return fl.cur.NewFAdd(x, y)
}

func (fl *FuncLowerer) fsub(x, y value.Value) value.Value {
	switch {
	case y == nil:
		return x
	case x == nil:
		return fl.fneg(y)
	}
	return fl.cur.NewFSub(x, y)
}

func (fl *FuncLowerer) fmul(x, y value.Value) value.Value {
	if x == nil || y == nil {
		return nil
	}
	return fl.cur.NewFMul(x, y)
}

func (fl *FuncLowerer) fdiv(x, y value.Value) value.Value {
	if x == nil || y == nil {
		return nil
	}
	return fl.cur.NewFDiv(x, y)
}

func (fl *FuncLowerer) frem(x, y value.Value) value.Value {
	if x == nil || y == nil {
		return nil
	}
	return fl.cur.NewFRem(x, y)
}

func (fl *FuncLowerer) fneg(x value.Value) value.Value {
	if x == nil {
		return nil
	}
	return fl.cur.NewFNeg(x)
}

package lower

import (
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	irtypes "github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"lowerc/internal/ast"
	"lowerc/internal/source"
	"lowerc/internal/types"
)

// ICmpPredicate maps a relational operator onto an integer predicate.
// Leg and Unord have a fixed answer on integers: isConst is set and the
// answer is returned.
func ICmpPredicate(op ast.Op, unsigned bool) (pred enum.IPred, answer, isConst bool) {
	pick := func(s, u enum.IPred) enum.IPred {
		if unsigned {
			return u
		}
		return s
	}
	switch op {
	case ast.OpLt, ast.OpUl:
		return pick(enum.IPredSLT, enum.IPredULT), false, false
	case ast.OpLe, ast.OpUle:
		return pick(enum.IPredSLE, enum.IPredULE), false, false
	case ast.OpGt, ast.OpUg:
		return pick(enum.IPredSGT, enum.IPredUGT), false, false
	case ast.OpGe, ast.OpUge:
		return pick(enum.IPredSGE, enum.IPredUGE), false, false
	case ast.OpEq, ast.OpUe, ast.OpIs:
		return enum.IPredEQ, false, false
	case ast.OpNe, ast.OpLg, ast.OpNotIs:
		return enum.IPredNE, false, false
	case ast.OpLeg:
		return 0, true, true
	case ast.OpUnord:
		return 0, false, true
	}
	return enum.IPredEQ, false, false
}

// FCmpPredicate maps a relational operator onto a floating predicate.
// The unordered variants (!<>= and friends) are true when either side is
// NaN.
func FCmpPredicate(op ast.Op) enum.FPred {
	switch op {
	case ast.OpLt:
		return enum.FPredOLT
	case ast.OpLe:
		return enum.FPredOLE
	case ast.OpGt:
		return enum.FPredOGT
	case ast.OpGe:
		return enum.FPredOGE
	case ast.OpUnord:
		return enum.FPredUNO
	case ast.OpUle:
		return enum.FPredULE
	case ast.OpUl:
		return enum.FPredULT
	case ast.OpUge:
		return enum.FPredUGE
	case ast.OpUg:
		return enum.FPredUGT
	case ast.OpUe:
		return enum.FPredUEQ
	case ast.OpLg:
		return enum.FPredONE
	case ast.OpLeg:
		return enum.FPredORD
	case ast.OpEq:
		return enum.FPredOEQ
	case ast.OpNe:
		return enum.FPredUNE
	}
	return enum.FPredFalse
}

func (fl *FuncLowerer) boolResult(v value.Value) Value {
	return rvalueOf(v, fl.c.Types.Builtins().Bool)
}

// operands brings lhs and rhs to one backend type for comparison.
func (fl *FuncLowerer) operands(pos source.Pos, lhs, rhs Value) (value.Value, value.Value, error) {
	if fl.c.Types.Kind(lhs.Type) == types.KindInt && fl.c.Types.Kind(rhs.Type) == types.KindInt &&
		!fl.c.Types.SameUnqualified(lhs.Type, rhs.Type) {
		conv, err := fl.Convert(pos, rhs, lhs.Type)
		if err != nil {
			return nil, nil, err
		}
		rhs = conv
	}
	x, err := fl.rvalue(lhs)
	if err != nil {
		return nil, nil, err
	}
	y, err := fl.rvalue(rhs)
	if err != nil {
		return nil, nil, err
	}
	fl.ensureOpen()
	if _, isPtr := x.Type().(*irtypes.PointerType); isPtr {
		y = fl.castTo(y, x.Type())
	}
	return x, y, nil
}

// NumericEquals lowers ==, !=, is and !is. Floating == is ordered and !=
// unordered, so NaN is unequal to everything; is compares bits. Complex
// and two-word values compare part-wise: all parts for ==, any part for
// !=.
func (fl *FuncLowerer) NumericEquals(pos source.Pos, op ast.Op, lhs, rhs Value) (Value, error) {
	in := fl.c.Types
	eq := op == ast.OpEq || op == ast.OpIs
	identity := op == ast.OpIs || op == ast.OpNotIs
	if !op.IsEquality() {
		return Value{}, internalf("compare", pos, "%s is not an equality operator", op)
	}
	lk, rk := in.Kind(lhs.Type), in.Kind(rhs.Type)
	if lk == types.KindComplex || rk == types.KindComplex ||
		(isFloatKind(lk) && isFloatKind(rk) && lk != rk) {
		return fl.complexEquals(pos, op, lhs, rhs)
	}
	x, y, err := fl.operands(pos, lhs, rhs)
	if err != nil {
		return Value{}, err
	}
	b := fl.cur
	switch lk {
	case types.KindFloat, types.KindImaginary:
		if identity {
			ft := x.Type().(*irtypes.FloatType)
			it := irtypes.NewInt(uint64(fl.c.Layout.IRSize(ft) * 8))
			if ft.Kind == irtypes.FloatKindX86_FP80 {
				it = irtypes.NewInt(80)
			}
			return fl.boolResult(b.NewICmp(eqPred(eq), b.NewBitCast(x, it), b.NewBitCast(y, it))), nil
		}
		return fl.boolResult(b.NewFCmp(FCmpPredicate(op), x, y)), nil
	case types.KindBool, types.KindInt, types.KindPointer, types.KindClass, types.KindInterface:
		return fl.boolResult(b.NewICmp(eqPred(eq), x, y)), nil
	case types.KindDelegate, types.KindSlice:
		if lk == types.KindSlice && !identity {
			return Value{}, conversionf(pos, "array equality needs a runtime comparison")
		}
		p0 := b.NewICmp(eqPred(eq), b.NewExtractValue(x, 0), b.NewExtractValue(y, 0))
		p1 := b.NewICmp(eqPred(eq), b.NewExtractValue(x, 1), fl.castTo(b.NewExtractValue(y, 1), x.Type().(*irtypes.StructType).Fields[1]))
		return fl.boolResult(fl.combine(eq, p0, p1)), nil
	}
	return Value{}, conversionf(pos, "cannot compare %s with %s", in.String(lhs.Type), in.String(rhs.Type))
}

func isFloatKind(k types.Kind) bool {
	return k == types.KindFloat || k == types.KindImaginary || k == types.KindComplex
}

func eqPred(eq bool) enum.IPred {
	if eq {
		return enum.IPredEQ
	}
	return enum.IPredNE
}

func (fl *FuncLowerer) combine(eq bool, x, y value.Value) value.Value {
	if eq {
		return fl.cur.NewAnd(x, y)
	}
	return fl.cur.NewOr(x, y)
}

// complexEquals compares mixed real/imaginary/complex operands as complex
// numbers of the wider component type.
func (fl *FuncLowerer) complexEquals(pos source.Pos, op ast.Op, lhs, rhs Value) (Value, error) {
	ct := fl.widerComplex(lhs.Type, rhs.Type)
	ctIR, err := fl.irType(ct)
	if err != nil {
		return Value{}, err
	}
	ft := ctIR.(*irtypes.StructType).Fields[0].(*irtypes.FloatType)
	a, err := fl.split(pos, lhs, ft)
	if err != nil {
		return Value{}, err
	}
	c, err := fl.split(pos, rhs, ft)
	if err != nil {
		return Value{}, err
	}
	zero := constant.NewFloat(ft, 0)
	orZero := func(v value.Value) value.Value {
		if v == nil {
			return zero
		}
		return v
	}
	eq := op == ast.OpEq || op == ast.OpIs
	pred := enum.FPredOEQ
	if !eq {
		pred = enum.FPredUNE
	}
	b := fl.cur
	re := b.NewFCmp(pred, orZero(a.re), orZero(c.re))
	im := b.NewFCmp(pred, orZero(a.im), orZero(c.im))
	return fl.boolResult(fl.combine(eq, re, im)), nil
}

func (fl *FuncLowerer) widerComplex(a, b types.TypeID) types.TypeID {
	in := fl.c.Types
	wa, wb := in.MustLookup(a).Width, in.MustLookup(b).Width
	if !isFloatKind(in.Kind(a)) {
		wa = 0
	}
	if !isFloatKind(in.Kind(b)) {
		wb = 0
	}
	return in.Intern(types.MakeComplex(max(wa, wb)))
}

// Compare lowers relational operators, including the unordered forms.
func (fl *FuncLowerer) Compare(pos source.Pos, op ast.Op, lhs, rhs Value) (Value, error) {
	in := fl.c.Types
	if op.IsEquality() {
		return fl.NumericEquals(pos, op, lhs, rhs)
	}
	if !op.IsRelational() {
		return Value{}, internalf("compare", pos, "%s is not a comparison", op)
	}
	lk := in.Kind(lhs.Type)
	switch lk {
	case types.KindFloat, types.KindImaginary:
		if rk := in.Kind(rhs.Type); rk != lk {
			return Value{}, conversionf(pos, "cannot order %s against %s", in.String(lhs.Type), in.String(rhs.Type))
		}
		x, y, err := fl.operands(pos, lhs, rhs)
		if err != nil {
			return Value{}, err
		}
		return fl.boolResult(fl.cur.NewFCmp(FCmpPredicate(op), x, y)), nil
	case types.KindInt, types.KindBool, types.KindPointer, types.KindClass:
		pred, answer, isConst := ICmpPredicate(op, in.IsUnsigned(lhs.Type) || lk != types.KindInt)
		if isConst {
			return fl.boolResult(constant.NewBool(answer)), nil
		}
		x, y, err := fl.operands(pos, lhs, rhs)
		if err != nil {
			return Value{}, err
		}
		return fl.boolResult(fl.cur.NewICmp(pred, x, y)), nil
	}
	return Value{}, conversionf(pos, "cannot order values of type %s", in.String(lhs.Type))
}

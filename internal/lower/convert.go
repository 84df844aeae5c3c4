package lower

import (
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	irtypes "github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"lowerc/internal/source"
	"lowerc/internal/types"
)

// Convert lowers a value-changing cast of v to type to. Conversions the
// type checker should have rejected fail with InvalidConversion.
func (fl *FuncLowerer) Convert(pos source.Pos, v Value, to types.TypeID) (Value, error) {
	in := fl.c.Types
	from := v.Type
	if in.SameUnqualified(from, to) {
		return fl.Paint(pos, v, to)
	}
	fk, tk := in.Kind(from), in.Kind(to)
	if tk == types.KindVoid {
		return Value{Type: to}, nil
	}
	// static arrays convert through their address
	if fk == types.KindArray && (tk == types.KindSlice || tk == types.KindPointer) {
		return fl.arrayToSliceOrPtr(pos, v, to)
	}
	x, err := fl.rvalue(v)
	if err != nil {
		return Value{}, err
	}
	toIR, err := fl.irType(to)
	if err != nil {
		return Value{}, err
	}
	fl.ensureOpen()
	out, err := fl.convertValue(pos, x, from, to, toIR)
	if err != nil {
		return Value{}, err
	}
	return rvalueOf(out, to), nil
}

func (fl *FuncLowerer) convertValue(pos source.Pos, x value.Value, from, to types.TypeID, toIR irtypes.Type) (value.Value, error) {
	in := fl.c.Types
	fk, tk := in.Kind(from), in.Kind(to)
	b := fl.cur
	switch {
	case tk == types.KindBool:
		return fl.toBool(pos, x, from)

	case isIntLike(fk) && tk == types.KindInt:
		return fl.intToInt(x, !in.IsUnsigned(from) && fk != types.KindBool, toIR.(*irtypes.IntType)), nil

	case isIntLike(fk) && tk == types.KindFloat:
		if in.IsUnsigned(from) || fk == types.KindBool {
			return b.NewUIToFP(x, toIR), nil
		}
		return b.NewSIToFP(x, toIR), nil

	case fk == types.KindFloat && tk == types.KindInt:
		if in.IsUnsigned(to) {
			return b.NewFPToUI(x, toIR), nil
		}
		return b.NewFPToSI(x, toIR), nil

	case fk == types.KindFloat && tk == types.KindFloat,
		fk == types.KindImaginary && tk == types.KindImaginary:
		return fl.floatToFloat(x, toIR.(*irtypes.FloatType)), nil

	case fk == types.KindFloat && tk == types.KindImaginary,
		fk == types.KindImaginary && tk == types.KindFloat:
		if !irtypes.Equal(x.Type(), toIR) {
			return nil, conversionf(pos, "cannot convert %s to %s: component widths differ", in.String(from), in.String(to))
		}
		return x, nil

	case tk == types.KindComplex:
		return fl.toComplex(pos, x, from, toIR.(*irtypes.StructType))

	case fk == types.KindComplex:
		return fl.fromComplex(pos, x, from, to, toIR)

	case fk == types.KindPointer && tk == types.KindPointer:
		return fl.castTo(x, toIR), nil

	case fk == types.KindPointer && tk == types.KindInt:
		asInt := b.NewPtrToInt(x, fl.c.Layout.SizeT())
		return fl.intToInt(asInt, false, toIR.(*irtypes.IntType)), nil

	case fk == types.KindInt && tk == types.KindPointer:
		wide := fl.intToInt(x, !in.IsUnsigned(from), fl.c.Layout.SizeT())
		return b.NewIntToPtr(wide, toIR), nil

	case fk == types.KindClass && tk == types.KindClass:
		if in.IsBaseClass(to, from) {
			return fl.castTo(x, toIR), nil
		}
		return fl.dynamicCast(x, to, toIR, fl.c.Target.Runtime.DynamicCast)

	case fk == types.KindClass && tk == types.KindInterface:
		if off, ok := in.InterfaceOffset(from, to); ok {
			return fl.staticInterface(pos, x, off, toIR)
		}
		return fl.dynamicCast(x, to, toIR, fl.c.Target.Runtime.DynamicCast)

	case fk == types.KindInterface && (tk == types.KindClass || tk == types.KindInterface):
		return fl.dynamicCast(x, to, toIR, fl.c.Target.Runtime.InterfaceCast)

	case (fk == types.KindClass || fk == types.KindInterface) && tk == types.KindPointer:
		return fl.castTo(x, toIR), nil

	case fk == types.KindPointer && (tk == types.KindClass || tk == types.KindInterface):
		return fl.castTo(x, toIR), nil

	case fk == types.KindSlice && tk == types.KindSlice:
		return fl.sliceToSlice(pos, x, from, to, toIR.(*irtypes.StructType))

	case fk == types.KindSlice && tk == types.KindPointer:
		return fl.castTo(b.NewExtractValue(x, 1), toIR), nil

	case fk == types.KindDelegate && tk == types.KindDelegate:
		st := toIR.(*irtypes.StructType)
		ctx := b.NewExtractValue(x, 0)
		fn := fl.castTo(b.NewExtractValue(x, 1), st.Fields[1])
		out := b.NewInsertValue(constant.NewUndef(st), ctx, 0)
		return b.NewInsertValue(out, fn, 1), nil

	case fk == types.KindStruct && tk == types.KindStruct:
		if irtypes.Equal(x.Type(), toIR) {
			return x, nil
		}
	}
	return nil, conversionf(pos, "cannot convert %s to %s", in.String(from), in.String(to))
}

func isIntLike(k types.Kind) bool {
	return k == types.KindInt || k == types.KindBool
}

// intToInt widens (sign- or zero-extending by the source), narrows or
// keeps an integer.
func (fl *FuncLowerer) intToInt(x value.Value, signed bool, to *irtypes.IntType) value.Value {
	from := x.Type().(*irtypes.IntType)
	switch {
	case from.BitSize == to.BitSize:
		return x
	case from.BitSize > to.BitSize:
		return fl.cur.NewTrunc(x, to)
	case signed:
		return fl.cur.NewSExt(x, to)
	}
	return fl.cur.NewZExt(x, to)
}

func (fl *FuncLowerer) floatToFloat(x value.Value, to *irtypes.FloatType) value.Value {
	from := x.Type().(*irtypes.FloatType)
	switch fs, ts := floatRank(from), floatRank(to); {
	case fs == ts:
		return x
	case fs > ts:
		return fl.cur.NewFPTrunc(x, to)
	}
	return fl.cur.NewFPExt(x, to)
}

func floatRank(t *irtypes.FloatType) int {
	switch t.Kind {
	case irtypes.FloatKindHalf:
		return 16
	case irtypes.FloatKindFloat:
		return 32
	case irtypes.FloatKindDouble:
		return 64
	case irtypes.FloatKindX86_FP80:
		return 80
	}
	return 128
}

// toBool compares against the zero of the source type.
func (fl *FuncLowerer) toBool(pos source.Pos, x value.Value, from types.TypeID) (value.Value, error) {
	b := fl.cur
	switch fl.c.Types.Kind(from) {
	case types.KindBool:
		return x, nil
	case types.KindInt:
		return b.NewICmp(enum.IPredNE, x, constant.NewInt(x.Type().(*irtypes.IntType), 0)), nil
	case types.KindFloat, types.KindImaginary:
		return b.NewFCmp(enum.FPredUNE, x, constant.NewFloat(x.Type().(*irtypes.FloatType), 0)), nil
	case types.KindComplex:
		re, im := b.NewExtractValue(x, 0), b.NewExtractValue(x, 1)
		ft := re.Type().(*irtypes.FloatType)
		zero := constant.NewFloat(ft, 0)
		return b.NewOr(b.NewFCmp(enum.FPredUNE, re, zero), b.NewFCmp(enum.FPredUNE, im, zero)), nil
	case types.KindPointer, types.KindClass, types.KindInterface:
		return b.NewICmp(enum.IPredNE, x, constant.NewNull(x.Type().(*irtypes.PointerType))), nil
	case types.KindSlice:
		n := b.NewExtractValue(x, 0)
		return b.NewICmp(enum.IPredNE, n, constant.NewInt(n.Type().(*irtypes.IntType), 0)), nil
	case types.KindDelegate:
		fn := b.NewExtractValue(x, 1)
		return b.NewICmp(enum.IPredNE, fn, constant.NewNull(fn.Type().(*irtypes.PointerType))), nil
	}
	return nil, conversionf(pos, "cannot convert %s to bool", fl.c.Types.String(from))
}

// toComplex builds a complex from a real, imaginary, integer or complex.
func (fl *FuncLowerer) toComplex(pos source.Pos, x value.Value, from types.TypeID, to *irtypes.StructType) (value.Value, error) {
	ft := to.Fields[0].(*irtypes.FloatType)
	zero := constant.NewFloat(ft, 0)
	var re, im value.Value = zero, zero
	b := fl.cur
	switch fl.c.Types.Kind(from) {
	case types.KindInt, types.KindBool:
		if fl.c.Types.IsUnsigned(from) || fl.c.Types.Kind(from) == types.KindBool {
			re = b.NewUIToFP(x, ft)
		} else {
			re = b.NewSIToFP(x, ft)
		}
	case types.KindFloat:
		re = fl.floatToFloat(x, ft)
	case types.KindImaginary:
		im = fl.floatToFloat(x, ft)
	case types.KindComplex:
		re = fl.floatToFloat(b.NewExtractValue(x, 0), ft)
		im = fl.floatToFloat(b.NewExtractValue(x, 1), ft)
	default:
		return nil, conversionf(pos, "cannot convert %s to a complex", fl.c.Types.String(from))
	}
	return fl.makeComplex(to, re, im), nil
}

func (fl *FuncLowerer) makeComplex(t *irtypes.StructType, re, im value.Value) value.Value {
	if kr, ok := re.(constant.Constant); ok {
		if ki, ok := im.(constant.Constant); ok {
			return constant.NewStruct(t, kr, ki)
		}
	}
	out := fl.cur.NewInsertValue(constant.NewUndef(t), re, 0)
	return fl.cur.NewInsertValue(out, im, 1)
}

// fromComplex narrows a complex to one of its parts or to an integer.
func (fl *FuncLowerer) fromComplex(pos source.Pos, x value.Value, from, to types.TypeID, toIR irtypes.Type) (value.Value, error) {
	b := fl.cur
	switch fl.c.Types.Kind(to) {
	case types.KindFloat:
		return fl.floatToFloat(b.NewExtractValue(x, 0), toIR.(*irtypes.FloatType)), nil
	case types.KindImaginary:
		return fl.floatToFloat(b.NewExtractValue(x, 1), toIR.(*irtypes.FloatType)), nil
	case types.KindInt:
		re := b.NewExtractValue(x, 0)
		if fl.c.Types.IsUnsigned(to) {
			return b.NewFPToUI(re, toIR), nil
		}
		return b.NewFPToSI(re, toIR), nil
	}
	return nil, conversionf(pos, "cannot convert %s to %s", fl.c.Types.String(from), fl.c.Types.String(to))
}

// staticInterface offsets a non-null class reference to the interface
// vtbl pointer it embeds. Null stays null.
func (fl *FuncLowerer) staticInterface(pos source.Pos, x value.Value, off uint64, toIR irtypes.Type) (value.Value, error) {
	delta, err := fl.sizeConst(pos, off)
	if err != nil {
		return nil, err
	}
	b := fl.cur
	raw := fl.castTo(x, irtypes.I8Ptr)
	moved := b.NewGetElementPtr(irtypes.I8, raw, delta)
	typed := fl.castTo(moved, toIR)
	isNull := b.NewICmp(enum.IPredEQ, x, constant.NewNull(x.Type().(*irtypes.PointerType)))
	return b.NewSelect(isNull, constant.NewNull(toIR.(*irtypes.PointerType)), typed), nil
}

// dynamicCast asks the runtime whether the object converts to class or
// interface to; the runtime returns null when it does not.
func (fl *FuncLowerer) dynamicCast(x value.Value, to types.TypeID, toIR irtypes.Type, fn string) (value.Value, error) {
	ci, err := fl.c.classInfo(to)
	if err != nil {
		return nil, err
	}
	cast, err := fl.c.runtimeFunc(fn, irtypes.I8Ptr, irtypes.I8Ptr, irtypes.I8Ptr)
	if err != nil {
		return nil, err
	}
	res, err := fl.emitCall(cast, []value.Value{fl.castTo(x, irtypes.I8Ptr), ci}, enum.CallingConvNone)
	if err != nil {
		return nil, err
	}
	return fl.castTo(res, toIR), nil
}

// sliceToSlice reinterprets the element type, rescaling the length when
// element sizes differ.
func (fl *FuncLowerer) sliceToSlice(pos source.Pos, x value.Value, from, to types.TypeID, toIR *irtypes.StructType) (value.Value, error) {
	in := fl.c.Types
	fs, err := fl.c.Layout.SizeOf(in.Elem(from))
	if err != nil {
		return nil, internalf("convert", pos, "size of %s: %v", in.String(in.Elem(from)), err)
	}
	ts, err := fl.c.Layout.SizeOf(in.Elem(to))
	if err != nil {
		return nil, internalf("convert", pos, "size of %s: %v", in.String(in.Elem(to)), err)
	}
	b := fl.cur
	length := value.Value(b.NewExtractValue(x, 0))
	if fs != ts {
		if ts == 0 {
			return nil, conversionf(pos, "cannot convert %s to %s", in.String(from), in.String(to))
		}
		fsK, err := fl.sizeConst(pos, fs)
		if err != nil {
			return nil, err
		}
		tsK, err := fl.sizeConst(pos, ts)
		if err != nil {
			return nil, err
		}
		length = b.NewUDiv(b.NewMul(length, fsK), tsK)
	}
	ptr := fl.castTo(b.NewExtractValue(x, 1), toIR.Fields[1])
	out := b.NewInsertValue(constant.NewUndef(toIR), length, 0)
	return b.NewInsertValue(out, ptr, 1), nil
}

func (fl *FuncLowerer) arrayToSliceOrPtr(pos source.Pos, v Value, to types.TypeID) (Value, error) {
	lv, err := fl.MakeLValue(pos, v)
	if err != nil {
		return Value{}, err
	}
	arrT := fl.c.Types.MustLookup(v.Type)
	arrIR, err := fl.irType(v.Type)
	if err != nil {
		return Value{}, err
	}
	toIR, err := fl.irType(to)
	if err != nil {
		return Value{}, err
	}
	fl.ensureOpen()
	zero := constant.NewInt(irtypes.I32, 0)
	first := fl.cur.NewGetElementPtr(arrIR, lv.V, zero, zero)
	if fl.c.Types.Kind(to) == types.KindPointer {
		return rvalueOf(fl.castTo(first, toIR), to), nil
	}
	st := toIR.(*irtypes.StructType)
	out := fl.cur.NewInsertValue(constant.NewUndef(st), fl.sizeT(int64(arrT.Count)), 0)
	slice := fl.cur.NewInsertValue(out, fl.castTo(first, st.Fields[1]), 1)
	return rvalueOf(slice, to), nil
}

// Paint retags v as type to without changing its bits. Types with the
// same representation keep the backend value; pointers are bitcast.
// Anything else goes through Convert.
func (fl *FuncLowerer) Paint(pos source.Pos, v Value, to types.TypeID) (Value, error) {
	fromIR, err := fl.irType(v.Type)
	if err != nil {
		return Value{}, err
	}
	toIR, err := fl.irType(to)
	if err != nil {
		return Value{}, err
	}
	if irtypes.Equal(fromIR, toIR) {
		v.Type = to
		return v, nil
	}
	_, fromPtr := fromIR.(*irtypes.PointerType)
	_, toPtr := toIR.(*irtypes.PointerType)
	if !fromPtr || !toPtr {
		return fl.Convert(pos, v, to)
	}
	fl.ensureOpen()
	if v.LValue {
		addr := fl.castTo(v.V, irtypes.NewPointer(toIR))
		return Value{V: addr, Type: to, LValue: true, Storage: v.Storage, Align: v.Align}, nil
	}
	return rvalueOf(fl.castTo(v.V, toIR), to), nil
}

// MakeLValue gives v an address, spilling rvalues into a fresh stack slot.
func (fl *FuncLowerer) MakeLValue(pos source.Pos, v Value) (Value, error) {
	if v.LValue {
		return v, nil
	}
	if v.IsVoid() {
		return Value{}, internalf("convert", pos, "void value has no address")
	}
	slot, err := fl.AllocateStack(v.Type, "tmp")
	if err != nil {
		return Value{}, err
	}
	fl.ensureOpen()
	fl.cur.NewStore(v.V, slot)
	return lvalueOf(slot, v.Type), nil
}

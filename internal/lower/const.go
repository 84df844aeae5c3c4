package lower

import (
	"math"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	irtypes "github.com/llir/llvm/ir/types"

	"lowerc/internal/ast"
	"lowerc/internal/layout"
	"lowerc/internal/source"
	"lowerc/internal/types"
)

// DefaultInit returns the default value of t: zero for integers and
// references, NaN for floating types, member-wise for aggregates.
func (c *Context) DefaultInit(t types.TypeID) (constant.Constant, error) {
	irT, err := c.irType(t)
	if err != nil {
		return nil, err
	}
	switch c.Types.Kind(t) {
	case types.KindBool:
		return constant.False, nil
	case types.KindInt:
		return constant.NewInt(irT.(*irtypes.IntType), 0), nil
	case types.KindFloat, types.KindImaginary:
		return constant.NewFloat(irT.(*irtypes.FloatType), math.NaN()), nil
	case types.KindComplex:
		st := irT.(*irtypes.StructType)
		nan := constant.NewFloat(st.Fields[0].(*irtypes.FloatType), math.NaN())
		return constant.NewStruct(st, nan, nan), nil
	case types.KindPointer, types.KindClass, types.KindInterface:
		return constant.NewNull(irT.(*irtypes.PointerType)), nil
	case types.KindSlice, types.KindDelegate:
		return constant.NewZeroInitializer(irT), nil
	case types.KindArray:
		tt := c.Types.MustLookup(t)
		elem, err := c.DefaultInit(tt.Elem)
		if err != nil {
			return nil, err
		}
		if isZeroConst(elem) {
			return constant.NewZeroInitializer(irT), nil
		}
		elems := make([]constant.Constant, tt.Count)
		for i := range elems {
			elems[i] = elem
		}
		return constant.NewArray(irT.(*irtypes.ArrayType), elems...), nil
	case types.KindStruct:
		return c.instanceInit(t, nil)
	}
	return nil, internalf("const", source.Pos{}, "no default value for %s", c.Types.String(t))
}

// instanceInit builds the initializer of a struct or class instance.
// vtbl, when given, fills the class vtable pointer.
func (c *Context) instanceInit(t types.TypeID, vtbl *ir.Global) (constant.Constant, error) {
	agg, err := c.Layout.Aggregate(t)
	if err != nil {
		return nil, internalf("const", source.Pos{}, "layout of %s: %v", c.Types.String(t), err)
	}
	info, _ := c.Types.Aggregate(t)
	fields := make([]constant.Constant, len(agg.Slots))
	zero := true
	for i, s := range agg.Slots {
		switch {
		case s.Kind == layout.SlotField:
			f, err := c.DefaultInit(info.Fields[s.Field].Type)
			if err != nil {
				return nil, err
			}
			fields[i] = f
		case s.Kind == layout.SlotVPtr && vtbl != nil && c.Types.Kind(t) == types.KindClass:
			fields[i] = constant.NewBitCast(vtbl, s.Type)
		default:
			fields[i] = constant.NewZeroInitializer(s.Type)
		}
		zero = zero && isZeroConst(fields[i])
	}
	if zero {
		return constant.NewZeroInitializer(agg.IR), nil
	}
	return constant.NewStruct(agg.IR, fields...), nil
}

func isZeroConst(k constant.Constant) bool {
	switch k := k.(type) {
	case *constant.ZeroInitializer, *constant.Null:
		return true
	case *constant.Int:
		return k.X.Sign() == 0
	}
	return false
}

// constExpr lowers a static initializer. The frontend folds initializers,
// so only literals, addresses of globals and function symbols remain.
func (c *Context) constExpr(id ast.ExprID, want types.TypeID) (constant.Constant, error) {
	e := c.Module.Expr(id)
	pos := c.pos(e.Line, e.Col)
	switch e.Kind {
	case ast.ExprInt, ast.ExprFloat, ast.ExprBool, ast.ExprNull, ast.ExprString:
		return c.literal(e, want)
	case ast.ExprCast:
		return c.constExpr(e.X, want)
	case ast.ExprAddrOf:
		x := c.Module.Expr(e.X)
		if x.Kind != ast.ExprVar {
			break
		}
		rec, err := c.Resolve(VarDecl(x.Var))
		if err != nil {
			return nil, err
		}
		return c.constCast(rec.Global(), want)
	case ast.ExprFunc:
		rec, err := c.Resolve(FuncDecl(e.Func))
		if err != nil {
			return nil, err
		}
		return c.constCast(rec.Func(), want)
	}
	return nil, internalf("const", pos, "initializer %s is not a constant", e.Kind)
}

func (c *Context) constCast(k constant.Constant, want types.TypeID) (constant.Constant, error) {
	irT, err := c.irType(want)
	if err != nil {
		return nil, err
	}
	if irtypes.Equal(k.Type(), irT) {
		return k, nil
	}
	return constant.NewBitCast(k, irT), nil
}

// literal lowers a literal expression to a constant of type t. The
// literal's own type only matters when t is absent.
func (c *Context) literal(e *ast.Expr, t types.TypeID) (constant.Constant, error) {
	if t == types.NoTypeID {
		t = c.typeOf(e.Type)
	}
	irT, err := c.irType(t)
	if err != nil {
		return nil, err
	}
	pos := c.pos(e.Line, e.Col)
	kind := c.Types.Kind(t)
	switch e.Kind {
	case ast.ExprBool:
		if kind == types.KindBool {
			return constant.NewBool(e.Bool), nil
		}
	case ast.ExprInt:
		switch kind {
		case types.KindBool:
			return constant.NewBool(e.Int != 0), nil
		case types.KindInt:
			return constant.NewInt(irT.(*irtypes.IntType), e.Int), nil
		case types.KindFloat, types.KindImaginary:
			return constant.NewFloat(irT.(*irtypes.FloatType), float64(e.Int)), nil
		}
	case ast.ExprFloat:
		switch kind {
		case types.KindFloat, types.KindImaginary:
			return constant.NewFloat(irT.(*irtypes.FloatType), e.Float), nil
		case types.KindComplex:
			st := irT.(*irtypes.StructType)
			ft := st.Fields[0].(*irtypes.FloatType)
			re, im := constant.NewFloat(ft, e.Float), constant.NewFloat(ft, 0)
			if c.Types.Kind(c.typeOf(e.Type)) == types.KindImaginary {
				re, im = constant.NewFloat(ft, 0), constant.NewFloat(ft, e.Float)
			}
			return constant.NewStruct(st, re, im), nil
		}
	case ast.ExprNull:
		if pt, ok := irT.(*irtypes.PointerType); ok {
			return constant.NewNull(pt), nil
		}
		return constant.NewZeroInitializer(irT), nil
	case ast.ExprString:
		return c.stringConst(pos, e.Str, t)
	}
	return nil, conversionf(pos, "%s literal cannot have type %s", e.Kind, c.Types.String(t))
}

// stringData returns the private NUL-terminated array holding s.
func (c *Context) stringData(s string) *ir.Global {
	if g, ok := c.strings[s]; ok {
		return g
	}
	g := c.IR.NewGlobalDef(c.uniqueName(".str"), constant.NewCharArrayFromString(s+"\x00"))
	g.Linkage = enum.LinkagePrivate
	g.Immutable = true
	c.strings[s] = g
	return g
}

// stringConst is a string literal of type t: a slice for strings, a pointer
// to the first character for C strings.
func (c *Context) stringConst(pos source.Pos, s string, t types.TypeID) (constant.Constant, error) {
	g := c.stringData(s)
	zero := constant.NewInt(irtypes.I64, 0)
	first := constant.NewGetElementPtr(g.ContentType, g, zero, zero)
	irT, err := c.irType(t)
	if err != nil {
		return nil, err
	}
	switch c.Types.Kind(t) {
	case types.KindPointer:
		return constCastTo(first, irT), nil
	case types.KindSlice:
		st := irT.(*irtypes.StructType)
		n := constant.NewInt(c.Layout.SizeT(), int64(len(s)))
		return constant.NewStruct(st, n, constCastTo(first, st.Fields[1])), nil
	}
	return nil, conversionf(pos, "string literal cannot have type %s", c.Types.String(t))
}

func constCastTo(k constant.Constant, t irtypes.Type) constant.Constant {
	if irtypes.Equal(k.Type(), t) {
		return k
	}
	return constant.NewBitCast(k, t)
}

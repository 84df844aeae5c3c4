package lower

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	irtypes "github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"lowerc/internal/layout"
	"lowerc/internal/source"
	"lowerc/internal/target"
	"lowerc/internal/types"
)

// Callee is the thing a call invokes: a known function, or a function
// pointer taken from a variable or a delegate.
type Callee struct {
	Fn         types.TypeID
	Direct     *ir.Func
	Ptr        value.Value
	Context    value.Value // this, frame or delegate context
	HasContext bool
}

// CallAttrs are the attributes of an emitted call, one list per final
// argument (hidden ones included) plus the return.
type CallAttrs struct {
	Ret    []ir.ReturnAttribute
	Params [][]ir.ParamAttribute
}

// LowerCall lowers a call of callee with the already evaluated args.
// Hidden arguments are added in signature order: the result slot, the
// context, then the declared parameters, then the variadic descriptors.
func (fl *FuncLowerer) LowerCall(pos source.Pos, callee Callee, args []Value) (Value, CallAttrs, error) {
	in := fl.c.Types
	sig, err := fl.c.Layout.Signature(callee.Fn, callee.HasContext)
	if err != nil {
		return Value{}, CallAttrs{}, internalf("call", pos, "signature: %v", err)
	}
	declared := len(sig.Info.Params)
	if len(args) < declared || (len(args) > declared && sig.Info.Variadic == types.VariadicNone) {
		return Value{}, CallAttrs{}, internalf("call", pos, "%d arguments for %d parameters", len(args), declared)
	}
	attrs := CallAttrs{Ret: retAttrs(sig.Ret)}
	final := make([]value.Value, 0, len(sig.Params)+len(args)-declared)
	var sretSlot, varArgPtr value.Value
	for _, p := range sig.Params {
		var (
			arg value.Value
			err error
		)
		switch p.Role {
		case layout.RoleSRet:
			sretSlot, err = fl.AllocateStack(sig.Info.Result, "sret")
			arg = sretSlot
		case layout.RoleContext:
			if callee.Context == nil {
				return Value{}, CallAttrs{}, internalf("call", pos, "context argument missing")
			}
			arg = fl.castTo(callee.Context, irtypes.I8Ptr)
		case layout.RoleUser:
			arg, err = fl.passArg(pos, p, sig.Info.Params[p.Index], args[p.Index])
		case layout.RoleArguments:
			arg, varArgPtr, err = fl.marshalVarArgs(pos, args[declared:])
		case layout.RoleArgPtr:
			arg = varArgPtr
		}
		if err != nil {
			return Value{}, CallAttrs{}, err
		}
		final = append(final, arg)
		attrs.Params = append(attrs.Params, paramAttrs(p))
	}
	if sig.Info.Variadic == types.VariadicC {
		for _, extra := range args[declared:] {
			arg, err := fl.promoteCVararg(pos, extra)
			if err != nil {
				return Value{}, CallAttrs{}, err
			}
			final = append(final, arg)
			attrs.Params = append(attrs.Params, nil)
		}
	}

	fnV := value.Value(callee.Direct)
	if callee.Direct == nil {
		if callee.Ptr == nil {
			return Value{}, CallAttrs{}, internalf("call", pos, "call without callee")
		}
		fnV = fl.castTo(callee.Ptr, irtypes.NewPointer(sig.IR))
	}
	conv := enum.CallingConvNone
	if sig.Conv == target.ConvStdCall {
		conv = enum.CallingConvX86StdCall
	}
	res, err := fl.emitCall(fnV, final, conv)
	if err != nil {
		return Value{}, CallAttrs{}, err
	}
	applyCallAttrs(res, attrs)

	switch {
	case sretSlot != nil:
		return lvalueOf(sretSlot, sig.Info.Result), attrs, nil
	case sig.Info.RefReturn:
		return Value{V: res, Type: sig.Info.Result, LValue: true}, attrs, nil
	case in.Kind(sig.Info.Result) == types.KindVoid:
		return Value{Type: sig.Info.Result}, attrs, nil
	}
	return rvalueOf(res, sig.Info.Result), attrs, nil
}

// applyCallAttrs attaches attrs to an emitted call or invoke, position by
// position.
func applyCallAttrs(inst value.Value, attrs CallAttrs) {
	var args []value.Value
	switch inst := inst.(type) {
	case *ir.InstCall:
		inst.ReturnAttrs = attrs.Ret
		args = inst.Args
	case *ir.TermInvoke:
		inst.ReturnAttrs = attrs.Ret
		args = inst.Args
	default:
		return
	}
	for i := range args {
		if i < len(attrs.Params) && len(attrs.Params[i]) > 0 {
			args[i] = ir.NewArg(args[i], attrs.Params[i]...)
		}
	}
}

// passArg produces the backend argument for one declared parameter.
func (fl *FuncLowerer) passArg(pos source.Pos, p layout.IRParam, decl types.Param, arg Value) (value.Value, error) {
	switch {
	case p.ByRef:
		lv, err := fl.MakeLValue(pos, arg)
		if err != nil {
			return nil, err
		}
		return fl.castTo(lv.V, p.Type), nil
	case decl.Storage == types.ParamLazy:
		x, err := fl.rvalue(arg)
		if err != nil {
			return nil, err
		}
		st := p.Type.(*irtypes.StructType)
		b := fl.cur
		out := b.NewInsertValue(constant.NewUndef(st), b.NewExtractValue(x, 0), 0)
		return b.NewInsertValue(out, fl.castTo(b.NewExtractValue(x, 1), irtypes.I8Ptr), 1), nil
	}
	conv, err := fl.Convert(pos, arg, decl.Type)
	if err != nil {
		return nil, err
	}
	x, err := fl.rvalue(conv)
	if err != nil {
		return nil, err
	}
	if p.Indirect {
		// the callee may modify its copy
		slot, err := fl.AllocateStack(decl.Type, "arg")
		if err != nil {
			return nil, err
		}
		fl.cur.NewStore(x, slot)
		return slot, nil
	}
	return fl.castTo(x, p.Type), nil
}

// promoteCVararg applies the C default argument promotions.
func (fl *FuncLowerer) promoteCVararg(pos source.Pos, arg Value) (value.Value, error) {
	in := fl.c.Types
	b := in.Builtins()
	tt, _ := in.Lookup(arg.Type)
	var err error
	switch {
	case tt.Kind == types.KindBool,
		tt.Kind == types.KindInt && tt.Width < types.Width32:
		arg, err = fl.Convert(pos, arg, b.Int)
	case tt.Kind == types.KindFloat && tt.Width == types.Width32:
		arg, err = fl.Convert(pos, arg, b.Double)
	}
	if err != nil {
		return nil, err
	}
	return fl.rvalue(arg)
}

// emitCall emits a call, or an invoke when cleanups are pending so that an
// exception runs them.
func (fl *FuncLowerer) emitCall(callee value.Value, args []value.Value, conv enum.CallingConv) (value.Value, error) {
	fl.ensureOpen()
	pad, err := fl.unwindTarget()
	if err != nil {
		return nil, err
	}
	if pad == nil {
		call := fl.cur.NewCall(callee, args...)
		call.CallingConv = conv
		return call, nil
	}
	cont := fl.newBlock("invoke.cont")
	inv := fl.cur.NewInvoke(callee, args, cont, pad)
	inv.CallingConv = conv
	fl.cur = cont
	return inv, nil
}

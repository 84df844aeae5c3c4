package layout

import (
	"fmt"

	irtypes "github.com/llir/llvm/ir/types"

	"lowerc/internal/target"
	"lowerc/internal/types"
)

// ParamRole tags one entry of the lowered argument list.
type ParamRole uint8

const (
	RoleSRet      ParamRole = iota // hidden result pointer
	RoleContext                    // this / frame / delegate context
	RoleUser                       // a declared parameter
	RoleArguments                  // TypeInfo[] of native variadics
	RoleArgPtr                     // pointer to the packed argument buffer
)

func (r ParamRole) String() string {
	switch r {
	case RoleSRet:
		return "sret"
	case RoleContext:
		return "context"
	case RoleUser:
		return "param"
	case RoleArguments:
		return "_arguments"
	case RoleArgPtr:
		return "_argptr"
	}
	return "unknown"
}

// IRParam is one backend parameter in final argument order.
type IRParam struct {
	Role     ParamRole
	Index    int // declared parameter index for RoleUser, -1 otherwise
	Type     irtypes.Type
	ABI      target.ArgABI
	ByRef    bool // ref/out parameters: the address is passed
	Indirect bool // large aggregates: a pointer to a caller copy is passed
}

// Signature is the ABI-lowered form of a function type.
type Signature struct {
	Fn         types.TypeID
	Info       *types.FnInfo
	IR         *irtypes.FuncType
	Params     []IRParam
	Ret        target.ArgABI
	RetType    irtypes.Type // semantic result type (before sret rewriting)
	Conv       target.Convention
	HasContext bool
}

// SRet reports whether the result travels through a hidden pointer.
func (s *Signature) SRet() bool {
	return s.Ret.Kind == target.PassSRet
}

// UserParam returns the position in Params of declared parameter i.
func (s *Signature) UserParam(i int) int {
	for pos, p := range s.Params {
		if p.Role == RoleUser && p.Index == i {
			return pos
		}
	}
	return -1
}

type sigKey struct {
	fn  types.TypeID
	ctx bool
}

// TypeInfoSliceType is the backend type of the _arguments parameter.
func (e *Engine) TypeInfoSliceType() *irtypes.StructType {
	return irtypes.NewStruct(e.SizeT(), irtypes.NewPointer(irtypes.I8Ptr))
}

// Signature lowers fn under the target ABI. hasContext adds the hidden
// context pointer used by methods, nested functions and delegates.
// Final order: [sret][context][params...][_arguments, _argptr].
func (e *Engine) Signature(fn types.TypeID, hasContext bool) (*Signature, error) {
	fn = e.Types.Unqualified(fn)
	key := sigKey{fn: fn, ctx: hasContext}
	if sig, ok := e.sigs[key]; ok {
		return sig, nil
	}
	info, ok := e.Types.FnInfo(fn)
	if !ok {
		return nil, fmt.Errorf("type#%d is not a function type", fn)
	}
	retClass, retIR, err := e.argClass(info.Result, info.RefReturn)
	if err != nil {
		return nil, err
	}
	classes := make([]target.ArgClass, len(info.Params))
	irs := make([]irtypes.Type, len(info.Params))
	for i, p := range info.Params {
		if p.Storage == types.ParamLazy {
			classes[i] = target.ArgClass{Aggregate: true, Size: 2 * uint64(e.Target.PtrSize)}
			irs[i] = irtypes.NewStruct(irtypes.I8Ptr, irtypes.I8Ptr)
			continue
		}
		if classes[i], irs[i], err = e.argClass(p.Type, p.ByRef()); err != nil {
			return nil, err
		}
	}
	abi := e.Target.Classify(info.Conv, retClass, classes)

	sig := &Signature{
		Fn: fn, Info: info, Ret: abi.Ret, RetType: retIR,
		Conv: abi.Conv, HasContext: hasContext,
	}
	if abi.Ret.Kind == target.PassSRet {
		sig.Params = append(sig.Params, IRParam{Role: RoleSRet, Index: -1, Type: irtypes.NewPointer(retIR), ABI: abi.Ret})
	}
	if hasContext {
		sig.Params = append(sig.Params, IRParam{Role: RoleContext, Index: -1, Type: irtypes.I8Ptr})
	}
	for i, p := range info.Params {
		ip := IRParam{Role: RoleUser, Index: i, Type: irs[i], ABI: abi.Params[i], ByRef: p.ByRef()}
		if abi.Params[i].Kind == target.PassIndirect {
			ip.Indirect = true
			ip.Type = irtypes.NewPointer(irs[i])
		}
		sig.Params = append(sig.Params, ip)
	}
	if info.Variadic == types.VariadicNative {
		sig.Params = append(sig.Params,
			IRParam{Role: RoleArguments, Index: -1, Type: e.TypeInfoSliceType()},
			IRParam{Role: RoleArgPtr, Index: -1, Type: irtypes.I8Ptr},
		)
	}

	ret := retIR
	if abi.Ret.Kind == target.PassSRet {
		ret = irtypes.Void
	}
	params := make([]irtypes.Type, len(sig.Params))
	for i, p := range sig.Params {
		params[i] = p.Type
	}
	sig.IR = irtypes.NewFunc(ret, params...)
	sig.IR.Variadic = info.Variadic == types.VariadicC
	e.sigs[key] = sig
	return sig, nil
}

func (e *Engine) argClass(id types.TypeID, byRef bool) (target.ArgClass, irtypes.Type, error) {
	ir, err := e.IRType(id)
	if err != nil {
		return target.ArgClass{}, nil, err
	}
	if byRef {
		return target.ArgClass{Size: uint64(e.Target.PtrSize)}, irtypes.NewPointer(ir), nil
	}
	tt, _ := e.Types.Lookup(id)
	switch tt.Kind {
	case types.KindVoid:
		return target.ArgClass{Void: true}, ir, nil
	case types.KindBool:
		return target.ArgClass{Integer: true, Bits: 1, Unsigned: true, Size: 1}, ir, nil
	case types.KindInt:
		return target.ArgClass{Integer: true, Bits: uint32(tt.Width), Unsigned: tt.Unsigned, Size: uint64(tt.Width) / 8}, ir, nil
	}
	l, err := e.LayoutOf(id)
	if err != nil {
		return target.ArgClass{}, nil, err
	}
	return target.ArgClass{Size: l.Size, Aggregate: e.Types.IsAggregateValue(id)}, ir, nil
}

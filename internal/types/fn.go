package types //nolint:revive

import (
	"fmt"
	"slices"

	"fortio.org/safecast"
)

// CallConv is the source-level calling convention of a function type.
type CallConv uint8

const (
	ConvD       CallConv = iota // native convention
	ConvC                       // extern(C)
	ConvWindows                 // extern(Windows), stdcall on 32-bit
)

func (c CallConv) String() string {
	switch c {
	case ConvD:
		return "D"
	case ConvC:
		return "C"
	case ConvWindows:
		return "Windows"
	}
	return "unknown"
}

// VariadicKind describes how trailing arguments are passed.
type VariadicKind uint8

const (
	VariadicNone   VariadicKind = iota
	VariadicC                   // C varargs, passed as-is
	VariadicNative              // _arguments TypeInfo[] + _argptr buffer
)

// ParamStorage is the storage class of a parameter.
type ParamStorage uint8

const (
	ParamIn   ParamStorage = iota // by value
	ParamRef                      // ref: passed by address
	ParamOut                      // out: passed by address, default-initialized by callee
	ParamLazy                     // lazy: passed as delegate
)

// Param describes one declared parameter of a function type.
type Param struct {
	Type    TypeID
	Storage ParamStorage
}

// ByRef reports whether the parameter is passed as an address.
func (p Param) ByRef() bool {
	return p.Storage == ParamRef || p.Storage == ParamOut
}

// FnInfo stores metadata for function types.
type FnInfo struct {
	Params    []Param
	Result    TypeID
	RefReturn bool
	Conv      CallConv
	Variadic  VariadicKind
}

// RegisterFn creates or finds a function type.
func (in *Interner) RegisterFn(info FnInfo) TypeID {
	for id := TypeID(1); int(id) < len(in.types); id++ {
		tt := in.types[id]
		if tt.Kind != KindFn || int(tt.Payload) >= len(in.fns) {
			continue
		}
		other := in.fns[tt.Payload]
		if other.Result == info.Result && other.RefReturn == info.RefReturn &&
			other.Conv == info.Conv && other.Variadic == info.Variadic &&
			slices.Equal(other.Params, info.Params) {
			return id
		}
	}
	info.Params = slices.Clone(info.Params)
	in.fns = append(in.fns, info)
	slot, err := safecast.Conv[uint32](len(in.fns) - 1)
	if err != nil {
		panic(fmt.Errorf("fn info overflow: %w", err))
	}
	return in.internRaw(Type{Kind: KindFn, Payload: slot})
}

// FnInfo retrieves function type metadata by TypeID. Delegates and
// function pointers resolve to their underlying function type.
func (in *Interner) FnInfo(id TypeID) (*FnInfo, bool) {
	tt, ok := in.Lookup(id)
	if !ok {
		return nil, false
	}
	switch tt.Kind {
	case KindDelegate:
		return in.FnInfo(tt.Elem)
	case KindPointer:
		if et, ok := in.Lookup(tt.Elem); ok && et.Kind == KindFn {
			return in.FnInfo(tt.Elem)
		}
		return nil, false
	case KindFn:
	default:
		return nil, false
	}
	if tt.Payload == 0 || int(tt.Payload) >= len(in.fns) {
		return nil, false
	}
	return &in.fns[tt.Payload], true
}

package target

import "lowerc/internal/types"

// PassKind says how one value crosses a call boundary.
type PassKind uint8

const (
	PassDirect   PassKind = iota // in registers / as an SSA value
	PassIndirect                 // as a pointer to a caller-owned copy
	PassSRet                     // result written through a hidden pointer
	PassIgnore                   // void result
)

func (k PassKind) String() string {
	switch k {
	case PassDirect:
		return "direct"
	case PassIndirect:
		return "indirect"
	case PassSRet:
		return "sret"
	case PassIgnore:
		return "ignore"
	}
	return "unknown"
}

// ArgClass is the shape of a value the classifier needs to decide passing.
type ArgClass struct {
	Size      uint64
	Aggregate bool
	Integer   bool // integral scalar (bool included)
	Bits      uint32
	Unsigned  bool
	Void      bool
}

// ArgABI is the classification result for one value.
type ArgABI struct {
	Kind    PassKind
	SignExt bool
	ZeroExt bool
}

// Convention is the backend calling convention chosen for a call.
type Convention uint8

const (
	ConvCCC Convention = iota
	ConvStdCall
)

// FuncABI is the classification of a full signature.
type FuncABI struct {
	Conv   Convention
	Ret    ArgABI
	Params []ArgABI
}

// Classify decides the passing of every value of a signature.
func (t *Target) Classify(conv types.CallConv, ret ArgClass, params []ArgClass) FuncABI {
	abi := FuncABI{Conv: ConvCCC, Params: make([]ArgABI, len(params))}
	if conv == types.ConvWindows && t.Arch == "x86" {
		abi.Conv = ConvStdCall
	}
	switch {
	case ret.Void:
		abi.Ret = ArgABI{Kind: PassIgnore}
	case ret.Aggregate && ret.Size > t.MaxDirectAggregate:
		abi.Ret = ArgABI{Kind: PassSRet}
	default:
		abi.Ret = t.scalar(ret)
	}
	for i, p := range params {
		if p.Aggregate && p.Size > t.MaxDirectAggregate {
			abi.Params[i] = ArgABI{Kind: PassIndirect}
			continue
		}
		abi.Params[i] = t.scalar(p)
	}
	return abi
}

// Integers narrower than 32 bits are extended by the caller.
func (t *Target) scalar(c ArgClass) ArgABI {
	out := ArgABI{Kind: PassDirect}
	if c.Integer && c.Bits > 0 && c.Bits < 32 {
		if c.Unsigned {
			out.ZeroExt = true
		} else {
			out.SignExt = true
		}
	}
	return out
}

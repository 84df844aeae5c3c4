package lower

import (
	"github.com/llir/llvm/ir/value"

	"lowerc/internal/types"
)

// Value is the handle every expression lowering returns. When LValue is
// set, V is the address of the value. Storage points at the backing stack
// slot or global when one is known; it is never owned by the handle.
// Align is the guaranteed alignment of an address that sits below the
// natural alignment of Type, e.g. a member of a packed struct; 0 means
// natural.
type Value struct {
	V       value.Value
	Type    types.TypeID
	LValue  bool
	Storage value.Value
	Align   uint32
}

// IsVoid reports a handle without a backend value.
func (v Value) IsVoid() bool {
	return v.V == nil
}

func rvalueOf(v value.Value, t types.TypeID) Value {
	return Value{V: v, Type: t}
}

func lvalueOf(addr value.Value, t types.TypeID) Value {
	return Value{V: addr, Type: t, LValue: true, Storage: addr}
}

package layout

import (
	"fmt"

	irtypes "github.com/llir/llvm/ir/types"

	"lowerc/internal/target"
	"lowerc/internal/types"
)

// SizeT returns the backend integer type of size_t.
func (e *Engine) SizeT() *irtypes.IntType {
	if e.Target.PtrSize == 4 {
		return irtypes.I32
	}
	return irtypes.I64
}

// IRType maps a semantic type onto its backend representation.
// Structs, classes and interfaces become named struct types; classes and
// interfaces are references, so values of those types are pointers.
func (e *Engine) IRType(id types.TypeID) (irtypes.Type, error) {
	id = e.Types.Unqualified(id)
	if t, ok := e.irTypes[id]; ok {
		return t, nil
	}
	tt, ok := e.Types.Lookup(id)
	if !ok {
		return nil, &LayoutError{Kind: LayoutErrUnknownType, Type: id}
	}
	var (
		out irtypes.Type
		err error
	)
	switch tt.Kind {
	case types.KindVoid:
		out = irtypes.Void
	case types.KindBool:
		out = irtypes.I1
	case types.KindInt:
		out = intType(tt.Width)
	case types.KindFloat, types.KindImaginary:
		out = e.floatType(tt.Width)
	case types.KindComplex:
		f := e.floatType(tt.Width)
		out = irtypes.NewStruct(f, f)
	case types.KindPointer:
		out, err = e.pointerTo(tt.Elem)
	case types.KindArray:
		var elem irtypes.Type
		if elem, err = e.IRType(tt.Elem); err == nil {
			out = irtypes.NewArray(uint64(tt.Count), elem)
		}
	case types.KindSlice:
		var ptr irtypes.Type
		if ptr, err = e.pointerTo(tt.Elem); err == nil {
			out = irtypes.NewStruct(e.SizeT(), ptr)
		}
	case types.KindDelegate:
		var fn irtypes.Type
		if fn, err = e.pointerTo(tt.Elem); err == nil {
			out = irtypes.NewStruct(irtypes.I8Ptr, fn)
		}
	case types.KindStruct:
		var agg *Aggregate
		if agg, err = e.Aggregate(id); err == nil {
			out = agg.IR
		}
	case types.KindClass, types.KindInterface:
		var agg *Aggregate
		if agg, err = e.Aggregate(id); err == nil {
			out = irtypes.NewPointer(agg.IR)
		}
	case types.KindFn:
		var sig *Signature
		if sig, err = e.Signature(id, false); err == nil {
			out = sig.IR
		}
	default:
		err = &LayoutError{Kind: LayoutErrUnknownType, Type: id}
	}
	if err != nil {
		return nil, err
	}
	e.irTypes[id] = out
	return out, nil
}

// MemType is the in-memory IR type of a value of id (classes stay pointers).
func (e *Engine) MemType(id types.TypeID) (irtypes.Type, error) {
	return e.IRType(id)
}

func (e *Engine) pointerTo(elem types.TypeID) (irtypes.Type, error) {
	if e.Types.Kind(elem) == types.KindVoid {
		return irtypes.I8Ptr, nil
	}
	t, err := e.IRType(elem)
	if err != nil {
		return nil, err
	}
	return irtypes.NewPointer(t), nil
}

func intType(w types.Width) *irtypes.IntType {
	switch w {
	case types.Width8:
		return irtypes.I8
	case types.Width16:
		return irtypes.I16
	case types.Width32:
		return irtypes.I32
	}
	return irtypes.I64
}

func (e *Engine) floatType(w types.Width) *irtypes.FloatType {
	switch w {
	case types.Width32:
		return irtypes.Float
	case types.Width64:
		return irtypes.Double
	}
	switch e.Target.RealFormat {
	case target.RealDouble:
		return irtypes.Double
	case target.RealQuad:
		return irtypes.FP128
	}
	return irtypes.X86_FP80
}

// IRAlign returns the backend ABI alignment of an IR type.
func (e *Engine) IRAlign(t irtypes.Type) uint32 {
	switch t := t.(type) {
	case *irtypes.IntType:
		switch {
		case t.BitSize <= 8:
			return 1
		case t.BitSize <= 16:
			return 2
		case t.BitSize <= 32:
			return 4
		}
		return e.Target.ScalarAlign("i64", 8)
	case *irtypes.FloatType:
		switch t.Kind {
		case irtypes.FloatKindFloat:
			return 4
		case irtypes.FloatKindDouble:
			return e.Target.ScalarAlign("double", 8)
		case irtypes.FloatKindX86_FP80:
			return e.Target.ScalarAlign("x86_fp80", e.Target.RealAlign)
		}
		return 16
	case *irtypes.PointerType:
		return e.Target.PtrAlign
	case *irtypes.ArrayType:
		return e.IRAlign(t.ElemType)
	case *irtypes.StructType:
		if t.Packed {
			return 1
		}
		a := uint32(1)
		for _, f := range t.Fields {
			a = max(a, e.IRAlign(f))
		}
		return a
	}
	return 1
}

// IRSize returns the backend allocation size of an IR type in bytes.
func (e *Engine) IRSize(t irtypes.Type) uint64 {
	switch t := t.(type) {
	case *irtypes.IntType:
		return roundUp((t.BitSize+7)/8, e.IRAlign(t))
	case *irtypes.FloatType:
		switch t.Kind {
		case irtypes.FloatKindFloat:
			return 4
		case irtypes.FloatKindDouble:
			return 8
		case irtypes.FloatKindX86_FP80:
			return uint64(e.Target.RealSize)
		}
		return 16
	case *irtypes.PointerType:
		return uint64(e.Target.PtrSize)
	case *irtypes.ArrayType:
		return t.Len * e.IRSize(t.ElemType)
	case *irtypes.StructType:
		var off uint64
		for _, f := range t.Fields {
			if !t.Packed {
				off = roundUp(off, e.IRAlign(f))
			}
			off += e.IRSize(f)
		}
		return roundUp(off, e.IRAlign(t))
	}
	return 0
}

// IRFieldOffset returns the byte offset of field idx in a backend struct.
func (e *Engine) IRFieldOffset(st *irtypes.StructType, idx int) (uint64, error) {
	if idx < 0 || idx >= len(st.Fields) {
		return 0, fmt.Errorf("field index %d out of range for %s", idx, st)
	}
	var off uint64
	for i, f := range st.Fields {
		if !st.Packed {
			off = roundUp(off, e.IRAlign(f))
		}
		if i == idx {
			return off, nil
		}
		off += e.IRSize(f)
	}
	return off, nil
}

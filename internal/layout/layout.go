// Package layout computes memory layout of semantic types for a target and
// maps them onto backend types.
//
// Two alignments coexist: the language alignment (what .alignof reports and
// what the frontend used to assign field offsets) and the backend ABI
// alignment of the mapped IR type. They usually agree; when a field offset
// does not satisfy the backend alignment the aggregate is emitted packed
// with explicit padding.
package layout

import (
	irtypes "github.com/llir/llvm/ir/types"

	"lowerc/internal/target"
	"lowerc/internal/types"
)

// TypeLayout is the language-level layout of a type for a specific Target.
type TypeLayout struct {
	Size  uint64
	Align uint32
}

// Engine computes memory layout for types. It is owned by a single
// compilation context and is not safe for concurrent use.
type Engine struct {
	Target *target.Target
	Types  *types.Interner

	cache   map[types.TypeID]TypeLayout
	aggs    map[types.TypeID]*Aggregate
	irTypes map[types.TypeID]irtypes.Type
	sigs    map[sigKey]*Signature
	named   []*irtypes.StructType
}

// New creates a new Engine for the specified target.
func New(tgt *target.Target, typesIn *types.Interner) *Engine {
	return &Engine{
		Target:  tgt,
		Types:   typesIn,
		cache:   make(map[types.TypeID]TypeLayout, 128),
		aggs:    make(map[types.TypeID]*Aggregate, 32),
		irTypes: make(map[types.TypeID]irtypes.Type, 128),
		sigs:    make(map[sigKey]*Signature, 32),
	}
}

type layoutState struct {
	stack []types.TypeID
	index map[types.TypeID]int
}

// LayoutOf computes and caches the layout of a type.
func (e *Engine) LayoutOf(id types.TypeID) (TypeLayout, error) {
	state := &layoutState{index: make(map[types.TypeID]int, 8)}
	l, err := e.layoutOf(id, state)
	if err != nil {
		return l, err
	}
	return l, nil
}

// SizeOf returns the size of a type in bytes.
func (e *Engine) SizeOf(id types.TypeID) (uint64, error) {
	l, err := e.LayoutOf(id)
	return l.Size, err
}

// AlignOf returns the language alignment of a type in bytes.
func (e *Engine) AlignOf(id types.TypeID) (uint32, error) {
	l, err := e.LayoutOf(id)
	return l.Align, err
}

func (e *Engine) layoutOf(id types.TypeID, state *layoutState) (TypeLayout, *LayoutError) {
	id = e.Types.Unqualified(id)
	if cached, ok := e.cache[id]; ok {
		return cached, nil
	}
	if idx, ok := state.index[id]; ok {
		cycle := append(append([]types.TypeID(nil), state.stack[idx:]...), id)
		return TypeLayout{Size: 0, Align: 1}, &LayoutError{Kind: LayoutErrRecursiveUnsized, Type: id, Cycle: cycle}
	}
	state.index[id] = len(state.stack)
	state.stack = append(state.stack, id)
	l, err := e.computeLayout(id, state)
	state.stack = state.stack[:len(state.stack)-1]
	delete(state.index, id)
	if err == nil {
		e.cache[id] = l
	}
	return l, err
}

func (e *Engine) computeLayout(id types.TypeID, state *layoutState) (TypeLayout, *LayoutError) {
	tt, ok := e.Types.Lookup(id)
	if !ok {
		return TypeLayout{Size: 0, Align: 1}, &LayoutError{Kind: LayoutErrUnknownType, Type: id}
	}
	switch tt.Kind {
	case types.KindVoid, types.KindFn:
		return TypeLayout{Size: 1, Align: 1}, nil
	case types.KindBool:
		return TypeLayout{Size: 1, Align: 1}, nil
	case types.KindInt:
		size := uint32(tt.Width) / 8
		if tt.Width == types.Width64 {
			return TypeLayout{Size: 8, Align: e.Target.Int64Align}, nil
		}
		return TypeLayout{Size: uint64(size), Align: size}, nil
	case types.KindFloat, types.KindImaginary:
		return e.floatLayout(tt.Width), nil
	case types.KindComplex:
		f := e.floatLayout(tt.Width)
		return TypeLayout{Size: 2 * f.Size, Align: f.Align}, nil
	case types.KindPointer, types.KindClass, types.KindInterface:
		return e.ptrLayout(), nil
	case types.KindSlice, types.KindDelegate:
		p := e.ptrLayout()
		return TypeLayout{Size: 2 * p.Size, Align: p.Align}, nil
	case types.KindArray:
		el, err := e.layoutOf(tt.Elem, state)
		if err != nil {
			return el, err
		}
		return TypeLayout{Size: roundUp(el.Size, el.Align) * uint64(tt.Count), Align: el.Align}, nil
	case types.KindStruct:
		return e.structLayout(id, state)
	}
	return TypeLayout{Size: 0, Align: 1}, &LayoutError{Kind: LayoutErrUnknownType, Type: id}
}

func (e *Engine) floatLayout(w types.Width) TypeLayout {
	switch w {
	case types.Width32:
		return TypeLayout{Size: 4, Align: 4}
	case types.Width64:
		return TypeLayout{Size: 8, Align: e.Target.Float64Align}
	}
	return TypeLayout{Size: uint64(e.Target.RealSize), Align: e.Target.RealAlign}
}

func (e *Engine) ptrLayout() TypeLayout {
	return TypeLayout{Size: uint64(e.Target.PtrSize), Align: e.Target.PtrAlign}
}

// structLayout trusts frontend offsets; size falls back to the end of the
// last member rounded to the aggregate alignment.
func (e *Engine) structLayout(id types.TypeID, state *layoutState) (TypeLayout, *LayoutError) {
	info, _ := e.Types.Aggregate(id)
	if info == nil {
		return TypeLayout{Size: 0, Align: 1}, &LayoutError{Kind: LayoutErrUnknownType, Type: id}
	}
	align := uint32(1)
	var end uint64
	for _, f := range info.Fields {
		fl, err := e.layoutOf(f.Type, state)
		if err != nil {
			return fl, err
		}
		fa := fl.Align
		if f.Align != 0 {
			fa = f.Align
		}
		align = max(align, fa)
		end = max(end, f.Offset+fl.Size)
	}
	if info.Align != 0 {
		align = info.Align
	}
	size := info.Size
	if size == 0 {
		size = roundUp(end, align)
	}
	if size < end {
		return TypeLayout{}, &LayoutError{Kind: LayoutErrFieldOutOfBounds, Type: id, Field: lastField(info)}
	}
	return TypeLayout{Size: size, Align: align}, nil
}

func lastField(info *types.AggregateInfo) string {
	if len(info.Fields) == 0 {
		return ""
	}
	return info.Fields[len(info.Fields)-1].Name
}

// Realign returns the least offset >= offset that satisfies both the
// language and the backend alignment of t.
func (e *Engine) Realign(offset uint64, t types.TypeID) (uint64, error) {
	l, err := e.LayoutOf(t)
	if err != nil {
		return 0, err
	}
	ir, err := e.IRType(t)
	if err != nil {
		return 0, err
	}
	return roundUp(offset, max(l.Align, e.IRAlign(ir))), nil
}

// HasUnalignedFields reports whether any member of t, at any depth, sits at
// an offset that is not a multiple of its natural alignment.
func (e *Engine) HasUnalignedFields(t types.TypeID) bool {
	tt, ok := e.Types.Lookup(t)
	if !ok {
		return false
	}
	switch tt.Kind {
	case types.KindArray:
		return e.HasUnalignedFields(tt.Elem)
	case types.KindStruct:
	default:
		return false
	}
	info, _ := e.Types.Aggregate(t)
	if info == nil {
		return false
	}
	for _, f := range info.Fields {
		fl, err := e.LayoutOf(f.Type)
		if err != nil {
			return false
		}
		if fl.Align > 0 && f.Offset%uint64(fl.Align) != 0 {
			return true
		}
		if e.HasUnalignedFields(f.Type) {
			return true
		}
	}
	return false
}

func roundUp(n uint64, align uint32) uint64 {
	if align <= 1 {
		return n
	}
	a := uint64(align)
	if r := n % a; r != 0 {
		return n + (a - r)
	}
	return n
}


package layout

import (
	"fmt"
	"sort"

	irtypes "github.com/llir/llvm/ir/types"

	"lowerc/internal/types"
)

// SlotKind tags what occupies a backend struct slot.
type SlotKind uint8

const (
	SlotField     SlotKind = iota // a language-level member
	SlotPadding                   // [n x i8]
	SlotVPtr                      // class vtable pointer
	SlotMonitor                   // class monitor pointer
	SlotInterface                 // interface vtable pointer inside a class
)

// Slot is one field of the emitted backend struct.
type Slot struct {
	Kind   SlotKind
	Field  int // index into AggregateInfo.Fields for SlotField
	Offset uint64
	Size   uint64
	Type   irtypes.Type
}

// Aggregate is the resolved backend shape of a struct, class instance or
// interface.
type Aggregate struct {
	Type   types.TypeID
	IR     *irtypes.StructType
	Slots  []Slot
	Size   uint64
	Align  uint32
	Packed bool

	fieldSlot []int // per member: slot index or -1
	ifaceSlot map[uint64]int
}

// FieldSlot returns the structural slot of member field. Members that
// overlap another member (unions, explicit offsets) have no slot and must be
// reached through their byte offset.
func (a *Aggregate) FieldSlot(field int) (int, bool) {
	if a == nil || field < 0 || field >= len(a.fieldSlot) {
		return -1, false
	}
	s := a.fieldSlot[field]
	return s, s >= 0
}

// InterfaceSlot returns the slot holding the interface vtbl pointer stored
// at the given byte offset.
func (a *Aggregate) InterfaceSlot(offset uint64) (int, bool) {
	s, ok := a.ifaceSlot[offset]
	return s, ok
}

type member struct {
	kind   SlotKind
	field  int
	offset uint64
	size   uint64
	ir     irtypes.Type
	order  int
}

// Aggregate resolves the backend struct of a struct, class or interface.
func (e *Engine) Aggregate(id types.TypeID) (*Aggregate, error) {
	id = e.Types.Unqualified(id)
	if agg, ok := e.aggs[id]; ok {
		return agg, nil
	}
	info, ok := e.Types.Aggregate(id)
	if !ok {
		return nil, &LayoutError{Kind: LayoutErrUnknownType, Type: id}
	}
	kind := e.Types.Kind(id)

	// Регистрируем имя заранее: поля могут ссылаться на сам тип через указатель.
	st := &irtypes.StructType{TypeName: info.Name}
	agg := &Aggregate{Type: id, IR: st, ifaceSlot: make(map[uint64]int)}
	e.aggs[id] = agg
	if kind == types.KindStruct {
		e.irTypes[id] = st
	} else {
		e.irTypes[id] = irtypes.NewPointer(st)
	}
	e.named = append(e.named, st)

	if err := e.resolveAggregate(agg, kind, info); err != nil {
		delete(e.aggs, id)
		delete(e.irTypes, id)
		for i, n := range e.named {
			if n == st {
				e.named = append(e.named[:i], e.named[i+1:]...)
				break
			}
		}
		return nil, err
	}
	return agg, nil
}

func (e *Engine) resolveAggregate(agg *Aggregate, kind types.Kind, info *types.AggregateInfo) error {
	ptr := uint64(e.Target.PtrSize)
	vptrIR := irtypes.NewPointer(irtypes.I8Ptr)
	members := make([]member, 0, len(info.Fields)+2+len(info.Interfaces))

	switch kind {
	case types.KindInterface:
		members = append(members, member{kind: SlotVPtr, field: -1, size: ptr, ir: vptrIR})
	case types.KindClass:
		members = append(members,
			member{kind: SlotVPtr, field: -1, size: ptr, ir: vptrIR},
			member{kind: SlotMonitor, field: -1, offset: ptr, size: ptr, ir: irtypes.I8Ptr},
		)
		for _, impl := range e.allInterfaces(agg.Type) {
			members = append(members, member{kind: SlotInterface, field: -1, offset: impl.Offset, size: ptr, ir: vptrIR})
		}
	}
	if kind != types.KindInterface {
		for i, f := range info.Fields {
			ft, err := e.IRType(f.Type)
			if err != nil {
				return err
			}
			fl, err := e.LayoutOf(f.Type)
			if err != nil {
				return err
			}
			members = append(members, member{kind: SlotField, field: i, offset: f.Offset, size: fl.Size, ir: ft})
		}
	}
	for i := range members {
		members[i].order = i
	}
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].offset < members[j].offset
	})

	agg.fieldSlot = make([]int, len(info.Fields))
	for i := range agg.fieldSlot {
		agg.fieldSlot[i] = -1
	}

	var cur uint64
	for i := 0; i < len(members); {
		m := members[i]
		// группа членов с одинаковым смещением получает один слот
		j, best := i+1, i
		for j < len(members) && members[j].offset == m.offset {
			if members[j].size > members[best].size {
				best = j
			}
			j++
		}
		if m.offset < cur {
			i = j
			continue
		}
		chosen := members[best]
		if chosen.offset > cur {
			agg.addPadding(cur, chosen.offset-cur)
		}
		if a := e.IRAlign(chosen.ir); a > 1 && chosen.offset%uint64(a) != 0 {
			agg.Packed = true
		}
		idx := len(agg.Slots)
		agg.Slots = append(agg.Slots, Slot{
			Kind: chosen.kind, Field: chosen.field, Offset: chosen.offset,
			Size: e.IRSize(chosen.ir), Type: chosen.ir,
		})
		switch chosen.kind {
		case SlotField:
			agg.fieldSlot[chosen.field] = idx
		case SlotInterface:
			agg.ifaceSlot[chosen.offset] = idx
		}
		cur = chosen.offset + e.IRSize(chosen.ir)
		i = j
	}

	size, align, err := e.instanceSize(agg.Type, kind, info, cur)
	if err != nil {
		return err
	}
	if size < cur {
		return &LayoutError{Kind: LayoutErrFieldOutOfBounds, Type: agg.Type, Field: lastField(info)}
	}

	// Non-packed structs get implicit tail padding from the backend; if that
	// would disagree with the language size, pack and pad explicitly.
	var irAlign uint32 = 1
	for _, s := range agg.Slots {
		irAlign = max(irAlign, e.IRAlign(s.Type))
	}
	if !agg.Packed && roundUp(cur, irAlign) > size {
		agg.Packed = true
	}
	if !agg.Packed && size%uint64(irAlign) != 0 {
		agg.Packed = true
	}
	if tail := size - cur; tail > 0 && (agg.Packed || roundUp(cur, irAlign) != size) {
		agg.addPadding(cur, tail)
	}

	fields := make([]irtypes.Type, len(agg.Slots))
	for i, s := range agg.Slots {
		fields[i] = s.Type
	}
	agg.IR.Fields = fields
	agg.IR.Packed = agg.Packed
	agg.Size = size
	agg.Align = align
	return nil
}

func (a *Aggregate) addPadding(at, n uint64) {
	a.Slots = append(a.Slots, Slot{
		Kind: SlotPadding, Field: -1, Offset: at, Size: n,
		Type: irtypes.NewArray(n, irtypes.I8),
	})
}

func (e *Engine) instanceSize(id types.TypeID, kind types.Kind, info *types.AggregateInfo, end uint64) (uint64, uint32, error) {
	switch kind {
	case types.KindStruct:
		l, err := e.LayoutOf(id)
		if err != nil {
			return 0, 0, err
		}
		return l.Size, l.Align, nil
	case types.KindInterface:
		return uint64(e.Target.PtrSize), e.Target.PtrAlign, nil
	}
	align := e.Target.PtrAlign
	for _, f := range info.Fields {
		fl, err := e.LayoutOf(f.Type)
		if err != nil {
			return 0, 0, err
		}
		align = max(align, fl.Align)
	}
	if info.Size != 0 {
		return info.Size, align, nil
	}
	return roundUp(end, align), align, nil
}

// allInterfaces collects interface impls of a class and its bases.
func (e *Engine) allInterfaces(class types.TypeID) []types.InterfaceImpl {
	var out []types.InterfaceImpl
	seen := make(map[uint64]bool)
	for cur := class; cur != types.NoTypeID; {
		info, ok := e.Types.Aggregate(cur)
		if !ok {
			break
		}
		for _, impl := range info.Interfaces {
			if !seen[impl.Offset] {
				seen[impl.Offset] = true
				out = append(out, impl)
			}
		}
		cur = e.Types.Unqualified(info.Base)
	}
	return out
}

// InstanceSize returns the allocation size of a class instance or struct.
func (e *Engine) InstanceSize(id types.TypeID) (uint64, error) {
	agg, err := e.Aggregate(id)
	if err != nil {
		return 0, err
	}
	return agg.Size, nil
}

// NamedTypes returns every named backend struct created so far.
func (e *Engine) NamedTypes() []*irtypes.StructType {
	return e.named
}

func (a *Aggregate) String() string {
	return fmt.Sprintf("%s{slots=%d size=%d packed=%v}", a.IR.TypeName, len(a.Slots), a.Size, a.Packed)
}

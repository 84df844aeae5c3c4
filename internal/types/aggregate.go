package types

import (
	"fmt"
	"slices"

	"fortio.org/safecast"
)

// Field describes one data member with its frontend-assigned byte offset.
// For classes the list is flattened: inherited members come first and
// offsets already account for the object header.
type Field struct {
	Name   string
	Type   TypeID
	Offset uint64
	Align  uint32 // explicit align(N); 0 means natural
}

// InterfaceImpl records where a class stores the vtable pointer of an
// implemented interface.
type InterfaceImpl struct {
	Iface  TypeID
	Offset uint64
}

// AggregateInfo stores metadata for struct, class and interface types.
type AggregateInfo struct {
	Name       string // fully qualified, e.g. "app.Point"
	Mangle     string // linkage prefix, e.g. "_D3app5Point"
	Fields     []Field
	Size       uint64 // frontend-assigned instance size; 0 = compute
	Align      uint32 // explicit align(N); 0 = natural
	IsUnion    bool
	Base       TypeID // base class for classes
	Interfaces []InterfaceImpl
	VTable     []string // linkage names of virtual methods in slot order
	Dtor       string   // struct destructor / class finalizer linkage name
	Template   bool     // declared inside a template instance
}

// HasDtor reports whether instances need a destructor call before release.
func (a *AggregateInfo) HasDtor() bool {
	return a != nil && a.Dtor != ""
}

// RegisterAggregate allocates a nominal struct/class/interface type.
func (in *Interner) RegisterAggregate(kind Kind, info AggregateInfo) TypeID {
	switch kind {
	case KindStruct, KindClass, KindInterface:
	default:
		panic(fmt.Sprintf("types: %s is not an aggregate kind", kind))
	}
	in.aggs = append(in.aggs, cloneAggregate(info))
	slot, err := safecast.Conv[uint32](len(in.aggs) - 1)
	if err != nil {
		panic(fmt.Errorf("aggregate info overflow: %w", err))
	}
	return in.internRaw(Type{Kind: kind, Payload: slot})
}

// SetAggregateFields stores the resolved member list; used by the loader
// after all aggregate ids are known so members may refer to each other.
func (in *Interner) SetAggregateFields(id TypeID, fields []Field, size uint64) {
	info := in.aggregateInfo(id)
	if info == nil {
		return
	}
	info.Fields = slices.Clone(fields)
	info.Size = size
}

// Aggregate returns metadata for a struct/class/interface TypeID.
func (in *Interner) Aggregate(id TypeID) (*AggregateInfo, bool) {
	info := in.aggregateInfo(id)
	return info, info != nil
}

func (in *Interner) aggregateInfo(id TypeID) *AggregateInfo {
	tt, ok := in.Lookup(id)
	if !ok {
		return nil
	}
	switch tt.Kind {
	case KindStruct, KindClass, KindInterface:
	default:
		return nil
	}
	if tt.Payload == 0 || int(tt.Payload) >= len(in.aggs) {
		return nil
	}
	return &in.aggs[tt.Payload]
}

// IsBaseClass reports whether base is derived or equal to class.
func (in *Interner) IsBaseClass(base, class TypeID) bool {
	base = in.Unqualified(base)
	for cur := in.Unqualified(class); cur != NoTypeID; {
		if cur == base {
			return true
		}
		info, ok := in.Aggregate(cur)
		if !ok {
			return false
		}
		cur = in.Unqualified(info.Base)
	}
	return false
}

// InterfaceOffset returns the static vtbl-pointer offset of iface inside
// class (searching base classes), if the class implements it.
func (in *Interner) InterfaceOffset(class, iface TypeID) (uint64, bool) {
	iface = in.Unqualified(iface)
	for cur := in.Unqualified(class); cur != NoTypeID; {
		info, ok := in.Aggregate(cur)
		if !ok {
			return 0, false
		}
		for _, impl := range info.Interfaces {
			if in.Unqualified(impl.Iface) == iface {
				return impl.Offset, true
			}
		}
		cur = in.Unqualified(info.Base)
	}
	return 0, false
}

func cloneAggregate(info AggregateInfo) AggregateInfo {
	info.Fields = slices.Clone(info.Fields)
	info.Interfaces = slices.Clone(info.Interfaces)
	info.VTable = slices.Clone(info.VTable)
	return info
}

// SetAggregateBases records the base class and implemented interfaces.
func (in *Interner) SetAggregateBases(id, base TypeID, impls []InterfaceImpl) {
	info := in.aggregateInfo(id)
	if info == nil {
		return
	}
	info.Base = base
	info.Interfaces = slices.Clone(impls)
}

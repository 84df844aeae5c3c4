package types

import (
	"fmt"

	"fortio.org/safecast"
)

// Builtins stores TypeIDs for common primitive types.
type Builtins struct {
	Invalid  TypeID
	Void     TypeID
	Bool     TypeID
	Byte     TypeID
	Ubyte    TypeID
	Short    TypeID
	Ushort   TypeID
	Int      TypeID
	Uint     TypeID
	Long     TypeID
	Ulong    TypeID
	Float    TypeID
	Double   TypeID
	Real     TypeID
	Ifloat   TypeID
	Idouble  TypeID
	Ireal    TypeID
	Cfloat   TypeID
	Cdouble  TypeID
	Creal    TypeID
	VoidPtr  TypeID
	String   TypeID // immutable(ubyte)[]
	TypeInfo TypeID // class TypeInfo, registered lazily by the loader
}

// Interner provides stable TypeIDs by hashing structural descriptors.
// Aggregates and functions are nominal: each registration gets its own id.
type Interner struct {
	types    []Type
	index    map[typeKey]TypeID
	builtins Builtins
	aggs     []AggregateInfo
	fns      []FnInfo
}

// NewInterner constructs an interner seeded with built-in primitives.
func NewInterner() *Interner {
	in := &Interner{
		index: make(map[typeKey]TypeID, 64),
	}
	in.aggs = append(in.aggs, AggregateInfo{}) // slot 0 is the invalid sentinel
	in.fns = append(in.fns, FnInfo{})
	b := &in.builtins
	b.Invalid = in.internRaw(Type{Kind: KindInvalid})
	b.Void = in.Intern(Type{Kind: KindVoid})
	b.Bool = in.Intern(Type{Kind: KindBool})
	b.Byte = in.Intern(MakeInt(Width8, false))
	b.Ubyte = in.Intern(MakeInt(Width8, true))
	b.Short = in.Intern(MakeInt(Width16, false))
	b.Ushort = in.Intern(MakeInt(Width16, true))
	b.Int = in.Intern(MakeInt(Width32, false))
	b.Uint = in.Intern(MakeInt(Width32, true))
	b.Long = in.Intern(MakeInt(Width64, false))
	b.Ulong = in.Intern(MakeInt(Width64, true))
	b.Float = in.Intern(MakeFloat(Width32))
	b.Double = in.Intern(MakeFloat(Width64))
	b.Real = in.Intern(MakeFloat(Width80))
	b.Ifloat = in.Intern(MakeImaginary(Width32))
	b.Idouble = in.Intern(MakeImaginary(Width64))
	b.Ireal = in.Intern(MakeImaginary(Width80))
	b.Cfloat = in.Intern(MakeComplex(Width32))
	b.Cdouble = in.Intern(MakeComplex(Width64))
	b.Creal = in.Intern(MakeComplex(Width80))
	b.VoidPtr = in.Intern(MakePointer(b.Void))
	b.String = in.Intern(MakeSlice(in.Qualified(b.Ubyte, QualImmutable)))
	return in
}

// Builtins returns TypeIDs for primitive types.
func (in *Interner) Builtins() Builtins {
	return in.builtins
}

// SetTypeInfoClass records the class used for runtime type descriptors.
func (in *Interner) SetTypeInfoClass(id TypeID) {
	in.builtins.TypeInfo = id
}

// Intern ensures the provided descriptor has a stable TypeID.
func (in *Interner) Intern(t Type) TypeID {
	if t.Kind == KindInvalid {
		return NoTypeID
	}
	if id, ok := in.index[typeKey(t)]; ok {
		return id
	}
	return in.internRaw(t)
}

func (in *Interner) internRaw(t Type) TypeID {
	n, err := safecast.Conv[uint32](len(in.types))
	if err != nil {
		panic(fmt.Errorf("len(types) overflow: %w", err))
	}
	id := TypeID(n)
	in.types = append(in.types, t)
	in.index[typeKey(t)] = id
	return id
}

// Lookup returns the descriptor for a TypeID.
func (in *Interner) Lookup(id TypeID) (Type, bool) {
	if id == NoTypeID || int(id) >= len(in.types) {
		return Type{}, false
	}
	return in.types[id], true
}

// MustLookup panics when id is invalid.
func (in *Interner) MustLookup(id TypeID) Type {
	tt, ok := in.Lookup(id)
	if !ok {
		panic(fmt.Sprintf("types: invalid TypeID %d", id))
	}
	return tt
}

// Len returns the number of interned types including the sentinel.
func (in *Interner) Len() int {
	return len(in.types)
}

// Qualified returns id with qualifiers q added.
func (in *Interner) Qualified(id TypeID, q Qual) TypeID {
	tt, ok := in.Lookup(id)
	if !ok || tt.Qual|q == tt.Qual {
		return id
	}
	tt.Qual |= q
	return in.Intern(tt)
}

// Unqualified strips top-level qualifiers.
func (in *Interner) Unqualified(id TypeID) TypeID {
	tt, ok := in.Lookup(id)
	if !ok || tt.Qual == 0 {
		return id
	}
	tt.Qual = 0
	return in.Intern(tt)
}

// SameUnqualified reports whether a and b differ at most in qualifiers,
// at any nesting depth.
func (in *Interner) SameUnqualified(a, b TypeID) bool {
	if a == b {
		return true
	}
	ta, okA := in.Lookup(a)
	tb, okB := in.Lookup(b)
	if !okA || !okB {
		return false
	}
	if ta.Kind != tb.Kind || ta.Width != tb.Width || ta.Unsigned != tb.Unsigned ||
		ta.Count != tb.Count || ta.Payload != tb.Payload {
		return false
	}
	if ta.Elem == tb.Elem {
		return true
	}
	if ta.Elem == NoTypeID || tb.Elem == NoTypeID {
		return false
	}
	return in.SameUnqualified(ta.Elem, tb.Elem)
}

type typeKey struct {
	Kind     Kind
	Elem     TypeID
	Count    uint32
	Width    Width
	Unsigned bool
	Qual     Qual
	Payload  uint32
}

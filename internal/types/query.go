package types

// Kind returns the kind of id, or KindInvalid.
func (in *Interner) Kind(id TypeID) Kind {
	tt, ok := in.Lookup(id)
	if !ok {
		return KindInvalid
	}
	return tt.Kind
}

// Elem returns the element type for pointer/array/slice/delegate types.
func (in *Interner) Elem(id TypeID) TypeID {
	tt, ok := in.Lookup(id)
	if !ok {
		return NoTypeID
	}
	return tt.Elem
}

func (in *Interner) IsIntegral(id TypeID) bool {
	k := in.Kind(id)
	return k == KindInt || k == KindBool
}

func (in *Interner) IsUnsigned(id TypeID) bool {
	tt, ok := in.Lookup(id)
	return ok && (tt.Kind == KindBool || (tt.Kind == KindInt && tt.Unsigned))
}

// IsFloating covers real, imaginary and complex types.
func (in *Interner) IsFloating(id TypeID) bool {
	switch in.Kind(id) {
	case KindFloat, KindImaginary, KindComplex:
		return true
	}
	return false
}

func (in *Interner) IsPointerLike(id TypeID) bool {
	switch in.Kind(id) {
	case KindPointer, KindClass, KindInterface:
		return true
	}
	return false
}

// IsAggregateValue reports types passed around as multi-word values.
func (in *Interner) IsAggregateValue(id TypeID) bool {
	switch in.Kind(id) {
	case KindStruct, KindArray, KindSlice, KindDelegate, KindComplex:
		return true
	}
	return false
}

// RealPart returns the real type with the same width as a floating id.
func (in *Interner) RealPart(id TypeID) TypeID {
	tt, ok := in.Lookup(id)
	if !ok {
		return NoTypeID
	}
	return in.Intern(MakeFloat(tt.Width))
}

// ImaginaryPart returns the imaginary type with the same width.
func (in *Interner) ImaginaryPart(id TypeID) TypeID {
	tt, ok := in.Lookup(id)
	if !ok {
		return NoTypeID
	}
	return in.Intern(MakeImaginary(tt.Width))
}

// ComplexOf returns the complex type with the same component width.
func (in *Interner) ComplexOf(id TypeID) TypeID {
	tt, ok := in.Lookup(id)
	if !ok {
		return NoTypeID
	}
	return in.Intern(MakeComplex(tt.Width))
}

// NeedsDestruction reports whether values of id own a destructor call.
func (in *Interner) NeedsDestruction(id TypeID) bool {
	tt, ok := in.Lookup(id)
	if !ok {
		return false
	}
	switch tt.Kind {
	case KindStruct:
		info, _ := in.Aggregate(id)
		return info.HasDtor()
	case KindArray:
		return in.NeedsDestruction(tt.Elem)
	}
	return false
}

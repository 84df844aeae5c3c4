package types

import "fmt"

// TypeID uniquely identifies a type inside the interner.
type TypeID uint32

// NoTypeID marks the absence of a type.
const NoTypeID TypeID = 0

// Kind enumerates all supported kinds of types.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindVoid
	KindBool
	KindInt
	KindFloat
	KindImaginary
	KindComplex
	KindPointer
	KindArray // static array, Count elements
	KindSlice // dynamic array {length, ptr}
	KindStruct
	KindClass
	KindInterface
	KindDelegate // {context, funcptr}; Elem is the function type
	KindFn
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindVoid:
		return "void"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindImaginary:
		return "imaginary"
	case KindComplex:
		return "complex"
	case KindPointer:
		return "pointer"
	case KindArray:
		return "array"
	case KindSlice:
		return "slice"
	case KindStruct:
		return "struct"
	case KindClass:
		return "class"
	case KindInterface:
		return "interface"
	case KindDelegate:
		return "delegate"
	case KindFn:
		return "fn"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Width captures the precision of integers and floating types.
// For imaginary and complex types it is the width of one component.
type Width uint8

const (
	WidthAny Width = 0
	Width8   Width = 8
	Width16  Width = 16
	Width32  Width = 32
	Width64  Width = 64
	Width80  Width = 80 // x87 extended "real"
)

// Qual is a set of type qualifiers. Qualifiers never change representation.
type Qual uint8

const (
	QualConst Qual = 1 << iota
	QualImmutable
	QualShared
)

func (q Qual) String() string {
	s := ""
	if q&QualShared != 0 {
		s += "shared "
	}
	if q&QualImmutable != 0 {
		s += "immutable "
	}
	if q&QualConst != 0 {
		s += "const "
	}
	return s
}

// Type is a compact descriptor for any supported type.
type Type struct {
	Kind     Kind
	Elem     TypeID
	Count    uint32 // static array length
	Width    Width
	Unsigned bool
	Qual     Qual
	Payload  uint32 // index into aggregate or fn metadata
}

// Descriptor helpers ---------------------------------------------------------

func MakeInt(width Width, unsigned bool) Type {
	return Type{Kind: KindInt, Width: width, Unsigned: unsigned}
}

func MakeFloat(width Width) Type {
	return Type{Kind: KindFloat, Width: width}
}

func MakeImaginary(width Width) Type {
	return Type{Kind: KindImaginary, Width: width}
}

func MakeComplex(width Width) Type {
	return Type{Kind: KindComplex, Width: width}
}

func MakePointer(elem TypeID) Type {
	return Type{Kind: KindPointer, Elem: elem}
}

func MakeArray(elem TypeID, count uint32) Type {
	return Type{Kind: KindArray, Elem: elem, Count: count}
}

func MakeSlice(elem TypeID) Type {
	return Type{Kind: KindSlice, Elem: elem}
}

func MakeDelegate(fn TypeID) Type {
	return Type{Kind: KindDelegate, Elem: fn}
}

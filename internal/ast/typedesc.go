package ast

// TypeDesc is one entry of the module type table. Kind is one of
// void, bool, int, float, imaginary, complex, pointer, array, slice,
// struct, class, interface, delegate, fn.
type TypeDesc struct {
	Kind     string  `msgpack:"kind" json:"kind"`
	Width    uint8   `msgpack:"width,omitempty" json:"width,omitempty"`
	Unsigned bool    `msgpack:"unsigned,omitempty" json:"unsigned,omitempty"`
	Const    bool    `msgpack:"const,omitempty" json:"const,omitempty"`
	Immut    bool    `msgpack:"immutable,omitempty" json:"immutable,omitempty"`
	Shared   bool    `msgpack:"shared,omitempty" json:"shared,omitempty"`
	Elem     TypeRef `msgpack:"elem,omitempty" json:"elem,omitempty"`
	Count    uint32  `msgpack:"count,omitempty" json:"count,omitempty"`

	// aggregates
	Name       string      `msgpack:"name,omitempty" json:"name,omitempty"`
	Mangle     string      `msgpack:"mangle,omitempty" json:"mangle,omitempty"`
	Fields     []FieldDesc `msgpack:"fields,omitempty" json:"fields,omitempty"`
	Size       uint64      `msgpack:"size,omitempty" json:"size,omitempty"`
	Align      uint32      `msgpack:"align,omitempty" json:"align,omitempty"`
	Union      bool        `msgpack:"union,omitempty" json:"union,omitempty"`
	Base       TypeRef     `msgpack:"base,omitempty" json:"base,omitempty"`
	Interfaces []IfaceDesc `msgpack:"interfaces,omitempty" json:"interfaces,omitempty"`
	VTable     []string    `msgpack:"vtable,omitempty" json:"vtable,omitempty"`
	Dtor       string      `msgpack:"dtor,omitempty" json:"dtor,omitempty"`
	Template   bool        `msgpack:"template,omitempty" json:"template,omitempty"`
	Line       uint32      `msgpack:"line,omitempty" json:"line,omitempty"`

	// functions
	Params    []ParamDesc `msgpack:"params,omitempty" json:"params,omitempty"`
	Result    TypeRef     `msgpack:"result,omitempty" json:"result,omitempty"`
	RefReturn bool        `msgpack:"ref_return,omitempty" json:"ref_return,omitempty"`
	Conv      string      `msgpack:"conv,omitempty" json:"conv,omitempty"`         // "", "D", "C", "Windows"
	Variadic  string      `msgpack:"variadic,omitempty" json:"variadic,omitempty"` // "", "c", "native"
}

type FieldDesc struct {
	Name   string  `msgpack:"name" json:"name"`
	Type   TypeRef `msgpack:"type" json:"type"`
	Offset uint64  `msgpack:"offset" json:"offset"`
	Align  uint32  `msgpack:"align,omitempty" json:"align,omitempty"`
}

type IfaceDesc struct {
	Type   TypeRef `msgpack:"type" json:"type"`
	Offset uint64  `msgpack:"offset" json:"offset"`
}

type ParamDesc struct {
	Type    TypeRef `msgpack:"type" json:"type"`
	Storage string  `msgpack:"storage,omitempty" json:"storage,omitempty"` // "", "ref", "out", "lazy"
}

package ast

// VarKind says where a variable lives.
type VarKind uint8

const (
	VarLocal VarKind = iota
	VarParam
	VarGlobal
	VarTLS
)

// Var is a variable declaration.
type Var struct {
	Name      string  `msgpack:"name" json:"name"`
	Mangle    string  `msgpack:"mangle,omitempty" json:"mangle,omitempty"`
	Type      TypeRef `msgpack:"type" json:"type"`
	Kind      VarKind `msgpack:"kind,omitempty" json:"kind,omitempty"`
	Init      ExprID  `msgpack:"init,omitempty" json:"init,omitempty"`
	Storage   string  `msgpack:"storage,omitempty" json:"storage,omitempty"` // params: "", "ref", "out", "lazy"
	Private   bool    `msgpack:"private,omitempty" json:"private,omitempty"`
	Template  bool    `msgpack:"template,omitempty" json:"template,omitempty"`
	Immutable bool    `msgpack:"immutable,omitempty" json:"immutable,omitempty"`
	Extern    bool    `msgpack:"extern,omitempty" json:"extern,omitempty"`
	Line      uint32  `msgpack:"line,omitempty" json:"line,omitempty"`
}

// Func is a function declaration; Body is absent for external functions.
type Func struct {
	Name     string  `msgpack:"name" json:"name"`
	Mangle   string  `msgpack:"mangle,omitempty" json:"mangle,omitempty"`
	Type     TypeRef `msgpack:"type" json:"type"`
	Params   []VarID `msgpack:"params,omitempty" json:"params,omitempty"`
	This     VarID   `msgpack:"this,omitempty" json:"this,omitempty"`
	Body     StmtID  `msgpack:"body,omitempty" json:"body,omitempty"`
	Private  bool    `msgpack:"private,omitempty" json:"private,omitempty"`
	Template bool    `msgpack:"template,omitempty" json:"template,omitempty"`
	Ctor     bool    `msgpack:"ctor,omitempty" json:"ctor,omitempty"` // module constructor
	Dtor     bool    `msgpack:"dtor,omitempty" json:"dtor,omitempty"` // module destructor
	Priority int     `msgpack:"priority,omitempty" json:"priority,omitempty"`
	Line     uint32  `msgpack:"line,omitempty" json:"line,omitempty"`
}

// HasContext reports whether calls pass a hidden this/context pointer.
func (f *Func) HasContext() bool {
	return f != nil && f.This.IsValid()
}

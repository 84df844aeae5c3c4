package ast

// ExprKind enumerates expressions.
type ExprKind uint8

const (
	ExprInvalid  ExprKind = iota
	ExprInt               // Int (bit pattern for unsigned types)
	ExprFloat             // Float; imaginary literals carry an imaginary Type
	ExprBool              // Bool
	ExprNull              // null of Type
	ExprString            // Str
	ExprVar               // Var
	ExprFunc              // Func, yields a function pointer
	ExprBinary            // X Op Y
	ExprCall              // X(Args...), or Func(Args...) when Func is set
	ExprCast              // cast(Type) X; Paint for reinterpretation
	ExprNew               // new Type; Func is the constructor, X the array length
	ExprAddrOf            // &X
	ExprDeref             // *X
	ExprMember            // X.Fields[Field]; slices: 0=length, 1=ptr
	ExprIndex             // X[Y]
	ExprNeg               // -X
	ExprNot               // !X
	ExprCom               // ~X
	ExprDecl              // declare Var, value is Var
	ExprDelegate          // &X.Func, or &Func inside a method when X is absent
	ExprThis              // the context pointer of the current method
)

var exprKindNames = [...]string{
	"invalid", "int", "float", "bool", "null", "string", "var", "func", "binary",
	"call", "cast", "new", "addr", "deref", "member", "index", "neg", "not",
	"com", "decl", "delegate", "this",
}

func (k ExprKind) String() string {
	if int(k) < len(exprKindNames) {
		return exprKindNames[k]
	}
	return "unknown"
}

// Expr is an expression node carrying its semantic type.
type Expr struct {
	Kind  ExprKind `msgpack:"k" json:"kind"`
	Line  uint32   `msgpack:"l,omitempty" json:"line,omitempty"`
	Col   uint32   `msgpack:"c,omitempty" json:"col,omitempty"`
	Type  TypeRef  `msgpack:"t" json:"type"`
	Op    Op       `msgpack:"op,omitempty" json:"op,omitempty"`
	X     ExprID   `msgpack:"x,omitempty" json:"x,omitempty"`
	Y     ExprID   `msgpack:"y,omitempty" json:"y,omitempty"`
	Args  []ExprID `msgpack:"as,omitempty" json:"args,omitempty"`
	Int   int64    `msgpack:"i,omitempty" json:"int,omitempty"`
	Float float64  `msgpack:"f,omitempty" json:"float,omitempty"`
	Bool  bool     `msgpack:"b,omitempty" json:"bool,omitempty"`
	Str   string   `msgpack:"s,omitempty" json:"str,omitempty"`
	Var   VarID    `msgpack:"v,omitempty" json:"var,omitempty"`
	Func  FuncID   `msgpack:"fn,omitempty" json:"func,omitempty"`
	Field int      `msgpack:"fd,omitempty" json:"field,omitempty"`
	Paint bool     `msgpack:"p,omitempty" json:"paint,omitempty"`
}

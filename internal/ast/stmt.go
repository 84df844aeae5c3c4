package ast

// StmtKind enumerates statements.
type StmtKind uint8

const (
	StmtInvalid StmtKind = iota
	StmtBlock            // Stmts
	StmtExpr             // X
	StmtDecl             // Var (initializer on the variable)
	StmtAssign           // X = Y, or X op= Y when Op != OpNone
	StmtIf               // if X then A else B
	StmtWhile            // while X do A; Label names the loop
	StmtBreak            // Label optional
	StmtContinue         // Label optional
	StmtGoto             // Label
	StmtLabel            // Label: A
	StmtTryFinally       // try A finally B
	StmtScopeGuard       // scope(Guard) A
	StmtSynchronized     // synchronized(X) A; X may be absent
	StmtReturn           // return X
	StmtAssert           // assert(X, Y)
	StmtDelete           // delete X
)

var stmtKindNames = [...]string{
	"invalid", "block", "expr", "decl", "assign", "if", "while", "break",
	"continue", "goto", "label", "try-finally", "scope-guard", "synchronized",
	"return", "assert", "delete",
}

func (k StmtKind) String() string {
	if int(k) < len(stmtKindNames) {
		return stmtKindNames[k]
	}
	return "unknown"
}

// GuardKind selects when a scope guard runs.
type GuardKind uint8

const (
	GuardExit GuardKind = iota
	GuardSuccess
	GuardFailure
)

func (g GuardKind) String() string {
	switch g {
	case GuardExit:
		return "exit"
	case GuardSuccess:
		return "success"
	case GuardFailure:
		return "failure"
	}
	return "unknown"
}

// Stmt is a statement node. Only the fields listed for its kind are used.
type Stmt struct {
	Kind  StmtKind  `msgpack:"k" json:"kind"`
	Line  uint32    `msgpack:"l,omitempty" json:"line,omitempty"`
	Col   uint32    `msgpack:"c,omitempty" json:"col,omitempty"`
	Stmts []StmtID  `msgpack:"ss,omitempty" json:"stmts,omitempty"`
	X     ExprID    `msgpack:"x,omitempty" json:"x,omitempty"`
	Y     ExprID    `msgpack:"y,omitempty" json:"y,omitempty"`
	A     StmtID    `msgpack:"a,omitempty" json:"a,omitempty"`
	B     StmtID    `msgpack:"b,omitempty" json:"b,omitempty"`
	Label string    `msgpack:"lb,omitempty" json:"label,omitempty"`
	Var   VarID     `msgpack:"v,omitempty" json:"var,omitempty"`
	Op    Op        `msgpack:"op,omitempty" json:"op,omitempty"`
	Guard GuardKind `msgpack:"g,omitempty" json:"guard,omitempty"`
}

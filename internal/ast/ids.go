package ast

type (
	TypeRef uint32 // index into Module.Types
	StmtID  uint32
	ExprID  uint32
	VarID   uint32
	FuncID  uint32
)

const (
	NoTypeRef TypeRef = 0
	NoStmtID  StmtID  = 0
	NoExprID  ExprID  = 0
	NoVarID   VarID   = 0
	NoFuncID  FuncID  = 0
)

func (id TypeRef) IsValid() bool { return id != NoTypeRef }
func (id StmtID) IsValid() bool  { return id != NoStmtID }
func (id ExprID) IsValid() bool  { return id != NoExprID }
func (id VarID) IsValid() bool   { return id != NoVarID }
func (id FuncID) IsValid() bool  { return id != NoFuncID }

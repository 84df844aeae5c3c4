package lower

import (
	"context"
	"fmt"
	"testing"

	"github.com/llir/llvm/ir"

	"lowerc/internal/ast"
	"lowerc/internal/diag"
	"lowerc/internal/target"
)

// fixture builds small AST modules by hand.
type fixture struct {
	t   *testing.T
	m   *ast.Module
	bag *diag.Bag

	void, boolT        ast.TypeRef
	i32, i64, u32, u64 ast.TypeRef
	f64, idbl          ast.TypeRef
	voidFn             ast.TypeRef
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := ast.NewModule("app.main", "app/main.d")
	fx := &fixture{t: t, m: m, bag: diag.NewBag(0)}
	fx.void = m.AddType(ast.TypeDesc{Kind: "void"})
	fx.boolT = m.AddType(ast.TypeDesc{Kind: "bool"})
	fx.i32 = m.AddType(ast.TypeDesc{Kind: "int", Width: 32})
	fx.i64 = m.AddType(ast.TypeDesc{Kind: "int", Width: 64})
	fx.u32 = m.AddType(ast.TypeDesc{Kind: "int", Width: 32, Unsigned: true})
	fx.u64 = m.AddType(ast.TypeDesc{Kind: "int", Width: 64, Unsigned: true})
	fx.f64 = m.AddType(ast.TypeDesc{Kind: "float", Width: 64})
	fx.idbl = m.AddType(ast.TypeDesc{Kind: "imaginary", Width: 64})
	fx.voidFn = fx.fnType(fx.void)
	return fx
}

func (fx *fixture) fnType(result ast.TypeRef, params ...ast.TypeRef) ast.TypeRef {
	ps := make([]ast.ParamDesc, len(params))
	for i, p := range params {
		ps[i] = ast.ParamDesc{Type: p}
	}
	return fx.m.AddType(ast.TypeDesc{Kind: "fn", Params: ps, Result: result})
}

// extern declares a body-less function of type typ.
func (fx *fixture) extern(name string, typ ast.TypeRef) ast.FuncID {
	return fx.m.AddFunc(ast.Func{Name: name, Type: typ})
}

// define adds a function whose parameters are typed after typ and whose
// body is built by body from the parameter variables.
func (fx *fixture) define(name string, typ ast.TypeRef, body func(params []ast.VarID) []ast.StmtID) ast.FuncID {
	td := fx.m.Type(typ)
	params := make([]ast.VarID, len(td.Params))
	for i, p := range td.Params {
		params[i] = fx.m.AddVar(ast.Var{Name: fmt.Sprintf("p%d", i), Type: p.Type, Kind: ast.VarParam})
	}
	return fx.m.AddFunc(ast.Func{Name: name, Type: typ, Params: params, Body: fx.block(body(params)...)})
}

func (fx *fixture) stmt(s ast.Stmt) ast.StmtID { return fx.m.AddStmt(s) }
func (fx *fixture) expr(e ast.Expr) ast.ExprID { return fx.m.AddExpr(e) }

func (fx *fixture) block(ss ...ast.StmtID) ast.StmtID {
	return fx.stmt(ast.Stmt{Kind: ast.StmtBlock, Stmts: ss})
}

func (fx *fixture) call(fn ast.FuncID, args ...ast.ExprID) ast.StmtID {
	res := fx.m.Type(fx.m.Func(fn).Type).Result
	return fx.stmt(ast.Stmt{Kind: ast.StmtExpr, X: fx.expr(ast.Expr{Kind: ast.ExprCall, Type: res, Func: fn, Args: args})})
}

func (fx *fixture) ref(v ast.VarID) ast.ExprID {
	return fx.expr(ast.Expr{Kind: ast.ExprVar, Type: fx.m.Var(v).Type, Var: v})
}

func (fx *fixture) intLit(t ast.TypeRef, n int64) ast.ExprID {
	return fx.expr(ast.Expr{Kind: ast.ExprInt, Type: t, Int: n})
}

func (fx *fixture) ret(x ast.ExprID) ast.StmtID {
	return fx.stmt(ast.Stmt{Kind: ast.StmtReturn, X: x})
}

func (fx *fixture) label(name string, s ast.StmtID) ast.StmtID {
	return fx.stmt(ast.Stmt{Kind: ast.StmtLabel, Label: name, A: s})
}

func (fx *fixture) gotoStmt(name string) ast.StmtID {
	return fx.stmt(ast.Stmt{Kind: ast.StmtGoto, Label: name})
}

func (fx *fixture) tryFinally(body, fin ast.StmtID) ast.StmtID {
	return fx.stmt(ast.Stmt{Kind: ast.StmtTryFinally, A: body, B: fin})
}

func (fx *fixture) context() *Context {
	fx.t.Helper()
	c, err := NewContext(fx.m, Options{
		Target:   target.X86_64LinuxGNU(),
		Reporter: diag.BagReporter{Bag: fx.bag},
	})
	if err != nil {
		fx.t.Fatalf("new context: %v", err)
	}
	return c
}

// lower runs the whole module and returns its textual IR.
func (fx *fixture) lower() (string, error) {
	fx.t.Helper()
	mod, err := fx.context().LowerModule(context.Background())
	if err != nil {
		return "", err
	}
	return mod.String(), nil
}

func (fx *fixture) mustLowerModule() *ir.Module {
	fx.t.Helper()
	mod, err := fx.context().LowerModule(context.Background())
	if err != nil {
		fx.t.Fatalf("lower: %+v", err)
	}
	return mod
}

func (fx *fixture) mustLower() string {
	fx.t.Helper()
	out, err := fx.lower()
	if err != nil {
		fx.t.Fatalf("lower: %+v", err)
	}
	return out
}

func (fx *fixture) codes() []diag.Code {
	var out []diag.Code
	for _, d := range fx.bag.Items() {
		out = append(out, d.Code)
	}
	return out
}

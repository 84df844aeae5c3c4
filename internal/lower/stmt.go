package lower

import (
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	irtypes "github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"lowerc/internal/ast"
	"lowerc/internal/types"
)

func (fl *FuncLowerer) lowerStmt(id ast.StmtID) error {
	if !id.IsValid() {
		return nil
	}
	s := fl.c.Module.Stmt(id)
	pos := fl.pos(s.Line, s.Col)
	if s.Kind == ast.StmtLabel {
		target := fl.labelBlock(s.Label)
		if !fl.terminated() {
			fl.cur.NewBr(target)
		}
		fl.cur = target
		return fl.lowerStmt(s.A)
	}
	fl.ensureOpen()
	switch s.Kind {
	case ast.StmtBlock:
		return fl.lowerBlock(id)
	case ast.StmtExpr:
		_, err := fl.lowerExpr(s.X)
		return err
	case ast.StmtDecl:
		_, err := fl.declareLocal(s.Var)
		return err
	case ast.StmtAssign:
		return fl.lowerAssign(s)
	case ast.StmtIf:
		return fl.lowerIf(s)
	case ast.StmtWhile:
		return fl.lowerWhile(id)
	case ast.StmtBreak:
		return fl.Jump(pos, JumpBreak, s.Label)
	case ast.StmtContinue:
		return fl.Jump(pos, JumpContinue, s.Label)
	case ast.StmtGoto:
		return fl.Jump(pos, JumpGoto, s.Label)
	case ast.StmtTryFinally:
		if err := fl.enterTryFinally(id); err != nil {
			return err
		}
		if err := fl.lowerStmt(s.A); err != nil {
			return err
		}
		_, err := fl.LeaveScope(LeaveNormal)
		return err
	case ast.StmtScopeGuard:
		// the guard region is closed by the enclosing block
		fl.EnterScope(ScopeGuardRegion, id, pos)
		return fl.RegisterCleanup(CleanupAction{
			Name: "scope(" + s.Guard.String() + ")",
			When: guardWhen(s.Guard),
			Emit: func(fl *FuncLowerer) error {
				return fl.emitBody(id, s.A, ScopeGuardBody)
			},
		})
	case ast.StmtSynchronized:
		return fl.lowerSynchronized(id)
	case ast.StmtReturn:
		return fl.lowerReturn(s)
	case ast.StmtAssert:
		return fl.lowerAssert(s)
	case ast.StmtDelete:
		v, err := fl.lowerExpr(s.X)
		if err != nil {
			return err
		}
		return fl.ReleaseHeap(pos, v)
	}
	return fl.unsupported(pos, "statement", s.Kind.String())
}

func guardWhen(g ast.GuardKind) When {
	switch g {
	case ast.GuardSuccess:
		return WhenSuccess
	case ast.GuardFailure:
		return WhenFailure
	}
	return WhenAlways
}

func (fl *FuncLowerer) lowerBlock(id ast.StmtID) error {
	s := fl.c.Module.Stmt(id)
	depth := len(fl.scopes)
	fl.EnterScope(ScopeBlock, id, fl.pos(s.Line, s.Col))
	for _, child := range s.Stmts {
		if err := fl.lowerStmt(child); err != nil {
			return err
		}
	}
	// guard regions opened by scope guards in this block, then the block
	for len(fl.scopes) > depth {
		if _, err := fl.LeaveScope(LeaveNormal); err != nil {
			return err
		}
	}
	return nil
}

// declareLocal gives a local variable its stack slot and initial value.
// Values with destructors get a cleanup on the enclosing scope.
func (fl *FuncLowerer) declareLocal(id ast.VarID) (Value, error) {
	v := fl.c.Module.Var(id)
	t := fl.c.typeOf(v.Type)
	pos := fl.pos(v.Line, 0)
	slot, err := fl.AllocateStack(t, v.Name)
	if err != nil {
		return Value{}, err
	}
	lv := lvalueOf(slot, t)
	var init value.Value
	if v.Init.IsValid() {
		x, err := fl.lowerExpr(v.Init)
		if err != nil {
			return Value{}, err
		}
		conv, err := fl.Convert(pos, x, t)
		if err != nil {
			return Value{}, err
		}
		if init, err = fl.rvalue(conv); err != nil {
			return Value{}, err
		}
	} else if init, err = fl.c.DefaultInit(t); err != nil {
		return Value{}, err
	}
	fl.ensureOpen()
	fl.cur.NewStore(init, slot)
	fl.locals[id] = lv
	if fl.c.Types.NeedsDestruction(t) {
		err := fl.RegisterCleanup(CleanupAction{
			Name: "~" + v.Name,
			When: WhenAlways,
			Emit: func(fl *FuncLowerer) error { return fl.destroy(slot, t) },
		})
		if err != nil {
			return Value{}, err
		}
	}
	return lv, nil
}

func (fl *FuncLowerer) lowerAssign(s *ast.Stmt) error {
	pos := fl.pos(s.Line, s.Col)
	lhs, err := fl.lowerExpr(s.X)
	if err != nil {
		return err
	}
	if !lhs.LValue {
		return internalf("stmt", pos, "assignment to an rvalue")
	}
	rhs, err := fl.lowerExpr(s.Y)
	if err != nil {
		return err
	}
	if s.Op != ast.OpNone {
		cur := rvalueOf(nil, lhs.Type)
		if cur.V, err = fl.rvalue(lhs); err != nil {
			return err
		}
		if rhs, err = fl.BinaryOp(pos, s.Op, lhs.Type, cur, rhs); err != nil {
			return err
		}
	}
	conv, err := fl.Convert(pos, rhs, lhs.Type)
	if err != nil {
		return err
	}
	x, err := fl.rvalue(conv)
	if err != nil {
		return err
	}
	fl.ensureOpen()
	fl.store(x, lhs)
	return nil
}

func (fl *FuncLowerer) lowerIf(s *ast.Stmt) error {
	cond, err := fl.lowerCond(s.X)
	if err != nil {
		return err
	}
	then, end := fl.newBlock("if.then"), fl.newBlock("if.end")
	els := end
	if s.B.IsValid() {
		els = fl.newBlock("if.else")
	}
	fl.cur.NewCondBr(cond, then, els)

	fl.cur = then
	if err := fl.lowerStmt(s.A); err != nil {
		return err
	}
	if !fl.terminated() {
		fl.cur.NewBr(end)
	}
	if s.B.IsValid() {
		fl.cur = els
		if err := fl.lowerStmt(s.B); err != nil {
			return err
		}
		if !fl.terminated() {
			fl.cur.NewBr(end)
		}
	}
	fl.cur = end
	return nil
}

func (fl *FuncLowerer) lowerWhile(id ast.StmtID) error {
	s := fl.c.Module.Stmt(id)
	cond, body, end := fl.newBlock("while.cond"), fl.newBlock("while.body"), fl.newBlock("while.end")
	fl.cur.NewBr(cond)
	fl.cur = cond
	c, err := fl.lowerCond(s.X)
	if err != nil {
		return err
	}
	fl.cur.NewCondBr(c, body, end)

	fl.cur = body
	loop := fl.EnterScope(ScopeLoop, id, fl.pos(s.Line, s.Col))
	loop.label, loop.breakTo, loop.continueTo = s.Label, end, cond
	if err := fl.lowerStmt(s.A); err != nil {
		return err
	}
	if _, err := fl.LeaveScope(LeaveNormal); err != nil {
		return err
	}
	if !fl.terminated() {
		fl.cur.NewBr(cond)
	}
	fl.cur = end
	return nil
}

// lowerCond evaluates a condition to i1.
func (fl *FuncLowerer) lowerCond(id ast.ExprID) (value.Value, error) {
	x, err := fl.lowerExpr(id)
	if err != nil {
		return nil, err
	}
	e := fl.c.Module.Expr(id)
	b, err := fl.Convert(fl.pos(e.Line, e.Col), x, fl.c.Types.Builtins().Bool)
	if err != nil {
		return nil, err
	}
	v, err := fl.rvalue(b)
	if err != nil {
		return nil, err
	}
	fl.ensureOpen()
	return v, nil
}

// lowerReturn evaluates the result before any cleanup runs, so cleanups
// cannot observe a half-returned state.
func (fl *FuncLowerer) lowerReturn(s *ast.Stmt) error {
	pos := fl.pos(s.Line, s.Col)
	var ret value.Value
	if s.X.IsValid() && fl.c.Types.Kind(fl.result) != types.KindVoid {
		x, err := fl.lowerExpr(s.X)
		if err != nil {
			return err
		}
		if fl.sig.Info.RefReturn {
			if !x.LValue {
				return internalf("stmt", pos, "ref return of an rvalue")
			}
			ret = x.V
		} else {
			conv, err := fl.Convert(pos, x, fl.result)
			if err != nil {
				return err
			}
			if ret, err = fl.rvalue(conv); err != nil {
				return err
			}
		}
		if fl.sret != nil {
			fl.ensureOpen()
			fl.cur.NewStore(ret, fl.sret)
			ret = nil
		}
	} else if s.X.IsValid() {
		if _, err := fl.lowerExpr(s.X); err != nil {
			return err
		}
	}
	if err := fl.Jump(pos, JumpReturn, ""); err != nil {
		return err
	}
	fl.ensureOpen()
	fl.cur.NewRet(ret)
	return nil
}

// lowerAssert calls the runtime assert handler when the condition fails.
// The handler does not return.
func (fl *FuncLowerer) lowerAssert(s *ast.Stmt) error {
	cond, err := fl.lowerCond(s.X)
	if err != nil {
		return err
	}
	ok, fail := fl.newBlock("assert.ok"), fl.newBlock("assert.fail")
	fl.cur.NewCondBr(cond, ok, fail)
	fl.cur = fail

	strT := fl.c.Types.Builtins().String
	strIR, err := fl.irType(strT)
	if err != nil {
		return err
	}
	file, err := fl.c.stringConst(fl.pos(s.Line, s.Col), fl.c.Module.File, strT)
	if err != nil {
		return err
	}
	line := constant.NewInt(irtypes.I32, int64(s.Line))
	rt := fl.c.Target.Runtime
	var args []value.Value
	var handler string
	if s.Y.IsValid() {
		msg, err := fl.lowerExpr(s.Y)
		if err != nil {
			return err
		}
		m, err := fl.Convert(fl.pos(s.Line, s.Col), msg, strT)
		if err != nil {
			return err
		}
		mv, err := fl.rvalue(m)
		if err != nil {
			return err
		}
		handler, args = rt.AssertMsg, []value.Value{mv, file, line}
	} else {
		handler, args = rt.Assert, []value.Value{file, line}
	}
	params := make([]irtypes.Type, len(args))
	for i := range args {
		params[i] = strIR
	}
	params[len(params)-1] = irtypes.I32
	fn, err := fl.c.runtimeFunc(handler, irtypes.Void, params...)
	if err != nil {
		return err
	}
	if _, err := fl.emitCall(fn, args, enum.CallingConvNone); err != nil {
		return err
	}
	fl.cur.NewUnreachable()
	fl.cur = ok
	return nil
}

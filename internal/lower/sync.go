package lower

import (
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	irtypes "github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"lowerc/internal/ast"
)

// lowerSynchronized brackets the body with a monitor or critical-section
// enter and an exit that runs on every way out, unwinding included.
func (fl *FuncLowerer) lowerSynchronized(id ast.StmtID) error {
	s := fl.c.Module.Stmt(id)
	pos := fl.pos(s.Line, s.Col)
	rt := fl.c.Target.Runtime

	var (
		lock        value.Value
		enter, exit string
	)
	if s.X.IsValid() {
		obj, err := fl.lowerExpr(s.X)
		if err != nil {
			return err
		}
		x, err := fl.rvalue(obj)
		if err != nil {
			return err
		}
		lock, enter, exit = x, rt.MonitorEnter, rt.MonitorExit
	} else {
		name := fl.c.uniqueName(fl.rec.Name + ".__critsec")
		content := irtypes.NewArray(fl.c.Target.CriticalSectionSize, irtypes.I8)
		g, err := fl.c.GetOrCreateGlobal(pos, name, content, GlobalOpts{})
		if err != nil {
			return err
		}
		g.Init = constant.NewZeroInitializer(content)
		g.Linkage = enum.LinkageInternal
		g.Align = 16
		lock, enter, exit = g, rt.CriticalEnter, rt.CriticalExit
	}
	enterFn, err := fl.c.runtimeFunc(enter, irtypes.Void, irtypes.I8Ptr)
	if err != nil {
		return err
	}
	exitFn, err := fl.c.runtimeFunc(exit, irtypes.Void, irtypes.I8Ptr)
	if err != nil {
		return err
	}
	fl.ensureOpen()
	lock = fl.castTo(lock, irtypes.I8Ptr)
	if _, err := fl.emitCall(enterFn, []value.Value{lock}, enum.CallingConvNone); err != nil {
		return err
	}

	fl.EnterScope(ScopeSynchronized, id, pos)
	err = fl.RegisterCleanup(CleanupAction{
		Name: exit,
		When: WhenAlways,
		Emit: func(fl *FuncLowerer) error {
			_, err := fl.emitCall(exitFn, []value.Value{lock}, enum.CallingConvNone)
			return err
		},
	})
	if err != nil {
		return err
	}
	if err := fl.lowerStmt(s.A); err != nil {
		return err
	}
	_, err = fl.LeaveScope(LeaveNormal)
	return err
}

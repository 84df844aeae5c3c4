package lower

import (
	"slices"

	"github.com/llir/llvm/ir"

	"lowerc/internal/ast"
	"lowerc/internal/diag"
	"lowerc/internal/source"
)

// labelInfo is where a label sits: the chain of scopes enclosing it.
type labelInfo struct {
	stmt  ast.StmtID
	pos   source.Pos
	chain []scopeKey
}

func (l *labelInfo) inside(key scopeKey) bool {
	return slices.Contains(l.chain, key)
}

// collectLabels records the scope chain of every label before the body is
// lowered, so forward gotos can be validated.
func (fl *FuncLowerer) collectLabels(body ast.StmtID) error {
	root := []scopeKey{{stmt: ast.NoStmtID, kind: ScopeFunction}}
	return fl.walkLabels(body, root)
}

func (fl *FuncLowerer) walkLabels(id ast.StmtID, chain []scopeKey) error {
	if !id.IsValid() {
		return nil
	}
	s := fl.c.Module.Stmt(id)
	with := func(kind ScopeKind) []scopeKey {
		return append(slices.Clip(chain), scopeKey{stmt: id, kind: kind})
	}
	switch s.Kind {
	case ast.StmtBlock:
		inner := with(ScopeBlock)
		for _, child := range s.Stmts {
			if err := fl.walkLabels(child, inner); err != nil {
				return err
			}
			if fl.c.Module.Stmt(child).Kind == ast.StmtScopeGuard {
				inner = append(slices.Clip(inner), scopeKey{stmt: child, kind: ScopeGuardRegion})
			}
		}
	case ast.StmtWhile:
		return fl.walkLabels(s.A, with(ScopeLoop))
	case ast.StmtIf:
		if err := fl.walkLabels(s.A, chain); err != nil {
			return err
		}
		return fl.walkLabels(s.B, chain)
	case ast.StmtLabel:
		if _, dup := fl.labels[s.Label]; dup {
			return internalf("scopes", fl.pos(s.Line, s.Col), "label %s defined twice", s.Label)
		}
		fl.labels[s.Label] = &labelInfo{stmt: id, pos: fl.pos(s.Line, s.Col), chain: slices.Clone(chain)}
		return fl.walkLabels(s.A, chain)
	case ast.StmtTryFinally:
		if err := fl.walkLabels(s.A, with(ScopeTryFinally)); err != nil {
			return err
		}
		return fl.walkLabels(s.B, with(ScopeFinallyBody))
	case ast.StmtSynchronized:
		return fl.walkLabels(s.A, with(ScopeSynchronized))
	case ast.StmtScopeGuard:
		return fl.walkLabels(s.A, with(ScopeGuardBody))
	}
	return nil
}

func (fl *FuncLowerer) labelBlock(name string) *ir.Block {
	if b, ok := fl.labelBlocks[name]; ok {
		return b
	}
	b := fl.newBlock(name)
	fl.labelBlocks[name] = b
	return b
}

// JumpKind names the statement that transfers control.
type JumpKind uint8

const (
	JumpGoto JumpKind = iota
	JumpBreak
	JumpContinue
	JumpReturn
)

func (k JumpKind) String() string {
	switch k {
	case JumpGoto:
		return "goto"
	case JumpBreak:
		return "break"
	case JumpContinue:
		return "continue"
	}
	return "return"
}

// Jump validates a transfer of control, emits the cleanups of every scope
// it leaves and, except for returns, the branch itself. Returns leave the
// final terminator to the caller.
func (fl *FuncLowerer) Jump(pos source.Pos, kind JumpKind, label string) error {
	var (
		keep   int
		target *ir.Block
	)
	switch kind {
	case JumpGoto:
		info, ok := fl.labels[label]
		if !ok {
			return internalf("scopes", pos, "goto to unknown label %s", label)
		}
		keep = fl.commonPrefix(info.chain)
		for _, k := range info.chain[keep:] {
			if k.kind.guarded() {
				e := controlFlowf(pos, "goto %s jumps into a %s scope", label, k.kind)
				e.Notes = append(e.Notes, diag.Note{Pos: info.pos, Msg: "label defined here"})
				return e
			}
		}
		target = fl.labelBlock(label)
	case JumpBreak, JumpContinue:
		loop := fl.findLoop(label)
		if loop < 0 {
			return internalf("scopes", pos, "%s outside of a loop", kind)
		}
		keep = loop + 1
		target = fl.scopes[loop].breakTo
		if kind == JumpContinue {
			target = fl.scopes[loop].continueTo
		}
	case JumpReturn:
		keep = 0
	}
	for _, sc := range fl.scopes[keep:] {
		if sc.kind.sealed() {
			return controlFlowf(pos, "%s cannot leave a %s", kind, sc.kind)
		}
	}
	fl.point("jump", kind.String())
	if err := fl.unwindTo(keep); err != nil {
		return err
	}
	if target != nil {
		fl.ensureOpen()
		fl.cur.NewBr(target)
	}
	return nil
}

// unwindTo emits the normal-exit cleanups of scopes[keep:] innermost first
// without popping them: the code after the jump is still inside them.
func (fl *FuncLowerer) unwindTo(keep int) error {
	all := fl.scopes
	defer func() { fl.scopes = all }()
	for i := len(all) - 1; i >= keep; i-- {
		if err := fl.runActions(all[:i], all[i], false); err != nil {
			return err
		}
	}
	return nil
}

func (fl *FuncLowerer) commonPrefix(chain []scopeKey) int {
	n := 0
	for n < len(chain) && n < len(fl.scopes) && fl.scopes[n].key == chain[n] {
		n++
	}
	return n
}

func (fl *FuncLowerer) findLoop(label string) int {
	for i := len(fl.scopes) - 1; i >= 0; i-- {
		sc := fl.scopes[i]
		if sc.kind == ScopeLoop && (label == "" || sc.label == label) {
			return i
		}
	}
	return -1
}

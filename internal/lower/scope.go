package lower

import (
	"fmt"
	"strings"

	"github.com/llir/llvm/ir"
	irtypes "github.com/llir/llvm/ir/types"

	"lowerc/internal/ast"
	"lowerc/internal/source"
)

// ScopeKind classifies an entry of the cleanup-scope stack.
type ScopeKind uint8

const (
	ScopeFunction     ScopeKind = iota
	ScopeBlock                  // { ... }
	ScopeLoop                   // break/continue target
	ScopeTryFinally             // try body; holds the finally action
	ScopeFinallyBody            // an emitted copy of a finally body
	ScopeSynchronized           // holds the monitor/critical-section exit
	ScopeGuardRegion            // statements after a scope guard
	ScopeGuardBody              // an emitted copy of a scope guard body
)

var scopeKindNames = [...]string{
	"function", "block", "loop", "try", "finally", "synchronized", "scope-guard region", "scope-guard body",
}

func (k ScopeKind) String() string {
	if int(k) < len(scopeKindNames) {
		return scopeKindNames[k]
	}
	return "unknown"
}

// guarded scopes cannot be entered by a jump from outside.
func (k ScopeKind) guarded() bool {
	switch k {
	case ScopeTryFinally, ScopeFinallyBody, ScopeSynchronized, ScopeGuardRegion, ScopeGuardBody:
		return true
	}
	return false
}

// sealed scopes cannot be left by a jump.
func (k ScopeKind) sealed() bool {
	return k == ScopeFinallyBody || k == ScopeGuardBody
}

// When selects the exits on which a cleanup action runs.
type When uint8

const (
	WhenAlways  When = iota
	WhenSuccess      // normal exits and jumps only
	WhenFailure      // exception unwinding only
)

// CleanupAction is deferred code owned by a scope. Emit may run several
// times: once per normal exit path and once per landing pad.
type CleanupAction struct {
	Name string
	When When
	Emit func(fl *FuncLowerer) error
}

func (a CleanupAction) runsOn(unwinding bool) bool {
	if unwinding {
		return a.When != WhenSuccess
	}
	return a.When != WhenFailure
}

// scopeKey identifies a scope both on the runtime stack and in the label
// prepass, so that jump sources and targets can be compared.
type scopeKey struct {
	stmt ast.StmtID
	kind ScopeKind
}

type cleanupScope struct {
	id      int
	kind    ScopeKind
	key     scopeKey
	pos     source.Pos
	actions []CleanupAction

	label      string
	breakTo    *ir.Block
	continueTo *ir.Block
}

// HandlerRecord ties a protected scope to the landing pad that unwinds it.
// Try-finally scopes get their pad eagerly on entry; other scopes get one
// lazily when the first call inside them needs an unwind edge. Scope is
// the innermost scope with actions pending on unwind, and the record is
// dropped when that scope is left.
type HandlerRecord struct {
	Scope int
	Depth int
	Key   string
	Pad   *ir.Block
	Lazy  bool
}

// LeaveMode selects how LeaveScope exits.
type LeaveMode uint8

const (
	LeaveNormal      LeaveMode = iota // fall-through: emit always + on-success actions
	LeaveExceptional                  // make sure the unwind path exists, emit nothing inline
)

// EnterScope pushes a scope. stmt is the statement the scope belongs to.
func (fl *FuncLowerer) EnterScope(kind ScopeKind, stmt ast.StmtID, pos source.Pos) *cleanupScope {
	sc := &cleanupScope{id: fl.nextScope, kind: kind, key: scopeKey{stmt: stmt, kind: kind}, pos: pos}
	fl.nextScope++
	fl.scopes = append(fl.scopes, sc)
	return sc
}

// RegisterCleanup attaches a to the innermost scope.
func (fl *FuncLowerer) RegisterCleanup(a CleanupAction) error {
	if len(fl.scopes) == 0 {
		return internalf("scopes", source.Pos{}, "cleanup %q registered outside any scope", a.Name)
	}
	top := fl.scopes[len(fl.scopes)-1]
	top.actions = append(top.actions, a)
	return nil
}

// enterTryFinally pushes a try scope whose only action is the finally
// body, and creates its landing pad right away.
func (fl *FuncLowerer) enterTryFinally(s ast.StmtID) error {
	st := fl.c.Module.Stmt(s)
	fl.EnterScope(ScopeTryFinally, s, fl.pos(st.Line, st.Col))
	err := fl.RegisterCleanup(CleanupAction{
		Name: "finally",
		When: WhenAlways,
		Emit: func(fl *FuncLowerer) error {
			return fl.emitBody(s, st.B, ScopeFinallyBody)
		},
	})
	if err != nil {
		return err
	}
	_, err = fl.landingPad(false)
	return err
}

// emitBody lowers one copy of a finally or scope guard body. Labels inside
// the body get fresh blocks for each copy.
func (fl *FuncLowerer) emitBody(owner, body ast.StmtID, kind ScopeKind) error {
	st := fl.c.Module.Stmt(body)
	key := scopeKey{stmt: owner, kind: kind}
	saved := make(map[string]*ir.Block)
	for name, info := range fl.labels {
		if info.inside(key) {
			if b, ok := fl.labelBlocks[name]; ok {
				saved[name] = b
			}
			delete(fl.labelBlocks, name)
		}
	}
	fl.ensureOpen()
	fl.EnterScope(kind, owner, fl.pos(st.Line, st.Col))
	err := fl.lowerStmt(body)
	if err == nil {
		_, err = fl.LeaveScope(LeaveNormal)
	}
	for name, info := range fl.labels {
		if info.inside(key) {
			delete(fl.labelBlocks, name)
		}
	}
	for name, b := range saved {
		fl.labelBlocks[name] = b
	}
	return err
}

// LeaveScope pops the innermost scope. In normal mode its pending actions
// are emitted innermost first unless the current block already ended. In
// exceptional mode the landing pad covering the scope is materialized and
// returned.
func (fl *FuncLowerer) LeaveScope(mode LeaveMode) (*ir.Block, error) {
	if len(fl.scopes) == 0 {
		return nil, internalf("scopes", source.Pos{}, "leave without open scope")
	}
	top := fl.scopes[len(fl.scopes)-1]
	var (
		pad *ir.Block
		err error
	)
	if mode == LeaveExceptional {
		pad, err = fl.unwindTarget()
	} else if !fl.terminated() {
		err = fl.runActions(fl.scopes[:len(fl.scopes)-1], top, false)
	}
	fl.scopes = fl.scopes[:len(fl.scopes)-1]
	fl.dropHandlers(top.id)
	return pad, err
}

func (fl *FuncLowerer) dropHandlers(scope int) {
	kept := fl.handlers[:0]
	for _, h := range fl.handlers {
		if h.Scope != scope {
			kept = append(kept, h)
		}
	}
	fl.handlers = kept
}

// runActions emits the actions of sc innermost first. While action k runs,
// the visible stack is outer plus sc truncated to the actions registered
// before k, so an exception thrown by the cleanup unwinds exactly those.
func (fl *FuncLowerer) runActions(outer []*cleanupScope, sc *cleanupScope, unwinding bool) error {
	saved := fl.scopes
	defer func() { fl.scopes = saved }()
	for k := len(sc.actions) - 1; k >= 0; k-- {
		a := sc.actions[k]
		if !a.runsOn(unwinding) {
			continue
		}
		fl.scopes = scopeView(outer, sc, k)
		fl.ensureOpen()
		fl.point("cleanup", a.Name)
		if err := a.Emit(fl); err != nil {
			return err
		}
	}
	return nil
}

func scopeView(outer []*cleanupScope, sc *cleanupScope, k int) []*cleanupScope {
	view := make([]*cleanupScope, len(outer), len(outer)+1)
	copy(view, outer)
	if sc.kind == ScopeTryFinally && k == 0 {
		// the finally body is a sibling of the try body, not inside it
		return view
	}
	cp := *sc
	cp.actions = sc.actions[:k:k]
	return append(view, &cp)
}

// padKey identifies the set of actions pending on unwind. Actions are only
// ever appended, so scope id plus action count pins the set down. depth is
// the 1-based position of the innermost scope contributing to the key, 0
// when nothing is pending.
func padKey(scopes []*cleanupScope) (key string, depth int) {
	var sb strings.Builder
	for i, sc := range scopes {
		n := 0
		for _, a := range sc.actions {
			if a.runsOn(true) {
				n++
			}
		}
		if n == 0 {
			continue
		}
		depth = i + 1
		fmt.Fprintf(&sb, "%d:%d;", sc.id, len(sc.actions))
	}
	return sb.String(), depth
}

// unwindTarget returns the landing pad for a call emitted now, or nil when
// nothing needs to run on unwind. Pads are shared between calls that see
// the same pending actions.
func (fl *FuncLowerer) unwindTarget() (*ir.Block, error) {
	return fl.landingPad(true)
}

func (fl *FuncLowerer) landingPad(lazy bool) (*ir.Block, error) {
	key, depth := padKey(fl.scopes)
	if depth == 0 {
		return nil, nil
	}
	if h := fl.handlerFor(key); h != nil {
		return h.Pad, nil
	}
	if err := fl.usePersonality(); err != nil {
		return nil, err
	}
	pad := fl.newBlock("lpad")
	fl.handlers = append(fl.handlers, &HandlerRecord{
		Scope: fl.scopes[depth-1].id,
		Depth: depth,
		Key:   key,
		Pad:   pad,
		Lazy:  lazy,
	})

	saved, savedCur := fl.scopes, fl.cur
	defer func() { fl.scopes, fl.cur = saved, savedCur }()
	fl.cur = pad
	lp := pad.NewLandingPad(landingPadType)
	lp.Cleanup = true
	for i := len(saved) - 1; i >= 0; i-- {
		if err := fl.runActions(saved[:i], saved[i], true); err != nil {
			return nil, err
		}
	}
	fl.ensureOpen()
	fl.cur.NewResume(lp)
	fl.point("landing-pad", pad.Name())
	return pad, nil
}

// handlerFor searches the live records innermost first.
func (fl *FuncLowerer) handlerFor(key string) *HandlerRecord {
	for i := len(fl.handlers) - 1; i >= 0; i-- {
		if h := fl.handlers[i]; h.Key == key {
			return h
		}
	}
	return nil
}

var landingPadType = irtypes.NewStruct(irtypes.I8Ptr, irtypes.I32)

func (fl *FuncLowerer) usePersonality() error {
	if fl.f.Personality != nil {
		return nil
	}
	pers, err := fl.c.declareFunc(source.Pos{}, fl.c.Target.Runtime.Personality, personalityType)
	if err != nil {
		return err
	}
	fl.f.Personality = pers
	return nil
}

var personalityType = func() *irtypes.FuncType {
	t := irtypes.NewFunc(irtypes.I32)
	t.Variadic = true
	return t
}()

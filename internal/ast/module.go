package ast

import "fmt"

// Module is one fully type-checked compilation unit as produced by the
// frontend. All cross references are arena ids.
type Module struct {
	Name  string           `msgpack:"name" json:"name"`
	File  string           `msgpack:"file" json:"file"`
	Types *Arena[TypeDesc] `msgpack:"types" json:"types"`
	Vars  *Arena[Var]      `msgpack:"vars" json:"vars"`
	Funcs *Arena[Func]     `msgpack:"funcs" json:"funcs"`
	Stmts *Arena[Stmt]     `msgpack:"stmts" json:"stmts"`
	Exprs *Arena[Expr]     `msgpack:"exprs" json:"exprs"`

	Globals    []VarID   `msgpack:"globals,omitempty" json:"globals,omitempty"`
	Functions  []FuncID  `msgpack:"functions,omitempty" json:"functions,omitempty"`
	Aggregates []TypeRef `msgpack:"aggregates,omitempty" json:"aggregates,omitempty"`
	TypeInfo   TypeRef   `msgpack:"typeinfo,omitempty" json:"typeinfo,omitempty"`
}

// NewModule creates an empty module.
func NewModule(name, file string) *Module {
	return &Module{
		Name:  name,
		File:  file,
		Types: NewArena[TypeDesc](32),
		Vars:  NewArena[Var](32),
		Funcs: NewArena[Func](16),
		Stmts: NewArena[Stmt](128),
		Exprs: NewArena[Expr](256),
	}
}

func (m *Module) Type(id TypeRef) *TypeDesc { return m.Types.Get(uint32(id)) }
func (m *Module) Var(id VarID) *Var         { return m.Vars.Get(uint32(id)) }
func (m *Module) Func(id FuncID) *Func      { return m.Funcs.Get(uint32(id)) }
func (m *Module) Stmt(id StmtID) *Stmt      { return m.Stmts.Get(uint32(id)) }
func (m *Module) Expr(id ExprID) *Expr      { return m.Exprs.Get(uint32(id)) }

func (m *Module) AddType(t TypeDesc) TypeRef { return TypeRef(m.Types.Allocate(t)) }
func (m *Module) AddVar(v Var) VarID         { return VarID(m.Vars.Allocate(v)) }
func (m *Module) AddStmt(s Stmt) StmtID      { return StmtID(m.Stmts.Allocate(s)) }
func (m *Module) AddExpr(e Expr) ExprID      { return ExprID(m.Exprs.Allocate(e)) }

// AddFunc registers f and lists it among the module's functions.
func (m *Module) AddFunc(f Func) FuncID {
	id := FuncID(m.Funcs.Allocate(f))
	m.Functions = append(m.Functions, id)
	return id
}

// AddGlobal registers a module-level variable.
func (m *Module) AddGlobal(v Var) VarID {
	if v.Kind != VarTLS {
		v.Kind = VarGlobal
	}
	id := m.AddVar(v)
	m.Globals = append(m.Globals, id)
	return id
}

// Validate checks that every reference points inside its arena.
func (m *Module) Validate() error {
	if m.Types == nil || m.Vars == nil || m.Funcs == nil || m.Stmts == nil || m.Exprs == nil {
		return fmt.Errorf("module %q: missing arenas", m.Name)
	}
	checkType := func(where string, id TypeRef) error {
		if id.IsValid() && m.Type(id) == nil {
			return fmt.Errorf("module %q: %s refers to unknown type %d", m.Name, where, id)
		}
		return nil
	}
	for i, t := range m.Types.Items {
		refs := []TypeRef{t.Elem, t.Base, t.Result}
		for _, f := range t.Fields {
			refs = append(refs, f.Type)
		}
		for _, p := range t.Params {
			refs = append(refs, p.Type)
		}
		for _, it := range t.Interfaces {
			refs = append(refs, it.Type)
		}
		for _, r := range refs {
			if err := checkType(fmt.Sprintf("type %d", i+1), r); err != nil {
				return err
			}
		}
	}
	for i, s := range m.Stmts.Items {
		where := fmt.Sprintf("stmt %d (%s)", i+1, s.Kind)
		for _, c := range append([]StmtID{s.A, s.B}, s.Stmts...) {
			if c.IsValid() && m.Stmt(c) == nil {
				return fmt.Errorf("module %q: %s refers to unknown stmt %d", m.Name, where, c)
			}
		}
		for _, x := range []ExprID{s.X, s.Y} {
			if x.IsValid() && m.Expr(x) == nil {
				return fmt.Errorf("module %q: %s refers to unknown expr %d", m.Name, where, x)
			}
		}
		if s.Var.IsValid() && m.Var(s.Var) == nil {
			return fmt.Errorf("module %q: %s refers to unknown var %d", m.Name, where, s.Var)
		}
	}
	for i, e := range m.Exprs.Items {
		where := fmt.Sprintf("expr %d (%s)", i+1, e.Kind)
		if err := checkType(where, e.Type); err != nil {
			return err
		}
		for _, x := range append([]ExprID{e.X, e.Y}, e.Args...) {
			if x.IsValid() && m.Expr(x) == nil {
				return fmt.Errorf("module %q: %s refers to unknown expr %d", m.Name, where, x)
			}
		}
		if e.Var.IsValid() && m.Var(e.Var) == nil {
			return fmt.Errorf("module %q: %s refers to unknown var %d", m.Name, where, e.Var)
		}
		if e.Func.IsValid() && m.Func(e.Func) == nil {
			return fmt.Errorf("module %q: %s refers to unknown func %d", m.Name, where, e.Func)
		}
	}
	for i, f := range m.Funcs.Items {
		if err := checkType(fmt.Sprintf("func %d", i+1), f.Type); err != nil {
			return err
		}
		if f.Body.IsValid() && m.Stmt(f.Body) == nil {
			return fmt.Errorf("module %q: func %s has unknown body %d", m.Name, f.Name, f.Body)
		}
	}
	return nil
}

package lower

import (
	"strings"
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	irtypes "github.com/llir/llvm/ir/types"

	"lowerc/internal/ast"
)

func TestVerifyFuncAcceptsLoweredBodies(t *testing.T) {
	fx := newFixture(t)
	fx.define("f", fx.fnType(fx.i32), func([]ast.VarID) []ast.StmtID {
		return []ast.StmtID{fx.ret(fx.intLit(fx.i32, 7))}
	})
	c := fx.context()
	mod, err := c.LowerModule(t.Context())
	if err != nil {
		t.Fatalf("lower: %v", err)
	}
	for _, f := range mod.Funcs {
		if err := verifyFunc(f); err != nil {
			t.Fatalf("%s: %v", f.Name(), err)
		}
	}
}

func TestVerifyFuncCollectsEveryViolation(t *testing.T) {
	m := ir.NewModule()
	other := m.NewFunc("other", irtypes.Void)
	foreign := other.NewBlock("foreign")
	foreign.NewRet(nil)

	f := m.NewFunc("bad", irtypes.I32)
	entry := f.NewBlock("entry")
	body := f.NewBlock("body")
	open := f.NewBlock("open")
	entry.NewBr(body)
	body.NewAlloca(irtypes.I32)
	body.NewCondBr(constant.True, foreign, open)
	tail := f.NewBlock("tail")
	tail.NewRet(constant.NewInt(irtypes.I64, 1))

	err := verifyFunc(f)
	if err == nil {
		t.Fatal("expected violations")
	}
	msg := err.Error()
	for _, want := range []string{
		"%body: alloca outside the entry block",
		"branch to %foreign of another function",
		"%open: unterminated block",
		"%tail: returns i64, want i32",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("missing %q in:\n%s", want, msg)
		}
	}
}

func TestVerifyRet(t *testing.T) {
	tests := []struct {
		name string
		want irtypes.Type
		x    *constant.Int
		err  string
	}{
		{"void ok", irtypes.Void, nil, ""},
		{"void with value", irtypes.Void, constant.NewInt(irtypes.I32, 0), "void function returns"},
		{"missing value", irtypes.I32, nil, "missing return value"},
		{"match", irtypes.I32, constant.NewInt(irtypes.I32, 0), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ret := &ir.TermRet{}
			if tt.x != nil {
				ret.X = tt.x
			}
			err := verifyRet(tt.want, ret)
			if tt.err == "" {
				if err != nil {
					t.Fatalf("unexpected %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.err) {
				t.Fatalf("err = %v, want %q", err, tt.err)
			}
		})
	}
}

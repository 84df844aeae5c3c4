package lower

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"

	"lowerc/internal/ast"
)

func findFunc(mod *ir.Module, name string) *ir.Func {
	for _, f := range mod.Funcs {
		if f.Name() == name {
			return f
		}
	}
	return nil
}

// findCall returns the first direct call of callee inside caller.
func findCall(mod *ir.Module, caller, callee string) *ir.InstCall {
	f := findFunc(mod, caller)
	if f == nil {
		return nil
	}
	for _, b := range f.Blocks {
		for _, inst := range b.Insts {
			call, ok := inst.(*ir.InstCall)
			if !ok {
				continue
			}
			if fn, ok := call.Callee.(*ir.Func); ok && fn.Name() == callee {
				return call
			}
		}
	}
	return nil
}

func argAttrs(v any) []ir.ParamAttribute {
	if a, ok := v.(*ir.Arg); ok {
		return a.Attrs
	}
	return nil
}

func TestCallAttributesFollowArguments(t *testing.T) {
	fx := newFixture(t)
	u8 := fx.m.AddType(ast.TypeDesc{Kind: "int", Width: 8, Unsigned: true})
	big := fx.m.AddType(ast.TypeDesc{Kind: "struct", Name: "app.Big", Mangle: "_D3app3Big", Size: 24, Fields: []ast.FieldDesc{
		{Name: "a", Type: fx.i64, Offset: 0},
		{Name: "b", Type: fx.i64, Offset: 8},
		{Name: "c", Type: fx.i64, Offset: 16},
	}})
	makeT := fx.m.AddType(ast.TypeDesc{
		Kind: "fn", Result: big, Variadic: "native",
		Params: []ast.ParamDesc{{Type: u8}},
	})
	mk := fx.extern("make", makeT)
	fx.define("main", fx.voidFn, func([]ast.VarID) []ast.StmtID {
		return []ast.StmtID{fx.call(mk, fx.intLit(u8, 1), fx.intLit(fx.i32, 2))}
	})

	mod := fx.mustLowerModule()
	call := findCall(mod, "main", "make")
	if call == nil {
		t.Fatalf("call of make missing:\n%s", mod)
	}
	if len(call.Args) != 4 {
		t.Fatalf("want result slot, u8, _arguments and _argptr, got %d arguments", len(call.Args))
	}

	isSRet := func(attrs []ir.ParamAttribute) bool {
		if len(attrs) != 2 || attrs[1] != enum.ParamAttrNoAlias {
			return false
		}
		_, ok := attrs[0].(ir.SRet)
		return ok
	}
	isZeroExt := func(attrs []ir.ParamAttribute) bool {
		return len(attrs) == 1 && attrs[0] == enum.ParamAttrZeroExt
	}
	cases := []struct {
		name  string
		attrs []ir.ParamAttribute
		check func([]ir.ParamAttribute) bool
	}{
		{"result slot", argAttrs(call.Args[0]), isSRet},
		{"u8", argAttrs(call.Args[1]), isZeroExt},
		{"_arguments", argAttrs(call.Args[2]), func(a []ir.ParamAttribute) bool { return len(a) == 0 }},
		{"_argptr", argAttrs(call.Args[3]), func(a []ir.ParamAttribute) bool { return len(a) == 0 }},
	}
	for _, tc := range cases {
		if !tc.check(tc.attrs) {
			t.Errorf("%s: unexpected attributes %v", tc.name, tc.attrs)
		}
	}

	decl := findFunc(mod, "make")
	if !isSRet(decl.Params[0].Attrs) || !isZeroExt(decl.Params[1].Attrs) {
		t.Fatalf("declaration attributes disagree with the call: %s", decl.LLString())
	}
}

func TestNarrowResultIsExtended(t *testing.T) {
	cases := []struct {
		name     string
		unsigned bool
		want     enum.ReturnAttr
	}{
		{"signed", false, enum.ReturnAttrSignExt},
		{"unsigned", true, enum.ReturnAttrZeroExt},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t)
			short := fx.m.AddType(ast.TypeDesc{Kind: "int", Width: 16, Unsigned: tc.unsigned})
			get := fx.extern("get", fx.fnType(short))
			fx.define("main", fx.voidFn, func([]ast.VarID) []ast.StmtID {
				return []ast.StmtID{fx.call(get)}
			})

			mod := fx.mustLowerModule()
			call := findCall(mod, "main", "get")
			if call == nil {
				t.Fatalf("call of get missing:\n%s", mod)
			}
			if len(call.ReturnAttrs) != 1 || call.ReturnAttrs[0] != tc.want {
				t.Fatalf("call return attributes %v, want %v", call.ReturnAttrs, tc.want)
			}
			if decl := findFunc(mod, "get"); len(decl.ReturnAttrs) != 1 || decl.ReturnAttrs[0] != tc.want {
				t.Fatalf("declaration return attributes %v, want %v", decl.ReturnAttrs, tc.want)
			}
		})
	}
}

package lower

import (
	"context"
	"errors"
	"regexp"
	"slices"
	"strings"
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	irtypes "github.com/llir/llvm/ir/types"

	"lowerc/internal/ast"
	"lowerc/internal/diag"
	"lowerc/internal/source"
)

func TestICmpPredicate(t *testing.T) {
	cases := []struct {
		op       ast.Op
		unsigned bool
		want     enum.IPred
	}{
		{ast.OpLt, false, enum.IPredSLT},
		{ast.OpLt, true, enum.IPredULT},
		{ast.OpUl, false, enum.IPredSLT},
		{ast.OpLe, true, enum.IPredULE},
		{ast.OpUg, false, enum.IPredSGT},
		{ast.OpUge, true, enum.IPredUGE},
		{ast.OpUe, false, enum.IPredEQ},
		{ast.OpLg, true, enum.IPredNE},
	}
	for _, tc := range cases {
		got, _, isConst := ICmpPredicate(tc.op, tc.unsigned)
		if isConst || got != tc.want {
			t.Errorf("%s unsigned=%v: got %s const=%v, want %s", tc.op, tc.unsigned, got, isConst, tc.want)
		}
	}

	if _, answer, isConst := ICmpPredicate(ast.OpLeg, false); !isConst || !answer {
		t.Errorf("<>= on integers must fold to true")
	}
	if _, answer, isConst := ICmpPredicate(ast.OpUnord, true); !isConst || answer {
		t.Errorf("!<>= on integers must fold to false")
	}
}

func TestFCmpPredicate(t *testing.T) {
	cases := map[ast.Op]enum.FPred{
		ast.OpLt:    enum.FPredOLT,
		ast.OpGe:    enum.FPredOGE,
		ast.OpUnord: enum.FPredUNO,
		ast.OpUle:   enum.FPredULE,
		ast.OpUl:    enum.FPredULT,
		ast.OpUg:    enum.FPredUGT,
		ast.OpUe:    enum.FPredUEQ,
		ast.OpLg:    enum.FPredONE,
		ast.OpLeg:   enum.FPredORD,
		ast.OpEq:    enum.FPredOEQ,
		ast.OpNe:    enum.FPredUNE,
	}
	for op, want := range cases {
		if got := FCmpPredicate(op); got != want {
			t.Errorf("%s: got %s, want %s", op, got, want)
		}
	}
}

func TestGetOrCreateGlobal(t *testing.T) {
	fx := newFixture(t)
	c := fx.context()
	pos := source.Pos{Line: 3}

	g1, err := c.GetOrCreateGlobal(pos, "_D3app7counteri", irtypes.I32, GlobalOpts{})
	if err != nil {
		t.Fatal(err)
	}
	g2, err := c.GetOrCreateGlobal(pos, "_D3app7counteri", irtypes.I32, GlobalOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if g1 != g2 {
		t.Fatalf("same name and type must return the same global")
	}

	_, err = c.GetOrCreateGlobal(pos, "_D3app7counteri", irtypes.I64, GlobalOpts{})
	if KindOf(err) != LinkageConflict {
		t.Fatalf("type mismatch: got %v, want a linkage conflict", err)
	}
	if IsFatal(err) {
		t.Fatalf("linkage conflicts are module scoped")
	}
	_, err = c.GetOrCreateGlobal(pos, "_D3app7counteri", irtypes.I32, GlobalOpts{TLS: true})
	if KindOf(err) != LinkageConflict {
		t.Fatalf("TLS mismatch: got %v, want a linkage conflict", err)
	}
}

func TestLinkageNameIsNFC(t *testing.T) {
	composed := LinkageName("_D3app4caf\u00e9i", "")
	decomposed := LinkageName("_D3app4cafe\u0301i", "")
	if composed != decomposed {
		t.Fatalf("%q and %q must map onto one symbol", composed, decomposed)
	}
	if got := LinkageName("", "printf"); got != "printf" {
		t.Fatalf("missing mangle must fall back to the name, got %q", got)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	f := fx.extern("puts", fx.voidFn)
	c := fx.context()

	a, err := c.Resolve(FuncDecl(f))
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Resolve(FuncDecl(f))
	if err != nil {
		t.Fatal(err)
	}
	if a != b || a.Func() == nil || a.State != Resolved {
		t.Fatalf("resolve must return one record: %+v %+v", a, b)
	}
	if c.Record(FuncDecl(f)) != a {
		t.Fatalf("record lookup disagrees with resolve")
	}
}

func TestDefineTwiceIsInternal(t *testing.T) {
	fx := newFixture(t)
	v := fx.m.AddGlobal(ast.Var{Name: "total", Mangle: "_D3app5totali", Type: fx.i32})
	c := fx.context()

	if err := c.Define(VarDecl(v)); err != nil {
		t.Fatal(err)
	}
	err := c.Define(VarDecl(v))
	if KindOf(err) != InternalInvariantViolation || !IsFatal(err) {
		t.Fatalf("second define: got %v, want a fatal internal error", err)
	}
}

func TestLinkageConflictIsReportedOnce(t *testing.T) {
	cases := []struct {
		name string
		call bool
	}{
		{"declared only", false},
		{"declared and called", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t)
			fx.extern("clash", fx.voidFn)
			second := fx.extern("clash", fx.fnType(fx.i32))
			if tc.call {
				fx.define("main", fx.voidFn, func([]ast.VarID) []ast.StmtID {
					return []ast.StmtID{fx.call(second)}
				})
			}

			mod, err := fx.context().LowerModule(context.Background())
			if KindOf(err) != LinkageConflict {
				t.Fatalf("got %v, want a linkage conflict", err)
			}
			if mod != nil {
				t.Fatalf("a module with errors must yield no IR")
			}
			if codes := fx.codes(); !slices.Equal(codes, []diag.Code{diag.LowLinkageConflict}) {
				t.Fatalf("want the conflict reported once, got %v", codes)
			}
		})
	}
}

func TestResolveFailureIsCached(t *testing.T) {
	fx := newFixture(t)
	pair := fx.m.AddType(ast.TypeDesc{Kind: "struct", Name: "app.Pair", Mangle: "_D3app4Pair", Size: 8, Line: 12, Fields: []ast.FieldDesc{
		{Name: "a", Type: fx.i32, Offset: 0},
		{Name: "b", Type: fx.i32, Offset: 4},
	}})
	c := fx.context()
	if _, err := c.GetOrCreateGlobal(source.Pos{Line: 3}, "_D3app4Pair6__initZ", irtypes.I32, GlobalOpts{}); err != nil {
		t.Fatal(err)
	}

	_, err := c.Resolve(AggregateDecl(pair))
	var le *Error
	if !errors.As(err, &le) || le.Kind != LinkageConflict {
		t.Fatalf("got %v, want a linkage conflict", err)
	}
	if le.Pos.Line != 12 {
		t.Fatalf("conflict reported at line %d, want the aggregate's line 12", le.Pos.Line)
	}
	rec := c.Record(AggregateDecl(pair))
	if rec == nil || rec.Err != err || rec.Pos.Line != 12 {
		t.Fatalf("failure not recorded: %+v", rec)
	}
	if _, again := c.Resolve(AggregateDecl(pair)); again != err {
		t.Fatalf("second resolve must return the recorded failure, got %v", again)
	}
}

func TestGotoIntoTryFinallyIsRejected(t *testing.T) {
	fx := newFixture(t)
	fx.define("f", fx.voidFn, func([]ast.VarID) []ast.StmtID {
		return []ast.StmtID{
			fx.gotoStmt("inside"),
			fx.tryFinally(fx.block(fx.label("inside", ast.NoStmtID)), fx.block()),
		}
	})

	_, err := fx.lower()
	if KindOf(err) != InvalidControlFlow {
		t.Fatalf("got %v, want invalid control flow", err)
	}
	items := fx.bag.Items()
	if len(items) != 1 || items[0].Code != diag.LowInvalidControlFlow {
		t.Fatalf("unexpected diagnostics: %+v", items)
	}
	if len(items[0].Notes) != 1 || items[0].Notes[0].Msg != "label defined here" {
		t.Fatalf("label position note missing: %+v", items[0].Notes)
	}
}

func TestGotoOutOfFinallyIsRejected(t *testing.T) {
	fx := newFixture(t)
	fx.define("f", fx.voidFn, func([]ast.VarID) []ast.StmtID {
		return []ast.StmtID{
			fx.tryFinally(fx.block(), fx.block(fx.gotoStmt("out"))),
			fx.label("out", ast.NoStmtID),
		}
	})

	if _, err := fx.lower(); KindOf(err) != InvalidControlFlow {
		t.Fatalf("got %v, want invalid control flow", err)
	}
}

func TestGotoOutOfTryRunsFinally(t *testing.T) {
	fx := newFixture(t)
	fin := fx.extern("fin", fx.voidFn)
	fx.define("f", fx.voidFn, func([]ast.VarID) []ast.StmtID {
		return []ast.StmtID{
			fx.tryFinally(fx.block(fx.gotoStmt("out")), fx.block(fx.call(fin))),
			fx.label("out", fx.ret(ast.NoExprID)),
		}
	})

	out := fx.mustLower()
	// once on the goto path, once in the landing pad
	if n := strings.Count(out, "call void @fin()"); n != 2 {
		t.Fatalf("finally emitted %d times, want 2:\n%s", n, out)
	}
	if !strings.Contains(out, "landingpad") || !strings.Contains(out, "personality") {
		t.Fatalf("try-finally needs a landing pad:\n%s", out)
	}
	if strings.Index(out, "call void @fin()") > strings.Index(out, "br label %out") {
		t.Fatalf("finally must run before the jump:\n%s", out)
	}
}

func TestScopeGuards(t *testing.T) {
	cases := []struct {
		name   string
		guard  ast.GuardKind
		fins   int
		invoke bool
	}{
		{"exit", ast.GuardExit, 2, true},
		{"success", ast.GuardSuccess, 1, false},
		{"failure", ast.GuardFailure, 1, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t)
			fin := fx.extern("fin", fx.voidFn)
			work := fx.extern("work", fx.voidFn)
			fx.define("f", fx.voidFn, func([]ast.VarID) []ast.StmtID {
				return []ast.StmtID{
					fx.stmt(ast.Stmt{Kind: ast.StmtScopeGuard, Guard: tc.guard, A: fx.call(fin)}),
					fx.call(work),
				}
			})

			out := fx.mustLower()
			if n := strings.Count(out, "call void @fin()"); n != tc.fins {
				t.Fatalf("guard body emitted %d times, want %d:\n%s", n, tc.fins, out)
			}
			if got := strings.Contains(out, "invoke void @work()"); got != tc.invoke {
				t.Fatalf("invoke=%v, want %v:\n%s", got, tc.invoke, out)
			}
		})
	}
}

func TestSynchronizedReturnReleasesLock(t *testing.T) {
	fx := newFixture(t)
	fx.define("f", fx.voidFn, func([]ast.VarID) []ast.StmtID {
		return []ast.StmtID{
			fx.stmt(ast.Stmt{Kind: ast.StmtSynchronized, A: fx.block(fx.ret(ast.NoExprID))}),
		}
	})

	out := fx.mustLower()
	if !strings.Contains(out, "@f.__critsec = internal global [48 x i8] zeroinitializer") {
		t.Fatalf("critical section global missing:\n%s", out)
	}
	if n := strings.Count(out, "call void @_d_criticalexit("); n != 1 {
		t.Fatalf("lock released %d times, want 1:\n%s", n, out)
	}
	enter := strings.Index(out, "call void @_d_criticalenter(")
	exit := strings.Index(out, "call void @_d_criticalexit(")
	ret := strings.Index(out, "ret void")
	if enter < 0 || enter > exit || exit > ret {
		t.Fatalf("want enter, exit, ret in that order:\n%s", out)
	}
}

func TestImaginaryProductIsNegated(t *testing.T) {
	fx := newFixture(t)
	fx.define("f", fx.fnType(fx.f64, fx.idbl, fx.idbl), func(p []ast.VarID) []ast.StmtID {
		mul := fx.expr(ast.Expr{Kind: ast.ExprBinary, Type: fx.f64, Op: ast.OpMul, X: fx.ref(p[0]), Y: fx.ref(p[1])})
		return []ast.StmtID{fx.ret(mul)}
	})

	out := fx.mustLower()
	for _, want := range []string{"fmul double", "fneg double", "ret double"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q:\n%s", want, out)
		}
	}
}

func TestNumericConversions(t *testing.T) {
	cases := []struct {
		name     string
		from, to func(*fixture) ast.TypeRef
		want     string
	}{
		{"int to long", (*fixture).int32T, (*fixture).int64T, "sext i32"},
		{"uint to ulong", (*fixture).uint32T, (*fixture).uint64T, "zext i32"},
		{"long to int", (*fixture).int64T, (*fixture).int32T, "trunc i64"},
		{"int to double", (*fixture).int32T, (*fixture).doubleT, "sitofp i32"},
		{"uint to double", (*fixture).uint32T, (*fixture).doubleT, "uitofp i32"},
		{"double to int", (*fixture).doubleT, (*fixture).int32T, "fptosi double"},
		{"double to uint", (*fixture).doubleT, (*fixture).uint32T, "fptoui double"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t)
			from, to := tc.from(fx), tc.to(fx)
			fx.define("f", fx.fnType(to, from), func(p []ast.VarID) []ast.StmtID {
				return []ast.StmtID{fx.ret(fx.expr(ast.Expr{Kind: ast.ExprCast, Type: to, X: fx.ref(p[0])}))}
			})
			if out := fx.mustLower(); !strings.Contains(out, tc.want) {
				t.Fatalf("missing %q:\n%s", tc.want, out)
			}
		})
	}
}

func (fx *fixture) int32T() ast.TypeRef  { return fx.i32 }
func (fx *fixture) int64T() ast.TypeRef  { return fx.i64 }
func (fx *fixture) uint32T() ast.TypeRef { return fx.u32 }
func (fx *fixture) uint64T() ast.TypeRef { return fx.u64 }
func (fx *fixture) doubleT() ast.TypeRef { return fx.f64 }

func TestDeleteClassFinalizesOnce(t *testing.T) {
	fx := newFixture(t)
	cls := fx.m.AddType(ast.TypeDesc{Kind: "class", Name: "app.Widget", Mangle: "_D3app6Widget"})
	fx.define("f", fx.fnType(fx.void, cls), func(p []ast.VarID) []ast.StmtID {
		return []ast.StmtID{fx.stmt(ast.Stmt{Kind: ast.StmtDelete, X: fx.ref(p[0])})}
	})

	out := fx.mustLower()
	if n := strings.Count(out, "call void @_d_callfinalizer("); n != 1 {
		t.Fatalf("finalizer called %d times, want 1:\n%s", n, out)
	}
	fin := strings.Index(out, "call void @_d_callfinalizer(")
	del := strings.Index(out, "call void @_d_delmemory(")
	if del < fin {
		t.Fatalf("memory freed before finalization:\n%s", out)
	}
	if !strings.Contains(out, "icmp ne") {
		t.Fatalf("delete of a class reference must be null guarded:\n%s", out)
	}
}

func TestNativeVariadicCall(t *testing.T) {
	fx := newFixture(t)
	logT := fx.m.AddType(ast.TypeDesc{
		Kind: "fn", Result: fx.void, Variadic: "native",
		Params: []ast.ParamDesc{{Type: fx.i32}},
	})
	logFn := fx.extern("log", logT)
	fx.define("main", fx.voidFn, func([]ast.VarID) []ast.StmtID {
		return []ast.StmtID{fx.call(logFn, fx.intLit(fx.i32, 1), fx.intLit(fx.i32, 2), fx.intLit(fx.i64, 3))}
	})

	out := fx.mustLower()
	for _, want := range []string{
		"@main._arguments = private constant [2 x i8*]",
		"@_D10TypeInfo_i6__initZ",
		"@_D10TypeInfo_l6__initZ",
		"%_argbuf = alloca",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q:\n%s", want, out)
		}
	}
}

func TestShortCircuit(t *testing.T) {
	fx := newFixture(t)
	fx.define("both", fx.fnType(fx.boolT, fx.boolT, fx.boolT), func(p []ast.VarID) []ast.StmtID {
		and := fx.expr(ast.Expr{Kind: ast.ExprBinary, Type: fx.boolT, Op: ast.OpAndAnd, X: fx.ref(p[0]), Y: fx.ref(p[1])})
		return []ast.StmtID{fx.ret(and)}
	})

	out := fx.mustLower()
	for _, want := range []string{"and.rhs:", "and.end:", "phi i1 [ false, %body ]"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q:\n%s", want, out)
		}
	}
}

func TestModuleConstructorTable(t *testing.T) {
	cases := []struct {
		name     string
		priority int
		want     int64
	}{
		{"default priority", 0, 65535},
		{"explicit priority", 101, 101},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t)
			setup := fx.define("setup", fx.voidFn, func([]ast.VarID) []ast.StmtID { return nil })
			fx.m.Func(setup).Ctor = true
			fx.m.Func(setup).Priority = tc.priority

			mod := fx.mustLowerModule()
			if !strings.Contains(mod.String(), "@llvm.global_ctors = appending global [1 x { i32, void ()*, i8* }]") {
				t.Fatalf("constructor table missing:\n%s", mod)
			}
			var table *ir.Global
			for _, g := range mod.Globals {
				if g.Name() == "llvm.global_ctors" {
					table = g
				}
			}
			entry := table.Init.(*constant.Array).Elems[0].(*constant.Struct)
			if got := entry.Fields[0].(*constant.Int).X.Int64(); got != tc.want {
				t.Fatalf("priority = %d, want %d", got, tc.want)
			}
			if fn, ok := entry.Fields[1].(*ir.Func); !ok || fn.Name() != "setup" {
				t.Fatalf("entry calls %v, want @setup", entry.Fields[1])
			}
		})
	}
}

func TestNestedScopesBalance(t *testing.T) {
	fx := newFixture(t)
	work := fx.extern("work", fx.voidFn)
	fx.define("f", fx.voidFn, func([]ast.VarID) []ast.StmtID {
		loop := fx.stmt(ast.Stmt{
			Kind: ast.StmtWhile,
			X:    fx.expr(ast.Expr{Kind: ast.ExprBool, Type: fx.boolT, Bool: true}),
			A: fx.block(
				fx.stmt(ast.Stmt{Kind: ast.StmtScopeGuard, A: fx.call(work)}),
				fx.stmt(ast.Stmt{Kind: ast.StmtBreak}),
			),
		})
		return []ast.StmtID{fx.block(loop), fx.tryFinally(fx.block(fx.call(work)), fx.block())}
	})

	out := fx.mustLower()
	if !strings.Contains(out, "ret void") {
		t.Fatalf("function must return:\n%s", out)
	}
}

func TestLeaveWithoutScopeIsInternal(t *testing.T) {
	var fl FuncLowerer
	if _, err := fl.LeaveScope(LeaveNormal); KindOf(err) != InternalInvariantViolation {
		t.Fatalf("got %v, want an internal error", err)
	}
}

func TestFieldAccess(t *testing.T) {
	fx := newFixture(t)
	pair := fx.m.AddType(ast.TypeDesc{Kind: "struct", Name: "app.Pair", Mangle: "_D3app4Pair", Size: 16, Fields: []ast.FieldDesc{
		{Name: "a", Type: fx.i32, Offset: 0},
		{Name: "b", Type: fx.i64, Offset: 8},
	}})
	union := fx.m.AddType(ast.TypeDesc{Kind: "struct", Name: "app.Either", Mangle: "_D3app6Either", Size: 8, Union: true, Fields: []ast.FieldDesc{
		{Name: "narrow", Type: fx.i32, Offset: 0},
		{Name: "wide", Type: fx.i64, Offset: 0},
	}})
	pairPtr := fx.m.AddType(ast.TypeDesc{Kind: "pointer", Elem: pair})
	unionPtr := fx.m.AddType(ast.TypeDesc{Kind: "pointer", Elem: union})
	member := func(x ast.ExprID, field int, typ ast.TypeRef) ast.ExprID {
		return fx.expr(ast.Expr{Kind: ast.ExprMember, Type: typ, X: x, Field: field})
	}
	fx.define("second", fx.fnType(fx.i64, pairPtr), func(p []ast.VarID) []ast.StmtID {
		return []ast.StmtID{fx.ret(member(fx.ref(p[0]), 1, fx.i64))}
	})
	fx.define("narrow", fx.fnType(fx.i32, unionPtr), func(p []ast.VarID) []ast.StmtID {
		return []ast.StmtID{fx.ret(member(fx.ref(p[0]), 0, fx.i32))}
	})

	out := fx.mustLower()
	for _, want := range []string{
		"%app.Pair = type { i32, [4 x i8], i64 }",
		"getelementptr %app.Pair, %app.Pair*",
		"i32 0, i32 2",
		// the narrow member shares its slot with the wide one
		"getelementptr i8, i8*",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q:\n%s", want, out)
		}
	}
}

func TestGotoIntoSynchronizedIsRejected(t *testing.T) {
	fx := newFixture(t)
	fx.define("f", fx.voidFn, func([]ast.VarID) []ast.StmtID {
		return []ast.StmtID{
			fx.gotoStmt("inside"),
			fx.stmt(ast.Stmt{Kind: ast.StmtSynchronized, A: fx.block(fx.label("inside", ast.NoStmtID))}),
		}
	})

	if _, err := fx.lower(); KindOf(err) != InvalidControlFlow {
		t.Fatalf("got %v, want invalid control flow", err)
	}
}

func TestPackedMemberAccess(t *testing.T) {
	fx := newFixture(t)
	i8 := fx.m.AddType(ast.TypeDesc{Kind: "int", Width: 8})
	packed := fx.m.AddType(ast.TypeDesc{Kind: "struct", Name: "app.P", Mangle: "_D3app1P", Size: 5, Align: 1, Fields: []ast.FieldDesc{
		{Name: "b", Type: i8, Offset: 0},
		{Name: "n", Type: fx.i32, Offset: 1},
	}})
	packedPtr := fx.m.AddType(ast.TypeDesc{Kind: "pointer", Elem: packed})
	member := func(x ast.ExprID) ast.ExprID {
		return fx.expr(ast.Expr{Kind: ast.ExprMember, Type: fx.i32, X: x, Field: 1})
	}
	fx.define("getn", fx.fnType(fx.i32, packedPtr), func(p []ast.VarID) []ast.StmtID {
		return []ast.StmtID{fx.ret(member(fx.ref(p[0])))}
	})
	fx.define("setn", fx.fnType(fx.void, packedPtr, fx.i32), func(p []ast.VarID) []ast.StmtID {
		return []ast.StmtID{fx.stmt(ast.Stmt{Kind: ast.StmtAssign, X: member(fx.ref(p[0])), Y: fx.ref(p[1])})}
	})

	out := fx.mustLower()
	if !strings.Contains(out, "%app.P = type <{ i8, i32 }>") {
		t.Fatalf("struct must be packed:\n%s", out)
	}
	for _, want := range []string{
		`load i32, i32\* %\S+, align 1`,
		`store i32 %\S+, i32\* %\S+, align 1`,
	} {
		if !regexp.MustCompile(want).MatchString(out) {
			t.Fatalf("missing %s:\n%s", want, out)
		}
	}
}

func TestAlignedMemberAccessUsesNaturalAlignment(t *testing.T) {
	fx := newFixture(t)
	pair := fx.m.AddType(ast.TypeDesc{Kind: "struct", Name: "app.Pair", Mangle: "_D3app4Pair", Size: 16, Fields: []ast.FieldDesc{
		{Name: "a", Type: fx.i32, Offset: 0},
		{Name: "b", Type: fx.i64, Offset: 8},
	}})
	pairPtr := fx.m.AddType(ast.TypeDesc{Kind: "pointer", Elem: pair})
	fx.define("second", fx.fnType(fx.i64, pairPtr), func(p []ast.VarID) []ast.StmtID {
		return []ast.StmtID{fx.ret(fx.expr(ast.Expr{Kind: ast.ExprMember, Type: fx.i64, X: fx.ref(p[0]), Field: 1}))}
	})

	out := fx.mustLower()
	if regexp.MustCompile(`load i64, i64\* %\S+, align`).MatchString(out) {
		t.Fatalf("aligned member loaded with an explicit alignment:\n%s", out)
	}
}

func TestOffsetAlign(t *testing.T) {
	cases := []struct {
		base uint32
		off  uint64
		want uint32
	}{
		{8, 0, 8},
		{8, 4, 4},
		{8, 1, 1},
		{4, 6, 2},
		{1, 8, 1},
		{0, 3, 1},
	}
	for _, tc := range cases {
		if got := offsetAlign(tc.base, tc.off); got != tc.want {
			t.Errorf("offsetAlign(%d, %d) = %d, want %d", tc.base, tc.off, got, tc.want)
		}
	}
}

func TestConversionRoundTrips(t *testing.T) {
	cases := []struct {
		name  string
		build func(fx *fixture, x ast.ExprID) ast.ExprID
		want  []string
	}{
		{
			name: "widen then narrow",
			build: func(fx *fixture, x ast.ExprID) ast.ExprID {
				wide := fx.expr(ast.Expr{Kind: ast.ExprCast, Type: fx.i64, X: x})
				return fx.expr(ast.Expr{Kind: ast.ExprCast, Type: fx.i32, X: wide})
			},
			want: []string{"sext i32", "trunc i64", "ret i32"},
		},
		{
			name: "paint falls back to convert",
			build: func(fx *fixture, x ast.ExprID) ast.ExprID {
				wide := fx.expr(ast.Expr{Kind: ast.ExprCast, Type: fx.i64, X: x, Paint: true})
				return fx.expr(ast.Expr{Kind: ast.ExprCast, Type: fx.i32, X: wide, Paint: true})
			},
			want: []string{"sext i32", "trunc i64"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t)
			fx.define("f", fx.fnType(fx.i32, fx.i32), func(p []ast.VarID) []ast.StmtID {
				return []ast.StmtID{fx.ret(tc.build(fx, fx.ref(p[0])))}
			})
			out := fx.mustLower()
			last := -1
			for _, want := range tc.want {
				i := strings.Index(out, want)
				if i < 0 || i < last {
					t.Fatalf("want %q in order:\n%s", tc.want, out)
				}
				last = i
			}
		})
	}
}

func TestInvalidImaginaryConversions(t *testing.T) {
	cases := []struct {
		name string
		from func(*fixture) ast.TypeRef
	}{
		{"float to wider imaginary", func(fx *fixture) ast.TypeRef {
			return fx.m.AddType(ast.TypeDesc{Kind: "float", Width: 32})
		}},
		{"integer to imaginary", (*fixture).int32T},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t)
			from := tc.from(fx)
			fx.define("f", fx.fnType(fx.idbl, from), func(p []ast.VarID) []ast.StmtID {
				return []ast.StmtID{fx.ret(fx.expr(ast.Expr{Kind: ast.ExprCast, Type: fx.idbl, X: fx.ref(p[0])}))}
			})
			_, err := fx.lower()
			if KindOf(err) != InvalidConversion || !IsFatal(err) {
				t.Fatalf("got %v, want a fatal invalid conversion", err)
			}
		})
	}
}

func TestDelegateConversion(t *testing.T) {
	fx := newFixture(t)
	i32Ptr := fx.m.AddType(ast.TypeDesc{Kind: "pointer", Elem: fx.i32})
	i64Ptr := fx.m.AddType(ast.TypeDesc{Kind: "pointer", Elem: fx.i64})
	from := fx.m.AddType(ast.TypeDesc{Kind: "delegate", Elem: fx.fnType(fx.void, i32Ptr)})
	to := fx.m.AddType(ast.TypeDesc{Kind: "delegate", Elem: fx.fnType(fx.void, i64Ptr)})
	fx.define("f", fx.fnType(to, from), func(p []ast.VarID) []ast.StmtID {
		return []ast.StmtID{fx.ret(fx.expr(ast.Expr{Kind: ast.ExprCast, Type: to, X: fx.ref(p[0])}))}
	})

	out := fx.mustLower()
	if n := strings.Count(out, "extractvalue"); n != 2 {
		t.Fatalf("want context and function extracted, got %d extracts:\n%s", n, out)
	}
	if n := strings.Count(out, "insertvalue"); n != 2 {
		t.Fatalf("want context and function inserted, got %d inserts:\n%s", n, out)
	}
	if !strings.Contains(out, "bitcast void (") {
		t.Fatalf("function pointer must be retyped:\n%s", out)
	}
}

func TestReleaseHeap(t *testing.T) {
	cases := []struct {
		name  string
		typ   func(fx *fixture) ast.TypeRef
		want  []string
		calls map[string]int
	}{
		{
			name: "interface",
			typ: func(fx *fixture) ast.TypeRef {
				return fx.m.AddType(ast.TypeDesc{Kind: "interface", Name: "app.Shape", Mangle: "_D3app5Shape"})
			},
			want:  []string{"icmp ne", "sub i64 0,"},
			calls: map[string]int{"@_d_callfinalizer(": 1, "@_d_delmemory(": 1},
		},
		{
			name: "array of destructible structs",
			typ: func(fx *fixture) ast.TypeRef {
				res := fx.m.AddType(ast.TypeDesc{Kind: "struct", Name: "app.Res", Mangle: "_D3app3Res", Size: 4, Dtor: "_D3app3Res6__dtorMFZv", Fields: []ast.FieldDesc{
					{Name: "fd", Type: fx.i32, Offset: 0},
				}})
				return fx.m.AddType(ast.TypeDesc{Kind: "slice", Elem: res})
			},
			want:  []string{"each.cond", "each.body", "icmp ult i64"},
			calls: map[string]int{"@_D3app3Res6__dtorMFZv(": 1, "@_d_delmemory(": 1, "@_d_callfinalizer(": 0},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t)
			typ := tc.typ(fx)
			fx.define("f", fx.fnType(fx.void, typ), func(p []ast.VarID) []ast.StmtID {
				return []ast.StmtID{fx.stmt(ast.Stmt{Kind: ast.StmtDelete, X: fx.ref(p[0])})}
			})

			out := fx.mustLower()
			for _, want := range tc.want {
				if !strings.Contains(out, want) {
					t.Fatalf("missing %q:\n%s", want, out)
				}
			}
			for callee, n := range tc.calls {
				if got := strings.Count(out, "call void "+callee); got != n {
					t.Fatalf("%s called %d times, want %d:\n%s", callee, got, n, out)
				}
			}
		})
	}
}

func TestSliceConversionRescalesLength(t *testing.T) {
	fx := newFixture(t)
	ints := fx.m.AddType(ast.TypeDesc{Kind: "slice", Elem: fx.i32})
	longs := fx.m.AddType(ast.TypeDesc{Kind: "slice", Elem: fx.i64})
	fx.define("f", fx.fnType(longs, ints), func(p []ast.VarID) []ast.StmtID {
		return []ast.StmtID{fx.ret(fx.expr(ast.Expr{Kind: ast.ExprCast, Type: longs, X: fx.ref(p[0])}))}
	})

	out := fx.mustLower()
	for _, want := range []string{`mul i64 %\S+, 4`, `udiv i64 %\S+, 8`} {
		if !regexp.MustCompile(want).MatchString(out) {
			t.Fatalf("missing %s:\n%s", want, out)
		}
	}
}

package layout

import (
	"errors"
	"testing"

	irtypes "github.com/llir/llvm/ir/types"

	"lowerc/internal/target"
	"lowerc/internal/types"
)

func newEngine(t *testing.T) (*Engine, *types.Interner) {
	t.Helper()
	in := types.NewInterner()
	return New(target.X86_64LinuxGNU(), in), in
}

func TestScalarLayouts(t *testing.T) {
	e, in := newEngine(t)
	b := in.Builtins()
	cases := []struct {
		id    types.TypeID
		size  uint64
		align uint32
	}{
		{b.Bool, 1, 1},
		{b.Short, 2, 2},
		{b.Long, 8, 8},
		{b.Real, 16, 16},
		{b.Cdouble, 16, 8},
		{b.String, 16, 8},
		{in.Intern(types.MakeArray(b.Int, 3)), 12, 4},
	}
	for _, tc := range cases {
		l, err := e.LayoutOf(tc.id)
		if err != nil {
			t.Fatalf("%s: %v", in.String(tc.id), err)
		}
		if l.Size != tc.size || l.Align != tc.align {
			t.Errorf("%s: got %d/%d, want %d/%d", in.String(tc.id), l.Size, l.Align, tc.size, tc.align)
		}
	}
	x86 := New(target.I686LinuxGNU(), in)
	if a, _ := x86.AlignOf(b.Long); a != 4 {
		t.Errorf("long on i686 must be 4-aligned, got %d", a)
	}
}

func TestAggregatePaddingAndSlots(t *testing.T) {
	e, in := newEngine(t)
	b := in.Builtins()
	s := in.RegisterAggregate(types.KindStruct, types.AggregateInfo{
		Name: "app.S",
		Fields: []types.Field{
			{Name: "a", Type: b.Ubyte, Offset: 0},
			{Name: "b", Type: b.Int, Offset: 4},
			{Name: "c", Type: b.Long, Offset: 16},
		},
	})
	agg, err := e.Aggregate(s)
	if err != nil {
		t.Fatal(err)
	}
	if agg.Packed {
		t.Fatalf("naturally aligned struct must not be packed")
	}
	if agg.Size != 24 {
		t.Fatalf("expected size 24, got %d", agg.Size)
	}
	// a, pad[3], b, pad[8], c
	if len(agg.Slots) != 5 {
		t.Fatalf("expected 5 slots, got %v", agg.Slots)
	}
	for field, want := range []int{0, 2, 4} {
		got, ok := agg.FieldSlot(field)
		if !ok || got != want {
			t.Errorf("field %d: slot %d (%v), want %d", field, got, ok, want)
		}
	}
	if e.IRSize(agg.IR) != agg.Size {
		t.Fatalf("backend size %d disagrees with language size %d", e.IRSize(agg.IR), agg.Size)
	}
	for i, sl := range agg.Slots {
		off, _ := e.IRFieldOffset(agg.IR, i)
		if off != sl.Offset {
			t.Errorf("slot %d: backend offset %d, expected %d", i, off, sl.Offset)
		}
	}
}

func TestOverlappingMembersNeverBothGetSlots(t *testing.T) {
	e, in := newEngine(t)
	b := in.Builtins()
	u := in.RegisterAggregate(types.KindStruct, types.AggregateInfo{
		Name:    "app.U",
		IsUnion: true,
		Fields: []types.Field{
			{Name: "i", Type: b.Int, Offset: 0},
			{Name: "d", Type: b.Double, Offset: 0},
			{Name: "s", Type: b.Short, Offset: 0},
			{Name: "tail", Type: b.Ubyte, Offset: 2},
		},
	})
	agg, err := e.Aggregate(u)
	if err != nil {
		t.Fatal(err)
	}
	withSlot := 0
	for i := range 4 {
		if _, ok := agg.FieldSlot(i); ok {
			withSlot++
		}
	}
	if withSlot != 1 {
		t.Fatalf("exactly one of the overlapping members may own a slot, got %d", withSlot)
	}
	if slot, ok := agg.FieldSlot(1); !ok || slot != 0 {
		t.Fatalf("largest member must own the slot, got %d %v", slot, ok)
	}
}

func TestOverlapTieGoesToFirstDeclared(t *testing.T) {
	e, in := newEngine(t)
	b := in.Builtins()
	u := in.RegisterAggregate(types.KindStruct, types.AggregateInfo{
		Name:   "app.V",
		Fields: []types.Field{{Name: "f", Type: b.Float, Offset: 0}, {Name: "i", Type: b.Int, Offset: 0}},
	})
	agg, err := e.Aggregate(u)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := agg.FieldSlot(0); !ok {
		t.Fatalf("first declared member must win a tie")
	}
	if _, ok := agg.FieldSlot(1); ok {
		t.Fatalf("second member of a tie must not get a slot")
	}
}

func TestMisalignedOffsetPacksStruct(t *testing.T) {
	e, in := newEngine(t)
	b := in.Builtins()
	p := in.RegisterAggregate(types.KindStruct, types.AggregateInfo{
		Name:   "app.P",
		Align:  1,
		Size:   5,
		Fields: []types.Field{{Name: "a", Type: b.Ubyte, Offset: 0}, {Name: "b", Type: b.Int, Offset: 1}},
	})
	agg, err := e.Aggregate(p)
	if err != nil {
		t.Fatal(err)
	}
	if !agg.Packed || !agg.IR.Packed {
		t.Fatalf("struct with int at offset 1 must be packed")
	}
	if e.IRSize(agg.IR) != 5 {
		t.Fatalf("packed size must be 5, got %d", e.IRSize(agg.IR))
	}
	if !e.HasUnalignedFields(p) {
		t.Fatalf("HasUnalignedFields must see the misaligned int")
	}
	outer := in.RegisterAggregate(types.KindStruct, types.AggregateInfo{
		Name:   "app.Outer",
		Fields: []types.Field{{Name: "p", Type: p, Offset: 0}},
	})
	if !e.HasUnalignedFields(outer) {
		t.Fatalf("unaligned member must be found through nesting")
	}
}

func TestClassHeaderSlots(t *testing.T) {
	e, in := newEngine(t)
	b := in.Builtins()
	iface := in.RegisterAggregate(types.KindInterface, types.AggregateInfo{Name: "app.I"})
	c := in.RegisterAggregate(types.KindClass, types.AggregateInfo{
		Name:       "app.C",
		Fields:     []types.Field{{Name: "x", Type: b.Int, Offset: 16}},
		Interfaces: []types.InterfaceImpl{{Iface: iface, Offset: 24}},
	})
	agg, err := e.Aggregate(c)
	if err != nil {
		t.Fatal(err)
	}
	if agg.Slots[0].Kind != SlotVPtr || agg.Slots[1].Kind != SlotMonitor {
		t.Fatalf("class must start with vptr and monitor: %v", agg.Slots)
	}
	if slot, ok := agg.InterfaceSlot(24); !ok || agg.Slots[slot].Kind != SlotInterface {
		t.Fatalf("interface vptr slot missing")
	}
	if agg.Size != 32 {
		t.Fatalf("expected instance size 32, got %d", agg.Size)
	}
	ir, err := e.IRType(c)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ir.(*irtypes.PointerType); !ok {
		t.Fatalf("class references must map to pointers, got %T", ir)
	}
}

func TestSelfReferenceThroughPointer(t *testing.T) {
	e, in := newEngine(t)
	b := in.Builtins()
	node := in.RegisterAggregate(types.KindStruct, types.AggregateInfo{Name: "app.Node"})
	in.SetAggregateFields(node, []types.Field{
		{Name: "next", Type: in.Intern(types.MakePointer(node)), Offset: 0},
		{Name: "v", Type: b.Int, Offset: 8},
	}, 16)
	agg, err := e.Aggregate(node)
	if err != nil {
		t.Fatalf("pointer self-reference must resolve: %v", err)
	}
	ptr, ok := agg.IR.Fields[0].(*irtypes.PointerType)
	if !ok || ptr.ElemType != irtypes.Type(agg.IR) {
		t.Fatalf("next must point back at the named struct")
	}

	loop := in.RegisterAggregate(types.KindStruct, types.AggregateInfo{Name: "app.Loop"})
	in.SetAggregateFields(loop, []types.Field{{Name: "self", Type: loop, Offset: 0}}, 0)
	_, err = e.LayoutOf(loop)
	var le *LayoutError
	if !errors.As(err, &le) || le.Kind != LayoutErrRecursiveUnsized {
		t.Fatalf("expected recursive layout error, got %v", err)
	}
}

func TestRealign(t *testing.T) {
	e, in := newEngine(t)
	b := in.Builtins()
	cases := []struct {
		off  uint64
		id   types.TypeID
		want uint64
	}{
		{0, b.Int, 0},
		{1, b.Int, 4},
		{5, b.Double, 8},
		{9, b.Ubyte, 9},
		{17, b.Real, 32},
	}
	for _, tc := range cases {
		got, err := e.Realign(tc.off, tc.id)
		if err != nil || got != tc.want {
			t.Errorf("Realign(%d, %s) = %d, %v; want %d", tc.off, in.String(tc.id), got, err, tc.want)
		}
	}
}

func TestSignatureOrder(t *testing.T) {
	e, in := newEngine(t)
	b := in.Builtins()
	big := in.RegisterAggregate(types.KindStruct, types.AggregateInfo{
		Name:   "app.Big",
		Fields: []types.Field{{Name: "a", Type: b.Long}, {Name: "b", Type: b.Long, Offset: 8}, {Name: "c", Type: b.Long, Offset: 16}},
	})
	fn := in.RegisterFn(types.FnInfo{
		Params:   []types.Param{{Type: b.Short}, {Type: b.Int, Storage: types.ParamRef}, {Type: big}},
		Result:   big,
		Variadic: types.VariadicNative,
	})
	sig, err := e.Signature(fn, true)
	if err != nil {
		t.Fatal(err)
	}
	roles := []ParamRole{RoleSRet, RoleContext, RoleUser, RoleUser, RoleUser, RoleArguments, RoleArgPtr}
	if len(sig.Params) != len(roles) {
		t.Fatalf("expected %d params, got %d", len(roles), len(sig.Params))
	}
	for i, r := range roles {
		if sig.Params[i].Role != r {
			t.Errorf("param %d: role %s, want %s", i, sig.Params[i].Role, r)
		}
	}
	if !sig.SRet() || sig.IR.RetType != irtypes.Void {
		t.Fatalf("24-byte result must use sret")
	}
	if !sig.Params[2].ABI.SignExt || !sig.Params[3].ByRef || !sig.Params[4].Indirect {
		t.Fatalf("parameter passing wrong: %+v", sig.Params)
	}
	if sig.UserParam(1) != 3 {
		t.Fatalf("UserParam(1) = %d", sig.UserParam(1))
	}
}

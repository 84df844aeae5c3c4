package types

import "testing"

func TestInternerBuiltins(t *testing.T) {
	in := NewInterner()
	b := in.Builtins()
	if b.Void == NoTypeID || b.Bool == NoTypeID || b.Creal == NoTypeID {
		t.Fatalf("builtins not initialized")
	}
	if in.Kind(b.Idouble) != KindImaginary {
		t.Fatalf("expected imaginary kind, got %v", in.Kind(b.Idouble))
	}
	if !in.IsUnsigned(b.Ulong) || in.IsUnsigned(b.Long) {
		t.Fatalf("signedness lost")
	}
}

func TestInternerDeduplicatesDescriptors(t *testing.T) {
	in := NewInterner()
	elem := in.Builtins().Int
	p1 := in.Intern(MakePointer(elem))
	p2 := in.Intern(MakePointer(elem))
	if p1 != p2 {
		t.Fatalf("pointer types should be deduplicated")
	}
	if in.Intern(MakeArray(elem, 4)) == in.Intern(MakeArray(elem, 5)) {
		t.Fatalf("array length must affect identity")
	}
}

func TestQualifiersKeepRepresentation(t *testing.T) {
	in := NewInterner()
	b := in.Builtins()
	ci := in.Qualified(b.Int, QualConst)
	if ci == b.Int {
		t.Fatalf("qualified type must get its own id")
	}
	if in.Unqualified(ci) != b.Int {
		t.Fatalf("Unqualified must strip const")
	}
	p1 := in.Intern(MakePointer(ci))
	p2 := in.Intern(MakePointer(b.Int))
	if !in.SameUnqualified(p1, p2) {
		t.Fatalf("const(int)* and int* differ only in qualifiers")
	}
	if in.SameUnqualified(p1, in.Intern(MakePointer(b.Uint))) {
		t.Fatalf("int* and uint* must not be treated as the same")
	}
}

func TestFnRegistrationDeduplicates(t *testing.T) {
	in := NewInterner()
	b := in.Builtins()
	info := FnInfo{Params: []Param{{Type: b.Int}}, Result: b.Void}
	a := in.RegisterFn(info)
	if in.RegisterFn(info) != a {
		t.Fatalf("same signature must share a TypeID")
	}
	info.Conv = ConvC
	if in.RegisterFn(info) == a {
		t.Fatalf("calling convention is part of the signature")
	}
	dg := in.Intern(MakeDelegate(a))
	got, ok := in.FnInfo(dg)
	if !ok || got.Result != b.Void {
		t.Fatalf("delegate must resolve to its function type")
	}
}

func TestClassHierarchy(t *testing.T) {
	in := NewInterner()
	iface := in.RegisterAggregate(KindInterface, AggregateInfo{Name: "app.Shape"})
	base := in.RegisterAggregate(KindClass, AggregateInfo{
		Name:       "app.Base",
		Interfaces: []InterfaceImpl{{Iface: iface, Offset: 16}},
	})
	derived := in.RegisterAggregate(KindClass, AggregateInfo{Name: "app.Derived", Base: base})
	if !in.IsBaseClass(base, derived) || in.IsBaseClass(derived, base) {
		t.Fatalf("base relation broken")
	}
	off, ok := in.InterfaceOffset(derived, iface)
	if !ok || off != 16 {
		t.Fatalf("expected inherited interface at 16, got %d %v", off, ok)
	}
}

func TestMangle(t *testing.T) {
	in := NewInterner()
	b := in.Builtins()
	point := in.RegisterAggregate(KindStruct, AggregateInfo{Name: "app.Point"})
	fn := in.RegisterFn(FnInfo{
		Params: []Param{{Type: b.Int}, {Type: b.Double, Storage: ParamRef}},
		Result: b.Void,
	})
	cases := []struct {
		id   TypeID
		want string
	}{
		{b.Int, "i"},
		{b.Ulong, "m"},
		{b.Creal, "c"},
		{b.Ifloat, "o"},
		{b.String, "Ayh"},
		{in.Intern(MakeArray(b.Short, 3)), "G3s"},
		{in.Intern(MakePointer(point)), "PS3app5Point"},
		{fn, "FiKdZv"},
	}
	for _, tc := range cases {
		if got := in.Mangle(tc.id); got != tc.want {
			t.Errorf("Mangle(%s) = %q, want %q", in.String(tc.id), got, tc.want)
		}
	}
}

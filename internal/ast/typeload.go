package ast

import (
	"fmt"

	"lowerc/internal/types"
)

// TypeMap translates module type references into interned types.
type TypeMap []types.TypeID

// Get returns the interned type of ref (NoTypeID for 0).
func (tm TypeMap) Get(ref TypeRef) types.TypeID {
	if !ref.IsValid() || int(ref) >= len(tm) {
		return types.NoTypeID
	}
	return tm[ref]
}

type typeLoader struct {
	m     *Module
	in    *types.Interner
	out   TypeMap
	state []uint8 // 0 new, 1 in progress, 2 done
}

// BuildTypes interns every entry of the module type table. Aggregates are
// registered first so that members and signatures may refer to them in any
// order.
func BuildTypes(m *Module, in *types.Interner) (TypeMap, error) {
	n := int(m.Types.Len()) + 1
	ld := &typeLoader{m: m, in: in, out: make(TypeMap, n), state: make([]uint8, n)}

	for i := 1; i < n; i++ {
		td := m.Type(TypeRef(i))
		kind, err := parseKind(td.Kind)
		if err != nil {
			return nil, fmt.Errorf("type %d: %w", i, err)
		}
		switch kind {
		case types.KindStruct, types.KindClass, types.KindInterface:
			ld.out[i] = in.RegisterAggregate(kind, types.AggregateInfo{
				Name: td.Name, Mangle: td.Mangle, Size: td.Size, Align: td.Align,
				IsUnion: td.Union, VTable: td.VTable, Dtor: td.Dtor, Template: td.Template,
			})
			ld.state[i] = 2
		}
	}
	for i := 1; i < n; i++ {
		if _, err := ld.resolve(TypeRef(i)); err != nil {
			return nil, err
		}
	}
	for i := 1; i < n; i++ {
		td := m.Type(TypeRef(i))
		id := ld.out[i]
		if _, ok := in.Aggregate(id); !ok {
			continue
		}
		fields := make([]types.Field, len(td.Fields))
		for j, f := range td.Fields {
			fields[j] = types.Field{Name: f.Name, Type: ld.out.Get(f.Type), Offset: f.Offset, Align: f.Align}
		}
		in.SetAggregateFields(id, fields, td.Size)
		impls := make([]types.InterfaceImpl, len(td.Interfaces))
		for j, it := range td.Interfaces {
			impls[j] = types.InterfaceImpl{Iface: ld.out.Get(it.Type), Offset: it.Offset}
		}
		in.SetAggregateBases(id, ld.out.Get(td.Base), impls)
	}
	if m.TypeInfo.IsValid() {
		in.SetTypeInfoClass(ld.out.Get(m.TypeInfo))
	}
	return ld.out, nil
}

func (ld *typeLoader) resolve(ref TypeRef) (types.TypeID, error) {
	if !ref.IsValid() {
		return types.NoTypeID, nil
	}
	i := int(ref)
	if i >= len(ld.out) {
		return types.NoTypeID, fmt.Errorf("type reference %d out of range", ref)
	}
	switch ld.state[i] {
	case 2:
		return ld.out[i], nil
	case 1:
		return types.NoTypeID, fmt.Errorf("type %d refers to itself without indirection through an aggregate", ref)
	}
	ld.state[i] = 1
	td := ld.m.Type(ref)
	kind, err := parseKind(td.Kind)
	if err != nil {
		return types.NoTypeID, fmt.Errorf("type %d: %w", ref, err)
	}
	var q types.Qual
	if td.Const {
		q |= types.QualConst
	}
	if td.Immut {
		q |= types.QualImmutable
	}
	if td.Shared {
		q |= types.QualShared
	}
	var id types.TypeID
	switch kind {
	case types.KindFn:
		info := types.FnInfo{RefReturn: td.RefReturn}
		if info.Result, err = ld.resolve(td.Result); err != nil {
			return types.NoTypeID, err
		}
		if info.Conv, err = parseConv(td.Conv); err != nil {
			return types.NoTypeID, fmt.Errorf("type %d: %w", ref, err)
		}
		if info.Variadic, err = parseVariadic(td.Variadic); err != nil {
			return types.NoTypeID, fmt.Errorf("type %d: %w", ref, err)
		}
		for _, p := range td.Params {
			pt, err := ld.resolve(p.Type)
			if err != nil {
				return types.NoTypeID, err
			}
			st, err := ParseStorage(p.Storage)
			if err != nil {
				return types.NoTypeID, fmt.Errorf("type %d: %w", ref, err)
			}
			info.Params = append(info.Params, types.Param{Type: pt, Storage: st})
		}
		id = ld.in.RegisterFn(info)
	default:
		desc := types.Type{Kind: kind, Width: types.Width(td.Width), Unsigned: td.Unsigned, Count: td.Count}
		if td.Elem.IsValid() {
			if desc.Elem, err = ld.resolve(td.Elem); err != nil {
				return types.NoTypeID, err
			}
		}
		id = ld.in.Intern(desc)
	}
	id = ld.in.Qualified(id, q)
	ld.out[i] = id
	ld.state[i] = 2
	return id, nil
}

func parseKind(s string) (types.Kind, error) {
	switch s {
	case "void":
		return types.KindVoid, nil
	case "bool":
		return types.KindBool, nil
	case "int":
		return types.KindInt, nil
	case "float":
		return types.KindFloat, nil
	case "imaginary":
		return types.KindImaginary, nil
	case "complex":
		return types.KindComplex, nil
	case "pointer":
		return types.KindPointer, nil
	case "array":
		return types.KindArray, nil
	case "slice":
		return types.KindSlice, nil
	case "struct":
		return types.KindStruct, nil
	case "class":
		return types.KindClass, nil
	case "interface":
		return types.KindInterface, nil
	case "delegate":
		return types.KindDelegate, nil
	case "fn":
		return types.KindFn, nil
	}
	return types.KindInvalid, fmt.Errorf("unknown type kind %q", s)
}

func parseConv(s string) (types.CallConv, error) {
	switch s {
	case "", "D":
		return types.ConvD, nil
	case "C":
		return types.ConvC, nil
	case "Windows":
		return types.ConvWindows, nil
	}
	return types.ConvD, fmt.Errorf("unknown calling convention %q", s)
}

func parseVariadic(s string) (types.VariadicKind, error) {
	switch s {
	case "":
		return types.VariadicNone, nil
	case "c":
		return types.VariadicC, nil
	case "native":
		return types.VariadicNative, nil
	}
	return types.VariadicNone, fmt.Errorf("unknown variadic kind %q", s)
}

// ParseStorage maps a parameter storage class name.
func ParseStorage(s string) (types.ParamStorage, error) {
	switch s {
	case "", "in":
		return types.ParamIn, nil
	case "ref":
		return types.ParamRef, nil
	case "out":
		return types.ParamOut, nil
	case "lazy":
		return types.ParamLazy, nil
	}
	return types.ParamIn, fmt.Errorf("unknown parameter storage %q", s)
}

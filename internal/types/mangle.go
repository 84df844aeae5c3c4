package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Mangle returns the type mangling used in TypeInfo and symbol names.
func (in *Interner) Mangle(id TypeID) string {
	var sb strings.Builder
	in.mangleInto(&sb, id)
	return sb.String()
}

func (in *Interner) mangleInto(sb *strings.Builder, id TypeID) {
	tt, ok := in.Lookup(id)
	if !ok {
		sb.WriteString("?")
		return
	}
	if tt.Qual&QualShared != 0 {
		sb.WriteByte('O')
	}
	if tt.Qual&QualImmutable != 0 {
		sb.WriteByte('y')
	} else if tt.Qual&QualConst != 0 {
		sb.WriteByte('x')
	}
	switch tt.Kind {
	case KindVoid:
		sb.WriteByte('v')
	case KindBool:
		sb.WriteByte('b')
	case KindInt:
		sb.WriteByte(intMangle(tt.Width, tt.Unsigned))
	case KindFloat:
		sb.WriteByte(floatMangle(tt.Width, "fde"))
	case KindImaginary:
		sb.WriteByte(floatMangle(tt.Width, "opj"))
	case KindComplex:
		sb.WriteByte(floatMangle(tt.Width, "qrc"))
	case KindPointer:
		sb.WriteByte('P')
		in.mangleInto(sb, tt.Elem)
	case KindArray:
		sb.WriteByte('G')
		sb.WriteString(strconv.FormatUint(uint64(tt.Count), 10))
		in.mangleInto(sb, tt.Elem)
	case KindSlice:
		sb.WriteByte('A')
		in.mangleInto(sb, tt.Elem)
	case KindStruct, KindClass, KindInterface:
		if tt.Kind == KindStruct {
			sb.WriteByte('S')
		} else {
			sb.WriteByte('C')
		}
		info, _ := in.Aggregate(id)
		name := "?"
		if info != nil {
			name = info.Name
		}
		for _, part := range strings.Split(name, ".") {
			sb.WriteString(strconv.Itoa(len(part)))
			sb.WriteString(part)
		}
	case KindDelegate:
		sb.WriteByte('D')
		in.mangleInto(sb, tt.Elem)
	case KindFn:
		info, _ := in.FnInfo(id)
		if info == nil {
			sb.WriteString("F?")
			return
		}
		switch info.Conv {
		case ConvC:
			sb.WriteByte('U')
		case ConvWindows:
			sb.WriteByte('W')
		default:
			sb.WriteByte('F')
		}
		for _, p := range info.Params {
			switch p.Storage {
			case ParamRef:
				sb.WriteByte('K')
			case ParamOut:
				sb.WriteByte('J')
			case ParamLazy:
				sb.WriteByte('L')
			}
			in.mangleInto(sb, p.Type)
		}
		switch info.Variadic {
		case VariadicNative:
			sb.WriteByte('X')
		case VariadicC:
			sb.WriteByte('Y')
		default:
			sb.WriteByte('Z')
		}
		in.mangleInto(sb, info.Result)
	default:
		sb.WriteByte('?')
	}
}

func intMangle(w Width, unsigned bool) byte {
	var pair string
	switch w {
	case Width8:
		pair = "gh"
	case Width16:
		pair = "st"
	case Width32:
		pair = "ik"
	default:
		pair = "lm"
	}
	if unsigned {
		return pair[1]
	}
	return pair[0]
}

func floatMangle(w Width, letters string) byte {
	switch w {
	case Width32:
		return letters[0]
	case Width64:
		return letters[1]
	}
	return letters[2]
}

// String renders id in source-like syntax for diagnostics and traces.
func (in *Interner) String(id TypeID) string {
	tt, ok := in.Lookup(id)
	if !ok {
		return "<invalid>"
	}
	q := tt.Qual.String()
	switch tt.Kind {
	case KindInt:
		names := map[Width][2]string{
			Width8: {"byte", "ubyte"}, Width16: {"short", "ushort"},
			Width32: {"int", "uint"}, Width64: {"long", "ulong"},
		}
		idx := 0
		if tt.Unsigned {
			idx = 1
		}
		return q + names[tt.Width][idx]
	case KindFloat:
		return q + [...]string{"float", "double", "real"}[floatIndex(tt.Width)]
	case KindImaginary:
		return q + [...]string{"ifloat", "idouble", "ireal"}[floatIndex(tt.Width)]
	case KindComplex:
		return q + [...]string{"cfloat", "cdouble", "creal"}[floatIndex(tt.Width)]
	case KindPointer:
		return q + in.String(tt.Elem) + "*"
	case KindArray:
		return fmt.Sprintf("%s%s[%d]", q, in.String(tt.Elem), tt.Count)
	case KindSlice:
		return q + in.String(tt.Elem) + "[]"
	case KindStruct, KindClass, KindInterface:
		if info, ok := in.Aggregate(id); ok {
			return q + info.Name
		}
	case KindDelegate:
		return q + in.fnString(tt.Elem, "delegate")
	case KindFn:
		return q + in.fnString(id, "function")
	}
	return q + tt.Kind.String()
}

func (in *Interner) fnString(id TypeID, word string) string {
	info, ok := in.FnInfo(id)
	if !ok {
		return word
	}
	parts := make([]string, 0, len(info.Params)+1)
	for _, p := range info.Params {
		prefix := ""
		switch p.Storage {
		case ParamRef:
			prefix = "ref "
		case ParamOut:
			prefix = "out "
		case ParamLazy:
			prefix = "lazy "
		}
		parts = append(parts, prefix+in.String(p.Type))
	}
	if info.Variadic != VariadicNone {
		parts = append(parts, "...")
	}
	return fmt.Sprintf("%s %s(%s)", in.String(info.Result), word, strings.Join(parts, ", "))
}

func floatIndex(w Width) int {
	switch w {
	case Width32:
		return 0
	case Width64:
		return 1
	}
	return 2
}

package ast

// Op is a binary or comparison operator.
type Op uint8

const (
	OpNone Op = iota
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr  // arithmetic for signed operands
	OpUShr // always logical
	OpAndAnd
	OpOrOr

	// equality and identity
	OpEq
	OpNe
	OpIs
	OpNotIs

	// relational, including the unordered floating-point forms
	OpLt    // <
	OpLe    // <=
	OpGt    // >
	OpGe    // >=
	OpUnord // !<>=
	OpLg    // <>
	OpLeg   // <>=
	OpUle   // !>
	OpUl    // !>=
	OpUge   // !<
	OpUg    // !<=
	OpUe    // !<>
)

var opNames = [...]string{
	OpNone: "?", OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpRem: "%",
	OpAnd: "&", OpOr: "|", OpXor: "^", OpShl: "<<", OpShr: ">>", OpUShr: ">>>",
	OpAndAnd: "&&", OpOrOr: "||",
	OpEq: "==", OpNe: "!=", OpIs: "is", OpNotIs: "!is",
	OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=",
	OpUnord: "!<>=", OpLg: "<>", OpLeg: "<>=", OpUle: "!>", OpUl: "!>=",
	OpUge: "!<", OpUg: "!<=", OpUe: "!<>",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return "?"
}

// IsEquality covers ==, !=, is and !is.
func (o Op) IsEquality() bool {
	return o >= OpEq && o <= OpNotIs
}

// IsRelational covers the ordered and unordered relational operators.
func (o Op) IsRelational() bool {
	return o >= OpLt && o <= OpUe
}

// IsComparison reports operators producing bool.
func (o Op) IsComparison() bool {
	return o.IsEquality() || o.IsRelational()
}

package rules

// Expr is the closed expression AST every dialect compiles into.
// Values during evaluation are untyped Go scalars: nil, bool, int64,
// float64, string, []any and map[string]any.
type Expr interface {
	isExpr()
}

// Lit is a literal: nil, bool, int64, float64 or string.
type Lit struct {
	Value any
}

// ListLit is a list literal.
type ListLit struct {
	Elems []Expr
}

// MapEntry is one key/value pair of a MapLit.
type MapEntry struct {
	Key   string
	Value Expr
}

// MapLit is a map literal with stable entry order.
type MapLit struct {
	Entries []MapEntry
}

// Ident references a variable: "action", "env", "time", "now", a
// quantifier binding, or an environment shortcut.
type Ident struct {
	Name string
}

// Field accesses a named field of its operand.
type Field struct {
	X    Expr
	Name string
}

// Index accesses a list element or map value by computed key.
type Index struct {
	X Expr
	I Expr
}

// UnaryOp enumerates unary operators.
type UnaryOp int

const (
	OpNot UnaryOp = iota
	OpNeg
)

// Unary applies a unary operator.
type Unary struct {
	Op UnaryOp
	X  Expr
}

// BinaryOp enumerates binary operators.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpContains
	OpStartsWith
	OpEndsWith
	OpMatches
	OpIn
)

// Binary applies a binary operator. And and Or short-circuit.
type Binary struct {
	Op BinaryOp
	L  Expr
	R  Expr
}

// Ternary is the conditional expression cond ? then : else.
type Ternary struct {
	Cond Expr
	Then Expr
	Else Expr
}

// Call invokes a named builtin function.
type Call struct {
	Fn   string
	Args []Expr
}

// Quantifier is a bounded all/any over a collection: the predicate is
// evaluated with Var bound to each element.
type Quantifier struct {
	All  bool
	Var  string
	Over Expr
	Pred Expr
}

// StateGet reads a state value through the coordination interface,
// yielding the stored string or nil when absent.
type StateGet struct {
	Key string
}

// StateCounter reads a counter, yielding its integer value or zero.
type StateCounter struct {
	Key string
}

// StateTimeSince yields the seconds elapsed since the RFC 3339
// timestamp stored under the key, or a very large number when absent.
type StateTimeSince struct {
	Key string
}

func (*Lit) isExpr()            {}
func (*ListLit) isExpr()        {}
func (*MapLit) isExpr()         {}
func (*Ident) isExpr()          {}
func (*Field) isExpr()          {}
func (*Index) isExpr()          {}
func (*Unary) isExpr()          {}
func (*Binary) isExpr()         {}
func (*Ternary) isExpr()        {}
func (*Call) isExpr()           {}
func (*Quantifier) isExpr()     {}
func (*StateGet) isExpr()       {}
func (*StateCounter) isExpr()   {}
func (*StateTimeSince) isExpr() {}

func (op BinaryOp) String() string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpMod:
		return "%"
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpAnd:
		return "&&"
	case OpOr:
		return "||"
	case OpContains:
		return "contains"
	case OpStartsWith:
		return "starts_with"
	case OpEndsWith:
		return "ends_with"
	case OpMatches:
		return "matches"
	case OpIn:
		return "in"
	default:
		return "?"
	}
}

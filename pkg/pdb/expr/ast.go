package expr

// Node is a parsed expression. Pos and End delimit its source text.
type Node interface {
	Pos() int
	End() int
}

type span struct{ pos, end int }

func (s span) Pos() int { return s.pos }
func (s span) End() int { return s.end }

// Ident is a bare identifier: a global or an enum constant.
type Ident struct {
	span
	Name string
}

// IntLit is an integer literal.
type IntLit struct {
	span
	Value uint64
}

// Paren is a parenthesized expression.
type Paren struct {
	span
	X Node
}

// Member is X.Name or X->Name.
type Member struct {
	span
	X     Node
	Name  string
	Arrow bool
}

// Index is X[Index]. Lbrack is the offset of '['.
type Index struct {
	span
	X      Node
	Index  Node
	Lbrack int
}

// Unary is a prefix operator: & * - + ~ ! ++ --.
type Unary struct {
	span
	Op string
	X  Node
}

// Postfix is X++ or X--.
type Postfix struct {
	span
	Op string
	X  Node
}

// Cast is (Type)X.
type Cast struct {
	span
	Type string
	X    Node
}

// SizeOf is sizeof(Type) or sizeof X. Exactly one of Type and X is set.
type SizeOf struct {
	span
	Type string
	X    Node
}

// OffsetOf is offsetof(Type, Member). Member may be a dotted path.
type OffsetOf struct {
	span
	Type   string
	Member string
}

// Binary is X Op Y.
type Binary struct {
	span
	Op   string
	X, Y Node
}

// Ternary is Cond ? Then : Else.
type Ternary struct {
	span
	Cond, Then, Else Node
}

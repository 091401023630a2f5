package expr

import (
	"strings"
)

// TypeNames tells the parser which identifiers name types, so that
// "(T)x" parses as a cast and "(x)" as a parenthesized operand.
type TypeNames interface {
	IsTypeName(name string) bool
}

// binaryPrec is the precedence of each binary operator; higher binds
// tighter. The ternary operator sits below all of them.
var binaryPrec = map[string]int{
	"||": 2,
	"&&": 3,
	"|":  4,
	"^":  5,
	"&":  6,
	"==": 7, "!=": 7,
	"<": 8, ">": 8, "<=": 8, ">=": 8,
	"<<": 9, ">>": 9,
	"+": 10, "-": 10,
	"*": 11, "/": 11, "%": 11,
}

const ternaryPrec = 1

var assignOps = map[string]bool{
	"=": true, "+=": true, "-=": true, "*=": true, "/=": true, "%=": true,
	"&=": true, "|=": true, "^=": true, "<<=": true, ">>=": true,
}

// castKeywords start a type spelling regardless of the known type names.
var castKeywords = map[string]bool{
	"struct": true, "class": true, "union": true, "enum": true,
	"const": true, "volatile": true, "unsigned": true, "signed": true,
}

type parser struct {
	src   string
	toks  []token
	i     int
	types TypeNames
}

// Parse parses src. types may be nil, in which case only parenthesized
// spellings with a '*' or a type keyword are casts.
func Parse(src string, types TypeNames) (Node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks, types: types}
	if p.peek().kind == tokEOF {
		return nil, errorAt("Empty expression", "")
	}

	n, err := p.parseExpr(ternaryPrec)
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.unexpected(t)
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) is(text string) bool {
	t := p.peek()
	return t.kind == tokPunct && t.text == text
}

func (p *parser) expect(text string) (token, error) {
	t := p.peek()
	if t.kind != tokPunct || t.text != text {
		if t.kind == tokEOF {
			return t, errorAt("Expected '"+text+"'", p.src)
		}
		return t, errorAt("Expected '"+text+"'", p.src[t.pos:])
	}
	return p.next(), nil
}

func (p *parser) unexpected(t token) error {
	switch {
	case t.kind == tokPunct && assignOps[t.text]:
		return errorAt("Assignment is not supported", p.src)
	case t.kind == tokPunct && t.text == ",":
		return errorAt("Comma operator is not supported", p.src[t.pos:])
	case t.kind == tokEOF:
		return errorAt("Unexpected end of expression", p.src)
	}
	return errorAt("Unexpected token '"+t.text+"'", p.src[t.pos:])
}

func (p *parser) parseExpr(minPrec int) (Node, error) {
	x, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		t := p.peek()
		if t.kind != tokPunct {
			return x, nil
		}

		if t.text == "?" && minPrec <= ternaryPrec {
			p.next()
			then, err := p.parseExpr(ternaryPrec)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(":"); err != nil {
				return nil, err
			}
			els, err := p.parseExpr(ternaryPrec)
			if err != nil {
				return nil, err
			}
			x = &Ternary{span: span{x.Pos(), els.End()}, Cond: x, Then: then, Else: els}
			continue
		}

		prec, ok := binaryPrec[t.text]
		if !ok || prec < minPrec {
			return x, nil
		}
		p.next()
		y, err := p.parseExpr(prec + 1)
		if err != nil {
			return nil, err
		}
		x = &Binary{span: span{x.Pos(), y.End()}, Op: t.text, X: x, Y: y}
	}
}

func (p *parser) parseUnary() (Node, error) {
	t := p.peek()

	if t.kind == tokPunct {
		switch t.text {
		case "&", "*", "-", "+", "~", "!", "++", "--":
			p.next()
			x, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return &Unary{span: span{t.pos, x.End()}, Op: t.text, X: x}, nil
		case "(":
			if typ, end, ok := p.castType(); ok {
				p.i = end
				x, err := p.parseUnary()
				if err != nil {
					return nil, err
				}
				return &Cast{span: span{t.pos, x.End()}, Type: typ, X: x}, nil
			}
		}
	}

	if t.kind == tokIdent {
		switch t.text {
		case "sizeof":
			return p.parseSizeOf()
		case "offsetof":
			return p.parseOffsetOf()
		}
	}

	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	return p.parsePostfix(x)
}

// castType checks whether the '(' at the cursor opens a cast. It returns
// the type spelling and the token index after the cast's ')'.
func (p *parser) castType() (string, int, bool) {
	typ, ok, end := p.parenType()
	if !ok || end >= len(p.toks) || !startsOperand(p.toks[end]) {
		return "", 0, false
	}
	return typ, end, true
}

func startsOperand(t token) bool {
	switch t.kind {
	case tokIdent, tokInt:
		return true
	case tokPunct:
		switch t.text {
		case "(", "&", "*", "-", "+", "~", "!", "++", "--":
			return true
		}
	}
	return false
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokIdent:
		return &Ident{span: span{t.pos, t.end}, Name: t.text}, nil
	case tokInt:
		return &IntLit{span: span{t.pos, t.end}, Value: t.value}, nil
	case tokPunct:
		if t.text == "(" {
			x, err := p.parseExpr(ternaryPrec)
			if err != nil {
				return nil, err
			}
			r, err := p.expect(")")
			if err != nil {
				return nil, err
			}
			return &Paren{span: span{t.pos, r.end}, X: x}, nil
		}
	}
	return nil, p.unexpected(t)
}

func (p *parser) parsePostfix(x Node) (Node, error) {
	for {
		t := p.peek()
		if t.kind != tokPunct {
			return x, nil
		}
		switch t.text {
		case ".", "->":
			p.next()
			name := p.next()
			if name.kind != tokIdent {
				return nil, errorAt("Expected member name", p.src[x.Pos():])
			}
			x = &Member{span: span{x.Pos(), name.end}, X: x, Name: name.text, Arrow: t.text == "->"}
		case "[":
			p.next()
			idx, err := p.parseExpr(ternaryPrec)
			if err != nil {
				return nil, err
			}
			r, err := p.expect("]")
			if err != nil {
				return nil, err
			}
			x = &Index{span: span{x.Pos(), r.end}, X: x, Index: idx, Lbrack: t.pos}
		case "++", "--":
			p.next()
			x = &Postfix{span: span{x.Pos(), t.end}, Op: t.text, X: x}
		case "(":
			return nil, errorAt("Function calls are not supported", p.src[x.Pos():])
		default:
			return x, nil
		}
	}
}

func (p *parser) parseSizeOf() (Node, error) {
	kw := p.next()
	if p.is("(") {
		if typ, ok, end := p.parenType(); ok {
			p.i = end
			return &SizeOf{span: span{kw.pos, p.toks[end-1].end}, Type: typ}, nil
		}
	}
	x, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &SizeOf{span: span{kw.pos, x.End()}, X: x}, nil
}

// parenType reads "( type-spelling )" when the contents name a type.
func (p *parser) parenType() (string, bool, int) {
	var words []string
	stars := 0
	j := p.i + 1
	for ; j < len(p.toks); j++ {
		t := p.toks[j]
		if t.kind == tokIdent && stars == 0 {
			words = append(words, t.text)
		} else if t.kind == tokPunct && t.text == "*" && len(words) > 0 {
			stars++
		} else {
			break
		}
	}
	if len(words) == 0 || j >= len(p.toks) || p.toks[j].kind != tokPunct || p.toks[j].text != ")" {
		return "", false, 0
	}
	if words[0] == "sizeof" || words[0] == "offsetof" {
		return "", false, 0
	}
	base := strings.Join(words, " ")
	if stars == 0 && !castKeywords[words[0]] && (p.types == nil || !p.types.IsTypeName(base)) {
		return "", false, 0
	}
	return base + strings.Repeat(" *", stars), true, j + 1
}

func (p *parser) parseOffsetOf() (Node, error) {
	kw := p.next()
	if _, err := p.expect("("); err != nil {
		return nil, err
	}

	var words []string
	for p.peek().kind == tokIdent {
		words = append(words, p.next().text)
	}
	if len(words) == 0 {
		return nil, errorAt("offsetof expects a type", p.src[kw.pos:])
	}
	if _, err := p.expect(","); err != nil {
		return nil, err
	}

	var path []string
	for {
		t := p.next()
		if t.kind != tokIdent {
			return nil, errorAt("offsetof expects a member name", p.src[kw.pos:])
		}
		path = append(path, t.text)
		if !p.is(".") {
			break
		}
		p.next()
	}
	r, err := p.expect(")")
	if err != nil {
		return nil, err
	}
	return &OffsetOf{
		span:   span{kw.pos, r.end},
		Type:   strings.Join(words, " "),
		Member: strings.Join(path, "."),
	}, nil
}

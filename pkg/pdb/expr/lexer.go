package expr

import (
	"strconv"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokInt
	tokPunct
)

type token struct {
	kind  tokenKind
	text  string
	value uint64
	pos   int // byte offset of the first character
	end   int // byte offset past the last character
}

// puncts lists operators longest first so that "->" wins over "-".
var puncts = []string{
	"<<=", ">>=",
	"->", "++", "--", "<<", ">>", "<=", ">=", "==", "!=", "&&", "||",
	"+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=",
	".", "[", "]", "(", ")", "&", "*", "+", "-", "~", "!", "/", "%",
	"<", ">", "^", "|", "?", ":", ",", "=",
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// lex splits src into tokens. The final token is always tokEOF.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: src[start:i], pos: start, end: i})
		case c >= '0' && c <= '9':
			start := i
			for i < len(src) && (isIdentPart(src[i]) || src[i] == '.') {
				i++
			}
			text := src[start:i]
			v, err := parseInt(text)
			if err != nil {
				return nil, errorAt("Invalid integer literal", text)
			}
			toks = append(toks, token{kind: tokInt, text: text, value: v, pos: start, end: i})
		case c == '\'' || c == '"':
			return nil, errorAt("String and character literals are not supported", src[i:])
		default:
			matched := false
			for _, p := range puncts {
				if strings.HasPrefix(src[i:], p) {
					toks = append(toks, token{kind: tokPunct, text: p, pos: i, end: i + len(p)})
					i += len(p)
					matched = true
					break
				}
			}
			if !matched {
				return nil, errorAt("Unexpected character", src[i:i+1])
			}
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(src), end: len(src)}), nil
}

// parseInt accepts decimal, hex, octal and binary literals with optional
// u/l suffixes.
func parseInt(text string) (uint64, error) {
	t := strings.TrimRight(text, "uUlL")
	switch {
	case strings.HasPrefix(t, "0x") || strings.HasPrefix(t, "0X"):
		return strconv.ParseUint(t[2:], 16, 64)
	case strings.HasPrefix(t, "0b") || strings.HasPrefix(t, "0B"):
		return strconv.ParseUint(t[2:], 2, 64)
	case len(t) > 1 && t[0] == '0':
		return strconv.ParseUint(t[1:], 8, 64)
	}
	return strconv.ParseUint(t, 10, 64)
}

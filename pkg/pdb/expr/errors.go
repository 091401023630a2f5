package expr

import "errors"

// ErrInvalidExpression reports an expression outside the supported subset,
// or one that cannot be evaluated against the loaded types.
var ErrInvalidExpression = errors.New("invalid expression")

// Error is an invalid expression failure. Source is the offending
// subexpression text.
type Error struct {
	Msg    string
	Source string
}

func (e *Error) Error() string {
	if e.Source == "" {
		return e.Msg
	}
	return e.Msg + " at '" + e.Source + "'"
}

func (e *Error) Unwrap() error { return ErrInvalidExpression }

func errorAt(msg, source string) *Error {
	return &Error{Msg: msg, Source: source}
}

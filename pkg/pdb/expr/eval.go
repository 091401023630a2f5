// Package expr parses and evaluates C expressions over materialized
// records: member access, subscripts, pointer arithmetic, casts, sizeof and
// offsetof.
package expr

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/jtang613/pdbview/pkg/pdb/codeview"
	"github.com/jtang613/pdbview/pkg/pdb/memory"
	"github.com/jtang613/pdbview/pkg/pdb/structs"
	"github.com/jtang613/pdbview/pkg/pdb/typegraph"
)

// Symbols resolves global variable names.
type Symbols interface {
	// Symbol returns the image-relative address and type of a global.
	Symbol(name string) (rva uint64, ti codeview.TypeIndex, ok bool)
}

// Constants is implemented by symbol tables that also resolve named
// constants. They are consulted after globals and before enumerators.
type Constants interface {
	Constant(name string) (int64, bool)
}

// Value is the result of an evaluation: a record bound to an address, or a
// plain integer when Record is nil.
type Value struct {
	Record *structs.Record
	Scalar int64
}

// IsRecord reports whether v holds a record.
func (v Value) IsRecord() bool { return v.Record != nil }

func (v Value) String() string {
	if v.Record == nil {
		return strconv.FormatInt(v.Scalar, 10)
	}
	return fmt.Sprintf("%s %s @ %#x", v.Record.TypeName, v.Record.LevelName, v.Record.Address)
}

func scalar(v int64) Value { return Value{Scalar: v} }

// Evaluator evaluates expressions against one type graph.
type Evaluator struct {
	graph *typegraph.Graph
	syms  Symbols
	opts  []structs.Option
	sugar *zap.SugaredLogger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Evaluator) {
		if logger != nil {
			e.sugar = logger.Sugar()
		}
	}
}

// WithMaterializerOptions passes options to the materializers the
// evaluator creates.
func WithMaterializerOptions(opts ...structs.Option) Option {
	return func(e *Evaluator) {
		e.opts = append(e.opts, opts...)
	}
}

// New returns an Evaluator. syms may be nil when no globals are known.
func New(g *typegraph.Graph, syms Symbols, opts ...Option) *Evaluator {
	e := &Evaluator{graph: g, syms: syms, sugar: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate parses and evaluates src. Globals are placed at virtualBase plus
// their image-relative address; values are read from mem. A record result
// is expanded recursively down to the materializer's depth bound.
func (e *Evaluator) Evaluate(src string, virtualBase uint64, mem memory.Source) (Value, error) {
	n, err := Parse(src, e.graph)
	if err != nil {
		return Value{}, err
	}

	s := &state{
		Evaluator: e,
		src:       src,
		base:      virtualBase,
		mat:       structs.NewMaterializer(e.graph, mem, e.opts...),
	}
	v, err := s.eval(n)
	if err != nil {
		e.sugar.Debugw("expression failed", "expr", src, "error", err)
		return Value{}, err
	}

	if v.Record != nil {
		if err := s.mat.ExpandTree(v.Record); err != nil {
			return Value{}, err
		}
	}
	return v, nil
}

// DerefPointer materializes the element index of the pointer rec. A pointer
// literal targets its own address; other pointers read their stored value.
// A null target fails unless allowNull is set.
func (e *Evaluator) DerefPointer(rec *structs.Record, index int64, allowNull bool) (*structs.Record, error) {
	s := &state{Evaluator: e, mat: structs.NewMaterializer(e.graph, rec.Source(), e.opts...)}
	return s.deref(rec, index, allowNull, "")
}

// state carries one evaluation.
type state struct {
	*Evaluator
	src  string
	base uint64
	mat  *structs.Materializer
}

func (s *state) text(n Node) string {
	if n == nil || s.src == "" {
		return ""
	}
	return s.src[n.Pos():n.End()]
}

func (s *state) fail(n Node, format string, args ...any) error {
	return errorAt(fmt.Sprintf(format, args...), s.text(n))
}

func (s *state) eval(n Node) (Value, error) {
	switch n := n.(type) {
	case *Ident:
		return s.evalIdent(n)
	case *IntLit:
		return scalar(int64(n.Value)), nil
	case *Paren:
		return s.eval(n.X)
	case *Member:
		return s.evalMember(n)
	case *Index:
		return s.evalIndex(n)
	case *Unary:
		return s.evalUnary(n)
	case *Postfix:
		return s.evalStep(n, n.X, n.Op)
	case *Cast:
		return s.evalCast(n)
	case *SizeOf:
		return s.evalSizeOf(n)
	case *OffsetOf:
		return s.evalOffsetOf(n)
	case *Binary:
		return s.evalBinary(n)
	case *Ternary:
		c, err := s.scalarOf(n.Cond)
		if err != nil {
			return Value{}, err
		}
		if c != 0 {
			return s.eval(n.Then)
		}
		return s.eval(n.Else)
	}
	return Value{}, s.fail(n, "Unsupported expression")
}

func (s *state) evalIdent(n *Ident) (Value, error) {
	if s.syms != nil {
		if rva, ti, ok := s.syms.Symbol(n.Name); ok {
			rec, err := s.mat.Form(ti, n.Name, s.base+rva, false)
			if err != nil {
				return Value{}, err
			}
			rec.Name = n.Name
			return Value{Record: rec}, nil
		}
		if c, ok := s.syms.(Constants); ok {
			if v, ok := c.Constant(n.Name); ok {
				return scalar(v), nil
			}
		}
	}
	if en, ok := s.graph.Enumerator(n.Name); ok {
		return scalar(en.Value), nil
	}
	return Value{}, s.fail(n, "Unknown identifier '%s'", n.Name)
}

// record evaluates n and requires a record result. want names the
// expected kind in the error for a plain integer.
func (s *state) record(n Node, want string) (*structs.Record, error) {
	v, err := s.eval(n)
	if err != nil {
		return nil, err
	}
	if v.Record == nil {
		return nil, s.fail(n, "Shall be a %s type, got: 'int'", want)
	}
	return v.Record, nil
}

// scalarOf evaluates n to an integer. Pointers yield their target address.
func (s *state) scalarOf(n Node) (int64, error) {
	v, err := s.eval(n)
	if err != nil {
		return 0, err
	}
	return s.toScalar(v, n)
}

func (s *state) toScalar(v Value, n Node) (int64, error) {
	if v.Record == nil {
		return v.Scalar, nil
	}
	if v.Record.Shape != structs.Scalar {
		return 0, s.fail(n, "Shall be a scalar type, got: '%s'", v.Record.TypeName)
	}
	return v.Record.Int()
}

// expand forms the children of a collapsed record.
func (s *state) expand(r *structs.Record) error {
	return s.mat.Expand(r, false)
}

func (s *state) evalMember(n *Member) (Value, error) {
	want := "struct"
	if n.Arrow {
		want = "pointer"
	}
	rec, err := s.record(n.X, want)
	if err != nil {
		return Value{}, err
	}

	if n.Arrow {
		if !rec.IsPointer {
			return Value{}, s.fail(n.X, "Shall be a pointer type, got: '%s'", rec.TypeName)
		}
		if rec, err = s.deref(rec, 0, false, s.text(n.X)); err != nil {
			return Value{}, err
		}
	}

	if rec.Shape != structs.Map {
		return Value{}, s.fail(n.X, "Shall be a struct type, got: '%s'", rec.TypeName)
	}
	if err := s.expand(rec); err != nil {
		return Value{}, err
	}
	child, ok := rec.Child(n.Name)
	if !ok {
		return Value{}, s.fail(n, "Member '%s' not found in '%s'", n.Name, rec.TypeName)
	}
	return Value{Record: child}, nil
}

func (s *state) evalIndex(n *Index) (Value, error) {
	rec, err := s.record(n.X, "pointer")
	if err != nil {
		return Value{}, err
	}
	i, err := s.scalarOf(n.Index)
	if err != nil {
		return Value{}, err
	}

	switch {
	case rec.Shape == structs.List:
		if err := s.expand(rec); err != nil {
			return Value{}, err
		}
		child, ok := rec.At(int(i))
		if !ok || i < 0 {
			return Value{}, errorAt("Index out of range", s.src[n.Lbrack:n.End()])
		}
		return Value{Record: child}, nil
	case rec.IsPointer:
		elem, err := s.deref(rec, i, false, s.text(n.X))
		if err != nil {
			return Value{}, err
		}
		return Value{Record: elem}, nil
	}
	return Value{}, s.fail(n.X, "Shall be a pointer type, got: '%s'", rec.TypeName)
}

// target returns the address a pointer record points at.
func target(rec *structs.Record) (uint64, error) {
	if rec.Literal {
		return rec.Address, nil
	}
	return rec.Value()
}

// pointeeSize returns the step of pointer arithmetic; void pointers step by
// one byte.
func (s *state) pointeeSize(rec *structs.Record) int64 {
	size, err := s.graph.SizeOf(rec.Pointee)
	if err != nil || size == 0 {
		return 1
	}
	return int64(size)
}

func (s *state) deref(rec *structs.Record, index int64, allowNull bool, source string) (*structs.Record, error) {
	if !rec.IsPointer {
		return nil, errorAt(fmt.Sprintf("Shall be a pointer type, got: '%s'", rec.TypeName), source)
	}
	addr, err := target(rec)
	if err != nil {
		return nil, err
	}
	if addr == 0 && !allowNull {
		return nil, errorAt("Null pointer dereference", source)
	}

	label := "*" + rec.LevelName
	if index != 0 {
		label = fmt.Sprintf("[%d]", index)
	}
	elemAddr := uint64(int64(addr) + index*s.pointeeSize(rec))
	return s.mat.Form(rec.Pointee, label, elemAddr, false)
}

func (s *state) evalUnary(n *Unary) (Value, error) {
	switch n.Op {
	case "&":
		v, err := s.eval(n.X)
		if err != nil {
			return Value{}, err
		}
		rec := v.Record
		if rec == nil || rec.Literal {
			return Value{}, s.fail(n, "Cannot take the address of '%s'", s.text(n.X))
		}
		return Value{Record: s.mat.PointerLiteral(rec.Type, rec.Address)}, nil
	case "*":
		rec, err := s.record(n.X, "pointer")
		if err != nil {
			return Value{}, err
		}
		if rec.Shape == structs.List {
			if err := s.expand(rec); err != nil {
				return Value{}, err
			}
			first, ok := rec.At(0)
			if !ok {
				return Value{}, s.fail(n, "Index out of range")
			}
			return Value{Record: first}, nil
		}
		elem, err := s.deref(rec, 0, false, s.text(n.X))
		if err != nil {
			return Value{}, err
		}
		return Value{Record: elem}, nil
	case "++", "--":
		return s.evalStep(n, n.X, n.Op)
	}

	x, err := s.scalarOf(n.X)
	if err != nil {
		return Value{}, err
	}
	switch n.Op {
	case "-":
		return scalar(-x), nil
	case "+":
		return scalar(x), nil
	case "~":
		return scalar(^x), nil
	case "!":
		return scalar(boolInt(x == 0)), nil
	}
	return Value{}, s.fail(n, "Unsupported operator '%s'", n.Op)
}

// evalStep evaluates x++, x--, ++x and --x to x±1 without writing memory.
// Pointers and arrays move by one element.
func (s *state) evalStep(n, x Node, op string) (Value, error) {
	delta := int64(1)
	if op == "--" {
		delta = -1
	}
	v, err := s.eval(x)
	if err != nil {
		return Value{}, err
	}
	if v.Record != nil && (v.Record.IsPointer || v.Record.Shape == structs.List) {
		return s.shift(v.Record, delta, n)
	}
	i, err := s.toScalar(v, x)
	if err != nil {
		return Value{}, err
	}
	return scalar(i + delta), nil
}

// shift implements rec + delta for pointers and array heads.
func (s *state) shift(rec *structs.Record, delta int64, n Node) (Value, error) {
	if rec.IsPointer {
		addr, err := target(rec)
		if err != nil {
			return Value{}, err
		}
		next := uint64(int64(addr) + delta*s.pointeeSize(rec))
		return Value{Record: s.mat.PointerLiteral(rec.Pointee, next)}, nil
	}

	arr, ok := s.graph.Lookup(rec.Type)
	a, isArray := arr.(*codeview.Array)
	if !ok || !isArray {
		return Value{}, s.fail(n, "Shall be a pointer type, got: '%s'", rec.TypeName)
	}
	size, err := s.graph.SizeOf(a.ElementType)
	if err != nil {
		return Value{}, err
	}
	addr := uint64(int64(rec.Address) + delta*int64(size))
	elem, err := s.mat.Form(a.ElementType, fmt.Sprintf("[%d]", delta), addr, false)
	if err != nil {
		return Value{}, err
	}
	return Value{Record: elem}, nil
}

func (s *state) evalCast(n *Cast) (Value, error) {
	ti, err := s.graph.ResolveTypeName(n.Type)
	if err != nil {
		return Value{}, s.fail(n, "Unknown type '%s'", n.Type)
	}
	l, ok := s.graph.Lookup(ti)
	if !ok {
		return Value{}, s.fail(n, "Unknown type '%s'", n.Type)
	}

	v, err := s.eval(n.X)
	if err != nil {
		return Value{}, err
	}
	var addr int64
	if v.Record != nil && v.Record.Shape != structs.Scalar {
		addr = int64(v.Record.Address)
	} else if addr, err = s.toScalar(v, n.X); err != nil {
		return Value{}, err
	}

	for {
		m, ok := l.(*codeview.Modifier)
		if !ok {
			break
		}
		ti = m.Modified
		if l, ok = s.graph.Lookup(ti); !ok {
			return Value{}, s.fail(n, "Unknown type '%s'", n.Type)
		}
	}

	switch t := l.(type) {
	case *codeview.Pointer:
		return Value{Record: s.mat.PointerLiteral(t.Referent, uint64(addr))}, nil
	case *codeview.Structure, *codeview.Union, *codeview.Array:
		rec, err := s.mat.Form(ti, s.text(n), uint64(addr), false)
		if err != nil {
			return Value{}, err
		}
		return Value{Record: rec}, nil
	}
	return Value{}, s.fail(n, "Unsupported cast to '%s'", n.Type)
}

func (s *state) evalSizeOf(n *SizeOf) (Value, error) {
	if n.Type != "" {
		ti, err := s.graph.ResolveTypeName(n.Type)
		if err != nil {
			return Value{}, s.fail(n, "Unknown type '%s'", n.Type)
		}
		size, err := s.graph.SizeOf(ti)
		if err != nil {
			return Value{}, err
		}
		return scalar(int64(size)), nil
	}

	v, err := s.eval(n.X)
	if err != nil {
		return Value{}, err
	}
	if v.Record == nil {
		return scalar(int64(s.graph.PointerSize())), nil
	}
	return scalar(int64(v.Record.Size)), nil
}

func (s *state) evalOffsetOf(n *OffsetOf) (Value, error) {
	ti, err := s.graph.ResolveTypeName(n.Type)
	if err != nil {
		return Value{}, s.fail(n, "Unknown type '%s'", n.Type)
	}

	var offset uint64
	for _, name := range strings.Split(n.Member, ".") {
		m, off, ok := s.graph.Member(ti, name)
		if !ok {
			return Value{}, s.fail(n, "Member '%s' not found in '%s'", name, s.graph.TypeName(ti))
		}
		offset += off
		ti = m.Type
	}
	return scalar(int64(offset)), nil
}

func (s *state) evalBinary(n *Binary) (Value, error) {
	switch n.Op {
	case "&&", "||":
		x, err := s.scalarOf(n.X)
		if err != nil {
			return Value{}, err
		}
		if (n.Op == "&&") == (x == 0) {
			return scalar(boolInt(x != 0)), nil
		}
		y, err := s.scalarOf(n.Y)
		if err != nil {
			return Value{}, err
		}
		return scalar(boolInt(y != 0)), nil
	}

	xv, err := s.eval(n.X)
	if err != nil {
		return Value{}, err
	}
	yv, err := s.eval(n.Y)
	if err != nil {
		return Value{}, err
	}

	if n.Op == "+" || n.Op == "-" {
		if v, handled, err := s.pointerArith(n, xv, yv); handled {
			return v, err
		}
	}

	x, err := s.toScalar(xv, n.X)
	if err != nil {
		return Value{}, err
	}
	y, err := s.toScalar(yv, n.Y)
	if err != nil {
		return Value{}, err
	}

	switch n.Op {
	case "+":
		return scalar(x + y), nil
	case "-":
		return scalar(x - y), nil
	case "*":
		return scalar(x * y), nil
	case "/", "%":
		if y == 0 {
			return Value{}, s.fail(n, "Division by zero")
		}
		if n.Op == "/" {
			return scalar(x / y), nil
		}
		return scalar(x % y), nil
	case "<<":
		return scalar(x << (uint64(y) & 63)), nil
	case ">>":
		return scalar(x >> (uint64(y) & 63)), nil
	case "&":
		return scalar(x & y), nil
	case "|":
		return scalar(x | y), nil
	case "^":
		return scalar(x ^ y), nil
	case "==":
		return scalar(boolInt(x == y)), nil
	case "!=":
		return scalar(boolInt(x != y)), nil
	case "<":
		return scalar(boolInt(x < y)), nil
	case ">":
		return scalar(boolInt(x > y)), nil
	case "<=":
		return scalar(boolInt(x <= y)), nil
	case ">=":
		return scalar(boolInt(x >= y)), nil
	}
	return Value{}, s.fail(n, "Unsupported operator '%s'", n.Op)
}

func isAddressable(v Value) bool {
	return v.Record != nil && (v.Record.IsPointer || v.Record.Shape == structs.List)
}

// pointerArith handles ptr±n, n+ptr, array±n and ptr-ptr. handled is false
// when neither operand is a pointer or array.
func (s *state) pointerArith(n *Binary, xv, yv Value) (Value, bool, error) {
	switch {
	case isAddressable(xv) && isAddressable(yv):
		if n.Op != "-" || !xv.Record.IsPointer || !yv.Record.IsPointer {
			return Value{}, true, s.fail(n, "Unsupported operator '%s' on pointers", n.Op)
		}
		a, err := target(xv.Record)
		if err != nil {
			return Value{}, true, err
		}
		b, err := target(yv.Record)
		if err != nil {
			return Value{}, true, err
		}
		return scalar((int64(a) - int64(b)) / s.pointeeSize(xv.Record)), true, nil
	case isAddressable(xv):
		d, err := s.toScalar(yv, n.Y)
		if err != nil {
			return Value{}, true, err
		}
		if n.Op == "-" {
			d = -d
		}
		v, err := s.shift(xv.Record, d, n)
		return v, true, err
	case isAddressable(yv) && n.Op == "+":
		d, err := s.toScalar(xv, n.X)
		if err != nil {
			return Value{}, true, err
		}
		v, err := s.shift(yv.Record, d, n)
		return v, true, err
	}
	return Value{}, false, nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

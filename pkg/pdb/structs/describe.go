package structs

// Field is an immutable snapshot of a record for renderers.
type Field struct {
	Name      string    `json:"name"`
	Member    string    `json:"member,omitempty"`
	Type      string    `json:"type"`
	Address   uint64    `json:"address"`
	Size      int       `json:"size"`
	Bits      *BitRange `json:"bits,omitempty"`
	Pointer   bool      `json:"pointer,omitempty"`
	Collapsed bool      `json:"collapsed,omitempty"`
	Value     *uint64   `json:"value,omitempty"`
	Error     string    `json:"error,omitempty"`
	Fields    []Field   `json:"fields,omitempty"`
}

// Describe snapshots r and its formed descendants, reading scalar values.
// A failed read marks only that field.
func Describe(r *Record) Field {
	f := Field{
		Name:      r.LevelName,
		Member:    r.Name,
		Type:      r.TypeName,
		Address:   r.Address,
		Size:      r.Size,
		Bits:      r.Bits,
		Pointer:   r.IsPointer,
		Collapsed: !r.Expanded(),
	}
	if f.Member == f.Name {
		f.Member = ""
	}

	if r.Shape == Scalar {
		if v, err := r.Value(); err != nil {
			f.Error = err.Error()
		} else {
			f.Value = &v
		}
		return f
	}

	for _, c := range r.children {
		f.Fields = append(f.Fields, Describe(c))
	}
	return f
}

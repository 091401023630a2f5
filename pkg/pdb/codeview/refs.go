package codeview

// Refs lists every type reference held by l, including those of field list
// entries. NoType references are omitted.
func Refs(l Leaf) []TypeIndex {
	var refs []TypeIndex
	add := func(ti ...TypeIndex) {
		for _, t := range ti {
			if t != NoType {
				refs = append(refs, t)
			}
		}
	}

	switch v := l.(type) {
	case *Structure:
		add(v.FieldList, v.Derived, v.VShape)
	case *Union:
		add(v.FieldList)
	case *Enum:
		add(v.UnderlyingType, v.FieldList)
	case *Array:
		add(v.ElementType, v.IndexType)
	case *Pointer:
		add(v.Referent, v.ContainingClass)
	case *Modifier:
		add(v.Modified)
	case *Bitfield:
		add(v.Type)
	case *Procedure:
		add(v.ReturnType, v.ArgList)
	case *MemberFunction:
		add(v.ReturnType, v.ClassType, v.ThisType, v.ArgList)
	case *ArgList:
		add(v.Args...)
	case *FieldList:
		for _, f := range v.Fields {
			refs = append(refs, Refs(f)...)
		}
	case *Member:
		add(v.Type)
	case *StaticMember:
		add(v.Type)
	case *NestType:
		add(v.Type)
	case *BaseClass:
		add(v.Type)
	case *VirtualBaseClass:
		add(v.Type, v.VBPtr)
	case *VFuncTab:
		add(v.Type)
	case *Method:
		add(v.MethodList)
	case *OneMethod:
		add(v.Type)
	case *Index:
		add(v.Continuation)
	}
	return refs
}

// RewriteRefs returns a copy of l with every non-empty type reference
// replaced by fn(ref). l itself is not modified.
func RewriteRefs(l Leaf, fn func(TypeIndex) TypeIndex) Leaf {
	m := func(t TypeIndex) TypeIndex {
		if t == NoType {
			return t
		}
		return fn(t)
	}

	switch v := l.(type) {
	case *Structure:
		c := *v
		c.FieldList, c.Derived, c.VShape = m(v.FieldList), m(v.Derived), m(v.VShape)
		return &c
	case *Union:
		c := *v
		c.FieldList = m(v.FieldList)
		return &c
	case *Enum:
		c := *v
		c.UnderlyingType, c.FieldList = m(v.UnderlyingType), m(v.FieldList)
		return &c
	case *Array:
		c := *v
		c.ElementType, c.IndexType = m(v.ElementType), m(v.IndexType)
		return &c
	case *Pointer:
		c := *v
		c.Referent, c.ContainingClass = m(v.Referent), m(v.ContainingClass)
		return &c
	case *Modifier:
		c := *v
		c.Modified = m(v.Modified)
		return &c
	case *Bitfield:
		c := *v
		c.Type = m(v.Type)
		return &c
	case *Procedure:
		c := *v
		c.ReturnType, c.ArgList = m(v.ReturnType), m(v.ArgList)
		return &c
	case *MemberFunction:
		c := *v
		c.ReturnType, c.ClassType, c.ThisType, c.ArgList = m(v.ReturnType), m(v.ClassType), m(v.ThisType), m(v.ArgList)
		return &c
	case *ArgList:
		args := make([]TypeIndex, len(v.Args))
		for i, a := range v.Args {
			args[i] = m(a)
		}
		return &ArgList{Args: args}
	case *FieldList:
		fields := make([]Leaf, len(v.Fields))
		for i, f := range v.Fields {
			fields[i] = RewriteRefs(f, fn)
		}
		return &FieldList{Fields: fields}
	case *Member:
		c := *v
		c.Type = m(v.Type)
		return &c
	case *StaticMember:
		c := *v
		c.Type = m(v.Type)
		return &c
	case *NestType:
		c := *v
		c.Type = m(v.Type)
		return &c
	case *BaseClass:
		c := *v
		c.Type = m(v.Type)
		return &c
	case *VirtualBaseClass:
		c := *v
		c.Type, c.VBPtr = m(v.Type), m(v.VBPtr)
		return &c
	case *VFuncTab:
		c := *v
		c.Type = m(v.Type)
		return &c
	case *Method:
		c := *v
		c.MethodList = m(v.MethodList)
		return &c
	case *OneMethod:
		c := *v
		c.Type = m(v.Type)
		return &c
	case *Index:
		c := *v
		c.Continuation = m(v.Continuation)
		return &c
	}
	return l
}

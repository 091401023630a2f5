// Package pdb provides high-level access to Microsoft PDB debug files:
// the type graph, global variables, struct materialization and expression
// evaluation over a memory source.
package pdb

// Global is a global or static variable from the symbol record stream.
type Global struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Segment   uint16 `json:"segment"`
	Offset    uint32 `json:"offset"`
	RVA       uint64 `json:"rva"`
	TypeIndex uint32 `json:"type_index"`
	TypeName  string `json:"type_name"`
	IsGlobal  bool   `json:"is_global"`
}

// Constant is a named constant from an S_CONSTANT record.
type Constant struct {
	Name      string `json:"name"`
	Value     int64  `json:"value"`
	TypeIndex uint32 `json:"type_index"`
}

// TypeInfo is a named structure, class, union or enum.
type TypeInfo struct {
	Index   uint32   `json:"index"`
	Kind    string   `json:"kind"`
	Name    string   `json:"name"`
	Size    uint64   `json:"size,omitempty"`
	Members []Member `json:"members,omitempty"`
}

// Member is a data member of a structure or union, or an enum constant.
type Member struct {
	Name     string `json:"name"`
	TypeName string `json:"type_name,omitempty"`
	Offset   uint64 `json:"offset"`
	Value    *int64 `json:"value,omitempty"`
}

// SectionInfo represents a PE section.
type SectionInfo struct {
	Index          uint16 `json:"index"` // 1-based
	Name           string `json:"name,omitempty"`
	VirtualAddress uint32 `json:"virtual_address"`
	VirtualSize    uint32 `json:"virtual_size"`
}

// ModuleInfo represents information about a compiled module.
type ModuleInfo struct {
	Name         string `json:"name"`
	ObjectFile   string `json:"object_file"`
	SymbolStream uint16 `json:"symbol_stream"`
	SymbolSize   uint32 `json:"symbol_size"`
	SourceFiles  uint16 `json:"source_files"`
}

// Info contains basic PDB file information.
type Info struct {
	GUID         string            `json:"guid,omitempty"`
	Age          uint32            `json:"age"`
	Version      uint32            `json:"version"`
	Signature    uint32            `json:"signature"`
	Machine      string            `json:"machine,omitempty"`
	PointerSize  int               `json:"pointer_size"`
	Streams      int               `json:"streams"`
	Types        int               `json:"types"`
	OMAP         bool              `json:"omap"`
	NamedStreams map[string]uint32 `json:"named_streams,omitempty"`
}

package typegraph

import (
	"go.uber.org/zap"

	"github.com/jtang613/pdbview/pkg/pdb/codeview"
)

// fwdKey groups records that may complete each other. Structures and
// classes share a namespace; unions and enums have their own.
type fwdKey struct {
	group byte
	name  string
}

func keyOf(l codeview.Leaf) (fwdKey, bool) {
	switch v := l.(type) {
	case *codeview.Structure:
		return fwdKey{'s', v.Name}, v.Name != ""
	case *codeview.Union:
		return fwdKey{'u', v.Name}, v.Name != ""
	case *codeview.Enum:
		return fwdKey{'e', v.Name}, v.Name != ""
	}
	return fwdKey{}, false
}

// EliminateForwardRefs replaces every reference to an incomplete
// declaration with a reference to its definition. leaves[i] is the record
// for index begin+i. The result is a new arena in which forward reference
// slots are nil; the input is not modified. The returned map holds the
// target chosen for each dropped index, NoType when no definition exists.
//
// Running the function on its own output returns an equal arena and an
// empty map.
func EliminateForwardRefs(leaves []codeview.Leaf, begin codeview.TypeIndex, log *zap.SugaredLogger) ([]codeview.Leaf, map[codeview.TypeIndex]codeview.TypeIndex) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	// Forward declarations by name.
	fwd := make(map[fwdKey][]codeview.TypeIndex)
	for i, l := range leaves {
		if l == nil || !codeview.IsForwardRef(l) {
			continue
		}
		if k, ok := keyOf(l); ok {
			fwd[k] = append(fwd[k], begin+codeview.TypeIndex(i))
		} else {
			fwd[fwdKey{}] = append(fwd[fwdKey{}], begin+codeview.TypeIndex(i))
		}
	}

	// First real definition for each forward-declared name.
	defs := make(map[fwdKey]codeview.TypeIndex, len(fwd))
	for i, l := range leaves {
		if l == nil || codeview.IsForwardRef(l) {
			continue
		}
		k, ok := keyOf(l)
		if !ok {
			continue
		}
		if _, wanted := fwd[k]; !wanted {
			continue
		}
		if _, seen := defs[k]; !seen {
			defs[k] = begin + codeview.TypeIndex(i)
		}
	}

	remap := make(map[codeview.TypeIndex]codeview.TypeIndex)
	for k, indices := range fwd {
		target, ok := defs[k]
		if !ok {
			log.Debugw("forward reference without definition", "name", k.name)
			target = codeview.NoType
		}
		for _, ti := range indices {
			remap[ti] = target
		}
	}

	out := make([]codeview.Leaf, len(leaves))
	for i, l := range leaves {
		if l == nil {
			continue
		}
		if _, dropped := remap[begin+codeview.TypeIndex(i)]; dropped {
			continue
		}
		out[i] = codeview.RewriteRefs(l, func(ti codeview.TypeIndex) codeview.TypeIndex {
			if target, ok := remap[ti]; ok {
				if target == codeview.NoType {
					log.Debugw("unresolved type reference", "from", begin+codeview.TypeIndex(i), "to", ti)
				}
				return target
			}
			return ti
		})
	}
	return out, remap
}

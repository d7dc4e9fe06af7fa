package domain

import "strings"

// ExtractPath evaluates a dot-notation path (e.g. "data.opportunity.title")
// against a generic decoded-JSON tree (maps, slices, and scalars), the "small
// path DSL" called for in §9 to replace the original system's dynamic object
// traversal. A numeric path segment indexes into a slice. Returns false if
// any segment is missing or the tree shape doesn't match the path.
func ExtractPath(tree any, path string) (any, bool) {
	if path == "" {
		return tree, true
	}
	segments := strings.Split(path, ".")
	cur := tree
	for _, seg := range segments {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, ok := parseIndex(seg)
			if !ok || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

func parseIndex(seg string) (int, bool) {
	if seg == "" {
		return 0, false
	}
	n := 0
	for _, r := range seg {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

// ExtractString is a convenience wrapper over ExtractPath for string-typed leaves.
func ExtractString(tree any, path string) (string, bool) {
	v, ok := ExtractPath(tree, path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

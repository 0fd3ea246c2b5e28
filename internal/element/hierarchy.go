package element

import "strings"

// FindChildrenOf locates the first node matching identifier (case-sensitive,
// takes precedence) or label (case-insensitive) at any depth in the forest,
// and returns its entire subtree flattened, without mutating the input.
// Unknown parent returns an empty list.
func FindChildrenOf(roots []*Tree, identifier, label string) []Element {
	parent := findNode(roots, identifier, label)
	if parent == nil || len(parent.Children) == 0 {
		return nil
	}
	return flattenChildren(parent.Children)
}

func findNode(nodes []*Tree, identifier, label string) *Tree {
	labelLower := strings.ToLower(label)
	for _, n := range nodes {
		if identifier != "" && n.Identifier == identifier {
			return n
		}
		if label != "" && strings.ToLower(n.Label) == labelLower {
			return n
		}
		if found := findNode(n.Children, identifier, label); found != nil {
			return found
		}
	}
	return nil
}

// flattenChildren flattens a subtree into a flat Element list without
// mutating the nodes it walks.
func flattenChildren(nodes []*Tree) []Element {
	var out []Element
	for _, n := range nodes {
		out = append(out, n.Element)
		if len(n.Children) > 0 {
			out = append(out, flattenChildren(n.Children)...)
		}
	}
	return out
}

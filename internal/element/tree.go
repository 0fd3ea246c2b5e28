package element

// ParseTree maps a nested list of device-native dicts (each carrying an
// optional "children" key) into a forest of *Tree, preserving nesting for
// describe_all_nested.
func ParseTree(raw []map[string]any) []*Tree {
	out := make([]*Tree, 0, len(raw))
	for _, item := range raw {
		out = append(out, parseTreeOne(item))
	}
	return out
}

func parseTreeOne(item map[string]any) *Tree {
	el := parseOne(item)
	node := &Tree{Element: el}

	children, _ := item["children"].([]any)
	for _, c := range children {
		cm, ok := c.(map[string]any)
		if !ok {
			continue
		}
		node.Children = append(node.Children, parseTreeOne(cm))
	}
	return node
}

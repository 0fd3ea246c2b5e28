// Package element implements the canonical Element/ElementTree model
// (component F): parsing from device-native dicts, search predicates,
// center computation, nested hierarchy queries, and the screen summarizer.
package element

import "strings"

// typePrefix is the class-name prefix WDA/XCUITest element types carry;
// stripped when normalizing the type field.
const typePrefix = "XCUIElementType"

// Frame is the element's on-screen rectangle, in points.
type Frame struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Element is a single UI node: a value object with no identity across
// snapshots. Frame is nil unless all four of x/y/width/height were present
// on the source dict.
type Element struct {
	Type             string   `json:"type"`
	Label            string   `json:"label"`
	Identifier       string   `json:"identifier,omitempty"`
	Value            string   `json:"value,omitempty"`
	Frame            *Frame   `json:"frame,omitempty"`
	Enabled          bool     `json:"enabled"`
	Role             string   `json:"role,omitempty"`
	RoleDescription  string   `json:"role_description,omitempty"`
	Help             string   `json:"help,omitempty"`
	CustomActions    []string `json:"custom_actions,omitempty"`
}

// Tree is the nested form of Element: every node carries Children (possibly
// empty). A parent's frame need not contain its children's frames — iOS
// emits out-of-tree accessibility elements — so callers must not assume
// geometric containment.
type Tree struct {
	Element
	Children []*Tree `json:"children,omitempty"`
}

// normalizeType strips the XCUIElementType prefix and defaults to "Unknown".
func normalizeType(raw string) string {
	if raw == "" {
		return "Unknown"
	}
	if strings.HasPrefix(raw, typePrefix) {
		stripped := strings.TrimPrefix(raw, typePrefix)
		if stripped == "" {
			return "Unknown"
		}
		return stripped
	}
	return raw
}

// isClassNameEcho reports whether identifier just echoes the device's class
// name (e.g. "XCUIElementTypeButton"), which must be filtered to empty.
func isClassNameEcho(identifier string) bool {
	return strings.HasPrefix(identifier, typePrefix)
}

// Flatten walks a Tree in parents-before-children order and returns the
// flat Element sequence. "Deepest" per describe_point's contract means
// last in this sequence among matches.
func Flatten(root *Tree) []Element {
	var out []Element
	var walk func(*Tree)
	walk = func(n *Tree) {
		if n == nil {
			return
		}
		out = append(out, n.Element)
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return out
}

// FlattenForest is Flatten over a list of top-level Trees (a page-source
// response may have several roots).
func FlattenForest(roots []*Tree) []Element {
	var out []Element
	for _, r := range roots {
		out = append(out, Flatten(r)...)
	}
	return out
}

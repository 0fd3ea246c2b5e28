package element

import (
	"fmt"
	"testing"
)

func TestParseNormalizesTypeAndFiltersEcho(t *testing.T) {
	raw := []map[string]any{
		{
			"type":        "XCUIElementTypeButton",
			"AXLabel":     "Submit",
			"AXUniqueId":  "XCUIElementTypeButton",
			"frame":       map[string]any{"x": 10.0, "y": 20.0, "width": 100.0, "height": 40.0},
		},
		{
			"AXLabel": "Mystery",
		},
	}

	got := ParseAll(raw)
	if len(got) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(got))
	}
	if got[0].Type != "Button" {
		t.Fatalf("expected normalized type Button, got %q", got[0].Type)
	}
	if got[0].Identifier != "" {
		t.Fatalf("expected class-name echo identifier filtered to empty, got %q", got[0].Identifier)
	}
	if got[1].Type != "Unknown" {
		t.Fatalf("expected missing type to default to Unknown, got %q", got[1].Type)
	}
}

// Invariant 2: predicate-pushdown output satisfies the filter and never
// exceeds the input length.
func TestParsePredicatePushdown(t *testing.T) {
	raw := []map[string]any{
		{"type": "XCUIElementTypeButton", "AXLabel": "Mail"},
		{"type": "XCUIElementTypeButton", "AXLabel": "Voicemail"},
		{"type": "XCUIElementTypeStaticText", "AXLabel": "Mail"},
	}

	got := Parse(raw, ParseOpts{FilterLabel: "Mail", FilterType: "Button"})
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 match, got %d", len(got))
	}
	if got[0].Label != "Mail" || got[0].Type != "Button" {
		t.Fatalf("unexpected match: %+v", got[0])
	}
	if len(got) > len(raw) {
		t.Fatalf("output must not exceed input length")
	}
}

// Invariant 1: center lies within the frame.
func TestCenterWithinFrame(t *testing.T) {
	e := Element{Frame: &Frame{X: 10, Y: 20, Width: 100, Height: 40}}
	x, y, err := Center(e)
	if err != nil {
		t.Fatal(err)
	}
	if x < e.Frame.X || x > e.Frame.X+e.Frame.Width {
		t.Fatalf("center x %v out of frame bounds", x)
	}
	if y < e.Frame.Y || y > e.Frame.Y+e.Frame.Height {
		t.Fatalf("center y %v out of frame bounds", y)
	}
}

func TestCenterFrameless(t *testing.T) {
	_, _, err := Center(Element{Label: "No Frame"})
	if err == nil {
		t.Fatalf("expected error for frame-less element")
	}
}

// Invariant 8: exact, non-substring label match.
func TestFindByLabelExactNotSubstring(t *testing.T) {
	elements := []Element{{Label: "Mail"}, {Label: "Voicemail"}, {Label: "Email"}}
	got := FindByLabel(elements, "Mail")
	if len(got) != 1 || got[0].Label != "Mail" {
		t.Fatalf("expected exactly one Mail match, got %+v", got)
	}
}

func TestFindByIdentifierCaseSensitive(t *testing.T) {
	elements := []Element{{Identifier: "SubmitButton"}, {Identifier: "submitbutton"}}
	got := FindByIdentifier(elements, "SubmitButton")
	if len(got) != 1 {
		t.Fatalf("expected exactly one case-sensitive match, got %d", len(got))
	}
}

// Invariant 9: FindChildrenOf must not mutate the input tree.
func TestFindChildrenOfDoesNotMutate(t *testing.T) {
	child := &Tree{Element: Element{Label: "Child", Type: "Button"}}
	parent := &Tree{
		Element:  Element{Label: "Container", Identifier: "container-1"},
		Children: []*Tree{child},
	}
	roots := []*Tree{parent}

	before := fmt.Sprintf("%+v", roots)
	got := FindChildrenOf(roots, "container-1", "")
	after := fmt.Sprintf("%+v", roots)

	if before != after {
		t.Fatalf("FindChildrenOf mutated the input tree")
	}
	if len(got) != 1 || got[0].Label != "Child" {
		t.Fatalf("unexpected children: %+v", got)
	}
	if len(parent.Children) != 1 {
		t.Fatalf("children key should remain on the original node")
	}
}

func TestFindChildrenOfUnknownParent(t *testing.T) {
	roots := []*Tree{{Element: Element{Label: "Root"}}}
	got := FindChildrenOf(roots, "does-not-exist", "")
	if got != nil {
		t.Fatalf("expected nil for unknown parent, got %+v", got)
	}
}

// Scenario S5: screen-summary truncation.
func TestSummarizeTruncation(t *testing.T) {
	var elements []Element
	for i := 0; i < 30; i++ {
		elements = append(elements, Element{Type: "Button", Label: fmt.Sprintf("WithID%d", i), Identifier: fmt.Sprintf("id-%d", i)})
	}
	for i := 0; i < 20; i++ {
		elements = append(elements, Element{Type: "Button", Label: fmt.Sprintf("NoID%d", i)})
	}
	for i := 0; i < 5; i++ {
		elements = append(elements, Element{Type: "TabBar", Label: fmt.Sprintf("Tab%d", i)})
	}
	for i := 0; i < 3; i++ {
		elements = append(elements, Element{Type: "TextField", Label: fmt.Sprintf("Field%d", i)})
	}
	for i := 0; i < 100; i++ {
		elements = append(elements, Element{Type: "StaticText", Label: fmt.Sprintf("Label%d", i)})
	}

	summary := Summarize(elements, 20)

	if summary.TotalInteractiveElements != 53 {
		t.Fatalf("expected total_interactive_elements=53, got %d", summary.TotalInteractiveElements)
	}
	if !summary.Truncated {
		t.Fatalf("expected truncated=true")
	}
	if len(summary.InteractiveElements) != 25 {
		t.Fatalf("expected 20 truncated interactives + 5 nav chrome = 25, got %d", len(summary.InteractiveElements))
	}

	tabBarCount := 0
	for _, e := range summary.InteractiveElements {
		if e.Type == "TabBar" {
			tabBarCount++
		}
	}
	if tabBarCount != 5 {
		t.Fatalf("expected all 5 tab-bar items preserved regardless of truncation, got %d", tabBarCount)
	}
}

// Invariant 7: navigation chrome survives truncation at max_elements=0 too.
func TestSummarizeNoTruncationWhenMaxElementsZero(t *testing.T) {
	var elements []Element
	for i := 0; i < 25; i++ {
		elements = append(elements, Element{Type: "Button", Label: fmt.Sprintf("B%d", i), Identifier: fmt.Sprintf("id-%d", i)})
	}
	elements = append(elements, Element{Type: "NavigationBar", Label: "Nav"})

	summary := Summarize(elements, 0)
	if summary.Truncated {
		t.Fatalf("max_elements=0 must disable truncation")
	}
	if len(summary.InteractiveElements) != 26 {
		t.Fatalf("expected all 25 buttons + nav chrome, got %d", len(summary.InteractiveElements))
	}
}

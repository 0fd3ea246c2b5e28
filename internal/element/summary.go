package element

import (
	"fmt"
	"sort"
	"strings"
)

// interactiveTypes is the set of element types considered interactive for
// screen summaries.
var interactiveTypes = map[string]bool{
	"button":      true,
	"textfield":   true,
	"switch":      true,
	"slider":      true,
	"link":        true,
	"searchfield": true,
}

// InteractiveElement is a summarized view of an element, shaped for
// downstream agent consumption.
type InteractiveElement struct {
	Type       string `json:"type"`
	Label      string `json:"label"`
	Identifier string `json:"identifier,omitempty"`
	Value      string `json:"value,omitempty"`
}

// Summary is the structured result of §4.4.5's screen summarizer.
type Summary struct {
	Summary                   string               `json:"summary"`
	ElementCount              int                  `json:"element_count"`
	ElementTypes              map[string]int       `json:"element_types"`
	InteractiveElements       []InteractiveElement `json:"interactive_elements"`
	Truncated                 bool                 `json:"truncated"`
	TotalInteractiveElements  int                  `json:"total_interactive_elements"`
	MaxElements               int                  `json:"max_elements"`
}

type scored struct {
	entry    InteractiveElement
	priority int
}

// isNavigationChrome detects tab bars, nav bars, toolbars, back buttons, and
// anything with "tab" in its type name — always surfaced regardless of
// truncation.
func isNavigationChrome(e Element) bool {
	t := strings.ToLower(e.Type)
	switch t {
	case "tabbar", "navigationbar", "toolbar", "navbar":
		return true
	}
	if t == "button" && strings.Contains(strings.ToLower(e.Label), "back") {
		return true
	}
	if strings.Contains(t, "tab") {
		return true
	}
	return false
}

// priority assigns the truncation-ordering score: 60 for buttons with an
// identifier, 40 for form inputs, 20 for buttons without an identifier, 5
// for everything else.
func priority(e Element) int {
	t := strings.ToLower(e.Type)
	if t == "button" && e.Identifier != "" {
		return 60
	}
	switch t {
	case "textfield", "switch", "slider", "searchfield", "picker":
		return 40
	}
	if t == "button" {
		return 20
	}
	return 5
}

func toEntry(e Element) InteractiveElement {
	return InteractiveElement{
		Type:       e.Type,
		Label:      e.Label,
		Identifier: e.Identifier,
		Value:      e.Value,
	}
}

// Summarize produces the template-based screen description with
// priority-aware truncation and unconditional navigation-chrome inclusion.
// maxElements == 0 disables truncation.
func Summarize(elements []Element, maxElements int) Summary {
	typeCounts := make(map[string]int)
	var navChrome []InteractiveElement
	var interactive []scored

	var appLabel string
	for _, e := range elements {
		typeCounts[e.Type]++
		if e.Type == "Application" && strings.TrimSpace(e.Label) != "" && appLabel == "" {
			appLabel = strings.TrimSpace(e.Label)
		}

		if isNavigationChrome(e) {
			navChrome = append(navChrome, toEntry(e))
			continue
		}

		if interactiveTypes[strings.ToLower(e.Type)] {
			interactive = append(interactive, scored{entry: toEntry(e), priority: priority(e)})
		}
	}

	totalInteractive := len(interactive)
	truncated := false
	if maxElements > 0 && len(interactive) > maxElements {
		sort.SliceStable(interactive, func(i, j int) bool {
			return interactive[i].priority > interactive[j].priority
		})
		interactive = interactive[:maxElements]
		truncated = true
	}

	out := make([]InteractiveElement, 0, len(interactive)+len(navChrome))
	for _, s := range interactive {
		out = append(out, s.entry)
	}
	out = append(out, navChrome...)

	summary := composeProse(appLabel, typeCounts, out)

	return Summary{
		Summary:                  summary,
		ElementCount:             len(elements),
		ElementTypes:             typeCounts,
		InteractiveElements:      out,
		Truncated:                truncated,
		TotalInteractiveElements: totalInteractive,
		MaxElements:              maxElements,
	}
}

func composeProse(appLabel string, typeCounts map[string]int, interactive []InteractiveElement) string {
	var parts []string

	head := "Screen"
	if appLabel != "" {
		head = appLabel + " screen"
	}

	type countEntry struct {
		typ   string
		count int
	}
	var counts []countEntry
	for t, c := range typeCounts {
		if t == "Application" {
			continue
		}
		counts = append(counts, countEntry{t, c})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count > counts[j].count
		}
		return counts[i].typ < counts[j].typ
	})

	if len(counts) > 0 {
		descs := make([]string, 0, len(counts))
		limit := counts
		if len(limit) > 4 {
			limit = limit[:4]
		}
		for _, c := range limit {
			suffix := ""
			if c.count > 1 {
				suffix = "s"
			}
			descs = append(descs, fmt.Sprintf("%d %s%s", c.count, strings.ToLower(c.typ), suffix))
		}
		head += " with " + strings.Join(descs, ", ")
		if len(counts) > 4 {
			head += fmt.Sprintf(", and %d more type(s)", len(counts)-4)
		}
	}
	head += "."
	parts = append(parts, head)

	var labeled []string
	for _, e := range interactive {
		if e.Label != "" {
			labeled = append(labeled, e.Label)
		}
	}
	if len(labeled) > 0 {
		line := "Interactive elements: " + strings.Join(firstN(labeled, 15), ", ")
		if len(labeled) > 15 {
			line += fmt.Sprintf(", and %d more", len(labeled)-15)
		}
		line += "."
		parts = append(parts, line)
	}

	var valued []string
	for _, e := range interactive {
		if e.Value == "" {
			continue
		}
		name := e.Label
		if name == "" {
			name = e.Type
		}
		valued = append(valued, fmt.Sprintf("%s: '%s'", name, e.Value))
	}
	if len(valued) > 0 {
		parts = append(parts, fmt.Sprintf("Values: %s.", strings.Join(firstN(valued, 5), ", ")))
	}

	return strings.Join(parts, " ")
}

func firstN(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

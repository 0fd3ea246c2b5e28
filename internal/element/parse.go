package element

import (
	"strconv"
	"strings"
)

// ParseOpts carries the optional predicate-pushdown filters §4.4.1
// mandates: when set, a raw dict is checked against them BEFORE
// constructing an Element, so large screens don't pay for full
// construction of records the caller doesn't want.
type ParseOpts struct {
	FilterLabel      string // exact, case-insensitive
	FilterIdentifier string // exact, case-sensitive
	FilterType       string // exact, case-insensitive
}

func (o ParseOpts) active() bool {
	return o.FilterLabel != "" || o.FilterIdentifier != "" || o.FilterType != ""
}

// Parse maps a flat list of device-native dicts (idb/WDA describe-all
// output) to Element records, applying ParseOpts as a pushdown filter.
// Invariant 2: every returned record satisfies the supplied filters, and
// len(output) <= len(input).
func Parse(raw []map[string]any, opts ParseOpts) []Element {
	out := make([]Element, 0, len(raw))

	filterLabelLower := strings.ToLower(opts.FilterLabel)
	filterTypeLower := strings.ToLower(opts.FilterType)

	for _, item := range raw {
		if opts.FilterIdentifier != "" {
			id, _ := item["AXUniqueId"].(string)
			if id != opts.FilterIdentifier {
				continue
			}
		}
		if opts.FilterLabel != "" {
			label, _ := item["AXLabel"].(string)
			if strings.ToLower(label) != filterLabelLower {
				continue
			}
		}
		if opts.FilterType != "" {
			typ, _ := item["type"].(string)
			if strings.ToLower(normalizeType(typ)) != filterTypeLower {
				continue
			}
		}

		out = append(out, parseOne(item))
	}
	return out
}

// ParseAll is Parse with no filters, for callers that want the full set.
func ParseAll(raw []map[string]any) []Element {
	return Parse(raw, ParseOpts{})
}

func parseOne(item map[string]any) Element {
	typeVal, _ := item["type"].(string)
	typeVal = normalizeType(typeVal)

	label, _ := item["AXLabel"].(string)

	var identifier string
	if id, ok := item["AXUniqueId"].(string); ok {
		identifier = id
	}
	if identifier != "" && isClassNameEcho(identifier) {
		identifier = ""
	}

	var value string
	hasValue := false
	if v, ok := item["AXValue"]; ok && v != nil {
		value = stringify(v)
		hasValue = true
	}

	frame := parseFrame(item["frame"])

	enabled := true
	if e, ok := item["enabled"].(bool); ok {
		enabled = e
	}

	role, _ := item["role"].(string)
	roleDesc, _ := item["role_description"].(string)
	help, _ := item["help"].(string)

	var customActions []string
	if raw, ok := item["custom_actions"].([]any); ok {
		for _, a := range raw {
			if s, ok := a.(string); ok {
				customActions = append(customActions, s)
			}
		}
	}

	el := Element{
		Type:            typeVal,
		Label:           label,
		Identifier:      identifier,
		Frame:           frame,
		Enabled:         enabled,
		Role:            role,
		RoleDescription: roleDesc,
		Help:            help,
		CustomActions:   customActions,
	}
	if hasValue {
		el.Value = value
	}
	return el
}

func parseFrame(raw any) *Frame {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	x, xok := toFloat(m["x"])
	y, yok := toFloat(m["y"])
	w, wok := toFloat(m["width"])
	h, hok := toFloat(m["height"])
	if !xok || !yok || !wok || !hok {
		return nil
	}
	return &Frame{X: x, Y: y, Width: w, Height: h}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case bool:
		if s {
			return "true"
		}
		return "false"
	default:
		if f, ok := toFloat(v); ok {
			return trimFloat(f)
		}
		return ""
	}
}

func trimFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	return s
}

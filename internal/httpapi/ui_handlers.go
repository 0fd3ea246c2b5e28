package httpapi

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/devicelab-dev/quern/internal/core"
	"github.com/devicelab-dev/quern/internal/element"
)

// handleUI implements GET /api/v1/device/ui (spec §6). strategy=skeleton
// bypasses /source entirely per §4.3; children_of scopes to a subtree.
func (s *Server) handleUI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "method not allowed"})
		return
	}

	q := r.URL.Query()
	udid, err := s.resolveUDID(r.Context(), q.Get("udid"))
	if err != nil {
		writeError(w, err)
		return
	}

	depth, ok := parseSnapshotDepth(w, q)
	if !ok {
		return
	}

	var elements []element.Element
	if q.Get("strategy") == "skeleton" {
		elements = s.wda.BuildScreenSkeleton(r.Context(), udid)
	} else if childrenOf := q.Get("children_of"); childrenOf != "" {
		trees, err := s.wda.DescribeAllNested(r.Context(), udid, depth)
		if err != nil {
			writeError(w, err)
			return
		}
		elements = element.FindChildrenOf(trees, childrenOf, childrenOf)
	} else {
		elements, err = s.wda.DescribeAll(r.Context(), udid, depth)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"elements":      elements,
		"element_count": len(elements),
		"udid":          udid,
	})
}

// parseSnapshotDepth reads the optional snapshot_depth query parameter
// shared by GET /device/ui and GET /device/screen-summary (spec §6). 0
// means "no override" — DescribeAll/DescribeAllNested keep whatever depth
// the session already has.
func parseSnapshotDepth(w http.ResponseWriter, q url.Values) (depth int, ok bool) {
	raw := q.Get("snapshot_depth")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "snapshot_depth must be an integer"})
		return 0, false
	}
	return n, true
}

// handleUIElement implements GET /api/v1/device/ui/element.
func (s *Server) handleUIElement(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "method not allowed"})
		return
	}

	q := r.URL.Query()
	udid, err := s.resolveUDID(r.Context(), q.Get("udid"))
	if err != nil {
		writeError(w, err)
		return
	}

	elements, err := s.wda.DescribeAll(r.Context(), udid, 0)
	if err != nil {
		writeError(w, err)
		return
	}

	matches := element.Find(elements, element.Query{
		Label:      q.Get("label"),
		Identifier: q.Get("identifier"),
		Type:       q.Get("type"),
	})

	if len(matches) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "no element matched the given criteria"})
		return
	}

	resp := map[string]interface{}{"element": matches[0], "udid": udid}
	if len(matches) > 1 {
		resp["match_count"] = len(matches)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleScreenSummary implements GET /api/v1/device/screen-summary.
func (s *Server) handleScreenSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "method not allowed"})
		return
	}

	q := r.URL.Query()
	udid, err := s.resolveUDID(r.Context(), q.Get("udid"))
	if err != nil {
		writeError(w, err)
		return
	}

	maxElements := 20
	if raw := q.Get("max_elements"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "max_elements must be an integer"})
			return
		}
		maxElements = n
	}

	depth, ok := parseSnapshotDepth(w, q)
	if !ok {
		return
	}

	var elements []element.Element
	if q.Get("strategy") == "skeleton" {
		elements = s.wda.BuildScreenSkeleton(r.Context(), udid)
	} else {
		elements, err = s.wda.DescribeAll(r.Context(), udid, depth)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	summary := element.Summarize(elements, maxElements)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary":                    summary.Summary,
		"element_count":              summary.ElementCount,
		"element_types":              summary.ElementTypes,
		"interactive_elements":       summary.InteractiveElements,
		"truncated":                  summary.Truncated,
		"total_interactive_elements": summary.TotalInteractiveElements,
		"max_elements":               summary.MaxElements,
		"udid":                       udid,
	})
}

// waitCondition enumerates the conditions wait-for-element polls for, per
// original_source/server/api/device_ui.py's docstring.
const (
	conditionExists        = "exists"
	conditionEnabled       = "enabled"
	conditionDisabled      = "disabled"
	conditionValueEquals   = "value_equals"
	conditionValueContains = "value_contains"
)

type waitForElementRequest struct {
	UDID       string  `json:"udid"`
	Label      string  `json:"label"`
	Identifier string  `json:"identifier"`
	Type       string  `json:"type"`
	Condition  string  `json:"condition"`
	Value      *string `json:"value"`
	Timeout    float64 `json:"timeout"`
	Interval   float64 `json:"interval"`
}

// handleWaitForElement implements POST /api/v1/device/ui/wait-for-element:
// a server-side poll that always answers 200 with matched:bool, so callers
// can distinguish "condition never satisfied" from a genuine error.
func (s *Server) handleWaitForElement(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "method not allowed"})
		return
	}

	var body waitForElementRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if body.Condition == "" {
		body.Condition = conditionExists
	}
	if body.Timeout == 0 {
		body.Timeout = 10
	}
	if body.Interval == 0 {
		body.Interval = 0.5
	}

	if body.Timeout > 60 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "timeout cannot exceed 60 seconds"})
		return
	}
	if (body.Condition == conditionValueEquals || body.Condition == conditionValueContains) && body.Value == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "condition '" + body.Condition + "' requires a value parameter"})
		return
	}

	udid, err := s.resolveUDID(r.Context(), body.UDID)
	if err != nil {
		writeError(w, err)
		return
	}

	query := element.Query{Label: body.Label, Identifier: body.Identifier, Type: body.Type}

	start := time.Now()
	deadline := start.Add(time.Duration(body.Timeout * float64(time.Second)))
	interval := time.Duration(body.Interval * float64(time.Second))

	var lastState *element.Element
	polls := 0
	for {
		polls++
		elements, err := s.wda.DescribeAll(r.Context(), udid, 0)
		if err != nil {
			writeError(w, err)
			return
		}

		matches := element.Find(elements, query)
		if len(matches) > 0 {
			lastState = &matches[0]
			if conditionSatisfied(body.Condition, matches[0], body.Value) {
				writeJSON(w, http.StatusOK, map[string]interface{}{
					"matched":         true,
					"element":         matches[0],
					"last_state":      nil,
					"elapsed_seconds": time.Since(start).Seconds(),
					"polls":           polls,
					"udid":            udid,
				})
				return
			}
		}

		if time.Now().Add(interval).After(deadline) {
			break
		}
		select {
		case <-r.Context().Done():
			writeError(w, core.ErrUnavailable.WithMessage("client disconnected while waiting for element"))
			return
		case <-time.After(interval):
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"matched":         false,
		"element":         nil,
		"last_state":      lastState,
		"elapsed_seconds": time.Since(start).Seconds(),
		"polls":           polls,
		"udid":            udid,
	})
}

func conditionSatisfied(condition string, e element.Element, value *string) bool {
	switch condition {
	case conditionExists:
		return true
	case conditionEnabled:
		return e.Enabled
	case conditionDisabled:
		return !e.Enabled
	case conditionValueEquals:
		return value != nil && e.Value == *value
	case conditionValueContains:
		return value != nil && strings.Contains(e.Value, *value)
	default:
		return true
	}
}

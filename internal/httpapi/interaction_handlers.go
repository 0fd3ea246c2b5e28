package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/devicelab-dev/quern/internal/element"
)

// decodeJSON decodes the request body into v, writing a 400 and returning
// false on malformed JSON so callers can early-return.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "malformed request body: " + err.Error()})
		return false
	}
	return true
}

type tapRequest struct {
	UDID string  `json:"udid"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

func (s *Server) handleTap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "method not allowed"})
		return
	}
	var body tapRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	udid, err := s.resolveUDID(r.Context(), body.UDID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.wda.Tap(r.Context(), udid, body.X, body.Y); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "udid": udid})
}

type tapElementRequest struct {
	UDID       string `json:"udid"`
	Label      string `json:"label"`
	Identifier string `json:"identifier"`
	Type       string `json:"type"`
}

// handleTapElement implements POST /ui/tap-element: ambiguous matches
// return 200 with a match list per spec §6, not an error.
func (s *Server) handleTapElement(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "method not allowed"})
		return
	}
	var body tapElementRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	udid, err := s.resolveUDID(r.Context(), body.UDID)
	if err != nil {
		writeError(w, err)
		return
	}

	elements, err := s.wda.DescribeAll(r.Context(), udid, 0)
	if err != nil {
		writeError(w, err)
		return
	}

	matches := element.Find(elements, element.Query{Label: body.Label, Identifier: body.Identifier, Type: body.Type})
	if len(matches) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "no element matched the given criteria"})
		return
	}
	if len(matches) > 1 {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "ambiguous",
			"matches": matches,
			"udid":    udid,
		})
		return
	}

	x, y, err := element.Center(matches[0])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	if err := s.wda.Tap(r.Context(), udid, x, y); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "udid": udid})
}

type swipeRequest struct {
	UDID        string  `json:"udid"`
	FromX       float64 `json:"from_x"`
	FromY       float64 `json:"from_y"`
	ToX         float64 `json:"to_x"`
	ToY         float64 `json:"to_y"`
	DurationSec float64 `json:"duration"`
}

func (s *Server) handleSwipe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "method not allowed"})
		return
	}
	var body swipeRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	udid, err := s.resolveUDID(r.Context(), body.UDID)
	if err != nil {
		writeError(w, err)
		return
	}
	duration := time.Duration(body.DurationSec * float64(time.Second))
	if duration <= 0 {
		duration = 300 * time.Millisecond
	}
	if err := s.wda.Swipe(r.Context(), udid, body.FromX, body.FromY, body.ToX, body.ToY, duration); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "udid": udid})
}

type typeTextRequest struct {
	UDID string `json:"udid"`
	Text string `json:"text"`
}

func (s *Server) handleType(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "method not allowed"})
		return
	}
	var body typeTextRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	udid, err := s.resolveUDID(r.Context(), body.UDID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.wda.TypeText(r.Context(), udid, body.Text); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "udid": udid})
}

type clearRequest struct {
	UDID        string  `json:"udid"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	ElementType string  `json:"element_type"`
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "method not allowed"})
		return
	}
	var body clearRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	udid, err := s.resolveUDID(r.Context(), body.UDID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.wda.ClearText(r.Context(), udid, body.X, body.Y, body.ElementType); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "udid": udid})
}

type pressButtonRequest struct {
	UDID string `json:"udid"`
	Name string `json:"name"`
}

func (s *Server) handlePress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "method not allowed"})
		return
	}
	var body pressButtonRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "name is required"})
		return
	}
	udid, err := s.resolveUDID(r.Context(), body.UDID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.wda.PressButton(r.Context(), udid, body.Name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "udid": udid})
}

package httpapi

import (
	"net/http"

	"github.com/devicelab-dev/quern/internal/devicepool"
)

type claimRequest struct {
	UDID      string `json:"udid"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleDevicesClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "method not allowed"})
		return
	}
	var body claimRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.UDID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "udid is required"})
		return
	}
	claim, err := s.pool.Claim(body.UDID, body.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

type releaseRequest struct {
	UDID      string `json:"udid"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleDevicesRelease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "method not allowed"})
		return
	}
	var body releaseRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.UDID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "udid is required"})
		return
	}
	if err := s.pool.Release(body.UDID, body.SessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "udid": body.UDID})
}

type resolveRequest struct {
	UDID          string `json:"udid"`
	NameEquals    string `json:"name_equals"`
	NameContains  string `json:"name_contains"`
	BootedOnly    bool   `json:"booted_only"`
	ClaimableOnly bool   `json:"claimable_only"`
}

func (s *Server) handleDevicesResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "method not allowed"})
		return
	}
	var body resolveRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	udid, err := s.pool.Resolve(r.Context(), devicepool.Criteria{
		UDID:          body.UDID,
		NameEquals:    body.NameEquals,
		NameContains:  body.NameContains,
		BootedOnly:    body.BootedOnly,
		ClaimableOnly: body.ClaimableOnly,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"udid": udid})
}

type ensureRequest struct {
	Count        int    `json:"count"`
	NameEquals   string `json:"name_equals"`
	NameContains string `json:"name_contains"`
}

func (s *Server) handleDevicesEnsure(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "method not allowed"})
		return
	}
	var body ensureRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Count <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "count must be a positive integer"})
		return
	}
	udids, err := s.pool.Ensure(r.Context(), body.Count, devicepool.Criteria{
		NameEquals:   body.NameEquals,
		NameContains: body.NameContains,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"udids": udids})
}

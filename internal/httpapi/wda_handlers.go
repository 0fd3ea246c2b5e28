package httpapi

import (
	"net/http"

	"github.com/devicelab-dev/quern/internal/lifecycle"
)

type wdaSetupRequest struct {
	UDID      string `json:"udid"`
	OSVersion string `json:"os_version"`
	TeamID    string `json:"team_id"`
}

// handleWDASetup implements POST /api/v1/device/wda/setup (spec §4.1).
// needs_identity_selection is a 200-level outcome, not an error.
func (s *Server) handleWDASetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "method not allowed"})
		return
	}
	var body wdaSetupRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	udid, err := s.resolveUDID(r.Context(), body.UDID)
	if err != nil {
		writeError(w, err)
		return
	}
	if blocked := s.rejectSimulator(w, r, udid); blocked {
		return
	}

	status, err := s.lifecycle.Setup(r.Context(), udid, body.OSVersion, body.TeamID)
	if err != nil {
		writeError(w, err)
		return
	}

	if status.Kind == lifecycle.SetupNeedsIdentitySelection {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":     "needs_identity_selection",
			"identities": status.Identities,
			"udid":       udid,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"team_id":   status.TeamID,
		"cloned":    status.Cloned,
		"built":     status.Built,
		"installed": status.Installed,
		"udid":      udid,
	})
}

type wdaStartRequest struct {
	UDID      string `json:"udid"`
	OSVersion string `json:"os_version"`
}

func (s *Server) handleWDAStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "method not allowed"})
		return
	}
	var body wdaStartRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	udid, err := s.resolveUDID(r.Context(), body.UDID)
	if err != nil {
		writeError(w, err)
		return
	}
	if blocked := s.rejectSimulator(w, r, udid); blocked {
		return
	}

	status, err := s.lifecycle.Start(r.Context(), udid, body.OSVersion)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"already_running":  status.Kind == lifecycle.StartAlreadyRunning,
		"pid":              status.PID,
		"ready":            status.Ready,
		"udid":             udid,
	})
}

type wdaStopRequest struct {
	UDID string `json:"udid"`
}

func (s *Server) handleWDAStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "method not allowed"})
		return
	}
	var body wdaStopRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	udid, err := s.resolveUDID(r.Context(), body.UDID)
	if err != nil {
		writeError(w, err)
		return
	}
	if blocked := s.rejectSimulator(w, r, udid); blocked {
		return
	}

	status, err := s.lifecycle.Stop(r.Context(), udid)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"was_running":  status.Kind == lifecycle.StopStopped,
		"udid":         udid,
	})
}

// rejectSimulator writes the 400 spec §6 requires for WDA lifecycle
// operations against simulators (WDA is a physical-device concern only;
// simulators run the full accessibility stack natively). Returns true if
// the request was rejected and the caller must stop.
func (s *Server) rejectSimulator(w http.ResponseWriter, r *http.Request, udid string) bool {
	isSim, err := s.pool.IsSimulator(r.Context(), udid)
	if err != nil {
		writeError(w, err)
		return true
	}
	if isSim {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "WDA lifecycle operations do not apply to simulators"})
		return true
	}
	return false
}

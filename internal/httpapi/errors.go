package httpapi

import (
	"errors"
	"net/http"

	"github.com/devicelab-dev/quern/internal/core"
)

// writeError maps an ExecutionError's category to the status codes spec §7
// enumerates and writes the JSON {detail: string} shape every error
// response uses. A plain error (not a tagged ExecutionError) is treated as
// UNKNOWN and mapped to 500, matching "wrap everything else, never swallow".
func writeError(w http.ResponseWriter, err error) {
	var execErr *core.ExecutionError
	if !errors.As(err, &execErr) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}

	writeJSON(w, statusForCategory(execErr.Category), map[string]string{"detail": execErr.Error()})
}

func statusForCategory(cat core.ErrorCategory) int {
	switch cat {
	case core.ErrCategoryValidation:
		return http.StatusBadRequest
	case core.ErrCategoryNotFound:
		return http.StatusNotFound
	case core.ErrCategoryWDATransport, core.ErrCategoryWDATimeout,
		core.ErrCategoryToolchain, core.ErrCategoryUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/channelstream/broker/internal/service"
)

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps a service error to an HTTP status per spec.md §7: unknown
// connections are unauthorized, messages with no route are bad requests,
// everything else is an internal error.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, service.ErrUnknownConnection):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrNoRoute):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

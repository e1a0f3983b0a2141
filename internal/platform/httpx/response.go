package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
)

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// ErrorRule maps a sentinel error onto an API error code and status.
type ErrorRule struct {
	Target error
	Code   string
	Status int
}

// FromError returns the first rule matching err via errors.Is. Unmatched errors become a 500
// with fallbackCode. The message carries err's text.
func FromError(err error, fallbackCode string, rules ...ErrorRule) Error {
	if err == nil {
		return NewError(fallbackCode, "unknown error", http.StatusInternalServerError)
	}
	for _, rule := range rules {
		if rule.Target != nil && errors.Is(err, rule.Target) {
			return NewError(rule.Code, err.Error(), rule.Status)
		}
	}
	return NewError(fallbackCode, err.Error(), http.StatusInternalServerError)
}

package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"gridbook/internal/core"
)

// Success responses are wrapped as {"data": ...} with an optional count for
// collections; failures as {"error": {"code", "message"}}.
type envelope struct {
	Data  any  `json:"data"`
	Count *int `json:"count,omitempty"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Data: data})
}

func respondList(w http.ResponseWriter, status int, data any, count int) {
	writeJSON(w, status, envelope{Data: data, Count: &count})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// respondDomainError maps the error taxonomy onto HTTP statuses. Access
// denials are deliberately uniform: the same code and message whether the
// sheet is missing, unprotected, or the PIN is wrong.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case core.IsAccessDenied(err):
		respondError(w, http.StatusForbidden, "access_denied", "access denied")
	case core.IsValidation(err):
		respondError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
	case core.IsNotFound(err):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case core.IsConflict(err):
		respondError(w, http.StatusConflict, "conflict", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// decodeJSON reads a request body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

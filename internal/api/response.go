package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bher20/meterbill/internal/billing"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

func writeValidation(w http.ResponseWriter, verr *billing.ValidationError) {
	writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: errorBody{
		Code:    "validation_error",
		Message: "Invalid request data",
		Fields:  verr.Fields,
	}})
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not_found", "Not found.")
}

// fail maps a service or storage error onto the error envelope.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *billing.ValidationError
	switch {
	case errors.As(err, &verr):
		writeValidation(w, verr)
	case errors.Is(err, billing.ErrNotFound):
		notFound(w)
	case errors.Is(err, billing.ErrNoProperties):
		writeError(w, http.StatusBadRequest, "no_properties", "No properties available for analytics")
	case errors.Is(err, billing.ErrInvalidResource):
		writeValidation(w, billing.Invalid("resource_type", "Unknown resource type"))
	default:
		log.Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error")
	}
}

const maxBodyBytes = 1 << 20

// decodeJSON reads a JSON object body. Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return billing.Invalid("body", "Request body is empty")
		}
		return billing.Invalid("body", fmt.Sprintf("Malformed JSON: %v", err))
	}
	return nil
}

package api

import (
	"encoding/json"
	"net/http"

	"github.com/lockbox-wallet/lockbox/internal/logger"
	apperrors "github.com/lockbox-wallet/lockbox/pkg/errors"
)

// errorEnvelope is the wire shape of every error response
type errorEnvelope struct {
	Error *apperrors.AppError `json:"error"`
}

// writeJSON writes a JSON response with the given status code
func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Component("api").Error("failed to encode response", "error", err)
	}
}

// writeError writes an error response. AppErrors keep their code and status;
// anything else is reported as an opaque internal error so wrapped driver
// and RPC details never leak to clients.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperrors.IsAppError(err)
	if !ok {
		logger.Error(r.Context(), "unhandled error", "error", err)
		appErr = apperrors.ErrInternalError
	} else if appErr.StatusCode >= 500 {
		logger.Error(r.Context(), "request failed", "code", appErr.Code, "error", err)
	}

	s.writeJSON(w, appErr.StatusCode, errorEnvelope{Error: appErr})
}

// decodeJSON decodes a request body, rejecting unknown fields
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.NewWithDetail(apperrors.ErrCodeBadRequest, "Invalid request body", err.Error(), http.StatusBadRequest)
	}
	return nil
}

// methodNotAllowed is the shared response for unsupported methods
func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, apperrors.New(apperrors.ErrCodeBadRequest, "Method not allowed", http.StatusMethodNotAllowed))
}

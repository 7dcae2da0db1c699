package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	apperrors "github.com/lockbox-wallet/lockbox/pkg/errors"
)

// handleSession serves the session snapshot
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	s.writeJSON(w, http.StatusOK, s.session.Info())
}

// handleSessionOperations routes /v1/session/unlock and /v1/session/lock
func (s *Server) handleSessionOperations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, r)
		return
	}

	switch strings.TrimPrefix(r.URL.Path, "/v1/session/") {
	case "unlock":
		s.handleUnlock(w, r)
	case "lock":
		s.handleLock(w, r)
	default:
		s.writeError(w, r, apperrors.ErrNotFound)
	}
}

type unlockRequest struct {
	WalletID string `json:"wallet_id"`
	Password string `json:"password"`
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	walletID, err := uuid.Parse(req.WalletID)
	if err != nil {
		s.writeError(w, r, apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Invalid wallet ID",
			err.Error(),
			http.StatusBadRequest,
		))
		return
	}

	if err := s.session.Unlock(r.Context(), walletID, []byte(req.Password)); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.session.Info())
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	s.session.Lock()
	s.writeJSON(w, http.StatusOK, s.session.Info())
}

package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/lockbox-wallet/lockbox/internal/app"
	apperrors "github.com/lockbox-wallet/lockbox/pkg/errors"
)

// handleWallets handles collection-level wallet operations
func (s *Server) handleWallets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListWallets(w, r)
	case http.MethodPost:
		s.handleCreateWallet(w, r)
	default:
		s.methodNotAllowed(w, r)
	}
}

// handleWalletOperations routes /v1/wallets/{id} and its sub-resources
func (s *Server) handleWalletOperations(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/wallets/"), "/")
	if len(parts) < 1 || parts[0] == "" {
		s.writeError(w, r, apperrors.ErrNotFound)
		return
	}

	// /v1/wallets/import
	if parts[0] == "import" {
		if r.Method != http.MethodPost {
			s.methodNotAllowed(w, r)
			return
		}
		s.handleImportWallet(w, r)
		return
	}

	id, err := uuid.Parse(parts[0])
	if err != nil {
		s.writeError(w, r, apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Invalid wallet ID",
			err.Error(),
			http.StatusBadRequest,
		))
		return
	}

	// /v1/wallets/{id}/activate
	if len(parts) == 2 && parts[1] == "activate" {
		if r.Method != http.MethodPost {
			s.methodNotAllowed(w, r)
			return
		}
		s.handleActivateWallet(w, r, id)
		return
	}

	if len(parts) > 1 {
		s.writeError(w, r, apperrors.ErrNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetWallet(w, r, id)
	case http.MethodPatch:
		s.handleUpdateWallet(w, r, id)
	case http.MethodDelete:
		s.handleRemoveWallet(w, r, id)
	default:
		s.methodNotAllowed(w, r)
	}
}

func (s *Server) handleListWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := s.wallets.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"wallets": wallets})
}

func (s *Server) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	var req app.CreateWalletRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.wallets.Create(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleImportWallet(w http.ResponseWriter, r *http.Request) {
	var req app.ImportWalletRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	summary, err := s.wallets.Import(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, summary)
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	summary, err := s.wallets.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleUpdateWallet(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var req app.UpdateWalletRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	summary, err := s.wallets.Update(r.Context(), id, &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRemoveWallet(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if err := s.wallets.Remove(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleActivateWallet(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if err := s.wallets.SetActive(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"active_wallet_id": id.String()})
}

// handleChangePassword re-encrypts every wallet under a new vault password
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, r)
		return
	}

	var req app.ChangePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.wallets.ChangePassword(r.Context(), &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "password changed"})
}

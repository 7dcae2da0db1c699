package api

import (
	"net/http"
	"strings"

	apperrors "github.com/lockbox-wallet/lockbox/pkg/errors"
)

// handleBackupStatus serves the backup reminder state
func (s *Server) handleBackupStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}

	status, err := s.backups.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, status)
}

// handleBackupOperations routes /v1/backup/{reveal|confirm|dismiss}
func (s *Server) handleBackupOperations(w http.ResponseWriter, r *http.Request) {
	switch strings.TrimPrefix(r.URL.Path, "/v1/backup/") {
	case "reveal":
		if r.Method != http.MethodGet {
			s.methodNotAllowed(w, r)
			return
		}
		s.handleBackupReveal(w, r)
	case "confirm":
		if r.Method != http.MethodPost {
			s.methodNotAllowed(w, r)
			return
		}
		s.handleBackupConfirm(w, r)
	case "dismiss":
		if r.Method != http.MethodPost {
			s.methodNotAllowed(w, r)
			return
		}
		s.handleBackupDismiss(w, r)
	default:
		s.writeError(w, r, apperrors.ErrNotFound)
	}
}

func (s *Server) handleBackupReveal(w http.ResponseWriter, r *http.Request) {
	mnemonic, err := s.backups.Reveal(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"mnemonic": mnemonic})
}

func (s *Server) handleBackupConfirm(w http.ResponseWriter, r *http.Request) {
	if err := s.backups.Confirm(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}

	status, err := s.backups.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleBackupDismiss(w http.ResponseWriter, r *http.Request) {
	status, err := s.backups.Dismiss(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

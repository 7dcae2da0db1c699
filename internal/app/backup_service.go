package app

import (
	"context"

	"github.com/lockbox-wallet/lockbox/internal/logger"
	"github.com/lockbox-wallet/lockbox/internal/session"
	"github.com/lockbox-wallet/lockbox/internal/storage"
	apperrors "github.com/lockbox-wallet/lockbox/pkg/errors"
	"github.com/lockbox-wallet/lockbox/pkg/types"
)

// BackupService implements the recovery-phrase backup reminder flow
type BackupService struct {
	backups *storage.BackupRepository
	session *session.Session
}

// NewBackupService creates a new BackupService
func NewBackupService(backups *storage.BackupRepository, sess *session.Session) *BackupService {
	return &BackupService{backups: backups, session: sess}
}

// BackupStatusResponse is the backup state plus the derived reminder flag
type BackupStatusResponse struct {
	types.BackupStatus
	ReminderDue bool `json:"reminder_due"`
}

// Status returns the backup state. The reminder is due until the phrase has
// been backed up or the reminder was dismissed past the threshold.
func (s *BackupService) Status(ctx context.Context) (*BackupStatusResponse, error) {
	status, err := s.backups.Get(ctx)
	if err != nil {
		return nil, err
	}
	if status == nil {
		return nil, apperrors.NewWithDetail(apperrors.ErrCodeNotFound, "No wallet created yet", "", 404)
	}

	return &BackupStatusResponse{
		BackupStatus: *status,
		ReminderDue:  !status.HasBackedUp && status.DismissCount < types.BackupDismissThreshold,
	}, nil
}

// Reveal returns the unlocked wallet's recovery phrase for the backup flow.
// Requires an unlocked session; imported wallets have no phrase to reveal.
func (s *BackupService) Reveal(ctx context.Context) (string, error) {
	return s.session.RevealMnemonic()
}

// Confirm records that the user completed a backup. Requires an unlocked
// session so a backup can only be confirmed by someone holding the password.
func (s *BackupService) Confirm(ctx context.Context) error {
	if _, err := s.session.Address(); err != nil {
		return err
	}

	if err := s.backups.MarkBackedUp(ctx); err != nil {
		return err
	}

	logger.Info(ctx, "recovery phrase backup confirmed")
	return nil
}

// Dismiss records a reminder dismissal and returns the updated state
func (s *BackupService) Dismiss(ctx context.Context) (*BackupStatusResponse, error) {
	status, err := s.backups.Dismiss(ctx)
	if err != nil {
		return nil, err
	}

	return &BackupStatusResponse{
		BackupStatus: *status,
		ReminderDue:  !status.HasBackedUp && status.DismissCount < types.BackupDismissThreshold,
	}, nil
}

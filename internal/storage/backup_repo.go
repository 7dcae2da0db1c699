package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	apperrors "github.com/lockbox-wallet/lockbox/pkg/errors"
	"github.com/lockbox-wallet/lockbox/pkg/types"
)

// BackupRepository handles the backup reminder state. Like the collection
// row, backup status is a singleton.
type BackupRepository struct {
	store *Store
}

// NewBackupRepository creates a new BackupRepository
func NewBackupRepository(store *Store) *BackupRepository {
	return &BackupRepository{store: store}
}

// Get loads the backup status. Returns nil when no wallet has been created yet.
func (r *BackupRepository) Get(ctx context.Context) (*types.BackupStatus, error) {
	query := `
		SELECT has_backed_up, last_backup_at, wallet_created_at, dismiss_count, last_dismissed_at
		FROM backup_status
		WHERE id = 1
	`

	var status types.BackupStatus
	err := r.store.pool.QueryRow(ctx, query).Scan(
		&status.HasBackedUp,
		&status.LastBackupAt,
		&status.WalletCreatedAt,
		&status.DismissCount,
		&status.LastDismissedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load backup status: %w", err)
	}

	return &status, nil
}

// InitTx seeds backup status when the first wallet is created. A no-op if
// a row already exists.
func (r *BackupRepository) InitTx(ctx context.Context, db DBTX) error {
	_, err := db.Exec(ctx, `
		INSERT INTO backup_status (id, has_backed_up, wallet_created_at, dismiss_count)
		VALUES (1, FALSE, NOW(), 0)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize backup status: %w", err)
	}
	return nil
}

// MarkBackedUp records a completed backup
func (r *BackupRepository) MarkBackedUp(ctx context.Context) error {
	_, err := r.store.pool.Exec(ctx, `
		UPDATE backup_status
		SET has_backed_up = TRUE, last_backup_at = NOW()
		WHERE id = 1
	`)
	if err != nil {
		return fmt.Errorf("failed to mark backed up: %w", err)
	}
	return nil
}

// Dismiss increments the reminder dismiss count
func (r *BackupRepository) Dismiss(ctx context.Context) (*types.BackupStatus, error) {
	query := `
		UPDATE backup_status
		SET dismiss_count = dismiss_count + 1, last_dismissed_at = NOW()
		WHERE id = 1
		RETURNING has_backed_up, last_backup_at, wallet_created_at, dismiss_count, last_dismissed_at
	`

	var status types.BackupStatus
	err := r.store.pool.QueryRow(ctx, query).Scan(
		&status.HasBackedUp,
		&status.LastBackupAt,
		&status.WalletCreatedAt,
		&status.DismissCount,
		&status.LastDismissedAt,
	)
	if err != nil {
		return nil, dismissError(err)
	}

	return &status, nil
}

// dismissError maps a missing backup row to not_found: dismissing before any
// wallet exists is a client error, not a storage failure.
func dismissError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewWithDetail(
			apperrors.ErrCodeNotFound,
			"No backup reminder to dismiss",
			"backup status is created with the first wallet",
			404,
		)
	}
	return fmt.Errorf("failed to dismiss backup reminder: %w", err)
}

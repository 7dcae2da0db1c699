package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	apperrors "github.com/lockbox-wallet/lockbox/pkg/errors"
	"github.com/lockbox-wallet/lockbox/pkg/types"
)

// CurrentCollectionVersion is the wallet collection schema version this
// build reads and writes. Older versions are migrated on load; newer ones
// are rejected.
const CurrentCollectionVersion = 2

// WalletRepository handles the wallet collection: the singleton collection
// row (version, active pointer, concurrency token) plus the wallet entries.
type WalletRepository struct {
	store *Store
}

// NewWalletRepository creates a new WalletRepository
func NewWalletRepository(store *Store) *WalletRepository {
	return &WalletRepository{store: store}
}

// Meta loads the collection-level state. Fails with version_unsupported if
// the stored version is newer than this build understands.
func (r *WalletRepository) Meta(ctx context.Context) (*types.CollectionMeta, error) {
	return r.metaTx(ctx, r.store.pool)
}

func (r *WalletRepository) metaTx(ctx context.Context, db DBTX) (*types.CollectionMeta, error) {
	query := `
		SELECT version, active_wallet_id, created_at, updated_at
		FROM wallet_collections
		WHERE id = 1
	`

	var meta types.CollectionMeta
	err := db.QueryRow(ctx, query).Scan(
		&meta.Version,
		&meta.ActiveWalletID,
		&meta.CreatedAt,
		&meta.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet collection: %w", err)
	}

	if meta.Version > CurrentCollectionVersion {
		return nil, apperrors.VersionUnsupported(meta.Version, CurrentCollectionVersion)
	}

	return &meta, nil
}

// Mutate runs fn inside a transaction after bumping the collection's
// updated_at. The bump only succeeds when the caller's view of the
// collection (meta.UpdatedAt) is still the freshest one; a stale view
// fails with concurrent_modification and must be retried after a re-read.
// The meta passed to fn reflects the post-bump state.
func (r *WalletRepository) Mutate(ctx context.Context, meta *types.CollectionMeta, fn func(tx pgx.Tx, meta *types.CollectionMeta) error) (*types.CollectionMeta, error) {
	var fresh types.CollectionMeta

	err := r.store.WithTx(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE wallet_collections
			SET updated_at = clock_timestamp()
			WHERE id = 1 AND updated_at = $1
			RETURNING version, active_wallet_id, created_at, updated_at
		`

		err := tx.QueryRow(ctx, query, meta.UpdatedAt).Scan(
			&fresh.Version,
			&fresh.ActiveWalletID,
			&fresh.CreatedAt,
			&fresh.UpdatedAt,
		)
		if err == pgx.ErrNoRows {
			return apperrors.ConcurrentModification()
		}
		if err != nil {
			return fmt.Errorf("failed to claim wallet collection write: %w", err)
		}

		return fn(tx, &fresh)
	})
	if err != nil {
		return nil, err
	}

	return &fresh, nil
}

const walletColumns = `
	id, label, color, icon, kind, address,
	enc_private_key, enc_mnemonic, sort_order, last_used_at, created_at
`

// CreateTx inserts a wallet entry inside a Mutate transaction
func (r *WalletRepository) CreateTx(ctx context.Context, db DBTX, w *types.MultiWalletRecord) error {
	query := `
		INSERT INTO wallets (
			id, label, color, icon, kind, address,
			enc_private_key, enc_mnemonic, sort_order, last_used_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`

	err := db.QueryRow(ctx, query,
		w.ID,
		w.Label,
		w.Color,
		w.Icon,
		w.Kind,
		w.Address,
		w.EncryptedPrivateKey,
		w.EncryptedMnemonic,
		w.Order,
		w.LastUsedAt,
	).Scan(&w.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}

	return nil
}

// GetByID retrieves a wallet entry by ID. Returns nil when absent.
func (r *WalletRepository) GetByID(ctx context.Context, id uuid.UUID) (*types.MultiWalletRecord, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`

	var w types.MultiWalletRecord
	err := r.store.pool.QueryRow(ctx, query, id).Scan(
		&w.ID,
		&w.Label,
		&w.Color,
		&w.Icon,
		&w.Kind,
		&w.Address,
		&w.EncryptedPrivateKey,
		&w.EncryptedMnemonic,
		&w.Order,
		&w.LastUsedAt,
		&w.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet by ID: %w", err)
	}

	return &w, nil
}

// List retrieves all wallet entries in display order
func (r *WalletRepository) List(ctx context.Context) ([]*types.MultiWalletRecord, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets ORDER BY sort_order ASC, created_at ASC`

	rows, err := r.store.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*types.MultiWalletRecord
	for rows.Next() {
		var w types.MultiWalletRecord
		err := rows.Scan(
			&w.ID,
			&w.Label,
			&w.Color,
			&w.Icon,
			&w.Kind,
			&w.Address,
			&w.EncryptedPrivateKey,
			&w.EncryptedMnemonic,
			&w.Order,
			&w.LastUsedAt,
			&w.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, &w)
	}

	return wallets, nil
}

// UpdateFieldsTx updates mutable display fields of a wallet entry inside a
// Mutate transaction. Nil fields are left untouched.
func (r *WalletRepository) UpdateFieldsTx(ctx context.Context, db DBTX, id uuid.UUID, label, color, icon *string) error {
	query := `
		UPDATE wallets
		SET label = COALESCE($2, label),
		    color = COALESCE($3, color),
		    icon = COALESCE($4, icon)
		WHERE id = $1
	`

	tag, err := db.Exec(ctx, query, id, label, color, icon)
	if err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.WalletNotFound(id.String())
	}

	return nil
}

// TouchTx updates a wallet's last_used_at inside a Mutate transaction
func (r *WalletRepository) TouchTx(ctx context.Context, db DBTX, id uuid.UUID) error {
	tag, err := db.Exec(ctx, `UPDATE wallets SET last_used_at = clock_timestamp() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to touch wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.WalletNotFound(id.String())
	}
	return nil
}

// ReencryptTx replaces a wallet's ciphertext blobs inside a Mutate
// transaction. Used on password change only; all other fields are immutable.
func (r *WalletRepository) ReencryptTx(ctx context.Context, db DBTX, id uuid.UUID, encKey, encMnemonic []byte) error {
	tag, err := db.Exec(ctx,
		`UPDATE wallets SET enc_private_key = $2, enc_mnemonic = $3 WHERE id = $1`,
		id, encKey, encMnemonic,
	)
	if err != nil {
		return fmt.Errorf("failed to re-encrypt wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.WalletNotFound(id.String())
	}
	return nil
}

// DeleteTx removes a wallet entry inside a Mutate transaction
func (r *WalletRepository) DeleteTx(ctx context.Context, db DBTX, id uuid.UUID) error {
	tag, err := db.Exec(ctx, `DELETE FROM wallets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.WalletNotFound(id.String())
	}
	return nil
}

// SetActiveTx updates the collection's active pointer inside a Mutate
// transaction. A non-nil id must reference an existing wallet row; the
// foreign key enforces the pointer invariant at the storage boundary.
func (r *WalletRepository) SetActiveTx(ctx context.Context, db DBTX, id *uuid.UUID) error {
	_, err := db.Exec(ctx, `UPDATE wallet_collections SET active_wallet_id = $1 WHERE id = 1`, id)
	if err != nil {
		return fmt.Errorf("failed to set active wallet: %w", err)
	}
	return nil
}

// MostRecentlyUsedTx returns the wallet with the freshest last_used_at,
// excluding the given id, or nil when no other wallet exists.
func (r *WalletRepository) MostRecentlyUsedTx(ctx context.Context, db DBTX, excluding uuid.UUID) (*uuid.UUID, error) {
	query := `
		SELECT id FROM wallets
		WHERE id <> $1
		ORDER BY last_used_at DESC NULLS LAST, created_at DESC
		LIMIT 1
	`

	var id uuid.UUID
	err := db.QueryRow(ctx, query, excluding).Scan(&id)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find most recently used wallet: %w", err)
	}

	return &id, nil
}

// CountTx returns the number of wallet entries
func (r *WalletRepository) CountTx(ctx context.Context, db DBTX) (int, error) {
	var n int
	if err := db.QueryRow(ctx, `SELECT COUNT(*) FROM wallets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count wallets: %w", err)
	}
	return n, nil
}

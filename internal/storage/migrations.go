package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	apperrors "github.com/lockbox-wallet/lockbox/pkg/errors"
	"github.com/lockbox-wallet/lockbox/pkg/types"
)

// collectionStep migrates the wallet collection data from version `from`
// to `from+1`. Steps are composable and applied in order inside a single
// transaction; a collection is either fully migrated or untouched.
type collectionStep struct {
	from  int
	notes string
	apply func(ctx context.Context, tx pgx.Tx) error
}

var collectionSteps = []collectionStep{
	{
		from:  1,
		notes: "fold the deprecated backup reminders-disabled flag into the dismiss count",
		apply: func(ctx context.Context, tx pgx.Tx) error {
			// The v1 flag becomes a saturated dismiss count; the threshold
			// check then suppresses reminders exactly as the flag did.
			_, err := tx.Exec(ctx, `
				UPDATE backup_status
				SET dismiss_count = GREATEST(dismiss_count, $1),
				    legacy_disabled = NULL
				WHERE legacy_disabled = TRUE
			`, types.BackupDismissThreshold)
			if err != nil {
				return fmt.Errorf("failed to fold legacy backup flag: %w", err)
			}
			return nil
		},
	},
}

// EnsureCollection initializes the singleton collection row on first run and
// migrates older collections to the current version. A collection newer than
// this build is rejected with version_unsupported, never guessed at.
func (r *WalletRepository) EnsureCollection(ctx context.Context) (*types.CollectionMeta, error) {
	var meta *types.CollectionMeta

	err := r.store.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO wallet_collections (id, version)
			VALUES (1, $1)
			ON CONFLICT (id) DO NOTHING
		`, CurrentCollectionVersion)
		if err != nil {
			return fmt.Errorf("failed to initialize wallet collection: %w", err)
		}

		var version int
		if err := tx.QueryRow(ctx, `SELECT version FROM wallet_collections WHERE id = 1 FOR UPDATE`).Scan(&version); err != nil {
			return fmt.Errorf("failed to read collection version: %w", err)
		}

		if version > CurrentCollectionVersion {
			return apperrors.VersionUnsupported(version, CurrentCollectionVersion)
		}

		for version < CurrentCollectionVersion {
			step, ok := stepFrom(version)
			if !ok {
				return fmt.Errorf("no migration step from collection version %d", version)
			}

			if err := step.apply(ctx, tx); err != nil {
				return fmt.Errorf("collection migration v%d -> v%d (%s): %w", step.from, step.from+1, step.notes, err)
			}

			version = step.from + 1
		}

		_, err = tx.Exec(ctx, `
			UPDATE wallet_collections
			SET version = $1, updated_at = clock_timestamp()
			WHERE id = 1 AND version <> $1
		`, CurrentCollectionVersion)
		if err != nil {
			return fmt.Errorf("failed to record collection version: %w", err)
		}

		meta, err = r.metaTx(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}

	return meta, nil
}

func stepFrom(version int) (*collectionStep, bool) {
	for i := range collectionSteps {
		if collectionSteps[i].from == version {
			return &collectionSteps[i], true
		}
	}
	return nil, false
}

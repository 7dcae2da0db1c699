package storage

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lockbox-wallet/lockbox/pkg/types"
)

// TransactionRepository handles tracked transaction storage. Records are
// written once at submission (or discovery) and updated only by the monitor.
type TransactionRepository struct {
	store *Store
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(store *Store) *TransactionRepository {
	return &TransactionRepository{store: store}
}

const txColumns = `
	hash, from_address, to_address, value, token_address, symbol, decimals,
	status, kind, block_number, block_time, gas_used, gas_price, chain_id, error_message
`

// Create creates a new transaction record
func (r *TransactionRepository) Create(ctx context.Context, tx *types.Transaction) error {
	query := `
		INSERT INTO transactions (
			hash, from_address, to_address, value, token_address, symbol, decimals,
			status, kind, block_number, block_time, gas_used, gas_price, chain_id, error_message
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
	`

	_, err := r.store.pool.Exec(ctx, query,
		tx.Hash,
		tx.From,
		tx.To,
		bigToText(tx.Value),
		tx.TokenAddress,
		tx.Symbol,
		tx.Decimals,
		tx.Status,
		tx.Kind,
		tx.BlockNumber,
		tx.Timestamp,
		tx.GasUsed,
		bigToText(tx.GasPrice),
		tx.ChainID,
		tx.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	return nil
}

// GetByHash retrieves a transaction by its on-chain hash. Returns nil when absent.
func (r *TransactionRepository) GetByHash(ctx context.Context, hash string) (*types.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE hash = $1`

	tx, err := scanTransaction(r.store.pool.QueryRow(ctx, query, hash))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction by hash: %w", err)
	}

	return tx, nil
}

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 500
)

// clampHistoryLimit applies the default to an unset limit and caps an
// oversized one at the maximum rather than shrinking it below what was asked.
func clampHistoryLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultHistoryLimit
	case limit > maxHistoryLimit:
		return maxHistoryLimit
	default:
		return limit
	}
}

// ListByAddress retrieves transactions involving an address, newest first,
// optionally filtered by status.
func (r *TransactionRepository) ListByAddress(ctx context.Context, address string, status *types.TxStatus, limit int) ([]*types.Transaction, error) {
	limit = clampHistoryLimit(limit)

	query := `
		SELECT ` + txColumns + `
		FROM transactions
		WHERE (from_address = $1 OR to_address = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := r.store.pool.Query(ctx, query, address, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*types.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, tx)
	}

	return transactions, nil
}

// CountByAddress returns the transaction counts for an address keyed by status.
func (r *TransactionRepository) CountByAddress(ctx context.Context, address string) (map[types.TxStatus]int, error) {
	query := `
		SELECT status, COUNT(*)
		FROM transactions
		WHERE from_address = $1 OR to_address = $1
		GROUP BY status
	`

	rows, err := r.store.pool.Query(ctx, query, address)
	if err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.TxStatus]int)
	for rows.Next() {
		var status types.TxStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan transaction count: %w", err)
		}
		counts[status] = n
	}

	return counts, nil
}

// MarkConfirmed records confirmation data delivered by the monitor.
func (r *TransactionRepository) MarkConfirmed(ctx context.Context, hash string, blockNumber uint64, blockTime time.Time, gasUsed uint64, gasPrice *big.Int) error {
	query := `
		UPDATE transactions
		SET status = $2, block_number = $3, block_time = $4,
		    gas_used = $5, gas_price = $6, updated_at = NOW()
		WHERE hash = $1
	`

	_, err := r.store.pool.Exec(ctx, query,
		hash, types.TxStatusConfirmed, blockNumber, blockTime, gasUsed, bigToText(gasPrice),
	)
	if err != nil {
		return fmt.Errorf("failed to mark transaction confirmed: %w", err)
	}

	return nil
}

// MarkFailed records a terminal failure delivered by the monitor.
func (r *TransactionRepository) MarkFailed(ctx context.Context, hash string, reason string) error {
	query := `
		UPDATE transactions
		SET status = $2, error_message = $3, updated_at = NOW()
		WHERE hash = $1
	`

	_, err := r.store.pool.Exec(ctx, query, hash, types.TxStatusFailed, reason)
	if err != nil {
		return fmt.Errorf("failed to mark transaction failed: %w", err)
	}

	return nil
}

// scanTransaction reads one row into a types.Transaction
func scanTransaction(row pgx.Row) (*types.Transaction, error) {
	var tx types.Transaction
	var value, gasPrice *string

	err := row.Scan(
		&tx.Hash,
		&tx.From,
		&tx.To,
		&value,
		&tx.TokenAddress,
		&tx.Symbol,
		&tx.Decimals,
		&tx.Status,
		&tx.Kind,
		&tx.BlockNumber,
		&tx.Timestamp,
		&tx.GasUsed,
		&gasPrice,
		&tx.ChainID,
		&tx.Error,
	)
	if err != nil {
		return nil, err
	}

	tx.Value = textToBig(value)
	tx.GasPrice = textToBig(gasPrice)

	return &tx, nil
}

// bigToText stores big integers as decimal text to survive any numeric range
func bigToText(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func textToBig(s *string) *big.Int {
	if s == nil {
		return nil
	}
	v, ok := new(big.Int).SetString(*s, 10)
	if !ok {
		return nil
	}
	return v
}

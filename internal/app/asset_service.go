package app

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lockbox-wallet/lockbox/internal/storage"
	"github.com/lockbox-wallet/lockbox/internal/swap"
	"github.com/lockbox-wallet/lockbox/internal/validation"
	apperrors "github.com/lockbox-wallet/lockbox/pkg/errors"
	"github.com/lockbox-wallet/lockbox/pkg/types"
)

// nativeDecimals is the decimal count of the chain's native asset
const nativeDecimals = 18

// BalanceReader reads on-chain balances and token metadata
type BalanceReader interface {
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	TokenSymbol(ctx context.Context, token common.Address) (string, error)
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
}

// AssetService serves the read-only queries behind the dashboard: balances,
// transaction history, pending lists, and count summaries.
type AssetService struct {
	chain BalanceReader
	txs   *storage.TransactionRepository
}

// NewAssetService creates a new AssetService
func NewAssetService(chain BalanceReader, txs *storage.TransactionRepository) *AssetService {
	return &AssetService{chain: chain, txs: txs}
}

// Balance is one asset balance for an address
type Balance struct {
	TokenAddress *string `json:"token_address,omitempty"` // nil for the native asset
	Symbol       string  `json:"symbol"`
	Decimals     int     `json:"decimals"`
	Raw          string  `json:"raw"`
	Formatted    string  `json:"formatted"`
}

// Balances returns the native balance plus the balances of the requested
// tokens. Token symbol and decimals are read from the contracts.
func (s *AssetService) Balances(ctx context.Context, address string, tokens []string) ([]Balance, error) {
	if err := validation.Address(address); err != nil {
		return nil, apperrors.InvalidAddress(err.Error())
	}

	owner := common.HexToAddress(address)

	native, err := s.chain.Balance(ctx, owner)
	if err != nil {
		return nil, err
	}

	balances := []Balance{{
		Symbol:    "ETH",
		Decimals:  nativeDecimals,
		Raw:       native.String(),
		Formatted: swap.FormatUnits(native, nativeDecimals),
	}}

	for _, token := range tokens {
		if err := validation.Address(token); err != nil {
			return nil, apperrors.InvalidAddress("token: " + err.Error())
		}

		contract := common.HexToAddress(token)
		amount, err := s.chain.TokenBalance(ctx, contract, owner)
		if err != nil {
			return nil, err
		}
		symbol, err := s.chain.TokenSymbol(ctx, contract)
		if err != nil {
			return nil, err
		}
		decimals, err := s.chain.TokenDecimals(ctx, contract)
		if err != nil {
			return nil, err
		}

		tokenHex := contract.Hex()
		balances = append(balances, Balance{
			TokenAddress: &tokenHex,
			Symbol:       symbol,
			Decimals:     int(decimals),
			Raw:          amount.String(),
			Formatted:    swap.FormatUnits(amount, int(decimals)),
		})
	}

	return balances, nil
}

// History returns tracked transactions for an address, newest first
func (s *AssetService) History(ctx context.Context, address string, status *types.TxStatus, limit int) ([]*types.Transaction, error) {
	if err := validation.Address(address); err != nil {
		return nil, apperrors.InvalidAddress(err.Error())
	}
	if status != nil && !status.Valid() {
		return nil, apperrors.NewWithDetail(apperrors.ErrCodeBadRequest, "Invalid status filter", string(*status), 400)
	}

	return s.txs.ListByAddress(ctx, address, status, limit)
}

// Pending returns the address's in-flight transactions
func (s *AssetService) Pending(ctx context.Context, address string) ([]*types.Transaction, error) {
	pending := types.TxStatusPending
	return s.History(ctx, address, &pending, 0)
}

// Summary returns transaction counts by status for an address
func (s *AssetService) Summary(ctx context.Context, address string) (map[types.TxStatus]int, error) {
	if err := validation.Address(address); err != nil {
		return nil, apperrors.InvalidAddress(err.Error())
	}

	return s.txs.CountByAddress(ctx, address)
}

// Transaction returns one tracked transaction by hash
func (s *AssetService) Transaction(ctx context.Context, hash string) (*types.Transaction, error) {
	tx, err := s.txs.GetByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, apperrors.NewWithDetail(apperrors.ErrCodeNotFound, "Transaction not found", hash, 404)
	}
	return tx, nil
}

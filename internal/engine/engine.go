// Package engine builds, signs, submits, and monitors transactions.
package engine

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/lockbox-wallet/lockbox/internal/chain"
	"github.com/lockbox-wallet/lockbox/internal/logger"
	"github.com/lockbox-wallet/lockbox/internal/metrics"
	"github.com/lockbox-wallet/lockbox/internal/validation"
	apperrors "github.com/lockbox-wallet/lockbox/pkg/errors"
	"github.com/lockbox-wallet/lockbox/pkg/types"
)

// Node is the chain-query collaborator the engine needs: nonce resolution,
// broadcast, and receipt polling.
type Node interface {
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)
	MinedNonce(ctx context.Context, addr common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) (string, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BlockTime(ctx context.Context, number uint64) (time.Time, error)
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// Signer produces signatures for the unlocked wallet. The engine never sees
// raw key material.
type Signer interface {
	SignTx(tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error)
	Address() (common.Address, error)
}

// FeeEstimator supplies fresh fee parameters per attempt
type FeeEstimator interface {
	Estimate(ctx context.Context, msg ethereum.CallMsg) (*types.GasEstimate, error)
}

// Records persists tracked transactions
type Records interface {
	Create(ctx context.Context, tx *types.Transaction) error
	MarkConfirmed(ctx context.Context, hash string, blockNumber uint64, blockTime time.Time, gasUsed uint64, gasPrice *big.Int) error
	MarkFailed(ctx context.Context, hash string, reason string) error
}

// Config holds engine tunables
type Config struct {
	ChainID        int64
	Confirmations  uint64
	PollInterval   time.Duration
	MonitorTimeout time.Duration
}

// Engine is the transaction engine
type Engine struct {
	node      Node
	signer    Signer
	estimator FeeEstimator
	records   Records

	chainID        int64
	confirmations  uint64
	pollInterval   time.Duration
	monitorTimeout time.Duration

	nonces *nonceManager
}

// New creates a transaction engine
func New(node Node, signer Signer, estimator FeeEstimator, records Records, cfg Config) *Engine {
	return &Engine{
		node:           node,
		signer:         signer,
		estimator:      estimator,
		records:        records,
		chainID:        cfg.ChainID,
		confirmations:  cfg.Confirmations,
		pollInterval:   cfg.PollInterval,
		monitorTimeout: cfg.MonitorTimeout,
		nonces:         newNonceManager(),
	}
}

// SendRequest describes a native or token transfer
type SendRequest struct {
	To     string
	Amount *big.Int
	// Token is the ERC-20 contract address; nil means a native transfer
	Token    *string
	Symbol   string
	Decimals int
}

// Send builds, signs, submits, and begins monitoring a transfer. It returns
// the initial pending record and a watcher delivering status transitions.
func (e *Engine) Send(ctx context.Context, req *SendRequest) (*types.Transaction, *Watcher, error) {
	if err := validation.Address(req.To); err != nil {
		return nil, nil, apperrors.InvalidAddress(err.Error())
	}
	if err := validation.Amount(req.Amount); err != nil {
		return nil, nil, apperrors.NewWithDetail(apperrors.ErrCodeBadRequest, "Invalid amount", err.Error(), 400)
	}

	from, err := e.signer.Address()
	if err != nil {
		return nil, nil, err
	}

	to := common.HexToAddress(req.To)

	var (
		value    = req.Amount
		callTo   = to
		data     []byte
		kind     = types.TxKindSend
		tokenPtr *string
	)
	if req.Token != nil {
		if err := validation.Address(*req.Token); err != nil {
			return nil, nil, apperrors.InvalidAddress(fmt.Sprintf("token: %s", err))
		}
		data, err = chain.PackTransfer(to, req.Amount)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build token transfer: %w", err)
		}
		callTo = common.HexToAddress(*req.Token)
		value = big.NewInt(0)
		tokenAddr := callTo.Hex()
		tokenPtr = &tokenAddr
	}

	if err := e.checkBalance(ctx, from, req); err != nil {
		return nil, nil, err
	}

	return e.Submit(ctx, &Submission{
		From:      from,
		To:        &callTo,
		Value:     value,
		Data:      data,
		Kind:      kind,
		Symbol:    req.Symbol,
		Decimals:  req.Decimals,
		Token:     tokenPtr,
		Display:   req.Amount,
		DisplayTo: to.Hex(),
	})
}

// Submission is a fully specified transaction to sign and broadcast.
// SwapEngine uses it directly for approvals and swaps.
type Submission struct {
	From     common.Address
	To       *common.Address
	Value    *big.Int
	Data     []byte
	Kind     types.TxKind
	Symbol   string
	Decimals int
	Token    *string
	// Display and DisplayTo are what the tracked record shows: for token
	// transfers the user-facing amount and recipient, not the calldata.
	Display   *big.Int
	DisplayTo string
}

// Submit estimates, signs, and broadcasts a transaction, persists the
// pending record, and starts its watcher. Nonce reservation and broadcast
// form one critical section per sender; a failed broadcast is reported
// verbatim and never retried here.
func (e *Engine) Submit(ctx context.Context, sub *Submission) (*types.Transaction, *Watcher, error) {
	estimate, err := e.estimator.Estimate(ctx, ethereum.CallMsg{
		From:  sub.From,
		To:    sub.To,
		Value: sub.Value,
		Data:  sub.Data,
	})
	if err != nil {
		return nil, nil, err
	}

	state := e.nonces.acquire(sub.From)
	defer state.release()

	chainPending, err := e.node.PendingNonce(ctx, sub.From)
	if err != nil {
		return nil, nil, err
	}
	nonce := state.reserve(chainPending)

	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   big.NewInt(e.chainID),
		Nonce:     nonce,
		To:        sub.To,
		Value:     sub.Value,
		Gas:       estimate.GasLimit,
		GasFeeCap: estimate.MaxFeePerGas,
		GasTipCap: estimate.MaxPriorityFeePerGas,
		Data:      sub.Data,
	})

	signed, err := e.signer.SignTx(tx, big.NewInt(e.chainID))
	if err != nil {
		return nil, nil, err
	}

	hash, err := e.node.SendTransaction(ctx, signed)
	if err != nil {
		return nil, nil, apperrors.NewWithDetail(
			apperrors.ErrCodeTransactionFailed,
			"Broadcast failed",
			err.Error(),
			502,
		)
	}
	state.committed(nonce)
	metrics.RecordSubmission(string(sub.Kind))

	displayTo := sub.DisplayTo
	if displayTo == "" && sub.To != nil {
		displayTo = sub.To.Hex()
	}
	displayValue := sub.Display
	if displayValue == nil {
		displayValue = sub.Value
	}

	record := &types.Transaction{
		Hash:         hash,
		From:         sub.From.Hex(),
		To:           &displayTo,
		Value:        displayValue,
		TokenAddress: sub.Token,
		Symbol:       sub.Symbol,
		Decimals:     sub.Decimals,
		Status:       types.TxStatusPending,
		Kind:         sub.Kind,
		ChainID:      e.chainID,
	}

	if err := e.records.Create(ctx, record); err != nil {
		// The transaction is already on its way; losing the record is worse
		// than reporting it late.
		logger.Error(ctx, "failed to persist pending transaction", "hash", hash, "error", err)
	}

	logger.Info(ctx, "transaction submitted",
		"hash", hash, "kind", sub.Kind, "nonce", nonce, "gas_limit", estimate.GasLimit)

	return record, e.watch(signed.Hash(), sub.From, nonce), nil
}

// checkBalance verifies funds before building: the transferred asset plus
// the native fee budget.
func (e *Engine) checkBalance(ctx context.Context, from common.Address, req *SendRequest) error {
	native, err := e.node.Balance(ctx, from)
	if err != nil {
		return err
	}

	if req.Token == nil {
		if native.Cmp(req.Amount) < 0 {
			return apperrors.InsufficientBalance(
				fmt.Sprintf("have %s wei, need %s wei before fees", native, req.Amount))
		}
		return nil
	}

	tokenBal, err := e.node.TokenBalance(ctx, common.HexToAddress(*req.Token), from)
	if err != nil {
		return err
	}
	if tokenBal.Cmp(req.Amount) < 0 {
		return apperrors.InsufficientBalance(
			fmt.Sprintf("have %s %s, need %s", tokenBal, req.Symbol, req.Amount))
	}
	if native.Sign() == 0 {
		return apperrors.NewWithDetail(
			apperrors.ErrCodeInsufficientGas,
			"No native balance to cover gas",
			fmt.Sprintf("address: %s", from.Hex()),
			400,
		)
	}

	return nil
}

// recordConfirmation persists receipt data. Runs off the watcher context so
// cancellation of delivery does not lose the write.
func (e *Engine) recordConfirmation(ctx context.Context, hash string, receipt *ethtypes.Receipt) {
	wctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	block := receipt.BlockNumber.Uint64()
	blockTime, err := e.node.BlockTime(wctx, block)
	if err != nil {
		blockTime = time.Now().UTC()
	}

	if err := e.records.MarkConfirmed(wctx, hash, block, blockTime, receipt.GasUsed, receipt.EffectiveGasPrice); err != nil {
		logger.Component("watcher").Error("failed to record confirmation", "hash", hash, "error", err)
	}
}

// recordFailure persists a terminal failure reason
func (e *Engine) recordFailure(hash, reason string) {
	wctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.records.MarkFailed(wctx, hash, reason); err != nil {
		logger.Component("watcher").Error("failed to record failure", "hash", hash, "error", err)
	}
}

// Package swap quotes and executes token swaps through a DEX router.
package swap

import (
	"context"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/lockbox-wallet/lockbox/internal/chain"
	"github.com/lockbox-wallet/lockbox/internal/engine"
	"github.com/lockbox-wallet/lockbox/internal/logger"
	"github.com/lockbox-wallet/lockbox/internal/metrics"
	"github.com/lockbox-wallet/lockbox/internal/validation"
	apperrors "github.com/lockbox-wallet/lockbox/pkg/errors"
	"github.com/lockbox-wallet/lockbox/pkg/types"
)

// State is the swap engine's externally visible phase
type State string

const (
	StateIdle          State = "idle"
	StateFetchingQuote State = "fetching_quote"
	StateApproving     State = "approving"
	StateSwapping      State = "swapping"
	StateSuccess       State = "success"
	StateError         State = "error"
)

// swapDeadline bounds how long a broadcast swap stays executable on chain
const swapDeadline = 10 * time.Minute

// PoolQuote is the raw pricing data a Quoter returns for one pool
type PoolQuote struct {
	AmountIn     *big.Int
	AmountOut    *big.Int
	PriceImpact  float64 // percent
	PoolFee      uint32  // hundredths of a bip
	EstimatedGas uint64
}

// Quoter prices a prospective swap against current pool state
type Quoter interface {
	PoolQuote(ctx context.Context, pair types.TokenPair, amount *big.Int, mode types.SwapMode) (*PoolQuote, error)
}

// AllowanceSource reads current ERC-20 allowances
type AllowanceSource interface {
	TokenAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

// Submitter signs, broadcasts, and monitors transactions on the engine's
// behalf. Satisfied by the transaction engine.
type Submitter interface {
	Submit(ctx context.Context, sub *engine.Submission) (*types.Transaction, *engine.Watcher, error)
}

// Addresser resolves the unlocked wallet's address
type Addresser interface {
	Address() (common.Address, error)
}

// Config holds swap engine tunables
type Config struct {
	Router          common.Address
	QuoteTTL        time.Duration
	ImpactCeiling   float64 // percent
	DefaultSlippage float64 // percent
}

// Engine quotes and executes swaps. One swap runs at a time; the state
// machine is Idle, FetchingQuote, Approving, Swapping, Success, Error.
type Engine struct {
	quoter     Quoter
	allowances AllowanceSource
	txs        Submitter
	wallet     Addresser

	router          common.Address
	quoteTTL        time.Duration
	impactCeiling   float64
	defaultSlippage float64

	mu    sync.Mutex
	state State
	// issued holds quotes this engine priced, keyed by quote ID. Execute
	// only accepts an issued quote, so client-edited amounts, impact, or
	// timestamps can never reach a submission.
	issued map[uuid.UUID]*types.SwapQuote
}

// New creates a swap engine
func New(quoter Quoter, allowances AllowanceSource, txs Submitter, wallet Addresser, cfg Config) *Engine {
	return &Engine{
		quoter:          quoter,
		allowances:      allowances,
		txs:             txs,
		wallet:          wallet,
		router:          cfg.Router,
		quoteTTL:        cfg.QuoteTTL,
		impactCeiling:   cfg.ImpactCeiling,
		defaultSlippage: cfg.DefaultSlippage,
		state:           StateIdle,
		issued:          make(map[uuid.UUID]*types.SwapQuote),
	}
}

// State returns the engine's current phase
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// begin claims the engine for a new flow. A second quote or execute while
// one is in flight fails with Busy rather than queuing.
func (e *Engine) begin(s State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StateIdle, StateSuccess, StateError:
		e.state = s
		return nil
	default:
		return apperrors.New(apperrors.ErrCodeBusy, "A swap is already in progress", 409)
	}
}

// Quote prices a swap. slippagePct <= 0 selects the configured default. A
// quote whose price impact exceeds the ceiling is rejected outright so a
// value-destroying trade can never be executed from it.
func (e *Engine) Quote(ctx context.Context, pair types.TokenPair, amount *big.Int, mode types.SwapMode, slippagePct float64) (*types.SwapQuote, error) {
	if err := validatePair(pair); err != nil {
		return nil, err
	}
	if err := validation.Amount(amount); err != nil {
		return nil, apperrors.NewWithDetail(apperrors.ErrCodeBadRequest, "Invalid amount", err.Error(), 400)
	}
	if !mode.Valid() {
		return nil, apperrors.NewWithDetail(apperrors.ErrCodeBadRequest, "Invalid swap mode", string(mode), 400)
	}
	if slippagePct <= 0 {
		slippagePct = e.defaultSlippage
	}
	if err := validation.SlippagePct(slippagePct); err != nil {
		return nil, apperrors.NewWithDetail(apperrors.ErrCodeBadRequest, "Invalid slippage tolerance", err.Error(), 400)
	}

	if err := e.begin(StateFetchingQuote); err != nil {
		return nil, err
	}

	pool, err := e.quoter.PoolQuote(ctx, pair, amount, mode)
	if err != nil {
		e.setState(StateError)
		return nil, err
	}

	if pool.PriceImpact > e.impactCeiling {
		e.setState(StateError)
		return nil, apperrors.ExcessivePriceImpact(pool.PriceImpact, e.impactCeiling)
	}

	quote := &types.SwapQuote{
		ID:                 uuid.New(),
		Pair:               pair,
		Mode:               mode,
		AmountIn:           pool.AmountIn,
		AmountOut:          pool.AmountOut,
		AmountInFormatted:  FormatUnits(pool.AmountIn, pair.DecimalsIn),
		AmountOutFormatted: FormatUnits(pool.AmountOut, pair.DecimalsOut),
		ExchangeRate:       exchangeRate(pool.AmountIn, pool.AmountOut, pair.DecimalsIn, pair.DecimalsOut),
		PriceImpact:        pool.PriceImpact,
		MinAmountOut:       MinAmountOut(pool.AmountOut, slippagePct),
		SlippageTolerance:  slippagePct,
		PoolFee:            pool.PoolFee,
		EstimatedGas:       pool.EstimatedGas,
		Timestamp:          time.Now(),
	}

	e.storeQuote(quote)
	e.setState(StateIdle)
	logger.Info(ctx, "swap quoted",
		"quote_id", quote.ID,
		"pair", pair.SymbolIn+"/"+pair.SymbolOut,
		"price_impact", quote.PriceImpact)

	return quote, nil
}

// Execute runs the approve-then-swap flow for a quote this engine issued.
// The quote is looked up by ID in the issued registry, so none of its fields
// can be forged or edited by a caller; quotes are single-use and executable
// only within their TTL. The swap calldata carries the quote's MinAmountOut,
// so price movement beyond the slippage tolerance reverts on chain instead
// of filling badly.
func (e *Engine) Execute(ctx context.Context, quoteID uuid.UUID) (*types.Transaction, error) {
	quote := e.takeQuote(quoteID)
	if quote == nil || time.Since(quote.Timestamp) > e.quoteTTL {
		metrics.RecordSwapOutcome("quote_expired")
		return nil, apperrors.ErrQuoteExpired
	}

	owner, err := e.wallet.Address()
	if err != nil {
		return nil, err
	}

	tokenIn := common.HexToAddress(quote.Pair.TokenIn)
	tokenOut := common.HexToAddress(quote.Pair.TokenOut)

	required := quote.AmountIn
	if quote.Mode == types.SwapModeExactOut {
		required = MaxAmountIn(quote.AmountIn, quote.SlippageTolerance)
	}

	if err := e.begin(StateSwapping); err != nil {
		return nil, err
	}

	if err := e.ensureAllowance(ctx, tokenIn, owner, required, quote.Pair.SymbolIn, quote.Pair.DecimalsIn); err != nil {
		e.setState(StateError)
		metrics.RecordSwapOutcome("approval_failed")
		return nil, err
	}

	e.setState(StateSwapping)

	deadline := time.Now().Add(swapDeadline)
	var data []byte
	if quote.Mode == types.SwapModeExactOut {
		data, err = packExactOutput(tokenIn, tokenOut, quote.PoolFee, owner, deadline, quote.AmountOut, required)
	} else {
		data, err = packExactInput(tokenIn, tokenOut, quote.PoolFee, owner, deadline, quote.AmountIn, quote.MinAmountOut)
	}
	if err != nil {
		e.setState(StateError)
		return nil, err
	}

	tokenInHex := tokenIn.Hex()
	record, watcher, err := e.txs.Submit(ctx, &engine.Submission{
		From:     owner,
		To:       &e.router,
		Value:    big.NewInt(0),
		Data:     data,
		Kind:     types.TxKindContract,
		Symbol:   quote.Pair.SymbolIn,
		Decimals: quote.Pair.DecimalsIn,
		Token:    &tokenInHex,
		Display:  quote.AmountIn,
	})
	if err != nil {
		e.setState(StateError)
		metrics.RecordSwapOutcome("failed")
		return nil, err
	}

	final, err := awaitOutcome(ctx, watcher)
	if err != nil {
		e.setState(StateError)
		metrics.RecordSwapOutcome("failed")
		return nil, err
	}
	if final.Status != types.TxStatusConfirmed {
		e.setState(StateError)
		appErr := e.classifySwapFailure(final)
		metrics.RecordSwapOutcome(appErr.Code)
		return nil, appErr
	}

	e.setState(StateSuccess)
	metrics.RecordSwapOutcome("success")
	logger.Info(ctx, "swap executed", "quote_id", quote.ID, "hash", record.Hash)

	return record, nil
}

// Allowance reports whether the router may already move the required amount
func (e *Engine) Allowance(ctx context.Context, token string, required *big.Int) (*types.TokenAllowance, error) {
	if err := validation.Address(token); err != nil {
		return nil, apperrors.InvalidAddress(err.Error())
	}

	owner, err := e.wallet.Address()
	if err != nil {
		return nil, err
	}

	current, err := e.allowances.TokenAllowance(ctx, common.HexToAddress(token), owner, e.router)
	if err != nil {
		return nil, err
	}

	return &types.TokenAllowance{
		Current:      current,
		Required:     required,
		IsSufficient: current.Cmp(required) >= 0,
	}, nil
}

// ensureAllowance submits an approval when the router's allowance falls
// short, and waits for it to confirm before the swap proceeds. The engine
// enters Approving only while an approval is actually in flight; a
// sufficient allowance skips the phase entirely.
func (e *Engine) ensureAllowance(ctx context.Context, token common.Address, owner common.Address, required *big.Int, symbol string, decimals int) error {
	current, err := e.allowances.TokenAllowance(ctx, token, owner, e.router)
	if err != nil {
		return err
	}
	if current.Cmp(required) >= 0 {
		return nil
	}

	e.setState(StateApproving)

	data, err := chain.PackApprove(e.router, required)
	if err != nil {
		return err
	}

	tokenHex := token.Hex()
	record, watcher, err := e.txs.Submit(ctx, &engine.Submission{
		From:     owner,
		To:       &token,
		Value:    big.NewInt(0),
		Data:     data,
		Kind:     types.TxKindApprove,
		Symbol:   symbol,
		Decimals: decimals,
		Token:    &tokenHex,
		Display:  required,
	})
	if err != nil {
		return apperrors.NewWithDetail(apperrors.ErrCodeApprovalFailed, "Token approval failed", err.Error(), 502)
	}

	final, err := awaitOutcome(ctx, watcher)
	if err != nil {
		return err
	}
	if final.Status != types.TxStatusConfirmed {
		return apperrors.NewWithDetail(
			apperrors.ErrCodeApprovalFailed,
			"Token approval did not confirm",
			final.Reason,
			502,
		)
	}

	logger.Info(ctx, "token approval confirmed", "token", tokenHex, "hash", record.Hash)
	return nil
}

// awaitOutcome drains a watcher's update stream until a terminal update.
// Context cancellation cancels the watcher and surfaces Cancelled; the
// on-chain transaction is unaffected.
func awaitOutcome(ctx context.Context, w *engine.Watcher) (*engine.Update, error) {
	for {
		select {
		case <-ctx.Done():
			w.Cancel()
			return nil, apperrors.New(apperrors.ErrCodeCancelled, "Swap cancelled while waiting for confirmation", 499)
		case u, ok := <-w.Updates():
			if !ok {
				return nil, apperrors.New(apperrors.ErrCodeCancelled, "Transaction watcher stopped", 499)
			}
			if u.Status != types.TxStatusPending {
				return &u, nil
			}
		}
	}
}

// classifySwapFailure maps a terminal watcher update to the swap error
// taxonomy. A revert during a swap is almost always the router's minimum-out
// check; liquidity failures are distinguished by the revert reason when the
// node surfaces one.
func (e *Engine) classifySwapFailure(u *engine.Update) *apperrors.AppError {
	switch u.Code {
	case apperrors.ErrCodeReverted:
		reason := strings.ToLower(u.Reason)
		if strings.Contains(reason, "liquidity") {
			return apperrors.NewWithDetail(
				apperrors.ErrCodeInsufficientLiquidity,
				"Pool has insufficient liquidity for this trade",
				u.Reason,
				422,
			)
		}
		return apperrors.NewWithDetail(
			apperrors.ErrCodeSlippageExceeded,
			"Price moved beyond the slippage tolerance before execution",
			u.Reason,
			422,
		)
	case apperrors.ErrCodeTimeout:
		return apperrors.NewWithDetail(apperrors.ErrCodeTimeout, "Swap not confirmed within the monitor deadline", u.Reason, 504)
	case apperrors.ErrCodeReplaced:
		return apperrors.Replaced(u.Reason)
	default:
		return apperrors.NewWithDetail(apperrors.ErrCodeSwapFailed, "Swap failed", u.Reason, 502)
	}
}

// storeQuote registers an issued quote, pruning entries past their TTL
func (e *Engine) storeQuote(q *types.SwapQuote) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, old := range e.issued {
		if time.Since(old.Timestamp) > e.quoteTTL {
			delete(e.issued, id)
		}
	}
	e.issued[q.ID] = q
}

// takeQuote removes and returns an issued quote. Nil when the ID was never
// issued, already executed, or pruned after expiry.
func (e *Engine) takeQuote(id uuid.UUID) *types.SwapQuote {
	e.mu.Lock()
	defer e.mu.Unlock()
	q := e.issued[id]
	delete(e.issued, id)
	return q
}

func validatePair(pair types.TokenPair) error {
	if err := validation.Address(pair.TokenIn); err != nil {
		return apperrors.InvalidPair("token_in: " + err.Error())
	}
	if err := validation.Address(pair.TokenOut); err != nil {
		return apperrors.InvalidPair("token_out: " + err.Error())
	}
	if strings.EqualFold(pair.TokenIn, pair.TokenOut) {
		return apperrors.InvalidPair("token_in and token_out must differ")
	}
	return nil
}

// MinAmountOut applies the slippage tolerance as a floor on the received
// amount: amountOut * (1 - slippagePct/100), in basis points to stay in
// integer arithmetic.
func MinAmountOut(amountOut *big.Int, slippagePct float64) *big.Int {
	bps := int64(math.Round(slippagePct * 100))
	min := new(big.Int).Mul(amountOut, big.NewInt(10000-bps))
	return min.Div(min, big.NewInt(10000))
}

// MaxAmountIn applies the slippage tolerance as a ceiling on the spent
// amount for exact-output swaps.
func MaxAmountIn(amountIn *big.Int, slippagePct float64) *big.Int {
	bps := int64(math.Round(slippagePct * 100))
	max := new(big.Int).Mul(amountIn, big.NewInt(10000+bps))
	return max.Div(max, big.NewInt(10000))
}

// exchangeRate is the decimal-adjusted out/in price, for display only
func exchangeRate(amountIn, amountOut *big.Int, decimalsIn, decimalsOut int) float64 {
	in := toFloat(amountIn, decimalsIn)
	out := toFloat(amountOut, decimalsOut)
	if in == 0 {
		return 0
	}
	return out / in
}

func toFloat(amount *big.Int, decimals int) float64 {
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(amount),
		new(big.Float).SetInt(pow10(decimals)),
	).Float64()
	return f
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// FormatUnits renders a raw token amount as a decimal string
func FormatUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	f := new(big.Float).Quo(new(big.Float).SetInt(amount), new(big.Float).SetInt(pow10(decimals)))
	return f.Text('f', 6)
}

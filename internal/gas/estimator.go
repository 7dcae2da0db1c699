// Package gas computes EIP-1559 fee parameters for a single submission
// attempt. Estimates are cheap and short-lived; every attempt gets a fresh
// one so fee-market movement never leaves a transaction chronically
// underpriced or overpriced.
package gas

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/params"
	"github.com/lockbox-wallet/lockbox/internal/metrics"
	"github.com/lockbox-wallet/lockbox/pkg/types"
)

// FeeSource supplies current network fee data
type FeeSource interface {
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	BaseFee(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// Estimator computes fee parameters for pending transactions
type Estimator struct {
	fees FeeSource
	// safetyMultiplier widens maxFeePerGas to tolerate fee-market movement
	// between estimation and inclusion. Expressed in basis points of 1.0.
	safetyBps int64
	ttl       time.Duration
}

// New creates an Estimator. multiplier must be >= 1.0.
func New(fees FeeSource, multiplier float64, ttl time.Duration) *Estimator {
	return &Estimator{
		fees:      fees,
		safetyBps: int64(multiplier * 10000),
		ttl:       ttl,
	}
}

// Estimate computes fresh fee parameters for the given call. The returned
// estimate carries its creation time; callers must not reuse it past TTL.
func (e *Estimator) Estimate(ctx context.Context, msg ethereum.CallMsg) (*types.GasEstimate, error) {
	start := time.Now()
	defer func() {
		metrics.GasEstimateSeconds.Observe(time.Since(start).Seconds())
	}()

	gasLimit, err := e.fees.EstimateGas(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas limit: %w", err)
	}
	// 20% headroom over the node's estimate
	gasLimit = gasLimit * 120 / 100

	tipCap, err := e.fees.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, err
	}

	baseFee, err := e.fees.BaseFee(ctx)
	if err != nil {
		return nil, err
	}

	// maxFee = (2*baseFee + tip) * safety. Doubling the base fee covers
	// six consecutive full blocks of base-fee growth.
	maxFee := new(big.Int).Mul(baseFee, big.NewInt(2))
	maxFee.Add(maxFee, tipCap)
	maxFee.Mul(maxFee, big.NewInt(e.safetyBps))
	maxFee.Div(maxFee, big.NewInt(10000))

	cost := new(big.Int).Mul(maxFee, new(big.Int).SetUint64(gasLimit))

	return &types.GasEstimate{
		GasLimit:               gasLimit,
		MaxFeePerGas:           maxFee,
		MaxPriorityFeePerGas:   tipCap,
		EstimatedCost:          cost,
		EstimatedCostFormatted: FormatWei(cost),
		CreatedAt:              time.Now(),
	}, nil
}

// Fresh reports whether the estimate is still within its TTL
func (e *Estimator) Fresh(est *types.GasEstimate) bool {
	return est != nil && time.Since(est.CreatedAt) < e.ttl
}

// FormatWei renders a wei amount as a decimal ETH string
func FormatWei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	f := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(params.Ether))
	return fmt.Sprintf("%s ETH", f.Text('f', 6))
}

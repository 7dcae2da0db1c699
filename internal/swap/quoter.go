package swap

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	apperrors "github.com/lockbox-wallet/lockbox/pkg/errors"
	"github.com/lockbox-wallet/lockbox/pkg/types"
)

// quoterABI covers the single-pool quote views of a Uniswap V3-style
// QuoterV2 contract. The functions are declared nonpayable on chain but are
// only ever invoked through eth_call.
const quoterABIJSON = `[
	{"name":"quoteExactInputSingle","type":"function","inputs":[{"name":"params","type":"tuple","components":[
		{"name":"tokenIn","type":"address"},
		{"name":"tokenOut","type":"address"},
		{"name":"amountIn","type":"uint256"},
		{"name":"fee","type":"uint24"},
		{"name":"sqrtPriceLimitX96","type":"uint160"}
	]}],"outputs":[
		{"name":"amountOut","type":"uint256"},
		{"name":"sqrtPriceX96After","type":"uint160"},
		{"name":"initializedTicksCrossed","type":"uint32"},
		{"name":"gasEstimate","type":"uint256"}
	]},
	{"name":"quoteExactOutputSingle","type":"function","inputs":[{"name":"params","type":"tuple","components":[
		{"name":"tokenIn","type":"address"},
		{"name":"tokenOut","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"fee","type":"uint24"},
		{"name":"sqrtPriceLimitX96","type":"uint160"}
	]}],"outputs":[
		{"name":"amountIn","type":"uint256"},
		{"name":"sqrtPriceX96After","type":"uint160"},
		{"name":"initializedTicksCrossed","type":"uint32"},
		{"name":"gasEstimate","type":"uint256"}
	]}
]`

var quoterContractABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(quoterABIJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid quoter ABI: %v", err))
	}
	quoterContractABI = parsed
}

// feeTiers are the standard pool fee tiers, in hundredths of a bip
var feeTiers = []uint32{500, 3000, 10000}

// priceImpactProbeDivisor sizes the small reference trade used to read the
// effective spot price: amount / divisor.
const priceImpactProbeDivisor = 1000

// CallSource executes read-only contract calls
type CallSource interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// ContractQuoter prices swaps against an on-chain QuoterV2 contract. It
// scans the standard fee tiers and keeps the best-priced pool.
type ContractQuoter struct {
	calls  CallSource
	quoter common.Address
}

// NewContractQuoter creates a quoter bound to a QuoterV2 deployment
func NewContractQuoter(calls CallSource, quoter common.Address) *ContractQuoter {
	return &ContractQuoter{calls: calls, quoter: quoter}
}

type singleQuote struct {
	amount      *big.Int
	gasEstimate uint64
}

// PoolQuote prices a swap. Price impact is measured by comparing the
// effective rate of the requested size against a small probe trade at the
// same tier; a pool that cannot quote at any tier reports
// InsufficientLiquidity.
func (q *ContractQuoter) PoolQuote(ctx context.Context, pair types.TokenPair, amount *big.Int, mode types.SwapMode) (*PoolQuote, error) {
	tokenIn := common.HexToAddress(pair.TokenIn)
	tokenOut := common.HexToAddress(pair.TokenOut)

	var (
		best     *singleQuote
		bestTier uint32
	)
	for _, tier := range feeTiers {
		sq, err := q.quoteSingle(ctx, tokenIn, tokenOut, amount, tier, mode)
		if err != nil {
			continue
		}
		if best == nil || better(sq.amount, best.amount, mode) {
			best = sq
			bestTier = tier
		}
	}
	if best == nil {
		return nil, apperrors.NewWithDetail(
			apperrors.ErrCodeInsufficientLiquidity,
			"No pool can quote this trade",
			fmt.Sprintf("pair: %s/%s", pair.SymbolIn, pair.SymbolOut),
			422,
		)
	}

	amountIn, amountOut := amount, best.amount
	if mode == types.SwapModeExactOut {
		amountIn, amountOut = best.amount, amount
	}

	impact, err := q.priceImpact(ctx, tokenIn, tokenOut, amountIn, amountOut, bestTier)
	if err != nil {
		return nil, err
	}

	return &PoolQuote{
		AmountIn:     amountIn,
		AmountOut:    amountOut,
		PriceImpact:  impact,
		PoolFee:      bestTier,
		EstimatedGas: best.gasEstimate,
	}, nil
}

// better reports whether candidate beats current: more output for exact-in,
// less input for exact-out.
func better(candidate, current *big.Int, mode types.SwapMode) bool {
	if mode == types.SwapModeExactOut {
		return candidate.Cmp(current) < 0
	}
	return candidate.Cmp(current) > 0
}

func (q *ContractQuoter) quoteSingle(ctx context.Context, tokenIn, tokenOut common.Address, amount *big.Int, tier uint32, mode types.SwapMode) (*singleQuote, error) {
	method := "quoteExactInputSingle"
	params := []interface{}{struct {
		TokenIn           common.Address
		TokenOut          common.Address
		AmountIn          *big.Int
		Fee               *big.Int
		SqrtPriceLimitX96 *big.Int
	}{tokenIn, tokenOut, amount, big.NewInt(int64(tier)), big.NewInt(0)}}

	if mode == types.SwapModeExactOut {
		method = "quoteExactOutputSingle"
		params = []interface{}{struct {
			TokenIn           common.Address
			TokenOut          common.Address
			Amount            *big.Int
			Fee               *big.Int
			SqrtPriceLimitX96 *big.Int
		}{tokenIn, tokenOut, amount, big.NewInt(int64(tier)), big.NewInt(0)}}
	}

	data, err := quoterContractABI.Pack(method, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	raw, err := q.calls.CallContract(ctx, ethereum.CallMsg{To: &q.quoter, Data: data})
	if err != nil {
		return nil, err
	}

	out, err := quoterContractABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	if len(out) < 4 {
		return nil, fmt.Errorf("%s returned %d values, want 4", method, len(out))
	}

	gas, _ := out[3].(*big.Int)
	sq := &singleQuote{amount: out[0].(*big.Int)}
	if gas != nil {
		sq.gasEstimate = gas.Uint64()
	}
	return sq, nil
}

// priceImpact compares the trade's effective rate to a small probe trade's
// rate at the same tier. The probe approximates the spot price; the shortfall
// of the effective rate against it is the impact of the trade's own size.
func (q *ContractQuoter) priceImpact(ctx context.Context, tokenIn, tokenOut common.Address, amountIn, amountOut *big.Int, tier uint32) (float64, error) {
	probe := new(big.Int).Div(amountIn, big.NewInt(priceImpactProbeDivisor))
	if probe.Sign() == 0 {
		// Trade too small to move the pool measurably
		return 0, nil
	}

	probeQuote, err := q.quoteSingle(ctx, tokenIn, tokenOut, probe, tier, types.SwapModeExactIn)
	if err != nil {
		return 0, apperrors.NetworkError(fmt.Sprintf("price impact probe failed: %v", err))
	}

	spotRate := new(big.Float).Quo(new(big.Float).SetInt(probeQuote.amount), new(big.Float).SetInt(probe))
	effRate := new(big.Float).Quo(new(big.Float).SetInt(amountOut), new(big.Float).SetInt(amountIn))

	spot, _ := spotRate.Float64()
	eff, _ := effRate.Float64()
	if spot <= 0 {
		return 0, nil
	}

	impact := (1 - eff/spot) * 100
	if impact < 0 {
		impact = 0
	}
	return impact, nil
}

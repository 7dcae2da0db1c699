package swap

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// routerABI covers the two single-pool swap entry points of a Uniswap
// V3-style router. Multi-hop paths are out of scope.
const routerABIJSON = `[
	{"name":"exactInputSingle","type":"function","stateMutability":"payable","inputs":[{"name":"params","type":"tuple","components":[
		{"name":"tokenIn","type":"address"},
		{"name":"tokenOut","type":"address"},
		{"name":"fee","type":"uint24"},
		{"name":"recipient","type":"address"},
		{"name":"deadline","type":"uint256"},
		{"name":"amountIn","type":"uint256"},
		{"name":"amountOutMinimum","type":"uint256"},
		{"name":"sqrtPriceLimitX96","type":"uint160"}
	]}],"outputs":[{"name":"amountOut","type":"uint256"}]},
	{"name":"exactOutputSingle","type":"function","stateMutability":"payable","inputs":[{"name":"params","type":"tuple","components":[
		{"name":"tokenIn","type":"address"},
		{"name":"tokenOut","type":"address"},
		{"name":"fee","type":"uint24"},
		{"name":"recipient","type":"address"},
		{"name":"deadline","type":"uint256"},
		{"name":"amountOut","type":"uint256"},
		{"name":"amountInMaximum","type":"uint256"},
		{"name":"sqrtPriceLimitX96","type":"uint160"}
	]}],"outputs":[{"name":"amountIn","type":"uint256"}]}
]`

var routerABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(routerABIJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid router ABI: %v", err))
	}
	routerABI = parsed
}

type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

type exactOutputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountOut         *big.Int
	AmountInMaximum   *big.Int
	SqrtPriceLimitX96 *big.Int
}

// packExactInput encodes an exactInputSingle call with the quote's slippage
// floor baked in as amountOutMinimum.
func packExactInput(tokenIn, tokenOut common.Address, fee uint32, recipient common.Address, deadline time.Time, amountIn, minAmountOut *big.Int) ([]byte, error) {
	data, err := routerABI.Pack("exactInputSingle", exactInputSingleParams{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		Fee:               big.NewInt(int64(fee)),
		Recipient:         recipient,
		Deadline:          big.NewInt(deadline.Unix()),
		AmountIn:          amountIn,
		AmountOutMinimum:  minAmountOut,
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pack exactInputSingle: %w", err)
	}
	return data, nil
}

// packExactOutput encodes an exactOutputSingle call with the slippage ceiling
// baked in as amountInMaximum.
func packExactOutput(tokenIn, tokenOut common.Address, fee uint32, recipient common.Address, deadline time.Time, amountOut, maxAmountIn *big.Int) ([]byte, error) {
	data, err := routerABI.Pack("exactOutputSingle", exactOutputSingleParams{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		Fee:               big.NewInt(int64(fee)),
		Recipient:         recipient,
		Deadline:          big.NewInt(deadline.Unix()),
		AmountOut:         amountOut,
		AmountInMaximum:   maxAmountIn,
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pack exactOutputSingle: %w", err)
	}
	return data, nil
}

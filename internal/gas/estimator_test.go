package gas

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/lockbox-wallet/lockbox/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFees struct {
	tip     *big.Int
	baseFee *big.Int
	limit   uint64
	err     error
}

func (f *fakeFees) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return f.tip, f.err
}

func (f *fakeFees) BaseFee(ctx context.Context) (*big.Int, error) {
	return f.baseFee, f.err
}

func (f *fakeFees) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return f.limit, f.err
}

func TestEstimate(t *testing.T) {
	t.Run("pads the gas limit by twenty percent", func(t *testing.T) {
		fees := &fakeFees{tip: big.NewInt(2), baseFee: big.NewInt(100), limit: 21000}
		est, err := New(fees, 1.0, time.Minute).Estimate(context.Background(), ethereum.CallMsg{})
		require.NoError(t, err)
		assert.Equal(t, uint64(25200), est.GasLimit)
	})

	t.Run("max fee doubles the base fee and adds the tip", func(t *testing.T) {
		fees := &fakeFees{tip: big.NewInt(3), baseFee: big.NewInt(100), limit: 21000}
		est, err := New(fees, 1.0, time.Minute).Estimate(context.Background(), ethereum.CallMsg{})
		require.NoError(t, err)

		// 2*100 + 3 = 203
		assert.Equal(t, big.NewInt(203), est.MaxFeePerGas)
		assert.Equal(t, big.NewInt(3), est.MaxPriorityFeePerGas)
	})

	t.Run("safety multiplier widens the max fee", func(t *testing.T) {
		fees := &fakeFees{tip: big.NewInt(0), baseFee: big.NewInt(1000), limit: 21000}
		est, err := New(fees, 1.5, time.Minute).Estimate(context.Background(), ethereum.CallMsg{})
		require.NoError(t, err)

		// (2*1000 + 0) * 1.5 = 3000
		assert.Equal(t, big.NewInt(3000), est.MaxFeePerGas)
	})

	t.Run("cost is max fee times padded limit", func(t *testing.T) {
		fees := &fakeFees{tip: big.NewInt(3), baseFee: big.NewInt(100), limit: 21000}
		est, err := New(fees, 1.0, time.Minute).Estimate(context.Background(), ethereum.CallMsg{})
		require.NoError(t, err)

		want := new(big.Int).Mul(big.NewInt(203), big.NewInt(25200))
		assert.Equal(t, want, est.EstimatedCost)
		assert.NotEmpty(t, est.EstimatedCostFormatted)
	})

	t.Run("propagates node failures", func(t *testing.T) {
		fees := &fakeFees{err: errors.New("node down")}
		_, err := New(fees, 1.0, time.Minute).Estimate(context.Background(), ethereum.CallMsg{})
		require.Error(t, err)
	})
}

func TestFresh(t *testing.T) {
	e := New(&fakeFees{}, 1.0, 50*time.Millisecond)

	t.Run("within ttl", func(t *testing.T) {
		est := &types.GasEstimate{CreatedAt: time.Now()}
		assert.True(t, e.Fresh(est))
	})

	t.Run("past ttl", func(t *testing.T) {
		est := &types.GasEstimate{CreatedAt: time.Now().Add(-time.Second)}
		assert.False(t, e.Fresh(est))
	})

	t.Run("nil estimate is never fresh", func(t *testing.T) {
		assert.False(t, e.Fresh(nil))
	})
}

func TestFormatWei(t *testing.T) {
	assert.Equal(t, "0", FormatWei(nil))
	assert.Equal(t, "1.000000 ETH", FormatWei(big.NewInt(1e18)))
	assert.Equal(t, "0.500000 ETH", FormatWei(big.NewInt(5e17)))
	assert.Equal(t, "0.000000 ETH", FormatWei(big.NewInt(1)))
}

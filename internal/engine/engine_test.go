package engine

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	internalcrypto "github.com/lockbox-wallet/lockbox/internal/crypto"
	apperrors "github.com/lockbox-wallet/lockbox/pkg/errors"
	"github.com/lockbox-wallet/lockbox/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNode scripts chain responses per poll. Receipt and block-number
// sequences advance one step per call and hold their last value.
type fakeNode struct {
	mu           sync.Mutex
	pendingNonce uint64
	minedNonce   uint64
	balance      *big.Int
	tokenBal     *big.Int

	receipts     []*ethtypes.Receipt
	receiptCalls int
	latest       []uint64
	latestCalls  int

	sent []*ethtypes.Transaction
}

func (n *fakeNode) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pendingNonce, nil
}

func (n *fakeNode) MinedNonce(ctx context.Context, addr common.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.minedNonce, nil
}

func (n *fakeNode) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, tx)
	return tx.Hash().Hex(), nil
}

func (n *fakeNode) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.receipts) == 0 {
		return nil, nil
	}
	i := n.receiptCalls
	if i >= len(n.receipts) {
		i = len(n.receipts) - 1
	}
	n.receiptCalls++
	return n.receipts[i], nil
}

func (n *fakeNode) BlockNumber(ctx context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.latest) == 0 {
		return 0, nil
	}
	i := n.latestCalls
	if i >= len(n.latest) {
		i = len(n.latest) - 1
	}
	n.latestCalls++
	return n.latest[i], nil
}

func (n *fakeNode) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	return time.Unix(1700000000, 0), nil
}

func (n *fakeNode) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return n.balance, nil
}

func (n *fakeNode) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return n.tokenBal, nil
}

// testSigner signs with an ephemeral in-memory key
type testSigner struct {
	addr common.Address
	sign func(tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error)
}

func (s *testSigner) SignTx(tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error) {
	return s.sign(tx, chainID)
}

func (s *testSigner) Address() (common.Address, error) {
	return s.addr, nil
}

func newTestSigner(t *testing.T) *testSigner {
	t.Helper()
	key, err := internalcrypto.GenerateKey()
	require.NoError(t, err)
	return &testSigner{
		addr: internalcrypto.Address(key),
		sign: func(tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error) {
			return ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), key)
		},
	}
}

// fakeEstimator returns fixed fee parameters
type fakeEstimator struct{}

func (fakeEstimator) Estimate(ctx context.Context, msg ethereum.CallMsg) (*types.GasEstimate, error) {
	return &types.GasEstimate{
		GasLimit:             21000,
		MaxFeePerGas:         big.NewInt(200),
		MaxPriorityFeePerGas: big.NewInt(2),
		EstimatedCost:        big.NewInt(21000 * 200),
		CreatedAt:            time.Now(),
	}, nil
}

// fakeRecords is an in-memory transaction store
type fakeRecords struct {
	mu   sync.Mutex
	rows map[string]*types.Transaction
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{rows: make(map[string]*types.Transaction)}
}

func (r *fakeRecords) Create(ctx context.Context, tx *types.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *tx
	r.rows[tx.Hash] = &cp
	return nil
}

func (r *fakeRecords) MarkConfirmed(ctx context.Context, hash string, blockNumber uint64, blockTime time.Time, gasUsed uint64, gasPrice *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[hash]; ok {
		row.Status = types.TxStatusConfirmed
		row.BlockNumber = &blockNumber
	}
	return nil
}

func (r *fakeRecords) MarkFailed(ctx context.Context, hash string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[hash]; ok {
		row.Status = types.TxStatusFailed
		row.Error = &reason
	}
	return nil
}

func (r *fakeRecords) status(hash string) types.TxStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[hash]; ok {
		return row.Status
	}
	return ""
}

func newTestEngine(t *testing.T, node *fakeNode, confirmations uint64, monitorTimeout time.Duration) (*Engine, *fakeRecords) {
	t.Helper()
	records := newFakeRecords()
	eng := New(node, newTestSigner(t), fakeEstimator{}, records, Config{
		ChainID:        1,
		Confirmations:  confirmations,
		PollInterval:   5 * time.Millisecond,
		MonitorTimeout: monitorTimeout,
	})
	return eng, records
}

func collectUpdates(t *testing.T, w *Watcher) []Update {
	t.Helper()
	var updates []Update
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-w.Updates():
			if !ok {
				return updates
			}
			updates = append(updates, u)
		case <-deadline:
			t.Fatal("watcher did not finish in time")
		}
	}
}

func receiptAt(block uint64, status uint64) *ethtypes.Receipt {
	return &ethtypes.Receipt{
		Status:            status,
		BlockNumber:       big.NewInt(int64(block)),
		GasUsed:           21000,
		EffectiveGasPrice: big.NewInt(150),
	}
}

func TestNonceSerialization(t *testing.T) {
	t.Run("back-to-back sends get consecutive nonces", func(t *testing.T) {
		// The chain's pending nonce lags at 5 the whole time; the local
		// successor must advance anyway.
		node := &fakeNode{pendingNonce: 5, balance: big.NewInt(1e18)}
		eng, _ := newTestEngine(t, node, 1, time.Minute)

		to := common.HexToAddress("0x1111111111111111111111111111111111111111")
		for i := 0; i < 3; i++ {
			_, w, err := eng.Submit(context.Background(), &Submission{
				From:  mustAddr(eng),
				To:    &to,
				Value: big.NewInt(1),
				Kind:  types.TxKindSend,
			})
			require.NoError(t, err)
			w.Cancel()
		}

		require.Len(t, node.sent, 3)
		assert.Equal(t, uint64(5), node.sent[0].Nonce())
		assert.Equal(t, uint64(6), node.sent[1].Nonce())
		assert.Equal(t, uint64(7), node.sent[2].Nonce())
	})

	t.Run("chain nonce ahead of local wins", func(t *testing.T) {
		node := &fakeNode{pendingNonce: 5, balance: big.NewInt(1e18)}
		eng, _ := newTestEngine(t, node, 1, time.Minute)
		to := common.HexToAddress("0x1111111111111111111111111111111111111111")

		_, w, err := eng.Submit(context.Background(), &Submission{
			From: mustAddr(eng), To: &to, Value: big.NewInt(1), Kind: types.TxKindSend,
		})
		require.NoError(t, err)
		w.Cancel()

		// Another wallet instance pushed the chain ahead.
		node.mu.Lock()
		node.pendingNonce = 20
		node.mu.Unlock()

		_, w, err = eng.Submit(context.Background(), &Submission{
			From: mustAddr(eng), To: &to, Value: big.NewInt(1), Kind: types.TxKindSend,
		})
		require.NoError(t, err)
		w.Cancel()

		assert.Equal(t, uint64(20), node.sent[1].Nonce())
	})
}

func TestWatcherConfirmation(t *testing.T) {
	t.Run("one confirmed update after reaching the threshold", func(t *testing.T) {
		// Poll sequence: no receipt, then mined at block 100 with the head
		// at 100 (1 conf), then head at 101 (2 confs).
		node := &fakeNode{
			pendingNonce: 0,
			balance:      big.NewInt(1e18),
			receipts:     []*ethtypes.Receipt{nil, receiptAt(100, 1), receiptAt(100, 1)},
			latest:       []uint64{100, 101},
		}
		eng, records := newTestEngine(t, node, 2, time.Minute)
		to := common.HexToAddress("0x1111111111111111111111111111111111111111")

		record, w, err := eng.Submit(context.Background(), &Submission{
			From: mustAddr(eng), To: &to, Value: big.NewInt(1), Kind: types.TxKindSend,
		})
		require.NoError(t, err)

		updates := collectUpdates(t, w)

		var confirmed []Update
		for _, u := range updates {
			if u.Status == types.TxStatusConfirmed {
				confirmed = append(confirmed, u)
			}
		}
		require.Len(t, confirmed, 1)
		assert.Equal(t, uint64(2), confirmed[0].Confirmations)

		// The progress update at one confirmation precedes it.
		require.NotEmpty(t, updates)
		assert.Equal(t, types.TxStatusConfirmed, updates[len(updates)-1].Status)

		assert.Equal(t, types.TxStatusConfirmed, records.status(record.Hash))
	})

	t.Run("revert finalizes as failed with reverted code", func(t *testing.T) {
		node := &fakeNode{
			balance:  big.NewInt(1e18),
			receipts: []*ethtypes.Receipt{receiptAt(100, 0)},
			latest:   []uint64{100},
		}
		eng, records := newTestEngine(t, node, 1, time.Minute)
		to := common.HexToAddress("0x1111111111111111111111111111111111111111")

		record, w, err := eng.Submit(context.Background(), &Submission{
			From: mustAddr(eng), To: &to, Value: big.NewInt(1), Kind: types.TxKindSend,
		})
		require.NoError(t, err)

		updates := collectUpdates(t, w)
		require.NotEmpty(t, updates)
		last := updates[len(updates)-1]
		assert.Equal(t, types.TxStatusFailed, last.Status)
		assert.Equal(t, apperrors.ErrCodeReverted, last.Code)
		assert.Equal(t, types.TxStatusFailed, records.status(record.Hash))
	})

	t.Run("replacement is detected via the mined nonce", func(t *testing.T) {
		node := &fakeNode{
			balance:    big.NewInt(1e18),
			minedNonce: 0,
		}
		eng, records := newTestEngine(t, node, 1, time.Minute)
		to := common.HexToAddress("0x1111111111111111111111111111111111111111")

		record, w, err := eng.Submit(context.Background(), &Submission{
			From: mustAddr(eng), To: &to, Value: big.NewInt(1), Kind: types.TxKindSend,
		})
		require.NoError(t, err)

		// Another transaction consumed nonce 0.
		node.mu.Lock()
		node.minedNonce = 1
		node.mu.Unlock()

		updates := collectUpdates(t, w)
		require.NotEmpty(t, updates)
		last := updates[len(updates)-1]
		assert.Equal(t, types.TxStatusFailed, last.Status)
		assert.Equal(t, apperrors.ErrCodeReplaced, last.Code)
		assert.Equal(t, types.TxStatusFailed, records.status(record.Hash))
	})

	t.Run("timeout reports failure but leaves the record pending", func(t *testing.T) {
		node := &fakeNode{balance: big.NewInt(1e18)}
		eng, records := newTestEngine(t, node, 1, 30*time.Millisecond)
		to := common.HexToAddress("0x1111111111111111111111111111111111111111")

		record, w, err := eng.Submit(context.Background(), &Submission{
			From: mustAddr(eng), To: &to, Value: big.NewInt(1), Kind: types.TxKindSend,
		})
		require.NoError(t, err)

		updates := collectUpdates(t, w)
		require.NotEmpty(t, updates)
		last := updates[len(updates)-1]
		assert.Equal(t, types.TxStatusFailed, last.Status)
		assert.Equal(t, apperrors.ErrCodeTimeout, last.Code)

		// Re-checkable later: the stored record is still pending.
		assert.Equal(t, types.TxStatusPending, records.status(record.Hash))
	})

	t.Run("cancel stops updates without touching the record", func(t *testing.T) {
		node := &fakeNode{balance: big.NewInt(1e18)}
		eng, records := newTestEngine(t, node, 1, time.Minute)
		to := common.HexToAddress("0x1111111111111111111111111111111111111111")

		record, w, err := eng.Submit(context.Background(), &Submission{
			From: mustAddr(eng), To: &to, Value: big.NewInt(1), Kind: types.TxKindSend,
		})
		require.NoError(t, err)

		w.Cancel()

		// The stream is closed and no further updates arrive.
		_, open := <-w.Updates()
		assert.False(t, open)
		assert.Equal(t, types.TxStatusPending, records.status(record.Hash))
	})
}

func TestSendValidation(t *testing.T) {
	node := &fakeNode{balance: big.NewInt(100)}
	eng, _ := newTestEngine(t, node, 1, time.Minute)

	t.Run("rejects a bad recipient", func(t *testing.T) {
		_, _, err := eng.Send(context.Background(), &SendRequest{
			To: "not-an-address", Amount: big.NewInt(1),
		})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidAddress))
	})

	t.Run("rejects the zero address", func(t *testing.T) {
		_, _, err := eng.Send(context.Background(), &SendRequest{
			To: "0x0000000000000000000000000000000000000000", Amount: big.NewInt(1),
		})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidAddress))
	})

	t.Run("rejects a non-positive amount", func(t *testing.T) {
		_, _, err := eng.Send(context.Background(), &SendRequest{
			To: "0x1111111111111111111111111111111111111111", Amount: big.NewInt(0),
		})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBadRequest))
	})

	t.Run("rejects a native send beyond the balance", func(t *testing.T) {
		_, _, err := eng.Send(context.Background(), &SendRequest{
			To: "0x1111111111111111111111111111111111111111", Amount: big.NewInt(1000),
		})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInsufficientBalance))
	})

	t.Run("token send needs native balance for gas", func(t *testing.T) {
		gasless := &fakeNode{balance: big.NewInt(0), tokenBal: big.NewInt(1e6)}
		eng2, _ := newTestEngine(t, gasless, 1, time.Minute)

		token := "0x2222222222222222222222222222222222222222"
		_, _, err := eng2.Send(context.Background(), &SendRequest{
			To:     "0x1111111111111111111111111111111111111111",
			Amount: big.NewInt(100),
			Token:  &token,
		})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInsufficientGas))
	})
}

func mustAddr(e *Engine) common.Address {
	addr, _ := e.signer.Address()
	return addr
}

package engine

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lockbox-wallet/lockbox/internal/logger"
	"github.com/lockbox-wallet/lockbox/internal/metrics"
	apperrors "github.com/lockbox-wallet/lockbox/pkg/errors"
	"github.com/lockbox-wallet/lockbox/pkg/types"
)

// maxPollErrors bounds consecutive read failures before the watcher gives up
const maxPollErrors = 5

// Update is one ordered status transition for a watched transaction
type Update struct {
	Hash          string
	Status        types.TxStatus
	Confirmations uint64
	// Code is set on terminal failures: reverted, replaced, timeout, network_error
	Code   string
	Reason string
}

// Watcher monitors one submitted transaction until it reaches the configured
// confirmation count or fails. Cancelling stops delivery immediately; it
// never touches the transaction's on-chain fate.
type Watcher struct {
	hash    common.Hash
	updates chan Update
	cancel  context.CancelFunc
	done    chan struct{}
}

// Updates is the ordered status stream. The channel is closed after a
// terminal update or cancellation; no update is ever delivered after Cancel.
func (w *Watcher) Updates() <-chan Update {
	return w.updates
}

// Cancel stops the watcher cooperatively
func (w *Watcher) Cancel() {
	w.cancel()
	<-w.done
}

// Hash returns the watched transaction hash
func (w *Watcher) Hash() common.Hash {
	return w.hash
}

// watch starts the polling goroutine. sender and nonce enable replacement
// detection: once the sender's mined nonce passes ours without a receipt,
// another transaction consumed the slot.
func (e *Engine) watch(hash common.Hash, sender common.Address, nonce uint64) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		hash:    hash,
		updates: make(chan Update, 8),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	metrics.WatchersActive.Inc()
	go e.runWatcher(ctx, w, sender, nonce)

	return w
}

func (e *Engine) runWatcher(ctx context.Context, w *Watcher, sender common.Address, nonce uint64) {
	log := logger.Component("watcher").With("hash", w.hash.Hex())
	defer func() {
		close(w.updates)
		close(w.done)
		metrics.WatchersActive.Dec()
	}()

	deadline := time.NewTimer(e.monitorTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	pollErrors := 0
	var lastConfs uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			// Reported, not fatal: the record stays pending so the caller
			// can re-check later.
			log.Warn("monitor timeout", "timeout", e.monitorTimeout)
			metrics.RecordFinalized("timeout")
			e.deliver(ctx, w, Update{
				Hash:   w.hash.Hex(),
				Status: types.TxStatusFailed,
				Code:   apperrors.ErrCodeTimeout,
				Reason: "no receipt within monitor deadline",
			})
			return
		case <-ticker.C:
		}

		receipt, err := e.node.TransactionReceipt(ctx, w.hash)
		if err != nil {
			pollErrors++
			if pollErrors >= maxPollErrors {
				log.Error("giving up after repeated poll failures", "error", err)
				metrics.RecordFinalized("network_error")
				e.deliver(ctx, w, Update{
					Hash:   w.hash.Hex(),
					Status: types.TxStatusFailed,
					Code:   apperrors.ErrCodeNetworkError,
					Reason: err.Error(),
				})
				return
			}
			continue
		}
		pollErrors = 0

		if receipt == nil {
			// Still pending. Check whether another transaction consumed
			// our nonce.
			mined, err := e.node.MinedNonce(ctx, sender)
			if err == nil && mined > nonce {
				log.Warn("transaction replaced", "nonce", nonce)
				e.recordFailure(w.hash.Hex(), "replaced by a transaction with the same nonce")
				metrics.RecordFinalized("replaced")
				e.deliver(ctx, w, Update{
					Hash:   w.hash.Hex(),
					Status: types.TxStatusFailed,
					Code:   apperrors.ErrCodeReplaced,
					Reason: "nonce reused by another transaction",
				})
				return
			}
			continue
		}

		if receipt.Status == 0 {
			log.Warn("transaction reverted", "block", receipt.BlockNumber)
			e.recordFailure(w.hash.Hex(), "reverted on chain")
			metrics.RecordFinalized("reverted")
			e.deliver(ctx, w, Update{
				Hash:   w.hash.Hex(),
				Status: types.TxStatusFailed,
				Code:   apperrors.ErrCodeReverted,
				Reason: "execution reverted",
			})
			return
		}

		latest, err := e.node.BlockNumber(ctx)
		if err != nil {
			continue
		}

		block := receipt.BlockNumber.Uint64()
		var confs uint64
		if latest >= block {
			confs = latest - block + 1
		}

		if confs >= e.confirmations {
			e.recordConfirmation(ctx, w.hash.Hex(), receipt)
			metrics.RecordFinalized("confirmed")
			e.deliver(ctx, w, Update{
				Hash:          w.hash.Hex(),
				Status:        types.TxStatusConfirmed,
				Confirmations: confs,
			})
			log.Info("transaction confirmed", "block", block, "confirmations", confs)
			return
		}

		// Progress update while confirmations accumulate
		if confs != lastConfs {
			lastConfs = confs
			e.deliver(ctx, w, Update{
				Hash:          w.hash.Hex(),
				Status:        types.TxStatusPending,
				Confirmations: confs,
			})
		}
	}
}

// deliver sends an update unless the watcher was cancelled
func (e *Engine) deliver(ctx context.Context, w *Watcher, u Update) {
	select {
	case <-ctx.Done():
	case w.updates <- u:
	}
}

// Package session guards the single in-memory decrypted wallet. At most one
// unlocked secret exists per process; every transition goes through one
// mutex-held state machine with a monotonic epoch, so a stale idle-timeout
// can never undo a newer explicit transition.
package session

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	internalcrypto "github.com/lockbox-wallet/lockbox/internal/crypto"
	"github.com/lockbox-wallet/lockbox/internal/logger"
	"github.com/lockbox-wallet/lockbox/internal/metrics"
	"github.com/lockbox-wallet/lockbox/internal/vault"
	apperrors "github.com/lockbox-wallet/lockbox/pkg/errors"
	"github.com/lockbox-wallet/lockbox/pkg/types"
)

// State is the unlock session state
type State string

const (
	StateLocked    State = "locked"
	StateUnlocking State = "unlocking"
	StateUnlocked  State = "unlocked"
)

// WalletFetcher fetches encrypted wallet records for unlocking
type WalletFetcher interface {
	GetByID(ctx context.Context, id uuid.UUID) (*types.MultiWalletRecord, error)
}

// secret is the in-memory decrypted wallet. Never persisted, never copied
// out of this package; zeroed on every transition back to Locked.
type secret struct {
	walletID uuid.UUID
	address  common.Address
	key      *ecdsa.PrivateKey
	mnemonic []byte // nil for imported wallets
	kind     types.WalletKind
}

// Session is the unlock/lock state machine
type Session struct {
	vault       *vault.Vault
	wallets     WalletFetcher
	idleTimeout time.Duration

	mu     sync.Mutex
	state  State
	epoch  uint64 // bumped on every transition
	secret *secret
	timer  *time.Timer
}

// New creates a locked session
func New(v *vault.Vault, wallets WalletFetcher, idleTimeout time.Duration) *Session {
	return &Session{
		vault:       v,
		wallets:     wallets,
		idleTimeout: idleTimeout,
		state:       StateLocked,
	}
}

// Info is a read-only snapshot of the session state
type Info struct {
	State    State      `json:"state"`
	WalletID *uuid.UUID `json:"wallet_id,omitempty"`
	Address  *string    `json:"address,omitempty"`
}

// Info returns the current session snapshot
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{State: s.state}
	if s.secret != nil {
		id := s.secret.walletID
		addr := s.secret.address.Hex()
		info.WalletID = &id
		info.Address = &addr
	}
	return info
}

// Unlock decrypts the wallet's secret material and transitions to Unlocked.
// Only one unlock may be in flight; a second call fails with busy rather
// than queuing, so there is never ambiguity about which password won.
// Wrong-password failures are surfaced verbatim and never retried here.
func (s *Session) Unlock(ctx context.Context, walletID uuid.UUID, password []byte) error {
	s.mu.Lock()
	if s.state == StateUnlocking {
		s.mu.Unlock()
		metrics.RecordUnlockAttempt("busy")
		return apperrors.ErrBusy
	}
	// Unlocking a different (or the same) wallet implicitly locks first.
	s.lockLocked()
	s.state = StateUnlocking
	s.epoch++
	epoch := s.epoch
	s.mu.Unlock()

	sec, err := s.decrypt(ctx, walletID, password)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch {
		// An explicit Lock won the race while the decrypt was in flight.
		if sec != nil {
			wipe(sec)
		}
		return apperrors.New(apperrors.ErrCodeCancelled, "Unlock superseded by a newer transition", 409)
	}

	if err != nil {
		s.state = StateLocked
		s.epoch++
		if apperrors.HasCode(err, apperrors.ErrCodeInvalidPassword) {
			metrics.RecordUnlockAttempt("invalid_password")
		} else {
			metrics.RecordUnlockAttempt("error")
		}
		return err
	}

	s.secret = sec
	s.state = StateUnlocked
	s.epoch++
	s.armIdleTimerLocked()
	metrics.RecordUnlockAttempt("success")
	metrics.SetSessionUnlocked(true)
	logger.Info(ctx, "wallet unlocked", "wallet_id", walletID, "address", sec.address.Hex())

	return nil
}

// decrypt fetches and opens the wallet's encrypted blobs. Runs outside the
// session mutex because key derivation is deliberately slow.
func (s *Session) decrypt(ctx context.Context, walletID uuid.UUID, password []byte) (*secret, error) {
	record, err := s.wallets.GetByID(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch wallet record: %w", err)
	}
	if record == nil {
		return nil, apperrors.WalletNotFound(walletID.String())
	}

	keyBytes, err := s.vault.Decrypt(record.EncryptedPrivateKey, password)
	if err != nil {
		return nil, err
	}
	defer vault.Zero(keyBytes)

	key, err := internalcrypto.KeyFromBytes(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("stored private key corrupted: %w", err)
	}

	var mnemonic []byte
	if record.EncryptedMnemonic != nil {
		mnemonic, err = s.vault.Decrypt(record.EncryptedMnemonic, password)
		if err != nil {
			return nil, err
		}
	}

	return &secret{
		walletID: record.ID,
		address:  internalcrypto.Address(key),
		key:      key,
		mnemonic: mnemonic,
		kind:     record.Kind,
	}, nil
}

// Lock transitions to Locked, zeroing the held secret before releasing it.
// Safe to call in any state.
func (s *Session) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockLocked()
}

// lockLocked performs the Locked transition with s.mu held
func (s *Session) lockLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.secret != nil {
		wipe(s.secret)
		s.secret = nil
	}
	if s.state != StateLocked {
		s.state = StateLocked
		s.epoch++
		metrics.SetSessionUnlocked(false)
	}
}

// armIdleTimerLocked schedules auto-lock, capturing the current epoch so a
// timer that fires after a newer transition is a no-op.
func (s *Session) armIdleTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	epoch := s.epoch
	s.timer = time.AfterFunc(s.idleTimeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.epoch != epoch || s.state != StateUnlocked {
			return
		}
		logger.Component("session").Info("idle timeout, locking wallet")
		s.lockLocked()
	})
}

// SignTx signs a transaction with the unlocked wallet's key. The raw key
// never leaves this package; callers receive only the signed transaction.
// Signing counts as activity and rearms the idle timer.
func (s *Session) SignTx(tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUnlocked || s.secret == nil {
		return nil, apperrors.ErrNotUnlocked
	}

	signer := ethtypes.LatestSignerForChainID(chainID)
	signed, err := ethtypes.SignTx(tx, signer, s.secret.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	s.armIdleTimerLocked()

	return signed, nil
}

// Address returns the unlocked wallet's address
func (s *Session) Address() (common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUnlocked || s.secret == nil {
		return common.Address{}, apperrors.ErrNotUnlocked
	}
	return s.secret.address, nil
}

// WalletID returns the unlocked wallet's id, or uuid.Nil when locked
func (s *Session) WalletID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.secret == nil {
		return uuid.Nil
	}
	return s.secret.walletID
}

// RevealMnemonic returns a copy of the recovery phrase for the backup flow.
// Fails with not_unlocked when locked and not_found for imported wallets.
func (s *Session) RevealMnemonic() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUnlocked || s.secret == nil {
		return "", apperrors.ErrNotUnlocked
	}
	if s.secret.mnemonic == nil {
		return "", apperrors.NewWithDetail(apperrors.ErrCodeNotFound, "Wallet has no recovery phrase", "imported wallet", 404)
	}

	s.armIdleTimerLocked()

	return string(s.secret.mnemonic), nil
}

// wipe zeroes a secret's material in place. Best effort for the ECDSA
// scalar, exact for the mnemonic bytes.
func wipe(sec *secret) {
	if sec.key != nil {
		sec.key.D.SetInt64(0)
		sec.key = nil
	}
	vault.Zero(sec.mnemonic)
	sec.mnemonic = nil
}

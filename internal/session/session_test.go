package session

import (
	"context"
	"math/big"
	"testing"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	internalcrypto "github.com/lockbox-wallet/lockbox/internal/crypto"
	"github.com/lockbox-wallet/lockbox/internal/vault"
	apperrors "github.com/lockbox-wallet/lockbox/pkg/errors"
	"github.com/lockbox-wallet/lockbox/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassword = "Correct1!"

// fakeFetcher serves wallet records from memory. The optional gate blocks
// GetByID until released, to hold an unlock in its Unlocking state.
type fakeFetcher struct {
	records map[uuid.UUID]*types.MultiWalletRecord
	gate    chan struct{}
}

func (f *fakeFetcher) GetByID(ctx context.Context, id uuid.UUID) (*types.MultiWalletRecord, error) {
	if f.gate != nil {
		<-f.gate
	}
	return f.records[id], nil
}

func newTestWallet(t *testing.T, v *vault.Vault, withMnemonic bool) *types.MultiWalletRecord {
	t.Helper()

	mnemonic, err := internalcrypto.GenerateMnemonic()
	require.NoError(t, err)
	key, err := internalcrypto.KeyFromMnemonic(mnemonic)
	require.NoError(t, err)

	encKey, err := v.Encrypt(internalcrypto.KeyToBytes(key), []byte(testPassword))
	require.NoError(t, err)

	record := &types.MultiWalletRecord{
		ID:                  uuid.New(),
		Label:               "Main",
		Kind:                types.WalletKindHD,
		Address:             internalcrypto.Address(key).Hex(),
		EncryptedPrivateKey: encKey,
	}
	if withMnemonic {
		record.EncryptedMnemonic, err = v.Encrypt([]byte(mnemonic), []byte(testPassword))
		require.NoError(t, err)
	}
	return record
}

func newTestSession(t *testing.T, idleTimeout time.Duration) (*Session, *types.MultiWalletRecord, *fakeFetcher) {
	t.Helper()

	v := vault.NewWithParams(1<<12, 8, 1)
	record := newTestWallet(t, v, true)
	fetcher := &fakeFetcher{records: map[uuid.UUID]*types.MultiWalletRecord{record.ID: record}}

	return New(v, fetcher, idleTimeout), record, fetcher
}

func TestUnlock(t *testing.T) {
	t.Run("unlocks with the right password", func(t *testing.T) {
		s, record, _ := newTestSession(t, time.Minute)

		err := s.Unlock(context.Background(), record.ID, []byte(testPassword))
		require.NoError(t, err)

		info := s.Info()
		assert.Equal(t, StateUnlocked, info.State)
		require.NotNil(t, info.Address)
		assert.Equal(t, record.Address, *info.Address)
	})

	t.Run("wrong password returns to locked", func(t *testing.T) {
		s, record, _ := newTestSession(t, time.Minute)

		err := s.Unlock(context.Background(), record.ID, []byte("Wrong2!"))
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidPassword))
		assert.Equal(t, StateLocked, s.Info().State)
	})

	t.Run("unknown wallet fails with not_found", func(t *testing.T) {
		s, _, _ := newTestSession(t, time.Minute)

		err := s.Unlock(context.Background(), uuid.New(), []byte(testPassword))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	})

	t.Run("second unlock while one is in flight fails with busy", func(t *testing.T) {
		s, record, fetcher := newTestSession(t, time.Minute)
		fetcher.gate = make(chan struct{})

		started := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			close(started)
			done <- s.Unlock(context.Background(), record.ID, []byte(testPassword))
		}()

		<-started
		// Wait until the first unlock holds the Unlocking state.
		require.Eventually(t, func() bool {
			return s.Info().State == StateUnlocking
		}, time.Second, time.Millisecond)

		err := s.Unlock(context.Background(), record.ID, []byte(testPassword))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBusy))

		close(fetcher.gate)
		require.NoError(t, <-done)
		assert.Equal(t, StateUnlocked, s.Info().State)
	})
}

func TestLock(t *testing.T) {
	t.Run("lock clears the secret and blocks signing", func(t *testing.T) {
		s, record, _ := newTestSession(t, time.Minute)
		require.NoError(t, s.Unlock(context.Background(), record.ID, []byte(testPassword)))

		tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{ChainID: big.NewInt(1), Gas: 21000})
		_, err := s.SignTx(tx, big.NewInt(1))
		require.NoError(t, err)

		s.Lock()
		assert.Equal(t, StateLocked, s.Info().State)

		_, err = s.SignTx(tx, big.NewInt(1))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotUnlocked))

		// A fresh unlock restores signing.
		require.NoError(t, s.Unlock(context.Background(), record.ID, []byte(testPassword)))
		_, err = s.SignTx(tx, big.NewInt(1))
		assert.NoError(t, err)
	})

	t.Run("lock on a locked session is a no-op", func(t *testing.T) {
		s, _, _ := newTestSession(t, time.Minute)
		s.Lock()
		assert.Equal(t, StateLocked, s.Info().State)
	})
}

func TestIdleTimeout(t *testing.T) {
	t.Run("idle session auto-locks", func(t *testing.T) {
		s, record, _ := newTestSession(t, 50*time.Millisecond)
		require.NoError(t, s.Unlock(context.Background(), record.ID, []byte(testPassword)))

		require.Eventually(t, func() bool {
			return s.Info().State == StateLocked
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("stale timer cannot undo a fresh unlock", func(t *testing.T) {
		s, record, _ := newTestSession(t, 80*time.Millisecond)
		require.NoError(t, s.Unlock(context.Background(), record.ID, []byte(testPassword)))

		// Re-unlock just before the first timer fires; the first timer's
		// epoch is stale by then.
		time.Sleep(50 * time.Millisecond)
		require.NoError(t, s.Unlock(context.Background(), record.ID, []byte(testPassword)))

		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, StateUnlocked, s.Info().State)
	})
}

func TestRevealMnemonic(t *testing.T) {
	t.Run("reveals the phrase when unlocked", func(t *testing.T) {
		s, record, _ := newTestSession(t, time.Minute)
		require.NoError(t, s.Unlock(context.Background(), record.ID, []byte(testPassword)))

		mnemonic, err := s.RevealMnemonic()
		require.NoError(t, err)
		assert.NotEmpty(t, mnemonic)
	})

	t.Run("fails when locked", func(t *testing.T) {
		s, _, _ := newTestSession(t, time.Minute)
		_, err := s.RevealMnemonic()
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotUnlocked))
	})

	t.Run("imported wallet has no phrase", func(t *testing.T) {
		v := vault.NewWithParams(1<<12, 8, 1)
		record := newTestWallet(t, v, false)
		record.Kind = types.WalletKindImported
		fetcher := &fakeFetcher{records: map[uuid.UUID]*types.MultiWalletRecord{record.ID: record}}
		s := New(v, fetcher, time.Minute)

		require.NoError(t, s.Unlock(context.Background(), record.ID, []byte(testPassword)))
		_, err := s.RevealMnemonic()
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	})
}

func TestWalletID(t *testing.T) {
	s, record, _ := newTestSession(t, time.Minute)

	assert.Equal(t, uuid.Nil, s.WalletID())

	require.NoError(t, s.Unlock(context.Background(), record.ID, []byte(testPassword)))
	assert.Equal(t, record.ID, s.WalletID())

	s.Lock()
	assert.Equal(t, uuid.Nil, s.WalletID())
}

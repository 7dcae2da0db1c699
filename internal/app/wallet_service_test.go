package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	internalcrypto "github.com/lockbox-wallet/lockbox/internal/crypto"
	"github.com/lockbox-wallet/lockbox/internal/session"
	"github.com/lockbox-wallet/lockbox/internal/storage"
	"github.com/lockbox-wallet/lockbox/internal/vault"
	apperrors "github.com/lockbox-wallet/lockbox/pkg/errors"
	"github.com/lockbox-wallet/lockbox/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassword = "Tr0ub4dour-and-more"

// fakeWalletStore is an in-memory WalletStore. The Tx methods ignore the db
// handle; conflicts makes the next N Mutate calls lose the concurrency race.
type fakeWalletStore struct {
	mu        sync.Mutex
	meta      types.CollectionMeta
	records   []*types.MultiWalletRecord
	conflicts int
}

func newFakeWalletStore() *fakeWalletStore {
	now := time.Now()
	return &fakeWalletStore{
		meta: types.CollectionMeta{
			Version:   storage.CurrentCollectionVersion,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

func (f *fakeWalletStore) Meta(ctx context.Context) (*types.CollectionMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	meta := f.meta
	return &meta, nil
}

func (f *fakeWalletStore) Mutate(ctx context.Context, meta *types.CollectionMeta, fn func(tx pgx.Tx, meta *types.CollectionMeta) error) (*types.CollectionMeta, error) {
	f.mu.Lock()
	if f.conflicts > 0 {
		f.conflicts--
		f.mu.Unlock()
		return nil, apperrors.ConcurrentModification()
	}
	f.meta.UpdatedAt = f.meta.UpdatedAt.Add(time.Microsecond)
	fresh := f.meta
	f.mu.Unlock()

	if err := fn(nil, &fresh); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.meta
	return &out, nil
}

func (f *fakeWalletStore) CreateTx(ctx context.Context, db storage.DBTX, w *types.MultiWalletRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.CreatedAt = time.Now()
	f.records = append(f.records, w)
	return nil
}

func (f *fakeWalletStore) GetByID(ctx context.Context, id uuid.UUID) (*types.MultiWalletRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.records {
		if w.ID == id {
			copied := *w
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeWalletStore) List(ctx context.Context) ([]*types.MultiWalletRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.MultiWalletRecord, 0, len(f.records))
	for _, w := range f.records {
		copied := *w
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeWalletStore) UpdateFieldsTx(ctx context.Context, db storage.DBTX, id uuid.UUID, label, color, icon *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.records {
		if w.ID != id {
			continue
		}
		if label != nil {
			w.Label = *label
		}
		if color != nil {
			w.Color = *color
		}
		if icon != nil {
			w.Icon = *icon
		}
		return nil
	}
	return apperrors.WalletNotFound(id.String())
}

func (f *fakeWalletStore) TouchTx(ctx context.Context, db storage.DBTX, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.records {
		if w.ID == id {
			now := time.Now()
			w.LastUsedAt = &now
			return nil
		}
	}
	return apperrors.WalletNotFound(id.String())
}

func (f *fakeWalletStore) ReencryptTx(ctx context.Context, db storage.DBTX, id uuid.UUID, encKey, encMnemonic []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.records {
		if w.ID == id {
			w.EncryptedPrivateKey = encKey
			w.EncryptedMnemonic = encMnemonic
			return nil
		}
	}
	return apperrors.WalletNotFound(id.String())
}

func (f *fakeWalletStore) DeleteTx(ctx context.Context, db storage.DBTX, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, w := range f.records {
		if w.ID == id {
			f.records = append(f.records[:i], f.records[i+1:]...)
			return nil
		}
	}
	return apperrors.WalletNotFound(id.String())
}

func (f *fakeWalletStore) SetActiveTx(ctx context.Context, db storage.DBTX, id *uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == nil {
		f.meta.ActiveWalletID = nil
		return nil
	}
	copied := *id
	f.meta.ActiveWalletID = &copied
	return nil
}

func (f *fakeWalletStore) MostRecentlyUsedTx(ctx context.Context, db storage.DBTX, excluding uuid.UUID) (*uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *types.MultiWalletRecord
	for _, w := range f.records {
		if w.ID == excluding {
			continue
		}
		if best == nil || fresher(w, best) {
			best = w
		}
	}
	if best == nil {
		return nil, nil
	}
	id := best.ID
	return &id, nil
}

// fresher orders by last_used_at descending with nulls last, then created_at
func fresher(a, b *types.MultiWalletRecord) bool {
	switch {
	case a.LastUsedAt != nil && b.LastUsedAt == nil:
		return true
	case a.LastUsedAt == nil && b.LastUsedAt != nil:
		return false
	case a.LastUsedAt != nil && b.LastUsedAt != nil && !a.LastUsedAt.Equal(*b.LastUsedAt):
		return a.LastUsedAt.After(*b.LastUsedAt)
	default:
		return a.CreatedAt.After(b.CreatedAt)
	}
}

func (f *fakeWalletStore) CountTx(ctx context.Context, db storage.DBTX) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records), nil
}

type fakeBackupStore struct {
	inits int
}

func (f *fakeBackupStore) InitTx(ctx context.Context, db storage.DBTX) error {
	f.inits++
	return nil
}

func newTestService(t *testing.T) (*WalletService, *fakeWalletStore, *session.Session) {
	t.Helper()
	store := newFakeWalletStore()
	v := vault.NewWithParams(1<<12, 8, 1)
	sess := session.New(v, store, time.Minute)
	svc := NewWalletService(store, &fakeBackupStore{}, v, sess)
	return svc, store, sess
}

func create(t *testing.T, svc *WalletService, label string) *CreateWalletResponse {
	t.Helper()
	resp, err := svc.Create(context.Background(), &CreateWalletRequest{
		Label:    label,
		Password: testPassword,
	})
	require.NoError(t, err)
	return resp
}

func TestCreate(t *testing.T) {
	t.Run("first wallet becomes active", func(t *testing.T) {
		svc, store, _ := newTestService(t)

		resp := create(t, svc, "Main")
		assert.True(t, resp.Wallet.Active)
		assert.NotEmpty(t, resp.Mnemonic)
		assert.NotEmpty(t, resp.Wallet.Address)

		meta, err := store.Meta(context.Background())
		require.NoError(t, err)
		require.NotNil(t, meta.ActiveWalletID)
		assert.Equal(t, resp.Wallet.ID, *meta.ActiveWalletID)
	})

	t.Run("second wallet joins inactive with its own palette slot", func(t *testing.T) {
		svc, store, _ := newTestService(t)

		a := create(t, svc, "First")
		b := create(t, svc, "Second")

		assert.NotEqual(t, a.Wallet.ID, b.Wallet.ID)
		assert.False(t, b.Wallet.Active)
		assert.NotEqual(t, a.Wallet.Color, b.Wallet.Color)
		assert.NotEqual(t, a.Wallet.Icon, b.Wallet.Icon)
		assert.Equal(t, 0, a.Wallet.Order)
		assert.Equal(t, 1, b.Wallet.Order)

		// The first wallet keeps the active pointer.
		meta, err := store.Meta(context.Background())
		require.NoError(t, err)
		require.NotNil(t, meta.ActiveWalletID)
		assert.Equal(t, a.Wallet.ID, *meta.ActiveWalletID)

		list, err := svc.List(context.Background())
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.True(t, list[0].Active)
		assert.False(t, list[1].Active)
	})

	t.Run("weak password is rejected", func(t *testing.T) {
		svc, store, _ := newTestService(t)

		_, err := svc.Create(context.Background(), &CreateWalletRequest{Label: "Main", Password: "short"})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBadRequest))

		n, err := store.CountTx(context.Background(), nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("explicit color wins over the palette", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		resp, err := svc.Create(context.Background(), &CreateWalletRequest{
			Label:    "Styled",
			Password: testPassword,
			Color:    "#123456",
		})
		require.NoError(t, err)
		assert.Equal(t, "#123456", resp.Wallet.Color)
	})
}

func TestImport(t *testing.T) {
	t.Run("requires exactly one kind of key material", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		_, err := svc.Import(context.Background(), &ImportWalletRequest{
			Label:    "Both",
			Password: testPassword,
		})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBadRequest))

		_, err = svc.Import(context.Background(), &ImportWalletRequest{
			Label:      "Both",
			Password:   testPassword,
			PrivateKey: "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
			Mnemonic:   "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about",
		})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBadRequest))
	})

	t.Run("private key import derives the address from the key", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		hexKey := "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
		summary, err := svc.Import(context.Background(), &ImportWalletRequest{
			Label:      "Imported",
			Password:   testPassword,
			PrivateKey: hexKey,
		})
		require.NoError(t, err)

		key, err := internalcrypto.KeyFromHex(hexKey)
		require.NoError(t, err)
		assert.Equal(t, internalcrypto.Address(key).Hex(), summary.Address)
		assert.Equal(t, types.WalletKindImported, summary.Kind)
		assert.True(t, summary.Active)
	})

	t.Run("mnemonic import is an HD wallet", func(t *testing.T) {
		svc, store, _ := newTestService(t)

		summary, err := svc.Import(context.Background(), &ImportWalletRequest{
			Label:    "Recovered",
			Password: testPassword,
			Mnemonic: "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about",
		})
		require.NoError(t, err)
		assert.Equal(t, types.WalletKindHD, summary.Kind)

		record, err := store.GetByID(context.Background(), summary.ID)
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.NotNil(t, record.EncryptedMnemonic)
	})

	t.Run("garbage mnemonic is rejected", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		_, err := svc.Import(context.Background(), &ImportWalletRequest{
			Label:    "Bad",
			Password: testPassword,
			Mnemonic: "not a real recovery phrase at all",
		})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBadRequest))
	})
}

func TestSetActive(t *testing.T) {
	t.Run("switches the pointer and stamps last used", func(t *testing.T) {
		svc, store, _ := newTestService(t)

		create(t, svc, "A")
		b := create(t, svc, "B")

		require.NoError(t, svc.SetActive(context.Background(), b.Wallet.ID))

		meta, err := store.Meta(context.Background())
		require.NoError(t, err)
		require.NotNil(t, meta.ActiveWalletID)
		assert.Equal(t, b.Wallet.ID, *meta.ActiveWalletID)

		record, err := store.GetByID(context.Background(), b.Wallet.ID)
		require.NoError(t, err)
		assert.NotNil(t, record.LastUsedAt)
	})

	t.Run("switching away from the unlocked wallet locks the session", func(t *testing.T) {
		svc, _, sess := newTestService(t)

		a := create(t, svc, "A")
		b := create(t, svc, "B")

		require.NoError(t, sess.Unlock(context.Background(), a.Wallet.ID, []byte(testPassword)))
		require.NoError(t, svc.SetActive(context.Background(), b.Wallet.ID))
		assert.Equal(t, session.StateLocked, sess.Info().State)
	})
}

func TestRemove(t *testing.T) {
	t.Run("removing the active wallet repoints to the freshest survivor", func(t *testing.T) {
		svc, store, _ := newTestService(t)

		create(t, svc, "A")
		b := create(t, svc, "B")
		c := create(t, svc, "C")

		// Usage order: C then B, so removing B should fall back to C.
		require.NoError(t, svc.SetActive(context.Background(), c.Wallet.ID))
		require.NoError(t, svc.SetActive(context.Background(), b.Wallet.ID))

		require.NoError(t, svc.Remove(context.Background(), b.Wallet.ID))

		meta, err := store.Meta(context.Background())
		require.NoError(t, err)
		require.NotNil(t, meta.ActiveWalletID)
		assert.Equal(t, c.Wallet.ID, *meta.ActiveWalletID)
	})

	t.Run("removing the last wallet clears the pointer", func(t *testing.T) {
		svc, store, _ := newTestService(t)

		a := create(t, svc, "Only")
		require.NoError(t, svc.Remove(context.Background(), a.Wallet.ID))

		meta, err := store.Meta(context.Background())
		require.NoError(t, err)
		assert.Nil(t, meta.ActiveWalletID)

		list, err := svc.List(context.Background())
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("removing an inactive wallet leaves the pointer alone", func(t *testing.T) {
		svc, store, _ := newTestService(t)

		a := create(t, svc, "A")
		b := create(t, svc, "B")

		require.NoError(t, svc.Remove(context.Background(), b.Wallet.ID))

		meta, err := store.Meta(context.Background())
		require.NoError(t, err)
		require.NotNil(t, meta.ActiveWalletID)
		assert.Equal(t, a.Wallet.ID, *meta.ActiveWalletID)
	})

	t.Run("removing the unlocked wallet locks the session first", func(t *testing.T) {
		svc, _, sess := newTestService(t)

		a := create(t, svc, "A")
		require.NoError(t, sess.Unlock(context.Background(), a.Wallet.ID, []byte(testPassword)))

		require.NoError(t, svc.Remove(context.Background(), a.Wallet.ID))
		assert.Equal(t, session.StateLocked, sess.Info().State)
	})
}

func TestUpdate(t *testing.T) {
	t.Run("renames a wallet", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		a := create(t, svc, "Old name")
		label := "New name"
		summary, err := svc.Update(context.Background(), a.Wallet.ID, &UpdateWalletRequest{Label: &label})
		require.NoError(t, err)
		assert.Equal(t, "New name", summary.Label)
		assert.True(t, summary.Active)
	})

	t.Run("empty update is rejected", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		a := create(t, svc, "A")
		_, err := svc.Update(context.Background(), a.Wallet.ID, &UpdateWalletRequest{})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBadRequest))
	})
}

func TestChangePassword(t *testing.T) {
	t.Run("reseals every blob under the new password", func(t *testing.T) {
		svc, store, sess := newTestService(t)

		a := create(t, svc, "A")

		newPassword := "An-even-l0nger-passphrase"
		require.NoError(t, svc.ChangePassword(context.Background(), &ChangePasswordRequest{
			OldPassword: testPassword,
			NewPassword: newPassword,
		}))

		// The old password no longer opens the session; the new one does.
		err := sess.Unlock(context.Background(), a.Wallet.ID, []byte(testPassword))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidPassword))

		require.NoError(t, sess.Unlock(context.Background(), a.Wallet.ID, []byte(newPassword)))

		record, err := store.GetByID(context.Background(), a.Wallet.ID)
		require.NoError(t, err)
		assert.NotNil(t, record.EncryptedMnemonic)
	})

	t.Run("weak replacement password is rejected", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		create(t, svc, "A")
		err := svc.ChangePassword(context.Background(), &ChangePasswordRequest{
			OldPassword: testPassword,
			NewPassword: "short",
		})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBadRequest))
	})
}

func TestMutateRetry(t *testing.T) {
	t.Run("a lost race is retried with a fresh read", func(t *testing.T) {
		svc, store, _ := newTestService(t)

		a := create(t, svc, "A")
		store.conflicts = 1
		require.NoError(t, svc.SetActive(context.Background(), a.Wallet.ID))
	})

	t.Run("persistent contention surfaces the conflict", func(t *testing.T) {
		svc, store, _ := newTestService(t)

		a := create(t, svc, "A")
		store.conflicts = mutateAttempts
		err := svc.SetActive(context.Background(), a.Wallet.ID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConcurrentModification))
	})
}

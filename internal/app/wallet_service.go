// Package app holds the service layer between the HTTP handlers and the
// storage, vault, and session components.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	internalcrypto "github.com/lockbox-wallet/lockbox/internal/crypto"
	"github.com/lockbox-wallet/lockbox/internal/logger"
	"github.com/lockbox-wallet/lockbox/internal/session"
	"github.com/lockbox-wallet/lockbox/internal/storage"
	"github.com/lockbox-wallet/lockbox/internal/validation"
	"github.com/lockbox-wallet/lockbox/internal/vault"
	apperrors "github.com/lockbox-wallet/lockbox/pkg/errors"
	"github.com/lockbox-wallet/lockbox/pkg/types"
)

// colorPalette and iconPalette are cycled round-robin when a new wallet does
// not specify its own, keeping sibling wallets visually distinct.
var colorPalette = []string{
	"#4F8EF7", "#F7784F", "#34C77B", "#B44FF7", "#F7C84F", "#4FD7F7", "#F74F8E", "#8EF74F",
}

var iconPalette = []string{
	"wallet", "shield", "star", "bolt", "leaf", "gem", "anchor", "flame",
}

// mutateAttempts bounds retries when a wallet mutation loses the
// optimistic-concurrency race and must re-read the collection.
const mutateAttempts = 3

// WalletStore is the slice of the wallet repository the service depends on.
// Satisfied by storage.WalletRepository.
type WalletStore interface {
	Meta(ctx context.Context) (*types.CollectionMeta, error)
	Mutate(ctx context.Context, meta *types.CollectionMeta, fn func(tx pgx.Tx, meta *types.CollectionMeta) error) (*types.CollectionMeta, error)
	CreateTx(ctx context.Context, db storage.DBTX, w *types.MultiWalletRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*types.MultiWalletRecord, error)
	List(ctx context.Context) ([]*types.MultiWalletRecord, error)
	UpdateFieldsTx(ctx context.Context, db storage.DBTX, id uuid.UUID, label, color, icon *string) error
	TouchTx(ctx context.Context, db storage.DBTX, id uuid.UUID) error
	ReencryptTx(ctx context.Context, db storage.DBTX, id uuid.UUID, encKey, encMnemonic []byte) error
	DeleteTx(ctx context.Context, db storage.DBTX, id uuid.UUID) error
	SetActiveTx(ctx context.Context, db storage.DBTX, id *uuid.UUID) error
	MostRecentlyUsedTx(ctx context.Context, db storage.DBTX, excluding uuid.UUID) (*uuid.UUID, error)
	CountTx(ctx context.Context, db storage.DBTX) (int, error)
}

// BackupStore seeds the backup reminder row alongside wallet creation.
// Satisfied by storage.BackupRepository.
type BackupStore interface {
	InitTx(ctx context.Context, db storage.DBTX) error
}

// WalletService implements wallet collection management: create, import,
// update, remove, activate, and the password-change re-encryption flow.
type WalletService struct {
	wallets WalletStore
	backups BackupStore
	vault   *vault.Vault
	session *session.Session
}

// NewWalletService creates a new WalletService
func NewWalletService(wallets WalletStore, backups BackupStore, v *vault.Vault, sess *session.Session) *WalletService {
	return &WalletService{
		wallets: wallets,
		backups: backups,
		vault:   v,
		session: sess,
	}
}

// CreateWalletRequest carries the inputs for creating a fresh HD wallet
type CreateWalletRequest struct {
	Label    string `json:"label"`
	Password string `json:"password"`
	Color    string `json:"color,omitempty"`
	Icon     string `json:"icon,omitempty"`
}

// CreateWalletResponse returns the new wallet and, exactly once, its
// recovery phrase for the backup flow.
type CreateWalletResponse struct {
	Wallet   types.WalletSummary `json:"wallet"`
	Mnemonic string              `json:"mnemonic"`
}

// Create generates a fresh HD wallet: new recovery phrase, derived key,
// secrets sealed under the password. The first wallet becomes active.
func (s *WalletService) Create(ctx context.Context, req *CreateWalletRequest) (*CreateWalletResponse, error) {
	if err := validateNewWallet(req.Label, req.Password, req.Color); err != nil {
		return nil, err
	}

	mnemonic, err := internalcrypto.GenerateMnemonic()
	if err != nil {
		return nil, apperrors.EncodingFailure(err.Error())
	}

	key, err := internalcrypto.KeyFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	record, active, err := s.insertWallet(ctx, newWalletInputs{
		label:    req.Label,
		color:    req.Color,
		icon:     req.Icon,
		kind:     types.WalletKindHD,
		password: []byte(req.Password),
		key:      internalcrypto.KeyToBytes(key),
		mnemonic: []byte(mnemonic),
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "wallet created", "wallet_id", record.ID, "address", record.Address)

	return &CreateWalletResponse{
		Wallet:   summarize(record, active),
		Mnemonic: mnemonic,
	}, nil
}

// ImportWalletRequest carries the inputs for importing existing key material.
// Exactly one of PrivateKey or Mnemonic must be set.
type ImportWalletRequest struct {
	Label      string `json:"label"`
	Password   string `json:"password"`
	PrivateKey string `json:"private_key,omitempty"`
	Mnemonic   string `json:"mnemonic,omitempty"`
	Color      string `json:"color,omitempty"`
	Icon       string `json:"icon,omitempty"`
}

// Import brings an existing private key or recovery phrase under management.
// The address is derived from the imported key, never taken from input.
func (s *WalletService) Import(ctx context.Context, req *ImportWalletRequest) (*types.WalletSummary, error) {
	if err := validateNewWallet(req.Label, req.Password, req.Color); err != nil {
		return nil, err
	}
	if (req.PrivateKey == "") == (req.Mnemonic == "") {
		return nil, apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Invalid import material",
			"exactly one of private_key or mnemonic is required",
			400,
		)
	}

	inputs := newWalletInputs{
		label:    req.Label,
		color:    req.Color,
		icon:     req.Icon,
		password: []byte(req.Password),
	}

	if req.Mnemonic != "" {
		key, err := internalcrypto.KeyFromMnemonic(strings.TrimSpace(req.Mnemonic))
		if err != nil {
			return nil, apperrors.NewWithDetail(apperrors.ErrCodeBadRequest, "Invalid recovery phrase", err.Error(), 400)
		}
		inputs.kind = types.WalletKindHD
		inputs.key = internalcrypto.KeyToBytes(key)
		inputs.mnemonic = []byte(strings.TrimSpace(req.Mnemonic))
	} else {
		if err := validation.PrivateKeyHex(req.PrivateKey); err != nil {
			return nil, apperrors.NewWithDetail(apperrors.ErrCodeBadRequest, "Invalid private key", err.Error(), 400)
		}
		key, err := internalcrypto.KeyFromHex(req.PrivateKey)
		if err != nil {
			return nil, apperrors.NewWithDetail(apperrors.ErrCodeBadRequest, "Invalid private key", err.Error(), 400)
		}
		inputs.kind = types.WalletKindImported
		inputs.key = internalcrypto.KeyToBytes(key)
	}

	record, active, err := s.insertWallet(ctx, inputs)
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "wallet imported", "wallet_id", record.ID, "kind", record.Kind)

	summary := summarize(record, active)
	return &summary, nil
}

type newWalletInputs struct {
	label    string
	color    string
	icon     string
	kind     types.WalletKind
	password []byte
	key      []byte
	mnemonic []byte // nil for raw key imports
}

// insertWallet seals the secret material and appends the wallet to the
// collection in one mutation. The first wallet, or any wallet created while
// no active pointer is set, becomes active; the second return reports
// whether this one did.
func (s *WalletService) insertWallet(ctx context.Context, in newWalletInputs) (*types.MultiWalletRecord, bool, error) {
	defer vault.Zero(in.key)
	defer vault.Zero(in.mnemonic)

	encKey, err := s.vault.Encrypt(in.key, in.password)
	if err != nil {
		return nil, false, err
	}

	var encMnemonic []byte
	if in.mnemonic != nil {
		encMnemonic, err = s.vault.Encrypt(in.mnemonic, in.password)
		if err != nil {
			return nil, false, err
		}
	}

	parsed, err := internalcrypto.KeyFromBytes(in.key)
	if err != nil {
		return nil, false, fmt.Errorf("failed to parse key material: %w", err)
	}

	record := &types.MultiWalletRecord{
		ID:                  uuid.New(),
		Label:               strings.TrimSpace(in.label),
		Color:               in.color,
		Icon:                in.icon,
		Kind:                in.kind,
		Address:             internalcrypto.Address(parsed).Hex(),
		EncryptedPrivateKey: encKey,
		EncryptedMnemonic:   encMnemonic,
	}

	var becameActive bool
	err = s.mutate(ctx, func(tx pgx.Tx, meta *types.CollectionMeta) error {
		count, err := s.wallets.CountTx(ctx, tx)
		if err != nil {
			return err
		}

		if record.Color == "" {
			record.Color = colorPalette[count%len(colorPalette)]
		}
		if record.Icon == "" {
			record.Icon = iconPalette[count%len(iconPalette)]
		}
		record.Order = count

		if err := s.wallets.CreateTx(ctx, tx, record); err != nil {
			return err
		}

		becameActive = meta.ActiveWalletID == nil
		if becameActive {
			if err := s.wallets.SetActiveTx(ctx, tx, &record.ID); err != nil {
				return err
			}
		}

		return s.backups.InitTx(ctx, tx)
	})
	if err != nil {
		return nil, false, err
	}

	return record, becameActive, nil
}

// UpdateWalletRequest carries the mutable display fields; nil leaves a field
// unchanged.
type UpdateWalletRequest struct {
	Label *string `json:"label,omitempty"`
	Color *string `json:"color,omitempty"`
	Icon  *string `json:"icon,omitempty"`
}

// Update renames or restyles a wallet
func (s *WalletService) Update(ctx context.Context, id uuid.UUID, req *UpdateWalletRequest) (*types.WalletSummary, error) {
	if req.Label == nil && req.Color == nil && req.Icon == nil {
		return nil, apperrors.NewWithDetail(apperrors.ErrCodeBadRequest, "Nothing to update", "provide label, color, or icon", 400)
	}
	if req.Label != nil {
		if err := validation.WalletLabel(*req.Label); err != nil {
			return nil, apperrors.NewWithDetail(apperrors.ErrCodeBadRequest, "Invalid label", err.Error(), 400)
		}
	}
	if req.Color != nil {
		if err := validation.Color(*req.Color); err != nil {
			return nil, apperrors.NewWithDetail(apperrors.ErrCodeBadRequest, "Invalid color", err.Error(), 400)
		}
	}

	err := s.mutate(ctx, func(tx pgx.Tx, meta *types.CollectionMeta) error {
		return s.wallets.UpdateFieldsTx(ctx, tx, id, req.Label, req.Color, req.Icon)
	})
	if err != nil {
		return nil, err
	}

	record, err := s.wallets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, apperrors.WalletNotFound(id.String())
	}

	meta, err := s.wallets.Meta(ctx)
	if err != nil {
		return nil, err
	}

	summary := summarize(record, meta.ActiveWalletID != nil && *meta.ActiveWalletID == id)
	return &summary, nil
}

// Remove deletes a wallet. When the active wallet is removed the pointer
// moves to the most recently used survivor, or to null when none remain.
// Removing the currently unlocked wallet locks the session first.
func (s *WalletService) Remove(ctx context.Context, id uuid.UUID) error {
	if s.session.WalletID() == id {
		s.session.Lock()
	}

	err := s.mutate(ctx, func(tx pgx.Tx, meta *types.CollectionMeta) error {
		wasActive := meta.ActiveWalletID != nil && *meta.ActiveWalletID == id

		if wasActive {
			// The FK on active_wallet_id requires repointing before the delete.
			successor, err := s.wallets.MostRecentlyUsedTx(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := s.wallets.SetActiveTx(ctx, tx, successor); err != nil {
				return err
			}
		}

		return s.wallets.DeleteTx(ctx, tx, id)
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "wallet removed", "wallet_id", id)
	return nil
}

// SetActive switches the active wallet and stamps its last_used_at. When a
// different wallet is unlocked, switching locks the session first.
func (s *WalletService) SetActive(ctx context.Context, id uuid.UUID) error {
	if unlocked := s.session.WalletID(); unlocked != uuid.Nil && unlocked != id {
		s.session.Lock()
	}

	err := s.mutate(ctx, func(tx pgx.Tx, meta *types.CollectionMeta) error {
		if err := s.wallets.TouchTx(ctx, tx, id); err != nil {
			return err
		}
		return s.wallets.SetActiveTx(ctx, tx, &id)
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "active wallet changed", "wallet_id", id)
	return nil
}

// List returns all wallets in display order with the active flag set
func (s *WalletService) List(ctx context.Context) ([]types.WalletSummary, error) {
	meta, err := s.wallets.Meta(ctx)
	if err != nil {
		return nil, err
	}

	records, err := s.wallets.List(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]types.WalletSummary, 0, len(records))
	for _, record := range records {
		active := meta.ActiveWalletID != nil && *meta.ActiveWalletID == record.ID
		summaries = append(summaries, summarize(record, active))
	}

	return summaries, nil
}

// Get returns a single wallet summary
func (s *WalletService) Get(ctx context.Context, id uuid.UUID) (*types.WalletSummary, error) {
	record, err := s.wallets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, apperrors.WalletNotFound(id.String())
	}

	meta, err := s.wallets.Meta(ctx)
	if err != nil {
		return nil, err
	}

	summary := summarize(record, meta.ActiveWalletID != nil && *meta.ActiveWalletID == record.ID)
	return &summary, nil
}

// ChangePasswordRequest carries the old and new vault passwords
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ChangePassword re-encrypts every wallet's secret material under the new
// password in one collection mutation: either every blob rolls over or none
// do. The session is locked first so no secret sealed under the old password
// stays in memory.
func (s *WalletService) ChangePassword(ctx context.Context, req *ChangePasswordRequest) error {
	if err := validation.Password(req.NewPassword); err != nil {
		return apperrors.NewWithDetail(apperrors.ErrCodeBadRequest, "Weak password", err.Error(), 400)
	}

	s.session.Lock()

	oldPw := []byte(req.OldPassword)
	newPw := []byte(req.NewPassword)

	err := s.mutate(ctx, func(tx pgx.Tx, meta *types.CollectionMeta) error {
		records, err := s.wallets.List(ctx)
		if err != nil {
			return err
		}

		for _, record := range records {
			encKey, err := s.reseal(record.EncryptedPrivateKey, oldPw, newPw)
			if err != nil {
				return err
			}

			var encMnemonic []byte
			if record.EncryptedMnemonic != nil {
				encMnemonic, err = s.reseal(record.EncryptedMnemonic, oldPw, newPw)
				if err != nil {
					return err
				}
			}

			if err := s.wallets.ReencryptTx(ctx, tx, record.ID, encKey, encMnemonic); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "vault password changed")
	return nil
}

// reseal decrypts a blob under the old password and re-encrypts it under the
// new one, wiping the plaintext in between.
func (s *WalletService) reseal(blob, oldPw, newPw []byte) ([]byte, error) {
	plaintext, err := s.vault.Decrypt(blob, oldPw)
	if err != nil {
		return nil, err
	}
	defer vault.Zero(plaintext)

	return s.vault.Encrypt(plaintext, newPw)
}

// mutate runs fn through the repository's optimistic-concurrency gate,
// re-reading and retrying a bounded number of times on lost races.
func (s *WalletService) mutate(ctx context.Context, fn func(tx pgx.Tx, meta *types.CollectionMeta) error) error {
	var err error
	for attempt := 0; attempt < mutateAttempts; attempt++ {
		var meta *types.CollectionMeta
		meta, err = s.wallets.Meta(ctx)
		if err != nil {
			return err
		}

		_, err = s.wallets.Mutate(ctx, meta, fn)
		if err == nil {
			return nil
		}
		if !apperrors.HasCode(err, apperrors.ErrCodeConcurrentModification) {
			return err
		}
	}
	return err
}

func validateNewWallet(label, password, color string) error {
	if err := validation.WalletLabel(label); err != nil {
		return apperrors.NewWithDetail(apperrors.ErrCodeBadRequest, "Invalid label", err.Error(), 400)
	}
	if err := validation.Password(password); err != nil {
		return apperrors.NewWithDetail(apperrors.ErrCodeBadRequest, "Weak password", err.Error(), 400)
	}
	if color != "" {
		if err := validation.Color(color); err != nil {
			return apperrors.NewWithDetail(apperrors.ErrCodeBadRequest, "Invalid color", err.Error(), 400)
		}
	}
	return nil
}

func summarize(record *types.MultiWalletRecord, active bool) types.WalletSummary {
	return types.WalletSummary{
		ID:         record.ID,
		Label:      record.Label,
		Color:      record.Color,
		Icon:       record.Icon,
		Kind:       record.Kind,
		Address:    record.Address,
		Active:     active,
		Order:      record.Order,
		LastUsedAt: record.LastUsedAt,
		CreatedAt:  record.CreatedAt,
	}
}

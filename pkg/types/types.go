package types

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// WalletKind distinguishes how a wallet's key material was obtained.
type WalletKind string

const (
	// WalletKindHD is derived from a recovery phrase and can derive further keys.
	WalletKindHD WalletKind = "hd"
	// WalletKindImported is backed only by a raw private key.
	WalletKindImported WalletKind = "imported"
)

// Valid reports whether k is a known wallet kind.
func (k WalletKind) Valid() bool {
	switch k {
	case WalletKindHD, WalletKindImported:
		return true
	}
	return false
}

// TxStatus is the lifecycle status of a tracked transaction.
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
)

// Valid reports whether s is a known transaction status.
func (s TxStatus) Valid() bool {
	switch s {
	case TxStatusPending, TxStatusConfirmed, TxStatusFailed:
		return true
	}
	return false
}

// TxKind classifies a tracked transaction.
type TxKind string

const (
	TxKindSend     TxKind = "send"
	TxKindReceive  TxKind = "receive"
	TxKindApprove  TxKind = "approve"
	TxKindContract TxKind = "contract"
)

// Valid reports whether k is a known transaction kind.
func (k TxKind) Valid() bool {
	switch k {
	case TxKindSend, TxKindReceive, TxKindApprove, TxKindContract:
		return true
	}
	return false
}

// SwapMode selects which side of a swap the amount fixes.
type SwapMode string

const (
	SwapModeExactIn  SwapMode = "exact_in"
	SwapModeExactOut SwapMode = "exact_out"
)

// Valid reports whether m is a known swap mode.
func (m SwapMode) Valid() bool {
	return m == SwapModeExactIn || m == SwapModeExactOut
}

// MultiWalletRecord is a wallet entry in the persisted collection.
// EncryptedPrivateKey and EncryptedMnemonic are KeyVault blobs; the plaintext
// never appears outside the unlock session. Address is derived from the
// private key at creation and never recomputed from user input.
type MultiWalletRecord struct {
	ID                  uuid.UUID
	Label               string
	Color               string
	Icon                string
	Kind                WalletKind
	Address             string
	EncryptedPrivateKey []byte
	EncryptedMnemonic   []byte // nil for imported wallets
	Order               int
	LastUsedAt          *time.Time
	CreatedAt           time.Time
}

// WalletSummary is the read-only projection exposed to the UI layer.
type WalletSummary struct {
	ID         uuid.UUID  `json:"id"`
	Label      string     `json:"label"`
	Color      string     `json:"color"`
	Icon       string     `json:"icon"`
	Kind       WalletKind `json:"kind"`
	Address    string     `json:"address"`
	Active     bool       `json:"active"`
	Order      int        `json:"order"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// CollectionMeta is the collection-level state persisted alongside wallets.
// UpdatedAt doubles as the optimistic-concurrency token: a mutation carrying
// a stale UpdatedAt is rejected rather than silently overwriting.
type CollectionMeta struct {
	Version        int
	ActiveWalletID *uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Transaction is a tracked on-chain transaction. Records are created at
// submission (or discovered by history scan) and mutated only by the monitor
// as confirmation data arrives.
type Transaction struct {
	Hash         string
	From         string
	To           *string // nil for contract creation
	Value        *big.Int
	TokenAddress *string // nil for native transfers
	Symbol       string
	Decimals     int
	Status       TxStatus
	Kind         TxKind
	BlockNumber  *uint64
	Timestamp    *time.Time
	GasUsed      *uint64
	GasPrice     *big.Int
	ChainID      int64
	Error        *string
}

// GasEstimate holds EIP-1559 fee parameters for one submission attempt.
// Estimates are derived values with a short TTL and are never carried over
// to a later attempt.
type GasEstimate struct {
	GasLimit               uint64
	MaxFeePerGas           *big.Int
	MaxPriorityFeePerGas   *big.Int
	EstimatedCost          *big.Int // gasLimit * maxFeePerGas, in wei
	EstimatedCostFormatted string
	CreatedAt              time.Time
}

// TokenPair identifies the two sides of a swap.
type TokenPair struct {
	TokenIn     string `json:"token_in"`
	TokenOut    string `json:"token_out"`
	SymbolIn    string `json:"symbol_in"`
	SymbolOut   string `json:"symbol_out"`
	DecimalsIn  int    `json:"decimals_in"`
	DecimalsOut int    `json:"decimals_out"`
}

// SwapQuote is a priced swap offer. A quote is executable only within its
// TTL from Timestamp; expired quotes must be refreshed, never executed.
type SwapQuote struct {
	ID                 uuid.UUID
	Pair               TokenPair
	Mode               SwapMode
	AmountIn           *big.Int
	AmountOut          *big.Int
	AmountInFormatted  string
	AmountOutFormatted string
	ExchangeRate       float64
	PriceImpact        float64 // percent, 0-100
	MinAmountOut       *big.Int
	SlippageTolerance  float64 // percent
	PoolFee            uint32  // hundredths of a bip (e.g. 3000 = 0.3%)
	EstimatedGas       uint64
	Timestamp          time.Time
}

// TokenAllowance reports how much of a token a spender may already move.
type TokenAllowance struct {
	Current      *big.Int
	Required     *big.Int
	IsSufficient bool
}

// BackupDismissThreshold is the dismiss count at which backup reminders stop.
const BackupDismissThreshold = 3

// BackupStatus tracks whether the recovery phrase has been backed up and how
// often the reminder was dismissed. Displayed externally, owned here.
type BackupStatus struct {
	HasBackedUp     bool       `json:"has_backed_up"`
	LastBackupAt    *time.Time `json:"last_backup_at,omitempty"`
	WalletCreatedAt time.Time  `json:"wallet_created_at"`
	DismissCount    int        `json:"dismiss_count"`
	LastDismissedAt *time.Time `json:"last_dismissed_at,omitempty"`
}

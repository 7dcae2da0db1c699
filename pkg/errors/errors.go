package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents an application-level error with HTTP status code
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	StatusCode int    `json:"-"`
	// Retryable signals that the caller may retry the operation after
	// re-reading state (storage conflicts) or backing off (network reads).
	Retryable bool `json:"retryable,omitempty"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Crypto error codes
const (
	ErrCodeInvalidPassword = "invalid_password"
	ErrCodeEncodingFailure = "encoding_failure"
)

// Storage error codes
const (
	ErrCodeNotFound               = "not_found"
	ErrCodeVersionUnsupported     = "version_unsupported"
	ErrCodeConcurrentModification = "concurrent_modification"
)

// Session error codes
const (
	ErrCodeBusy        = "busy"
	ErrCodeNotUnlocked = "not_unlocked"
)

// Transaction error codes
const (
	ErrCodeInsufficientBalance = "insufficient_balance"
	ErrCodeInsufficientGas     = "insufficient_gas"
	ErrCodeInvalidAddress      = "invalid_address"
	ErrCodeNetworkError        = "network_error"
	ErrCodeContractError       = "contract_error"
	ErrCodeTransactionFailed   = "transaction_failed"
	ErrCodeTimeout             = "timeout"
	ErrCodeReverted            = "reverted"
	ErrCodeReplaced            = "replaced"
	ErrCodeCancelled           = "cancelled"
)

// Swap error codes
const (
	ErrCodeInsufficientLiquidity = "insufficient_liquidity"
	ErrCodeExcessivePriceImpact  = "excessive_price_impact"
	ErrCodeSlippageExceeded      = "slippage_exceeded"
	ErrCodeApprovalFailed        = "approval_failed"
	ErrCodeSwapFailed            = "swap_failed"
	ErrCodeQuoteExpired          = "quote_expired"
	ErrCodeInvalidPair           = "invalid_pair"
)

// Generic error codes
const (
	ErrCodeBadRequest    = "bad_request"
	ErrCodeInternalError = "internal_error"
	ErrCodeRateLimited   = "rate_limited"
)

// Predefined errors
var (
	ErrInvalidPassword = &AppError{
		Code:       ErrCodeInvalidPassword,
		Message:    "Invalid password",
		StatusCode: http.StatusUnauthorized,
	}

	ErrNotFound = &AppError{
		Code:       ErrCodeNotFound,
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBusy = &AppError{
		Code:       ErrCodeBusy,
		Message:    "An unlock is already in flight",
		StatusCode: http.StatusConflict,
	}

	ErrNotUnlocked = &AppError{
		Code:       ErrCodeNotUnlocked,
		Message:    "Wallet is locked",
		StatusCode: http.StatusForbidden,
	}

	ErrBadRequest = &AppError{
		Code:       ErrCodeBadRequest,
		Message:    "Invalid request parameters",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalError = &AppError{
		Code:       ErrCodeInternalError,
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	ErrQuoteExpired = &AppError{
		Code:       ErrCodeQuoteExpired,
		Message:    "Swap quote has expired and must be refreshed",
		StatusCode: http.StatusConflict,
	}
)

// New creates a new AppError
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// NewWithDetail creates a new AppError with additional detail
func NewWithDetail(code, message, detail string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Detail:     detail,
		StatusCode: statusCode,
	}
}

// EncodingFailure creates a fatal crypto encoding error.
// Raised only when the environment cannot supply entropy.
func EncodingFailure(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeEncodingFailure,
		Message:    "Encryption encoding failed",
		Detail:     detail,
		StatusCode: http.StatusInternalServerError,
	}
}

// WalletNotFound creates a wallet not found error
func WalletNotFound(walletID string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    "Wallet not found",
		Detail:     fmt.Sprintf("wallet_id: %s", walletID),
		StatusCode: http.StatusNotFound,
	}
}

// VersionUnsupported creates a fatal storage version error.
// The collection is never partially migrated or guessed at.
func VersionUnsupported(have, want int) *AppError {
	return &AppError{
		Code:       ErrCodeVersionUnsupported,
		Message:    "Wallet collection version is not supported",
		Detail:     fmt.Sprintf("stored: %d, supported: <= %d", have, want),
		StatusCode: http.StatusInternalServerError,
	}
}

// ConcurrentModification creates a retryable storage conflict error.
// The caller must re-read the collection before retrying.
func ConcurrentModification() *AppError {
	return &AppError{
		Code:       ErrCodeConcurrentModification,
		Message:    "Wallet collection was modified concurrently",
		StatusCode: http.StatusConflict,
		Retryable:  true,
	}
}

// NetworkError creates a transient network error.
// Retryable for read-only queries only; submissions are never auto-retried.
func NetworkError(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeNetworkError,
		Message:    "Network request failed",
		Detail:     detail,
		StatusCode: http.StatusBadGateway,
		Retryable:  true,
	}
}

// InvalidAddress creates an invalid address error
func InvalidAddress(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeInvalidAddress,
		Message:    "Invalid address",
		Detail:     detail,
		StatusCode: http.StatusBadRequest,
	}
}

// InsufficientBalance creates an insufficient balance error
func InsufficientBalance(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeInsufficientBalance,
		Message:    "Insufficient balance",
		Detail:     detail,
		StatusCode: http.StatusBadRequest,
	}
}

// Reverted creates an on-chain revert error with the reason when known
func Reverted(reason string) *AppError {
	return &AppError{
		Code:       ErrCodeReverted,
		Message:    "Transaction reverted on chain",
		Detail:     reason,
		StatusCode: http.StatusUnprocessableEntity,
	}
}

// Replaced creates a nonce-replacement error, carrying the replacing hash
// when the node reported one.
func Replaced(replacingHash string) *AppError {
	return &AppError{
		Code:       ErrCodeReplaced,
		Message:    "Transaction was replaced by another with the same nonce",
		Detail:     replacingHash,
		StatusCode: http.StatusConflict,
	}
}

// ExcessivePriceImpact creates a price impact ceiling error
func ExcessivePriceImpact(impact, ceiling float64) *AppError {
	return &AppError{
		Code:       ErrCodeExcessivePriceImpact,
		Message:    "Price impact exceeds the configured ceiling",
		Detail:     fmt.Sprintf("impact: %.2f%%, ceiling: %.2f%%", impact, ceiling),
		StatusCode: http.StatusUnprocessableEntity,
	}
}

// InvalidPair creates an invalid swap pair error
func InvalidPair(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeInvalidPair,
		Message:    "Invalid token pair",
		Detail:     detail,
		StatusCode: http.StatusBadRequest,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err is an AppError with the given code
func HasCode(err error, code string) bool {
	appErr, ok := IsAppError(err)
	return ok && appErr.Code == code
}

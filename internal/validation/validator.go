// Package validation holds input checks shared by the service and API layers.
package validation

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum/common"
)

// AddressPattern is the regex pattern for Ethereum addresses
var AddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Address validates an Ethereum address format
func Address(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if !AddressPattern.MatchString(address) {
		return fmt.Errorf("invalid Ethereum address format: must be 0x followed by 40 hex characters")
	}

	if !common.IsHexAddress(address) {
		return fmt.Errorf("invalid Ethereum address")
	}

	// Prevent sending to zero address (common mistake)
	if strings.ToLower(address) == "0x0000000000000000000000000000000000000000" {
		return fmt.Errorf("cannot send to zero address")
	}

	return nil
}

// Amount validates a transfer or swap amount
func Amount(amount *big.Int) error {
	if amount == nil {
		return fmt.Errorf("amount cannot be nil")
	}

	if amount.Sign() <= 0 {
		return fmt.Errorf("amount must be positive")
	}

	return nil
}

// WalletLabel validates a user-facing wallet name
func WalletLabel(label string) error {
	label = strings.TrimSpace(label)
	if label == "" {
		return fmt.Errorf("label cannot be empty")
	}

	if len(label) > 64 {
		return fmt.Errorf("label too long: maximum 64 characters")
	}

	return nil
}

// hexColorPattern matches #RGB and #RRGGBB
var hexColorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Color validates a wallet accent color
func Color(color string) error {
	if !hexColorPattern.MatchString(color) {
		return fmt.Errorf("invalid color: must be a hex color like #4F8EF7")
	}

	return nil
}

// Password enforces the minimum strength for the vault password: at least
// 8 characters with an upper-case letter, a lower-case letter, and a digit.
func Password(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	if !hasUpper || !hasLower || !hasDigit {
		return fmt.Errorf("password must contain an upper-case letter, a lower-case letter, and a digit")
	}

	return nil
}

// PrivateKeyHex validates an imported private key string
func PrivateKeyHex(key string) error {
	key = strings.TrimPrefix(key, "0x")
	if len(key) != 64 {
		return fmt.Errorf("private key must be 64 hex characters")
	}

	for _, r := range key {
		if !isHex(r) {
			return fmt.Errorf("private key contains non-hex characters")
		}
	}

	return nil
}

// SlippagePct validates a slippage tolerance percentage
func SlippagePct(pct float64) error {
	if pct <= 0 || pct > 50 {
		return fmt.Errorf("slippage tolerance must be between 0 and 50 percent")
	}

	return nil
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

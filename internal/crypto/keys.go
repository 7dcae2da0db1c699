package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// GenerateKey generates a new secp256k1 private key
func GenerateKey() (*ecdsa.PrivateKey, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	return privateKey, nil
}

// GenerateMnemonic produces a fresh 12-word BIP-39 recovery phrase
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate mnemonic: %w", err)
	}

	return mnemonic, nil
}

// KeyFromMnemonic deterministically derives the account private key from a
// BIP-39 recovery phrase. The seed is stretched by bip39 (PBKDF2) and the
// first curve-order-reduced 32 bytes become the account key, so the same
// phrase always yields the same address.
func KeyFromMnemonic(mnemonic string) (*ecdsa.PrivateKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic phrase")
	}

	seed := bip39.NewSeed(mnemonic, "")

	key, err := crypto.ToECDSA(crypto.Keccak256(seed)[:32])
	if err != nil {
		return nil, fmt.Errorf("failed to derive key from seed: %w", err)
	}

	return key, nil
}

// Address derives the Ethereum address from a private key
func Address(privateKey *ecdsa.PrivateKey) common.Address {
	publicKey := privateKey.Public()
	publicKeyECDSA, ok := publicKey.(*ecdsa.PublicKey)
	if !ok {
		panic("failed to cast public key to ECDSA")
	}
	return crypto.PubkeyToAddress(*publicKeyECDSA)
}

// KeyToBytes converts a private key to its 32-byte form
func KeyToBytes(privateKey *ecdsa.PrivateKey) []byte {
	return crypto.FromECDSA(privateKey)
}

// KeyFromBytes converts 32 bytes to a private key
func KeyFromBytes(b []byte) (*ecdsa.PrivateKey, error) {
	return crypto.ToECDSA(b)
}

// KeyFromHex parses a hex-encoded private key, with or without 0x prefix
func KeyFromHex(s string) (*ecdsa.PrivateKey, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	key, err := crypto.HexToECDSA(s)
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	return key, nil
}

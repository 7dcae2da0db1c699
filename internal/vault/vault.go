// Package vault implements password-based authenticated encryption for
// wallet secret material. Each blob carries its own random salt and nonce,
// so two wallets sharing a password never share derived keys.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/lockbox-wallet/lockbox/internal/metrics"
	apperrors "github.com/lockbox-wallet/lockbox/pkg/errors"
	"golang.org/x/crypto/scrypt"
)

const (
	// scrypt parameters.
	//
	// N=2^17 (~128MB RAM, a few hundred ms) keeps brute-force expensive
	// while staying inside the memory budget of a co-resident service.
	// r and p follow the scrypt paper's recommended values.
	scryptN      = 1 << 17
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32

	saltLen  = 32
	nonceLen = 12

	// blobVersion is the current on-disk blob format version.
	blobVersion = 1

	headerLen = 1 + saltLen + nonceLen
)

// Vault derives symmetric keys from passwords and seals/opens secret blobs
// with AES-256-GCM.
type Vault struct {
	n, r, p int
}

// New creates a Vault with production scrypt parameters.
func New() *Vault {
	return &Vault{n: scryptN, r: scryptR, p: scryptP}
}

// NewWithParams creates a Vault with custom scrypt parameters.
// Intended for tests, where the production cost is prohibitive.
func NewWithParams(n, r, p int) *Vault {
	return &Vault{n: n, r: r, p: p}
}

// Encrypt seals plaintext under a key derived from password.
//
// Blob layout: [version:1][salt:32][nonce:12][ciphertext+tag].
// Fails with encoding_failure only when the environment cannot supply
// entropy; that failure is fatal and non-retryable.
func (v *Vault) Encrypt(plaintext, password []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, apperrors.EncodingFailure(fmt.Sprintf("salt generation: %v", err))
	}

	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, apperrors.EncodingFailure(fmt.Sprintf("nonce generation: %v", err))
	}

	key, err := v.deriveKey(password, salt)
	if err != nil {
		return nil, err
	}
	defer Zero(key)

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	blob := make([]byte, 0, headerLen+len(plaintext)+aead.Overhead())
	blob = append(blob, blobVersion)
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = aead.Seal(blob, nonce, plaintext, blob[:headerLen])

	return blob, nil
}

// Decrypt opens a blob produced by Encrypt using the supplied password.
//
// A GCM tag mismatch surfaces as invalid_password; it is the only signal
// distinguishing a wrong password from tampered ciphertext, and the
// comparison inside GCM is constant time. Structurally malformed blobs are
// reported as corruption and are fatal to the operation in progress.
func (v *Vault) Decrypt(blob, password []byte) ([]byte, error) {
	if len(blob) < headerLen {
		return nil, fmt.Errorf("ciphertext blob corrupted: %d bytes, want at least %d", len(blob), headerLen)
	}

	if blob[0] != blobVersion {
		return nil, fmt.Errorf("unsupported ciphertext blob version: %d", blob[0])
	}

	salt := blob[1 : 1+saltLen]
	nonce := blob[1+saltLen : headerLen]
	ciphertext := blob[headerLen:]

	key, err := v.deriveKey(password, salt)
	if err != nil {
		return nil, err
	}
	defer Zero(key)

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, blob[:headerLen])
	if err != nil {
		return nil, apperrors.ErrInvalidPassword
	}

	return plaintext, nil
}

// deriveKey runs scrypt over the password and salt.
func (v *Vault) deriveKey(password, salt []byte) ([]byte, error) {
	start := time.Now()
	key, err := scrypt.Key(password, salt, v.n, v.r, v.p, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	metrics.KeyDerivationSeconds.Observe(time.Since(start).Seconds())
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return aead, nil
}

// Zero overwrites b in place. Callers use it to wipe plaintext key material
// as soon as it leaves scope.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

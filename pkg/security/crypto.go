package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// masterKeyIterations is the PBKDF2 work factor for deriving the
	// master key from an operator-supplied passphrase.
	masterKeyIterations = 200_000
	masterKeySaltSize   = 16
)

// DeriveMasterKey derives a 32-byte AES-256 key from a passphrase and salt
// using PBKDF2-HMAC-SHA256. The same passphrase and salt always yield the
// same key; callers persist the salt alongside whatever the key encrypts
// (the CA private key, cached file content) so the key can be
// re-derived on the next process start.
func DeriveMasterKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, masterKeyIterations, 32, sha256.New)
}

// NewSalt generates a fresh random salt for DeriveMasterKey.
func NewSalt() ([]byte, error) {
	salt := make([]byte, masterKeySaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("security: generate salt: %w", err)
	}
	return salt, nil
}

// masterKey is the process-wide key protecting data at rest: the CA's
// private key in the serial ledger.
// It never leaves memory.
var masterKey []byte

// SetMasterKey installs the process-wide master key, derived once at
// startup via DeriveMasterKey from an operator-supplied passphrase.
func SetMasterKey(key []byte) error {
	if len(key) != 32 {
		return fmt.Errorf("security: master key must be 32 bytes, got %d", len(key))
	}
	masterKey = key
	return nil
}

// Encrypt encrypts plaintext with the process master key using
// AES-256-GCM, prepending the nonce to the returned ciphertext.
func Encrypt(plaintext []byte) ([]byte, error) {
	if len(masterKey) == 0 {
		return nil, fmt.Errorf("security: master key not set")
	}

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt.
func Decrypt(ciphertext []byte) ([]byte, error) {
	if len(masterKey) == 0 {
		return nil, fmt.Errorf("security: master key not set")
	}

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("security: ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("security: decrypt: %w", err)
	}
	return plaintext, nil
}

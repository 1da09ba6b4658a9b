package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrInvalidKeyLength  = errors.New("encryption key must be 32 bytes for AES-256")
)

// CredentialVault encrypts data source passwords at rest
type CredentialVault struct {
	masterKey []byte
}

// NewCredentialVault creates a vault from a 32 byte AES-256 key
func NewCredentialVault(masterKey []byte) (*CredentialVault, error) {
	if len(masterKey) != 32 {
		return nil, ErrInvalidKeyLength
	}
	key := make([]byte, len(masterKey))
	copy(key, masterKey)
	return &CredentialVault{masterKey: key}, nil
}

// NewCredentialVaultFromBase64 decodes a base64 master key
func NewCredentialVaultFromBase64(encoded string) (*CredentialVault, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode master key: %w", err)
	}
	return NewCredentialVault(key)
}

func (cv *CredentialVault) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(cv.masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// EncryptCredentials seals plaintext with AES-256-GCM and returns
// base64(nonce || ciphertext)
func (cv *CredentialVault) EncryptCredentials(plaintext []byte) (string, error) {
	gcm, err := cv.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptCredentials opens a value produced by EncryptCredentials
func (cv *CredentialVault) DecryptCredentials(ciphertextB64 string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}

	gcm, err := cv.gcm()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, ErrInvalidCiphertext
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return plaintext, nil
}

// EncryptPassword seals a data source password for storage
func (cv *CredentialVault) EncryptPassword(password string) (string, error) {
	return cv.EncryptCredentials([]byte(password))
}

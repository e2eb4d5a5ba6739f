package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"strings"
)

// Encryptor seals attachment blobs at rest with AES-256-GCM.
// The key is derived from the configured passphrase; the nonce is prepended
// to the ciphertext so blobs are self-contained.
type Encryptor struct {
	aead cipher.AEAD
}

func NewEncryptor(passphrase string) (*Encryptor, error) {
	if strings.TrimSpace(passphrase) == "" {
		return nil, errors.New("encryption key is empty")
	}
	key := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Encryptor{aead: aead}, nil
}

func (e *Encryptor) EncryptToBlob(plain []byte) ([]byte, error) {
	if e == nil || e.aead == nil {
		return nil, errors.New("encryptor not initialized")
	}
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return e.aead.Seal(nonce, nonce, plain, nil), nil
}

func (e *Encryptor) DecryptBlob(blob []byte) ([]byte, error) {
	if e == nil || e.aead == nil {
		return nil, errors.New("encryptor not initialized")
	}
	if len(blob) < e.aead.NonceSize() {
		return nil, errors.New("blob too short")
	}
	nonce, cipherText := blob[:e.aead.NonceSize()], blob[e.aead.NonceSize():]
	return e.aead.Open(nil, nonce, cipherText, nil)
}

package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"ringrelay/internal/constants"
	"ringrelay/internal/models"

	"golang.org/x/crypto/pbkdf2"
)

// MessageCipher encrypts message text at rest with AES-256-GCM. Ciphertext is
// stored as hex(nonce):hex(ciphertext):hex(tag).
type MessageCipher struct {
	gcm cipher.AEAD
}

// NewMessageCipher derives the message key from secret. The derivation is slow
// on purpose, so build one cipher per process.
func NewMessageCipher(secret string) (*MessageCipher, error) {
	if len(secret) < constants.MinSecretLength {
		return nil, fmt.Errorf("message secret must be at least %d characters long", constants.MinSecretLength)
	}

	key := pbkdf2.Key([]byte(secret), []byte(constants.EncryptionSalt), models.Iterations, models.KeySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &MessageCipher{gcm: gcm}, nil
}

func (c *MessageCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return plaintext, nil
	}

	nonce := make([]byte, models.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	body, tag := sealed[:len(sealed)-models.TagSize], sealed[len(sealed)-models.TagSize:]

	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(body) + ":" + hex.EncodeToString(tag), nil
}

// Decrypt never fails: a value that is not in the stored ciphertext shape, or
// whose tag does not verify, is returned unchanged.
func (c *MessageCipher) Decrypt(stored string) string {
	plaintext, ok := c.open(stored)
	if !ok {
		return stored
	}
	return plaintext
}

func (c *MessageCipher) open(stored string) (string, bool) {
	parts := strings.Split(stored, ":")
	if len(parts) != constants.CiphertextPartsCount {
		return "", false
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != models.NonceSize {
		return "", false
	}
	body, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", false
	}
	tag, err := hex.DecodeString(parts[2])
	if err != nil || len(tag) != models.TagSize {
		return "", false
	}

	plaintext, err := c.gcm.Open(nil, nonce, append(body, tag...), nil)
	if err != nil {
		return "", false
	}
	return string(plaintext), true
}

package aes128

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/vulpemventures/quorum/internal/core/ports"
	"golang.org/x/crypto/scrypt"
)

const (
	saltLen = 16
	keyLen  = 16

	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

var (
	ErrMissingPassword = fmt.Errorf("missing password")
	ErrMalformedCypher = fmt.Errorf("encrypted mnemonic is too short")
	ErrInvalidPassword = fmt.Errorf("invalid password")
)

type aes128Cypher struct{}

// NewAES128Cypher returns a cypher that encrypts mnemonics with AES-128-GCM,
// the key being derived from the password with scrypt and a random salt.
// The output is salt || nonce || ciphertext.
func NewAES128Cypher() ports.MnemonicCypher {
	return aes128Cypher{}
}

func (c aes128Cypher) Encrypt(mnemonic, password []byte) ([]byte, error) {
	if len(password) == 0 {
		return nil, ErrMissingPassword
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := append(salt, nonce...)
	return gcm.Seal(out, nonce, mnemonic, nil), nil
}

func (c aes128Cypher) Decrypt(encryptedMnemonic, password []byte) ([]byte, error) {
	if len(password) == 0 {
		return nil, ErrMissingPassword
	}
	if len(encryptedMnemonic) < saltLen {
		return nil, ErrMalformedCypher
	}

	salt, data := encryptedMnemonic[:saltLen], encryptedMnemonic[saltLen:]
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize() {
		return nil, ErrMalformedCypher
	}

	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	mnemonic, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidPassword
	}
	return mnemonic, nil
}

func newGCM(password, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(password, salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
)

// Encrypt seals plaintext with AES-256-GCM under a key derived from the
// passphrase. The random nonce is prepended to the ciphertext.
func Encrypt(passphrase string, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(passphrase)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("keys: nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt.
func Decrypt(passphrase string, blob []byte) ([]byte, error) {
	aead, err := newAEAD(passphrase)
	if err != nil {
		return nil, err
	}
	if len(blob) < aead.NonceSize() {
		return nil, errors.New("keys: ciphertext too short")
	}
	nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("keys: decrypt: %w", err)
	}
	return plaintext, nil
}

// LoadPool reads and decrypts the key file at path and builds the pool.
func LoadPool(path, passphrase string) (*Pool, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keys: read key file: %w", err)
	}
	plaintext, err := Decrypt(passphrase, blob)
	if err != nil {
		return nil, err
	}
	list, err := ParseKeyList(plaintext)
	if err != nil {
		return nil, err
	}
	return NewPool(list)
}

func newAEAD(passphrase string) (cipher.AEAD, error) {
	sum := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("keys: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

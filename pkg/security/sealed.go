// Package security seals small secrets for storage at rest. The key is
// stretched from a user-supplied passphrase with scrypt; each sealed
// blob carries its own salt and nonce, so blobs are self-contained and
// rotating the passphrase only requires re-sealing.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/scrypt"
)

const saltSize = 16

var (
	ErrCorruptBlob = errors.New("sealed blob is corrupt")
	ErrWrongSecret = errors.New("secret does not open this blob")
)

// Seal encrypts plain under a key stretched from secret. Blob layout:
// salt, GCM nonce, ciphertext.
func Seal(secret string, plain []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	gcm, err := aead(secret, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	blob := append(salt, nonce...)
	return gcm.Seal(blob, nonce, plain, nil), nil
}

// Open decrypts a blob produced by Seal.
func Open(secret string, blob []byte) ([]byte, error) {
	if len(blob) < saltSize {
		return nil, ErrCorruptBlob
	}
	salt, rest := blob[:saltSize], blob[saltSize:]

	gcm, err := aead(secret, salt)
	if err != nil {
		return nil, err
	}
	if len(rest) < gcm.NonceSize() {
		return nil, ErrCorruptBlob
	}

	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrWrongSecret
	}
	return plain, nil
}

func aead(secret string, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(secret), salt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

package datastore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/Pallavikumarimdb/superglue/internal/errhandling"
)

// masterKeyLen is the required length of MASTER_ENCRYPTION_KEY (§6): "no
// recovery" means a wrong-length or lost key is a hard failure, never a
// silent fallback to plaintext.
const masterKeyLen = 32

// Cipher encrypts Integration.Credentials at rest with AES-256-GCM.
type Cipher struct {
	gcm cipher.AEAD
}

// NewCipher builds a Cipher from a 32-byte master key.
func NewCipher(masterKey []byte) (*Cipher, error) {
	if len(masterKey) != masterKeyLen {
		return nil, fmt.Errorf("datastore: master encryption key must be %d bytes, got %d", masterKeyLen, len(masterKey))
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("datastore: creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("datastore: creating GCM mode: %w", err)
	}
	return &Cipher{gcm: gcm}, nil
}

// Encrypt returns plaintext sealed under a fresh random nonce, base64-encoded
// for storage in a string-typed column or JSON field. An empty plaintext
// round-trips as an empty string without invoking the cipher.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("datastore: generating nonce: %w", err)
	}
	sealed := c.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("datastore: decoding ciphertext: %w", err)
	}
	nonceSize := c.gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", errors.New("datastore: ciphertext shorter than a nonce")
	}
	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plain, err := c.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("datastore: decrypting credential: %w", err)
	}
	return string(plain), nil
}

// EncryptCredentials encrypts every value of creds, leaving keys untouched.
func (c *Cipher) EncryptCredentials(creds map[string]string) (map[string]string, error) {
	if creds == nil {
		return nil, nil
	}
	out := make(map[string]string, len(creds))
	for k, v := range creds {
		enc, err := c.Encrypt(v)
		if err != nil {
			return nil, errhandling.DatastoreError("encrypting credential "+k, err)
		}
		out[k] = enc
	}
	return out, nil
}

// DecryptCredentials reverses EncryptCredentials.
func (c *Cipher) DecryptCredentials(creds map[string]string) (map[string]string, error) {
	if creds == nil {
		return nil, nil
	}
	out := make(map[string]string, len(creds))
	for k, v := range creds {
		dec, err := c.Decrypt(v)
		if err != nil {
			return nil, errhandling.DatastoreError("decrypting credential "+k, err)
		}
		out[k] = dec
	}
	return out, nil
}

// Package security holds the field-level encryption used for PII columns
// and the password hashing policy.
package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/iliyamo/clinic-api/internal/logger"
)

// ErrDecrypt is returned for any ciphertext that cannot be opened.  The
// cause is deliberately not distinguished.
var ErrDecrypt = errors.New("decrypt failed")

// Placeholder replaces PII values that fail to decrypt on read paths.
const Placeholder = "[unavailable]"

// versionPrefix marks ciphertexts that carry their own random IV.  Values
// without it were written with the fixed IV derived from the IV secret and
// are still readable.
const versionPrefix = "v2:"

// Cipher encrypts PII fields with AES-256-CBC and computes the keyed lookup
// hash stored next to each encrypted column.
type Cipher struct {
	block    cipher.Block
	legacyIV []byte
	hashKey  []byte
}

// NewCipher derives the AES key as SHA-256(keySecret) and the legacy IV as
// the first 16 bytes of SHA-256(ivSecret).
func NewCipher(keySecret, ivSecret, hashSecret string) (*Cipher, error) {
	if keySecret == "" || ivSecret == "" || hashSecret == "" {
		return nil, errors.New("cipher secrets must not be empty")
	}
	key := sha256.Sum256([]byte(keySecret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	iv := sha256.Sum256([]byte(ivSecret))
	return &Cipher{
		block:    block,
		legacyIV: iv[:aes.BlockSize],
		hashKey:  []byte(hashSecret),
	}, nil
}

// Encrypt returns "v2:" + base64(iv || ciphertext) with a fresh random IV,
// so equal plaintexts produce different ciphertexts.  Equality lookups go
// through Hash instead.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return versionPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt.  Legacy values (no version prefix) are opened
// with the fixed IV.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	iv := c.legacyIV
	encoded := ciphertext
	withIV := strings.HasPrefix(ciphertext, versionPrefix)
	if withIV {
		encoded = strings.TrimPrefix(ciphertext, versionPrefix)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrDecrypt
	}
	if withIV {
		if len(raw) < 2*aes.BlockSize {
			return "", ErrDecrypt
		}
		iv, raw = raw[:aes.BlockSize], raw[aes.BlockSize:]
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", ErrDecrypt
	}
	plain := make([]byte, len(raw))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plain, raw)
	plain, err = pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// DecryptOr decrypts ciphertext and substitutes placeholder on failure.
// Empty input stays empty.  Read paths use it so one corrupted row never
// fails a whole response.
func (c *Cipher) DecryptOr(ciphertext, placeholder string) string {
	if ciphertext == "" {
		return ""
	}
	plain, err := c.Decrypt(ciphertext)
	if err != nil {
		logger.Warn().Int("len", len(ciphertext)).Msg("pii field could not be decrypted")
		return placeholder
	}
	return plain
}

// Hash is the deterministic HMAC-SHA256 of value, hex encoded.
func (c *Cipher) Hash(value string) string {
	mac := hmac.New(sha256.New, c.hashKey)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// NormalizeEmail lower-cases and trims an address before hashing.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// encryptLegacy writes the fixed-IV format.  Only tests use it to produce
// rows the way older deployments stored them.
func (c *Cipher) encryptLegacy(plaintext string) string {
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, c.legacyIV).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out)
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, ErrDecrypt
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, ErrDecrypt
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, ErrDecrypt
		}
	}
	return b[:len(b)-n], nil
}

// Package content encrypts entry text with keys derived from a tag's
// session secret.
package content

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/hkdf"

	"github.com/atinyakov/tagkeeper/internal/errs"
)

const (
	SaltSize = 32
	IVSize   = 12
	KeySize  = 32

	// MaxPlaintextBytes is the largest plaintext Encrypt accepts.
	MaxPlaintextBytes = 1 << 20
)

var keyInfo = []byte("tagkeeper/content/v1")

// Sealed is the output of one Encrypt call.
type Sealed struct {
	Ciphertext []byte
	IV         []byte
	Salt       []byte
}

// String renders s as "salt.iv.ciphertext" in unpadded base64url.
func (s *Sealed) String() string {
	enc := base64.RawURLEncoding
	return enc.EncodeToString(s.Salt) + "." + enc.EncodeToString(s.IV) + "." + enc.EncodeToString(s.Ciphertext)
}

// ParseSealed parses the String form.
func ParseSealed(v string) (*Sealed, error) {
	parts := strings.Split(strings.TrimSpace(v), ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: sealed value must have 3 parts", errs.ErrDecode)
	}
	var out [3][]byte
	for i, p := range parts {
		b, err := base64.RawURLEncoding.DecodeString(p)
		if err != nil {
			return nil, fmt.Errorf("%w: sealed value: %v", errs.ErrDecode, err)
		}
		out[i] = b
	}
	return &Sealed{Salt: out[0], IV: out[1], Ciphertext: out[2]}, nil
}

// Cipher is AES-256-GCM with a fresh salt and IV per call and a per-call
// key derived from the secret with HKDF-SHA256.
type Cipher struct {
	rnd io.Reader
}

// NewCipher returns a Cipher reading randomness from rnd, or from
// crypto/rand when rnd is nil.
func NewCipher(rnd io.Reader) *Cipher {
	if rnd == nil {
		rnd = rand.Reader
	}
	return &Cipher{rnd: rnd}
}

// Encrypt seals plaintext under secret.
func (c *Cipher) Encrypt(plaintext string, secret []byte) (*Sealed, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty secret", errs.ErrInvalidInput)
	}
	if len(plaintext) > MaxPlaintextBytes {
		return nil, fmt.Errorf("%w: plaintext exceeds %d bytes", errs.ErrInvalidInput, MaxPlaintextBytes)
	}
	if !utf8.ValidString(plaintext) {
		return nil, fmt.Errorf("%w: plaintext is not valid UTF-8", errs.ErrInvalidInput)
	}

	salt := make([]byte, SaltSize)
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(c.rnd, salt); err != nil {
		return nil, fmt.Errorf("%w: read salt: %v", errs.ErrCryptoFailure, err)
	}
	if _, err := io.ReadFull(c.rnd, iv); err != nil {
		return nil, fmt.Errorf("%w: read iv: %v", errs.ErrCryptoFailure, err)
	}

	aead, err := newAEAD(secret, salt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrCryptoFailure, err)
	}
	return &Sealed{
		Ciphertext: aead.Seal(nil, iv, []byte(plaintext), nil),
		IV:         iv,
		Salt:       salt,
	}, nil
}

// Decrypt opens ciphertext. Every failure, including malformed inputs,
// is reported as errs.ErrDecryptionFailed without further detail.
func (c *Cipher) Decrypt(ciphertext, iv, secret, salt []byte) (string, error) {
	if len(secret) == 0 || len(iv) != IVSize || len(salt) != SaltSize {
		return "", errs.ErrDecryptionFailed
	}
	aead, err := newAEAD(secret, salt)
	if err != nil {
		return "", errs.ErrDecryptionFailed
	}
	plain, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return "", errs.ErrDecryptionFailed
	}
	return string(plain), nil
}

// DecryptSealed is Decrypt for a Sealed value.
func (c *Cipher) DecryptSealed(s *Sealed, secret []byte) (string, error) {
	return c.Decrypt(s.Ciphertext, s.IV, secret, s.Salt)
}

const selfTestPlaintext = "tagkeeper self-test: ünïcödé ✓"

// TestEncryption round-trips a fixed plaintext under a random secret and
// reports whether the platform primitives work.
func (c *Cipher) TestEncryption() bool {
	secret := make([]byte, KeySize)
	defer wipe(secret)
	if _, err := io.ReadFull(c.rnd, secret); err != nil {
		return false
	}
	sealed, err := c.Encrypt(selfTestPlaintext, secret)
	if err != nil {
		return false
	}
	got, err := c.DecryptSealed(sealed, secret)
	return err == nil && got == selfTestPlaintext
}

func newAEAD(secret, salt []byte) (cipher.AEAD, error) {
	key := make([]byte, KeySize)
	defer wipe(key)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, keyInfo), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create AEAD: %w", err)
	}
	return aead, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

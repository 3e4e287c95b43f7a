package content

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/tagkeeper/internal/errs"
)

func randomSecret(t *testing.T) []byte {
	t.Helper()
	b := make([]byte, 32)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	c := NewCipher(nil)
	secret := randomSecret(t)

	for _, plain := range []string{
		"",
		"hello",
		"Ünïcödé ✓ 日本語 🙂",
		strings.Repeat("a", MaxPlaintextBytes),
	} {
		sealed, err := c.Encrypt(plain, secret)
		require.NoError(t, err)
		got, err := c.Decrypt(sealed.Ciphertext, sealed.IV, secret, sealed.Salt)
		require.NoError(t, err)
		assert.Equal(t, plain, got)
	}
}

func TestEncrypt_FreshSaltAndIV(t *testing.T) {
	c := NewCipher(nil)
	secret := randomSecret(t)

	a, err := c.Encrypt("same text", secret)
	require.NoError(t, err)
	b, err := c.Encrypt("same text", secret)
	require.NoError(t, err)

	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.IV, b.IV)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestEncrypt_InvalidInput(t *testing.T) {
	c := NewCipher(nil)

	_, err := c.Encrypt("x", nil)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = c.Encrypt(strings.Repeat("a", MaxPlaintextBytes+1), randomSecret(t))
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = c.Encrypt(string([]byte{0xff, 0xfe}), randomSecret(t))
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

func TestEncrypt_NoRandomness(t *testing.T) {
	c := NewCipher(failingReader{})
	_, err := c.Encrypt("x", bytes.Repeat([]byte{1}, 32))
	assert.ErrorIs(t, err, errs.ErrCryptoFailure)
	assert.False(t, c.TestEncryption())
}

func TestDecrypt_FailuresLookTheSame(t *testing.T) {
	c := NewCipher(nil)
	secret := randomSecret(t)
	sealed, err := c.Encrypt("journal entry", secret)
	require.NoError(t, err)

	tampered := append([]byte(nil), sealed.Ciphertext...)
	tampered[0] ^= 1

	cases := map[string]func() (string, error){
		"wrong secret": func() (string, error) {
			return c.Decrypt(sealed.Ciphertext, sealed.IV, randomSecret(t), sealed.Salt)
		},
		"tampered ciphertext": func() (string, error) {
			return c.Decrypt(tampered, sealed.IV, secret, sealed.Salt)
		},
		"wrong salt": func() (string, error) {
			return c.Decrypt(sealed.Ciphertext, sealed.IV, secret, make([]byte, SaltSize))
		},
		"short iv": func() (string, error) {
			return c.Decrypt(sealed.Ciphertext, sealed.IV[:4], secret, sealed.Salt)
		},
		"empty secret": func() (string, error) {
			return c.Decrypt(sealed.Ciphertext, sealed.IV, nil, sealed.Salt)
		},
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := fn()
			assert.Empty(t, got)
			assert.Equal(t, errs.ErrDecryptionFailed, err)
		})
	}
}

func TestSealed_StringRoundTrip(t *testing.T) {
	c := NewCipher(nil)
	secret := randomSecret(t)
	sealed, err := c.Encrypt("journal entry", secret)
	require.NoError(t, err)

	parsed, err := ParseSealed(sealed.String())
	require.NoError(t, err)
	got, err := c.DecryptSealed(parsed, secret)
	require.NoError(t, err)
	assert.Equal(t, "journal entry", got)

	_, err = ParseSealed("only.two")
	assert.ErrorIs(t, err, errs.ErrDecode)
	_, err = ParseSealed("a.b.!!")
	assert.ErrorIs(t, err, errs.ErrDecode)
}

func TestTestEncryption(t *testing.T) {
	assert.True(t, NewCipher(nil).TestEncryption())
}

type fakeBorrower struct {
	secret []byte
	err    error
}

func (f *fakeBorrower) Borrow(ctx context.Context, tagID string, fn func([]byte) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(f.secret)
}

func TestForTag(t *testing.T) {
	c := NewCipher(nil)
	b := &fakeBorrower{secret: randomSecret(t)}

	sealed, err := c.EncryptForTag(context.Background(), b, "tag-1", "hello")
	require.NoError(t, err)
	got, err := c.DecryptForTag(context.Background(), b, "tag-1", sealed)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	b.err = errs.ErrSessionNotActive
	_, err = c.DecryptForTag(context.Background(), b, "tag-1", sealed)
	assert.ErrorIs(t, err, errs.ErrSessionNotActive)
	_, err = c.EncryptForTag(context.Background(), b, "tag-1", "hello")
	assert.ErrorIs(t, err, errs.ErrSessionNotActive)
}

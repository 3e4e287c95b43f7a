package credential

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/tagkeeper/internal/errs"
	"github.com/atinyakov/tagkeeper/internal/opaque"
)

var testKSF = opaque.KSF{Time: 1, MemoryKiB: 64, Threads: 1}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

func newServer(t *testing.T) *opaque.Server {
	t.Helper()
	seed, err := opaque.GenerateSeed()
	require.NoError(t, err)
	srv, err := opaque.NewServer(seed)
	require.NoError(t, err)
	return srv
}

func registerTag(t *testing.T, c *Client, srv *opaque.Server, tagID, phrase string) *opaque.RegistrationRecord {
	t.Helper()
	req, err := c.StartRegistration([]byte(phrase), "Private")
	require.NoError(t, err)
	resp, err := srv.Register(tagID, req)
	require.NoError(t, err)
	rec, err := c.FinishRegistration("Private", resp.Encode())
	require.NoError(t, err)
	return rec
}

func loginTag(t *testing.T, c *Client, srv *opaque.Server, tagID, phrase string, rec *opaque.RegistrationRecord) (*LoginResult, error) {
	t.Helper()
	req, err := c.StartLogin([]byte(phrase), tagID)
	require.NoError(t, err)
	resp, _, err := srv.StartLogin(tagID, rec, req)
	require.NoError(t, err)
	return c.FinishLogin(tagID, resp.Encode())
}

func TestLoginSucceedsOnlyWithExactPhrase(t *testing.T) {
	srv := newServer(t)
	c := New(WithKSF(testKSF))
	rec := registerTag(t, c, srv, "tag-1", "open sesame")

	tests := []struct {
		phrase string
		ok     bool
	}{
		{"open sesame", true},
		{"Open sesame", false},
		{"open sesame ", false},
		{"open sesam", false},
	}
	for _, tt := range tests {
		t.Run(tt.phrase, func(t *testing.T) {
			res, err := loginTag(t, c, srv, "tag-1", tt.phrase, rec)
			if tt.ok {
				require.NoError(t, err)
				assert.Len(t, res.SessionKey, opaque.SessionKeyLen)
				assert.NotNil(t, res.Finalization)
				return
			}
			assert.ErrorIs(t, err, errs.ErrAuthenticationFailed)
		})
	}
}

func TestFinishLogin_UnknownTagSameError(t *testing.T) {
	srv := newServer(t)
	c := New(WithKSF(testKSF))

	_, err := loginTag(t, c, srv, "no-such-tag", "open sesame", nil)
	assert.ErrorIs(t, err, errs.ErrAuthenticationFailed)
}

func TestStart_PhraseLength(t *testing.T) {
	c := New(WithKSF(testKSF))

	for _, p := range []string{"", "ab", strings.Repeat("x", MaxPhraseLength+1)} {
		_, err := c.StartRegistration([]byte(p), "Private")
		assert.ErrorIs(t, err, errs.ErrInvalidInput, "phrase %q", p)
		_, err = c.StartLogin([]byte(p), "tag-1")
		assert.ErrorIs(t, err, errs.ErrInvalidInput, "phrase %q", p)
	}

	_, err := c.StartRegistration([]byte("äöü"), "Private")
	assert.NoError(t, err, "length counts characters, not bytes")
	_, err = c.StartRegistration([]byte(strings.Repeat("é", MaxPhraseLength)), "Private")
	assert.NoError(t, err)
}

func TestStart_NoRandomness(t *testing.T) {
	c := New(WithKSF(testKSF), WithRandom(failingReader{}))

	_, err := c.StartRegistration([]byte("open sesame"), "Private")
	assert.ErrorIs(t, err, errs.ErrCryptoFailure)
	_, err = c.StartLogin([]byte("open sesame"), "tag-1")
	assert.ErrorIs(t, err, errs.ErrCryptoFailure)
	assert.False(t, c.Pending("Private"))
}

func TestFinishRegistration_BadResponse(t *testing.T) {
	c := New(WithKSF(testKSF))

	_, err := c.StartRegistration([]byte("open sesame"), "Private")
	require.NoError(t, err)
	_, err = c.FinishRegistration("Private", "%%%")
	assert.ErrorIs(t, err, errs.ErrDecode)
	assert.False(t, c.Pending("Private"), "failed attempt must be discarded")

	_, err = c.StartRegistration([]byte("open sesame"), "Private")
	require.NoError(t, err)
	_, err = c.FinishRegistration("Private", opaque.EncodeMessage([]byte("short")))
	assert.ErrorIs(t, err, errs.ErrProtocolMismatch)
}

func TestFinish_WithoutStart(t *testing.T) {
	c := New(WithKSF(testKSF))

	_, err := c.FinishRegistration("Private", "AAAA")
	assert.ErrorIs(t, err, errs.ErrProtocolMismatch)
	_, err = c.FinishLogin("tag-1", "AAAA")
	assert.ErrorIs(t, err, errs.ErrProtocolMismatch)
}

func TestStart_OverwritesPriorAttempt(t *testing.T) {
	srv := newServer(t)
	c := New(WithKSF(testKSF))
	rec := registerTag(t, c, srv, "tag-1", "open sesame")

	first, err := c.StartLogin([]byte("wrong phrase"), "tag-1")
	require.NoError(t, err)
	second, err := c.StartLogin([]byte("open sesame"), "tag-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.BlindedElement, second.BlindedElement)

	resp, _, err := srv.StartLogin("tag-1", rec, second)
	require.NoError(t, err)
	_, err = c.FinishLogin("tag-1", resp.Encode())
	assert.NoError(t, err, "finish must use the latest attempt")
}

func TestFinish_ExpiredAttempt(t *testing.T) {
	c := New(WithKSF(testKSF), WithAttemptTTL(20*time.Millisecond))
	t.Cleanup(c.Close)

	_, err := c.StartRegistration([]byte("open sesame"), "Private")
	require.NoError(t, err)
	assert.True(t, c.Pending("Private"))

	require.Eventually(t, func() bool { return !c.Pending("Private") }, time.Second, 5*time.Millisecond)
	_, err = c.FinishRegistration("Private", "AAAA")
	assert.ErrorIs(t, err, errs.ErrProtocolMismatch)
}

func TestExpiredAttempt_EvictedInBackground(t *testing.T) {
	c := New(WithKSF(testKSF), WithAttemptTTL(20*time.Millisecond))
	t.Cleanup(c.Close)

	_, err := c.StartLogin([]byte("open sesame"), "tag-1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.logins.Len())

	// nothing touches the client; the expiry loop alone removes the attempt
	require.Eventually(t, func() bool { return c.logins.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestClose_DropsAttempts(t *testing.T) {
	c := New(WithKSF(testKSF))
	_, err := c.StartRegistration([]byte("open sesame"), "Private")
	require.NoError(t, err)
	_, err = c.StartLogin([]byte("open sesame"), "tag-1")
	require.NoError(t, err)

	c.Close()
	assert.False(t, c.Pending("Private"))
	assert.False(t, c.Pending("tag-1"))
}

func TestCancel_DropsOnlyThatIdentifier(t *testing.T) {
	c := New(WithKSF(testKSF))
	_, err := c.StartLogin([]byte("open sesame"), "tag-1")
	require.NoError(t, err)
	_, err = c.StartLogin([]byte("open sesame"), "tag-2")
	require.NoError(t, err)

	c.Cancel("tag-1")
	assert.False(t, c.Pending("tag-1"))
	assert.True(t, c.Pending("tag-2"))

	_, err = c.FinishLogin("tag-1", "AAAA")
	assert.ErrorIs(t, err, errs.ErrProtocolMismatch)
}

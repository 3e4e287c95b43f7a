package content

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atinyakov/tagkeeper/internal/errs"
	"github.com/atinyakov/tagkeeper/internal/kvstore"
)

var testKDF = KDFParams{Time: 1, MemoryKiB: 64, Threads: 1}

func TestHiddenMode(t *testing.T) {
	store := kvstore.NewMemoryStore()
	h := NewHiddenMode(store, NewCipher(nil), testKDF, zap.NewNop())

	assert.False(t, h.Verify([]byte("open sesame")), "no blob yet")
	on, err := h.Enabled()
	require.NoError(t, err)
	assert.False(t, on)

	require.NoError(t, h.Setup([]byte("open sesame")))
	on, err = h.Enabled()
	require.NoError(t, err)
	assert.True(t, on)

	raw, ok, err := store.Get(HiddenModeKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, string(raw), "open sesame")

	assert.True(t, h.Verify([]byte("open sesame")))
	assert.False(t, h.Verify([]byte("open sesamE")))

	require.NoError(t, h.Disable())
	assert.False(t, h.Verify([]byte("open sesame")))
}

func TestHiddenMode_CorruptedBlob(t *testing.T) {
	store := kvstore.NewMemoryStore()
	require.NoError(t, store.Set(HiddenModeKey, []byte("{not json")))
	h := NewHiddenMode(store, NewCipher(nil), testKDF, nil)

	assert.False(t, h.Verify([]byte("open sesame")))
}

func TestHiddenMode_ShortPhrase(t *testing.T) {
	h := NewHiddenMode(kvstore.NewMemoryStore(), NewCipher(nil), testKDF, nil)
	assert.ErrorIs(t, h.Setup([]byte("ab")), errs.ErrInvalidInput)
}

func TestHiddenMode_RejectsOversizedKDFParams(t *testing.T) {
	store := kvstore.NewMemoryStore()
	h := NewHiddenMode(store, NewCipher(nil), testKDF, zap.NewNop())
	require.NoError(t, h.Setup([]byte("open sesame")))

	raw, _, err := store.Get(HiddenModeKey)
	require.NoError(t, err)
	var blob hiddenBlob
	require.NoError(t, json.Unmarshal(raw, &blob))
	blob.KDF.MemoryKiB = 1 << 31
	tampered, err := json.Marshal(blob)
	require.NoError(t, err)
	require.NoError(t, store.Set(HiddenModeKey, tampered))

	assert.False(t, h.Verify([]byte("open sesame")), "blob must be rejected before deriving a key")

	big := NewHiddenMode(kvstore.NewMemoryStore(), NewCipher(nil), KDFParams{Time: 100, MemoryKiB: 64, Threads: 1}, nil)
	assert.ErrorIs(t, big.Setup([]byte("open sesame")), errs.ErrInvalidInput)
}

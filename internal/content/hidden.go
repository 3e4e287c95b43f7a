package content

import (
	"encoding/json"
	"fmt"
	"io"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"

	"github.com/atinyakov/tagkeeper/internal/errs"
	"github.com/atinyakov/tagkeeper/internal/kvstore"
)

// HiddenModeKey is the store key of the hidden-mode verification blob.
const HiddenModeKey = "hidden_mode.verification"

const hiddenMarker = "tagkeeper hidden mode v1"

// KDFParams are the Argon2id parameters for the hidden-mode key.
type KDFParams struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

var DefaultKDFParams = KDFParams{Time: 2, MemoryKiB: 64 * 1024, Threads: 4}

// MaxKDFParams bounds the parameters accepted from a stored blob.
var MaxKDFParams = KDFParams{Time: 10, MemoryKiB: 1 << 20, Threads: 16}

func (p KDFParams) withinLimits() bool {
	return p.Time <= MaxKDFParams.Time && p.MemoryKiB <= MaxKDFParams.MemoryKiB && p.Threads <= MaxKDFParams.Threads
}

type hiddenBlob struct {
	Version    int       `json:"version"`
	KDF        KDFParams `json:"kdf"`
	KDFSalt    []byte    `json:"kdf_salt"`
	Salt       []byte    `json:"salt"`
	IV         []byte    `json:"iv"`
	Ciphertext []byte    `json:"ciphertext"`
}

// HiddenMode manages the device-level hidden-mode verification blob: the
// ciphertext of a known marker under a key derived from the user's phrase.
type HiddenMode struct {
	store  kvstore.Store
	cipher *Cipher
	params KDFParams
	logger *zap.Logger
}

func NewHiddenMode(store kvstore.Store, c *Cipher, params KDFParams, logger *zap.Logger) *HiddenMode {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HiddenMode{store: store, cipher: c, params: params, logger: logger}
}

// Setup stores a fresh verification blob for phrase, replacing any
// existing one.
func (h *HiddenMode) Setup(phrase []byte) error {
	if n := utf8.RuneCount(phrase); n < 3 || n > 100 {
		return fmt.Errorf("%w: phrase must be 3 to 100 characters", errs.ErrInvalidInput)
	}
	if !h.params.withinLimits() {
		return fmt.Errorf("%w: kdf parameters exceed limits", errs.ErrInvalidInput)
	}
	kdfSalt := make([]byte, SaltSize)
	if _, err := io.ReadFull(h.cipher.rnd, kdfSalt); err != nil {
		return fmt.Errorf("%w: read salt: %v", errs.ErrCryptoFailure, err)
	}
	key := h.deriveKey(phrase, kdfSalt, h.params)
	defer wipe(key)

	sealed, err := h.cipher.Encrypt(hiddenMarker, key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(hiddenBlob{
		Version:    1,
		KDF:        h.params,
		KDFSalt:    kdfSalt,
		Salt:       sealed.Salt,
		IV:         sealed.IV,
		Ciphertext: sealed.Ciphertext,
	})
	if err != nil {
		return fmt.Errorf("marshal hidden mode blob: %w", err)
	}
	if err := h.store.Set(HiddenModeKey, raw); err != nil {
		return fmt.Errorf("store hidden mode blob: %w", err)
	}
	h.logger.Info("hidden mode enabled")
	return nil
}

// Verify reports whether phrase opens the stored blob. A missing or
// unreadable blob and a wrong phrase all yield false.
func (h *HiddenMode) Verify(phrase []byte) bool {
	raw, ok, err := h.store.Get(HiddenModeKey)
	if err != nil {
		h.logger.Warn("read hidden mode blob", zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	var blob hiddenBlob
	if err := json.Unmarshal(raw, &blob); err != nil || blob.Version != 1 {
		h.logger.Warn("hidden mode blob is corrupted")
		return false
	}
	if !blob.KDF.withinLimits() {
		h.logger.Warn("hidden mode blob has out-of-range kdf parameters",
			zap.Uint32("time", blob.KDF.Time), zap.Uint32("memory_kib", blob.KDF.MemoryKiB))
		return false
	}
	key := h.deriveKey(phrase, blob.KDFSalt, blob.KDF)
	defer wipe(key)
	got, err := h.cipher.Decrypt(blob.Ciphertext, blob.IV, key, blob.Salt)
	return err == nil && got == hiddenMarker
}

// Enabled reports whether a verification blob is stored.
func (h *HiddenMode) Enabled() (bool, error) {
	_, ok, err := h.store.Get(HiddenModeKey)
	return ok, err
}

// Disable removes the blob.
func (h *HiddenMode) Disable() error {
	if err := h.store.Delete(HiddenModeKey); err != nil {
		return fmt.Errorf("delete hidden mode blob: %w", err)
	}
	h.logger.Info("hidden mode disabled")
	return nil
}

func (h *HiddenMode) deriveKey(phrase, salt []byte, p KDFParams) []byte {
	if p.Time == 0 || p.MemoryKiB == 0 || p.Threads == 0 {
		p = DefaultKDFParams
	}
	return argon2.IDKey(phrase, salt, p.Time, p.MemoryKiB, p.Threads, KeySize)
}

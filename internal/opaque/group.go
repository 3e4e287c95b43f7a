package opaque

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/gtank/ristretto255"
	"golang.org/x/crypto/hkdf"

	"github.com/atinyakov/tagkeeper/internal/errs"
)

// Sizes of the fixed-length protocol fields.
const (
	ElementSize   = 32
	ScalarSize    = 32
	PublicKeySize = 32
	NonceSize     = 32
	MACSize       = sha256.Size
	SessionKeyLen = 32
)

const (
	dstHashToGroup = "tagkeeper-v1-HashToGroup-ristretto255-SHA512"
	dstFinalize    = "tagkeeper-v1-OPRF-Finalize"
	dstOPRFKey     = "tagkeeper-v1-OprfKey"
	dst3DH         = "tagkeeper-v1-3DH"
)

var errZeroScalar = errors.New("opaque: zero scalar")

var zeroScalarBytes [ScalarSize]byte

func hashToElement(input []byte) *ristretto255.Element {
	h := sha512.New()
	h.Write([]byte(dstHashToGroup))
	writeLP(h, input)
	return ristretto255.NewElement().FromUniformBytes(h.Sum(nil))
}

func randomScalar(rnd io.Reader) (*ristretto255.Scalar, error) {
	var b [64]byte
	defer wipe(b[:])
	if _, err := io.ReadFull(rnd, b[:]); err != nil {
		return nil, fmt.Errorf("%w: read randomness: %v", errs.ErrCryptoFailure, err)
	}
	s := ristretto255.NewScalar().FromUniformBytes(b[:])
	if s.Equal(ristretto255.NewScalar()) == 1 {
		return nil, fmt.Errorf("%w: %v", errs.ErrCryptoFailure, errZeroScalar)
	}
	return s, nil
}

func randomBytes(rnd io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rnd, b); err != nil {
		return nil, fmt.Errorf("%w: read randomness: %v", errs.ErrCryptoFailure, err)
	}
	return b, nil
}

// wipeScalar overwrites s with zero.
func wipeScalar(s *ristretto255.Scalar) {
	if s != nil {
		_ = s.Decode(zeroScalarBytes[:])
	}
}

func decodeElement(b []byte) (*ristretto255.Element, error) {
	if len(b) != ElementSize {
		return nil, fmt.Errorf("%w: element length %d", errs.ErrProtocolMismatch, len(b))
	}
	e := ristretto255.NewElement()
	if err := e.Decode(b); err != nil {
		return nil, fmt.Errorf("%w: invalid group element", errs.ErrProtocolMismatch)
	}
	if e.Equal(ristretto255.NewElement()) == 1 {
		return nil, fmt.Errorf("%w: identity element", errs.ErrProtocolMismatch)
	}
	return e, nil
}

// deriveOPRFKey maps a credential identifier to its OPRF key.
func deriveOPRFKey(seed []byte, identifier string) (*ristretto255.Scalar, error) {
	info := append([]byte(dstOPRFKey), identifier...)
	b, err := expand(sha512.New, seed, info, 64)
	if err != nil {
		return nil, err
	}
	defer wipe(b)
	return ristretto255.NewScalar().FromUniformBytes(b), nil
}

func expand(h func() hash.Hash, prk, info []byte, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.Expand(h, prk, info), out); err != nil {
		return nil, fmt.Errorf("%w: hkdf expand: %v", errs.ErrCryptoFailure, err)
	}
	return out, nil
}

func mac(key []byte, parts ...[]byte) []byte {
	m := hmac.New(sha256.New, key)
	for _, p := range parts {
		m.Write(p)
	}
	return m.Sum(nil)
}

// writeLP writes a length-prefixed field so concatenations stay unambiguous.
func writeLP(w io.Writer, b []byte) {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(b)))
	w.Write(l[:])
	w.Write(b)
}

func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

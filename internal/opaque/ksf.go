package opaque

import (
	"crypto/sha256"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// KSF holds the Argon2id parameters used to stretch the OPRF output.
// Changing them invalidates every existing registration.
type KSF struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// DefaultKSF is used unless a client is configured otherwise.
var DefaultKSF = KSF{Time: 2, MemoryKiB: 64 * 1024, Threads: 4}

var ksfSalt = []byte("tagkeeper-v1-ksf-salt")

// randomizedPassword turns an OPRF output into rwd.
func (k KSF) randomizedPassword(oprfOutput []byte) []byte {
	t, m, p := k.Time, k.MemoryKiB, k.Threads
	if t == 0 {
		t = DefaultKSF.Time
	}
	if m == 0 {
		m = DefaultKSF.MemoryKiB
	}
	if p == 0 {
		p = DefaultKSF.Threads
	}
	stretched := argon2.IDKey(oprfOutput, ksfSalt, t, m, p, 32)
	defer wipe(stretched)
	ikm := concat(oprfOutput, stretched)
	defer wipe(ikm)
	return hkdf.Extract(sha256.New, ikm, nil)
}

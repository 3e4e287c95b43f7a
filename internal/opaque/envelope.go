package opaque

import (
	"crypto/ecdh"
	"crypto/sha256"
	"fmt"

	"github.com/atinyakov/tagkeeper/internal/errs"
)

// envelopeKeys derives the client's static key pair and the envelope auth
// key from rwd and the envelope nonce.
func envelopeKeys(rwd, nonce []byte) (*ecdh.PrivateKey, []byte, error) {
	seed, err := expand(sha256.New, rwd, concat(nonce, []byte("PrivateKey")), 32)
	if err != nil {
		return nil, nil, err
	}
	defer wipe(seed)
	priv, err := ecdh.X25519().NewPrivateKey(seed)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: derive client key: %v", errs.ErrCryptoFailure, err)
	}
	authKey, err := expand(sha256.New, rwd, concat(nonce, []byte("AuthKey")), 32)
	if err != nil {
		return nil, nil, err
	}
	return priv, authKey, nil
}

func envelopeTag(authKey, nonce, clientPub, serverPub []byte) []byte {
	return mac(authKey, nonce, clientPub, serverPub)
}

package opaque

import (
	"crypto/sha256"

	"golang.org/x/crypto/hkdf"
)

type keySchedule struct {
	serverMACKey []byte
	clientMACKey []byte
	sessionKey   []byte
	transcript   []byte
}

func (k *keySchedule) wipe() {
	wipe(k.serverMACKey)
	wipe(k.clientMACKey)
	wipe(k.sessionKey)
}

// transcriptHash binds the identifier, the login request and the server
// response (without its MAC).
func transcriptHash(identifier string, request, response []byte) []byte {
	h := sha256.New()
	h.Write([]byte(dst3DH))
	writeLP(h, []byte(identifier))
	writeLP(h, request)
	writeLP(h, response)
	return h.Sum(nil)
}

func deriveKeySchedule(dh1, dh2, dh3, transcript []byte) (*keySchedule, error) {
	ikm := concat(dh1, dh2, dh3)
	defer wipe(ikm)
	prk := hkdf.Extract(sha256.New, ikm, []byte(dst3DH))
	defer wipe(prk)

	ks := &keySchedule{transcript: transcript}
	var err error
	if ks.serverMACKey, err = expand(sha256.New, prk, concat([]byte("ServerMAC"), transcript), MACSize); err != nil {
		return nil, err
	}
	if ks.clientMACKey, err = expand(sha256.New, prk, concat([]byte("ClientMAC"), transcript), MACSize); err != nil {
		return nil, err
	}
	if ks.sessionKey, err = expand(sha256.New, prk, concat([]byte("SessionKey"), transcript), SessionKeyLen); err != nil {
		return nil, err
	}
	return ks, nil
}

func (k *keySchedule) serverMAC() []byte {
	return mac(k.serverMACKey, k.transcript)
}

func (k *keySchedule) clientMAC(serverMAC []byte) []byte {
	return mac(k.clientMACKey, k.transcript, serverMAC)
}

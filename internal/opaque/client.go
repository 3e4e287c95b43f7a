package opaque

import (
	"crypto/ecdh"
	"crypto/subtle"
	"fmt"
	"io"

	"github.com/gtank/ristretto255"

	"github.com/atinyakov/tagkeeper/internal/errs"
)

// ClientRegistration is the client-side state between registration start and finish.
type ClientRegistration struct {
	phrase []byte
	blind  *ristretto255.Scalar
	ksf    KSF
	rnd    io.Reader
}

// NewClientRegistration blinds phrase with fresh randomness. The phrase is
// copied; the caller may wipe its own buffer immediately.
func NewClientRegistration(phrase []byte, ksf KSF, rnd io.Reader) (*ClientRegistration, *RegistrationRequest, error) {
	r, blinded, err := blind(phrase, rnd)
	if err != nil {
		return nil, nil, err
	}
	st := &ClientRegistration{
		phrase: append([]byte(nil), phrase...),
		blind:  r,
		ksf:    ksf,
		rnd:    rnd,
	}
	return st, &RegistrationRequest{BlindedElement: blinded.Encode(nil)}, nil
}

// Finish builds the registration record from the server's response. The
// state is wiped whether or not it succeeds.
func (c *ClientRegistration) Finish(resp *RegistrationResponse) (*RegistrationRecord, error) {
	defer c.Wipe()
	if c.blind == nil {
		return nil, fmt.Errorf("%w: registration already finished", errs.ErrProtocolMismatch)
	}
	evaluated, err := decodeElement(resp.EvaluatedElement)
	if err != nil {
		return nil, err
	}
	if len(resp.ServerPublicKey) != PublicKeySize {
		return nil, fmt.Errorf("%w: server public key length", errs.ErrProtocolMismatch)
	}

	out := finalize(c.phrase, c.blind, evaluated)
	defer wipe(out)
	rwd := c.ksf.randomizedPassword(out)
	defer wipe(rwd)

	nonce, err := randomBytes(c.rnd, NonceSize)
	if err != nil {
		return nil, err
	}
	priv, authKey, err := envelopeKeys(rwd, nonce)
	if err != nil {
		return nil, err
	}
	defer wipe(authKey)
	clientPub := priv.PublicKey().Bytes()

	return &RegistrationRecord{
		ClientPublicKey: clientPub,
		EnvelopeNonce:   nonce,
		AuthTag:         envelopeTag(authKey, nonce, clientPub, resp.ServerPublicKey),
	}, nil
}

// Wipe zeroizes the phrase copy and the blinding scalar.
func (c *ClientRegistration) Wipe() {
	wipe(c.phrase)
	c.phrase = nil
	wipeScalar(c.blind)
	c.blind = nil
}

// ClientLogin is the client-side state between login start and finish.
type ClientLogin struct {
	identifier string
	phrase     []byte
	blind      *ristretto255.Scalar
	ephemeral  *ecdh.PrivateKey
	request    []byte
	ksf        KSF
}

// NewClientLogin blinds phrase and creates a fresh ephemeral key and nonce.
// identifier must be the server's credential identifier (the tag ID).
func NewClientLogin(identifier string, phrase []byte, ksf KSF, rnd io.Reader) (*ClientLogin, *LoginRequest, error) {
	r, blinded, err := blind(phrase, rnd)
	if err != nil {
		return nil, nil, err
	}
	eph, err := ecdh.X25519().GenerateKey(rnd)
	if err != nil {
		wipeScalar(r)
		return nil, nil, fmt.Errorf("%w: ephemeral key: %v", errs.ErrCryptoFailure, err)
	}
	nonce, err := randomBytes(rnd, NonceSize)
	if err != nil {
		wipeScalar(r)
		return nil, nil, err
	}
	req := &LoginRequest{
		BlindedElement:  blinded.Encode(nil),
		ClientNonce:     nonce,
		ClientEphemeral: eph.PublicKey().Bytes(),
	}
	st := &ClientLogin{
		identifier: identifier,
		phrase:     append([]byte(nil), phrase...),
		blind:      r,
		ephemeral:  eph,
		request:    req.Bytes(),
		ksf:        ksf,
	}
	return st, req, nil
}

// Finish verifies the server response and returns the session key and the
// key confirmation to send back. A wrong phrase and an unknown tag both
// yield errs.ErrAuthenticationFailed after the same amount of work.
func (c *ClientLogin) Finish(resp *LoginResponse) ([]byte, *LoginFinish, error) {
	defer c.Wipe()
	if c.blind == nil {
		return nil, nil, fmt.Errorf("%w: login already finished", errs.ErrProtocolMismatch)
	}
	evaluated, err := decodeElement(resp.EvaluatedElement)
	if err != nil {
		return nil, nil, err
	}
	serverStatic, err := ecdh.X25519().NewPublicKey(resp.ServerPublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: server public key", errs.ErrProtocolMismatch)
	}
	serverEph, err := ecdh.X25519().NewPublicKey(resp.ServerEphemeral)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: server ephemeral key", errs.ErrProtocolMismatch)
	}

	out := finalize(c.phrase, c.blind, evaluated)
	defer wipe(out)
	rwd := c.ksf.randomizedPassword(out)
	defer wipe(rwd)

	priv, authKey, err := envelopeKeys(rwd, resp.EnvelopeNonce)
	if err != nil {
		return nil, nil, err
	}
	defer wipe(authKey)
	expectedTag := envelopeTag(authKey, resp.EnvelopeNonce, priv.PublicKey().Bytes(), resp.ServerPublicKey)
	envelopeOK := subtle.ConstantTimeCompare(expectedTag, resp.AuthTag)

	dh1, err1 := c.ephemeral.ECDH(serverEph)
	dh2, err2 := c.ephemeral.ECDH(serverStatic)
	dh3, err3 := priv.ECDH(serverEph)
	defer wipe(dh1)
	defer wipe(dh2)
	defer wipe(dh3)
	if err1 != nil || err2 != nil || err3 != nil {
		return nil, nil, errs.ErrAuthenticationFailed
	}

	ks, err := deriveKeySchedule(dh1, dh2, dh3, transcriptHash(c.identifier, c.request, resp.unauthenticated()))
	if err != nil {
		return nil, nil, err
	}
	defer ks.wipe()
	macOK := subtle.ConstantTimeCompare(ks.serverMAC(), resp.ServerMAC)
	if envelopeOK&macOK != 1 {
		return nil, nil, errs.ErrAuthenticationFailed
	}

	fin := &LoginFinish{ClientMAC: ks.clientMAC(resp.ServerMAC)}
	return append([]byte(nil), ks.sessionKey...), fin, nil
}

// Wipe zeroizes the phrase copy and the blinding scalar and drops the
// ephemeral key.
func (c *ClientLogin) Wipe() {
	wipe(c.phrase)
	c.phrase = nil
	wipeScalar(c.blind)
	c.blind = nil
	c.ephemeral = nil
}

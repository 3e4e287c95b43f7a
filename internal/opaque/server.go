package opaque

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/atinyakov/tagkeeper/internal/errs"
)

// MinSeedSize is the minimum length of a server master seed.
const MinSeedSize = 32

// Server holds the server-side keys: the OPRF seed, the static AKE key pair
// and the seed for fake records served for unknown identifiers.
type Server struct {
	oprfSeed []byte
	fakeSeed []byte
	priv     *ecdh.PrivateKey
	rnd      io.Reader
}

// GenerateSeed returns a fresh random master seed.
func GenerateSeed() ([]byte, error) {
	return randomBytes(rand.Reader, MinSeedSize)
}

// NewServer derives all server keys from a master seed so that a restart
// with the same seed keeps existing registrations valid.
func NewServer(seed []byte) (*Server, error) {
	if len(seed) < MinSeedSize {
		return nil, fmt.Errorf("%w: server seed must be at least %d bytes", errs.ErrInvalidInput, MinSeedSize)
	}
	prk := hkdf.Extract(sha256.New, seed, []byte("tagkeeper-v1-server"))
	defer wipe(prk)

	oprfSeed, err := expand(sha256.New, prk, []byte("OprfSeed"), 64)
	if err != nil {
		return nil, err
	}
	fakeSeed, err := expand(sha256.New, prk, []byte("FakeSeed"), 32)
	if err != nil {
		return nil, err
	}
	static, err := expand(sha256.New, prk, []byte("StaticKey"), 32)
	if err != nil {
		return nil, err
	}
	defer wipe(static)
	priv, err := ecdh.X25519().NewPrivateKey(static)
	if err != nil {
		return nil, fmt.Errorf("%w: static key: %v", errs.ErrCryptoFailure, err)
	}
	return &Server{oprfSeed: oprfSeed, fakeSeed: fakeSeed, priv: priv, rnd: rand.Reader}, nil
}

// PublicKey returns the server's static public key.
func (s *Server) PublicKey() []byte {
	return s.priv.PublicKey().Bytes()
}

// Register evaluates a registration request for identifier.
func (s *Server) Register(identifier string, req *RegistrationRequest) (*RegistrationResponse, error) {
	blinded, err := decodeElement(req.BlindedElement)
	if err != nil {
		return nil, err
	}
	key, err := deriveOPRFKey(s.oprfSeed, identifier)
	if err != nil {
		return nil, err
	}
	defer wipeScalar(key)
	return &RegistrationResponse{
		EvaluatedElement: evaluate(key, blinded).Encode(nil),
		ServerPublicKey:  s.PublicKey(),
	}, nil
}

// ServerLogin is the server-side state between login start and finish.
type ServerLogin struct {
	expectedMAC []byte
	sessionKey  []byte
}

// StartLogin answers a login request. A nil record means the identifier is
// unknown; a deterministic fake record is used so the response has the same
// shape and cost as for a real one.
func (s *Server) StartLogin(identifier string, record *RegistrationRecord, req *LoginRequest) (*LoginResponse, *ServerLogin, error) {
	if record == nil {
		var err error
		if record, err = s.fakeRecord(identifier); err != nil {
			return nil, nil, err
		}
	}
	blinded, err := decodeElement(req.BlindedElement)
	if err != nil {
		return nil, nil, err
	}
	clientEph, err := ecdh.X25519().NewPublicKey(req.ClientEphemeral)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: client ephemeral key", errs.ErrProtocolMismatch)
	}
	clientStatic, err := ecdh.X25519().NewPublicKey(record.ClientPublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: client public key", errs.ErrProtocolMismatch)
	}

	key, err := deriveOPRFKey(s.oprfSeed, identifier)
	if err != nil {
		return nil, nil, err
	}
	defer wipeScalar(key)

	eph, err := ecdh.X25519().GenerateKey(s.rnd)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: ephemeral key: %v", errs.ErrCryptoFailure, err)
	}
	nonce, err := randomBytes(s.rnd, NonceSize)
	if err != nil {
		return nil, nil, err
	}
	resp := &LoginResponse{
		EvaluatedElement: evaluate(key, blinded).Encode(nil),
		ServerPublicKey:  s.PublicKey(),
		EnvelopeNonce:    append([]byte(nil), record.EnvelopeNonce...),
		AuthTag:          append([]byte(nil), record.AuthTag...),
		ServerNonce:      nonce,
		ServerEphemeral:  eph.PublicKey().Bytes(),
	}

	dh1, err1 := eph.ECDH(clientEph)
	dh2, err2 := s.priv.ECDH(clientEph)
	dh3, err3 := eph.ECDH(clientStatic)
	defer wipe(dh1)
	defer wipe(dh2)
	defer wipe(dh3)
	if err1 != nil || err2 != nil || err3 != nil {
		return nil, nil, fmt.Errorf("%w: low-order client key", errs.ErrProtocolMismatch)
	}

	ks, err := deriveKeySchedule(dh1, dh2, dh3, transcriptHash(identifier, req.Bytes(), resp.unauthenticated()))
	if err != nil {
		return nil, nil, err
	}
	defer ks.wipe()
	resp.ServerMAC = ks.serverMAC()

	st := &ServerLogin{
		expectedMAC: ks.clientMAC(resp.ServerMAC),
		sessionKey:  append([]byte(nil), ks.sessionKey...),
	}
	return resp, st, nil
}

// Finish checks the client's key confirmation and returns the session key.
func (l *ServerLogin) Finish(fin *LoginFinish) ([]byte, error) {
	defer l.Wipe()
	if l.expectedMAC == nil {
		return nil, errs.ErrAuthenticationFailed
	}
	if subtle.ConstantTimeCompare(l.expectedMAC, fin.ClientMAC) != 1 {
		return nil, errs.ErrAuthenticationFailed
	}
	return append([]byte(nil), l.sessionKey...), nil
}

// Wipe zeroizes the pending state.
func (l *ServerLogin) Wipe() {
	wipe(l.expectedMAC)
	wipe(l.sessionKey)
	l.expectedMAC = nil
	l.sessionKey = nil
}

func (s *Server) fakeRecord(identifier string) (*RegistrationRecord, error) {
	info := func(label string) []byte { return concat([]byte(label), []byte(identifier)) }

	seed, err := expand(sha256.New, s.fakeSeed, info("FakeKey"), 32)
	if err != nil {
		return nil, err
	}
	defer wipe(seed)
	priv, err := ecdh.X25519().NewPrivateKey(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: fake key: %v", errs.ErrCryptoFailure, err)
	}
	nonce, err := expand(sha256.New, s.fakeSeed, info("FakeNonce"), NonceSize)
	if err != nil {
		return nil, err
	}
	tag, err := expand(sha256.New, s.fakeSeed, info("FakeTag"), MACSize)
	if err != nil {
		return nil, err
	}
	return &RegistrationRecord{ClientPublicKey: priv.PublicKey().Bytes(), EnvelopeNonce: nonce, AuthTag: tag}, nil
}

package opaque

import (
	"encoding/base64"
	"fmt"

	"github.com/atinyakov/tagkeeper/internal/errs"
)

// EncodeMessage returns the unpadded base64url form of a binary message.
func EncodeMessage(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeMessage validates and decodes an unpadded base64url payload.
func DecodeMessage(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty message", errs.ErrDecode)
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDecode, err)
	}
	return b, nil
}

// split cuts b into fields of the given sizes; the total must match exactly.
func split(b []byte, sizes ...int) ([][]byte, error) {
	total := 0
	for _, s := range sizes {
		total += s
	}
	if len(b) != total {
		return nil, fmt.Errorf("%w: message length %d, want %d", errs.ErrProtocolMismatch, len(b), total)
	}
	out := make([][]byte, len(sizes))
	off := 0
	for i, s := range sizes {
		out[i] = append([]byte(nil), b[off:off+s]...)
		off += s
	}
	return out, nil
}

// RegistrationRequest is the client's first registration message.
type RegistrationRequest struct {
	BlindedElement []byte
}

func (m *RegistrationRequest) Bytes() []byte { return concat(m.BlindedElement) }
func (m *RegistrationRequest) Encode() string { return EncodeMessage(m.Bytes()) }

// ParseRegistrationRequest parses the binary form.
func ParseRegistrationRequest(b []byte) (*RegistrationRequest, error) {
	f, err := split(b, ElementSize)
	if err != nil {
		return nil, err
	}
	if _, err := decodeElement(f[0]); err != nil {
		return nil, err
	}
	return &RegistrationRequest{BlindedElement: f[0]}, nil
}

// DecodeRegistrationRequest parses the base64url form.
func DecodeRegistrationRequest(s string) (*RegistrationRequest, error) {
	b, err := DecodeMessage(s)
	if err != nil {
		return nil, err
	}
	return ParseRegistrationRequest(b)
}

// RegistrationResponse is the server's registration reply.
type RegistrationResponse struct {
	EvaluatedElement []byte
	ServerPublicKey  []byte
}

func (m *RegistrationResponse) Bytes() []byte {
	return concat(m.EvaluatedElement, m.ServerPublicKey)
}
func (m *RegistrationResponse) Encode() string { return EncodeMessage(m.Bytes()) }

// ParseRegistrationResponse parses the binary form.
func ParseRegistrationResponse(b []byte) (*RegistrationResponse, error) {
	f, err := split(b, ElementSize, PublicKeySize)
	if err != nil {
		return nil, err
	}
	if _, err := decodeElement(f[0]); err != nil {
		return nil, err
	}
	return &RegistrationResponse{EvaluatedElement: f[0], ServerPublicKey: f[1]}, nil
}

// DecodeRegistrationResponse parses the base64url form.
func DecodeRegistrationResponse(s string) (*RegistrationResponse, error) {
	b, err := DecodeMessage(s)
	if err != nil {
		return nil, err
	}
	return ParseRegistrationResponse(b)
}

// RegistrationRecord is stored by the server. It holds nothing from which
// the phrase can be recovered.
type RegistrationRecord struct {
	ClientPublicKey []byte
	EnvelopeNonce   []byte
	AuthTag         []byte
}

func (m *RegistrationRecord) Bytes() []byte {
	return concat(m.ClientPublicKey, m.EnvelopeNonce, m.AuthTag)
}
func (m *RegistrationRecord) Encode() string { return EncodeMessage(m.Bytes()) }

// ParseRegistrationRecord parses the binary form.
func ParseRegistrationRecord(b []byte) (*RegistrationRecord, error) {
	f, err := split(b, PublicKeySize, NonceSize, MACSize)
	if err != nil {
		return nil, err
	}
	return &RegistrationRecord{ClientPublicKey: f[0], EnvelopeNonce: f[1], AuthTag: f[2]}, nil
}

// DecodeRegistrationRecord parses the base64url form.
func DecodeRegistrationRecord(s string) (*RegistrationRecord, error) {
	b, err := DecodeMessage(s)
	if err != nil {
		return nil, err
	}
	return ParseRegistrationRecord(b)
}

// LoginRequest is the client's first login message.
type LoginRequest struct {
	BlindedElement  []byte
	ClientNonce     []byte
	ClientEphemeral []byte
}

func (m *LoginRequest) Bytes() []byte {
	return concat(m.BlindedElement, m.ClientNonce, m.ClientEphemeral)
}
func (m *LoginRequest) Encode() string { return EncodeMessage(m.Bytes()) }

// ParseLoginRequest parses the binary form.
func ParseLoginRequest(b []byte) (*LoginRequest, error) {
	f, err := split(b, ElementSize, NonceSize, PublicKeySize)
	if err != nil {
		return nil, err
	}
	if _, err := decodeElement(f[0]); err != nil {
		return nil, err
	}
	return &LoginRequest{BlindedElement: f[0], ClientNonce: f[1], ClientEphemeral: f[2]}, nil
}

// DecodeLoginRequest parses the base64url form.
func DecodeLoginRequest(s string) (*LoginRequest, error) {
	b, err := DecodeMessage(s)
	if err != nil {
		return nil, err
	}
	return ParseLoginRequest(b)
}

// LoginResponse is the server's credential response plus its AKE message.
type LoginResponse struct {
	EvaluatedElement []byte
	ServerPublicKey  []byte
	EnvelopeNonce    []byte
	AuthTag          []byte
	ServerNonce      []byte
	ServerEphemeral  []byte
	ServerMAC        []byte
}

// unauthenticated returns every field except the MAC, as covered by the transcript.
func (m *LoginResponse) unauthenticated() []byte {
	return concat(m.EvaluatedElement, m.ServerPublicKey, m.EnvelopeNonce, m.AuthTag, m.ServerNonce, m.ServerEphemeral)
}

func (m *LoginResponse) Bytes() []byte  { return concat(m.unauthenticated(), m.ServerMAC) }
func (m *LoginResponse) Encode() string { return EncodeMessage(m.Bytes()) }

// ParseLoginResponse parses the binary form.
func ParseLoginResponse(b []byte) (*LoginResponse, error) {
	f, err := split(b, ElementSize, PublicKeySize, NonceSize, MACSize, NonceSize, PublicKeySize, MACSize)
	if err != nil {
		return nil, err
	}
	if _, err := decodeElement(f[0]); err != nil {
		return nil, err
	}
	return &LoginResponse{
		EvaluatedElement: f[0],
		ServerPublicKey:  f[1],
		EnvelopeNonce:    f[2],
		AuthTag:          f[3],
		ServerNonce:      f[4],
		ServerEphemeral:  f[5],
		ServerMAC:        f[6],
	}, nil
}

// DecodeLoginResponse parses the base64url form.
func DecodeLoginResponse(s string) (*LoginResponse, error) {
	b, err := DecodeMessage(s)
	if err != nil {
		return nil, err
	}
	return ParseLoginResponse(b)
}

// LoginFinish is the client's key confirmation.
type LoginFinish struct {
	ClientMAC []byte
}

func (m *LoginFinish) Bytes() []byte  { return concat(m.ClientMAC) }
func (m *LoginFinish) Encode() string { return EncodeMessage(m.Bytes()) }

// ParseLoginFinish parses the binary form.
func ParseLoginFinish(b []byte) (*LoginFinish, error) {
	f, err := split(b, MACSize)
	if err != nil {
		return nil, err
	}
	return &LoginFinish{ClientMAC: f[0]}, nil
}

// DecodeLoginFinish parses the base64url form.
func DecodeLoginFinish(s string) (*LoginFinish, error) {
	b, err := DecodeMessage(s)
	if err != nil {
		return nil, err
	}
	return ParseLoginFinish(b)
}

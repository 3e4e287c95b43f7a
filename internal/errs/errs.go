// Package errs defines the sentinel errors shared by the secret-tag client,
// its cache and the reference server. Callers match them with errors.Is;
// producers wrap them with fmt.Errorf("...: %w", ...) to keep context.
package errs

import "errors"

// Input errors are detected client-side before any network call.
var (
	// ErrInvalidInput indicates a phrase, name or parameter violates length or format rules.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDisallowedPhrase indicates the activation phrase is a common word.
	ErrDisallowedPhrase = errors.New("activation phrase is too common")

	// ErrDuplicateName indicates a tag with the same name (ignoring case) already exists.
	ErrDuplicateName = errors.New("tag name already in use")
)

// Cryptographic and protocol errors always reach the caller.
var (
	// ErrCryptoFailure indicates the platform could not perform a required primitive.
	ErrCryptoFailure = errors.New("cryptographic primitive unavailable")

	// ErrProtocolMismatch indicates a structurally malformed protocol message or a missing attempt.
	ErrProtocolMismatch = errors.New("protocol message mismatch")

	// ErrDecode indicates a payload was not valid base64url or JSON.
	ErrDecode = errors.New("invalid message encoding")

	// ErrAuthenticationFailed covers both a wrong phrase and an unknown tag.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrDecryptionFailed indicates content could not be opened.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// Session and storage errors.
var (
	// ErrSessionNotActive indicates the session is absent, locked or expired.
	ErrSessionNotActive = errors.New("session not active")

	// ErrNotFound indicates the requested tag or session does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCacheCorrupted indicates persisted cache data could not be deserialized.
	ErrCacheCorrupted = errors.New("cache corrupted")

	// ErrNetworkUnavailable indicates the server could not be reached.
	ErrNetworkUnavailable = errors.New("network unavailable")

	// ErrRateLimited indicates the server refused the call because of too many attempts.
	ErrRateLimited = errors.New("too many attempts")
)

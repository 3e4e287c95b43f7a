// Package opaque implements an OPAQUE-style asymmetric password-authenticated
// key exchange used to register and unlock secret tags.
//
// # Protocol
//
// Registration and login are both two-message exchanges:
//
//  1. The client blinds H(phrase) with a fresh random scalar and sends the
//     blinded element. The server evaluates it with a per-credential OPRF key
//     and never learns the phrase.
//  2. The client unblinds the evaluation, stretches it with Argon2id into the
//     randomized password rwd, and derives its static X25519 key and an
//     envelope auth key from rwd and a random envelope nonce.
//
// The registration record uploaded to the server holds the client public key,
// the envelope nonce and the envelope auth tag. None of them lets the server
// test phrase guesses offline without the client's cooperation.
//
// Login runs the same OPRF step together with a 3DH key exchange
// (ephemeral/ephemeral, ephemeral/server-static, client-static/ephemeral).
// The client checks the envelope and the server MAC in constant time and
// performs the same amount of work whichever one fails, so a wrong phrase and
// an unknown tag look the same. The session key comes out of the same key
// schedule and is never transmitted.
//
// # Encoding
//
// Every message has a fixed binary layout. On the wire it is carried as
// unpadded base64url; Decode* functions reject bad encodings with
// errs.ErrDecode before parsing, and reject bad layouts or invalid group
// elements with errs.ErrProtocolMismatch.
//
// The Server half exists for the reference server and for tests.
package opaque

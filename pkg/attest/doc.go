// Package attest implements a minimal proof-of-possession protocol.
//
// A holder fetches a nonce, generates an ephemeral P-256 key and signs an
// ES256 JWT whose protected header embeds the public key as "jwk" and whose
// payload carries the nonce. The Verifier checks the signature against the
// embedded key and consumes the nonce exactly once.
//
// The key is self-asserted: a successful verification proves possession of
// the private key, not the identity of whoever holds it.
//
// Verification runs in a fixed order and never touches the nonce before the
// signature is known to be valid:
//
//	structure -> header -> key -> signature -> nonce claim -> nonce consumption
package attest

package attest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/gematik/zero-pop/pkg/util"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/segmentio/ksuid"
)

const (
	// Algorithm is the only signing algorithm accepted and produced.
	Algorithm = jwa.ES256

	TokenType      = "JWT"
	HeaderKeyField = "jwk"
	NonceClaim     = "nonce"
)

type PrivateKey struct {
	JwkPrivate jwk.Key
	JwkPublic  jwk.Key
	Thumbprint string
}

// Creates a new ephemeral P-256 key pair. The private half never leaves
// the holder.
func NewPrivateKey() (*PrivateKey, error) {
	rawKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	key, err := jwk.FromRaw(rawKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWK: %w", err)
	}
	publicKey, err := key.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("failed to create public key: %w", err)
	}
	thumbprint, err := (&util.Jwk{Key: publicKey}).ThumbprintString(crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("failed to compute thumbprint: %w", err)
	}

	return &PrivateKey{JwkPrivate: key, JwkPublic: publicKey, Thumbprint: thumbprint}, nil
}

// Creates the payload of an attestation token for the given nonce.
func NewToken(nonce string) (jwt.Token, error) {
	if nonce == "" {
		return nil, fmt.Errorf("nonce is required")
	}
	token := jwt.New()
	if err := token.Set(NonceClaim, nonce); err != nil {
		return nil, err
	}
	if err := token.Set(jwt.JwtIDKey, ksuid.New().String()); err != nil {
		return nil, err
	}
	if err := token.Set(jwt.IssuedAtKey, time.Now()); err != nil {
		return nil, err
	}
	return token, nil
}

// Signs the token with the private key and embeds the matching public key
// in the protected header. Returns the compact serialization.
func SignToken(token jwt.Token, privateKey *PrivateKey) (string, error) {
	return signWithEmbeddedKey(token, privateKey.JwkPrivate, privateKey.JwkPublic)
}

func signWithEmbeddedKey(token jwt.Token, signingKey jwk.Key, embeddedKey jwk.Key) (string, error) {
	headers := jws.NewHeaders()
	if err := headers.Set(jws.TypeKey, TokenType); err != nil {
		return "", err
	}
	if err := headers.Set(jws.JWKKey, embeddedKey); err != nil {
		return "", err
	}

	signed, err := jwt.Sign(
		token,
		jwt.WithKey(Algorithm, signingKey, jws.WithProtectedHeaders(headers)),
	)
	if err != nil {
		return "", fmt.Errorf("unable to sign token: %w", err)
	}
	return string(signed), nil
}

package attest

import (
	"crypto"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/gematik/zero-pop/pkg/nonce"
	"github.com/gematik/zero-pop/pkg/util"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const DefaultMaxTokenSize = 8 * 1024

// Attestation is the result of a successful verification.
type Attestation struct {
	Nonce         string
	Key           jwk.Key
	KeyThumbprint string
	Claims        jwt.Token
}

type Verifier struct {
	nonces       nonce.Service
	maxTokenSize int
}

type VerifierOption func(*Verifier)

// WithMaxTokenSize bounds the raw token length. Zero or less keeps the default.
func WithMaxTokenSize(size int) VerifierOption {
	return func(v *Verifier) {
		if size > 0 {
			v.maxTokenSize = size
		}
	}
}

func NewVerifier(nonces nonce.Service, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		nonces:       nonces,
		maxTokenSize: DefaultMaxTokenSize,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Verifier) MaxTokenSize() int {
	return v.maxTokenSize
}

// Verify checks the token and consumes its nonce. The nonce is consumed
// only if every preceding check passed; on any error the registry is left
// untouched.
func (v *Verifier) Verify(raw string) (*Attestation, error) {
	token := strings.TrimSpace(raw)

	parts, err := v.splitToken(token)
	if err != nil {
		return nil, err
	}
	slog.Debug("verifying attestation", "token", util.JWSToText(token))

	header, alg, err := decodeHeader(parts[0])
	if err != nil {
		return nil, err
	}

	key, err := extractKey(header, alg)
	if err != nil {
		return nil, err
	}

	payload, err := jws.Verify([]byte(token), jws.WithKey(Algorithm, key))
	if err != nil {
		return nil, newError(KindSignatureInvalid, "unable to verify token", err)
	}
	claims := jwt.New()
	if err := json.Unmarshal(payload, claims); err != nil {
		return nil, newError(KindSignatureInvalid, "unable to decode payload", err)
	}

	nonceStr, err := nonceClaim(claims)
	if err != nil {
		return nil, err
	}

	thumbprint, err := (&util.Jwk{Key: key}).ThumbprintString(crypto.SHA256)
	if err != nil {
		return nil, newError(KindInvalidKey, "unable to compute JWK thumbprint", err)
	}

	if !v.nonces.Consume(nonceStr) {
		return nil, newError(KindNonceInvalidOrReused, "invalid or reused nonce", nil)
	}

	slog.Info("attestation verified", "thumbprint", thumbprint)

	return &Attestation{
		Nonce:         nonceStr,
		Key:           key,
		KeyThumbprint: thumbprint,
		Claims:        claims,
	}, nil
}

func (v *Verifier) splitToken(token string) ([]string, error) {
	if len(token) > v.maxTokenSize {
		return nil, newError(KindMalformedToken, "token exceeds maximum size", nil)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, newError(KindMalformedToken, "JWT must have 3 parts", nil)
	}
	for _, part := range parts {
		if part == "" {
			return nil, newError(KindMalformedToken, "JWT parts cannot be empty", nil)
		}
		if _, err := base64.RawURLEncoding.DecodeString(part); err != nil {
			return nil, newError(KindMalformedToken, "Base64 decode error", err)
		}
	}
	return parts, nil
}

// decodeHeader returns the protected header and its alg value.
func decodeHeader(encoded string) (map[string]json.RawMessage, string, error) {
	headerBytes, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", newError(KindMalformedToken, "Base64 decode error", err)
	}
	var header map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, "", newError(KindMalformedToken, "JSON decode error", err)
	}
	if header == nil {
		return nil, "", newError(KindMalformedToken, "header is not a JSON object", nil)
	}
	var alg string
	if err := json.Unmarshal(header[jws.AlgorithmKey], &alg); err != nil || alg == "" {
		return nil, "", newError(KindMalformedToken, "alg missing in header", err)
	}
	return header, alg, nil
}

// extractKey returns the embedded public key. The header alg is only
// compared against Algorithm, it never selects the primitive.
func extractKey(header map[string]json.RawMessage, alg string) (jwk.Key, error) {
	rawKey, ok := header[HeaderKeyField]
	if !ok || string(rawKey) == "null" {
		return nil, newError(KindMissingKey, "JWK missing in header", nil)
	}
	if !strings.HasPrefix(strings.TrimSpace(string(rawKey)), "{") {
		return nil, newError(KindMissingKey, "JWK is not a JSON object", nil)
	}

	key, err := jwk.ParseKey(rawKey)
	if err != nil {
		return nil, newError(KindInvalidKey, "failed to parse JWK", err)
	}
	if _, ok := key.(jwk.ECDSAPrivateKey); ok {
		return nil, newError(KindInvalidKey, "JWK must not contain private key material", nil)
	}
	ecKey, ok := key.(jwk.ECDSAPublicKey)
	if !ok {
		return nil, newError(KindInvalidKey, "JWK must be an EC public key", nil)
	}
	if ecKey.Crv() != jwa.P256 {
		return nil, newError(KindInvalidKey, "JWK curve must be P-256", nil)
	}

	if alg != Algorithm.String() {
		return nil, newError(KindInvalidKey, "unsupported algorithm "+alg+", expected "+Algorithm.String(), nil)
	}
	return key, nil
}

func nonceClaim(claims jwt.Token) (string, error) {
	value, ok := claims.Get(NonceClaim)
	if !ok {
		return "", newError(KindMissingNonceClaim, "nonce not found in claims", nil)
	}
	nonceStr, ok := value.(string)
	if !ok || nonceStr == "" {
		return "", newError(KindMissingNonceClaim, "nonce claim is not a string", nil)
	}
	return nonceStr, nil
}

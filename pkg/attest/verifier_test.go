package attest_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/gematik/zero-pop/pkg/attest"
	"github.com/gematik/zero-pop/pkg/nonce"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingService records Consume calls to prove failed checks never reach
// the registry.
type countingService struct {
	nonce.Service
	consumeCalls int
}

func (c *countingService) Consume(candidate string) bool {
	c.consumeCalls++
	return c.Service.Consume(candidate)
}

func newVerifier(t *testing.T) (*attest.Verifier, *countingService) {
	t.Helper()
	service := &countingService{Service: nonce.NewRegistry()}
	return attest.NewVerifier(service), service
}

func issue(t *testing.T, service nonce.Service) string {
	t.Helper()
	value, err := service.Issue()
	require.NoError(t, err)
	return value
}

func newKey(t *testing.T) *attest.PrivateKey {
	t.Helper()
	key, err := attest.NewPrivateKey()
	require.NoError(t, err)
	return key
}

func signedToken(t *testing.T, nonceStr string, key *attest.PrivateKey) string {
	t.Helper()
	token, err := attest.NewToken(nonceStr)
	require.NoError(t, err)
	signed, err := attest.SignToken(token, key)
	require.NoError(t, err)
	return signed
}

// signWithHeaders signs claims with signingKey using the given protected headers.
func signWithHeaders(t *testing.T, claims jwt.Token, signingKey jwk.Key, headers map[string]interface{}) string {
	t.Helper()
	protected := jws.NewHeaders()
	for name, value := range headers {
		require.NoError(t, protected.Set(name, value))
	}
	signed, err := jwt.Sign(claims, jwt.WithKey(jwa.ES256, signingKey, jws.WithProtectedHeaders(protected)))
	require.NoError(t, err)
	return string(signed)
}

func encodeSegment(t *testing.T, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(data)
}

func TestVerifyRoundTrip(t *testing.T) {
	verifier, service := newVerifier(t)
	nonceStr := issue(t, service)
	key := newKey(t)
	token := signedToken(t, nonceStr, key)

	attestation, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, nonceStr, attestation.Nonce)
	assert.Equal(t, key.Thumbprint, attestation.KeyThumbprint)
	_, hasJti := attestation.Claims.Get(jwt.JwtIDKey)
	assert.True(t, hasJti)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, attest.ErrNonceInvalidOrReused)
	assert.Equal(t, "invalid or reused nonce", err.Error())
}

func TestVerifyTrimsWhitespace(t *testing.T) {
	verifier, service := newVerifier(t)
	token := signedToken(t, issue(t, service), newKey(t))

	_, err := verifier.Verify("  " + token + "\n")
	require.NoError(t, err)
}

func TestVerifyTwoPartsIsMalformed(t *testing.T) {
	verifier, service := newVerifier(t)
	nonceStr := issue(t, service)
	token := signedToken(t, nonceStr, newKey(t))
	parts := strings.Split(token, ".")

	_, err := verifier.Verify(parts[0] + "." + parts[1])
	assert.ErrorIs(t, err, attest.ErrMalformedToken)
	assert.Equal(t, "JWT must have 3 parts", err.Error())
	assert.Zero(t, service.consumeCalls)

	// the nonce is still outstanding
	_, err = verifier.Verify(token)
	assert.NoError(t, err)
}

func TestVerifyMalformed(t *testing.T) {
	validHeader := encodeSegment(t, map[string]interface{}{"alg": "ES256", "typ": "JWT"})
	payload := encodeSegment(t, map[string]interface{}{"nonce": "n"})

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"one part", "abc"},
		{"four parts", "a.b.c.d"},
		{"empty segment", validHeader + "." + "." + "c2ln"},
		{"invalid base64", "***." + payload + ".c2ln"},
		{"header not json", base64.RawURLEncoding.EncodeToString([]byte("not json")) + "." + payload + ".c2ln"},
		{"header not object", encodeSegment(t, []string{"ES256"}) + "." + payload + ".c2ln"},
		{"header without alg", encodeSegment(t, map[string]string{"typ": "JWT"}) + "." + payload + ".c2ln"},
		{"alg not a string", encodeSegment(t, map[string]interface{}{"alg": 256}) + "." + payload + ".c2ln"},
		{"alg empty", encodeSegment(t, map[string]interface{}{"alg": ""}) + "." + payload + ".c2ln"},
		{"too large", validHeader + "." + strings.Repeat("A", attest.DefaultMaxTokenSize) + ".c2ln"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier, service := newVerifier(t)
			_, err := verifier.Verify(tt.token)
			assert.ErrorIs(t, err, attest.ErrMalformedToken)
			assert.Zero(t, service.consumeCalls)
		})
	}
}

func TestVerifyMaxTokenSizeOption(t *testing.T) {
	service := nonce.NewRegistry()
	verifier := attest.NewVerifier(service, attest.WithMaxTokenSize(64))
	assert.Equal(t, 64, verifier.MaxTokenSize())

	_, err := verifier.Verify(signedToken(t, issue(t, service), newKey(t)))
	assert.ErrorIs(t, err, attest.ErrMalformedToken)
}

func TestVerifyMissingKey(t *testing.T) {
	verifier, service := newVerifier(t)
	nonceStr := issue(t, service)
	key := newKey(t)

	claims, err := attest.NewToken(nonceStr)
	require.NoError(t, err)
	token := signWithHeaders(t, claims, key.JwkPrivate, map[string]interface{}{jws.TypeKey: "JWT"})

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, attest.ErrMissingKey)
	assert.Equal(t, "JWK missing in header", err.Error())
	assert.Zero(t, service.consumeCalls)
}

func TestVerifyKeyNotAnObject(t *testing.T) {
	verifier, service := newVerifier(t)
	header := encodeSegment(t, map[string]interface{}{"alg": "ES256", "jwk": "not-a-key"})
	payload := encodeSegment(t, map[string]interface{}{"nonce": issue(t, service)})

	_, err := verifier.Verify(header + "." + payload + ".c2ln")
	assert.ErrorIs(t, err, attest.ErrMissingKey)
	assert.Equal(t, "JWK is not a JSON object", err.Error())
}

func TestVerifyInvalidKey(t *testing.T) {
	key := newKey(t)

	p384, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	p384Public, err := jwk.FromRaw(&p384.PublicKey)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header map[string]interface{}
	}{
		{"symmetric key", map[string]interface{}{"alg": "ES256", "jwk": map[string]string{"kty": "oct", "k": "c2VjcmV0"}}},
		{"unknown key type", map[string]interface{}{"alg": "ES256", "jwk": map[string]string{"kty": "XYZ"}}},
		{"private key embedded", map[string]interface{}{"alg": "ES256", "jwk": key.JwkPrivate}},
		{"wrong curve", map[string]interface{}{"alg": "ES256", "jwk": p384Public}},
		{"algorithm mismatch", map[string]interface{}{"alg": "ES384", "jwk": key.JwkPublic}},
		{"algorithm none", map[string]interface{}{"alg": "none", "jwk": key.JwkPublic}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier, service := newVerifier(t)
			payload := encodeSegment(t, map[string]interface{}{"nonce": issue(t, service)})

			_, err := verifier.Verify(encodeSegment(t, tt.header) + "." + payload + ".c2ln")
			assert.ErrorIs(t, err, attest.ErrInvalidKey)
			assert.Zero(t, service.consumeCalls)
		})
	}
}

func TestVerifyTamperedPayload(t *testing.T) {
	verifier, service := newVerifier(t)
	signedNonce := issue(t, service)
	substitutedNonce := issue(t, service)
	token := signedToken(t, signedNonce, newKey(t))

	parts := strings.Split(token, ".")
	parts[1] = encodeSegment(t, map[string]interface{}{"nonce": substitutedNonce})

	_, err := verifier.Verify(strings.Join(parts, "."))
	assert.ErrorIs(t, err, attest.ErrSignatureInvalid)
	assert.Zero(t, service.consumeCalls)

	assert.True(t, service.Service.Consume(substitutedNonce), "substituted nonce must stay outstanding")
	assert.True(t, service.Service.Consume(signedNonce), "signed nonce must stay outstanding")
}

func TestVerifyKeyMismatch(t *testing.T) {
	verifier, service := newVerifier(t)
	nonceStr := issue(t, service)
	keyA := newKey(t)
	keyB := newKey(t)

	claims, err := attest.NewToken(nonceStr)
	require.NoError(t, err)
	token := signWithHeaders(t, claims, keyA.JwkPrivate, map[string]interface{}{
		jws.TypeKey: "JWT",
		jws.JWKKey:  keyB.JwkPublic,
	})

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, attest.ErrSignatureInvalid)
	assert.Zero(t, service.consumeCalls)
}

func TestVerifyCorruptSignature(t *testing.T) {
	verifier, service := newVerifier(t)
	token := signedToken(t, issue(t, service), newKey(t))

	parts := strings.Split(token, ".")
	parts[2] = base64.RawURLEncoding.EncodeToString(make([]byte, 64))

	_, err := verifier.Verify(strings.Join(parts, "."))
	assert.ErrorIs(t, err, attest.ErrSignatureInvalid)
}

func TestVerifyMissingNonceClaim(t *testing.T) {
	verifier, service := newVerifier(t)
	issue(t, service)
	key := newKey(t)

	claims := jwt.New()
	require.NoError(t, claims.Set(jwt.JwtIDKey, "id"))
	token, err := attest.SignToken(claims, key)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, attest.ErrMissingNonceClaim)
	assert.Equal(t, "nonce not found in claims", err.Error())
	assert.Zero(t, service.consumeCalls)
}

func TestVerifyNonStringNonceClaim(t *testing.T) {
	verifier, service := newVerifier(t)
	key := newKey(t)

	claims := jwt.New()
	require.NoError(t, claims.Set("nonce", 42))
	token, err := attest.SignToken(claims, key)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, attest.ErrMissingNonceClaim)
	assert.Zero(t, service.consumeCalls)
}

func TestVerifyUnknownNonce(t *testing.T) {
	verifier, service := newVerifier(t)
	token := signedToken(t, "never-issued", newKey(t))

	_, err := verifier.Verify(token)
	assert.ErrorIs(t, err, attest.ErrNonceInvalidOrReused)
	assert.Equal(t, 1, service.consumeCalls)
}

func TestVerifyConcurrentSubmissions(t *testing.T) {
	registry := nonce.NewRegistry()
	verifier := attest.NewVerifier(registry)
	token := signedToken(t, issue(t, registry), newKey(t))

	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := verifier.Verify(token)
			results <- err
		}()
	}

	successes := 0
	for i := 0; i < 8; i++ {
		if err := <-results; err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, attest.ErrNonceInvalidOrReused)
		}
	}
	assert.Equal(t, 1, successes)
}

func TestErrorKinds(t *testing.T) {
	err := &attest.Error{Kind: attest.KindInvalidKey, Description: "failed to parse JWK"}
	assert.ErrorIs(t, err, attest.ErrInvalidKey)
	assert.NotErrorIs(t, err, attest.ErrMissingKey)
	assert.Equal(t, 400, err.HttpStatus())
	assert.Equal(t, "invalid_key", err.Kind.String())
	assert.Equal(t, 502, attest.ErrSubmissionFailed.HttpStatus())
}

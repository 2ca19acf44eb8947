package util

import (
	"crypto"
	"encoding/base64"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

type Jwk struct {
	Key jwk.Key
}

// ThumbprintString returns the RFC 7638 thumbprint as base64url.
func (j *Jwk) ThumbprintString(hf crypto.Hash) (string, error) {
	t, err := j.Key.Thumbprint(hf)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(t), nil
}

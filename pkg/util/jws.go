package util

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

const signaturePreviewLength = 10

// JWSToText renders a compact JWS for debug logs: decoded header and payload,
// shortened signature. Malformed input is rendered as far as possible.
func JWSToText(jwsData string) string {
	parts := strings.Split(jwsData, ".")
	if len(parts) != 3 {
		return "invalid(" + jwsData + ")"
	}

	sb := strings.Builder{}
	sb.WriteString("base64url(")
	sb.WriteString(tokenPartToText(parts[0]))
	sb.WriteString(").base64url(")
	sb.WriteString(tokenPartToText(parts[1]))
	sb.WriteString(").signature(")
	signature := parts[2]
	if len(signature) > signaturePreviewLength {
		signature = signature[:signaturePreviewLength] + "..."
	}
	sb.WriteString(signature)
	sb.WriteString(")")
	return sb.String()
}

func tokenPartToText(s string) string {
	dataBytes, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return err.Error()
	}
	dataMap := make(map[string]interface{})
	if err := json.Unmarshal(dataBytes, &dataMap); err != nil {
		return string(dataBytes)
	}

	jsonBytes, err := json.Marshal(dataMap)
	if err != nil {
		return err.Error()
	}
	return string(jsonBytes)
}

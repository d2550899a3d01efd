package channel

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"

	"linerelay/internal/domain"
)

// SignatureHeader carries the base64 HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Line-Signature"

// VerifySignature reports whether signature is the base64-encoded HMAC-SHA256
// of body keyed with secret. body must be the raw request bytes as received.
func VerifySignature(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func checkSignature(body []byte, signature, secret string) error {
	if !VerifySignature(body, signature, secret) {
		return domain.ErrInvalidSignature
	}
	return nil
}

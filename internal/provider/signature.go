package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// HMACVerifier validates provider webhook signatures: hex-encoded
// HMAC-SHA256 of the raw payload, optionally prefixed with "sha256=".
// It stands in for the provider SDK's verification call.
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier creates a verifier for the given webhook secret.
func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

// Verify checks the signature over the payload.
func (v *HMACVerifier) Verify(payload []byte, signature string) error {
	if len(v.secret) == 0 {
		return errors.New("webhook secret not configured")
	}
	if signature == "" {
		return errors.New("missing signature header")
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	got := strings.TrimPrefix(signature, "sha256=")
	if !hmac.Equal([]byte(expected), []byte(got)) {
		return errors.New("signature mismatch")
	}
	return nil
}

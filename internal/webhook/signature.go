package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader is the header GitHub sends on each delivery.
const SignatureHeader = "X-Hub-Signature-256"

// VerifySignature checks that a webhook body was signed with the shared
// secret. The header carries "sha256=<hex digest>". Everything fails closed:
// an empty secret, a missing or malformed header, or an unexpected algorithm
// all return false. The digest comparison is constant-time so a forged
// request cannot measure how much of its signature matched.
func VerifySignature(body []byte, headerValue, secret string) bool {
	if secret == "" || headerValue == "" {
		return false
	}
	alg, hexDigest, found := strings.Cut(headerValue, "=")
	if !found || alg != "sha256" {
		return false
	}
	provided, err := hex.DecodeString(hexDigest)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}

// Sign computes the header value for a body and secret. Used by tests and
// local delivery tooling.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

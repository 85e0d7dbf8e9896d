package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrSignatureMismatch distinguishes an invalid signature from a missing one
// so callers can fold both into the same "suppress the leak" 200 response
// without logging the distinction at error level.
var ErrSignatureMismatch = errors.New("webhook: signature mismatch")

// VerifySignature implements the spec's flat scheme: hex(HMAC-SHA256(raw_body,
// secret)), compared constant-time. This deliberately differs from Telnyx's
// timestamp-prefixed scheme (telnyxclient.Client.VerifyWebhookSignature) —
// the voice platform here signs the raw body with no timestamp component.
func VerifySignature(secret string, body []byte, signatureHeader string) error {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	actual := strings.ToLower(strings.TrimSpace(signatureHeader))
	if actual == "" {
		return ErrSignatureMismatch
	}
	if !hmac.Equal([]byte(expected), []byte(actual)) {
		return ErrSignatureMismatch
	}
	return nil
}

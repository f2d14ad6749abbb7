package webhookdelivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	svcerrors "github.com/rnrlcrm/tradedesk/internal/svcerrors"
)

// SignatureHeader is the header a subscriber reads to verify a delivery.
const SignatureHeader = "X-Webhook-Signature"

// Signer produces and verifies HMAC-SHA256 webhook signatures, mirroring
// the teacher's HMACSign/HMACVerify helpers (internal/crypto) specialized
// to the canonical "sha256=<hex>" header format subscribers expect.
type Signer struct {
	secret []byte
}

// NewSigner builds a Signer bound to one subscription's HMAC secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the hex-encoded HMAC-SHA256 signature of payload.
func (s *Signer) Sign(payload []byte) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Header returns the ready-to-send X-Webhook-Signature header value.
func (s *Signer) Header(payload []byte) string {
	return "sha256=" + s.Sign(payload)
}

// Verify checks a received signature (with or without the "sha256="
// prefix) against payload in constant time.
func (s *Signer) Verify(payload []byte, signature string) bool {
	const prefix = "sha256="
	if len(signature) > len(prefix) && signature[:len(prefix)] == prefix {
		signature = signature[len(prefix):]
	}
	expected := s.Sign(payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyOrError is the receiver-side convenience used by inbound webhook
// handlers: returns a structured ErrCodeWebhookVerificationFailed error
// instead of a bare bool.
func (s *Signer) VerifyOrError(payload []byte, signature string) error {
	if !s.Verify(payload, signature) {
		return svcerrors.WebhookVerificationFailed()
	}
	return nil
}

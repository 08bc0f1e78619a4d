// Package webhook verifies and normalizes provider webhook deliveries into
// inbound messages.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/capitalize-ai/unified-inbox/internal/model"
)

var (
	// ErrBadSignature is returned when a delivery is not signed by the
	// provider.
	ErrBadSignature = errors.New("webhook: invalid signature")
	// ErrMalformed is returned for payloads that cannot be decoded.
	ErrMalformed = errors.New("webhook: malformed payload")
)

// Inbound is a customer message addressed to one of our connected accounts.
// The tenant is resolved from AccountID before ingestion.
type Inbound struct {
	Channel   model.Channel
	AccountID string
	Message   model.InboundMessage
}

func sign(secret string, parts ...[]byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	for _, p := range parts {
		mac.Write(p)
	}
	return mac.Sum(nil)
}

func equalHex(expected []byte, got string) bool {
	decoded, err := hex.DecodeString(strings.TrimSpace(got))
	if err != nil {
		return false
	}
	return hmac.Equal(expected, decoded)
}

// VerifyMeta checks an X-Hub-Signature-256 header ("sha256=<hex>").
func VerifyMeta(appSecret string, body []byte, header string) error {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok || appSecret == "" || !equalHex(sign(appSecret, body), sig) {
		return ErrBadSignature
	}
	return nil
}

// VerifyTikTok checks a TikTok-Signature header ("t=<unix>,s=<hex>") where
// the signature covers "<t>.<body>". Deliveries older than tolerance are
// rejected.
func VerifyTikTok(secret string, body []byte, header string, now time.Time, tolerance time.Duration) error {
	if secret == "" {
		return ErrBadSignature
	}
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, _ := strings.Cut(strings.TrimSpace(part), "=")
		switch k {
		case "t":
			ts = v
		case "s":
			sig = v
		}
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || sig == "" {
		return ErrBadSignature
	}
	if age := now.Sub(time.Unix(unix, 0)); age > tolerance || age < -tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrBadSignature)
	}
	if !equalHex(sign(secret, []byte(ts), []byte("."), body), sig) {
		return ErrBadSignature
	}
	return nil
}

// VerifyEmail checks an X-Webhook-Signature header holding the hex HMAC of
// the body.
func VerifyEmail(secret string, body []byte, header string) error {
	if secret == "" || !equalHex(sign(secret, body), header) {
		return ErrBadSignature
	}
	return nil
}

// SignatureFor returns the hex HMAC-SHA256 of parts. Used to sign test
// deliveries.
func SignatureFor(secret string, parts ...[]byte) string {
	return hex.EncodeToString(sign(secret, parts...))
}

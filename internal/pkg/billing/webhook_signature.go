package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"time"
)

// WebhookTolerance bounds the age of a signed webhook timestamp.
const WebhookTolerance = 5 * time.Minute

// HeaderFunc looks up a request header by name.
type HeaderFunc func(name string) string

// SignatureScheme names the headers of one webhook signing convention.
// EncodedSecret marks "whsec_<base64>" secrets whose decoded bytes are the
// HMAC key; otherwise the secret string itself is the key.
type SignatureScheme struct {
	Name          string
	ID            string
	Timestamp     string
	Signature     string
	EncodedSecret bool
}

// BillingSignatureSchemes are tried in order. The provider moved from its own
// header names to the Standard Webhooks names; both are still seen.
var BillingSignatureSchemes = []SignatureScheme{
	{Name: "standard", ID: "webhook-id", Timestamp: "webhook-timestamp", Signature: "webhook-signature"},
	{Name: "polar", ID: "polar-id", Timestamp: "polar-timestamp", Signature: "polar-signature"},
}

// SvixSignatureScheme is used by the identity provider.
var SvixSignatureScheme = SignatureScheme{
	Name:          "svix",
	ID:            "svix-id",
	Timestamp:     "svix-timestamp",
	Signature:     "svix-signature",
	EncodedSecret: true,
}

// HasSignatureHeader reports whether any known signature header is present.
func HasSignatureHeader(header HeaderFunc, schemes []SignatureScheme) bool {
	for _, s := range schemes {
		if strings.TrimSpace(header(s.Signature)) != "" {
			return true
		}
	}
	return false
}

// VerifyBillingWebhook checks a delivery against every billing scheme and
// returns the delivery id and the name of the scheme that matched. Every
// scheme needs id, timestamp and signature headers.
func VerifyBillingWebhook(payload []byte, header HeaderFunc, secret string, now time.Time) (string, string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", "", ErrWebhookSecretMissing
	}
	if !HasSignatureHeader(header, BillingSignatureSchemes) {
		return "", "", ErrMissingSignature
	}

	for _, s := range BillingSignatureSchemes {
		id := strings.TrimSpace(header(s.ID))
		ts := strings.TrimSpace(header(s.Timestamp))
		sig := strings.TrimSpace(header(s.Signature))
		if id == "" || ts == "" || sig == "" {
			continue
		}
		if verifyStandardSignature(payload, id, ts, sig, s.key(secret), now) {
			return id, s.Name, nil
		}
	}
	return "", "", ErrInvalidSignature
}

// VerifySchemeSignature verifies a delivery signed under a single scheme.
func VerifySchemeSignature(payload []byte, header HeaderFunc, scheme SignatureScheme, secret string, now time.Time) error {
	if strings.TrimSpace(secret) == "" {
		return ErrWebhookSecretMissing
	}
	id := strings.TrimSpace(header(scheme.ID))
	ts := strings.TrimSpace(header(scheme.Timestamp))
	sig := strings.TrimSpace(header(scheme.Signature))
	if id == "" || ts == "" || sig == "" {
		return ErrMissingSignature
	}
	if !verifyStandardSignature(payload, id, ts, sig, scheme.key(secret), now) {
		return ErrInvalidSignature
	}
	return nil
}

func (s SignatureScheme) key(secret string) []byte {
	secret = strings.TrimSpace(secret)
	if !s.EncodedSecret {
		return []byte(secret)
	}
	if rest, ok := strings.CutPrefix(secret, "whsec_"); ok {
		if key, err := base64.StdEncoding.DecodeString(rest); err == nil {
			return key
		}
	}
	return []byte(secret)
}

// Sign produces a "v1,<base64>" signature for id.timestamp.body.
func (s SignatureScheme) Sign(payload []byte, id string, timestamp int64, secret string) string {
	mac := hmac.New(sha256.New, s.key(secret))
	mac.Write([]byte(id + "." + strconv.FormatInt(timestamp, 10) + "."))
	mac.Write(payload)
	return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SignStandardWebhook signs a billing delivery the way the provider does.
func SignStandardWebhook(payload []byte, id string, timestamp int64, secret string) string {
	return BillingSignatureSchemes[0].Sign(payload, id, timestamp, secret)
}

func verifyStandardSignature(payload []byte, id, timestamp, signatureHeader string, key []byte, now time.Time) bool {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	sent := time.Unix(ts, 0)
	if now.Sub(sent) > WebhookTolerance || sent.Sub(now) > WebhookTolerance {
		return false
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(id + "." + timestamp + "."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	// The header may carry several space separated "v1,<sig>" entries.
	for _, part := range strings.Fields(signatureHeader) {
		version, sig, ok := strings.Cut(part, ",")
		if !ok || version != "v1" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return true
		}
	}
	return false
}

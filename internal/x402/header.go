package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// EncodeHeader marshals v as JSON and base64-encodes it.
func EncodeHeader(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeHeader reverses EncodeHeader. URL-safe and unpadded base64 are
// accepted as well since some clients emit them.
func DecodeHeader(header string, v any) error {
	header = strings.TrimSpace(header)
	var raw []byte
	var err error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		raw, err = enc.DecodeString(header)
		if err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("decode base64: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

// PaymentHeader returns the payment header of r and whether it came from the
// legacy X-PAYMENT name. An empty string means no proof was presented.
func PaymentHeader(h http.Header) (value string, legacy bool) {
	if v := h.Get(HeaderPaymentSignature); v != "" {
		return v, false
	}
	if v := h.Get(HeaderLegacyPayment); v != "" {
		return v, true
	}
	return "", false
}

// ParsePayment decodes a PAYMENT-SIGNATURE / X-PAYMENT header value.
func ParsePayment(header string) (*PaymentPayload, error) {
	var p PaymentPayload
	if err := DecodeHeader(header, &p); err != nil {
		return nil, err
	}
	if len(p.Payload) == 0 || string(p.Payload) == "null" {
		return nil, fmt.Errorf("payment has no payload")
	}
	if p.DeclaredScheme() == "" || p.DeclaredNetwork() == "" {
		return nil, fmt.Errorf("payment does not declare scheme and network")
	}
	return &p, nil
}

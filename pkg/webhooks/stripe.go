// Package webhooks verifies inbound payment-provider webhooks. The
// tower accepts Stripe events for settlement reconciliation; nothing is
// processed before the signature checks out.
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	stripeSignatureHeader = "Stripe-Signature"

	// DefaultTolerance bounds the accepted clock skew between the
	// signed timestamp and receipt.
	DefaultTolerance = 300 * time.Second
)

var (
	ErrMissingSignature = errors.New("webhooks: missing or malformed Stripe-Signature header")
	ErrBadSignature     = errors.New("webhooks: signature mismatch")
	ErrStaleTimestamp   = errors.New("webhooks: signed timestamp outside tolerance")
)

// Event is the minimal envelope pulled from a verified payload.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// VerifyStripe checks a Stripe v1 signature (HMAC-SHA256 over
// "timestamp.body") against secret and returns the event envelope.
// Every failure path returns before the payload is interpreted.
func VerifyStripe(headers http.Header, rawBody []byte, receivedAt time.Time, secret string, tolerance time.Duration) (Event, error) {
	if strings.TrimSpace(secret) == "" {
		return Event{}, errors.New("webhooks: secret is empty")
	}
	timestamp, signatures := parseSignatureHeader(headers.Values(stripeSignatureHeader))
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil || ts <= 0 || len(signatures) == 0 {
		return Event{}, ErrMissingSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	valid := false
	for _, sigHex := range signatures {
		decoded, err := hex.DecodeString(sigHex)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, decoded) {
			valid = true
			break
		}
	}
	if !valid {
		return Event{}, ErrBadSignature
	}

	if tolerance > 0 {
		skew := receivedAt.UTC().Sub(time.Unix(ts, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > tolerance {
			return Event{}, ErrStaleTimestamp
		}
	}

	var evt Event
	if err := json.Unmarshal(rawBody, &evt); err != nil {
		return Event{}, errors.New("webhooks: undecodable event payload")
	}
	return evt, nil
}

// parseSignatureHeader splits "t=<unix>,v1=<hex>[,v1=<hex>...]".
func parseSignatureHeader(values []string) (string, []string) {
	joined := strings.TrimSpace(strings.Join(values, ","))
	if joined == "" {
		return "", nil
	}
	var t string
	var v1 []string
	for _, part := range strings.Split(joined, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.TrimSpace(kv[0]) {
		case "t":
			if t == "" {
				t = strings.TrimSpace(kv[1])
			}
		case "v1":
			if s := strings.TrimSpace(kv[1]); s != "" {
				v1 = append(v1, s)
			}
		}
	}
	return t, v1
}

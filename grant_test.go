package aslanpay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"
)

const secretToken = "tok_live_very_secret_value"

func TestScopedCredential_RedactedEverywhere(t *testing.T) {
	cred := NewScopedCredential(secretToken)

	if s := fmt.Sprintf("%v %s %+v", cred, cred, cred); strings.Contains(s, secretToken) {
		t.Fatalf("fmt leaked the raw token: %s", s)
	}

	b, err := json.Marshal(struct {
		Credential ScopedCredential `json:"credential"`
	}{cred})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(b), secretToken) {
		t.Fatalf("JSON leaked the raw token: %s", b)
	}
	if !strings.Contains(string(b), "[REDACTED]") {
		t.Fatalf("expected redaction marker in JSON, got %s", b)
	}

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	log.Info("grant issued", "credential", cred)
	if strings.Contains(buf.String(), secretToken) {
		t.Fatalf("slog leaked the raw token: %s", buf.String())
	}

	if cred.Reveal() != secretToken {
		t.Fatalf("Reveal must return the raw token")
	}
}

func TestGrant_LogValueOmitsCredential(t *testing.T) {
	g := &Grant{
		ID:              "auth_1",
		RequestedAmount: 23.50,
		ExpiresAt:       time.Now().Add(10 * time.Minute),
		Credential:      NewScopedCredential(secretToken),
	}
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	log.Info("authorized", "grant", g)

	out := buf.String()
	if strings.Contains(out, secretToken) {
		t.Fatalf("grant log leaked the raw token: %s", out)
	}
	if !strings.Contains(out, "auth_1") {
		t.Fatalf("grant log missing grant id: %s", out)
	}
}

func TestGrant_Expired(t *testing.T) {
	now := time.Now()
	g := &Grant{ID: "auth_1", ExpiresAt: now.Add(10 * time.Minute)}

	if g.Expired(now) {
		t.Fatalf("grant should be live before its deadline")
	}
	if !g.Expired(now.Add(10 * time.Minute)) {
		t.Fatalf("grant should be expired at its deadline")
	}

	zero := &Grant{ID: "auth_2"}
	if zero.Expired(now) {
		t.Fatalf("grant without a deadline never expires locally")
	}
}

func TestScopedCredential_Zero(t *testing.T) {
	var cred ScopedCredential
	if !cred.IsZero() {
		t.Fatalf("zero credential should report IsZero")
	}
	if cred.String() != "" {
		t.Fatalf("zero credential should render empty, got %q", cred.String())
	}
	b, _ := json.Marshal(cred)
	if string(b) != `""` {
		t.Fatalf("zero credential should marshal to empty string, got %s", b)
	}
}

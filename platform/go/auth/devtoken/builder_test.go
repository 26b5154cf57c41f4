package devtoken

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestBuildUnsignedToken(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()

	token, err := BuildUnsignedToken(Params{
		ProjectID:     "local-bizdesk",
		UserID:        "owner-123",
		Email:         "owner@example.com",
		Name:          "Dev Owner",
		EmailVerified: true,
		ExpiresIn:     time.Hour,
	}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	header, payload := splitToken(t, token)
	if got, want := header["alg"], "none"; got != want {
		t.Fatalf("header alg = %v, want %v", got, want)
	}

	if got, want := payload["iss"], "https://securetoken.google.com/local-bizdesk"; got != want {
		t.Errorf("iss = %v, want %v", got, want)
	}
	if got, want := payload["aud"], "local-bizdesk"; got != want {
		t.Errorf("aud = %v, want %v", got, want)
	}
	if got, want := payload["sub"], "owner-123"; got != want {
		t.Errorf("sub = %v, want %v", got, want)
	}
	if got, want := payload["email"], "owner@example.com"; got != want {
		t.Errorf("email = %v, want %v", got, want)
	}
	if got, want := payload["email_verified"], true; got != want {
		t.Errorf("email_verified = %v, want %v", got, want)
	}
	if got, want := payload["exp"], float64(now.Add(time.Hour).Unix()); got != want {
		t.Errorf("exp = %v, want %v", got, want)
	}
	if _, ok := payload["tenant"]; ok {
		t.Errorf("tenant claim must not be emitted")
	}
}

func TestBuildUnsignedTokenDefaultsAndValidation(t *testing.T) {
	token, err := BuildUnsignedToken(Params{UserID: "u1", Email: "u1@example.com"}, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, payload := splitToken(t, token)
	if got, want := payload["aud"], defaultProjectID; got != want {
		t.Errorf("aud = %v, want %v", got, want)
	}

	if _, err := BuildUnsignedToken(Params{Email: "x@example.com"}, time.Time{}); err == nil {
		t.Error("expected error without user id")
	}
	if _, err := BuildUnsignedToken(Params{UserID: "u1"}, time.Time{}); err == nil {
		t.Error("expected error without email")
	}
}

func splitToken(t *testing.T, token string) (map[string]interface{}, map[string]interface{}) {
	t.Helper()
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		t.Fatalf("invalid token format: %q", token)
	}

	header := decodeSegment(t, parts[0])
	payload := decodeSegment(t, parts[1])
	return header, payload
}

func decodeSegment(t *testing.T, segment string) map[string]interface{} {
	t.Helper()
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		t.Fatalf("decode segment: %v", err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal segment: %v", err)
	}
	return out
}

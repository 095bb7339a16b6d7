package origin

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		normalized string
		host       string
		ok         bool
	}{
		{"plain http", "http://example.com", "http://example.com", "example.com", true},
		{"uppercase host", "https://EXAMPLE.com", "https://example.com", "example.com", true},
		{"default http port stripped", "http://example.com:80", "http://example.com", "example.com", true},
		{"default https port stripped", "https://example.com:443", "https://example.com", "example.com", true},
		{"custom port kept", "https://example.com:8443", "https://example.com:8443", "example.com:8443", true},
		{"ipv6 literal", "http://[::1]:3000", "http://[::1]:3000", "[::1]:3000", true},
		{"null origin", "null", "null", "", true},
		{"surrounding whitespace", "  http://example.com  ", "http://example.com", "example.com", true},
		{"empty", "", "", "", false},
		{"no scheme", "example.com", "", "", false},
		{"bad scheme", "ftp://example.com", "", "", false},
		{"userinfo", "http://user@example.com", "", "", false},
		{"path", "http://example.com/login", "", "", false},
		{"query", "http://example.com?x=1", "", "", false},
		{"port zero", "http://example.com:0", "", "", false},
		{"port out of range", "http://example.com:70000", "", "", false},
		{"unbracketed ipv6", "http://::1:3000", "", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			norm, host, ok := Normalize(tc.raw)
			if ok != tc.ok || norm != tc.normalized || host != tc.host {
				t.Fatalf("Normalize(%q)=(%q,%q,%v), want (%q,%q,%v)",
					tc.raw, norm, host, ok, tc.normalized, tc.host, tc.ok)
			}
		})
	}
}

func TestAllowed_SameHostDefault(t *testing.T) {
	norm, host, ok := Normalize("https://call.example.com")
	if !ok {
		t.Fatalf("Normalize failed")
	}

	if !Allowed(norm, host, "call.example.com", nil) {
		t.Fatalf("expected same-host origin to be allowed")
	}
	if !Allowed(norm, host, "call.example.com:443", nil) {
		t.Fatalf("expected default-port request host to match")
	}
	if Allowed(norm, host, "evil.example.com", nil) {
		t.Fatalf("expected cross-host origin to be rejected")
	}
}

func TestAllowed_Allowlist(t *testing.T) {
	norm, host, _ := Normalize("https://app.example.com")

	if !Allowed(norm, host, "other.host", []string{"https://app.example.com"}) {
		t.Fatalf("expected allowlisted origin to pass")
	}
	if !Allowed(norm, host, "other.host", []string{"*"}) {
		t.Fatalf("expected wildcard to pass")
	}
	if Allowed(norm, host, "other.host", []string{"https://else.example.com"}) {
		t.Fatalf("expected non-listed origin to fail")
	}

	// "null" can only ever match via the allowlist.
	if Allowed("null", "", "app.example.com", nil) {
		t.Fatalf("null origin must not match same-host policy")
	}
	if !Allowed("null", "", "app.example.com", []string{"null"}) {
		t.Fatalf("expected explicit null allowlist entry to pass")
	}
}

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/meerkat/consul/internal/platform/transport"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"usr": "root",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func newAuthServer(t *testing.T, token string, calls *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		var creds map[string]string
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			t.Errorf("decode credentials: %v", err)
		}
		if creds["username"] != "root" {
			t.Errorf("unexpected username %q", creds["username"])
		}
		json.NewEncoder(w).Encode(map[string]string{"jwt": token})
	}))
}

func TestAuthHeaders_FetchesAndCaches(t *testing.T) {
	calls := 0
	token := signedToken(t, time.Now().Add(time.Hour))
	srv := newAuthServer(t, token, &calls)
	defer srv.Close()

	p := NewTokenProvider(srv.URL, "root", "password", transport.New(testLogger()), testLogger())

	headers, err := p.AuthHeaders(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if headers["Authorization"] != "Bearer "+token {
		t.Errorf("unexpected header: %q", headers["Authorization"])
	}

	// Second call must reuse the cached token.
	if _, err := p.AuthHeaders(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single auth round trip, got %d", calls)
	}
}

func TestAuthHeaders_RefreshesExpiredToken(t *testing.T) {
	calls := 0
	token := signedToken(t, time.Now().Add(time.Hour))
	srv := newAuthServer(t, token, &calls)
	defer srv.Close()

	p := NewTokenProvider(srv.URL, "root", "password", transport.New(testLogger()), testLogger())
	if _, err := p.AuthHeaders(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Move the clock past the expiry; the provider must re-authenticate.
	p.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := p.AuthHeaders(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected a second auth round trip, got %d", calls)
	}
}

func TestAuthHeaders_RetriesEmptyToken(t *testing.T) {
	calls := 0
	token := signedToken(t, time.Now().Add(time.Hour))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			json.NewEncoder(w).Encode(map[string]string{"jwt": ""})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"jwt": token})
	}))
	defer srv.Close()

	p := NewTokenProvider(srv.URL, "root", "password", transport.New(testLogger()), testLogger())
	headers, err := p.AuthHeaders(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if headers["Authorization"] != "Bearer "+token {
		t.Errorf("unexpected header after retry: %q", headers["Authorization"])
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
}

func TestTokenExpiry_FallbackForOpaqueToken(t *testing.T) {
	p := NewTokenProvider("http://auth", "root", "password", transport.New(testLogger()), testLogger())
	base := time.Date(2020, 3, 14, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return base }
	got := p.tokenExpiry("not-a-jwt")
	if !got.Equal(base.Add(fallbackTTL)) {
		t.Errorf("expected fallback expiry %v, got %v", base.Add(fallbackTTL), got)
	}
}

func TestStaticHeaders(t *testing.T) {
	h := StaticHeaders{"Authorization": "Bearer TESTING"}
	headers, err := h.AuthHeaders(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if headers["Authorization"] != "Bearer TESTING" {
		t.Errorf("unexpected header: %q", headers["Authorization"])
	}
}

package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/proposer/config"
)

func protected(secret []byte, scopes ...string) *echo.Echo {
	e := echo.New()
	g := e.Group("/api", EchoAuthMiddleware(secret))
	g.GET("/whoami", func(c echo.Context) error {
		sub, _ := SubjectFromContext(c.Request().Context())
		return c.String(http.StatusOK, sub)
	}, RequireScopes(scopes...))
	return e
}

func TestEchoAuthMiddleware(t *testing.T) {
	t.Parallel()
	secret := []byte("s3cret")
	good, err := SignJWT("alice", secret, time.Hour, "runs:write")
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	expired, _ := SignJWT("alice", secret, time.Nanosecond)
	other, _ := SignJWT("alice", []byte("other"), time.Hour)
	time.Sleep(time.Second)

	cases := []struct {
		name   string
		setup  func(r *http.Request)
		scopes []string
		want   int
	}{
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+good) }, nil, http.StatusOK},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "auth", Value: good}) }, nil, http.StatusOK},
		{"missing", func(*http.Request) {}, nil, http.StatusUnauthorized},
		{"expired", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+expired) }, nil, http.StatusUnauthorized},
		{"wrong secret", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+other) }, nil, http.StatusUnauthorized},
		{"scope present", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+good) }, []string{"runs:write"}, http.StatusOK},
		{"scope missing", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+good) }, []string{"admin"}, http.StatusForbidden},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
			tc.setup(req)
			rec := httptest.NewRecorder()
			protected(secret, tc.scopes...).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d want %d (%s)", rec.Code, tc.want, rec.Body.String())
			}
			if tc.want == http.StatusOK && rec.Body.String() != "alice" {
				t.Fatalf("subject = %q", rec.Body.String())
			}
		})
	}
}

func TestSignJWTRejectsBadInput(t *testing.T) {
	t.Parallel()
	if _, err := SignJWT("a", nil, time.Hour); err == nil {
		t.Fatalf("expected error for empty secret")
	}
	if _, err := SignJWT("a", []byte("s"), 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}

func TestLoadJWTSecret(t *testing.T) {
	t.Parallel()
	if s, err := LoadJWTSecret(&config.Config{}); err != nil || s != nil {
		t.Fatalf("empty secret = %q, %v", s, err)
	}
	s, err := LoadJWTSecret(&config.Config{Server: config.ServerConfig{JWTSecret: " k "}})
	if err != nil || string(s) != "k" {
		t.Fatalf("secret = %q, %v", s, err)
	}
}

func TestTelemetryDisabledIsNoop(t *testing.T) {
	t.Parallel()
	tel, meter, tracer, err := SetupTelemetry(context.Background(), config.TelemetryConfig{}, TelemetryOptions{})
	if err != nil {
		t.Fatalf("SetupTelemetry: %v", err)
	}
	if meter == nil || tracer == nil || tel.MetricsHandler() == nil {
		t.Fatalf("expected usable no-op telemetry")
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

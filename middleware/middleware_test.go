package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"klassenbuch_go/config"
	"klassenbuch_go/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
)

func withConfig(t *testing.T) {
	t.Helper()
	prev := config.AppConfig
	config.AppConfig = &config.Config{JWTSecret: "test-secret-0123456789", JWTExpiresIn: time.Hour}
	t.Cleanup(func() { config.AppConfig = prev })
}

func newApp() *fiber.App {
	app := fiber.New()
	app.Use(RequestID())
	app.Get("/me", JWTMiddleware(), func(c *fiber.Ctx) error {
		actor, err := GetCurrentActor(c)
		if err != nil {
			return err
		}
		return c.SendString(actor.Name)
	})
	return app
}

func TestJWTMiddleware(t *testing.T) {
	withConfig(t)
	app := newApp()

	token, err := GenerateToken(models.Actor{ID: "t1", Name: "Frau Weber", Role: "teacher"})
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	tests := []struct {
		name   string
		path   string
		header string
		status int
		body   string
	}{
		{name: "valid token", path: "/me", header: "Bearer " + token, status: http.StatusOK, body: "Frau Weber"},
		{name: "missing header", path: "/me", status: http.StatusUnauthorized},
		{name: "no bearer prefix", path: "/me", header: token, status: http.StatusUnauthorized},
		{name: "garbage token", path: "/me", header: "Bearer abc.def.ghi", status: http.StatusUnauthorized},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != tc.status {
				t.Fatalf("status %d, want %d", resp.StatusCode, tc.status)
			}
			if resp.Header.Get(HeaderRequestID) == "" {
				t.Fatalf("missing request id header")
			}
			if tc.body != "" {
				b, _ := io.ReadAll(resp.Body)
				if string(b) != tc.body {
					t.Fatalf("body %q, want %q", b, tc.body)
				}
			}
		})
	}
}

func TestParseTokenRejects(t *testing.T) {
	withConfig(t)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: "t1", Name: "Frau Weber",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
	})
	s, _ := expired.SignedString([]byte(config.AppConfig.JWTSecret))
	if _, err := ParseToken(s); err == nil {
		t.Fatalf("expected expired token to fail")
	}

	anonymous := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{UserID: "t1"})
	s, _ = anonymous.SignedString([]byte(config.AppConfig.JWTSecret))
	if _, err := ParseToken(s); err == nil {
		t.Fatalf("expected token without a name to fail")
	}

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{UserID: "t1", Name: "X"})
	s, _ = foreign.SignedString([]byte("another-secret"))
	if _, err := ParseToken(s); err == nil {
		t.Fatalf("expected foreign signature to fail")
	}
}

func TestRequestIDKeepsIncoming(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(GetRequestID(c)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	if string(b) != "req-42" || resp.Header.Get(HeaderRequestID) != "req-42" {
		t.Fatalf("request id not kept: %q", b)
	}
}

func TestResourceOf(t *testing.T) {
	tests := map[string]string{
		"/api/klassenbuch/students/s1/excuses/absence/a1": "excuses",
		"/api/klassenbuch/students/s1/absences/a1":        "absences",
		"/api/klassenbuch/refresh":                        "refresh",
		"/other/thing":                                    "thing",
	}
	for path, want := range tests {
		if got := resourceOf(path); got != want {
			t.Fatalf("resourceOf(%q) = %q, want %q", path, got, want)
		}
	}
}

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func serve(t *testing.T, v *Verifier, header string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var seen string
	router := gin.New()
	router.GET("/", Middleware(v), func(c *gin.Context) {
		seen, _ = Subject(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp, seen
}

func TestMiddlewareDisabledWithoutSecret(t *testing.T) {
	resp, _ := serve(t, NewVerifier("  ", ""), "")
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through, got %d", resp.Code)
	}
}

func TestMiddlewareAcceptsValidToken(t *testing.T) {
	token := signToken(t, testSecret, jwt.RegisteredClaims{
		Subject:   "app-1",
		Audience:  jwt.ClaimStrings{"skinsight"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	resp, subject := serve(t, NewVerifier(testSecret, "skinsight"), "Bearer "+token)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, resp.Code)
	}
	if subject != "app-1" {
		t.Fatalf("unexpected subject %q", subject)
	}
}

func TestMiddlewareRejects(t *testing.T) {
	valid := jwt.RegisteredClaims{Subject: "app-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	expired := jwt.RegisteredClaims{Subject: "app-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))}

	cases := map[string]struct {
		audience string
		header   string
	}{
		"missing header": {header: ""},
		"wrong scheme":   {header: "Basic abc"},
		"empty token":    {header: "Bearer  "},
		"wrong secret":   {header: "Bearer " + signToken(t, "other", valid)},
		"expired":        {header: "Bearer " + signToken(t, testSecret, expired)},
		"wrong audience": {audience: "skinsight", header: "Bearer " + signToken(t, testSecret, valid)},
		"no subject":     {header: "Bearer " + signToken(t, testSecret, jwt.RegisteredClaims{})},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			resp, _ := serve(t, NewVerifier(testSecret, tc.audience), tc.header)
			if resp.Code != http.StatusUnauthorized {
				t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
			}
		})
	}
}

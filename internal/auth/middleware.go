// Package auth verifies bearer tokens issued by the surrounding platform.
// Token issuance and user management live outside this service.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const subjectKey contextKey = "authSubject"

// Subject returns the verified token subject, if the request carried one.
func Subject(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(subjectKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// Verifier checks HMAC signed tokens against a shared secret and an optional
// audience.
type Verifier struct {
	secret   []byte
	audience string
}

// NewVerifier returns nil when secret is empty, which disables verification.
func NewVerifier(secret, audience string) *Verifier {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	return &Verifier{secret: []byte(secret), audience: strings.TrimSpace(audience)}
}

// Verify parses token and returns its subject.
func (v *Verifier) Verify(token string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("missing subject")
	}
	return claims.Subject, nil
}

// Middleware rejects requests without a valid bearer token. A nil verifier
// lets every request through.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v == nil {
			c.Next()
			return
		}

		token, err := extractBearerToken(c.Request.Header.Get("Authorization"))
		if err != nil {
			unauthorized(c, err.Error())
			return
		}
		subject, err := v.Verify(token)
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		ctx := context.WithValue(c.Request.Context(), subjectKey, subject)
		c.Request = c.Request.WithContext(ctx)
		c.Set(string(subjectKey), subject)

		c.Next()
	}
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header required")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}

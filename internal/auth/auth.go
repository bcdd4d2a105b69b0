// Package auth guards the HTTP surface with static API keys or HS256 bearer
// tokens.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const issuer = "ai-task-router"

var (
	ErrMissingToken = errors.New("missing authentication token")
	ErrInvalidToken = errors.New("invalid authentication token")
)

// Config holds authentication configuration
type Config struct {
	RequireAuth bool          `yaml:"require_auth"`
	APIKeys     []string      `yaml:"api_keys"`
	JWTSecret   string        `yaml:"jwt_secret"`
	JWTExpiry   time.Duration `yaml:"jwt_expiry"`
}

// Principal identifies the caller of a request
type Principal struct {
	Subject  string   `json:"subject"`
	Method   string   `json:"method"` // "api_key" or "jwt"
	TaskCaps []string `json:"task_caps,omitempty"`
}

// Claims are the bearer token claims. TaskCaps optionally limits the task
// types a caller may submit.
type Claims struct {
	TaskCaps []string `json:"task_caps,omitempty"`
	jwt.RegisteredClaims
}

type principalKey struct{}

// Authenticator validates API keys and bearer tokens
type Authenticator struct {
	config *Config
	logger *logrus.Logger
}

// NewAuthenticator creates an authenticator
func NewAuthenticator(config *Config, logger *logrus.Logger) *Authenticator {
	if config.JWTExpiry <= 0 {
		config.JWTExpiry = 24 * time.Hour
	}
	return &Authenticator{config: config, logger: logger}
}

// Authenticate accepts a configured API key or a valid signed token
func (a *Authenticator) Authenticate(token string) (*Principal, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	for _, key := range a.config.APIKeys {
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			return &Principal{Subject: "key:" + maskKey(token), Method: "api_key"}, nil
		}
	}

	if a.config.JWTSecret == "" {
		return nil, ErrInvalidToken
	}
	claims, err := a.ParseToken(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return &Principal{Subject: claims.Subject, Method: "jwt", TaskCaps: claims.TaskCaps}, nil
}

// IssueToken signs a token for subject
func (a *Authenticator) IssueToken(subject string, taskCaps []string) (string, error) {
	if a.config.JWTSecret == "" {
		return "", errors.New("jwt secret is not configured")
	}

	now := time.Now()
	claims := &Claims{
		TaskCaps: taskCaps,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.JWTExpiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.config.JWTSecret))
}

// ParseToken verifies signature, issuer and expiry of a bearer token
func (a *Authenticator) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(a.config.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Middleware rejects unauthenticated requests when auth is required
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.config.RequireAuth {
			next.ServeHTTP(w, r)
			return
		}

		principal, err := a.Authenticate(extractToken(r))
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"path":        r.URL.Path,
				"method":      r.Method,
				"remote_addr": r.RemoteAddr,
			}).WithError(err).Warn("Authentication failed")
			writeUnauthorized(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext returns the principal stored by Middleware
func FromContext(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(*Principal)
	return principal, ok
}

// Allows reports whether the principal may submit taskType. An empty cap
// list allows everything.
func (p *Principal) Allows(taskType string) bool {
	if len(p.TaskCaps) == 0 {
		return true
	}
	for _, t := range p.TaskCaps {
		if strings.EqualFold(t, taskType) {
			return true
		}
	}
	return false
}

func extractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****"
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": err.Error(),
			"type":    "authentication_error",
			"code":    http.StatusUnauthorized,
		},
		"timestamp": time.Now().Unix(),
	})
}

package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/canvasadmin/canvasadmin/internal/config"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	userIDContextKey  contextKey = "userID"
	sessionContextKey contextKey = "session"
)

// SessionCookie holds the admin token for browser sessions.
const SessionCookie = "canvasadmin_session"

// CSRFHeader carries the CSRF token on cookie-authenticated API writes.
const CSRFHeader = "X-CSRF-Token"

const issuer = "canvasadmin"

// Config holds authentication configuration. PasswordHash is the bcrypt hash of
// the admin password; the plain password never leaves NewConfig.
type Config struct {
	JWTSecret     string
	PasswordHash  string
	TokenDuration time.Duration
}

// NewConfig hashes the configured admin password.
func NewConfig(cfg config.AuthConfig) (Config, error) {
	hash, err := HashPassword(cfg.AdminPassword)
	if err != nil {
		return Config{}, fmt.Errorf("hash admin password: %w", err)
	}
	return Config{
		JWTSecret:     cfg.JWTSecret,
		PasswordHash:  hash,
		TokenDuration: cfg.TokenDuration,
	}, nil
}

// Claims represents the JWT claims
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// GenerateToken creates a new JWT token
func GenerateToken(userID string, secret string, duration time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken validates a JWT token and returns the user ID
func ValidateToken(tokenString string, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		return "", err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims.UserID, nil
	}

	return "", fmt.Errorf("invalid token")
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword compares a password with a hash
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// Session is an authenticated request's identity.
type Session struct {
	UserID string
	Token  string
	// FromCookie is set when the token came from SessionCookie rather than an
	// Authorization header.
	FromCookie bool
}

// Authenticate reads the bearer header, falling back to the session cookie.
func Authenticate(r *http.Request, cfg Config) (Session, error) {
	var s Session
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return Session{}, errors.New("Invalid authorization header format")
		}
		s.Token = parts[1]
	} else if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		s.Token = cookie.Value
		s.FromCookie = true
	} else {
		return Session{}, errors.New("Authorization header required")
	}

	userID, err := ValidateToken(s.Token, cfg.JWTSecret)
	if err != nil {
		return Session{}, errors.New("Invalid or expired token")
	}
	s.UserID = userID
	return s, nil
}

// WithSession stores s on ctx.
func WithSession(ctx context.Context, s Session) context.Context {
	ctx = context.WithValue(ctx, userIDContextKey, s.UserID)
	return context.WithValue(ctx, sessionContextKey, s)
}

// SessionFromContext returns the session stored by WithSession.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionContextKey).(Session)
	return s, ok
}

// Middleware authenticates API requests by bearer token or session cookie.
// Cookie-authenticated writes must also carry CSRFHeader.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, err := Authenticate(r, cfg)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			if s.FromCookie && !safeMethod(r.Method) && !ValidCSRFToken(cfg.JWTSecret, s.Token, r.Header.Get(CSRFHeader)) {
				http.Error(w, "Invalid CSRF token", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
		})
	}
}

func safeMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

// CSRFToken derives the form token bound to one session token.
func CSRFToken(secret, sessionToken string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("csrf:" + sessionToken))
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidCSRFToken reports whether got was issued for sessionToken.
func ValidCSRFToken(secret, sessionToken, got string) bool {
	if got == "" {
		return false
	}
	return hmac.Equal([]byte(CSRFToken(secret, sessionToken)), []byte(got))
}

// SetSessionCookie stores token in an HttpOnly, SameSite=Strict cookie.
func SetSessionCookie(w http.ResponseWriter, r *http.Request, token string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secureRequest(r),
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(ttl.Seconds()),
	})
}

// ClearSessionCookie removes the session cookie.
func ClearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secureRequest(r),
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}

func secureRequest(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// GetUserIDFromContext extracts the user ID from the request context
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	return userID, ok
}

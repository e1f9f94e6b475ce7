// Package middleware contains the HTTP middleware of the devcoins service.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

type contextKey string

const sessionKey contextKey = "session"

const (
	sessionCookieName = "devflow_session"
	sessionCookieTTL  = 30 * 24 * time.Hour
)

// Session is the resolved identity carried by the signed session cookie.
// The cookie itself is issued by the OAuth sign-in collaborator; this
// service only verifies and consumes it.
type Session struct {
	Email       string `json:"email"`
	Name        string `json:"name"`
	AccessToken string `json:"accessToken,omitempty"`
}

// SessionMiddleware verifies the HMAC-signed session cookie and places
// the session payload in the request context.
type SessionMiddleware struct {
	secretKey []byte
}

// NewSessionMiddleware creates a SessionMiddleware with the given secret.
func NewSessionMiddleware(secret string) *SessionMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &SessionMiddleware{
		secretKey: key,
	}
}

// Middleware rejects requests without a valid session cookie and adds the
// session to the request context otherwise.
func (m *SessionMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		session, ok := m.parseCookie(cookie.Value)
		if !ok || session.Email == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetSessionCookie writes a signed session cookie for the given session.
func (m *SessionMiddleware) SetSessionCookie(w http.ResponseWriter, session Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)

	cookie := &http.Cookie{
		Name:     sessionCookieName,
		Value:    encoded + "." + m.sign(encoded),
		Path:     "/",
		Expires:  time.Now().Add(sessionCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
	return nil
}

func (m *SessionMiddleware) sign(payload string) string {
	mac := hmac.New(sha256.New, m.secretKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (m *SessionMiddleware) parseCookie(cookieValue string) (Session, bool) {
	parts := strings.Split(cookieValue, ".")
	if len(parts) != 2 {
		return Session{}, false
	}

	encoded, signature := parts[0], parts[1]

	if !hmac.Equal([]byte(signature), []byte(m.sign(encoded))) {
		return Session{}, false
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Session{}, false
	}

	var session Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return Session{}, false
	}

	return session, true
}

// GetSessionFromContext extracts the session from the request context.
func GetSessionFromContext(ctx context.Context) (Session, bool) {
	session, ok := ctx.Value(sessionKey).(Session)
	return session, ok
}

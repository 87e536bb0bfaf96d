package connector

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/katiya-cw/openesb-standalone/internal/logger"
)

var ErrAuthenticationFailed = errors.New("connector: authentication failed")

// Authenticator checks remote credentials.
type Authenticator interface {
	Authenticate(username, password string) error
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(username, password string) error

func (f AuthenticatorFunc) Authenticate(username, password string) error { return f(username, password) }

// PasswordAuthenticator accepts a single user whose password is kept as a
// bcrypt hash.
type PasswordAuthenticator struct {
	username string
	hash     []byte
}

// NewPasswordAuthenticator hashes password with bcrypt at cost (the bcrypt
// default when cost is 0).
func NewPasswordAuthenticator(username, password string, cost int) (*PasswordAuthenticator, error) {
	if username == "" {
		return nil, errors.New("connector: username required")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash connector password: %w", err)
	}
	return &PasswordAuthenticator{username: username, hash: hash}, nil
}

func (a *PasswordAuthenticator) Authenticate(username, password string) error {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passErr := bcrypt.CompareHashAndPassword(a.hash, []byte(password))
	if !userOK || passErr != nil {
		return ErrAuthenticationFailed
	}
	return nil
}

// requireAuth enforces HTTP basic credentials.
func requireAuth(auth Authenticator, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || auth.Authenticate(user, pass) != nil {
				log.Warn("connector authentication failed",
					logger.String("user", user),
					logger.String("remote_ip", r.RemoteAddr))
				w.Header().Set("WWW-Authenticate", `Basic realm="openesb"`)
				writeError(w, http.StatusUnauthorized, ErrAuthenticationFailed)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Package auth authenticates tool-call and HTTP requests. Two schemes
// are accepted: bearer tokens (JWT first when a signing key is
// configured, then the shared key) and API keys. Key comparisons are
// fixed-time over SHA-256 digests.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/crucible-dev/crucible/pkg/crucerr"
)

// Methods recorded on the auth context.
const (
	MethodNone      = "none"
	MethodJWT       = "jwt"
	MethodSharedKey = "shared_key"
	MethodAPIKey    = "api_key"
)

// AnonymousUser is the user id assigned when authentication is disabled.
const AnonymousUser = "anonymous"

// ErrTokenExpired distinguishes expired JWTs from other credential
// failures in the taxonomy.
var ErrTokenExpired = errors.New("token_expired")

// Context is the authentication result attached to each request.
type Context struct {
	Authenticated bool       `json:"authenticated"`
	Method        string     `json:"method"`
	UserID        string     `json:"user_id"`
	Permissions   []string   `json:"permissions,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// Anonymous returns the context used when authentication is disabled.
func Anonymous() *Context {
	return &Context{Authenticated: true, Method: MethodNone, UserID: AnonymousUser}
}

// Config holds authenticator settings.
type Config struct {
	Enabled       bool
	SharedKey     string
	JWTSigningKey string
	JWTExpiry     time.Duration
	APIKeys       []string
}

// Authenticator validates request credentials.
type Authenticator struct {
	cfg           Config
	sharedDigest  [sha256.Size]byte
	apiKeyDigests [][sha256.Size]byte
	now           func() time.Time
}

// New creates an authenticator. Key digests are precomputed so request
// handling only performs fixed-time comparisons.
func New(cfg Config) *Authenticator {
	a := &Authenticator{cfg: cfg, now: time.Now}
	if cfg.SharedKey != "" {
		a.sharedDigest = sha256.Sum256([]byte(cfg.SharedKey))
	}
	for _, key := range cfg.APIKeys {
		a.apiKeyDigests = append(a.apiKeyDigests, sha256.Sum256([]byte(key)))
	}
	return a
}

// WithClock overrides the time source for tests.
func (a *Authenticator) WithClock(now func() time.Time) *Authenticator {
	a.now = now
	return a
}

// Enabled reports whether authentication is enforced.
func (a *Authenticator) Enabled() bool { return a.cfg.Enabled }

// Authenticate validates the Authorization header and/or API key. When
// authentication is disabled every request is accepted as anonymous.
func (a *Authenticator) Authenticate(authorization, apiKey string) (*Context, error) {
	if !a.cfg.Enabled {
		return Anonymous(), nil
	}

	if apiKey != "" {
		return a.checkAPIKey(apiKey)
	}

	if authorization == "" {
		return nil, crucerr.New(crucerr.KindUnauthorized, "missing credentials")
	}

	scheme, value, found := strings.Cut(authorization, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return nil, crucerr.New(crucerr.KindUnauthorized, "unsupported authorization scheme")
	}

	// Bearer: JWT first when a signing key is configured, then the
	// shared-key fallback.
	if a.cfg.JWTSigningKey != "" {
		authCtx, err := a.checkJWT(value)
		if err == nil {
			return authCtx, nil
		}
		if errors.Is(err, ErrTokenExpired) {
			return nil, crucerr.Wrap(crucerr.KindUnauthorized, "token expired", err)
		}
		// Fall through to the shared-key path.
	}

	if a.cfg.SharedKey != "" && a.fixedTimeEqual(a.sharedDigest, value) {
		return &Context{
			Authenticated: true,
			Method:        MethodSharedKey,
			UserID:        "shared-key-client",
			Permissions:   []string{"tools:*"},
		}, nil
	}

	return nil, crucerr.New(crucerr.KindUnauthorized, "invalid credentials")
}

func (a *Authenticator) checkAPIKey(key string) (*Context, error) {
	for _, digest := range a.apiKeyDigests {
		if a.fixedTimeEqual(digest, key) {
			return &Context{
				Authenticated: true,
				Method:        MethodAPIKey,
				UserID:        "api-key-client",
				Permissions:   []string{"tools:*"},
			}, nil
		}
	}
	return nil, crucerr.New(crucerr.KindUnauthorized, "invalid api key")
}

func (a *Authenticator) checkJWT(tokenString string) (*Context, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(a.cfg.JWTSigningKey), nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("jwt parse failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("jwt invalid")
	}

	authCtx := &Context{Authenticated: true, Method: MethodJWT}
	if sub, err := claims.GetSubject(); err == nil {
		authCtx.UserID = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time
		authCtx.ExpiresAt = &t
	}
	if perms, ok := claims["permissions"].([]any); ok {
		for _, p := range perms {
			if s, ok := p.(string); ok {
				authCtx.Permissions = append(authCtx.Permissions, s)
			}
		}
	}
	return authCtx, nil
}

// Mint issues a signed JWT for the given subject. Used by operators
// and tests; expiry falls back to one hour when unconfigured.
func (a *Authenticator) Mint(subject string, permissions []string) (string, error) {
	if a.cfg.JWTSigningKey == "" {
		return "", fmt.Errorf("no signing key configured")
	}
	expiry := a.cfg.JWTExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	now := a.now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(expiry).Unix(),
	}
	if len(permissions) > 0 {
		anyPerms := make([]any, len(permissions))
		for i, p := range permissions {
			anyPerms[i] = p
		}
		claims["permissions"] = anyPerms
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.cfg.JWTSigningKey))
}

func (a *Authenticator) fixedTimeEqual(expected [sha256.Size]byte, presented string) bool {
	digest := sha256.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(expected[:], digest[:]) == 1
}

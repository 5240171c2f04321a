package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Options controls signing algorithm and TTL.
type Options struct {
	Secret []byte        // HMAC key
	Alg    string        // HS256/HS384/HS512 (default HS256)
	TTL    time.Duration // token lifetime (default 2h)
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour}
}

// Generate signs a bearer token for userID.
func Generate(opts Options, userID string) (token string, expireAt time.Time, err error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := jwtlib.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	}
	tok := jwtlib.NewWithClaims(method, claims)
	signed, err := tok.SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify parses and validates a token, returning the subject user id.
func Verify(opts Options, token string) (string, error) {
	if _, err := signingMethod(opts.Alg); err != nil {
		return "", err
	}
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		// HMAC family only
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return opts.Secret, nil
	})
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("invalid token")
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return "", errors.New("claims type mismatch")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.New("missing sub claim")
	}
	return sub, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}

// TokenSource mints and caches a self-signed bearer token for one user,
// re-signing shortly before expiry. GetToken returns "" while no valid token
// can be produced, which callers treat as "auth not ready".
type TokenSource struct {
	opts   Options
	userID string

	mu    sync.Mutex
	token string
	exp   time.Time
}

func NewTokenSource(opts Options, userID string) *TokenSource {
	return &TokenSource{opts: opts, userID: userID}
}

func (s *TokenSource) GetToken(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && time.Until(s.exp) > 30*time.Second {
		return s.token
	}
	tok, exp, err := Generate(s.opts, s.userID)
	if err != nil {
		return ""
	}
	s.token, s.exp = tok, exp
	return s.token
}

// Package auth verifies the identity attached to realtime sessions and API calls.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ringrelay/internal/constants"
)

var (
	ErrMissingToken = errors.New("missing authentication token")
	ErrInvalidToken = errors.New("invalid authentication token")
)

// Identity is the verified user behind a request or session
type Identity struct {
	UserID     string
	Username   string
	Tag        string
	ProfilePic string
}

// Claims carries the display projection alongside the registered claims;
// the subject is the user id.
type Claims struct {
	Username   string `json:"username"`
	Tag        string `json:"tag,omitempty"`
	ProfilePic string `json:"profilePic,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens
type Verifier struct {
	secret     []byte
	issuer     string
	cookieName string
	parser     *jwt.Parser
}

func NewVerifier(secret, issuer, cookieName string) (*Verifier, error) {
	if len(secret) < constants.MinSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d characters long", constants.MinSecretLength)
	}
	if cookieName == "" {
		cookieName = constants.DefaultAuthCookieName
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	return &Verifier{
		secret:     []byte(secret),
		issuer:     issuer,
		cookieName: cookieName,
		parser:     jwt.NewParser(opts...),
	}, nil
}

// Verify parses and validates a token string
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrMissingToken
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return Identity{
		UserID:     claims.Subject,
		Username:   claims.Username,
		Tag:        claims.Tag,
		ProfilePic: claims.ProfilePic,
	}, nil
}

// Issue signs a token for id valid for ttl
func (v *Verifier) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Username:   id.Username,
		Tag:        id.Tag,
		ProfilePic: id.ProfilePic,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// TokenFromRequest looks for a token in the query string, the Authorization
// header and the auth cookie, in that order.
func (v *Verifier) TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get(constants.DefaultTokenQueryParameter); token != "" {
		return token
	}
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(v.cookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// Authenticate verifies the token carried by r
func (v *Verifier) Authenticate(r *http.Request) (Identity, error) {
	return v.Verify(v.TokenFromRequest(r))
}

type contextKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

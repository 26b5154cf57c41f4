package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for tokens that fail signature, expiry or claim checks.
var ErrInvalidToken = errors.New("invalid token")

const tokenIssuer = "bizdesk"

// AccessTokenClaims are the claims carried by access tokens. The JWT id is the session id.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
}

// AccessTokenInput carries the subject data stamped into an access token.
type AccessTokenInput struct {
	IdentityID    uuid.UUID
	SessionID     uuid.UUID
	Email         string
	EmailVerified bool
	Name          string
}

// TokenIssuer signs and validates HS256 access tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer builds an issuer; the secret must be at least 32 bytes.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL returns the access token lifetime.
func (i *TokenIssuer) TTL() time.Duration { return i.ttl }

// Issue signs an access token for the given subject.
func (i *TokenIssuer) Issue(in AccessTokenInput) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)

	claims := AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   in.IdentityID.String(),
			ID:        in.SessionID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:         in.Email,
		EmailVerified: in.EmailVerified,
		Name:          in.Name,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate parses an access token and returns its claims.
func (i *TokenIssuer) Validate(tokenString string) (*AccessTokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(i.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*AccessTokenClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SessionTokenVerifier returns a VerifyFunc backed by the HS256 issuer.
func SessionTokenVerifier(issuer *TokenIssuer) VerifyFunc {
	if issuer == nil {
		panic("auth.SessionTokenVerifier: issuer must not be nil")
	}
	return func(ctx context.Context, token string) (map[string]interface{}, error) {
		claims, err := issuer.Validate(token)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"sub":            claims.Subject,
			"sid":            claims.ID,
			"email":          claims.Email,
			"email_verified": claims.EmailVerified,
			"name":           claims.Name,
		}, nil
	}
}

// GenerateOpaqueToken returns 32 random bytes encoded as base64url without padding.
func GenerateOpaqueToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashOpaqueToken is the stored form of refresh and magic-link tokens.
func HashOpaqueToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestTokenIssuerRoundTrip(t *testing.T) {
	t.Parallel()

	issuer, err := NewTokenIssuer(testSecret, time.Minute)
	require.NoError(t, err)

	identityID := uuid.New()
	sessionID := uuid.New()
	token, expiresAt, err := issuer.Issue(AccessTokenInput{
		IdentityID: identityID,
		SessionID:  sessionID,
		Email:      "ana@example.com",
		Name:       "Ana",
	})
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Minute), expiresAt, 2*time.Second)

	claims, err := issuer.Validate(token)
	require.NoError(t, err)
	require.Equal(t, identityID.String(), claims.Subject)
	require.Equal(t, sessionID.String(), claims.ID)
	require.Equal(t, "ana@example.com", claims.Email)
}

func TestTokenIssuerRejectsBadTokens(t *testing.T) {
	t.Parallel()

	issuer, err := NewTokenIssuer(testSecret, time.Minute)
	require.NoError(t, err)

	token, _, err := issuer.Issue(AccessTokenInput{IdentityID: uuid.New(), SessionID: uuid.New()})
	require.NoError(t, err)

	other, err := NewTokenIssuer(strings.Repeat("x", 32), time.Minute)
	require.NoError(t, err)
	_, err = other.Validate(token)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired, err := NewTokenIssuer(testSecret, time.Minute)
	require.NoError(t, err)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _, err := expired.Issue(AccessTokenInput{IdentityID: uuid.New(), SessionID: uuid.New()})
	require.NoError(t, err)
	_, err = issuer.Validate(old)
	require.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: uuid.NewString()})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = issuer.Validate(unsigned)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokenIssuerRequiresLongSecret(t *testing.T) {
	t.Parallel()

	_, err := NewTokenIssuer("short", time.Minute)
	require.Error(t, err)
}

func TestSessionTokenVerifierClaims(t *testing.T) {
	t.Parallel()

	issuer, err := NewTokenIssuer(testSecret, time.Minute)
	require.NoError(t, err)
	identityID := uuid.New()
	token, _, err := issuer.Issue(AccessTokenInput{IdentityID: identityID, SessionID: uuid.New(), Email: "luis@example.com"})
	require.NoError(t, err)

	claims, err := SessionTokenVerifier(issuer)(context.Background(), token)
	require.NoError(t, err)

	creds, err := DefaultCredentialExtractor(claims)
	require.NoError(t, err)
	require.Equal(t, identityID.String(), creds.Id)
	require.Equal(t, "luis@example.com", creds.Email)
	require.NotEmpty(t, creds.SessionID)
}

func TestOpaqueTokens(t *testing.T) {
	t.Parallel()

	a, err := GenerateOpaqueToken()
	require.NoError(t, err)
	b, err := GenerateOpaqueToken()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.Len(t, a, 43)

	require.Equal(t, HashOpaqueToken(a), HashOpaqueToken(a))
	require.NotEqual(t, HashOpaqueToken(a), HashOpaqueToken(b))
	require.Len(t, HashOpaqueToken(a), 64)
}

func TestPasswordHashing(t *testing.T) {
	t.Parallel()

	_, err := HashPassword("short")
	require.ErrorIs(t, err, ErrPasswordTooShort)

	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	require.NoError(t, CheckPassword(hash, "correct horse"))
	require.ErrorIs(t, CheckPassword(hash, "wrong horse"), ErrPasswordMismatch)
}

package auth_test

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/auth"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

func newCodec(t *testing.T, cfg auth.TokenConfig) *auth.TokenCodec {
	t.Helper()
	if cfg.Secret == nil {
		cfg.Secret = []byte(testSecret)
	}
	codec, err := auth.NewTokenCodec(cfg)
	require.NoError(t, err)
	return codec
}

func TestTokenRoundTrip(t *testing.T) {
	codec := newCodec(t, auth.TokenConfig{TTL: time.Hour})
	userID := uuid.New()

	raw, expiresAt, err := codec.Issue(userID, baseTime)
	require.NoError(t, err)
	assert.Equal(t, baseTime.Add(time.Hour), expiresAt.UTC())

	got, err := codec.Verify(raw, baseTime.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}

func TestTokenExpiresAtExactBoundary(t *testing.T) {
	codec := newCodec(t, auth.TokenConfig{TTL: time.Hour})
	raw, _, err := codec.Issue(uuid.New(), baseTime)
	require.NoError(t, err)

	_, err = codec.Verify(raw, baseTime.Add(time.Hour-time.Second))
	require.NoError(t, err)

	_, err = codec.Verify(raw, baseTime.Add(time.Hour))
	require.ErrorIs(t, err, auth.ErrTokenExpired)
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestTokenIssueCountsWholeSeconds(t *testing.T) {
	codec := newCodec(t, auth.TokenConfig{TTL: time.Hour})
	issued := baseTime.Add(900 * time.Millisecond)
	raw, expiresAt, err := codec.Issue(uuid.New(), issued)
	require.NoError(t, err)
	assert.Equal(t, baseTime.Add(time.Hour), expiresAt.UTC())

	_, err = codec.Verify(raw, expiresAt.Add(-time.Nanosecond))
	require.NoError(t, err)

	_, err = codec.Verify(raw, issued.Add(time.Hour-500*time.Millisecond))
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestTokenRejectsTampering(t *testing.T) {
	codec := newCodec(t, auth.TokenConfig{})
	raw, _, err := codec.Issue(uuid.New(), baseTime)
	require.NoError(t, err)

	parts := strings.Split(raw, ".")
	require.Len(t, parts, 3)
	other, _, err := codec.Issue(uuid.New(), baseTime)
	require.NoError(t, err)
	forged := parts[0] + "." + strings.Split(other, ".")[1] + "." + parts[2]

	_, err = codec.Verify(forged, baseTime)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)

	_, err = codec.Verify("not-a-token", baseTime)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)

	_, err = codec.Verify("", baseTime)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestTokenRejectsWrongSecretAndAlgorithm(t *testing.T) {
	codec := newCodec(t, auth.TokenConfig{})
	userID := uuid.New()

	otherSecret := newCodec(t, auth.TokenConfig{Secret: []byte("another-secret-of-enough-length")})
	raw, _, err := otherSecret.Issue(userID, baseTime)
	require.NoError(t, err)
	_, err = codec.Verify(raw, baseTime)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)

	hs512 := newCodec(t, auth.TokenConfig{Algorithm: "HS512"})
	raw, _, err = hs512.Issue(userID, baseTime)
	require.NoError(t, err)
	_, err = codec.Verify(raw, baseTime)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"user_id": userID.String(),
		"exp":     baseTime.Add(time.Hour).Unix(),
	})
	raw, err = unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = codec.Verify(raw, baseTime)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestTokenRejectsMissingClaims(t *testing.T) {
	codec := newCodec(t, auth.TokenConfig{})

	noExpiry := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": uuid.NewString()})
	raw, err := noExpiry.SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = codec.Verify(raw, baseTime)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)

	badSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "42",
		"exp":     baseTime.Add(time.Hour).Unix(),
	})
	raw, err = badSubject.SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = codec.Verify(raw, baseTime)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestTokenIssuerMismatch(t *testing.T) {
	issuerA := newCodec(t, auth.TokenConfig{Issuer: "a"})
	issuerB := newCodec(t, auth.TokenConfig{Issuer: "b"})
	raw, _, err := issuerA.Issue(uuid.New(), baseTime)
	require.NoError(t, err)

	_, err = issuerB.Verify(raw, baseTime)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestNewTokenCodecValidatesConfig(t *testing.T) {
	_, err := auth.NewTokenCodec(auth.TokenConfig{Secret: []byte("short")})
	assert.Error(t, err)

	_, err = auth.NewTokenCodec(auth.TokenConfig{Secret: []byte(testSecret), Algorithm: "RS256"})
	assert.Error(t, err)

	_, err = auth.NewTokenCodec(auth.TokenConfig{Secret: []byte(testSecret), TTL: time.Millisecond})
	assert.Error(t, err)

	codec, err := auth.NewTokenCodec(auth.TokenConfig{Secret: []byte(testSecret), Algorithm: "hs384"})
	require.NoError(t, err)
	assert.Equal(t, auth.DefaultTokenTTL, codec.TTL())
}

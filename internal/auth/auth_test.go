package auth_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuria-ai/kuria/internal/auth"
)

func TestHashAndVerifyAPIKey(t *testing.T) {
	hash, err := auth.HashAPIKey("test-key-123")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	valid, err := auth.VerifyAPIKey("test-key-123", hash)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = auth.VerifyAPIKey("wrong-key", hash)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestVerifyAPIKeyRejectsMalformedHash(t *testing.T) {
	_, err := auth.VerifyAPIKey("key", "not-a-valid-hash")
	assert.Error(t, err)
}

func TestJWTIssueAndValidate(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", 1*time.Hour)
	require.NoError(t, err)

	tenantID := uuid.New()
	token, expiresAt, err := mgr.IssueToken("ops@acme.test", auth.RoleAdmin, &tenantID)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@acme.test", claims.Subject)
	assert.Equal(t, auth.RoleAdmin, claims.Role)
	require.NotNil(t, claims.TenantID)
	assert.Equal(t, tenantID, *claims.TenantID)
}

func TestClaimsScoping(t *testing.T) {
	tenantID := uuid.New()

	scoped := &auth.Claims{Role: auth.RoleViewer, TenantID: &tenantID}
	assert.False(t, scoped.CanAct())
	assert.True(t, scoped.AllowsTenant(tenantID))
	assert.False(t, scoped.AllowsTenant(uuid.New()))

	global := &auth.Claims{Role: auth.RoleAdmin}
	assert.True(t, global.CanAct())
	assert.True(t, global.AllowsTenant(uuid.New()))
}

// newTestJWTManagerWithKey creates a JWTManager backed by a real Ed25519
// key pair written to temp PEM files, and returns the raw private key for
// forging tokens.
func newTestJWTManagerWithKey(t *testing.T) (*auth.JWTManager, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	dir := t.TempDir()

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})
	privPath := filepath.Join(dir, "priv.pem")
	require.NoError(t, os.WriteFile(privPath, privPEM, 0600))

	pubBytes, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	pubPath := filepath.Join(dir, "pub.pem")
	require.NoError(t, os.WriteFile(pubPath, pubPEM, 0600))

	mgr, err := auth.NewJWTManager(privPath, pubPath, time.Hour)
	require.NoError(t, err)
	return mgr, priv
}

func TestJWTManagerLoadsPEMKeys(t *testing.T) {
	mgr, _ := newTestJWTManagerWithKey(t)

	token, _, err := mgr.IssueToken("ops@acme.test", auth.RoleAdmin, nil)
	require.NoError(t, err)

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@acme.test", claims.Subject)
	assert.Nil(t, claims.TenantID)
}

func TestValidateTokenRejectsWrongIssuer(t *testing.T) {
	mgr, priv := newTestJWTManagerWithKey(t)

	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "intruder",
			Issuer:    "not-kuria",
			Audience:  jwt.ClaimStrings{"kuria"},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: auth.RoleAdmin,
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(priv)
	require.NoError(t, err)

	_, err = mgr.ValidateToken(forged)
	assert.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	mgr, priv := newTestJWTManagerWithKey(t)

	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops@acme.test",
			Issuer:    "kuria",
			Audience:  jwt.ClaimStrings{"kuria"},
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
		Role: auth.RoleAdmin,
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(priv)
	require.NoError(t, err)

	_, err = mgr.ValidateToken(expired)
	assert.Error(t, err)
}

func TestValidateTokenRejectsWrongKey(t *testing.T) {
	mgr, _ := newTestJWTManagerWithKey(t)

	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops@acme.test",
			Issuer:    "kuria",
			Audience:  jwt.ClaimStrings{"kuria"},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: auth.RoleAdmin,
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(otherPriv)
	require.NoError(t, err)

	_, err = mgr.ValidateToken(forged)
	assert.Error(t, err)
}

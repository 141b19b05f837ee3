package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/messaging-service/internal/domain"
)

const secret = "test-secret"

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestJWTValidator_HS256(t *testing.T) {
	v, err := NewJWTValidator("hs256", "", secret)
	require.NoError(t, err)

	t.Run("should return the identity in the token", func(t *testing.T) {
		req := require.New(t)
		tok := sign(t, jwt.MapClaims{"sub": "u-1", "email": "jonathan@example.com", "role": "admin", "exp": time.Now().Add(time.Hour).Unix()})

		id, err := v.Validate(tok)

		req.NoError(err)
		req.Equal(domain.Identity{UserID: "u-1", Email: "jonathan@example.com", Role: domain.RoleAdmin}, id)
	})

	t.Run("should fall back to the id claim", func(t *testing.T) {
		req := require.New(t)

		id, err := v.Validate(sign(t, jwt.MapClaims{"id": "u-2"}))

		req.NoError(err)
		req.Equal("u-2", id.UserID)
		req.Equal(domain.RoleUser, id.Role)
	})

	t.Run("should reject expired tokens", func(t *testing.T) {
		req := require.New(t)

		_, err := v.Validate(sign(t, jwt.MapClaims{"sub": "u-1", "exp": time.Now().Add(-time.Minute).Unix()}))

		req.ErrorIs(err, domain.ErrUnauthorized)
	})

	t.Run("should reject tokens without a subject", func(t *testing.T) {
		req := require.New(t)

		_, err := v.Validate(sign(t, jwt.MapClaims{"email": "x@example.com"}))

		req.ErrorIs(err, domain.ErrUnauthorized)
	})

	t.Run("should reject a different secret", func(t *testing.T) {
		req := require.New(t)
		other, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u-1"}).SignedString([]byte("nope"))
		req.NoError(err)

		_, err = v.Validate(other)

		req.ErrorIs(err, domain.ErrUnauthorized)
	})
}

func TestJWTValidator_RS256(t *testing.T) {
	req := require.New(t)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	req.NoError(err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	req.NoError(err)
	path := filepath.Join(t.TempDir(), "pub.pem")
	req.NoError(os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))

	v, err := NewJWTValidator("RS256", path, "")
	req.NoError(err)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "u-9"}).SignedString(key)
	req.NoError(err)
	id, err := v.Validate(tok)
	req.NoError(err)
	req.Equal("u-9", id.UserID)

	// an HS256 token must not pass an RS256 validator
	_, err = v.Validate(sign(t, jwt.MapClaims{"sub": "u-9"}))
	req.ErrorIs(err, domain.ErrUnauthorized)
}

func TestNewJWTValidator_Errors(t *testing.T) {
	req := require.New(t)

	_, err := NewJWTValidator("HS256", "", "")
	req.Error(err)
	_, err = NewJWTValidator("none", "", secret)
	req.Error(err)
	_, err = NewJWTValidator("RS256", "/does/not/exist.pem", "")
	req.Error(err)
}

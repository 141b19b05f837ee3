package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/fathima-sithara/messaging-service/internal/domain"
)

// LocalsIdentity is the fiber Locals key holding the caller's domain.Identity.
const LocalsIdentity = "identity"

type JWTValidator struct {
	alg    string
	pubKey *rsa.PublicKey
	secret []byte
}

// NewJWTValidator supports RS256 with a PEM public key or HS256 with a shared secret.
func NewJWTValidator(alg, pubKeyPath, secret string) (*JWTValidator, error) {
	alg = strings.ToUpper(alg)
	switch alg {
	case "RS256":
		b, err := os.ReadFile(pubKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read public key: %w", err)
		}
		pub, err := jwt.ParseRSAPublicKeyFromPEM(b)
		if err != nil {
			return nil, fmt.Errorf("parse public key: %w", err)
		}
		return &JWTValidator{alg: alg, pubKey: pub}, nil
	case "HS256":
		if secret == "" {
			return nil, errors.New("hs256 secret is empty")
		}
		return &JWTValidator{alg: alg, secret: []byte(secret)}, nil
	default:
		return nil, fmt.Errorf("unsupported jwt alg %q", alg)
	}
}

// Validate checks the token and returns the identity it carries.
// The user id is read from "sub", then "id", then "user_id".
func (j *JWTValidator) Validate(tokenStr string) (domain.Identity, error) {
	tok, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if j.pubKey != nil {
			return j.pubKey, nil
		}
		return j.secret, nil
	}, jwt.WithValidMethods([]string{j.alg}))
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return domain.Identity{}, fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
	}

	var id domain.Identity
	for _, k := range []string{"sub", "id", "user_id"} {
		if s, ok := claims[k].(string); ok && s != "" {
			id.UserID = s
			break
		}
	}
	if id.UserID == "" {
		return domain.Identity{}, fmt.Errorf("%w: token has no subject", domain.ErrUnauthorized)
	}
	id.Email, _ = claims["email"].(string)
	id.Role = domain.RoleUser
	if r, ok := claims["role"].(string); ok && r != "" {
		id.Role = domain.Role(r)
	}
	return id, nil
}

// Identity returns the caller stored by the auth middleware.
func Identity(c *fiber.Ctx) (domain.Identity, bool) {
	id, ok := c.Locals(LocalsIdentity).(domain.Identity)
	return id, ok
}

package auth

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	jwtware "github.com/gofiber/jwt/v2"
	"github.com/golang-jwt/jwt/v4"
)

const (
	tokenLocalsKey    = "user"
	identityLocalsKey = "identity"
)

// Middleware protects the routes registered after it. A missing
// Authorization header is answered with 401, any other verification
// failure with 403.
func (v *Verifier) Middleware() fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey:    v.secret,
		SigningMethod: jwt.SigningMethodHS256.Alg(),
		ContextKey:    tokenLocalsKey,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if c.Get(fiber.HeaderAuthorization) == "" {
				return Reject(c, ErrMissingCredential)
			}
			return Reject(c, ErrInvalidCredential)
		},
		SuccessHandler: func(c *fiber.Ctx) error {
			ident, err := identityFromToken(c.Locals(tokenLocalsKey))
			if err != nil {
				return Reject(c, ErrInvalidCredential)
			}
			WithIdentity(c, ident)
			return c.Next()
		},
	})
}

// Reject writes the HTTP response for a verification failure.
func Reject(c *fiber.Ctx, err error) error {
	if errors.Is(err, ErrMissingCredential) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Access token required"})
	}
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Invalid or expired token"})
}

// WithIdentity stores an identity on the context. Used by Middleware and by
// tests that bypass token verification.
func WithIdentity(c *fiber.Ctx, ident Identity) {
	c.Locals(identityLocalsKey, ident)
}

// IdentityFromCtx returns the caller identity placed on the context by
// Middleware.
func IdentityFromCtx(c *fiber.Ctx) (Identity, error) {
	ident, ok := c.Locals(identityLocalsKey).(Identity)
	if !ok || ident.UserID <= 0 {
		return Identity{}, fiber.ErrUnauthorized
	}
	return ident, nil
}

// identityFromToken reads user_id and email out of the map claims jwtware
// stores in locals. user_id arrives as float64 from JSON but tolerate other
// encodings older tokens used. Tokens without exp are refused as in Verify;
// jwtware only checks exp when it is present.
func identityFromToken(raw interface{}) (Identity, error) {
	tok, ok := raw.(*jwt.Token)
	if !ok {
		return Identity{}, fiber.ErrUnauthorized
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, fiber.ErrUnauthorized
	}
	if _, ok := claims["exp"]; !ok {
		return Identity{}, fiber.ErrUnauthorized
	}

	var id int
	switch v := claims["user_id"].(type) {
	case float64:
		id = int(v)
	case int:
		id = v
	case int64:
		id = int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return Identity{}, fiber.ErrUnauthorized
		}
		id = n
	default:
		return Identity{}, fiber.ErrUnauthorized
	}
	if id <= 0 {
		return Identity{}, fiber.ErrUnauthorized
	}

	email, _ := claims["email"].(string)
	return Identity{UserID: id, Email: email}, nil
}

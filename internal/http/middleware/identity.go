package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"studentdocs/internal/model"
)

// IdentityLocalKey is the key used to store the caller's model.Identity in Fiber's context locals.
const IdentityLocalKey = "identity"

const bearerPrefix = "Bearer "

type identityClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Identity authenticates the caller from an HS256 bearer token issued by the identity
// provider. The "sub" claim is the user id and "role" the capability; both are trusted as-is.
// Requests without a valid token stop here with 401.
func Identity(secret string) fiber.Handler {
	key := []byte(secret)

	return func(c *fiber.Ctx) error {
		if len(key) == 0 {
			return fiber.NewError(fiber.StatusUnauthorized, "identity verification is not configured")
		}
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(authz, bearerPrefix) {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}
		raw := strings.TrimSpace(strings.TrimPrefix(authz, bearerPrefix))

		var claims identityClaims
		_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
			return key, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || claims.Subject == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid bearer token")
		}

		role := model.RoleStudent
		if model.Role(claims.Role) == model.RoleAdmin {
			role = model.RoleAdmin
		}
		c.Locals(IdentityLocalKey, model.Identity{UserID: claims.Subject, Role: role})
		return c.Next()
	}
}

// IdentityFrom returns the identity stored by the Identity middleware.
func IdentityFrom(c *fiber.Ctx) (model.Identity, bool) {
	id, ok := c.Locals(IdentityLocalKey).(model.Identity)
	return id, ok && id.UserID != ""
}

package middleware

import (
	"fmt"

	"github.com/agrostack/fieldsync/internal/config"
	"github.com/agrostack/fieldsync/internal/services"
	"github.com/agrostack/fieldsync/internal/types"
	"github.com/gofiber/fiber/v2"
)

var authCfg *config.Config

// Setup stores the configuration used for lazy Authorizer initialization on
// the first authenticated request.
func Setup(cfg *config.Config) {
	authCfg = cfg
}

// AuthAdmin validates that the request has admin role authorization
func AuthAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return authorize(c, []string{"admin"}, "field.authorization.admin")
	}
}

// AuthUser validates that the request has user role authorization
func AuthUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return authorize(c, []string{"user"}, "field.authorization.user")
	}
}

// authorize performs the authorization check
func authorize(c *fiber.Ctx, roles []string, errorType string) error {
	if !services.IsAuthorizerInitialized() && authCfg != nil {
		if err := services.InitAuthorizer(authCfg, c.Protocol(), c.Hostname()); err != nil {
			return &types.CustomError{
				Code:    fiber.StatusServiceUnavailable,
				Message: fmt.Sprintf("Authorizer unavailable: %v", err),
				Type:    errorType,
			}
		}
	}

	// Get session cookie
	session := c.Cookies("cookie_session")
	if session == "" {
		return &types.CustomError{
			Code:    fiber.StatusForbidden,
			Message: "Authorizer cookie \"cookie_session\" not found",
			Type:    errorType,
		}
	}

	// Validate session
	data, err := services.ValidateSession(session, roles)
	if err != nil {
		return &types.CustomError{
			Code:    fiber.StatusForbidden,
			Message: fmt.Sprintf("Invalid session: %v", err),
			Type:    errorType,
		}
	}

	// Set user data in context
	if user, ok := data["user"]; ok {
		c.Locals("user", user)
	}

	return c.Next()
}

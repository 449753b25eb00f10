package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/mikeusry/southland-platform-sub000/internal/config"
)

// AuthConfig protects GET /visitor/:id. Ingestion endpoints stay open so the
// storefront pixel can post without credentials. Mode takes a config.Auth* value.
type AuthConfig struct {
	Mode      string
	APIKey    string
	JWTSecret string
}

// NewAuthMiddleware validates a Bearer API key or an HS256 JWT, depending on mode.
func NewAuthMiddleware(cfg AuthConfig, logger zerolog.Logger) fiber.Handler {
	secret := []byte(cfg.JWTSecret)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)

	return func(c *fiber.Ctx) error {
		if cfg.Mode == "" || cfg.Mode == config.AuthNone {
			return c.Next()
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return unauthorized(c)
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		switch cfg.Mode {
		case config.AuthAPIKey:
			if cfg.APIKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(cfg.APIKey)) == 1 {
				return c.Next()
			}
		case config.AuthJWT:
			_, err := parser.Parse(token, func(*jwt.Token) (any, error) { return secret, nil })
			if err == nil {
				return c.Next()
			}
			logger.Debug().Err(err).Msg("Rejected visitor lookup token")
		}

		logger.Warn().
			Str("path", c.Path()).
			Str("ip", c.IP()).
			Msg("Unauthorized visitor lookup")
		return unauthorized(c)
	}
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(errorBody("Unauthorized"))
}

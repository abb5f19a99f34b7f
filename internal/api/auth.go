package api

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/Checker-Finance/credpool/internal/metrics"
	"github.com/Checker-Finance/credpool/internal/rate"
)

const (
	localIdentity = "identity"
	localRole     = "role"

	RoleAdmin = "admin"

	CodeUnauthorized   = "UNAUTHORIZED"
	CodeForbidden      = "FORBIDDEN"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInvalidRequest = "INVALID_REQUEST"
)

// Claims carries the identity in sub and an optional role.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type AuthConfig struct {
	Secret []byte
	// Issuer is enforced when set.
	Issuer string
}

// JWTAuth verifies the HS256 bearer token and stores its subject as the
// request identity.
func JWTAuth(cfg AuthConfig, logger *zap.Logger) fiber.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
			return fail(c, fiber.StatusUnauthorized, CodeUnauthorized, "missing bearer token")
		}

		var claims Claims
		_, err := parser.ParseWithClaims(strings.TrimSpace(token), &claims, func(*jwt.Token) (any, error) {
			return cfg.Secret, nil
		})
		if err != nil {
			metrics.IncError("api", "auth")
			logger.Debug("api.auth.rejected", zap.Error(err))
			msg := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "token expired"
			}
			return fail(c, fiber.StatusUnauthorized, CodeUnauthorized, msg)
		}
		if claims.Subject == "" {
			return fail(c, fiber.StatusUnauthorized, CodeUnauthorized, "token has no subject")
		}

		c.Locals(localIdentity, claims.Subject)
		c.Locals(localRole, claims.Role)
		return c.Next()
	}
}

// RequireAdmin admits only tokens with the admin role.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if role, _ := c.Locals(localRole).(string); role != RoleAdmin {
			return fail(c, fiber.StatusForbidden, CodeForbidden, "admin role required")
		}
		return c.Next()
	}
}

// RateLimit throttles each identity independently.
func RateLimit(mgr *rate.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if mgr == nil {
			return c.Next()
		}
		key := IdentityFrom(c)
		if !mgr.Allow(key) {
			metrics.IncError("api", "rate_limited")
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfterSeconds(mgr.RetryAfter(key))))
			return fail(c, fiber.StatusTooManyRequests, CodeRateLimited, "too many requests")
		}
		return c.Next()
	}
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// IdentityFrom returns the authenticated identity of the request.
func IdentityFrom(c *fiber.Ctx) string {
	id, _ := c.Locals(localIdentity).(string)
	return id
}

// SignToken issues an HS256 token. Used by tooling and tests; production
// tokens come from the identity provider.
func SignToken(secret []byte, issuer, subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

const sessionAddressKey = "session_address"

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

func sessionAddress(c echo.Context) string {
	if addr, ok := c.Get(sessionAddressKey).(string); ok {
		return addr
	}
	return ""
}

// requireSession resolves the bearer token to a wallet address and
// stashes it on the context. Missing, forged and expired tokens all
// read the same from outside.
func (h *Handlers) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c)
		if token == "" {
			return errJSON(c, http.StatusUnauthorized, "invalid or expired token")
		}
		address, _, err := h.Auth.Session(token)
		if err != nil {
			return errJSON(c, http.StatusUnauthorized, "invalid or expired token")
		}
		c.Set(sessionAddressKey, address)
		return next(c)
	}
}

// perMinuteLimiter rate-limits by client IP.
func perMinuteLimiter(perMinute int) echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(float64(perMinute) / 60.0),
			Burst:     perMinute,
			ExpiresIn: 3 * time.Minute,
		}),
		ErrorHandler: func(c echo.Context, err error) error {
			return errJSON(c, http.StatusTooManyRequests, "rate limit exceeded")
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return errJSON(c, http.StatusTooManyRequests, "rate limit exceeded")
		},
	})
}

package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humaecho"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/wizdom13/ytdlnis/internal/store"
)

// RateLimit enforces the per-client fixed-window quota. Clients are
// identified by their bearer token when present, otherwise by remote IP.
func RateLimit(limiter *store.RateLimiter) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		identity, _ := strings.CutPrefix(ctx.Header("Authorization"), "Bearer ")
		if identity == "" {
			identity = humaecho.Unwrap(ctx).RealIP()
		}

		ok, retryAfter, err := limiter.Allow(ctx.Context(), identity)
		if err != nil {
			// Degraded store: let the request through rather than 500ing.
			log.Warn().Err(err).Msg("rate limit check failed")
			next(ctx)
			return
		}
		if !ok {
			secs := int(math.Ceil(retryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			ctx.SetHeader("Retry-After", strconv.Itoa(secs))
			writeError(ctx, http.StatusTooManyRequests, "RateLimited", "request quota exceeded, slow down")
			return
		}
		next(ctx)
	}
}

// RateLimitEcho is the same quota check for plain echo routes, with the
// same identity rule: bearer token when present, remote IP otherwise.
func RateLimitEcho(limiter *store.RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity, _ := strings.CutPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
			if identity == "" {
				identity = c.RealIP()
			}
			ok, retryAfter, err := limiter.Allow(c.Request().Context(), identity)
			if err != nil {
				log.Warn().Err(err).Msg("rate limit check failed")
				return next(c)
			}
			if !ok {
				secs := int(math.Ceil(retryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				return c.JSON(http.StatusTooManyRequests, errorBody{
					Kind:    "RateLimited",
					Message: "request quota exceeded, slow down",
				})
			}
			return next(c)
		}
	}
}

package echo

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	serrors "go.pilab.hu/authz/errors"
	"go.pilab.hu/authz/log"
)

// idleLimiterTTL evicts the limiters of addresses that went quiet.
const idleLimiterTTL = 10 * time.Minute

// rateLimiter keeps one token bucket per client address.
type rateLimiter struct {
	limiters *ttlcache.Cache[string, *rate.Limiter]
	rate     rate.Limit
	burst    int
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(rps)))
	}

	limiters := ttlcache.New(ttlcache.WithTTL[string, *rate.Limiter](idleLimiterTTL))
	go limiters.Start()

	return &rateLimiter{
		limiters: limiters,
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

func (rl *rateLimiter) get(key string) *rate.Limiter {
	item, _ := rl.limiters.GetOrSet(key, rate.NewLimiter(rl.rate, rl.burst))
	return item.Value()
}

func (rl *rateLimiter) stop() {
	rl.limiters.Stop()
}

func (oa *OAuth2API) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if oa.limiter == nil {
			return next(c)
		}

		key := c.RealIP()
		limiter := oa.limiter.get(key)
		if limiter.Allow() {
			return next(c)
		}

		reservation := limiter.Reserve()
		delay := reservation.Delay()
		reservation.Cancel()

		retryAfter := max(int(math.Ceil(delay.Seconds())), 1)
		c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))

		oa.logger.Warn(c.Request().Context(), "rate limit exceeded", log.Fields{
			"ip":          key,
			"path":        c.Path(),
			"retry_after": retryAfter,
		})

		setNoStore(c)
		return c.JSON(http.StatusTooManyRequests, &serrors.OAuth2Error{
			Code:        serrors.TemporarilyUnavailable,
			Description: "Too many requests, retry later",
		})
	}
}

package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sitesage/sitesage/pkg/config"
)

// DefaultClass is the endpoint class applied when a handler does not
// declare one.
const DefaultClass = "default"

// ClientIdentity resolves who the request counts against. Authenticated
// handlers set "client_id" upstream; everything else falls back to the
// client IP.
func ClientIdentity(c *gin.Context) string {
	if id, exists := c.Get("client_id"); exists {
		if s, ok := id.(string); ok && s != "" {
			return s
		}
	}
	return c.ClientIP()
}

// EndpointClass returns the rate limit class declared for the route,
// or DefaultClass.
func EndpointClass(c *gin.Context) string {
	if class, exists := c.Get("endpoint_class"); exists {
		if s, ok := class.(string); ok && s != "" {
			return s
		}
	}
	return DefaultClass
}

// SetEndpointClass tags a route with a rate limit class. Register it
// before Middleware on routes that need non-default limits.
func SetEndpointClass(class string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("endpoint_class", class)
		c.Next()
	}
}

// Middleware enforces per-identity request limits. Trusted identities
// bypass limiting entirely; everyone else gets the default limit unless
// their endpoint class has an override.
func Middleware(limiter *Limiter, cfg config.RateLimitConfig) gin.HandlerFunc {
	trusted := make(map[string]bool, len(cfg.TrustedIdentities))
	for _, id := range cfg.TrustedIdentities {
		trusted[id] = true
	}

	return func(c *gin.Context) {
		identity := ClientIdentity(c)
		if trusted[identity] {
			c.Next()
			return
		}

		class := EndpointClass(c)
		limit := cfg.DefaultLimit
		window := cfg.DefaultWindow
		if override, ok := cfg.EndpointOverrides[class]; ok {
			limit = override.Limit
			window = override.Window
		}

		key := fmt.Sprintf("%s:%s", class, identity)
		decision := limiter.Check(c.Request.Context(), key, limit, window)

		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(decision.ResetAfter.Seconds())))
		c.Header("X-RateLimit-Mode", decision.Source)

		if !decision.Allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": int(decision.RetryAfter.Seconds()),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

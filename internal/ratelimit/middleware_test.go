package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitesage/sitesage/pkg/config"
)

func newTestRouter(t *testing.T, cfg config.RateLimitConfig) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	limiter := NewLimiter(nil, nil)

	router := gin.New()
	router.GET("/audits", Middleware(limiter, cfg), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/reports", SetEndpointClass("reports"), Middleware(limiter, cfg), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

func doRequest(router *gin.Engine, path, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = ip + ":12345"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestMiddleware_AllowsWithinLimit(t *testing.T) {
	router := newTestRouter(t, config.RateLimitConfig{
		DefaultLimit:  3,
		DefaultWindow: time.Minute,
	})

	w := doRequest(router, "/audits", "10.0.0.1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, SourceMemoryFallback, w.Header().Get("X-RateLimit-Mode"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
}

func TestMiddleware_RejectsOverLimit(t *testing.T) {
	router := newTestRouter(t, config.RateLimitConfig{
		DefaultLimit:  2,
		DefaultWindow: time.Minute,
	})

	doRequest(router, "/audits", "10.0.0.1")
	doRequest(router, "/audits", "10.0.0.1")
	w := doRequest(router, "/audits", "10.0.0.1")

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, w.Body.String(), "retry_after")
	assert.Contains(t, w.Body.String(), "rate limit exceeded")
}

func TestMiddleware_IdentitiesCountedSeparately(t *testing.T) {
	router := newTestRouter(t, config.RateLimitConfig{
		DefaultLimit:  1,
		DefaultWindow: time.Minute,
	})

	w := doRequest(router, "/audits", "10.0.0.1")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, "/audits", "10.0.0.2")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, "/audits", "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestMiddleware_EndpointOverride(t *testing.T) {
	router := newTestRouter(t, config.RateLimitConfig{
		DefaultLimit:  100,
		DefaultWindow: time.Minute,
		EndpointOverrides: map[string]config.EndpointOverride{
			"reports": {Limit: 1, Window: 5 * time.Minute},
		},
	})

	w := doRequest(router, "/reports", "10.0.0.1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))

	w = doRequest(router, "/reports", "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// The default class keeps its own budget.
	w = doRequest(router, "/audits", "10.0.0.1")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_TrustedIdentityBypass(t *testing.T) {
	router := newTestRouter(t, config.RateLimitConfig{
		DefaultLimit:      1,
		DefaultWindow:     time.Minute,
		TrustedIdentities: []string{"10.0.0.9"},
	})

	for i := 0; i < 5; i++ {
		w := doRequest(router, "/audits", "10.0.0.9")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestMiddleware_AuthenticatedIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiter := NewLimiter(nil, nil)
	cfg := config.RateLimitConfig{DefaultLimit: 1, DefaultWindow: time.Minute}

	router := gin.New()
	router.GET("/audits",
		func(c *gin.Context) { c.Set("client_id", c.Query("user")) },
		Middleware(limiter, cfg),
		func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) },
	)

	// Same IP, different users: each gets its own budget.
	w := doRequest(router, "/audits?user=alice", "10.0.0.1")
	require.Equal(t, http.StatusOK, w.Code)
	w = doRequest(router, "/audits?user=bob", "10.0.0.1")
	assert.Equal(t, http.StatusOK, w.Code)
	w = doRequest(router, "/audits?user=alice", "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestClientIdentity_FallsBackToIP(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "10.0.0.1:12345"

	assert.Equal(t, "10.0.0.1", ClientIdentity(c))

	c.Set("client_id", "user-42")
	assert.Equal(t, "user-42", ClientIdentity(c))
}

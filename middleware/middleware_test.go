package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/phillip/schoolfund-go/auth"
)

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id":   c.GetString(KeyUserID),
			"role":      c.GetString(KeyRole),
			"school_id": c.GetString(KeySchoolID),
		})
	})
	r.GET("/private", handlers...)
	return r
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	tokens := auth.NewIssuer("secret", time.Hour)
	token, _, err := tokens.Issue("donor-1", "donor", "", "Sam")
	require.NoError(t, err)
	r := newEngine(AuthMiddleware(tokens))

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/private", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := serve(r, req)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"user_id":"donor-1"`)
	})

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/private", nil)
		req.AddCookie(&http.Cookie{Name: "token", Value: token})
		assert.Equal(t, http.StatusOK, serve(r, req).Code)
	})

	t.Run("missing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/private", nil)
		assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/private", nil)
		req.Header.Set("Authorization", "Basic "+token)
		req.AddCookie(&http.Cookie{Name: "token", Value: token})
		assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)
	})

	t.Run("foreign signature", func(t *testing.T) {
		other, _, err := auth.NewIssuer("other", time.Hour).Issue("donor-1", "donor", "", "")
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/private", nil)
		req.Header.Set("Authorization", "Bearer "+other)
		assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)
	})
}

func TestRequireRole(t *testing.T) {
	tokens := auth.NewIssuer("secret", time.Hour)
	r := newEngine(AuthMiddleware(tokens), RequireRole("school", "principal"))

	for role, want := range map[string]int{
		"school":    http.StatusOK,
		"principal": http.StatusOK,
		"donor":     http.StatusForbidden,
		"admin":     http.StatusForbidden,
	} {
		token, _, err := tokens.Issue("id", role, "school-1", "")
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/private", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		assert.Equal(t, want, serve(r, req).Code, role)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("1.1.1.1"))
	assert.True(t, rl.Allow("1.1.1.1"))
	assert.False(t, rl.Allow("1.1.1.1"))
	assert.True(t, rl.Allow("2.2.2.2"), "buckets are per key")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("1.1.1.1"), "one token refills per second at 60/min")
	assert.False(t, rl.Allow("1.1.1.1"))
}

func TestRateLimiterMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/login", NewRateLimiter(10, 1).Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	first := serve(r, httptest.NewRequest(http.MethodPost, "/login", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := serve(r, httptest.NewRequest(http.MethodPost, "/login", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))
}

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := gin.New()
	r.Use(RequestLogger(logger))
	r.GET("/boom/:id", func(c *gin.Context) { c.JSON(http.StatusInternalServerError, gin.H{"error": "x"}) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/boom/42", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "status=500")
	assert.Contains(t, buf.String(), "path=/boom/42")
}

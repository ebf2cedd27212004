package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetClientFromContext(r.Context())))
	})
}

func TestAPIKeyAuth(t *testing.T) {
	h := APIKeyAuth(map[string]string{"portal": "key-1", "batch": "key-2"})(okHandler())

	tests := []struct {
		name   string
		path   string
		header string
		want   int
		client string
	}{
		{"missing header", "/v1/patterns", "", http.StatusUnauthorized, ""},
		{"empty bearer", "/v1/patterns", "Bearer ", http.StatusUnauthorized, ""},
		{"wrong key", "/v1/patterns", "Bearer nope", http.StatusUnauthorized, ""},
		{"bearer key", "/v1/patterns", "Bearer key-2", http.StatusOK, "batch"},
		{"bare key", "/v1/patterns", "key-1", http.StatusOK, "portal"},
		{"probe", "/health", "", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, tt.client, rec.Body.String())
			}
		})
	}
}

func TestAPIKeyAuth_XAPIKeyHeader(t *testing.T) {
	h := APIKeyAuth(map[string]string{"portal": "key-1"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/patterns", nil)
	req.Header.Set("X-API-Key", "key-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "portal", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/v1/patterns", nil)
	req.Header.Set("X-API-Key", "key-2")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIKeyAuth_Disabled(t *testing.T) {
	h := APIKeyAuth(nil)(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/patterns", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 2)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	// keys are independent
	assert.True(t, rl.Allow("b"))

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("a"))

	now = now.Add(limiterIdle + time.Second)
	assert.Equal(t, 2, rl.Cleanup(limiterIdle))
	assert.Equal(t, 0, rl.Cleanup(limiterIdle))
}

func TestRateLimitMiddleware_KeysByClientAndIP(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	h := RateLimitMiddleware(rl)(okHandler())

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, send("10.0.0.1:1234"))
	// same IP, different source port
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:5678"))
	assert.Equal(t, http.StatusOK, send("10.0.0.2:1234"))
}

func TestHealthHandler(t *testing.T) {
	checks := map[string]HealthChecker{
		"database": &PingChecker{Target: pingFunc(func(context.Context) error { return nil })},
		"storage":  &PingChecker{Target: pingFunc(func(context.Context) error { return errors.New("bucket unreachable") })},
	}
	rec := httptest.NewRecorder()
	HealthHandler(checks)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "bucket unreachable")

	rec = httptest.NewRecorder()
	HealthHandler(map[string]HealthChecker{"database": checks["database"]})(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPingChecker_Timeout(t *testing.T) {
	slow := &PingChecker{
		Target: pingFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}),
		Timeout: 10 * time.Millisecond,
	}
	require.ErrorIs(t, slow.Check(context.Background()), context.DeadlineExceeded)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "Clause 1.\tPay\r\nnow", SanitizeText("  Clause 1.\tPay\x00\r\nno\x07w \x1b"))
	assert.Equal(t, "", SanitizeText("\x00\x01"))
}

func TestValidateLimit(t *testing.T) {
	assert.Equal(t, 20, ValidateLimit(0, 20, 100))
	assert.Equal(t, 100, ValidateLimit(500, 20, 100))
	assert.Equal(t, 7, ValidateLimit(7, 20, 100))
}

func TestParse(t *testing.T) {
	assert.Equal(t, 3, ParseInt(" 3 "))
	assert.Equal(t, 0, ParseInt("three"))
	assert.True(t, ParseBool("true"))
	assert.True(t, ParseBool("1"))
	assert.False(t, ParseBool("yes"))
	assert.False(t, ParseBool(""))
}

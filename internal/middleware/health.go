package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthChecker is one named dependency behind /health.
type HealthChecker interface {
	Check(ctx context.Context) error
}

// CheckFunc adapts a function to HealthChecker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Pinger is anything with a connectivity check: SQL stores, object storage.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker checks a dependency with a short deadline
type PingChecker struct {
	Target  Pinger
	Timeout time.Duration
}

func (p *PingChecker) Check(ctx context.Context) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Target.Ping(ctx)
}

// HealthStatus is the /health body.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckStatus `json:"checks"`
}

// CheckStatus is the outcome of one named dependency check.
type CheckStatus struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Message   string `json:"message,omitempty"`
}

// HealthHandler runs every check concurrently under one 5s deadline. Any
// failing check turns the response into 503.
func HealthHandler(checkers map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := HealthStatus{
			Status:    "healthy",
			Timestamp: time.Now().UTC(),
			Checks:    make(map[string]CheckStatus, len(checkers)),
		}

		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		for name, checker := range checkers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				start := time.Now()
				err := checker.Check(ctx)
				st := CheckStatus{Status: "healthy", LatencyMS: time.Since(start).Milliseconds()}
				if err != nil {
					st.Status, st.Message = "unhealthy", err.Error()
				}
				mu.Lock()
				health.Checks[name] = st
				if err != nil {
					health.Status = "unhealthy"
				}
				mu.Unlock()
			}()
		}
		wg.Wait()

		code := http.StatusOK
		if health.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(health)
	}
}

// ReadinessHandler reports ready until ready returns false, e.g. during shutdown.
func ReadinessHandler(ready func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ready", http.StatusOK
		if ready != nil && !ready() {
			status, code = "shutting_down", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    status,
			"timestamp": time.Now().UTC(),
		})
	}
}

// LivenessHandler answers 200 while the process can serve requests at all.
func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

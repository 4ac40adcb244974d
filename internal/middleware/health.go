package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"slices"
	"sort"
	"time"
)

const checkTimeout = 5 * time.Second

// Checker reports whether one dependency of the upload pipeline is usable.
type Checker interface {
	Check(ctx context.Context) error
}

// CheckFunc adapts a plain function, e.g. the predictor or bucket probe.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// PingDB checks the profile/history database.
func PingDB(db *sql.DB) CheckFunc {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return db.PingContext(ctx)
	}
}

// SessionGauge is the part of the session registry health looks at.
type SessionGauge interface {
	Len() int
	InFlight() int
}

// Health serves /health and /readyz. Only the checks named in Critical
// gate readiness; the rest are reported but never take the instance out.
type Health struct {
	Checks   map[string]Checker
	Critical []string
	Sessions SessionGauge
	Now      func() time.Time
}

type HealthReport struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
	Sessions  *SessionLoad           `json:"sessions,omitempty"`
}

type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SessionLoad is how busy this instance is.
type SessionLoad struct {
	Live      int `json:"live"`
	Uploading int `json:"uploading"`
}

// Report runs every check and snapshots the session load.
func (h *Health) Report(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	rep := HealthReport{
		Status:    "healthy",
		Timestamp: h.now(),
		Checks:    make(map[string]CheckResult, len(h.Checks)),
		Sessions:  h.load(),
	}
	for name, c := range h.Checks {
		if err := c.Check(ctx); err != nil {
			rep.Status = "unhealthy"
			rep.Checks[name] = CheckResult{Status: "unhealthy", Message: err.Error()}
			continue
		}
		rep.Checks[name] = CheckResult{Status: "healthy"}
	}
	return rep
}

// Handler is GET /health.
func (h *Health) Handler(w http.ResponseWriter, r *http.Request) {
	rep := h.Report(r.Context())
	code := http.StatusOK
	if rep.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, rep)
}

// Ready is GET /readyz: 503 while a critical dependency is down.
func (h *Health) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	var failing []string
	for name, c := range h.Checks {
		if !slices.Contains(h.Critical, name) {
			continue
		}
		if err := c.Check(ctx); err != nil {
			failing = append(failing, name)
		}
	}
	if len(failing) > 0 {
		sort.Strings(failing)
		writeHealth(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "not ready",
			"failing": failing,
		})
		return
	}
	writeHealth(w, http.StatusOK, map[string]any{
		"status":    "ready",
		"timestamp": h.now(),
		"sessions":  h.load(),
	})
}

// Liveness is GET /healthz.
func Liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Health) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Health) load() *SessionLoad {
	if h.Sessions == nil {
		return nil
	}
	return &SessionLoad{Live: h.Sessions.Len(), Uploading: h.Sessions.InFlight()}
}

func writeHealth(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

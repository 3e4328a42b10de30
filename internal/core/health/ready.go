package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Check is one named dependency the service needs before it can serve.
type Check struct {
	Name   string
	Pinger Pinger
}

// Readiness pings every check with the given timeout. Any failure makes the
// probe report 503 with the failing check's error.
func Readiness(timeout time.Duration, checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks,omitempty"`
		}
		out := resp{Status: "ready"}
		for _, c := range checks {
			if out.Checks == nil {
				out.Checks = make(map[string]string, len(checks))
			}
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			err := c.Pinger.Ping(ctx)
			cancel()
			if err != nil {
				out.Status = "not_ready"
				out.Checks[c.Name] = err.Error()
				continue
			}
			out.Checks[c.Name] = "ok"
		}
		w.Header().Set("Content-Type", "application/json")
		if out.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}

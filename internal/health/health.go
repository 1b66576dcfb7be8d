// Package health serves the recorder's liveness and readiness checks.
//
//   - /healthz answers 200 while the process can serve HTTP.
//   - /readyz answers 200 only when every registered [Checker] passes. For
//     racecomm that means the capture pipeline is live and the recordings
//     folder accepts new files.
//
// Both endpoints reply with JSON: {"status": "ok"|"fail", "checks": {...}}.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] evaluating checkers in order on each /readyz.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is the liveness check.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker with a [checkTimeout] deadline derived from the
// request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

// ─── racecomm checkers ───────────────────────────────────────────────────────

// ErrPipelineNotLive is reported by [PipelineChecker] while no capture
// pipeline is running.
var ErrPipelineNotLive = errors.New("capture pipeline is not live")

// PipelineState is the slice of the recorder engine the pipeline check
// needs. fmt.Stringer is used for the failure message.
type PipelineState interface {
	PipelineLive() (live bool, state fmt.Stringer)
}

// PipelineFunc adapts a plain function to [PipelineState].
type PipelineFunc func() (bool, fmt.Stringer)

// PipelineLive implements [PipelineState].
func (f PipelineFunc) PipelineLive() (bool, fmt.Stringer) { return f() }

// PipelineChecker fails while the capture pipeline is not live.
func PipelineChecker(p PipelineState) Checker {
	return Checker{
		Name: "pipeline",
		Check: func(context.Context) error {
			live, state := p.PipelineLive()
			if live {
				return nil
			}
			return fmt.Errorf("%w (state %s)", ErrPipelineNotLive, state)
		},
	}
}

// StorageChecker fails unless a scratch file can be created in dir. The file
// is a dot file that never parses as a recording name and is removed before
// returning.
func StorageChecker(dir string) Checker {
	return Checker{
		Name: "storage",
		Check: func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f, err := os.CreateTemp(dir, ".readyz-*")
			if err != nil {
				return fmt.Errorf("recordings folder not writable: %w", err)
			}
			name := f.Name()
			closeErr := f.Close()
			if err := os.Remove(name); err != nil {
				return fmt.Errorf("remove scratch file %s: %w", filepath.Base(name), err)
			}
			return closeErr
		},
	}
}

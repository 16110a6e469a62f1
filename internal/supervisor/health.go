package supervisor

import (
	"net/http"
	"sync/atomic"

	"pylon/internal/config"
)

// readiness flips once module init has completed and the node is serving.
type readiness struct {
	ready atomic.Bool
}

func (r *readiness) markReady()   { r.ready.Store(true) }
func (r *readiness) markStopped() { r.ready.Store(false) }

// installHealthEndpoints mounts the three configured health probes:
// healthz/livez answer as soon as the process accepts connections, readyz
// only after module init completed.
func installHealthEndpoints(mux *http.ServeMux, cfg config.HealthSettings, r *readiness) {
	ok := func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
	if cfg.Healthz != "" {
		mux.HandleFunc(cfg.Healthz, ok)
	}
	if cfg.Livez != "" {
		mux.HandleFunc(cfg.Livez, ok)
	}
	if cfg.Readyz != "" {
		mux.HandleFunc(cfg.Readyz, func(w http.ResponseWriter, _ *http.Request) {
			if !r.ready.Load() {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
	}
}

// Package opshttp is the small operator-facing HTTP surface every
// long-running process in the fabric exposes: liveness, readiness, and
// Prometheus metrics. It is not the excluded front door — no business
// endpoint lives here — grounded on the teacher's orchestrator/run.go
// mux.NewRouter + rs/cors + promhttp.Handler wiring, narrowed to the
// three operator routes §2's "Supplemented Features" section calls for.
package opshttp

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// Checker reports whether a dependency this process needs is currently
// reachable. The cmd binaries each register one, a database ping built
// with DBChecker.
type Checker func() error

// Server is the gorilla/mux router backing /healthz, /readyz and
// /metrics for one process.
type Server struct {
	router *mux.Router
	db     *sql.DB
	checks map[string]Checker
}

// New constructs a Server for component, wiring readiness checks.
func New(component string, db *sql.DB, checks map[string]Checker) *Server {
	s := &Server{router: mux.NewRouter(), db: db, checks: checks}

	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return s
}

// Handler wraps the router in the same permissive CORS middleware the
// teacher's front-door-adjacent surfaces use.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	})
	return c.Handler(s.router)
}

// handleHealthz reports process liveness: if this handler runs at all,
// the process is alive. It never touches a dependency.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleReadyz runs every registered Checker and reports 200 only if all
// pass, so an instance whose registered check fails (for the cmd
// binaries, a lost database connection) stops receiving traffic from a
// load balancer/orchestrator supervising it.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	failures := map[string]string{}
	for name, check := range s.checks {
		if err := check(); err != nil {
			failures[name] = err.Error()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if len(failures) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "not_ready", "failures": failures})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// DBChecker returns a Checker that pings db.
func DBChecker(db *sql.DB) Checker {
	return func() error { return db.Ping() }
}

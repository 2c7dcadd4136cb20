package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/andperez123/capnet/internal/api/recovery"
	"github.com/andperez123/capnet/internal/api/respond"
	"github.com/andperez123/capnet/internal/metrics"
	"github.com/andperez123/capnet/internal/status"
)

// NewRouter wires every route of the directory API. The returned handler
// applies access logging, panic recovery and CORS ahead of routing.
func NewRouter(d Deps) http.Handler {
	if d.Events == nil {
		d.Events = noopPublisher{}
	}
	if d.Reputation == nil {
		d.Reputation = offScorer{}
	}
	if d.Prober == nil {
		d.Prober = status.NewProber(d.Config.ExternalTimeout())
	}

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respond.WriteNotFound(w, "Not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respond.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	joinHandler := NewJoinHandler(d.Store, d.Log)
	operatorHandler := NewOperatorHandler(d.Store, d.Events, d.Config.SecureCookies(), d.Log)
	agentHandler := NewAgentHandler(d.Store, d.Events, d.Log)
	trustHandler := NewTrustHandler(d.Config, d.Store, d.Reputation, d.Prober, d.Events, d.Log)
	publicHandler := NewPublicHandler(d.Config, d.Store, d.Prober, d.Health, d.Log)

	// Public endpoints
	router.HandleFunc("/api/health", publicHandler.Health).Methods("GET")
	router.HandleFunc("/api/status", publicHandler.Status).Methods("GET")
	router.HandleFunc("/api/leaderboard", publicHandler.Leaderboard).Methods("GET")
	router.HandleFunc("/api/join", joinHandler.Join).Methods("POST")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	// Console endpoints
	kv := requireKV(d.Config.ConsoleRequiresKV, d.Store)
	console := func(path string, fn http.HandlerFunc, method string) {
		router.Handle(path, kv(fn)).Methods(method)
	}
	console("/api/operator/session", operatorHandler.CreateSession, "POST")
	console("/api/operator/me", operatorHandler.Me, "GET")
	console("/api/register-agent", agentHandler.Register, "POST")
	console("/api/agents", agentHandler.List, "GET")
	console("/api/agent", agentHandler.Get, "GET")
	console("/api/reports", agentHandler.Report, "POST")
	console("/api/activity", agentHandler.Activity, "GET")
	console("/api/verify", trustHandler.Verify, "POST")
	console("/api/trust/score", trustHandler.Score, "GET")

	var h http.Handler = router
	h = recovery.Middleware(h)
	h = CORS(d.Config.CORSOrigin)(h)
	h = AccessLog(d.Log)(h)
	return h
}

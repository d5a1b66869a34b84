package api

import (
	"net/http"

	"github.com/bcnelson/ztna-hub/internal/acl"
	"github.com/bcnelson/ztna-hub/internal/api/handler"
	"github.com/bcnelson/ztna-hub/internal/api/middleware"
	"github.com/bcnelson/ztna-hub/internal/heartbeat"
	"github.com/bcnelson/ztna-hub/internal/storage"
	"github.com/bcnelson/ztna-hub/internal/tunnel"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(
	store storage.Storage,
	rules *acl.Store,
	engine *acl.Engine,
	manager *tunnel.Manager,
	monitor *heartbeat.Monitor,
	bootstrapKey string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging)

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// API routes (auth required, JSON Content-Type)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ContentType)
		r.Use(middleware.Auth(store, bootstrapKey))

		// API Keys
		keyHandler := handler.NewAPIKeyHandler(store)
		r.Post("/keys", keyHandler.Create)
		r.Get("/keys", keyHandler.List)
		r.Delete("/keys/{id}", keyHandler.Delete)

		// Access Rules
		ruleHandler := handler.NewRuleHandler(rules, manager)
		r.Post("/rules", ruleHandler.Create)
		r.Get("/rules", ruleHandler.List)
		r.Get("/rules/{id}", ruleHandler.Get)
		r.Put("/rules/{id}", ruleHandler.Update)
		r.Put("/rules/{id}/enabled", ruleHandler.SetEnabled)
		r.Delete("/rules/{id}", ruleHandler.Delete)

		// ACL Evaluation
		evalHandler := handler.NewEvaluateHandler(engine)
		r.Post("/evaluate", evalHandler.Evaluate)
		r.Post("/evaluate/dry-run", evalHandler.DryRun)

		// Tunnels
		tunnelHandler := handler.NewTunnelHandler(manager)
		r.Post("/tunnels", tunnelHandler.Create)
		r.Get("/tunnels", tunnelHandler.List)
		r.Get("/tunnels/{id}", tunnelHandler.Get)
		r.Get("/tunnels/{id}/stats", tunnelHandler.Stats)
		r.Delete("/tunnels/{id}", tunnelHandler.Close)

		// Agent callbacks for the tunnel lifecycle
		agentHandler := handler.NewAgentHandler(manager)
		r.Post("/tunnels/{id}/connecting", agentHandler.Connecting)
		r.Post("/tunnels/{id}/established", agentHandler.Established)
		r.Post("/tunnels/{id}/failure", agentHandler.Failure)

		// Heartbeats and the node directory
		heartbeatHandler := handler.NewHeartbeatHandler(monitor)
		r.Post("/heartbeats", heartbeatHandler.Receive)
		r.Get("/nodes", heartbeatHandler.Nodes)

		// Audit events
		eventHandler := handler.NewEventHandler(store)
		r.Get("/events", eventHandler.List)
	})

	return r
}

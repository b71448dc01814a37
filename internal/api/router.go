package api

import (
	"net/http"
	"time"

	// This blank import is required by swaggo to find the API definitions.
	_ "lmdash/docs"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

// NewRouter creates and configures a new chi router with all the application's routes.
func NewRouter(dashboard *DashboardHandler, models *ModelHandler) *chi.Mux {
	r := chi.NewRouter()

	// --- Global Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- Operational Routes ---
	r.Get("/api/swagger/*", httpSwagger.WrapHandler)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// --- API Version 1 Routes ---
	r.Route("/api/v1", func(r chi.Router) {

		// Plain JSON routes get a request timeout. Prompt and retry return
		// as soon as the model tasks are started, so they belong here too.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			// --- Dashboard ---
			r.Get("/state", dashboard.GetState)
			r.Post("/prompts", dashboard.SubmitPrompt)

			// --- Settings ---
			r.Get("/settings", dashboard.GetSettings)
			r.Put("/settings", dashboard.UpdateSettings)

			// --- Conversations ---
			r.Get("/conversations", dashboard.ListConversations)
			r.Post("/conversations", dashboard.CreateConversation)
			r.Delete("/conversations", dashboard.ClearAllConversations)
			r.Put("/conversations/{conversationID}/active", dashboard.SelectConversation)
			r.Delete("/conversations/{conversationID}", dashboard.DeleteConversation)

			// --- Models ---
			r.Post("/models/refresh", models.HandleRefreshModels)
			r.Post("/models/{modelID}/toggle", models.HandleToggleModel)
			r.Post("/models/{modelID}/history", models.HandleToggleHistory)
			r.Post("/models/{modelID}/retry", models.HandleRetryModel)
			r.Delete("/models/{modelID}/conversation", models.HandleClearConversation)
		})

		// The event stream holds its connection open and must not time out.
		r.Get("/events", dashboard.StreamEvents)
	})

	return r
}

package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/handbook-assistant/backend/internal/handler/chat"
	"github.com/zhouzirui/handbook-assistant/backend/internal/handler/stream"
	"github.com/zhouzirui/handbook-assistant/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/handbook-assistant/backend/internal/middleware"
	"github.com/zhouzirui/handbook-assistant/backend/pkg/utils"
)

// Engine is the compose engine surface served over HTTP, SSE and websocket.
type Engine = chat.Engine

// NewRouter wires HTTP routes to the compose engine. A nil engine keeps the
// routes mounted but answers them with 503.
func NewRouter(engine Engine, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(api chi.Router) {
		chat.New(engine).RegisterRoutes(api)
		stream.New(engine).RegisterRoutes(api)
		ws.New(engine).RegisterRoutes(api)
	})

	return r
}

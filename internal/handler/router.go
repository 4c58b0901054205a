package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	embedHandler "github.com/zhouzirui/embedchat/backend/internal/handler/embed"
	middlewarePkg "github.com/zhouzirui/embedchat/backend/internal/middleware"
	embedModel "github.com/zhouzirui/embedchat/backend/internal/model/embed"
	"github.com/zhouzirui/embedchat/backend/internal/observability"
	"github.com/zhouzirui/embedchat/backend/internal/store"
	"github.com/zhouzirui/embedchat/backend/pkg/utils"
)

// Deps 汇总路由需要的服务。
type Deps struct {
	Runner   embedHandler.Runner
	History  store.HistoryStore
	Embeds   embedModel.Store
	HelpRule *embedModel.HelpRule
	// Metrics 为 nil 时不暴露 /metrics。
	Metrics *observability.Metrics
	APIKeys []string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Group(func(api chi.Router) {
		api.Use(middlewarePkg.APIKeyAuth(deps.APIKeys))
		embedHandler.New(deps.Runner, deps.History, deps.Embeds, deps.HelpRule).RegisterRoutes(api)
	})

	return r
}

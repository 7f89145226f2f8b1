package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ollamachat/ollamachat/config"
	"ollamachat/ollamachat/controllers"
	"ollamachat/ollamachat/middlewares"
	httputils "ollamachat/ollamachat/utils/http"
	"ollamachat/ollamachat/utils/logging"
)

// Deps is everything the HTTP surface is built from.
type Deps struct {
	Config  config.Config
	Logs    *logging.Loggers
	Limiter *middlewares.RateLimiter

	Health  *controllers.HealthController
	Models  *controllers.ModelController
	History *controllers.HistoryController
	Chat    *controllers.ChatController
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewares.RequestLogger(d.Logs))
	r.Use(middleware.Recoverer)
	r.Use(middlewares.Session(d.Config, d.Logs))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputils.WriteJSON(w, http.StatusNotFound, httputils.ErrorBody{
			Error:   "Page not found",
			Message: "The requested page or endpoint could not be found.",
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httputils.WriteJSON(w, http.StatusMethodNotAllowed, httputils.ErrorBody{
			Error:   "Method not allowed",
			Message: "The requested method is not supported for this endpoint.",
		})
	})

	r.Group(HealthRoutes(d.Health))

	r.Group(func(r chi.Router) {
		r.Use(middlewares.RateLimit(d.Limiter, d.Logs))

		// streaming routes are not bound by the request timeout
		r.Group(ChatRoutes(d.Chat, d.Logs))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(d.Config.RequestTimeout))
			r.Group(IndexRoutes(d.Models, d.Config.DefaultModel, d.Config.MaxPromptChars, d.Logs))
			r.Group(ModelRoutes(d.Models, d.Logs))
			r.Group(HistoryRoutes(d.History, d.Config.MaxUploadBytes, d.Logs))
		})
	})
	return r
}

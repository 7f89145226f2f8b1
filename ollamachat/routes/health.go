package routes

import (
	"github.com/go-chi/chi/v5"

	"ollamachat/ollamachat/controllers"
)

func HealthRoutes(ctrl *controllers.HealthController) func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/health", ctrl.HealthCheck)
	}
}

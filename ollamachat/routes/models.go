package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ollamachat/ollamachat/controllers"
	"ollamachat/ollamachat/middlewares"
	httputils "ollamachat/ollamachat/utils/http"
	"ollamachat/ollamachat/utils/logging"
)

func ModelRoutes(ctrl *controllers.ModelController, logs *logging.Loggers) func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
			resp, err := ctrl.List(r.Context(), middlewares.SessionID(r.Context()))
			if err != nil {
				httputils.WriteError(w, r, logs, err)
				return
			}
			httputils.WriteJSON(w, http.StatusOK, resp)
		})
		r.Post("/add_model", func(w http.ResponseWriter, r *http.Request) {
			resp, err := ctrl.Add(r.Context(), middlewares.SessionID(r.Context()), httputils.DecodeInput(r))
			if err != nil {
				httputils.WriteError(w, r, logs, err)
				return
			}
			httputils.WriteJSON(w, http.StatusOK, resp)
		})
		r.Post("/remove_model", func(w http.ResponseWriter, r *http.Request) {
			resp, err := ctrl.Remove(r.Context(), middlewares.SessionID(r.Context()), httputils.DecodeInput(r))
			if err != nil {
				httputils.WriteError(w, r, logs, err)
				return
			}
			httputils.WriteJSON(w, http.StatusOK, resp)
		})
	}
}

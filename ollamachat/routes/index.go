package routes

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"ollamachat/ollamachat/controllers"
	"ollamachat/ollamachat/middlewares"
	"ollamachat/ollamachat/utils/logging"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

type indexPage struct {
	Models         []string
	DefaultModel   string
	MaxPromptChars int
}

func IndexRoutes(ctrl *controllers.ModelController, defaultModel string, maxPromptChars int, logs *logging.Loggers) func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			page := indexPage{
				Models:         ctrl.Available(r.Context(), middlewares.SessionID(r.Context())),
				DefaultModel:   defaultModel,
				MaxPromptChars: maxPromptChars,
			}
			var buf bytes.Buffer
			if err := indexTemplate.Execute(&buf, page); err != nil {
				logs.Error.Error("render index failed", zap.Error(err))
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = buf.WriteTo(w)
		})
	}
}

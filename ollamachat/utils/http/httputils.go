// ollamachat/utils/http/httputils.go
package httputils

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"ollamachat/ollamachat/utils/errs"
	"ollamachat/ollamachat/utils/jsonutils"
	"ollamachat/ollamachat/utils/logging"
	"ollamachat/ollamachat/utils/validation"
)

// ErrorBody is the shape of every JSON error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err. Classified errors keep their title and message;
// anything else is logged and hidden behind a generic 500.
func WriteError(w http.ResponseWriter, r *http.Request, logs *logging.Loggers, err error) {
	var e *errs.Error
	if !errors.As(err, &e) {
		logs.Error.Error("unhandled error",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		WriteJSON(w, http.StatusInternalServerError, ErrorBody{
			Error:   "Internal server error",
			Message: "An unexpected error occurred. Please try again or contact support if the issue persists.",
		})
		return
	}
	if e.Err != nil || e.Kind == errs.Internal {
		logs.Error.Error(e.Title,
			zap.String("path", r.URL.Path),
			zap.String("kind", e.Kind.String()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(e),
		)
	}
	WriteJSON(w, e.Kind.HTTPStatus(), ErrorBody{Error: e.Title, Message: e.Message})
}

// DecodeInput reads the request body as a JSON object. A missing or
// malformed body decodes to an empty input so validation reports it.
func DecodeInput(r *http.Request) validation.Input {
	return validation.Input(jsonutils.DecodeObject(r.Body))
}

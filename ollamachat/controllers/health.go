package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"ollamachat/ollamachat/utils/errs"
	httputils "ollamachat/ollamachat/utils/http"
	"ollamachat/ollamachat/utils/logging"
)

// VersionChecker reports the engine's version.
type VersionChecker interface {
	Version(ctx context.Context) (string, error)
}

type HealthController struct {
	engine VersionChecker
	logs   *logging.Loggers
	now    func() time.Time
}

func NewHealthController(engine VersionChecker, logs *logging.Loggers) *HealthController {
	return &HealthController{engine: engine, logs: logs, now: time.Now}
}

type HealthResponse struct {
	Status    string `json:"status"`
	Ollama    string `json:"ollama,omitempty"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func (h *HealthController) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ts := h.now().Format(time.RFC3339)
	version, err := h.engine.Version(r.Context())
	if err != nil {
		h.logs.Error.Error("health check failed", zap.Error(err))
		resp := HealthResponse{
			Status:    "unhealthy",
			Error:     "Health check failed",
			Message:   "An unexpected error occurred during health check",
			Timestamp: ts,
		}
		var e *errs.Error
		if errors.As(err, &e) {
			resp.Error, resp.Message = e.Title, e.Message
		}
		httputils.WriteJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	h.logs.App.Debug("engine version", zap.String("version", version))
	httputils.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Ollama:    "accessible",
		Version:   version,
		Message:   "System is running normally",
		Timestamp: ts,
	})
}

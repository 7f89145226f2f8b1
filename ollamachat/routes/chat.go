package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"ollamachat/ollamachat/controllers"
	"ollamachat/ollamachat/middlewares"
	"ollamachat/ollamachat/utils/errs"
	httputils "ollamachat/ollamachat/utils/http"
	"ollamachat/ollamachat/utils/logging"
	"ollamachat/ollamachat/utils/validation"
)

func ChatRoutes(ctrl *controllers.ChatController, logs *logging.Loggers) func(chi.Router) {
	return func(r chi.Router) {
		// POST /stream_chat : reply as server-sent events
		r.Post("/stream_chat", func(w http.ResponseWriter, r *http.Request) {
			stream, err := ctrl.ChatStream(r.Context(), middlewares.SessionID(r.Context()), httputils.DecodeInput(r))
			if err != nil {
				httputils.WriteError(w, r, logs, err)
				return
			}
			rc := startEventStream(w)
			broken := false
			for ev := range stream.Events() {
				if broken {
					continue
				}
				if err := writeEvent(w, ev.Payload()); err != nil {
					broken = true
					continue
				}
				_ = rc.Flush()
			}
		})

		// GET /ws/stream_chat : the same stream over a websocket. The first
		// text frame carries the request body; each event is one frame.
		r.HandleFunc("/ws/stream_chat", func(w http.ResponseWriter, r *http.Request) {
			conn, err := websocket.Accept(w, r, nil)
			if err != nil {
				logs.Error.Error("websocket accept failed", zap.Error(err))
				return
			}
			defer conn.Close(websocket.StatusInternalError, "internal error")

			ctx := r.Context()
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ != websocket.MessageText {
				conn.Close(websocket.StatusUnsupportedData, "unsupported data")
				return
			}
			var in validation.Input
			if err := json.Unmarshal(data, &in); err != nil || in == nil {
				in = validation.Input{}
			}

			// CloseRead cancels ctx once the peer goes away.
			ctx = conn.CloseRead(ctx)
			stream, err := ctrl.ChatStream(ctx, middlewares.SessionID(r.Context()), in)
			if err != nil {
				body := httputils.ErrorBody{Error: "Streaming failed", Message: "An error occurred while processing your message. Please try again."}
				var e *errs.Error
				if errors.As(err, &e) {
					body = httputils.ErrorBody{Error: e.Title, Message: e.Message}
				} else {
					logs.Error.Error("websocket stream failed", zap.Error(err))
				}
				frame, _ := json.Marshal(body)
				_ = conn.Write(ctx, websocket.MessageText, frame)
				conn.Close(websocket.StatusPolicyViolation, body.Error)
				return
			}
			broken := false
			for ev := range stream.Events() {
				if broken {
					continue
				}
				broken = conn.Write(ctx, websocket.MessageText, []byte(ev.Payload())) != nil
			}
			conn.Close(websocket.StatusNormalClosure, "")
		})
	}
}

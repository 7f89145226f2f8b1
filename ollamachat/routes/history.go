package routes

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"ollamachat/ollamachat/controllers"
	"ollamachat/ollamachat/middlewares"
	"ollamachat/ollamachat/utils/errs"
	httputils "ollamachat/ollamachat/utils/http"
	"ollamachat/ollamachat/utils/logging"
)

const multipartMemory = 1 << 20

func HistoryRoutes(ctrl *controllers.HistoryController, maxUpload int64, logs *logging.Loggers) func(chi.Router) {
	return func(r chi.Router) {
		r.Post("/new_chat", func(w http.ResponseWriter, r *http.Request) {
			chatID, err := ctrl.NewChat(r.Context(), middlewares.SessionID(r.Context()))
			if err != nil {
				httputils.WriteError(w, r, logs, err)
				return
			}
			httputils.WriteJSON(w, http.StatusOK, map[string]string{"chat_id": chatID})
		})

		r.Get("/chats", func(w http.ResponseWriter, r *http.Request) {
			chats, err := ctrl.ListChats(r.Context(), middlewares.SessionID(r.Context()))
			if err != nil {
				httputils.WriteError(w, r, logs, err)
				return
			}
			httputils.WriteJSON(w, http.StatusOK, map[string]any{"chats": chats})
		})

		r.Get("/chats/{chat_id}/messages", func(w http.ResponseWriter, r *http.Request) {
			chatID := chi.URLParam(r, "chat_id")
			msgs, err := ctrl.Messages(r.Context(), middlewares.SessionID(r.Context()), chatID)
			if err != nil {
				httputils.WriteError(w, r, logs, err)
				return
			}
			httputils.WriteJSON(w, http.StatusOK, map[string]any{"chat_id": chatID, "messages": msgs})
		})

		r.Post("/search", func(w http.ResponseWriter, r *http.Request) {
			resp, err := ctrl.Search(r.Context(), middlewares.SessionID(r.Context()), httputils.DecodeInput(r))
			if err != nil {
				httputils.WriteError(w, r, logs, err)
				return
			}
			httputils.WriteJSON(w, http.StatusOK, resp)
		})

		r.Post("/reset_chat", func(w http.ResponseWriter, r *http.Request) {
			if err := ctrl.Reset(r.Context(), middlewares.SessionID(r.Context()), httputils.DecodeInput(r)); err != nil {
				httputils.WriteError(w, r, logs, err)
				return
			}
			httputils.WriteJSON(w, http.StatusOK, map[string]string{
				"status":  "success",
				"message": "Chat history has been cleared successfully.",
			})
		})

		r.Get("/export", func(w http.ResponseWriter, r *http.Request) {
			file, err := ctrl.Export(r.Context(), middlewares.SessionID(r.Context()))
			if err != nil {
				httputils.WriteError(w, r, logs, err)
				return
			}
			defer ctrl.Cleanup(file)

			f, err := os.Open(file.Path)
			if err != nil {
				httputils.WriteError(w, r, logs, err)
				return
			}
			defer f.Close()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, file.Name))
			http.ServeContent(w, r, file.Name, time.Time{}, f)
		})

		// GET /export/archive/{filename} : an earlier export of this session
		r.Get("/export/archive/{filename}", func(w http.ResponseWriter, r *http.Request) {
			name := chi.URLParam(r, "filename")
			data, err := ctrl.ArchivedExport(r.Context(), middlewares.SessionID(r.Context()), name)
			if err != nil {
				httputils.WriteError(w, r, logs, err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
			http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))
		})

		r.Post("/import", func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
			data, filename, err := readUpload(r)
			if err != nil {
				httputils.WriteError(w, r, logs, err)
				return
			}
			resp, err := ctrl.Import(r.Context(), middlewares.SessionID(r.Context()), filename, data)
			if err != nil {
				httputils.WriteError(w, r, logs, err)
				return
			}
			httputils.WriteJSON(w, http.StatusOK, resp)
		})
	}
}

// readUpload returns the contents and name of the "file" form field.
func readUpload(r *http.Request) ([]byte, string, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if tooLarge(err) {
			return nil, "", fileTooLarge(err)
		}
		return nil, "", errs.Wrap(errs.ImportFormat, "No file provided", "Please select a file to import.", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", errs.Wrap(errs.ImportFormat, "No file provided", "Please select a file to import.", err)
	}
	defer file.Close()
	if header.Filename == "" {
		return nil, "", errs.New(errs.ImportFormat, "No file selected", "Please select a valid file.")
	}
	data, err := io.ReadAll(file)
	if err != nil {
		if tooLarge(err) {
			return nil, "", fileTooLarge(err)
		}
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	return data, header.Filename, nil
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || errors.Is(err, multipart.ErrMessageTooLarge)
}

func fileTooLarge(err error) *errs.Error {
	return errs.Wrap(errs.TooLarge, "File too large",
		"The uploaded file is too large. Please choose a file smaller than 16MB.", err)
}

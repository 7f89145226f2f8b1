package controllers

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ollamachat/ollamachat/services/history"
	"ollamachat/ollamachat/sources/session"
	"ollamachat/ollamachat/sources/storage"
	"ollamachat/ollamachat/types"
	"ollamachat/ollamachat/utils/errs"
	"ollamachat/ollamachat/utils/jsonutils"
	"ollamachat/ollamachat/utils/logging"
	"ollamachat/ollamachat/utils/validation"
)

const minQueryChars = 2

// Archiver keeps a copy of each export outside the working directory.
// GetExport returns storage.ErrExportNotFound for an unknown file.
type Archiver interface {
	UploadExport(ctx context.Context, sessionID, filename string, data []byte) (string, error)
	GetExport(ctx context.Context, sessionID, filename string) ([]byte, error)
}

type HistoryController struct {
	history   *history.Store
	sessions  *session.Manager
	exporter  *storage.LocalExporter
	archive   Archiver
	validator validation.Validator
	logs      *logging.Loggers
	now       func() time.Time
}

// NewHistoryController builds the controller. archive may be nil.
func NewHistoryController(hist *history.Store, sessions *session.Manager, exporter *storage.LocalExporter,
	archive Archiver, validator validation.Validator, logs *logging.Loggers) *HistoryController {
	return &HistoryController{
		history:   hist,
		sessions:  sessions,
		exporter:  exporter,
		archive:   archive,
		validator: validator,
		logs:      logs,
		now:       time.Now,
	}
}

// NewChat starts an empty chat under a fresh id.
func (c *HistoryController) NewChat(ctx context.Context, sessionID string) (string, error) {
	chatID := uuid.NewString()
	err := c.sessions.Update(ctx, sessionID, func(sess *session.Session) error {
		c.history.Create(sess, chatID)
		return nil
	})
	if err != nil {
		return "", err
	}
	return chatID, nil
}

func (c *HistoryController) ListChats(ctx context.Context, sessionID string) ([]types.ChatSummary, error) {
	var out []types.ChatSummary
	err := c.sessions.View(ctx, sessionID, func(sess *session.Session) error {
		out = c.history.List(sess)
		return nil
	})
	return out, err
}

func (c *HistoryController) Messages(ctx context.Context, sessionID, chatID string) ([]types.Message, error) {
	if err := c.validator.Validate(validation.Input{"chat_id": chatID}, "chat_id"); err != nil {
		return nil, err
	}
	var out []types.Message
	err := c.sessions.View(ctx, sessionID, func(sess *session.Session) error {
		msgs, err := c.history.Get(sess, chatID)
		if msgs == nil {
			msgs = []types.Message{}
		}
		out = msgs
		return err
	})
	return out, err
}

type SearchResponse struct {
	Results []types.SearchResult `json:"results"`
	Message string               `json:"message"`
}

func (c *HistoryController) Search(ctx context.Context, sessionID string, in validation.Input) (*SearchResponse, error) {
	if err := c.validator.Validate(in, "query"); err != nil {
		return nil, err
	}
	query := in.String("query")
	if utf8.RuneCountInString(query) < minQueryChars {
		return nil, errs.New(errs.Validation, "Search query too short",
			"Please enter at least 2 characters to search.")
	}
	var resp *SearchResponse
	err := c.sessions.View(ctx, sessionID, func(sess *session.Session) error {
		results := c.history.Search(sess, query)
		resp = &SearchResponse{
			Results: results,
			Message: fmt.Sprintf("Found %d results for '%s'", len(results), query),
		}
		return nil
	})
	return resp, err
}

func (c *HistoryController) Reset(ctx context.Context, sessionID string, in validation.Input) error {
	if err := c.validator.Validate(in, "chat_id"); err != nil {
		return err
	}
	chatID := in.String("chat_id")
	err := c.sessions.Update(ctx, sessionID, func(sess *session.Session) error {
		return c.history.Reset(sess, chatID)
	})
	if errs.Is(err, errs.NotFound) {
		c.logs.App.Warn("no chat history to reset", zap.String("chat_id", chatID), logging.SessionField(sessionID))
	}
	return err
}

// ExportFile is a staged export waiting to be served. Remove it afterwards.
type ExportFile struct {
	Name string
	Path string
}

func (c *HistoryController) Export(ctx context.Context, sessionID string) (*ExportFile, error) {
	var bundle *types.ExportBundle
	err := c.sessions.View(ctx, sessionID, func(sess *session.Session) error {
		var err error
		bundle, err = c.history.Export(sess)
		return err
	})
	if err != nil {
		return nil, err
	}
	data, err := jsonutils.Indent(bundle)
	if err != nil {
		return nil, exportFailed(err)
	}
	name := storage.ExportFilename(c.now())
	path, err := c.exporter.Write(name, data)
	if err != nil {
		return nil, exportFailed(err)
	}
	if c.archive != nil {
		if _, err := c.archive.UploadExport(ctx, sessionID, name, data); err != nil {
			c.logs.Error.Error("archiving export failed", zap.Error(err), logging.SessionField(sessionID))
		} else {
			c.logs.App.Info("export archived", zap.String("file", name), logging.SessionField(sessionID))
		}
	}
	c.logs.App.Info("exported chats", zap.Int("chats", bundle.ChatHistories.Len()), logging.SessionField(sessionID))
	return &ExportFile{Name: name, Path: path}, nil
}

// ArchivedExport returns an earlier export of this session from the archive.
func (c *HistoryController) ArchivedExport(ctx context.Context, sessionID, filename string) ([]byte, error) {
	if c.archive == nil {
		return nil, errs.New(errs.NotFound, "Archive not available", "Export archiving is not configured.")
	}
	if !storage.ValidExportFilename(filename) {
		return nil, errs.New(errs.Validation, "Invalid request", "Invalid export file name.")
	}
	data, err := c.archive.GetExport(ctx, sessionID, filename)
	if errors.Is(err, storage.ErrExportNotFound) {
		return nil, errs.New(errs.NotFound, "Export not found", "No archived export with that name.")
	}
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "Archive error",
			"Unable to read the archived export. Please try again.", err)
	}
	return data, nil
}

// Cleanup removes a served export file.
func (c *HistoryController) Cleanup(f *ExportFile) {
	if err := c.exporter.Remove(f.Path); err != nil {
		c.logs.Error.Error("removing export failed", zap.String("path", f.Path), zap.Error(err))
	}
}

type ImportResponse struct {
	Message       string `json:"message"`
	ImportedCount int    `json:"imported_count"`
}

// Import merges an uploaded export file into the session.
func (c *HistoryController) Import(ctx context.Context, sessionID, filename string, data []byte) (*ImportResponse, error) {
	if !strings.EqualFold(filepath.Ext(filename), ".json") {
		return nil, errs.New(errs.ImportFormat, "Invalid file type", "Only JSON files are allowed for import.")
	}
	bundle, err := history.ParseBundle(data, c.validator)
	if err != nil {
		return nil, err
	}
	var n int
	err = c.sessions.Update(ctx, sessionID, func(sess *session.Session) error {
		n = c.history.Import(sess, bundle)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ImportResponse{
		Message:       fmt.Sprintf("Successfully imported %d chats", n),
		ImportedCount: n,
	}, nil
}

func exportFailed(err error) *errs.Error {
	return errs.Wrap(errs.Internal, "Export failed",
		"An error occurred while exporting your chats. Please try again.", err)
}

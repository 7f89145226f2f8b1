// ollamachat/services/history/history.go
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"ollamachat/ollamachat/sources/session"
	"ollamachat/ollamachat/types"
	"ollamachat/ollamachat/utils/errs"
	"ollamachat/ollamachat/utils/logging"
	"ollamachat/ollamachat/utils/validation"
)

const (
	// TimestampLayout is ISO-8601 with microseconds and zone offset.
	TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

	snippetLength = 200
)

// Store implements chat history operations on a session. Callers obtain the
// session through session.Manager so every operation runs under its lock.
type Store struct {
	now  func() time.Time
	logs *logging.Loggers
}

func NewStore(logs *logging.Loggers) *Store {
	return &Store{now: time.Now, logs: logs}
}

// Create starts an empty chat, replacing any chat with the same id.
func (s *Store) Create(sess *session.Session, chatID string) {
	sess.ChatHistories.Set(chatID, nil)
	sess.MarkDirty()
	s.logs.App.Debug("initialized chat history", zap.String("chat_id", chatID))
}

// Ensure starts the chat if it does not exist yet.
func (s *Store) Ensure(sess *session.Session, chatID string) {
	if !sess.ChatHistories.Has(chatID) {
		s.Create(sess, chatID)
	}
}

// Append adds a timestamped message, starting the chat if needed.
func (s *Store) Append(sess *session.Session, chatID string, role types.Role, content string) types.Message {
	s.Ensure(sess, chatID)
	msg := types.Message{
		Role:      role,
		Content:   content,
		Timestamp: s.now().Format(TimestampLayout),
	}
	sess.ChatHistories.Append(chatID, msg)
	sess.MarkDirty()
	s.logs.App.Debug("appended message", zap.String("chat_id", chatID), zap.String("role", string(role)))
	return msg
}

// Get returns the messages of one chat.
func (s *Store) Get(sess *session.Session, chatID string) ([]types.Message, error) {
	msgs, ok := sess.ChatHistories.Get(chatID)
	if !ok {
		return nil, chatNotFound()
	}
	return msgs, nil
}

// List summarizes the session's chats in creation order.
func (s *Store) List(sess *session.Session) []types.ChatSummary {
	out := make([]types.ChatSummary, 0, sess.ChatHistories.Len())
	for _, id := range sess.ChatHistories.IDs() {
		msgs, _ := sess.ChatHistories.Get(id)
		out = append(out, types.ChatSummary{ChatID: id, MessageCount: len(msgs)})
	}
	return out
}

// Reset removes the chat entirely.
func (s *Store) Reset(sess *session.Session, chatID string) error {
	if !sess.ChatHistories.Delete(chatID) {
		return chatNotFound()
	}
	sess.MarkDirty()
	s.logs.App.Info("chat history reset", zap.String("chat_id", chatID))
	return nil
}

// Search returns every message whose content contains query, ignoring case.
func (s *Store) Search(sess *session.Session, query string) []types.SearchResult {
	results := []types.SearchResult{}
	needle := strings.ToLower(query)
	for _, id := range sess.ChatHistories.IDs() {
		msgs, _ := sess.ChatHistories.Get(id)
		for i, m := range msgs {
			if !strings.Contains(strings.ToLower(m.Content), needle) {
				continue
			}
			ts := m.Timestamp
			if ts == "" {
				ts = "Unknown"
			}
			results = append(results, types.SearchResult{
				ChatID:       id,
				MessageIndex: i,
				Role:         m.Role,
				Content:      snippet(m.Content),
				Timestamp:    ts,
			})
		}
	}
	return results
}

func snippet(content string) string {
	if utf8.RuneCountInString(content) <= snippetLength {
		return content
	}
	return string([]rune(content)[:snippetLength]) + "..."
}

// Export copies the session's chats and user models into a bundle.
func (s *Store) Export(sess *session.Session) (*types.ExportBundle, error) {
	if sess.ChatHistories.Len() == 0 {
		return nil, errs.New(errs.NothingToExport, "No chats to export",
			"You don't have any chat histories to export.")
	}
	bundle := &types.ExportBundle{
		ExportTimestamp: s.now().Format(TimestampLayout),
		UserModels:      slices.Clone(sess.UserModels),
		Version:         types.ExportVersion,
	}
	if bundle.UserModels == nil {
		bundle.UserModels = []string{}
	}
	for _, id := range sess.ChatHistories.IDs() {
		msgs, _ := sess.ChatHistories.Get(id)
		bundle.ChatHistories.Set(id, msgs)
	}
	return bundle, nil
}

// Import merges a bundle into the session: chats whose id already exists
// are left untouched, new chats are added as they are, and user models are
// unioned. It returns the number of chats added.
func (s *Store) Import(sess *session.Session, bundle *types.ExportBundle) int {
	imported := 0
	for _, id := range bundle.ChatHistories.IDs() {
		if sess.ChatHistories.Has(id) {
			continue
		}
		msgs, _ := bundle.ChatHistories.Get(id)
		sess.ChatHistories.Set(id, msgs)
		imported++
	}
	for _, model := range bundle.UserModels {
		if !sess.HasUserModel(model) {
			sess.UserModels = append(sess.UserModels, model)
		}
	}
	sess.MarkDirty()
	s.logs.App.Info("imported chats", zap.Int("imported", imported), zap.Int("offered", bundle.ChatHistories.Len()))
	return imported
}

// ParseBundle decodes an uploaded export file. Every chat id, message role
// and user model must pass the same checks live requests do.
func ParseBundle(data []byte, v validation.Validator) (*types.ExportBundle, error) {
	if !utf8.Valid(data) {
		return nil, errs.New(errs.ImportFormat, "File encoding error",
			"Unable to read the file. Please ensure it's a valid UTF-8 encoded JSON file.")
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		var syntax *json.SyntaxError
		if errors.As(err, &syntax) {
			return nil, errs.Wrap(errs.ImportFormat, "Invalid JSON format",
				fmt.Sprintf("The file contains invalid JSON: %v", err), err)
		}
		return nil, invalidFormat(err)
	}

	raw, ok := top["chat_histories"]
	if !ok || isNull(raw) {
		return nil, invalidFormat(nil)
	}
	bundle := &types.ExportBundle{Version: types.ExportVersion}
	if err := json.Unmarshal(raw, &bundle.ChatHistories); err != nil {
		return nil, invalidFormat(err)
	}
	if raw, ok := top["user_models"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &bundle.UserModels); err != nil {
			return nil, invalidFormat(err)
		}
	}
	// informational only
	if raw, ok := top["export_timestamp"]; ok {
		_ = json.Unmarshal(raw, &bundle.ExportTimestamp)
	}
	if raw, ok := top["version"]; ok {
		_ = json.Unmarshal(raw, &bundle.Version)
	}
	if err := checkBundle(bundle, v); err != nil {
		return nil, err
	}
	return bundle, nil
}

func checkBundle(bundle *types.ExportBundle, v validation.Validator) error {
	for _, id := range bundle.ChatHistories.IDs() {
		if !validation.ValidChatID(id) {
			return invalidFormat(fmt.Errorf("chat id %q", id))
		}
		msgs, _ := bundle.ChatHistories.Get(id)
		for i, m := range msgs {
			if m.Role != types.RoleUser && m.Role != types.RoleAssistant {
				return invalidFormat(fmt.Errorf("chat %s message %d: role %q", id, i, m.Role))
			}
		}
	}
	for _, model := range bundle.UserModels {
		if err := v.ModelName(model); err != nil {
			return invalidFormat(fmt.Errorf("user model %q: %w", model, err))
		}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func invalidFormat(err error) *errs.Error {
	return errs.Wrap(errs.ImportFormat, "Invalid file format",
		"The file doesn't contain valid chat history data.", err)
}

func chatNotFound() *errs.Error {
	return errs.New(errs.NotFound, "Chat not found", "The specified chat could not be found.")
}

package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat. Timestamp is ISO-8601.
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// ChatHistories maps chat id to its messages and remembers insertion order.
// The zero value is an empty, ready to use set.
type ChatHistories struct {
	order []string
	chats map[string][]Message
}

func (h *ChatHistories) Len() int { return len(h.order) }

func (h *ChatHistories) Has(chatID string) bool {
	_, ok := h.chats[chatID]
	return ok
}

// Get returns a copy of the chat's messages.
func (h *ChatHistories) Get(chatID string) ([]Message, bool) {
	msgs, ok := h.chats[chatID]
	if !ok {
		return nil, false
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, true
}

// Set replaces a chat. A new id is placed after all existing ones; an
// existing id keeps its position.
func (h *ChatHistories) Set(chatID string, msgs []Message) {
	if h.chats == nil {
		h.chats = make(map[string][]Message)
	}
	if _, ok := h.chats[chatID]; !ok {
		h.order = append(h.order, chatID)
	}
	stored := make([]Message, len(msgs))
	copy(stored, msgs)
	h.chats[chatID] = stored
}

// Append adds msg to the end of an existing chat and reports whether the chat existed.
func (h *ChatHistories) Append(chatID string, msg Message) bool {
	msgs, ok := h.chats[chatID]
	if !ok {
		return false
	}
	h.chats[chatID] = append(msgs, msg)
	return true
}

// Delete removes the chat entirely and reports whether it was present.
func (h *ChatHistories) Delete(chatID string) bool {
	if _, ok := h.chats[chatID]; !ok {
		return false
	}
	delete(h.chats, chatID)
	for i, id := range h.order {
		if id == chatID {
			h.order = append(h.order[:i:i], h.order[i+1:]...)
			break
		}
	}
	return true
}

// IDs returns chat ids in insertion order.
func (h *ChatHistories) IDs() []string {
	out := make([]string, len(h.order))
	copy(out, h.order)
	return out
}

// MarshalJSON encodes the chats as a JSON object whose keys keep insertion order.
func (h ChatHistories) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range h.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		msgs := h.chats[id]
		if msgs == nil {
			msgs = []Message{}
		}
		val, err := json.Marshal(msgs)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object of chats, keeping the document's key order.
func (h *ChatHistories) UnmarshalJSON(data []byte) error {
	*h = ChatHistories{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("chat histories: expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		chatID, ok := tok.(string)
		if !ok {
			return fmt.Errorf("chat histories: expected key, got %v", tok)
		}
		var msgs []Message
		if err := dec.Decode(&msgs); err != nil {
			return fmt.Errorf("chat histories: chat %q: %w", chatID, err)
		}
		h.Set(chatID, msgs)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// SearchResult is one message matching a history search.
type SearchResult struct {
	ChatID       string `json:"chat_id"`
	MessageIndex int    `json:"message_index"`
	Role         Role   `json:"role"`
	Content      string `json:"content"`
	Timestamp    string `json:"timestamp"`
}

// ChatSummary describes one chat of a session.
type ChatSummary struct {
	ChatID       string `json:"chat_id"`
	MessageCount int    `json:"message_count"`
}

const ExportVersion = "1.0"

// ExportBundle is the on-disk shape of an exported session.
type ExportBundle struct {
	ExportTimestamp string        `json:"export_timestamp"`
	ChatHistories   ChatHistories `json:"chat_histories"`
	UserModels      []string      `json:"user_models"`
	Version         string        `json:"version"`
}

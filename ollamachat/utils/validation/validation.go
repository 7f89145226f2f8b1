// Package validation holds the input checks shared by every entry point.
// Checks are pure: they report the first violation and touch no state.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"ollamachat/ollamachat/utils/errs"
)

const ChatIDLength = 36

var (
	chatIDPattern    = regexp.MustCompile(`^[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}$`)
	modelNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)
)

// Input is a decoded JSON request body.
type Input map[string]any

// String returns the trimmed string value of key, or "" when absent or not a string.
func (in Input) String(key string) string {
	s, _ := in[key].(string)
	return strings.TrimSpace(s)
}

// raw returns the untrimmed string value and whether key held a string.
func (in Input) raw(key string) (string, bool) {
	s, ok := in[key].(string)
	return s, ok
}

type Validator struct {
	MaxPromptChars int
	MaxModelName   int
}

// Validate checks that every required field is a non-blank string and that
// prompt, chat_id and model, when present, respect their limits.
func (v Validator) Validate(in Input, required ...string) error {
	for _, field := range required {
		s, ok := in.raw(field)
		if !ok || strings.TrimSpace(s) == "" {
			return invalid(fmt.Sprintf("The field '%s' is required and cannot be empty.", field))
		}
	}
	if s, ok := in.raw("prompt"); ok && utf8.RuneCountInString(s) > v.MaxPromptChars {
		return invalid(fmt.Sprintf("Your message is too long. Please keep it under %s characters.", thousands(v.MaxPromptChars)))
	}
	if s, ok := in.raw("chat_id"); ok && !ValidChatID(s) {
		return invalid("Invalid chat session. Please refresh the page and try again.")
	}
	if s, ok := in.raw("model"); ok && utf8.RuneCountInString(s) > v.MaxModelName {
		return invalid("Model name is too long.")
	}
	return nil
}

// ModelName checks a model name's charset and length.
func (v Validator) ModelName(name string) error {
	if !ValidModelName(name) {
		return invalid("Invalid model name format. Use only letters, numbers, dots, hyphens, colons, and underscores.")
	}
	if utf8.RuneCountInString(name) > v.MaxModelName {
		return invalid(fmt.Sprintf("Model name too long (max %d characters).", v.MaxModelName))
	}
	return nil
}

// ValidChatID reports whether id has the canonical 36-character UUID shape.
func ValidChatID(id string) bool {
	return len(id) == ChatIDLength && chatIDPattern.MatchString(id)
}

func ValidModelName(name string) bool {
	return modelNamePattern.MatchString(name)
}

func invalid(message string) *errs.Error {
	return errs.New(errs.Validation, "Invalid request", message)
}

func thousands(n int) string {
	s := fmt.Sprint(n)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Package prompt renders a chat into the single text block the engine reads.
package prompt

import (
	"strings"

	"ollamachat/ollamachat/types"
)

// Build writes every message, in order, as "Human: ..." or "Assistant: ..."
// on its own line. The whole history is always included.
func Build(history []types.Message) string {
	var b strings.Builder
	for _, m := range history {
		if m.Role == types.RoleUser {
			b.WriteString("Human: ")
		} else {
			b.WriteString("Assistant: ")
		}
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

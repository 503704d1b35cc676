package ai

import (
	"strings"

	"studychat/internal/storage"
)

// ContextWindow is how many trailing messages feed the prompt.
const ContextWindow = 10

// assistantLabel is the fixed speaker label used for assistant turns in the
// rendered conversation.
const assistantLabel = "Assistant"

const (
	promptPreamble = "You are a helpful study assistant in a collaborative study room. Multiple students are studying together. Previous conversation:"
	promptClosing  = "Provide a helpful, concise response to help with their studies. Keep responses friendly and educational."
)

// BuildPrompt renders the recent conversation into the instructional prompt
// sent to the providers. Callers pass the trailing window of the room's log;
// anything beyond ContextWindow entries is trimmed from the front.
func BuildPrompt(history []storage.Message) string {
	if len(history) > ContextWindow {
		history = history[len(history)-ContextWindow:]
	}
	lines := make([]string, 0, len(history))
	for _, msg := range history {
		speaker := assistantLabel
		if msg.Sender == storage.SenderUser {
			speaker = msg.UserName
		}
		lines = append(lines, speaker+": "+msg.Text)
	}
	var sb strings.Builder
	sb.WriteString(promptPreamble)
	sb.WriteString("\n")
	sb.WriteString(strings.Join(lines, "\n"))
	sb.WriteString("\n\n")
	sb.WriteString(promptClosing)
	return sb.String()
}

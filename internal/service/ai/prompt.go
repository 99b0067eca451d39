package ai

import (
	"strings"

	"estatechat/internal/models"
)

// FallbackReply is recorded as the assistant turn whenever generation fails.
const FallbackReply = "Sorry, I couldn't process that."

// NoPropertyDetails stands in for the document when no text was extracted.
const NoPropertyDetails = "No property details provided yet."

const (
	promptPreamble = "You are an advanced real estate assistant with a deep understanding of global real estate knowledge. " +
		"Your expertise will guide several clients who are in search of a real estate property.\n" +
		"Use the following property details provided by the user to answer their questions.\n"
	promptClosing = "Please provide a comprehensive, informative, and engaging response based on the property details " +
		"and global real estate knowledge, considering the conversation history.\n" +
		"Always ask questions from the client if in doubt. Don't put out any information that is not verified.\n"
)

// BuildPrompt renders the single prompt sent for one chat turn.
// history is expected to already end with the user's latest message.
func BuildPrompt(history []*models.Turn, documentText, message string) string {
	details := documentText
	if strings.TrimSpace(details) == "" {
		details = NoPropertyDetails
	}

	var sb strings.Builder
	sb.WriteString(promptPreamble)
	sb.WriteString("\nProperty Details: ")
	sb.WriteString(details)
	sb.WriteString("\n\nConversation History:\n")
	for _, turn := range history {
		if turn == nil {
			continue
		}
		sb.WriteString(speaker(turn.Role))
		sb.WriteString(turn.Content)
		sb.WriteByte('\n')
	}
	sb.WriteString("\nUser's latest message: ")
	sb.WriteString(message)
	sb.WriteString("\n\n")
	sb.WriteString(promptClosing)
	return sb.String()
}

func speaker(role models.Role) string {
	if role == models.RoleUser {
		return "User: "
	}
	return "Bot: "
}

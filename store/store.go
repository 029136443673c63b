// Package store keeps the conversation history of the chats.
package store

import (
	"github.com/effective-security/opsagent/pkg/llms"
)

// MessageStore is the conversation history keyed by chat ID.
type MessageStore interface {
	// Messages returns a copy of the history of the chat, in the order added.
	Messages(chatID string) []llms.Message
	// Add appends the messages to the history of the chat.
	Add(chatID string, msgs ...llms.Message) error
	// Reset removes the history of the chat.
	Reset(chatID string) error
}

// Package message defines the unit the relay delivers to a recipient and its
// two encodings: the BSON document appended to a conversation in the store,
// and the JSON text frame written to the recipient's socket.
package message

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid is returned when a decoded message lacks a required field.
var ErrInvalid = errors.New("message: invalid message")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Message is a single chat message appended to a conversation.
type Message struct {
	// ConversationID is the key of the conversation document the message was
	// appended to. Empty when the source did not report it.
	ConversationID string `json:"conversationId,omitempty"`

	// SenderID is the identity of the author.
	SenderID string `json:"senderId" validate:"required"`

	// ReceiverID is the identity the message is routed to.
	ReceiverID string `json:"receiverId" validate:"required"`

	// Field is the updated field path the message was found under
	// (e.g. "messages.3"). It is diagnostic only and never sent.
	Field string `json:"-"`

	// Content holds every other field of the appended document (text,
	// timestamps, attachments), normalized to JSON-friendly values.
	Content map[string]any `json:"-"`
}

// Validate checks that the routing fields are present.
func (m *Message) Validate() error {
	if err := validate.Struct(m); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s is required", ErrInvalid, jsonName(verrs[0].Field()))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func jsonName(field string) string {
	switch field {
	case "SenderID":
		return "senderId"
	case "ReceiverID":
		return "receiverId"
	default:
		return field
	}
}

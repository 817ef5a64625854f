package message

import (
	"encoding/json"
	"fmt"
)

// Wire field names. Content fields with the same names are overwritten.
const (
	FieldSenderID       = "senderId"
	FieldReceiverID     = "receiverId"
	FieldConversationID = "conversationId"
)

// Encode renders m as the JSON object written to a recipient's socket:
// every content field plus senderId, receiverId and, when known,
// conversationId. Keys are emitted in sorted order.
func Encode(m *Message) ([]byte, error) {
	out := make(map[string]any, len(m.Content)+3)
	for k, v := range m.Content {
		out[k] = v
	}

	out[FieldSenderID] = m.SenderID
	out[FieldReceiverID] = m.ReceiverID
	if m.ConversationID != "" {
		out[FieldConversationID] = m.ConversationID
	} else {
		delete(out, FieldConversationID)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("message: encode: %w", err)
	}
	return data, nil
}

package message

import (
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ErrNotDocument is returned when an updated field does not hold an
// embedded document.
var ErrNotDocument = errors.New("message: value is not a document")

// FromDocument decodes the BSON value of an appended message. senderId and
// receiverId may be stored as strings or ObjectIDs; both map to the string
// identity used for routing. All remaining fields land in Content.
func FromDocument(v bson.RawValue) (*Message, error) {
	doc, ok := v.DocumentOK()
	if !ok {
		return nil, fmt.Errorf("%w (bson type %s)", ErrNotDocument, v.Type)
	}

	var fields bson.M
	if err := bson.Unmarshal(doc, &fields); err != nil {
		return nil, fmt.Errorf("message: unmarshal document: %w", err)
	}

	m := &Message{Content: make(map[string]any, len(fields))}
	for k, val := range fields {
		switch k {
		case FieldSenderID:
			m.SenderID = refString(val)
		case FieldReceiverID:
			m.ReceiverID = refString(val)
		default:
			m.Content[k] = normalize(val)
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// refString converts a user reference to its identity string. Unsupported
// types yield "" and fail validation.
func refString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bson.ObjectID:
		return t.Hex()
	default:
		return ""
	}
}

// normalize converts BSON-specific values into types encoding/json renders
// the way a JavaScript client expects.
func normalize(v any) any {
	switch t := v.(type) {
	case bson.ObjectID:
		return t.Hex()
	case bson.DateTime:
		return t.Time().UTC()
	case bson.Timestamp:
		return time.Unix(int64(t.T), 0).UTC()
	case bson.Decimal128:
		return t.String()
	case bson.Binary:
		return t.Data
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}

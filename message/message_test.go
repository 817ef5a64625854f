package message_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/assistly/relay/message"
)

func rawValue(t *testing.T, v any) bson.RawValue {
	t.Helper()
	typ, data, err := bson.MarshalValue(v)
	require.NoError(t, err)
	return bson.RawValue{Type: typ, Value: data}
}

func TestFromDocument(t *testing.T) {
	sentAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	subID := bson.NewObjectID()

	m, err := message.FromDocument(rawValue(t, bson.D{
		{Key: "_id", Value: subID},
		{Key: "senderId", Value: "B"},
		{Key: "receiverId", Value: "A"},
		{Key: "text", Value: "hi"},
		{Key: "createdAt", Value: bson.NewDateTimeFromTime(sentAt)},
	}))
	require.NoError(t, err)

	assert.Equal(t, "B", m.SenderID)
	assert.Equal(t, "A", m.ReceiverID)
	assert.Equal(t, "hi", m.Content["text"])
	assert.Equal(t, subID.Hex(), m.Content["_id"])
	createdAt, ok := m.Content["createdAt"].(time.Time)
	require.True(t, ok, "createdAt should normalize to time.Time")
	assert.True(t, sentAt.Equal(createdAt))
	assert.NotContains(t, m.Content, "senderId")
}

func TestFromDocumentObjectIDRefs(t *testing.T) {
	sender := bson.NewObjectID()
	receiver := bson.NewObjectID()

	m, err := message.FromDocument(rawValue(t, bson.D{
		{Key: "senderId", Value: sender},
		{Key: "receiverId", Value: receiver},
		{Key: "text", Value: "hello"},
	}))
	require.NoError(t, err)

	assert.Equal(t, sender.Hex(), m.SenderID)
	assert.Equal(t, receiver.Hex(), m.ReceiverID)
}

func TestFromDocumentNested(t *testing.T) {
	m, err := message.FromDocument(rawValue(t, bson.D{
		{Key: "senderId", Value: "B"},
		{Key: "receiverId", Value: "A"},
		{Key: "attachment", Value: bson.D{{Key: "name", Value: "map.png"}}},
		{Key: "tags", Value: bson.A{"urgent", bson.D{{Key: "k", Value: "v"}}}},
	}))
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"name": "map.png"}, m.Content["attachment"])
	assert.Equal(t, []any{"urgent", map[string]any{"k": "v"}}, m.Content["tags"])
}

func TestFromDocumentRejects(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  error
	}{
		{
			name:  "missing receiverId",
			value: bson.D{{Key: "senderId", Value: "B"}, {Key: "text", Value: "hi"}},
			want:  message.ErrInvalid,
		},
		{
			name:  "missing senderId",
			value: bson.D{{Key: "receiverId", Value: "A"}},
			want:  message.ErrInvalid,
		},
		{
			name:  "empty receiverId",
			value: bson.D{{Key: "senderId", Value: "B"}, {Key: "receiverId", Value: ""}},
			want:  message.ErrInvalid,
		},
		{
			name:  "numeric receiverId",
			value: bson.D{{Key: "senderId", Value: "B"}, {Key: "receiverId", Value: int32(7)}},
			want:  message.ErrInvalid,
		},
		{
			name:  "scalar value",
			value: "just text",
			want:  message.ErrNotDocument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := message.FromDocument(rawValue(t, tt.value))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestEncode(t *testing.T) {
	data, err := message.Encode(&message.Message{
		ConversationID: "X",
		SenderID:       "B",
		ReceiverID:     "A",
		Content:        map[string]any{"text": "hi"},
	})
	require.NoError(t, err)

	assert.JSONEq(t, `{"conversationId":"X","senderId":"B","receiverId":"A","text":"hi"}`, string(data))
}

func TestEncodeRoutingFieldsWin(t *testing.T) {
	data, err := message.Encode(&message.Message{
		SenderID:   "B",
		ReceiverID: "A",
		Content: map[string]any{
			"senderId":       "spoofed",
			"conversationId": "stale",
			"text":           "hi",
		},
	})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "B", got["senderId"])
	assert.NotContains(t, got, "conversationId")
}

package feed_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/assistly/relay/feed"
	"github.com/assistly/relay/message"
)

func rawValue(t *testing.T, v any) bson.RawValue {
	t.Helper()
	typ, data, err := bson.MarshalValue(v)
	require.NoError(t, err)
	return bson.RawValue{Type: typ, Value: data}
}

func msgDoc(sender, receiver, text string) bson.D {
	return bson.D{
		{Key: "senderId", Value: sender},
		{Key: "receiverId", Value: receiver},
		{Key: "text", Value: text},
	}
}

func TestDecode(t *testing.T) {
	m, err := feed.Decode(feed.ChangeEvent{
		Operation:   feed.OpUpdate,
		DocumentKey: "X",
		UpdatedFields: map[string]bson.RawValue{
			"messages.4": rawValue(t, msgDoc("B", "A", "hi")),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "B", m.SenderID)
	assert.Equal(t, "A", m.ReceiverID)
	assert.Equal(t, "X", m.ConversationID)
	assert.Equal(t, "messages.4", m.Field)
	assert.Equal(t, "hi", m.Content["text"])
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]bson.RawValue
		want   error
	}{
		{
			name:   "no updated field",
			fields: map[string]bson.RawValue{},
			want:   feed.ErrNoUpdatedField,
		},
		{
			name: "two updated fields",
			fields: map[string]bson.RawValue{
				"messages.1": rawValue(t, msgDoc("B", "A", "hi")),
				"updatedAt":  rawValue(t, bson.NewDateTimeFromTime(testTime)),
			},
			want: feed.ErrAmbiguousUpdate,
		},
		{
			name: "missing receiverId",
			fields: map[string]bson.RawValue{
				"messages.1": rawValue(t, bson.D{{Key: "senderId", Value: "B"}, {Key: "text", Value: "hi"}}),
			},
			want: message.ErrInvalid,
		},
		{
			name: "scalar field",
			fields: map[string]bson.RawValue{
				"title": rawValue(t, "renamed"),
			},
			want: message.ErrNotDocument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := feed.Decode(feed.ChangeEvent{
				Operation:     feed.OpUpdate,
				DocumentKey:   "X",
				UpdatedFields: tt.fields,
			})
			require.Error(t, err)

			var de *feed.DecodeError
			require.True(t, errors.As(err, &de), "want *feed.DecodeError, got %T", err)
			assert.Equal(t, "X", de.DocumentKey)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

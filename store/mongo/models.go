package mongo

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/assistly/relay/feed"
)

// --- Change event model ---

// changeEventModel is the subset of a change stream event the relay reads.
type changeEventModel struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID bson.RawValue `bson:"_id"`
	} `bson:"documentKey"`
	UpdateDescription struct {
		UpdatedFields bson.Raw `bson:"updatedFields"`
	} `bson:"updateDescription"`
}

// toFeedEvent converts a change document. A document that does not decode
// still yields an event, carrying the error and the resume token, so the
// watcher can report it and move past it.
func toFeedEvent(raw, token bson.Raw) feed.ChangeEvent {
	ev, err := decodeChangeEvent(raw)
	if err != nil {
		ev = feed.ChangeEvent{Err: fmt.Errorf("relay/mongo: decode change event: %w", err)}
	}
	ev.ResumeToken = token
	return ev
}

func decodeChangeEvent(raw bson.Raw) (feed.ChangeEvent, error) {
	var m changeEventModel
	if err := bson.Unmarshal(raw, &m); err != nil {
		return feed.ChangeEvent{}, err
	}
	return fromChangeEventModel(&m)
}

func fromChangeEventModel(m *changeEventModel) (feed.ChangeEvent, error) {
	ev := feed.ChangeEvent{
		Operation:   m.OperationType,
		DocumentKey: documentKey(m.DocumentKey.ID),
	}
	if len(m.UpdateDescription.UpdatedFields) == 0 {
		return ev, nil
	}

	elems, err := m.UpdateDescription.UpdatedFields.Elements()
	if err != nil {
		return ev, err
	}
	ev.UpdatedFields = make(map[string]bson.RawValue, len(elems))
	for _, e := range elems {
		ev.UpdatedFields[e.Key()] = e.Value()
	}
	return ev, nil
}

// documentKey renders a conversation _id as the string clients know it by.
func documentKey(v bson.RawValue) string {
	if oid, ok := v.ObjectIDOK(); ok {
		return oid.Hex()
	}
	if s, ok := v.StringValueOK(); ok {
		return s
	}
	if len(v.Value) == 0 {
		return ""
	}
	return v.String()
}

// --- Checkpoint model ---

type checkpointModel struct {
	ID        string    `bson:"_id"`
	Token     bson.Raw  `bson:"token"`
	UpdatedAt time.Time `bson:"updated_at"`
}

package feed

import (
	"sort"

	"github.com/assistly/relay/message"
)

// Decode extracts the appended message from an update event. The event must
// update exactly one field, and that field must hold a message document with
// senderId and receiverId. Any other shape yields a *DecodeError.
func Decode(ev ChangeEvent) (*message.Message, error) {
	switch len(ev.UpdatedFields) {
	case 0:
		return nil, &DecodeError{DocumentKey: ev.DocumentKey, Err: ErrNoUpdatedField}
	case 1:
	default:
		return nil, &DecodeError{
			DocumentKey: ev.DocumentKey,
			Fields:      fieldNames(ev),
			Err:         ErrAmbiguousUpdate,
		}
	}

	var (
		field string
		msg   *message.Message
		err   error
	)
	for k, v := range ev.UpdatedFields {
		field = k
		msg, err = message.FromDocument(v)
	}
	if err != nil {
		return nil, &DecodeError{DocumentKey: ev.DocumentKey, Fields: []string{field}, Err: err}
	}

	msg.Field = field
	msg.ConversationID = ev.DocumentKey
	return msg, nil
}

func fieldNames(ev ChangeEvent) []string {
	names := make([]string, 0, len(ev.UpdatedFields))
	for k := range ev.UpdatedFields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

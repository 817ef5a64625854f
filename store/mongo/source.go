package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/assistly/relay/feed"
)

// Server error codes meaning the resume token is no longer usable.
const (
	codeChangeStreamFatal       = 280
	codeChangeStreamHistoryLost = 286
)

// updatesOnly filters the stream server side; the relay only acts on
// updates.
var updatesOnly = mongo.Pipeline{
	{{Key: "$match", Value: bson.D{{Key: "operationType", Value: feed.OpUpdate}}}},
}

// Open watches the conversations collection for updates.
func (s *Store) Open(ctx context.Context, resumeToken bson.Raw) (feed.Stream, error) {
	opts := options.ChangeStream()
	if len(resumeToken) > 0 {
		opts.SetResumeAfter(resumeToken)
	}

	cs, err := s.db.Collection(s.collection).Watch(ctx, updatesOnly, opts)
	if err != nil {
		if len(resumeToken) > 0 && isResumeRejected(err) {
			return nil, fmt.Errorf("relay/mongo: watch %s: %w: %w", s.collection, feed.ErrResumeTokenInvalid, err)
		}
		return nil, fmt.Errorf("relay/mongo: watch %s: %w", s.collection, err)
	}
	return &changeStream{cs: cs}, nil
}

func isResumeRejected(err error) bool {
	var se mongo.ServerError
	if !errors.As(err, &se) {
		return false
	}
	return se.HasErrorCode(codeChangeStreamHistoryLost) || se.HasErrorCode(codeChangeStreamFatal)
}

// changeStream adapts *mongo.ChangeStream to feed.Stream.
type changeStream struct {
	cs  *mongo.ChangeStream
	cur feed.ChangeEvent
}

func (c *changeStream) Next(ctx context.Context) bool {
	if !c.cs.Next(ctx) {
		return false
	}

	// Current is only valid until the next call to Next.
	raw := append(bson.Raw(nil), c.cs.Current...)
	token := append(bson.Raw(nil), c.cs.ResumeToken()...)

	c.cur = toFeedEvent(raw, token)
	return true
}

func (c *changeStream) Event() feed.ChangeEvent { return c.cur }

func (c *changeStream) Err() error { return c.cs.Err() }

func (c *changeStream) Close(ctx context.Context) error { return c.cs.Close(ctx) }

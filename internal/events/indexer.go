package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"newspaper/api/internal/logging"
	"newspaper/api/internal/search"
)

// Indexer keeps the search index in step with lifecycle events.
type Indexer struct {
	bus   *Bus
	index search.Indexer
	wg    sync.WaitGroup
}

func NewIndexer(bus *Bus, index search.Indexer) *Indexer {
	return &Indexer{bus: bus, index: index}
}

// Start subscribes to all lifecycle topics and returns once subscribed.
// Consumers stop when ctx is cancelled or the bus is closed; Wait blocks
// until they have.
func (i *Indexer) Start(ctx context.Context) error {
	handlers := map[string]func(context.Context, []byte) error{
		TopicArticleSaved:   i.articleSaved,
		TopicArticleDeleted: i.articleDeleted,
		TopicCommentSaved:   i.commentSaved,
		TopicCommentDeleted: i.commentDeleted,
	}
	for topic, handle := range handlers {
		messages, err := i.bus.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		i.wg.Add(1)
		go i.consume(topic, messages, handle)
	}
	return nil
}

func (i *Indexer) Wait() {
	i.wg.Wait()
}

func (i *Indexer) consume(topic string, messages <-chan *message.Message, handle func(context.Context, []byte) error) {
	defer i.wg.Done()
	for msg := range messages {
		ctx := logging.ContextWithRequestID(context.Background(), msg.Metadata.Get("request_id"))
		if err := handle(ctx, msg.Payload); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("topic", topic).Str("message_id", msg.UUID).Msg("search index update failed")
		}
		// Index failures are not retried; a reindex at startup repairs drift.
		msg.Ack()
	}
}

func (i *Indexer) articleSaved(ctx context.Context, payload []byte) error {
	var ev ArticleEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode article event: %w", err)
	}
	return i.index.IndexArticle(ctx, search.ArticleRecord{
		ID:      ev.ArticleID,
		Header:  ev.Header,
		Content: ev.Content,
		Themes:  ev.Themes,
		Date:    ev.Date.Unix(),
	})
}

func (i *Indexer) articleDeleted(ctx context.Context, payload []byte) error {
	var ev ArticleEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode article event: %w", err)
	}
	return i.index.DeleteArticle(ctx, ev.ArticleID)
}

func (i *Indexer) commentSaved(ctx context.Context, payload []byte) error {
	var ev CommentEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode comment event: %w", err)
	}
	return i.index.IndexComment(ctx, search.CommentRecord{
		ID:        ev.CommentID,
		ArticleID: ev.ArticleID,
		Text:      ev.Text,
		UserID:    ev.UserID,
	})
}

func (i *Indexer) commentDeleted(ctx context.Context, payload []byte) error {
	var ev CommentEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode comment event: %w", err)
	}
	return i.index.DeleteComment(ctx, ev.CommentID)
}

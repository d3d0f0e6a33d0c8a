// Package events carries article and comment lifecycle notifications from the
// service layer to background consumers such as the search indexer.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"newspaper/api/internal/logging"
	"newspaper/api/internal/metrics"
)

const (
	TopicArticleSaved   = "article.saved"
	TopicArticleDeleted = "article.deleted"
	TopicCommentSaved   = "comment.saved"
	TopicCommentDeleted = "comment.deleted"
)

// ArticleEvent is the payload of article topics. Deleted events only carry
// ArticleID.
type ArticleEvent struct {
	ArticleID int64     `json:"articleId"`
	Header    string    `json:"header,omitempty"`
	Content   string    `json:"content,omitempty"`
	Themes    []string  `json:"themes,omitempty"`
	Date      time.Time `json:"date"`
}

// CommentEvent is the payload of comment topics.
type CommentEvent struct {
	CommentID int64  `json:"commentId"`
	ArticleID int64  `json:"articleId"`
	UserID    int64  `json:"userId,omitempty"`
	Text      string `json:"text,omitempty"`
}

// Publisher is what the service layer depends on.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Bus is an in-process pub/sub backed by watermill's go channel transport.
// Messages published with no subscriber are dropped.
type Bus struct {
	pubsub *gochannel.GoChannel
}

func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, newLoggerAdapter()),
	}
}

func (b *Bus) Publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		metrics.ArticleEvents.WithLabelValues(topic, "error").Inc()
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	if id := logging.RequestIDFromContext(ctx); id != "" {
		msg.Metadata.Set("request_id", id)
	}
	if err := b.pubsub.Publish(topic, msg); err != nil {
		metrics.ArticleEvents.WithLabelValues(topic, "error").Inc()
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	metrics.ArticleEvents.WithLabelValues(topic, "ok").Inc()
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// Discard drops every event. Useful when no consumer is configured.
type Discard struct{}

func (Discard) Publish(context.Context, string, any) error { return nil }

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventType represents the type of event being broadcast
type EventType string

const (
	EventTypeChapterCompleted   EventType = "chapter.completed"
	EventTypeStorylineCompleted EventType = "storyline.completed"
	EventTypeStorylineUnlocked  EventType = "storyline.unlocked"
)

// Event is a progress change for one user
type Event struct {
	Type        EventType              `json:"type"`
	UserID      string                 `json:"user_id"`
	StorylineID string                 `json:"storyline_id"`
	Timestamp   time.Time              `json:"timestamp"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// Notifier receives progress events from the engine. Implementations must
// not block for long; delivery failures are the notifier's concern.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Nop discards every event
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// Channel returns the Pub/Sub channel carrying userID's events
func Channel(userID string) string {
	return fmt.Sprintf("progress:%s", userID)
}

// Broadcaster publishes events to Redis Pub/Sub for SSE distribution
type Broadcaster struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// Ensure Broadcaster implements Notifier
var _ Notifier = (*Broadcaster)(nil)

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster(redisClient *redis.Client, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		redisClient: redisClient,
		logger:      logger,
	}
}

// Notify publishes event and logs, rather than returns, a failure
func (b *Broadcaster) Notify(ctx context.Context, event Event) {
	if err := b.Publish(ctx, event); err != nil {
		b.logger.Warn("Progress event not delivered", "error", err, "event_type", event.Type, "user_id", event.UserID)
	}
}

// Publish publishes an event to the user-specific channel
func (b *Broadcaster) Publish(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	channel := Channel(event.UserID)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("Event published",
		"channel", channel,
		"event_type", event.Type,
		"storyline_id", event.StorylineID,
	)
	return nil
}

// Subscribe opens a subscription to userID's channel. The caller closes it.
func (b *Broadcaster) Subscribe(ctx context.Context, userID string) *redis.PubSub {
	return b.redisClient.Subscribe(ctx, Channel(userID))
}

package story

import (
	"context"

	"github.com/loqalabs/loqa-story/internal/protocol"
)

// EventSink receives story lifecycle events.
type EventSink interface {
	Publish(ctx context.Context, evt protocol.StoryEvent) error
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Publish(context.Context, protocol.StoryEvent) error { return nil }

package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-story/internal/protocol"
	"github.com/nats-io/nats.go"
)

const (
	EventStream       = "STORY_EVENTS"
	eventRetention    = 24 * time.Hour
	eventStreamMaxMsg = 100_000
)

// Publisher sends story lifecycle events to NATS. When JetStream is
// available events are also kept in the STORY_EVENTS stream.
type Publisher struct {
	client  *Client
	durable bool
	log     *slog.Logger
}

func NewPublisher(client *Client) *Publisher {
	p := &Publisher{client: client, log: client.log.With(slog.String("component", "story-events"))}
	if err := p.ensureStream(); err != nil {
		p.log.Warn("jetstream unavailable, publishing story events without persistence", slog.String("error", err.Error()))
	} else {
		p.durable = true
	}
	return p
}

func (p *Publisher) ensureStream() error {
	js := p.client.JetStream()
	if js == nil {
		return errors.New("no jetstream context")
	}
	_, err := js.StreamInfo(EventStream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     EventStream,
		Subjects: []string{protocol.SubjectStoryEventPrefix + ".>"},
		MaxAge:   eventRetention,
		MaxMsgs:  eventStreamMaxMsg,
		Storage:  nats.FileStorage,
	})
	return err
}

// Publish implements story.EventSink.
func (p *Publisher) Publish(ctx context.Context, evt protocol.StoryEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	subject := protocol.SubjectForEvent(evt.Kind)
	if p.durable {
		if _, err := p.client.JetStream().Publish(subject, data, nats.Context(ctx)); err != nil {
			return fmt.Errorf("publish %s: %w", subject, err)
		}
		return nil
	}
	if err := p.client.Conn().Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

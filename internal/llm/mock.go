package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type mockGenerator struct {
	delay time.Duration
}

// NewMockGenerator streams a deterministic story word by word, pausing delay
// between fragments.
func NewMockGenerator(delay time.Duration) Generator {
	return &mockGenerator{delay: delay}
}

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	start := time.Now()
	fragments := strings.SplitAfter(mockStory(req), " ")
	for i, fragment := range fragments {
		if m.delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.delay):
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		if err := consumer(Chunk{
			SessionID: req.SessionID,
			Content:   fragment,
			Partial:   i < len(fragments)-1,
			Latency:   time.Since(start),
		}); err != nil {
			return err
		}
	}
	return nil
}

func mockStory(req Request) string {
	subject := strings.TrimRight(strings.TrimSpace(req.Seed), ".!?")
	if subject == "" {
		subject = "a quiet village"
	}
	phase := strings.ToLower(req.Phase)
	if phase == "" {
		phase = "story"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "This is the %s of a tale about %s. ", phase, subject)
	for _, s := range req.Steering {
		if s = strings.TrimRight(strings.TrimSpace(s), ".!?"); s != "" {
			fmt.Fprintf(&b, "Then the listener asked to %s, and so it was. ", s)
		}
	}
	b.WriteString("Mr. Owl watched from the old oak tree! Would anyone notice him? ")
	b.WriteString("The wind kept whispering through the leaves")
	return b.String()
}

// Package story drives a phased narrative run for one connection: text from
// the generator is forwarded as it arrives, cut into sentences, and each
// sentence is voiced before the next fragment is taken.
package story

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-story/internal/config"
	"github.com/loqalabs/loqa-story/internal/gate"
	"github.com/loqalabs/loqa-story/internal/history"
	"github.com/loqalabs/loqa-story/internal/llm"
	"github.com/loqalabs/loqa-story/internal/protocol"
	"github.com/loqalabs/loqa-story/internal/session"
	"github.com/loqalabs/loqa-story/internal/transport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const instrumentationName = "github.com/loqalabs/loqa-story/internal/story"

// Speaker voices one sentence, passing frames to emit in playback order.
type Speaker interface {
	Stream(ctx context.Context, sentence, language string, emit func([]byte) error) error
}

// Start is the client's seed for a run.
type Start struct {
	Input    string
	Language string
}

type Orchestrator struct {
	phases              []Phase
	interactive         bool
	interactionTemplate string
	proceedOnTimeout    bool
	fragmentBuffer      int
	continuePrevious    bool
	defaultLanguage     string
	defaults            llm.Request

	generator llm.Generator
	speaker   Speaker
	gate      *gate.Gate
	registry  *session.Registry
	events    EventSink
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *metrics
	clock     func() time.Time
}

func New(cfg config.StoryConfig, llmCfg config.LLMConfig, generator llm.Generator, speaker Speaker, registry *session.Registry, events EventSink, logger *slog.Logger) *Orchestrator {
	if events == nil {
		events = NopSink{}
	}
	logger = logger.With(slog.String("component", "story"))
	m, err := newMetrics(otel.Meter(instrumentationName))
	if err != nil {
		logger.Warn("story metrics disabled", slogError(err))
		m, _ = newMetrics(noop.NewMeterProvider().Meter(instrumentationName))
	}
	buffer := cfg.FragmentBuffer
	if buffer <= 0 {
		buffer = 1
	}
	return &Orchestrator{
		phases:              PhasesFromConfig(cfg, llmCfg.MaxTokens),
		interactive:         cfg.Interactive,
		interactionTemplate: cfg.InteractionTemplate,
		proceedOnTimeout:    cfg.InteractionTimeoutPolicy == "proceed",
		fragmentBuffer:      buffer,
		continuePrevious:    cfg.ContinuePrevious,
		defaultLanguage:     cfg.DefaultLanguage,
		defaults:            llm.RequestFromConfig(llmCfg),
		generator:           generator,
		speaker:             speaker,
		gate:                gate.New(time.Duration(cfg.InteractionTimeoutMS)*time.Millisecond, logger),
		registry:            registry,
		events:              events,
		logger:              logger,
		tracer:              otel.Tracer(instrumentationName),
		metrics:             m,
		clock:               time.Now,
	}
}

func (o *Orchestrator) Phases() []Phase {
	return append([]Phase(nil), o.phases...)
}

// Run executes one full story on conn. The session is reset first, so a
// connection can run several stories in sequence. A returned error means the
// run was aborted; the client has already been told unless it disconnected.
func (o *Orchestrator) Run(ctx context.Context, sess *session.Session, conn transport.Channel, start Start) error {
	language := start.Language
	if language == "" {
		language = o.defaultLanguage
	}
	sess.Reset(start.Input, language)
	log := o.logger.With(slog.String("session_id", sess.ID()))
	started := o.clock()

	ctx, span := o.tracer.Start(ctx, "story.run", trace.WithAttributes(
		attribute.String("session.id", sess.ID()),
		attribute.String("story.language", language),
		attribute.Int("story.phases", len(o.phases)),
	))
	defer span.End()

	fail := func(err error) error {
		outcome := "error"
		if o.disconnected(ctx, err) {
			outcome = "disconnected"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		o.metrics.recordRun(context.WithoutCancel(ctx), outcome, started)
		return o.abort(ctx, log, sess, conn, err)
	}

	if err := conn.SendJSON(ctx, protocol.NewStatus(protocol.StatusStarted, "Story generation started", language)); err != nil {
		return fail(err)
	}
	o.publish(ctx, log, o.event(sess, protocol.EventStarted, -1))
	log.Info("story started", slog.String("language", language), slog.Int("phases", len(o.phases)))

	previous := o.previousStory(ctx, log)
	for i, phase := range o.phases {
		if err := sess.Transition(i); err != nil {
			return fail(err)
		}
		if err := o.runPhase(ctx, sess, conn, phase, previous); err != nil {
			return fail(err)
		}
		o.publish(ctx, log, o.event(sess, protocol.EventPhaseCompleted, i))
		if o.interactive && i < len(o.phases)-1 {
			if err := o.interact(ctx, log, sess, conn, o.phases[i+1]); err != nil {
				return fail(err)
			}
		}
	}

	turn := history.Turn{
		SessionID:   sess.ID(),
		Input:       sess.Input(),
		Story:       sess.Narrative(),
		Language:    language,
		CompletedAt: o.clock().UTC(),
	}
	if err := o.registry.RecordHistory(ctx, turn); err != nil {
		log.Error("failed to record story", slogError(err))
	}
	sess.Complete()
	if err := conn.SendJSON(ctx, protocol.NewStatus(protocol.StatusCompleted, "Story generation completed", "")); err != nil {
		return fail(err)
	}
	o.publish(ctx, log, o.event(sess, protocol.EventCompleted, len(o.phases)-1))
	o.metrics.recordRun(ctx, "completed", started)
	log.Info("story completed", slog.Int("chars", len(turn.Story)), slog.Duration("elapsed", time.Since(started)))
	return nil
}

func (o *Orchestrator) runPhase(ctx context.Context, sess *session.Session, conn transport.Channel, phase Phase, previous string) error {
	ctx, span := o.tracer.Start(ctx, "story.phase", trace.WithAttributes(
		attribute.Int("story.phase.index", phase.Index),
		attribute.String("story.phase.name", phase.Name),
	))
	defer span.End()

	req := o.defaults
	req.SessionID = sess.ID()
	req.Seed = sess.Input()
	req.Language = sess.Language()
	req.Phase = phase.Name
	req.Directive = phase.Directive
	req.TargetWords = phase.TargetWords
	if phase.MaxTokens > 0 {
		req.MaxTokens = phase.MaxTokens
	}
	req.PriorText = strings.TrimSpace(sess.Narrative())
	req.Steering = sess.Steering()
	req.PreviousStory = previous
	req.Final = phase.Final

	fragments := make(chan string, o.fragmentBuffer)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.generator.Generate(gctx, req, func(chunk llm.Chunk) error {
			if chunk.Content == "" {
				return nil
			}
			select {
			case fragments <- chunk.Content:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
		if err != nil {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			return &UpstreamError{Stage: StageGeneration, Phase: phase.Name, Err: err}
		}
		close(fragments)
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case fragment, ok := <-fragments:
				if !ok {
					if sentence := sess.Flush(); sentence != "" {
						return o.speak(gctx, conn, phase, sentence, req.Language)
					}
					return nil
				}
				if err := conn.SendJSON(gctx, protocol.NewText(fragment, phase.Name)); err != nil {
					return err
				}
				o.metrics.fragments.Add(gctx, 1)
				for _, sentence := range sess.Feed(fragment) {
					if err := o.speak(gctx, conn, phase, sentence, req.Language); err != nil {
						return err
					}
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "phase failed")
		return err
	}
	return nil
}

func (o *Orchestrator) speak(ctx context.Context, conn transport.Channel, phase Phase, sentence, language string) error {
	err := o.speaker.Stream(ctx, sentence, language, func(pcm []byte) error {
		if err := conn.SendBinary(ctx, pcm); err != nil {
			return err
		}
		o.metrics.audioBytes.Add(ctx, int64(len(pcm)))
		return nil
	})
	if err != nil {
		if o.disconnected(ctx, err) || ctx.Err() != nil {
			return err
		}
		return &UpstreamError{Stage: StageSynthesis, Phase: phase.Name, Err: err}
	}
	o.metrics.sentences.Add(ctx, 1)
	return nil
}

func (o *Orchestrator) interact(ctx context.Context, log *slog.Logger, sess *session.Session, conn transport.Channel, next Phase) error {
	ctx, span := o.tracer.Start(ctx, "story.interaction", trace.WithAttributes(
		attribute.String("story.phase.next", next.Name),
	))
	defer span.End()

	if n := o.gate.Discard(conn); n > 0 {
		log.Debug("dropped stale client messages before interaction", slog.Int("count", n))
	}
	sess.AwaitInteraction()
	message := renderInteraction(o.interactionTemplate, sess.Narrative(), next.Name)
	if err := conn.SendJSON(ctx, protocol.NewInteractionRequest(message, next.InteractivePrompt)); err != nil {
		return err
	}

	msg, err := o.gate.Await(ctx, conn, protocol.TypeInteractionResponse)
	switch {
	case err == nil:
	case errors.Is(err, gate.ErrTimeout) && o.proceedOnTimeout:
		sess.ClearInteraction()
		o.metrics.recordInteraction(ctx, "timeout_proceed")
		log.Info("interaction timed out, continuing without input", slog.String("next_phase", next.Name))
		return nil
	default:
		o.metrics.recordInteraction(context.WithoutCancel(ctx), "aborted")
		return err
	}
	if err := sess.Steer(msg.Content); err != nil {
		return err
	}
	o.metrics.recordInteraction(ctx, "answered")
	log.Debug("interaction answered", slog.String("next_phase", next.Name), slog.Int("chars", len(msg.Content)))
	return nil
}

func (o *Orchestrator) abort(ctx context.Context, log *slog.Logger, sess *session.Session, conn transport.Channel, err error) error {
	sess.Abort(err)
	bg := context.WithoutCancel(ctx)
	evt := o.event(sess, protocol.EventAborted, sess.PhaseIndex())
	if o.disconnected(ctx, err) {
		log.Info("client disconnected, story abandoned", slog.String("state", sess.State().String()))
		o.publish(bg, log, evt)
		return fmt.Errorf("story aborted: %w", transport.ErrClosed)
	}
	evt.Error = err.Error()
	o.publish(bg, log, evt)
	log.Error("story aborted", slogError(err))

	sendCtx, cancel := context.WithTimeout(bg, 5*time.Second)
	defer cancel()
	if sendErr := conn.SendJSON(sendCtx, protocol.NewError(clientMessage(err))); sendErr != nil {
		log.Debug("could not deliver error message", slogError(sendErr))
	}
	return fmt.Errorf("story aborted: %w", err)
}

func (o *Orchestrator) disconnected(ctx context.Context, err error) bool {
	return transport.Disconnected(ctx, err) || errors.Is(err, gate.ErrDisconnected)
}

func (o *Orchestrator) previousStory(ctx context.Context, log *slog.Logger) string {
	if !o.continuePrevious {
		return ""
	}
	turns, err := o.registry.RecentHistory(ctx, 1)
	if err != nil {
		log.Warn("could not load previous story", slogError(err))
		return ""
	}
	if len(turns) == 0 {
		return ""
	}
	return turns[0].Story
}

func (o *Orchestrator) event(sess *session.Session, kind string, phaseIndex int) protocol.StoryEvent {
	evt := protocol.StoryEvent{
		SessionID:  sess.ID(),
		Kind:       kind,
		PhaseIndex: phaseIndex,
		Language:   sess.Language(),
		Chars:      len(sess.Narrative()),
		Timestamp:  o.clock().UTC(),
	}
	if phaseIndex >= 0 && phaseIndex < len(o.phases) {
		evt.Phase = o.phases[phaseIndex].Name
	}
	return evt
}

func (o *Orchestrator) publish(ctx context.Context, log *slog.Logger, evt protocol.StoryEvent) {
	if err := o.events.Publish(ctx, evt); err != nil {
		log.Warn("failed to publish story event", slog.String("kind", evt.Kind), slogError(err))
	}
}

func renderInteraction(template, narrative, nextPhase string) string {
	return strings.NewReplacer("{previous_content}", narrative, "{next_phase}", nextPhase).Replace(template)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

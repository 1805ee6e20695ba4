// Package pipeline implements the per-session orchestration core: the turn
// state machine, the bounded inbound queue, and the merge of synthesis and
// gesture output into one ordered outbound event stream.
//
// A Pipeline owns exactly one session. At most one turn is in flight at any
// time; a second inbound message is queued (depth 1, newest supersedes) or
// rejected. External adapter calls are bounded by a retry policy and
// optional shared circuit breakers; no session lock is held across them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxatar/voxatar/internal/gesture"
	"github.com/voxatar/voxatar/internal/lipsync"
	"github.com/voxatar/voxatar/internal/observe"
	"github.com/voxatar/voxatar/internal/resilience"
	"github.com/voxatar/voxatar/internal/transcript"
	"github.com/voxatar/voxatar/pkg/event"
	"github.com/voxatar/voxatar/pkg/fault"
	"github.com/voxatar/voxatar/pkg/history"
	"github.com/voxatar/voxatar/pkg/provider/llm"
	"github.com/voxatar/voxatar/pkg/provider/stt"
	"github.com/voxatar/voxatar/pkg/provider/tts"
)

// defaultHistoryWindow caps the prior turns handed to the generator.
const defaultHistoryWindow = 16

// persistTimeout bounds the write-behind history insert after a turn.
const persistTimeout = 5 * time.Second

// Sink receives the ordered outbound events of a turn. The pipeline calls
// Emit from a single goroutine per session, in timestamp order.
type Sink interface {
	Emit(ev event.Outbound)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(event.Outbound)

func (f SinkFunc) Emit(ev event.Outbound) { f(ev) }

// Breakers are the optional circuit breakers shared across sessions, one
// per external adapter. A nil breaker disables breaking for that adapter.
type Breakers struct {
	STT *resilience.Breaker
	LLM *resilience.Breaker
	TTS *resilience.Breaker
}

// Config assembles one session pipeline. Generator and Sink are required;
// every other collaborator is optional and its absence degrades the
// corresponding capability (no Transcriber → text input only, no
// Synthesizer → text-only replies, no History → no persistence).
type Config struct {
	SessionID string
	Persona   llm.PersonaConfig
	Voice     tts.VoiceConfig

	Transcriber stt.Transcriber
	Generator   llm.Generator
	Synthesizer tts.Synthesizer
	Gestures    *gesture.Selector
	Corrector   *transcript.Corrector
	History     history.Store

	// Fallbacks is the persona's canned-reply table for persistent
	// generation failures.
	Fallbacks []FallbackReply

	Policy   resilience.Policy
	Breakers Breakers

	// QueueDepth is the inbound wait-queue size while a turn is in flight.
	// 0 rejects concurrent messages outright; 1 (the usual setting) keeps
	// the newest waiting message, superseding an older queued one.
	QueueDepth int

	// HistoryWindow caps prior turns passed to the Generator. Default 16.
	HistoryWindow int

	Metrics *observe.Metrics
	Logger  *slog.Logger
	Sink    Sink
}

// request is one turn trigger: either complete text or a finished audio
// utterance.
type request struct {
	text  string
	audio []byte
}

// Pipeline is the state machine for one session. Safe for concurrent use.
type Pipeline struct {
	cfg     Config
	logger  *slog.Logger
	metrics *observe.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       State
	turnCounter uint64
	turns       []event.Turn
	audioBuf    []byte
	pending     *request
	inFlight    bool
	closed      bool
	lastActive  time.Time
}

// New creates an idle Pipeline for cfg.SessionID.
func New(cfg Config) (*Pipeline, error) {
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("pipeline: session id is required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("pipeline: generator is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("pipeline: sink is required")
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = defaultHistoryWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:        cfg,
		logger:     cfg.Logger.With("session_id", cfg.SessionID),
		metrics:    cfg.Metrics,
		ctx:        ctx,
		cancel:     cancel,
		state:      StateIdle,
		lastActive: time.Now(),
	}, nil
}

// HandleInbound accepts one envelope from the transport. Audio chunks
// accumulate until audio-end; text and audio-end trigger a turn. The Accept
// value reports whether the turn started, was queued, or was rejected.
func (p *Pipeline) HandleInbound(env event.Envelope) (event.Accept, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return "", fault.ErrSessionClosed
	}
	p.lastActive = time.Now()

	var req *request
	switch env.Kind {
	case event.InboundAudioChunk:
		p.audioBuf = append(p.audioBuf, env.Audio...)
		return event.Accepted, nil

	case event.InboundAudioEnd:
		if len(p.audioBuf) == 0 {
			return "", fault.Invalid("audio-end without buffered audio")
		}
		req = &request{audio: p.audioBuf}
		p.audioBuf = nil

	case event.InboundText:
		if env.Text == "" {
			return "", fault.Invalid("empty text message")
		}
		req = &request{text: env.Text}

	default:
		return "", fault.Invalid("unknown inbound kind %q", env.Kind)
	}

	return p.startOrQueueLocked(req)
}

// startOrQueueLocked applies the one-turn-in-flight rule. Caller holds p.mu.
func (p *Pipeline) startOrQueueLocked(req *request) (event.Accept, error) {
	if !p.inFlight {
		p.inFlight = true
		p.wg.Add(1)
		go p.run(req)
		return event.Accepted, nil
	}
	if p.cfg.QueueDepth > 0 {
		if p.pending != nil {
			p.logger.Info("superseding queued inbound message")
		}
		p.pending = req
		return event.Queued, nil
	}
	p.metrics.InboundRejected.Add(p.ctx, 1)
	return event.RejectedBusy, fault.ErrSessionBusy
}

// run executes turns until no queued request remains. It owns the inFlight
// flag set by startOrQueueLocked.
func (p *Pipeline) run(req *request) {
	defer p.wg.Done()
	for {
		p.executeTurn(req)

		p.mu.Lock()
		if p.pending != nil && !p.closed {
			req = p.pending
			p.pending = nil
			p.mu.Unlock()
			continue
		}
		p.inFlight = false
		p.mu.Unlock()
		return
	}
}

// executeTurn drives one request through the full state machine.
func (p *Pipeline) executeTurn(req *request) {
	start := time.Now()

	p.mu.Lock()
	p.turnCounter++
	turnNo := p.turnCounter
	p.mu.Unlock()

	ctx, span := observe.StartSpan(p.ctx, "pipeline.turn")
	defer span.End()
	logger := p.logger.With("turn", turnNo)

	userText, err := p.resolveUserText(ctx, req)
	if err != nil {
		p.failTurn(ctx, logger, turnNo, err)
		return
	}

	textEvents := []event.Outbound{{
		SessionID: p.cfg.SessionID,
		Turn:      turnNo,
		Kind:      event.KindTranscript,
		Text:      userText,
	}}

	p.setState(StateGenerating)
	reply, genErr := p.generate(ctx, userText)
	fallback := false
	if genErr != nil {
		if errors.Is(genErr, fault.ErrInvalidInput) {
			p.failTurn(ctx, logger, turnNo, genErr)
			return
		}
		reply = fallbackFor(p.cfg.Fallbacks, userText)
		fallback = true
		logger.Warn("reply generation failed, using canned fallback", "error", genErr)
	}

	mood := gesture.DetectMood(reply)
	textEvents = append(textEvents, event.Outbound{
		SessionID: p.cfg.SessionID,
		Turn:      turnNo,
		Kind:      event.KindReplyDelta,
		Text:      reply,
		Mood:      mood,
	})
	if fallback {
		textEvents = append(textEvents, event.Outbound{
			SessionID: p.cfg.SessionID,
			Turn:      turnNo,
			Kind:      event.KindError,
			Text:      "reply generation is temporarily unavailable",
			Severity:  event.SeverityWarning,
		})
	}

	var (
		chunks   []tts.Chunk
		markers  []tts.Marker
		gestures []gesture.Event
		degraded bool
	)
	if !fallback && p.cfg.Synthesizer != nil {
		p.setState(StateSynthesizing)
		g, gctx := errgroup.WithContext(ctx)
		var synthErr error
		g.Go(func() error {
			chunks, markers, synthErr = p.synthesize(gctx, reply)
			return nil
		})
		g.Go(func() error {
			if p.cfg.Gestures != nil {
				gestures = p.cfg.Gestures.SelectGestures(reply, mood)
			}
			return nil
		})
		_ = g.Wait()

		if synthErr != nil {
			// No audio to time against: the turn completes text-only and
			// gesture cues are dropped with it.
			chunks, markers, gestures = nil, nil, nil
			degraded = true
			logger.Warn("speech synthesis failed, delivering text only", "error", synthErr)
			textEvents = append(textEvents, event.Outbound{
				SessionID: p.cfg.SessionID,
				Turn:      turnNo,
				Kind:      event.KindError,
				Text:      "speech synthesis is temporarily unavailable",
				Severity:  event.SeverityWarning,
			})
		} else if len(markers) == 0 {
			totalMs := 0
			for _, c := range chunks {
				totalMs += c.DurationMs
			}
			markers = lipsync.Estimate(reply, totalMs)
		}
	}

	events := timeline(p.cfg.SessionID, turnNo, mood, textEvents, chunks, markers, gestures)

	p.setState(StateEmitting)
	p.mu.Lock()
	if p.closed {
		// The session went away mid-turn; its results are discarded and the
		// transcript keeps no half-produced turn.
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for _, ev := range events {
		p.cfg.Sink.Emit(ev)
	}

	turn := event.Turn{
		Counter:   turnNo,
		User:      event.Utterance{Role: event.RoleUser, Text: userText, CreatedAt: start},
		Assistant: event.Utterance{Role: event.RoleAssistant, Text: reply, CreatedAt: time.Now()},
		Degraded:  degraded || fallback,
	}
	p.mu.Lock()
	p.turns = append(p.turns, turn)
	p.mu.Unlock()

	p.persist(turn, mood)

	outcome := "ok"
	switch {
	case fallback:
		outcome = "fallback"
	case degraded:
		outcome = "degraded"
	}
	p.metrics.RecordTurn(ctx, outcome)
	p.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
	p.setState(StateIdle)
	logger.Info("turn completed",
		"outcome", outcome,
		"events", len(events),
		"duration_ms", time.Since(start).Milliseconds())
}

// resolveUserText returns the user's text for this turn, transcribing and
// correcting audio input when needed.
func (p *Pipeline) resolveUserText(ctx context.Context, req *request) (string, error) {
	if req.audio == nil {
		return req.text, nil
	}
	if p.cfg.Transcriber == nil {
		return "", fault.Invalid("audio input is not supported for this session")
	}

	p.setState(StateTranscribing)
	start := time.Now()
	var text string
	err := p.callAdapter(ctx, "stt", p.cfg.Breakers.STT, func(c context.Context) error {
		t, err := p.cfg.Transcriber.Transcribe(c, req.audio, p.cfg.Voice.Locale)
		text = t
		return err
	})
	p.metrics.TranscribeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return "", err
	}

	if p.cfg.Corrector != nil {
		corrected, corrections := p.cfg.Corrector.Correct(text)
		if len(corrections) > 0 {
			p.logger.Debug("transcript corrected",
				"corrections", len(corrections),
				"raw", text)
			text = corrected
		}
	}
	return text, nil
}

// generate produces the reply text for userText with the session's history
// window.
func (p *Pipeline) generate(ctx context.Context, userText string) (string, error) {
	reqHistory := p.historyWindow()

	start := time.Now()
	var reply string
	err := p.callAdapter(ctx, "llm", p.cfg.Breakers.LLM, func(c context.Context) error {
		ch, err := p.cfg.Generator.StreamReply(c, llm.ReplyRequest{
			History:  reqHistory,
			UserText: userText,
			Persona:  p.cfg.Persona,
		})
		if err != nil {
			return err
		}
		r, err := llm.Collect(c, ch)
		if err != nil {
			return err
		}
		reply = r
		return nil
	})
	p.metrics.GenerateDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	if reply == "" {
		return "", fault.Upstream(errors.New("generator returned empty reply"))
	}
	return reply, nil
}

// synthesize runs speech synthesis for reply and drains the chunk stream.
// The stream is fully consumed within the retry attempt so a mid-stream
// failure can restart synthesis from scratch.
func (p *Pipeline) synthesize(ctx context.Context, reply string) ([]tts.Chunk, []tts.Marker, error) {
	start := time.Now()
	var (
		chunks  []tts.Chunk
		markers []tts.Marker
	)
	err := p.callAdapter(ctx, "tts", p.cfg.Breakers.TTS, func(c context.Context) error {
		ch, err := p.cfg.Synthesizer.Synthesize(c, reply, p.cfg.Voice)
		if err != nil {
			return err
		}
		var attemptChunks []tts.Chunk
		var attemptMarkers []tts.Marker
		for chunk := range ch {
			if chunk.Err != nil {
				return chunk.Err
			}
			attemptMarkers = append(attemptMarkers, chunk.Markers...)
			chunk.Markers = nil
			attemptChunks = append(attemptChunks, chunk)
		}
		chunks, markers = attemptChunks, attemptMarkers
		return nil
	})
	p.metrics.SynthesizeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return nil, nil, err
	}
	return chunks, markers, nil
}

// callAdapter wraps one external call with the retry policy, the optional
// shared breaker, and request metrics.
func (p *Pipeline) callAdapter(ctx context.Context, name string, br *resilience.Breaker, op func(context.Context) error) error {
	policy := p.cfg.Policy
	if policy.Logger == nil {
		policy.Logger = p.logger
	}
	do := func() error { return policy.Do(ctx, name, op) }

	var err error
	if br != nil {
		err = br.Execute(do)
	} else {
		err = do()
	}

	status := "ok"
	if err != nil {
		status = "error"
		p.metrics.RecordAdapterError(ctx, name)
	}
	p.metrics.RecordAdapterRequest(ctx, name, status)
	return err
}

// failTurn reports a fatal per-turn failure and returns the session to
// idle. The transcript is untouched.
func (p *Pipeline) failTurn(ctx context.Context, logger *slog.Logger, turnNo uint64, err error) {
	p.setState(StateFailed)
	logger.Error("turn failed", "error", err)

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if !closed {
		p.cfg.Sink.Emit(event.Outbound{
			SessionID: p.cfg.SessionID,
			Turn:      turnNo,
			Kind:      event.KindError,
			Text:      userSafeError(err),
			Severity:  event.SeverityFatal,
		})
	}
	p.metrics.RecordTurn(ctx, "failed")
	p.setState(StateIdle)
}

// userSafeError reduces an internal error to a message safe to put on the
// wire.
func userSafeError(err error) string {
	switch {
	case errors.Is(err, fault.ErrInvalidInput):
		return "the message could not be understood"
	case fault.Transient(err):
		return "the service is temporarily unavailable"
	default:
		return "the request could not be processed"
	}
}

// historyWindow renders the most recent turns as generator messages,
// oldest first.
func (p *Pipeline) historyWindow() []llm.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	turns := p.turns
	if len(turns) > p.cfg.HistoryWindow {
		turns = turns[len(turns)-p.cfg.HistoryWindow:]
	}
	msgs := make([]llm.Message, 0, 2*len(turns))
	for _, t := range turns {
		msgs = append(msgs, llm.Message{Role: string(event.RoleUser), Content: t.User.Text})
		msgs = append(msgs, llm.Message{Role: string(event.RoleAssistant), Content: t.Assistant.Text})
	}
	return msgs
}

// persist writes the finalized turn to the history store, best-effort.
func (p *Pipeline) persist(turn event.Turn, mood string) {
	if p.cfg.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	rec := history.Record{
		SessionID:     p.cfg.SessionID,
		Turn:          turn.Counter,
		UserText:      turn.User.Text,
		AssistantText: turn.Assistant.Text,
		Degraded:      turn.Degraded,
		Mood:          mood,
		CreatedAt:     turn.Assistant.CreatedAt,
	}
	if err := p.cfg.History.AppendTurn(ctx, rec); err != nil {
		p.logger.Warn("failed to persist turn", "turn", turn.Counter, "error", err)
	}
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// State returns the current pipeline state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SessionID returns the owning session's id.
func (p *Pipeline) SessionID() string { return p.cfg.SessionID }

// LastActive reports when the session last received an inbound message.
func (p *Pipeline) LastActive() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastActive
}

// Busy reports whether a turn is in flight or queued.
func (p *Pipeline) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight || p.pending != nil
}

// Transcript returns a copy of the finalized turns, oldest first.
func (p *Pipeline) Transcript() []event.Turn {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]event.Turn, len(p.turns))
	copy(out, p.turns)
	return out
}

// Close shuts the session down. A turn in flight is cancelled and its
// results discarded; subsequent HandleInbound calls fail with
// ErrSessionClosed. Close blocks until the worker goroutine exits.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.pending = nil
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	p.state = StateIdle
	p.mu.Unlock()
}

// Package stream implements the per-provider streaming session state machine
// shared by all realtime ASR backends.
//
// A Session owns one logical provider connection through its whole lifecycle:
// connect → start → stream → (error | idle timeout) → reconnect with backoff
// → finalize. Providers supply only a Transport that knows how to dial and
// speak their wire protocol; everything above the wire — the reconnect loop,
// the forward-only (model, language) candidate ladder, the idle watchdog,
// the bounded outbound audio queue, and transcript reconciliation via
// pkg/asr/merge — lives here.
//
// All mutations of session state are serialised behind one mutex; transport
// callbacks, FeedAudio callers, the watchdog, and Stop never race on the
// queue, the candidate indices, or the merger.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/saytext/saytext/pkg/asr"
	"github.com/saytext/saytext/pkg/asr/merge"
	"github.com/saytext/saytext/pkg/types"
)

// Default tuning values, used when the corresponding Config field is zero.
const (
	DefaultMaxRetries       = 3
	DefaultBackoffBase      = 1 * time.Second
	DefaultMaxBackoff       = 10 * time.Second
	DefaultQueueCapacity    = 64
	DefaultWatchdogInterval = 5 * time.Second
	DefaultIdleTimeout      = 30 * time.Second
	DefaultStopPollInterval = 80 * time.Millisecond
	DefaultStopMaxWait      = 1500 * time.Millisecond
	DefaultStopMinIdle      = 240 * time.Millisecond

	resultsBuffer = 64
)

// Message is one decoded inbound event handed up by a Transport.
type Message struct {
	// Text is the transcript fragment, possibly empty.
	Text string

	// IsFinal marks the fragment as settled.
	IsFinal bool

	// Terminal marks end-of-stream, independent of whether text is present.
	Terminal bool
}

// Conn is one live provider connection.
type Conn interface {
	// SendStart sends the provider-specific start/config control message.
	SendStart(ctx context.Context) error

	// SendAudio sends one binary audio frame.
	SendAudio(ctx context.Context, frame []byte) error

	// SendStop sends the provider-specific end-of-stream control frame.
	SendStop(ctx context.Context) error

	// Receive blocks until the next decoded message. Server-reported errors
	// are returned as *asr.APIError so the session can classify them.
	Receive(ctx context.Context) (Message, error)

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Transport dials provider connections for a session.
type Transport interface {
	Dial(ctx context.Context, model, language string) (Conn, error)
}

// Config tunes a Session. Zero fields take the package defaults.
type Config struct {
	// Provider is the provider identifier used in logs and stage events.
	Provider string

	// Models and Languages are the ordered candidate lists expanded by
	// Candidates into the fallback ladder.
	Models    []string
	Languages []string

	// MaxRetries caps reconnect attempts per candidate configuration.
	MaxRetries int

	// BackoffBase and MaxBackoff shape the exponential reconnect backoff.
	BackoffBase time.Duration
	MaxBackoff  time.Duration

	// QueueCapacity bounds the audio frames queued while disconnected;
	// the oldest frames are dropped when the bound is exceeded.
	QueueCapacity int

	// WatchdogInterval and IdleTimeout drive the staleness watchdog: every
	// WatchdogInterval the session checks whether anything was received in
	// the last IdleTimeout and forces a reconnect when not.
	WatchdogInterval time.Duration
	IdleTimeout      time.Duration

	// StopPollInterval, StopMaxWait, and StopMinIdle bound the wait for a
	// final result inside Stop. When the partial text has been stable for
	// two consecutive polls and at least StopMinIdle has elapsed, Stop
	// finalizes early.
	StopPollInterval time.Duration
	StopMaxWait      time.Duration
	StopMinIdle      time.Duration

	// Thresholds tunes the transcript merger.
	Thresholds merge.Thresholds

	// OnStage, when non-nil, receives stage events.
	OnStage types.StageFunc

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = DefaultWatchdogInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.StopPollInterval <= 0 {
		c.StopPollInterval = DefaultStopPollInterval
	}
	if c.StopMaxWait <= 0 {
		c.StopMaxWait = DefaultStopMaxWait
	}
	if c.StopMinIdle <= 0 {
		c.StopMinIdle = DefaultStopMinIdle
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Session is a live streaming recognition session. It implements
// asr.Session. Create one with Start.
type Session struct {
	transport  Transport
	cfg        Config
	log        *slog.Logger
	candidates []Candidate

	ctx     context.Context
	results chan types.TranscriptionResult
	closed  chan struct{}

	recvWG sync.WaitGroup
	finish sync.Once

	sendMu sync.Mutex // serialises outbound frames on the active conn

	mu           sync.Mutex
	conn         Conn
	connected    bool
	stopping     bool
	retries      int
	candIdx      int
	lastReceived time.Time
	pending      [][]byte
	merger       *merge.Merger
	final        *types.TranscriptionResult
}

var _ asr.Session = (*Session)(nil)

// Start dials the first candidate configuration (walking the ladder if the
// first attempts fail) and returns a running session. The returned session
// owns background receive and watchdog goroutines until Stop is called.
func Start(ctx context.Context, transport Transport, cfg Config) (*Session, error) {
	cfg.applyDefaults()
	s := &Session{
		transport:  transport,
		cfg:        cfg,
		log:        cfg.Logger.With("provider", cfg.Provider),
		candidates: Candidates(cfg.Models, cfg.Languages),
		ctx:        ctx,
		results:    make(chan types.TranscriptionResult, resultsBuffer),
		closed:     make(chan struct{}),
		merger:     merge.New(cfg.Thresholds),
	}
	if err := s.establish(ctx); err != nil {
		return nil, fmt.Errorf("stream: connect %s: %w", cfg.Provider, err)
	}
	go s.watchdog(ctx)
	return s, nil
}

// Results returns the reconciled result stream. The channel is closed when
// the session finishes.
func (s *Session) Results() <-chan types.TranscriptionResult { return s.results }

// FeedAudio sends one audio frame, or queues it while the connection is
// down. Queued frames are replayed in order after reconnect; when the queue
// bound is exceeded the oldest frames are dropped.
func (s *Session) FeedAudio(frame []byte) error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return fmt.Errorf("stream: %s: session stopped: %w", s.cfg.Provider, asr.ErrStreamingNotSupported)
	}
	conn := s.conn
	connected := s.connected
	if !connected {
		dropped := s.enqueueLocked(frame)
		s.mu.Unlock()
		s.noteDropped(dropped)
		return nil
	}
	s.mu.Unlock()

	s.sendMu.Lock()
	err := conn.SendAudio(s.ctx, frame)
	s.sendMu.Unlock()
	if err == nil {
		return nil
	}

	// Transient send failure: keep the frame (front of the queue, so replay
	// order is preserved) and let the receive loop drive the reconnect.
	s.mu.Lock()
	if s.conn == conn {
		s.connected = false
	}
	dropped := s.requeueFrontLocked(frame)
	s.mu.Unlock()
	s.noteDropped(dropped)
	conn.Close()
	return nil
}

// Stop requests end-of-stream, waits a bounded interval for the provider's
// final result, tears everything down, and returns the reconciled final (or
// nil when nothing usable was produced). Stop is idempotent; a concurrent
// second call waits for the first to finish.
func (s *Session) Stop(ctx context.Context) (*types.TranscriptionResult, error) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		select {
		case <-s.closed:
		case <-ctx.Done():
		}
		return s.finalResult(), nil
	}
	s.stopping = true
	s.merger.MarkStopping()
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		s.sendMu.Lock()
		if err := conn.SendStop(ctx); err != nil {
			s.log.Debug("end-of-stream frame failed", "error", err)
		}
		s.sendMu.Unlock()
	}

	s.awaitFinal(ctx)

	// Whatever happened, produce the reconciliation decision and tear down.
	s.mu.Lock()
	if ev, ok := s.merger.Finalize(); ok {
		s.storeResultLocked(ev)
		res := *s.final
		s.mu.Unlock()
		// Best-effort: the final is also Stop's return value, so never
		// block here on a full buffer.
		select {
		case s.results <- res:
		default:
		}
	} else {
		s.mu.Unlock()
	}
	if conn != nil {
		conn.Close()
	}
	s.shutdown()
	s.emitStage("finalized", "")
	return s.finalResult(), nil
}

// awaitFinal polls for the provider's final after the stop frame was sent.
// Early exit when the accumulated text has been byte-identical for two
// consecutive polls and the minimum idle time has elapsed.
func (s *Session) awaitFinal(ctx context.Context) {
	deadline := time.Now().Add(s.cfg.StopMaxWait)
	var lastText string
	stablePolls := 0
	started := time.Now()

	for time.Now().Before(deadline) {
		s.mu.Lock()
		finalized := s.merger.Finalized()
		text := s.merger.Accumulated()
		s.mu.Unlock()
		if finalized {
			return
		}
		if text == lastText {
			stablePolls++
		} else {
			stablePolls = 0
			lastText = text
		}
		if stablePolls >= 2 && text != "" && time.Since(started) >= s.cfg.StopMinIdle {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.StopPollInterval):
		}
	}
}

// establish dials the current candidate, walking the ladder and retrying
// with backoff on failure. On success it flushes queued audio and spawns the
// receive loop.
func (s *Session) establish(ctx context.Context) error {
	for {
		s.mu.Lock()
		stopping := s.stopping
		s.mu.Unlock()
		if stopping {
			return asr.ErrConnectionLost
		}

		cand := s.currentCandidate()
		conn, err := s.transport.Dial(ctx, cand.Model, cand.Language)
		if err == nil {
			if err = conn.SendStart(ctx); err != nil {
				conn.Close()
			}
		}
		if err == nil {
			s.mu.Lock()
			if s.stopping {
				s.mu.Unlock()
				// Stop finished while the dial was in flight; the fresh
				// connection must not outlive the torn-down session.
				conn.Close()
				return asr.ErrConnectionLost
			}
			s.conn = conn
			s.connected = true
			s.lastReceived = time.Now()
			pending := s.pending
			s.pending = nil
			s.mu.Unlock()

			if ok := s.replay(ctx, conn, pending); !ok {
				// Flush failed mid-way; the leftover frames were requeued.
				conn.Close()
				if !s.nextAttempt(ctx, asr.ErrConnectionLost) {
					return asr.ErrConnectionLost
				}
				continue
			}
			s.recvWG.Add(1)
			go s.receiveLoop(ctx, conn)
			s.emitStage("connected", fmt.Sprintf("model=%q language=%q", cand.Model, cand.Language))
			return nil
		}
		if !s.nextAttempt(ctx, err) {
			return err
		}
	}
}

// replay sends previously queued frames in order. On failure the unsent
// remainder (including the failed frame) goes back to the front of the
// queue. Returns false when the connection should be abandoned.
func (s *Session) replay(ctx context.Context, conn Conn, frames [][]byte) bool {
	for i, frame := range frames {
		s.sendMu.Lock()
		err := conn.SendAudio(ctx, frame)
		s.sendMu.Unlock()
		if err != nil {
			s.mu.Lock()
			s.connected = false
			s.pending = append(append([][]byte{}, frames[i:]...), s.pending...)
			dropped := s.trimQueueLocked()
			s.mu.Unlock()
			s.noteDropped(dropped)
			return false
		}
	}
	return true
}

// nextAttempt classifies err, advances the candidate ladder when the error
// condemns the current (model, language) pair, applies exponential backoff,
// and reports whether another attempt should be made.
func (s *Session) nextAttempt(ctx context.Context, err error) bool {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return false
	}
	if IsCandidateError(err) {
		// The current (model, language) pair was rejected outright;
		// retrying it cannot help. Advance the ladder or give up.
		if s.candIdx+1 >= len(s.candidates) {
			s.mu.Unlock()
			s.log.Warn("candidate ladder exhausted", "error", err)
			return false
		}
		s.candIdx++
		s.retries = 0
		next := s.candidates[s.candIdx]
		s.mu.Unlock()
		s.log.Warn("advancing to next model/language candidate",
			"error", err, "model", next.Model, "language", next.Language)
		s.emitStage("candidate_advance", err.Error())
		return s.sleepBackoff(ctx, 0)
	}
	if s.retries >= s.cfg.MaxRetries {
		s.mu.Unlock()
		s.log.Warn("retries exhausted", "error", err, "max_retries", s.cfg.MaxRetries)
		return false
	}
	s.retries++
	retries := s.retries
	s.mu.Unlock()
	s.log.Info("reconnecting", "attempt", retries, "error", err)
	s.emitStage("reconnect", err.Error())
	return s.sleepBackoff(ctx, retries)
}

// sleepBackoff waits base·2^(retries−1), capped, aborting early on stop or
// context cancellation.
func (s *Session) sleepBackoff(ctx context.Context, retries int) bool {
	if retries <= 0 {
		return true
	}
	backoff := s.cfg.BackoffBase << (retries - 1)
	if backoff > s.cfg.MaxBackoff {
		backoff = s.cfg.MaxBackoff
	}
	select {
	case <-ctx.Done():
		return false
	case <-s.closed:
		return false
	case <-time.After(backoff):
		return true
	}
}

func (s *Session) receiveLoop(ctx context.Context, conn Conn) {
	defer s.recvWG.Done()
	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			conn.Close()
			s.mu.Lock()
			stale := s.conn != conn
			stopping := s.stopping
			if !stale {
				s.conn = nil
				s.connected = false
			}
			s.mu.Unlock()
			if stale || stopping {
				return
			}
			if eerr := s.establish(ctx); eerr != nil {
				s.mu.Lock()
				quiet := s.stopping
				s.mu.Unlock()
				if !quiet {
					// Retries and candidates exhausted: finish the stream
					// without propagating an error; the caller observes
					// end of results and falls back to what was already
					// captured.
					s.log.Warn("session terminated", "error", eerr)
					s.emitStage("exhausted", eerr.Error())
				}
				s.shutdown()
			}
			return
		}
		s.handleMessage(msg)
	}
}

func (s *Session) handleMessage(msg Message) {
	s.mu.Lock()
	s.lastReceived = time.Now()
	ev, ok := s.merger.Feed(msg.Text, msg.IsFinal || msg.Terminal)
	if !ok {
		s.mu.Unlock()
		return
	}
	s.storeResultLocked(ev)
	res := *s.final
	s.mu.Unlock()
	s.deliver(res)
}

// storeResultLocked records ev as the session's latest result. Callers hold mu.
func (s *Session) storeResultLocked(ev merge.Event) {
	res := types.TranscriptionResult{
		Text:     ev.Text,
		Language: types.DetectLanguage(ev.Text),
		IsFinal:  ev.IsFinal,
	}
	s.final = &res
}

// deliver pushes a result downstream without ever blocking the receive loop
// on a slow consumer: partials are dropped when the buffer is full, finals
// wait until consumed or the session closes.
func (s *Session) deliver(res types.TranscriptionResult) {
	select {
	case <-s.closed:
		return
	default:
	}
	if res.IsFinal {
		select {
		case s.results <- res:
		case <-s.closed:
		}
		return
	}
	select {
	case s.results <- res:
	default:
		s.log.Debug("dropping partial result, consumer behind")
	}
}

// watchdog forces a reconnect when the connection has gone silent. It checks
// the stopping flag before acting so it never races an in-progress Stop.
func (s *Session) watchdog(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.WatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		idle := s.connected && !s.stopping &&
			time.Since(s.lastReceived) > s.cfg.IdleTimeout
		conn := s.conn
		s.mu.Unlock()
		if idle && conn != nil {
			s.log.Warn("no data received within idle timeout, forcing reconnect",
				"idle_timeout", s.cfg.IdleTimeout)
			s.emitStage("watchdog_timeout", "")
			// Closing the connection makes the receive loop observe an
			// error and run the reconnect path.
			conn.Close()
		}
	}
}

// shutdown closes the result stream exactly once, after all receive loops
// have exited.
func (s *Session) shutdown() {
	s.finish.Do(func() {
		close(s.closed)
		go func() {
			s.recvWG.Wait()
			close(s.results)
		}()
	})
}

func (s *Session) enqueueLocked(frame []byte) int {
	s.pending = append(s.pending, frame)
	return s.trimQueueLocked()
}

func (s *Session) requeueFrontLocked(frame []byte) int {
	s.pending = append([][]byte{frame}, s.pending...)
	return s.trimQueueLocked()
}

// trimQueueLocked drops the oldest frames once the capacity bound is
// exceeded, bounding memory during long disconnects. Returns how many
// frames were discarded.
func (s *Session) trimQueueLocked() int {
	over := len(s.pending) - s.cfg.QueueCapacity
	if over > 0 {
		s.pending = s.pending[over:]
		return over
	}
	return 0
}

// noteDropped reports discarded queued frames. Called outside mu.
func (s *Session) noteDropped(n int) {
	if n <= 0 {
		return
	}
	s.log.Debug("queue over capacity, dropped oldest frames", "count", n)
	if s.cfg.OnStage == nil {
		return
	}
	s.cfg.OnStage(types.StageEvent{
		Stage:    "streaming",
		Event:    "frames_dropped",
		Provider: s.cfg.Provider,
		Count:    n,
	})
}

func (s *Session) currentCandidate() Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.candidates[s.candIdx]
}

func (s *Session) finalResult() *types.TranscriptionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final == nil || !s.final.IsFinal {
		return nil
	}
	res := *s.final
	return &res
}

func (s *Session) emitStage(event, message string) {
	if s.cfg.OnStage == nil {
		return
	}
	s.cfg.OnStage(types.StageEvent{
		Stage:    "streaming",
		Event:    event,
		Provider: s.cfg.Provider,
		Message:  message,
	})
}

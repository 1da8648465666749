package survey

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxGPSLog bounds the raw position log kept for export.
	MaxGPSLog = 10000

	defaultQueueSize = 256
)

// Session is one survey: an engine, the on/off toggle and the state that
// readers may inspect. Positions are processed one at a time in arrival
// order; readers get copies taken after each tick.
type Session struct {
	id     string
	engine *Engine
	bus    *Bus
	queue  chan Position
	now    func() time.Time

	// procMu serializes ticks. Nothing else touches the engine.
	procMu sync.Mutex

	mu         sync.RWMutex
	surveying  bool
	cfg        AlgorithmConfig
	pendingCfg *AlgorithmConfig
	last       *Position
	matched    string
	traces     []TraceSnapshot
	gpsLog     []Position
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithClock sets the wall clock used to stamp outbound payloads.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// WithQueueSize sets the capacity of the position queue.
func WithQueueSize(n int) SessionOption {
	return func(s *Session) { s.queue = make(chan Position, n) }
}

// WithSessionID overrides the generated session id.
func WithSessionID(id string) SessionOption {
	return func(s *Session) { s.id = id }
}

// NewSession creates a stopped session matching against network.
func NewSession(cfg AlgorithmConfig, network Network, opts ...SessionOption) *Session {
	s := &Session{
		id:    uuid.NewString(),
		bus:   NewBus(),
		queue: make(chan Position, defaultQueueSize),
		now:   time.Now,
		cfg:   cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = NewEngine(cfg, network, WithBus(s.bus))
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Subscribe registers h for every event the session produces.
func (s *Session) Subscribe(h Handler) func() {
	return s.bus.Subscribe(h)
}

// Start turns matching on. The first fix after a start is never
// interpolated from a fix seen before it.
func (s *Session) Start() {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	s.engine.ResetInterpolation()

	s.mu.Lock()
	s.surveying = true
	s.mu.Unlock()
	Logf("[SURVEY] session %s started", s.id)
}

// Stop turns matching off and clears the current match. Positions are
// still tracked for status, and active traces are kept for inspection.
func (s *Session) Stop() {
	s.procMu.Lock()
	defer s.procMu.Unlock()

	s.mu.Lock()
	s.surveying = false
	s.matched = ""
	s.mu.Unlock()
	Logf("[SURVEY] session %s stopped", s.id)
}

// Surveying reports whether positions are being matched.
func (s *Session) Surveying() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.surveying
}

// SetConfig replaces the algorithm configuration. It takes effect on the
// next tick.
func (s *Session) SetConfig(cfg AlgorithmConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.pendingCfg = &cfg
}

// Config returns the most recently set configuration.
func (s *Session) Config() AlgorithmConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Submit queues a position for processing. Invalid positions are rejected
// immediately with ErrInputRejected.
func (s *Session) Submit(ctx context.Context, p Position) error {
	if err := p.Validate(); err != nil {
		return err
	}
	select {
	case s.queue <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes queued positions until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p := <-s.queue:
			if _, err := s.Process(p); err != nil {
				Logf("[MATCH] %v", err)
			}
		}
	}
}

// Process runs one tick synchronously and returns its events. The error
// is ErrInputRejected for invalid positions, or the joined matching faults
// of the tick.
func (s *Session) Process(p Position) ([]Event, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	s.procMu.Lock()
	defer s.procMu.Unlock()

	s.mu.Lock()
	if s.pendingCfg != nil {
		s.engine.SetConfig(*s.pendingCfg)
		s.pendingCfg = nil
	}
	surveying := s.surveying
	last := p
	s.last = &last
	s.gpsLog = append(s.gpsLog, p)
	if len(s.gpsLog) > MaxGPSLog {
		s.gpsLog = append(s.gpsLog[:0:0], s.gpsLog[len(s.gpsLog)-MaxGPSLog:]...)
	}
	s.mu.Unlock()

	if !surveying {
		return nil, nil
	}

	events, err := s.engine.Tick(p)
	matched, _ := s.engine.CurrentMatch()
	traces := s.engine.Traces()

	s.mu.Lock()
	s.matched = matched
	s.traces = traces
	s.mu.Unlock()
	return events, err
}

// Status returns the current status view.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{SessionID: s.id, Surveying: s.surveying, MatchedID: s.matched}
	if s.last != nil {
		p := *s.last
		st.LastPosition = &p
	}
	return st
}

// StatusPayload builds the status payload stamped with the session clock.
func (s *Session) StatusPayload() (StatusPayload, error) {
	return BuildStatus(s.Status(), s.now().UnixMilli())
}

// TextNote builds a text field note for the current position and match.
func (s *Session) TextNote(text string) (NotePayload, error) {
	return BuildTextNote(s.Status(), text, s.now().UnixMilli())
}

// ImageNote builds an image field note for the current position and match.
func (s *Session) ImageNote(data []byte, contentType string) (NotePayload, error) {
	return BuildImageNote(s.Status(), data, contentType, s.now().UnixMilli())
}

// Traces returns the traces as of the last tick.
func (s *Session) Traces() []TraceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TraceSnapshot, len(s.traces))
	copy(out, s.traces)
	return out
}

// GPSLog returns a copy of the raw position log.
func (s *Session) GPSLog() []Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Position, len(s.gpsLog))
	copy(out, s.gpsLog)
	return out
}

package survey

import (
	"errors"

	"github.com/google/uuid"
)

// Engine runs the matching pipeline for one survey: interpolate, match,
// accumulate, detect, mutate, emit. It owns its trace and pass tables and
// is not safe for concurrent use; Session serializes access.
type Engine struct {
	cfg     AlgorithmConfig
	network Network
	mutator *Mutator
	interp  Interpolator
	traces  *TraceMemory
	history *PassHistory
	bus     *Bus
	newID   func() string

	lastMatch string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithIDGenerator replaces the event id generator.
func WithIDGenerator(f func() string) EngineOption {
	return func(e *Engine) { e.newID = f }
}

// WithBus publishes every produced event to b.
func WithBus(b *Bus) EngineOption {
	return func(e *Engine) { e.bus = b }
}

// NewEngine creates an engine matching against network.
func NewEngine(cfg AlgorithmConfig, network Network, opts ...EngineOption) *Engine {
	e := &Engine{
		cfg:     cfg,
		network: network,
		mutator: NewMutator(network),
		traces:  NewTraceMemory(),
		history: NewPassHistory(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the configuration used by the next tick.
func (e *Engine) Config() AlgorithmConfig {
	return e.cfg
}

// SetConfig replaces the configuration from the next tick on.
func (e *Engine) SetConfig(cfg AlgorithmConfig) {
	e.cfg = cfg
}

// ResetInterpolation forgets the previous fix, so the next one starts fresh.
func (e *Engine) ResetInterpolation() {
	e.interp.Reset()
}

// CurrentMatch returns the feature matched by the last position, if any.
func (e *Engine) CurrentMatch() (string, bool) {
	return e.lastMatch, e.lastMatch != ""
}

// Traces returns copies of all active traces.
func (e *Engine) Traces() []TraceSnapshot {
	return e.traces.Snapshot()
}

// State reports the pass detector state of a feature at nowMs.
func (e *Engine) State(featureID string, nowMs int64) PassState {
	if ts, ok := e.history.Last(featureID); ok && nowMs-ts < e.cfg.CooldownMs {
		return StatePassed
	}
	if _, ok := e.traces.Get(featureID); ok {
		return StateAccumulating
	}
	return StateIdle
}

// Tick processes one raw position and returns the events it produced, in
// order. Invalid positions are dropped without events. The error is
// non-nil only when the network broke its contract; it joins one
// *MatchingFault per failure, and the returned events are still valid.
func (e *Engine) Tick(pos Position) ([]Event, error) {
	if err := pos.Validate(); err != nil {
		Logf("[MATCH] dropping position: %v", err)
		return nil, nil
	}

	cfg := e.cfg
	now := pos.TimestampMs
	for _, id := range e.traces.ExpireIdle(now, cfg.TraceIdleTimeoutMs) {
		Logf("[PASS] trace for %s idle, discarded", id)
	}

	var (
		events []Event
		faults []error
	)
	pts := e.interp.Next(pos, cfg.InterpolationStepM, cfg.JumpCeilingM)
	for i, p := range pts {
		raw := i == len(pts)-1

		candidates, err := e.network.CandidatesNear(p.Point(), cfg.SearchRadiusM)
		if err != nil {
			faults = append(faults, &MatchingFault{Reason: "candidate lookup failed", Err: err})
			continue
		}
		m, ok, fs := Match(p.Point(), candidates, cfg.SearchRadiusM)
		faults = append(faults, fs...)

		if !ok {
			if e.lastMatch != "" {
				events = append(events, MatchChanged{EventHeader: e.header(p.TimestampMs)})
				e.lastMatch = ""
			}
			continue
		}
		if raw || m.FeatureID != e.lastMatch {
			events = append(events, MatchChanged{
				EventHeader: e.header(p.TimestampMs),
				FeatureID:   m.FeatureID,
				Matched:     true,
				DistanceM:   m.DistanceM,
			})
		}
		e.lastMatch = m.FeatureID

		pass, err := e.accumulate(m, p.TimestampMs, cfg)
		events = append(events, pass...)
		if err != nil {
			faults = append(faults, err)
		}
	}

	if e.bus != nil {
		for _, ev := range events {
			e.bus.Publish(ev)
		}
	}
	return events, errors.Join(faults...)
}

// accumulate adds one match to its trace and fires a pass when coverage
// reaches the threshold.
func (e *Engine) accumulate(m MatchResult, ts int64, cfg AlgorithmConfig) ([]Event, error) {
	active, expired := e.history.CoolingDown(m.FeatureID, ts, cfg.CooldownMs)
	if active {
		return nil, nil
	}
	if expired {
		e.traces.Clear(m.FeatureID)
	}

	t := e.traces.Append(m, ts, cfg)
	cov, ok := EvaluateCoverage(t, cfg)
	if !ok || !cov.Meets(cfg.OverlapRatio) {
		return nil, nil
	}

	e.history.Record(m.FeatureID, ts)
	e.traces.Clear(m.FeatureID)
	Logf("[PASS] %s covered %.3f (%s, range %.3f)", m.FeatureID, cov.Ratio, cov.Strategy, cov.RangeRatio)

	old, next, err := e.mutator.Apply(m.FeatureID, cfg)
	if err != nil {
		// The pass still holds the cooldown, but nothing was written, so
		// no pass event is emitted.
		return nil, &MatchingFault{FeatureID: m.FeatureID, Reason: "attribute write failed after pass", Err: err}
	}
	return []Event{
		CoveragePassed{
			EventHeader: e.header(ts),
			FeatureID:   m.FeatureID,
			NewValue:    next,
			Coverage:    cov,
		},
		AttributeUpdated{
			EventHeader: e.header(ts),
			FeatureID:   m.FeatureID,
			Field:       cfg.TargetField,
			OldValue:    old,
			NewValue:    next,
		},
	}, nil
}

func (e *Engine) header(ts int64) EventHeader {
	return EventHeader{ID: e.newID(), TimestampMs: ts}
}

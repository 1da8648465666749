package survey

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// PassRecord is one stored pass or attribute update.
type PassRecord struct {
	EventID   string    `json:"eventId"`
	SessionID string    `json:"sessionId"`
	Kind      EventKind `json:"kind"`
	FeatureID string    `json:"featureId"`
	Field     string    `json:"field,omitempty"`
	OldValue  string    `json:"oldValue,omitempty"`
	NewValue  int       `json:"newValue"`
	Ratio     *float64  `json:"ratio,omitempty"`
	Strategy  string    `json:"strategy,omitempty"`
	Timestamp int64     `json:"ts"`
}

// EventLog persists passes to SQLite so counter changes can be audited
// after the session ends.
type EventLog struct {
	conn    *sql.DB
	writeMu sync.Mutex
}

// OpenEventLog opens (creating if needed) the log at path and ensures the
// schema. Use ":memory:" for a throwaway log.
func OpenEventLog(path string) (*EventLog, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if path == ":memory:" {
		dsn = path
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	// SQLite allows a single writer.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping event log: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create event log schema: %w", err)
	}
	log.Printf("[EVENTLOG] opened %s", path)
	return &EventLog{conn: conn}, nil
}

// Close closes the database.
func (l *EventLog) Close() error {
	return l.conn.Close()
}

// Record stores a pass or attribute event. Match events are ignored.
// Recording the same event id twice is a no-op.
func (l *EventLog) Record(ctx context.Context, sessionID string, e Event) error {
	rec, ok := passRecord(sessionID, e)
	if !ok {
		return nil
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_, err := l.conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO pass_events (event_id, session_id, kind, feature_id, field,
			old_value, new_value, ratio, strategy, ts, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EventID, rec.SessionID, string(rec.Kind), rec.FeatureID, nullString(rec.Field),
		nullString(rec.OldValue), rec.NewValue, rec.Ratio, nullString(rec.Strategy),
		rec.Timestamp, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to record %s %s: %w", rec.Kind, rec.EventID, err)
	}
	return nil
}

// Handler returns a bus handler that records events for sessionID and
// logs failures.
func (l *EventLog) Handler(sessionID string) Handler {
	return func(e Event) {
		if err := l.Record(context.Background(), sessionID, e); err != nil {
			log.Printf("[EVENTLOG] %v", err)
		}
	}
}

// Recent returns up to limit records, newest first.
func (l *EventLog) Recent(ctx context.Context, limit int) ([]PassRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.conn.QueryContext(ctx, `
		SELECT event_id, session_id, kind, feature_id, field, old_value, new_value, ratio, strategy, ts
		FROM pass_events
		ORDER BY ts DESC, event_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pass events: %w", err)
	}
	defer rows.Close()

	var out []PassRecord
	for rows.Next() {
		var (
			rec                       PassRecord
			kind                      string
			field, oldValue, strategy sql.NullString
			ratio                     sql.NullFloat64
		)
		if err := rows.Scan(&rec.EventID, &rec.SessionID, &kind, &rec.FeatureID, &field,
			&oldValue, &rec.NewValue, &ratio, &strategy, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan pass event: %w", err)
		}
		rec.Kind = EventKind(kind)
		rec.Field = field.String
		rec.OldValue = oldValue.String
		rec.Strategy = strategy.String
		if ratio.Valid {
			r := ratio.Float64
			rec.Ratio = &r
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func passRecord(sessionID string, e Event) (PassRecord, bool) {
	h := e.Header()
	rec := PassRecord{EventID: h.ID, SessionID: sessionID, Kind: e.Kind(), Timestamp: h.TimestampMs}
	switch ev := e.(type) {
	case CoveragePassed:
		ratio := ev.Coverage.Ratio
		rec.FeatureID = ev.FeatureID
		rec.NewValue = ev.NewValue
		rec.Ratio = &ratio
		rec.Strategy = string(ev.Coverage.Strategy)
	case AttributeUpdated:
		rec.FeatureID = ev.FeatureID
		rec.Field = ev.Field
		rec.NewValue = ev.NewValue
		if ev.OldValue != nil {
			b, err := json.Marshal(ev.OldValue)
			if err == nil {
				rec.OldValue = string(b)
			}
		}
	default:
		return PassRecord{}, false
	}
	return rec, true
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

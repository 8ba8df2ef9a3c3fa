// Package eventstore implements the append-only structured event log that
// makes agent runs auditable and replayable.
package eventstore

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/loomrun/loom/pkg/models"
)

// redactedKeys are payload fields replaced with a sentinel when redaction is
// enabled. Redaction changes the signature deterministically rather than
// the event schema shape.
var redactedKeys = []string{"output", "stdout", "stderr"}

const redactionSentinel = "[redacted]"

// Store is an append-only jsonl event log keyed by run_id. Writes are
// serialized by an internal mutex so records are physically ordered the
// same as they were logically appended by a single writer.
type Store struct {
	mu       sync.Mutex
	path     string
	redact   bool
	logger   *slog.Logger
}

// Option configures a Store at construction.
type Option func(*Store)

// WithRedaction enables the optional redaction mode described in 4.1.
func WithRedaction(enabled bool) Option {
	return func(s *Store) { s.redact = enabled }
}

// WithLogger attaches a structured logger used for internal diagnostics
// (the append path itself never logs on the happy path).
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New opens (creating parent directories as needed) an append-only event
// log at path.
func New(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create event log directory: %w", err)
	}
	s := &Store{path: path, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ErrStorageFailed wraps append failures so callers can emit a StorageFailed
// event rather than crashing the run.
type ErrStorageFailed struct {
	Cause error
}

func (e *ErrStorageFailed) Error() string { return fmt.Sprintf("event store append failed: %v", e.Cause) }
func (e *ErrStorageFailed) Unwrap() error { return e.Cause }

// Append atomically appends event to the log. Records are serialized
// canonically (sorted keys, stable separators) so equivalent events produce
// identical bytes.
func (s *Store) Append(event models.RuntimeEvent) error {
	line, err := canonicalize(s.normalize(event))
	if err != nil {
		return &ErrStorageFailed{Cause: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &ErrStorageFailed{Cause: err}
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return &ErrStorageFailed{Cause: err}
	}
	return nil
}

func (s *Store) normalize(event models.RuntimeEvent) models.RuntimeEvent {
	if !s.redact || len(event.Payload) == 0 {
		return event
	}
	payload := make(map[string]any, len(event.Payload))
	for k, v := range event.Payload {
		payload[k] = v
	}
	for _, key := range redactedKeys {
		if _, ok := payload[key]; ok {
			payload[key] = redactionSentinel
		}
	}
	event.Payload = payload
	return event
}

// Iter returns events in append order, optionally filtered by runID and
// capped to the last limit entries. A missing run returns an empty slice.
func (s *Store) Iter(runID string, limit int) ([]models.RuntimeEvent, error) {
	lines, err := s.readLines()
	if err != nil {
		return nil, err
	}

	events := make([]models.RuntimeEvent, 0, len(lines))
	for _, line := range lines {
		var ev models.RuntimeEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		if runID != "" && ev.RunID != runID {
			continue
		}
		events = append(events, ev)
	}

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

func (s *Store) readLines() ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		line := make([]byte, len(raw))
		copy(line, raw)
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// Signature returns the hex digest of a cryptographic hash over the
// canonical serialization of all events for runID. Stable under repeated
// computation and independent of disk read order.
func (s *Store) Signature(runID string) (string, error) {
	events, err := s.Iter(runID, 0)
	if err != nil {
		return "", err
	}

	canon, err := canonicalizeAll(events)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize serializes a single event with sorted object keys and stable
// separators, matching the on-disk jsonl encoding.
func canonicalize(event models.RuntimeEvent) ([]byte, error) {
	return json.Marshal(canonicalEvent{
		EventType: string(event.EventType),
		RunID:     event.RunID,
		SessionID: event.SessionID,
		Timestamp: event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
		Payload:   sortedPayload(event.Payload),
	})
}

func canonicalizeAll(events []models.RuntimeEvent) ([]byte, error) {
	out := make([]canonicalEvent, len(events))
	for i, ev := range events {
		out[i] = canonicalEvent{
			EventType: string(ev.EventType),
			RunID:     ev.RunID,
			SessionID: ev.SessionID,
			Timestamp: ev.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
			Payload:   sortedPayload(ev.Payload),
		}
	}
	// encoding/json already sorts map keys; struct field order is fixed so
	// the byte sequence is deterministic across readers and processes.
	return json.Marshal(out)
}

type canonicalEvent struct {
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	RunID     string         `json:"run_id"`
	SessionID string         `json:"session_id"`
	Timestamp string         `json:"timestamp"`
}

func sortedPayload(payload map[string]any) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]any, len(payload))
	for _, k := range keys {
		out[k] = payload[k]
	}
	return out
}

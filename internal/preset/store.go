package preset

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// StorageKey is the KV key holding the JSON-encoded preset list.
const StorageKey = "presetEvents"

// DefaultSlots is the number of preset slots when none is configured.
const DefaultSlots = 5

// DefaultLabel is the label of slot index when the operator has not named it.
func DefaultLabel(index int) string {
	return fmt.Sprintf("Event %d", index+1)
}

// Defaults returns the default labels for n slots.
func Defaults(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = DefaultLabel(i)
	}
	return out
}

// KV is a string key/value store that outlives the process.
type KV interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Logger defines the logging interface used by the preset store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Store holds the ordered quick-event labels.
//
// The list always has exactly the configured number of slots and never
// contains an empty label. Writes are persisted before they become
// visible and are applied one at a time. Local edits are reported to the
// OnEdit hook; lists arriving from elsewhere go through Replace, which
// persists without reporting.
type Store struct {
	kv     KV
	slots  int
	logger Logger

	// writeMu orders writers so the persisted list always matches memory.
	writeMu sync.Mutex
	// hookMu orders OnEdit calls.
	hookMu sync.Mutex

	mu     sync.RWMutex
	events []string
	onEdit func([]string)
}

// NewStore creates a store with default labels. Call Load to read the
// persisted list.
func NewStore(kv KV, slots int) *Store {
	if slots < 1 {
		slots = DefaultSlots
	}
	return &Store{
		kv:     kv,
		slots:  slots,
		logger: noopLogger{},
		events: Defaults(slots),
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// OnEdit registers fn to receive the full list after every local edit.
func (s *Store) OnEdit(fn func([]string)) {
	s.mu.Lock()
	s.onEdit = fn
	s.mu.Unlock()
}

// Slots returns the number of preset slots.
func (s *Store) Slots() int {
	return s.slots
}

// List returns a copy of the labels in slot order.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.events...)
}

// Load replaces the in-memory list with the persisted one. A missing entry
// leaves the defaults. An entry that is not a JSON string array is deleted
// and the defaults are used.
func (s *Store) Load(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	raw, ok, err := s.kv.Get(ctx, StorageKey)
	if err != nil {
		return fmt.Errorf("reading presets: %w", err)
	}

	events := Defaults(s.slots)
	if ok {
		var stored []string
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			s.logger.Warn("discarding invalid stored presets", "error", err)
			if derr := s.kv.Delete(ctx, StorageKey); derr != nil {
				return fmt.Errorf("removing invalid presets: %w", derr)
			}
		} else {
			events = s.normalize(stored)
		}
	}

	s.mu.Lock()
	s.events = events
	s.mu.Unlock()
	return nil
}

// Reload re-reads the persisted list.
func (s *Store) Reload(ctx context.Context) error {
	return s.Load(ctx)
}

// EditPresetEvent renames slot index. An empty name restores the default
// label. Returns false, changing nothing, if index is out of range. A
// failed write returns true with the error and leaves the list unchanged.
func (s *Store) EditPresetEvent(ctx context.Context, index int, name string) (bool, error) {
	if index < 0 || index >= s.slots {
		return false, nil
	}
	if name == "" {
		name = DefaultLabel(index)
	}

	s.writeMu.Lock()
	next := s.List()
	next[index] = name
	if err := s.commit(ctx, next); err != nil {
		s.writeMu.Unlock()
		return true, err
	}
	s.writeMu.Unlock()

	s.notifyEdit()
	return true, nil
}

// notifyEdit hands the current list to the OnEdit hook. It runs outside
// writeMu so a hook that waits on a peer cannot block Replace.
func (s *Store) notifyEdit() {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()

	s.mu.RLock()
	hook := s.onEdit
	s.mu.RUnlock()
	if hook != nil {
		hook(s.List())
	}
}

// Replace overwrites the whole list, fitting it to the slot count, and
// persists it. The OnEdit hook is not called.
func (s *Store) Replace(ctx context.Context, events []string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.commit(ctx, s.normalize(events))
}

// commit persists events and then makes them the in-memory list. A failed
// write leaves memory untouched. Callers hold writeMu.
func (s *Store) commit(ctx context.Context, events []string) error {
	raw, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("encoding presets: %w", err)
	}
	if err := s.kv.Set(ctx, StorageKey, string(raw)); err != nil {
		return fmt.Errorf("saving presets: %w", err)
	}

	s.mu.Lock()
	s.events = events
	s.mu.Unlock()
	return nil
}

// normalize pads or truncates events to the slot count and fills empty
// labels with defaults.
func (s *Store) normalize(events []string) []string {
	out := Defaults(s.slots)
	for i := 0; i < len(out) && i < len(events); i++ {
		if events[i] != "" {
			out[i] = events[i]
		}
	}
	return out
}

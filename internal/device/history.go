package device

import (
	"context"
	"time"
)

// History entry kinds.
const (
	HistoryKindRecording = "recording"
	HistoryKindEvent     = "event"
)

// HistoryEntry is one persisted recording transition or appended event.
type HistoryEntry struct {
	ID          int64     `json:"id"`
	HostID      string    `json:"host_id"`
	RecordingID string    `json:"recording_id"`
	Kind        string    `json:"kind"`
	Action      string    `json:"action,omitempty"`
	EventName   string    `json:"event_name,omitempty"`
	TimestampNs int64     `json:"timestamp_ns,omitempty"`
	DurationNs  int64     `json:"duration_ns,omitempty"`
	Message     string    `json:"message,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// HistoryRepository stores recording history. The registry itself keeps
// only the current recording; this is the local trail of past ones.
//
// Implementations must be thread-safe and use UTC timestamps.
type HistoryRepository interface {
	// Record appends an entry. CreatedAt is set by the repository.
	Record(ctx context.Context, entry HistoryEntry) error

	// GetHistory returns the device's entries newest first. Limit is
	// clamped to a sane range.
	GetHistory(ctx context.Context, hostID string, limit int) ([]HistoryEntry, error)

	// Prune deletes entries older than olderThan and returns how many.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

const historyWriteTimeout = 2 * time.Second

// HistoryRecorder turns registry changes into history rows.
type HistoryRecorder struct {
	repo   HistoryRepository
	logger Logger
}

// NewHistoryRecorder creates a recorder writing to repo.
func NewHistoryRecorder(repo HistoryRepository, logger Logger) *HistoryRecorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &HistoryRecorder{repo: repo, logger: logger}
}

// Observe is a registry Observer. Recording transitions and appended
// events are written; other changes are ignored.
func (h *HistoryRecorder) Observe(c Change) {
	var entry HistoryEntry
	switch c.Kind {
	case ChangeRecording:
		rec := c.Device.CurrentRecording
		if rec == nil {
			return
		}
		entry = HistoryEntry{
			HostID:      c.HostID,
			RecordingID: rec.ID,
			Kind:        HistoryKindRecording,
			Action:      string(rec.Action),
			DurationNs:  rec.DurationNs,
			Message:     rec.Message,
		}
	case ChangeEvent:
		if c.Event == nil {
			return
		}
		entry = HistoryEntry{
			HostID:      c.HostID,
			Kind:        HistoryKindEvent,
			EventName:   c.Event.Name,
			TimestampNs: c.Event.Timestamp,
		}
		if rec := c.Device.CurrentRecording; rec != nil {
			entry.RecordingID = rec.ID
		}
	default:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()
	if err := h.repo.Record(ctx, entry); err != nil {
		h.logger.Warn("recording history write failed", "host_id", c.HostID, "kind", entry.Kind, "error", err)
	}
}

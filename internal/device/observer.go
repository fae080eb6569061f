package device

// ChangeKind says which part of a device a Change touched.
type ChangeKind string

const (
	ChangeAdded        ChangeKind = "added"
	ChangeConnection   ChangeKind = "connection"
	ChangePhone        ChangeKind = "phone"
	ChangeSensor       ChangeKind = "sensor"
	ChangeRecording    ChangeKind = "recording"
	ChangeHardware     ChangeKind = "hardware"
	ChangeEvent        ChangeKind = "event"
	ChangeNotification ChangeKind = "notification"
	ChangeActive       ChangeKind = "active"
	ChangeError        ChangeKind = "error"
)

// Change describes one committed registry mutation. Device is a snapshot
// taken inside the mutation, so it reflects exactly that update.
type Change struct {
	Kind   ChangeKind `json:"kind"`
	HostID string     `json:"host_id"`
	Device *Device    `json:"device"`

	// Event is set for ChangeEvent.
	Event *Event `json:"event,omitempty"`
}

// Observer receives registry changes.
//
// Observers run on the goroutine that performed the mutation (or on one
// that is already delivering), after the registry lock is released, one
// change at a time in commit order. An observer may call back into the
// registry; changes it causes are delivered after the current one.
type Observer func(Change)

type observerEntry struct {
	id int
	fn Observer
}

// Subscribe registers fn and returns a function that removes it.
func (r *Registry) Subscribe(fn Observer) (unsubscribe func()) {
	r.mu.Lock()
	r.nextObserverID++
	id := r.nextObserverID
	r.observers = append(r.observers, observerEntry{id: id, fn: fn})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, o := range r.observers {
			if o.id == id {
				r.observers = append(r.observers[:i:i], r.observers[i+1:]...)
				return
			}
		}
	}
}

// emitLocked queues a change for delivery. Caller holds r.mu.
func (r *Registry) emitLocked(kind ChangeKind, d *Device) {
	if len(r.observers) == 0 {
		return
	}
	r.pending = append(r.pending, Change{Kind: kind, HostID: d.HostID, Device: d.DeepCopy()})
}

// flush delivers queued changes. Only one goroutine drains at a time;
// others return immediately and their changes are picked up by the
// draining goroutine, which keeps delivery in commit order.
func (r *Registry) flush() {
	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return
	}
	r.draining = true

	for len(r.pending) > 0 {
		batch := r.pending
		r.pending = nil
		observers := make([]observerEntry, len(r.observers))
		copy(observers, r.observers)
		r.mu.Unlock()

		for _, c := range batch {
			for _, o := range observers {
				r.deliver(o.fn, c)
			}
		}

		r.mu.Lock()
	}

	r.draining = false
	r.mu.Unlock()
}

func (r *Registry) deliver(fn Observer, c Change) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("registry observer panicked", "kind", c.Kind, "host_id", c.HostID, "panic", rec)
		}
	}()
	fn(c)
}

package telemetry

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pimonitor/pimonitor-core/internal/device"
	"github.com/pimonitor/pimonitor-core/internal/infrastructure/mqtt"
)

// Broker is the subset of the MQTT client the Publisher uses.
type Broker interface {
	PublishRetained(topic string, payload []byte) error
	IsConnected() bool
}

// Publisher mirrors every device snapshot to a retained MQTT topic.
//
// Observe never blocks on the broker: snapshots are queued per device and
// sent by a background goroutine, and a newer snapshot replaces one that
// has not been sent yet.
type Publisher struct {
	broker Broker
	topics mqtt.Topics
	logger Logger

	mu      sync.Mutex
	pending map[string]*device.Device
	order   []string
	wake    chan struct{}
	done    chan struct{}
}

// NewPublisher creates a Publisher on broker. Call Run to start sending.
func NewPublisher(broker Broker) *Publisher {
	return &Publisher{
		broker:  broker,
		logger:  noopLogger{},
		pending: make(map[string]*device.Device),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// SetLogger sets the logger for the publisher.
func (p *Publisher) SetLogger(logger Logger) {
	p.logger = logger
}

// Observe is a registry Observer.
func (p *Publisher) Observe(c device.Change) {
	if c.Device == nil {
		return
	}
	p.mu.Lock()
	if _, queued := p.pending[c.HostID]; !queued {
		p.order = append(p.order, c.HostID)
	}
	p.pending[c.HostID] = c.Device
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run sends queued snapshots until ctx is cancelled. Whatever is queued
// when ctx ends is sent before Run returns.
func (p *Publisher) Run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			p.flush()
			return
		case <-p.wake:
			p.flush()
		}
	}
}

// Done is closed when Run has returned.
func (p *Publisher) Done() <-chan struct{} {
	return p.done
}

func (p *Publisher) flush() {
	p.mu.Lock()
	order := p.order
	pending := p.pending
	p.order = nil
	p.pending = make(map[string]*device.Device)
	p.mu.Unlock()

	if !p.broker.IsConnected() {
		p.logger.Debug("broker offline, dropping device snapshots", "count", len(order))
		return
	}
	for _, hostID := range order {
		payload, err := json.Marshal(pending[hostID])
		if err != nil {
			p.logger.Error("encoding device snapshot", "host_id", hostID, "error", err)
			continue
		}
		if err := p.broker.PublishRetained(p.topics.DeviceState(hostID), payload); err != nil {
			p.logger.Warn("publishing device snapshot failed", "host_id", hostID, "error", err)
		}
	}
}

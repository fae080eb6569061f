package preset

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pimonitor/pimonitor-core/internal/infrastructure/mqtt"
)

// Broker is the subset of the MQTT client used to share presets.
type Broker interface {
	PublishRetained(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// syncMessage is the retained payload on the preset topic.
type syncMessage struct {
	Origin    string   `json:"origin"`
	Events    []string `json:"events"`
	UpdatedAt string   `json:"updated_at"`
}

// Sync shares the preset list between monitor instances through a
// retained MQTT topic. The last published list wins.
type Sync struct {
	store  *Store
	broker Broker
	topic  string
	origin string
	logger Logger
	now    func() time.Time
}

// NewSync creates a Sync for store. origin identifies this instance so its
// own messages are ignored when they come back.
func NewSync(store *Store, broker Broker, topic, origin string) *Sync {
	if topic == "" {
		topic = mqtt.Topics{}.Presets()
	}
	return &Sync{
		store:  store,
		broker: broker,
		topic:  topic,
		origin: origin,
		logger: noopLogger{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the sync.
func (s *Sync) SetLogger(logger Logger) {
	s.logger = logger
}

// Start subscribes to the preset topic and publishes every local edit.
func (s *Sync) Start() error {
	if err := s.broker.Subscribe(s.topic, 1, s.handle); err != nil {
		return fmt.Errorf("subscribing to presets: %w", err)
	}
	s.store.OnEdit(func(events []string) {
		if err := s.publish(events); err != nil {
			s.logger.Warn("publishing presets failed", "error", err)
		}
	})
	s.logger.Info("preset sync started", "topic", s.topic)
	return nil
}

func (s *Sync) handle(_ string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	var msg syncMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding preset message: %w", err)
	}
	if msg.Origin == s.origin {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Replace(ctx, msg.Events); err != nil {
		return err
	}
	s.logger.Debug("presets updated from peer", "origin", msg.Origin)
	return nil
}

func (s *Sync) publish(events []string) error {
	payload, err := json.Marshal(syncMessage{
		Origin:    s.origin,
		Events:    events,
		UpdatedAt: s.now().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encoding preset message: %w", err)
	}
	return s.broker.PublishRetained(s.topic, payload)
}

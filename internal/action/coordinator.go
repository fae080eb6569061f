package action

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pimonitor/pimonitor-core/internal/device"
	"github.com/pimonitor/pimonitor-core/internal/piapi"
)

// Default guard for each action.
const (
	DefaultStartTimeout  = 500 * time.Millisecond
	DefaultStopTimeout   = 1000 * time.Millisecond
	DefaultCancelTimeout = 1000 * time.Millisecond
	DefaultEventTimeout  = 500 * time.Millisecond
)

// User-facing messages.
const (
	msgNetworkError     = "Network error"
	msgTimedOut         = "Network error: request timed out"
	msgEventNeedsName   = "The event needs a name"
	msgNeedsRecording   = "A recording must be in progress to send an event"
	msgRecordingSaved   = "Recording saved"
	msgRecordingDropped = "Recording discarded"

	eventTimeLayout = "15:04:05"
)

// Registry is the part of the device registry the coordinator uses.
type Registry interface {
	GetDevice(hostID string) (*device.Device, error)
	AppendEvent(hostID, name string, timestampNs int64) (bool, error)
	PushNotification(hostID, message string, severity device.Severity) error
	SetLastError(hostID, message string) error
}

// DeviceAPI is a device's control API. *piapi.Client implements it.
type DeviceAPI interface {
	StartRecording(ctx context.Context) (piapi.Recording, error)
	StopAndSaveRecording(ctx context.Context) (piapi.Recording, error)
	CancelRecording(ctx context.Context) (piapi.Recording, error)
	PostEvent(ctx context.Context, name string) (piapi.Event, error)
}

// ClientFactory builds the DeviceAPI for a device's API URL.
type ClientFactory func(apiURL string) (DeviceAPI, error)

// HTTPClients returns a ClientFactory backed by piapi clients sharing hc.
func HTTPClients(hc *http.Client) ClientFactory {
	return func(apiURL string) (DeviceAPI, error) {
		client, err := piapi.NewClient(apiURL, piapi.WithHTTPClient(hc))
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Timeouts bounds each action. A request still pending when its guard
// expires is abandoned and reported as timed out.
type Timeouts struct {
	Start  time.Duration
	Stop   time.Duration
	Cancel time.Duration
	Event  time.Duration
}

// DefaultTimeouts returns the standard guards.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Start:  DefaultStartTimeout,
		Stop:   DefaultStopTimeout,
		Cancel: DefaultCancelTimeout,
		Event:  DefaultEventTimeout,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Start <= 0 {
		t.Start = d.Start
	}
	if t.Stop <= 0 {
		t.Stop = d.Stop
	}
	if t.Cancel <= 0 {
		t.Cancel = d.Cancel
	}
	if t.Event <= 0 {
		t.Event = d.Event
	}
	return t
}

// Logger defines the logging interface used by the coordinator.
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

// Coordinator runs operator actions against devices.
//
// Each action issues one request bounded by its guard. Whatever settles
// first, the reply or the guard, decides the outcome, and the outcome is
// reported exactly once: a notification on the device and, on failure,
// the device's LastError. Actions run on the caller's goroutine and are
// not de-duplicated.
type Coordinator struct {
	registry Registry
	factory  ClientFactory
	timeouts Timeouts
	logger   Logger

	mu      sync.Mutex
	clients map[string]DeviceAPI
}

// NewCoordinator creates a coordinator. Zero timeouts take defaults.
func NewCoordinator(registry Registry, factory ClientFactory, timeouts Timeouts) *Coordinator {
	return &Coordinator{
		registry: registry,
		factory:  factory,
		timeouts: timeouts.withDefaults(),
		logger:   noopLogger{},
		clients:  make(map[string]DeviceAPI),
	}
}

// SetLogger sets the logger for the coordinator.
func (c *Coordinator) SetLogger(logger Logger) {
	c.logger = logger
}

// Timeouts returns the guards in effect.
func (c *Coordinator) Timeouts() Timeouts {
	return c.timeouts
}

// StartRecording asks the device to start recording.
func (c *Coordinator) StartRecording(ctx context.Context, hostID string) (piapi.Recording, error) {
	var rec piapi.Recording
	err := c.perform(ctx, hostID, OpStart, c.timeouts.Start, func(ctx context.Context, api DeviceAPI) (string, error) {
		var err error
		rec, err = api.StartRecording(ctx)
		return "Recording started: " + rec.ID, err
	})
	return rec, err
}

// StopAndSaveRecording asks the device to stop and keep the recording.
func (c *Coordinator) StopAndSaveRecording(ctx context.Context, hostID string) (piapi.Recording, error) {
	var rec piapi.Recording
	err := c.perform(ctx, hostID, OpStopAndSave, c.timeouts.Stop, func(ctx context.Context, api DeviceAPI) (string, error) {
		var err error
		rec, err = api.StopAndSaveRecording(ctx)
		return msgRecordingSaved, err
	})
	return rec, err
}

// CancelRecording asks the device to stop and discard the recording.
func (c *Coordinator) CancelRecording(ctx context.Context, hostID string) (piapi.Recording, error) {
	var rec piapi.Recording
	err := c.perform(ctx, hostID, OpCancel, c.timeouts.Cancel, func(ctx context.Context, api DeviceAPI) (string, error) {
		var err error
		rec, err = api.CancelRecording(ctx)
		return msgRecordingDropped, err
	})
	return rec, err
}

// SendEvent posts a named event. On success the event is appended to the
// device's recording with the timestamp the device assigned, as is, even
// when the device sent none.
func (c *Coordinator) SendEvent(ctx context.Context, hostID, name string) (device.Event, error) {
	var ev device.Event
	err := c.perform(ctx, hostID, OpEvent, c.timeouts.Event, func(ctx context.Context, api DeviceAPI) (string, error) {
		res, err := api.PostEvent(ctx, name)
		if err != nil {
			return "", err
		}
		ev = device.Event{Name: res.Name, Timestamp: res.Timestamp}
		if _, err := c.registry.AppendEvent(hostID, ev.Name, ev.Timestamp); err != nil {
			c.logger.Warn("appending sent event", "host_id", hostID, "event", ev.Name, "error", err)
		}
		return fmt.Sprintf("Event %s recorded @ %s", ev.Name, ev.Time().Format(eventTimeLayout)), nil
	})
	return ev, err
}

// TriggerEvent validates an operator's event before sending it. An empty
// name or a device without a running recording is reported on the device
// and no request is made.
func (c *Coordinator) TriggerEvent(ctx context.Context, hostID, name string) (device.Event, error) {
	d, err := c.registry.GetDevice(hostID)
	if err != nil {
		return device.Event{}, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		c.notify(hostID, msgEventNeedsName, device.SeverityError)
		return device.Event{}, &Error{Op: OpEvent, HostID: hostID, Message: msgEventNeedsName, Err: ErrEventNameRequired}
	}
	if !d.CurrentRecording.Active() {
		c.notify(hostID, msgNeedsRecording, device.SeverityError)
		return device.Event{}, &Error{Op: OpEvent, HostID: hostID, Message: msgNeedsRecording, Err: ErrNoActiveRecording}
	}

	return c.SendEvent(ctx, hostID, name)
}

// perform runs one guarded request. call returns the success message.
func (c *Coordinator) perform(ctx context.Context, hostID string, op Op, guard time.Duration,
	call func(context.Context, DeviceAPI) (string, error)) error {
	d, err := c.registry.GetDevice(hostID)
	if err != nil {
		return err
	}

	api, err := c.client(d.APIURL)
	if err != nil {
		return c.fail(hostID, op, msgNetworkError, err)
	}

	ctx, cancel := context.WithTimeout(ctx, guard)
	defer cancel()

	started := time.Now()
	msg, err := call(ctx, api)
	if err != nil {
		// Only the returned error decides: a device reply that beat the
		// guard is reported as such even if the guard has fired since.
		if errors.Is(err, context.DeadlineExceeded) {
			return c.fail(hostID, op, msgTimedOut, fmt.Errorf("%w after %s: %w", ErrTimedOut, guard, err))
		}
		return c.fail(hostID, op, failureMessage(err), err)
	}

	c.logger.Info("device action succeeded", "host_id", hostID, "action", op, "duration", time.Since(started).String())
	if err := c.registry.SetLastError(hostID, ""); err != nil {
		c.logger.Warn("clearing last error", "host_id", hostID, "error", err)
	}
	c.notify(hostID, msg, successSeverity(op))
	return nil
}

func (c *Coordinator) fail(hostID string, op Op, message string, err error) error {
	c.logger.Warn("device action failed", "host_id", hostID, "action", op, "error", err)
	if serr := c.registry.SetLastError(hostID, message); serr != nil {
		c.logger.Warn("recording last error", "host_id", hostID, "error", serr)
	}
	c.notify(hostID, message, device.SeverityError)
	return &Error{Op: op, HostID: hostID, Message: message, Err: err}
}

func (c *Coordinator) notify(hostID, message string, severity device.Severity) {
	if err := c.registry.PushNotification(hostID, message, severity); err != nil {
		c.logger.Warn("pushing notification", "host_id", hostID, "error", err)
	}
}

// client returns the cached DeviceAPI for apiURL.
func (c *Coordinator) client(apiURL string) (DeviceAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if api, ok := c.clients[apiURL]; ok {
		return api, nil
	}
	api, err := c.factory(apiURL)
	if err != nil {
		return nil, fmt.Errorf("device client for %q: %w", apiURL, err)
	}
	c.clients[apiURL] = api
	return api, nil
}

// failureMessage prefers the device's own explanation.
func failureMessage(err error) string {
	var apiErr *piapi.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return msgNetworkError
}

func successSeverity(op Op) device.Severity {
	switch op {
	case OpStart, OpStopAndSave:
		return device.SeveritySuccess
	default:
		return device.SeverityInfo
	}
}

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pimonitor/pimonitor-core/internal/device"
	"github.com/pimonitor/pimonitor-core/internal/piapi"
	"github.com/pimonitor/pimonitor-core/internal/transport"
)

// Registry is the part of the device registry a supervisor writes to.
type Registry interface {
	UpsertFromDiscovery(hostID, apiURL string) bool
	ApplyConnectionState(hostID string, state device.ConnectionState) error
	ApplyPhoneSnapshot(phone piapi.Phone) string
	ApplySensorSnapshot(hostID string, sensor piapi.Sensor) error
	ApplyRecordingSnapshot(hostID string, rec piapi.Recording) error
	ApplyHardwareSnapshot(hostID string, hw piapi.Hardware) error
}

// Logger defines the logging interface used by supervisors.
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

// ErrAlreadyStarted is returned by Start on a supervisor that has been
// started before.
var ErrAlreadyStarted = errors.New("supervisor: already started")

// Supervisor owns one device's status socket. It translates socket
// lifecycle into connection states and decoded frames into registry
// updates.
//
// Each supervisor is single use: Start once, Stop once.
type Supervisor struct {
	hostID   string
	apiURL   string
	registry Registry
	tr       transport.Transport
	logger   Logger

	mu      sync.Mutex
	socket  transport.Socket
	started bool
	done    chan struct{}

	// stopped is set before the socket is closed so that the close it
	// causes is not reported as a disconnect.
	stopped atomic.Bool
}

// New creates a supervisor for the device at apiURL.
func New(hostID, apiURL string, registry Registry, tr transport.Transport) *Supervisor {
	return &Supervisor{
		hostID:   hostID,
		apiURL:   apiURL,
		registry: registry,
		tr:       tr,
		logger:   noopLogger{},
		done:     make(chan struct{}),
	}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// HostID returns the supervised device's id.
func (s *Supervisor) HostID() string {
	return s.hostID
}

// Start marks the device connecting and opens its status socket.
// Cancelling ctx stops the supervisor. A ctx that is already done fails
// Start without touching the device.
func (s *Supervisor) Start(ctx context.Context) error {
	url, err := piapi.StatusSocketURL(s.apiURL)
	if err != nil {
		return fmt.Errorf("status socket for %s: %w", s.hostID, err)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("status socket for %s: %w", s.hostID, err)
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	if err := s.registry.ApplyConnectionState(s.hostID, device.StateConnecting); err != nil {
		s.logger.Warn("marking device connecting", "host_id", s.hostID, "error", err)
	}

	sock := s.tr.Open(url, transport.Handlers{
		OnOpen:    s.handleOpen,
		OnMessage: s.handleMessage,
		OnClose:   s.handleClose,
		OnError:   s.handleError,
	})

	s.mu.Lock()
	s.socket = sock
	s.mu.Unlock()
	if s.stopped.Load() {
		// Stop ran while the socket was opening.
		sock.Close() //nolint:errcheck // closing twice is harmless
		return nil
	}

	s.logger.Info("supervisor started", "host_id", s.hostID, "url", url)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.done:
		}
	}()
	return nil
}

// Stop closes the status socket. The resulting close is not recorded as a
// disconnect. Safe to call more than once.
func (s *Supervisor) Stop() {
	if s.stopped.Swap(true) {
		return
	}
	close(s.done)

	s.mu.Lock()
	sock := s.socket
	s.mu.Unlock()

	if sock != nil {
		if err := sock.Close(); err != nil {
			s.logger.Warn("closing status socket", "host_id", s.hostID, "error", err)
		}
	}
	s.logger.Info("supervisor stopped", "host_id", s.hostID)
}

func (s *Supervisor) handleOpen() {
	if s.stopped.Load() {
		return
	}
	s.setState(device.StateConnected)
}

func (s *Supervisor) handleClose() {
	if s.stopped.Load() {
		return
	}
	s.setState(device.StateDisconnected)
}

func (s *Supervisor) handleError(err error) {
	s.logger.Debug("status socket error", "host_id", s.hostID, "error", err)
}

func (s *Supervisor) setState(state device.ConnectionState) {
	if err := s.registry.ApplyConnectionState(s.hostID, state); err != nil {
		s.logger.Warn("applying connection state", "host_id", s.hostID, "state", state, "error", err)
	}
}

// handleMessage decodes one frame and applies it. Frames that cannot be
// decoded change nothing.
func (s *Supervisor) handleMessage(data []byte) {
	if s.stopped.Load() {
		return
	}

	status, err := piapi.DecodeStatus(data)
	if err != nil {
		if errors.Is(err, piapi.ErrUnknownModel) {
			s.logger.Debug("ignoring status frame", "host_id", s.hostID, "error", err)
			return
		}
		s.logger.Warn("dropping status frame", "host_id", s.hostID, "error", err, "size", len(data))
		return
	}
	status.Accept(s)
}

// VisitPhone applies a phone snapshot. The device is keyed by the phone's
// own address.
func (s *Supervisor) VisitPhone(p piapi.Phone) {
	s.registry.ApplyPhoneSnapshot(p)
}

// VisitSensor merges a sensor into the supervised device.
func (s *Supervisor) VisitSensor(sensor piapi.Sensor) {
	s.logApply("sensor", s.registry.ApplySensorSnapshot(s.hostID, sensor))
}

// VisitNetworkDevice registers an announced peer. Announcements without a
// port refer to the default device port.
func (s *Supervisor) VisitNetworkDevice(n piapi.NetworkDevice) {
	if n.IP == "" {
		s.logger.Debug("ignoring network device without ip", "host_id", s.hostID)
		return
	}
	port := n.Port
	if port == 0 {
		port = device.DefaultDevicePort
	}
	if s.registry.UpsertFromDiscovery(device.HostID(n.IP, port), device.APIURL(n.IP, port)) {
		s.logger.Info("peer announced", "host_id", s.hostID, "peer", n.IP, "port", port, "name", n.DeviceName)
	}
}

// VisitRecording applies a recording snapshot to the supervised device.
func (s *Supervisor) VisitRecording(rec piapi.Recording) {
	s.logApply("recording", s.registry.ApplyRecordingSnapshot(s.hostID, rec))
}

// VisitHardware applies a hardware snapshot to the supervised device.
func (s *Supervisor) VisitHardware(hw piapi.Hardware) {
	s.logApply("hardware", s.registry.ApplyHardwareSnapshot(s.hostID, hw))
}

func (s *Supervisor) logApply(model string, err error) {
	if err != nil {
		s.logger.Warn("applying status frame", "host_id", s.hostID, "model", model, "error", err)
	}
}

var _ piapi.StatusVisitor = (*Supervisor)(nil)

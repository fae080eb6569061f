package discovery

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/pimonitor/pimonitor-core/internal/device"
	"github.com/pimonitor/pimonitor-core/internal/piapi"
)

// Registry is the subset of the device registry discovery needs.
type Registry interface {
	Subscribe(fn device.Observer) (unsubscribe func())
	ListDevices() []device.Device
	ApplyPhoneSnapshot(phone piapi.Phone) string
}

// Supervisors starts at most one connection supervisor per device.
type Supervisors interface {
	Ensure(ctx context.Context, hostID, apiURL string) bool
}

// Logger defines the logging interface used by discovery.
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

// Discovery connects every device that appears in the registry and seeds
// the registry from a known host at startup.
type Discovery struct {
	registry    Registry
	supervisors Supervisors
	httpClient  *http.Client
	logger      Logger

	mu          sync.Mutex
	ctx         context.Context
	unsubscribe func()
}

// New creates a Discovery. httpClient is used for Bootstrap; nil means
// http.DefaultClient.
func New(registry Registry, supervisors Supervisors, httpClient *http.Client) *Discovery {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Discovery{
		registry:    registry,
		supervisors: supervisors,
		httpClient:  httpClient,
		logger:      noopLogger{},
	}
}

// SetLogger sets the logger for discovery.
func (d *Discovery) SetLogger(logger Logger) {
	d.logger = logger
}

// Start watches the registry for new devices and ensures a supervisor for
// each real one, including any already present. Supervisors are stopped
// when ctx is cancelled.
func (d *Discovery) Start(ctx context.Context) {
	d.mu.Lock()
	if d.unsubscribe != nil {
		d.mu.Unlock()
		return
	}
	d.ctx = ctx
	d.unsubscribe = d.registry.Subscribe(d.observe)
	d.mu.Unlock()

	for _, dev := range d.registry.ListDevices() {
		d.ensure(ctx, &dev)
	}
}

// Stop stops watching the registry. Running supervisors are not affected.
func (d *Discovery) Stop() {
	d.mu.Lock()
	unsubscribe := d.unsubscribe
	d.unsubscribe = nil
	d.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (d *Discovery) observe(c device.Change) {
	if c.Kind != device.ChangeAdded || c.Device == nil {
		return
	}
	d.mu.Lock()
	ctx := d.ctx
	d.mu.Unlock()
	d.ensure(ctx, c.Device)
}

func (d *Discovery) ensure(ctx context.Context, dev *device.Device) {
	if dev.IsDummy || dev.APIURL == "" {
		return
	}
	if d.supervisors.Ensure(ctx, dev.HostID, dev.APIURL) {
		d.logger.Info("supervising device", "host_id", dev.HostID, "api_url", dev.APIURL)
	}
}

// Bootstrap fetches the status of the phone at host ("ip" or "ip:port")
// once and applies every Phone entry to the registry. A Phone entry that
// does not carry its own address is attributed to host. Returns the
// number of phones applied.
func (d *Discovery) Bootstrap(ctx context.Context, host string) (int, error) {
	if host == "" {
		return 0, nil
	}
	ip, port := device.SplitHost(host)
	apiURL := device.APIURL(ip, port)

	client, err := piapi.NewClient(apiURL, piapi.WithHTTPClient(d.httpClient))
	if err != nil {
		return 0, fmt.Errorf("bootstrap %s: %w", host, err)
	}
	statuses, err := client.GetStatus(ctx)
	if err != nil {
		return 0, fmt.Errorf("bootstrap %s: %w", host, err)
	}

	applied := 0
	for _, s := range statuses {
		phone, ok := s.(piapi.Phone)
		if !ok {
			continue
		}
		if phone.IP == "" {
			phone.IP = ip
			phone.Port = port
		}
		if hostID := d.registry.ApplyPhoneSnapshot(phone); hostID != "" {
			applied++
			d.logger.Debug("bootstrapped phone", "host_id", hostID, "name", phone.DeviceName)
		}
	}
	d.logger.Info("bootstrap complete", "host", host, "phones", applied)
	return applied, nil
}

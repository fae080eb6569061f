package supervisor

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pimonitor/pimonitor-core/internal/device"
	"github.com/pimonitor/pimonitor-core/internal/piapi"
	"github.com/pimonitor/pimonitor-core/internal/transport"
)

const (
	testHost = "10.0.0.5"
	testAPI  = "http://10.0.0.5:8080/api"
)

// fakeSocket behaves like transport.Reconnecting: an explicit Close still
// fires OnClose.
type fakeSocket struct {
	url string
	h   transport.Handlers

	mu     sync.Mutex
	closes int
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	s.closes++
	first := s.closes == 1
	s.mu.Unlock()
	if first && s.h.OnClose != nil {
		s.h.OnClose()
	}
	return nil
}

func (s *fakeSocket) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func (s *fakeSocket) send(frame string) { s.h.OnMessage([]byte(frame)) }

type fakeTransport struct {
	mu      sync.Mutex
	sockets []*fakeSocket
}

func (f *fakeTransport) Open(url string, h transport.Handlers) transport.Socket {
	s := &fakeSocket{url: url, h: h}
	f.mu.Lock()
	f.sockets = append(f.sockets, s)
	f.mu.Unlock()
	return s
}

func (f *fakeTransport) opened() []*fakeSocket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeSocket(nil), f.sockets...)
}

func startSupervisor(t *testing.T) (*device.Registry, *Supervisor, *fakeSocket) {
	t.Helper()
	reg := device.NewRegistry()
	reg.UpsertFromDiscovery(testHost, testAPI)

	tr := &fakeTransport{}
	sup := New(testHost, testAPI, reg, tr)
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(sup.Stop)

	socks := tr.opened()
	if len(socks) != 1 {
		t.Fatalf("opened %d sockets, want 1", len(socks))
	}
	return reg, sup, socks[0]
}

func state(t *testing.T, reg *device.Registry) (device.ConnectionState, bool) {
	t.Helper()
	d, err := reg.GetDevice(testHost)
	if err != nil {
		t.Fatal(err)
	}
	return d.State, d.Online
}

func TestSupervisor_ConnectionLifecycle(t *testing.T) {
	reg, _, sock := startSupervisor(t)

	if sock.url != "ws://10.0.0.5:8080/api/status" {
		t.Errorf("socket url = %q", sock.url)
	}
	if s, online := state(t, reg); s != device.StateConnecting || online {
		t.Errorf("after Start: %s online=%v, want connecting offline", s, online)
	}

	sock.h.OnOpen()
	if s, online := state(t, reg); s != device.StateConnected || !online {
		t.Errorf("after open: %s online=%v, want connected online", s, online)
	}

	sock.h.OnError(errors.New("read: connection reset"))
	if s, _ := state(t, reg); s != device.StateConnected {
		t.Errorf("error alone changed state to %s", s)
	}

	sock.h.OnClose()
	if s, online := state(t, reg); s != device.StateDisconnected || online {
		t.Errorf("after close: %s online=%v, want disconnected offline", s, online)
	}

	// The transport reconnects on its own.
	sock.h.OnOpen()
	if s, _ := state(t, reg); s != device.StateConnected {
		t.Errorf("after reopen: %s", s)
	}
}

func TestSupervisor_StopSuppressesDisconnect(t *testing.T) {
	reg, sup, sock := startSupervisor(t)
	sock.h.OnOpen()

	sup.Stop()
	sup.Stop()

	if n := sock.closeCount(); n != 1 {
		t.Errorf("socket closed %d times, want 1", n)
	}
	if s, online := state(t, reg); s != device.StateConnected || !online {
		t.Errorf("after Stop: %s online=%v, want state untouched", s, online)
	}

	sock.send(`{"model":"Phone","data":{"ip":"10.0.0.5","battery_level":10}}`)
	if d, _ := reg.GetDevice(testHost); d.Phone != nil {
		t.Error("frame applied after Stop")
	}
}

func TestSupervisor_ContextCancelStops(t *testing.T) {
	reg := device.NewRegistry()
	reg.UpsertFromDiscovery(testHost, testAPI)
	tr := &fakeTransport{}
	sup := New(testHost, testAPI, reg, tr)

	ctx, cancel := context.WithCancel(context.Background())
	if err := sup.Start(ctx); err != nil {
		t.Fatal(err)
	}
	sock := tr.opened()[0]
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for sock.closeCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sock.closeCount() != 1 {
		t.Error("socket not closed after context cancellation")
	}
}

func TestSupervisor_StartTwice(t *testing.T) {
	_, sup, _ := startSupervisor(t)
	if err := sup.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestSupervisor_StartInvalidURL(t *testing.T) {
	reg := device.NewRegistry()
	tr := &fakeTransport{}
	sup := New(testHost, "ftp://10.0.0.5/api", reg, tr)

	if err := sup.Start(context.Background()); !errors.Is(err, piapi.ErrInvalidURL) {
		t.Errorf("Start() error = %v, want ErrInvalidURL", err)
	}
	if len(tr.opened()) != 0 {
		t.Error("socket opened for invalid url")
	}
}

func TestSupervisor_DispatchesFrames(t *testing.T) {
	reg, _, sock := startSupervisor(t)

	sock.send(`{"model":"Phone","data":{"ip":"10.0.0.5","device_name":"OnePlus8","battery_level":80}}`)
	sock.send(`{"model":"Sensor","data":{"sensor":"gaze","conn_type":"WEBSOCKET","ip":"10.0.0.5","port":8686}}`)
	sock.send(`{"model":"Recording","data":{"id":"r1","action":"START"}}`)
	sock.send(`{"model":"Hardware","data":{"version":"2","glasses_serial":"G1"}}`)

	d, err := reg.GetDevice(testHost)
	if err != nil {
		t.Fatal(err)
	}
	if d.Phone == nil || d.Phone.BatteryLevel != 80 {
		t.Errorf("Phone = %+v", d.Phone)
	}
	if d.GazeSensor == nil || d.GazeSensor.Port != 8686 {
		t.Errorf("GazeSensor = %+v", d.GazeSensor)
	}
	if !d.CurrentRecording.Active() || d.CurrentRecording.ID != "r1" {
		t.Errorf("CurrentRecording = %+v", d.CurrentRecording)
	}
	if d.Hardware == nil || d.Hardware.GlassesSerial != "G1" {
		t.Errorf("Hardware = %+v", d.Hardware)
	}
}

func TestSupervisor_NetworkDeviceAnnouncement(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantID  string
		wantAPI string
	}{
		{
			name:    "default port",
			frame:   `{"model":"NetworkDevice","data":{"ip":"10.0.0.7","device_name":"peer"}}`,
			wantID:  "10.0.0.7",
			wantAPI: "http://10.0.0.7:8080/api",
		},
		{
			name:    "explicit port",
			frame:   `{"model":"NetworkDevice","data":{"ip":"10.0.0.8","port":9000}}`,
			wantID:  "10.0.0.8:9000",
			wantAPI: "http://10.0.0.8:9000/api",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, _, sock := startSupervisor(t)
			sock.send(tt.frame)
			sock.send(tt.frame)

			if reg.DeviceCount() != 2 {
				t.Fatalf("DeviceCount() = %d, want 2", reg.DeviceCount())
			}
			d, err := reg.GetDevice(tt.wantID)
			if err != nil {
				t.Fatalf("GetDevice(%q) error = %v", tt.wantID, err)
			}
			if d.APIURL != tt.wantAPI || d.State != device.StateDisconnected {
				t.Errorf("peer = %+v", d)
			}
		})
	}
}

func TestSupervisor_MalformedFramesChangeNothing(t *testing.T) {
	reg, _, sock := startSupervisor(t)

	changes := 0
	reg.Subscribe(func(device.Change) { changes++ })

	frames := []string{
		`not json`,
		``,
		`{"model":"Phone"}`,
		`{"model":"Phone","data":null}`,
		`{"model":"Sensor","data":"oops"}`,
		`{"model":"Recording","data":[1,2]}`,
		`{"model":"Calibration","data":{"x":1}}`,
		`{"data":{"ip":"10.0.0.9"}}`,
	}
	for _, f := range frames {
		sock.send(f)
	}

	if changes != 0 {
		t.Errorf("registry changed %d times, want 0", changes)
	}
	if reg.DeviceCount() != 1 {
		t.Errorf("DeviceCount() = %d, want 1", reg.DeviceCount())
	}
}

func TestSupervisor_FailedDialMarksDisconnected(t *testing.T) {
	reg, _, sock := startSupervisor(t)

	// The transport reports a failed dial as an error followed by a close.
	sock.h.OnError(errors.New("dial: connection refused"))
	sock.h.OnClose()

	if s, online := state(t, reg); s != device.StateDisconnected || online {
		t.Errorf("after failed dial: %s online=%v, want disconnected offline", s, online)
	}
}

func TestSupervisor_UnreachableDevice(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	hostID := addr
	reg := device.NewRegistry()
	reg.UpsertFromDiscovery(hostID, "http://"+addr+"/api")

	tr := transport.NewReconnecting(transport.Config{
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
	})
	sup := New(hostID, "http://"+addr+"/api", reg, tr)
	if err := sup.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sup.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		d, err := reg.GetDevice(hostID)
		if err != nil {
			t.Fatal(err)
		}
		if d.State == device.StateDisconnected {
			if d.Online {
				t.Error("disconnected device reported online")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("state after repeated dial failures = %s, want disconnected", d.State)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSupervisor_StartCancelledContext(t *testing.T) {
	reg := device.NewRegistry()
	reg.UpsertFromDiscovery(testHost, testAPI)
	tr := &fakeTransport{}
	sup := New(testHost, testAPI, reg, tr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sup.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Start() error = %v, want context.Canceled", err)
	}
	if len(tr.opened()) != 0 {
		t.Error("socket opened for a cancelled context")
	}
	if s, _ := state(t, reg); s != device.StateDisconnected {
		t.Errorf("state = %s, want disconnected", s)
	}
}

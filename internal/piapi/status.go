package piapi

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Status is one decoded status update. The set of implementations is
// closed: Phone, Sensor, NetworkDevice, Recording and Hardware.
//
// Consumers dispatch with Accept. Adding a model adds a method to
// StatusVisitor, so every dispatcher stops compiling until it handles it.
type Status interface {
	Model() string
	Accept(v StatusVisitor)
	sealed()
}

// StatusVisitor receives a decoded Status by concrete type.
type StatusVisitor interface {
	VisitPhone(Phone)
	VisitSensor(Sensor)
	VisitNetworkDevice(NetworkDevice)
	VisitRecording(Recording)
	VisitHardware(Hardware)
}

func (Phone) Model() string         { return ModelPhone }
func (Sensor) Model() string        { return ModelSensor }
func (NetworkDevice) Model() string { return ModelNetworkDevice }
func (Recording) Model() string     { return ModelRecording }
func (Hardware) Model() string      { return ModelHardware }

func (p Phone) Accept(v StatusVisitor)         { v.VisitPhone(p) }
func (s Sensor) Accept(v StatusVisitor)        { v.VisitSensor(s) }
func (n NetworkDevice) Accept(v StatusVisitor) { v.VisitNetworkDevice(n) }
func (r Recording) Accept(v StatusVisitor)     { v.VisitRecording(r) }
func (h Hardware) Accept(v StatusVisitor)      { v.VisitHardware(h) }

func (Phone) sealed()         {}
func (Sensor) sealed()        {}
func (NetworkDevice) sealed() {}
func (Recording) sealed()     {}
func (Hardware) sealed()      {}

// Frame is the wire shape shared by socket messages and the entries of
// a GET /status envelope.
type Frame struct {
	Model string          `json:"model"`
	Data  json.RawMessage `json:"data"`
}

// DecodeStatus parses one socket message.
func DecodeStatus(raw []byte) (Status, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return f.Decode()
}

// Decode converts the frame's data into the Status variant named by Model.
// Returns ErrMissingData when data is absent or null, and ErrUnknownModel
// for models this client does not understand.
func (f Frame) Decode() (Status, error) {
	data := bytes.TrimSpace(f.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, ErrMissingData
	}

	var (
		s   Status
		err error
	)
	switch f.Model {
	case ModelPhone:
		s, err = decodeAs[Phone](data)
	case ModelSensor:
		s, err = decodeAs[Sensor](data)
	case ModelNetworkDevice:
		s, err = decodeAs[NetworkDevice](data)
	case ModelRecording:
		s, err = decodeAs[Recording](data)
	case ModelHardware:
		s, err = decodeAs[Hardware](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, f.Model)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s data: %v", ErrMalformedFrame, f.Model, err)
	}
	return s, nil
}

func decodeAs[T Status](data []byte) (Status, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

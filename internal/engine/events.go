package engine

import (
	"github.com/oszuidwest/zwfm-camswitch/internal/protocol"
	"github.com/oszuidwest/zwfm-camswitch/internal/timer"
)

// Event is an input to the engine's event loop.
type Event interface {
	event()
}

// LevelSample is one level reading for a monitored microphone.
type LevelSample struct {
	Mic   int
	Level int
}

// ExternalMic is a report from an external controller. Mic 0 means
// nobody is talking.
type ExternalMic struct {
	Mic int
}

// SwitchingControl enables or disables automation on call events.
type SwitchingControl struct {
	Enabled bool
}

// TimerFired is posted when a named timer elapses.
type TimerFired struct {
	Expiry timer.Expiry
}

// WidgetEvent is a panel widget action.
type WidgetEvent struct {
	WidgetID string `json:"widget_id" validate:"required,max=64"`
	Value    string `json:"value" validate:"max=32"`
}

// UnitReport is a token received from an auxiliary unit.
type UnitReport struct {
	Address string
	Token   protocol.Token
}

// CallConnected is posted when a call is established.
type CallConnected struct{}

// CallDisconnected is posted when a call ends.
type CallDisconnected struct{}

// MuteChanged is posted when the room microphones are muted or unmuted.
type MuteChanged struct {
	Muted bool
}

// StandbyChanged is posted when the device enters or leaves standby.
type StandbyChanged struct {
	Standby bool
}

// PresenterStatus is posted when presenter tracking starts or stops.
type PresenterStatus struct {
	Tracking bool
}

// PresenterDetected is posted when the tracked presenter appears or leaves.
type PresenterDetected struct {
	Detected bool
}

// PeopleCount is the local camera's people count. A negative count means
// the device cannot count.
type PeopleCount struct {
	Count int
}

// FramesChanged is posted when speaker-track frames is toggled on the device.
type FramesChanged struct {
	Active bool
}

// DeviceConnected is posted each time the device websocket comes up. The
// engine re-reads the camera map, verifies zone presets and pushes widget
// state.
type DeviceConnected struct{}

func (LevelSample) event()       {}
func (ExternalMic) event()       {}
func (SwitchingControl) event()  {}
func (TimerFired) event()        {}
func (WidgetEvent) event()       {}
func (UnitReport) event()        {}
func (CallConnected) event()     {}
func (CallDisconnected) event()  {}
func (MuteChanged) event()       {}
func (StandbyChanged) event()    {}
func (PresenterStatus) event()   {}
func (PresenterDetected) event() {}
func (PeopleCount) event()       {}
func (FramesChanged) event()     {}
func (DeviceConnected) event()   {}

// Package types provides shared type definitions used across the controller.
package types

import (
	"time"
)

// Mode is the automation mode of the switching engine.
type Mode string

const (
	// ModeManual suspends automatic switching; no transitions are evaluated.
	ModeManual Mode = "manual"
	// ModeAutomatic lets the engine switch cameras from microphone activity.
	ModeAutomatic Mode = "automatic"
)

// SourceKind identifies which unit contributes the video for a composition.
type SourceKind string

// Supported composition sources.
const (
	SourceMain SourceKind = "main" // Camera on the primary unit
	SourceAux  SourceKind = "aux"  // Camera fed by an auxiliary unit
	SourceNone SourceKind = "none" // Overview composition, no single source
)

// Layout is the video layout used when several connectors are composed.
type Layout string

// Supported layouts.
const (
	LayoutProminent Layout = "Prominent"
	LayoutEqual     Layout = "Equal"
	LayoutPIP       Layout = "PIP"
)

// MicCategory identifies how a microphone reaches the controller.
type MicCategory string

// Supported microphone categories.
const (
	MicAnalog   MicCategory = "analog"
	MicEthernet MicCategory = "ethernet"
	MicUSB      MicCategory = "usb"
	MicExternal MicCategory = "external"
)

// Microphone id ranges and per-category limits.
const (
	MaxAnalogMics   = 8
	MaxEthernetMics = 64
	MaxUSBMics      = 4
	MaxExternalMics = 99

	ExternalMicBase = 900 // External mic XX is reported as ExternalMicBase+XX

	MaxCompositionMics = 175
)

// PresenterMode selects how presenter tracking interacts with switching.
type PresenterMode string

// Supported presenter modes.
const (
	PresenterOff PresenterMode = "off"
	PresenterOn  PresenterMode = "presenter"
	PresenterQA  PresenterMode = "presenter_qa"
)

// Default thresholds and timer durations.
const (
	DefaultLowThreshold  = 6
	DefaultHighThreshold = 25

	DefaultSideBySide    = 10000 * time.Millisecond
	DefaultNewSpeaker    = 2000 * time.Millisecond
	DefaultInitialCall   = 15000 * time.Millisecond
	DefaultSettleDelay   = 500 * time.Millisecond
	DefaultQAHold        = 7000 * time.Millisecond
	DefaultMuteOverview  = 2000 * time.Millisecond
	DefaultWakeProbe     = 2000 * time.Millisecond
	DefaultLevelInterval = 500 * time.Millisecond
)

// Selector kinds reported in status and event log entries.
const (
	SelectorSilence = "silence"
	SelectorSingle  = "single"
	SelectorMulti   = "multi"
)

// EngineStatus is a point-in-time view of the decision engine state.
type EngineStatus struct {
	Mode                 Mode          `json:"mode"`
	CallActive           bool          `json:"call_active"`
	Selector             string        `json:"selector"`             // silence, single or multi
	Input                int           `json:"input,omitempty"`      // Mic id for single selectors
	SetID                int           `json:"set_id"`               // History index for multi selectors
	Connectors           []int         `json:"connectors,omitempty"` // Last connectors sent to the device
	LowRecalled          bool          `json:"low_recalled"`
	PermanentOverview    bool          `json:"permanent_overview"`
	AllowSideBySide      bool          `json:"allow_side_by_side"`
	AllowNewSpeaker      bool          `json:"allow_new_speaker"`
	AllowCameraSwitching bool          `json:"allow_camera_switching"`
	PresenterTracking    bool          `json:"presenter_tracking"`
	PresenterDetected    bool          `json:"presenter_detected"`
	PresenterMode        PresenterMode `json:"presenter_mode"`
	ForceFrames          bool          `json:"force_frames"`
	Selfview             bool          `json:"selfview"`
	TempDisabled         bool          `json:"temp_disabled,omitzero"`
	SelectedOverview     string        `json:"selected_overview"`
	ConfigError          string        `json:"config_error,omitempty"` // Set when automation is disabled by invalid config
}

// UnitStatus is the liveness and presence view of one auxiliary unit.
type UnitStatus struct {
	Address   string    `json:"address"`
	Enabled   bool      `json:"enabled"`
	Online    bool      `json:"online"`
	HasPeople bool      `json:"has_people"`
	LastSeen  time.Time `json:"last_seen,omitzero"`
}

// WSStatusResponse is sent to panel clients with engine and unit status.
type WSStatusResponse struct {
	Type     string       `json:"type"`     // Message type identifier
	Device   bool         `json:"device"`   // Device websocket is connected
	Engine   EngineStatus `json:"engine"`   // Decision engine state
	Units    []UnitStatus `json:"units"`    // Auxiliary unit liveness
	Firmware FirmwareInfo `json:"firmware"` // Device firmware compatibility
	Version  string       `json:"version"`  // Controller version
}

// WSTestResult is sent to clients after a test operation completes.
type WSTestResult struct {
	Type     string `json:"type"`            // Message type identifier
	TestType string `json:"test_type"`       // Type of test performed
	Success  bool   `json:"success"`         // Test succeeded
	Error    string `json:"error,omitempty"` // Error message if failed
}

// GraphConfig contains Microsoft Graph API settings for email notifications.
type GraphConfig struct {
	TenantID     string `json:"tenant_id,omitempty"`     // Azure AD tenant ID
	ClientID     string `json:"client_id,omitempty"`     // App registration client ID
	ClientSecret string `json:"client_secret,omitempty"` // App registration client secret
	FromAddress  string `json:"from_address,omitempty"`  // Shared mailbox address (sender)
	Recipients   string `json:"recipients,omitempty"`    // Comma-separated recipients
}

// FirmwareInfo reports the device software version against the configured minimum.
type FirmwareInfo struct {
	Current   string `json:"current,omitempty"`
	Minimum   string `json:"minimum,omitempty"`
	Supported bool   `json:"supported"`
	Error     string `json:"error,omitempty"`
}

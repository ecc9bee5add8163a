// Package eventlog records switching decisions, automation changes and
// alerts in a JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event.
type EventType string

// Switching event types.
const (
	CameraSwitched   EventType = "camera_switched"
	OverviewRecalled EventType = "overview_recalled"
	MultiSpeaker     EventType = "multi_speaker"
	PresenterCompose EventType = "presenter_compose"
	PresenterRevert  EventType = "presenter_revert"
)

// Automation event types.
const (
	AutomationStarted EventType = "automation_started"
	AutomationStopped EventType = "automation_stopped"
	SwitchingPaused   EventType = "switching_paused"
	SwitchingResumed  EventType = "switching_resumed"
)

// Error event types.
const (
	DeviceError EventType = "device_error"
	UnitError   EventType = "unit_error"
	ConfigError EventType = "config_error"
	Alert       EventType = "alert"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// SwitchDetails describes what was put on air.
type SwitchDetails struct {
	Selector    string  `json:"selector"`
	Input       int     `json:"input,omitempty"`
	SetID       int     `json:"set_id,omitempty"`
	Average     float64 `json:"average"`
	Composition string  `json:"composition,omitempty"`
	Connectors  []int   `json:"connectors,omitempty"`
	Layout      string  `json:"layout,omitempty"`
	Presets     []int   `json:"presets,omitempty"`
	Zone        string  `json:"zone,omitempty"`
}

// ErrorDetails describes a failed device or unit operation.
type ErrorDetails struct {
	Operation string `json:"operation,omitempty"`
	Address   string `json:"address,omitempty"`
	Error     string `json:"error"`
}

// Logger writes events to a JSON lines file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	l := &Logger{filePath: filePath}
	if err := l.openLocked(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logger) openLocked() error {
	file, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	l.file = file
	l.encoder = json.NewEncoder(file)
	return nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if l.encoder == nil {
		return fmt.Errorf("log file closed")
	}
	return l.encoder.Encode(event)
}

// LogSwitch logs a switching decision.
func (l *Logger) LogSwitch(eventType EventType, details *SwitchDetails) error {
	return l.Log(&Event{Type: eventType, Details: details})
}

// LogError logs a failed device or unit operation.
func (l *Logger) LogError(eventType EventType, operation, address string, err error) error {
	return l.Log(&Event{
		Type: eventType,
		Details: &ErrorDetails{
			Operation: operation,
			Address:   address,
			Error:     err.Error(),
		},
	})
}

// LogMessage logs an event that carries only a message.
func (l *Logger) LogMessage(eventType EventType, message string) error {
	return l.Log(&Event{Type: eventType, Message: message})
}

// Rotate moves the current file aside with a timestamp suffix and starts a
// new one. It returns the path of the rotated file, or "" when the current
// file was empty.
func (l *Logger) Rotate(now time.Time) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := os.Stat(l.filePath)
	if err != nil {
		return "", fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() == 0 {
		return "", nil
	}

	if err := l.file.Close(); err != nil {
		return "", fmt.Errorf("close log file: %w", err)
	}
	rotated := l.filePath + "." + now.UTC().Format("20060102T150405Z")
	renameErr := os.Rename(l.filePath, rotated)
	if err := l.openLocked(); err != nil {
		return "", err
	}
	if renameErr != nil {
		return "", fmt.Errorf("rename log file: %w", renameErr)
	}
	return rotated, nil
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.encoder = nil
	return err
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll        TypeFilter = ""
	FilterSwitch     TypeFilter = "switch"
	FilterAutomation TypeFilter = "automation"
	FilterError      TypeFilter = "error"
)

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// ReadLast reads events from the log file, newest first. It returns up to
// n events after skipping offset matching events, and whether more exist.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []Event{}, false, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	events := make([]Event, 0, n)
	skipped := 0
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}
		if !filter.Matches(event.Type) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(events) == n {
			return events, true, nil
		}
		events = append(events, event)
	}
	return events, false, nil
}

// Matches reports whether t passes the filter.
func (f TypeFilter) Matches(t EventType) bool {
	switch f {
	case FilterSwitch:
		return IsSwitchEvent(t)
	case FilterAutomation:
		return IsAutomationEvent(t)
	case FilterError:
		return IsErrorEvent(t)
	default:
		return true
	}
}

// IsSwitchEvent returns true if the event type records a video change.
func IsSwitchEvent(t EventType) bool {
	return t == CameraSwitched || t == OverviewRecalled || t == MultiSpeaker ||
		t == PresenterCompose || t == PresenterRevert
}

// IsAutomationEvent returns true if the event type records an automation change.
func IsAutomationEvent(t EventType) bool {
	return t == AutomationStarted || t == AutomationStopped || t == SwitchingPaused || t == SwitchingResumed
}

// IsErrorEvent returns true if the event type records a failure or alert.
func IsErrorEvent(t EventType) bool {
	return t == DeviceError || t == UnitError || t == ConfigError || t == Alert
}

package main

import (
	"context"
	"errors"
	"testing"
)

type fakeVersion struct {
	version string
	err     error
}

func (f fakeVersion) SoftwareVersion(context.Context) (string, error) {
	return f.version, f.err
}

type fakeAlerts struct {
	raised  []string
	cleared []string
}

func (a *fakeAlerts) Raise(key, _, _ string) bool {
	a.raised = append(a.raised, key)
	return true
}

func (a *fakeAlerts) Clear(key, _ string) bool {
	a.cleared = append(a.cleared, key)
	return true
}

func TestFirmwareSupported(t *testing.T) {
	tests := []struct {
		version, minimum string
		want             bool
		wantErr          bool
	}{
		{"ce11.14.2.3 a1b2c3d 2024-05-01", "v11.0.0", true, false},
		{"RoomOS 11.0.0.4", "11.0.0", true, false},
		{"ce10.17.1.0", "v11.0.0", false, false},
		{"ce11.2.1.0", "v11.14.0", false, false},
		{"unknown", "v11.0.0", false, true},
		{"ce11.2.1.0", "latest", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.version+">="+tt.minimum, func(t *testing.T) {
			got, err := firmwareSupported(tt.version, tt.minimum)
			if (err != nil) != tt.wantErr {
				t.Fatalf("firmwareSupported() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("firmwareSupported() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFirmwareCheckAlerts(t *testing.T) {
	alerts := &fakeAlerts{}
	fc := NewFirmwareChecker(fakeVersion{version: "ce10.17.1.0"}, "v11.0.0", alerts)
	info := fc.Check(context.Background())
	if info.Supported || info.Current != "ce10.17.1.0" {
		t.Errorf("Check() = %+v, want unsupported", info)
	}
	if len(alerts.raised) != 1 || alerts.raised[0] != "firmware" {
		t.Errorf("raised = %v, want firmware alert", alerts.raised)
	}

	fc.dev = fakeVersion{version: "ce11.14.2.3"}
	if info := fc.Check(context.Background()); !info.Supported {
		t.Errorf("Check() = %+v, want supported", info)
	}
	if len(alerts.cleared) != 1 {
		t.Errorf("cleared = %v, want firmware alert cleared", alerts.cleared)
	}
	if got := fc.Info(); got.Current != "ce11.14.2.3" {
		t.Errorf("Info() = %+v", got)
	}
}

func TestFirmwareCheckUnavailable(t *testing.T) {
	alerts := &fakeAlerts{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fc := NewFirmwareChecker(fakeVersion{err: errors.New("not connected")}, "v11.0.0", alerts)
	info := fc.Check(ctx)
	if !info.Supported || info.Error == "" {
		t.Errorf("Check() = %+v, want supported with error", info)
	}
	if len(alerts.raised)+len(alerts.cleared) != 0 {
		t.Errorf("alerts touched on an unavailable version: %+v", alerts)
	}
}

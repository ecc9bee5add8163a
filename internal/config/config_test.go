package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-camswitch/internal/types"
)

const validConfig = `{
  "microphones": {"analog": [1, 2], "ethernet": [11, 12], "usb": [101], "external": [901]},
  "zones": [{"name": "Z1", "primary": 11, "secondary": 12}],
  "compositions": [
    {"name": "Main", "source": "main", "mics": [1, 2], "connectors": [1]},
    {"name": "Aux", "source": "aux", "unit_address": "10.0.0.100", "mics": [11], "connectors": [2]},
    {"name": "Stage", "source": "main", "mics": [12, 901], "zone": "Z1"},
    {"name": "Overview", "source": "none", "mics": [0], "connectors": [1, 2], "layout": "Equal"}
  ],
  "thresholds": {"low": 6, "high": 25}
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func loadValidation(t *testing.T, body string) *types.ValidationError {
	t.Helper()
	err := New(writeConfig(t, body)).Load()
	if err == nil {
		return nil
	}
	var verr *types.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Load() error = %v, want *types.ValidationError", err)
	}
	return verr
}

func hasField(verr *types.ValidationError, field string) bool {
	for _, fe := range verr.Errors {
		if strings.HasPrefix(fe.Field, field) {
			return true
		}
	}
	return false
}

func TestLoadValid(t *testing.T) {
	cfg := New(writeConfig(t, validConfig))
	if err := cfg.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	snap := cfg.Snapshot()
	if snap.Overview.Selected != "Overview" {
		t.Errorf("selected overview = %q, want Overview", snap.Overview.Selected)
	}
	if snap.SideBySide != 10*time.Second || snap.NewSpeaker != 2*time.Second || snap.Settle != 500*time.Millisecond {
		t.Errorf("timer defaults = %v/%v/%v", snap.SideBySide, snap.NewSpeaker, snap.Settle)
	}
	if got := snap.UnitAddresses(); len(got) != 1 || got[0] != "10.0.0.100" {
		t.Errorf("UnitAddresses() = %v, want [10.0.0.100]", got)
	}
	if snap.Compositions[0].Layout != types.LayoutProminent {
		t.Errorf("default layout = %q, want Prominent", snap.Compositions[0].Layout)
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	if err := New(path).Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if verr := New(path).Validate(); verr.HasErrors() {
		t.Errorf("default config invalid: %v", verr)
	}
}

func TestValidationRejects(t *testing.T) {
	tests := []struct {
		name  string
		from  string
		to    string
		field string
	}{
		{"unconfigured composition mic", `"mics": [1, 2], "connectors": [1]`, `"mics": [1, 3], "connectors": [1]`, "compositions[0].mics"},
		{"duplicate analog", `"analog": [1, 2]`, `"analog": [1, 1]`, "microphones.analog"},
		{"analog out of range", `"analog": [1, 2]`, `"analog": [1, 9]`, "microphones.analog"},
		{"bad ethernet lobe", `"ethernet": [11, 12]`, `"ethernet": [11, 19]`, "microphones.ethernet"},
		{"usb out of range", `"usb": [101]`, `"usb": [105]`, "microphones.usb"},
		{"aux without ip", `"unit_address": "10.0.0.100"`, `"unit_address": "unit-1"`, "compositions[1].unit_address"},
		{"unknown zone", `"zone": "Z1"`, `"zone": "Z9"`, "compositions[2].zone"},
		{"low above high", `"low": 6, "high": 25`, `"low": 30, "high": 25`, "thresholds.high"},
		{"overview not none", `"source": "none", "mics": [0]`, `"source": "main", "mics": [0]`, "compositions[3].source"},
		{"missing overview", `"mics": [0]`, `"mics": [1]`, "compositions"},
		{"empty mics", `"mics": [1, 2], "connectors": [1]`, `"mics": [], "connectors": [1]`, "compositions[0].mics"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := strings.Replace(validConfig, tt.from, tt.to, 1)
			if body == validConfig {
				t.Fatalf("replacement %q not found", tt.from)
			}
			verr := loadValidation(t, body)
			if verr == nil {
				t.Fatal("Load() succeeded, want validation error")
			}
			if !hasField(verr, tt.field) {
				t.Errorf("errors = %+v, want field %s", verr.Errors, tt.field)
			}
		})
	}
}

func TestValidationDuplicateWithinCategory(t *testing.T) {
	body := strings.Replace(validConfig, `"external": [901]`, `"external": [901], "usb": [101, 101]`, 1)
	verr := loadValidation(t, body)
	if verr == nil || !verr.HasErrors() {
		t.Fatal("want validation error for duplicated usb mic")
	}
}

func TestValidateMicrophonesAcrossCategories(t *testing.T) {
	c := &Config{Microphones: MicrophonesConfig{Analog: []int{1, 2}, USB: []int{2}}}
	verr := types.NewValidationError()
	c.validateMicrophones(verr)
	if len(verr.Errors) != 1 || verr.Errors[0].Value != 2 {
		t.Fatalf("errors = %+v, want one duplicate of mic 2", verr.Errors)
	}

	c = &Config{Microphones: MicrophonesConfig{Analog: []int{1}, USB: []int{101}}}
	verr = types.NewValidationError()
	c.validateMicrophones(verr)
	if verr.HasErrors() {
		t.Errorf("distinct ids rejected: %+v", verr.Errors)
	}

	verr = types.NewValidationError()
	(&Config{}).validateMicrophones(verr)
	if !hasField(verr, "microphones") {
		t.Errorf("empty microphone list accepted: %+v", verr.Errors)
	}
}

func TestShadowedMics(t *testing.T) {
	body := strings.Replace(validConfig, `"mics": [12, 901]`, `"mics": [1, 12, 901]`, 1)
	cfg := New(writeConfig(t, body))
	if err := cfg.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	shadowed := cfg.shadowedMicsLocked()
	if len(shadowed) != 1 || shadowed[0].Mic != 1 {
		t.Fatalf("shadowedMicsLocked() = %+v, want mic 1", shadowed)
	}
	if got := shadowed[0].Compositions; len(got) != 2 || got[1] != "Stage" {
		t.Errorf("compositions = %v, want [Main Stage]", got)
	}
}

func TestSetSelectedOverview(t *testing.T) {
	cfg := New(writeConfig(t, validConfig))
	if err := cfg.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.SetSelectedOverview("Main"); err == nil {
		t.Error("SetSelectedOverview(Main) succeeded, want error for non-overview composition")
	}
	if err := cfg.SetSelectedOverview("Overview"); err != nil {
		t.Errorf("SetSelectedOverview(Overview) error = %v", err)
	}
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		id   int
		want types.MicCategory
		ok   bool
	}{
		{1, types.MicAnalog, true},
		{8, types.MicAnalog, true},
		{11, types.MicEthernet, true},
		{88, types.MicEthernet, true},
		{20, "", false},
		{101, types.MicUSB, true},
		{105, "", false},
		{901, types.MicExternal, true},
		{0, "", false},
	}
	for _, tt := range tests {
		got, ok := CategoryOf(tt.id)
		if got != tt.want || ok != tt.ok {
			t.Errorf("CategoryOf(%d) = %q, %v; want %q, %v", tt.id, got, ok, tt.want, tt.ok)
		}
	}
}

package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseExternalMic(t *testing.T) {
	tests := []struct {
		in     string
		wantID int
		wantOK bool
	}{
		{"MIC_ACTIVE_01", 901, true},
		{"MIC_ACTIVE_99", 999, true},
		{"MIC_ACTIVE_00", 0, true},
		{" MIC_ACTIVE_12\r\n", 912, true},
		{"MIC_ACTIVE_1", 0, false},
		{"MIC_ACTIVE_XY", 0, false},
		{"MIC_ACTIVE_+1", 0, false},
		{"MIC_ACTIVE_-1", 0, false},
		{"MIC_ACTIVE_ 1", 0, false},
		{"MIC_INACTIVE_01", 0, false},
	}
	for _, tt := range tests {
		id, ok := ParseExternalMic(tt.in)
		if id != tt.wantID || ok != tt.wantOK {
			t.Errorf("ParseExternalMic(%q) = %d, %v; want %d, %v", tt.in, id, ok, tt.wantID, tt.wantOK)
		}
	}
}

func TestDecodeWrappedAndRaw(t *testing.T) {
	wrapped := `{"App":"Crestron","Source":{},"Type":"Command","Value":"MIC_ACTIVE_01"}`
	env := Decode([]byte(wrapped))
	if env.App != "Crestron" || env.Value != "MIC_ACTIVE_01" {
		t.Errorf("Decode(wrapped) = %+v", env)
	}

	env = Decode([]byte("MIC_ACTIVE_02\n"))
	if env.App != "" || env.Value != "MIC_ACTIVE_02" {
		t.Errorf("Decode(raw) = %+v", env)
	}

	env = Decode([]byte("{not json"))
	if env.Value != "{not json" {
		t.Errorf("Decode(malformed) = %+v, want raw value", env)
	}
}

func TestParseToken(t *testing.T) {
	if tok, ok := ParseToken("status-ok"); !ok || tok != StatusOK {
		t.Errorf("ParseToken(status-ok) = %q, %v", tok, ok)
	}
	if _, ok := ParseToken("VTC-1_OK"); ok {
		t.Error("ParseToken accepted an unknown token")
	}
}

func TestNewEnvelope(t *testing.T) {
	env := NewEnvelope("10.0.0.10", StatusOK)
	if env.ID == "" || env.Type != TypeStatus || env.Source.IPv4 != "10.0.0.10" {
		t.Errorf("NewEnvelope() = %+v", env)
	}
	data, err := json.Marshal(NewEnvelope("10.0.0.10", Wake))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if got := Decode(data); got.Value != string(Wake) || got.Type != TypeCommand {
		t.Errorf("Decode(Marshal(wake)) = %+v", got)
	}
}

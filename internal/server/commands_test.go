package server

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-camswitch/internal/config"
	"github.com/oszuidwest/zwfm-camswitch/internal/engine"
	"github.com/oszuidwest/zwfm-camswitch/internal/types"
)

type fakeEngine struct {
	mu      sync.Mutex
	widgets []engine.WidgetEvent
}

func (f *fakeEngine) HandleWidget(w engine.WidgetEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.widgets = append(f.widgets, w)
	return nil
}

func (f *fakeEngine) Snapshot() types.EngineStatus { return types.EngineStatus{Mode: types.ModeManual} }

func (f *fakeEngine) Overviews() []string { return []string{"Wide", "Tight"} }

type fakeUnits struct {
	probes  int
	enabled map[string]bool
}

func (f *fakeUnits) Probe() error { f.probes++; return nil }

func (f *fakeUnits) SetEnabled(address string, enabled bool) { f.enabled[address] = enabled }

func (f *fakeUnits) Statuses() []types.UnitStatus { return nil }

func newHandler(t *testing.T, units Units) (*CommandHandler, *fakeEngine, *config.Config) {
	t.Helper()
	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	eng := &fakeEngine{}
	return NewCommandHandler(cfg, eng, units, nil), eng, cfg
}

// run handles one command and returns the result message.
func run(t *testing.T, h *CommandHandler, typ, data string) types.WSCommandResult {
	t.Helper()
	send := make(chan any, 4)
	updated := false
	h.Handle(WSCommand{Type: typ, Data: json.RawMessage(data)}, send, func() { updated = true })
	if !updated {
		t.Errorf("%s: status update not triggered", typ)
	}
	select {
	case msg := <-send:
		res, ok := msg.(types.WSCommandResult)
		if !ok {
			t.Fatalf("%s: result type %T", typ, msg)
		}
		return res
	case <-time.After(time.Second):
		t.Fatalf("%s: no result", typ)
		return types.WSCommandResult{}
	}
}

func TestModeCommand(t *testing.T) {
	h, eng, _ := newHandler(t, nil)

	res := run(t, h, "engine/mode", `{"automatic": true}`)
	if !res.Success {
		t.Fatalf("engine/mode result = %v", res)
	}
	if len(eng.widgets) != 1 || eng.widgets[0] != engine.ModeWidget(true) {
		t.Errorf("widgets = %v, want automation start", eng.widgets)
	}

	res = run(t, h, "engine/mode", `{}`)
	if res.Success {
		t.Fatalf("engine/mode without automatic succeeded: %v", res)
	}
	verr, ok := res.Error.(*types.ValidationError)
	if !ok || len(verr.Errors) != 1 || verr.Errors[0].Field != "automatic" {
		t.Errorf("error = %#v, want a validation error on automatic", res.Error)
	}
}

func TestOverviewCommand(t *testing.T) {
	h, eng, _ := newHandler(t, nil)

	if res := run(t, h, "engine/overview", `{"name": "Tight"}`); !res.Success {
		t.Fatalf("engine/overview result = %v", res)
	}
	if eng.widgets[0] != engine.OverviewWidget(2) {
		t.Errorf("widget = %+v, want overview position 2", eng.widgets[0])
	}
	if res := run(t, h, "engine/overview", `{"name": "Missing"}`); res.Success {
		t.Errorf("unknown overview accepted: %v", res)
	}
}

func TestWidgetCommandValidation(t *testing.T) {
	h, eng, _ := newHandler(t, nil)
	long := strings.Repeat("x", 40)
	if res := run(t, h, "engine/widget", `{"widget_id": "widget_override", "value": "`+long+`"}`); res.Success {
		t.Errorf("overlong widget value accepted: %v", res)
	}
	if len(eng.widgets) != 0 {
		t.Errorf("widgets = %v, want none", eng.widgets)
	}
}

func TestUnitCommands(t *testing.T) {
	h, _, _ := newHandler(t, nil)
	if res := run(t, h, "units/probe", ``); res.Success {
		t.Errorf("units/probe without units = %v, want error", res)
	}

	units := &fakeUnits{enabled: make(map[string]bool)}
	h, _, _ = newHandler(t, units)
	if res := run(t, h, "units/probe", ``); !res.Success || units.probes != 1 {
		t.Errorf("units/probe = %v, probes = %d", res, units.probes)
	}
	if res := run(t, h, "units/enable", `{"address": "10.0.0.2", "enabled": false}`); !res.Success {
		t.Fatalf("units/enable = %v", res)
	}
	if enabled, ok := units.enabled["10.0.0.2"]; !ok || enabled {
		t.Errorf("enabled = %v, want 10.0.0.2 disabled", units.enabled)
	}
	if res := run(t, h, "units/enable", `{"address": "unit-2", "enabled": true}`); res.Success {
		t.Errorf("hostname address accepted: %v", res)
	}
}

func TestConfigGetHidesSecrets(t *testing.T) {
	h, _, cfg := newHandler(t, nil)
	if err := cfg.SetGraphConfig("tenant", "client", "top-secret", "av@example.org", "ops@example.org"); err != nil {
		t.Fatalf("SetGraphConfig() error = %v", err)
	}
	res := run(t, h, "config/get", ``)
	data, err := json.Marshal(res.Data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "top-secret") {
		t.Errorf("config view leaks the client secret: %s", data)
	}
	if !strings.Contains(string(data), "av@example.org") {
		t.Errorf("config view misses the sender: %s", data)
	}
}

func TestWebhookUpdatePersists(t *testing.T) {
	h, _, cfg := newHandler(t, nil)
	if res := run(t, h, "notifications/webhook/update", `{"url": "https://hooks.example.org/av"}`); !res.Success {
		t.Fatalf("update = %v", res)
	}
	if got := cfg.Snapshot().WebhookURL; got != "https://hooks.example.org/av" {
		t.Errorf("WebhookURL = %q", got)
	}
	if res := run(t, h, "notifications/webhook/update", `{"url": "not a url"}`); res.Success {
		t.Errorf("invalid URL accepted: %v", res)
	}
}

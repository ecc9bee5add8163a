package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/oszuidwest/zwfm-camswitch/internal/config"
	"github.com/oszuidwest/zwfm-camswitch/internal/engine"
	"github.com/oszuidwest/zwfm-camswitch/internal/protocol"
	"github.com/oszuidwest/zwfm-camswitch/internal/types"
)

const testUnit = "192.0.2.1"

type apiEngine struct {
	fakePoster
}

func (e *apiEngine) HandleWidget(engine.WidgetEvent) error { return nil }
func (e *apiEngine) Snapshot() types.EngineStatus          { return types.EngineStatus{Mode: types.ModeManual} }
func (e *apiEngine) Overviews() []string                   { return nil }

func newTestServer(t *testing.T) (http.Handler, *apiEngine) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{"compositions":[
		{"name":"Desk","source":"main","mics":[1],"connectors":[1]},
		{"name":"Stage","source":"aux","unit_address":"` + testUnit + `","mics":[2],"connectors":[2]}
	]}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := config.New(path)
	if err := cfg.Load(); err != nil {
		t.Logf("config load: %v", err)
	}
	eng := &apiEngine{}
	s := NewServer(cfg, ServerOptions{Engine: eng})
	return s.SetupRoutes(), eng
}

func post(h http.Handler, path, remote, body string, auth bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.RemoteAddr = remote
	if auth {
		req.SetBasicAuth(config.DefaultWebUsername, config.DefaultWebPassword)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestUnitMessagePostsReport(t *testing.T) {
	h, eng := newTestServer(t)

	body := `{"App":"camswitch","Type":"Status","Value":"presence-no"}`
	rec := post(h, "/api/unit/message", testUnit+":41000", body, false)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	want := []engine.Event{engine.UnitReport{Address: testUnit, Token: protocol.PresenceNo}}
	if !reflect.DeepEqual(eng.events, want) {
		t.Errorf("events = %#v, want %#v", eng.events, want)
	}

	// Bare tokens are accepted too.
	rec = post(h, "/api/unit/message", testUnit+":41000", "status-ok", false)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("bare token status = %d", rec.Code)
	}
	if len(eng.events) != 2 {
		t.Errorf("got %d events, want 2", len(eng.events))
	}
}

func TestUnitMessageRejectsUnknownPeer(t *testing.T) {
	h, eng := newTestServer(t)

	rec := post(h, "/api/unit/message", "198.51.100.7:41000", "status-ok", false)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if len(eng.events) != 0 {
		t.Errorf("unexpected events %#v", eng.events)
	}
}

func TestUnitMessageUnknownToken(t *testing.T) {
	h, eng := newTestServer(t)

	rec := post(h, "/api/unit/message", testUnit+":41000", "reboot", false)
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
	if len(eng.events) != 0 {
		t.Errorf("unknown token produced events %#v", eng.events)
	}
}

func TestExternalMessage(t *testing.T) {
	h, eng := newTestServer(t)

	if rec := post(h, "/api/external", "127.0.0.1:5000", `{"text":"MIC_ACTIVE_03"}`, false); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}

	rec := post(h, "/api/external", "127.0.0.1:5000", `{"text":"MIC_ACTIVE_03"}`, true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	want := []engine.Event{engine.ExternalMic{Mic: 903}}
	if !reflect.DeepEqual(eng.events, want) {
		t.Errorf("events = %#v, want %#v", eng.events, want)
	}

	wrapped := []struct {
		text string
		want engine.Event
	}{
		{`{\"App\":\"Crestron\",\"Source\":{},\"Type\":\"Command\",\"Value\":\"MIC_ACTIVE_01\"}`, engine.ExternalMic{Mic: 901}},
		{`{\"App\":\"Crestron\",\"Type\":\"Command\",\"Value\":\"EXEC_SW_MACRO_DISABLE\"}`, engine.SwitchingControl{Enabled: false}},
	}
	for _, tt := range wrapped {
		eng.events = nil
		rec := post(h, "/api/external", "127.0.0.1:5000", `{"text":"`+tt.text+`"}`, true)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("wrapped %s: status = %d, body %s", tt.text, rec.Code, rec.Body)
		}
		if want := []engine.Event{tt.want}; !reflect.DeepEqual(eng.events, want) {
			t.Errorf("wrapped %s: events = %#v, want %#v", tt.text, eng.events, want)
		}
	}

	if rec := post(h, "/api/external", "127.0.0.1:5000", `{"text":"HELLO"}`, true); rec.Code != http.StatusBadRequest {
		t.Errorf("unrecognized status = %d, want 400", rec.Code)
	}
	if rec := post(h, "/api/external", "127.0.0.1:5000", `{}`, true); rec.Code != http.StatusBadRequest {
		t.Errorf("empty status = %d, want 400", rec.Code)
	}
}

func TestStatusRequiresAuth(t *testing.T) {
	h, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	req.SetBasicAuth(config.DefaultWebUsername, config.DefaultWebPassword)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"type":"status"`) {
		t.Errorf("body %s lacks status type", rec.Body)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}

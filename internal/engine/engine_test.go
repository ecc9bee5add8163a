package engine

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-camswitch/internal/config"
	"github.com/oszuidwest/zwfm-camswitch/internal/protocol"
	"github.com/oszuidwest/zwfm-camswitch/internal/timer"
	"github.com/oszuidwest/zwfm-camswitch/internal/types"
)

type sourceCall struct {
	connectors []int
	layout     types.Layout
}

type fakeDevice struct {
	mu       sync.Mutex
	sources  []sourceCall
	presets  []int
	widgets  map[string]string
	stale    map[string]bool
	frames   []bool
	ptrack   []bool
	selfview []bool
	meters   int

	presetCamera    map[int]int
	cameraConnector map[int]int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		widgets:         make(map[string]string),
		stale:           make(map[string]bool),
		presetCamera:    map[int]int{11: 1, 12: 2},
		cameraConnector: map[int]int{1: 5, 2: 6},
	}
}

func (f *fakeDevice) SetMainVideoSource(_ context.Context, connectors []int, layout types.Layout) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, sourceCall{slices.Clone(connectors), layout})
	return nil
}

func (f *fakeDevice) ActivatePreset(_ context.Context, presetID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presets = append(f.presets, presetID)
	return nil
}

func (f *fakeDevice) PresetCamera(_ context.Context, presetID int) (int, error) {
	cam, ok := f.presetCamera[presetID]
	if !ok {
		return 0, errors.New("no such preset")
	}
	return cam, nil
}

func (f *fakeDevice) CameraConnectors(context.Context) (map[int]int, error) {
	return f.cameraConnector, nil
}

func (f *fakeDevice) SetSpeakerTrackBackground(context.Context, bool) error { return nil }

func (f *fakeDevice) SetPresenterTrack(_ context.Context, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ptrack = append(f.ptrack, on)
	return nil
}

func (f *fakeDevice) SetSelfview(_ context.Context, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selfview = append(f.selfview, on)
	return nil
}

func (f *fakeDevice) SetFrames(_ context.Context, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, on)
	return nil
}

func (f *fakeDevice) SetWidgetValue(_ context.Context, id, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stale[id] {
		return types.ErrStaleWidget
	}
	f.widgets[id] = value
	return nil
}

func (f *fakeDevice) StartLevelMeters(context.Context, []int, []int, []int, time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meters++
	return nil
}

func (f *fakeDevice) StopLevelMeters(context.Context) error { return nil }

// count returns how many times connectors were put on air.
func (f *fakeDevice) count(connectors ...int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sources {
		if slices.Equal(s.connectors, connectors) {
			n++
		}
	}
	return n
}

func (f *fakeDevice) last() sourceCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sources) == 0 {
		return sourceCall{}
	}
	return f.sources[len(f.sources)-1]
}

func (f *fakeDevice) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sources)
}

type fakeUnits struct {
	mu     sync.Mutex
	tokens []protocol.Token
	probes int
	empty  map[string]bool
}

func (f *fakeUnits) Broadcast(token protocol.Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	return nil
}

func (f *fakeUnits) Probe() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	return nil
}

func (f *fakeUnits) HandleReport(string, protocol.Token) bool { return true }

func (f *fakeUnits) HasPeople(address string) bool { return !f.empty[address] }

func (f *fakeUnits) sent(token protocol.Token) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Contains(f.tokens, token)
}

func testSnapshot() *config.Snapshot {
	return &config.Snapshot{
		Microphones: config.MicrophonesConfig{
			Analog:   []int{1, 2, 3},
			External: []int{901},
		},
		Compositions: []config.Composition{
			{Name: "Left", Source: types.SourceMain, Mics: []int{1}, Connectors: []int{1}, Layout: types.LayoutEqual},
			{Name: "Right", Source: types.SourceMain, Mics: []int{2}, Connectors: []int{2}, Layout: types.LayoutEqual},
			{Name: "Stage", Source: types.SourceMain, Mics: []int{3}, Zone: "stage"},
			{Name: "Lectern", Source: types.SourceMain, Mics: []int{901}, Connectors: []int{4}, Layout: types.LayoutEqual},
			{Name: "Overview", Source: types.SourceNone, Mics: []int{0}, Connectors: []int{1, 2}, Layout: types.LayoutEqual},
		},
		Zones:         []config.Zone{{Name: "stage", Primary: 11, Secondary: 12}},
		LowThreshold:  6,
		HighThreshold: 25,
		TopSpeakers:   config.TopSpeakersConfig{MaxSpeakers: 2, DefaultConnectors: []int{2, 1}, Layout: types.LayoutEqual},
		Presenter:     config.PresenterConfig{Connector: 9, AudienceMics: []int{1}, QALayout: types.LayoutPIP},

		SideBySide:   10 * time.Second,
		NewSpeaker:   2 * time.Second,
		InitialCall:  15 * time.Second,
		Settle:       500 * time.Millisecond,
		QAHold:       7 * time.Second,
		MuteOverview: 2 * time.Second,
		WakeProbe:    2 * time.Second,
	}
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	e     *Engine
	dev   *fakeDevice
	units *fakeUnits
	sched *timer.ManualScheduler
}

func newHarness(t *testing.T, mutate func(*config.Snapshot)) *harness {
	t.Helper()
	snap := testSnapshot()
	if mutate != nil {
		mutate(snap)
	}
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		dev:   newFakeDevice(),
		units: &fakeUnits{empty: make(map[string]bool)},
		sched: timer.NewManualScheduler(),
	}
	h.e = New(snap, h.dev, h.units, WithScheduler(h.sched))
	if err := h.e.Prepare(h.ctx); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	return h
}

func (h *harness) automatic() {
	h.t.Helper()
	h.e.Handle(h.ctx, WidgetEvent{WidgetID: widgetOverride, Value: "on"})
	if h.e.Snapshot().Mode != types.ModeAutomatic {
		h.t.Fatal("automation did not start")
	}
}

// level feeds n identical samples for mic.
func (h *harness) level(mic, level, n int) {
	for range n {
		h.e.Handle(h.ctx, LevelSample{Mic: mic, Level: level})
	}
}

// advance moves the clock in small steps, handling every timer expiry.
func (h *harness) advance(d time.Duration) {
	const step = 100 * time.Millisecond
	for elapsed := time.Duration(0); elapsed < d; elapsed += step {
		h.sched.Advance(step)
		h.drain()
	}
}

func (h *harness) drain() {
	for {
		select {
		case ev := <-h.e.inbox:
			h.e.Handle(h.ctx, ev)
		default:
			return
		}
	}
}

func TestSwitchThenSingleOverviewRecall(t *testing.T) {
	h := newHarness(t, nil)
	h.automatic()

	h.level(1, 30, 4)
	if got := h.dev.last(); !slices.Equal(got.connectors, []int{1}) || got.layout != types.LayoutEqual {
		t.Fatalf("after speech on mic 1, source = %+v, want [1] Equal", got)
	}

	h.level(1, 2, 4)
	if n := h.dev.count(1, 2); n != 0 {
		t.Fatalf("overview recalled %d times inside the side-by-side window", n)
	}

	h.advance(10 * time.Second)
	if n := h.dev.count(1, 2); n != 1 {
		t.Fatalf("overview recalled %d times after the window, want 1", n)
	}

	for range 5 {
		h.level(1, 2, 4)
		h.advance(5 * time.Second)
	}
	if n := h.dev.count(1, 2); n != 1 {
		t.Errorf("overview recalled %d times during one silence, want 1", n)
	}
	if st := h.e.Snapshot(); st.Selector != types.SelectorSilence || !st.LowRecalled {
		t.Errorf("status = %+v, want silence with low recalled", st)
	}
	if !h.units.sent(protocol.EnterAutomatic) || !h.units.sent(protocol.EnterOverview) {
		t.Errorf("unit tokens = %v, want enter-automatic and enter-overview", h.units.tokens)
	}
}

func TestDeadZoneNeverSwitches(t *testing.T) {
	h := newHarness(t, nil)
	h.automatic()

	for range 10 {
		h.level(1, 15, 4)
		h.level(2, 20, 4)
		h.advance(3 * time.Second)
	}
	if h.dev.count(1) != 0 || h.dev.count(2) != 0 {
		t.Fatalf("switched to a speaker with averages in the dead zone: %v", h.dev.sources)
	}

	h.level(2, 40, 4)
	before := h.dev.total()
	for range 10 {
		h.level(2, 15, 4)
		h.advance(3 * time.Second)
	}
	if n := h.dev.total(); n != before {
		t.Errorf("switched %d times after dropping into the dead zone", n-before)
	}
}

func TestNewSpeakerDebounce(t *testing.T) {
	h := newHarness(t, nil)
	h.automatic()

	h.level(1, 30, 4)
	if h.dev.count(1) != 1 {
		t.Fatal("did not switch to mic 1")
	}

	for range 4 {
		h.level(1, 0, 1)
		h.level(2, 40, 1)
	}
	if n := h.dev.count(2); n != 0 {
		t.Fatalf("switched to the new speaker %d times inside the debounce window", n)
	}

	h.advance(2 * time.Second)
	h.level(2, 40, 1)
	if n := h.dev.count(2); n != 1 {
		t.Fatalf("switched to the new speaker %d times after the window, want 1", n)
	}

	h.level(2, 40, 10)
	if n := h.dev.count(2); n != 1 {
		t.Errorf("same speaker caused %d switches, want 1", n)
	}
}

func TestMultiSpeakerHistoryReuse(t *testing.T) {
	h := newHarness(t, func(s *config.Snapshot) { s.TopSpeakers.Enabled = true })
	h.automatic()

	talk := func() {
		for range 4 {
			h.level(1, 40, 1)
			h.level(2, 40, 1)
		}
		h.advance(2 * time.Second)
		h.level(1, 40, 1)
	}

	talk()
	st := h.e.Snapshot()
	if st.Selector != types.SelectorMulti || st.SetID != 0 {
		t.Fatalf("status = %+v, want multi set 0", st)
	}
	if got := h.dev.last(); !slices.Equal(got.connectors, []int{2, 1}) {
		t.Fatalf("multi source = %v, want default order [2 1]", got.connectors)
	}

	h.level(1, 0, 4)
	h.level(2, 0, 4)
	h.advance(10 * time.Second)
	if h.e.Snapshot().Selector != types.SelectorSilence {
		t.Fatal("overview not recalled between sessions")
	}

	talk()
	st = h.e.Snapshot()
	if st.Selector != types.SelectorMulti || st.SetID != 0 {
		t.Errorf("second occurrence status = %+v, want multi set 0", st)
	}
	if h.e.history.Len() != 1 {
		t.Errorf("history has %d sets, want 1", h.e.history.Len())
	}
}

func TestExternalMic(t *testing.T) {
	h := newHarness(t, nil)
	h.automatic()

	h.e.Handle(h.ctx, ExternalMic{Mic: 901})
	if got := h.dev.last(); !slices.Equal(got.connectors, []int{4}) {
		t.Fatalf("source = %v, want [4]", got.connectors)
	}

	h.e.Handle(h.ctx, ExternalMic{Mic: 0})
	if h.dev.count(1, 2) != 0 {
		t.Fatal("overview recalled before the side-by-side window elapsed")
	}
	h.advance(10 * time.Second)
	if n := h.dev.count(1, 2); n != 1 {
		t.Errorf("overview recalled %d times after external silence, want 1", n)
	}
}

func TestZoneSettleDelay(t *testing.T) {
	h := newHarness(t, nil)
	h.automatic()

	h.level(3, 50, 4)
	if !slices.Equal(h.dev.presets, []int{11}) {
		t.Fatalf("presets = %v, want [11]", h.dev.presets)
	}
	if h.dev.total() != 0 {
		t.Fatal("source switched before the settle delay")
	}

	h.advance(500 * time.Millisecond)
	if got := h.dev.last(); !slices.Equal(got.connectors, []int{5}) {
		t.Fatalf("source after settle = %v, want [5]", got.connectors)
	}

	h.level(3, 50, 4)
	if len(h.dev.presets) != 1 {
		t.Errorf("same zone recalled again: presets = %v", h.dev.presets)
	}
}

func TestOverviewPresenceAndPreset(t *testing.T) {
	h := newHarness(t, func(s *config.Snapshot) {
		s.Overview.RemoveEmptySegments = true
		s.OverviewPreset = 30
		s.Compositions = append(s.Compositions, config.Composition{
			Name: "Annex", Source: types.SourceAux, UnitAddress: "10.0.0.2", Mics: []int{2}, Connectors: []int{7},
		})
		s.Compositions[4].Connectors = []int{1, 7}
	})
	h.units.empty["10.0.0.2"] = true
	h.automatic()

	h.level(1, 30, 4)
	h.level(1, 0, 4)
	h.advance(10 * time.Second)
	if h.dev.count(1) != 1 {
		t.Fatal("overview switched before the settle delay")
	}
	h.advance(time.Second)

	if !slices.Contains(h.dev.presets, 30) {
		t.Errorf("presets = %v, want overview preset 30", h.dev.presets)
	}
	if got := h.dev.last(); !slices.Equal(got.connectors, []int{1}) {
		t.Errorf("overview without people in the annex = %v, want [1]", got.connectors)
	}

	h.units.empty["10.0.0.2"] = false
	h.e.Handle(h.ctx, WidgetEvent{WidgetID: widgetPermanentOv, Value: "on"})
	h.advance(time.Second)
	if got := h.dev.last(); !slices.Equal(got.connectors, []int{1, 7}) {
		t.Errorf("overview with people = %v, want [1 7]", got.connectors)
	}
}

func TestPermanentOverview(t *testing.T) {
	h := newHarness(t, nil)
	h.automatic()

	h.e.Handle(h.ctx, WidgetEvent{WidgetID: widgetPermanentOv, Value: "on"})
	if h.dev.count(1, 2) != 1 {
		t.Fatal("overview not recalled when permanent overview was enabled")
	}

	h.level(1, 40, 4)
	h.level(2, 40, 4)
	if h.dev.count(1) != 0 || h.dev.count(2) != 0 {
		t.Errorf("switched to a speaker with permanent overview on: %v", h.dev.sources)
	}
}

func TestCallLifecycle(t *testing.T) {
	h := newHarness(t, nil)

	h.e.Handle(h.ctx, CallConnected{})
	st := h.e.Snapshot()
	if st.Mode != types.ModeAutomatic || st.AllowCameraSwitching || !st.CallActive {
		t.Fatalf("status after call = %+v", st)
	}
	if h.dev.count(1, 2) != 1 {
		t.Fatal("overview not shown at call start")
	}

	h.level(1, 40, 4)
	if h.dev.count(1) != 0 {
		t.Fatal("switched during initial call suppression")
	}

	h.advance(15 * time.Second)
	h.level(1, 40, 4)
	if h.dev.count(1) != 1 {
		t.Fatal("did not switch after initial call suppression")
	}

	h.e.Handle(h.ctx, CallDisconnected{})
	st = h.e.Snapshot()
	if st.Mode != types.ModeManual || st.CallActive {
		t.Errorf("status after hang up = %+v", st)
	}
	if len(h.dev.selfview) == 0 || h.dev.selfview[len(h.dev.selfview)-1] {
		t.Errorf("selfview calls = %v, want off", h.dev.selfview)
	}
}

func TestTempDisableIgnoresCall(t *testing.T) {
	h := newHarness(t, nil)
	h.e.Handle(h.ctx, SwitchingControl{Enabled: false})
	h.e.Handle(h.ctx, CallConnected{})
	if h.e.Snapshot().Mode != types.ModeManual {
		t.Fatal("automation started while temporarily disabled")
	}
	h.e.Handle(h.ctx, SwitchingControl{Enabled: true})
	h.e.Handle(h.ctx, CallConnected{})
	if h.e.Snapshot().Mode != types.ModeAutomatic {
		t.Fatal("automation not started after enable")
	}
}

func TestMuteRecallsOverview(t *testing.T) {
	h := newHarness(t, nil)
	h.automatic()
	h.level(1, 40, 4)

	h.e.Handle(h.ctx, MuteChanged{Muted: true})
	h.level(2, 40, 4)
	if h.dev.count(2) != 0 {
		t.Fatal("switched while muted")
	}
	h.advance(2 * time.Second)
	if h.dev.count(1, 2) != 1 {
		t.Fatal("overview not recalled after mute delay")
	}

	h.e.Handle(h.ctx, MuteChanged{Muted: false})
	h.level(2, 40, 4)
	if h.dev.count(2) != 1 {
		t.Error("did not resume switching after unmute")
	}
}

func TestStandbyWakeProbesUnits(t *testing.T) {
	h := newHarness(t, nil)

	h.e.Handle(h.ctx, StandbyChanged{Standby: false})
	if !h.units.sent(protocol.Wake) {
		t.Fatal("wake not broadcast")
	}
	h.advance(2 * time.Second)
	if h.units.probes != 1 {
		t.Fatalf("probes = %d, want 1", h.units.probes)
	}

	h.e.Handle(h.ctx, StandbyChanged{Standby: true})
	if !h.units.sent(protocol.Shutdown) {
		t.Error("shutdown not broadcast")
	}
}

func TestPresenterQA(t *testing.T) {
	h := newHarness(t, func(s *config.Snapshot) { s.Presenter.AllowQA = true })
	h.automatic()

	h.e.Handle(h.ctx, WidgetEvent{WidgetID: widgetPresenter, Value: presenterValueQA})
	if got := h.dev.last(); !slices.Equal(got.connectors, []int{9}) {
		t.Fatalf("presenter view = %v, want [9]", got.connectors)
	}
	h.e.Handle(h.ctx, PresenterStatus{Tracking: true})
	h.e.Handle(h.ctx, PresenterDetected{Detected: true})

	h.level(1, 40, 4)
	if got := h.dev.last(); !slices.Equal(got.connectors, []int{9, 1}) || got.layout != types.LayoutPIP {
		t.Fatalf("Q&A composition = %+v, want [9 1] PIP", got)
	}

	h.advance(7 * time.Second)
	if got := h.dev.last(); !slices.Equal(got.connectors, []int{9, 1}) {
		t.Fatalf("reverted while the audience member spoke last: %v", got.connectors)
	}

	h.level(1, 0, 4)
	h.advance(2 * time.Second)
	h.level(2, 40, 4)
	if h.dev.count(2) != 0 {
		t.Fatal("presenter view replaced by a non-audience speaker")
	}
	h.advance(7 * time.Second)
	if got := h.dev.last(); !slices.Equal(got.connectors, []int{9}) {
		t.Errorf("after hold expiry source = %v, want presenter [9]", got.connectors)
	}

	h.level(2, 0, 4)
	h.advance(20 * time.Second)
	if h.dev.count(1, 2) != 0 {
		t.Error("overview recalled while presenter tracking")
	}
}

func TestPresenterOnlyDebouncesSpeakers(t *testing.T) {
	h := newHarness(t, nil)
	h.automatic()
	h.e.Handle(h.ctx, WidgetEvent{WidgetID: widgetPresenter, Value: presenterValueOn})
	h.e.Handle(h.ctx, PresenterStatus{Tracking: true})
	h.e.Handle(h.ctx, PresenterDetected{Detected: true})
	h.units.tokens = nil

	h.level(2, 40, 4)
	if h.e.state.Last != Single(2) {
		t.Fatalf("last = %+v, want mic 2", h.e.state.Last)
	}
	if !h.units.sent(protocol.EnterAutomatic) {
		t.Errorf("unit tokens = %v, want enter-automatic", h.units.tokens)
	}
	if !h.e.timers.Running(timer.NewSpeaker) {
		t.Fatal("new speaker timer not restarted")
	}

	h.level(2, 0, 4)
	h.level(1, 40, 4)
	if h.e.state.Last != Single(2) {
		t.Errorf("speaker change inside the new speaker window: last = %+v", h.e.state.Last)
	}
	if got := h.dev.last(); !slices.Equal(got.connectors, []int{9}) {
		t.Errorf("source = %v, want presenter [9]", got.connectors)
	}
}

func TestConfigErrorBlocksAutomation(t *testing.T) {
	h := newHarness(t, nil)
	h.e.Disable(errors.New("invalid configuration"))
	h.e.Handle(h.ctx, WidgetEvent{WidgetID: widgetOverride, Value: "on"})
	st := h.e.Snapshot()
	if st.Mode != types.ModeManual || st.ConfigError == "" {
		t.Errorf("status = %+v, want manual with config error", st)
	}
}

func TestPrepareRejectsUnmappedZone(t *testing.T) {
	snap := testSnapshot()
	snap.Zones[0].Secondary = 13
	e := New(snap, newFakeDevice(), &fakeUnits{}, WithScheduler(timer.NewManualScheduler()))
	var verr *types.ValidationError
	if err := e.Prepare(context.Background()); !errors.As(err, &verr) {
		t.Fatalf("Prepare() error = %v, want ValidationError", err)
	}
}

func TestSyncWidgetsSkipsStale(t *testing.T) {
	h := newHarness(t, nil)
	h.automatic()
	h.dev.stale[widgetPresenter] = true

	if err := h.e.SyncWidgets(h.ctx); err != nil {
		t.Fatalf("SyncWidgets() error = %v", err)
	}
	if h.dev.widgets[widgetOverride] != "on" || h.dev.widgets[widgetOverview] != "1" {
		t.Errorf("widgets = %v", h.dev.widgets)
	}
}

func TestOverviewSelection(t *testing.T) {
	var persisted string
	snap := testSnapshot()
	snap.Compositions = append(snap.Compositions, config.Composition{
		Name: "Wide", Source: types.SourceNone, Mics: []int{0}, Connectors: []int{3}, Layout: types.LayoutEqual,
	})
	dev := newFakeDevice()
	e := New(snap, dev, &fakeUnits{}, WithScheduler(timer.NewManualScheduler()),
		WithOverviewSelected(func(name string) { persisted = name }))
	ctx := context.Background()

	e.Handle(ctx, WidgetEvent{WidgetID: widgetOverview, Value: "2"})
	if persisted != "Wide" || e.Snapshot().SelectedOverview != "Wide" {
		t.Fatalf("selected = %q / %q, want Wide", persisted, e.Snapshot().SelectedOverview)
	}
	e.Handle(ctx, WidgetEvent{WidgetID: widgetOverview, Value: "5"})
	if e.Snapshot().SelectedOverview != "Wide" {
		t.Error("out of range selection changed the overview")
	}
}

func TestForceFramesBroadcast(t *testing.T) {
	h := newHarness(t, nil)
	h.e.Handle(h.ctx, WidgetEvent{WidgetID: widgetForceFrames, Value: "on"})
	if !h.units.sent(protocol.FramesOn) || len(h.dev.frames) != 1 || !h.dev.frames[0] {
		t.Fatalf("frames on not applied: tokens %v frames %v", h.units.tokens, h.dev.frames)
	}
	h.e.Handle(h.ctx, FramesChanged{Active: false})
	if !h.units.sent(protocol.FramesOff) || h.e.Snapshot().ForceFrames {
		t.Error("manual frames change not mirrored to units")
	}
}

func TestPostBounded(t *testing.T) {
	e := New(testSnapshot(), newFakeDevice(), &fakeUnits{}, WithInboxSize(1), WithScheduler(timer.NewManualScheduler()))
	if err := e.Post(CallConnected{}); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if err := e.Post(CallConnected{}); !errors.Is(err, ErrInboxFull) {
		t.Fatalf("Post() on full inbox error = %v, want ErrInboxFull", err)
	}
}

func TestRunProcessesEvents(t *testing.T) {
	e := New(testSnapshot(), newFakeDevice(), &fakeUnits{}, WithScheduler(timer.NewManualScheduler()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	if err := e.Post(CallConnected{}); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for e.Snapshot().Mode != types.ModeAutomatic {
		if time.Now().After(deadline) {
			t.Fatal("event not processed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type fakeAlerter struct {
	raised  []error
	cleared []string
}

func (a *fakeAlerter) RaiseError(err error) { a.raised = append(a.raised, err) }

func (a *fakeAlerter) Clear(key, _ string) bool {
	a.cleared = append(a.cleared, key)
	return true
}

func TestDeviceConnectedReverifiesZones(t *testing.T) {
	alerts := &fakeAlerter{}
	dev := newFakeDevice()
	e := New(testSnapshot(), dev, &fakeUnits{empty: make(map[string]bool)},
		WithScheduler(timer.NewManualScheduler()), WithAlerter(alerts))
	ctx := context.Background()

	delete(dev.presetCamera, 12)
	e.Handle(ctx, DeviceConnected{})
	st := e.Snapshot()
	if st.ConfigError == "" {
		t.Fatal("unresolvable zone preset did not disable automation")
	}
	var verr *types.ValidationError
	if len(alerts.raised) != 1 || !errors.As(alerts.raised[0], &verr) {
		t.Fatalf("raised = %v, want one ValidationError", alerts.raised)
	}
	if dev.widgets[widgetOverride] != "off" {
		t.Errorf("override widget = %q, want synced to off", dev.widgets[widgetOverride])
	}

	dev.presetCamera[12] = 2
	e.Handle(ctx, DeviceConnected{})
	if st := e.Snapshot(); st.ConfigError != "" {
		t.Errorf("config error = %q after zones verify again", st.ConfigError)
	}
	if !slices.Contains(alerts.cleared, alertKeyConfig) {
		t.Errorf("cleared = %v, want config alert cleared", alerts.cleared)
	}
	e.Handle(ctx, WidgetEvent{WidgetID: widgetOverride, Value: "on"})
	if e.Snapshot().Mode != types.ModeAutomatic {
		t.Error("automation did not start after recovery")
	}
}

func TestLoadErrorStaysAfterConnect(t *testing.T) {
	alerts := &fakeAlerter{}
	e := New(testSnapshot(), newFakeDevice(), &fakeUnits{empty: make(map[string]bool)},
		WithScheduler(timer.NewManualScheduler()), WithAlerter(alerts))
	e.Disable(errors.New("invalid configuration"))
	e.Handle(context.Background(), DeviceConnected{})
	if e.Snapshot().ConfigError == "" {
		t.Error("successful connect cleared a configuration load error")
	}
	if len(alerts.raised) != 1 {
		t.Errorf("raised = %v, want the load error only", alerts.raised)
	}
}

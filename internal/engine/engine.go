// Package engine implements the speaker decision engine: it turns
// microphone levels and room events into camera switching decisions.
//
// All engine state is owned by a single goroutine running Run. Other
// goroutines interact with the engine only through Post and Snapshot.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-camswitch/internal/audio"
	"github.com/oszuidwest/zwfm-camswitch/internal/composition"
	"github.com/oszuidwest/zwfm-camswitch/internal/config"
	"github.com/oszuidwest/zwfm-camswitch/internal/eventlog"
	"github.com/oszuidwest/zwfm-camswitch/internal/presenter"
	"github.com/oszuidwest/zwfm-camswitch/internal/protocol"
	"github.com/oszuidwest/zwfm-camswitch/internal/timer"
	"github.com/oszuidwest/zwfm-camswitch/internal/types"
	"github.com/oszuidwest/zwfm-camswitch/internal/zone"
)

// ErrInboxFull is returned by Post when the event inbox is full.
var ErrInboxFull = errors.New("engine inbox full")

// DefaultInboxSize bounds the number of queued events.
const DefaultInboxSize = 256

// Device is the subset of the video device API used by the engine.
type Device interface {
	SetMainVideoSource(ctx context.Context, connectors []int, layout types.Layout) error
	ActivatePreset(ctx context.Context, presetID int) error
	PresetCamera(ctx context.Context, presetID int) (int, error)
	CameraConnectors(ctx context.Context) (map[int]int, error)
	SetSpeakerTrackBackground(ctx context.Context, on bool) error
	SetPresenterTrack(ctx context.Context, on bool) error
	SetSelfview(ctx context.Context, on bool) error
	SetFrames(ctx context.Context, on bool) error
	SetWidgetValue(ctx context.Context, widgetID, value string) error
	StartLevelMeters(ctx context.Context, analog, ethernet, usb []int, interval time.Duration) error
	StopLevelMeters(ctx context.Context) error
}

// Units is the subset of the unit coordinator used by the engine.
type Units interface {
	Broadcast(token protocol.Token) error
	Probe() error
	HandleReport(address string, token protocol.Token) bool
	HasPeople(address string) bool
}

// Recorder receives decision log entries.
type Recorder interface {
	LogSwitch(eventType eventlog.EventType, details *eventlog.SwitchDetails) error
	LogError(eventType eventlog.EventType, operation, address string, err error) error
	LogMessage(eventType eventlog.EventType, message string) error
}

// Alerter receives operator alerts.
type Alerter interface {
	RaiseError(err error)
	Clear(key, text string) bool
}

// State is the mutable decision state. It is reset when automation stops.
type State struct {
	Mode                 types.Mode
	CallActive           bool
	Last                 Selector
	LowRecalled          bool
	PermanentOverview    bool
	AllowSideBySide      bool
	AllowNewSpeaker      bool
	AllowCameraSwitching bool
	PresenterTracking    bool
	PresenterDetected    bool
	ForceFrames          bool
	TempDisabled         bool
	Muted                bool
	Selfview             bool
	SelectedOverview     string
	Connectors           []int
}

// settings are the switching parameters read from configuration.
type settings struct {
	low, high           float64
	topSpeakers         bool
	maxSpeakers         int
	removeEmptySegments bool
	overviewPreset      int
	localConnector      int
	allowQA             bool
	qaLayout            types.Layout
	levelInterval       time.Duration
	mics                config.MicrophonesConfig
}

// Option configures an Engine.
type Option func(*Engine)

// WithScheduler replaces the wall-clock timer scheduler.
func WithScheduler(s timer.Scheduler) Option {
	return func(e *Engine) { e.scheduler = s }
}

// WithRecorder sets the decision log.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.rec = r
		}
	}
}

// WithAlerter sets the operator alert sink.
func WithAlerter(a Alerter) Option {
	return func(e *Engine) {
		if a != nil {
			e.alerts = a
		}
	}
}

// WithInboxSize sets the event inbox bound.
func WithInboxSize(n int) Option {
	return func(e *Engine) { e.inboxSize = n }
}

// WithOverviewSelected registers a callback for overview selection changes
// made from the panel.
func WithOverviewSelected(fn func(name string)) Option {
	return func(e *Engine) { e.onOverview = fn }
}

// Engine is the speaker decision engine.
type Engine struct {
	dev      Device
	units    Units
	rec      Recorder
	alerts   Alerter
	levels   *audio.Monitor
	timers   *timer.Service
	resolver *composition.Resolver
	zones    *zone.Tracker
	overlay  *presenter.Overlay
	history  composition.History
	cfg      settings

	scheduler  timer.Scheduler
	inboxSize  int
	onOverview func(string)
	inbox      chan Event
	done       chan struct{}
	stopOnce   sync.Once

	state        State
	pending      *composition.Target // waiting for the settle delay
	lastAverage  float64
	lastHadInput bool
	localPeople  bool
	configErr    error
	zoneErr      bool // configErr came from zone verification

	mu     sync.RWMutex
	status types.EngineStatus
}

// New creates an engine from a configuration snapshot.
func New(snap *config.Snapshot, dev Device, units Units, opts ...Option) *Engine {
	e := &Engine{
		dev:       dev,
		units:     units,
		rec:       nopRecorder{},
		alerts:    nopAlerter{},
		levels:    audio.NewMonitor(),
		inboxSize: DefaultInboxSize,
		done:      make(chan struct{}),
		cfg: settings{
			low:                 float64(snap.LowThreshold),
			high:                float64(snap.HighThreshold),
			topSpeakers:         snap.TopSpeakers.Enabled,
			maxSpeakers:         snap.TopSpeakers.MaxSpeakers,
			removeEmptySegments: snap.Overview.RemoveEmptySegments,
			overviewPreset:      snap.OverviewPreset,
			localConnector:      snap.LocalConnector,
			allowQA:             snap.Presenter.AllowQA,
			qaLayout:            snap.Presenter.QALayout,
			levelInterval:       types.DefaultLevelInterval,
			mics:                snap.Microphones,
		},
		localPeople: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.inbox = make(chan Event, e.inboxSize)

	comps := make([]composition.Composition, 0, len(snap.Compositions))
	for _, c := range snap.Compositions {
		comps = append(comps, composition.FromConfig(c))
	}
	e.resolver = composition.NewResolver(comps, snap.TopSpeakers.Layout, snap.TopSpeakers.DefaultConnectors)

	zones := make([]zone.Zone, 0, len(snap.Zones))
	for _, z := range snap.Zones {
		zones = append(zones, zone.Zone{Name: z.Name, Primary: z.Primary, Secondary: z.Secondary})
	}
	e.zones = zone.NewTracker(zones, dev)
	e.overlay = presenter.New(snap.Presenter.AudienceMics, snap.Presenter.Connector)
	e.levels.Configure(snap.Microphones.Analog, snap.Microphones.Ethernet, snap.Microphones.USB)

	timerOpts := []timer.Option{}
	if e.scheduler != nil {
		timerOpts = append(timerOpts, timer.WithScheduler(e.scheduler))
	}
	e.timers = timer.New(map[timer.Name]time.Duration{
		timer.SideBySide:   snap.SideBySide,
		timer.NewSpeaker:   snap.NewSpeaker,
		timer.InitialCall:  snap.InitialCall,
		timer.SourceSwitch: snap.Settle,
		timer.QAHold:       snap.QAHold,
		timer.MuteOverview: snap.MuteOverview,
		timer.WakeProbe:    snap.WakeProbe,
	}, e.fire, timerOpts...)

	e.state = initialState()
	e.state.SelectedOverview = e.selectedOverview(snap.Overview.Selected)
	e.publish()
	return e
}

func initialState() State {
	return State{
		Mode:            types.ModeManual,
		AllowSideBySide: true,
		AllowNewSpeaker: true,
	}
}

func (e *Engine) selectedOverview(name string) string {
	if c, ok := e.resolver.Overview(name); ok {
		return c.Name
	}
	return ""
}

// Prepare reads the camera to connector map from the device, maps zone
// microphones to connectors and verifies every zone preset. A returned
// *types.ValidationError means automation must stay disabled.
func (e *Engine) Prepare(ctx context.Context) error {
	cameras, err := e.dev.CameraConnectors(ctx)
	if err != nil {
		return &types.DeviceCommandError{Command: "Cameras Camera get", Err: err}
	}
	e.zones.Prepare(cameras)

	if verr := e.zones.Verify(ctx); verr.HasErrors() {
		return verr
	}
	if err := e.resolver.Prepare(ctx, e.zones); err != nil {
		return err
	}
	return nil
}

// Disable records a configuration error. Automation cannot be started
// while it is set. It must be called before Run or from the goroutine
// that owns the engine.
func (e *Engine) Disable(err error) {
	e.configErr = err
	e.alerts.RaiseError(err)
	e.publish()
}

// handleConnected prepares the engine for a fresh device session. A
// validation failure disables automation; other failures are reported and
// leave the previous mapping in place.
func (e *Engine) handleConnected(ctx context.Context) {
	err := e.Prepare(ctx)
	var verr *types.ValidationError
	switch {
	case errors.As(err, &verr):
		slog.Error("zone verification failed, automation disabled", "error", err)
		if e.state.Mode == types.ModeAutomatic {
			e.StopAutomation(ctx)
		}
		e.logMessage(eventlog.ConfigError, err.Error())
		e.Disable(verr)
		e.zoneErr = true
	case err != nil:
		e.deviceErr("Cameras Camera get", err)
	default:
		e.alerts.Clear(alertKeyDevice, "device connection restored")
		if e.zoneErr {
			e.zoneErr = false
			e.configErr = nil
			e.alerts.Clear(alertKeyConfig, "zone presets verified")
		}
	}
	e.publish()
	if err := e.SyncWidgets(ctx); err != nil {
		slog.Warn("widget sync failed", "error", err)
	}
}

// Overviews returns the names of the selectable overview compositions.
func (e *Engine) Overviews() []string {
	return e.resolver.OverviewNames()
}

// Post queues an event without blocking.
func (e *Engine) Post(ev Event) error {
	select {
	case e.inbox <- ev:
		return nil
	default:
		return ErrInboxFull
	}
}

// HandleWidget queues a panel widget action.
func (e *Engine) HandleWidget(w WidgetEvent) error {
	return e.Post(w)
}

// fire delivers timer expiries to the loop. It blocks until the loop takes
// the event so expiries are never dropped.
func (e *Engine) fire(x timer.Expiry) {
	select {
	case e.inbox <- TimerFired{Expiry: x}:
	case <-e.done:
	}
}

// Run processes events until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	defer e.stopOnce.Do(func() {
		close(e.done)
		e.timers.StopAll()
	})

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.inbox:
			e.dispatch(ctx, ev)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("engine handler panic", "event", slog.AnyValue(ev), "panic", r)
		}
	}()
	e.Handle(ctx, ev)
}

// Handle runs one event to completion. It must only be called from the
// goroutine that owns the engine.
func (e *Engine) Handle(ctx context.Context, ev Event) {
	switch ev := ev.(type) {
	case LevelSample:
		e.levels.Ingest(ev.Mic, ev.Level)
		if e.switching() {
			e.evaluate(ctx)
		}
	case ExternalMic:
		e.handleExternal(ctx, ev.Mic)
	case SwitchingControl:
		e.state.TempDisabled = !ev.Enabled
		slog.Info("switching control received", "enabled", ev.Enabled)
	case TimerFired:
		e.handleTimer(ctx, ev.Expiry)
	case WidgetEvent:
		e.handleWidget(ctx, ev)
	case UnitReport:
		if e.units.HandleReport(ev.Address, ev.Token) {
			slog.Info("unit status changed", "address", ev.Address, "token", ev.Token)
		}
	case CallConnected:
		e.handleCallConnected(ctx)
	case CallDisconnected:
		e.state.CallActive = false
		e.deviceErr("Video Selfview Set", e.dev.SetSelfview(ctx, false))
		e.state.Selfview = false
		e.StopAutomation(ctx)
	case MuteChanged:
		e.handleMute(ctx, ev.Muted)
	case StandbyChanged:
		e.handleStandby(ctx, ev.Standby)
	case PresenterStatus:
		e.handlePresenterStatus(ctx, ev.Tracking)
	case PresenterDetected:
		e.handlePresenterDetected(ctx, ev.Detected)
	case PeopleCount:
		e.localPeople = ev.Count != 0
	case DeviceConnected:
		e.handleConnected(ctx)
	case FramesChanged:
		if ev.Active != e.state.ForceFrames {
			e.state.ForceFrames = ev.Active
			e.broadcast(framesToken(ev.Active))
		}
	default:
		slog.Warn("unhandled engine event", "type", slog.AnyValue(ev))
	}
	e.publish()
}

// StartAutomation switches to automatic mode. It must only be called from
// the goroutine that owns the engine.
func (e *Engine) StartAutomation(ctx context.Context) {
	if e.configErr != nil {
		slog.Warn("automation disabled by configuration error", "error", e.configErr)
		return
	}
	e.state.Mode = types.ModeAutomatic
	e.state.AllowCameraSwitching = true

	if e.overlay.Mode() != types.PresenterOff {
		e.deviceErr("Cameras PresenterTrack Set", e.dev.SetPresenterTrack(ctx, false))
		e.overlay.SetMode(types.PresenterOff)
	}
	e.state.PresenterTracking = false
	if e.cfg.localConnector > 0 {
		e.deviceErr("Cameras SpeakerTrack BackgroundMode", e.dev.SetSpeakerTrackBackground(ctx, false))
	}

	e.levels.Reset()
	m := e.cfg.mics
	e.deviceErr("Audio VuMeter Start", e.dev.StartLevelMeters(ctx, m.Analog, m.Ethernet, m.USB, e.cfg.levelInterval))
	e.setWidget(ctx, widgetOverride, onOff(true))

	slog.Info("automation started")
	e.logMessage(eventlog.AutomationStarted, "automation started")
}

// StopAutomation switches to manual mode and resets decision state. It
// must only be called from the goroutine that owns the engine.
func (e *Engine) StopAutomation(ctx context.Context) {
	wasAutomatic := e.state.Mode == types.ModeAutomatic

	for _, name := range []timer.Name{timer.SideBySide, timer.NewSpeaker, timer.InitialCall, timer.SourceSwitch, timer.QAHold, timer.MuteOverview} {
		e.timers.Stop(name)
	}
	e.pending = nil

	e.state.Mode = types.ModeManual
	e.state.Last = Silence
	e.state.LowRecalled = true
	e.state.AllowSideBySide = true
	e.state.AllowNewSpeaker = true
	e.state.AllowCameraSwitching = false
	e.lastAverage = 0
	e.lastHadInput = false

	e.deviceErr("Audio VuMeter StopAll", e.dev.StopLevelMeters(ctx))
	e.levels.Reset()
	e.zones.Reset()
	if e.cfg.localConnector > 0 {
		e.setSource(ctx, []int{e.cfg.localConnector}, "")
	}
	e.setWidget(ctx, widgetOverride, onOff(false))

	if wasAutomatic {
		slog.Info("automation stopped")
		e.logMessage(eventlog.AutomationStopped, "automation stopped")
	}
}

// switching reports whether level changes may move the camera.
func (e *Engine) switching() bool {
	return e.state.Mode == types.ModeAutomatic && e.state.AllowCameraSwitching && !e.state.Muted
}

func (e *Engine) presenterEngaged() bool {
	return e.state.PresenterTracking && e.state.PresenterDetected
}

func (e *Engine) handleCallConnected(ctx context.Context) {
	e.state.CallActive = true
	if e.state.TempDisabled {
		slog.Info("ignoring call, switching temporarily disabled")
		return
	}
	e.StartAutomation(ctx)
	if e.state.Mode != types.ModeAutomatic {
		return
	}
	e.recallOverview(ctx, 0)
	e.timers.Start(timer.InitialCall)
	e.state.AllowCameraSwitching = false
}

func (e *Engine) handleMute(ctx context.Context, muted bool) {
	e.state.Muted = muted
	if muted {
		e.timers.Stop(timer.SideBySide)
		e.timers.Start(timer.MuteOverview)
		e.logMessage(eventlog.SwitchingPaused, "microphones muted")
		return
	}
	e.timers.Stop(timer.MuteOverview)
	if e.cfg.localConnector > 0 && e.state.Mode == types.ModeAutomatic {
		e.deviceErr("Cameras SpeakerTrack BackgroundMode", e.dev.SetSpeakerTrackBackground(ctx, false))
	}
	e.logMessage(eventlog.SwitchingResumed, "microphones unmuted")
}

func (e *Engine) handleStandby(ctx context.Context, standby bool) {
	if standby {
		e.broadcast(protocol.Shutdown)
		return
	}
	e.StopAutomation(ctx)
	e.broadcast(protocol.Wake)
	e.timers.Start(timer.WakeProbe)
}

func (e *Engine) handleTimer(ctx context.Context, x timer.Expiry) {
	if !e.timers.Expire(x) {
		return
	}
	switch x.Name {
	case timer.SideBySide:
		e.state.AllowSideBySide = true
		if e.switching() && e.lastHadInput && e.lastAverage < e.cfg.low && !e.state.LowRecalled {
			e.recallOverview(ctx, e.lastAverage)
		}
	case timer.NewSpeaker:
		e.state.AllowNewSpeaker = true
	case timer.InitialCall:
		if e.state.Mode == types.ModeAutomatic {
			e.state.AllowCameraSwitching = true
			if !e.state.PresenterTracking && e.cfg.localConnector > 0 {
				e.deviceErr("Cameras SpeakerTrack BackgroundMode", e.dev.SetSpeakerTrackBackground(ctx, false))
			}
		}
	case timer.SourceSwitch:
		if t := e.pending; t != nil {
			e.pending = nil
			e.setSource(ctx, t.Connectors, t.Layout)
		}
	case timer.QAHold:
		if e.presenterEngaged() && e.overlay.Expire() {
			e.setSource(ctx, e.overlay.PresenterView(), "")
			e.logSwitch(eventlog.PresenterRevert, Silence, 0, "presenter", nil)
		}
	case timer.MuteOverview:
		if e.state.Muted && e.state.Mode == types.ModeAutomatic {
			e.recallOverview(ctx, 0)
		}
	case timer.WakeProbe:
		if err := e.units.Probe(); err != nil {
			slog.Warn("unit probe not queued", "error", err)
		}
	}
}

func (e *Engine) handlePresenterStatus(ctx context.Context, tracking bool) {
	if !tracking {
		e.state.PresenterTracking = false
		e.overlay.Reset()
		e.timers.Stop(timer.QAHold)
		return
	}
	if e.state.Mode != types.ModeAutomatic {
		return
	}
	e.state.PresenterTracking = true
	if e.state.AllowSideBySide {
		e.state.AllowSideBySide = false
		e.setSource(ctx, e.overlay.PresenterView(), "")
	}
}

func (e *Engine) handlePresenterDetected(ctx context.Context, detected bool) {
	e.state.PresenterDetected = detected
	if detected {
		if e.state.PresenterTracking {
			e.setSource(ctx, e.overlay.PresenterView(), "")
		}
		return
	}
	e.overlay.Reset()
	e.timers.Stop(timer.QAHold)
	e.state.Last = Silence
}

// Snapshot returns the last published engine status. It is safe to call
// from any goroutine.
func (e *Engine) Snapshot() types.EngineStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.status
	s.Connectors = slices.Clone(s.Connectors)
	return s
}

func (e *Engine) publish() {
	st := types.EngineStatus{
		Mode:                 e.state.Mode,
		CallActive:           e.state.CallActive,
		Selector:             e.state.Last.Name(),
		Input:                e.state.Last.Input,
		SetID:                e.state.Last.SetID,
		Connectors:           slices.Clone(e.state.Connectors),
		LowRecalled:          e.state.LowRecalled,
		PermanentOverview:    e.state.PermanentOverview,
		AllowSideBySide:      e.state.AllowSideBySide,
		AllowNewSpeaker:      e.state.AllowNewSpeaker,
		AllowCameraSwitching: e.state.AllowCameraSwitching,
		PresenterTracking:    e.state.PresenterTracking,
		PresenterDetected:    e.state.PresenterDetected,
		PresenterMode:        e.overlay.Mode(),
		ForceFrames:          e.state.ForceFrames,
		TempDisabled:         e.state.TempDisabled,
		Selfview:             e.state.Selfview,
		SelectedOverview:     e.state.SelectedOverview,
	}
	if e.configErr != nil {
		st.ConfigError = e.configErr.Error()
	}
	e.mu.Lock()
	e.status = st
	e.mu.Unlock()
}

func (e *Engine) broadcast(token protocol.Token) {
	if err := e.units.Broadcast(token); err != nil {
		slog.Warn("unit broadcast not queued", "token", token, "error", err)
	}
}

func (e *Engine) deviceErr(command string, err error) {
	if err == nil {
		return
	}
	var devErr *types.DeviceCommandError
	if !errors.As(err, &devErr) {
		err = &types.DeviceCommandError{Command: command, Err: err}
	}
	slog.Error("device command failed", "command", command, "error", err)
	e.alerts.RaiseError(err)
	if logErr := e.rec.LogError(eventlog.DeviceError, command, "", err); logErr != nil {
		slog.Warn("failed to log event", "error", logErr)
	}
}

func (e *Engine) logMessage(t eventlog.EventType, msg string) {
	if err := e.rec.LogMessage(t, msg); err != nil {
		slog.Warn("failed to log event", "error", err)
	}
}

func framesToken(on bool) protocol.Token {
	if on {
		return protocol.FramesOn
	}
	return protocol.FramesOff
}

// Alert keys, matching the keys errors are raised under.
const (
	alertKeyDevice = "device"
	alertKeyConfig = "config"
)

type nopAlerter struct{}

func (nopAlerter) RaiseError(error)          {}
func (nopAlerter) Clear(string, string) bool { return false }

type nopRecorder struct{}

func (nopRecorder) LogSwitch(eventlog.EventType, *eventlog.SwitchDetails) error { return nil }
func (nopRecorder) LogError(eventlog.EventType, string, string, error) error    { return nil }
func (nopRecorder) LogMessage(eventlog.EventType, string) error                 { return nil }

package engine

import (
	"context"
	"log/slog"
	"slices"

	"github.com/oszuidwest/zwfm-camswitch/internal/composition"
	"github.com/oszuidwest/zwfm-camswitch/internal/eventlog"
	"github.com/oszuidwest/zwfm-camswitch/internal/protocol"
	"github.com/oszuidwest/zwfm-camswitch/internal/timer"
	"github.com/oszuidwest/zwfm-camswitch/internal/types"
)

// switchTo puts the composition for sel on air.
func (e *Engine) switchTo(ctx context.Context, sel Selector, avg float64) {
	e.state.Last = sel

	if e.presenterEngaged() {
		if sel.Kind == KindSingle {
			e.presenterSwitch(ctx, sel.Input)
		}
		e.broadcast(protocol.EnterAutomatic)
		e.restartNewSpeaker()
		return
	}

	var (
		target    composition.Target
		eventType eventlog.EventType
	)
	switch sel.Kind {
	case KindSingle:
		comp, ok := e.resolver.ForMic(sel.Input)
		if !ok {
			slog.Warn("active mic has no composition", "mic", sel.Input)
			e.restartNewSpeaker()
			return
		}
		target = e.resolver.Target(comp)
		eventType = eventlog.CameraSwitched
	case KindMulti:
		ordered, ok := e.history.Ordered(sel.SetID)
		if !ok {
			return
		}
		target = e.resolver.MultiTarget(ordered)
		eventType = eventlog.MultiSpeaker
	default:
		return
	}

	slog.Info("switching camera", "selector", sel.String(), "average", avg, "composition", target.Composition)
	if e.show(ctx, target) {
		e.logSwitch(eventType, sel, avg, target.Composition, &target)
	}
	e.broadcast(protocol.EnterAutomatic)
	e.restartNewSpeaker()
}

// recallOverview shows the selected overview composition once per silence
// period.
func (e *Engine) recallOverview(ctx context.Context, avg float64) {
	e.state.Last = Silence
	e.state.LowRecalled = true
	if e.state.PresenterTracking {
		return
	}

	comp, ok := e.resolver.Overview(e.state.SelectedOverview)
	if !ok {
		slog.Error("no overview composition configured")
		return
	}
	target := e.resolver.OverviewTarget(comp, e.cfg.removeEmptySegments, e.cfg.localConnector, e.hasPeople)
	if !target.UsesZone() && e.cfg.overviewPreset > 0 {
		target.Presets = append(target.Presets, e.cfg.overviewPreset)
	}
	e.zones.Reset()

	slog.Info("recalling overview", "composition", comp.Name, "connectors", target.Connectors)
	if e.show(ctx, target) {
		e.logSwitch(eventlog.OverviewRecalled, Silence, avg, comp.Name, &target)
	}
	e.broadcast(protocol.EnterOverview)
}

// show sends a target to the device. Presets are recalled first and the
// source switch waits for the settle delay. It reports whether anything
// changed on the device.
func (e *Engine) show(ctx context.Context, t composition.Target) bool {
	if t.UsesZone() {
		act, changed, err := e.zones.Activate(ctx, t.Zone)
		if err != nil {
			e.deviceErr("Camera Preset Activate", err)
			return false
		}
		if !changed {
			slog.Debug("zone already active", "zone", t.Zone.String())
			return false
		}
		e.pauseSpeakerTrack(ctx)
		e.deviceErr("Camera Preset Activate", e.dev.ActivatePreset(ctx, act.Preset))
		e.settle(composition.Target{Composition: t.Composition, Connectors: []int{act.Connector}})
		return true
	}

	e.zones.Reset()
	if t.NeedsSettle() {
		e.pauseSpeakerTrack(ctx)
		for _, preset := range t.Presets {
			e.deviceErr("Camera Preset Activate", e.dev.ActivatePreset(ctx, preset))
		}
		e.settle(t)
		return true
	}
	e.setSource(ctx, t.Connectors, t.Layout)
	return true
}

// settle schedules the source switch for t after camera motion.
func (e *Engine) settle(t composition.Target) {
	e.pending = &t
	e.timers.Restart(timer.SourceSwitch)
}

// setSource switches the main video source immediately.
func (e *Engine) setSource(ctx context.Context, connectors []int, layout types.Layout) {
	if len(connectors) == 0 {
		return
	}
	e.pending = nil
	e.timers.Stop(timer.SourceSwitch)

	e.pauseSpeakerTrack(ctx)
	e.deviceErr("Video Input SetMainVideoSource", e.dev.SetMainVideoSource(ctx, connectors, layout))
	e.state.Connectors = slices.Clone(connectors)
	if e.cfg.localConnector > 0 && slices.Contains(connectors, e.cfg.localConnector) {
		e.deviceErr("Cameras SpeakerTrack BackgroundMode", e.dev.SetSpeakerTrackBackground(ctx, false))
	}
}

func (e *Engine) pauseSpeakerTrack(ctx context.Context) {
	if e.cfg.localConnector > 0 {
		e.deviceErr("Cameras SpeakerTrack BackgroundMode", e.dev.SetSpeakerTrackBackground(ctx, true))
	}
}

// presenterSwitch handles speech while the presenter is tracked.
func (e *Engine) presenterSwitch(ctx context.Context, mic int) {
	if e.overlay.Mode() != types.PresenterQA {
		return
	}

	questioner, moved := e.questionerConnector(ctx, mic)
	d := e.overlay.Decide(mic, questioner)
	if d.Compose {
		t := composition.Target{Composition: "presenter-qa", Connectors: d.Connectors, Layout: e.cfg.qaLayout}
		if moved {
			e.settle(t)
		} else {
			e.setSource(ctx, t.Connectors, t.Layout)
		}
		e.logSwitch(eventlog.PresenterCompose, Single(mic), 0, t.Composition, &t)
	}
	if d.RestartHold {
		e.timers.Restart(timer.QAHold)
	}
}

// questionerConnector returns the single connector showing mic. Zone
// compositions recall their preset; moved reports that a preset was
// recalled and the switch must wait for the settle delay.
func (e *Engine) questionerConnector(ctx context.Context, mic int) (connector int, moved bool) {
	if !e.overlay.IsAudience(mic) {
		return 0, false
	}
	comp, ok := e.resolver.ForMic(mic)
	if !ok {
		return 0, false
	}
	if comp.Zone.IsNone() {
		if len(comp.Connectors) != 1 {
			slog.Warn("audience composition must use exactly one connector", "composition", comp.Name)
			return 0, false
		}
		return comp.Connectors[0], false
	}
	act, changed, err := e.zones.Activate(ctx, comp.Zone)
	if err != nil {
		e.deviceErr("Camera Preset Activate", err)
		return 0, false
	}
	if changed {
		e.deviceErr("Camera Preset Activate", e.dev.ActivatePreset(ctx, act.Preset))
	}
	return act.Connector, changed
}

func (e *Engine) hasPeople(owner string) bool {
	if owner == "" {
		return e.localPeople
	}
	return e.units.HasPeople(owner)
}

func (e *Engine) logSwitch(t eventlog.EventType, sel Selector, avg float64, name string, target *composition.Target) {
	details := &eventlog.SwitchDetails{
		Selector:    sel.Name(),
		Input:       sel.Input,
		SetID:       sel.SetID,
		Average:     avg,
		Composition: name,
	}
	if target != nil {
		details.Connectors = target.Connectors
		details.Layout = string(target.Layout)
		details.Presets = target.Presets
		if target.UsesZone() {
			details.Zone = target.Zone.String()
		}
	}
	if err := e.rec.LogSwitch(t, details); err != nil {
		slog.Warn("failed to log event", "error", err)
	}
}

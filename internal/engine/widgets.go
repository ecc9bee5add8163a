package engine

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"

	"github.com/oszuidwest/zwfm-camswitch/internal/timer"
	"github.com/oszuidwest/zwfm-camswitch/internal/types"
)

// Panel widget ids.
const (
	widgetOverride    = "widget_override"
	widgetPermanentOv = "widget_sbs_control"
	widgetSelfview    = "widget_FS_selfview"
	widgetForceFrames = "widget_force_frames"
	widgetOverview    = "widget_ov_settings"
	widgetPresenter   = "widget_pt_settings"
)

// Presenter widget values.
const (
	presenterValueOff = "1"
	presenterValueOn  = "2"
	presenterValueQA  = "3"
)

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func (e *Engine) handleWidget(ctx context.Context, w WidgetEvent) {
	on := w.Value == "on"
	switch w.WidgetID {
	case widgetOverride:
		if on {
			e.StartAutomation(ctx)
		} else {
			e.StopAutomation(ctx)
		}

	case widgetPermanentOv:
		e.state.PermanentOverview = on
		e.state.Last = Silence
		if on && e.state.Mode == types.ModeAutomatic {
			e.recallOverview(ctx, 0)
		}

	case widgetSelfview:
		e.state.Selfview = on
		e.deviceErr("Video Selfview Set", e.dev.SetSelfview(ctx, on))

	case widgetForceFrames:
		e.state.ForceFrames = on
		e.deviceErr("Cameras SpeakerTrack Frames", e.dev.SetFrames(ctx, on))
		e.broadcast(framesToken(on))

	case widgetOverview:
		names := e.resolver.OverviewNames()
		idx, err := strconv.Atoi(w.Value)
		if err != nil || idx < 1 || idx > len(names) {
			slog.Warn("invalid overview selection", "value", w.Value)
			return
		}
		e.state.SelectedOverview = names[idx-1]
		slog.Info("overview selected", "name", e.state.SelectedOverview)
		if e.onOverview != nil {
			e.onOverview(e.state.SelectedOverview)
		}

	case widgetPresenter:
		e.handlePresenterWidget(ctx, w.Value)

	default:
		slog.Debug("ignoring widget", "widget", w.WidgetID)
	}
}

func (e *Engine) handlePresenterWidget(ctx context.Context, value string) {
	switch value {
	case presenterValueOff:
		e.deviceErr("Cameras PresenterTrack Set", e.dev.SetPresenterTrack(ctx, false))
		e.overlay.SetMode(types.PresenterOff)
		e.timers.Stop(timer.QAHold)
		if e.cfg.localConnector > 0 {
			e.setSource(ctx, []int{e.cfg.localConnector}, "")
		}
	case presenterValueOn, presenterValueQA:
		mode := types.PresenterOn
		if value == presenterValueQA {
			if !e.cfg.allowQA {
				slog.Warn("presenter Q&A mode not allowed")
				return
			}
			mode = types.PresenterQA
		}
		e.overlay.SetMode(mode)
		e.setSource(ctx, e.overlay.PresenterView(), "")
		e.deviceErr("Cameras PresenterTrack Set", e.dev.SetPresenterTrack(ctx, true))
	default:
		slog.Warn("invalid presenter selection", "value", value)
	}
}

// SyncWidgets pushes the current state to every panel widget. Widgets that
// are not displayed are skipped. It is safe to call from any goroutine.
func (e *Engine) SyncWidgets(ctx context.Context) error {
	st := e.Snapshot()

	overview := ""
	if idx := slices.Index(e.resolver.OverviewNames(), st.SelectedOverview); idx >= 0 {
		overview = strconv.Itoa(idx + 1)
	}
	presenter := presenterValueOff
	switch st.PresenterMode {
	case types.PresenterOn:
		presenter = presenterValueOn
	case types.PresenterQA:
		presenter = presenterValueQA
	}

	values := []struct{ id, value string }{
		{widgetOverride, onOff(st.Mode == types.ModeAutomatic)},
		{widgetPermanentOv, onOff(st.PermanentOverview)},
		{widgetSelfview, onOff(st.Selfview)},
		{widgetForceFrames, onOff(st.ForceFrames)},
		{widgetOverview, overview},
		{widgetPresenter, presenter},
	}

	var errs []error
	for _, v := range values {
		if v.value == "" {
			continue
		}
		if err := e.dev.SetWidgetValue(ctx, v.id, v.value); err != nil {
			if errors.Is(err, types.ErrStaleWidget) {
				continue
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// setWidget updates one widget, ignoring widgets that are not displayed.
func (e *Engine) setWidget(ctx context.Context, id, value string) {
	if err := e.dev.SetWidgetValue(ctx, id, value); err != nil && !errors.Is(err, types.ErrStaleWidget) {
		e.deviceErr("UserInterface Extensions Widget SetValue", err)
	}
}

// ModeWidget returns the widget event that starts or stops automation.
func ModeWidget(automatic bool) WidgetEvent {
	return WidgetEvent{WidgetID: widgetOverride, Value: onOff(automatic)}
}

// OverviewWidget returns the widget event that selects the overview at the
// given 1-based position in Overviews.
func OverviewWidget(position int) WidgetEvent {
	return WidgetEvent{WidgetID: widgetOverview, Value: strconv.Itoa(position)}
}

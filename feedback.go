package main

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/oszuidwest/zwfm-camswitch/internal/engine"
	"github.com/oszuidwest/zwfm-camswitch/internal/protocol"
	"github.com/oszuidwest/zwfm-camswitch/internal/xapi"
)

// Poster accepts engine events.
type Poster interface {
	Post(ev engine.Event) error
}

// Subscriber registers device feedback handlers.
type Subscriber interface {
	Subscribe(query []string, handler func(params json.RawMessage))
}

// subscribeFeedback translates device feedback into engine events.
func subscribeFeedback(dev Subscriber, eng Poster) {
	post := func(ev engine.Event) {
		if err := eng.Post(ev); err != nil {
			if errors.Is(err, engine.ErrInboxFull) {
				slog.Debug("engine inbox full, event dropped", "event", slog.AnyValue(ev))
				return
			}
			slog.Warn("failed to post engine event", "error", err)
		}
	}

	dev.Subscribe(xapi.QueryLevels, func(params json.RawMessage) {
		for _, l := range xapi.Levels(params) {
			post(engine.LevelSample{Mic: l.Mic, Level: l.Value})
		}
	})
	dev.Subscribe(xapi.QueryWidgetAction, func(params json.RawMessage) {
		if w, ok := xapi.Widget(params); ok && acceptWidgetAction(w.Type) {
			post(engine.WidgetEvent{WidgetID: w.WidgetID, Value: w.Value})
		}
	})
	dev.Subscribe(xapi.QueryCallSuccessful, func(params json.RawMessage) {
		if xapi.Has(params, xapi.QueryCallSuccessful) {
			post(engine.CallConnected{})
		}
	})
	dev.Subscribe(xapi.QueryCallDisconnect, func(params json.RawMessage) {
		if xapi.Has(params, xapi.QueryCallDisconnect) {
			post(engine.CallDisconnected{})
		}
	})
	dev.Subscribe(xapi.QueryMessage, func(params json.RawMessage) {
		text, ok := xapi.Value(params, xapi.QueryMessage)
		if !ok {
			return
		}
		if ev, ok := messageEvent(text); ok {
			post(ev)
		}
	})
	dev.Subscribe(xapi.QueryMute, func(params json.RawMessage) {
		switch v, _ := xapi.Value(params, xapi.QueryMute); v {
		case "On":
			post(engine.MuteChanged{Muted: true})
		case "Off":
			post(engine.MuteChanged{Muted: false})
		}
	})
	dev.Subscribe(xapi.QueryStandby, func(params json.RawMessage) {
		switch v, _ := xapi.Value(params, xapi.QueryStandby); v {
		case "Standby":
			post(engine.StandbyChanged{Standby: true})
		case "Off":
			post(engine.StandbyChanged{Standby: false})
		}
	})
	dev.Subscribe(xapi.QueryPresenterTrack, func(params json.RawMessage) {
		if v, ok := xapi.Value(params, xapi.QueryPresenterTrack); ok {
			post(engine.PresenterStatus{Tracking: v == "Follow" || v == "Persistent"})
		}
	})
	dev.Subscribe(xapi.QueryPresenterDetected, func(params json.RawMessage) {
		if v, ok := xapi.Value(params, xapi.QueryPresenterDetected); ok {
			post(engine.PresenterDetected{Detected: v == "True"})
		}
	})
	dev.Subscribe(xapi.QueryPeopleCount, func(params json.RawMessage) {
		if n, ok := xapi.IntValue(params, xapi.QueryPeopleCount); ok {
			post(engine.PeopleCount{Count: n})
		}
	})
	dev.Subscribe(xapi.QueryFrames, func(params json.RawMessage) {
		if v, ok := xapi.Value(params, xapi.QueryFrames); ok {
			post(engine.FramesChanged{Active: v != "Inactive"})
		}
	})
}

// acceptWidgetAction drops the release half of button presses so a group
// button selection reaches the engine once.
func acceptWidgetAction(kind string) bool {
	return kind != "released"
}

// messageEvent parses a text message from an external room controller.
// The message is either a bare token or a JSON envelope carrying one.
func messageEvent(text string) (engine.Event, bool) {
	env := protocol.Decode([]byte(text))
	if env.App != "" {
		slog.Debug("external message", "app", env.App, "value", env.Value)
	}
	text = env.Value
	switch text {
	case protocol.DisableSwitching:
		return engine.SwitchingControl{Enabled: false}, true
	case protocol.EnableSwitching:
		return engine.SwitchingControl{Enabled: true}, true
	}
	if mic, ok := protocol.ParseExternalMic(text); ok {
		return engine.ExternalMic{Mic: mic}, true
	}
	return nil, false
}

package xapi

import (
	"encoding/json"
)

// Feedback queries used by the controller.
var (
	QueryLevels            = []string{"Event", "Audio", "Input", "Connectors"}
	QueryWidgetAction      = []string{"Event", "UserInterface", "Extensions", "Widget", "Action"}
	QueryCallSuccessful    = []string{"Event", "CallSuccessful"}
	QueryCallDisconnect    = []string{"Event", "CallDisconnect"}
	QueryMessage           = []string{"Event", "Message", "Send", "Text"}
	QueryMute              = []string{"Status", "Audio", "Microphones", "Mute"}
	QueryStandby           = []string{"Status", "Standby", "State"}
	QueryPresenterTrack    = []string{"Status", "Cameras", "PresenterTrack", "Status"}
	QueryPresenterDetected = []string{"Status", "Cameras", "PresenterTrack", "PresenterDetected"}
	QueryPeopleCount       = []string{"Status", "RoomAnalytics", "PeopleCount", "Current"}
	QueryFrames            = []string{"Status", "Cameras", "SpeakerTrack", "Frames", "Status"}
)

// Level is one microphone level report.
type Level struct {
	Mic   int
	Value int
}

type meter struct {
	ID      Int `json:"id"`
	VuMeter Int `json:"VuMeter"`
}

type ethernetMeter struct {
	ID    Int     `json:"id"`
	SubID []meter `json:"SubId"`
}

// WidgetAction is a panel widget interaction.
type WidgetAction struct {
	WidgetID string `json:"WidgetId"`
	Value    string `json:"Value"`
	Type     string `json:"Type"`
}

// Lookup walks params along path and returns the value found there.
func Lookup(params json.RawMessage, path []string) (json.RawMessage, bool) {
	raw := params
	for _, key := range path {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, false
		}
		next, ok := obj[key]
		if !ok {
			return nil, false
		}
		raw = next
	}
	return raw, true
}

// items accepts either a single object or an array of objects.
func items(raw json.RawMessage) []json.RawMessage {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	return []json.RawMessage{raw}
}

// Levels decodes level meter events. Analog mics keep their connector id,
// ethernet mics become connector*10+channel and USB mics 100+port.
func Levels(params json.RawMessage) []Level {
	connectors, ok := Lookup(params, QueryLevels)
	if !ok {
		return nil
	}

	var out []Level
	if raw, ok := Lookup(connectors, []string{"Microphone"}); ok {
		for _, item := range items(raw) {
			var m meter
			if json.Unmarshal(item, &m) == nil && m.ID > 0 {
				out = append(out, Level{Mic: int(m.ID), Value: int(m.VuMeter)})
			}
		}
	}
	if raw, ok := Lookup(connectors, []string{"Ethernet"}); ok {
		for _, item := range items(raw) {
			var e ethernetMeter
			if json.Unmarshal(item, &e) != nil || e.ID <= 0 {
				continue
			}
			for _, sub := range e.SubID {
				out = append(out, Level{Mic: int(e.ID)*10 + int(sub.ID), Value: int(sub.VuMeter)})
			}
		}
	}
	if raw, ok := Lookup(connectors, []string{"USBMicrophone"}); ok {
		for _, item := range items(raw) {
			var m meter
			if json.Unmarshal(item, &m) == nil && m.ID > 0 {
				out = append(out, Level{Mic: 100 + int(m.ID), Value: int(m.VuMeter)})
			}
		}
	}
	return out
}

// Value returns the scalar at query as a string.
func Value(params json.RawMessage, query []string) (string, bool) {
	raw, ok := Lookup(params, query)
	if !ok {
		return "", false
	}
	return rawString(raw), true
}

// IntValue returns the integer at query.
func IntValue(params json.RawMessage, query []string) (int, bool) {
	raw, ok := Lookup(params, query)
	if !ok {
		return 0, false
	}
	var n Int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return int(n), true
}

// Widget decodes a widget action event.
func Widget(params json.RawMessage) (WidgetAction, bool) {
	raw, ok := Lookup(params, QueryWidgetAction)
	if !ok {
		return WidgetAction{}, false
	}
	var w WidgetAction
	if err := json.Unmarshal(raw, &w); err != nil || w.WidgetID == "" {
		return WidgetAction{}, false
	}
	return w, true
}

// Has reports whether params carries an event at query.
func Has(params json.RawMessage, query []string) bool {
	_, ok := Lookup(params, query)
	return ok
}

package xapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-camswitch/internal/types"
)

// Int decodes device values that arrive either as JSON numbers or as
// numeric strings.
type Int int

// UnmarshalJSON implements json.Unmarshaler.
func (i *Int) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*i = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid integer %s", b)
	}
	*i = Int(n)
	return nil
}

// SetMainVideoSource composes connectors on the main video output.
func (c *Client) SetMainVideoSource(ctx context.Context, connectors []int, layout types.Layout) error {
	params := map[string]any{"ConnectorId": connectors}
	if layout != "" && len(connectors) > 1 {
		params["Layout"] = layout
	}
	return c.Command(ctx, "Video/Input/SetMainVideoSource", params, nil)
}

// ActivatePreset recalls a camera preset.
func (c *Client) ActivatePreset(ctx context.Context, presetID int) error {
	return c.Command(ctx, "Camera/Preset/Activate", map[string]any{"PresetId": presetID}, nil)
}

// PresetCamera returns the camera a preset is stored for.
func (c *Client) PresetCamera(ctx context.Context, presetID int) (int, error) {
	var res struct {
		CameraID Int `json:"CameraId"`
	}
	if err := c.Command(ctx, "Camera/Preset/Show", map[string]any{"PresetId": presetID}, &res); err != nil {
		return 0, err
	}
	return int(res.CameraID), nil
}

// CameraConnectors returns camera id to video connector for every camera
// the device detects.
func (c *Client) CameraConnectors(ctx context.Context) (map[int]int, error) {
	var cameras []struct {
		ID                Int `json:"id"`
		DetectedConnector Int `json:"DetectedConnector"`
	}
	if err := c.Get(ctx, "Status/Cameras/Camera", &cameras); err != nil {
		return nil, err
	}
	out := make(map[int]int, len(cameras))
	for _, cam := range cameras {
		if cam.DetectedConnector > 0 {
			out[int(cam.ID)] = int(cam.DetectedConnector)
		}
	}
	return out, nil
}

// SetSpeakerTrackBackground toggles speaker tracking background mode.
func (c *Client) SetSpeakerTrackBackground(ctx context.Context, on bool) error {
	return c.Command(ctx, "Cameras/SpeakerTrack/BackgroundMode/"+activation(on), nil, nil)
}

// SetSpeakerTrack turns speaker tracking on or off.
func (c *Client) SetSpeakerTrack(ctx context.Context, on bool) error {
	return c.Command(ctx, "Cameras/SpeakerTrack/"+activation(on), nil, nil)
}

// SetPresenterTrack turns presenter tracking on or off.
func (c *Client) SetPresenterTrack(ctx context.Context, on bool) error {
	mode := "Off"
	if on {
		mode = "Follow"
	}
	return c.Command(ctx, "Cameras/PresenterTrack/Set", map[string]any{"Mode": mode}, nil)
}

// SetSelfview shows or hides the full screen selfview.
func (c *Client) SetSelfview(ctx context.Context, on bool) error {
	mode := "Off"
	if on {
		mode = "On"
	}
	params := map[string]any{"FullscreenMode": mode, "Mode": mode, "OnMonitorRole": "First"}
	return c.Command(ctx, "Video/Selfview/Set", params, nil)
}

// SetFrames toggles speaker track frames.
func (c *Client) SetFrames(ctx context.Context, on bool) error {
	return c.Command(ctx, "Cameras/SpeakerTrack/Frames/"+activation(on), nil, nil)
}

// SetWidgetValue updates a panel widget. A widget that is not loaded on
// the panel yields an error matching types.ErrStaleWidget.
func (c *Client) SetWidgetValue(ctx context.Context, id, value string) error {
	err := c.Command(ctx, "UserInterface/Extensions/Widget/SetValue", map[string]any{"WidgetId": id, "Value": value}, nil)
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) && isMissingWidget(rpcErr) {
		return fmt.Errorf("%w: %s", types.ErrStaleWidget, id)
	}
	return err
}

func isMissingWidget(e *RPCError) bool {
	text := strings.ToLower(e.Message + " " + string(e.Data))
	return strings.Contains(text, "widget") && (strings.Contains(text, "not found") || strings.Contains(text, "no such") || strings.Contains(text, "does not exist"))
}

// StartLevelMeters starts level reporting for every monitored microphone.
// Ethernet mics are metered per connector (id / 10) and USB mics by their
// port (id - 100).
func (c *Client) StartLevelMeters(ctx context.Context, analog, ethernet, usb []int, interval time.Duration) error {
	start := func(connector int, kind string) error {
		return c.Command(ctx, "Audio/VuMeter/Start", map[string]any{
			"ConnectorId":           connector,
			"ConnectorType":         kind,
			"IncludePairingQuality": "Off",
			"IntervalMs":            interval.Milliseconds(),
			"Source":                "AfterAEC",
		}, nil)
	}

	var errs []error
	for _, id := range analog {
		errs = append(errs, start(id, "Microphone"))
	}
	started := make(map[int]bool)
	for _, id := range ethernet {
		if connector := id / 10; !started[connector] {
			started[connector] = true
			errs = append(errs, start(connector, "Ethernet"))
		}
	}
	for _, id := range usb {
		errs = append(errs, start(id-100, "USBMicrophone"))
	}
	return errors.Join(errs...)
}

// StopLevelMeters stops all level reporting.
func (c *Client) StopLevelMeters(ctx context.Context) error {
	return c.Command(ctx, "Audio/VuMeter/StopAll", map[string]any{}, nil)
}

// Alert shows a message on the room panel.
func (c *Client) Alert(ctx context.Context, title, text string, duration time.Duration) error {
	params := map[string]any{"Title": title, "Text": text, "Duration": int(duration.Seconds())}
	return c.Command(ctx, "UserInterface/Message/Alert/Display", params, nil)
}

// SetStandby puts the device in or out of standby.
func (c *Client) SetStandby(ctx context.Context, standby bool) error {
	if standby {
		return c.Command(ctx, "Standby/Activate", nil, nil)
	}
	return c.Command(ctx, "Standby/Deactivate", nil, nil)
}

// Standby reports whether the device is in standby.
func (c *Client) Standby(ctx context.Context) (bool, error) {
	var state string
	if err := c.Get(ctx, "Status/Standby/State", &state); err != nil {
		return false, err
	}
	return state != "Off", nil
}

// PeopleCount returns the number of people the room camera sees, or -1
// when counting is unavailable.
func (c *Client) PeopleCount(ctx context.Context) (int, error) {
	var n Int
	if err := c.Get(ctx, "Status/RoomAnalytics/PeopleCount/Current", &n); err != nil {
		return 0, err
	}
	return int(n), nil
}

// SoftwareVersion returns the device software version string.
func (c *Client) SoftwareVersion(ctx context.Context) (string, error) {
	var v string
	if err := c.Get(ctx, "Status/SystemUnit/Software/Version", &v); err != nil {
		return "", err
	}
	return v, nil
}

func activation(on bool) string {
	if on {
		return "Activate"
	}
	return "Deactivate"
}

// rawString decodes a JSON string, tolerating non-string scalars.
func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.Trim(string(raw), `"`)
}

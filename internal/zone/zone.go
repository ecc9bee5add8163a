// Package zone arbitrates between the two cameras of a preset zone so the
// camera currently on air is never the one being repositioned.
package zone

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/oszuidwest/zwfm-camswitch/internal/types"
)

// Zone pairs a primary and secondary camera preset. Primary may equal
// Secondary for single-camera zones.
type Zone struct {
	Name      string
	Primary   int
	Secondary int
}

// Ref identifies a configured zone. The zero value is None.
type Ref struct {
	name string
}

// None means the composition does not use zone-based switching.
var None = Ref{}

// Named returns a reference to the zone with the given name. An empty name
// yields None.
func Named(name string) Ref {
	return Ref{name: name}
}

// IsNone reports whether r is the None variant.
func (r Ref) IsNone() bool { return r.name == "" }

// Name returns the zone name, empty for None.
func (r Ref) Name() string { return r.name }

func (r Ref) String() string {
	if r.IsNone() {
		return "none"
	}
	return r.name
}

// Errors returned by the tracker.
var (
	ErrNoZone         = errors.New("composition does not use a zone")
	ErrUnknownZone    = errors.New("unknown zone")
	ErrUnmappedCamera = errors.New("camera has no video connector")
)

// CameraResolver looks up which physical camera a preset drives.
type CameraResolver interface {
	PresetCamera(ctx context.Context, presetID int) (int, error)
}

// Activation is the outcome of selecting a zone.
type Activation struct {
	Zone      Ref
	Preset    int
	Camera    int
	Connector int
	Secondary bool
}

// Tracker remembers the last zone and camera used. It is owned by the
// engine's event loop and is not safe for concurrent use.
type Tracker struct {
	zones    map[string]Zone
	resolver CameraResolver
	cameras  map[int]int // camera id -> video connector

	last Activation
}

// NewTracker creates a tracker for the configured zones.
func NewTracker(zones []Zone, resolver CameraResolver) *Tracker {
	byName := make(map[string]Zone, len(zones))
	for _, z := range zones {
		byName[z.Name] = z
	}
	return &Tracker{
		zones:    byName,
		resolver: resolver,
		cameras:  make(map[int]int),
	}
}

// Prepare installs the static camera to connector map read at startup.
func (t *Tracker) Prepare(cameras map[int]int) {
	t.cameras = make(map[int]int, len(cameras))
	for cam, conn := range cameras {
		t.cameras[cam] = conn
	}
}

// Current returns the zone in use, or None.
func (t *Tracker) Current() Ref { return t.last.Zone }

// Reset forgets the last zone so the next activation starts fresh.
func (t *Tracker) Reset() { t.last = Activation{} }

// Activate selects the preset to recall for ref. The primary preset wins
// unless its camera is the one used by the previous zone activation, in
// which case the secondary is used. Activating the zone already in use
// returns the current activation with changed=false.
func (t *Tracker) Activate(ctx context.Context, ref Ref) (act Activation, changed bool, err error) {
	if ref.IsNone() {
		return Activation{}, false, ErrNoZone
	}
	if ref == t.last.Zone {
		return t.last, false, nil
	}
	z, ok := t.zones[ref.name]
	if !ok {
		return Activation{}, false, fmt.Errorf("%w: %s", ErrUnknownZone, ref.name)
	}

	cam, err := t.resolver.PresetCamera(ctx, z.Primary)
	if err != nil {
		return Activation{}, false, &types.DeviceCommandError{Command: "Camera Preset Show", Err: err}
	}
	act = Activation{Zone: ref, Preset: z.Primary, Camera: cam}

	if cam == t.last.Camera {
		cam, err = t.resolver.PresetCamera(ctx, z.Secondary)
		if err != nil {
			return Activation{}, false, &types.DeviceCommandError{Command: "Camera Preset Show", Err: err}
		}
		act.Preset, act.Camera, act.Secondary = z.Secondary, cam, true
	}

	conn, ok := t.cameras[act.Camera]
	if !ok {
		return Activation{}, false, fmt.Errorf("%w: camera %d", ErrUnmappedCamera, act.Camera)
	}
	act.Connector = conn
	t.last = act
	return act, true, nil
}

// PrimaryConnector resolves the connector of the camera behind a zone's
// primary preset. Used at startup to map mics to connectors.
func (t *Tracker) PrimaryConnector(ctx context.Context, ref Ref) (preset, connector int, err error) {
	z, ok := t.zones[ref.name]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrUnknownZone, ref.name)
	}
	cam, err := t.resolver.PresetCamera(ctx, z.Primary)
	if err != nil {
		return 0, 0, &types.DeviceCommandError{Command: "Camera Preset Show", Err: err}
	}
	conn, ok := t.cameras[cam]
	if !ok {
		return 0, 0, fmt.Errorf("%w: camera %d", ErrUnmappedCamera, cam)
	}
	return z.Primary, conn, nil
}

// Verify checks that every zone preset resolves to a camera with a known
// connector. Problems are reported as configuration errors.
func (t *Tracker) Verify(ctx context.Context) *types.ValidationError {
	verr := types.NewValidationError()

	names := make([]string, 0, len(t.zones))
	for name := range t.zones {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		z := t.zones[name]
		for _, preset := range []int{z.Primary, z.Secondary} {
			cam, err := t.resolver.PresetCamera(ctx, preset)
			if err != nil {
				verr.Add("zones."+name, fmt.Sprintf("preset %d cannot be resolved: %v", preset, err), preset)
				continue
			}
			if _, ok := t.cameras[cam]; !ok {
				verr.Add("zones."+name, fmt.Sprintf("preset %d uses camera %d which has no video connector", preset, cam), preset)
			}
		}
	}
	return verr
}

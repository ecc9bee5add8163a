// Package auxunit implements the auxiliary unit role. An auxiliary unit
// drives its own room device on behalf of the main unit and reports its
// liveness and presence back.
package auxunit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-camswitch/internal/protocol"
	"github.com/oszuidwest/zwfm-camswitch/internal/types"
	"github.com/oszuidwest/zwfm-camswitch/internal/unit"
)

// Device is the subset of the video device API used by an auxiliary unit.
type Device interface {
	SetStandby(ctx context.Context, standby bool) error
	SetSpeakerTrack(ctx context.Context, on bool) error
	SetSpeakerTrackBackground(ctx context.Context, on bool) error
	ActivatePreset(ctx context.Context, presetID int) error
	SetFrames(ctx context.Context, on bool) error
	PeopleCount(ctx context.Context) (int, error)
}

// Options configures a Responder.
type Options struct {
	Self           string        // Address used as envelope source
	Main           string        // Address of the main unit
	OverviewPreset int           // Preset recalled on enter-overview, 0 for none
	Timeout        time.Duration // Per-send timeout
}

// Responder applies tokens from the main unit to the local device.
// It is safe for concurrent use.
type Responder struct {
	dev       Device
	transport unit.Transport
	opts      Options

	mu       sync.Mutex
	presence *bool // last presence sent, nil before the first report
}

// New creates a responder.
func New(dev Device, transport unit.Transport, opts Options) *Responder {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Responder{dev: dev, transport: transport, opts: opts}
}

// Handle applies one token received from the main unit.
func (r *Responder) Handle(ctx context.Context, token protocol.Token) error {
	slog.Debug("token from main unit", "token", token)
	switch token {
	case protocol.StatusProbe:
		if err := r.send(ctx, protocol.StatusOK); err != nil {
			return err
		}
		return r.refreshPresence(ctx, true)
	case protocol.Wake:
		if err := r.device("Standby Deactivate", r.dev.SetStandby(ctx, false)); err != nil {
			return err
		}
		return r.device("Cameras SpeakerTrack Activate", r.dev.SetSpeakerTrack(ctx, true))
	case protocol.Shutdown:
		return r.device("Standby Activate", r.dev.SetStandby(ctx, true))
	case protocol.EnterOverview:
		if err := r.device("Cameras SpeakerTrack BackgroundMode Activate", r.dev.SetSpeakerTrackBackground(ctx, true)); err != nil {
			return err
		}
		if r.opts.OverviewPreset > 0 {
			return r.device("Camera Preset Activate", r.dev.ActivatePreset(ctx, r.opts.OverviewPreset))
		}
		return nil
	case protocol.EnterAutomatic:
		return r.device("Cameras SpeakerTrack BackgroundMode Deactivate", r.dev.SetSpeakerTrackBackground(ctx, false))
	case protocol.FramesOn, protocol.FramesOff:
		return r.device("Cameras SpeakerTrack Frames", r.dev.SetFrames(ctx, token == protocol.FramesOn))
	default:
		return fmt.Errorf("unsupported token %q", token)
	}
}

// ReportPeople sends the presence token for a people count when it
// differs from the last one sent. Negative counts mean the device cannot
// count and are reported as present.
func (r *Responder) ReportPeople(ctx context.Context, count int) error {
	return r.report(ctx, count != 0, false)
}

// refreshPresence reads the people count from the device and reports it.
func (r *Responder) refreshPresence(ctx context.Context, force bool) error {
	count, err := r.dev.PeopleCount(ctx)
	if err != nil {
		return r.device("RoomAnalytics PeopleCount get", err)
	}
	return r.report(ctx, count != 0, force)
}

func (r *Responder) report(ctx context.Context, present, force bool) error {
	r.mu.Lock()
	unchanged := r.presence != nil && *r.presence == present
	r.mu.Unlock()
	if unchanged && !force {
		return nil
	}

	token := protocol.PresenceNo
	if present {
		token = protocol.PresenceYes
	}
	if err := r.send(ctx, token); err != nil {
		return err
	}
	r.mu.Lock()
	r.presence = &present
	r.mu.Unlock()
	return nil
}

func (r *Responder) send(ctx context.Context, token protocol.Token) error {
	if r.opts.Main == "" {
		return fmt.Errorf("main unit address not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()
	if err := r.transport.Send(ctx, r.opts.Main, protocol.NewEnvelope(r.opts.Self, token)); err != nil {
		return &types.UnitCommunicationError{Address: r.opts.Main, Token: string(token), Err: err}
	}
	return nil
}

func (r *Responder) device(command string, err error) error {
	if err == nil {
		return nil
	}
	return &types.DeviceCommandError{Command: command, Err: err}
}

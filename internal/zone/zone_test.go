package zone

import (
	"context"
	"errors"
	"testing"
)

type fakeResolver map[int]int // preset -> camera

func (f fakeResolver) PresetCamera(_ context.Context, presetID int) (int, error) {
	cam, ok := f[presetID]
	if !ok {
		return 0, errors.New("preset not found")
	}
	return cam, nil
}

func newTracker() *Tracker {
	zones := []Zone{
		{Name: "Z1", Primary: 11, Secondary: 12},
		{Name: "Z2", Primary: 21, Secondary: 22},
		{Name: "Solo", Primary: 31, Secondary: 31},
	}
	// Presets 11 and 21 share camera 2; 12 and 22 use camera 3.
	resolver := fakeResolver{11: 2, 12: 3, 21: 2, 22: 3, 31: 4}
	tr := NewTracker(zones, resolver)
	tr.Prepare(map[int]int{2: 5, 3: 6, 4: 7})
	return tr
}

func TestActivateAvoidsCameraOnAir(t *testing.T) {
	tr := newTracker()
	ctx := context.Background()

	act, changed, err := tr.Activate(ctx, Named("Z1"))
	if err != nil || !changed {
		t.Fatalf("Activate(Z1) = %+v, %v, %v", act, changed, err)
	}
	if act.Preset != 11 || act.Connector != 5 {
		t.Errorf("Z1 activation = %+v, want preset 11 on connector 5", act)
	}

	// Z2's primary is on the camera currently on air, so the secondary is used.
	act, _, err = tr.Activate(ctx, Named("Z2"))
	if err != nil {
		t.Fatalf("Activate(Z2) error = %v", err)
	}
	if !act.Secondary || act.Preset != 22 || act.Camera != 3 {
		t.Errorf("Z2 activation = %+v, want secondary preset 22 on camera 3", act)
	}

	// Back to Z1: its primary camera (2) is not on air any more.
	act, _, _ = tr.Activate(ctx, Named("Z1"))
	if act.Secondary || act.Camera == 3 {
		t.Errorf("Z1 activation = %+v, want primary on camera 2", act)
	}
}

func TestActivateSameZoneIsNoop(t *testing.T) {
	tr := newTracker()
	ctx := context.Background()
	first, _, _ := tr.Activate(ctx, Named("Z1"))
	again, changed, err := tr.Activate(ctx, Named("Z1"))
	if err != nil || changed {
		t.Fatalf("second Activate(Z1) changed=%v err=%v, want no-op", changed, err)
	}
	if again != first {
		t.Errorf("second activation = %+v, want %+v", again, first)
	}
}

func TestSingleCameraZone(t *testing.T) {
	tr := newTracker()
	ctx := context.Background()
	tr.Activate(ctx, Named("Solo"))
	tr.Reset()
	tr.last.Camera = 4 // camera 4 on air from a previous zone
	act, changed, err := tr.Activate(ctx, Named("Solo"))
	if err != nil || !changed {
		t.Fatalf("Activate(Solo) changed=%v err=%v", changed, err)
	}
	if act.Camera != 4 || act.Preset != 31 {
		t.Errorf("single-camera zone activation = %+v, want preset 31 on camera 4", act)
	}
}

func TestActivateErrors(t *testing.T) {
	tr := newTracker()
	ctx := context.Background()
	if _, _, err := tr.Activate(ctx, None); !errors.Is(err, ErrNoZone) {
		t.Errorf("Activate(None) error = %v, want ErrNoZone", err)
	}
	if _, _, err := tr.Activate(ctx, Named("Z9")); !errors.Is(err, ErrUnknownZone) {
		t.Errorf("Activate(Z9) error = %v, want ErrUnknownZone", err)
	}
	if tr.Current() != None {
		t.Errorf("Current() = %v after failed activations, want none", tr.Current())
	}
}

func TestVerify(t *testing.T) {
	tr := newTracker()
	if verr := tr.Verify(context.Background()); verr.HasErrors() {
		t.Fatalf("Verify() = %v, want no errors", verr)
	}

	tr.Prepare(map[int]int{2: 5})
	verr := tr.Verify(context.Background())
	if !verr.HasErrors() {
		t.Fatal("Verify() found no errors with cameras 3 and 4 unmapped")
	}
}

func TestPrimaryConnector(t *testing.T) {
	tr := newTracker()
	preset, conn, err := tr.PrimaryConnector(context.Background(), Named("Z2"))
	if err != nil || preset != 21 || conn != 5 {
		t.Errorf("PrimaryConnector(Z2) = %d, %d, %v; want 21, 5, nil", preset, conn, err)
	}
}

// Package presenter decides how audience questions are composed with the
// presenter camera while presenter tracking is engaged.
package presenter

import "github.com/oszuidwest/zwfm-camswitch/internal/types"

// Decision is what the engine should do for one speaking input.
type Decision struct {
	Compose     bool  // Put Connectors on air
	Connectors  []int // Presenter connector first, then the questioner
	RestartHold bool  // Restart the Q&A hold timer
}

// Overlay tracks the presenter Q&A composition. It is owned by the
// engine's event loop and is not safe for concurrent use.
type Overlay struct {
	mode      types.PresenterMode
	audience  map[int]bool
	connector int

	shown bool
	last  int
}

// New creates an overlay for the given audience mics and presenter camera
// connector.
func New(audience []int, connector int) *Overlay {
	set := make(map[int]bool, len(audience))
	for _, id := range audience {
		set[id] = true
	}
	return &Overlay{mode: types.PresenterOff, audience: set, connector: connector}
}

// Mode returns the current presenter mode.
func (o *Overlay) Mode() types.PresenterMode { return o.mode }

// SetMode changes the presenter mode and drops any composition state.
func (o *Overlay) SetMode(m types.PresenterMode) {
	o.mode = m
	o.Reset()
}

// Connector returns the presenter camera connector.
func (o *Overlay) Connector() int { return o.connector }

// Shown reports whether a Q&A composition is on air.
func (o *Overlay) Shown() bool { return o.shown }

// IsAudience reports whether mic is one of the audience mics.
func (o *Overlay) IsAudience(mic int) bool { return o.audience[mic] }

// Reset forgets the composition and last input.
func (o *Overlay) Reset() {
	o.shown = false
	o.last = 0
}

// Decide handles speech from input while the presenter is tracked.
// questioner is the connector showing input, or 0 when input has no
// single connector. Outside Q&A mode the presenter view stays on air.
func (o *Overlay) Decide(input, questioner int) Decision {
	if o.mode != types.PresenterQA {
		return Decision{}
	}
	defer func() { o.last = input }()

	if !o.audience[input] {
		return Decision{RestartHold: o.shown}
	}
	if input == o.last && o.shown {
		return Decision{RestartHold: true}
	}
	if questioner <= 0 || questioner == o.connector {
		return Decision{RestartHold: o.shown}
	}
	o.shown = true
	return Decision{
		Compose:     true,
		Connectors:  []int{o.connector, questioner},
		RestartHold: true,
	}
}

// Expire handles the hold timer elapsing. It reports whether the view
// should revert to the presenter alone, which happens only when the last
// speaker was not in the audience.
func (o *Overlay) Expire() bool {
	if o.mode != types.PresenterQA || !o.shown || o.audience[o.last] {
		return false
	}
	o.shown = false
	return true
}

// PresenterView returns the connector list for the full presenter shot.
func (o *Overlay) PresenterView() []int {
	return []int{o.connector}
}

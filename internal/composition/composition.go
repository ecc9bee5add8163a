// Package composition resolves decision engine selectors into concrete
// video layouts, preset recalls and zone activations.
package composition

import (
	"context"
	"slices"

	"github.com/oszuidwest/zwfm-camswitch/internal/config"
	"github.com/oszuidwest/zwfm-camswitch/internal/types"
	"github.com/oszuidwest/zwfm-camswitch/internal/zone"
)

// Composition is an immutable mapping from microphones to a video layout.
type Composition struct {
	Name        string
	Source      types.SourceKind
	UnitAddress string
	Mics        []int
	Connectors  []int
	Layout      types.Layout
	Zone        zone.Ref
	Presets     []int
}

// FromConfig converts a configured composition.
func FromConfig(c config.Composition) Composition {
	return Composition{
		Name:        c.Name,
		Source:      c.Source,
		UnitAddress: c.UnitAddress,
		Mics:        slices.Clone(c.Mics),
		Connectors:  slices.Clone(c.Connectors),
		Layout:      c.Layout,
		Zone:        zone.Named(c.Zone),
		Presets:     slices.Clone(c.Presets),
	}
}

// IsOverview reports whether this is an overview composition (mics {0}).
func (c *Composition) IsOverview() bool {
	return len(c.Mics) == 1 && c.Mics[0] == 0
}

// Target is what the engine asks the device to show.
type Target struct {
	Composition string
	Zone        zone.Ref     // Zone to activate; None for direct connectors
	Connectors  []int        // Connectors composed in order
	Layout      types.Layout // Layout for the connectors
	Presets     []int        // Presets recalled before the source switch
}

// UsesZone reports whether the target is resolved through the zone tracker.
func (t *Target) UsesZone() bool { return !t.Zone.IsNone() }

// NeedsSettle reports whether camera motion precedes the source switch.
func (t *Target) NeedsSettle() bool { return len(t.Presets) > 0 }

// ZoneConnector resolves the connector behind a zone's primary preset.
type ZoneConnector interface {
	PrimaryConnector(ctx context.Context, ref zone.Ref) (preset, connector int, err error)
}

// Resolver maps mic ids and multi-speaker sets to targets.
// It is built once at startup and read only afterwards.
type Resolver struct {
	comps        []Composition
	topLayout    types.Layout
	defaultOrder []int

	micConnector    map[int]int    // mic -> primary connector of its composition
	connectorPreset map[int]int    // connector -> primary preset of a zone
	owners          map[int]string // connector -> aux unit address
}

// NewResolver builds a resolver over compositions in declaration order.
func NewResolver(comps []Composition, topLayout types.Layout, defaultOrder []int) *Resolver {
	r := &Resolver{
		comps:           comps,
		topLayout:       topLayout,
		defaultOrder:    slices.Clone(defaultOrder),
		micConnector:    make(map[int]int),
		connectorPreset: make(map[int]int),
		owners:          make(map[int]string),
	}
	for i := range comps {
		c := &comps[i]
		if c.Source == types.SourceAux {
			for _, conn := range c.Connectors {
				r.owners[conn] = c.UnitAddress
			}
		}
		if c.IsOverview() || !c.Zone.IsNone() || len(c.Connectors) == 0 {
			continue
		}
		for _, mic := range c.Mics {
			r.micConnector[mic] = c.Connectors[0]
		}
	}
	return r
}

// Prepare maps mics of zone-based compositions to the connector of their
// primary camera. Later compositions overwrite earlier ones.
func (r *Resolver) Prepare(ctx context.Context, zc ZoneConnector) error {
	for i := range r.comps {
		c := &r.comps[i]
		if c.IsOverview() {
			continue
		}
		if c.Zone.IsNone() {
			if len(c.Connectors) > 0 {
				for _, mic := range c.Mics {
					r.micConnector[mic] = c.Connectors[0]
				}
			}
			continue
		}
		preset, conn, err := zc.PrimaryConnector(ctx, c.Zone)
		if err != nil {
			return err
		}
		for _, mic := range c.Mics {
			r.micConnector[mic] = conn
		}
		r.connectorPreset[conn] = preset
	}
	return nil
}

// ForMic returns the composition containing mic. When several do, the last
// declared one wins.
func (r *Resolver) ForMic(mic int) (Composition, bool) {
	for i := len(r.comps) - 1; i >= 0; i-- {
		c := r.comps[i]
		if c.IsOverview() {
			continue
		}
		if slices.Contains(c.Mics, mic) {
			return c, true
		}
	}
	return Composition{}, false
}

// OverviewNames returns the overview composition names in declaration order.
func (r *Resolver) OverviewNames() []string {
	var names []string
	for i := range r.comps {
		if r.comps[i].IsOverview() {
			names = append(names, r.comps[i].Name)
		}
	}
	return names
}

// Overview returns the overview composition with the given name, falling
// back to the first declared overview.
func (r *Resolver) Overview(name string) (Composition, bool) {
	var first *Composition
	for i := range r.comps {
		c := &r.comps[i]
		if !c.IsOverview() {
			continue
		}
		if c.Name == name {
			return *c, true
		}
		if first == nil {
			first = c
		}
	}
	if first == nil {
		return Composition{}, false
	}
	return *first, true
}

// MicConnector returns the primary connector for a mic.
func (r *Resolver) MicConnector(mic int) (int, bool) {
	conn, ok := r.micConnector[mic]
	return conn, ok
}

// Target resolves a single-speaker composition.
func (r *Resolver) Target(c Composition) Target {
	if !c.Zone.IsNone() {
		return Target{Composition: c.Name, Zone: c.Zone}
	}
	return Target{Composition: c.Name, Connectors: slices.Clone(c.Connectors), Layout: c.Layout}
}

// TopConnectors turns mics above the high threshold (highest first) into the
// ordered connector list of a multi-speaker composition: connectors are
// deduplicated, truncated to maxSpeakers and reordered by the default
// connector order. Connectors missing from that order follow in speaking order.
func (r *Resolver) TopConnectors(mics []int, maxSpeakers int) []int {
	var speaking []int
	for _, mic := range mics {
		conn, ok := r.micConnector[mic]
		if !ok || slices.Contains(speaking, conn) {
			continue
		}
		speaking = append(speaking, conn)
		if len(speaking) == maxSpeakers {
			break
		}
	}

	ordered := make([]int, 0, len(speaking))
	for _, conn := range r.defaultOrder {
		if slices.Contains(speaking, conn) {
			ordered = append(ordered, conn)
		}
	}
	for _, conn := range speaking {
		if !slices.Contains(ordered, conn) {
			ordered = append(ordered, conn)
		}
	}
	return ordered
}

// MultiTarget resolves an ordered multi-speaker connector list. Connectors
// backed by a zone's primary preset get that preset recalled first.
func (r *Resolver) MultiTarget(ordered []int) Target {
	t := Target{Composition: "top-speakers", Connectors: slices.Clone(ordered), Layout: r.topLayout}
	for _, conn := range ordered {
		if preset, ok := r.connectorPreset[conn]; ok {
			t.Presets = append(t.Presets, preset)
		}
	}
	return t
}

// OverviewTarget resolves an overview composition. With presence filtering
// enabled, connectors of units that report nobody are pruned; hasPeople is
// called with the owning unit address, or "" for the local camera.
func (r *Resolver) OverviewTarget(c Composition, removeEmpty bool, localConnector int, hasPeople func(owner string) bool) Target {
	if !c.Zone.IsNone() {
		return Target{Composition: c.Name, Zone: c.Zone}
	}
	connectors := slices.Clone(c.Connectors)
	if removeEmpty {
		owners := make(map[int]string, len(r.owners)+1)
		for conn, addr := range r.owners {
			owners[conn] = addr
		}
		if localConnector > 0 {
			owners[localConnector] = ""
		}
		connectors = FilterPresence(connectors, owners, hasPeople)
	}
	return Target{
		Composition: c.Name,
		Connectors:  connectors,
		Layout:      c.Layout,
		Presets:     slices.Clone(c.Presets),
	}
}

package engine

import (
	"fmt"

	"github.com/oszuidwest/zwfm-camswitch/internal/types"
)

// SelectorKind distinguishes the three kinds of selector.
type SelectorKind int

// Selector kinds.
const (
	KindSilence SelectorKind = iota
	KindSingle
	KindMulti
)

// Selector identifies what the engine wants on air: the overview, one
// microphone's composition, or a multi-speaker connector set.
type Selector struct {
	Kind  SelectorKind
	Input int // Mic id for KindSingle
	SetID int // History identity for KindMulti
}

// Silence selects the overview composition.
var Silence = Selector{}

// Single selects the composition of one microphone.
func Single(mic int) Selector { return Selector{Kind: KindSingle, Input: mic} }

// Multi selects a multi-speaker set by its history identity.
func Multi(setID int) Selector { return Selector{Kind: KindMulti, SetID: setID} }

// IsSilence reports whether s selects the overview.
func (s Selector) IsSilence() bool { return s.Kind == KindSilence }

// Name returns the selector kind as reported in status and logs.
func (s Selector) Name() string {
	switch s.Kind {
	case KindSingle:
		return types.SelectorSingle
	case KindMulti:
		return types.SelectorMulti
	default:
		return types.SelectorSilence
	}
}

func (s Selector) String() string {
	switch s.Kind {
	case KindSingle:
		return fmt.Sprintf("single(%d)", s.Input)
	case KindMulti:
		return fmt.Sprintf("multi(%d)", s.SetID)
	default:
		return "silence"
	}
}

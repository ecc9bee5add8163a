package engine

import (
	"context"
	"log/slog"

	"github.com/oszuidwest/zwfm-camswitch/internal/audio"
	"github.com/oszuidwest/zwfm-camswitch/internal/timer"
)

// evaluate selects the loudest input and applies the hysteresis rules.
func (e *Engine) evaluate(ctx context.Context) {
	sorted := e.levels.Sorted()
	if len(sorted) == 0 {
		return
	}
	top := sorted[len(sorted)-1]
	e.apply(ctx, e.selectInput(sorted), top.Average, true)
}

// selectInput returns the loudest channel, or a multi-speaker set when two
// or more distinct connectors are above the high threshold. Among equal
// averages the later-declared channel wins because sorted is stable.
func (e *Engine) selectInput(sorted []audio.Reading) Selector {
	top := sorted[len(sorted)-1]
	single := Single(top.ID)
	if !e.cfg.topSpeakers || e.cfg.maxSpeakers < 2 || e.presenterEngaged() {
		return single
	}

	var loud []int
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].Average > e.cfg.high {
			loud = append(loud, sorted[i].ID)
		}
	}
	ordered := e.resolver.TopConnectors(loud, e.cfg.maxSpeakers)
	if len(ordered) < 2 {
		return single
	}
	return Multi(e.history.Identify(ordered))
}

// handleExternal applies a report from an external controller. Reports do
// not pass through averaging: an active mic is an instantaneous reading
// above the high threshold and mic 0 one below the low threshold.
func (e *Engine) handleExternal(ctx context.Context, mic int) {
	if !e.switching() {
		slog.Debug("external mic report ignored", "mic", mic)
		return
	}
	if mic == 0 {
		e.apply(ctx, Silence, e.cfg.low-1, true)
		return
	}
	e.apply(ctx, Single(mic), e.cfg.high+1, true)
}

// apply runs the hysteresis state machine for one evaluation. hasInput is
// false when no channel produced a reading.
func (e *Engine) apply(ctx context.Context, sel Selector, avg float64, hasInput bool) {
	e.lastAverage = avg
	e.lastHadInput = hasInput
	if e.state.PermanentOverview {
		sel = Silence
	}

	switch {
	case avg > e.cfg.high:
		e.timers.Restart(timer.SideBySide)
		e.state.AllowSideBySide = false
		if sel.IsSilence() {
			return
		}
		e.state.LowRecalled = false
		switch {
		case e.state.Last.IsSilence():
			e.switchTo(ctx, sel, avg)
		case e.state.Last == sel:
			e.restartNewSpeaker()
		case e.state.AllowNewSpeaker:
			e.switchTo(ctx, sel, avg)
		}

	case avg < e.cfg.low:
		if e.state.AllowSideBySide && hasInput && !e.state.LowRecalled {
			e.recallOverview(ctx, avg)
		}
	}
}

func (e *Engine) restartNewSpeaker() {
	e.timers.Restart(timer.NewSpeaker)
	e.state.AllowNewSpeaker = false
}

// Package audio keeps smoothed microphone levels for the switching engine.
package audio

import (
	"slices"
	"sync"

	"github.com/oszuidwest/zwfm-camswitch/internal/types"
)

// WindowSize is the number of samples averaged per microphone.
const WindowSize = 4

// Channel is one monitored microphone with its recent level samples.
type Channel struct {
	ID       int
	Category types.MicCategory
	samples  [WindowSize]int
	next     int
}

// push stores a sample, evicting the oldest one.
func (c *Channel) push(level int) {
	c.samples[c.next] = level
	c.next = (c.next + 1) % WindowSize
}

// average returns the arithmetic mean of the window.
func (c *Channel) average() float64 {
	sum := 0
	for _, s := range c.samples {
		sum += s
	}
	return float64(sum) / WindowSize
}

// Reading is the averaged level of one channel.
type Reading struct {
	ID       int               `json:"id"`
	Category types.MicCategory `json:"category"`
	Average  float64           `json:"average"`
}

// Monitor tracks averaged levels for every configured microphone.
// It is safe for concurrent use.
type Monitor struct {
	mu       sync.RWMutex
	channels map[int]*Channel
	order    []int // declaration order: analog, ethernet, usb
}

// NewMonitor creates an empty monitor. Call Configure before ingesting.
func NewMonitor() *Monitor {
	return &Monitor{channels: make(map[int]*Channel)}
}

// Configure replaces the monitored channels. External mics are not averaged
// and are never registered here.
func (m *Monitor) Configure(analog, ethernet, usb []int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.channels = make(map[int]*Channel, len(analog)+len(ethernet)+len(usb))
	m.order = m.order[:0]
	add := func(ids []int, cat types.MicCategory) {
		for _, id := range ids {
			if _, dup := m.channels[id]; dup {
				continue
			}
			m.channels[id] = &Channel{ID: id, Category: cat}
			m.order = append(m.order, id)
		}
	}
	add(analog, types.MicAnalog)
	add(ethernet, types.MicEthernet)
	add(usb, types.MicUSB)
}

// Ingest pushes a level sample for a channel. Unknown channels are ignored,
// which drops events from registrations that predate a reconfiguration.
func (m *Monitor) Ingest(id, level int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[id]
	if !ok {
		return
	}
	ch.push(min(max(level, 0), 100))
}

// Average returns the mean level of a channel.
func (m *Monitor) Average(id int) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[id]
	if !ok {
		return 0, false
	}
	return ch.average(), true
}

// Readings returns the average of every channel in declaration order.
func (m *Monitor) Readings() []Reading {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Reading, 0, len(m.order))
	for _, id := range m.order {
		ch := m.channels[id]
		out = append(out, Reading{ID: id, Category: ch.Category, Average: ch.average()})
	}
	return out
}

// Sorted returns readings ordered by ascending average. The sort is stable
// over declaration order, so among equal averages the later-declared channel
// comes last and wins when the caller takes the final entry.
func (m *Monitor) Sorted() []Reading {
	readings := m.Readings()
	slices.SortStableFunc(readings, func(a, b Reading) int {
		switch {
		case a.Average < b.Average:
			return -1
		case a.Average > b.Average:
			return 1
		}
		return 0
	})
	return readings
}

// Reset zeroes every sample window.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.channels {
		ch.samples = [WindowSize]int{}
		ch.next = 0
	}
}

// IDs returns the monitored channel ids in declaration order.
func (m *Monitor) IDs() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.order)
}

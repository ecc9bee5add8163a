// Package unit coordinates auxiliary units: it broadcasts control tokens
// and tracks the liveness and presence each unit reports back.
package unit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-camswitch/internal/protocol"
	"github.com/oszuidwest/zwfm-camswitch/internal/types"
)

// ErrQueueFull is returned by Broadcast when the outbound queue is full.
var ErrQueueFull = errors.New("unit send queue full")

// Transport delivers one envelope to one unit.
type Transport interface {
	Send(ctx context.Context, address string, env protocol.Envelope) error
}

type unitState struct {
	enabled   bool
	online    bool
	hasPeople bool
	lastSeen  time.Time
}

// Options configures a Coordinator.
type Options struct {
	Self      string        // Address used as envelope source
	QueueSize int           // Outbound queue bound
	Timeout   time.Duration // Per-send timeout
	Alert     func(error)   // Receives UnitCommunicationError values
	Online    func(string)  // Called with the address of a unit that comes back online
}

// Coordinator owns the status of every configured auxiliary unit.
// It is safe for concurrent use.
type Coordinator struct {
	mu    sync.RWMutex
	order []string
	units map[string]*unitState

	transport Transport
	queue     chan protocol.Token
	opts      Options
}

// NewCoordinator creates a coordinator for the given unit addresses.
// Units start enabled, offline and with people present so overview
// layouts are not pruned before the first presence report.
func NewCoordinator(addresses []string, transport Transport, opts Options) *Coordinator {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	c := &Coordinator{
		units:     make(map[string]*unitState, len(addresses)),
		transport: transport,
		queue:     make(chan protocol.Token, opts.QueueSize),
		opts:      opts,
	}
	for _, addr := range addresses {
		if _, dup := c.units[addr]; dup {
			continue
		}
		c.order = append(c.order, addr)
		c.units[addr] = &unitState{enabled: true, hasPeople: true}
	}
	return c
}

// Run sends queued tokens until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case token := <-c.queue:
			c.deliver(ctx, token)
		}
	}
}

// Broadcast queues token for delivery to every enabled unit. It never
// blocks; a full queue yields ErrQueueFull.
func (c *Coordinator) Broadcast(token protocol.Token) error {
	if len(c.order) == 0 {
		return nil
	}
	select {
	case c.queue <- token:
		return nil
	default:
		slog.Warn("unit queue full, dropping token", "token", token)
		return ErrQueueFull
	}
}

// Probe marks every unit offline and broadcasts a status probe. Units are
// marked online again only when they acknowledge.
func (c *Coordinator) Probe() error {
	c.mu.Lock()
	for _, u := range c.units {
		u.online = false
	}
	c.mu.Unlock()
	return c.Broadcast(protocol.StatusProbe)
}

// HandleReport applies a token received from a unit. It reports whether
// the report changed any state. Unknown units and tokens are ignored.
func (c *Coordinator) HandleReport(address string, token protocol.Token) bool {
	changed, online := c.apply(address, token)
	if online && c.opts.Online != nil {
		c.opts.Online(address)
	}
	return changed
}

// apply updates unit state and reports whether it changed and whether the
// unit just came online.
func (c *Coordinator) apply(address string, token protocol.Token) (changed, online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.units[address]
	if !ok {
		slog.Debug("report from unknown unit ignored", "address", address, "token", token)
		return false, false
	}
	u.lastSeen = time.Now()

	switch token {
	case protocol.StatusOK:
		changed = !u.online
		u.online = true
		return changed, changed
	case protocol.PresenceYes:
		changed = !u.hasPeople
		u.hasPeople = true
	case protocol.PresenceNo:
		changed = u.hasPeople
		u.hasPeople = false
	}
	return changed, false
}

// HasPeople reports the last presence state of a unit. Unknown units
// report true.
func (c *Coordinator) HasPeople(address string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if u, ok := c.units[address]; ok {
		return u.hasPeople
	}
	return true
}

// SetEnabled includes or excludes a unit from broadcasts.
func (c *Coordinator) SetEnabled(address string, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if u, ok := c.units[address]; ok {
		u.enabled = enabled
	}
}

// Statuses returns a copy of every unit status in configuration order.
func (c *Coordinator) Statuses() []types.UnitStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.UnitStatus, 0, len(c.order))
	for _, addr := range c.order {
		u := c.units[addr]
		out = append(out, types.UnitStatus{
			Address:   addr,
			Enabled:   u.enabled,
			Online:    u.online,
			HasPeople: u.hasPeople,
			LastSeen:  u.lastSeen,
		})
	}
	return out
}

func (c *Coordinator) enabledUnits() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.order))
	for _, addr := range c.order {
		if c.units[addr].enabled {
			out = append(out, addr)
		}
	}
	return out
}

func (c *Coordinator) deliver(ctx context.Context, token protocol.Token) {
	for _, addr := range c.enabledUnits() {
		env := protocol.NewEnvelope(c.opts.Self, token)
		sendCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		err := c.transport.Send(sendCtx, addr, env)
		cancel()
		if err == nil {
			slog.Debug("unit token sent", "address", addr, "token", token)
			continue
		}
		unitErr := &types.UnitCommunicationError{Address: addr, Token: string(token), Err: err}
		slog.Error("unit send failed", "address", addr, "token", token, "error", err)
		if c.opts.Alert != nil {
			c.opts.Alert(unitErr)
		}
	}
}

// Package notify delivers operator alerts to the room panel, a webhook,
// Microsoft Graph email, Zabbix and the event log.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-camswitch/internal/config"
	"github.com/oszuidwest/zwfm-camswitch/internal/eventlog"
	"github.com/oszuidwest/zwfm-camswitch/internal/types"
	"github.com/oszuidwest/zwfm-camswitch/internal/util"
)

const (
	// PanelAlertDuration is how long an alert stays on the room panel.
	PanelAlertDuration = 30 * time.Second

	sendTimeout = 2 * time.Minute
)

// Panel shows alerts on the room device.
type Panel interface {
	Alert(ctx context.Context, title, text string, duration time.Duration) error
}

// Recorder stores alerts in the event log.
type Recorder interface {
	LogMessage(eventType eventlog.EventType, message string) error
}

// Alert is one raise or clear of an operator alert.
type Alert struct {
	Key      string
	Title    string
	Text     string
	Cleared  bool
	Duration time.Duration // Time the alert was active, set when cleared
	Time     time.Time
}

// Notifier fans operator alerts out to every configured channel. An alert
// is identified by its key and is sent once until it is cleared.
type Notifier struct {
	cfg   *config.Config
	panel Panel
	rec   Recorder

	// mu protects the fields below
	mu          sync.Mutex
	active      map[string]time.Time
	graphClient *GraphClient

	wg sync.WaitGroup
}

// New returns a Notifier. panel and rec may be nil.
func New(cfg *config.Config, panel Panel, rec Recorder) *Notifier {
	return &Notifier{
		cfg:    cfg,
		panel:  panel,
		rec:    rec,
		active: make(map[string]time.Time),
	}
}

// Raise sends an alert unless one with the same key is outstanding. It
// reports whether the alert was sent.
func (n *Notifier) Raise(key, title, text string) bool {
	now := time.Now()
	n.mu.Lock()
	if _, ok := n.active[key]; ok {
		n.mu.Unlock()
		return false
	}
	n.active[key] = now
	n.mu.Unlock()

	slog.Warn("operator alert raised", "key", key, "title", title, "text", text)
	n.dispatch(&Alert{Key: key, Title: title, Text: text, Time: now})
	return true
}

// Clear sends a recovery for key if an alert was raised for it.
func (n *Notifier) Clear(key, text string) bool {
	now := time.Now()
	n.mu.Lock()
	raised, ok := n.active[key]
	delete(n.active, key)
	n.mu.Unlock()
	if !ok {
		return false
	}

	slog.Info("operator alert cleared", "key", key, "text", text)
	n.dispatch(&Alert{Key: key, Title: "Resolved", Text: text, Cleared: true, Duration: now.Sub(raised), Time: now})
	return true
}

// RaiseError raises an alert for a typed error. Unit communication
// failures are keyed per unit so each can be cleared on its own.
func (n *Notifier) RaiseError(err error) {
	var (
		unitErr *types.UnitCommunicationError
		verr    *types.ValidationError
		devErr  *types.DeviceCommandError
	)
	switch {
	case errors.As(err, &unitErr):
		n.Raise(UnitKey(unitErr.Address), "Unit unreachable", unitErr.Error())
	case errors.As(err, &verr):
		n.Raise(KeyConfig, "Configuration error", verr.Error())
	case errors.As(err, &devErr):
		n.Raise(KeyDevice, "Device command failed", devErr.Error())
	default:
		n.Raise(KeyGeneral, "Controller error", err.Error())
	}
}

// Active returns the keys of outstanding alerts in sorted order.
func (n *Notifier) Active() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	keys := make([]string, 0, len(n.active))
	for k := range n.active {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// InvalidateGraphClient clears the cached Graph client.
// Call this when Graph configuration changes.
func (n *Notifier) InvalidateGraphClient() {
	n.mu.Lock()
	n.graphClient = nil
	n.mu.Unlock()
}

// Wait blocks until every in-flight delivery has finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) dispatch(a *Alert) {
	cfg := n.cfg.Snapshot()

	if n.rec != nil {
		msg := a.Key + ": " + a.Title + ": " + a.Text
		if err := n.rec.LogMessage(eventlog.Alert, msg); err != nil {
			slog.Warn("failed to log event", "error", err)
		}
	}
	if !a.Cleared && cfg.DeviceAlerts && n.panel != nil {
		n.send("panel", func(ctx context.Context) error {
			return n.panel.Alert(ctx, a.Title, a.Text, PanelAlertDuration)
		})
	}
	if cfg.HasWebhook() {
		url := cfg.WebhookURL
		n.send("webhook", func(ctx context.Context) error {
			return sendWebhook(ctx, url, alertWebhook(a))
		})
	}
	if cfg.HasGraph() {
		graphCfg := BuildGraphConfig(&cfg)
		n.send("email", func(ctx context.Context) error {
			return n.sendEmail(ctx, graphCfg, a)
		})
	}
	if cfg.HasZabbix() {
		target := zabbixTarget{Server: cfg.ZabbixServer, Port: cfg.ZabbixPort, Host: cfg.ZabbixHost, Key: cfg.ZabbixKey}
		n.send("zabbix", func(ctx context.Context) error {
			return sendZabbix(ctx, target, alertZabbix(a))
		})
	}
}

// send delivers on one channel in the background.
func (n *Notifier) send(channel string, fn func(ctx context.Context) error) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		util.LogNotifyResult(func() error { return fn(ctx) }, channel)
	}()
}

func (n *Notifier) sendEmail(ctx context.Context, cfg *types.GraphConfig, a *Alert) error {
	client, err := n.graph(cfg)
	if err != nil {
		return util.WrapError("create Graph client", err)
	}
	subject, body := alertEmail(a)
	if err := client.SendMail(ctx, ParseRecipients(cfg.Recipients), subject, body); err != nil {
		return util.WrapError("send email via Graph", err)
	}
	return nil
}

// graph returns the cached Graph client, creating it if needed.
func (n *Notifier) graph(cfg *types.GraphConfig) (*GraphClient, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.graphClient != nil {
		return n.graphClient, nil
	}
	client, err := NewGraphClient(cfg)
	if err != nil {
		return nil, err
	}
	n.graphClient = client
	return client, nil
}

// Alert keys.
const (
	KeyConfig   = "config"
	KeyDevice   = "device"
	KeyFirmware = "firmware"
	KeyGeneral  = "general"
)

// UnitKey returns the alert key for an auxiliary unit.
func UnitKey(address string) string {
	return "unit:" + address
}

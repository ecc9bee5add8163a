package server

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/oszuidwest/zwfm-camswitch/internal/config"
	"github.com/oszuidwest/zwfm-camswitch/internal/engine"
	"github.com/oszuidwest/zwfm-camswitch/internal/types"
)

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Engine is the part of the decision engine driven from the panel.
type Engine interface {
	HandleWidget(w engine.WidgetEvent) error
	Snapshot() types.EngineStatus
	Overviews() []string
}

// Units is the part of the unit coordinator driven from the panel.
type Units interface {
	Probe() error
	SetEnabled(address string, enabled bool)
	Statuses() []types.UnitStatus
}

// Notifier is notified when alert channel settings change.
type Notifier interface {
	InvalidateGraphClient()
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg      *config.Config
	engine   Engine
	units    Units
	notifier Notifier
}

// NewCommandHandler creates a new command handler. eng is nil on
// auxiliary units and units is nil on installations without them.
func NewCommandHandler(cfg *config.Config, eng Engine, units Units, notifier Notifier) *CommandHandler {
	return &CommandHandler{
		cfg:      cfg,
		engine:   eng,
		units:    units,
		notifier: notifier,
	}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g. "engine/mode",
// "notifications/webhook/test").
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	parts := strings.SplitN(cmd.Type, "/", 3)
	namespace := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	subaction := ""
	if len(parts) > 2 {
		subaction = parts[2]
	}

	switch namespace {
	case "engine":
		h.handleEngine(action, cmd, send)
	case "units":
		h.handleUnits(action, cmd, send)
	case "notifications":
		h.handleNotifications(action, subaction, cmd, send)
	case "config":
		h.handleConfig(action, send)
	case "status":
		if action != "get" {
			slog.Warn("unknown status action", "action", action)
		}
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
	}

	triggerStatusUpdate()
}

// handleEngine routes engine/* commands
func (h *CommandHandler) handleEngine(action string, cmd WSCommand, send chan<- any) {
	if h.engine == nil {
		SendError(send, cmd.Type, errNoEngine)
		return
	}
	switch action {
	case "widget":
		HandleCommand(cmd, send, func(req *WidgetRequest) error {
			return h.engine.HandleWidget(engine.WidgetEvent{WidgetID: req.WidgetID, Value: req.Value})
		})
	case "mode":
		HandleCommand(cmd, send, func(req *ModeRequest) error {
			slog.Info("automation mode requested from panel", "automatic", *req.Automatic)
			return h.engine.HandleWidget(engine.ModeWidget(*req.Automatic))
		})
	case "overview":
		HandleCommand(cmd, send, h.selectOverview)
	default:
		slog.Warn("unknown engine action", "action", action)
	}
}

func (h *CommandHandler) selectOverview(req *OverviewRequest) error {
	for i, name := range h.engine.Overviews() {
		if name == req.Name {
			return h.engine.HandleWidget(engine.OverviewWidget(i + 1))
		}
	}
	verr := types.NewValidationError()
	verr.Add("name", "is not an overview composition", req.Name)
	return verr
}

// handleUnits routes units/* commands
func (h *CommandHandler) handleUnits(action string, cmd WSCommand, send chan<- any) {
	if h.units == nil {
		SendError(send, cmd.Type, errNoUnits)
		return
	}
	switch action {
	case "probe":
		if err := h.units.Probe(); err != nil {
			SendError(send, cmd.Type, err)
			return
		}
		SendSuccess(send, cmd.Type, nil)
	case "enable":
		HandleCommand(cmd, send, func(req *UnitEnableRequest) error {
			h.units.SetEnabled(req.Address, *req.Enabled)
			slog.Info("unit enabled state changed", "address", req.Address, "enabled", *req.Enabled)
			return nil
		})
	case "get":
		SendSuccess(send, cmd.Type, h.units.Statuses())
	default:
		slog.Warn("unknown units action", "action", action)
	}
}

// handleNotifications routes notifications/*/* commands
func (h *CommandHandler) handleNotifications(action, subaction string, cmd WSCommand, send chan<- any) {
	switch action {
	case "webhook", "email", "zabbix":
		switch subaction {
		case "update":
			h.handleChannelUpdate(action, cmd, send)
		case "test":
			h.handleTest(send, action)
		default:
			slog.Warn("unknown notification channel action", "channel", action, "subaction", subaction)
		}
	case "log":
		switch subaction {
		case "view":
			h.handleViewLog(cmd, send)
		default:
			slog.Warn("unknown log action", "subaction", subaction)
		}
	default:
		slog.Warn("unknown notifications action", "action", action)
	}
}

// handleConfig routes config/* commands
func (h *CommandHandler) handleConfig(action string, send chan<- any) {
	switch action {
	case "get":
		SendSuccess(send, "config/get", PublicConfig(h.cfg.Snapshot()))
	default:
		slog.Warn("unknown config action", "action", action)
	}
}

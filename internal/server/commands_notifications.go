package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oszuidwest/zwfm-camswitch/internal/eventlog"
	"github.com/oszuidwest/zwfm-camswitch/internal/notify"
	"github.com/oszuidwest/zwfm-camswitch/internal/types"
)

const (
	testTimeout     = 90 * time.Second
	defaultLogLimit = 100
)

// runTest sends a test notification on one channel.
func (h *CommandHandler) runTest(ctx context.Context, channel string) error {
	cfg := h.cfg.Snapshot()
	switch channel {
	case "webhook":
		return notify.SendTestWebhook(ctx, cfg.WebhookURL)
	case "email":
		return notify.SendTestEmail(ctx, notify.BuildGraphConfig(&cfg))
	case "zabbix":
		return notify.SendTestZabbix(ctx, cfg.ZabbixServer, cfg.ZabbixPort, cfg.ZabbixHost, cfg.ZabbixKey)
	default:
		return fmt.Errorf("unknown test type: %s", channel)
	}
}

// handleTest executes a notification test and sends the result to the client.
func (h *CommandHandler) handleTest(send chan<- any, channel string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in test handler", "channel", channel, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()

		result := types.WSTestResult{
			Type:     "test_result",
			TestType: channel,
			Success:  true,
		}
		if err := h.runTest(ctx, channel); err != nil {
			slog.Error("notification test failed", "channel", channel, "error", err)
			result.Success = false
			result.Error = err.Error()
		} else {
			slog.Info("notification test succeeded", "channel", channel)
		}
		trySend(send, "test_"+channel, result)
	}()
}

// handleViewLog returns the newest decision log entries.
func (h *CommandHandler) handleViewLog(cmd WSCommand, send chan<- any) {
	req := LogViewRequest{Limit: defaultLogLimit}
	if len(cmd.Data) > 0 && !DecodeAndValidate(cmd, send, &req) {
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultLogLimit
	}

	HandleActionAsync(cmd, send, func() (any, error) {
		path := h.cfg.Snapshot().LogPath
		if path == "" {
			return nil, fmt.Errorf("event log path not configured")
		}
		events, more, err := eventlog.ReadLast(path, req.Limit, req.Offset, eventlog.TypeFilter(req.Filter))
		if err != nil {
			return nil, err
		}
		return types.DecisionLogPage{Entries: events, More: more, Path: path}, nil
	})
}

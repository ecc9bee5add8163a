package util

import "log/slog"

// LogNotifyResult executes a notification function and logs the result.
func LogNotifyResult(fn func() error, channel string) {
	if err := fn(); err != nil {
		slog.Error("operator alert failed", "channel", channel, "error", err)
		return
	}
	slog.Debug("operator alert sent", "channel", channel)
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-camswitch/internal/notify"
	"github.com/oszuidwest/zwfm-camswitch/internal/types"
	"github.com/oszuidwest/zwfm-camswitch/internal/util"
	"golang.org/x/mod/semver"
)

const (
	firmwareCheckTimeout = 10 * time.Second
	firmwareMaxRetries   = 3
)

// deviceVersionPattern matches the numeric part of strings such as
// "ce11.14.2.3 a1b2c3d" or "RoomOS 11.14.2.3".
var deviceVersionPattern = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)

// VersionSource reports the device software version.
type VersionSource interface {
	SoftwareVersion(ctx context.Context) (string, error)
}

// AlertSink receives firmware alerts.
type AlertSink interface {
	Raise(key, title, text string) bool
	Clear(key, text string) bool
}

// FirmwareChecker compares the device software version to the configured
// minimum. It is safe for concurrent use.
type FirmwareChecker struct {
	dev     VersionSource
	minimum string
	alerts  AlertSink
	backoff *util.Backoff

	mu   sync.RWMutex
	info types.FirmwareInfo
}

// NewFirmwareChecker returns a checker for the given minimum version.
func NewFirmwareChecker(dev VersionSource, minimum string, alerts AlertSink) *FirmwareChecker {
	return &FirmwareChecker{
		dev:     dev,
		minimum: minimum,
		alerts:  alerts,
		backoff: util.NewBackoff(time.Second, 5*time.Second),
		info:    types.FirmwareInfo{Minimum: minimum, Supported: true},
	}
}

// Check reads the device version, retrying on failure, and raises or
// clears the firmware alert.
func (fc *FirmwareChecker) Check(ctx context.Context) types.FirmwareInfo {
	var (
		version string
		err     error
	)
	fc.backoff.Reset()
	for attempt := range firmwareMaxRetries {
		reqCtx, cancel := context.WithTimeout(ctx, firmwareCheckTimeout)
		version, err = fc.dev.SoftwareVersion(reqCtx)
		cancel()
		if err == nil || attempt == firmwareMaxRetries-1 {
			break
		}
		if fc.backoff.Wait(ctx) != nil {
			break
		}
	}

	info := types.FirmwareInfo{Current: version, Minimum: fc.minimum}
	if err != nil {
		info.Supported = true
		info.Error = err.Error()
		slog.Warn("device firmware version unavailable", "error", err)
	} else {
		info.Supported, err = firmwareSupported(version, fc.minimum)
		if err != nil {
			info.Supported = true
			info.Error = err.Error()
			slog.Warn("device firmware version not understood", "version", version, "error", err)
		}
	}

	fc.mu.Lock()
	fc.info = info
	fc.mu.Unlock()

	switch {
	case info.Error != "":
	case !info.Supported:
		slog.Error("device firmware below minimum", "version", version, "minimum", fc.minimum)
		fc.alerts.Raise(notify.KeyFirmware, "Unsupported device firmware",
			fmt.Sprintf("device runs %s, at least %s is required", version, fc.minimum))
	default:
		slog.Info("device firmware supported", "version", version, "minimum", fc.minimum)
		fc.alerts.Clear(notify.KeyFirmware, "device firmware "+version+" is supported")
	}
	return info
}

// Info returns the result of the last check.
func (fc *FirmwareChecker) Info() types.FirmwareInfo {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	return fc.info
}

// deviceSemver converts a device version string to canonical semver.
func deviceSemver(v string) (string, bool) {
	m := deviceVersionPattern.FindStringSubmatch(v)
	if m == nil {
		return "", false
	}
	canon := semver.Canonical("v" + m[1] + "." + m[2] + "." + m[3])
	return canon, canon != ""
}

// firmwareSupported reports whether version is at least minimum.
func firmwareSupported(version, minimum string) (bool, error) {
	current, ok := deviceSemver(version)
	if !ok {
		return false, fmt.Errorf("invalid device version %q", version)
	}
	floor, ok := deviceSemver(strings.TrimSpace(minimum))
	if !ok {
		return false, fmt.Errorf("invalid minimum version %q", minimum)
	}
	return semver.Compare(current, floor) >= 0, nil
}

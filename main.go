// Package main runs a voice-activated camera switching controller for a
// video conferencing room device.
//
// Usage:
//
//	camswitch [-config path/to/config.json] [-role main|aux]
//
// If -config is not specified, camswitch looks for config.json in the same
// directory as the binary. The main unit switches cameras; an auxiliary
// unit drives its own device on behalf of the main unit.
package main

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-camswitch/internal/auxunit"
	"github.com/oszuidwest/zwfm-camswitch/internal/config"
	"github.com/oszuidwest/zwfm-camswitch/internal/engine"
	"github.com/oszuidwest/zwfm-camswitch/internal/eventlog"
	"github.com/oszuidwest/zwfm-camswitch/internal/notify"
	"github.com/oszuidwest/zwfm-camswitch/internal/server"
	"github.com/oszuidwest/zwfm-camswitch/internal/types"
	"github.com/oszuidwest/zwfm-camswitch/internal/unit"
	"github.com/oszuidwest/zwfm-camswitch/internal/util"
	"github.com/oszuidwest/zwfm-camswitch/internal/xapi"
)

// Build information, set with -ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	roleFlag := flag.String("role", "", "Unit role, main or aux (default: from config)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	slog.Info("using config file", "path", *configPath)

	cfg := config.New(*configPath)
	var configErr *types.ValidationError
	if err := cfg.Load(); err != nil {
		if !errors.As(err, &configErr) {
			slog.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		slog.Error("configuration invalid, automation disabled", "error", err)
	}

	snap := cfg.Snapshot()
	role := cmp.Or(*roleFlag, snap.Role)
	if role != config.RoleMain && role != config.RoleAux {
		slog.Error("invalid role", "role", role)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), util.ShutdownSignals()...)
	defer stop()

	app, err := newApp(cfg, &snap, role)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	if configErr != nil && app.engine != nil {
		app.engine.Disable(configErr)
	}

	if err := app.run(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

// app holds the components of one running unit.
type app struct {
	cfg      *config.Config
	dev      *xapi.Client
	logger   *eventlog.Logger
	archiver *eventlog.Archiver
	notifier *notify.Notifier
	firmware *FirmwareChecker
	engine   *engine.Engine
	units    *unit.Coordinator
	aux      *auxunit.Responder
	server   *Server
}

func newApp(cfg *config.Config, snap *config.Snapshot, role string) (*app, error) {
	a := &app{cfg: cfg}

	if snap.HasLogPath() {
		logger, err := eventlog.NewLogger(snap.LogPath)
		if err != nil {
			return nil, util.WrapError("open event log", err)
		}
		a.logger = logger
		if snap.HasArchive() {
			s3cfg := eventlog.S3Config{
				Endpoint:        snap.Archive.Endpoint,
				Bucket:          snap.Archive.Bucket,
				AccessKeyID:     snap.Archive.AccessKeyID,
				SecretAccessKey: snap.Archive.SecretAccessKey,
				Prefix:          snap.Archive.Prefix,
			}
			a.archiver = eventlog.NewArchiver(logger, eventlog.NewS3Client(s3cfg), s3cfg, snap.ArchiveInterval())
		}
	}

	var onConnect func(ctx context.Context)
	a.dev = xapi.New(xapi.Options{
		URL:         snap.DeviceURL,
		Username:    snap.DeviceUser,
		Password:    snap.DevicePassword,
		InsecureTLS: snap.InsecureTLS,
		OnConnect: func(ctx context.Context) {
			if onConnect != nil {
				onConnect(ctx)
			}
		},
	})

	var alertLog notify.Recorder
	if a.logger != nil {
		alertLog = a.logger
	}
	a.notifier = notify.New(cfg, a.dev, alertLog)
	a.firmware = NewFirmwareChecker(a.dev, snap.MinFirmware, a.notifier)

	var err error
	switch role {
	case config.RoleAux:
		onConnect, err = a.setupAux(snap)
	default:
		onConnect = a.setupMain(snap)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// setupMain wires the decision engine and the unit coordinator.
func (a *app) setupMain(snap *config.Snapshot) func(ctx context.Context) {
	addresses := snap.UnitAddresses()
	self := ""
	if len(addresses) > 0 {
		self = localAddress(addresses[0], snap.UnitPort)
	}
	a.units = unit.NewCoordinator(addresses, unit.NewHTTPTransport(snap.UnitPort), unit.Options{
		Self:      self,
		QueueSize: snap.UnitQueueSize,
		Timeout:   snap.UnitTimeout,
		Alert:     a.notifier.RaiseError,
		Online: func(address string) {
			a.notifier.Clear(notify.UnitKey(address), "unit "+address+" is responding")
		},
	})

	var decisions engine.Recorder
	if a.logger != nil {
		decisions = a.logger
	}
	a.engine = engine.New(snap, a.dev, a.units,
		engine.WithRecorder(decisions),
		engine.WithAlerter(a.notifier),
		engine.WithOverviewSelected(func(name string) {
			if err := a.cfg.SetSelectedOverview(name); err != nil {
				slog.Error("failed to save overview selection", "name", name, "error", err)
			}
		}),
	)
	subscribeFeedback(a.dev, a.engine)

	var units server.Units
	if len(addresses) > 0 {
		units = a.units
	}
	a.server = NewServer(a.cfg, ServerOptions{
		Device:   a.dev,
		Engine:   a.engine,
		Units:    units,
		Firmware: a.firmware,
		Notifier: a.notifier,
	})

	return func(ctx context.Context) {
		if err := a.engine.Post(engine.DeviceConnected{}); err != nil {
			slog.Error("failed to queue device connect", "error", err)
		}
		a.firmware.Check(ctx)
	}
}

// setupAux wires the auxiliary unit responder.
func (a *app) setupAux(snap *config.Snapshot) (func(ctx context.Context), error) {
	if snap.MainUnitAddress == "" {
		return nil, errors.New("units.main_address is required for the aux role")
	}
	a.aux = auxunit.New(a.dev, unit.NewHTTPTransport(snap.UnitPort), auxunit.Options{
		Self:           localAddress(snap.MainUnitAddress, snap.UnitPort),
		Main:           snap.MainUnitAddress,
		OverviewPreset: snap.OverviewPreset,
		Timeout:        snap.UnitTimeout,
	})

	a.dev.Subscribe(xapi.QueryPeopleCount, func(params json.RawMessage) {
		if n, ok := xapi.IntValue(params, xapi.QueryPeopleCount); ok {
			go a.reportPeople(n)
		}
	})

	a.server = NewServer(a.cfg, ServerOptions{
		Device:   a.dev,
		Aux:      a.aux,
		Firmware: a.firmware,
		Notifier: a.notifier,
	})

	return func(ctx context.Context) {
		if err := a.dev.SetSpeakerTrack(ctx, true); err != nil {
			a.notifier.RaiseError(&types.DeviceCommandError{Command: "Cameras SpeakerTrack Activate", Err: err})
		}
		if n, err := a.dev.PeopleCount(ctx); err == nil {
			a.reportPeople(n)
		}
		a.firmware.Check(ctx)
	}, nil
}

func (a *app) reportPeople(count int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.aux.ReportPeople(ctx, count); err != nil {
		slog.Warn("presence report failed", "error", err)
		a.notifier.RaiseError(err)
	}
}

// run starts every component and blocks until ctx is cancelled.
func (a *app) run(ctx context.Context) error {
	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			slog.Debug("component stopped", "component", name)
		}()
	}

	start("device", func(ctx context.Context) {
		if err := a.dev.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("device client stopped", "error", err)
		}
	})
	if a.engine != nil {
		start("engine", a.engine.Run)
		start("units", a.units.Run)
	}
	if a.archiver != nil {
		start("archive", a.archiver.Run)
	}

	httpServer := a.server.Start()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, util.WrapError("shut down HTTP server", err))
	}
	wg.Wait()
	a.notifier.Wait()
	if a.logger != nil {
		errs = append(errs, util.WrapError("close event log", a.logger.Close()))
	}
	return util.JoinErrors(errs...)
}

// localAddress returns the local IPv4 address used to reach peer.
func localAddress(peer string, port int) string {
	conn, err := net.Dial("udp4", net.JoinHostPort(peer, strconv.Itoa(port)))
	if err != nil {
		slog.Warn("cannot determine local address", "peer", peer, "error", err)
		return ""
	}
	defer util.SafeCloseFunc(conn, "address probe")()
	return util.HostOf(conn.LocalAddr().String())
}

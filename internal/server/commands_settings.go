package server

import (
	"errors"
	"log/slog"
	"time"

	"github.com/oszuidwest/zwfm-camswitch/internal/config"
	"github.com/oszuidwest/zwfm-camswitch/internal/types"
)

var (
	errNoUnits  = errors.New("no auxiliary units configured")
	errNoEngine = errors.New("switching runs on the main unit")
)

// handleChannelUpdate processes notifications/<channel>/update commands.
func (h *CommandHandler) handleChannelUpdate(channel string, cmd WSCommand, send chan<- any) {
	switch channel {
	case "webhook":
		HandleCommand(cmd, send, func(req *WebhookUpdateRequest) error {
			return h.cfg.SetWebhookURL(req.URL)
		})
	case "email":
		HandleCommand(cmd, send, func(req *EmailUpdateRequest) error {
			if err := h.cfg.SetGraphConfig(req.TenantID, req.ClientID, req.ClientSecret, req.FromAddress, req.Recipients); err != nil {
				return err
			}
			if h.notifier != nil {
				h.notifier.InvalidateGraphClient()
			}
			slog.Info("email settings updated")
			return nil
		})
	case "zabbix":
		HandleCommand(cmd, send, func(req *ZabbixUpdateRequest) error {
			return h.cfg.SetZabbixConfig(req.Server, req.Port, req.Host, req.Key)
		})
	}
}

// ConfigView is the configuration shown on the panel. Secrets are left out.
type ConfigView struct {
	Role          string                   `json:"role"`
	DeviceURL     string                   `json:"device_url"`
	MinFirmware   string                   `json:"min_firmware"`
	Microphones   config.MicrophonesConfig `json:"microphones"`
	Compositions  []config.Composition     `json:"compositions"`
	Zones         []config.Zone            `json:"zones"`
	LowThreshold  int                      `json:"low_threshold"`
	HighThreshold int                      `json:"high_threshold"`
	TopSpeakers   config.TopSpeakersConfig `json:"top_speakers"`
	Presenter     config.PresenterConfig   `json:"presenter"`
	Overview      config.OverviewConfig    `json:"overview"`
	Timers        map[string]int64         `json:"timers_ms"`
	Units         []string                 `json:"units"`
	Notifications NotificationsView        `json:"notifications"`
}

// NotificationsView shows which alert channels are configured.
type NotificationsView struct {
	DeviceAlerts bool              `json:"device_alerts"`
	WebhookURL   string            `json:"webhook_url,omitempty"`
	LogPath      string            `json:"log_path,omitempty"`
	Email        types.GraphConfig `json:"email"`
	ZabbixServer string            `json:"zabbix_server,omitempty"`
	ZabbixHost   string            `json:"zabbix_host,omitempty"`
	ZabbixKey    string            `json:"zabbix_key,omitempty"`
	Archive      bool              `json:"archive"`
}

// PublicConfig builds the panel view of a configuration snapshot.
//
//nolint:gocritic // hugeParam: copy is acceptable for infrequent config reads
func PublicConfig(snap config.Snapshot) ConfigView {
	ms := func(d time.Duration) int64 { return d.Milliseconds() }
	return ConfigView{
		Role:          snap.Role,
		DeviceURL:     snap.DeviceURL,
		MinFirmware:   snap.MinFirmware,
		Microphones:   snap.Microphones,
		Compositions:  snap.Compositions,
		Zones:         snap.Zones,
		LowThreshold:  snap.LowThreshold,
		HighThreshold: snap.HighThreshold,
		TopSpeakers:   snap.TopSpeakers,
		Presenter:     snap.Presenter,
		Overview:      snap.Overview,
		Timers: map[string]int64{
			"side_by_side":  ms(snap.SideBySide),
			"new_speaker":   ms(snap.NewSpeaker),
			"initial_call":  ms(snap.InitialCall),
			"settle":        ms(snap.Settle),
			"qa_hold":       ms(snap.QAHold),
			"mute_overview": ms(snap.MuteOverview),
			"wake_probe":    ms(snap.WakeProbe),
		},
		Units: snap.UnitAddresses(),
		Notifications: NotificationsView{
			DeviceAlerts: snap.DeviceAlerts,
			WebhookURL:   snap.WebhookURL,
			LogPath:      snap.LogPath,
			Email: types.GraphConfig{
				TenantID:    snap.GraphTenantID,
				ClientID:    snap.GraphClientID,
				FromAddress: snap.GraphFromAddress,
				Recipients:  snap.GraphRecipients,
			},
			ZabbixServer: snap.ZabbixServer,
			ZabbixHost:   snap.ZabbixHost,
			ZabbixKey:    snap.ZabbixKey,
			Archive:      snap.HasArchive(),
		},
	}
}

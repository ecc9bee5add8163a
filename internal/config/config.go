// Package config provides application configuration management.
package config

import (
	"cmp"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-camswitch/internal/types"
	"github.com/oszuidwest/zwfm-camswitch/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort         = 8080
	DefaultWebUsername     = "admin"
	DefaultWebPassword     = "camswitch"
	DefaultRole            = RoleMain
	DefaultMinFirmware     = "v11.0.0"
	DefaultMaxSpeakers     = 2
	DefaultUnitQueueSize   = 32
	DefaultUnitPort        = 8080
	DefaultUnitTimeoutMs   = 5000
	DefaultOverviewPreset  = 30
	DefaultArchiveInterval = 60 // minutes
	DefaultZabbixPort      = 10051
)

// Unit roles.
const (
	RoleMain = "main"
	RoleAux  = "aux"
)

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	Port     int    `json:"port" validate:"gte=1,lte=65535"` // HTTP server port
	Username string `json:"username"`                        // Panel username
	Password string `json:"password"`                        // Panel password
	Role     string `json:"role" validate:"oneof=main aux"`  // main switches cameras, aux mirrors commands
}

// DeviceConfig holds the connection settings for the local video device.
type DeviceConfig struct {
	URL             string `json:"url" validate:"omitempty,url"`            // Websocket endpoint, e.g. wss://10.0.0.10/ws
	Username        string `json:"username"`                                // Integrator or admin account
	Password        string `json:"password"`                                // Account password
	InsecureTLS     bool   `json:"insecure_tls"`                            // Accept self-signed device certificates
	MinimumFirmware string `json:"minimum_firmware" validate:"omitempty"`   // Lowest supported software version
	OverviewPreset  int    `json:"overview_preset" validate:"gte=0,lte=35"` // Preset recalled before overview (0 = none)
	LocalConnector  int    `json:"local_connector" validate:"gte=0"`        // Connector of the local room camera (0 = none)
}

// MicrophonesConfig lists the monitored microphones per category.
type MicrophonesConfig struct {
	Analog   []int `json:"analog" validate:"max=8,unique,dive,gte=1,lte=8"`
	Ethernet []int `json:"ethernet" validate:"max=64,unique,dive,ethernet_mic"`
	USB      []int `json:"usb" validate:"max=4,unique,dive,gte=101,lte=104"`
	External []int `json:"external" validate:"max=99,unique,dive,gte=901,lte=999"`
}

// All returns every configured microphone id in declaration order.
func (m *MicrophonesConfig) All() []int {
	return slices.Concat(m.Analog, m.Ethernet, m.USB, m.External)
}

// Composition maps a set of microphones to a video layout.
type Composition struct {
	Name        string           `json:"name" validate:"required,max=64"`
	Source      types.SourceKind `json:"source" validate:"oneof=main aux none"`
	UnitAddress string           `json:"unit_address" validate:"required_if=Source aux,omitempty,ipv4"`
	Mics        []int            `json:"mics" validate:"min=1,max=175"`
	Connectors  []int            `json:"connectors" validate:"dive,gte=1"`
	Layout      types.Layout     `json:"layout" validate:"omitempty,oneof=Prominent Equal PIP"`
	Zone        string           `json:"zone,omitempty"`    // Name of a preset zone, empty when not zone based
	Presets     []int            `json:"presets,omitempty"` // Overview only: presets to recall before composing
}

// IsOverview reports whether the composition is an overview composition.
func (c *Composition) IsOverview() bool {
	return len(c.Mics) == 1 && c.Mics[0] == 0
}

// Zone is a pair of camera presets used so the camera on air is never moved.
type Zone struct {
	Name      string `json:"name" validate:"required,max=32"`
	Primary   int    `json:"primary" validate:"gte=1,lte=35"`
	Secondary int    `json:"secondary" validate:"gte=1,lte=35"`
}

// ThresholdsConfig holds the hysteresis thresholds for mic averages.
type ThresholdsConfig struct {
	Low  int `json:"low" validate:"gte=0,lte=100"`
	High int `json:"high" validate:"gte=0,lte=100,gtfield=Low"`
}

// TimersConfig holds debounce and hold durations in milliseconds.
type TimersConfig struct {
	SideBySideMs   int64 `json:"side_by_side_ms" validate:"gte=0"`
	NewSpeakerMs   int64 `json:"new_speaker_ms" validate:"gte=0"`
	InitialCallMs  int64 `json:"initial_call_ms" validate:"gte=0"`
	SettleMs       int64 `json:"settle_ms" validate:"gte=0"`
	QAHoldMs       int64 `json:"qa_hold_ms" validate:"gte=0"`
	MuteOverviewMs int64 `json:"mute_overview_ms" validate:"gte=0"`
	WakeProbeMs    int64 `json:"wake_probe_ms" validate:"gte=0"`
}

// TopSpeakersConfig controls dynamic multi-speaker compositions.
type TopSpeakersConfig struct {
	Enabled           bool         `json:"enabled"`
	MaxSpeakers       int          `json:"max_speakers" validate:"omitempty,gte=2,lte=4"`
	DefaultConnectors []int        `json:"default_connectors" validate:"unique,dive,gte=1"`
	Layout            types.Layout `json:"layout" validate:"omitempty,oneof=Prominent Equal PIP"`
}

// PresenterConfig controls presenter tracking and the Q&A overlay.
type PresenterConfig struct {
	AllowQA      bool         `json:"allow_qa"`
	Connector    int          `json:"connector" validate:"gte=0"`
	AudienceMics []int        `json:"audience_mics" validate:"unique"`
	QALayout     types.Layout `json:"qa_layout" validate:"omitempty,oneof=Prominent Equal PIP"`
}

// OverviewConfig holds overview composition behavior.
type OverviewConfig struct {
	RemoveEmptySegments bool   `json:"remove_empty_segments"`
	Selected            string `json:"selected"` // Name of the active overview composition
}

// UnitsConfig holds settings for the auxiliary unit channel.
type UnitsConfig struct {
	QueueSize   int    `json:"queue_size" validate:"gte=0,lte=1024"`
	Port        int    `json:"port" validate:"gte=0,lte=65535"`
	TimeoutMs   int64  `json:"timeout_ms" validate:"gte=0"`
	MainAddress string `json:"main_address" validate:"omitempty,ipv4"` // Aux role: unit to report to
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url" validate:"omitempty,url"` // Webhook URL for operator alerts
}

// LogConfig holds the decision event log settings.
type LogConfig struct {
	Path string `json:"path"` // JSON lines file for switch and unit events
}

// EmailConfig holds Microsoft Graph email notification settings.
type EmailConfig struct {
	TenantID     string `json:"tenant_id"`     // Azure AD tenant ID
	ClientID     string `json:"client_id"`     // App registration client ID
	ClientSecret string `json:"client_secret"` // App registration client secret
	FromAddress  string `json:"from_address"`  // Shared mailbox sender address
	Recipients   string `json:"recipients"`    // Comma-separated recipient addresses
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	DeviceAlerts bool          `json:"device_alerts"` // Show alerts on the room panel
	Webhook      WebhookConfig `json:"webhook"`
	Log          LogConfig     `json:"log"`
	Email        EmailConfig   `json:"email"`
	Zabbix       ZabbixConfig  `json:"zabbix"`
}

// ZabbixConfig holds the Zabbix trapper settings for operator alerts.
type ZabbixConfig struct {
	Server string `json:"server"`                                    // Zabbix server or proxy host
	Port   int    `json:"port" validate:"omitempty,gte=1,lte=65535"` // Trapper port, 10051 when zero
	Host   string `json:"host"`                                      // Host name as configured in Zabbix
	Key    string `json:"key"`                                       // Trapper item key
}

// ArchiveConfig holds S3 settings for archiving the event log.
type ArchiveConfig struct {
	Endpoint        string `json:"endpoint" validate:"omitempty,url"`
	Bucket          string `json:"bucket" validate:"omitempty,max=63"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Prefix          string `json:"prefix"`
	IntervalMinutes int    `json:"interval_minutes" validate:"gte=0"`
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System        SystemConfig        `json:"system"`
	Device        DeviceConfig        `json:"device"`
	Microphones   MicrophonesConfig   `json:"microphones"`
	Compositions  []Composition       `json:"compositions" validate:"dive"`
	Zones         []Zone              `json:"zones" validate:"dive"`
	Thresholds    ThresholdsConfig    `json:"thresholds"`
	Timers        TimersConfig        `json:"timers"`
	TopSpeakers   TopSpeakersConfig   `json:"top_speakers"`
	Presenter     PresenterConfig     `json:"presenter"`
	Overview      OverviewConfig      `json:"overview"`
	Units         UnitsConfig         `json:"units"`
	Notifications NotificationsConfig `json:"notifications"`
	Archive       ArchiveConfig       `json:"archive"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	return &Config{
		System: SystemConfig{
			Port:     DefaultWebPort,
			Username: DefaultWebUsername,
			Password: DefaultWebPassword,
			Role:     DefaultRole,
		},
		Device: DeviceConfig{
			MinimumFirmware: DefaultMinFirmware,
			OverviewPreset:  DefaultOverviewPreset,
			LocalConnector:  1,
		},
		Microphones: MicrophonesConfig{Analog: []int{1}},
		Compositions: []Composition{
			{Name: "Room", Source: types.SourceMain, Mics: []int{1}, Connectors: []int{1}, Layout: types.LayoutProminent},
			{Name: "Overview", Source: types.SourceNone, Mics: []int{0}, Connectors: []int{1}, Layout: types.LayoutEqual},
		},
		Zones: []Zone{},
		Thresholds: ThresholdsConfig{
			Low:  types.DefaultLowThreshold,
			High: types.DefaultHighThreshold,
		},
		TopSpeakers: TopSpeakersConfig{DefaultConnectors: []int{}},
		Presenter:   PresenterConfig{AudienceMics: []int{}},
		filePath:    filePath,
	}
}

// Load reads config from file, creating a default if none exists.
// A *types.ValidationError is returned when the file parses but is invalid.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	if verr := c.validate(); verr.HasErrors() {
		return verr
	}

	for _, w := range c.shadowedMicsLocked() {
		slog.Warn("microphone is claimed by several compositions, the last one wins",
			"mic", w.Mic, "compositions", w.Compositions)
	}

	return nil
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	if c.System.Port == 0 {
		c.System.Port = DefaultWebPort
	}
	if c.System.Username == "" {
		c.System.Username = DefaultWebUsername
	}
	if c.System.Password == "" {
		c.System.Password = DefaultWebPassword
	}
	if c.System.Role == "" {
		c.System.Role = DefaultRole
	}
	if c.Device.MinimumFirmware == "" {
		c.Device.MinimumFirmware = DefaultMinFirmware
	}
	if c.Thresholds.Low == 0 && c.Thresholds.High == 0 {
		c.Thresholds.Low = types.DefaultLowThreshold
		c.Thresholds.High = types.DefaultHighThreshold
	}
	if c.TopSpeakers.MaxSpeakers == 0 {
		c.TopSpeakers.MaxSpeakers = DefaultMaxSpeakers
	}
	if c.TopSpeakers.Layout == "" {
		c.TopSpeakers.Layout = types.LayoutEqual
	}
	if c.Presenter.QALayout == "" {
		c.Presenter.QALayout = types.LayoutEqual
	}
	for i := range c.Compositions {
		if c.Compositions[i].Layout == "" {
			c.Compositions[i].Layout = types.LayoutProminent
		}
	}
	if c.Overview.Selected == "" {
		if ov := c.overviewNamesLocked(); len(ov) > 0 {
			c.Overview.Selected = ov[0]
		}
	}
	if c.Zones == nil {
		c.Zones = []Zone{}
	}
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// overviewNamesLocked returns overview composition names in declaration order.
func (c *Config) overviewNamesLocked() []string {
	var names []string
	for i := range c.Compositions {
		if c.Compositions[i].IsOverview() {
			names = append(names, c.Compositions[i].Name)
		}
	}
	return names
}

// --- Setters ---

// SetSelectedOverview persists the overview composition chosen on the panel.
func (c *Config) SetSelectedOverview(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !slices.Contains(c.overviewNamesLocked(), name) {
		return fmt.Errorf("overview composition not found: %s", name)
	}
	c.Overview.Selected = name
	return c.saveLocked()
}

// SetWebhookURL updates the webhook URL and saves the configuration.
func (c *Config) SetWebhookURL(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Webhook.URL = url
	return c.saveLocked()
}

// SetZabbixConfig updates the Zabbix trapper settings and saves the configuration.
func (c *Config) SetZabbixConfig(server string, port int, host, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Zabbix = ZabbixConfig{Server: server, Port: port, Host: host, Key: key}
	return c.saveLocked()
}

// SetGraphConfig updates the Microsoft Graph email settings and saves the configuration.
func (c *Config) SetGraphConfig(tenantID, clientID, clientSecret, fromAddress, recipients string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Email = EmailConfig{
		TenantID:     tenantID,
		ClientID:     clientID,
		ClientSecret: cmp.Or(clientSecret, c.Notifications.Email.ClientSecret),
		FromAddress:  fromAddress,
		Recipients:   recipients,
	}
	return c.saveLocked()
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	WebPort     int
	WebUser     string
	WebPassword string
	Role        string

	// Device
	DeviceURL      string
	DeviceUser     string
	DevicePassword string
	InsecureTLS    bool
	MinFirmware    string
	OverviewPreset int
	LocalConnector int

	// Switching
	Microphones   MicrophonesConfig
	Compositions  []Composition
	Zones         []Zone
	LowThreshold  int
	HighThreshold int
	TopSpeakers   TopSpeakersConfig
	Presenter     PresenterConfig
	Overview      OverviewConfig

	// Timers (with defaults)
	SideBySide   time.Duration
	NewSpeaker   time.Duration
	InitialCall  time.Duration
	Settle       time.Duration
	QAHold       time.Duration
	MuteOverview time.Duration
	WakeProbe    time.Duration

	// Units
	UnitQueueSize   int
	UnitPort        int
	UnitTimeout     time.Duration
	MainUnitAddress string

	// Notifications
	DeviceAlerts      bool
	WebhookURL        string
	LogPath           string
	GraphTenantID     string
	GraphClientID     string
	GraphClientSecret string
	GraphFromAddress  string
	GraphRecipients   string
	ZabbixServer      string
	ZabbixPort        int
	ZabbixHost        string
	ZabbixKey         string

	// Archive
	Archive ArchiveConfig
}

// ms converts a millisecond setting to a duration, falling back to def when zero.
func ms(value int64, def time.Duration) time.Duration {
	if value <= 0 {
		return def
	}
	return time.Duration(value) * time.Millisecond
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	compositions := make([]Composition, len(c.Compositions))
	for i, comp := range c.Compositions {
		comp.Mics = slices.Clone(comp.Mics)
		comp.Connectors = slices.Clone(comp.Connectors)
		comp.Presets = slices.Clone(comp.Presets)
		compositions[i] = comp
	}

	top := c.TopSpeakers
	top.DefaultConnectors = slices.Clone(top.DefaultConnectors)
	presenter := c.Presenter
	presenter.AudienceMics = slices.Clone(presenter.AudienceMics)

	return Snapshot{
		WebPort:     c.System.Port,
		WebUser:     c.System.Username,
		WebPassword: c.System.Password,
		Role:        cmp.Or(c.System.Role, DefaultRole),

		DeviceURL:      c.Device.URL,
		DeviceUser:     c.Device.Username,
		DevicePassword: c.Device.Password,
		InsecureTLS:    c.Device.InsecureTLS,
		MinFirmware:    cmp.Or(c.Device.MinimumFirmware, DefaultMinFirmware),
		OverviewPreset: c.Device.OverviewPreset,
		LocalConnector: c.Device.LocalConnector,

		Microphones: MicrophonesConfig{
			Analog:   slices.Clone(c.Microphones.Analog),
			Ethernet: slices.Clone(c.Microphones.Ethernet),
			USB:      slices.Clone(c.Microphones.USB),
			External: slices.Clone(c.Microphones.External),
		},
		Compositions:  compositions,
		Zones:         slices.Clone(c.Zones),
		LowThreshold:  c.Thresholds.Low,
		HighThreshold: c.Thresholds.High,
		TopSpeakers:   top,
		Presenter:     presenter,
		Overview:      c.Overview,

		SideBySide:   ms(c.Timers.SideBySideMs, types.DefaultSideBySide),
		NewSpeaker:   ms(c.Timers.NewSpeakerMs, types.DefaultNewSpeaker),
		InitialCall:  ms(c.Timers.InitialCallMs, types.DefaultInitialCall),
		Settle:       ms(c.Timers.SettleMs, types.DefaultSettleDelay),
		QAHold:       ms(c.Timers.QAHoldMs, types.DefaultQAHold),
		MuteOverview: ms(c.Timers.MuteOverviewMs, types.DefaultMuteOverview),
		WakeProbe:    ms(c.Timers.WakeProbeMs, types.DefaultWakeProbe),

		UnitQueueSize:   cmp.Or(c.Units.QueueSize, DefaultUnitQueueSize),
		UnitPort:        cmp.Or(c.Units.Port, DefaultUnitPort),
		UnitTimeout:     ms(c.Units.TimeoutMs, DefaultUnitTimeoutMs*time.Millisecond),
		MainUnitAddress: c.Units.MainAddress,

		DeviceAlerts:      c.Notifications.DeviceAlerts,
		WebhookURL:        c.Notifications.Webhook.URL,
		LogPath:           c.Notifications.Log.Path,
		GraphTenantID:     c.Notifications.Email.TenantID,
		GraphClientID:     c.Notifications.Email.ClientID,
		GraphClientSecret: c.Notifications.Email.ClientSecret,
		GraphFromAddress:  c.Notifications.Email.FromAddress,
		GraphRecipients:   c.Notifications.Email.Recipients,
		ZabbixServer:      c.Notifications.Zabbix.Server,
		ZabbixPort:        cmp.Or(c.Notifications.Zabbix.Port, DefaultZabbixPort),
		ZabbixHost:        c.Notifications.Zabbix.Host,
		ZabbixKey:         c.Notifications.Zabbix.Key,

		Archive: c.Archive,
	}
}

// OverviewNames returns overview composition names in declaration order.
func (s *Snapshot) OverviewNames() []string {
	var names []string
	for i := range s.Compositions {
		if s.Compositions[i].IsOverview() {
			names = append(names, s.Compositions[i].Name)
		}
	}
	return names
}

// UnitAddresses returns the distinct auxiliary unit addresses in declaration order.
func (s *Snapshot) UnitAddresses() []string {
	var addrs []string
	for i := range s.Compositions {
		comp := &s.Compositions[i]
		if comp.Source == types.SourceAux && comp.UnitAddress != "" && !slices.Contains(addrs, comp.UnitAddress) {
			addrs = append(addrs, comp.UnitAddress)
		}
	}
	return addrs
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasGraph reports whether Microsoft Graph email notifications are configured.
func (s *Snapshot) HasGraph() bool {
	return util.IsConfigured(s.GraphTenantID, s.GraphClientID, s.GraphClientSecret,
		s.GraphFromAddress, s.GraphRecipients)
}

// HasZabbix reports whether Zabbix trapper alerts are configured.
func (s *Snapshot) HasZabbix() bool {
	return util.IsConfigured(s.ZabbixServer, s.ZabbixHost, s.ZabbixKey)
}

// HasLogPath reports whether an event log path is configured.
func (s *Snapshot) HasLogPath() bool {
	return s.LogPath != ""
}

// HasArchive reports whether S3 archiving of the event log is configured.
func (s *Snapshot) HasArchive() bool {
	return s.HasLogPath() && util.IsConfigured(s.Archive.Bucket, s.Archive.AccessKeyID, s.Archive.SecretAccessKey)
}

// ArchiveInterval returns how often the event log is archived.
func (s *Snapshot) ArchiveInterval() time.Duration {
	return time.Duration(cmp.Or(s.Archive.IntervalMinutes, DefaultArchiveInterval)) * time.Minute
}

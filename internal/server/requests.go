package server

// Request types for WebSocket commands. Validation uses
// go-playground/validator struct tags.

// --- Engine ---

// WidgetRequest is the request body for engine/widget. It carries the same
// widget ids and values as the room panel.
type WidgetRequest struct {
	WidgetID string `json:"widget_id" validate:"required,max=64"`
	Value    string `json:"value" validate:"max=32"`
}

// ModeRequest is the request body for engine/mode.
type ModeRequest struct {
	Automatic *bool `json:"automatic" validate:"required"`
}

// OverviewRequest is the request body for engine/overview.
type OverviewRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

// --- Units ---

// UnitEnableRequest is the request body for units/enable.
type UnitEnableRequest struct {
	Address string `json:"address" validate:"required,ipv4"`
	Enabled *bool  `json:"enabled" validate:"required"`
}

// --- Notification settings ---

// WebhookUpdateRequest is the request body for notifications/webhook/update.
type WebhookUpdateRequest struct {
	URL string `json:"url" validate:"omitempty,url,max=2048"`
}

// EmailUpdateRequest is the request body for notifications/email/update.
type EmailUpdateRequest struct {
	TenantID     string `json:"tenant_id" validate:"omitempty,max=100"`
	ClientID     string `json:"client_id" validate:"omitempty,max=100"`
	ClientSecret string `json:"client_secret" validate:"omitempty,max=500"`
	FromAddress  string `json:"from_address" validate:"omitempty,email,max=254"`
	Recipients   string `json:"recipients" validate:"omitempty,max=1000"`
}

// ZabbixUpdateRequest is the request body for notifications/zabbix/update.
type ZabbixUpdateRequest struct {
	Server string `json:"server" validate:"omitempty,max=253"`
	Port   int    `json:"port" validate:"omitempty,gte=1,lte=65535"`
	Host   string `json:"host" validate:"omitempty,max=253"`
	Key    string `json:"key" validate:"omitempty,max=256"`
}

// --- Event log ---

// LogViewRequest is the request body for notifications/log/view.
type LogViewRequest struct {
	Limit  int    `json:"limit" validate:"omitempty,gte=1,lte=500"`
	Offset int    `json:"offset" validate:"gte=0"`
	Filter string `json:"filter" validate:"omitempty,oneof=switch automation error"`
}

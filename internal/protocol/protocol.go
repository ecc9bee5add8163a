// Package protocol defines the tokens exchanged with auxiliary units and
// the text messages accepted from external room controllers.
package protocol

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Token is a control or report token on the inter-unit channel.
type Token string

// Inter-unit tokens.
const (
	StatusProbe    Token = "status-probe"
	StatusOK       Token = "status-ok"
	Wake           Token = "wake"
	Shutdown       Token = "shutdown"
	EnterOverview  Token = "enter-overview"
	EnterAutomatic Token = "enter-automatic"
	FramesOn       Token = "frames-on"
	FramesOff      Token = "frames-off"
	PresenceYes    Token = "presence-yes"
	PresenceNo     Token = "presence-no"
)

var knownTokens = map[Token]bool{
	StatusProbe: true, StatusOK: true, Wake: true, Shutdown: true,
	EnterOverview: true, EnterAutomatic: true, FramesOn: true, FramesOff: true,
	PresenceYes: true, PresenceNo: true,
}

// ParseToken returns the token for s, or false for unrecognized text.
func ParseToken(s string) (Token, bool) {
	t := Token(strings.TrimSpace(s))
	return t, knownTokens[t]
}

// AppName identifies messages sent by this controller.
const AppName = "camswitch"

// Source describes the sender of an envelope.
type Source struct {
	IPv4 string `json:"IPv4,omitempty"`
	Name string `json:"Name,omitempty"`
}

// Envelope is the structured message format shared with units and
// external controllers.
type Envelope struct {
	ID     string `json:"ID,omitempty"`
	App    string `json:"App"`
	Source Source `json:"Source"`
	Type   string `json:"Type"`
	Value  string `json:"Value"`
}

// Envelope types.
const (
	TypeCommand = "Command"
	TypeStatus  = "Status"
	TypeError   = "Error"
)

// NewEnvelope wraps a token for sending to a unit.
func NewEnvelope(from string, token Token) Envelope {
	typ := TypeCommand
	switch token {
	case StatusOK, PresenceYes, PresenceNo:
		typ = TypeStatus
	}
	return Envelope{
		ID:     uuid.NewString(),
		App:    AppName,
		Source: Source{IPv4: from},
		Type:   typ,
		Value:  string(token),
	}
}

// Decode parses a received message. JSON objects are decoded as envelopes;
// anything else is treated as an unwrapped value.
func Decode(raw []byte) Envelope {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var env Envelope
		if err := json.Unmarshal(trimmed, &env); err == nil {
			env.Value = strings.TrimSpace(env.Value)
			return env
		}
	}
	return Envelope{Value: string(trimmed)}
}

// External controller messages.
const (
	ExternalMicPrefix = "MIC_ACTIVE_"
	DisableSwitching  = "EXEC_SW_MACRO_DISABLE"
	EnableSwitching   = "EXEC_SW_MACRO_ENABLE"
)

// ParseExternalMic parses MIC_ACTIVE_XX. It returns the external mic id
// (900+XX), or 0 when XX is 00 which reports that nobody is talking.
func ParseExternalMic(text string) (id int, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(text), ExternalMicPrefix)
	if !found || len(rest) != 2 || !isDigit(rest[0]) || !isDigit(rest[1]) {
		return 0, false
	}
	n := int(rest[0]-'0')*10 + int(rest[1]-'0')
	if n == 0 {
		return 0, true
	}
	return 900 + n, true
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

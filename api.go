package main

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/oszuidwest/zwfm-camswitch/internal/engine"
	"github.com/oszuidwest/zwfm-camswitch/internal/eventlog"
	"github.com/oszuidwest/zwfm-camswitch/internal/notify"
	"github.com/oszuidwest/zwfm-camswitch/internal/protocol"
	"github.com/oszuidwest/zwfm-camswitch/internal/server"
	"github.com/oszuidwest/zwfm-camswitch/internal/types"
	"github.com/oszuidwest/zwfm-camswitch/internal/util"
)

const (
	maxMessageBytes    = 4 << 10
	unitTokenTimeout   = 30 * time.Second
	apiTestTimeout     = 30 * time.Second
	defaultEventsLimit = 100
)

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseJSON reads, parses and validates JSON from the request body.
// Returns parsed value and true on success, zero value and false on failure.
func parseJSON[T any](s *Server, w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := json.NewDecoder(io.LimitReader(r.Body, maxMessageBytes)).Decode(&v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return v, false
	}
	if err := server.ValidateStruct(&v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": server.ValidationDetails(err)})
		return v, false
	}
	return v, true
}

// handleAPIStatus returns engine, unit and firmware status.
// GET /api/status
func (s *Server) handleAPIStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.buildStatus())
}

// handleAPIConfig returns the configuration without secrets.
// GET /api/config
func (s *Server) handleAPIConfig(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, server.PublicConfig(s.config.Snapshot()))
}

// handleAPIEvents returns the newest decision log entries.
// GET /api/events?limit=100&offset=0&filter=switch
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := server.LogViewRequest{Limit: defaultEventsLimit, Filter: q.Get("filter")}
	var err error
	if v := q.Get("limit"); v != "" {
		if req.Limit, err = strconv.Atoi(v); err != nil {
			s.writeError(w, http.StatusBadRequest, "limit must be a number")
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if req.Offset, err = strconv.Atoi(v); err != nil {
			s.writeError(w, http.StatusBadRequest, "offset must be a number")
			return
		}
	}
	if err := server.ValidateStruct(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": server.ValidationDetails(err)})
		return
	}

	type response struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
		types.DecisionLogPage
	}
	path := s.config.Snapshot().LogPath
	if path == "" {
		s.writeJSON(w, http.StatusOK, response{Error: "Event log path not configured"})
		return
	}
	events, more, err := eventlog.ReadLast(path, req.Limit, req.Offset, eventlog.TypeFilter(req.Filter))
	if err != nil {
		s.writeJSON(w, http.StatusOK, response{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, response{
		Success:         true,
		DecisionLogPage: types.DecisionLogPage{Entries: events, More: more, Path: path},
	})
}

// ExternalRequest is the request body for POST /api/external. Text uses
// the room controller message format, e.g. MIC_ACTIVE_03.
type ExternalRequest struct {
	Text string `json:"text" validate:"required,max=512"`
}

// handleAPIExternal accepts a message from an external room controller.
// POST /api/external
func (s *Server) handleAPIExternal(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		s.writeError(w, http.StatusConflict, "switching runs on the main unit")
		return
	}
	req, ok := parseJSON[ExternalRequest](s, w, r)
	if !ok {
		return
	}
	ev, ok := messageEvent(req.Text)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "unrecognized message")
		return
	}
	if err := s.engine.Post(ev); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]bool{"success": true})
}

// WebhookTestRequest is the request body for POST /api/test/webhook.
type WebhookTestRequest struct {
	URL string `json:"url" validate:"omitempty,url"`
}

// handleAPITestWebhook sends a test webhook to the given or configured URL.
// POST /api/test/webhook
func (s *Server) handleAPITestWebhook(w http.ResponseWriter, r *http.Request) {
	req := WebhookTestRequest{}
	if r.ContentLength != 0 {
		var ok bool
		if req, ok = parseJSON[WebhookTestRequest](s, w, r); !ok {
			return
		}
	}

	url := cmp.Or(req.URL, s.config.Snapshot().WebhookURL)
	if url == "" {
		s.writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "No webhook URL configured"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), apiTestTimeout)
	defer cancel()
	if err := notify.SendTestWebhook(ctx, url); err != nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

var errUnknownPeer = errors.New("message from unknown unit")

// handleUnitMessage accepts an envelope from a peer unit. The main unit
// takes reports from its configured auxiliary units; an auxiliary unit
// takes commands from its main unit.
// POST /api/unit/message
func (s *Server) handleUnitMessage(w http.ResponseWriter, r *http.Request) {
	from := util.HostOf(r.RemoteAddr)
	if !s.knownPeer(from) {
		slog.Warn("rejected unit message", "remote", from, "error", errUnknownPeer)
		s.writeError(w, http.StatusForbidden, errUnknownPeer.Error())
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	env := protocol.Decode(body)
	if env.Type == protocol.TypeError {
		slog.Error("unit reported an error", "address", from, "value", env.Value)
		s.writeJSON(w, http.StatusAccepted, map[string]bool{"success": true})
		return
	}
	token, ok := protocol.ParseToken(env.Value)
	if !ok {
		slog.Debug("ignored unknown unit token", "address", from, "value", env.Value)
		s.writeJSON(w, http.StatusAccepted, map[string]bool{"success": true})
		return
	}

	switch {
	case s.engine != nil:
		if err := s.engine.Post(engine.UnitReport{Address: from, Token: token}); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	case s.aux != nil:
		go s.applyUnitToken(token)
	}
	s.writeJSON(w, http.StatusAccepted, map[string]bool{"success": true})
}

// applyUnitToken runs a token from the main unit on an auxiliary unit.
func (s *Server) applyUnitToken(token protocol.Token) {
	ctx, cancel := context.WithTimeout(context.Background(), unitTokenTimeout)
	defer cancel()
	if err := s.aux.Handle(ctx, token); err != nil {
		slog.Error("failed to apply token from main unit", "token", token, "error", err)
	}
}

// knownPeer reports whether address may post unit messages here.
func (s *Server) knownPeer(address string) bool {
	cfg := s.config.Snapshot()
	if s.aux != nil {
		return address == cfg.MainUnitAddress
	}
	return slices.Contains(cfg.UnitAddresses(), address)
}

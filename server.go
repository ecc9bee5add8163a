package main

import (
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-camswitch/internal/auxunit"
	"github.com/oszuidwest/zwfm-camswitch/internal/config"
	"github.com/oszuidwest/zwfm-camswitch/internal/server"
	"github.com/oszuidwest/zwfm-camswitch/internal/types"
)

var loginTmpl = template.Must(template.New("login").Parse(loginHTML))
var indexTmpl = template.Must(template.New("index").Parse(indexHTML))

type pageData struct {
	Error     bool
	CSRFToken string
	Version   string
	Role      string
	Year      int
}

// Server is the HTTP server behind the operator panel, the JSON API and
// the inter-unit channel.
type Server struct {
	config   *config.Config
	device   DeviceLink
	engine   Poster
	status   server.Engine
	units    server.Units
	aux      *auxunit.Responder
	firmware *FirmwareChecker
	sessions *server.SessionManager
	commands *server.CommandHandler
}

// ServerOptions holds the components a Server exposes. Engine and Units
// are nil on auxiliary units; Aux is nil on the main unit.
type ServerOptions struct {
	Device   DeviceLink
	Engine   switchEngine
	Units    server.Units
	Aux      *auxunit.Responder
	Firmware *FirmwareChecker
	Notifier server.Notifier
}

// DeviceLink reports the state of the device connection.
type DeviceLink interface {
	Connected() bool
}

// switchEngine is what the server needs from the decision engine.
type switchEngine interface {
	server.Engine
	Poster
}

// NewServer returns a Server for the given components.
func NewServer(cfg *config.Config, opts ServerOptions) *Server {
	s := &Server{
		config:   cfg,
		device:   opts.Device,
		units:    opts.Units,
		aux:      opts.Aux,
		firmware: opts.Firmware,
		sessions: server.NewSessionManager(),
	}
	var status server.Engine
	if opts.Engine != nil {
		s.engine = opts.Engine
		status = opts.Engine
	}
	s.status = status
	s.commands = server.NewCommandHandler(cfg, status, opts.Units, opts.Notifier)
	return s
}

// handleWebSocket serves one panel connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}
	s.commands.Serve(conn, func() any { return s.buildStatus() })
}

// buildStatus returns the current status message for panel clients.
func (s *Server) buildStatus() types.WSStatusResponse {
	st := types.WSStatusResponse{
		Type:    "status",
		Units:   []types.UnitStatus{},
		Version: Version,
	}
	if s.device != nil {
		st.Device = s.device.Connected()
	}
	if s.status != nil {
		st.Engine = s.status.Snapshot()
	}
	if s.units != nil {
		st.Units = s.units.Statuses()
	}
	if s.firmware != nil {
		st.Firmware = s.firmware.Info()
	}
	return st
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()
	auth := s.sessions.AuthMiddleware()
	api := s.sessions.APIMiddleware(func() (string, string) {
		cfg := s.config.Snapshot()
		return cfg.WebUser, cfg.WebPassword
	})

	// Public routes
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/logout", s.handleLogout)

	// Peer units are authorized by source address
	mux.HandleFunc("POST /api/unit/message", s.handleUnitMessage)

	// JSON API (session or basic auth)
	mux.HandleFunc("GET /api/status", api(s.handleAPIStatus))
	mux.HandleFunc("GET /api/config", api(s.handleAPIConfig))
	mux.HandleFunc("GET /api/events", api(s.handleAPIEvents))
	mux.HandleFunc("POST /api/external", api(s.handleAPIExternal))
	mux.HandleFunc("POST /api/test/webhook", api(s.handleAPITestWebhook))

	// Panel
	mux.HandleFunc("/ws", auth(s.handleWebSocket))
	mux.HandleFunc("/", auth(s.handleIndex))

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// handleLogin handles login page display and form submission.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	cfg := s.config.Snapshot()
	data := pageData{
		Version:   Version,
		Role:      cfg.Role,
		Year:      time.Now().Year(),
		CSRFToken: s.sessions.CreateCSRFToken(),
	}

	if r.Method == http.MethodPost {
		if !s.sessions.ValidateCSRFToken(r.FormValue("csrf_token")) {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		if s.sessions.Login(w, r, r.FormValue("username"), r.FormValue("password"), cfg.WebUser, cfg.WebPassword) {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		data.Error = true
	}

	w.Header().Set("Content-Type", "text/html")
	if err := loginTmpl.Execute(w, data); err != nil {
		slog.Error("failed to render login page", "error", err)
	}
}

// handleLogout handles user logout requests.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Logout(w, r)
	http.Redirect(w, r, "/login", http.StatusFound)
}

// handleIndex serves the panel page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	if err := indexTmpl.Execute(w, pageData{
		Version: Version,
		Role:    s.config.Snapshot().Role,
		Year:    time.Now().Year(),
	}); err != nil {
		slog.Error("failed to render panel page", "error", err)
	}
}

// Start begins the HTTP server.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.config.Snapshot().WebPort)
	slog.Info("starting web server", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}

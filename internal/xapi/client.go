// Package xapi is a JSON-RPC client for the room device's websocket API.
package xapi

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oszuidwest/zwfm-camswitch/internal/types"
	"github.com/oszuidwest/zwfm-camswitch/internal/util"
)

// ErrNotConnected is returned by calls made while the websocket is down.
var ErrNotConnected = errors.New("device not connected")

const (
	jsonrpcVersion = "2.0"
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10

	// DefaultTimeout bounds a single request/response exchange.
	DefaultTimeout = 10 * time.Second
)

// RPCError is an error object returned by the device.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("device error %d: %s: %s", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("device error %d: %s", e.Code, e.Message)
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// message is any frame received from the device: a response when ID is
// set, a feedback notification otherwise.
type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type result struct {
	raw json.RawMessage
	err error
}

type subscription struct {
	query   []string
	handler func(json.RawMessage)
}

// Options configures a Client.
type Options struct {
	URL         string        // ws:// or wss:// endpoint
	Username    string        // Basic auth user
	Password    string        // Basic auth password
	InsecureTLS bool          // Accept self-signed device certificates
	Timeout     time.Duration // Per request, DefaultTimeout when zero
	OnConnect   func(ctx context.Context)
}

// Client talks to the device over a single websocket and reconnects with
// backoff when it drops. It is safe for concurrent use.
type Client struct {
	url       string
	header    http.Header
	dialer    *websocket.Dialer
	timeout   time.Duration
	backoff   *util.Backoff
	onConnect func(ctx context.Context)

	nextID  atomic.Int64
	writeMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[int64]chan result
	subs    []*subscription
	feeds   map[int]*subscription // feedback id on the current connection
}

// New creates a client. Call Run to connect.
func New(opts Options) *Client {
	header := http.Header{}
	if opts.Username != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		header.Set("Authorization", "Basic "+creds)
	}
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	if opts.InsecureTLS {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // Room devices ship self-signed certificates
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		url:       opts.URL,
		header:    header,
		dialer:    dialer,
		timeout:   timeout,
		backoff:   util.NewBackoff(time.Second, 30*time.Second),
		onConnect: opts.OnConnect,
		pending:   make(map[int64]chan result),
		feeds:     make(map[int]*subscription),
	}
}

// Connected reports whether the websocket is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Subscribe registers handler for feedback matching query, e.g.
// []string{"Status", "Standby", "State"}. Subscriptions are replayed on
// every reconnect. Handlers run on the read goroutine and must not call
// back into the client synchronously.
func (c *Client) Subscribe(query []string, handler func(params json.RawMessage)) {
	c.mu.Lock()
	c.subs = append(c.subs, &subscription{query: query, handler: handler})
	c.mu.Unlock()
}

// Run keeps the connection up until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("device connection lost", "url", c.url, "error", err)
		if err := c.backoff.Wait(ctx); err != nil {
			return err
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if resp != nil && resp.Body != nil {
		util.SafeCloseFunc(resp.Body, "device handshake response")()
	}
	if err != nil {
		return util.WrapError("connect to device", err)
	}
	c.backoff.Reset()

	c.mu.Lock()
	c.conn = conn
	c.feeds = make(map[int]*subscription)
	c.mu.Unlock()
	slog.Info("connected to device", "url", c.url)

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop(conn) }()
	go c.pingLoop(sessCtx, conn)
	go c.start(sessCtx, conn)

	select {
	case <-ctx.Done():
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		util.SafeCloseFunc(conn, "device websocket")()
		<-readErr
		c.drop(conn, ctx.Err())
		return ctx.Err()
	case err := <-readErr:
		util.SafeCloseFunc(conn, "device websocket")()
		c.drop(conn, err)
		return err
	}
}

// start replays subscriptions and runs the connect hook once the read
// loop is able to deliver responses.
func (c *Client) start(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in device connect hook", "panic", r)
		}
	}()

	c.mu.Lock()
	subs := make([]*subscription, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, sub := range subs {
		var res struct {
			ID int `json:"Id"`
		}
		params := map[string]any{"Query": sub.query, "NotifyCurrentValue": false}
		if err := c.Call(ctx, "xFeedback/Subscribe", params, &res); err != nil {
			slog.Error("feedback subscription failed", "query", strings.Join(sub.query, " "), "error", err)
			util.SafeCloseFunc(conn, "device websocket")()
			return
		}
		c.mu.Lock()
		c.feeds[res.ID] = sub
		c.mu.Unlock()
	}

	if c.onConnect != nil {
		c.onConnect(ctx)
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if msg.ID != nil {
			c.resolve(*msg.ID, msg)
			continue
		}
		if msg.Method == "xFeedback/Event" {
			c.dispatch(msg.Params)
		}
	}
}

func (c *Client) resolve(id int64, msg message) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		slog.Debug("response for unknown request", "id", id)
		return
	}
	if msg.Error != nil {
		ch <- result{err: msg.Error}
		return
	}
	ch <- result{raw: msg.Result}
}

func (c *Client) dispatch(params json.RawMessage) {
	var head struct {
		ID int `json:"Id"`
	}
	if err := json.Unmarshal(params, &head); err != nil {
		slog.Warn("malformed feedback", "error", err)
		return
	}
	c.mu.Lock()
	sub, ok := c.feeds[head.ID]
	c.mu.Unlock()
	if !ok {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in feedback handler", "query", strings.Join(sub.query, " "), "panic", r)
		}
	}()
	sub.handler(params)
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				slog.Debug("device ping failed", "error", err)
				return
			}
		}
	}
}

// drop fails every outstanding call made on conn.
func (c *Client) drop(conn *websocket.Conn, cause error) {
	if cause == nil {
		cause = ErrNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	c.conn = nil
	for id, ch := range c.pending {
		ch <- result{err: fmt.Errorf("%w: %w", ErrNotConnected, cause)}
		delete(c.pending, id)
	}
}

// Call sends one JSON-RPC request and decodes the result into out, which
// may be nil.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	id := c.nextID.Add(1)
	ch := make(chan result, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteJSON(request{JSONRPC: jsonrpcVersion, ID: id, Method: method, Params: params})
	c.writeMu.Unlock()
	if err != nil {
		return util.WrapError("send "+method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	select {
	case res := <-ch:
		if res.err != nil {
			return res.err
		}
		if out == nil || len(res.raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(res.raw, out); err != nil {
			return util.WrapError("decode "+method+" result", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

// Command runs an xCommand given as a slash separated path such as
// "Camera/Preset/Activate".
func (c *Client) Command(ctx context.Context, path string, params, out any) error {
	if err := c.Call(ctx, "xCommand/"+path, params, out); err != nil {
		return &types.DeviceCommandError{Command: strings.ReplaceAll(path, "/", " "), Err: err}
	}
	return nil
}

// Get reads a status or configuration value given as a slash separated
// path such as "Status/Standby/State".
func (c *Client) Get(ctx context.Context, path string, out any) error {
	params := map[string]any{"Path": strings.Split(path, "/")}
	if err := c.Call(ctx, "xGet", params, out); err != nil {
		return &types.DeviceCommandError{Command: "xGet " + strings.ReplaceAll(path, "/", " "), Err: err}
	}
	return nil
}

package unit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/oszuidwest/zwfm-camswitch/internal/protocol"
	"github.com/oszuidwest/zwfm-camswitch/internal/util"
)

// MessagePath is the endpoint on which units accept envelopes.
const MessagePath = "/api/unit/message"

// HTTPTransport posts envelopes as JSON to the peer's HTTP server.
type HTTPTransport struct {
	Port   int
	Client *http.Client
}

// NewHTTPTransport returns a transport targeting the given peer port.
func NewHTTPTransport(port int) *HTTPTransport {
	return &HTTPTransport{Port: port, Client: &http.Client{}}
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, address string, env protocol.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return util.WrapError("marshal envelope", err)
	}

	url := "http://" + net.JoinHostPort(address, strconv.Itoa(t.Port)) + MessagePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return util.WrapError("create unit request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return util.WrapError("send unit request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "unit response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unit returned status %d", resp.StatusCode)
	}
	return nil
}

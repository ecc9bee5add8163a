package notify

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-camswitch/internal/util"
)

const (
	zabbixTimeout    = 5 * time.Second
	zabbixHeaderSize = 13 // "ZBXD\x01" + uint64 length
	maxReplySize     = 64 * 1024
)

var zabbixMagic = [5]byte{'Z', 'B', 'X', 'D', 0x01}

type zabbixRequest struct {
	Request string       `json:"request"`
	Data    []zabbixItem `json:"data"`
}

type zabbixItem struct {
	Host  string `json:"host"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type zabbixResponse struct {
	Response string `json:"response"`
	Info     string `json:"info"`
}

// zabbixTarget addresses one trapper item.
type zabbixTarget struct {
	Server string
	Port   int
	Host   string
	Key    string
}

// sendZabbix delivers one value to a Zabbix trapper item using the
// sender protocol.
func sendZabbix(ctx context.Context, t zabbixTarget, value string) error {
	if !util.IsConfigured(t.Server, t.Host, t.Key) {
		return nil
	}

	dialer := net.Dialer{Timeout: zabbixTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(t.Server, strconv.Itoa(t.Port)))
	if err != nil {
		return util.WrapError("connect to zabbix", err)
	}
	defer util.SafeCloseFunc(conn, "zabbix connection")()

	deadline := time.Now().Add(zabbixTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return util.WrapError("set deadline", err)
	}

	data, err := json.Marshal(zabbixRequest{
		Request: "sender data",
		Data:    []zabbixItem{{Host: t.Host, Key: t.Key, Value: value}},
	})
	if err != nil {
		return util.WrapError("marshal zabbix payload", err)
	}

	frame := make([]byte, zabbixHeaderSize, zabbixHeaderSize+len(data))
	copy(frame, zabbixMagic[:])
	binary.LittleEndian.PutUint64(frame[5:], uint64(len(data)))
	if _, err := conn.Write(append(frame, data...)); err != nil {
		return util.WrapError("write zabbix payload", err)
	}

	header := make([]byte, zabbixHeaderSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		return util.WrapError("read zabbix reply header", err)
	}
	if !bytes.Equal(header[:5], zabbixMagic[:]) {
		return fmt.Errorf("invalid zabbix reply header")
	}
	size := binary.LittleEndian.Uint64(header[5:])
	if size == 0 || size > maxReplySize {
		return fmt.Errorf("invalid zabbix reply size %d", size)
	}

	reply := make([]byte, size)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return util.WrapError("read zabbix reply body", err)
	}

	var resp zabbixResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return util.WrapError("parse zabbix reply", err)
	}
	if resp.Response == "failed" {
		return fmt.Errorf("zabbix rejected data: %s", resp.Info)
	}
	if strings.Contains(resp.Info, "processed: 0;") && strings.Contains(resp.Info, "failed: 0;") {
		return fmt.Errorf("zabbix processed no items (check host/key config)")
	}
	return nil
}

// alertZabbix formats an alert as a trapper value.
func alertZabbix(a *Alert) string {
	if a.Cleared {
		return fmt.Sprintf("event=RECOVERY key=%s duration_ms=%d text=%q", a.Key, a.Duration.Milliseconds(), a.Text)
	}
	return fmt.Sprintf("event=ALERT key=%s title=%q text=%q", a.Key, a.Title, a.Text)
}

// SendTestZabbix sends a test value to verify the Zabbix configuration.
func SendTestZabbix(ctx context.Context, server string, port int, host, key string) error {
	if !util.IsConfigured(server, host, key) {
		return fmt.Errorf("zabbix not configured")
	}
	return sendZabbix(ctx, zabbixTarget{Server: server, Port: port, Host: host, Key: key}, "event=TEST source=camswitch")
}

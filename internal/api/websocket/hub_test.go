package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stlehmann/qthmi.ads/internal/ads"
	"github.com/stlehmann/qthmi.ads/internal/ads/sim"
	"github.com/stlehmann/qthmi.ads/internal/auth"
	"github.com/stlehmann/qthmi.ads/internal/hmi"
	"github.com/stlehmann/qthmi.ads/internal/types"
)

func intPtr(i int) *int { return &i }

type envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newTestHub(t *testing.T, perms []auth.Permission) (*hmi.Panel, *Hub, *websocket.Conn) {
	t.Helper()
	conn, err := ads.Open(sim.New(ads.NetID{5, 1, 2, 3, 1, 1}))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	panel, err := hmi.NewPanel(conn, &types.ScreenDefinition{
		Screen: types.ScreenInfo{ID: "ws"},
		Variables: []types.VariableDefinition{
			{Name: "speed", Address: intPtr(10), Type: "INT"},
			{Name: "temperature", Address: intPtr(20), Type: "REAL", Access: types.AccessTypeReadOnly},
		},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	hub := NewHub(panel, nil)
	panel.Attach(hub)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r, perms)
	}))
	t.Cleanup(srv.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return panel, hub, ws
}

func readMessage(t *testing.T, ws *websocket.Conn) envelope {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env envelope
	if err := ws.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func TestHubSnapshotAndUpdates(t *testing.T) {
	panel, hub, ws := newTestHub(t, auth.RoleToPermissions("technician"))

	snap := readMessage(t, ws)
	if snap.Type != MessageTypeSnapshot {
		t.Fatalf("first message = %s, want snapshot", snap.Type)
	}
	var states []hmi.VariableState
	json.Unmarshal(snap.Data, &states)
	if len(states) != 2 || states[0].Name != "speed" || states[0].HasValue {
		t.Errorf("snapshot = %+v", states)
	}
	if hub.GetClientCount() != 1 {
		t.Errorf("clients = %d", hub.GetClientCount())
	}

	if _, err := panel.Read("speed"); err != nil {
		t.Fatal(err)
	}
	upd := readMessage(t, ws)
	var data ValueData
	json.Unmarshal(upd.Data, &data)
	if upd.Type != MessageTypeValueUpdate || data.Variable != "speed" || data.Address != 10 || data.Type != "INT" {
		t.Errorf("update = %s %+v", upd.Type, data)
	}
}

func TestHubClientWrite(t *testing.T) {
	panel, _, ws := newTestHub(t, auth.RoleToPermissions("technician"))
	readMessage(t, ws) // snapshot

	ws.WriteJSON(map[string]any{"type": "write", "request_id": "r1", "variable": "speed", "value": 42})
	res := readMessage(t, ws)
	var data WriteResultData
	json.Unmarshal(res.Data, &data)
	if res.Type != MessageTypeWriteResult || !data.OK || data.RequestID != "r1" {
		t.Fatalf("result = %s %+v", res.Type, data)
	}

	v, err := panel.Read("speed")
	if err != nil || v != int16(42) {
		t.Errorf("speed = %v (%v)", v, err)
	}

	ws.WriteJSON(map[string]any{"type": "write", "variable": "temperature", "value": 1.5})
	res = readMessage(t, ws)
	for res.Type == MessageTypeValueUpdate {
		res = readMessage(t, ws)
	}
	json.Unmarshal(res.Data, &data)
	if data.OK || !strings.Contains(data.Error, "read-only") {
		t.Errorf("read-only write = %+v", data)
	}

	ws.WriteJSON(map[string]any{"type": "subscribe"})
	if res := readMessage(t, ws); res.Type != MessageTypeError {
		t.Errorf("unknown type answered with %s", res.Type)
	}
}

func TestHubRejectsWriteWithoutPermission(t *testing.T) {
	_, _, ws := newTestHub(t, auth.RoleToPermissions("operator"))
	readMessage(t, ws)

	ws.WriteJSON(map[string]any{"type": "write", "variable": "speed", "value": 1})
	var data WriteResultData
	json.Unmarshal(readMessage(t, ws).Data, &data)
	if data.OK || data.Error != "insufficient permissions" {
		t.Errorf("result = %+v", data)
	}
}

func TestValueErrorMessage(t *testing.T) {
	v := &hmi.Variable{Name: "speed", Address: 10}
	msg := NewValueErrorMessage(v, &hmi.VariableError{Variable: "speed", Err: &ads.ConnectionError{Op: ads.OpRead, Address: 10, Code: 1861}})
	data := msg.Data.(ValueErrorData)
	if msg.Type != MessageTypeValueError || data.Code != 1861 || data.Address != 10 {
		t.Errorf("msg = %+v", msg)
	}
	if plain := NewValueErrorMessage(v, errors.New("boom")).Data.(ValueErrorData); plain.Code != 0 {
		t.Errorf("code = %d, want 0", plain.Code)
	}
}

package stream

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/stlehmann/qthmi.ads/internal/ads"
	"github.com/stlehmann/qthmi.ads/internal/ads/sim"
	"github.com/stlehmann/qthmi.ads/internal/hmi"
	"github.com/stlehmann/qthmi.ads/internal/types"
)

func intPtr(i int) *int { return &i }

func newTestService(t *testing.T) (*hmi.Panel, *Streamer, *ValueClient) {
	t.Helper()
	conn, err := ads.Open(sim.New(ads.NetID{5, 1, 2, 3, 1, 1}))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	panel, err := hmi.NewPanel(conn, &types.ScreenDefinition{
		Screen: types.ScreenInfo{ID: "grpc"},
		Variables: []types.VariableDefinition{
			{Name: "speed", Address: intPtr(10), Type: "INT"},
			{Name: "temperature", Address: intPtr(20), Type: "REAL", Access: types.AccessTypeReadOnly},
		},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	streamer := NewStreamer()
	panel.Attach(streamer)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	Register(srv, NewValueService(panel, streamer, nil))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cc.Close() })
	return panel, streamer, NewValueClient(cc)
}

func TestWrite(t *testing.T) {
	panel, _, client := newTestService(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := client.Write(ctx, "speed", 7)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if res.Fields["value"].GetNumberValue() != 7 {
		t.Errorf("response = %v", res)
	}
	if v, _ := panel.Read("speed"); v != int16(7) {
		t.Errorf("speed = %v", v)
	}

	tests := []struct {
		variable string
		value    any
		want     codes.Code
	}{
		{"ghost", 1, codes.NotFound},
		{"temperature", 1.5, codes.FailedPrecondition},
		{"speed", 1.5, codes.InvalidArgument},
		{"speed", 70000, codes.InvalidArgument},
		{"", 1, codes.InvalidArgument},
	}
	for _, tt := range tests {
		_, err := client.Write(ctx, tt.variable, tt.value)
		if status.Code(err) != tt.want {
			t.Errorf("Write(%q, %v) = %v, want %s", tt.variable, tt.value, err, tt.want)
		}
	}
}

func TestWatch(t *testing.T) {
	panel, streamer, client := newTestService(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := panel.Write("speed", 3); err != nil {
		t.Fatal(err)
	}

	ws, err := client.Watch(ctx, []string{"speed"})
	if err != nil {
		t.Fatal(err)
	}
	first, err := ws.Recv()
	if err != nil {
		t.Fatalf("recv snapshot: %v", err)
	}
	if !first.Fields["snapshot"].GetBoolValue() || first.Fields["value"].GetNumberValue() != 3 {
		t.Errorf("snapshot = %v", first)
	}
	if streamer.Subscribers() != 1 {
		t.Errorf("subscribers = %d", streamer.Subscribers())
	}

	panel.Read("temperature") // filtered
	if _, err := panel.Read("speed"); err != nil {
		t.Fatal(err)
	}
	upd, err := ws.Recv()
	if err != nil {
		t.Fatalf("recv update: %v", err)
	}
	if upd.Fields["variable"].GetStringValue() != "speed" || upd.Fields["snapshot"] != nil || upd.Fields["type"].GetStringValue() != "INT" {
		t.Errorf("update = %v", upd)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for streamer.Subscribers() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if streamer.Subscribers() != 0 {
		t.Error("subscriber not removed after cancel")
	}
}

func TestUpdateFields(t *testing.T) {
	s := NewStreamer()
	ch := s.Subscribe()
	v := &hmi.Variable{Name: "speed", Address: 10, Type: ads.TypeInt}

	s.ProjectError(v, &hmi.VariableError{Variable: "speed", Err: &ads.ConnectionError{Op: ads.OpRead, Address: 10, Code: 1864}})
	u := <-ch
	f := u.Fields()
	if f["code"] != uint32(1864) || f["error"] == nil || f["value"] != nil {
		t.Errorf("fields = %v", f)
	}

	s.Project("not a variable", int16(1))
	s.Project(v, int16(5))
	if u := <-ch; u.Value != int64(5) || u.Err != nil {
		t.Errorf("update = %+v", u)
	}

	s.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("channel not closed")
	}
	if got := status.Code(toStatus(errors.New("boom"))); got != codes.Internal {
		t.Errorf("plain error mapped to %s", got)
	}
}

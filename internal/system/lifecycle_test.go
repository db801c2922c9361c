package system

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stlehmann/qthmi.ads/internal/ads"
	"github.com/stlehmann/qthmi.ads/internal/ads/sim"
	"github.com/stlehmann/qthmi.ads/internal/config"
)

const demoScreen = `
screen: {id: demo, title: Demo}
variables:
  - {name: speed, address: 10, type: INT}
  - {name: flag, byte: 1, bit: 0, type: BOOL}
widgets:
  - {id: speed-text, kind: text, variable: speed}
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "demo.yaml"), []byte(demoScreen), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.ADS.Transport = config.TransportMemory
	cfg.ADS.PollInterval = 10 * time.Millisecond
	cfg.Screens.SearchPaths = []string{dir}
	cfg.Server.HTTPPort = 0
	cfg.Server.GRPCPort = 0
	return cfg
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to SystemState
		ok       bool
	}{
		{StateStopped, StateInitializing, true},
		{StateInitializing, StateRunning, true},
		{StateRunning, StateStopping, true},
		{StateStopping, StateStopped, true},
		{StateError, StateInitializing, true},
		{StateStopped, StateRunning, false},
		{StateRunning, StateInitializing, false},
	}
	for _, tt := range tests {
		err := ValidateTransition(tt.from, tt.to)
		if (err == nil) != tt.ok {
			t.Errorf("%s -> %s: err = %v, want ok=%v", tt.from, tt.to, err, tt.ok)
		}
	}
}

func TestLifecycleStartShutdown(t *testing.T) {
	lm, err := NewLifecycleManager(testConfig(t), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	status := lm.SubscribeStatus()
	defer lm.UnsubscribeStatus(status)

	ctx := context.Background()
	if err := lm.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if lm.State() != StateRunning {
		t.Fatalf("state = %s", lm.State())
	}
	if got := (<-status).State; got != StateInitializing {
		t.Errorf("first status = %s", got)
	}
	if got := (<-status).State; got != StateRunning {
		t.Errorf("second status = %s", got)
	}

	if _, err := lm.Panel().Write("speed", 12); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for lm.Poller().Cycles() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	st := lm.GetCurrentStatus()
	if st.State != "RUNNING" || st.Screen != "demo" || st.Variables != 2 || st.Widgets != 1 || st.PollCycles < 2 {
		t.Errorf("status = %+v", st)
	}
	if st.Device != "127.0.0.1.1.1:801" {
		t.Errorf("device = %q", st.Device)
	}

	if err := lm.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if lm.State() != StateStopped || lm.Poller().IsRunning() {
		t.Errorf("state = %s, poller running = %v", lm.State(), lm.Poller().IsRunning())
	}
	if err := lm.Shutdown(ctx); err != nil {
		t.Errorf("second shutdown: %v", err)
	}
}

func TestLifecycleWithTransport(t *testing.T) {
	plc := sim.New(ads.NetID{10, 0, 0, 1, 1, 1})
	lm, err := NewLifecycleManager(testConfig(t), nil, nil, WithTransport(plc), WithoutServers())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := lm.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if plc.Sessions() != 1 {
		t.Errorf("sessions = %d", plc.Sessions())
	}
	if err := lm.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if plc.Sessions() != 0 {
		t.Errorf("sessions after shutdown = %d", plc.Sessions())
	}

	// restart
	if err := lm.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	lm.Shutdown(ctx)
}

func TestLifecycleStartFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Screens.Default = "missing"
	lm, err := NewLifecycleManager(cfg, nil, nil, WithoutServers())
	if err != nil {
		t.Fatal(err)
	}
	if err := lm.Start(context.Background()); err == nil {
		t.Fatal("expected error for missing screen")
	}
	if lm.State() != StateError || lm.GetCurrentStatus().Error == "" {
		t.Errorf("status = %+v", lm.GetCurrentStatus())
	}
	if err := lm.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown after failure: %v", err)
	}
}

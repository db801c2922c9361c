package hmi

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/stlehmann/qthmi.ads/internal/ads"
)

func TestPollerLogsFailuresOnChange(t *testing.T) {
	p, plc := newTestPanel(t)
	core, logs := observer.New(zapcore.InfoLevel)
	poller := NewPoller(p, time.Hour, zap.New(core))

	plc.InjectFault(ads.IndexGroupMemoryByte, 200, uint32(ads.ErrCodeNotReady))
	poller.Poll()
	poller.Poll()

	if n := logs.FilterMessage("Poll failed").Len(); n != 1 {
		t.Errorf("failure logged %d times, want 1", n)
	}
	if f := poller.Failing(); len(f) != 1 || f[0] != "temperature" {
		t.Errorf("failing = %v", f)
	}

	plc.InjectFault(ads.IndexGroupMemoryByte, 200, 0)
	poller.Poll()

	if n := logs.FilterMessage("Poll recovered").Len(); n != 1 {
		t.Errorf("recovery logged %d times, want 1", n)
	}
	if f := poller.Failing(); len(f) != 0 {
		t.Errorf("failing = %v after recovery", f)
	}
	if c := poller.Cycles(); c != 3 {
		t.Errorf("cycles = %d, want 3", c)
	}
}

func TestPollerStartStop(t *testing.T) {
	p, plc := newTestPanel(t)
	poller := NewPoller(p, 5*time.Millisecond, nil)

	if err := poller.Start(); err != nil {
		t.Fatal(err)
	}
	if err := poller.Start(); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if !poller.IsRunning() {
		t.Fatal("poller not running")
	}

	deadline := time.Now().Add(2 * time.Second)
	for poller.Cycles() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d cycles", poller.Cycles())
		}
		time.Sleep(5 * time.Millisecond)
	}

	poller.Stop()
	poller.Stop()
	if poller.IsRunning() {
		t.Error("poller still running")
	}

	reads, _ := plc.Counts()
	time.Sleep(20 * time.Millisecond)
	if after, _ := plc.Counts(); after != reads {
		t.Errorf("reads continued after stop: %d -> %d", reads, after)
	}

	// restart after stop
	if err := poller.Start(); err != nil {
		t.Fatal(err)
	}
	poller.Stop()
}

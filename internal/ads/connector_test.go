package ads_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stlehmann/qthmi.ads/internal/ads"
	"github.com/stlehmann/qthmi.ads/internal/ads/sim"
)

var localNetID = ads.NetID{192, 168, 0, 10, 1, 1}

func openSim(t *testing.T) (*ads.Connector, *sim.PLC) {
	t.Helper()
	plc := sim.New(localNetID)
	c, err := ads.Open(plc)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, plc
}

func TestOpenDefaultsToLocalPLCRuntime(t *testing.T) {
	c, plc := openSim(t)

	if got := c.Addr(); got.NetID != localNetID || got.Port != ads.PortPLCRuntime1 {
		t.Fatalf("Addr() = %s", got)
	}
	if plc.Sessions() != 1 {
		t.Fatalf("sessions = %d", plc.Sessions())
	}
}

func TestOpenWithPort(t *testing.T) {
	plc := sim.New(localNetID)
	plc.ServePort(ads.PortPLCRuntime2)
	c, err := ads.Open(plc, ads.WithPort(ads.PortPLCRuntime2))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()
	if c.Addr().Port != 811 {
		t.Fatalf("port = %d", c.Addr().Port)
	}
	if err := c.Write(0, int16(1), ads.TypeInt); err != nil {
		t.Fatalf("Write on runtime 2: %v", err)
	}
}

func TestOpenWithExplicitAddr(t *testing.T) {
	plc := sim.New(localNetID)
	remote := ads.Addr{NetID: ads.NetID{10, 0, 0, 1, 1, 1}, Port: 851}
	c, err := ads.Open(plc, ads.WithAddr(remote))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()
	if c.Addr() != remote {
		t.Fatalf("Addr() = %s", c.Addr())
	}

	_, err = c.Read(0, ads.TypeInt)
	var ce *ads.ConnectionError
	if !errors.As(err, &ce) || ce.ErrorCode() != ads.ErrCodeTargetNotFound {
		t.Fatalf("expected target not found, got %v", err)
	}
}

func TestOpenSessionFailures(t *testing.T) {
	boom := errors.New("router not running")

	plc := sim.New(localNetID)
	plc.FailSessions(boom, nil)
	_, err := ads.Open(plc)
	var se *ads.SessionError
	if !errors.As(err, &se) || !errors.Is(err, boom) {
		t.Fatalf("expected SessionError wrapping cause, got %v", err)
	}

	plc = sim.New(localNetID)
	plc.FailSessions(nil, boom)
	if _, err := ads.Open(plc); !errors.As(err, &se) || se.Step != "local address" {
		t.Fatalf("expected local address SessionError, got %v", err)
	}
	if plc.Sessions() != 0 {
		t.Fatalf("session leaked after failed Open: %d", plc.Sessions())
	}
}

func TestRoundTrip(t *testing.T) {
	c, _ := openSim(t)

	cases := []struct {
		addr int
		typ  ads.DataType
		v    ads.Value
	}{
		{ads.BitAddress(100, 2), ads.TypeBool, true},
		{ads.BitAddress(100, 3), ads.TypeBool, false},
		{200, ads.TypeReal, float32(21.5)},
		{208, ads.TypeLReal, float64(-0.125)},
		{220, ads.TypeInt, int16(-1234)},
		{222, ads.TypeUInt, uint16(65000)},
		{224, ads.TypeDInt, int32(-70000)},
		{228, ads.TypeUDInt, uint32(4000000000)},
		{232, ads.TypeSInt, int8(-8)},
		{233, ads.TypeUSInt, uint8(250)},
		{300, ads.StringType(20), "Pump 1 running"},
	}

	for _, tc := range cases {
		if err := c.Write(tc.addr, tc.v, tc.typ); err != nil {
			t.Fatalf("Write(%d, %v, %s): %v", tc.addr, tc.v, tc.typ, err)
		}
		got, err := c.Read(tc.addr, tc.typ)
		if err != nil {
			t.Fatalf("Read(%d, %s): %v", tc.addr, tc.typ, err)
		}
		if got != tc.v {
			t.Fatalf("Read(%d, %s) = %#v, want %#v", tc.addr, tc.typ, got, tc.v)
		}
	}
}

func TestBitAndByteAreasOverlay(t *testing.T) {
	c, plc := openSim(t)

	if err := c.Write(ads.BitAddress(100, 2), true, ads.TypeBool); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if b := plc.Bytes(100, 1)[0]; b != 0x04 {
		t.Fatalf("flag byte 100 = %#x, want 0x04", b)
	}
	v, err := c.Read(100, ads.TypeUSInt)
	if err != nil || v != uint8(4) {
		t.Fatalf("byte view = %v, %v", v, err)
	}
}

func TestReadErrorCode(t *testing.T) {
	c, plc := openSim(t)
	plc.InjectFault(ads.IndexGroupMemoryByte, 50, 1808)

	_, err := c.Read(50, ads.TypeReal)
	var ce *ads.ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if ce.Op != ads.OpRead || ce.Address != 50 || ce.Code != 1808 {
		t.Fatalf("got %+v", ce)
	}
	msg := err.Error()
	if !strings.Contains(msg, "50") || !strings.Contains(msg, "1808") {
		t.Fatalf("message lacks address or code: %q", msg)
	}
}

func TestWriteErrorCode(t *testing.T) {
	c, plc := openSim(t)
	plc.InjectFault(ads.IndexGroupMemoryBit, 802, 1796)

	err := c.Write(802, true, ads.TypeBool)
	var ce *ads.ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if ce.Op != ads.OpWrite || ce.Address != 802 || ce.Code != 1796 {
		t.Fatalf("got %+v", ce)
	}
	if !strings.HasPrefix(err.Error(), "writing on address 802 (error code 1796)") {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestWriteRejectsWrongShape(t *testing.T) {
	c, plc := openSim(t)

	err := c.Write(10, float64(1), ads.TypeInt)
	if !errors.Is(err, ads.ErrValueType) {
		t.Fatalf("expected ErrValueType, got %v", err)
	}
	if _, writes := plc.Counts(); writes != 0 {
		t.Fatalf("transport was called %d times", writes)
	}
}

func TestDeviceInfoAndState(t *testing.T) {
	c, plc := openSim(t)

	info, err := c.DeviceInfo()
	if err != nil || info.Name == "" {
		t.Fatalf("DeviceInfo = %+v, %v", info, err)
	}
	plc.SetState(ads.StateStop)
	st, err := c.DeviceState()
	if err != nil || st.ADSState != ads.StateStop {
		t.Fatalf("DeviceState = %+v, %v", st, err)
	}
}

func TestCloseThenUsePanics(t *testing.T) {
	c, plc := openSim(t)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if plc.Sessions() != 0 {
		t.Fatalf("session still open")
	}

	defer func() {
		r := recover()
		if r != ads.ErrClosed {
			t.Fatalf("recover() = %v, want ErrClosed", r)
		}
	}()
	c.Read(0, ads.TypeInt)
}

func TestZeroConnectorPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	var c ads.Connector
	c.Write(0, int16(1), ads.TypeInt)
}

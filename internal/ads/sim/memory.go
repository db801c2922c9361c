// Package sim provides an in-memory ADS device. It serves the flag memory,
// retain and data areas of one PLC runtime and is used by tests and by the
// "memory" transport setting.
package sim

import (
	"errors"
	"sync"

	"github.com/stlehmann/qthmi.ads/internal/ads"
)

const (
	// DefaultAreaSize is the size in bytes of each simulated area.
	DefaultAreaSize = 64 * 1024

	firstSessionPort = 30000
)

var ErrSessionUnknown = errors.New("sim: unknown session port")

type fault struct {
	group  ads.IndexGroup
	offset uint32
}

// PLC is a faithful in-memory model of a PLC runtime. The bit addressed
// group overlays the byte addressed flag memory: bit offset n is bit n%8 of
// byte n/8.
type PLC struct {
	mu sync.Mutex

	netID ads.NetID
	ports map[uint16]bool
	info  ads.DeviceInfo
	state ads.DeviceState

	areas map[ads.IndexGroup][]byte

	sessions map[int]bool
	nextPort int

	faults      map[fault]uint32
	sessionErr  error
	localAddErr error

	reads  int
	writes int
}

// New creates a simulator with the given net id, serving PortPLCRuntime1.
func New(netID ads.NetID) *PLC {
	flags := make([]byte, DefaultAreaSize)
	return &PLC{
		netID: netID,
		ports: map[uint16]bool{ads.PortPLCRuntime1: true},
		info:  ads.DeviceInfo{Name: "Plc30 App", Version: 3, Revision: 1, Build: 4024},
		state: ads.DeviceState{ADSState: ads.StateRun},
		areas: map[ads.IndexGroup][]byte{
			ads.IndexGroupMemoryByte: flags,
			ads.IndexGroupRetain:     make([]byte, DefaultAreaSize),
			ads.IndexGroupData:       make([]byte, DefaultAreaSize),
		},
		sessions: make(map[int]bool),
		nextPort: firstSessionPort,
		faults:   make(map[fault]uint32),
	}
}

// ServePort makes the simulator answer on an additional AMS port.
func (p *PLC) ServePort(port uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ports[port] = true
}

// SetState changes the reported ADS state.
func (p *PLC) SetState(s ads.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.ADSState = s
}

// InjectFault makes every access to group/offset fail with code. A code of
// zero clears the fault.
func (p *PLC) InjectFault(group ads.IndexGroup, offset uint32, code uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := fault{group, offset}
	if code == 0 {
		delete(p.faults, key)
		return
	}
	p.faults[key] = code
}

// FailSessions makes OpenSession and LocalAddr fail with the given errors.
func (p *PLC) FailSessions(open, localAddr error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionErr = open
	p.localAddErr = localAddr
}

// Counts returns the number of served reads and writes.
func (p *PLC) Counts() (reads, writes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads, p.writes
}

// Sessions returns the number of open sessions.
func (p *PLC) Sessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

func (p *PLC) OpenSession() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessionErr != nil {
		return 0, p.sessionErr
	}
	port := p.nextPort
	p.nextPort++
	p.sessions[port] = true
	return port, nil
}

func (p *PLC) LocalAddr() (ads.Addr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.localAddErr != nil {
		return ads.Addr{}, p.localAddErr
	}
	return ads.Addr{NetID: p.netID, Port: ads.PortPLCRuntime1}, nil
}

func (p *PLC) CloseSession(port int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.sessions[port] {
		return ErrSessionUnknown
	}
	delete(p.sessions, port)
	return nil
}

func (p *PLC) SyncRead(a ads.Addr, group ads.IndexGroup, offset uint32, t ads.DataType) (uint32, ads.Value) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if code := p.check(a, group, offset); code != 0 {
		return code, nil
	}

	if group == ads.IndexGroupMemoryBit {
		if !t.IsBool() {
			return uint32(ads.ErrCodeInvalidSize), nil
		}
		flags := p.areas[ads.IndexGroupMemoryByte]
		byteNo := offset / 8
		if int(byteNo) >= len(flags) {
			return uint32(ads.ErrCodeInvalidIndexOffset), nil
		}
		p.reads++
		return 0, flags[byteNo]&(1<<(offset%8)) != 0
	}

	area, code := p.span(group, offset, t.Size())
	if code != 0 {
		return code, nil
	}
	v, err := t.Decode(area)
	if err != nil {
		return uint32(ads.ErrCodeInvalidSize), nil
	}
	p.reads++
	return 0, v
}

func (p *PLC) SyncWrite(a ads.Addr, group ads.IndexGroup, offset uint32, v ads.Value, t ads.DataType) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if code := p.check(a, group, offset); code != 0 {
		return code
	}

	if group == ads.IndexGroupMemoryBit {
		on, ok := v.(bool)
		if !ok || !t.IsBool() {
			return uint32(ads.ErrCodeInvalidSize)
		}
		flags := p.areas[ads.IndexGroupMemoryByte]
		byteNo := offset / 8
		if int(byteNo) >= len(flags) {
			return uint32(ads.ErrCodeInvalidIndexOffset)
		}
		mask := byte(1 << (offset % 8))
		if on {
			flags[byteNo] |= mask
		} else {
			flags[byteNo] &^= mask
		}
		p.writes++
		return 0
	}

	data, err := t.Encode(v)
	if err != nil {
		return uint32(ads.ErrCodeInvalidData)
	}
	area, code := p.span(group, offset, len(data))
	if code != 0 {
		return code
	}
	copy(area, data)
	p.writes++
	return 0
}

func (p *PLC) ReadDeviceInfo(a ads.Addr) (uint32, ads.DeviceInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if code := p.checkAddr(a); code != 0 {
		return code, ads.DeviceInfo{}
	}
	return 0, p.info
}

func (p *PLC) ReadState(a ads.Addr) (uint32, ads.DeviceState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if code := p.checkAddr(a); code != 0 {
		return code, ads.DeviceState{}
	}
	return 0, p.state
}

// Bytes returns a copy of n bytes of the flag memory starting at offset.
func (p *PLC) Bytes(offset, n int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]byte, n)
	copy(out, p.areas[ads.IndexGroupMemoryByte][offset:])
	return out
}

func (p *PLC) checkAddr(a ads.Addr) uint32 {
	if a.NetID != p.netID {
		return uint32(ads.ErrCodeTargetNotFound)
	}
	if !p.ports[a.Port] {
		return uint32(ads.ErrCodeTargetPortNotFound)
	}
	return 0
}

func (p *PLC) check(a ads.Addr, group ads.IndexGroup, offset uint32) uint32 {
	if code := p.checkAddr(a); code != 0 {
		return code
	}
	if code, ok := p.faults[fault{group, offset}]; ok {
		return code
	}
	return 0
}

func (p *PLC) span(group ads.IndexGroup, offset uint32, n int) ([]byte, uint32) {
	area, ok := p.areas[group]
	if !ok {
		return nil, uint32(ads.ErrCodeInvalidIndexGroup)
	}
	end := int(offset) + n
	if end > len(area) {
		return nil, uint32(ads.ErrCodeInvalidIndexOffset)
	}
	return area[offset:end], 0
}

var (
	_ ads.Transport       = (*PLC)(nil)
	_ ads.DeviceInspector = (*PLC)(nil)
)

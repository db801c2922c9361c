package ads

import (
	"fmt"
	"strconv"
	"strings"
)

// IndexGroup selects the PLC storage area an index offset refers to.
type IndexGroup uint32

// PLC index groups
const (
	IndexGroupMemoryByte IndexGroup = 0x4020 // %M, offset is a byte offset
	IndexGroupMemoryBit  IndexGroup = 0x4021 // %MX, offset is byte*8 + bit
	IndexGroupMemorySize IndexGroup = 0x4025
	IndexGroupRetain     IndexGroup = 0x4030
	IndexGroupRetainSize IndexGroup = 0x4035
	IndexGroupData       IndexGroup = 0x4040
	IndexGroupDataSize   IndexGroup = 0x4045
)

func (g IndexGroup) String() string {
	switch g {
	case IndexGroupMemoryByte:
		return "MEMORYBYTE"
	case IndexGroupMemoryBit:
		return "MEMORYBIT"
	case IndexGroupMemorySize:
		return "MEMORYSIZE"
	case IndexGroupRetain:
		return "RETAIN"
	case IndexGroupRetainSize:
		return "RETAINSIZE"
	case IndexGroupData:
		return "DATA"
	case IndexGroupDataSize:
		return "DATASIZE"
	default:
		return fmt.Sprintf("0x%04X", uint32(g))
	}
}

// Standard AMS ports
const (
	PortLogger        = 100
	PortEventLogger   = 110
	PortIO            = 300
	PortSpecialTask1  = 301
	PortSpecialTask2  = 302
	PortNC            = 500
	PortPLCRuntime1   = 801
	PortPLCRuntime2   = 811
	PortPLCRuntime3   = 821
	PortPLCRuntime4   = 831
	PortTC3PLCRuntime = 851
	PortCamController = 900
	PortSystemService = 10000
	PortScope         = 14000
)

// State is the ADS state of a device.
type State uint16

const (
	StateInvalid State = iota
	StateIdle
	StateReset
	StateInit
	StateStart
	StateRun
	StateStop
	StateSaveConfig
	StateLoadConfig
	StatePowerFailure
	StatePowerGood
	StateError
	StateShutdown
	StateSuspend
	StateResume
	StateConfig
	StateReconfig
)

var stateNames = [...]string{
	"INVALID", "IDLE", "RESET", "INIT", "START", "RUN", "STOP", "SAVECFG",
	"LOADCFG", "POWERFAILURE", "POWERGOOD", "ERROR", "SHUTDOWN", "SUSPEND",
	"RESUME", "CONFIG", "RECONFIG",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// DeviceInfo is the name and version reported by an ADS server.
type DeviceInfo struct {
	Name     string `json:"name"`
	Version  uint8  `json:"version"`
	Revision uint8  `json:"revision"`
	Build    uint16 `json:"build"`
}

// DeviceState is the ADS state plus the device specific machine state.
type DeviceState struct {
	ADSState    State  `json:"ads_state"`
	DeviceState uint16 `json:"device_state"`
}

// NetID is the 6 byte AMS network identifier.
type NetID [6]byte

// ParseNetID parses the dotted form "5.12.82.20.1.1".
func ParseNetID(s string) (NetID, error) {
	var id NetID
	parts := strings.Split(s, ".")
	if len(parts) != len(id) {
		return id, fmt.Errorf("invalid AMS net id %q: need 6 parts, got %d", s, len(parts))
	}
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return id, fmt.Errorf("invalid AMS net id %q: %w", s, err)
		}
		id[i] = byte(n)
	}
	return id, nil
}

func (id NetID) String() string {
	return fmt.Sprintf("%d.%d.%d.%d.%d.%d", id[0], id[1], id[2], id[3], id[4], id[5])
}

// IsZero reports whether all bytes are zero.
func (id NetID) IsZero() bool {
	return id == NetID{}
}

// Addr identifies an ADS endpoint. The port may be changed to address a
// different runtime on the same device.
type Addr struct {
	NetID NetID
	Port  uint16
}

// SetPort repoints the address to another AMS port.
func (a *Addr) SetPort(port int) error {
	if port <= 0 || port > 0xFFFF {
		return fmt.Errorf("invalid AMS port %d", port)
	}
	a.Port = uint16(port)
	return nil
}

func (a Addr) String() string {
	return fmt.Sprintf("%s:%d", a.NetID, a.Port)
}

package amstcp

import (
	"encoding/binary"
	"fmt"

	"github.com/stlehmann/qthmi.ads/internal/ads"
)

// AMS/TCP header (6 bytes) + AMS header (32 bytes) + ADS data
const (
	tcpHeaderLen = 6
	amsHeaderLen = 32
	headerLen    = tcpHeaderLen + amsHeaderLen

	// maxFrameLen bounds the data accepted from the router.
	maxFrameLen = 1 << 20
)

// ADS command ids
const (
	CmdReadDeviceInfo = 0x0001
	CmdRead           = 0x0002
	CmdWrite          = 0x0003
	CmdReadState      = 0x0004
)

// AMS state flags
const (
	FlagRequest  = 0x0004
	FlagResponse = 0x0005
)

// Packet is one AMS packet.
type Packet struct {
	TargetNetID ads.NetID
	TargetPort  uint16
	SourceNetID ads.NetID
	SourcePort  uint16
	CommandID   uint16
	StateFlags  uint16
	ErrorCode   uint32
	InvokeID    uint32
	Data        []byte
}

// Encode builds the complete TCP frame.
func (p *Packet) Encode() []byte {
	frame := make([]byte, headerLen+len(p.Data))

	// AMS/TCP header, first two bytes reserved
	binary.LittleEndian.PutUint32(frame[2:6], uint32(amsHeaderLen+len(p.Data)))

	h := frame[tcpHeaderLen:]
	copy(h[0:6], p.TargetNetID[:])
	binary.LittleEndian.PutUint16(h[6:8], p.TargetPort)
	copy(h[8:14], p.SourceNetID[:])
	binary.LittleEndian.PutUint16(h[14:16], p.SourcePort)
	binary.LittleEndian.PutUint16(h[16:18], p.CommandID)
	binary.LittleEndian.PutUint16(h[18:20], p.StateFlags)
	binary.LittleEndian.PutUint32(h[20:24], uint32(len(p.Data)))
	binary.LittleEndian.PutUint32(h[24:28], p.ErrorCode)
	binary.LittleEndian.PutUint32(h[28:32], p.InvokeID)

	copy(frame[headerLen:], p.Data)
	return frame
}

// frameLength returns the byte count following a 6 byte AMS/TCP header.
func frameLength(tcpHeader []byte) (int, error) {
	if len(tcpHeader) < tcpHeaderLen {
		return 0, fmt.Errorf("tcp header too short: %d bytes", len(tcpHeader))
	}
	n := binary.LittleEndian.Uint32(tcpHeader[2:6])
	if n < amsHeaderLen || n > maxFrameLen {
		return 0, fmt.Errorf("invalid AMS length %d", n)
	}
	return int(n), nil
}

// DecodePacket parses the AMS header and data following the AMS/TCP header.
func DecodePacket(data []byte) (*Packet, error) {
	if len(data) < amsHeaderLen {
		return nil, fmt.Errorf("packet too short: %d bytes", len(data))
	}

	p := &Packet{
		TargetPort: binary.LittleEndian.Uint16(data[6:8]),
		SourcePort: binary.LittleEndian.Uint16(data[14:16]),
		CommandID:  binary.LittleEndian.Uint16(data[16:18]),
		StateFlags: binary.LittleEndian.Uint16(data[18:20]),
		ErrorCode:  binary.LittleEndian.Uint32(data[24:28]),
		InvokeID:   binary.LittleEndian.Uint32(data[28:32]),
	}
	copy(p.TargetNetID[:], data[0:6])
	copy(p.SourceNetID[:], data[8:14])

	n := int(binary.LittleEndian.Uint32(data[20:24]))
	if len(data) < amsHeaderLen+n {
		return nil, fmt.Errorf("incomplete packet data: want %d bytes, got %d", n, len(data)-amsHeaderLen)
	}
	p.Data = data[amsHeaderLen : amsHeaderLen+n]

	return p, nil
}

// ReadRequest builds the payload of an ADS Read request.
func ReadRequest(group ads.IndexGroup, offset uint32, length int) []byte {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], uint32(group))
	binary.LittleEndian.PutUint32(data[4:8], offset)
	binary.LittleEndian.PutUint32(data[8:12], uint32(length))
	return data
}

// WriteRequest builds the payload of an ADS Write request.
func WriteRequest(group ads.IndexGroup, offset uint32, value []byte) []byte {
	data := make([]byte, 12+len(value))
	binary.LittleEndian.PutUint32(data[0:4], uint32(group))
	binary.LittleEndian.PutUint32(data[4:8], offset)
	binary.LittleEndian.PutUint32(data[8:12], uint32(len(value)))
	copy(data[12:], value)
	return data
}

// ParseReadResponse returns the ADS result and the data of a Read response.
func ParseReadResponse(data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, fmt.Errorf("response too short")
	}
	result := binary.LittleEndian.Uint32(data[0:4])
	if result != 0 {
		return result, nil, nil
	}
	if len(data) < 8 {
		return 0, nil, fmt.Errorf("response too short")
	}
	n := int(binary.LittleEndian.Uint32(data[4:8]))
	if len(data) < 8+n {
		return 0, nil, fmt.Errorf("incomplete response data")
	}
	return 0, data[8 : 8+n], nil
}

// ParseResult returns the leading ADS result of a response.
func ParseResult(data []byte) (uint32, error) {
	if len(data) < 4 {
		return 0, fmt.Errorf("response too short")
	}
	return binary.LittleEndian.Uint32(data[0:4]), nil
}

// ParseDeviceInfoResponse decodes a ReadDeviceInfo response.
func ParseDeviceInfoResponse(data []byte) (uint32, ads.DeviceInfo, error) {
	result, err := ParseResult(data)
	if err != nil || result != 0 {
		return result, ads.DeviceInfo{}, err
	}
	if len(data) < 24 {
		return 0, ads.DeviceInfo{}, fmt.Errorf("device info too short: %d bytes", len(data))
	}
	name := data[8:24]
	for i, b := range name {
		if b == 0 {
			name = name[:i]
			break
		}
	}
	return 0, ads.DeviceInfo{
		Version:  data[4],
		Revision: data[5],
		Build:    binary.LittleEndian.Uint16(data[6:8]),
		Name:     string(name),
	}, nil
}

// ParseStateResponse decodes a ReadState response.
func ParseStateResponse(data []byte) (uint32, ads.DeviceState, error) {
	result, err := ParseResult(data)
	if err != nil || result != 0 {
		return result, ads.DeviceState{}, err
	}
	if len(data) < 8 {
		return 0, ads.DeviceState{}, fmt.Errorf("state too short: %d bytes", len(data))
	}
	return 0, ads.DeviceState{
		ADSState:    ads.State(binary.LittleEndian.Uint16(data[4:6])),
		DeviceState: binary.LittleEndian.Uint16(data[6:8]),
	}, nil
}

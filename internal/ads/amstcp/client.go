// Package amstcp talks to an AMS router over TCP (port 48898) and implements
// ads.Transport on top of it.
package amstcp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stlehmann/qthmi.ads/internal/ads"
)

// DefaultPort is the TCP port of the AMS router.
const DefaultPort = 48898

var errNotConnected = errors.New("not connected")

type Client struct {
	address    string
	timeout    time.Duration
	target     ads.NetID
	source     ads.NetID
	sourcePort uint16
	logger     *zap.Logger

	mu        sync.Mutex
	conn      net.Conn
	connected bool
	invokeID  uint32
	sessions  map[int]bool
	nextPort  int
}

// Option configures a Client.
type Option func(*Client)

// WithTargetNetID sets the AMS net id of the device. Without it the id is
// derived from the router IP ("a.b.c.d.1.1").
func WithTargetNetID(id ads.NetID) Option {
	return func(c *Client) { c.target = id }
}

// WithSourceNetID sets the AMS net id announced as sender.
func WithSourceNetID(id ads.NetID) Option {
	return func(c *Client) { c.source = id }
}

// WithSourcePort sets the AMS port announced as sender.
func WithSourcePort(port uint16) Option {
	return func(c *Client) { c.sourcePort = port }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(address string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		address:    address,
		timeout:    timeout,
		sourcePort: 32905,
		logger:     zap.NewNop(),
		sessions:   make(map[int]bool),
		nextPort:   32905,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect stellt die TCP-Verbindung zum Router her
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *Client) connectLocked() error {
	if c.connected {
		return nil
	}

	conn, err := net.DialTimeout("tcp", c.address, c.timeout)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	if c.target.IsZero() {
		c.target = netIDFromAddr(conn.RemoteAddr())
	}
	if c.source.IsZero() {
		c.source = netIDFromAddr(conn.LocalAddr())
	}

	c.conn = conn
	c.connected = true

	c.logger.Info("AMS router connected",
		zap.String("address", c.address),
		zap.String("target", c.target.String()),
		zap.String("source", c.source.String()))

	return nil
}

// Close schließt die Verbindung unabhängig von offenen Sessions
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = make(map[int]bool)
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if !c.connected {
		return nil
	}

	err := c.conn.Close()
	c.connected = false
	c.conn = nil

	return err
}

// OpenSession connects on first use and hands out a local port per session.
// The port is a handle for CloseSession only. All sessions share the
// connection and every frame announces the source port set with
// WithSourcePort.
func (c *Client) OpenSession() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(); err != nil {
		return 0, err
	}
	port := c.nextPort
	c.nextPort++
	c.sessions[port] = true
	return port, nil
}

// LocalAddr returns the device behind the router, pointed at the first PLC
// runtime.
func (c *Client) LocalAddr() (ads.Addr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return ads.Addr{}, errNotConnected
	}
	return ads.Addr{NetID: c.target, Port: ads.PortPLCRuntime1}, nil
}

// CloseSession releases port. The connection is closed with the last session.
func (c *Client) CloseSession(port int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.sessions[port] {
		return fmt.Errorf("unknown session port %d", port)
	}
	delete(c.sessions, port)
	if len(c.sessions) == 0 {
		return c.closeLocked()
	}
	return nil
}

func (c *Client) SyncRead(a ads.Addr, group ads.IndexGroup, offset uint32, t ads.DataType) (uint32, ads.Value) {
	resp, code := c.roundTrip(a, CmdRead, ReadRequest(group, offset, t.Size()))
	if code != 0 {
		return code, nil
	}

	result, data, err := ParseReadResponse(resp.Data)
	if err != nil {
		c.logger.Warn("Malformed read response", zap.Error(err))
		return uint32(ads.ErrCodeDeviceError), nil
	}
	if result != 0 {
		return result, nil
	}

	v, err := t.Decode(data)
	if err != nil {
		c.logger.Warn("Read response does not match type",
			zap.Stringer("type", t),
			zap.Error(err))
		return uint32(ads.ErrCodeInvalidSize), nil
	}
	return 0, v
}

func (c *Client) SyncWrite(a ads.Addr, group ads.IndexGroup, offset uint32, v ads.Value, t ads.DataType) uint32 {
	data, err := t.Encode(v)
	if err != nil {
		return uint32(ads.ErrCodeInvalidData)
	}

	resp, code := c.roundTrip(a, CmdWrite, WriteRequest(group, offset, data))
	if code != 0 {
		return code
	}

	result, err := ParseResult(resp.Data)
	if err != nil {
		return uint32(ads.ErrCodeDeviceError)
	}
	return result
}

func (c *Client) ReadDeviceInfo(a ads.Addr) (uint32, ads.DeviceInfo) {
	resp, code := c.roundTrip(a, CmdReadDeviceInfo, nil)
	if code != 0 {
		return code, ads.DeviceInfo{}
	}
	result, info, err := ParseDeviceInfoResponse(resp.Data)
	if err != nil {
		return uint32(ads.ErrCodeDeviceError), ads.DeviceInfo{}
	}
	return result, info
}

func (c *Client) ReadState(a ads.Addr) (uint32, ads.DeviceState) {
	resp, code := c.roundTrip(a, CmdReadState, nil)
	if code != 0 {
		return code, ads.DeviceState{}
	}
	result, st, err := ParseStateResponse(resp.Data)
	if err != nil {
		return uint32(ads.ErrCodeDeviceError), ads.DeviceState{}
	}
	return result, st
}

// roundTrip sends one request and waits for the response with the same
// invoke id. Failures are reported as ADS codes.
func (c *Client) roundTrip(a ads.Addr, cmd uint16, data []byte) (*Packet, uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		if len(c.sessions) == 0 {
			return nil, uint32(ads.ErrCodeClientPortNotOpen)
		}
		// Verbindung nach Timeout oder Abbruch neu aufbauen
		if err := c.connectLocked(); err != nil {
			c.logger.Warn("AMS reconnect failed", zap.Error(err))
			return nil, uint32(ads.ErrCodeClientPortNotOpen)
		}
	}

	// Eindeutige Invoke ID
	c.invokeID++
	request := &Packet{
		TargetNetID: a.NetID,
		TargetPort:  a.Port,
		SourceNetID: c.source,
		SourcePort:  c.sourcePort,
		CommandID:   cmd,
		StateFlags:  FlagRequest,
		InvokeID:    c.invokeID,
		Data:        data,
	}

	deadline := time.Now().Add(c.timeout)
	c.conn.SetDeadline(deadline)

	if _, err := c.conn.Write(request.Encode()); err != nil {
		return nil, c.ioFailure("write", err)
	}

	header := make([]byte, tcpHeaderLen)
	for {
		if _, err := io.ReadFull(c.conn, header); err != nil {
			return nil, c.ioFailure("read", err)
		}
		n, err := frameLength(header)
		if err != nil {
			c.logger.Warn("Malformed AMS frame", zap.Error(err))
			c.closeLocked()
			return nil, uint32(ads.ErrCodeDeviceError)
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(c.conn, body); err != nil {
			return nil, c.ioFailure("read", err)
		}

		response, err := DecodePacket(body)
		if err != nil {
			c.logger.Warn("Malformed AMS packet", zap.Error(err))
			return nil, uint32(ads.ErrCodeDeviceError)
		}

		// Antworten auf abgelaufene Requests verwerfen
		if response.InvokeID != request.InvokeID {
			c.logger.Debug("Dropping stale response",
				zap.Uint32("expected", request.InvokeID),
				zap.Uint32("got", response.InvokeID))
			continue
		}
		if response.CommandID != cmd || response.StateFlags&0x0001 == 0 {
			c.logger.Warn("Unexpected AMS response",
				zap.Uint16("command", response.CommandID),
				zap.Uint16("flags", response.StateFlags))
			return nil, uint32(ads.ErrCodeDeviceError)
		}
		if response.ErrorCode != 0 {
			return nil, response.ErrorCode
		}
		return response, 0
	}
}

// ioFailure drops the connection on any I/O error. A timed out read may
// leave part of a frame in the stream, so the next request starts on a
// fresh connection.
func (c *Client) ioFailure(op string, err error) uint32 {
	var netErr net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		c.logger.Warn("AMS request timed out", zap.String("op", op), zap.Duration("timeout", c.timeout))
		c.closeLocked()
		return uint32(ads.ErrCodeClientSyncTimeout)
	}

	c.logger.Error("AMS connection lost", zap.String("op", op), zap.Error(err))
	c.closeLocked()
	return uint32(ads.ErrCodeClientPortNotOpen)
}

func netIDFromAddr(addr net.Addr) ads.NetID {
	var id ads.NetID
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return id
	}
	ip := tcp.IP.To4()
	if ip == nil {
		return id
	}
	copy(id[:4], ip)
	id[4], id[5] = 1, 1
	return id
}

var (
	_ ads.Transport       = (*Client)(nil)
	_ ads.DeviceInspector = (*Client)(nil)
)

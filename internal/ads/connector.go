package ads

import "fmt"

// Transport is the synchronous ADS primitive a Connector is built on. A
// code of zero means success; any other code is a device diagnostic that is
// passed through verbatim.
type Transport interface {
	OpenSession() (port int, err error)
	LocalAddr() (Addr, error)
	CloseSession(port int) error
	SyncRead(a Addr, group IndexGroup, offset uint32, t DataType) (code uint32, v Value)
	SyncWrite(a Addr, group IndexGroup, offset uint32, v Value, t DataType) (code uint32)
}

// DeviceInspector is implemented by transports that can query device
// information and state.
type DeviceInspector interface {
	ReadDeviceInfo(a Addr) (code uint32, info DeviceInfo)
	ReadState(a Addr) (code uint32, state DeviceState)
}

type connectorState int

const (
	stateOpen connectorState = iota + 1
	stateClosed
)

// Connector owns one open transport session and exposes typed reads and
// writes. It is not safe for concurrent use.
type Connector struct {
	transport Transport
	port      int
	addr      Addr
	state     connectorState
}

// Option configures Open.
type Option func(*options)

type options struct {
	addr    *Addr
	port    int
	portSet bool
}

// WithAddr targets an explicit device address instead of the local one.
func WithAddr(a Addr) Option {
	return func(o *options) {
		o.addr = &a
	}
}

// WithPort overrides the AMS port of the target (default PortPLCRuntime1).
func WithPort(port int) Option {
	return func(o *options) {
		o.port = port
		o.portSet = true
	}
}

// Open acquires a session on t. Without WithAddr the local device address
// is looked up and pointed at the first PLC runtime.
func Open(t Transport, opts ...Option) (*Connector, error) {
	o := options{port: PortPLCRuntime1}
	for _, opt := range opts {
		opt(&o)
	}

	port, err := t.OpenSession()
	if err != nil {
		return nil, &SessionError{Step: "open port", Err: err}
	}

	var addr Addr
	if o.addr != nil {
		addr = *o.addr
		if o.portSet {
			if err := addr.SetPort(o.port); err != nil {
				t.CloseSession(port)
				return nil, &SessionError{Step: "set port", Err: err}
			}
		}
	} else {
		addr, err = t.LocalAddr()
		if err != nil {
			t.CloseSession(port)
			return nil, &SessionError{Step: "local address", Err: err}
		}
		if err := addr.SetPort(o.port); err != nil {
			t.CloseSession(port)
			return nil, &SessionError{Step: "set port", Err: err}
		}
	}

	return &Connector{
		transport: t,
		port:      port,
		addr:      addr,
		state:     stateOpen,
	}, nil
}

// Addr returns the target device address.
func (c *Connector) Addr() Addr {
	c.mustBeOpen()
	return c.addr
}

// Port returns the session handle granted by the transport.
func (c *Connector) Port() int {
	c.mustBeOpen()
	return c.port
}

// Read fetches the value at address with type t.
func (c *Connector) Read(address int, t DataType) (Value, error) {
	c.mustBeOpen()
	group, offset := Resolve(address, t)

	code, v := c.transport.SyncRead(c.addr, group, offset, t)
	if code != 0 {
		return nil, &ConnectionError{Op: OpRead, Address: address, Code: code}
	}
	return v, nil
}

// Write stores v at address with type t. v must have the canonical Go type
// of t (see Coerce).
func (c *Connector) Write(address int, v Value, t DataType) error {
	c.mustBeOpen()
	if !t.Accepts(v) {
		return fmt.Errorf("write address %d: %w: %T for %s", address, ErrValueType, v, t)
	}
	group, offset := Resolve(address, t)

	if code := c.transport.SyncWrite(c.addr, group, offset, v, t); code != 0 {
		return &ConnectionError{Op: OpWrite, Address: address, Code: code}
	}
	return nil
}

// DeviceInfo queries the name and version of the target.
func (c *Connector) DeviceInfo() (DeviceInfo, error) {
	c.mustBeOpen()
	insp, ok := c.transport.(DeviceInspector)
	if !ok {
		return DeviceInfo{}, ErrNotSupported
	}
	code, info := insp.ReadDeviceInfo(c.addr)
	if code != 0 {
		return DeviceInfo{}, fmt.Errorf("read device info: %s (error code %d)", ErrorCode(code), code)
	}
	return info, nil
}

// DeviceState queries the ADS state of the target.
func (c *Connector) DeviceState() (DeviceState, error) {
	c.mustBeOpen()
	insp, ok := c.transport.(DeviceInspector)
	if !ok {
		return DeviceState{}, ErrNotSupported
	}
	code, st := insp.ReadState(c.addr)
	if code != 0 {
		return DeviceState{}, fmt.Errorf("read state: %s (error code %d)", ErrorCode(code), code)
	}
	return st, nil
}

// Close releases the session. Closing twice is a no-op.
func (c *Connector) Close() error {
	if c.state == stateClosed {
		return nil
	}
	c.state = stateClosed
	return c.transport.CloseSession(c.port)
}

// Closed reports whether Close has been called.
func (c *Connector) Closed() bool {
	return c.state == stateClosed
}

func (c *Connector) mustBeOpen() {
	if c.state != stateOpen {
		panic(ErrClosed)
	}
}

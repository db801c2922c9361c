package ads

import (
	"errors"
	"fmt"
)

// ErrClosed is the panic value for operations on a closed Connector.
var ErrClosed = errors.New("ads: connector is closed")

var ErrNotSupported = errors.New("ads: operation not supported by transport")

// Operation is the kind of request that failed.
type Operation string

const (
	OpRead  Operation = "read"
	OpWrite Operation = "write"
)

// ConnectionError reports a non-zero code returned by the device for a read
// or write. The code is passed through verbatim.
type ConnectionError struct {
	Op      Operation
	Address int
	Code    uint32
}

func (e *ConnectionError) Error() string {
	verb := "reading from"
	if e.Op == OpWrite {
		verb = "writing on"
	}
	msg := fmt.Sprintf("%s address %d (error code %d)", verb, e.Address, e.Code)
	if name, ok := errorCodeNames[ErrorCode(e.Code)]; ok {
		msg += ": " + name
	}
	return msg
}

// ErrorCode returns the device code as an ErrorCode.
func (e *ConnectionError) ErrorCode() ErrorCode {
	return ErrorCode(e.Code)
}

// SessionError reports a failure to acquire the transport session.
type SessionError struct {
	Step string
	Err  error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("ads session: %s: %v", e.Step, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// ErrorCode is an ADS return code.
type ErrorCode uint32

const (
	ErrCodeNone                ErrorCode = 0
	ErrCodeTargetPortNotFound  ErrorCode = 6
	ErrCodeTargetNotFound      ErrorCode = 7
	ErrCodeDeviceError         ErrorCode = 1792
	ErrCodeServiceNotSupported ErrorCode = 1793
	ErrCodeInvalidIndexGroup   ErrorCode = 1794
	ErrCodeInvalidIndexOffset  ErrorCode = 1795
	ErrCodeInvalidAccess       ErrorCode = 1796
	ErrCodeInvalidSize         ErrorCode = 1797
	ErrCodeInvalidData         ErrorCode = 1798
	ErrCodeNotReady            ErrorCode = 1799
	ErrCodeBusy                ErrorCode = 1800
	ErrCodeSymbolNotFound      ErrorCode = 1808
	ErrCodeClientSyncTimeout   ErrorCode = 1861
	ErrCodeClientPortNotOpen   ErrorCode = 1864
)

var errorCodeNames = map[ErrorCode]string{
	ErrCodeTargetPortNotFound:  "target port not found",
	ErrCodeTargetNotFound:      "target machine not found",
	ErrCodeDeviceError:         "general device error",
	ErrCodeServiceNotSupported: "service not supported",
	ErrCodeInvalidIndexGroup:   "invalid index group",
	ErrCodeInvalidIndexOffset:  "invalid index offset",
	ErrCodeInvalidAccess:       "reading/writing not permitted",
	ErrCodeInvalidSize:         "parameter size not correct",
	ErrCodeInvalidData:         "invalid parameter values",
	ErrCodeNotReady:            "device not ready",
	ErrCodeBusy:                "device busy",
	ErrCodeSymbolNotFound:      "symbol not found",
	ErrCodeClientSyncTimeout:   "client sync timeout",
	ErrCodeClientPortNotOpen:   "client port not open",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	if c == ErrCodeNone {
		return "no error"
	}
	return fmt.Sprintf("ads error %d", uint32(c))
}

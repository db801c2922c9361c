package websocket

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/stlehmann/qthmi.ads/internal/ads"
	"github.com/stlehmann/qthmi.ads/internal/hmi"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Server -> Client
	MessageTypeSnapshot     MessageType = "snapshot"
	MessageTypeValueUpdate  MessageType = "value_update"
	MessageTypeValueError   MessageType = "value_error"
	MessageTypeWriteResult  MessageType = "write_result"
	MessageTypeError        MessageType = "error"
	MessageTypeSystemStatus MessageType = "system_status"

	// Client -> Server
	MessageTypeWrite MessageType = "write"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ValueData is the payload of value_update and write_result.
type ValueData struct {
	Variable string `json:"variable"`
	Address  int    `json:"address"`
	Type     string `json:"type"`
	Hint     string `json:"hint,omitempty"`
	Value    any    `json:"value"`
}

// ValueErrorData is the payload of value_error.
type ValueErrorData struct {
	Variable string `json:"variable"`
	Address  int    `json:"address"`
	Error    string `json:"error"`
	Code     uint32 `json:"code,omitempty"`
}

// WriteResultData answers a client write.
type WriteResultData struct {
	RequestID string `json:"request_id,omitempty"`
	Variable  string `json:"variable"`
	OK        bool   `json:"ok"`
	Value     any    `json:"value,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ClientMessage is a message sent by a client.
type ClientMessage struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Variable  string          `json:"variable"`
	Value     json.RawMessage `json:"value"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewValueUpdateMessage(v *hmi.Variable, val ads.Value) Message {
	return NewMessage(MessageTypeValueUpdate, ValueData{
		Variable: v.Name,
		Address:  v.Address,
		Type:     v.Type.String(),
		Hint:     v.Hint,
		Value:    ads.Normalize(val),
	})
}

func NewValueErrorMessage(v *hmi.Variable, err error) Message {
	data := ValueErrorData{
		Variable: v.Name,
		Address:  v.Address,
		Error:    err.Error(),
	}
	var ce *ads.ConnectionError
	if errors.As(err, &ce) {
		data.Code = ce.Code
	}
	return NewMessage(MessageTypeValueError, data)
}

func NewErrorMessage(reason string) Message {
	return NewMessage(MessageTypeError, map[string]string{"reason": reason})
}

// Package protocol defines the JSON envelope exchanged with display and editor clients.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType is the tag carried in an envelope's "type" field.
// Tags that are not listed below are kept verbatim so they can be
// re-encoded unchanged; only dispatching them fails.
type MessageType string

// Message types understood by the hub.
const (
	TypeListPlugins  MessageType = "listPlugins"
	TypeAddPlugin    MessageType = "addPlugin"
	TypeRemovePlugin MessageType = "removePlugin"
	TypeConfigPlugin MessageType = "configPlugin"
	TypeGetStyle     MessageType = "getStyle"
	TypeSetStyle     MessageType = "setStyle"
	TypeRemoveStyle  MessageType = "removeStyle"
	TypeBroadcast    MessageType = "broadcast"

	// TypeError is outbound only.
	TypeError MessageType = "error"
)

var knownTypes = map[MessageType]struct{}{
	TypeListPlugins:  {},
	TypeAddPlugin:    {},
	TypeRemovePlugin: {},
	TypeConfigPlugin: {},
	TypeGetStyle:     {},
	TypeSetStyle:     {},
	TypeRemoveStyle:  {},
	TypeBroadcast:    {},
	TypeError:        {},
}

// Known reports whether t is one of the declared message types.
func (t MessageType) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// Unknown reports whether t is a tag the hub does not recognize.
func (t MessageType) Unknown() bool {
	return !t.Known()
}

var nullData = json.RawMessage("null")

// ErrMissingType is returned by Decode when the envelope has no "type".
var ErrMissingType = errors.New("envelope has no type")

// Envelope is the unit exchanged over a connection.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode parses a text frame into an Envelope. A missing "data" field
// becomes JSON null; an unrecognized "type" is not an error.
func Decode(frame []byte) (Envelope, error) {
	var raw struct {
		Type *string         `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(frame, &raw); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if raw.Type == nil {
		return Envelope{}, ErrMissingType
	}

	data := raw.Data
	if len(bytes.TrimSpace(data)) == 0 {
		data = nullData
	}
	return Envelope{Type: MessageType(*raw.Type), Data: data}, nil
}

// Encode serializes e for a text frame.
func (e Envelope) Encode() ([]byte, error) {
	if len(e.Data) == 0 {
		e.Data = nullData
	}
	return json.Marshal(e)
}

// New builds an envelope whose data is the JSON encoding of v.
func New(t MessageType, v any) (Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s data: %w", t, err)
	}
	return Envelope{Type: t, Data: data}, nil
}

// ErrorEnvelope builds an outbound error message carrying msg.
func ErrorEnvelope(msg string) Envelope {
	data, _ := json.Marshal(msg)
	return Envelope{Type: TypeError, Data: data}
}

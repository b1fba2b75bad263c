package protocol

import (
	"encoding/json"
	"fmt"
)

const Version = "1.0"

const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeFill    = "FILL"
	TypeAck     = "ACK"
)

// BaseMessage carries the fields every executor message has.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// Decode parses b into the message struct named by its type field and
// returns it by value (HelloMsg, WelcomeMsg, FillMsg or AckMsg).
func Decode(b []byte) (any, error) {
	base, err := DecodeBase(b)
	if err != nil {
		return nil, err
	}
	switch base.Type {
	case TypeHello:
		var m HelloMsg
		err = json.Unmarshal(b, &m)
		return m, err
	case TypeWelcome:
		var m WelcomeMsg
		err = json.Unmarshal(b, &m)
		return m, err
	case TypeFill:
		var m FillMsg
		err = json.Unmarshal(b, &m)
		return m, err
	case TypeAck:
		var m AckMsg
		err = json.Unmarshal(b, &m)
		return m, err
	default:
		return nil, fmt.Errorf("unknown message type %q", base.Type)
	}
}

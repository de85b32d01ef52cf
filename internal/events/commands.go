package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Command is a decoded inbound client message. The concrete types are
// Subscribe, Unsubscribe, Ping and Pong.
type Command interface {
	command()
}

// Subscribe adds a channel to the client's subscriptions
type Subscribe struct {
	Channel Channel
}

// Unsubscribe removes a channel from the client's subscriptions
type Unsubscribe struct {
	Channel Channel
}

// Ping asks for an immediate pong
type Ping struct{}

// Pong answers a heartbeat probe
type Pong struct{}

func (Subscribe) command()   {}
func (Unsubscribe) command() {}
func (Ping) command()        {}
func (Pong) command()        {}

// ErrUnknownChannel is returned for subscriptions to channels that do not exist
var ErrUnknownChannel = errors.New("unknown channel")

type inbound struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// DecodeCommand parses an inbound JSON frame into a Command
func DecodeCommand(raw []byte) (Command, error) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}

	switch in.Type {
	case "subscribe", "unsubscribe":
		ch, ok := ParseChannel(in.Channel)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, in.Channel)
		}
		if in.Type == "subscribe" {
			return Subscribe{Channel: ch}, nil
		}
		return Unsubscribe{Channel: ch}, nil
	case "ping":
		return Ping{}, nil
	case "pong", "heartbeat":
		return Pong{}, nil
	case "":
		return nil, errors.New("malformed message: missing type")
	default:
		return nil, fmt.Errorf("unsupported message type %q", in.Type)
	}
}

package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// codec adapts STOMP payloads to a WebSocket transport.
type codec interface {
	// opening is sent right after the upgrade, nil for none.
	opening() []byte
	// decode splits an inbound WebSocket message into STOMP payloads.
	decode(data []byte) ([][]byte, error)
	encode(payload []byte) []byte
	// heartbeat is sent periodically, nil for none.
	heartbeat() []byte
	closing(code int, reason string) []byte
}

// rawCodec carries STOMP frames directly in WebSocket text messages.
type rawCodec struct{}

func (rawCodec) opening() []byte                      { return nil }
func (rawCodec) decode(data []byte) ([][]byte, error) { return [][]byte{data}, nil }
func (rawCodec) encode(payload []byte) []byte         { return payload }
func (rawCodec) heartbeat() []byte                    { return nil }
func (rawCodec) closing(int, string) []byte           { return nil }

// sockJSCodec implements the framing of the SockJS websocket transport:
// o opens, h is a heartbeat, a[...] carries messages and c[code,reason]
// closes. Clients send a JSON array of strings.
type sockJSCodec struct{}

var errEmptySockJSFrame = errors.New("sockjs: empty frame")

func (sockJSCodec) opening() []byte { return []byte("o") }

func (sockJSCodec) decode(data []byte) ([][]byte, error) {
	if len(data) == 0 {
		return nil, errEmptySockJSFrame
	}
	var parts []string
	if data[0] == '[' {
		if err := json.Unmarshal(data, &parts); err != nil {
			return nil, fmt.Errorf("sockjs: %w", err)
		}
	} else {
		var one string
		if err := json.Unmarshal(data, &one); err != nil {
			return nil, fmt.Errorf("sockjs: %w", err)
		}
		parts = []string{one}
	}
	out := make([][]byte, 0, len(parts))
	for _, p := range parts {
		out = append(out, []byte(p))
	}
	return out, nil
}

func (sockJSCodec) encode(payload []byte) []byte {
	arr, _ := json.Marshal([]string{string(payload)})
	return append([]byte("a"), arr...)
}

func (sockJSCodec) heartbeat() []byte { return []byte("h") }

func (sockJSCodec) closing(code int, reason string) []byte {
	r, _ := json.Marshal(reason)
	return []byte(fmt.Sprintf("c[%d,%s]", code, r))
}

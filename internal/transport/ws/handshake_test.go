package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"villagecraft.ai/internal/protocol"
)

func dialVersion(ctx context.Context, url, version string) (protocol.WelcomeMsg, error) {
	var w protocol.WelcomeMsg
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return w, err
	}
	defer conn.Close()
	if err := writeJSON(conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: version, ClientName: "old"}); err != nil {
		return w, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return w, err
	}
	if err := json.Unmarshal(msg, &w); err != nil || w.Type != protocol.TypeWelcome {
		return w, fmt.Errorf("unexpected reply %q", string(msg))
	}
	return w, nil
}

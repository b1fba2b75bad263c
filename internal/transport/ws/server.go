package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"villagecraft.ai/internal/plan/fill"
	"villagecraft.ai/internal/protocol"
)

// Server is the executor end of the command channel. It validates each FILL
// against the volume cap and the material palette, acknowledges it, and
// forwards accepted primitives to Sink.
type Server struct {
	Sink      fill.Channel
	FillCap   int
	Materials []string

	log      *log.Logger
	upgrader websocket.Upgrader
	sessions atomic.Uint64
	known    map[string]bool
}

func NewServer(sink fill.Channel, fillCap int, materials []string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if fillCap <= 0 {
		fillCap = fill.DefaultCap
	}
	known := make(map[string]bool, len(materials))
	for _, m := range materials {
		known[m] = true
	}
	return &Server{
		Sink:      sink,
		FillCap:   fillCap,
		Materials: materials,
		log:       logger,
		known:     known,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		session, out := s.handshake(conn)
		if session == "" {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			m, err := protocol.Decode(msg)
			if err != nil {
				continue
			}
			fm, ok := m.(protocol.FillMsg)
			if !ok {
				continue
			}
			ack := s.apply(fm)
			b, _ := json.Marshal(ack)
			select {
			case out <- b:
			case <-ctx.Done():
				return
			}
		}
		s.log.Printf("session %s closed", session)
	}
}

func (s *Server) apply(fm protocol.FillMsg) protocol.AckMsg {
	ack := protocol.AckMsg{Type: protocol.TypeAck, ProtocolVersion: protocol.Version, AckFor: fm.ID}
	reject := func(code, format string, args ...any) protocol.AckMsg {
		ack.Code = code
		ack.Message = fmt.Sprintf(format, args...)
		s.log.Printf("fill %s rejected: %s %s", fm.ID, code, ack.Message)
		return ack
	}

	if fm.ProtocolVersion != protocol.Version {
		return reject(protocol.ErrProtoBadRequest, "protocol_version %q", fm.ProtocolVersion)
	}
	if fm.ID == "" || fm.Material == "" {
		return reject(protocol.ErrBadRequest, "missing id or material")
	}
	if len(s.known) > 0 && !s.known[fm.Material] {
		return reject(protocol.ErrUnknownMaterial, "%s", fm.Material)
	}
	p := fm.Primitive()
	if !p.Box.Valid() {
		return reject(protocol.ErrInvalidTarget, "box %v..%v", fm.Min, fm.Max)
	}
	if v := p.Volume(); v > int64(s.FillCap) {
		return reject(protocol.ErrTooLarge, "volume %d exceeds %d", v, s.FillCap)
	}
	if s.Sink != nil {
		s.Sink.Submit(p)
	}
	ack.Accepted = true
	return ack
}

func (s *Server) handshake(conn *websocket.Conn) (session string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}
	if hello.ClientName == "" {
		hello.ClientName = "planner"
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}
	out = make(chan []byte, maxQ)

	session = fmt.Sprintf("S%d", s.sessions.Add(1))
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       session,
		FillCap:         s.FillCap,
		MaxQueue:        maxQ,
		Materials:       s.Materials,
		ServerTime:      time.Now().UnixMilli(),
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", nil
	}
	s.log.Printf("session %s: %s connected (max_queue=%d)", session, hello.ClientName, maxQ)
	return session, out
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

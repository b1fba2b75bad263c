package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"villagecraft.ai/internal/plan/fill"
	"villagecraft.ai/internal/plan/geom"
	"villagecraft.ai/internal/protocol"
)

type syncSink struct {
	mu    sync.Mutex
	prims []fill.Primitive
}

func (s *syncSink) Submit(p fill.Primitive) {
	s.mu.Lock()
	s.prims = append(s.prims, p)
	s.mu.Unlock()
}

func (s *syncSink) snapshot() []fill.Primitive {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]fill.Primitive(nil), s.prims...)
}

func startExecutor(t *testing.T, fillCap int) (*syncSink, string) {
	t.Helper()
	sink := &syncSink{}
	srv := NewServer(sink, fillCap, []string{"air", "stone_bricks", "lantern"}, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return sink, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestChannel_DeliversFillsAndCountsAcks(t *testing.T) {
	sink, url := startExecutor(t, 1000)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch, err := Dial(ctx, url, Options{ClientName: "test"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if ch.FillCap() != 1000 || ch.Welcome().SessionID == "" {
		t.Fatalf("welcome=%+v", ch.Welcome())
	}

	f := fill.Filler{Cap: ch.FillCap()}
	n, err := f.Fill(ctx, ch, geom.NewBox(0, 64, 0, 19, 64, 99), "stone_bricks")
	if err != nil || n != 2 {
		t.Fatalf("Fill: n=%d err=%v", n, err)
	}
	ch.Submit(fill.Primitive{Box: geom.NewBox(0, 65, 0, 0, 65, 0), Material: "diamond_block"})
	ch.Submit(fill.Primitive{Box: geom.NewBox(0, 0, 0, 99, 0, 99), Material: "air"})

	if err := ch.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	st := ch.Stats()
	if st.Submitted != 4 || st.Sent != 4 || st.Accepted != 2 || st.Rejected != 2 || st.Dropped != 0 {
		t.Fatalf("stats=%+v", st)
	}
	got := sink.snapshot()
	if len(got) != 2 {
		t.Fatalf("executor applied %d primitives", len(got))
	}
	var vol int64
	for _, p := range got {
		vol += p.Volume()
	}
	if vol != 2000 {
		t.Fatalf("applied volume=%d", vol)
	}

	// Submitting after close is a counted drop.
	ch.Submit(fill.Primitive{Box: geom.NewBox(0, 0, 0, 0, 0, 0), Material: "air"})
	if ch.Stats().Dropped != 1 {
		t.Fatalf("stats=%+v", ch.Stats())
	}
}

func TestChannel_PacesSubmissions(t *testing.T) {
	sink, url := startExecutor(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch, err := Dial(ctx, url, Options{Interval: 20 * time.Millisecond, MaxQueue: 2})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	start := time.Now()
	for i := 0; i < 5; i++ {
		ch.Submit(fill.Primitive{Box: geom.NewBox(i, 64, 0, i, 64, 0), Material: "lantern"})
	}
	if err := ch.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if el := time.Since(start); el < 80*time.Millisecond {
		t.Fatalf("5 paced fills took only %v", el)
	}
	if len(sink.snapshot()) != 5 {
		t.Fatalf("applied=%d", len(sink.snapshot()))
	}
}

func TestServer_RejectsMissingHello(t *testing.T) {
	_, url := startExecutor(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// A client speaking another protocol version never gets a WELCOME.
	_, err := dialVersion(ctx, url, "0.1")
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
}

// startEchoingExecutor acknowledges every FILL twice and opens the session
// with an ACK for a FILL that was never sent.
func startEchoingExecutor(t *testing.T) string {
	t.Helper()
	up := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteJSON(protocol.WelcomeMsg{Type: protocol.TypeWelcome, ProtocolVersion: protocol.Version, SessionID: "echo"})
		_ = conn.WriteJSON(protocol.AckMsg{Type: protocol.TypeAck, ProtocolVersion: protocol.Version, AckFor: "F999", Accepted: true})
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f protocol.FillMsg
			if err := json.Unmarshal(msg, &f); err != nil {
				return
			}
			ack := protocol.AckMsg{Type: protocol.TypeAck, ProtocolVersion: protocol.Version, AckFor: f.ID, Accepted: true}
			_ = conn.WriteJSON(ack)
			_ = conn.WriteJSON(ack)
		}
	}))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestChannel_IgnoresUnknownAndDuplicateAcks(t *testing.T) {
	url := startEchoingExecutor(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch, err := Dial(ctx, url, Options{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	for i := 0; i < 2; i++ {
		ch.Submit(fill.Primitive{Box: geom.NewBox(i, 64, 0, i, 64, 0), Material: "lantern"})
	}
	if err := ch.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	st := ch.Stats()
	if st.Accepted != 2 || st.Rejected != 0 || st.Stray == 0 {
		t.Fatalf("stats=%+v", st)
	}
	if ch.Err() != nil {
		t.Fatalf("channel failed: %v", ch.Err())
	}
}

func TestChannel_CloseReleasesQueuedFills(t *testing.T) {
	_, url := startExecutor(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The first tick is an hour away, so nothing is ever written.
	ch, err := Dial(ctx, url, Options{Interval: time.Hour, MaxQueue: 4})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	for i := 0; i < 5; i++ {
		ch.Submit(fill.Primitive{Box: geom.NewBox(i, 64, 0, i, 64, 0), Material: "lantern"})
	}

	closeCtx, closeCancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer closeCancel()
	if err := ch.Close(closeCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close: %v", err)
	}
	st := ch.Stats()
	if st.Submitted != 5 || st.Sent != 0 || st.Dropped != 5 {
		t.Fatalf("stats=%+v", st)
	}
	select {
	case <-ch.idleCh():
	default:
		t.Fatalf("fills still pending after Close")
	}
}

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"villagecraft.ai/internal/plan/fill"
	"villagecraft.ai/internal/protocol"
)

var ErrClosed = errors.New("command channel closed")

type Options struct {
	ClientName string
	Token      string
	// Interval paces consecutive FILL messages. Zero sends as fast as the
	// connection allows.
	Interval time.Duration
	MaxQueue int
	Logger   *log.Logger
}

type Stats struct {
	Submitted uint64
	Sent      uint64
	Accepted  uint64
	Rejected  uint64
	Dropped   uint64
	// Stray counts ACKs that matched no outstanding FILL.
	Stray uint64
}

type queued struct {
	id string
	b  []byte
}

// Channel is a fill.Channel that ships every primitive to a remote executor
// as a FILL message. Submit blocks while the send queue is full.
type Channel struct {
	conn    *websocket.Conn
	welcome protocol.WelcomeMsg
	opts    Options
	log     *log.Logger

	out    chan queued
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	closed atomic.Bool

	// FILL ids awaiting an ACK. idle is closed while pending is empty.
	pendMu  sync.Mutex
	pending map[string]struct{}
	idle    chan struct{}

	seq       atomic.Uint64
	submitted atomic.Uint64
	sent      atomic.Uint64
	accepted  atomic.Uint64
	rejected  atomic.Uint64
	dropped   atomic.Uint64
	stray     atomic.Uint64

	errMu sync.Mutex
	err   error
}

// Dial connects to an executor and completes the HELLO/WELCOME handshake.
func Dial(ctx context.Context, url string, opts Options) (*Channel, error) {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.ClientName == "" {
		opts.ClientName = "planner"
	}
	if opts.MaxQueue <= 0 {
		opts.MaxQueue = 8
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      opts.ClientName,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: opts.MaxQueue, AckRequired: true},
	}
	if opts.Token != "" {
		hello.Auth = &protocol.HelloAuth{Token: opts.Token}
	}
	if err := writeJSON(conn, hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read welcome: %w", err)
	}
	var welcome protocol.WelcomeMsg
	if err := json.Unmarshal(msg, &welcome); err != nil || welcome.Type != protocol.TypeWelcome {
		_ = conn.Close()
		return nil, fmt.Errorf("expected WELCOME, got %q", string(msg))
	}
	_ = conn.SetReadDeadline(time.Time{})

	q := opts.MaxQueue
	if welcome.MaxQueue > 0 && welcome.MaxQueue < q {
		q = welcome.MaxQueue
	}
	c := &Channel{
		conn:    conn,
		welcome: welcome,
		opts:    opts,
		log:     opts.Logger,
		out:     make(chan queued, q),
		done:    make(chan struct{}),
		pending: make(map[string]struct{}),
		idle:    make(chan struct{}),
	}
	close(c.idle)
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.readLoop()
	}()
	c.log.Printf("connected to %s session=%s fill_cap=%d queue=%d", url, welcome.SessionID, welcome.FillCap, q)
	return c, nil
}

// Welcome returns the executor's handshake reply.
func (c *Channel) Welcome() protocol.WelcomeMsg { return c.welcome }

// FillCap is the executor's per-FILL volume limit, or fill.DefaultCap when
// it did not announce one.
func (c *Channel) FillCap() int {
	if c.welcome.FillCap > 0 {
		return c.welcome.FillCap
	}
	return fill.DefaultCap
}

func (c *Channel) Submit(p fill.Primitive) {
	c.submitted.Add(1)
	if c.closed.Load() {
		c.dropped.Add(1)
		return
	}
	id := "F" + strconv.FormatUint(c.seq.Add(1), 10)
	b, err := json.Marshal(protocol.NewFill(id, p))
	if err != nil {
		c.fail(err)
		c.dropped.Add(1)
		return
	}
	c.track(id)
	select {
	case c.out <- queued{id: id, b: b}:
	case <-c.done:
		c.release(id)
		c.dropped.Add(1)
	}
}

func (c *Channel) track(id string) {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	if len(c.pending) == 0 {
		c.idle = make(chan struct{})
	}
	c.pending[id] = struct{}{}
}

// release forgets id and reports whether it was outstanding.
func (c *Channel) release(id string) bool {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	if len(c.pending) == 0 {
		close(c.idle)
	}
	return true
}

func (c *Channel) releaseAll() {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	if len(c.pending) == 0 {
		return
	}
	clear(c.pending)
	close(c.idle)
}

func (c *Channel) idleCh() <-chan struct{} {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	return c.idle
}

// discardQueued drops whatever is still buffered once the writer has quit.
func (c *Channel) discardQueued() {
	for {
		select {
		case q := <-c.out:
			c.release(q.id)
			c.dropped.Add(1)
		default:
			return
		}
	}
}

func (c *Channel) writeLoop() {
	defer c.discardQueued()
	var tick *time.Ticker
	if c.opts.Interval > 0 {
		tick = time.NewTicker(c.opts.Interval)
		defer tick.Stop()
	}
	for {
		select {
		case <-c.done:
			return
		case q := <-c.out:
			if tick != nil {
				select {
				case <-tick.C:
				case <-c.done:
					c.release(q.id)
					c.dropped.Add(1)
					return
				}
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, q.b); err != nil {
				c.release(q.id)
				c.fail(fmt.Errorf("write fill: %w", err))
				return
			}
			c.sent.Add(1)
		}
	}
}

func (c *Channel) readLoop() {
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.fail(fmt.Errorf("read ack: %w", err))
			}
			return
		}
		m, err := protocol.Decode(msg)
		if err != nil {
			continue
		}
		ack, ok := m.(protocol.AckMsg)
		if !ok {
			continue
		}
		if !c.release(ack.AckFor) {
			c.stray.Add(1)
			c.log.Printf("ack for unknown fill %q ignored", ack.AckFor)
			continue
		}
		if ack.Accepted {
			c.accepted.Add(1)
		} else {
			c.rejected.Add(1)
			c.log.Printf("fill %s rejected: %s %s", ack.AckFor, ack.Code, ack.Message)
		}
	}
}

func (c *Channel) fail(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
		c.log.Printf("command channel: %v", err)
	}
	c.errMu.Unlock()
	c.stop()
}

func (c *Channel) stop() {
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.done)
		c.releaseAll()
	})
}

// Err reports the first transport failure, if any.
func (c *Channel) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Channel) Stats() Stats {
	return Stats{
		Submitted: c.submitted.Load(),
		Sent:      c.sent.Load(),
		Accepted:  c.accepted.Load(),
		Rejected:  c.rejected.Load(),
		Dropped:   c.dropped.Load(),
		Stray:     c.stray.Load(),
	}
}

// Close waits until every queued FILL has been acknowledged or ctx ends,
// then closes the connection.
func (c *Channel) Close(ctx context.Context) error {
	var waitErr error
	select {
	case <-c.idleCh():
	case <-c.done:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}
	c.stop()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := c.conn.Close()
	c.wg.Wait()
	if e := c.Err(); e != nil {
		return e
	}
	if waitErr != nil {
		return waitErr
	}
	return err
}

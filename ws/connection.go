// Package ws is the transport half of the Connection & Protocol Engine
// (C7): a websocket wrapper with a bounded outbound queue and back-pressure
// shedding, grounded on the teacher's ws/listener.go (remote-address
// tracking via go.uber.org/atomic, mutex-guarded Write) generalized with an
// explicit OPEN/CLOSING/CLOSED state machine and a writer goroutine in the
// style of pkg/protocol/ws/client.go's writeQueue.
package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"go.uber.org/atomic"

	"fitrelay.dev/envelope"
	"fitrelay.dev/event"
	"fitrelay.dev/log"
)

// State is a connection's position in its OPEN -> CLOSING -> CLOSED
// lifecycle.
type State int32

const (
	Open State = iota
	Closing
	Closed
)

// backlogFrame is one queued entry in the backlog queue: a rendered frame
// plus whether it may be dropped to make room. REQ-replay EVENT frames are
// shed; the EOSE frame that terminates a given REQ's replay is not, so it
// always reaches the client once its backlog has been sent.
type backlogFrame struct {
	frame []byte
	shed  bool
}

// Connection wraps one accepted websocket with outbound queueing, split
// into three priority bands. Control frames (OK/NOTICE) are never dropped
// and never bounded. Backlog frames (REQ replay EVENTs) are bounded and
// shed oldest-first to make room, except for the EOSE marking a replay's
// end, which is queued alongside its backlog but never itself shed. Live
// frames (subscription-match EVENT deliveries) are bounded but never shed:
// once a slow reader's live queue is full the connection is closed instead,
// since dropping a live update would silently desynchronize a subscriber
// from the event stream it asked for.
type Connection struct {
	Conn    *websocket.Conn
	Request *http.Request

	remote atomic.String
	state  atomic.Int32

	mu              sync.Mutex
	control         [][]byte
	backlog         []backlogFrame
	live            [][]byte
	maxBacklogQueue int
	maxLiveQueue    int
	wake            chan struct{}

	writeWait time.Duration
}

// New wraps an already-upgraded websocket connection. maxLiveQueue bounds
// both the live-delivery queue and the backlog-replay queue.
func New(conn *websocket.Conn, req *http.Request, remote string, maxLiveQueue int, writeWait time.Duration) *Connection {
	c := &Connection{
		Conn:            conn,
		Request:         req,
		maxBacklogQueue: maxLiveQueue,
		maxLiveQueue:    maxLiveQueue,
		wake:            make(chan struct{}, 1),
		writeWait:       writeWait,
	}
	c.remote.Store(remote)
	c.state.Store(int32(Open))
	return c
}

// Remote returns the stored remote address.
func (c *Connection) Remote() string { return c.remote.Load() }

// State returns the connection's current lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

// EnqueueControl queues a control frame (OK/NOTICE). Control frames are
// never shed and never bounded.
func (c *Connection) EnqueueControl(frame []byte) {
	if c.State() == Closed {
		return
	}
	c.mu.Lock()
	c.control = append(c.control, frame)
	c.mu.Unlock()
	c.signal()
}

// EnqueueBacklog queues one REQ-replay EVENT frame. When the backlog queue
// is already at capacity the oldest shed-eligible entry is dropped to make
// room; if nothing in the queue is eligible for shedding, the connection is
// closed rather than growing the queue without bound.
func (c *Connection) EnqueueBacklog(frame []byte) {
	c.enqueueBacklog(backlogFrame{frame: frame, shed: true})
}

// EnqueueEOSE queues the EOSE marker that ends a REQ's backlog replay. It
// shares the backlog queue so it is always written after every backlog
// frame already queued for that subscription, but it is itself never shed.
func (c *Connection) EnqueueEOSE(frame []byte) {
	c.enqueueBacklog(backlogFrame{frame: frame, shed: false})
}

func (c *Connection) enqueueBacklog(entry backlogFrame) {
	if c.State() == Closed {
		return
	}
	c.mu.Lock()
	if len(c.backlog) >= c.maxBacklogQueue {
		if !c.evictShed() {
			c.mu.Unlock()
			c.closeWithNotice("outbound backlog queue full, cannot deliver replay")
			return
		}
	}
	c.backlog = append(c.backlog, entry)
	c.mu.Unlock()
	c.signal()
}

// evictShed drops the oldest shed-eligible backlog entry, if any, and
// reports whether it found one. Caller holds c.mu.
func (c *Connection) evictShed() bool {
	for i, e := range c.backlog {
		if e.shed {
			c.backlog = append(c.backlog[:i:i], c.backlog[i+1:]...)
			return true
		}
	}
	return false
}

// Deliver renders ev as an EVENT frame for label and queues it as a live
// delivery, implementing subscription.Sink. Live frames are never shed:
// when the live queue is already at capacity the connection is closed with
// an explanatory NOTICE instead of dropping the update, so a subscriber
// never silently falls out of sync with the stream it asked for.
func (c *Connection) Deliver(label string, ev *event.E) {
	if c.State() != Open {
		return
	}
	frame := envelope.WriteEvent(nil, label, ev)
	c.mu.Lock()
	if len(c.live) >= c.maxLiveQueue {
		c.mu.Unlock()
		c.closeWithNotice("outbound live queue full, cannot keep up with subscription")
		return
	}
	c.live = append(c.live, frame)
	c.mu.Unlock()
	c.signal()
}

func (c *Connection) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// RunWriter drains the outbound queues until the connection closes, in
// control, backlog, live order: an OK/NOTICE is never delayed behind a
// REQ's replay, and a REQ's own backlog (plus its terminating EOSE) is
// always flushed before any live subscription match queued after it. Call
// it in its own goroutine.
func (c *Connection) RunWriter() {
	for {
		frame, ok := c.dequeue()
		if !ok {
			<-c.wake
			frame, ok = c.dequeue()
			if !ok {
				if c.State() == Closed {
					return
				}
				continue
			}
		}
		if err := c.write(frame); err != nil {
			log.D.F("%s write failed, closing: %v", c.Remote(), err)
			c.Close()
			return
		}
	}
}

func (c *Connection) dequeue() (frame []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.control) > 0 {
		frame, c.control = c.control[0], c.control[1:]
		return frame, true
	}
	if len(c.backlog) > 0 {
		var entry backlogFrame
		entry, c.backlog = c.backlog[0], c.backlog[1:]
		return entry.frame, true
	}
	if len(c.live) > 0 {
		frame, c.live = c.live[0], c.live[1:]
		return frame, true
	}
	return nil, false
}

func (c *Connection) write(frame []byte) error {
	if c.writeWait > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
			return err
		}
	}
	return c.Conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Connection) closeWithNotice(reason string) {
	if !c.state.CompareAndSwap(int32(Open), int32(Closing)) {
		return
	}
	_ = c.Conn.WriteMessage(websocket.TextMessage, envelope.WriteNotice(nil, reason))
	c.Close()
}

// Close transitions the connection to CLOSED and closes the underlying
// socket. Safe to call more than once.
func (c *Connection) Close() {
	c.state.Store(int32(Closed))
	c.signal()
	_ = c.Conn.Close()
}

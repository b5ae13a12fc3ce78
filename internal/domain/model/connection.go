package model

import (
	"sync"
	"sync/atomic"
	"time"
)

// defaultQueueCapacity bounds the per-connection delivery queue. spec.md §5
// allows an unbounded queue but explicitly permits implementations to cap
// and drop the oldest batch instead; we cap, following the teacher's
// backpressure-aware connector (registry/connect.go) rather than risk
// unbounded memory growth per idle client.
const defaultQueueCapacity = 256

// Connection is a single client session (spec.md §3/§4.4). Unlike Channel
// and User, it is NOT protected by the Registry's lock: its queue and
// catch-up buffer are a connection-owned FIFO guarded by the connection's
// own mutex, per spec.md §5 ("owned by that connection with single-consumer /
// multi-producer semantics"). Only its Username/Channels bookkeeping — the
// parts the registry must keep consistent with Channel/User membership —
// are mutated under the registry lock by the caller.
type Connection struct {
	ID       string
	Username string

	// Channels is the set of subscribed channel names. Mutated only while
	// the owning Registry's lock is held.
	Channels map[string]struct{}

	queueMu sync.Mutex
	queue   chan []Envelope // nil until a long-poll/websocket attaches
	catchup []Envelope

	lastActivity int64 // unix nano, atomic
}

func NewConnection(id, username string) *Connection {
	return &Connection{
		ID:           id,
		Username:     username,
		Channels:     make(map[string]struct{}),
		lastActivity: time.Now().UnixNano(),
	}
}

// Enqueue appends envs as a single batch. If no consumer has attached yet,
// the batch is buffered in the catch-up list; otherwise it is pushed
// straight onto the delivery queue. Never blocks.
func (c *Connection) Enqueue(envs []Envelope) {
	if len(envs) == 0 {
		return
	}
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	if c.queue == nil {
		c.catchup = append(c.catchup, envs...)
		return
	}
	c.pushLocked(envs)
}

// pushLocked pushes a batch onto the queue, dropping the oldest batch to
// make room if the queue is saturated (spec.md §5's permitted cap-and-drop).
func (c *Connection) pushLocked(batch []Envelope) {
	select {
	case c.queue <- batch:
		return
	default:
	}
	select {
	case <-c.queue:
	default:
	}
	select {
	case c.queue <- batch:
	default:
	}
}

// AttachQueue creates the delivery queue if none is attached yet (an already
// attached queue is kept, together with any batches still waiting in it) and
// drains any buffered catch-up into it as a single batch, per spec.md §4.4/§4.6.
func (c *Connection) AttachQueue() <-chan []Envelope {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	if c.queue == nil {
		c.queue = make(chan []Envelope, defaultQueueCapacity)
	}
	if len(c.catchup) > 0 {
		batch := c.catchup
		c.catchup = nil
		c.pushLocked(batch)
	}
	return c.queue
}

// DeliverCatchupMessages moves any buffered catch-up into the delivery
// queue without blocking. A no-op if there's nothing buffered or no queue
// has been attached yet.
func (c *Connection) DeliverCatchupMessages() {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	if c.queue == nil || len(c.catchup) == 0 {
		return
	}
	batch := c.catchup
	c.catchup = nil
	c.pushLocked(batch)
}

// Queue returns the currently attached delivery queue, or nil if none.
func (c *Connection) Queue() <-chan []Envelope {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	return c.queue
}

// MarkActivity records that the connection was just active (polled, or had
// a batch delivered), resetting its GC idle clock.
func (c *Connection) MarkActivity() {
	atomic.StoreInt64(&c.lastActivity, time.Now().UnixNano())
}

// IdleFor reports how long it has been since the connection was last active.
func (c *Connection) IdleFor(now time.Time) time.Duration {
	last := atomic.LoadInt64(&c.lastActivity)
	return now.Sub(time.Unix(0, last))
}

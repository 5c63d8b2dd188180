package gateway

import (
	"sync"

	"fleet-monitor/realtime/internal/domain"
	"fleet-monitor/realtime/internal/metrics"
)

// Conn is one admitted client connection. The transport drains Send and
// stops when Done is closed; the gateway owns everything else.
type Conn struct {
	ID       string
	Identity domain.Identity

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	spaces map[string]struct{}
}

func newConn(id string, identity domain.Identity, bufferSize int) *Conn {
	return &Conn{
		ID:       id,
		Identity: identity,
		send:     make(chan []byte, bufferSize),
		done:     make(chan struct{}),
		spaces:   make(map[string]struct{}),
	}
}

func (c *Conn) Send() <-chan []byte   { return c.send }
func (c *Conn) Done() <-chan struct{} { return c.done }

// enqueue hands a frame to the writer without blocking. Frames for a closed
// connection or a full buffer are dropped.
func (c *Conn) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		metrics.OutboundDrops.Inc()
		return false
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) addSpace(spaceID string) {
	c.mu.Lock()
	c.spaces[spaceID] = struct{}{}
	c.mu.Unlock()
}

func (c *Conn) takeSpaces() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.spaces))
	for s := range c.spaces {
		out = append(out, s)
	}
	c.spaces = make(map[string]struct{})
	return out
}

// Spaces returns the spaces the connection has joined.
func (c *Conn) Spaces() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.spaces))
	for s := range c.spaces {
		out = append(out, s)
	}
	return out
}

package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
)

// State is the lifecycle state of a [Client].
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Client is one control-socket connection. Writes are serialised; the read
// loop is owned by the hub.
type Client struct {
	id     uint64
	remote string
	conn   *websocket.Conn
	state  atomic.Int32

	writeMu sync.Mutex
}

// ID returns the connection's hub-local identifier.
func (c *Client) ID() uint64 { return c.id }

// State returns the current lifecycle state.
func (c *Client) State() State { return State(c.state.Load()) }

// transition moves the client forward. Disconnected is terminal.
func (c *Client) transition(to State) bool {
	for {
		from := c.state.Load()
		if State(from) == StateDisconnected || State(from) >= to {
			return false
		}
		if c.state.CompareAndSwap(from, int32(to)) {
			return true
		}
	}
}

func (c *Client) send(ctx context.Context, msg Message) error {
	if c.State() != StateConnected {
		return fmt.Errorf("%w: client %d is %s", ErrClientSend, c.id, c.State())
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("hub: marshal %s: %w", msg.Type, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("%w: client %d: %w", ErrClientSend, c.id, err)
	}
	return nil
}

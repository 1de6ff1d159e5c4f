// Package wschannel implements the host's channel transport: each
// multipath channel is a WebSocket connection carrying encoded
// pkg/frame.Frame messages, adapted from the teacher's gateway
// websocket.Connection.
package wschannel

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aetherflow/qmux/pkg/frame"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// ErrChannelClosed is returned by Send after Close.
var ErrChannelClosed = errors.New("wschannel: channel closed")

// ErrSendQueueFull is returned by Send when the outbound queue is
// saturated; the frame is dropped. A dropped Payload's sequence later
// times out in the engine and is reassigned to another credible channel;
// the host server does not re-send the payload bytes.
var ErrSendQueueFull = errors.New("wschannel: send queue full")

// InboundHandler receives frames decoded off one channel.
type InboundHandler func(f frame.Frame)

// Channel wraps one WebSocket connection used as a multipath channel
// transport.
type Channel struct {
	ID   string
	conn *websocket.Conn

	send chan frame.Frame

	mu     sync.RWMutex
	closed bool

	logger *zap.Logger
}

// New wraps conn as a Channel identified by id.
func New(id string, conn *websocket.Conn, logger *zap.Logger) *Channel {
	return &Channel{
		ID:     id,
		conn:   conn,
		send:   make(chan frame.Frame, 256),
		logger: logger,
	}
}

// Send enqueues f for transmission on this channel's write pump.
func (c *Channel) Send(f frame.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrChannelClosed
	}
	select {
	case c.send <- f:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close shuts down the channel's pumps and underlying connection.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.send)
	return c.conn.Close()
}

// Run starts the channel's read and write pumps; it blocks until the
// connection closes or ctx-equivalent shutdown is requested via Close.
// Inbound frames are handed to onInbound as they decode; malformed
// frames are logged and dropped rather than terminating the channel.
func (c *Channel) Run(onInbound InboundHandler) {
	done := make(chan struct{})
	go c.writePump(done)
	c.readPump(onInbound)
	close(done)
}

func (c *Channel) readPump(onInbound InboundHandler) {
	defer c.Close()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("channel read error", zap.String("channel", c.ID), zap.Error(err))
			}
			return
		}
		f, err := frame.Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", zap.String("channel", c.ID), zap.Error(err))
			continue
		}
		onInbound(f)
	}
}

func (c *Channel) writePump(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, f.Encode()); err != nil {
				c.logger.Error("channel write error", zap.String("channel", c.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// DialError wraps a dial failure with the target address for caller
// logging.
type DialError struct {
	Address string
	Err     error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("dial channel endpoint %s: %v", e.Address, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// Dial opens a new outbound Channel to a remote channel endpoint.
func Dial(id, address string, logger *zap.Logger) (*Channel, error) {
	conn, _, err := websocket.DefaultDialer.Dial(address, nil)
	if err != nil {
		return nil, &DialError{Address: address, Err: err}
	}
	return New(id, conn, logger), nil
}

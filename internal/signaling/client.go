package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/BioHazard786/ShareAudio/internal/dns"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

var (
	// ErrChannelClosed reports that the relay connection went away.
	ErrChannelClosed = errors.New("signaling channel closed")

	// ErrChannelNotOpen is returned by Send after the channel has closed.
	ErrChannelNotOpen = errors.New("signaling channel not open")

	// ErrSendQueueFull is returned by Send when the writer has fallen behind.
	ErrSendQueueFull = errors.New("signaling send queue full")
)

// ChannelError describes a failed dial or send.
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("signaling %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// Client manages the WebSocket connection to the relay.
type Client struct {
	conn     *websocket.Conn
	handler  Handler
	outgoing chan []byte
	done     chan struct{}
	logger   *slog.Logger

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// Dial connects to the relay at serverURL. Inbound envelopes are delivered to
// handler from a single goroutine in arrival order.
func Dial(ctx context.Context, serverURL string, handler Handler) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, &ChannelError{Op: "dial", Err: fmt.Errorf("invalid server URL: %w", err)}
	}

	dialer := &websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout,
		NetDialContext:   dns.DialContext,
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, &ChannelError{Op: "dial", Err: err}
	}

	c := &Client{
		conn:     conn,
		handler:  handler,
		outgoing: make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		logger:   slog.With("component", "signaling"),
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	return c, nil
}

// readPump reads frames from the connection and hands parsed envelopes to the
// handler. It reports closure exactly once.
func (c *Client) readPump() {
	var closeErr error
	defer func() {
		c.markClosed()
		c.conn.Close()
		c.handler.HandleClose(closeErr)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				closeErr = fmt.Errorf("%w: %v", ErrChannelClosed, err)
			}
			return
		}

		env, err := ParseEnvelope(frame)
		if err != nil {
			c.logger.Warn("dropping inbound frame", "err", err)
			continue
		}

		c.handler.HandleEnvelope(env)
	}
}

// writePump writes queued frames to the connection and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("write failed", "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.drain()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// drain flushes frames queued before Close so a final leave is not lost.
func (c *Client) drain() {
	for {
		select {
		case frame := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Send queues env for delivery. It never retries.
func (c *Client) Send(env *Envelope) error {
	if err := env.Validate(); err != nil {
		return &ChannelError{Op: "send", Err: err}
	}

	frame, err := env.MarshalFrame()
	if err != nil {
		return &ChannelError{Op: "send", Err: err}
	}

	// Enqueue under mu so markClosed cannot close done, and the writer
	// cannot drain, between the closed check and the enqueue.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.logger.Warn("send on closed channel", "type", env.Type)
		return &ChannelError{Op: "send", Err: ErrChannelNotOpen}
	}

	select {
	case c.outgoing <- frame:
		return nil
	default:
		c.logger.Warn("send queue full", "type", env.Type)
		return &ChannelError{Op: "send", Err: ErrSendQueueFull}
	}
}

// Close shuts the connection down. Calling it more than once is a no-op.
func (c *Client) Close() error {
	c.markClosed()
	return nil
}

func (c *Client) markClosed() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

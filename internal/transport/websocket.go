package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/buzzdeck/buzzdeck/internal/protocol"
)

// WSConfig holds configuration for the websocket channel.
type WSConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	MaxMessageSize   int64
	ReconnectMin     time.Duration
	ReconnectMax     time.Duration
}

// DefaultWSConfig returns default websocket configuration.
func DefaultWSConfig(url string) WSConfig {
	return WSConfig{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		MaxMessageSize:   64 * 1024,
		ReconnectMin:     500 * time.Millisecond,
		ReconnectMax:     30 * time.Second,
	}
}

// commandFrame is the outbound wire shape for client commands.
type commandFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// WSChannel implements Channel over a client websocket. A single run loop
// owns dialing and redialing with exponential backoff; per-connection read
// and write pumps mirror each other around the live conn. Transport-level
// disconnects are never fatal, they surface as status changes on the inbound
// stream while the loop redials.
type WSChannel struct {
	config WSConfig

	inbound chan Inbound
	sendCh  chan []byte

	mu        sync.Mutex
	connected bool
	started   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewWSChannel creates a websocket channel for the given server URL.
func NewWSChannel(config WSConfig) *WSChannel {
	return &WSChannel{
		config:  config,
		inbound: make(chan Inbound, 256),
		sendCh:  make(chan []byte, 64),
	}
}

// Inbound returns the stream of events and status changes.
func (c *WSChannel) Inbound() <-chan Inbound {
	return c.inbound
}

// Connect starts the connection loop. Idempotent while already running.
func (c *WSChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.started = true
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(runCtx)
	return nil
}

// Close permanently stops the channel.
func (c *WSChannel) Close() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	done := c.done
	c.started = false
	c.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Send queues a command for transmission. While disconnected the command is
// dropped with a warning; the transport is at-most-once and callers must not
// assume delivery.
func (c *WSChannel) Send(event string, payload interface{}) error {
	frame, err := json.Marshal(commandFrame{Type: event, Data: payload})
	if err != nil {
		return fmt.Errorf("marshal %s command: %w", event, err)
	}

	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		log.Warn().Str("command", event).Msg("send while disconnected, command dropped")
		return nil
	}

	select {
	case c.sendCh <- frame:
		return nil
	default:
		log.Warn().Str("command", event).Msg("send buffer full, command dropped")
		return nil
	}
}

// run owns the dial/redial cycle for the lifetime of the channel.
func (c *WSChannel) run(ctx context.Context) {
	defer close(c.done)

	backoff := c.config.ReconnectMin
	everConnected := false

	for {
		if ctx.Err() != nil {
			return
		}

		if everConnected {
			c.emitStatus(StatusReconnecting)
		}

		dialer := websocket.Dialer{HandshakeTimeout: c.config.HandshakeTimeout}
		conn, _, err := dialer.DialContext(ctx, c.config.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().
				Err(err).
				Str("url", c.config.URL).
				Dur("retry_in", backoff).
				Msg("websocket dial failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = nextBackoff(backoff, c.config.ReconnectMax)
			continue
		}

		backoff = c.config.ReconnectMin
		everConnected = true
		c.setConnected(true)
		c.emitStatus(StatusConnected)
		log.Info().Str("url", c.config.URL).Msg("websocket connected")

		c.serveConn(ctx, conn)

		c.setConnected(false)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		c.emitStatus(StatusDisconnected)
		log.Warn().Str("url", c.config.URL).Msg("websocket disconnected")
	}
}

// serveConn runs the read and write pumps for one live connection and returns
// when either side fails.
func (c *WSChannel) serveConn(ctx context.Context, conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		c.writePump(connCtx, conn)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		c.readPump(conn)
	}()

	<-connCtx.Done()
	conn.Close() // unblocks the read pump
	wg.Wait()
}

// writePump sends queued commands and keepalive pings.
func (c *WSChannel) writePump(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-c.sendCh:
			conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Error().Err(err).Msg("failed to write command")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump parses server events and forwards them inbound in receipt order.
func (c *WSChannel) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(c.config.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Msg("unexpected websocket close")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		var env protocol.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Warn().Err(err).Msg("dropping malformed event envelope")
			continue
		}

		select {
		case c.inbound <- Inbound{Event: &env}:
		default:
			log.Warn().
				Str("event_type", string(env.Type)).
				Msg("inbound buffer full, dropping event")
		}
	}
}

func (c *WSChannel) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// emitStatus pushes a connectivity transition inbound. Status changes are
// never dropped; recovery depends on seeing every edge.
func (c *WSChannel) emitStatus(status Status) {
	c.inbound <- Inbound{Status: &StatusChange{Status: status, At: time.Now()}}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/buzzdeck/buzzdeck/internal/protocol"
)

// NATSConfig holds configuration for the NATS channel.
type NATSConfig struct {
	URL           string
	GameID        string
	EventSubject  string // defaults to buzzdeck.events.<game id>
	CommandPrefix string // defaults to buzzdeck.commands.<game id>
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns default NATS channel configuration.
func DefaultNATSConfig(url, gameID string) NATSConfig {
	return NATSConfig{
		URL:           url,
		GameID:        gameID,
		EventSubject:  fmt.Sprintf("buzzdeck.events.%s", gameID),
		CommandPrefix: fmt.Sprintf("buzzdeck.commands.%s", gameID),
		MaxReconnects: -1, // retry forever
		ReconnectWait: 2 * time.Second,
	}
}

// NATSChannel implements Channel over NATS core subjects. LAN deployments of
// virtual buzzer devices use this instead of the websocket channel; reconnect
// handling is delegated to the NATS client, which surfaces the same status
// transitions on the inbound stream.
type NATSChannel struct {
	config NATSConfig

	inbound chan Inbound

	mu      sync.Mutex
	nc      *nats.Conn
	sub     *nats.Subscription
	started bool
}

// NewNATSChannel creates a NATS-backed channel.
func NewNATSChannel(config NATSConfig) *NATSChannel {
	return &NATSChannel{
		config:  config,
		inbound: make(chan Inbound, 256),
	}
}

// Inbound returns the stream of events and status changes.
func (c *NATSChannel) Inbound() <-chan Inbound {
	return c.inbound
}

// Connect dials the NATS server and subscribes to the game's event subject.
// Idempotent while already connected.
func (c *NATSChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	opts := []nats.Option{
		nats.MaxReconnects(c.config.MaxReconnects),
		nats.ReconnectWait(c.config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
			c.emitStatus(StatusDisconnected)
			c.emitStatus(StatusReconnecting)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
			c.emitStatus(StatusConnected)
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(c.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	sub, err := nc.Subscribe(c.config.EventSubject, func(msg *nats.Msg) {
		var env protocol.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed event envelope")
			return
		}
		select {
		case c.inbound <- Inbound{Event: &env}:
		default:
			log.Warn().Str("event_type", string(env.Type)).Msg("inbound buffer full, dropping event")
		}
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("subscribe %s: %w", c.config.EventSubject, err)
	}

	c.nc = nc
	c.sub = sub
	c.started = true
	c.emitStatus(StatusConnected)
	log.Info().
		Str("url", c.config.URL).
		Str("subject", c.config.EventSubject).
		Msg("NATS channel connected")
	return nil
}

// Send publishes a command to the game's command subject, fire-and-forget.
func (c *NATSChannel) Send(event string, payload interface{}) error {
	c.mu.Lock()
	nc := c.nc
	c.mu.Unlock()
	if nc == nil {
		log.Warn().Str("command", event).Msg("send before connect, command dropped")
		return nil
	}

	frame, err := json.Marshal(commandFrame{Type: event, Data: payload})
	if err != nil {
		return fmt.Errorf("marshal %s command: %w", event, err)
	}
	subject := fmt.Sprintf("%s.%s", c.config.CommandPrefix, event)
	if err := nc.Publish(subject, frame); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close permanently stops the channel.
func (c *NATSChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	if c.sub != nil {
		c.sub.Unsubscribe()
	}
	if c.nc != nil {
		c.nc.Close()
	}
	c.started = false
	return nil
}

func (c *NATSChannel) emitStatus(status Status) {
	c.inbound <- Inbound{Status: &StatusChange{Status: status, At: time.Now()}}
}

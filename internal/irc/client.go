// Package irc connects the bot to an IRC channel.
package irc

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/lrstanley/girc"
	"github.com/pathakanu/remindbot/internal/bot"
	"go.uber.org/zap"
)

// DefaultNickSuffix is appended to the nick when the server reports a collision.
const DefaultNickSuffix = "^"

// Handler receives chat events for one session.
type Handler interface {
	HandleMessage(ctx context.Context, sender string, c bot.Context, text string) error
	OnSessionEstablished(ctx context.Context)
}

// Config describes the server and channel to join.
type Config struct {
	Server  string
	Port    int
	TLS     bool
	Nick    string
	Channel string
	// NickCollision returns a replacement for a nick already in use.
	NickCollision func(nick string) string
}

// SuffixCollision returns a nick-collision strategy that appends suffix.
func SuffixCollision(suffix string) func(string) string {
	if suffix == "" {
		suffix = DefaultNickSuffix
	}
	return func(nick string) string {
		return nick + suffix
	}
}

// Client is a single IRC session.
type Client struct {
	cfg    Config
	client *girc.Client
	logger *zap.Logger

	mu  sync.Mutex
	err error
}

// New creates a Client; nothing is dialled until Run.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.NickCollision == nil {
		cfg.NickCollision = SuffixCollision(DefaultNickSuffix)
	}
	return &Client{
		cfg: cfg,
		client: girc.New(girc.Config{
			Server:            cfg.Server,
			Port:              cfg.Port,
			SSL:               cfg.TLS,
			Nick:              cfg.Nick,
			User:              strings.ToLower(cfg.Nick),
			Name:              cfg.Nick,
			HandleNickCollide: cfg.NickCollision,
		}),
		logger: logger,
	}
}

// Send implements bot.Sender.
func (c *Client) Send(_ context.Context, destination, text string) error {
	if !c.client.IsConnected() {
		return fmt.Errorf("irc: not connected, dropping message to %s", destination)
	}
	c.client.Cmd.Message(destination, text)
	return nil
}

// Nick returns the nick the server currently knows the bot by. It differs from
// the configured one after a collision.
func (c *Client) Nick() string {
	if nick := c.client.GetNick(); nick != "" {
		return nick
	}
	return c.cfg.Nick
}

// Run connects, joins the channel and feeds events to h until ctx is cancelled,
// the connection drops, or h returns an error.
func (c *Client) Run(ctx context.Context, h Handler) error {
	c.client.Handlers.Add(girc.CONNECTED, func(cl *girc.Client, _ girc.Event) {
		c.logger.Info("irc: connected, joining", zap.String("channel", c.cfg.Channel))
		cl.Cmd.Join(c.cfg.Channel)
	})

	c.client.Handlers.Add(girc.JOIN, func(cl *girc.Client, e girc.Event) {
		if e.Source == nil || e.Source.Name != cl.GetNick() {
			return
		}
		h.OnSessionEstablished(ctx)
	})

	c.client.Handlers.Add(girc.PRIVMSG, func(_ *girc.Client, e girc.Event) {
		sender, msgCtx, text, ok := classify(e)
		if !ok {
			return
		}
		if err := h.HandleMessage(ctx, sender, msgCtx, text); err != nil {
			c.fail(err)
		}
	})

	stop := context.AfterFunc(ctx, func() { c.client.Close() })
	defer stop()

	connErr := c.client.Connect()

	if err := c.failure(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}
	if connErr != nil {
		return fmt.Errorf("irc: %w", connErr)
	}
	return nil
}

// fail records the first handler error and tears the session down.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.logger.Error("irc: closing session", zap.Error(err))
	c.client.Close()
}

func (c *Client) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// classify maps a PRIVMSG onto the bot's view of it: channel lines are public,
// anything addressed to our nick is private.
func classify(e girc.Event) (sender string, c bot.Context, text string, ok bool) {
	if e.Source == nil || len(e.Params) == 0 {
		return "", bot.Public, "", false
	}
	c = bot.Private
	if e.IsFromChannel() {
		c = bot.Public
	}
	return e.Source.Name, c, e.Last(), true
}

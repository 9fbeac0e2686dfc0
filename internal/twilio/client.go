package twilio

import (
	"context"
	"fmt"
	"strings"

	twilio "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config holds the Twilio account and routing settings.
type Config struct {
	AccountSID   string
	AuthToken    string
	FromWhatsApp string
	// PublicDestination is the name the bot uses for its shared channel;
	// messages sent there fan out to PublicTo.
	PublicDestination string
	PublicTo          []string
	// SendRate caps outbound messages per second; zero means unlimited.
	SendRate float64
}

// Client wraps Twilio messaging operations required by the bot.
type Client struct {
	client       *twilio.RestClient
	fromWhatsApp string
	publicDest   string
	publicTo     []string
	limiter      *rate.Limiter
	logger       *zap.Logger
}

// New creates a Twilio client bound to the configured WhatsApp sender number.
func New(cfg Config, logger *zap.Logger) *Client {
	limit := rate.Inf
	if cfg.SendRate > 0 {
		limit = rate.Limit(cfg.SendRate)
	}
	return &Client{
		client:       twilio.NewRestClientWithParams(twilio.ClientParams{Username: cfg.AccountSID, Password: cfg.AuthToken}),
		fromWhatsApp: cfg.FromWhatsApp,
		publicDest:   cfg.PublicDestination,
		publicTo:     cfg.PublicTo,
		limiter:      rate.NewLimiter(limit, 1),
		logger:       logger,
	}
}

// Send implements bot.Sender. The public destination is delivered to every
// PublicTo number; anything else is treated as a WhatsApp number.
func (c *Client) Send(ctx context.Context, destination, text string) error {
	if destination != c.publicDest {
		return c.SendWhatsAppMessage(ctx, destination, text)
	}
	if len(c.publicTo) == 0 {
		c.logger.Debug("twilio: no public recipients configured, dropping message")
		return nil
	}
	for _, to := range c.publicTo {
		if err := c.SendWhatsAppMessage(ctx, to, text); err != nil {
			return err
		}
	}
	return nil
}

// SendWhatsAppMessage sends a WhatsApp message via Twilio's API.
func (c *Client) SendWhatsAppMessage(ctx context.Context, to, body string) error {
	if c.client == nil {
		return fmt.Errorf("twilio client not initialised")
	}

	sender := normalizeWhatsAppAddress(c.fromWhatsApp)
	if sender == "" {
		return fmt.Errorf("twilio sender WhatsApp number is not configured")
	}

	recipient := normalizeWhatsAppAddress(to)
	if recipient == "" {
		return fmt.Errorf("recipient number missing or invalid")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("twilio rate limit: %w", err)
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(recipient)
	params.SetFrom(sender)
	params.SetBody(body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio send message error: %w", err)
	}

	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	c.logger.Debug("twilio message sent", zap.String("to", recipient), zap.String("sid", sid))
	return nil
}

func normalizeWhatsAppAddress(number string) string {
	trimmed := strings.TrimSpace(number)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "whatsapp:") {
		return trimmed
	}
	if strings.HasPrefix(trimmed, "+") {
		return "whatsapp:" + trimmed
	}
	return "whatsapp:+" + trimmed
}

func sanitizeWhatsAppNumber(from string) string {
	// Twilio prepends whatsapp: to the number.
	return strings.TrimPrefix(from, "whatsapp:")
}

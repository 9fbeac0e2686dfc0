package twilio

import (
	"context"
	"encoding/xml"
	"net/http"
	"strings"

	"github.com/pathakanu/remindbot/internal/bot"
	twilioclient "github.com/twilio/twilio-go/client"
	"go.uber.org/zap"
)

// SignatureHeader carries Twilio's HMAC signature of the webhook request.
const SignatureHeader = "X-Twilio-Signature"

// Handler receives inbound WhatsApp messages. WhatsApp has no shared channel,
// so every message arrives as a private one.
type Handler interface {
	HandleMessage(ctx context.Context, sender string, c bot.Context, text string) error
}

// WebhookConfig controls how inbound requests are authenticated.
type WebhookConfig struct {
	// AuthToken signs every request Twilio makes. Empty disables the check.
	AuthToken string
	// PublicURL is the webhook address as configured in the Twilio console.
	// When empty it is rebuilt from the request, honouring X-Forwarded-Proto.
	PublicURL string
}

// Webhook returns the HTTP handler for incoming Twilio messages. onFatal is
// called when h reports an error that must end the session.
//
// The message is handled on a context detached from the request: a caller
// hanging up must not abort a half-applied ledger update.
func Webhook(h Handler, cfg WebhookConfig, logger *zap.Logger, onFatal func(error)) http.HandlerFunc {
	validator := twilioclient.NewRequestValidator(cfg.AuthToken)

	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			logger.Warn("webhook: parse error", zap.Error(err))
			writeTwilioResponse(w, logger, "Sorry, I couldn't understand that request.")
			return
		}

		if cfg.AuthToken != "" {
			signature := r.Header.Get(SignatureHeader)
			if signature == "" || !validator.Validate(webhookURL(cfg.PublicURL, r), formParams(r), signature) {
				logger.Warn("webhook: rejected unsigned request", zap.String("remote", r.RemoteAddr))
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
		}

		from := r.PostFormValue("From")
		body := strings.TrimSpace(r.PostFormValue("Body"))
		if from == "" || body == "" {
			writeTwilioResponse(w, logger, "I need a message to work with. Please try again.")
			return
		}

		// Replies go out through the REST API, so the TwiML answer stays empty.
		ctx := context.WithoutCancel(r.Context())
		if err := h.HandleMessage(ctx, sanitizeWhatsAppNumber(from), bot.Private, body); err != nil {
			logger.Error("webhook: handler failed", zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			if onFatal != nil {
				onFatal(err)
			}
			return
		}
		writeTwilioResponse(w, logger, "")
	}
}

// formParams flattens the POST body the way Twilio signs it: first value per key.
func formParams(r *http.Request) map[string]string {
	params := make(map[string]string, len(r.PostForm))
	for key, values := range r.PostForm {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	return params
}

func webhookURL(public string, r *http.Request) string {
	if public != "" {
		return public
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func writeTwilioResponse(w http.ResponseWriter, logger *zap.Logger, message string) {
	twiml := struct {
		XMLName xml.Name `xml:"Response"`
		Message string   `xml:"Message,omitempty"`
	}{
		Message: message,
	}

	w.Header().Set("Content-Type", "application/xml")
	if err := xml.NewEncoder(w).Encode(twiml); err != nil {
		logger.Warn("twilio response encode", zap.Error(err))
	}
}

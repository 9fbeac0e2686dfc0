package twilio

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/pathakanu/remindbot/internal/bot"
	"github.com/pathakanu/remindbot/internal/ledger"
	"github.com/pathakanu/remindbot/internal/model"
	"github.com/pathakanu/remindbot/internal/store"
	"go.uber.org/zap"
)

const (
	authToken  = "12345"
	publicURL = "https://bot.example.org/twilio/webhook"
)

type recordedMessage struct {
	sender string
	ctx    bot.Context
	text   string
}

type fakeHandler struct {
	got []recordedMessage
	err error
}

func (f *fakeHandler) HandleMessage(_ context.Context, sender string, c bot.Context, text string) error {
	f.got = append(f.got, recordedMessage{sender: sender, ctx: c, text: text})
	return f.err
}

// ctxSender records whether each send still had a live context.
type ctxSender struct {
	errs []error
}

func (s *ctxSender) Send(ctx context.Context, _, _ string) error {
	s.errs = append(s.errs, ctx.Err())
	return ctx.Err()
}

func newFormRequest(values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func postForm(t *testing.T, h http.Handler, values url.Values) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newFormRequest(values))
	return rec
}

// sign computes the X-Twilio-Signature Twilio would send for a POST to target.
func sign(token, target string, values url.Values) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(target)
	for _, key := range keys {
		b.WriteString(key)
		b.WriteString(values.Get(key))
	}

	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestWebhookDeliversPrivateMessage(t *testing.T) {
	h := &fakeHandler{}
	rec := postForm(t, Webhook(h, WebhookConfig{}, zap.NewNop(), nil), url.Values{
		"From": {"whatsapp:+15551234567"},
		"Body": {"  @remind buy milk  "},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(h.got) != 1 {
		t.Fatalf("expected one message, got %+v", h.got)
	}
	got := h.got[0]
	if got.sender != "+15551234567" || got.ctx != bot.Private || got.text != "@remind buy milk" {
		t.Fatalf("unexpected message: %+v", got)
	}
	if !strings.Contains(rec.Body.String(), "<Response></Response>") {
		t.Fatalf("expected empty TwiML response, got %q", rec.Body.String())
	}
}

func TestWebhookRejectsEmptyBody(t *testing.T) {
	h := &fakeHandler{}
	rec := postForm(t, Webhook(h, WebhookConfig{}, zap.NewNop(), nil), url.Values{"From": {"whatsapp:+1555"}})

	if len(h.got) != 0 {
		t.Fatalf("handler called for empty body")
	}
	if !strings.Contains(rec.Body.String(), "I need a message") {
		t.Fatalf("unexpected response: %q", rec.Body.String())
	}
}

func TestWebhookFatalError(t *testing.T) {
	h := &fakeHandler{err: errors.New("storage save: disk gone")}
	var fatal error
	rec := postForm(t, Webhook(h, WebhookConfig{}, zap.NewNop(), func(err error) { fatal = err }), url.Values{
		"From": {"whatsapp:+1555"},
		"Body": {"@list"},
	})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if fatal == nil {
		t.Fatalf("onFatal not called")
	}
}

func TestWebhookKeepsStateWhenCallerHangsUp(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewFileStore(ctx, filepath.Join(t.TempDir(), "ledger.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	l, err := ledger.Open(ctx, st)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	sender := &ctxSender{}
	reminderBot := bot.New(bot.Config{Recipient: "+15550000000", BotName: "RemindBot", Channel: "#public"}, l, sender, zap.NewNop())

	var fatal error
	h := Webhook(reminderBot, WebhookConfig{}, zap.NewNop(), func(err error) { fatal = err })

	hungUp, cancel := context.WithCancel(ctx)
	cancel()
	req := newFormRequest(url.Values{
		"From": {"whatsapp:+15551234567"},
		"Body": {"@remind buy milk"},
	}).WithContext(hungUp)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if fatal != nil {
		t.Fatalf("onFatal called with %v", fatal)
	}
	if l.Len() != 1 {
		t.Fatalf("pending = %d, want 1", l.Len())
	}
	state, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(state.Reminders) != 1 || state.Reminders[0].Visibility != model.Private {
		t.Fatalf("persisted reminders = %+v", state.Reminders)
	}
	for _, err := range sender.errs {
		if err != nil {
			t.Fatalf("reply sent on a cancelled context: %v", err)
		}
	}
}

func TestWebhookSignature(t *testing.T) {
	values := url.Values{
		"From": {"whatsapp:+15551234567"},
		"Body": {"@done 1"},
	}

	cases := []struct {
		name      string
		cfg       WebhookConfig
		signature string
		proto     string
		wantCode  int
		delivered bool
	}{
		{
			name:      "valid signature",
			cfg:       WebhookConfig{AuthToken: authToken, PublicURL: publicURL},
			signature: sign(authToken, publicURL, values),
			wantCode:  http.StatusOK,
			delivered: true,
		},
		{
			name:      "url rebuilt from forwarded request",
			cfg:       WebhookConfig{AuthToken: authToken},
			signature: sign(authToken, "https://example.com/twilio/webhook", values),
			proto:     "https",
			wantCode:  http.StatusOK,
			delivered: true,
		},
		{
			name:     "missing signature",
			cfg:      WebhookConfig{AuthToken: authToken, PublicURL: publicURL},
			wantCode: http.StatusForbidden,
		},
		{
			name:      "signed with another token",
			cfg:       WebhookConfig{AuthToken: authToken, PublicURL: publicURL},
			signature: sign("other", publicURL, values),
			wantCode:  http.StatusForbidden,
		},
		{
			name:      "signed for another url",
			cfg:       WebhookConfig{AuthToken: authToken, PublicURL: publicURL},
			signature: sign(authToken, "https://evil.example.org/twilio/webhook", values),
			wantCode:  http.StatusForbidden,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := &fakeHandler{}
			req := newFormRequest(values)
			if tc.signature != "" {
				req.Header.Set(SignatureHeader, tc.signature)
			}
			if tc.proto != "" {
				req.Header.Set("X-Forwarded-Proto", tc.proto)
			}
			rec := httptest.NewRecorder()
			Webhook(h, tc.cfg, zap.NewNop(), nil).ServeHTTP(rec, req)

			if rec.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantCode)
			}
			if got := len(h.got) == 1; got != tc.delivered {
				t.Fatalf("delivered = %v, want %v (%+v)", got, tc.delivered, h.got)
			}
		})
	}
}

func TestSendRouting(t *testing.T) {
	c := New(Config{PublicDestination: "#public"}, zap.NewNop())

	if err := c.Send(context.Background(), "#public", "hello"); err != nil {
		t.Fatalf("public send without recipients should be dropped, got %v", err)
	}
	err := c.Send(context.Background(), "+15551234567", "hello")
	if err == nil || !strings.Contains(err.Error(), "sender WhatsApp number is not configured") {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestNormalizeWhatsAppAddress(t *testing.T) {
	cases := map[string]string{
		"":                    "",
		"  ":                  "",
		"+15551234567":        "whatsapp:+15551234567",
		"15551234567":         "whatsapp:+15551234567",
		"whatsapp:+155512345": "whatsapp:+155512345",
	}
	for input, want := range cases {
		if got := normalizeWhatsAppAddress(input); got != want {
			t.Fatalf("normalizeWhatsAppAddress(%q) = %q, want %q", input, got, want)
		}
	}
}

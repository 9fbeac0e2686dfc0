package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pathakanu/remindbot/internal/ledger"
	"github.com/pathakanu/remindbot/internal/model"
	"go.uber.org/zap"
)

// Context tells whether a message was said in the shared channel or sent to the bot directly.
type Context int

const (
	// Public is the shared channel.
	Public Context = iota
	// Private is a direct message to the bot.
	Private
)

func (c Context) String() string {
	if c == Private {
		return "private"
	}
	return "public"
}

// Sender delivers text to a channel or a user.
type Sender interface {
	Send(ctx context.Context, destination, text string) error
}

// Keywords are the command words the bot reacts to.
type Keywords struct {
	Remind string
	Done   string
	List   string
	About  string
}

// DefaultKeywords returns the stock command words.
func DefaultKeywords() Keywords {
	return Keywords{
		Remind: "@remind",
		Done:   "@done",
		List:   "@list",
		About:  "@about",
	}
}

// Config identifies the bot, its recipient and the public channel it serves.
type Config struct {
	Recipient string
	BotName   string
	Channel   string
	Cooldown  time.Duration
	Keywords  Keywords
	About     string
}

// Bot routes chat commands onto the reminder ledger.
type Bot struct {
	cfg     Config
	ledger  *ledger.Ledger
	tracker *ledger.Tracker
	sender  Sender
	logger  *zap.Logger
	now     func() time.Time
	nick    func() string

	// mu serialises inbound events.
	mu sync.Mutex
}

// Option configures a Bot.
type Option func(*Bot)

// WithClock overrides the time source used for presence and elapsed-time annotations.
func WithClock(now func() time.Time) Option {
	return func(b *Bot) { b.now = now }
}

// WithNick sets the source of the bot's current chat name. Transports that may
// rename the bot, such as IRC after a nick collision, pass their live nick so
// that public lines are matched against the name people actually address.
func WithNick(nick func() string) Option {
	return func(b *Bot) { b.nick = nick }
}

// New creates a fully configured Bot instance.
func New(cfg Config, l *ledger.Ledger, sender Sender, logger *zap.Logger, opts ...Option) *Bot {
	defaults := DefaultKeywords()
	if cfg.Keywords.Remind == "" {
		cfg.Keywords.Remind = defaults.Remind
	}
	if cfg.Keywords.Done == "" {
		cfg.Keywords.Done = defaults.Done
	}
	if cfg.Keywords.List == "" {
		cfg.Keywords.List = defaults.List
	}
	if cfg.Keywords.About == "" {
		cfg.Keywords.About = defaults.About
	}
	if cfg.About == "" {
		cfg.About = fmt.Sprintf("I am %s. I keep a todo list for %s and hand it over when they show up.", cfg.BotName, cfg.Recipient)
	}

	b := &Bot{
		cfg:     cfg,
		ledger:  l,
		tracker: ledger.NewTracker(l, cfg.Cooldown),
		sender:  sender,
		logger:  logger,
		now:     time.Now,
		nick:    func() string { return cfg.BotName },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// OnSessionEstablished announces the usage instructions in the channel.
func (b *Bot) OnSessionEstablished(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kw := b.cfg.Keywords
	name, who := b.name(), b.cfg.Recipient
	lines := []string{
		fmt.Sprintf("I am %s, I try to help remind %s about their todo list.", name, who),
		fmt.Sprintf("Use: %s: %s <msg> and I will remind %s when I see them.", name, kw.Remind, who),
		fmt.Sprintf("/msg %s %s <msg> and I will remind %s _privately_ when I see them.", name, kw.Remind, who),
		fmt.Sprintf("The %s command will list all queued reminders for %s.", kw.List, who),
		fmt.Sprintf("The %s command will tell you about %s.", kw.About, name),
	}
	for _, line := range lines {
		b.send(ctx, b.cfg.Channel, line)
	}
}

// HandleMessage processes one inbound chat line. User mistakes are answered in
// chat; only storage failures are returned, and they end the session.
func (b *Bot) HandleMessage(ctx context.Context, sender string, c Context, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if sender == b.cfg.Recipient {
		if err := b.flushIfDue(ctx, now); err != nil {
			return fmt.Errorf("flush reminders: %w", err)
		}
	}

	req := request{sender: sender, context: c, text: text}
	if c == Public {
		prefix := b.name() + ": "
		if !strings.HasPrefix(text, prefix) {
			return nil
		}
		req.text = strings.TrimPrefix(text, prefix)
	}

	if err := b.route(ctx, req, now); err != nil {
		b.logger.Error("command failed",
			zap.String("sender", sender),
			zap.Stringer("context", c),
			zap.Error(err))
		return err
	}
	return nil
}

// flushIfDue delivers every pending reminder when the recipient has been away
// longer than the cooldown.
func (b *Bot) flushIfDue(ctx context.Context, now time.Time) error {
	if !b.tracker.ShouldFlush(now) {
		return nil
	}

	recipient := b.cfg.Recipient
	var publicCount, privateCount int
	for _, r := range b.ledger.List() {
		switch r.Visibility {
		case model.Public:
			publicCount++
			b.send(ctx, b.cfg.Channel, fmt.Sprintf("%s: @%d %s reminded you to: %s [%d sec(s) ago]",
				recipient, r.ID, r.Author, r.Text, elapsedSeconds(now, r.CreatedAt)))
		case model.Private:
			privateCount++
			b.send(ctx, recipient, fmt.Sprintf("@%d %s reminded you to: %s [%d sec(s) ago]",
				r.ID, r.Author, r.Text, elapsedSeconds(now, r.CreatedAt)))
		}
	}

	if err := b.tracker.MarkSeen(ctx, now); err != nil {
		return err
	}

	if publicCount > 0 {
		b.send(ctx, b.cfg.Channel, fmt.Sprintf("%s: Use: %s: %s <id> to set task as done.",
			recipient, b.name(), b.cfg.Keywords.Done))
	}
	if privateCount > 0 {
		b.send(ctx, recipient, fmt.Sprintf("Use: %s <id> to set task as done.", b.cfg.Keywords.Done))
	}

	b.logger.Info("flushed reminders",
		zap.Int("public", publicCount),
		zap.Int("private", privateCount))
	return nil
}

// send delivers text and logs transport failures; they never abort a command.
func (b *Bot) send(ctx context.Context, destination, text string) {
	if err := b.sender.Send(ctx, destination, text); err != nil {
		b.logger.Warn("send failed",
			zap.String("destination", destination),
			zap.Error(err))
	}
}

// reply answers the issuer of req where they spoke.
func (b *Bot) reply(ctx context.Context, req request, text string) {
	if req.context == Public {
		b.send(ctx, b.cfg.Channel, req.sender+": "+text)
		return
	}
	b.send(ctx, req.sender, text)
}

// name is the nick the bot currently answers to.
func (b *Bot) name() string {
	if nick := b.nick(); nick != "" {
		return nick
	}
	return b.cfg.BotName
}

func (b *Bot) requireRecipient(sender string) error {
	if sender != b.cfg.Recipient {
		return fmt.Errorf("%w: %s is not %s", ErrUnauthorized, sender, b.cfg.Recipient)
	}
	return nil
}

func elapsedSeconds(now, created time.Time) int64 {
	elapsed := now.Sub(created)
	if elapsed < 0 {
		return 0
	}
	return int64(elapsed / time.Second)
}

package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pathakanu/remindbot/internal/ledger"
	"github.com/pathakanu/remindbot/internal/model"
	"go.uber.org/zap"
)

var (
	// ErrInvalidArgument marks a command argument that could not be parsed.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnauthorized marks a command the sender is not allowed to issue.
	ErrUnauthorized = errors.New("unauthorized")
)

// request is one command addressed to the bot, with any "<botname>: " prefix removed.
type request struct {
	sender  string
	context Context
	text    string
}

func (b *Bot) route(ctx context.Context, req request, now time.Time) error {
	kw := b.cfg.Keywords

	if arg, ok := matchCommand(req.text, kw.Remind); ok {
		return b.remind(ctx, req, arg)
	}
	if _, ok := matchCommand(req.text, kw.List); ok {
		if req.context == Private {
			b.listPrivate(ctx, req, now)
		} else {
			b.listPublic(ctx, req, now)
		}
		return nil
	}
	if arg, ok := matchCommand(req.text, kw.Done); ok {
		return b.done(ctx, req, arg)
	}
	if _, ok := matchCommand(req.text, kw.About); ok {
		b.reply(ctx, req, b.cfg.About)
		return nil
	}

	b.reply(ctx, req, "Sorry, I can't help you with that!")
	return nil
}

// matchCommand reports whether text starts with keyword as a whole word and
// returns the trimmed remainder.
func matchCommand(text, keyword string) (string, bool) {
	if text == keyword {
		return "", true
	}
	if !strings.HasPrefix(text, keyword) {
		return "", false
	}
	rest := text[len(keyword):]
	if rest[0] != ' ' && rest[0] != '\t' {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// ParseID parses a reminder id as typed after the done command.
func ParseID(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a reminder id", ErrInvalidArgument, s)
	}
	return id, nil
}

func (b *Bot) remind(ctx context.Context, req request, text string) error {
	if req.sender == b.cfg.Recipient {
		b.reply(ctx, req, "You can't leave reminders for yourself.")
		return nil
	}
	if text == "" {
		b.reply(ctx, req, fmt.Sprintf("Use: %s <msg>", b.cfg.Keywords.Remind))
		return nil
	}

	visibility := model.Public
	if req.context == Private {
		visibility = model.Private
	}

	r, err := b.ledger.Create(ctx, text, req.sender, visibility)
	if err != nil {
		return fmt.Errorf("create reminder: %w", err)
	}

	b.logger.Info("reminder created",
		zap.Uint64("id", r.ID),
		zap.String("author", r.Author),
		zap.String("visibility", string(r.Visibility)))

	if visibility == model.Private {
		b.reply(ctx, req, fmt.Sprintf("Okay, I'll remind %s privately when I see them. [id: %d]", b.cfg.Recipient, r.ID))
	} else {
		b.reply(ctx, req, fmt.Sprintf("Okay, I'll remind %s when I see them. [id: %d]", b.cfg.Recipient, r.ID))
	}
	return nil
}

func (b *Bot) done(ctx context.Context, req request, arg string) error {
	if err := b.requireRecipient(req.sender); err != nil {
		b.logger.Debug("done rejected", zap.Error(err))
		b.reply(ctx, req, fmt.Sprintf("Sorry, only %s can mark reminders as done.", b.cfg.Recipient))
		return nil
	}

	id, err := ParseID(arg)
	if err != nil {
		b.reply(ctx, req, "Please specify a valid message id.")
		return nil
	}

	removed, err := b.ledger.DeleteByID(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		b.reply(ctx, req, fmt.Sprintf("Can't find message! [id %d].", id))
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete reminder %d: %w", id, err)
	}

	b.logger.Info("reminder removed", zap.Uint64("id", removed.ID), zap.String("author", removed.Author))

	b.reply(ctx, req, fmt.Sprintf("Okay, reminder [id %d] was removed.", removed.ID))
	if removed.Author != req.sender {
		b.send(ctx, removed.Author, fmt.Sprintf("Reminder [id %d; %s] was removed by %s.", removed.ID, removed.Text, b.cfg.Recipient))
	}
	return nil
}

// listPrivate answers a direct list request. The recipient sees everything;
// anyone else sees only the private reminders they left.
func (b *Bot) listPrivate(ctx context.Context, req request, now time.Time) {
	if req.sender != b.cfg.Recipient {
		var own []model.Reminder
		for _, r := range b.ledger.List(model.Private) {
			if r.Author == req.sender {
				own = append(own, r)
			}
		}
		if len(own) == 0 {
			b.send(ctx, req.sender, fmt.Sprintf("You have no private reminders queued for %s.", b.cfg.Recipient))
			return
		}
		for _, r := range own {
			b.send(ctx, req.sender, fmt.Sprintf("@%d you asked me to remind %s to: %s [private, %d sec(s) ago]",
				r.ID, b.cfg.Recipient, r.Text, elapsedSeconds(now, r.CreatedAt)))
		}
		return
	}

	all := b.ledger.List()
	if len(all) == 0 {
		b.send(ctx, req.sender, "Yay! You have no tasks!")
		return
	}
	for _, r := range all {
		b.send(ctx, req.sender, fmt.Sprintf("@%d %s reminded you to: %s [%s, %d sec(s) ago]",
			r.ID, r.Author, r.Text, r.Visibility, elapsedSeconds(now, r.CreatedAt)))
	}
	b.send(ctx, req.sender, fmt.Sprintf("Use: %s <id> to set task as done.", b.cfg.Keywords.Done))
}

// listPublic answers a list request made in the channel. Private reminders are
// only ever sent to the recipient directly.
func (b *Bot) listPublic(ctx context.Context, req request, now time.Time) {
	recipient := b.cfg.Recipient
	fromRecipient := req.sender == recipient

	public := b.ledger.List(model.Public)
	for _, r := range public {
		b.send(ctx, b.cfg.Channel, fmt.Sprintf("@%d %s reminded %s to: %s [%d sec(s) ago]",
			r.ID, r.Author, recipient, r.Text, elapsedSeconds(now, r.CreatedAt)))
	}
	if len(public) == 0 {
		b.reply(ctx, req, fmt.Sprintf("Yay! %s has no public tasks!", recipient))
	} else if fromRecipient {
		b.reply(ctx, req, fmt.Sprintf("Use: %s: %s <id> to set task as done.", b.name(), b.cfg.Keywords.Done))
	}

	if !fromRecipient {
		return
	}
	private := b.ledger.List(model.Private)
	for _, r := range private {
		b.send(ctx, recipient, fmt.Sprintf("@%d %s reminded you to: %s [private, %d sec(s) ago]",
			r.ID, r.Author, r.Text, elapsedSeconds(now, r.CreatedAt)))
	}
	if len(private) == 0 {
		b.send(ctx, recipient, "Yay! You have no private tasks!")
	} else {
		b.send(ctx, recipient, fmt.Sprintf("Use: %s <id> to set task as done.", b.cfg.Keywords.Done))
	}
}

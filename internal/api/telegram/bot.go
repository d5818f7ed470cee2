package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/dtroode/membergate/internal/logger"
	"github.com/dtroode/membergate/internal/model"
)

// Config contains bot connection parameters.
type Config struct {
	Token string
	// Channel is the gating channel, either a numeric chat ID or a public
	// @username.
	Channel     string
	PollTimeout time.Duration
}

// Handler processes one inbound event and returns the reply to render.
type Handler interface {
	Handle(ctx context.Context, event model.Event) (model.Reply, error)
}

// Bot runs the long-polling loop and translates updates into events.
type Bot struct {
	bot     *tele.Bot
	handler Handler
	logger  *logger.Logger
	channel *tele.Chat

	// baseCtx is the run context handlers derive from, set before polling
	// starts so in-flight handlers observe shutdown.
	baseCtx context.Context

	menu        *tele.ReplyMarkup
	btnAddID    tele.Btn
	btnMyIDs    tele.Btn
	btnCheck    tele.Btn
	btnMainMenu tele.Btn
}

func NewBot(config Config, handler Handler, logger *logger.Logger) (*Bot, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token:  config.Token,
		Poller: &tele.LongPoller{Timeout: config.PollTimeout},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	channel, err := resolveChannel(bot, config.Channel)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve channel %q: %w", config.Channel, err)
	}

	b := &Bot{
		bot:     bot,
		handler: handler,
		logger:  logger,
		channel: channel,
	}
	b.buildMenu()
	b.registerHandlers()

	return b, nil
}

// API exposes the underlying bot for the member client and the notifier.
func (b *Bot) API() *tele.Bot {
	return b.bot
}

// Channel returns the resolved gating channel.
func (b *Bot) Channel() *tele.Chat {
	return b.channel
}

// Start runs the polling loop until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) {
	b.baseCtx = ctx
	go func() {
		<-ctx.Done()
		b.bot.Stop()
	}()

	b.logger.Info("Bot: polling started",
		"channel_id", b.channel.ID)
	b.bot.Start()
	b.logger.Info("Bot: polling stopped")
}

func resolveChannel(bot *tele.Bot, ref string) (*tele.Chat, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return &tele.Chat{ID: id}, nil
	}
	if !strings.HasPrefix(ref, "@") {
		ref = "@" + ref
	}
	return bot.ChatByUsername(ref)
}

func (b *Bot) buildMenu() {
	b.menu = &tele.ReplyMarkup{}
	b.btnAddID = b.menu.Data("➕ Add ID", "add_id")
	b.btnMyIDs = b.menu.Data("📋 My IDs", "my_ids")
	b.btnCheck = b.menu.Data("🔄 Check Now", "check_now")
	b.btnMainMenu = b.menu.Data("🏠 Main Menu", "main_menu")
	b.menu.Inline(
		b.menu.Row(b.btnMyIDs, b.btnCheck),
		b.menu.Row(b.btnAddID, b.btnMainMenu),
	)
}

func (b *Bot) registerHandlers() {
	b.bot.Handle("/start", b.onStart)
	b.bot.Handle("/stats", b.onList)
	b.bot.Handle(tele.OnText, b.onText)

	b.bot.Handle(&b.btnAddID, func(c tele.Context) error {
		if err := c.Respond(); err != nil {
			return err
		}
		return c.Send(fmt.Sprintf(
			"Send me the ID value to register (%d-%d characters: letters, digits, '_' and '-').",
			model.IdentifierMinLen, model.IdentifierMaxLen))
	})
	b.bot.Handle(&b.btnMyIDs, func(c tele.Context) error {
		if err := c.Respond(); err != nil {
			return err
		}
		return b.onList(c)
	})
	b.bot.Handle(&b.btnCheck, b.onCheck)
	b.bot.Handle(&b.btnMainMenu, func(c tele.Context) error {
		if err := c.Respond(); err != nil {
			return err
		}
		return b.onStart(c)
	})
}

func (b *Bot) onStart(c tele.Context) error {
	reply, err := b.handle(c, model.Event{
		AccountID:   c.Sender().ID,
		Kind:        model.EventStart,
		DisplayName: displayName(c.Sender()),
	})
	if err != nil {
		return c.Send("⏳ Something went wrong, please try again in a moment.")
	}
	return c.Send(renderStart(reply), b.menu)
}

func (b *Bot) onText(c tele.Context) error {
	value := strings.TrimSpace(c.Text())
	reply, err := b.handle(c, model.Event{
		AccountID:   c.Sender().ID,
		Kind:        model.EventAddIdentifier,
		Payload:     value,
		DisplayName: displayName(c.Sender()),
	})
	if err != nil && reply.Outcome != model.ReplyInvalidInput {
		return c.Send("⏳ Something went wrong, please try again in a moment.")
	}
	return c.Send(renderAdd(reply), b.menu)
}

func (b *Bot) onCheck(c tele.Context) error {
	if err := c.Respond(); err != nil {
		return err
	}
	reply, err := b.handle(c, model.Event{
		AccountID: c.Sender().ID,
		Kind:      model.EventManualCheck,
	})
	if err != nil {
		return c.Send("⏳ Could not check your membership right now, please try again.")
	}
	return c.Send(renderCheck(reply), b.menu)
}

func (b *Bot) onList(c tele.Context) error {
	reply, err := b.handle(c, model.Event{
		AccountID:   c.Sender().ID,
		Kind:        model.EventListIdentifiers,
		DisplayName: displayName(c.Sender()),
	})
	if err != nil {
		return c.Send("⏳ Something went wrong, please try again in a moment.")
	}
	return c.Send(renderList(reply), b.menu)
}

func (b *Bot) handle(c tele.Context, event model.Event) (model.Reply, error) {
	ctx := b.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	reply, err := b.handler.Handle(ctx, event)
	if err != nil {
		b.logger.Error("Bot: event handling failed",
			"account_id", event.AccountID,
			"kind", string(event.Kind),
			"error", err.Error())
	}
	return reply, err
}

func displayName(user *tele.User) string {
	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name == "" {
		name = user.Username
	}
	return name
}

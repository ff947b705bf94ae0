// Package telegram is the Telegram transport: long polling in, replies,
// typing indicators and failure notices out. A user's id is their private
// chat id, so any instance can deliver to any user.
package telegram

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoobatch/internal/notify"
	"github.com/yoockh/yoobatch/internal/services"
	"github.com/yoockh/yoobatch/internal/utils"
)

const (
	typingInterval = 5 * time.Second
	maxMessageLen  = 4096

	welcomeText = "Hi! Send me a message. If you send several in a row I'll wait a moment and answer them together."
	helpText    = "/start - say hello\n/help - show this help\n/reset - forget our conversation"
	resetText   = "Conversation history has been reset."
)

// botAPI is the part of *telego.Bot the transport uses.
type botAPI interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	SendChatAction(ctx context.Context, params *telego.SendChatActionParams) error
}

type Submitter interface {
	Submit(ctx context.Context, userID, text string) error
}

type Resetter interface {
	Reset(ctx context.Context, userID string) (*services.ResetResult, error)
}

type Bot struct {
	bot      *telego.Bot
	api      botAPI
	submit   Submitter
	resetter Resetter
	log      *logrus.Logger

	typingMu sync.Mutex
	typing   map[string]context.CancelFunc
	typingWG sync.WaitGroup
}

func New(token string, log *logrus.Logger) (*Bot, error) {
	const op = "telegram.New"

	b, err := telego.NewBot(token)
	if err != nil {
		return nil, utils.E(utils.CodeConfig, op, "failed to create telegram bot", err)
	}
	return newBot(b, b, log), nil
}

func newBot(raw *telego.Bot, api botAPI, log *logrus.Logger) *Bot {
	if log == nil {
		log = logrus.New()
	}
	return &Bot{bot: raw, api: api, log: log, typing: make(map[string]context.CancelFunc)}
}

// Attach wires the inbound side. It must be called before Run.
func (b *Bot) Attach(submit Submitter, resetter Resetter) {
	b.submit = submit
	b.resetter = resetter
}

// Run long-polls for updates until ctx ends.
func (b *Bot) Run(ctx context.Context) error {
	const op = "Bot.Run"

	if err := b.bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{Commands: []telego.BotCommand{
		{Command: "start", Description: "Start chatting with the bot"},
		{Command: "help", Description: "Show available commands"},
		{Command: "reset", Description: "Reset conversation history"},
	}}); err != nil {
		b.log.WithError(err).Warn("failed to register telegram commands")
	}

	updates, err := b.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return utils.E(utils.CodeUnavailable, op, "failed to start long polling", err)
	}
	b.log.WithField("username", b.bot.Username()).Info("telegram bot polling")

	for {
		select {
		case <-ctx.Done():
			b.stopTyping()
			return nil
		case update, ok := <-updates:
			if !ok {
				b.stopTyping()
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update telego.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	if msg.Chat.Type != "private" {
		b.log.WithField("chat_id", msg.Chat.ID).Debug("telegram non-private chat skipped")
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	userID := strconv.FormatInt(msg.Chat.ID, 10)
	log := b.log.WithField("user_id", userID)

	switch command(text) {
	case "start":
		b.reply(ctx, msg.Chat.ID, welcomeText)
		return
	case "help":
		b.reply(ctx, msg.Chat.ID, helpText)
		return
	case "reset":
		if b.resetter == nil {
			return
		}
		if _, err := b.resetter.Reset(ctx, userID); err != nil {
			log.WithError(err).Error("reset failed")
			b.reply(ctx, msg.Chat.ID, notify.UserText(err))
			return
		}
		b.reply(ctx, msg.Chat.ID, resetText)
		return
	}

	if b.submit == nil {
		log.Warn("telegram message dropped, no submitter attached")
		return
	}
	if err := b.submit.Submit(ctx, userID, text); err != nil {
		log.WithError(err).Error("failed to submit message")
		b.reply(ctx, msg.Chat.ID, notify.UserText(err))
	}
}

// command returns the bot command name in text ("/reset@MyBot" -> "reset"),
// or "" for ordinary messages.
func command(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	name := strings.Fields(text)[0][1:]
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.api.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		b.log.WithError(err).WithField("chat_id", chatID).Warn("telegram send failed")
	}
}

// chatID maps a user id to its private chat. Users who came in over HTTP or
// the websocket have non-numeric ids and are skipped by every outbound call.
func chatID(userID string) (int64, bool) {
	id, err := strconv.ParseInt(userID, 10, 64)
	return id, err == nil
}

// Deliver sends result, split into Telegram-sized messages.
func (b *Bot) Deliver(ctx context.Context, userID, result string) error {
	const op = "Bot.Deliver"

	id, ok := chatID(userID)
	if !ok {
		return nil
	}
	for _, part := range split(result, maxMessageLen) {
		if _, err := b.api.SendMessage(ctx, tu.Message(tu.ID(id), part)); err != nil {
			return utils.E(utils.CodeUnavailable, op, "telegram send failed", err)
		}
	}
	return nil
}

// SetIndicator starts or stops the typing action. Telegram shows it for about
// five seconds, so it is re-sent until switched off.
func (b *Bot) SetIndicator(ctx context.Context, userID string, active bool) error {
	id, ok := chatID(userID)
	if !ok {
		return nil
	}

	b.typingMu.Lock()
	defer b.typingMu.Unlock()

	if cancel, ok := b.typing[userID]; ok {
		cancel()
		delete(b.typing, userID)
	}
	if !active {
		return nil
	}

	tctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.typing[userID] = cancel
	b.typingWG.Add(1)
	go func() {
		defer b.typingWG.Done()
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()
		for {
			if err := b.api.SendChatAction(tctx, tu.ChatAction(tu.ID(id), telego.ChatActionTyping)); err != nil && tctx.Err() == nil {
				b.log.WithError(err).WithField("user_id", userID).Debug("typing action failed")
			}
			select {
			case <-tctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

func (b *Bot) NotifyFailure(ctx context.Context, userID string, err error) {
	id, ok := chatID(userID)
	if !ok {
		return
	}
	b.reply(ctx, id, notify.UserText(err))
}

func (b *Bot) stopTyping() {
	b.typingMu.Lock()
	for id, cancel := range b.typing {
		cancel()
		delete(b.typing, id)
	}
	b.typingMu.Unlock()
	b.typingWG.Wait()
}

// split cuts s into parts of at most n UTF-16 code units, the unit Telegram
// measures message length in. Runes are never cut in half.
func split(s string, n int) []string {
	var out []string
	var b strings.Builder
	units := 0
	for _, r := range s {
		l := utf16.RuneLen(r)
		if units+l > n && b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
			units = 0
		}
		b.WriteRune(r)
		units += l
	}
	if b.Len() > 0 || len(out) == 0 {
		out = append(out, b.String())
	}
	return out
}

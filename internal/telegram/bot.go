package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/brewstamp/brewstamp/internal/storage"
)

var linkCodeRegex = regexp.MustCompile(`^[A-Za-z0-9]{16,64}$`)

// ShopLinker binds a chat to a shop's alerts. Linking takes the secret
// handed out when the shop was created, never the public shop code.
type ShopLinker interface {
	LinkAlertChat(ctx context.Context, secret string, chatID int64) (*storage.Shop, error)
	UnlinkAlertChat(ctx context.Context, code string, chatID int64) error
}

// Bot wraps the telegram bot with handlers
type Bot struct {
	bot    *bot.Bot
	shops  ShopLinker
	states *StateManager
	log    *slog.Logger
}

// New creates a new telegram bot
func New(token string, shops ShopLinker, log *slog.Logger) (*Bot, error) {
	b := newBot(shops, log)

	opts := []bot.Option{
		bot.WithDefaultHandler(b.defaultHandler),
		bot.WithCallbackQueryDataHandler("", bot.MatchTypePrefix, b.callbackHandler),
	}

	tgBot, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	b.bot = tgBot

	// Register command handlers
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, b.startHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/link", bot.MatchTypeExact, b.linkHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/link ", bot.MatchTypePrefix, b.linkHandler)

	return b, nil
}

func newBot(shops ShopLinker, log *slog.Logger) *Bot {
	return &Bot{
		shops:  shops,
		states: NewStateManager(),
		log:    log,
	}
}

// Start starts the bot polling
func (b *Bot) Start(ctx context.Context) {
	b.bot.Start(ctx)
}

// --- Handlers ---

func (b *Bot) startHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	text := "☕ <b>Brewstamp alerts</b>\n\n" +
		"Send <code>/link LINKCODE</code> with the link code you got when the shop was created " +
		"to get a message here every time a customer asks for a stamp."
	b.sendMessage(ctx, update.Message.Chat.ID, text, nil)
}

func (b *Bot) linkHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	msg := update.Message
	secret := strings.TrimSpace(strings.TrimPrefix(msg.Text, "/link"))
	if secret == "" {
		b.states.Set(msg.Chat.ID, StateWaitLinkCode)
		b.sendMessage(ctx, msg.Chat.ID, "Send the shop's link code.", nil)
		return
	}

	text, kb := b.link(ctx, msg.Chat.ID, secret)
	b.sendMessage(ctx, msg.Chat.ID, text, kb)
}

func (b *Bot) defaultHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}

	msg := update.Message
	state := b.states.Get(msg.Chat.ID)
	if state == nil {
		return
	}

	switch state.State {
	case StateWaitLinkCode:
		text, kb := b.link(ctx, msg.Chat.ID, strings.TrimSpace(msg.Text))
		b.sendMessage(ctx, msg.Chat.ID, text, kb)
	}
}

func (b *Bot) callbackHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}

	cb := update.CallbackQuery
	data := cb.Data

	// Answer callback to remove loading state
	tgBot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: cb.ID,
	})

	switch {
	case strings.HasPrefix(data, "unlink:"):
		if cb.Message.Message == nil {
			return
		}
		text := b.unlink(ctx, cb.Message.Message.Chat.ID, strings.TrimPrefix(data, "unlink:"))
		b.editMessage(ctx, cb.Message, text)
	default:
		b.log.Warn("unknown callback", "data", data, "user_id", cb.From.ID)
	}
}

// link binds chatID to the shop holding secret and returns the reply to show.
func (b *Bot) link(ctx context.Context, chatID int64, secret string) (string, *models.InlineKeyboardMarkup) {
	if !linkCodeRegex.MatchString(secret) {
		return "❌ That doesn't look like a link code. Try again.", nil
	}

	shop, err := b.shops.LinkAlertChat(ctx, secret, chatID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return "❌ No shop uses that link code.", nil
	case errors.Is(err, storage.ErrAlreadyLinked):
		b.log.Warn("alert chat takeover refused", "chat_id", chatID)
		return "❌ This shop already sends its alerts to another chat. Switch them off there first.", nil
	case err != nil:
		b.log.Error("link alert chat", "chat_id", chatID, "error", err)
		return "❌ Could not link the shop, try again later.", nil
	}

	b.states.Clear(chatID)
	b.log.Info("alert chat linked", "shop", shop.Code, "chat_id", chatID)
	return fmt.Sprintf("✅ Stamp requests for <b>%s</b> will appear here.", html.EscapeString(shop.Name)), LinkedKeyboard(shop.Code)
}

func (b *Bot) unlink(ctx context.Context, chatID int64, code string) string {
	err := b.shops.UnlinkAlertChat(ctx, code, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		return "❌ This chat is not receiving alerts for that shop."
	}
	if err != nil {
		b.log.Error("unlink alert chat", "shop", code, "error", err)
		return "❌ Could not unlink the shop."
	}
	b.log.Info("alert chat unlinked", "shop", code, "chat_id", chatID)
	return fmt.Sprintf("🔕 Alerts for <b>%s</b> switched off.", html.EscapeString(code))
}

// --- Helpers ---

func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.SendMessage(ctx, params)
	if err != nil {
		b.log.Error("send message", "error", err)
	}
}

func (b *Bot) editMessage(ctx context.Context, msg models.MaybeInaccessibleMessage, text string) {
	if msg.Message == nil {
		return
	}

	_, err := b.bot.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:    msg.Message.Chat.ID,
		MessageID: msg.Message.ID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		b.log.Error("edit message", "error", err)
	}
}

// SendNotification sends an HTML message to a chat
func (b *Bot) SendNotification(ctx context.Context, chatID int64, text string) error {
	disablePreview := true
	_, err := b.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: &disablePreview,
		},
	})
	return err
}

package gateway

import (
	"context"
	"fmt"
	"log"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const telegramMaxMessage = 4096

type TelegramGateway struct {
	Bot     *tgbotapi.BotAPI
	Handler *Handler
	// ChatID restricts the bot to one operator chat when set.
	ChatID string

	ctx    context.Context
	cancel context.CancelFunc
}

func NewTelegramGateway(token string, handler *Handler, chatID string) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log.Printf("Authorized on account %s", bot.Self.UserName)

	ctx, cancel := context.WithCancel(context.Background())
	return &TelegramGateway{
		Bot:     bot,
		Handler: handler,
		ChatID:  chatID,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func (tg *TelegramGateway) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)

	for update := range updates {
		if update.Message == nil {
			continue
		}

		chatID := strconv.FormatInt(update.Message.Chat.ID, 10)
		if tg.ChatID != "" && chatID != tg.ChatID {
			log.Printf("Ignoring message from unknown chat %s", chatID)
			continue
		}
		if update.Message.From != nil {
			log.Printf("[%s] %s", update.Message.From.UserName, update.Message.Text)
		}

		// Executions can run for minutes; /abort must still get through.
		go func(chatID, text string) {
			response := tg.Handler.Handle(tg.ctx, chatID, text)
			if response == "" {
				return
			}
			if err := tg.reply(chatID, response); err != nil {
				log.Printf("Error sending reply: %v", err)
			}
		}(chatID, update.Message.Text)
	}
	return nil
}

func (tg *TelegramGateway) reply(chatID, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}
	for _, part := range chunk(text, telegramMaxMessage) {
		if _, err := tg.Bot.Send(tgbotapi.NewMessage(id, part)); err != nil {
			return err
		}
	}
	return nil
}

func (tg *TelegramGateway) Send(chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}

	msg := tgbotapi.NewMessage(id, text)
	msg.ParseMode = "Markdown" // Enable markdown for better alerts
	_, err = tg.Bot.Send(msg)
	return err
}

func (tg *TelegramGateway) Stop() error {
	tg.cancel()
	tg.Bot.StopReceivingUpdates()
	return nil
}

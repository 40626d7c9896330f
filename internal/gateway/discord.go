package gateway

import (
	"context"
	"fmt"
	"log"

	"github.com/bwmarrin/discordgo"
)

const discordMaxMessage = 2000

type DiscordGateway struct {
	Session *discordgo.Session
	Handler *Handler
	// ChannelID restricts the bot to one operator channel when set.
	ChannelID string

	ctx    context.Context
	cancel context.CancelFunc
}

func NewDiscordGateway(token string, handler *Handler, channelID string) (*DiscordGateway, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	session.Identify.Intents = discordgo.IntentGuildMessages | discordgo.IntentDirectMessages | discordgo.IntentMessageContent

	ctx, cancel := context.WithCancel(context.Background())
	dg := &DiscordGateway{
		Session:   session,
		Handler:   handler,
		ChannelID: channelID,
		ctx:       ctx,
		cancel:    cancel,
	}
	session.AddHandler(dg.onMessage)
	return dg, nil
}

func (dg *DiscordGateway) Start() error {
	if err := dg.Session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	log.Printf("Authorized on discord as %s", dg.Session.State.User.Username)
	<-dg.ctx.Done()
	return nil
}

func (dg *DiscordGateway) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || (s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return
	}
	if dg.ChannelID != "" && m.ChannelID != dg.ChannelID {
		return
	}
	log.Printf("[%s] %s", m.Author.Username, m.Content)

	// discordgo already runs handlers on their own goroutine.
	response := dg.Handler.Handle(dg.ctx, m.ChannelID, m.Content)
	if response == "" {
		return
	}
	if err := dg.Send(m.ChannelID, response); err != nil {
		log.Printf("Error sending reply: %v", err)
	}
}

func (dg *DiscordGateway) Send(chatID string, text string) error {
	if chatID == "" {
		return fmt.Errorf("invalid channel ID: %q", chatID)
	}
	for _, part := range chunk(text, discordMaxMessage) {
		if _, err := dg.Session.ChannelMessageSend(chatID, part); err != nil {
			return err
		}
	}
	return nil
}

func (dg *DiscordGateway) Stop() error {
	dg.cancel()
	return dg.Session.Close()
}

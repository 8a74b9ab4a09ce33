package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const discordContentLimit = 2000

// Discord posts to a channel webhook
// (https://discord.com/api/webhooks/{id}/{token}).
type Discord struct {
	id      string
	token   string
	session *discordgo.Session
}

func NewDiscord(webhookURL string) (*Discord, error) {
	id, token, err := parseDiscordWebhook(webhookURL)
	if err != nil {
		return nil, err
	}
	// Webhook execution needs no bot token.
	s, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord: %w", err)
	}
	return &Discord{id: id, token: token, session: s}, nil
}

func (d *Discord) Name() string { return "discord" }

// Send posts the chat text, split into several messages when it exceeds the
// Discord content limit.
func (d *Discord) Send(ctx context.Context, msg Message) error {
	for i, chunk := range chunkLines(msg.Text, discordContentLimit) {
		if _, err := d.session.WebhookExecute(d.id, d.token, true, &discordgo.WebhookParams{
			Content: chunk,
		}, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord: message %d: %w", i+1, err)
		}
	}
	return nil
}

func parseDiscordWebhook(raw string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("discord: invalid webhook url")
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	// .../api/webhooks/{id}/{token}
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("discord: webhook url must look like https://discord.com/api/webhooks/{id}/{token}")
}

package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// webhookExecutor はdiscordgo.Sessionのうち通知に必要な操作。
type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier は運用チャンネルのDiscord Webhookに通知を投稿する。
// メールアドレスなどの個人情報は投稿しない。
type DiscordNotifier struct {
	session   webhookExecutor
	webhookID string
	token     string
}

// NewDiscordNotifier はWebhook URL（https://discord.com/api/webhooks/{id}/{token}）から
// DiscordNotifierを生成する。
func NewDiscordNotifier(webhookURL string) (*DiscordNotifier, error) {
	id, token, err := parseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}

	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	return &DiscordNotifier{session: session, webhookID: id, token: token}, nil
}

func parseWebhookURL(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid discord webhook URL: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	// api/webhooks/{id}/{token}
	if u.Scheme != "https" || len(parts) < 4 || parts[len(parts)-3] != "webhooks" {
		return "", "", errors.New("invalid discord webhook URL: expected /api/webhooks/{id}/{token}")
	}
	id, token := parts[len(parts)-2], parts[len(parts)-1]
	if id == "" || token == "" {
		return "", "", errors.New("invalid discord webhook URL: empty id or token")
	}
	return id, token, nil
}

func (n *DiscordNotifier) EntitlementGranted(ctx context.Context, notice EntitlementNotice) error {
	fields := []*discordgo.MessageEmbedField{
		{Name: "User", Value: notice.UserID, Inline: true},
		{Name: "Plan", Value: string(notice.Plan), Inline: true},
		{Name: "Amount", Value: FormatAmount(notice.AmountMinorUnits, notice.Currency), Inline: true},
	}
	if notice.ExpiresAt != nil {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Expires", Value: notice.ExpiresAt.UTC().Format("2006-01-02"), Inline: true,
		})
	}
	return n.post(ctx, &discordgo.MessageEmbed{
		Title:  "Entitlement granted",
		Color:  0x2ecc71,
		Fields: fields,
	})
}

func (n *DiscordNotifier) PaymentFailed(ctx context.Context, notice PaymentFailureNotice) error {
	return n.post(ctx, &discordgo.MessageEmbed{
		Title: "Payment failed",
		Color: 0xe74c3c,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "User", Value: notice.UserID, Inline: true},
			{Name: "Reference", Value: notice.ExternalRef, Inline: true},
			{Name: "Amount", Value: FormatAmount(notice.AmountMinorUnits, notice.Currency), Inline: true},
		},
	})
}

func (n *DiscordNotifier) post(ctx context.Context, embed *discordgo.MessageEmbed) error {
	_, err := n.session.WebhookExecute(n.webhookID, n.token, false, &discordgo.WebhookParams{
		Username: "subtrack",
		Embeds:   []*discordgo.MessageEmbed{embed},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to post discord notification: %w", err)
	}
	return nil
}

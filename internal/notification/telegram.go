package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// TelegramNotifier posts alerts to a chat through the Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

// NewTelegramNotifier creates a notifier for chatID using a @BotFather token.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  "https://api.telegram.org",
		client:   &http.Client{Timeout: sendTimeout},
	}
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	reply, err := postJSON(ctx, t.client, url, map[string]any{
		"chat_id":    t.chatID,
		"text":       telegramText(alert),
		"parse_mode": "MarkdownV2",
	})
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			if desc := gjson.GetBytes(reply, "description").String(); desc != "" {
				return fmt.Errorf("telegram: %w: %s", err, desc)
			}
		}
		return fmt.Errorf("telegram: %w", err)
	}

	log.Printf("[telegram] sent alert: %s", alert.Title)
	return nil
}

// telegramText renders an alert as MarkdownV2: level marker, bold title,
// message, then the decision trend and id when present.
func telegramText(alert Alert) string {
	marker := "ℹ️"
	switch alert.Level {
	case AlertWarning:
		marker = "⚠️"
	case AlertCritical:
		marker = "🚨"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n\n%s", marker, escapeMarkdown(alert.Title), escapeMarkdown(alert.Message))
	if trend, ok := alert.Fields["trend"].(string); ok && trend != "" {
		b.WriteString("\n\ntrend: " + escapeMarkdown(trend))
	}
	if id, ok := alert.Fields["id"].(string); ok && id != "" {
		b.WriteString("\nid: " + escapeMarkdown(id))
	}
	return b.String()
}

const markdownSpecials = "_*[]()~`>#+-=|{}.!\\"

// escapeMarkdown escapes the MarkdownV2 reserved characters.
func escapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		if strings.ContainsRune(markdownSpecials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

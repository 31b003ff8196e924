package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Notification carries the context of a collection run worth alerting on.
type Notification struct {
	RunAt        time.Time
	Outcome      string
	FailureClass string
	Reason       string
	ArtifactPath string
	Schedule     string
}

// Notifier delivers run notifications to an operator channel.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify sends the rendered run report via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Time("run_at", note.RunAt).
		Str("outcome", note.Outcome).
		Msg("alert dispatched (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[NEPSE Collector]\n")
	builder.WriteString(fmt.Sprintf("Run: %s\n", note.RunAt.Format("2006-01-02 15:04:05 MST")))
	builder.WriteString(fmt.Sprintf("Outcome: %s\n", note.Outcome))
	if note.FailureClass != "" {
		builder.WriteString(fmt.Sprintf("Class: %s\n", note.FailureClass))
	}
	if note.Reason != "" {
		builder.WriteString(fmt.Sprintf("Reason: %s\n", note.Reason))
	}
	if note.ArtifactPath != "" {
		builder.WriteString(fmt.Sprintf("Artifact: %s\n", note.ArtifactPath))
	}
	if note.Schedule != "" {
		builder.WriteString(fmt.Sprintf("Schedule: %s\n", note.Schedule))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)

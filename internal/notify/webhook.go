// Package notify sends operator webhook notifications for miner events.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tos-network/tos-miner/internal/config"
	"github.com/tos-network/tos-miner/internal/util"
)

// Retry configuration
const (
	MaxRetries     = 3
	RetryBaseDelay = 2 * time.Second
)

const telegramAPI = "https://api.telegram.org"

// Notifier handles sending notifications
type Notifier struct {
	cfg    *config.NotifyConfig
	client *http.Client

	// telegramBase is swapped out in tests.
	telegramBase string
}

// NewNotifier creates a new notifier
func NewNotifier(cfg *config.NotifyConfig) *Notifier {
	return &Notifier{
		cfg: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		telegramBase: telegramAPI,
	}
}

// NotifyPoolSwitch sends notifications when the miner fails over to another
// pool.
func (n *Notifier) NotifyPoolSwitch(from, to string) {
	if !n.cfg.Enabled {
		return
	}

	if n.cfg.DiscordURL != "" {
		go n.sendDiscordSwitchNotification(from, to)
	}

	if n.cfg.TelegramBot != "" && n.cfg.TelegramChat != "" {
		text := fmt.Sprintf(
			"*Pool Switch*\n\n"+
				"Rig: `%s`\n"+
				"From: `%s`\n"+
				"To: `%s`",
			n.cfg.RigName, from, to,
		)
		go n.sendTelegramMessageWithRetry(text)
	}
}

// NotifyConnected sends notifications when a pool connection is established.
func (n *Notifier) NotifyConnected(pool string) {
	if !n.cfg.Enabled {
		return
	}

	if n.cfg.DiscordURL != "" {
		go n.sendDiscordConnectedNotification(pool)
	}

	if n.cfg.TelegramBot != "" && n.cfg.TelegramChat != "" {
		text := fmt.Sprintf(
			"*Connected*\n\n"+
				"Rig: `%s`\n"+
				"Pool: `%s`",
			n.cfg.RigName, pool,
		)
		go n.sendTelegramMessageWithRetry(text)
	}
}

// NotifyShutdown sends notifications when the miner shuts down. Unlike the
// other notifications this one is sent synchronously so it survives process
// exit.
func (n *Notifier) NotifyShutdown(reason string) {
	if !n.cfg.Enabled {
		return
	}

	if n.cfg.DiscordURL != "" {
		n.sendDiscordShutdownNotification(reason)
	}

	if n.cfg.TelegramBot != "" && n.cfg.TelegramChat != "" {
		text := fmt.Sprintf(
			"*Miner Stopped*\n\n"+
				"Rig: `%s`\n"+
				"Reason: `%s`",
			n.cfg.RigName, reason,
		)
		n.sendTelegramMessageWithRetry(text)
	}
}

// DiscordEmbed represents a Discord embed object
type DiscordEmbed struct {
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color,omitempty"`
	Fields      []DiscordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Footer      *DiscordFooter `json:"footer,omitempty"`
}

// DiscordField represents a field in a Discord embed
type DiscordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// DiscordFooter represents the footer of a Discord embed
type DiscordFooter struct {
	Text string `json:"text"`
}

// DiscordMessage represents a Discord webhook message
type DiscordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []DiscordEmbed `json:"embeds,omitempty"`
}

func (n *Notifier) sendDiscordSwitchNotification(from, to string) {
	embed := DiscordEmbed{
		Title:       "Pool Switch",
		Description: fmt.Sprintf("**%s** failed over to another pool", n.cfg.RigName),
		Color:       0xFFA500, // Orange
		Fields: []DiscordField{
			{Name: "From", Value: from, Inline: true},
			{Name: "To", Value: to, Inline: true},
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Footer: &DiscordFooter{
			Text: n.cfg.RigName,
		},
	}

	n.sendDiscordMessageWithRetry(DiscordMessage{Embeds: []DiscordEmbed{embed}})
}

func (n *Notifier) sendDiscordConnectedNotification(pool string) {
	embed := DiscordEmbed{
		Title:       "Connected",
		Description: fmt.Sprintf("**%s** is mining", n.cfg.RigName),
		Color:       0x00FF00, // Green
		Fields: []DiscordField{
			{Name: "Pool", Value: pool, Inline: true},
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Footer: &DiscordFooter{
			Text: n.cfg.RigName,
		},
	}

	n.sendDiscordMessageWithRetry(DiscordMessage{Embeds: []DiscordEmbed{embed}})
}

func (n *Notifier) sendDiscordShutdownNotification(reason string) {
	embed := DiscordEmbed{
		Title:       "Miner Stopped",
		Description: fmt.Sprintf("**%s** shut down", n.cfg.RigName),
		Color:       0xFF0000, // Red
		Fields: []DiscordField{
			{Name: "Reason", Value: reason, Inline: true},
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Footer: &DiscordFooter{
			Text: n.cfg.RigName,
		},
	}

	n.sendDiscordMessageWithRetry(DiscordMessage{Embeds: []DiscordEmbed{embed}})
}

// sendDiscordMessageWithRetry sends a message to Discord with exponential backoff retry
func (n *Notifier) sendDiscordMessageWithRetry(msg DiscordMessage) {
	body, err := json.Marshal(msg)
	if err != nil {
		util.Warnf("Failed to marshal Discord message: %v", err)
		return
	}

	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 2s, 4s, 8s
			delay := RetryBaseDelay * time.Duration(1<<uint(attempt-1))
			time.Sleep(delay)
		}

		resp, err := n.client.Post(n.cfg.DiscordURL, "application/json", bytes.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}

		resp.Body.Close()

		if resp.StatusCode < 400 {
			return // Success
		}

		// Rate limited - wait longer
		if resp.StatusCode == 429 {
			time.Sleep(5 * time.Second)
			continue
		}

		lastErr = fmt.Errorf("status %d", resp.StatusCode)
	}

	if lastErr != nil {
		util.Warnf("Failed to send Discord notification after %d retries: %v", MaxRetries, lastErr)
	}
}

// TelegramMessage represents a Telegram bot message
type TelegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// sendTelegramMessageWithRetry sends a message via Telegram with exponential backoff retry
func (n *Notifier) sendTelegramMessageWithRetry(text string) {
	url := fmt.Sprintf("%s/bot%s/sendMessage", n.telegramBase, n.cfg.TelegramBot)

	msg := TelegramMessage{
		ChatID:    n.cfg.TelegramChat,
		Text:      text,
		ParseMode: "Markdown",
	}

	body, err := json.Marshal(msg)
	if err != nil {
		util.Warnf("Failed to marshal Telegram message: %v", err)
		return
	}

	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		if attempt > 0 {
			delay := RetryBaseDelay * time.Duration(1<<uint(attempt-1))
			time.Sleep(delay)
		}

		resp, err := n.client.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}

		resp.Body.Close()

		if resp.StatusCode < 400 {
			return // Success
		}

		// Rate limited
		if resp.StatusCode == 429 {
			time.Sleep(5 * time.Second)
			continue
		}

		lastErr = fmt.Errorf("status %d", resp.StatusCode)
	}

	if lastErr != nil {
		util.Warnf("Failed to send Telegram notification after %d retries: %v", MaxRetries, lastErr)
	}
}

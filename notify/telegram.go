package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const DefaultTelegramAPIURL = "https://api.telegram.org"

// TelegramConfig holds the bot credentials. None of these have defaults, the
// bot token is a secret and must come from the environment or a config file
type TelegramConfig struct {
	BotToken string
	ChatID   string
	// APIURL is the Bot API base URL, DefaultTelegramAPIURL if empty
	APIURL string
	// Timeout per delivery attempt
	Timeout time.Duration
	// Markdown sets parse_mode=Markdown on messages
	Markdown bool
}

// Enabled reports whether enough is configured to send messages
func (c TelegramConfig) Enabled() bool {
	return c.BotToken != "" || c.ChatID != ""
}

func (c TelegramConfig) Validate() error {
	if c.BotToken == "" {
		return errors.New("telegram bot token must be set when a chat id is configured")
	}
	if c.ChatID == "" {
		return errors.New("telegram chat id must be set when a bot token is configured")
	}
	return nil
}

// Telegram delivers messages through the Telegram Bot API
type Telegram struct {
	config TelegramConfig
	client *retryablehttp.Client
}

// NewTelegram returns a Telegram notifier. Each message is tried up to three
// times
func NewTelegram(config TelegramConfig) (*Telegram, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.APIURL == "" {
		config.APIURL = DefaultTelegramAPIURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = leveledLogger{secret: config.BotToken}
	client.HTTPClient = &http.Client{
		Timeout:   config.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	return &Telegram{
		config: config,
		client: client,
	}, nil
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send delivers message and returns any error
func (t *Telegram) Send(ctx context.Context, message string) error {
	form := url.Values{}
	form.Set("chat_id", t.config.ChatID)
	form.Set("text", message)
	if t.config.Markdown {
		form.Set("parse_mode", "Markdown")
	}

	endpoint := fmt.Sprintf("%v/bot%v/sendMessage", strings.TrimSuffix(t.config.APIURL, "/"), t.config.BotToken)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending telegram message: %w", redactToken(err, t.config.BotToken))
	}
	defer resp.Body.Close()

	var body telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("telegram returned HTTP %d with an unreadable body: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !body.OK {
		return fmt.Errorf("telegram returned HTTP %d: %v", resp.StatusCode, body.Description)
	}

	return nil
}

// Notify sends message, logging instead of returning errors
func (t *Telegram) Notify(ctx context.Context, message string) {
	if err := t.Send(ctx, message); err != nil {
		log.WithContext(ctx).WithError(err).Warn("Telegram send error")
	}
}

// the bot token is part of the URL path and would otherwise end up in logs
func redactToken(err error, token string) error {
	if token == "" {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "[REDACTED]"))
}

// leveledLogger sends retryablehttp's logs to logrus at debug level, with the
// bot token masked out of the request URLs it logs
type leveledLogger struct {
	secret string
}

func (l leveledLogger) fields(keysAndValues []interface{}) log.Fields {
	f := log.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		v := keysAndValues[i+1]
		if l.secret != "" {
			if s := fmt.Sprint(v); strings.Contains(s, l.secret) {
				v = strings.ReplaceAll(s, l.secret, "[REDACTED]")
			}
		}
		f[fmt.Sprint(keysAndValues[i])] = v
	}
	return f
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	log.WithFields(l.fields(keysAndValues)).Debug(msg)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	log.WithFields(l.fields(keysAndValues)).Trace(msg)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	log.WithFields(l.fields(keysAndValues)).Trace(msg)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	log.WithFields(l.fields(keysAndValues)).Debug(msg)
}

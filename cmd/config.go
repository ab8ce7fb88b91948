package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/overmindtech/tokengen/accounts"
	"github.com/overmindtech/tokengen/driver"
	"github.com/overmindtech/tokengen/notify"
	"github.com/overmindtech/tokengen/pipeline"
	"github.com/overmindtech/tokengen/tokenapi"
	"github.com/overmindtech/tokengen/tokenstore"
	"github.com/overmindtech/tokengen/vcs"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const redacted = "[REDACTED]"

// Config is everything a command needs, read once from viper
type Config struct {
	Regions     []string
	Concurrency int
	Force       bool
	SkipPublish bool
	StateFile   string

	AccountsDir   string
	AccountFormat accounts.Format
	OutputDir     string
	Layout        tokenstore.Layout

	Token    tokenapi.Config
	Retry    pipeline.RetryPolicy
	Telegram notify.TelegramConfig
	Repo     vcs.Config
}

// ConfigFromViper reads the config. Keys that the running command doesn't
// define are left at their zero value
func ConfigFromViper() (*Config, error) {
	format, err := accounts.ParseFormat(viper.GetString("account-format"))
	if err != nil {
		return nil, err
	}

	c := &Config{
		Regions:       normaliseRegions(viper.GetStringSlice("regions")),
		Concurrency:   viper.GetInt("concurrency"),
		Force:         viper.GetBool("force"),
		SkipPublish:   viper.GetBool("skip-publish"),
		AccountFormat: format,
		Token: tokenapi.Config{
			URL:       viper.GetString("token-url"),
			UserAgent: viper.GetString("user-agent"),
			Timeout:   viper.GetDuration("request-timeout"),
		},
		Retry: pipeline.RetryPolicy{
			Attempts:  viper.GetInt("retries"),
			BaseDelay: viper.GetDuration("retry-base-delay"),
			Increment: viper.GetDuration("retry-increment"),
		},
		Telegram: notify.TelegramConfig{
			BotToken: viper.GetString("telegram-bot-token"),
			ChatID:   viper.GetString("telegram-chat-id"),
			APIURL:   viper.GetString("telegram-api-url"),
			Markdown: true,
		},
		Repo: vcs.Config{
			Branch: viper.GetString("branch"),
			Remote: viper.GetString("remote"),
		},
	}

	layout := tokenstore.DefaultLayout()
	if fallback := viper.GetString("default-output-file"); fallback != "" {
		layout.Fallback = fallback
	}
	c.Layout = layout.WithOverrides(viper.GetStringMapString("output-files"))

	paths := []struct {
		key  string
		dest *string
	}{
		{"state-file", &c.StateFile},
		{"accounts-dir", &c.AccountsDir},
		{"output-dir", &c.OutputDir},
		{"repo-dir", &c.Repo.Dir},
	}
	for _, p := range paths {
		*p.dest, err = homedir.Expand(viper.GetString(p.key))
		if err != nil {
			return nil, fmt.Errorf("invalid %v: %w", p.key, err)
		}
	}

	return c, nil
}

// Validate checks the parts of the config that `run` needs
func (c *Config) Validate() error {
	if c.Concurrency < 0 {
		return errors.New("concurrency must not be negative")
	}
	if c.StateFile == "" {
		return errors.New("state-file must be set")
	}
	if err := c.Token.Validate(); err != nil {
		return err
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if c.Telegram.Enabled() {
		if err := c.Telegram.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Map returns the config as log fields with secrets redacted
func (c *Config) Map() log.Fields {
	botToken := ""
	if c.Telegram.BotToken != "" {
		botToken = redacted
	}
	chatID := ""
	if c.Telegram.ChatID != "" {
		chatID = redacted
	}

	return log.Fields{
		"regions":            c.Regions,
		"concurrency":        c.Concurrency,
		"force":              c.Force,
		"skip-publish":       c.SkipPublish,
		"state-file":         c.StateFile,
		"accounts-dir":       c.AccountsDir,
		"account-format":     c.AccountFormat,
		"output-dir":         c.OutputDir,
		"output-fallback":    c.Layout.Fallback,
		"token-url":          c.Token.URL,
		"user-agent":         c.Token.UserAgent,
		"request-timeout":    c.Token.Timeout.String(),
		"retries":            c.Retry.Attempts,
		"retry-base-delay":   c.Retry.BaseDelay.String(),
		"retry-increment":    c.Retry.Increment.String(),
		"telegram-bot-token": botToken,
		"telegram-chat-id":   chatID,
		"telegram-api-url":   c.Telegram.APIURL,
		"repo-dir":           c.Repo.Dir,
		"branch":             c.Repo.Branch,
		"remote":             c.Repo.Remote,
	}
}

// newNotifier returns the Telegram notifier, or one that only logs when no
// bot is configured
func newNotifier(c *Config) (notify.Notifier, error) {
	if !c.Telegram.Enabled() {
		log.Info("Telegram not configured, notifications will only be logged")
		return notify.Nop{}, nil
	}
	return notify.NewTelegram(c.Telegram)
}

// normaliseRegions upper-cases regions and splits comma separated entries,
// which is how they arrive from an environment variable
func normaliseRegions(regions []string) []string {
	out := make([]string, 0, len(regions))
	for _, entry := range regions {
		for _, r := range strings.Split(entry, ",") {
			r = strings.ToUpper(strings.TrimSpace(r))
			if r != "" {
				out = append(out, r)
			}
		}
	}
	if len(out) == 0 {
		return driver.DefaultRegions
	}
	return out
}

func addFetchFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("regions", driver.DefaultRegions, "Regions to process, in order")
	cmd.Flags().Int("concurrency", 0, "How many accounts of a region are fetched at once, 0 fetches all of them at once")

	cmd.Flags().String("token-url", tokenapi.DefaultURL, "The token endpoint")
	cmd.Flags().String("user-agent", tokenapi.DefaultUserAgent, "User-Agent sent to the token endpoint")
	cmd.Flags().Duration("request-timeout", tokenapi.DefaultTimeout, "Timeout for a single token request")

	policy := pipeline.DefaultRetryPolicy()
	cmd.Flags().Int("retries", policy.Attempts, "How many times a token is requested before the account counts as failed")
	cmd.Flags().Duration("retry-base-delay", policy.BaseDelay, "Delay before the first retry")
	cmd.Flags().Duration("retry-increment", policy.Increment, "How much longer each following retry waits")

	cmd.Flags().String("accounts-dir", ".", "Directory holding the uid_<REGION> account files")
	cmd.Flags().String("account-format", string(accounts.FormatJSON), "Format of the account files, json or csv")
	cmd.Flags().String("output-dir", ".", "Directory the token files are written to")
	cmd.Flags().String("default-output-file", tokenstore.DefaultFallbackFile, "Token file for regions without an entry in `output-files`")
}

func addNotifyFlags(cmd *cobra.Command) {
	cmd.Flags().String("telegram-bot-token", "", "Telegram bot token, also read from TOKENGEN_TELEGRAM_BOT_TOKEN")
	cmd.Flags().String("telegram-chat-id", "", "Telegram chat that progress is reported to, also read from TOKENGEN_TELEGRAM_CHAT_ID")
	cmd.Flags().String("telegram-api-url", notify.DefaultTelegramAPIURL, "Telegram Bot API base URL")
}

func addPublishFlags(cmd *cobra.Command) {
	defaults := vcs.DefaultConfig()
	cmd.Flags().String("repo-dir", defaults.Dir, "Git working copy the token files are committed in")
	cmd.Flags().String("branch", defaults.Branch, "Branch to commit to and push")
	cmd.Flags().String("remote", defaults.Remote, "Remote to push to")
}

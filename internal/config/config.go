package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/martinaparikova/calendar-asistant/internal/model"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

// CalendarConfig describes a single ICS subscription source.
type CalendarConfig struct {
	// Name is the label shown next to events from this calendar.
	Name string `yaml:"name" json:"name"`
	// URL is the secret ICS endpoint (Google "secret address", Outlook
	// published calendar, ...).
	URL string `yaml:"ics_url" json:"ics_url"`
	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEnabled reports whether the calendar takes part in runs.
func (c CalendarConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// SMTPConfig holds outgoing mail settings.
type SMTPConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Server   string   `yaml:"server" json:"server"`
	Port     int      `yaml:"port" json:"port"`
	Username string   `yaml:"username" json:"username"`
	Password string   `yaml:"password" json:"-"`
	From     string   `yaml:"from" json:"from"`
	To       []string `yaml:"to" json:"to"`
	UseTLS   *bool    `yaml:"use_tls,omitempty" json:"use_tls,omitempty"`
}

// StartTLS defaults to true.
func (s SMTPConfig) StartTLS() bool {
	return s.UseTLS == nil || *s.UseTLS
}

// SlackConfig is an incoming-webhook integration.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	WebhookURL string `yaml:"webhook_url" json:"-"`
}

// SlackBotConfig posts through chat.postMessage with a bot token.
type SlackBotConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Token     string `yaml:"token" json:"-"`
	ChannelID string `yaml:"channel_id" json:"channel_id"`
}

// DiscordConfig posts through a channel webhook.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	WebhookURL string `yaml:"webhook_url" json:"-"`
}

// HistoryConfig points at the sqlite run ledger. Empty Path disables it.
type HistoryConfig struct {
	Path string `yaml:"path" json:"path"`
}

// ScheduleConfig holds cron expressions for serve mode.
type ScheduleConfig struct {
	Daily  string `yaml:"daily" json:"daily"`
	Weekly string `yaml:"weekly" json:"weekly"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the HTTP endpoints.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Timezone is the IANA zone every event is normalized into.
	Timezone string `yaml:"time_zone" json:"time_zone"`

	// WeekStart is the first day of the weekly window ("monday".."sunday").
	WeekStart string `yaml:"week_start" json:"week_start"`

	// DailyOffsetDays shifts the daily window: 0 = today, 1 = tomorrow.
	DailyOffsetDays int `yaml:"daily_offset_days" json:"daily_offset_days"`
	// WeeklyOffsetWeeks shifts the weekly window: 0 = current week, 1 = next.
	WeeklyOffsetWeeks int `yaml:"weekly_offset_weeks" json:"weekly_offset_weeks"`

	FetchTimeout   time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
	RunTimeout     time.Duration `yaml:"run_timeout" json:"run_timeout"`
	Retries        *int          `yaml:"retries,omitempty" json:"retries,omitempty"`
	MaxConcurrency int           `yaml:"max_concurrency" json:"max_concurrency"`

	// CacheDir enables HTTP conditional requests backed by an on-disk cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// ExpandRecurrences turns RRULE/EXDATE/RECURRENCE-ID expansion on.
	ExpandRecurrences bool `yaml:"expand_recurrences" json:"expand_recurrences"`

	// DryRun renders output files instead of sending anything.
	DryRun    bool   `yaml:"dry_run" json:"dry_run"`
	OutputDir string `yaml:"output_dir" json:"output_dir"`

	IntroDaily  string `yaml:"intro_text_daily" json:"intro_text_daily"`
	IntroWeekly string `yaml:"intro_text_weekly" json:"intro_text_weekly"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Calendars []CalendarConfig `yaml:"calendars" json:"calendars"`

	SMTP     SMTPConfig     `yaml:"smtp" json:"smtp"`
	Slack    SlackConfig    `yaml:"slack" json:"slack"`
	SlackBot SlackBotConfig `yaml:"slack_bot" json:"slack_bot"`
	Discord  DiscordConfig  `yaml:"discord" json:"discord"`
	History  HistoryConfig  `yaml:"history" json:"history"`

	// Listen and Schedule are only used by serve mode.
	Listen    string           `yaml:"listen" json:"listen"`
	Schedule  ScheduleConfig   `yaml:"schedule" json:"schedule"`
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultTimezone       = "Europe/Prague"
	defaultWeekStart      = "monday"
	defaultFetchTimeout   = 30 * time.Second
	defaultRunTimeout     = 2 * time.Minute
	defaultRetries        = 1
	defaultMaxConcurrency = 4
	defaultSMTPServer     = "smtp.gmail.com"
	defaultSMTPPort       = 587
	defaultListen         = "127.0.0.1:8080"
	defaultDailyCron      = "0 18 * * *"
	defaultWeeklyCron     = "0 18 * * 0"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	retries := defaultRetries
	return &Config{
		Timezone:       defaultTimezone,
		WeekStart:      defaultWeekStart,
		FetchTimeout:   defaultFetchTimeout,
		RunTimeout:     defaultRunTimeout,
		Retries:        &retries,
		MaxConcurrency: defaultMaxConcurrency,
		OutputDir:      ".",
		LogLevel:       "info",
		Calendars:      []CalendarConfig{},
		SMTP: SMTPConfig{
			Server: defaultSMTPServer,
			Port:   defaultSMTPPort,
		},
		Listen: defaultListen,
		Schedule: ScheduleConfig{
			Daily:  defaultDailyCron,
			Weekly: defaultWeeklyCron,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	c.WeekStart = strings.ToLower(strings.TrimSpace(c.WeekStart))
	if _, ok := weekdays[c.WeekStart]; !ok {
		// Unknown value; fall back to monday to avoid surprising windows.
		c.WeekStart = defaultWeekStart
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaultRunTimeout
	}
	if c.Retries == nil || *c.Retries < 0 {
		r := defaultRetries
		c.Retries = &r
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = defaultMaxConcurrency
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Calendars == nil {
		c.Calendars = []CalendarConfig{}
	}
	if c.SMTP.Server == "" {
		c.SMTP.Server = defaultSMTPServer
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = defaultSMTPPort
	}
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Schedule.Daily == "" {
		c.Schedule.Daily = defaultDailyCron
	}
	if c.Schedule.Weekly == "" {
		c.Schedule.Weekly = defaultWeeklyCron
	}
}

// ApplyEnv overrides secrets from the environment (after loading an optional
// .env file), so that tokens do not have to live in the YAML file.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load()

	setIfEnv(&c.SMTP.Username, "CALSUMMARY_SMTP_USERNAME")
	setIfEnv(&c.SMTP.Password, "CALSUMMARY_SMTP_PASSWORD")
	setIfEnv(&c.Slack.WebhookURL, "CALSUMMARY_SLACK_WEBHOOK_URL")
	setIfEnv(&c.SlackBot.Token, "CALSUMMARY_SLACK_BOT_TOKEN")
	setIfEnv(&c.Discord.WebhookURL, "CALSUMMARY_DISCORD_WEBHOOK_URL")
	setIfEnv(&c.Timezone, "CALSUMMARY_TIME_ZONE")
}

func setIfEnv(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

// Validate reports configuration problems that make a run impossible.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("time_zone %q: %w", c.Timezone, err))
	}
	names := make(map[string]struct{}, len(c.Calendars))
	for i, cal := range c.Calendars {
		if cal.Name == "" {
			errs = append(errs, fmt.Errorf("calendars[%d]: name is empty", i))
		}
		if cal.URL == "" {
			errs = append(errs, fmt.Errorf("calendars[%d] %q: ics_url is empty", i, cal.Name))
		}
		if _, dup := names[cal.Name]; dup && cal.Name != "" {
			errs = append(errs, fmt.Errorf("calendars[%d]: duplicate name %q", i, cal.Name))
		}
		names[cal.Name] = struct{}{}
	}
	if c.SMTP.Enabled {
		if c.SMTP.From == "" || len(c.SMTP.To) == 0 {
			errs = append(errs, errors.New("smtp: from and to are required"))
		}
	}
	if c.SlackBot.Enabled && (c.SlackBot.Token == "" || c.SlackBot.ChannelID == "") {
		errs = append(errs, errors.New("slack_bot: token and channel_id are required"))
	}
	return errors.Join(errs...)
}

// Location resolves the configured zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// WeekStartDay returns the configured first day of the week.
func (c *Config) WeekStartDay() time.Weekday {
	if d, ok := weekdays[c.WeekStart]; ok {
		return d
	}
	return time.Monday
}

// Sources converts the calendar list into pipeline sources. Index keeps the
// configured order, including disabled entries, so that positions stay
// stable when a calendar is toggled.
func (c *Config) Sources() []model.CalendarSource {
	out := make([]model.CalendarSource, 0, len(c.Calendars))
	for i, cal := range c.Calendars {
		out = append(out, model.CalendarSource{
			Name:    cal.Name,
			URL:     cal.URL,
			Enabled: cal.IsEnabled(),
			Index:   i,
		})
	}
	return out
}

// RetryCount returns the number of re-attempts after a failed fetch.
func (c *Config) RetryCount() int {
	if c.Retries == nil {
		return defaultRetries
	}
	return *c.Retries
}

var weekdays = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600 (the file holds secrets).
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calsummary-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

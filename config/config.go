// Package config loads taskbot settings from a TOML file with
// TASKBOT_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the whole taskbot configuration.
type Config struct {
	Bot       BotConfig       `toml:"bot"`
	Store     StoreConfig     `toml:"store"`
	NATS      NATSConfig      `toml:"nats"`
	Chat      ChatConfig      `toml:"chat"`
	Reminders RemindersConfig `toml:"reminders"`
	Digest    DigestConfig    `toml:"digest"`
	Delivery  DeliveryConfig  `toml:"delivery"`
	HTTP      HTTPConfig      `toml:"http"`
	Calendar  CalendarConfig  `toml:"calendar"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Log       LogConfig       `toml:"log"`
}

// BotConfig holds domain-wide settings.
type BotConfig struct {
	// Timezone is an IANA zone name. Deadlines, reminders and the digest
	// day are interpreted in it.
	Timezone string `toml:"timezone"`

	// DefaultDeadline is the HH:MM used when a task is created without one.
	DefaultDeadline string `toml:"default_deadline"`
}

// StoreConfig selects the durable backend.
type StoreConfig struct {
	Backend string `toml:"backend"` // memory | file | sqlite | nats
	Path    string `toml:"path"`    // directory for file, database file for sqlite
	Bucket  string `toml:"bucket"`  // KV bucket for nats
}

// NATSConfig is the connection used by the bus and the nats store.
type NATSConfig struct {
	URL      string `toml:"url"`
	Name     string `toml:"name"`
	Token    string `toml:"token"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

// ChatConfig selects how outbound messages leave the process.
type ChatConfig struct {
	Transport   string        `toml:"transport"` // bus | log
	SendTimeout time.Duration `toml:"send_timeout"`
}

type RemindersConfig struct {
	Interval time.Duration `toml:"interval"`
	CatchUp  time.Duration `toml:"catch_up"`
}

type DigestConfig struct {
	Enabled bool          `toml:"enabled"`
	Time    string        `toml:"time"`
	Window  time.Duration `toml:"window"`
}

// DeliveryConfig tunes retries and per-address pacing.
type DeliveryConfig struct {
	MaxRetries int           `toml:"max_retries"`
	RetryAfter time.Duration `toml:"retry_after"`
	RateLimit  int           `toml:"rate_limit"` // messages per address per RateWindow, 0 disables pacing
	RateWindow time.Duration `toml:"rate_window"`
}

type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// CalendarConfig enables mirroring deadlines to Google Calendar.
type CalendarConfig struct {
	Enabled         bool   `toml:"enabled"`
	CredentialsFile string `toml:"credentials_file"`
	CalendarID      string `toml:"calendar_id"`
}

type TelemetryConfig struct {
	Endpoint    string `toml:"endpoint"`
	Protocol    string `toml:"protocol"` // http | grpc
	Insecure    bool   `toml:"insecure"`
	ServiceName string `toml:"service_name"`

	// Events exports task lifecycle events: http | file | noop.
	EventsProtocol string `toml:"events_protocol"`
	EventsEndpoint string `toml:"events_endpoint"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns a configuration that runs locally without any
// external service.
func Default() *Config {
	return &Config{
		Bot: BotConfig{
			Timezone:        "Local",
			DefaultDeadline: "18:00",
		},
		Store: StoreConfig{
			Backend: "file",
			Path:    "data",
			Bucket:  "taskbot",
		},
		NATS: NATSConfig{
			URL:  "nats://127.0.0.1:4222",
			Name: "taskbot",
		},
		Chat: ChatConfig{
			Transport:   "log",
			SendTimeout: 10 * time.Second,
		},
		Reminders: RemindersConfig{
			Interval: time.Minute,
			CatchUp:  60 * time.Minute,
		},
		Digest: DigestConfig{
			Enabled: true,
			Time:    "18:00",
			Window:  60 * time.Minute,
		},
		Delivery: DeliveryConfig{
			MaxRetries: 3,
			RetryAfter: 5 * time.Second,
			RateLimit:  20,
			RateWindow: time.Minute,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		Telemetry: TelemetryConfig{
			Protocol:       "http",
			ServiceName:    "taskbot",
			EventsProtocol: "noop",
		},
		Log: LogConfig{Level: "info"},
	}
}

// StandardPaths returns the config file locations in order of priority.
func StandardPaths() []string {
	paths := []string{"taskbot.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "taskbot", "config.toml"))
	}
	return paths
}

// Load reads path, or the first standard location when path is empty,
// then applies environment overrides. A missing standard file is not an
// error; a missing explicit path is.
func Load(path string) (*Config, string, error) {
	cfg := Default()

	if path == "" {
		for _, p := range StandardPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, path, fmt.Errorf("config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, path, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// Parse decodes TOML text over the defaults. Used by tests and for
// inline configuration.
func Parse(text string) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(text, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from TASKBOT_<SECTION>_<KEY> variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"TASKBOT_BOT_TIMEZONE":              &c.Bot.Timezone,
		"TASKBOT_BOT_DEFAULT_DEADLINE":      &c.Bot.DefaultDeadline,
		"TASKBOT_STORE_BACKEND":             &c.Store.Backend,
		"TASKBOT_STORE_PATH":                &c.Store.Path,
		"TASKBOT_STORE_BUCKET":              &c.Store.Bucket,
		"TASKBOT_NATS_URL":                  &c.NATS.URL,
		"TASKBOT_NATS_TOKEN":                &c.NATS.Token,
		"TASKBOT_NATS_USER":                 &c.NATS.User,
		"TASKBOT_NATS_PASSWORD":             &c.NATS.Password,
		"TASKBOT_CHAT_TRANSPORT":            &c.Chat.Transport,
		"TASKBOT_DIGEST_TIME":               &c.Digest.Time,
		"TASKBOT_HTTP_ADDR":                 &c.HTTP.Addr,
		"TASKBOT_CALENDAR_CREDENTIALS_FILE": &c.Calendar.CredentialsFile,
		"TASKBOT_CALENDAR_ID":               &c.Calendar.CalendarID,
		"TASKBOT_TELEMETRY_ENDPOINT":        &c.Telemetry.Endpoint,
		"TASKBOT_TELEMETRY_PROTOCOL":        &c.Telemetry.Protocol,
		"TASKBOT_EVENTS_PROTOCOL":           &c.Telemetry.EventsProtocol,
		"TASKBOT_EVENTS_ENDPOINT":           &c.Telemetry.EventsEndpoint,
		"TASKBOT_LOG_LEVEL":                 &c.Log.Level,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"TASKBOT_DIGEST_ENABLED":     &c.Digest.Enabled,
		"TASKBOT_HTTP_ENABLED":       &c.HTTP.Enabled,
		"TASKBOT_CALENDAR_ENABLED":   &c.Calendar.Enabled,
		"TASKBOT_TELEMETRY_INSECURE": &c.Telemetry.Insecure,
	}
	for key, dst := range bools {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}

	durations := map[string]*time.Duration{
		"TASKBOT_REMINDERS_INTERVAL": &c.Reminders.Interval,
		"TASKBOT_REMINDERS_CATCH_UP": &c.Reminders.CatchUp,
		"TASKBOT_DIGEST_WINDOW":      &c.Digest.Window,
		"TASKBOT_CHAT_SEND_TIMEOUT":  &c.Chat.SendTimeout,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	if v, ok := lookup("TASKBOT_DELIVERY_RATE_LIMIT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TASKBOT_DELIVERY_RATE_LIMIT: %w", err)
		}
		c.Delivery.RateLimit = n
	}
	return nil
}

// Validate checks values that would otherwise fail late at startup.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if _, err := c.Location(); err != nil {
		add("bot.timezone: %v", err)
	}
	if _, _, err := ParseClock(c.Bot.DefaultDeadline); err != nil {
		add("bot.default_deadline: %v", err)
	}
	switch c.Store.Backend {
	case "memory":
	case "file", "sqlite":
		if c.Store.Path == "" {
			add("store.path is required for the %s backend", c.Store.Backend)
		}
	case "nats":
		if c.NATS.URL == "" {
			add("nats.url is required for the nats backend")
		}
	default:
		add("store.backend must be memory, file, sqlite or nats, got %q", c.Store.Backend)
	}
	switch c.Chat.Transport {
	case "log":
	case "bus":
		if c.NATS.URL == "" {
			add("nats.url is required for the bus transport")
		}
	default:
		add("chat.transport must be bus or log, got %q", c.Chat.Transport)
	}
	if c.Reminders.Interval <= 0 {
		add("reminders.interval must be positive")
	}
	if c.Reminders.CatchUp <= 0 {
		add("reminders.catch_up must be positive")
	}
	if c.Digest.Enabled {
		if _, _, err := ParseClock(c.Digest.Time); err != nil {
			add("digest.time: %v", err)
		}
		if c.Digest.Window <= 0 {
			add("digest.window must be positive")
		}
	}
	if c.Delivery.MaxRetries < 0 {
		add("delivery.max_retries must not be negative")
	}
	if c.Delivery.RateLimit > 0 && c.Delivery.RateWindow <= 0 {
		add("delivery.rate_window must be positive when rate_limit is set")
	}
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		add("http.addr is required when http is enabled")
	}
	if c.Calendar.Enabled && (c.Calendar.CredentialsFile == "" || c.Calendar.CalendarID == "") {
		add("calendar.credentials_file and calendar.calendar_id are required when calendar is enabled")
	}
	switch c.Telemetry.EventsProtocol {
	case "", "noop", "file", "http":
	default:
		add("telemetry.events_protocol must be http, file or noop, got %q", c.Telemetry.EventsProtocol)
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

// Location resolves Bot.Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Bot.Timezone == "" || c.Bot.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Bot.Timezone)
}

// ParseClock reads an HH:MM time of day.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	return t.Hour(), t.Minute(), nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cartbroker/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App                AppConfig       `yaml:"app"`
	Telegram           TelegramConfig  `yaml:"telegram"`
	Google             GoogleConfig    `yaml:"google"`
	Redis              RedisConfig     `yaml:"redis"`
	Database           DatabaseConfig  `yaml:"database"`
	Logging            LoggingConfig   `yaml:"logging"`
	Booking            BookingConfig   `yaml:"booking"`
	Scheduler          SchedulerConfig `yaml:"scheduler"`
	Cache              CacheConfig     `yaml:"cache"`
	Retry              RetryConfig     `yaml:"retry"`
	Bot                BotConfig       `yaml:"bot"`
	API                APIConfig       `yaml:"api"`
	Admins             []string        `yaml:"admins"`
	Seed               SeedConfig      `yaml:"seed"`
	SelfRegistration   bool            `yaml:"self_registration"`
	NotificationChatID int64           `yaml:"notification_chat_id"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	Debug    bool   `yaml:"debug"`
}

// GoogleConfig описывает таблицу-источник. Пустой spreadsheet_id включает
// встроенное хранилище в памяти.
type GoogleConfig struct {
	CredentialsFile string        `yaml:"credentials_file"`
	SpreadsheetID   string        `yaml:"spreadsheet_id"`
	Sheets          SheetTitles   `yaml:"sheets"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

type SheetTitles struct {
	Users        string `yaml:"users"`
	Reservations string `yaml:"reservations"`
	Carts        string `yaml:"carts"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type BookingConfig struct {
	Timezone    string        `yaml:"timezone"`
	Step        time.Duration `yaml:"step"`
	MinDuration time.Duration `yaml:"min_duration"`
	MaxDuration time.Duration `yaml:"max_duration"`
	PastGrace   time.Duration `yaml:"past_grace"`
}

type SchedulerConfig struct {
	Tick           time.Duration `yaml:"tick"`
	Reminders      time.Duration `yaml:"reminders"`
	PendingSweep   time.Duration `yaml:"pending_sweep"`
	Refresh        time.Duration `yaml:"refresh"`
	FullRefresh    time.Duration `yaml:"full_refresh"`
	SessionSweep   time.Duration `yaml:"session_sweep"`
	Outbox         time.Duration `yaml:"outbox"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

type CacheConfig struct {
	TTL     time.Duration `yaml:"ttl"`
	SlotTTL time.Duration `yaml:"slot_ttl"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialDelay   time.Duration `yaml:"initial_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	BackoffFactor  float64       `yaml:"backoff_factor"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

type BotConfig struct {
	RateLimitMessages int           `yaml:"rate_limit_messages"`
	RateLimitWindow   int           `yaml:"rate_limit_window"`
	UpdateTimeout     time.Duration `yaml:"update_timeout"`
}

type SeedConfig struct {
	Carts []SeedCart `yaml:"carts"`
	Users []string   `yaml:"users"`
}

type SeedCart struct {
	Name     string `yaml:"name"`
	LockCode string `yaml:"lock_code"`
	Active   *bool  `yaml:"active"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Location resolves booking.timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Booking.Timezone)
}

func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" || c.Telegram.BotToken == "YOUR_BOT_TOKEN_HERE" {
		return errors.New("telegram bot token is required")
	}

	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Google.SpreadsheetID != "" && c.Google.CredentialsFile == "" {
		return errors.New("google.credentials_file is required when spreadsheet_id is set")
	}

	titles := map[string]bool{}
	for _, title := range []string{c.Google.Sheets.Users, c.Google.Sheets.Reservations, c.Google.Sheets.Carts} {
		if titles[title] {
			return fmt.Errorf("duplicate sheet title %q", title)
		}
		titles[title] = true
	}

	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid booking timezone %q: %w", c.Booking.Timezone, err)
	}

	if err := c.validateBooking(); err != nil {
		return err
	}

	if c.API.Enabled && c.API.Auth.Enabled && len(c.API.Auth.APIKeys) == 0 {
		return errors.New("api.auth enabled without api_keys")
	}

	return ValidateSeed(c.Seed)
}

func (c *Config) validateBooking() error {
	b := c.Booking
	if b.Step <= 0 || time.Hour%b.Step != 0 {
		return fmt.Errorf("booking.step %s must divide one hour", b.Step)
	}
	if b.MinDuration < b.Step {
		return fmt.Errorf("booking.min_duration %s is shorter than step", b.MinDuration)
	}
	if b.MaxDuration < b.MinDuration {
		return fmt.Errorf("booking.max_duration %s is shorter than min_duration", b.MaxDuration)
	}
	if b.PastGrace < 0 {
		return errors.New("booking.past_grace must not be negative")
	}
	return nil
}

// ValidateSeed checks the carts and users used to populate the in-memory store.
func ValidateSeed(seed SeedConfig) error {
	names := make(map[string]bool)
	for _, cart := range seed.Carts {
		if strings.TrimSpace(cart.Name) == "" {
			return errors.New("seed cart with empty name")
		}
		key := strings.ToLower(strings.TrimSpace(cart.Name))
		if names[key] {
			return fmt.Errorf("duplicate seed cart: %s", cart.Name)
		}
		names[key] = true
		if !models.ValidLockCode(cart.LockCode) {
			return fmt.Errorf("seed cart %s has invalid lock code", cart.Name)
		}
	}

	handles := make(map[string]bool)
	for _, handle := range seed.Users {
		key := models.NormalizeHandle(handle)
		if key == "" {
			return errors.New("seed user with empty handle")
		}
		if handles[key] {
			return fmt.Errorf("duplicate seed user: %s", handle)
		}
		handles[key] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "cartbroker"
	}

	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	if c.Google.Sheets.Users == "" {
		c.Google.Sheets.Users = "Users"
	}
	if c.Google.Sheets.Reservations == "" {
		c.Google.Sheets.Reservations = "Reservations"
	}
	if c.Google.Sheets.Carts == "" {
		c.Google.Sheets.Carts = "Carts"
	}
	if c.Google.RequestTimeout == 0 {
		c.Google.RequestTimeout = 20 * time.Second
	}

	// Booking defaults
	if c.Booking.Timezone == "" {
		c.Booking.Timezone = models.DefaultTimezone
	}
	if c.Booking.Step == 0 {
		c.Booking.Step = models.DefaultSlotStep
	}
	if c.Booking.MinDuration == 0 {
		c.Booking.MinDuration = models.MinReservation
	}
	if c.Booking.MaxDuration == 0 {
		c.Booking.MaxDuration = models.MaxReservation
	}
	if c.Booking.PastGrace == 0 {
		c.Booking.PastGrace = models.PastStartGrace
	}

	// Scheduler defaults
	s := &c.Scheduler
	setDuration(&s.Tick, time.Minute)
	setDuration(&s.Reminders, time.Minute)
	setDuration(&s.PendingSweep, 2*time.Minute)
	setDuration(&s.Refresh, 30*time.Minute)
	setDuration(&s.FullRefresh, 4*time.Hour)
	setDuration(&s.SessionSweep, 30*time.Minute)
	setDuration(&s.Outbox, time.Minute)
	setDuration(&s.SessionTimeout, models.SessionTimeout)

	setDuration(&c.Cache.TTL, models.SnapshotTTL)
	setDuration(&c.Cache.SlotTTL, models.SlotCacheTTL)

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 5
	}
	setDuration(&c.Retry.InitialDelay, 500*time.Millisecond)
	setDuration(&c.Retry.MaxDelay, 8*time.Second)
	if c.Retry.BackoffFactor == 0 {
		c.Retry.BackoffFactor = 2
	}
	setDuration(&c.Retry.AttemptTimeout, 15*time.Second)

	// Bot defaults
	if c.Bot.RateLimitMessages == 0 {
		c.Bot.RateLimitMessages = models.RateLimitMessages
	}
	if c.Bot.RateLimitWindow == 0 {
		c.Bot.RateLimitWindow = models.RateLimitWindow
	}
	setDuration(&c.Bot.UpdateTimeout, 30*time.Second)

	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d == 0 {
		*d = def
	}
}

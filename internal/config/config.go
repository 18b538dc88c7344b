package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"web_relay/internal/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	tokenPlaceholder  = "PASTE_YOUR_NEW_BOT_TOKEN_HERE"
	chatIDPlaceholder = "PASTE_NUMERIC_CHAT_ID_HERE"
)

var (
	ErrMissingToken  = errors.New("telegram.bot_token is not set (env TG_BOT_TOKEN)")
	ErrMissingChatID = errors.New("telegram.chat_id is not set (env TARGET_CHAT_ID)")
)

type TelegramConfig struct {
	BotToken    string `yaml:"bot_token"`
	ChatID      string `yaml:"chat_id"`
	APIEndpoint string `yaml:"api_endpoint"`
}

type CrawlConfig struct {
	StartURLs        []string `yaml:"start_urls"`
	WantedSuffixes   []string `yaml:"wanted_suffixes"`
	VideoSuffixes    []string `yaml:"video_suffixes"`
	MaxPagesPerSite  int      `yaml:"max_pages_per_site"`
	RequestTimeout   Duration `yaml:"request_timeout"`
	UserAgent        string   `yaml:"user_agent"`
	FetchConcurrency int      `yaml:"fetch_concurrency"`
}

type ScheduleConfig struct {
	PollInterval Duration `yaml:"poll_interval"`
	RunOnce      bool     `yaml:"run_once"`
}

type StorageConfig struct {
	DownloadDir string `yaml:"download_dir"`
}

type MongoConfig struct {
	Connection string `yaml:"connection"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type LedgerConfig struct {
	Backend string      `yaml:"backend"`
	Path    string      `yaml:"path"`
	Mongo   MongoConfig `yaml:"mongo"`
}

type RelayConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Crawl    CrawlConfig    `yaml:"crawl"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Storage  StorageConfig  `yaml:"storage"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Logging  logger.Config  `yaml:"logging"`
}

func Default() RelayConfig {
	return RelayConfig{
		Crawl: CrawlConfig{
			WantedSuffixes:   []string{".mp4", ".pdf"},
			VideoSuffixes:    []string{".mp4"},
			MaxPagesPerSite:  500,
			RequestTimeout:   DurationFrom(25 * time.Second),
			UserAgent:        "Mozilla/5.0 (uploader-bot)",
			FetchConcurrency: 1,
		},
		Schedule: ScheduleConfig{
			PollInterval: DurationFrom(time.Hour),
		},
		Storage: StorageConfig{
			DownloadDir: "downloads",
		},
		Ledger: LedgerConfig{
			Backend: "json",
			Path:    "sent_files.json",
			Mongo: MongoConfig{
				Database:   "web_relay",
				Collection: "delivered",
			},
		},
		Logging: logger.Config{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// LoadConfig builds the configuration from defaults, the YAML file at path
// (skipped when path is empty), a .env file if present, and the process
// environment, in that order of precedence.
func LoadConfig(path string) (*RelayConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	_ = godotenv.Load()

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.normalise()
	return &cfg, nil
}

// ApplyEnv overlays the environment variables understood by the relay.
func (c *RelayConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("TG_BOT_TOKEN"); ok {
		c.Telegram.BotToken = v
	}
	if v, ok := lookup("TARGET_CHAT_ID"); ok {
		c.Telegram.ChatID = v
	}
	if v, ok := lookup("START_URLS"); ok {
		c.Crawl.StartURLs = splitList(v)
	}
	if v, ok := lookup("WANTED_EXTS"); ok {
		c.Crawl.WantedSuffixes = splitList(v)
	}
	if v, ok := lookup("MAX_PAGES_PER_SITE"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("MAX_PAGES_PER_SITE: %w", err)
		}
		c.Crawl.MaxPagesPerSite = n
	}
	if v, ok := lookup("REQUEST_TIMEOUT"); ok {
		if err := c.Crawl.RequestTimeout.parse(v); err != nil {
			return fmt.Errorf("REQUEST_TIMEOUT: %w", err)
		}
	}
	if v, ok := lookup("POLL_INTERVAL"); ok {
		if err := c.Schedule.PollInterval.parse(v); err != nil {
			return fmt.Errorf("POLL_INTERVAL: %w", err)
		}
	}
	if v, ok := lookup("RUN_ONCE"); ok {
		c.Schedule.RunOnce = strings.TrimSpace(v) == "1" || strings.EqualFold(strings.TrimSpace(v), "true")
	}
	if v, ok := lookup("DOWNLOAD_DIR"); ok {
		c.Storage.DownloadDir = v
	}
	if v, ok := lookup("SENT_DB_PATH"); ok {
		c.Ledger.Path = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	return nil
}

func (c *RelayConfig) normalise() {
	c.Telegram.BotToken = strings.TrimSpace(c.Telegram.BotToken)
	c.Telegram.ChatID = strings.TrimSpace(c.Telegram.ChatID)
	c.Telegram.APIEndpoint = strings.TrimSpace(c.Telegram.APIEndpoint)

	urls := make([]string, 0, len(c.Crawl.StartURLs))
	for _, u := range c.Crawl.StartURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	c.Crawl.StartURLs = urls
	c.Crawl.WantedSuffixes = normaliseSuffixes(c.Crawl.WantedSuffixes)
	c.Crawl.VideoSuffixes = normaliseSuffixes(c.Crawl.VideoSuffixes)
	c.Crawl.UserAgent = strings.TrimSpace(c.Crawl.UserAgent)
	if c.Crawl.FetchConcurrency <= 0 {
		c.Crawl.FetchConcurrency = 1
	}

	c.Storage.DownloadDir = strings.TrimSpace(c.Storage.DownloadDir)
	c.Ledger.Backend = strings.ToLower(strings.TrimSpace(c.Ledger.Backend))
	c.Ledger.Path = strings.TrimSpace(c.Ledger.Path)
}

// ValidateToken checks only the bot credential; enough for commands that
// talk to Telegram without delivering anything.
func (t TelegramConfig) ValidateToken() error {
	if t.BotToken == "" || strings.Contains(t.BotToken, tokenPlaceholder) {
		return ErrMissingToken
	}
	return nil
}

func (t TelegramConfig) validateChatID() error {
	if t.ChatID == "" || strings.Contains(t.ChatID, chatIDPlaceholder) {
		return ErrMissingChatID
	}
	if strings.HasPrefix(t.ChatID, "@") {
		return nil
	}
	if _, err := strconv.ParseInt(t.ChatID, 10, 64); err != nil {
		return fmt.Errorf("telegram.chat_id %q must be a numeric id or @channel", t.ChatID)
	}
	return nil
}

// Validate collects every configuration problem into one error.
func (c RelayConfig) Validate() error {
	var errs []error

	if err := c.Telegram.ValidateToken(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Telegram.validateChatID(); err != nil {
		errs = append(errs, err)
	}

	if len(c.Crawl.StartURLs) == 0 {
		errs = append(errs, errors.New("crawl.start_urls must contain at least one url"))
	}
	for _, raw := range c.Crawl.StartURLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("crawl.start_urls: %q is not an absolute http(s) url", raw))
		}
	}
	if len(c.Crawl.WantedSuffixes) == 0 {
		errs = append(errs, errors.New("crawl.wanted_suffixes must not be empty"))
	}
	if c.Crawl.MaxPagesPerSite <= 0 {
		errs = append(errs, fmt.Errorf("crawl.max_pages_per_site must be > 0 (got %d)", c.Crawl.MaxPagesPerSite))
	}
	if c.Crawl.RequestTimeout.Duration <= 0 {
		errs = append(errs, errors.New("crawl.request_timeout must be > 0"))
	}
	if !c.Schedule.RunOnce && c.Schedule.PollInterval.Duration <= 0 {
		errs = append(errs, errors.New("schedule.poll_interval must be > 0 unless run_once is set"))
	}
	if c.Storage.DownloadDir == "" {
		errs = append(errs, errors.New("storage.download_dir must be set"))
	}

	switch c.Ledger.Backend {
	case "json":
		if c.Ledger.Path == "" {
			errs = append(errs, errors.New("ledger.path must be set for the json backend"))
		}
	case "mongo":
		if c.Ledger.Mongo.Connection == "" || c.Ledger.Mongo.Database == "" || c.Ledger.Mongo.Collection == "" {
			errs = append(errs, errors.New("ledger.mongo connection, database and collection must be set"))
		}
	default:
		errs = append(errs, fmt.Errorf("ledger.backend %q is not one of json, mongo", c.Ledger.Backend))
	}

	return errors.Join(errs...)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normaliseSuffixes lowercases, adds a leading dot and drops duplicates,
// keeping the configured order.
func normaliseSuffixes(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if !strings.HasPrefix(v, ".") {
			v = "." + v
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultBaseURL   = "https://www.udemy.com"
	defaultLoginURL  = "https://www.udemy.com/join/login-popup/?locale=en_US&response_type=html&next=https%3A%2F%2Fwww.udemy.com%2F"
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

type Config struct {
	Platform PlatformConfig `toml:"platform"`
	Auth     AuthConfig     `toml:"auth"`
	Crawl    CrawlConfig    `toml:"crawl"`
	Logging  LoggingConfig  `toml:"logging"`
	SFTP     SFTPConfig     `toml:"sftp"`
}

type PlatformConfig struct {
	BaseURL           string  `toml:"base_url"`
	UserAgent         string  `toml:"user_agent"`
	AcceptLanguage    string  `toml:"accept_language"`
	PageSize          int     `toml:"page_size"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

type AuthConfig struct {
	LoginURL         string   `toml:"login_url"`
	BrowserEmulation bool     `toml:"browser_emulation"`
	Headless         bool     `toml:"headless"`
	Token            string   `toml:"token"` // pre-captured bearer/cookie string; skips the browser
	Timeout          Duration `toml:"timeout"`
	PollInterval     Duration `toml:"poll_interval"`
	SettleDelay      Duration `toml:"settle_delay"`
}

type CrawlConfig struct {
	OutputDir      string   `toml:"output_dir"`
	Workers        int      `toml:"workers"`
	Courses        []string `toml:"courses"` // ids or slugs; empty = all
	ExportManifest bool     `toml:"export_manifest"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "console" or "json"
}

type SFTPConfig struct {
	Enabled               bool   `toml:"enabled"`
	Host                  string `toml:"host"`
	Port                  int    `toml:"port"`
	User                  string `toml:"user"`
	Pass                  string `toml:"pass"`
	RemoteDir             string `toml:"remote_dir"`
	InsecureIgnoreHostKey bool   `toml:"insecure_ignore_host_key"`
	KnownHostsFile        string `toml:"known_hosts"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Platform: PlatformConfig{
			BaseURL:           defaultBaseURL,
			UserAgent:         defaultUserAgent,
			AcceptLanguage:    "en-US,en;q=0.9",
			PageSize:          100,
			RequestsPerSecond: 5,
		},
		Auth: AuthConfig{
			LoginURL:         defaultLoginURL,
			BrowserEmulation: true,
			Timeout:          Duration(5 * time.Minute),
			PollInterval:     Duration(time.Second),
			SettleDelay:      Duration(4 * time.Second),
		},
		Crawl: CrawlConfig{
			OutputDir:      "downloads",
			Workers:        4,
			ExportManifest: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		SFTP: SFTPConfig{
			Port:                  22,
			RemoteDir:             "/courses",
			InsecureIgnoreHostKey: true,
		},
	}
}

// Load reads the optional TOML file named by path (or HARVEST_CONFIG when
// path is empty) over the defaults, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("HARVEST_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	p := &cfg.Platform
	p.BaseURL = getenv("HARVEST_BASE_URL", p.BaseURL)
	p.UserAgent = getenv("HARVEST_USER_AGENT", p.UserAgent)
	p.AcceptLanguage = getenv("HARVEST_ACCEPT_LANGUAGE", p.AcceptLanguage)
	p.PageSize = getenvInt("HARVEST_PAGE_SIZE", p.PageSize)
	p.RequestsPerSecond = getenvFloat("HARVEST_REQUESTS_PER_SECOND", p.RequestsPerSecond)

	a := &cfg.Auth
	a.LoginURL = getenv("HARVEST_LOGIN_URL", a.LoginURL)
	a.BrowserEmulation = getenvBool("HARVEST_BROWSER_EMULATION", a.BrowserEmulation)
	a.Headless = getenvBool("HARVEST_HEADLESS", a.Headless)
	a.Token = getenv("HARVEST_TOKEN", a.Token)
	a.Timeout = getenvDuration("HARVEST_AUTH_TIMEOUT", a.Timeout)
	a.PollInterval = getenvDuration("HARVEST_AUTH_POLL_INTERVAL", a.PollInterval)
	a.SettleDelay = getenvDuration("HARVEST_AUTH_SETTLE_DELAY", a.SettleDelay)

	c := &cfg.Crawl
	c.OutputDir = getenv("HARVEST_OUTPUT_DIR", c.OutputDir)
	c.Workers = getenvInt("HARVEST_WORKERS", c.Workers)
	c.ExportManifest = getenvBool("HARVEST_EXPORT_MANIFEST", c.ExportManifest)
	if v := os.Getenv("HARVEST_COURSES"); v != "" {
		c.Courses = splitList(v)
	}

	cfg.Logging.Level = getenv("HARVEST_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getenv("HARVEST_LOG_FORMAT", cfg.Logging.Format)

	s := &cfg.SFTP
	s.Host = getenv("SFTP_HOST", s.Host)
	s.Port = getenvInt("SFTP_PORT", s.Port)
	s.User = getenv("SFTP_USER", s.User)
	s.Pass = getenv("SFTP_PASS", s.Pass)
	s.RemoteDir = getenv("SFTP_DIR", s.RemoteDir)
	s.InsecureIgnoreHostKey = getenvBool("SFTP_INSECURE_IGNORE_HOSTKEY", s.InsecureIgnoreHostKey)
	s.KnownHostsFile = getenv("SFTP_KNOWN_HOSTS", s.KnownHostsFile)
	s.Enabled = getenvBool("SFTP_ENABLED", s.Enabled)
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(k string, def int) int {
	v, err := strconv.Atoi(os.Getenv(k))
	if err != nil {
		return def
	}
	return v
}

func getenvFloat(k string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(k), 64)
	if err != nil {
		return def
	}
	return v
}

func getenvBool(k string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(k))
	if err != nil {
		return def
	}
	return v
}

func getenvDuration(k string, def Duration) Duration {
	v, err := time.ParseDuration(os.Getenv(k))
	if err != nil {
		return def
	}
	return Duration(v)
}

// Duration reads "90s"-style strings from TOML.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

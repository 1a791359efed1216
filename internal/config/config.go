// Package config loads slotscrape configuration from an optional YAML file,
// then environment variables, then built-in defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration shared by the binaries.
type Config struct {
	Paths   PathsConfig   `yaml:"paths"`
	Browser BrowserConfig `yaml:"browser"`
	Scrape  ScrapeConfig  `yaml:"scrape"`
	Web     WebConfig     `yaml:"web"`
}

// PathsConfig locates files on disk.
type PathsConfig struct {
	StoreList       string `yaml:"store_list"`
	TempStoreList   string `yaml:"temp_store_list"`
	OutputDir       string `yaml:"output_dir"`
	CompletedStores string `yaml:"completed_stores"`
	RunDB           string `yaml:"run_db"`
}

// BrowserConfig controls the Chrome session.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Bin              string        `yaml:"bin"`
	Revision         int           `yaml:"revision"`
	Stealth          string        `yaml:"stealth"` // headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	PageLoadTimeout  time.Duration `yaml:"page_load_timeout"`
}

// ScrapeConfig tunes one scrape run.
type ScrapeConfig struct {
	TableID          string        `yaml:"table_id"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`
	RenderWait       time.Duration `yaml:"render_wait"`
	ChallengeWait    time.Duration `yaml:"challenge_wait"`
	ChallengePoll    time.Duration `yaml:"challenge_poll"`
	ChallengeCeiling time.Duration `yaml:"challenge_ceiling"`
	MaxStores        int           `yaml:"max_stores"`
	MaxDaysPerStore  int           `yaml:"max_days_per_store"`
	Attended         bool          `yaml:"attended"`
}

// WebConfig controls the HTTP control surface.
type WebConfig struct {
	Listen    string `yaml:"listen"`
	ScrapeBin string `yaml:"scrape_bin"`
}

// Load reads path (empty = no file), applies environment overrides and
// fills defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("STORE_LIST_PATH", &c.Paths.StoreList)
	str("TEMP_STORE_LIST_PATH", &c.Paths.TempStoreList)
	str("OUTPUT_DIR", &c.Paths.OutputDir)
	str("COMPLETED_STORES_PATH", &c.Paths.CompletedStores)
	str("RUN_DB_PATH", &c.Paths.RunDB)
	str("SCRAPE_BIN", &c.Web.ScrapeBin)
	str("LISTEN_ADDR", &c.Web.Listen)

	seconds := []struct {
		key string
		dst *time.Duration
	}{
		{"IDLE_TIMEOUT_SEC", &c.Scrape.IdleTimeout},
		{"PAGE_LOAD_TIMEOUT_SEC", &c.Browser.PageLoadTimeout},
	}
	for _, s := range seconds {
		v := strings.TrimSpace(getenv(s.key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("config: %s: want a positive number of seconds, got %q", s.key, v)
		}
		*s.dst = time.Duration(n) * time.Second
	}

	if v := strings.TrimSpace(getenv("CHROME_REVISION")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("config: CHROME_REVISION: invalid %q", v)
		}
		c.Browser.Revision = n
	}
	if v := strings.TrimSpace(getenv("SCRAPE_ATTENDED")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: SCRAPE_ATTENDED: %w", err)
		}
		c.Scrape.Attended = b
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Paths.StoreList == "" {
		c.Paths.StoreList = "store_list.csv"
	}
	if c.Paths.TempStoreList == "" {
		c.Paths.TempStoreList = "runtime/temp_store_list.csv"
	}
	if c.Paths.OutputDir == "" {
		c.Paths.OutputDir = "output/slotdata"
	}
	if c.Paths.CompletedStores == "" {
		c.Paths.CompletedStores = "runtime/completed_stores.json"
	}
	if c.Paths.RunDB == "" {
		c.Paths.RunDB = "runtime/slotscrape.db"
	}

	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headful"
	}
	if c.Browser.PageLoadTimeout == 0 {
		c.Browser.PageLoadTimeout = 60 * time.Second
	}

	if c.Scrape.IdleTimeout == 0 {
		c.Scrape.IdleTimeout = 120 * time.Second
	}
	if c.Scrape.WatchdogInterval == 0 {
		c.Scrape.WatchdogInterval = 5 * time.Second
	}
	if c.Scrape.RenderWait == 0 {
		c.Scrape.RenderWait = 2 * time.Second
	}
	if c.Scrape.ChallengeWait == 0 {
		c.Scrape.ChallengeWait = 7 * time.Second
	}
	if c.Scrape.ChallengePoll == 0 {
		c.Scrape.ChallengePoll = 2 * time.Second
	}
	if c.Scrape.ChallengeCeiling == 0 {
		c.Scrape.ChallengeCeiling = 300 * time.Second
	}

	if c.Web.Listen == "" {
		c.Web.Listen = "localhost:5000"
	}
	if c.Web.ScrapeBin == "" {
		c.Web.ScrapeBin = "slotscrape"
	}
}

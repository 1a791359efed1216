package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaults(t *testing.T) {
	var c Config
	c.applyDefaults()
	if c.Scrape.IdleTimeout != 120*time.Second {
		t.Errorf("IdleTimeout = %s", c.Scrape.IdleTimeout)
	}
	if c.Browser.PageLoadTimeout != 60*time.Second {
		t.Errorf("PageLoadTimeout = %s", c.Browser.PageLoadTimeout)
	}
	if c.Scrape.ChallengeCeiling != 300*time.Second || c.Scrape.ChallengePoll != 2*time.Second {
		t.Errorf("challenge bounds = %s / %s", c.Scrape.ChallengeCeiling, c.Scrape.ChallengePoll)
	}
	if c.Browser.Stealth != "headful" {
		t.Errorf("Stealth = %q", c.Browser.Stealth)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slotscrape.yaml")
	yaml := `
paths:
  store_list: /data/stores.csv
  output_dir: /data/out
browser:
  stealth: headless
  resource_blocking: [images, fonts]
scrape:
  idle_timeout: 90s
  max_days_per_store: 7
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("IDLE_TIMEOUT_SEC", "30")
	t.Setenv("OUTPUT_DIR", "/env/out")

	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Paths.StoreList != "/data/stores.csv" {
		t.Errorf("StoreList = %q", c.Paths.StoreList)
	}
	if c.Paths.OutputDir != "/env/out" {
		t.Errorf("OutputDir = %q, env must win", c.Paths.OutputDir)
	}
	if c.Scrape.IdleTimeout != 30*time.Second {
		t.Errorf("IdleTimeout = %s", c.Scrape.IdleTimeout)
	}
	if c.Scrape.MaxDaysPerStore != 7 || c.Browser.Stealth != "headless" || len(c.Browser.ResourceBlocking) != 2 {
		t.Errorf("file values lost: %+v", c)
	}
}

func TestApplyEnv(t *testing.T) {
	var c Config
	err := c.applyEnv(envMap(map[string]string{
		"PAGE_LOAD_TIMEOUT_SEC": "45",
		"CHROME_REVISION":       "1321438",
		"SCRAPE_ATTENDED":       "true",
		"LISTEN_ADDR":           ":9000",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if c.Browser.PageLoadTimeout != 45*time.Second || c.Browser.Revision != 1321438 {
		t.Errorf("browser = %+v", c.Browser)
	}
	if !c.Scrape.Attended || c.Web.Listen != ":9000" {
		t.Errorf("attended=%v listen=%q", c.Scrape.Attended, c.Web.Listen)
	}
}

func TestApplyEnv_Invalid(t *testing.T) {
	for _, env := range []map[string]string{
		{"IDLE_TIMEOUT_SEC": "soon"},
		{"IDLE_TIMEOUT_SEC": "0"},
		{"CHROME_REVISION": "-1"},
		{"SCRAPE_ATTENDED": "maybe"},
	} {
		var c Config
		if err := c.applyEnv(envMap(env)); err == nil {
			t.Errorf("env %v: expected error", env)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

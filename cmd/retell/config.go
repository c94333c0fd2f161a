// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"go.astrophena.name/retell/cmd/retell/internal/settings"
	"go.astrophena.name/retell/internal/cli"
)

// Config is the configuration file.
type Config struct {
	// Source is "vk" or "rss".
	Source   string         `yaml:"source"`
	VK       VKConfig       `yaml:"vk"`
	RSS      RSSConfig      `yaml:"rss"`
	Telegram TelegramConfig `yaml:"telegram"`
	Admin    AdminConfig    `yaml:"admin"`
	// StateDB is the SQLite database keeping the source position. Without it
	// the position is lost on restart.
	StateDB string `yaml:"state_db"`
	// FilterRule is a Starlark file defining keep(post).
	FilterRule string `yaml:"filter_rule"`

	settings.Settings `yaml:",inline"`
}

type VKConfig struct {
	Token      string `yaml:"token"`
	GroupID    int64  `yaml:"group_id"`
	APIVersion string `yaml:"api_version"`
}

type RSSConfig struct {
	URL      string        `yaml:"url"`
	Interval time.Duration `yaml:"interval"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
	// AdminChatID receives failure reports.
	AdminChatID int64 `yaml:"admin_chat_id"`
}

type AdminConfig struct {
	Password string `yaml:"password"`
	// Addr is where the admin HTTP API listens. Empty disables it.
	Addr           string        `yaml:"addr"`
	AutoLogoutIdle time.Duration `yaml:"auto_logout_idle"`
}

const (
	defaultConfigPath     = "config.yml"
	defaultAutoLogoutIdle = 30 * time.Minute
)

// loadConfig reads the configuration file at path. Secrets set in the
// environment take precedence over the file.
func loadConfig(path string, getenv func(string) string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := parseConfig(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	cfg.Telegram.Token = cmp.Or(getenv("TELEGRAM_TOKEN"), cfg.Telegram.Token)
	cfg.VK.Token = cmp.Or(getenv("VK_TOKEN"), cfg.VK.Token)
	cfg.Admin.Password = cmp.Or(getenv("ADMIN_PASSWORD"), cfg.Admin.Password)

	// Relative paths are relative to the configuration file.
	dir := filepath.Dir(path)
	for _, p := range []*string{&cfg.StateDB, &cfg.FilterRule} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	return cfg, nil
}

func parseConfig(b []byte) (*Config, error) {
	cfg := new(Config)
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	cfg.Source = cmp.Or(cfg.Source, "vk")
	cfg.Admin.AutoLogoutIdle = cmp.Or(cfg.Admin.AutoLogoutIdle, defaultAutoLogoutIdle)
	return cfg, nil
}

// Validate reports missing or contradicting fields needed to run.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	switch c.Source {
	case "vk":
		if c.VK.Token == "" {
			add("vk.token (or VK_TOKEN) is required")
		}
		if c.VK.GroupID <= 0 {
			add("vk.group_id must be positive")
		}
	case "rss":
		if c.RSS.URL == "" {
			add("rss.url is required")
		}
		if c.RSS.Interval < 0 {
			add("rss.interval must not be negative")
		}
	default:
		add("unknown source %q, want vk or rss", c.Source)
	}
	if c.Telegram.Token == "" {
		add("telegram.token (or TELEGRAM_TOKEN) is required")
	}
	if c.Telegram.ChatID == 0 {
		add("telegram.chat_id is required")
	}
	if c.Admin.Addr != "" && c.Admin.Password == "" {
		add("admin.password (or ADMIN_PASSWORD) is required to serve the admin API")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", cli.ErrInvalidArgs, strings.Join(problems, "; "))
	}
	return nil
}

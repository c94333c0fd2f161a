// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"go.astrophena.name/retell/cmd/retell/internal/element"
	"go.astrophena.name/retell/cmd/retell/internal/filter"
	"go.astrophena.name/retell/cmd/retell/internal/post"
	"go.astrophena.name/retell/cmd/retell/internal/render"
	"go.astrophena.name/retell/cmd/retell/internal/rss"
	"go.astrophena.name/retell/cmd/retell/internal/settings"
	"go.astrophena.name/retell/cmd/retell/internal/telegram"
	"go.astrophena.name/retell/cmd/retell/internal/vk"
	"go.astrophena.name/retell/internal/cli"
	"go.astrophena.name/retell/internal/filelock"
	"go.astrophena.name/retell/internal/httplogger"
	"go.astrophena.name/retell/internal/logger"
	"go.astrophena.name/retell/internal/store"
	"go.astrophena.name/retell/internal/systemd"
	"go.astrophena.name/retell/internal/web"
)

const (
	// logLines is how many recent log lines the admin API shows.
	logLines = 500
	// botPollTimeout is how long, in seconds, a request for bot updates waits.
	botPollTimeout = 30
	// httpTimeout bounds every outgoing request, long polls included.
	httpTimeout = botPollTimeout*time.Second + time.Minute
)

var errAlreadyRunning = errors.New("another instance is already running")

func main() { cli.Main(new(app)) }

type app struct {
	// configuration
	configPath string
	addr       string
	mode       string
	verbose    bool

	// httpc is used to fetch posts and media. When it is nil, run makes one
	// that logs requests at debug level.
	httpc *http.Client
}

func (a *app) Flags(fs *flag.FlagSet) {
	fs.StringVar(&a.configPath, "config", "", "Read configuration from `file` (default $RETELL_CONFIG or config.yml).")
	fs.StringVar(&a.addr, "addr", "", "Serve the admin API on `host:port`, overriding admin.addr.")
	fs.StringVar(&a.mode, "mode", "", "Gif media group `mode` (auto or text_up) for the render command, overriding the configuration.")
	fs.BoolVar(&a.verbose, "v", false, "Enable debug logging.")
}

func (a *app) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	a.configPath = cmp.Or(a.configPath, env.Getenv("RETELL_CONFIG"), defaultConfigPath)
	if a.verbose {
		logger.Get(ctx).Level.Set(slog.LevelDebug)
	}

	if len(env.Args) == 0 {
		return fmt.Errorf("%w: command is required, see -help for usage", cli.ErrInvalidArgs)
	}
	command := env.Args[0]
	switch command {
	case "run":
		if len(env.Args) != 1 {
			return fmt.Errorf("%w: run takes no arguments", cli.ErrInvalidArgs)
		}
		return a.run(ctx)
	case "render":
		if len(env.Args) != 2 {
			return fmt.Errorf("%w: render expects a post file", cli.ErrInvalidArgs)
		}
		return a.render(ctx, env.Args[1])
	case "check":
		if len(env.Args) != 1 {
			return fmt.Errorf("%w: check takes no arguments", cli.ErrInvalidArgs)
		}
		return a.check(ctx)
	default:
		return fmt.Errorf("%w: no such command %q", cli.ErrInvalidArgs, command)
	}
}

func (a *app) loadConfig(ctx context.Context) (*Config, error) {
	cfg, err := loadConfig(a.configPath, cli.GetEnv(ctx).Getenv)
	if err != nil {
		return nil, err
	}
	cfg.Admin.Addr = cmp.Or(a.addr, cfg.Admin.Addr)
	return cfg, nil
}

func (a *app) run(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	lock, err := filelock.Acquire(a.lockPath(cfg))
	if errors.Is(err, filelock.ErrAlreadyLocked) {
		return fmt.Errorf("%w with %s", errAlreadyRunning, cmp.Or(cfg.StateDB, a.configPath))
	}
	if err != nil {
		return err
	}
	defer lock.Release()

	sd, err := systemd.FromEnv(env.Getenv)
	if err != nil {
		return err
	}

	// Keep recent logs for the admin API.
	logs := logger.NewStreamer(logLines)
	l := logger.New(io.MultiWriter(env.Stderr, logs))
	l.Level.Set(logger.Get(ctx).Level.Level())
	ctx = logger.Put(ctx, l)

	flt, err := loadFilter(cfg.FilterRule)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg.StateDB)
	if err != nil {
		return err
	}
	defer st.Close()

	tr := httplogger.New(http.DefaultTransport, cfg.Telegram.Token, cfg.VK.Token)
	httpc := a.httpc
	if httpc == nil {
		httpc = &http.Client{Transport: tr, Timeout: httpTimeout}
	}

	src, err := newSource(cfg, st, httpc)
	if err != nil {
		return err
	}

	bot, err := telego.NewBot(cfg.Telegram.Token,
		telego.WithHTTPClient(&http.Client{Transport: tr, Timeout: httpTimeout}),
		telego.WithLogger(telegoLogger{l, strings.NewReplacer(cfg.Telegram.Token, "[REDACTED]")}),
	)
	if err != nil {
		return fmt.Errorf("creating bot: %w", err)
	}

	dyn := settings.New(cfg.Settings, settings.SaveToFile(a.configPath))

	p := newPipeline(&pipeline{
		source:   src,
		filter:   flt,
		settings: dyn,
		renderer: render.New(render.Config{
			Sender:     telegram.New(telegram.Config{Bot: bot, ChatID: cfg.Telegram.ChatID}),
			HTTPClient: httpc,
		}),
	})
	if cfg.Telegram.AdminChatID != 0 {
		r := &reporter{sender: telegram.New(telegram.Config{Bot: bot, ChatID: cfg.Telegram.AdminChatID})}
		p.report = r.report
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.run(ctx) })

	if cfg.Admin.Addr != "" {
		health := web.NewHealthHandler()
		health.RegisterFunc("pipeline", p.health)
		srv := &web.Server{
			Addr: cfg.Admin.Addr,
			Mux:  adminMux(cfg.Admin.Password, dyn, health, logs),
		}
		g.Go(func() error { return srv.ListenAndServe(ctx) })
	}

	if cfg.Admin.Password != "" {
		c := newConsole(&console{
			bot:      bot,
			settings: dyn,
			password: cfg.Admin.Password,
			idle:     cfg.Admin.AutoLogoutIdle,
		})
		g.Go(func() error {
			updates, err := bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
				Timeout:        botPollTimeout,
				AllowedUpdates: []string{"message"},
			})
			if err != nil {
				return fmt.Errorf("receiving bot updates: %w", err)
			}
			return c.run(ctx, updates)
		})
	}

	g.Go(func() error {
		sd.WatchdogLoop(ctx)
		return nil
	})
	sd.Notify(ctx, systemd.Ready)

	l.Info("republishing", "source", cfg.Source, "chat_id", cfg.Telegram.ChatID, "enabled", cfg.Enabled)
	err = g.Wait()
	sd.Notify(ctx, systemd.Stopping)
	return err
}

// lockPath returns the file locked while running, so that two instances never
// share a source position.
func (a *app) lockPath(cfg *Config) string {
	return cmp.Or(cfg.StateDB, a.configPath) + ".lock"
}

// render prints the messages a post would be sent as.
func (a *app) render(ctx context.Context, path string) error {
	env := cli.GetEnv(ctx)

	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(env.Stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}
	var p post.Post
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("parsing post: %w", err)
	}

	var opts element.Options
	cfg, err := a.loadConfig(ctx)
	switch {
	case err == nil:
		opts.Mode, opts.ClearHashtags = cfg.GifMediaGroupMode, cfg.ClearHashtags
	case errors.Is(err, fs.ErrNotExist):
		// Render with defaults.
	default:
		return err
	}
	if a.mode != "" {
		mode, err := element.ParseMode(a.mode)
		if err != nil {
			return fmt.Errorf("%w: %v", cli.ErrInvalidArgs, err)
		}
		opts.Mode = mode
	}

	e, err := element.Compose(p, opts)
	if err != nil {
		return err
	}
	logger.Get(ctx).Debug("composed", "element", e)
	fmt.Fprint(env.Stdout, render.FormatTokens(render.DebugRender(e)))
	return nil
}

// check validates the configuration and prints the settings.
func (a *app) check(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := loadFilter(cfg.FilterRule); err != nil {
		return err
	}

	fmt.Fprintf(env.Stdout, "Configuration %s is valid, republishing from %s.\n", a.configPath, cfg.Source)
	if pid := filelock.Owner(a.lockPath(cfg)); pid > 0 {
		fmt.Fprintf(env.Stdout, "It is in use by a running instance (pid %d).\n", pid)
	}
	fmt.Fprintln(env.Stdout)
	enc := yaml.NewEncoder(env.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(cfg.Settings); err != nil {
		return err
	}
	return enc.Close()
}

func loadFilter(path string) (*filter.Filter, error) {
	if path == "" {
		return filter.New("", nil)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return filter.New(filepath.Base(path), src)
}

func openStore(ctx context.Context, path string) (store.Store, error) {
	if path == "" {
		logger.Get(ctx).Warn("state_db is not set, the source position will be lost on restart")
		return store.NewMemStore(ctx, 0), nil
	}
	st, err := store.NewSQLiteStore(ctx, path, 0)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func newSource(cfg *Config, st store.Store, httpc *http.Client) (post.Source, error) {
	switch cfg.Source {
	case "vk":
		src, err := vk.New(vk.Config{
			Token:      cfg.VK.Token,
			GroupID:    cfg.VK.GroupID,
			APIVersion: cfg.VK.APIVersion,
			Store:      st,
			HTTPClient: httpc,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	case "rss":
		src, err := rss.New(rss.Config{
			URL:        cfg.RSS.URL,
			Interval:   cfg.RSS.Interval,
			Store:      st,
			HTTPClient: httpc,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	return nil, fmt.Errorf("%w: unknown source %q", cli.ErrInvalidArgs, cfg.Source)
}

// telegoLogger sends bot library logs to the logger.
type telegoLogger struct {
	l        *logger.Logger
	scrubber *strings.Replacer
}

func (t telegoLogger) Debugf(format string, args ...any) {
	t.l.Debug(t.scrubber.Replace(fmt.Sprintf(format, args...)), "component", "telego")
}

func (t telegoLogger) Errorf(format string, args ...any) {
	t.l.Error(t.scrubber.Replace(fmt.Sprintf(format, args...)), "component", "telego")
}

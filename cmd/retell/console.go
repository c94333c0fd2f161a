// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"go.astrophena.name/retell/cmd/retell/internal/settings"
	"go.astrophena.name/retell/internal/logger"
)

const consoleHelp = `/status - show whether republishing is enabled and the current settings
/enable - enable republishing
/disable - disable republishing
/signal <word> <word> ... - set signal words
/disable_signal_words - republish all posts
/logout - log out`

type consoleBot interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	DeleteMessage(ctx context.Context, params *telego.DeleteMessageParams) error
}

// console changes settings by commands sent to the bot in private messages.
//
// Users log in with the admin password and are logged out after being idle
// for too long.
type console struct {
	bot      consoleBot
	settings *settings.Store
	password string
	idle     time.Duration
	now      func() time.Time

	// sessions maps a logged in user to the time of their last command. It is
	// used only by the goroutine running the console.
	sessions map[int64]time.Time
}

func newConsole(c *console) *console {
	if c.now == nil {
		c.now = time.Now
	}
	c.sessions = make(map[int64]time.Time)
	return c
}

// run handles updates until ctx is canceled or updates is closed.
func (c *console) run(ctx context.Context, updates <-chan telego.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if u.Message == nil || u.Message.From == nil {
				continue
			}
			if err := c.handle(ctx, u.Message); err != nil {
				logger.Get(ctx).Error("handling command failed", "user", u.Message.From.ID, "error", err)
				c.reply(ctx, u.Message, "Something went wrong: "+err.Error())
			}
		}
	}
}

func (c *console) handle(ctx context.Context, msg *telego.Message) error {
	log := logger.Get(ctx)
	user := msg.From.ID
	loggedIn := c.touch(ctx, user)

	args := strings.Fields(msg.Text)
	if len(args) == 0 {
		return c.reply(ctx, msg, "Unknown command. Send /start for help.")
	}
	cmd, _, _ := strings.Cut(args[0], "@")
	log.Debug("console command", "user", user, "command", cmd)

	switch cmd {
	case "/start":
		if loggedIn {
			return c.reply(ctx, msg, consoleHelp)
		}
		return c.reply(ctx, msg, "You are not logged in. To log in, send /login <password>.\n\n"+consoleHelp)
	case "/login":
		return c.login(ctx, msg, args[1:], loggedIn)
	}

	if !loggedIn {
		return c.reply(ctx, msg, "You are not logged in. To log in, send /login <password>.")
	}

	switch cmd {
	case "/logout":
		delete(c.sessions, user)
		log.Info("admin logged out", "user", user)
		return c.reply(ctx, msg, "Logged out.")
	case "/status":
		return c.reply(ctx, msg, formatStatus(c.settings.Snapshot()))
	case "/enable", "/disable":
		enable := cmd == "/enable"
		if c.settings.Snapshot().Enabled == enable {
			if enable {
				return c.reply(ctx, msg, "Republishing is already enabled.")
			}
			return c.reply(ctx, msg, "Republishing is already disabled.")
		}
		s, err := c.update(ctx, func(s *settings.Settings) { s.Enabled = enable })
		if err != nil {
			return err
		}
		log.Info("republishing toggled by admin", "user", user, "enabled", enable)
		return c.reply(ctx, msg, formatStatus(s))
	case "/signal":
		if len(args) == 1 {
			return c.reply(ctx, msg, "Signal words: "+formatSignalWords(c.settings.Snapshot())+
				".\n\nTo set them, send /signal <word> <word> ... The previous words are replaced.")
		}
		s, err := c.update(ctx, func(s *settings.Settings) { s.SignalWords = args[1:] })
		if err != nil {
			return err
		}
		return c.reply(ctx, msg, "Signal words set: "+formatSignalWords(s)+"."+disabledReminder(s))
	case "/disable_signal_words":
		s, err := c.update(ctx, func(s *settings.Settings) { s.SignalWords = nil })
		if err != nil {
			return err
		}
		return c.reply(ctx, msg, "Signal words disabled. All posts will be republished."+disabledReminder(s))
	}
	return c.reply(ctx, msg, "Unknown command. Send /start for help.")
}

// touch records activity of user and reports whether they are logged in.
// Idle sessions expire.
func (c *console) touch(ctx context.Context, user int64) bool {
	last, ok := c.sessions[user]
	if !ok {
		return false
	}
	now := c.now()
	if c.idle > 0 && now.Sub(last) > c.idle {
		delete(c.sessions, user)
		logger.Get(ctx).Info("admin logged out after being idle", "user", user, "idle", now.Sub(last))
		return false
	}
	c.sessions[user] = now
	return true
}

func (c *console) login(ctx context.Context, msg *telego.Message, args []string, loggedIn bool) error {
	log := logger.Get(ctx)
	if len(args) == 0 {
		return c.reply(ctx, msg, "To log in, send /login <password>.")
	}

	if err := c.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
		ChatID:    tu.ID(msg.Chat.ID),
		MessageID: msg.MessageID,
	}); err != nil {
		log.Warn("deleting password message failed", "error", err)
	} else if err := c.reply(ctx, msg, "The message with your password was deleted."); err != nil {
		return err
	}

	if loggedIn {
		return c.reply(ctx, msg, "You are already logged in.")
	}
	if c.password == "" || subtle.ConstantTimeCompare([]byte(args[0]), []byte(c.password)) != 1 {
		log.Info("admin login failed", "user", msg.From.ID)
		return c.reply(ctx, msg, "Wrong password.")
	}

	c.sessions[msg.From.ID] = c.now()
	log.Info("admin logged in", "user", msg.From.ID)
	text := "Logged in."
	if c.idle > 0 {
		text += fmt.Sprintf(" You will be logged out after %s of inactivity.", c.idle)
	}
	return c.reply(ctx, msg, text+"\n\n"+formatStatus(c.settings.Snapshot()))
}

func (c *console) update(ctx context.Context, f func(*settings.Settings)) (settings.Settings, error) {
	s, err := c.settings.Update(ctx, f)
	if err != nil {
		// The change is in effect, but will be lost on restart.
		return s, fmt.Errorf("saving settings: %w", err)
	}
	return s, nil
}

func (c *console) reply(ctx context.Context, msg *telego.Message, text string) error {
	_, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(msg.Chat.ID), text))
	return err
}

func formatStatus(s settings.Settings) string {
	var sb strings.Builder
	if s.Enabled {
		sb.WriteString("Republishing is enabled.\n")
	} else {
		sb.WriteString("Republishing is disabled.\n")
	}
	fmt.Fprintf(&sb, "Signal words: %s\n", formatSignalWords(s))
	fmt.Fprintf(&sb, "Clear hashtags: %s\n", onOff(s.ClearHashtags))
	fmt.Fprintf(&sb, "Gif media group mode: %s", s.GifMediaGroupMode)
	return sb.String()
}

func formatSignalWords(s settings.Settings) string {
	if len(s.SignalWords) == 0 {
		return "off"
	}
	words := strings.Join(s.SignalWords, ", ")
	if s.IgnoreSignalWordsCase {
		words += " (case ignored)"
	}
	return words
}

func disabledReminder(s settings.Settings) string {
	if s.Enabled {
		return ""
	}
	return "\n\nRepublishing is disabled now. To enable it, send /enable."
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

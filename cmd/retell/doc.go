// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Retell republishes posts of a VK community or an RSS feed to a Telegram
channel.

Each post is filtered, composed into the smallest set of Telegram messages
that can carry it (a media group with a caption, a photo with a long text
shown as a link preview, a poll replying to its text) and sent.

# Usage

	$ retell [flags...] <command>

# Commands

  - run: start republishing. Runs until interrupted. Only one instance can
    run with the same state_db (or configuration file, if it is not set).
    Under systemd, use Type=notify; the watchdog is supported.
  - render <post.json>: print the messages a post would be sent as, without
    sending anything. The post is read from a JSON file, or from standard
    input when the file is "-".
  - check: validate the configuration and print the current settings.

# Configuration

Retell reads a YAML file, config.yml in the working directory by default:

	source: vk # or rss
	vk:
	  token: ...
	  group_id: 123456
	rss:
	  url: https://example.com/feed.xml
	  interval: 10m
	telegram:
	  token: ...
	  chat_id: -1001234567890
	  admin_chat_id: 1234567 # failures are reported here
	admin:
	  password: ...
	  addr: localhost:3000
	  auto_logout_idle: 30m
	state_db: retell.db
	filter_rule: rule.star

	enabled: true
	signal_words: ["#news"]
	ignore_signal_words_case: true
	clear_hashtags: false
	gif_media_group_mode: auto # or text_up

The last block holds settings that can be changed while retell runs, from
the admin HTTP API or by sending commands to the bot. Changes are written
back into the file.

The filter rule is an optional Starlark file defining keep(post). Posts for
which it returns False are not republished.

# Admin

When admin.addr is set, retell serves an HTTP API there. Every request except
/health must carry the admin password:

	$ curl -H "Authorization: Bearer $ADMIN_PASSWORD" localhost:3000/api/settings
	$ curl -X POST -H "Authorization: Bearer $ADMIN_PASSWORD" localhost:3000/api/settings?enabled=false

Recent logs are streamed from /debug/logs.

When admin.password is set, the bot also accepts commands in private
messages: /start, /login <password>, /status, /enable, /disable,
/signal <word>..., /disable_signal_words and /logout.

# Environment Variables

  - RETELL_CONFIG: path to the configuration file, if -config is not set.
  - TELEGRAM_TOKEN: Telegram bot token, overrides telegram.token.
  - VK_TOKEN: VK community access token, overrides vk.token.
  - ADMIN_PASSWORD: admin password, overrides admin.password.
*/
package main

import (
	_ "embed"

	"go.astrophena.name/retell/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }

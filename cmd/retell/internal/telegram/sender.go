// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package telegram implements message delivery over the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"

	"go.astrophena.name/retell/cmd/retell/internal/sender"
	"go.astrophena.name/retell/internal/logger"
)

const sendRetryLimit = 5 // N attempts to retry message sending

// Bot is the part of the Bot API the sender uses. It is implemented by
// [telego.Bot].
type Bot interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error)
	SendVideo(ctx context.Context, params *telego.SendVideoParams) (*telego.Message, error)
	SendDocument(ctx context.Context, params *telego.SendDocumentParams) (*telego.Message, error)
	SendMediaGroup(ctx context.Context, params *telego.SendMediaGroupParams) ([]telego.Message, error)
	SendPoll(ctx context.Context, params *telego.SendPollParams) (*telego.Message, error)
}

// Config configures a Telegram sender.
type Config struct {
	Bot    Bot
	ChatID int64
}

// Sender sends messages to a single chat.
type Sender struct {
	bot    Bot
	chatID telego.ChatID
	sleep  func(context.Context, time.Duration) bool
}

// New returns a Telegram sender configured for a specific chat.
func New(cfg Config) *Sender {
	return &Sender{
		bot:    cfg.Bot,
		chatID: tu.ID(cfg.ChatID),
		sleep:  sleep,
	}
}

// SendText implements [sender.Sender].
func (s *Sender) SendText(ctx context.Context, msg sender.Text) (sender.MessageID, error) {
	return send(ctx, s, "sendMessage", func(ctx context.Context) (sender.MessageID, error) {
		return messageID(s.bot.SendMessage(ctx, &telego.SendMessageParams{
			ChatID:          s.chatID,
			Text:            msg.Body,
			ParseMode:       parseMode(msg.HTML),
			ReplyParameters: replyTo(msg.ReplyTo),
		}))
	})
}

// SendPhoto implements [sender.Sender].
func (s *Sender) SendPhoto(ctx context.Context, msg sender.Media) (sender.MessageID, error) {
	return send(ctx, s, "sendPhoto", func(ctx context.Context) (sender.MessageID, error) {
		return messageID(s.bot.SendPhoto(ctx, &telego.SendPhotoParams{
			ChatID:          s.chatID,
			Photo:           inputFile(msg.File),
			Caption:         msg.Caption,
			ParseMode:       parseMode(msg.HTML),
			ReplyParameters: replyTo(msg.ReplyTo),
		}))
	})
}

// SendVideo implements [sender.Sender].
func (s *Sender) SendVideo(ctx context.Context, msg sender.Media) (sender.MessageID, error) {
	return send(ctx, s, "sendVideo", func(ctx context.Context) (sender.MessageID, error) {
		return messageID(s.bot.SendVideo(ctx, &telego.SendVideoParams{
			ChatID:            s.chatID,
			Video:             inputFile(msg.File),
			Caption:           msg.Caption,
			ParseMode:         parseMode(msg.HTML),
			SupportsStreaming: true,
			ReplyParameters:   replyTo(msg.ReplyTo),
		}))
	})
}

// SendDocument implements [sender.Sender].
func (s *Sender) SendDocument(ctx context.Context, msg sender.Media) (sender.MessageID, error) {
	return send(ctx, s, "sendDocument", func(ctx context.Context) (sender.MessageID, error) {
		return messageID(s.bot.SendDocument(ctx, &telego.SendDocumentParams{
			ChatID:          s.chatID,
			Document:        inputFile(msg.File),
			Caption:         msg.Caption,
			ParseMode:       parseMode(msg.HTML),
			ReplyParameters: replyTo(msg.ReplyTo),
		}))
	})
}

// SendMediaGroup implements [sender.Sender].
func (s *Sender) SendMediaGroup(ctx context.Context, msg sender.Album) ([]sender.MessageID, error) {
	return send(ctx, s, "sendMediaGroup", func(ctx context.Context) ([]sender.MessageID, error) {
		media := make([]telego.InputMedia, len(msg.Items))
		for i, it := range msg.Items {
			switch it.Kind {
			case sender.Video:
				v := tu.MediaVideo(inputFile(it.File))
				v.Caption, v.ParseMode = it.Caption, parseMode(it.HTML)
				v.SupportsStreaming = true
				media[i] = v
			default:
				p := tu.MediaPhoto(inputFile(it.File))
				p.Caption, p.ParseMode = it.Caption, parseMode(it.HTML)
				media[i] = p
			}
		}
		msgs, err := s.bot.SendMediaGroup(ctx, &telego.SendMediaGroupParams{
			ChatID:          s.chatID,
			Media:           media,
			ReplyParameters: replyTo(msg.ReplyTo),
		})
		if err != nil {
			return nil, err
		}
		ids := make([]sender.MessageID, len(msgs))
		for i, m := range msgs {
			ids[i] = sender.MessageID(m.MessageID)
		}
		return ids, nil
	})
}

// SendPoll implements [sender.Sender].
func (s *Sender) SendPoll(ctx context.Context, msg sender.Poll) (sender.MessageID, error) {
	options := make([]telego.InputPollOption, len(msg.Options))
	for i, o := range msg.Options {
		options[i] = telego.InputPollOption{Text: o}
	}
	anonymous := true
	return send(ctx, s, "sendPoll", func(ctx context.Context) (sender.MessageID, error) {
		return messageID(s.bot.SendPoll(ctx, &telego.SendPollParams{
			ChatID:                s.chatID,
			Question:              msg.Question,
			Options:               options,
			IsAnonymous:           &anonymous,
			AllowsMultipleAnswers: msg.Multiple,
			ReplyParameters:       replyTo(msg.ReplyTo),
		}))
	})
}

// send calls the Bot API, retrying requests when rate limited. call must
// build its request from scratch, since uploads are consumed by each attempt.
func send[T any](ctx context.Context, s *Sender, method string, call func(context.Context) (T, error)) (T, error) {
	var (
		v   T
		err error
	)
	for range sendRetryLimit {
		v, err = call(ctx)
		if err == nil {
			return v, nil
		}

		retryable, wait := isRateLimited(err)
		if !retryable {
			break
		}

		logger.Get(ctx).Warn("sending rate limited, waiting", slog.String("method", method), slog.Duration("wait", wait))
		if !s.sleep(ctx, wait) {
			return v, ctx.Err()
		}
	}
	return v, err
}

func messageID(msg *telego.Message, err error) (sender.MessageID, error) {
	if err != nil {
		return 0, err
	}
	return sender.MessageID(msg.MessageID), nil
}

func inputFile(f sender.File) telego.InputFile {
	if f.Data != nil {
		return tu.File(tu.NameReader(bytes.NewReader(f.Data), f.Name))
	}
	return tu.FileFromURL(f.URL)
}

func parseMode(isHTML bool) string {
	if isHTML {
		return telego.ModeHTML
	}
	return ""
}

func replyTo(id sender.MessageID) *telego.ReplyParameters {
	if id == 0 {
		return nil
	}
	return &telego.ReplyParameters{MessageID: int(id), AllowSendingWithoutReply: true}
}

func isRateLimited(err error) (bool, time.Duration) {
	var apiErr *telegoapi.Error
	if !errors.As(err, &apiErr) || apiErr.ErrorCode != http.StatusTooManyRequests {
		return false, 0
	}
	if apiErr.Parameters == nil {
		return true, time.Second
	}
	return true, time.Duration(apiErr.Parameters.RetryAfter) * time.Second
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

var _ sender.Sender = (*Sender)(nil)

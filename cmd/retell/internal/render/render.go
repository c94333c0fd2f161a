// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package render sends composed elements to the destination chat.
//
// Captions longer than [element.CaptionLimit] do not fit on a media message.
// Photos and gifs with such captions are sent as a text message with an
// invisible link to the media, which Telegram shows as a preview. Videos and
// albums are sent as a pair of messages, one replying to the other.
//
// Every call to the destination is retried while it times out.
package render

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"

	"github.com/valyala/bytebufferpool"

	"go.astrophena.name/retell/cmd/retell/internal/element"
	"go.astrophena.name/retell/cmd/retell/internal/sender"
	"go.astrophena.name/retell/internal/logger"
	"go.astrophena.name/retell/internal/request"
)

// Config configures a Renderer.
type Config struct {
	Sender sender.Sender
	// HTTPClient is used to download videos and album items.
	HTTPClient *http.Client
}

// Renderer sends elements through a [sender.Sender].
type Renderer struct {
	sender sender.Sender
	httpc  *http.Client
	getBuf func() *bytebufferpool.ByteBuffer
	putBuf func(*bytebufferpool.ByteBuffer)
	// maxUpload is the largest file downloaded for an upload.
	maxUpload int64
}

// New returns a new Renderer.
func New(cfg Config) *Renderer {
	r := &Renderer{
		sender:    cfg.Sender,
		httpc:     cfg.HTTPClient,
		getBuf:    bytebufferpool.Get,
		putBuf:    bytebufferpool.Put,
		maxUpload: MaxUpload,
	}
	if r.httpc == nil {
		r.httpc = request.DefaultClient
	}
	return r
}

// Render sends the messages of e in order. [DebugRender] predicts them.
//
// A failure stops rendering; messages that were already sent stay sent.
func (r *Renderer) Render(ctx context.Context, e element.Element) error {
	switch e := e.(type) {
	case element.Null:
		logger.Get(ctx).Warn("nothing to render")
		return nil
	case element.Text:
		_, err := r.text(ctx, e.Body, e.HTML, 0)
		return err
	case element.Photo:
		return r.preview(ctx, e.Media, r.sender.SendPhoto)
	case element.Gif:
		return r.preview(ctx, e.Media, r.sender.SendDocument)
	case element.Video:
		return r.video(ctx, e.Media)
	case element.MediaGroup:
		return r.mediaGroup(ctx, e)
	case element.Poll:
		_, err := retry(ctx, func(ctx context.Context) (sender.MessageID, error) {
			return r.sender.SendPoll(ctx, sender.Poll{
				Question: e.Question,
				Options:  e.Options,
				Multiple: e.Multiple,
			})
		})
		return err
	case element.Link:
		_, err := retry(ctx, func(ctx context.Context) (sender.MessageID, error) {
			return r.sender.SendText(ctx, sender.Text{Body: e.URL})
		})
		return err
	case element.Compound:
		if err := r.Render(ctx, e.First); err != nil {
			return err
		}
		return r.Render(ctx, e.Second)
	default:
		panic(fmt.Sprintf("render: unexpected element type %T", e))
	}
}

// text sends a text message, split into several if it is too long, and
// returns the ID of the first one. All parts reply to replyTo.
func (r *Renderer) text(ctx context.Context, body string, isHTML bool, replyTo sender.MessageID) (sender.MessageID, error) {
	var first sender.MessageID
	for i, chunk := range splitMessage(body, isHTML) {
		id, err := retry(ctx, func(ctx context.Context) (sender.MessageID, error) {
			return r.sender.SendText(ctx, sender.Text{Body: chunk, HTML: isHTML, ReplyTo: replyTo})
		})
		if err != nil {
			return 0, err
		}
		if i == 0 {
			first = id
		}
	}
	return first, nil
}

type sendFunc func(context.Context, sender.Media) (sender.MessageID, error)

// preview sends a photo or a gif by URL. A caption that does not fit turns
// it into a text message.
func (r *Renderer) preview(ctx context.Context, m element.Media, send sendFunc) error {
	if m.Caption != "" && (m.Expanded || !inline(m.Caption, m.HTML)) {
		logger.Get(ctx).Debug("sending caption with a media link", slog.String("url", m.URL))
		_, err := r.text(ctx, expandedBody(m), true, 0)
		return err
	}
	_, err := retry(ctx, func(ctx context.Context) (sender.MessageID, error) {
		return send(ctx, sender.Media{
			File:    sender.File{URL: m.URL},
			Caption: m.Caption,
			HTML:    m.HTML,
		})
	})
	return err
}

func (r *Renderer) video(ctx context.Context, m element.Media) error {
	buf, err := r.download(ctx, m.URL)
	if err != nil {
		return err
	}
	defer r.putBuf(buf)

	msg := sender.Media{File: uploadFile(element.ItemVideo, buf), HTML: m.HTML}
	send := func(replyTo sender.MessageID) (sender.MessageID, error) {
		msg.ReplyTo = replyTo
		return retry(ctx, func(ctx context.Context) (sender.MessageID, error) {
			return r.sender.SendVideo(ctx, msg)
		})
	}

	switch {
	case m.Caption == "":
		_, err = send(0)
	case m.Expanded:
		var head sender.MessageID
		if head, err = r.text(ctx, m.Caption, m.HTML, 0); err == nil {
			_, err = send(head)
		}
	case inline(m.Caption, m.HTML):
		msg.Caption = m.Caption
		_, err = send(0)
	default:
		var v sender.MessageID
		if v, err = send(0); err == nil {
			_, err = r.text(ctx, m.Caption, m.HTML, v)
		}
	}
	return err
}

func (r *Renderer) mediaGroup(ctx context.Context, g element.MediaGroup) error {
	bufs, release, err := r.downloadAll(ctx, g.Items)
	if err != nil {
		return err
	}
	defer release()

	album := sender.Album{Items: make([]sender.AlbumItem, len(g.Items))}
	for i, it := range g.Items {
		kind := sender.Photo
		if it.Kind == element.ItemVideo {
			kind = sender.Video
		}
		album.Items[i] = sender.AlbumItem{Kind: kind, File: uploadFile(it.Kind, bufs[i])}
	}
	send := func(replyTo sender.MessageID) ([]sender.MessageID, error) {
		album.ReplyTo = replyTo
		return retry(ctx, func(ctx context.Context) ([]sender.MessageID, error) {
			return r.sender.SendMediaGroup(ctx, album)
		})
	}

	caption := g.Caption()
	switch {
	case caption == "":
		_, err = send(0)
	case g.TextUp:
		var head sender.MessageID
		if head, err = r.text(ctx, caption, g.HTML, 0); err == nil {
			_, err = send(head)
		}
	case inline(caption, g.HTML):
		album.Items[0].Caption = caption
		album.Items[0].HTML = g.HTML
		_, err = send(0)
	default:
		var ids []sender.MessageID
		if ids, err = send(0); err == nil {
			var first sender.MessageID
			if len(ids) > 0 {
				first = ids[0]
			}
			_, err = r.text(ctx, caption, g.HTML, first)
		}
	}
	return err
}

// expandedBody is the text of a message that stands in for a photo or gif
// with a caption: an invisible link to the media, followed by the caption.
func expandedBody(m element.Media) string {
	caption := m.Caption
	if !m.HTML {
		caption = html.EscapeString(caption)
	}
	return `<a href="` + html.EscapeString(m.URL) + `">` + "\u2060" + `</a>` + caption
}

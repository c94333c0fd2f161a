// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package render

import (
	"fmt"
	"strings"

	"go.astrophena.name/retell/cmd/retell/internal/element"
)

// TokenKind is the kind of message a rendered element produces.
type TokenKind int

const (
	ShortText TokenKind = iota + 1
	LongText
	Photo
	PhotoWithCaption
	ExpandedPhoto
	Video
	VideoWithCaption
	Gif
	GifWithCaption
	ExpandedGif
	MediaGroup
	MediaGroupWithCaption
	Poll
	Link
)

var tokenNames = map[TokenKind]string{
	ShortText:             "short-text",
	LongText:              "long-text",
	Photo:                 "photo",
	PhotoWithCaption:      "photo-with-caption",
	ExpandedPhoto:         "expanded-photo",
	Video:                 "video",
	VideoWithCaption:      "video-with-caption",
	Gif:                   "gif",
	GifWithCaption:        "gif-with-caption",
	ExpandedGif:           "expanded-gif",
	MediaGroup:            "media-group",
	MediaGroupWithCaption: "media-group-with-caption",
	Poll:                  "poll",
	Link:                  "link",
}

func (k TokenKind) String() string {
	if s, ok := tokenNames[k]; ok {
		return s
	}
	return fmt.Sprintf("TokenKind(%d)", int(k))
}

// Token describes one message that [Renderer.Render] sends for an element.
type Token struct {
	Kind TokenKind
	// ReplyTo is the token of the message this one replies to, or nil.
	ReplyTo *Token
}

func (t *Token) String() string {
	if t.ReplyTo == nil {
		return t.Kind.String()
	}
	return t.Kind.String() + "(reply to " + t.ReplyTo.Kind.String() + ")"
}

// DebugRender predicts, without sending anything, the messages that
// [Renderer.Render] sends for e, in order.
func DebugRender(e element.Element) []*Token {
	var p projection
	p.element(e)
	return p.tokens
}

// FormatTokens formats a projection one message per line. Replies refer to
// the line number of the message they reply to.
func FormatTokens(tokens []*Token) string {
	index := make(map[*Token]int, len(tokens))
	var sb strings.Builder
	for i, t := range tokens {
		index[t] = i
		fmt.Fprintf(&sb, "%d %s", i, t.Kind)
		if t.ReplyTo != nil {
			fmt.Fprintf(&sb, " -> %d", index[t.ReplyTo])
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

type projection struct {
	tokens []*Token
}

func (p *projection) add(kind TokenKind, replyTo *Token) *Token {
	t := &Token{Kind: kind, ReplyTo: replyTo}
	p.tokens = append(p.tokens, t)
	return t
}

// text adds a token per chunk of a text message and returns the first one.
// If head is not zero, it is the kind of the first chunk.
func (p *projection) text(body string, isHTML bool, head TokenKind, replyTo *Token) *Token {
	var first *Token
	for i, chunk := range splitMessage(body, isHTML) {
		kind := textKind(chunk, isHTML)
		if i == 0 && head != 0 {
			kind = head
		}
		t := p.add(kind, replyTo)
		if i == 0 {
			first = t
		}
	}
	return first
}

func textKind(chunk string, isHTML bool) TokenKind {
	if element.VisibleLen(chunk, isHTML) > element.CaptionLimit {
		return LongText
	}
	return ShortText
}

func (p *projection) element(e element.Element) {
	switch e := e.(type) {
	case element.Null:
	case element.Text:
		p.text(e.Body, e.HTML, 0, nil)
	case element.Photo:
		p.preview(e.Media, Photo, PhotoWithCaption, ExpandedPhoto)
	case element.Gif:
		p.preview(e.Media, Gif, GifWithCaption, ExpandedGif)
	case element.Video:
		m := e.Media
		switch {
		case m.Caption == "":
			p.add(Video, nil)
		case m.Expanded:
			head := p.text(m.Caption, m.HTML, 0, nil)
			p.add(Video, head)
		case inline(m.Caption, m.HTML):
			p.add(VideoWithCaption, nil)
		default:
			v := p.add(Video, nil)
			p.text(m.Caption, m.HTML, 0, v)
		}
	case element.MediaGroup:
		caption := e.Caption()
		switch {
		case caption == "":
			p.add(MediaGroup, nil)
		case e.TextUp:
			head := p.text(caption, e.HTML, 0, nil)
			p.add(MediaGroup, head)
		case inline(caption, e.HTML):
			p.add(MediaGroupWithCaption, nil)
		default:
			g := p.add(MediaGroup, nil)
			p.text(caption, e.HTML, 0, g)
		}
	case element.Poll:
		p.add(Poll, nil)
	case element.Link:
		p.add(Link, nil)
	case element.Compound:
		p.element(e.First)
		p.element(e.Second)
	default:
		panic(fmt.Sprintf("render: unexpected element type %T", e))
	}
}

// preview adds the tokens of a photo or gif.
func (p *projection) preview(m element.Media, bare, captioned, expanded TokenKind) {
	switch {
	case m.Caption == "":
		p.add(bare, nil)
	case !m.Expanded && inline(m.Caption, m.HTML):
		p.add(captioned, nil)
	default:
		p.text(expandedBody(m), true, expanded, nil)
	}
}

func inline(caption string, isHTML bool) bool {
	return element.VisibleLen(caption, isHTML) <= element.CaptionLimit
}

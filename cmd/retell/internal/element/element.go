// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package element composes a source post into a tree of elements, each of
// which maps to one or more Telegram messages.
//
// A post is folded attachment by attachment with [Combine], starting from
// [Null]. Elements are immutable values: Combine never changes its operands
// and never shares a slice with them.
//
// The set of element types is closed. Every type switch over [Element] in
// this module lists all of them and panics in its default branch, so a new
// type that is not handled everywhere fails the tests.
package element

import (
	"fmt"
	"slices"
	"strings"
)

// CaptionLimit is the maximum caption length, in characters, that Telegram
// accepts on a media message. Longer captions are sent as separate text.
const CaptionLimit = 1024

// Element is a node of a composed post.
type Element interface {
	fmt.Stringer
	isElement()
}

// Primitive is an element that is made directly from one attachment of a
// source post: [Text], [Photo], [Video], [Gif], [Poll] or [Link].
type Primitive interface {
	Element
	isPrimitive()
}

// Text is a text message. HTML is set when Body contains markup.
type Text struct {
	Body string
	HTML bool
}

// Media holds the fields shared by photos, videos and gifs.
type Media struct {
	URL     string
	Caption string
	// HTML is set when Caption contains markup.
	HTML bool
	// Expanded forces the caption out into its own text message regardless of
	// its length. It is set only by merges in text-up mode.
	Expanded bool
}

// Photo is a single photo.
type Photo struct{ Media }

// Video is a single video.
type Video struct{ Media }

// Gif is an animation. Telegram does not allow animations in albums.
type Gif struct{ Media }

// Poll is a native poll. Polls are always anonymous.
type Poll struct {
	Question string
	Options  []string
	Multiple bool
}

// Link is a bare URL.
type Link struct {
	URL string
}

// ItemKind is a kind of album item.
type ItemKind int

const (
	ItemPhoto ItemKind = iota + 1
	ItemVideo
)

func (k ItemKind) String() string {
	switch k {
	case ItemPhoto:
		return "photo"
	case ItemVideo:
		return "video"
	}
	return fmt.Sprintf("ItemKind(%d)", int(k))
}

// Item is one photo or video of an album.
type Item struct {
	Kind ItemKind
	URL  string
	// Caption is set only on the first item of an album.
	Caption string
}

// MediaGroup is an album of two or more photos and videos.
type MediaGroup struct {
	Items []Item
	// HTML is set when the caption contains markup.
	HTML bool
	// TextUp sends the caption as a separate message before the album.
	TextUp bool
}

// Caption returns the caption of the album, that is, of its first item.
func (g MediaGroup) Caption() string {
	if len(g.Items) == 0 {
		return ""
	}
	return g.Items[0].Caption
}

// withCaption returns a copy of g with the caption replaced.
func (g MediaGroup) withCaption(caption string, html bool) MediaGroup {
	items := slices.Clone(g.Items)
	items[0].Caption = caption
	return MediaGroup{Items: items, HTML: html, TextUp: g.TextUp}
}

// Compound is a pair of elements that cannot be sent as one message. First
// keeps absorbing text, photos and videos; Second keeps absorbing gifs,
// polls and links.
type Compound struct {
	First, Second Element
}

// Null is the empty element a post is composed from.
type Null struct{}

func (Text) isElement()       {}
func (Photo) isElement()      {}
func (Video) isElement()      {}
func (Gif) isElement()        {}
func (Poll) isElement()       {}
func (Link) isElement()       {}
func (MediaGroup) isElement() {}
func (Compound) isElement()   {}
func (Null) isElement()       {}

func (Text) isPrimitive()  {}
func (Photo) isPrimitive() {}
func (Video) isPrimitive() {}
func (Gif) isPrimitive()   {}
func (Poll) isPrimitive()  {}
func (Link) isPrimitive()  {}

func (t Text) String() string { return "Text(" + describeText(t.Body, t.HTML) + ")" }

func (p Photo) String() string { return "Photo" + p.Media.describe() }
func (v Video) String() string { return "Video" + v.Media.describe() }
func (g Gif) String() string   { return "Gif" + g.Media.describe() }

func (m Media) describe() string {
	var parts []string
	if m.Caption != "" {
		parts = append(parts, "caption="+describeText(m.Caption, m.HTML))
	}
	if m.Expanded {
		parts = append(parts, "expanded")
	}
	if len(parts) == 0 {
		return ""
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func (p Poll) String() string { return fmt.Sprintf("Poll(%q, %d options)", p.Question, len(p.Options)) }

func (l Link) String() string { return "Link(" + l.URL + ")" }

func (g MediaGroup) String() string {
	kinds := make([]string, len(g.Items))
	for i, it := range g.Items {
		kinds[i] = it.Kind.String()
	}
	s := "MediaGroup(" + strings.Join(kinds, ", ")
	if c := g.Caption(); c != "" {
		s += ", caption=" + describeText(c, g.HTML)
	}
	if g.TextUp {
		s += ", text-up"
	}
	return s + ")"
}

func (c Compound) String() string {
	return "Compound(" + c.First.String() + ", " + c.Second.String() + ")"
}

func (Null) String() string { return "Null" }

func describeText(body string, html bool) string {
	return fmt.Sprintf("%d chars", VisibleLen(body, html))
}

func unexpected(e Element) string {
	return fmt.Sprintf("element: unexpected element type %T", e)
}

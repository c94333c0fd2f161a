// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package sender defines the messages a rendered post is delivered as and the
// interface of the destination that delivers them.
package sender

import "context"

// MessageID identifies a delivered message. Messages reply to each other by
// ID.
type MessageID int

// Sender delivers messages to a configured destination chat.
type Sender interface {
	SendText(ctx context.Context, msg Text) (MessageID, error)
	SendPhoto(ctx context.Context, msg Media) (MessageID, error)
	SendVideo(ctx context.Context, msg Media) (MessageID, error)
	// SendDocument sends a file as a document. Gifs are sent this way.
	SendDocument(ctx context.Context, msg Media) (MessageID, error)
	// SendMediaGroup sends an album and returns the IDs of its messages, one
	// per item.
	SendMediaGroup(ctx context.Context, msg Album) ([]MessageID, error)
	SendPoll(ctx context.Context, msg Poll) (MessageID, error)
}

// Text is a text message.
type Text struct {
	Body string
	HTML bool
	// ReplyTo is the message this one replies to, if not zero.
	ReplyTo MessageID
}

// File is a file to upload. The destination fetches it from URL when Data is
// nil.
type File struct {
	URL  string
	Name string
	Data []byte
}

// Media is a photo, video or document with an optional caption.
type Media struct {
	File    File
	Caption string
	HTML    bool
	ReplyTo MessageID
}

// ItemKind is a kind of album item.
type ItemKind int

const (
	Photo ItemKind = iota + 1
	Video
)

// AlbumItem is one item of an album.
type AlbumItem struct {
	Kind    ItemKind
	File    File
	Caption string
	HTML    bool
}

// Album is a media group.
type Album struct {
	Items   []AlbumItem
	ReplyTo MessageID
}

// Poll is an anonymous poll.
type Poll struct {
	Question string
	Options  []string
	Multiple bool
	ReplyTo  MessageID
}

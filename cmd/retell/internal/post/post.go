// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package post defines a source post as it comes from a feed, before it is
// composed into messages.
package post

import (
	"context"
	"encoding/json"
	"fmt"
)

// Post is one source post: a text block and an unordered set of attachments.
type Post struct {
	ID     string   `json:"id"`
	Source string   `json:"source,omitempty"` // "vk", "rss"
	Text   string   `json:"text,omitempty"`
	Media  []Medium `json:"media,omitempty"`
	Poll   *Poll    `json:"poll,omitempty"`
	Links  []string `json:"links,omitempty"`
}

// Medium is a media attachment with a resolved URL.
type Medium struct {
	Kind MediumKind `json:"kind"`
	URL  string     `json:"url"`
}

// MediumKind is a kind of media attachment.
type MediumKind int

const (
	Photo MediumKind = iota + 1
	Video
	Gif
)

var kindNames = map[MediumKind]string{
	Photo: "photo",
	Video: "video",
	Gif:   "gif",
}

func (k MediumKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("MediumKind(%d)", int(k))
}

// MarshalJSON implements [json.Marshaler].
func (k MediumKind) MarshalJSON() ([]byte, error) {
	s, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("post: unknown medium kind %d", int(k))
	}
	return json.Marshal(s)
}

// UnmarshalJSON implements [json.Unmarshaler].
func (k *MediumKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for kind, name := range kindNames {
		if name == s {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("post: unknown medium kind %q", s)
}

// Poll is a poll attachment.
type Poll struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Multiple bool     `json:"multiple,omitempty"`
}

// Source delivers posts from a feed.
type Source interface {
	// Next blocks until new posts are available and returns them in arrival
	// order. It may return no posts and no error when a poll timed out.
	Next(ctx context.Context) ([]Post, error)
}

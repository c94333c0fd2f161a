// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package element

import (
	"fmt"
	"strings"

	"go.astrophena.name/retell/cmd/retell/internal/post"
)

// Options control how a post is composed.
type Options struct {
	Mode          Mode
	ClearHashtags bool
}

// Compose folds a post into a single element: the text first, then media in
// the order they were attached, then the poll, then links.
//
// The result is [Null] for a post with nothing to send.
func Compose(p post.Post, opts Options) (Element, error) {
	var acc Element = Null{}

	text := p.Text
	if opts.ClearHashtags {
		text = RemoveHashtags(text)
	}
	if strings.TrimSpace(text) != "" {
		acc = Combine(acc, NewText(text), opts.Mode)
	}

	for i, m := range p.Media {
		prim, err := medium(m)
		if err != nil {
			return nil, fmt.Errorf("media %d: %w", i, err)
		}
		acc = Combine(acc, prim, opts.Mode)
	}

	if p.Poll != nil {
		if len(p.Poll.Options) == 0 {
			return nil, fmt.Errorf("poll %q has no options", p.Poll.Question)
		}
		acc = Combine(acc, Poll{
			Question: p.Poll.Question,
			Options:  p.Poll.Options,
			Multiple: p.Poll.Multiple,
		}, opts.Mode)
	}

	for _, l := range p.Links {
		acc = Combine(acc, Link{URL: l}, opts.Mode)
	}

	return acc, nil
}

func medium(m post.Medium) (Primitive, error) {
	if m.URL == "" {
		return nil, fmt.Errorf("%v has no URL", m.Kind)
	}
	switch m.Kind {
	case post.Photo:
		return Photo{Media{URL: m.URL}}, nil
	case post.Video:
		return Video{Media{URL: m.URL}}, nil
	case post.Gif:
		return Gif{Media{URL: m.URL}}, nil
	}
	return nil, fmt.Errorf("unknown medium kind %v", m.Kind)
}

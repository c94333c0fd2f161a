// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package vk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.astrophena.name/retell/cmd/retell/internal/post"
	"go.astrophena.name/retell/internal/logger"
)

type update struct {
	Type    string          `json:"type"`
	Object  json.RawMessage `json:"object"`
	GroupID int64           `json:"group_id"`
	EventID string          `json:"event_id"`
}

type wallPost struct {
	ID          int64        `json:"id"`
	OwnerID     int64        `json:"owner_id"`
	FromID      int64        `json:"from_id"`
	Text        string       `json:"text"`
	Attachments []attachment `json:"attachments"`
}

type attachment struct {
	Type  string `json:"type"`
	Photo *photo `json:"photo"`
	Video *video `json:"video"`
	Doc   *doc   `json:"doc"`
	Poll  *poll  `json:"poll"`
	Link  *link  `json:"link"`
}

type photo struct {
	Sizes []photoSize `json:"sizes"`
}

type photoSize struct {
	Type   string `json:"type"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// largest returns the URL of the biggest copy of the photo.
func (p *photo) largest() string {
	var best photoSize
	for _, s := range p.Sizes {
		if s.Width*s.Height >= best.Width*best.Height {
			best = s
		}
	}
	return best.URL
}

type doc struct {
	Ext string `json:"ext"`
	URL string `json:"url"`
}

type poll struct {
	Question string `json:"question"`
	Answers  []struct {
		Text string `json:"text"`
	} `json:"answers"`
	Multiple bool `json:"multiple"`
}

type link struct {
	URL string `json:"url"`
}

// convert turns a wall_post_new event into a post. It returns false for
// events that are not new posts of the community.
func (s *Source) convert(ctx context.Context, u update) (post.Post, bool, error) {
	if u.Type != "wall_post_new" {
		return post.Post{}, false, nil
	}
	var wp wallPost
	if err := json.Unmarshal(u.Object, &wp); err != nil {
		return post.Post{}, false, fmt.Errorf("decoding wall post: %w", err)
	}
	if wp.FromID != -s.groupID {
		logger.Get(ctx).Debug("skipping post not from the community", slog.Int64("from_id", wp.FromID))
		return post.Post{}, false, nil
	}

	p := post.Post{
		ID:     fmt.Sprintf("%d_%d", wp.OwnerID, wp.ID),
		Source: "vk",
		Text:   wp.Text,
	}
	for _, a := range wp.Attachments {
		switch {
		case a.Type == "photo" && a.Photo != nil:
			if u := a.Photo.largest(); u != "" {
				p.Media = append(p.Media, post.Medium{Kind: post.Photo, URL: u})
			}
		case a.Type == "video" && a.Video != nil:
			u, err := s.api.resolveVideo(ctx, *a.Video)
			if err != nil {
				return post.Post{}, false, fmt.Errorf("post %s: %w", p.ID, err)
			}
			p.Media = append(p.Media, post.Medium{Kind: post.Video, URL: u})
		case a.Type == "doc" && a.Doc != nil && a.Doc.Ext == "gif":
			p.Media = append(p.Media, post.Medium{Kind: post.Gif, URL: a.Doc.URL})
		case a.Type == "poll" && a.Poll != nil:
			pl := &post.Poll{Question: a.Poll.Question, Multiple: a.Poll.Multiple}
			for _, ans := range a.Poll.Answers {
				pl.Options = append(pl.Options, ans.Text)
			}
			p.Poll = pl
		case a.Type == "link" && a.Link != nil:
			p.Links = append(p.Links, a.Link.URL)
		default:
			logger.Get(ctx).Debug("skipping attachment", slog.String("post", p.ID), slog.String("type", a.Type))
		}
	}
	return p, true, nil
}

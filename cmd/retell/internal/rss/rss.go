// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package rss implements a post source that polls an RSS, Atom or JSON feed.
package rss

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"go.astrophena.name/retell/cmd/retell/internal/post"
	"go.astrophena.name/retell/internal/logger"
	"go.astrophena.name/retell/internal/request"
	"go.astrophena.name/retell/internal/store"
	"go.astrophena.name/retell/internal/version"
)

const (
	defaultInterval = 10 * time.Minute
	stateKey        = "rss.state"
	seenLimit       = 1024 // N item IDs remembered
	readLimit       = 16384
)

// Config configures an RSS source.
type Config struct {
	URL string
	// Interval between polls. Defaults to 10 minutes.
	Interval   time.Duration
	Store      store.Store
	HTTPClient *http.Client
}

// Source polls a feed and returns its new items as posts.
type Source struct {
	url      string
	interval time.Duration
	store    store.Store
	httpc    *http.Client
	fp       *gofeed.Parser
	polled   bool
	sleep    func(context.Context, time.Duration) bool
}

// state is kept in the store between polls.
type state struct {
	ETag         string   `json:"etag,omitempty"`
	LastModified string   `json:"last_modified,omitempty"`
	Seen         []string `json:"seen"`
}

// New returns a new Source.
func New(cfg Config) (*Source, error) {
	if cfg.URL == "" {
		return nil, errors.New("rss: feed URL is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("rss: store is required")
	}
	s := &Source{
		url:      cfg.URL,
		interval: cfg.Interval,
		store:    cfg.Store,
		httpc:    cfg.HTTPClient,
		fp:       gofeed.NewParser(),
		sleep:    sleep,
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.httpc == nil {
		s.httpc = request.DefaultClient
	}
	return s, nil
}

// Next implements [post.Source]. The first call polls the feed at once, later
// calls wait for the poll interval first.
//
// When the feed is polled for the first time, its current items are
// remembered as seen and not returned.
func (s *Source) Next(ctx context.Context) ([]post.Post, error) {
	if s.polled {
		if !s.sleep(ctx, s.interval) {
			return nil, ctx.Err()
		}
	}
	s.polled = true

	st, exists, err := s.loadState(ctx)
	if err != nil {
		return nil, err
	}

	feed, err := s.fetch(ctx, &st)
	if err != nil {
		return nil, err
	}
	if feed == nil {
		logger.Get(ctx).Debug("unmodified feed", slog.String("feed", s.url))
		return nil, s.saveState(ctx, st)
	}

	var posts []post.Post
	// Feeds list the newest items first.
	for _, item := range slices.Backward(feed.Items) {
		id := itemID(item)
		if id == "" || slices.Contains(st.Seen, id) {
			continue
		}
		st.Seen = append(st.Seen, id)
		if !exists {
			continue
		}
		posts = append(posts, convert(id, item))
	}
	if !exists {
		logger.Get(ctx).Info("initialized feed state", slog.String("feed", s.url), slog.Int("items", len(st.Seen)))
	}
	// Every item still in the feed must stay seen, or it is posted again.
	if keep := max(seenLimit, len(feed.Items)); len(st.Seen) > keep {
		st.Seen = slices.Clone(st.Seen[len(st.Seen)-keep:])
	}

	return posts, s.saveState(ctx, st)
}

// fetch fetches and parses the feed. It returns nil if the feed was not
// modified since the last poll.
func (s *Source) fetch(ctx context.Context, st *state) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if st.ETag != "" {
		req.Header.Set("If-None-Match", st.ETag)
	}
	if st.LastModified != "" {
		req.Header.Set("If-Modified-Since", st.LastModified)
	}

	res, err := s.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rss: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotModified {
		return nil, nil
	}
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, readLimit))
		return nil, fmt.Errorf("rss: %s: %w", s.url, &request.StatusError{StatusCode: res.StatusCode, Body: body})
	}

	feed, err := s.fp.Parse(res.Body)
	if err != nil {
		return nil, fmt.Errorf("rss: parsing %s: %w", s.url, err)
	}

	st.ETag = res.Header.Get("ETag")
	if lastModified := res.Header.Get("Last-Modified"); lastModified != "" {
		st.LastModified = lastModified
	}
	return feed, nil
}

func (s *Source) loadState(ctx context.Context) (st state, exists bool, err error) {
	b, err := s.store.Get(ctx, stateKey)
	if err != nil {
		return st, false, fmt.Errorf("rss: loading state: %w", err)
	}
	if b == nil {
		return st, false, nil
	}
	if err := json.Unmarshal(b, &st); err != nil {
		return st, false, fmt.Errorf("rss: decoding state: %w", err)
	}
	return st, true, nil
}

func (s *Source) saveState(ctx context.Context, st state) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, stateKey, b); err != nil {
		return fmt.Errorf("rss: saving state: %w", err)
	}
	return nil
}

func itemID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	return item.Link
}

// convert turns a feed item into a post. The text is the title followed by
// the description with markup removed. Images of the description become
// photos when the item has no media enclosures.
func convert(id string, item *gofeed.Item) post.Post {
	p := post.Post{ID: id, Source: "rss"}

	var images []string
	desc := cmp.Or(item.Description, item.Content)
	if desc != "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(desc)); err == nil {
			doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
				images = append(images, s.AttrOr("src", ""))
			})
			desc = strings.TrimSpace(doc.Text())
		}
	}
	title := strings.TrimSpace(item.Title)
	switch {
	case title == "" || strings.HasPrefix(desc, title):
		p.Text = desc
	case desc == "":
		p.Text = title
	default:
		p.Text = title + "\n\n" + desc
	}

	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		switch typ := strings.ToLower(enc.Type); {
		case typ == "image/gif":
			p.Media = append(p.Media, post.Medium{Kind: post.Gif, URL: enc.URL})
		case strings.HasPrefix(typ, "image/"):
			p.Media = append(p.Media, post.Medium{Kind: post.Photo, URL: enc.URL})
		case strings.HasPrefix(typ, "video/"):
			p.Media = append(p.Media, post.Medium{Kind: post.Video, URL: enc.URL})
		}
	}
	if len(p.Media) == 0 {
		if item.Image != nil && item.Image.URL != "" {
			images = append([]string{item.Image.URL}, images...)
		}
		for _, u := range images {
			if u != "" && !slices.ContainsFunc(p.Media, func(m post.Medium) bool { return m.URL == u }) {
				p.Media = append(p.Media, post.Medium{Kind: post.Photo, URL: u})
			}
		}
	}

	if item.Link != "" {
		p.Links = []string{item.Link}
	}
	return p
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

var _ post.Source = (*Source)(nil)

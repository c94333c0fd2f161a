// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package rss

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.astrophena.name/retell/cmd/retell/internal/post"
	"go.astrophena.name/retell/internal/store"
	"go.astrophena.name/retell/internal/testutil"
)

const (
	feedHeader = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Test</title><link>https://example.com</link>`
	feedFooter = `</channel></rss>`
)

type fakeFeed struct {
	mu          sync.Mutex
	items       []string // newest first
	etag        string
	notModified int
}

func (f *fakeFeed) add(item string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append([]string{item}, f.items...)
	f.etag = fmt.Sprintf(`"v%d"`, len(f.items))
}

func (f *fakeFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.Header.Get("User-Agent") == "" {
		http.Error(w, "no user agent", http.StatusBadRequest)
		return
	}
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == f.etag {
		f.notModified++
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", f.etag)
	w.Header().Set("Content-Type", "application/rss+xml")
	fmt.Fprint(w, feedHeader+strings.Join(f.items, "")+feedFooter)
}

func newTestSource(t *testing.T, h http.Handler) *Source {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	s, err := New(Config{
		URL:        srv.URL,
		Interval:   time.Hour,
		Store:      store.NewMemStore(t.Context(), 0),
		HTTPClient: srv.Client(),
	})
	if err != nil {
		t.Fatal(err)
	}
	s.sleep = func(context.Context, time.Duration) bool { return true }
	return s
}

func item(guid, title, desc string, extra ...string) string {
	return `<item><guid>` + guid + `</guid><title>` + title + `</title><link>https://example.com/` + guid +
		`</link><description><![CDATA[` + desc + `]]></description>` + strings.Join(extra, "") + `</item>`
}

func TestNextSkipsExistingItems(t *testing.T) {
	t.Parallel()

	f := &fakeFeed{}
	f.add(item("1", "Old", "old post"))
	f.add(item("2", "Older", "older post"))
	s := newTestSource(t, f)

	posts, err := s.Next(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(posts), 0)

	f.add(item("3", "New", "<p>Hello <b>world</b></p>"))
	f.add(item("4", "Newer", "", `<enclosure url="https://example.com/a.gif" type="image/gif" length="1"/>`))

	posts, err = s.Next(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, posts, []post.Post{
		{
			ID:     "3",
			Source: "rss",
			Text:   "New\n\nHello world",
			Links:  []string{"https://example.com/3"},
		},
		{
			ID:     "4",
			Source: "rss",
			Text:   "Newer",
			Media:  []post.Medium{{Kind: post.Gif, URL: "https://example.com/a.gif"}},
			Links:  []string{"https://example.com/4"},
		},
	})

	// Nothing changed, the server replies with 304.
	posts, err = s.Next(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(posts), 0)
	f.mu.Lock()
	testutil.AssertEqual(t, f.notModified, 1)
	f.mu.Unlock()
}

func TestNextWaitsBetweenPolls(t *testing.T) {
	t.Parallel()

	f := &fakeFeed{}
	f.add(item("1", "Post", "text"))
	s := newTestSource(t, f)

	var waits []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) bool {
		waits = append(waits, d)
		return true
	}
	for range 3 {
		if _, err := s.Next(t.Context()); err != nil {
			t.Fatal(err)
		}
	}
	testutil.AssertEqual(t, waits, []time.Duration{time.Hour, time.Hour})
}

func TestNextCanceled(t *testing.T) {
	t.Parallel()

	f := &fakeFeed{}
	s := newTestSource(t, f)
	s.sleep = sleep

	if _, err := s.Next(t.Context()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := s.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Next() error = %v, want %v", err, context.Canceled)
	}
}

func TestNextServerError(t *testing.T) {
	t.Parallel()

	s := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))

	_, err := s.Next(t.Context())
	if err == nil || !strings.Contains(err.Error(), "down for maintenance") {
		t.Fatalf("Next() error = %v, want the response body", err)
	}
}

func TestConvert(t *testing.T) {
	t.Parallel()

	f := &fakeFeed{}
	s := newTestSource(t, f)

	cases := map[string]struct {
		item string
		want post.Post
	}{
		"enclosures": {
			item: item("a", "Media", "text",
				`<enclosure url="https://example.com/1.jpg" type="image/jpeg" length="1"/>`,
				`<enclosure url="https://example.com/2.mp4" type="video/mp4" length="1"/>`,
				`<enclosure url="https://example.com/3.mp3" type="audio/mpeg" length="1"/>`),
			want: post.Post{
				ID:     "a",
				Source: "rss",
				Text:   "Media\n\ntext",
				Media: []post.Medium{
					{Kind: post.Photo, URL: "https://example.com/1.jpg"},
					{Kind: post.Video, URL: "https://example.com/2.mp4"},
				},
				Links: []string{"https://example.com/a"},
			},
		},
		"images in description": {
			item: item("b", "Pictures", `<img src="https://example.com/x.png"><p>Look</p><img src="https://example.com/x.png">`),
			want: post.Post{
				ID:     "b",
				Source: "rss",
				Text:   "Pictures\n\nLook",
				Media:  []post.Medium{{Kind: post.Photo, URL: "https://example.com/x.png"}},
				Links:  []string{"https://example.com/b"},
			},
		},
		"title repeated in description": {
			item: item("c", "Same", "Same text"),
			want: post.Post{
				ID:     "c",
				Source: "rss",
				Text:   "Same text",
				Links:  []string{"https://example.com/c"},
			},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			feed, err := s.fp.ParseString(feedHeader + tc.item + feedFooter)
			if err != nil {
				t.Fatal(err)
			}
			testutil.AssertEqual(t, convert(itemID(feed.Items[0]), feed.Items[0]), tc.want)
		})
	}
}

func TestSeenLimit(t *testing.T) {
	t.Parallel()

	f := &fakeFeed{}
	for i := range 10 {
		f.add(item(fmt.Sprint(i), "Post", "text"))
	}
	s := newTestSource(t, f)

	// Items that already left the feed.
	var old state
	for i := range seenLimit {
		old.Seen = append(old.Seen, fmt.Sprintf("old%d", i))
	}
	if err := s.saveState(t.Context(), old); err != nil {
		t.Fatal(err)
	}

	posts, err := s.Next(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(posts), 10)
	st, exists, err := s.loadState(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, exists, true)
	testutil.AssertEqual(t, len(st.Seen), seenLimit)
	// The oldest items are forgotten first.
	testutil.AssertEqual(t, st.Seen[0], "old10")
	testutil.AssertEqual(t, st.Seen[len(st.Seen)-1], "9")
}

func TestSeenKeepsLongFeeds(t *testing.T) {
	t.Parallel()

	f := &fakeFeed{}
	for i := range seenLimit + 10 {
		f.add(item(fmt.Sprint(i), "Post", "text"))
	}
	s := newTestSource(t, f)

	if _, err := s.Next(t.Context()); err != nil {
		t.Fatal(err)
	}
	st, _, err := s.loadState(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(st.Seen), seenLimit+10)

	// A new item changes the ETag, so the whole feed is parsed again and
	// only the new item is returned.
	f.add(item("new", "New", "text"))
	posts, err := s.Next(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(posts), 1)
	testutil.AssertEqual(t, posts[0].ID, "new")
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Store: store.NewMemStore(t.Context(), 0)}); err == nil {
		t.Fatal("New() without URL succeeded")
	}
	if _, err := New(Config{URL: "https://example.com/feed.xml"}); err == nil {
		t.Fatal("New() without store succeeded")
	}
}

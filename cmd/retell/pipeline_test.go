// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.astrophena.name/retell/cmd/retell/internal/element"
	"go.astrophena.name/retell/cmd/retell/internal/filter"
	"go.astrophena.name/retell/cmd/retell/internal/post"
	"go.astrophena.name/retell/cmd/retell/internal/sender"
	"go.astrophena.name/retell/cmd/retell/internal/settings"
	"go.astrophena.name/retell/internal/testutil"
)

// fakeSource returns batches in order, then cancels the pipeline.
type fakeSource struct {
	batches []batch
	cancel  context.CancelFunc
	calls   int
}

type batch struct {
	posts []post.Post
	err   error
}

func (s *fakeSource) Next(ctx context.Context) ([]post.Post, error) {
	if s.calls == len(s.batches) {
		s.cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	b := s.batches[s.calls]
	s.calls++
	return b.posts, b.err
}

type fakeRenderer struct {
	mu       sync.Mutex
	rendered []string
	err      error
}

func (r *fakeRenderer) Render(ctx context.Context, e element.Element) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.rendered = append(r.rendered, e.String())
	return nil
}

type report struct {
	postID  string
	traceID string
	err     string
}

func testPipeline(t *testing.T, s settings.Settings, src *fakeSource, r *fakeRenderer) (*pipeline, *[]report) {
	t.Helper()
	flt, err := filter.New("", nil)
	if err != nil {
		t.Fatal(err)
	}
	var reports []report
	p := newPipeline(&pipeline{
		source:     src,
		filter:     flt,
		settings:   settings.New(s, nil),
		renderer:   r,
		retryDelay: time.Millisecond,
		now:        func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) },
		report: func(_ context.Context, p post.Post, traceID string, err error) {
			reports = append(reports, report{p.ID, traceID, err.Error()})
		},
	})
	return p, &reports
}

func TestPipeline(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	src := &fakeSource{
		cancel: cancel,
		batches: []batch{
			{posts: []post.Post{
				{ID: "1", Text: "first #news"},
				{ID: "2", Text: "no signal"},
			}},
			{err: errors.New("connection reset")},
			{posts: []post.Post{
				{ID: "3", Text: "#news with photo", Media: []post.Medium{{Kind: post.Photo, URL: "https://example.com/1.jpg"}}},
			}},
		},
	}
	r := new(fakeRenderer)
	p, reports := testPipeline(t, settings.Settings{Enabled: true, SignalWords: []string{"#news"}}, src, r)

	if err := p.run(ctx); err != nil {
		t.Fatalf("run() = %v", err)
	}

	testutil.AssertEqual(t, r.rendered, []string{
		element.NewText("first #news").String(),
		element.Photo{Media: element.Media{URL: "https://example.com/1.jpg", Caption: "#news with photo"}}.String(),
	})
	testutil.AssertEqual(t, len(*reports), 0)
	testutil.AssertEqual(t, src.calls, 3)

	status, ok := p.health()
	if !ok {
		t.Fatalf("health() = %q, false; want healthy", status)
	}
	testutil.AssertEqual(t, status, "last fetch at 2025-03-01T12:00:00Z; republished 2, skipped 1, failed 0")
}

func TestPipelineUsesCurrentSettings(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	src := &fakeSource{cancel: cancel, batches: []batch{{posts: []post.Post{{ID: "1", Text: "Sale #ad"}}}}}
	r := new(fakeRenderer)
	p, _ := testPipeline(t, settings.Settings{}, src, r)

	// Disabled on start, enabled before the post arrives.
	if _, err := p.settings.Update(ctx, func(s *settings.Settings) {
		s.Enabled = true
		s.ClearHashtags = true
	}); err != nil {
		t.Fatal(err)
	}
	if err := p.run(ctx); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, r.rendered, []string{element.NewText("Sale").String()})
}

func TestPipelineReportsFailures(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	src := &fakeSource{
		cancel: cancel,
		batches: []batch{{posts: []post.Post{
			{ID: "1", Text: "hello"},
			{ID: "2", Poll: &post.Poll{Question: "empty?"}},
		}}},
	}
	r := &fakeRenderer{err: errors.New("chat not found")}
	p, reports := testPipeline(t, settings.Settings{Enabled: true}, src, r)

	if err := p.run(ctx); err != nil {
		t.Fatal(err)
	}

	got := *reports
	if len(got) != 2 {
		t.Fatalf("got %d reports, want 2: %+v", len(got), got)
	}
	testutil.AssertEqual(t, got[0].postID, "1")
	testutil.AssertEqual(t, got[0].err, "rendering: chat not found")
	testutil.AssertEqual(t, got[1].postID, "2")
	if !strings.HasPrefix(got[1].err, "composing: ") {
		t.Errorf("second report = %q, want a composing error", got[1].err)
	}
	if len(got[0].traceID) != 26 || got[0].traceID == got[1].traceID {
		t.Errorf("trace IDs %q and %q must be distinct ULIDs", got[0].traceID, got[1].traceID)
	}
	status, _ := p.health()
	testutil.AssertEqual(t, status, "last fetch at 2025-03-01T12:00:00Z; republished 0, skipped 0, failed 2")
}

func TestPipelineHealthAfterSourceError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	src := &fakeSource{cancel: cancel, batches: []batch{{err: errors.New("unknown application")}}}
	p, _ := testPipeline(t, settings.Settings{Enabled: true}, src, new(fakeRenderer))

	status, ok := p.health()
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, status, "waiting for the first fetch")

	if err := p.run(ctx); err != nil {
		t.Fatal(err)
	}

	// The canceled fetch is not recorded.
	status, ok = p.health()
	testutil.AssertEqual(t, ok, false)
	testutil.AssertEqual(t, status, "last fetch at 2025-03-01T12:00:00Z failed: unknown application")
}

func TestReporter(t *testing.T) {
	t.Parallel()

	s := new(textSender)
	r := &reporter{sender: s}
	r.report(t.Context(), post.Post{ID: "-1_5", Source: "vk"}, "01HQ", errors.New("rendering: chat not found"))
	r.report(t.Context(), post.Post{ID: "7"}, "01HR", errors.New(strings.Repeat("x", 5000)))

	if len(s.sent) != 2 {
		t.Fatalf("sent %d reports, want 2", len(s.sent))
	}
	testutil.AssertEqual(t, s.sent[0], sender.Text{Body: "Failed to republish post -1_5 from vk.\n\nrendering: chat not found\n\nTrace: 01HQ\n"})
	if !strings.HasPrefix(s.sent[1].Body, "Failed to republish post 7.\n\nxxx") {
		t.Errorf("second report = %q", s.sent[1].Body[:40])
	}
	if n := len([]rune(s.sent[1].Body)); n != 4096 {
		t.Errorf("long report has %d runes, want 4096", n)
	}
}

func TestReporterSendFailureIsLogged(t *testing.T) {
	t.Parallel()

	s := &textSender{err: errors.New("bot was blocked")}
	r := &reporter{sender: s}
	// Must not panic or block.
	r.report(t.Context(), post.Post{ID: "1"}, "01HQ", errors.New("boom"))
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		in   string
		n    int
		want string
	}{
		"short":    {in: "abc", n: 3, want: "abc"},
		"cut":      {in: "abcdef", n: 4, want: "abc…"},
		"unicode":  {in: "приветствую", n: 7, want: "привет…"},
		"empty":    {in: "", n: 1, want: ""},
		"one left": {in: "ab", n: 1, want: "…"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			testutil.AssertEqual(t, truncate(tc.in, tc.n), tc.want)
		})
	}
}

type textSender struct {
	sender.Sender // only SendText is used
	sent          []sender.Text
	err           error
}

func (s *textSender) SendText(_ context.Context, msg sender.Text) (sender.MessageID, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.sent = append(s.sent, msg)
	return sender.MessageID(len(s.sent)), nil
}

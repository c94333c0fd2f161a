// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"go.astrophena.name/retell/cmd/retell/internal/element"
	"go.astrophena.name/retell/cmd/retell/internal/filter"
	"go.astrophena.name/retell/cmd/retell/internal/post"
	"go.astrophena.name/retell/cmd/retell/internal/settings"
	"go.astrophena.name/retell/internal/logger"
	"go.astrophena.name/retell/internal/util/syncx"
)

const defaultRetryDelay = 10 * time.Second

type renderer interface {
	Render(context.Context, element.Element) error
}

// pipeline takes posts from a source and republishes them one by one.
type pipeline struct {
	source   post.Source
	filter   *filter.Filter
	settings *settings.Store
	renderer renderer
	report   func(ctx context.Context, p post.Post, traceID string, err error)

	retryDelay time.Duration
	now        func() time.Time

	state *syncx.Protected[*pipelineState]
}

type pipelineState struct {
	lastFetch   time.Time
	lastErr     error
	republished int
	skipped     int
	failed      int
}

func newPipeline(p *pipeline) *pipeline {
	if p.retryDelay == 0 {
		p.retryDelay = defaultRetryDelay
	}
	if p.now == nil {
		p.now = time.Now
	}
	p.state = syncx.Protect(new(pipelineState))
	return p
}

// run republishes posts until ctx is canceled. A source that fails is asked
// again after a delay.
func (p *pipeline) run(ctx context.Context) error {
	log := logger.Get(ctx)
	for {
		posts, err := p.source.Next(ctx)
		if ctx.Err() != nil {
			return nil
		}
		p.state.Access(func(s *pipelineState) {
			s.lastFetch, s.lastErr = p.now(), err
		})
		if err != nil {
			log.Error("fetching posts failed", "error", err, "retry_in", p.retryDelay)
			if !sleep(ctx, p.retryDelay) {
				return nil
			}
			continue
		}

		for _, pst := range posts {
			if ctx.Err() != nil {
				return nil
			}
			p.handle(ctx, pst)
		}
	}
}

// handle republishes one post. Failures are logged and reported.
func (p *pipeline) handle(ctx context.Context, pst post.Post) {
	traceID := ulid.MustNew(ulid.Timestamp(p.now()), ulid.Monotonic(rand.Reader, 0)).String()
	l := logger.Get(ctx)
	log := &logger.Logger{Logger: l.With("post", traceID), Level: l.Level}
	ctx = logger.Put(ctx, log)

	kept, err := p.process(ctx, pst)
	p.state.Access(func(s *pipelineState) {
		switch {
		case err != nil:
			s.failed++
		case kept:
			s.republished++
		default:
			s.skipped++
		}
	})
	if err == nil {
		return
	}
	log.Error("republishing failed", "source_id", pst.ID, "error", err)
	if p.report != nil {
		p.report(ctx, pst, traceID, err)
	}
}

func (p *pipeline) process(ctx context.Context, pst post.Post) (kept bool, err error) {
	log := logger.Get(ctx)
	s := p.settings.Snapshot()

	res := p.filter.Apply(ctx, s, pst)
	if !res.Keep {
		log.Info("skipping post", "source_id", pst.ID, "reason", res.Reason)
		return false, nil
	}
	log.Debug("post passed filters", "source_id", pst.ID, "reason", res.Reason)

	e, err := element.Compose(pst, element.Options{
		Mode:          s.GifMediaGroupMode,
		ClearHashtags: s.ClearHashtags,
	})
	if err != nil {
		return true, fmt.Errorf("composing: %w", err)
	}
	log.Debug("composed", "element", e)

	if err := p.renderer.Render(ctx, e); err != nil {
		return true, fmt.Errorf("rendering: %w", err)
	}
	log.Info("republished post", "source_id", pst.ID)
	return true, nil
}

// health reports whether the last fetch succeeded.
func (p *pipeline) health() (status string, ok bool) {
	p.state.RAccess(func(s *pipelineState) {
		switch {
		case s.lastFetch.IsZero():
			status, ok = "waiting for the first fetch", true
		case s.lastErr != nil:
			status = fmt.Sprintf("last fetch at %s failed: %v", s.lastFetch.Format(time.RFC3339), s.lastErr)
		default:
			status = fmt.Sprintf("last fetch at %s; republished %d, skipped %d, failed %d",
				s.lastFetch.Format(time.RFC3339), s.republished, s.skipped, s.failed)
			ok = true
		}
	})
	return status, ok
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

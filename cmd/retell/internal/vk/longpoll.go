// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package vk

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.astrophena.name/retell/cmd/retell/internal/post"
	"go.astrophena.name/retell/internal/logger"
	"go.astrophena.name/retell/internal/request"
	"go.astrophena.name/retell/internal/store"
)

const (
	pollWait = 25      // seconds a long-poll request waits for events
	tsKey    = "vk.ts" // store key of the last acknowledged cursor
)

// Config configures a VK source.
type Config struct {
	// Token is a community access token.
	Token string
	// GroupID is the community ID, positive.
	GroupID int64
	// APIVersion defaults to a version the source is tested with.
	APIVersion string
	// APIURL overrides the API endpoint in tests.
	APIURL string
	// Store keeps the cursor between restarts. It is optional.
	Store store.Store
	// HTTPClient is used for API and long-poll requests. Its timeout must be
	// longer than the long-poll wait.
	HTTPClient *http.Client
}

// Source receives new posts of a community.
type Source struct {
	api     *client
	groupID int64
	store   store.Store
	sess    *session
}

// session is the long-poll session. The cursor (ts) advances with every
// successful poll.
type session struct {
	server string
	key    string
	ts     cursor
}

type checkResponse struct {
	TS      cursor   `json:"ts"`
	Updates []update `json:"updates"`
	Failed  int      `json:"failed"`
}

// New returns a new Source.
func New(cfg Config) (*Source, error) {
	if cfg.Token == "" {
		return nil, errors.New("vk: token is required")
	}
	if cfg.GroupID <= 0 {
		return nil, fmt.Errorf("vk: invalid group ID %d", cfg.GroupID)
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: (pollWait + 10) * time.Second}
	}
	return &Source{
		api: &client{
			apiURL:   strings.TrimSuffix(cmp.Or(cfg.APIURL, defaultAPIURL), "/"),
			token:    cfg.Token,
			version:  cmp.Or(cfg.APIVersion, defaultAPIVersion),
			httpc:    httpc,
			scrubber: strings.NewReplacer(cfg.Token, "[REDACTED]"),
		},
		groupID: cfg.GroupID,
		store:   cfg.Store,
	}, nil
}

// Next implements [post.Source]. It makes one long-poll request and returns
// the new posts it delivered.
//
// Stale session state is refreshed without losing events: an outdated cursor
// is replaced by the one VK returns, an expired key is fetched again, and lost
// session information is fetched again as a whole. The "unknown application"
// error drops the session, so the next call starts a new one.
func (s *Source) Next(ctx context.Context) ([]post.Post, error) {
	posts, err := s.next(ctx)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.IsUnknownApplication() {
			logger.Get(ctx).Error("long poll request failed, restarting session",
				slog.Int("code", apiErr.Code), slog.String("message", apiErr.Message))
			s.sess = nil
		}
		return nil, err
	}
	return posts, nil
}

func (s *Source) next(ctx context.Context) ([]post.Post, error) {
	if s.sess == nil {
		if err := s.start(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := request.MakeJSON[checkResponse](ctx, request.Params{
		URL: s.sess.server,
		Query: url.Values{
			"act":  {"a_check"},
			"key":  {s.sess.key},
			"ts":   {string(s.sess.ts)},
			"wait": {strconv.Itoa(pollWait)},
		},
		HTTPClient: s.api.httpc,
		Scrubber:   s.api.scrubber,
	})
	if err != nil {
		return nil, fmt.Errorf("vk: long poll: %w", err)
	}

	log := logger.Get(ctx)
	switch resp.Failed {
	case 0:
	case 1:
		log.Debug("long poll cursor is outdated, using the new one", slog.String("ts", string(resp.TS)))
		s.sess.ts = resp.TS
		s.saveTS(ctx)
		return nil, nil
	case 2:
		log.Debug("long poll key expired, requesting it again")
		srv, err := s.api.getLongPollServer(ctx, s.groupID)
		if err != nil {
			return nil, err
		}
		s.sess.key = srv.Key
		return nil, nil
	case 3:
		log.Debug("long poll information lost, requesting key and cursor again")
		srv, err := s.api.getLongPollServer(ctx, s.groupID)
		if err != nil {
			return nil, err
		}
		s.sess = &session{server: srv.Server, key: srv.Key, ts: srv.TS}
		s.saveTS(ctx)
		return nil, nil
	default:
		return nil, fmt.Errorf("vk: unexpected long poll failure %d", resp.Failed)
	}

	var posts []post.Post
	for _, u := range resp.Updates {
		p, ok, err := s.convert(ctx, u)
		if err != nil {
			log.Error("skipping update", slog.String("type", u.Type), slog.Any("error", err))
			continue
		}
		if ok {
			posts = append(posts, p)
		}
	}

	s.sess.ts = resp.TS
	s.saveTS(ctx)
	return posts, nil
}

// start begins a new session. A cursor remembered from the previous run is
// preferred, so posts made while the source was stopped are delivered.
func (s *Source) start(ctx context.Context) error {
	srv, err := s.api.getLongPollServer(ctx, s.groupID)
	if err != nil {
		return err
	}
	sess := &session{server: srv.Server, key: srv.Key, ts: srv.TS}
	if s.store != nil {
		b, err := s.store.Get(ctx, tsKey)
		if err != nil {
			return fmt.Errorf("vk: loading cursor: %w", err)
		}
		if len(b) > 0 {
			sess.ts = cursor(b)
		}
	}
	logger.Get(ctx).Debug("long poll session started", slog.String("ts", string(sess.ts)))
	s.sess = sess
	return nil
}

func (s *Source) saveTS(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.Set(ctx, tsKey, []byte(s.sess.ts)); err != nil {
		logger.Get(ctx).Warn("saving cursor", slog.Any("error", err))
	}
}

var _ post.Source = (*Source)(nil)

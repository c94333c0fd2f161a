// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package httplogger provides a http.RoundTripper middleware that logs HTTP
// requests and responses.
//
// Records go to the [logger.Logger] carried by the request context at debug
// level, so they cost nothing unless debug logging is enabled.
package httplogger

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.astrophena.name/retell/internal/logger"
)

// New returns a http.RoundTripper that logs every request made through t.
// Each of secrets is replaced with [REDACTED] in logged URLs and errors.
// If t is nil, [http.DefaultTransport] is used.
func New(t http.RoundTripper, secrets ...string) http.RoundTripper {
	if t == nil {
		t = http.DefaultTransport
	}
	var oldnew []string
	for _, s := range secrets {
		if s != "" {
			oldnew = append(oldnew, s, "[REDACTED]")
		}
	}
	return &loggingTransport{transport: t, scrubber: strings.NewReplacer(oldnew...)}
}

type loggingTransport struct {
	transport http.RoundTripper
	scrubber  *strings.Replacer
}

func (t *loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()
	l := logger.Get(ctx)
	if !l.Enabled(ctx, slog.LevelDebug) {
		return t.transport.RoundTrip(r)
	}

	start := time.Now()
	resp, err := t.transport.RoundTrip(r)

	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("url", t.scrubber.Replace(r.URL.String())),
		slog.Duration("duration", time.Since(start).Round(time.Millisecond)),
	}
	if resp != nil {
		attrs = append(attrs, slog.Int("status", resp.StatusCode))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", t.scrubber.Replace(err.Error())))
	}
	l.LogAttrs(ctx, slog.LevelDebug, "http request", attrs...)

	return resp, err
}

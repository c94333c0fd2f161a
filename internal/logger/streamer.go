// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package logger

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// Streamer is an io.Writer that remembers recently logged lines and allows
// to stream them.
type Streamer interface {
	io.Writer
	http.Handler

	// Lines returns remembered lines, oldest first.
	Lines() []string

	// Stream returns a channel receiving newly logged lines. The returned
	// function deregisters the stream.
	Stream() (<-chan string, func())
}

// NewStreamer returns a new Streamer that remembers at most size lines.
func NewStreamer(size int) Streamer {
	return &ring{
		lines:   make([]string, 0, size),
		size:    size,
		streams: make(map[chan string]struct{}),
	}
}

type ring struct {
	mu      sync.Mutex
	lines   []string
	next    int // index of the oldest line once lines is full
	size    int
	partial string
	streams map[chan string]struct{}
}

func (r *ring) Write(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	text := r.partial + string(b)
	for {
		i := strings.IndexByte(text, '\n')
		if i == -1 {
			break
		}
		r.push(text[:i+1])
		text = text[i+1:]
	}
	r.partial = text
	return len(b), nil
}

func (r *ring) push(line string) {
	if len(r.lines) < r.size {
		r.lines = append(r.lines, line)
	} else {
		r.lines[r.next] = line
		r.next = (r.next + 1) % r.size
	}
	for s := range r.streams {
		select {
		case s <- line:
		default:
			// Slow readers miss lines.
		}
	}
}

func (r *ring) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	return append(out, r.lines[:r.next]...)
}

func (r *ring) Stream() (<-chan string, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := make(chan string, r.size+1)
	r.streams[s] = struct{}{}

	var once sync.Once
	return s, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.streams, s)
			close(s)
		})
	}
}

func (r *ring) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")

	events := strings.Contains(strings.ToLower(req.Header.Get("Accept")), "text/event-stream")
	if events {
		w.Header().Set("Content-Type", "text/event-stream")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for _, line := range r.Lines() {
			io.WriteString(w, line)
		}
	}
	flush := func() {
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
	flush()

	stream, done := r.Stream()
	defer done()

	for {
		select {
		case line := <-stream:
			if events {
				// See https://developer.mozilla.org/en-US/docs/Web/API/Server-sent_events/Using_server-sent_events.
				fmt.Fprintf(w, "event: logline\ndata: %s\n", line)
			} else {
				io.WriteString(w, line)
			}
			flush()
		case <-req.Context().Done():
			return
		}
	}
}

var _ Streamer = (*ring)(nil)

// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.astrophena.name/retell/internal/testutil"
)

func TestRespondJSONError(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		err        error
		wantStatus int
		wantBody   errorResponse
	}{
		"bad request": {
			err:        fmt.Errorf("enabled must be a boolean: %w", ErrBadRequest),
			wantStatus: http.StatusBadRequest,
			wantBody:   errorResponse{Status: "error", Error: "enabled must be a boolean: bad request"},
		},
		"unauthorized": {
			err:        ErrUnauthorized,
			wantStatus: http.StatusUnauthorized,
			wantBody:   errorResponse{Status: "error", Error: "unauthorized"},
		},
		"plain error": {
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   errorResponse{Status: "error", Error: "boom"},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			w := httptest.NewRecorder()
			RespondJSONError(w, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)
			testutil.AssertEqual(t, w.Code, tc.wantStatus)
			testutil.AssertEqual(t, w.Header().Get("Content-Type"), "application/json")
			testutil.AssertEqual(t, testutil.UnmarshalJSON[errorResponse](t, w.Body.Bytes()), tc.wantBody)
		})
	}
}

func TestRespondJSONMarshalError(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	RespondJSON(w, make(chan int))
	testutil.AssertEqual(t, w.Code, http.StatusInternalServerError)
}

func TestHealthHandler(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		checks     map[string]HealthFunc
		want       HealthResponse
		wantStatus int
	}{
		"no checks": {
			checks:     map[string]HealthFunc{},
			want:       HealthResponse{OK: true, Checks: map[string]CheckResponse{}},
			wantStatus: http.StatusOK,
		},
		"ok": {
			checks: map[string]HealthFunc{
				"source": func() (string, bool) { return "polling", true },
			},
			want: HealthResponse{OK: true, Checks: map[string]CheckResponse{
				"source": {Status: "polling", OK: true},
			}},
			wantStatus: http.StatusOK,
		},
		"failing": {
			checks: map[string]HealthFunc{
				"source": func() (string, bool) { return "polling", true },
				"render": func() (string, bool) { return "last post failed", false },
			},
			want: HealthResponse{OK: false, Checks: map[string]CheckResponse{
				"source": {Status: "polling", OK: true},
				"render": {Status: "last post failed", OK: false},
			}},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			h := NewHealthHandler()
			for name, f := range tc.checks {
				h.RegisterFunc(name, f)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			testutil.AssertEqual(t, w.Code, tc.wantStatus)
			testutil.AssertEqual(t, testutil.UnmarshalJSON[HealthResponse](t, w.Body.Bytes()), tc.want)
		})
	}
}

func TestHealthDuplicatePanics(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("RegisterFunc must panic on duplicate name")
		}
	}()
	h := NewHealthHandler()
	h.RegisterFunc("a", func() (string, bool) { return "", true })
	h.RegisterFunc("a", func() (string, bool) { return "", true })
}

func TestServer(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "pong") })

	ready := make(chan string, 1)
	s := &Server{Addr: "127.0.0.1:0", Mux: mux, Ready: func(addr string) { ready <- addr }}

	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe(ctx) }()

	var addr string
	select {
	case addr = <-ready:
	case err := <-errCh:
		t.Fatal(err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	res, err := http.Get("http://" + addr + "/ping")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(res.Body)
	res.Body.Close()
	testutil.AssertEqual(t, string(b), "pong")

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("ListenAndServe() = %v, want nil after shutdown", err)
	}
}

func TestServerMisconfigured(t *testing.T) {
	t.Parallel()
	if err := (&Server{Mux: http.NewServeMux()}).ListenAndServe(t.Context()); err == nil {
		t.Fatal("want error for empty Addr")
	}
	if err := (&Server{Addr: ":0"}).ListenAndServe(t.Context()); err == nil {
		t.Fatal("want error for nil Mux")
	}
}


// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"go.astrophena.name/retell/cmd/retell/internal/settings"
	"go.astrophena.name/retell/internal/logger"
	"go.astrophena.name/retell/internal/web"
)

// adminMux returns the handler of the admin HTTP API.
func adminMux(password string, store *settings.Store, health *web.HealthHandler, logs logger.Streamer) *http.ServeMux {
	mux := http.NewServeMux()
	auth := requirePassword(password)

	mux.Handle("/", auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		web.RespondJSONError(w, r, web.ErrNotFound)
	})))
	mux.Handle("/health", health)
	mux.Handle("/api/settings", auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			web.RespondJSON(w, store.Snapshot())
		case http.MethodPost:
			handlePostSettings(w, r, store)
		default:
			web.RespondJSONError(w, r, fmt.Errorf("method not allowed: %w", web.ErrMethodNotAllowed))
		}
	})))
	mux.Handle("/debug/logs", auth(logs))

	return mux
}

func handlePostSettings(w http.ResponseWriter, r *http.Request, store *settings.Store) {
	query := r.URL.Query()
	if len(query) == 0 {
		web.RespondJSONError(w, r, fmt.Errorf("%w: query must contain at least one setting", web.ErrBadRequest))
		return
	}

	var enabled bool
	for key, values := range query {
		if key != "enabled" {
			web.RespondJSONError(w, r, fmt.Errorf("%w: unknown setting %q, try \"enabled\"", web.ErrBadRequest, key))
			return
		}
		switch strings.ToLower(values[0]) {
		case "true":
			enabled = true
		case "false":
			enabled = false
		default:
			web.RespondJSONError(w, r, fmt.Errorf("%w: enabled must be true or false", web.ErrBadRequest))
			return
		}
	}

	log := logger.Get(r.Context())
	s, err := store.Update(r.Context(), func(s *settings.Settings) {
		switch {
		case s.Enabled == enabled:
			log.Info("republishing already in requested state", "enabled", s.Enabled)
		case enabled:
			log.Info("enabling republishing")
		default:
			log.Info("disabling republishing")
		}
		s.Enabled = enabled
	})
	if err != nil {
		web.RespondJSONError(w, r, fmt.Errorf("saving settings: %w", err))
		return
	}
	web.RespondJSON(w, s)
}

// requirePassword returns a middleware that lets through only requests
// carrying the password as a bearer token.
func requirePassword(password string) func(http.Handler) http.Handler {
	want := []byte("Bearer " + password)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if password == "" || subtle.ConstantTimeCompare(got, want) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				web.RespondJSONError(w, r, web.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

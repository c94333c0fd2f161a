// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"net/http"

	"go.astrophena.name/retell/internal/util/syncx"
)

// HealthHandler is an HTTP handler that reports the health of the running
// service as JSON.
type HealthHandler struct{ checks *syncx.Protected[map[string]HealthFunc] }

// HealthFunc reports the state of a particular subsystem. It must be safe
// for concurrent use.
type HealthFunc func() (status string, ok bool)

// NewHealthHandler returns an empty HealthHandler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{checks: syncx.Protect(make(map[string]HealthFunc))}
}

// RegisterFunc registers the health check function by the given name. If the
// health check function with this name already exists, RegisterFunc panics.
func (h *HealthHandler) RegisterFunc(name string, f HealthFunc) {
	h.checks.Access(func(checks map[string]HealthFunc) {
		if _, dup := checks[name]; dup {
			panic("web: health check " + name + " already registered")
		}
		checks[name] = f
	})
}

// HealthResponse represents a response of the health endpoint.
type HealthResponse struct {
	OK     bool                     `json:"ok"`
	Checks map[string]CheckResponse `json:"checks"`
}

// CheckResponse represents a status of an individual check.
type CheckResponse struct {
	Status string `json:"status"`
	OK     bool   `json:"ok"`
}

// ServeHTTP implements the [http.Handler] interface.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hr := &HealthResponse{
		OK:     true,
		Checks: make(map[string]CheckResponse),
	}
	h.checks.RAccess(func(checks map[string]HealthFunc) {
		for name, f := range checks {
			status, ok := f()
			if !ok {
				hr.OK = false
			}
			hr.Checks[name] = CheckResponse{Status: status, OK: ok}
		}
	})

	status := http.StatusOK
	if !hr.OK {
		status = http.StatusInternalServerError
	}
	respondJSON(w, status, hr)
}

// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package render

import (
	"context"
	"log/slog"
	"strings"

	"go.astrophena.name/retell/internal/logger"
)

// retry calls call until it succeeds or fails with something other than a
// timeout. Timeouts are retried without delay and without limit.
func retry[T any](ctx context.Context, call func(context.Context) (T, error)) (T, error) {
	for attempt := 1; ; attempt++ {
		v, err := call(ctx)
		if err == nil || !isTimeout(err) {
			return v, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return v, ctxErr
		}
		logger.Get(ctx).Warn("retrying timed out call", slog.Int("attempt", attempt), slog.Any("error", err))
	}
}

// isTimeout reports whether err looks like a timeout.
func isTimeout(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "time") && strings.Contains(msg, "out")
}

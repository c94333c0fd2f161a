// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package systemd enables applications to signal readiness and update watchdog
// timestamp to systemd.
package systemd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.astrophena.name/retell/internal/logger"
)

// State defines a sd-notify protocol state.
// See https://www.freedesktop.org/software/systemd/man/sd_notify.html.
type State string

const (
	// Ready tells the service manager that service startup is
	// finished, or the service finished loading its configuration.
	Ready State = "READY=1"

	// Stopping tells the service manager that the service is beginning its
	// shutdown.
	Stopping State = "STOPPING=1"

	// Watchdog tells the service manager to update the watchdog timestamp.
	Watchdog State = "WATCHDOG=1"
)

// Notifier talks to systemd over the notification socket. The zero Notifier
// does nothing, as if the program is not running under systemd.
type Notifier struct {
	// Socket is the notification socket path, taken from NOTIFY_SOCKET.
	Socket string
	// WatchdogInterval is how often the watchdog must be notified, taken from
	// WATCHDOG_USEC. Zero disables the watchdog.
	WatchdogInterval time.Duration
}

// FromEnv returns a Notifier configured from environment variables looked up
// by getenv.
func FromEnv(getenv func(string) string) (*Notifier, error) {
	n := &Notifier{Socket: getenv("NOTIFY_SOCKET")}
	usec := getenv("WATCHDOG_USEC")
	if usec == "" {
		return n, nil
	}
	s, err := strconv.Atoi(usec)
	if err != nil {
		return nil, fmt.Errorf("systemd: error converting WATCHDOG_USEC: %w", err)
	}
	if s <= 0 {
		return nil, errors.New("systemd: WATCHDOG_USEC must be a positive number")
	}
	n.WatchdogInterval = time.Duration(s) * time.Microsecond
	return n, nil
}

// Notify sends a message to systemd using the sd_notify protocol. If it fails,
// the error is logged.
func (n *Notifier) Notify(ctx context.Context, state State) {
	if n.Socket == "" {
		return
	}
	if err := n.send(state); err != nil {
		logger.Get(ctx).Warn("systemd: failed when notifying", "state", state, "error", err)
	}
}

func (n *Notifier) send(state State) error {
	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Net: "unixgram", Name: n.Socket})
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write([]byte(state))
	return err
}

// WatchdogLoop notifies the watchdog at half of its interval until ctx is
// canceled. It returns immediately if the watchdog is disabled.
func (n *Notifier) WatchdogLoop(ctx context.Context) {
	if n.Socket == "" || n.WatchdogInterval <= 0 {
		return
	}

	ticker := time.NewTicker(n.WatchdogInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.Notify(ctx, Watchdog)
		case <-ctx.Done():
			return
		}
	}
}

// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package atomicio provides atomic file writing with backups.
//
// It is used to save the configuration file when settings are changed at
// runtime, so a crash never leaves a half-written config behind.
package atomicio

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"
)

const (
	// Fixed width, so backups sort lexically in time order.
	backupTimeFormat = "20060102150405.000000000"
	maxBackups       = 5
)

// WriteFile writes data to a file atomically. If the file exists, it is
// kept as a timestamped backup next to it, and backups beyond the most
// recent few are removed.
func WriteFile(name string, data []byte, perm fs.FileMode) (err error) {
	// Same directory, so os.Rename stays on one filesystem.
	f, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Chmod(perm); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := backup(name); err != nil {
		return err
	}
	if err := os.Rename(f.Name(), name); err != nil {
		return err
	}
	return pruneBackups(name)
}

func backup(name string) error {
	old, err := os.ReadFile(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	st, err := os.Stat(name)
	if err != nil {
		return err
	}
	bak := name + "." + time.Now().UTC().Format(backupTimeFormat) + ".bak"
	return os.WriteFile(bak, old, st.Mode().Perm())
}

func pruneBackups(name string) error {
	backups, err := filepath.Glob(name + ".*.bak")
	if err != nil {
		return err
	}
	if len(backups) <= maxBackups {
		return nil
	}
	slices.Sort(backups)
	for _, b := range backups[:len(backups)-maxBackups] {
		if err := os.Remove(b); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

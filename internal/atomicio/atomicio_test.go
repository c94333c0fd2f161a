// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package atomicio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.astrophena.name/retell/internal/testutil"
)

func TestWriteFile(t *testing.T) {
	t.Parallel()

	t.Run("new file", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "config.yml")

		if err := WriteFile(file, []byte("enabled: true\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		got, err := os.ReadFile(file)
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, string(got), "enabled: true\n")

		backups, err := filepath.Glob(file + ".*.bak")
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, len(backups), 0)

		st, err := os.Stat(file)
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, st.Mode().Perm(), os.FileMode(0o600))
	})

	t.Run("overwrite keeps backup", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "config.yml")

		if err := WriteFile(file, []byte("enabled: true\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := WriteFile(file, []byte("enabled: false\n"), 0o644); err != nil {
			t.Fatal(err)
		}

		got, err := os.ReadFile(file)
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, string(got), "enabled: false\n")

		backups, err := filepath.Glob(file + ".*.bak")
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, len(backups), 1)
		old, err := os.ReadFile(backups[0])
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, string(old), "enabled: true\n")
	})

	t.Run("prune", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "config.yml")

		for i := range maxBackups + 3 {
			if err := WriteFile(file, []byte{byte(i)}, 0o644); err != nil {
				t.Fatal(err)
			}
			// Unique backup timestamps.
			time.Sleep(2 * time.Millisecond)
		}

		backups, err := filepath.Glob(file + ".*.bak")
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, len(backups), maxBackups)

		// The newest backup holds the second to last write.
		newest, err := os.ReadFile(backups[len(backups)-1])
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, newest, []byte{byte(maxBackups + 1)})
	})
}

// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"go.astrophena.name/retell/internal/cli"
	"go.astrophena.name/retell/internal/cli/clitest"
	"go.astrophena.name/retell/internal/filelock"
	"go.astrophena.name/retell/internal/testutil"
)

var update = flag.Bool("update", false, "update golden files in testdata")

func TestMain(m *testing.M) {
	flag.Parse()
	os.Exit(m.Run())
}

// Typical Telegram Bot API token, copied from docs.
const tgToken = "123456:ABC-DEF1234ghIkl-zyx57W2v1u123ew11"

const validConfig = `source: vk
vk:
  group_id: 42
telegram:
  chat_id: -1001
enabled: true
signal_words: ["#news"]
gif_media_group_mode: text_up
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCLI(t *testing.T) {
	t.Parallel()

	validPath := writeConfig(t, validConfig)
	secrets := map[string]string{"VK_TOKEN": "vk-token", "TELEGRAM_TOKEN": tgToken}
	post := filepath.Join("testdata", "render", "album_gif.json")

	clitest.Run(t, func(t *testing.T) *app { return new(app) }, map[string]clitest.Case[*app]{
		"no command": {
			Args:    []string{},
			WantErr: cli.ErrInvalidArgs,
		},
		"unknown command": {
			Args:    []string{"publish"},
			WantErr: cli.ErrInvalidArgs,
		},
		"render without a post": {
			Args:    []string{"render"},
			WantErr: cli.ErrInvalidArgs,
		},
		"render with a bad mode": {
			Args:    []string{"-config", filepath.Join(t.TempDir(), "missing.yml"), "-mode", "sideways", "render", post},
			WantErr: cli.ErrInvalidArgs,
		},
		"render uses mode from flag": {
			Args:         []string{"-config", filepath.Join(t.TempDir(), "missing.yml"), "-mode", "text_up", "render", post},
			WantInStdout: "0 short-text\n1 media-group -> 0\n2 gif\n",
		},
		"render uses mode from config": {
			Args:         []string{"-config", validPath, "render", post},
			WantInStdout: "0 short-text\n1 media-group -> 0\n2 gif\n",
		},
		"render from stdin": {
			Args:         []string{"-config", filepath.Join(t.TempDir(), "missing.yml"), "render", "-"},
			Stdin:        strings.NewReader(`{"id": "1", "text": "hi"}`),
			WantInStdout: "0 short-text\n",
		},
		"check": {
			Args:         []string{"-config", validPath, "check"},
			Env:          secrets,
			WantInStdout: "republishing from vk",
		},
		"check prints settings": {
			Args:         []string{"-config", validPath, "check"},
			Env:          secrets,
			WantInStdout: "gif_media_group_mode: text_up",
		},
		"check reads config path from environment": {
			Args:         []string{"check"},
			Env:          map[string]string{"RETELL_CONFIG": validPath, "VK_TOKEN": "vk-token", "TELEGRAM_TOKEN": tgToken},
			WantInStdout: "republishing from vk",
		},
		"check without secrets": {
			Args:    []string{"-config", validPath, "check"},
			WantErr: cli.ErrInvalidArgs,
		},
		"check admin addr without password": {
			Args:    []string{"-config", validPath, "-addr", "localhost:0", "check"},
			Env:     secrets,
			WantErr: cli.ErrInvalidArgs,
		},
		"run with invalid config": {
			Args:    []string{"-config", validPath, "run"},
			WantErr: cli.ErrInvalidArgs,
		},
		"run with arguments": {
			Args:    []string{"run", "now"},
			WantErr: cli.ErrInvalidArgs,
		},
	})
}

func TestRenderGolden(t *testing.T) {
	t.Parallel()

	testutil.RunGolden(t, "testdata/render/*.json", func(t *testing.T, match string) []byte {
		var stdout, stderr bytes.Buffer
		env := &cli.Env{
			Args:   []string{"-config", filepath.Join(t.TempDir(), "missing.yml"), "render", match},
			Getenv: getenv(nil),
			Stdin:  strings.NewReader(""),
			Stdout: &stdout,
			Stderr: &stderr,
		}
		if err := cli.Run(cli.WithEnv(t.Context(), env), new(app)); err != nil {
			t.Fatalf("render %s: %v\n%s", match, err, stderr.String())
		}
		return stdout.Bytes()
	}, *update)
}

func TestRenderRejectsUnknownMedia(t *testing.T) {
	t.Parallel()

	env := &cli.Env{
		Args:   []string{"-config", filepath.Join(t.TempDir(), "missing.yml"), "render", "-"},
		Getenv: getenv(nil),
		Stdin:  strings.NewReader(`{"id": "1", "media": [{"kind": "sticker", "url": "x"}]}`),
		Stdout: new(bytes.Buffer),
		Stderr: new(bytes.Buffer),
	}
	err := cli.Run(cli.WithEnv(t.Context(), env), new(app))
	if err == nil || !strings.Contains(err.Error(), "sticker") {
		t.Fatalf("render error = %v, want it to mention the unknown kind", err)
	}
}

func TestCheckRejectsBrokenRule(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "rule.star"), []byte("def keep(post)\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(validConfig+"filter_rule: rule.star\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	env := &cli.Env{
		Args:   []string{"-config", path, "check"},
		Getenv: getenv(map[string]string{"VK_TOKEN": "vk-token", "TELEGRAM_TOKEN": tgToken}),
		Stdin:  strings.NewReader(""),
		Stdout: new(bytes.Buffer),
		Stderr: new(bytes.Buffer),
	}
	err := cli.Run(cli.WithEnv(t.Context(), env), new(app))
	if err == nil || !strings.Contains(err.Error(), "rule.star") {
		t.Fatalf("check error = %v, want it to mention the rule file", err)
	}
}

func TestSingleInstance(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, validConfig)
	lock, err := filelock.Acquire(path + ".lock")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { lock.Release() })

	secrets := map[string]string{"VK_TOKEN": "vk-token", "TELEGRAM_TOKEN": tgToken}
	clitest.Run(t, func(t *testing.T) *app { return new(app) }, map[string]clitest.Case[*app]{
		"run refuses to start": {
			Args:    []string{"-config", path, "run"},
			Env:     secrets,
			WantErr: errAlreadyRunning,
		},
		"check reports the owner": {
			Args:         []string{"-config", path, "check"},
			Env:          secrets,
			WantInStdout: "It is in use by a running instance (pid " + strconv.Itoa(os.Getpid()) + ").",
		},
	})
}

func getenv(env map[string]string) func(string) string {
	return func(name string) string { return env[name] }
}

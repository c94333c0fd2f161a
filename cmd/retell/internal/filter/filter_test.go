// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package filter

import (
	"context"
	"strings"
	"testing"

	"go.astrophena.name/retell/cmd/retell/internal/post"
	"go.astrophena.name/retell/cmd/retell/internal/settings"
	"go.astrophena.name/retell/internal/testutil"
)

func TestApply(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		settings settings.Settings
		text     string
		want     Result
	}{
		"disabled": {
			settings: settings.Settings{},
			text:     "anything",
			want:     Result{Reason: ReasonDisabled},
		},
		"no signal words": {
			settings: settings.Settings{Enabled: true},
			text:     "anything",
			want:     Result{Keep: true, Reason: "no filters"},
		},
		"signal word found": {
			settings: settings.Settings{Enabled: true, SignalWords: []string{"#news", "#важно"}},
			text:     "Today #важно",
			want:     Result{Keep: true, Reason: `signal word "#важно" found`},
		},
		"signal word missing": {
			settings: settings.Settings{Enabled: true, SignalWords: []string{"#news"}},
			text:     "Today",
			want:     Result{Reason: ReasonNoSignalWord},
		},
		"case matters": {
			settings: settings.Settings{Enabled: true, SignalWords: []string{"#News"}},
			text:     "today #news",
			want:     Result{Reason: ReasonNoSignalWord},
		},
		"case ignored": {
			settings: settings.Settings{Enabled: true, SignalWords: []string{"#News"}, IgnoreSignalWordsCase: true},
			text:     "today #NEWS",
			want:     Result{Keep: true, Reason: `signal word "#News" found`},
		},
		"leading space": {
			settings: settings.Settings{Enabled: true, SignalWords: []string{"#news"}},
			text:     " invisible signal",
			want:     Result{Keep: true, Reason: "unprinted symbol at the beginning of the text"},
		},
		"empty signal word ignored": {
			settings: settings.Settings{Enabled: true, SignalWords: []string{""}},
			text:     "text",
			want:     Result{Reason: ReasonNoSignalWord},
		},
	}

	f, err := New("", nil)
	if err != nil {
		t.Fatal(err)
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := f.Apply(t.Context(), tc.settings, post.Post{Text: tc.text})
			testutil.AssertEqual(t, got, tc.want)
		})
	}
}

const rule = `
def keep(post):
    if post.has_poll:
        return False
    for m in post.media:
        if m.kind == "gif" and "cats" not in post.text:
            return False
    return "#ad" not in post.text and len(post.links) < 3
`

func TestApplyRule(t *testing.T) {
	t.Parallel()

	f, err := New("rule.star", []byte(rule))
	if err != nil {
		t.Fatal(err)
	}
	enabled := settings.Settings{Enabled: true}

	cases := map[string]struct {
		post post.Post
		want Result
	}{
		"kept": {
			post: post.Post{Text: "hello", Media: []post.Medium{{Kind: post.Photo, URL: "https://example.com/1.jpg"}}},
			want: Result{Keep: true, Reason: "no filters, kept by rule"},
		},
		"ad": {
			post: post.Post{Text: "buy now #ad"},
			want: Result{Reason: ReasonRejectedByRule},
		},
		"poll": {
			post: post.Post{Text: "vote", Poll: &post.Poll{Question: "?", Options: []string{"a"}}},
			want: Result{Reason: ReasonRejectedByRule},
		},
		"gif of cats": {
			post: post.Post{Text: "cats", Media: []post.Medium{{Kind: post.Gif, URL: "https://example.com/a.gif"}}},
			want: Result{Keep: true, Reason: "no filters, kept by rule"},
		},
		"other gif": {
			post: post.Post{Text: "dogs", Media: []post.Medium{{Kind: post.Gif, URL: "https://example.com/a.gif"}}},
			want: Result{Reason: ReasonRejectedByRule},
		},
		"too many links": {
			post: post.Post{Text: "links", Links: []string{"a", "b", "c"}},
			want: Result{Reason: ReasonRejectedByRule},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			testutil.AssertEqual(t, f.Apply(t.Context(), enabled, tc.post), tc.want)
		})
	}
}

func TestApplyRuleNotReachedWhenDisabled(t *testing.T) {
	t.Parallel()

	f, err := New("rule.star", []byte("def keep(post):\n    fail('called')\n"))
	if err != nil {
		t.Fatal(err)
	}
	got := f.Apply(t.Context(), settings.Settings{}, post.Post{Text: "x"})
	testutil.AssertEqual(t, got, Result{Reason: ReasonDisabled})
}

func TestApplyRuleFailures(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		src        string
		wantReason string
	}{
		"error": {
			src:        "def keep(post):\n    fail('boom')\n",
			wantReason: "boom",
		},
		"not a bool": {
			src:        "def keep(post):\n    return 'yes'\n",
			wantReason: "keep returned string, want bool",
		},
		"endless": {
			src:        "def keep(post):\n    for i in range(100000000):\n        pass\n    return True\n",
			wantReason: "too many steps",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f, err := New("rule.star", []byte(tc.src))
			if err != nil {
				t.Fatal(err)
			}
			got := f.Apply(t.Context(), settings.Settings{Enabled: true}, post.Post{})
			if got.Keep {
				t.Fatal("post kept after a rule failure")
			}
			if !strings.Contains(got.Reason, tc.wantReason) {
				t.Fatalf("Reason = %q, want it to contain %q", got.Reason, tc.wantReason)
			}
		})
	}
}

func TestApplyRuleCanceled(t *testing.T) {
	t.Parallel()

	f, err := New("rule.star", []byte("def keep(post):\n    return True\n"))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	got := f.Apply(ctx, settings.Settings{Enabled: true}, post.Post{})
	if got.Keep {
		t.Fatal("post kept with a canceled context")
	}
}

func TestNewInvalidRule(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"syntax error":  "def keep(post)\n",
		"no keep":       "x = 1\n",
		"keep not func": "keep = True\n",
		"wrong arity":   "def keep(a, b):\n    return True\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := New("rule.star", []byte(src)); err == nil {
				t.Fatal("New() succeeded, want error")
			}
		})
	}
}

// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package filter decides which posts are republished.
//
// A post passes when republishing is enabled, when it contains one of the
// signal words (if any are set), and when the rule, if one is loaded, keeps
// it. The rule is a Starlark file that defines a function:
//
//	def keep(post):
//	    return "#ad" not in post.text
//
// The post has the fields id, source, text, links, media (each with kind and
// url) and has_poll.
package filter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"go.astrophena.name/retell/cmd/retell/internal/post"
	"go.astrophena.name/retell/cmd/retell/internal/settings"
	"go.astrophena.name/retell/internal/logger"
)

const maxRuleSteps = 1_000_000

// Result is the decision about one post.
type Result struct {
	Keep   bool
	Reason string
}

// Reasons for skipping a post.
const (
	ReasonDisabled       = "republishing is disabled"
	ReasonNoSignalWord   = "no signal word found"
	ReasonRejectedByRule = "rejected by rule"
)

// Filter applies settings and an optional rule to posts.
type Filter struct {
	rule *starlark.Function
}

// New returns a Filter. If src is not empty, it is a Starlark file named
// filename that must define keep(post).
func New(filename string, src []byte) (*Filter, error) {
	f := new(Filter)
	if len(src) == 0 {
		return f, nil
	}

	globals, err := starlark.ExecFileOptions(
		&syntax.FileOptions{TopLevelControl: true},
		&starlark.Thread{Name: "load " + filename},
		filename,
		src,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("filter: loading %s: %w", filename, err)
	}
	globals.Freeze()

	keep, ok := globals["keep"].(*starlark.Function)
	if !ok {
		return nil, fmt.Errorf("filter: %s must define function keep(post)", filename)
	}
	if keep.NumParams() != 1 {
		return nil, fmt.Errorf("filter: keep must take one argument, takes %d", keep.NumParams())
	}
	f.rule = keep
	return f, nil
}

// Apply decides whether p is republished with settings s.
func (f *Filter) Apply(ctx context.Context, s settings.Settings, p post.Post) Result {
	if !s.Enabled {
		return Result{Reason: ReasonDisabled}
	}

	reason := "no filters"
	if len(s.SignalWords) > 0 {
		word, ok := signalWord(p.Text, s.SignalWords, s.IgnoreSignalWordsCase)
		if !ok {
			return Result{Reason: ReasonNoSignalWord}
		}
		reason = word
	}

	if f.rule != nil {
		keep, err := f.applyRule(ctx, p)
		if err != nil {
			return Result{Reason: fmt.Sprintf("rule failed: %v", err)}
		}
		if !keep {
			return Result{Reason: ReasonRejectedByRule}
		}
		reason += ", kept by rule"
	}

	return Result{Keep: true, Reason: reason}
}

// signalWord finds the first signal word in text. A text starting with a
// space has an invisible signal.
func signalWord(text string, words []string, ignoreCase bool) (string, bool) {
	haystack := text
	if ignoreCase {
		haystack = strings.ToLower(text)
	}
	for _, w := range words {
		if w == "" {
			continue
		}
		needle := w
		if ignoreCase {
			needle = strings.ToLower(w)
		}
		if strings.Contains(haystack, needle) {
			return fmt.Sprintf("signal word %q found", w), true
		}
	}
	if strings.HasPrefix(text, " ") {
		return "unprinted symbol at the beginning of the text", true
	}
	return "", false
}

func (f *Filter) applyRule(ctx context.Context, p post.Post) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	log := logger.Get(ctx)

	thread := &starlark.Thread{
		Name:  "keep " + p.ID,
		Print: func(_ *starlark.Thread, msg string) { log.Info(msg, slog.String("post", p.ID)) },
	}
	thread.SetMaxExecutionSteps(maxRuleSteps)
	stop := context.AfterFunc(ctx, func() { thread.Cancel(ctx.Err().Error()) })
	defer stop()

	val, err := starlark.Call(thread, f.rule, starlark.Tuple{toStarlark(p)}, nil)
	if err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			return false, errors.New(evalErr.Backtrace())
		}
		return false, err
	}

	ret, ok := val.(starlark.Bool)
	if !ok {
		return false, fmt.Errorf("keep returned %s, want bool", val.Type())
	}
	return bool(ret), nil
}

func toStarlark(p post.Post) starlark.Value {
	links := make([]starlark.Value, len(p.Links))
	for i, l := range p.Links {
		links[i] = starlark.String(l)
	}
	media := make([]starlark.Value, len(p.Media))
	for i, m := range p.Media {
		media[i] = starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
			"kind": starlark.String(m.Kind.String()),
			"url":  starlark.String(m.URL),
		})
	}
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"id":       starlark.String(p.ID),
		"source":   starlark.String(p.Source),
		"text":     starlark.String(p.Text),
		"links":    starlark.NewList(links),
		"media":    starlark.NewList(media),
		"has_poll": starlark.Bool(p.Poll != nil),
	})
}

// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package settings holds the settings that can be changed while the
// republisher runs.
package settings

import (
	"context"
	"slices"

	"go.astrophena.name/retell/cmd/retell/internal/element"
	"go.astrophena.name/retell/internal/util/syncx"
)

// Settings control which posts are republished and how.
type Settings struct {
	// Enabled turns republishing on and off.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// SignalWords, if not empty, makes only posts containing one of them
	// republished.
	SignalWords           []string `yaml:"signal_words,omitempty" json:"signal_words"`
	IgnoreSignalWordsCase bool     `yaml:"ignore_signal_words_case" json:"ignore_signal_words_case"`
	// ClearHashtags removes hashtags from the text of posts.
	ClearHashtags     bool         `yaml:"clear_hashtags" json:"clear_hashtags"`
	GifMediaGroupMode element.Mode `yaml:"gif_media_group_mode" json:"gif_media_group_mode"`
}

func (s Settings) clone() Settings {
	s.SignalWords = slices.Clone(s.SignalWords)
	return s
}

// SaveFunc persists settings.
type SaveFunc func(context.Context, Settings) error

// Store holds the current settings. It is safe for concurrent use.
type Store struct {
	cur  *syncx.Protected[*Settings]
	save SaveFunc
}

// New returns a Store holding initial. If save is not nil, it is called with
// the new settings after every update.
func New(initial Settings, save SaveFunc) *Store {
	initial = initial.clone()
	return &Store{cur: syncx.Protect(&initial), save: save}
}

// Snapshot returns a copy of the current settings.
func (s *Store) Snapshot() Settings {
	var snap Settings
	s.cur.RAccess(func(cur *Settings) { snap = cur.clone() })
	return snap
}

// Update changes the settings with f and saves them. The change stays in
// effect even if saving fails. Updates are saved in the order they are made.
func (s *Store) Update(ctx context.Context, f func(*Settings)) (Settings, error) {
	var (
		snap Settings
		err  error
	)
	s.cur.Access(func(cur *Settings) {
		next := cur.clone()
		f(&next)
		*cur = next
		snap = next.clone()
		if s.save != nil {
			err = s.save(ctx, snap)
		}
	})
	return snap, err
}

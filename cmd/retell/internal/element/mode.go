// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package element

import "fmt"

// Mode selects where a caption goes when a gif has to be split from the
// media it was posted with.
type Mode int

const (
	// Auto keeps short captions on the gif and long ones on the first
	// message.
	Auto Mode = iota
	// TextUp always puts the caption on top, as a separate message.
	TextUp
)

// ParseMode parses the textual form of a mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "auto", "":
		return Auto, nil
	case "text_up":
		return TextUp, nil
	}
	return 0, fmt.Errorf("unknown render mode %q", s)
}

func (m Mode) String() string {
	switch m {
	case Auto:
		return "auto"
	case TextUp:
		return "text_up"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// MarshalText implements [encoding.TextMarshaler].
func (m Mode) MarshalText() ([]byte, error) {
	switch m {
	case Auto, TextUp:
		return []byte(m.String()), nil
	}
	return nil, fmt.Errorf("unknown render mode %d", int(m))
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (m *Mode) UnmarshalText(b []byte) error {
	mode, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

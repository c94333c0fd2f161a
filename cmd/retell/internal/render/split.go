// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package render

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MessageLimit is the maximum length of a Telegram text message.
const MessageLimit = 4096

// splitMessage splits text into chunks that fit into a single message,
// preferring to break at newlines, then at other whitespace. In HTML text,
// breaks inside tags and inside elements are avoided.
func splitMessage(text string, isHTML bool) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= MessageLimit {
		return []string{text}
	}

	var chunks []string
	for text != "" {
		if utf8.RuneCountInString(text) <= MessageLimit {
			chunks = append(chunks, text)
			break
		}

		var (
			lastNewline    = -1
			lastWhitespace = -1
			byteCap        = len(text)
			runeCount      int
			inTag          bool
			depth          int
			// openAt is where the outermost element being scanned starts.
			openAt int
		)

		for i, r := range text {
			if runeCount == MessageLimit {
				byteCap = i
				break
			}
			runeCount++

			if isHTML {
				switch {
				case r == '<':
					inTag = true
					if strings.HasPrefix(text[i:], "</") {
						depth--
					} else {
						if depth == 0 {
							openAt = i
						}
						depth++
					}
					continue
				case r == '>' && inTag:
					inTag = false
					continue
				case inTag || depth > 0:
					continue
				}
			}

			if r == '\n' {
				lastNewline = i
				continue
			}
			if unicode.IsSpace(r) {
				lastWhitespace = i
			}
		}

		splitAt := byteCap
		switch {
		case lastNewline > 0:
			splitAt = lastNewline
		case lastWhitespace > 0:
			splitAt = lastWhitespace
		case (inTag || depth > 0) && openAt > 0:
			// Never cut a tag or an element in half.
			splitAt = openAt
		}

		chunk := strings.TrimSpace(text[:splitAt])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = strings.TrimSpace(text[splitAt:])
	}

	return chunks
}

// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package element

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// VK wiki links: [https://example.com|label], [id1|label], [club1|label].
	wikiLinkRe = regexp.MustCompile(`\[([^\[\]|]+)\|([^\[\]]+)\]`)
	hashtagRe  = regexp.MustCompile(`#[^\s]+`)
	tagRe      = regexp.MustCompile(`<[^>]*>`)
)

// NewText makes a text element from raw post text. VK wiki links are
// rewritten to HTML anchors; in that case the rest of the text is escaped and
// the returned element is marked as HTML.
func NewText(raw string) Text {
	body, ok := rewriteLinks(raw)
	return Text{Body: body, HTML: ok}
}

func rewriteLinks(raw string) (string, bool) {
	matches := wikiLinkRe.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		return raw, false
	}
	var (
		sb   strings.Builder
		last int
	)
	for _, m := range matches {
		target := raw[m[2]:m[3]]
		label := raw[m[4]:m[5]]
		sb.WriteString(html.EscapeString(raw[last:m[0]]))
		sb.WriteString(`<a href="`)
		sb.WriteString(html.EscapeString(linkTarget(target)))
		sb.WriteString(`">`)
		sb.WriteString(html.EscapeString(label))
		sb.WriteString(`</a>`)
		last = m[1]
	}
	sb.WriteString(html.EscapeString(raw[last:]))
	return sb.String(), true
}

// linkTarget resolves the target of a wiki link. Anything that is not an
// absolute URL is a VK screen name or object ID.
func linkTarget(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	return "https://vk.com/" + target
}

// RemoveHashtags strips every #hashtag from s.
func RemoveHashtags(s string) string {
	return strings.TrimSpace(hashtagRe.ReplaceAllString(s, ""))
}

// PlainText returns the text a reader sees when body is displayed.
func PlainText(body string, isHTML bool) string {
	if !isHTML {
		return body
	}
	return html.UnescapeString(tagRe.ReplaceAllString(body, ""))
}

// VisibleLen returns the number of characters a reader sees when body is
// displayed. Caption limits are checked against it.
func VisibleLen(body string, isHTML bool) int {
	return utf8.RuneCountInString(PlainText(body, isHTML))
}

func fitsCaption(body string, isHTML bool) bool {
	return VisibleLen(body, isHTML) <= CaptionLimit
}

// join concatenates two non-empty texts with a blank line between them.
func join(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "\n\n" + b
}

// mergeBodies joins two texts, escaping the plain one if the other is HTML.
func mergeBodies(a string, aHTML bool, b string, bHTML bool) (string, bool) {
	if aHTML == bHTML {
		return join(a, b), aHTML
	}
	if !aHTML {
		a = html.EscapeString(a)
	}
	if !bHTML {
		b = html.EscapeString(b)
	}
	return join(a, b), true
}

// escapeIf escapes s when it is going to be placed into HTML.
func escapeIf(s string, isHTML bool) string {
	if isHTML {
		return html.EscapeString(s)
	}
	return s
}

// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package element

import "slices"

// Combine merges the next attachment of a post into the accumulated element
// and returns the result. It is defined for every accumulator; combinations
// that cannot share a message become a [Compound].
//
// mode decides where the caption goes when a gif meets other media.
func Combine(acc Element, in Primitive, mode Mode) Element {
	// Branches pass unchanged parts of the operands through.
	return clone(combine(acc, in, mode))
}

func combine(acc Element, in Primitive, mode Mode) Element {
	switch in := in.(type) {
	case Text:
		return combineText(acc, in, mode)
	case Photo:
		return combineMedia(acc, in, ItemPhoto, in.Media, mode)
	case Video:
		return combineMedia(acc, in, ItemVideo, in.Media, mode)
	case Gif:
		return combineGif(acc, in, mode)
	case Poll:
		return combinePoll(acc, in, mode)
	case Link:
		return combineLink(acc, in, mode)
	default:
		panic(unexpected(in))
	}
}

func combineText(acc Element, t Text, mode Mode) Element {
	switch acc := acc.(type) {
	case Null:
		return t
	case Text:
		body, isHTML := mergeBodies(acc.Body, acc.HTML, t.Body, t.HTML)
		return Text{Body: body, HTML: isHTML}
	case Photo:
		return Photo{acc.Media.withText(t)}
	case Video:
		return Video{acc.Media.withText(t)}
	case Gif:
		return Gif{acc.Media.withText(t)}
	case Poll:
		return acc.withText(PlainText(t.Body, t.HTML))
	case Link:
		return Text{Body: join(escapeIf(acc.URL, t.HTML), t.Body), HTML: t.HTML}
	case MediaGroup:
		caption, isHTML := mergeBodies(acc.Caption(), acc.HTML, t.Body, t.HTML)
		return acc.withCaption(caption, isHTML)
	case Compound:
		return Compound{First: combineText(acc.First, t, mode), Second: acc.Second}
	default:
		panic(unexpected(acc))
	}
}

// combineMedia merges an incoming photo or video.
func combineMedia(acc Element, in Primitive, kind ItemKind, m Media, mode Mode) Element {
	switch acc := acc.(type) {
	case Null:
		return in
	case Text:
		caption, isHTML := mergeBodies(acc.Body, acc.HTML, m.Caption, m.HTML)
		return withMedia(in, Media{URL: m.URL, Caption: caption, HTML: isHTML})
	case Photo:
		return newGroup(acc.Media, ItemPhoto, m.URL, kind)
	case Video:
		return newGroup(acc.Media, ItemVideo, m.URL, kind)
	case Gif:
		return gifPair(in, m, acc, true, mode)
	case Poll:
		return Compound{First: dedup(in, acc.Question), Second: acc}
	case Link:
		return Compound{First: in, Second: acc}
	case MediaGroup:
		// Only the first item of an album carries a caption; the caption of
		// the appended item is lost.
		return MediaGroup{
			Items:  append(slices.Clone(acc.Items), Item{Kind: kind, URL: m.URL}),
			HTML:   acc.HTML,
			TextUp: acc.TextUp,
		}
	case Compound:
		return Compound{First: combineMedia(acc.First, in, kind, m, mode), Second: acc.Second}
	default:
		panic(unexpected(acc))
	}
}

func combineGif(acc Element, g Gif, mode Mode) Element {
	switch acc := acc.(type) {
	case Null:
		return g
	case Text:
		caption, isHTML := mergeBodies(acc.Body, acc.HTML, g.Caption, g.HTML)
		return Gif{Media{URL: g.URL, Caption: caption, HTML: isHTML}}
	case Photo:
		return gifPair(acc, acc.Media, g, false, mode)
	case Video:
		return gifPair(acc, acc.Media, g, false, mode)
	case Gif:
		return gifGif(acc, g, mode)
	case Poll:
		return Compound{First: dedup(g, acc.Question), Second: acc}
	case Link:
		return Compound{First: g, Second: acc}
	case MediaGroup:
		return groupGif(acc, g, mode)
	case Compound:
		return Compound{First: acc.First, Second: combineGif(acc.Second, g, mode)}
	default:
		panic(unexpected(acc))
	}
}

func combinePoll(acc Element, p Poll, mode Mode) Element {
	switch acc := acc.(type) {
	case Null:
		return p.clone()
	case Text:
		return p.withText(PlainText(acc.Body, acc.HTML))
	case Photo, Video, Gif:
		return Compound{First: dedup(acc, p.Question), Second: p.clone()}
	case MediaGroup:
		return Compound{First: dedup(acc, p.Question), Second: p.clone()}
	case Poll, Link:
		return Compound{First: acc, Second: p.clone()}
	case Compound:
		return Compound{First: acc.First, Second: combinePoll(acc.Second, p, mode)}
	default:
		panic(unexpected(acc))
	}
}

func combineLink(acc Element, l Link, mode Mode) Element {
	switch acc := acc.(type) {
	case Null:
		return l
	case Text:
		return Text{Body: join(acc.Body, escapeIf(l.URL, acc.HTML)), HTML: acc.HTML}
	case Photo, Video, Gif, Poll, Link, MediaGroup:
		return Compound{First: acc, Second: l}
	case Compound:
		return Compound{First: acc.First, Second: combineLink(acc.Second, l, mode)}
	default:
		panic(unexpected(acc))
	}
}

// withText appends text to the caption.
func (m Media) withText(t Text) Media {
	caption, isHTML := mergeBodies(m.Caption, m.HTML, t.Body, t.HTML)
	return Media{URL: m.URL, Caption: caption, HTML: isHTML, Expanded: m.Expanded}
}

// withText puts text in front of the question unless they are the same.
func (p Poll) withText(text string) Poll {
	q := p.clone()
	if text == p.Question {
		return q
	}
	q.Question = join(text, p.Question)
	return q
}

// clone returns a deep copy of e that shares no slices with it.
func clone(e Element) Element {
	switch e := e.(type) {
	case Null, Text, Photo, Video, Gif, Link:
		return e
	case Poll:
		return e.clone()
	case MediaGroup:
		return MediaGroup{Items: slices.Clone(e.Items), HTML: e.HTML, TextUp: e.TextUp}
	case Compound:
		return Compound{First: clone(e.First), Second: clone(e.Second)}
	default:
		panic(unexpected(e))
	}
}

func (p Poll) clone() Poll {
	return Poll{Question: p.Question, Options: slices.Clone(p.Options), Multiple: p.Multiple}
}

func newGroup(first Media, firstKind ItemKind, url string, kind ItemKind) MediaGroup {
	return MediaGroup{
		Items: []Item{
			{Kind: firstKind, URL: first.URL, Caption: first.Caption},
			{Kind: kind, URL: url},
		},
		HTML:   first.HTML,
		TextUp: first.Expanded,
	}
}

// withMedia returns the photo or video e with its media fields replaced.
func withMedia(e Element, m Media) Element {
	switch e.(type) {
	case Photo:
		return Photo{m}
	case Video:
		return Video{m}
	case Gif:
		return Gif{m}
	default:
		panic(unexpected(e))
	}
}

func mediaOf(e Element) Media {
	switch e := e.(type) {
	case Photo:
		return e.Media
	case Video:
		return e.Media
	case Gif:
		return e.Media
	default:
		panic(unexpected(e))
	}
}

// dedup drops the caption of a medium or an album if it only repeats the
// poll question.
func dedup(e Element, question string) Element {
	switch e := e.(type) {
	case Photo, Video, Gif:
		m := mediaOf(e)
		if m.Caption == "" || PlainText(m.Caption, m.HTML) != question {
			return e
		}
		return withMedia(e, Media{URL: m.URL})
	case MediaGroup:
		c := e.Caption()
		if c == "" || PlainText(c, e.HTML) != question {
			return e
		}
		g := e.withCaption("", false)
		g.TextUp = false
		return g
	default:
		panic(unexpected(e))
	}
}

// gifPair splits a photo or video and a gif into a compound, deciding which
// of them keeps the merged caption. The photo or video always goes first.
// gifFirst is set when the gif was posted before the photo or video, so its
// caption leads.
func gifPair(media Element, m Media, g Gif, gifFirst bool, mode Mode) Element {
	var caption string
	var isHTML bool
	if gifFirst {
		caption, isHTML = mergeBodies(g.Caption, g.HTML, m.Caption, m.HTML)
	} else {
		caption, isHTML = mergeBodies(m.Caption, m.HTML, g.Caption, g.HTML)
	}
	bare := Media{URL: m.URL}
	switch {
	case caption == "":
		return Compound{First: withMedia(media, bare), Second: Gif{Media{URL: g.URL}}}
	case mode == TextUp:
		return Compound{
			First:  withMedia(media, Media{URL: m.URL, Caption: caption, HTML: isHTML, Expanded: true}),
			Second: Gif{Media{URL: g.URL}},
		}
	case fitsCaption(caption, isHTML):
		return Compound{
			First:  withMedia(media, bare),
			Second: Gif{Media{URL: g.URL, Caption: caption, HTML: isHTML}},
		}
	default:
		return Compound{
			First:  withMedia(media, Media{URL: m.URL, Caption: caption, HTML: isHTML}),
			Second: Gif{Media{URL: g.URL}},
		}
	}
}

// gifGif splits two gifs. In auto mode a short caption moves to the later
// one.
func gifGif(a, b Gif, mode Mode) Element {
	caption, isHTML := mergeBodies(a.Caption, a.HTML, b.Caption, b.HTML)
	switch {
	case caption == "":
		return Compound{First: a, Second: b}
	case mode == TextUp:
		return Compound{
			First:  Gif{Media{URL: a.URL, Caption: caption, HTML: isHTML, Expanded: true}},
			Second: Gif{Media{URL: b.URL}},
		}
	case fitsCaption(caption, isHTML):
		return Compound{
			First:  Gif{Media{URL: a.URL}},
			Second: Gif{Media{URL: b.URL, Caption: caption, HTML: isHTML}},
		}
	default:
		return Compound{
			First:  Gif{Media{URL: a.URL, Caption: caption, HTML: isHTML}},
			Second: Gif{Media{URL: b.URL}},
		}
	}
}

// groupGif splits an album and a gif.
func groupGif(g MediaGroup, gif Gif, mode Mode) Element {
	caption, isHTML := mergeBodies(g.Caption(), g.HTML, gif.Caption, gif.HTML)
	switch {
	case caption == "":
		return Compound{First: g, Second: Gif{Media{URL: gif.URL}}}
	case mode == TextUp:
		up := g.withCaption(caption, isHTML)
		up.TextUp = true
		return Compound{First: up, Second: Gif{Media{URL: gif.URL}}}
	case fitsCaption(caption, isHTML):
		bare := g.withCaption("", false)
		bare.TextUp = false
		return Compound{First: bare, Second: Gif{Media{URL: gif.URL, Caption: caption, HTML: isHTML}}}
	default:
		return Compound{First: g.withCaption(caption, isHTML), Second: Gif{Media{URL: gif.URL}}}
	}
}

// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	_ "embed"
	"strings"
	"text/template"
	"unicode/utf8"

	"go.astrophena.name/retell/cmd/retell/internal/post"
	"go.astrophena.name/retell/cmd/retell/internal/render"
	"go.astrophena.name/retell/cmd/retell/internal/sender"
	"go.astrophena.name/retell/internal/logger"
)

//go:embed report.tmpl
var reportTemplate string

var reportTmpl = template.Must(template.New("report").Parse(reportTemplate))

// reporter sends failure reports to the admin chat.
type reporter struct {
	sender sender.Sender
}

func (r *reporter) report(ctx context.Context, p post.Post, traceID string, err error) {
	var sb strings.Builder
	if terr := reportTmpl.Execute(&sb, struct {
		PostID  string
		Source  string
		TraceID string
		Err     error
	}{p.ID, p.Source, traceID, err}); terr != nil {
		logger.Get(ctx).Error("formatting report failed", "error", terr)
		return
	}

	if _, serr := r.sender.SendText(ctx, sender.Text{Body: truncate(sb.String(), render.MessageLimit)}); serr != nil {
		logger.Get(ctx).Error("sending report failed", "error", serr)
	}
}

// truncate cuts s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}

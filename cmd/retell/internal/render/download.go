// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package render

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/sync/errgroup"

	"go.astrophena.name/retell/cmd/retell/internal/element"
	"go.astrophena.name/retell/cmd/retell/internal/sender"
	"go.astrophena.name/retell/internal/request"
)

// maxDownloads limits how many album items are downloaded at once.
const maxDownloads = 4

// MaxUpload is the largest file, in bytes, the Bot API accepts as an upload.
const MaxUpload = 50 << 20

// download fetches url into a pooled buffer. The caller must release it.
func (r *Renderer) download(ctx context.Context, url string) (*bytebufferpool.ByteBuffer, error) {
	buf := r.getBuf()
	if _, err := request.Download(ctx, request.Params{
		URL:        url,
		HTTPClient: r.httpc,
		MaxBytes:   r.maxUpload,
	}, buf); err != nil {
		r.putBuf(buf)
		return nil, fmt.Errorf("downloading media: %w", err)
	}
	return buf, nil
}

// downloadAll fetches all items of an album concurrently. On success the
// caller must call release once the buffers are no longer used; on failure
// everything is already released.
func (r *Renderer) downloadAll(ctx context.Context, items []element.Item) (bufs []*bytebufferpool.ByteBuffer, release func(), err error) {
	bufs = make([]*bytebufferpool.ByteBuffer, len(items))
	release = func() {
		for i, buf := range bufs {
			if buf != nil {
				r.putBuf(buf)
				bufs[i] = nil
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxDownloads)
	for i, it := range items {
		g.Go(func() error {
			buf, err := r.download(gctx, it.URL)
			if err != nil {
				return err
			}
			bufs[i] = buf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		release()
		return nil, nil, err
	}
	return bufs, release, nil
}

// uploadName makes a file name for an upload.
func uploadName(kind element.ItemKind) string {
	ext := ".jpg"
	if kind == element.ItemVideo {
		ext = ".mp4"
	}
	return uuid.NewString() + ext
}

func uploadFile(kind element.ItemKind, buf *bytebufferpool.ByteBuffer) sender.File {
	return sender.File{Name: uploadName(kind), Data: buf.Bytes()}
}

// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package request provides utilities for making HTTP requests.
package request

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.astrophena.name/retell/internal/version"
)

// DefaultClient is a [http.Client] with nice defaults.
var DefaultClient = &http.Client{
	Timeout: 30 * time.Second,
}

// Params defines the parameters needed for making an HTTP request.
type Params struct {
	// Method is the HTTP method (GET, POST, etc.) for the request.
	Method string
	// URL is the target URL of the request.
	URL string
	// Query is appended to the URL query string, if not empty.
	Query url.Values
	// Headers is a map of key-value pairs for additional request headers.
	Headers map[string]string
	// Body is any data to be sent in the request body. It will be marshaled to
	// JSON.
	Body any
	// HTTPClient is an optional custom HTTP client object to use for the request.
	// If not provided, DefaultClient will be used.
	HTTPClient *http.Client
	// Scrubber is an optional strings.Replacer that scrubs unwanted data from
	// error messages, such as access tokens in URLs.
	Scrubber *strings.Replacer
	// MaxBytes, if positive, limits the size of a body accepted by [Download].
	MaxBytes int64
}

// ErrTooLarge is returned by [Download] when the body exceeds
// [Params.MaxBytes].
var ErrTooLarge = errors.New("response body too large")

// StatusError is returned when the server replies with a status other than
// 200 OK.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("want 200, got %d: %s", e.StatusCode, e.Body)
}

type scrubbedError struct {
	err      error
	scrubber *strings.Replacer
}

func (se *scrubbedError) Error() string {
	if se.scrubber != nil {
		return se.scrubber.Replace(se.err.Error())
	}
	return se.err.Error()
}

func (se *scrubbedError) Unwrap() error { return se.err }

func scrubErr(err error, scrubber *strings.Replacer) error {
	return &scrubbedError{err: err, scrubber: scrubber}
}

// MakeJSON makes a JSON HTTP request with the provided parameters and
// unmarshals the JSON response body into the specified type.
func MakeJSON[Response any](ctx context.Context, p Params) (Response, error) {
	var resp Response

	res, err := do(ctx, p)
	if err != nil {
		return resp, err
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return resp, scrubErr(err, p.Scrubber)
	}

	if res.StatusCode != http.StatusOK {
		return resp, statusErr(p, res.StatusCode, b)
	}

	if err := json.Unmarshal(b, &resp); err != nil {
		return resp, scrubErr(fmt.Errorf("%s %q: decoding response: %w", p.Method, p.URL, err), p.Scrubber)
	}

	return resp, nil
}

// maxErrorBody limits how much of an unsuccessful response is kept in a
// [StatusError] by [Download].
const maxErrorBody = 4 << 10

// Download makes an HTTP request and copies the response body to w. It
// returns the number of bytes written.
func Download(ctx context.Context, p Params, w io.Writer) (int64, error) {
	res, err := do(ctx, p)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return 0, statusErr(p, res.StatusCode, b)
	}

	var body io.Reader = res.Body
	if p.MaxBytes > 0 {
		body = io.LimitReader(res.Body, p.MaxBytes+1)
	}
	n, err := io.Copy(w, body)
	if err == nil && p.MaxBytes > 0 && n > p.MaxBytes {
		err = fmt.Errorf("%w: more than %d bytes", ErrTooLarge, p.MaxBytes)
	}
	if err != nil {
		return n, scrubErr(fmt.Errorf("%s %q: %w", p.Method, p.URL, err), p.Scrubber)
	}
	return n, nil
}

func do(ctx context.Context, p Params) (*http.Response, error) {
	var body io.Reader
	if p.Body != nil {
		data, err := json.Marshal(p.Body)
		if err != nil {
			return nil, scrubErr(err, p.Scrubber)
		}
		body = bytes.NewReader(data)
	}

	u := p.URL
	if len(p.Query) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + p.Query.Encode()
	}

	method := p.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, scrubErr(err, p.Scrubber)
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpc := DefaultClient
	if p.HTTPClient != nil {
		httpc = p.HTTPClient
	}

	res, err := httpc.Do(req)
	if err != nil {
		return nil, scrubErr(err, p.Scrubber)
	}
	return res, nil
}

func statusErr(p Params, code int, body []byte) error {
	return scrubErr(fmt.Errorf("%s %q: %w", p.Method, p.URL, &StatusError{
		StatusCode: code,
		Body:       body,
	}), p.Scrubber)
}

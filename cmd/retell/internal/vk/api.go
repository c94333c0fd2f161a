// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package vk implements a post source that receives new wall posts of a VK
// community through the Bots Long Poll API.
package vk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.astrophena.name/retell/internal/request"
)

const (
	defaultAPIURL     = "https://api.vk.com/method"
	defaultAPIVersion = "5.199"
)

// APIError is an error returned by a VK API method.
type APIError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vk: error %d: %s", e.Code, e.Message)
}

// IsUnknownApplication reports whether the error is the transient "unknown
// application" error VK sometimes returns. Restarting the long-poll session
// recovers from it.
func (e *APIError) IsUnknownApplication() bool {
	return strings.Contains(strings.ToLower(e.Message), "unknown application")
}

type apiResponse[T any] struct {
	Response T         `json:"response"`
	Error    *APIError `json:"error"`
}

// client calls VK API methods.
type client struct {
	apiURL   string
	token    string
	version  string
	httpc    *http.Client
	scrubber *strings.Replacer
}

func call[T any](ctx context.Context, c *client, method string, params url.Values) (T, error) {
	var zero T
	if params == nil {
		params = make(url.Values)
	}
	params.Set("access_token", c.token)
	params.Set("v", c.version)

	resp, err := request.MakeJSON[apiResponse[T]](ctx, request.Params{
		Method:     http.MethodPost,
		URL:        c.apiURL + "/" + method,
		Query:      params,
		HTTPClient: c.httpc,
		Scrubber:   c.scrubber,
	})
	if err != nil {
		return zero, fmt.Errorf("%s: %w", method, err)
	}
	if resp.Error != nil {
		return zero, fmt.Errorf("%s: %w", method, resp.Error)
	}
	return resp.Response, nil
}

// cursor is a long-poll event number. VK sends it either as a string or as a
// number.
type cursor string

func (c *cursor) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = cursor(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("vk: bad cursor %s", b)
	}
	*c = cursor(n.String())
	return nil
}

type longPollServer struct {
	Key    string `json:"key"`
	Server string `json:"server"`
	TS     cursor `json:"ts"`
}

func (c *client) getLongPollServer(ctx context.Context, groupID int64) (longPollServer, error) {
	return call[longPollServer](ctx, c, "groups.getLongPollServer", url.Values{
		"group_id": {strconv.FormatInt(groupID, 10)},
	})
}

// videoFiles lists the direct links to a video, by quality.
type videoFiles struct {
	External string `json:"external"`
	MP41080  string `json:"mp4_1080"`
	MP4720   string `json:"mp4_720"`
	MP4480   string `json:"mp4_480"`
	MP4360   string `json:"mp4_360"`
	MP4240   string `json:"mp4_240"`
	MP4144   string `json:"mp4_144"`
}

type video struct {
	ID        int64       `json:"id"`
	OwnerID   int64       `json:"owner_id"`
	AccessKey string      `json:"access_key"`
	Files     *videoFiles `json:"files"`
	Player    string      `json:"player"`
}

func (v video) fullID() string {
	id := strconv.FormatInt(v.OwnerID, 10) + "_" + strconv.FormatInt(v.ID, 10)
	if v.AccessKey != "" {
		id += "_" + v.AccessKey
	}
	return id
}

// bestURL returns the link to the best quality version of v.
func (v video) bestURL() (string, bool) {
	if f := v.Files; f != nil {
		for _, u := range []string{f.External, f.MP41080, f.MP4720, f.MP4480, f.MP4360, f.MP4240, f.MP4144} {
			if u != "" {
				return u, true
			}
		}
	}
	if v.Player != "" {
		return v.Player, true
	}
	return "", false
}

// resolveVideo fetches the playable URL of a video attachment. Attachments in
// long-poll events carry no files.
func (c *client) resolveVideo(ctx context.Context, v video) (string, error) {
	if u, ok := v.bestURL(); ok && v.Files != nil {
		return u, nil
	}
	resp, err := call[struct {
		Items []video `json:"items"`
	}](ctx, c, "video.get", url.Values{
		"videos": {v.fullID()},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Items) == 0 {
		return "", fmt.Errorf("video %s not found", v.fullID())
	}
	u, ok := resp.Items[0].bestURL()
	if !ok {
		return "", fmt.Errorf("video %s has no suitable file", v.fullID())
	}
	return u, nil
}

// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package settings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"go.astrophena.name/retell/internal/atomicio"
)

// SaveToFile returns a SaveFunc that writes settings into the top level of a
// YAML file. Other keys of the file, and comments, are left as they are.
func SaveToFile(path string) SaveFunc {
	return func(_ context.Context, s Settings) error {
		perm := fs.FileMode(0o600)
		var doc yaml.Node
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return err
		default:
			if fi, err := os.Stat(path); err == nil {
				perm = fi.Mode().Perm()
			}
			if err := yaml.Unmarshal(b, &doc); err != nil {
				return fmt.Errorf("parsing %s: %w", path, err)
			}
		}

		root, err := topLevel(&doc)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		var updated yaml.Node
		if err := updated.Encode(s); err != nil {
			return err
		}
		merge(root, &updated)

		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(&doc); err != nil {
			return err
		}
		if err := enc.Close(); err != nil {
			return err
		}
		return atomicio.WriteFile(path, buf.Bytes(), perm)
	}
}

// topLevel returns the top-level mapping of a document, creating it in an
// empty one.
func topLevel(doc *yaml.Node) (*yaml.Node, error) {
	if doc.Kind == 0 {
		doc.Kind = yaml.DocumentNode
	}
	if doc.Kind != yaml.DocumentNode {
		return nil, errors.New("not a YAML document")
	}
	if len(doc.Content) == 0 {
		doc.Content = append(doc.Content, &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"})
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.New("top level is not a mapping")
	}
	return root, nil
}

// merge sets every key of src in dst, a mapping node. Keys missing from src
// are removed from dst if they belong to Settings.
func merge(dst, src *yaml.Node) {
	set := make(map[string]*yaml.Node, len(src.Content)/2)
	for i := 0; i+1 < len(src.Content); i += 2 {
		set[src.Content[i].Value] = src.Content[i+1]
	}

	var content []*yaml.Node
	for i := 0; i+1 < len(dst.Content); i += 2 {
		key, val := dst.Content[i], dst.Content[i+1]
		if v, ok := set[key.Value]; ok {
			// Keep comments attached to the old value.
			v.HeadComment, v.LineComment, v.FootComment = val.HeadComment, val.LineComment, val.FootComment
			val = v
			delete(set, key.Value)
		} else if settingKeys[key.Value] {
			continue
		}
		content = append(content, key, val)
	}
	for i := 0; i+1 < len(src.Content); i += 2 {
		if v, ok := set[src.Content[i].Value]; ok {
			content = append(content, src.Content[i], v)
		}
	}
	dst.Content = content
}

// settingKeys are the YAML keys of Settings.
var settingKeys = map[string]bool{
	"enabled":                  true,
	"signal_words":             true,
	"ignore_signal_words_case": true,
	"clear_hashtags":           true,
	"gif_media_group_mode":     true,
}

// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package provider

import (
	"encoding/json"
	"strings"

	"github.com/synthome-dev/synthome/pkg/media"
)

// Payload keys that commonly carry the artifact across providers
var outputKeys = []string{"url", "video", "audio", "image", "images", "output", "file"}

// collectURLs walks a provider payload fragment and pulls out artifact
// URLs. Providers return a bare URL string, arrays of them, or objects
// nesting them under well-known keys.
func collectURLs(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil
	}
	return urlsFromValue(value)
}

func urlsFromValue(value interface{}) []string {
	switch v := value.(type) {
	case string:
		if strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") || strings.HasPrefix(v, "data:") {
			return []string{v}
		}
	case []interface{}:
		var urls []string
		for _, item := range v {
			urls = append(urls, urlsFromValue(item)...)
		}
		return urls
	case map[string]interface{}:
		for _, key := range outputKeys {
			if nested, ok := v[key]; ok {
				if urls := urlsFromValue(nested); len(urls) > 0 {
					return urls
				}
			}
		}
	}
	return nil
}

// buildOutputs types the extracted URLs with the model's declared media
// type. The mime type comes from the URL extension when recognizable,
// the media type's default container otherwise.
func buildOutputs(m *Model, urls []string) []media.MediaOutput {
	outputs := make([]media.MediaOutput, 0, len(urls))
	for _, u := range urls {
		mimeType := media.MimeForExtension(media.ExtensionForURL(u))
		if mimeType == "" {
			mimeType = media.DefaultMime(m.Type)
		}
		outputs = append(outputs, media.MediaOutput{
			Type:     m.Type,
			URL:      u,
			MimeType: mimeType,
		})
	}
	return outputs
}

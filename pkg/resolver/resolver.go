// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package resolver

import (
	"strings"

	"github.com/synthome-dev/synthome/pkg/errors"
	"github.com/synthome-dev/synthome/pkg/media"
)

// Dependency sentinel prefixes. A string param whose entire value is
// `<prefix><depId>` is replaced by the dependency's resolved URL.
const (
	SentinelJob           = "_jobDependency:"
	SentinelImageJob      = "_imageJobDependency:"
	SentinelVideoJob      = "_videoJobDependency:"
	SentinelAudioJob      = "_audioJobDependency:"
	SentinelTranscriptJob = "_transcriptJobDependency:"
)

// Scanned positions. Substitution happens only here, other string
// params pass through untouched.
var scannedKeys = []string{"image", "audio", "video", "transcript"}

// Resolve produces effective params from declared params by
// substituting dependency sentinels with the URLs of completed
// dependency results. The input maps are not mutated.
func Resolve(params map[string]interface{}, depResults map[string]*media.JobResult) (map[string]interface{}, error) {
	if params == nil {
		return nil, nil
	}

	resolved := make(map[string]interface{}, len(params))
	for k, v := range params {
		resolved[k] = v
	}

	for _, key := range scannedKeys {
		if s, ok := resolved[key].(string); ok {
			url, matched, err := resolveSentinel(s, depResults)
			if err != nil {
				return nil, err
			}
			if matched {
				resolved[key] = url
			}
		}
	}

	if bg, ok := resolved["background"].([]interface{}); ok {
		elements, err := resolveStringElements(bg, depResults)
		if err != nil {
			return nil, err
		}
		resolved["background"] = elements
	}

	for key, value := range resolved {
		arr, ok := value.([]interface{})
		if !ok || key == "background" {
			continue
		}
		elements, changed, err := resolveObjectElements(arr, depResults)
		if err != nil {
			return nil, err
		}
		if changed {
			resolved[key] = elements
		}
	}

	return resolved, nil
}

// resolveStringElements substitutes sentinel strings element-wise
func resolveStringElements(arr []interface{}, deps map[string]*media.JobResult) ([]interface{}, error) {
	out := make([]interface{}, len(arr))
	for i, elem := range arr {
		out[i] = elem
		s, ok := elem.(string)
		if !ok {
			continue
		}
		url, matched, err := resolveSentinel(s, deps)
		if err != nil {
			return nil, err
		}
		if matched {
			out[i] = url
		}
	}
	return out, nil
}

// resolveObjectElements scans the url and media positions of object
// elements, including one nested timeline level.
func resolveObjectElements(arr []interface{}, deps map[string]*media.JobResult) ([]interface{}, bool, error) {
	changed := false
	out := make([]interface{}, len(arr))
	for i, elem := range arr {
		out[i] = elem
		obj, ok := elem.(map[string]interface{})
		if !ok {
			continue
		}

		next, objChanged, err := resolveObjectPositions(obj, deps)
		if err != nil {
			return nil, false, err
		}
		if objChanged {
			out[i] = next
			changed = true
		}
	}
	return out, changed, nil
}

func resolveObjectPositions(obj map[string]interface{}, deps map[string]*media.JobResult) (map[string]interface{}, bool, error) {
	changed := false
	next := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		next[k] = v
	}

	for _, key := range []string{"url", "media"} {
		if s, ok := next[key].(string); ok {
			url, matched, err := resolveSentinel(s, deps)
			if err != nil {
				return nil, false, err
			}
			if matched {
				next[key] = url
				changed = true
			}
		}
	}

	if timeline, ok := next["timeline"].([]interface{}); ok {
		elements, tlChanged, err := resolveObjectElements(timeline, deps)
		if err != nil {
			return nil, false, err
		}
		if tlChanged {
			next["timeline"] = elements
			changed = true
		}
	}

	return next, changed, nil
}

// resolveSentinel maps a sentinel string to its dependency URL.
// matched is false for non-sentinel strings, which pass through.
func resolveSentinel(s string, deps map[string]*media.JobResult) (string, bool, error) {
	var depID, requiredType string

	switch {
	case strings.HasPrefix(s, SentinelImageJob):
		depID, requiredType = s[len(SentinelImageJob):], media.TypeImage
	case strings.HasPrefix(s, SentinelVideoJob):
		depID, requiredType = s[len(SentinelVideoJob):], media.TypeVideo
	case strings.HasPrefix(s, SentinelAudioJob):
		depID, requiredType = s[len(SentinelAudioJob):], media.TypeAudio
	case strings.HasPrefix(s, SentinelTranscriptJob):
		depID, requiredType = s[len(SentinelTranscriptJob):], media.TypeTranscript
	case strings.HasPrefix(s, SentinelJob):
		depID = s[len(SentinelJob):]
	default:
		return "", false, nil
	}

	result, ok := deps[depID]
	if !ok || result == nil {
		return "", false, errors.NewError().
			WithCode(errors.DependencyMissing).
			WithMessagef("dependency '%s' is missing or not completed", depID)
	}

	if requiredType == "" {
		url, found := result.PrimaryURL()
		if !found {
			return "", false, errors.NewError().
				WithCode(errors.DependencyShape).
				WithMessagef("dependency '%s' result has no usable output url", depID)
		}
		return url, true, nil
	}

	url, found := result.TypedURL(requiredType)
	if !found {
		return "", false, errors.NewError().
			WithCode(errors.DependencyShape).
			WithMessagef("dependency '%s' result has no usable %s output", depID, requiredType)
	}
	return url, true, nil
}

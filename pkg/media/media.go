package media

import (
	"encoding/json"
	"strings"
)

// Media types carried in operation results
const (
	TypeVideo      = "video"
	TypeAudio      = "audio"
	TypeImage      = "image"
	TypeTranscript = "transcript"
)

// Result status values
const (
	StatusCompleted = "completed"
)

// MediaOutput is one produced artifact
type MediaOutput struct {
	Type     string `json:"type"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
}

// TranscriptWord is one word of a normalized transcript. Start and End
// are seconds from the beginning of the media.
type TranscriptWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// ParseTranscript decodes a normalized transcript document
func ParseTranscript(data []byte) ([]TranscriptWord, error) {
	var words []TranscriptWord
	if err := json.Unmarshal(data, &words); err != nil {
		return nil, err
	}
	return words, nil
}

// JobResult is the operation result written to a job row. New results
// carry outputs[]; the legacy flat shape (url at the top level) is
// accepted on read but never emitted.
type JobResult struct {
	Status   string                 `json:"status,omitempty"`
	Outputs  []MediaOutput          `json:"outputs,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Legacy flat fields
	URL      string  `json:"url,omitempty"`
	Type     string  `json:"type,omitempty"`
	MimeType string  `json:"mimeType,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Size     int64   `json:"size,omitempty"`
}

// NewResult builds a canonical completed result
func NewResult(outputs ...MediaOutput) *JobResult {
	return &JobResult{
		Status:  StatusCompleted,
		Outputs: outputs,
	}
}

// ParseResult decodes a stored job result, nil for empty input
func ParseResult(data json.RawMessage) (*JobResult, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var r JobResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Marshal encodes the result for storage
func (r *JobResult) Marshal() (json.RawMessage, error) {
	return json.Marshal(r)
}

// PrimaryURL returns the result's main artifact URL: outputs[0].url for
// the new shape, the flat url for the legacy shape. ok is false when
// neither is present.
func (r *JobResult) PrimaryURL() (string, bool) {
	if r == nil {
		return "", false
	}
	if len(r.Outputs) > 0 && r.Outputs[0].URL != "" {
		return r.Outputs[0].URL, true
	}
	if r.URL != "" {
		return r.URL, true
	}
	return "", false
}

// TypedURL returns the primary URL when the first output carries the
// required media type. Legacy results carry no type information and
// pass the check on url presence alone.
func (r *JobResult) TypedURL(mediaType string) (string, bool) {
	if r == nil {
		return "", false
	}
	if len(r.Outputs) > 0 {
		if r.Outputs[0].Type != mediaType {
			return "", false
		}
		return r.Outputs[0].URL, r.Outputs[0].URL != ""
	}
	if r.URL != "" {
		return r.URL, true
	}
	return "", false
}

// IsCompleted tests the result's own status marker. Missing status on a
// legacy result counts as completed when a url is present.
func (r *JobResult) IsCompleted() bool {
	if r == nil {
		return false
	}
	if r.Status != "" {
		return r.Status == StatusCompleted
	}
	return r.URL != ""
}

var mimeByExt = map[string]string{
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"mov":  "video/quicktime",
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"m4a":  "audio/mp4",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"webp": "image/webp",
	"gif":  "image/gif",
	"json": "application/json",
	"ass":  "text/plain",
	"srt":  "text/plain",
}

var extByMime = map[string]string{
	"video/mp4":        "mp4",
	"video/webm":       "webm",
	"video/quicktime":  "mov",
	"audio/mpeg":       "mp3",
	"audio/wav":        "wav",
	"audio/x-wav":      "wav",
	"audio/mp4":        "m4a",
	"image/png":        "png",
	"image/jpeg":       "jpg",
	"image/webp":       "webp",
	"image/gif":        "gif",
	"application/json": "json",
}

// MimeForExtension maps a file extension to its mime type, empty when unknown
func MimeForExtension(ext string) string {
	return mimeByExt[strings.ToLower(strings.TrimPrefix(ext, "."))]
}

// ExtensionForMime maps a mime type to a file extension. Unknown mime
// types fall back to the media type's default container.
func ExtensionForMime(mimeType, mediaType string) string {
	if ext, ok := extByMime[strings.ToLower(mimeType)]; ok {
		return ext
	}
	return DefaultExtension(mediaType)
}

// DefaultExtension returns the default container per media type
func DefaultExtension(mediaType string) string {
	switch mediaType {
	case TypeAudio:
		return "mp3"
	case TypeImage:
		return "png"
	case TypeTranscript:
		return "json"
	default:
		return "mp4"
	}
}

// DefaultMime returns the default mime type per media type
func DefaultMime(mediaType string) string {
	switch mediaType {
	case TypeAudio:
		return "audio/mpeg"
	case TypeImage:
		return "image/png"
	case TypeTranscript:
		return "application/json"
	default:
		return "video/mp4"
	}
}

// ExtensionForURL extracts the file extension from a URL, empty when
// the path carries none. Query strings and fragments are ignored.
func ExtensionForURL(url string) string {
	if q := strings.IndexAny(url, "?#"); q >= 0 {
		url = url[:q]
	}
	idx := strings.LastIndex(url, ".")
	if idx < 0 || idx == len(url)-1 {
		return ""
	}
	ext := url[idx+1:]
	if strings.ContainsAny(ext, "/\\") {
		return ""
	}
	return strings.ToLower(ext)
}

// TypeForURL guesses the media type from a URL's file extension
func TypeForURL(url string) string {
	idx := strings.LastIndex(url, ".")
	if idx < 0 || idx == len(url)-1 {
		return ""
	}
	ext := url[idx+1:]
	if q := strings.IndexAny(ext, "?#"); q >= 0 {
		ext = ext[:q]
	}
	mime := MimeForExtension(ext)
	switch {
	case strings.HasPrefix(mime, "video/"):
		return TypeVideo
	case strings.HasPrefix(mime, "audio/"):
		return TypeAudio
	case strings.HasPrefix(mime, "image/"):
		return TypeImage
	case mime == "application/json":
		return TypeTranscript
	default:
		return ""
	}
}

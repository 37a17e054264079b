package mediaservice

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/synthome-dev/synthome/pkg/config"
	"github.com/synthome-dev/synthome/pkg/errors"
	"github.com/synthome-dev/synthome/pkg/media"
)

// Client is the HTTP client for the FFmpeg media service. Composition
// endpoints take source URLs and respond with the produced file; the
// caller owns uploading it to storage.
type Client struct {
	client *resty.Client
}

// Config represents client configuration
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	RetryCount    int
	RetryWaitTime time.Duration
	Debug         bool
}

// DefaultConfig returns default client configuration. The timeout is
// long because composition renders whole videos in one request.
func DefaultConfig(baseURL string) *Config {
	return &Config{
		BaseURL:       baseURL,
		Timeout:       10 * time.Minute,
		RetryCount:    0,
		RetryWaitTime: 2 * time.Second,
		Debug:         false,
	}
}

// NewClient creates a new media service HTTP client
func NewClient(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig("http://localhost:3030")
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWaitTime).
		SetHeader("Content-Type", "application/json")

	if cfg.Debug {
		client.SetDebug(true)
	}

	return &Client{client: client}
}

// NewFromConfig builds a client from the service configuration block
func NewFromConfig(cfg *config.MediaServiceConfig) *Client {
	if cfg == nil || cfg.BaseURL == "" {
		return NewClient(nil)
	}
	c := DefaultConfig(cfg.BaseURL)
	c.Timeout = cfg.GetTimeout()
	return NewClient(c)
}

// Output is a produced media file
type Output struct {
	Data        []byte
	ContentType string
}

// ProbeResult describes a media file's streams
type ProbeResult struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Duration float64 `json:"duration"`
	HasAudio bool    `json:"hasAudio"`
}

// MergeSegment is one visual item of a merge timeline. Image segments
// carry the duration they should play for.
type MergeSegment struct {
	URL      string  `json:"url"`
	Type     string  `json:"type"`
	Duration float64 `json:"duration,omitempty"`
}

// AudioOverlay is a separate audio track mixed over the merged video
type AudioOverlay struct {
	URL      string  `json:"url"`
	Offset   float64 `json:"offset,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Volume   float64 `json:"volume,omitempty"`
}

// MergeRequest concatenates segments at the target resolution and mixes
// audio overlays over the result
type MergeRequest struct {
	Segments []MergeSegment `json:"segments"`
	Audio    []AudioOverlay `json:"audio,omitempty"`
	Width    int            `json:"width"`
	Height   int            `json:"height"`
}

// ChromaKey removes a color from an overlay before compositing
type ChromaKey struct {
	Color      string  `json:"color"`
	Similarity float64 `json:"similarity"`
	Blend      float64 `json:"blend"`
}

// LayerInput is one layer of a composition. The first layer is the
// base; placement fields are FFmpeg expressions over iw, ih, W, H, w, h.
type LayerInput struct {
	URL       string     `json:"url"`
	Type      string     `json:"type"`
	X         string     `json:"x,omitempty"`
	Y         string     `json:"y,omitempty"`
	Width     string     `json:"width,omitempty"`
	Height    string     `json:"height,omitempty"`
	ChromaKey *ChromaKey `json:"chromaKey,omitempty"`
}

// LayerRequest composites layers onto a canvas and trims the output to
// the given duration
type LayerRequest struct {
	Layers   []LayerInput `json:"layers"`
	Width    int          `json:"width"`
	Height   int          `json:"height"`
	Duration float64      `json:"duration,omitempty"`
}

// ConvertRequest re-encodes a single input. An image with a duration
// becomes a looped video of that length.
type ConvertRequest struct {
	URL      string  `json:"url"`
	Type     string  `json:"type"`
	Format   string  `json:"format,omitempty"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// ExtractAudioRequest pulls the audio track out of a video
type ExtractAudioRequest struct {
	URL    string `json:"url"`
	Format string `json:"format,omitempty"`
}

// GenerateSubtitlesRequest renders word timings into an ASS document
type GenerateSubtitlesRequest struct {
	Transcript []media.TranscriptWord `json:"transcript"`
	Style      map[string]interface{} `json:"style,omitempty"`
}

// BurnSubtitlesRequest burns an ASS document into a video
type BurnSubtitlesRequest struct {
	VideoURL  string `json:"videoUrl"`
	Subtitles string `json:"subtitles"`
}

// Probe inspects a media URL
func (c *Client) Probe(ctx context.Context, mediaURL string) (*ProbeResult, error) {
	type request struct {
		URL string `json:"url"`
	}

	var result ProbeResult
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(&request{URL: mediaURL}).
		SetResult(&result).
		Post("/probe")

	if err != nil {
		return nil, errors.NewError().WithCode(errors.CodeRemoteServiceError).WithError(err).WithMessage("failed to probe media")
	}
	if resp.IsError() {
		return nil, serviceError("/probe", resp)
	}
	return &result, nil
}

// Merge concatenates visual segments and mixes audio overlays
func (c *Client) Merge(ctx context.Context, req *MergeRequest) (*Output, error) {
	return c.produce(ctx, "/merge", req)
}

// Layer composites overlay layers onto a base layer
func (c *Client) Layer(ctx context.Context, req *LayerRequest) (*Output, error) {
	return c.produce(ctx, "/layer", req)
}

// Convert re-encodes one input to the requested format and geometry
func (c *Client) Convert(ctx context.Context, req *ConvertRequest) (*Output, error) {
	return c.produce(ctx, "/convert", req)
}

// ExtractAudio returns a video's audio track
func (c *Client) ExtractAudio(ctx context.Context, req *ExtractAudioRequest) (*Output, error) {
	return c.produce(ctx, "/extract-audio", req)
}

// GenerateSubtitles renders a transcript into ASS subtitle text
func (c *Client) GenerateSubtitles(ctx context.Context, req *GenerateSubtitlesRequest) (string, error) {
	var result struct {
		Content string `json:"content"`
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post("/generate-subtitles")

	if err != nil {
		return "", errors.NewError().WithCode(errors.CodeRemoteServiceError).WithError(err).WithMessage("failed to generate subtitles")
	}
	if resp.IsError() {
		return "", serviceError("/generate-subtitles", resp)
	}
	if result.Content == "" {
		return "", errors.NewError().WithCode(errors.CodeRemoteServiceError).WithMessage("media service returned empty subtitles")
	}
	return result.Content, nil
}

// BurnSubtitles burns subtitle text into a video
func (c *Client) BurnSubtitles(ctx context.Context, req *BurnSubtitlesRequest) (*Output, error) {
	return c.produce(ctx, "/burn-subtitles", req)
}

// produce posts a composition request and returns the response file
func (c *Client) produce(ctx context.Context, path string, body interface{}) (*Output, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)

	if err != nil {
		return nil, errors.NewError().WithCode(errors.CodeRemoteServiceError).WithError(err).WithMessagef("media service %s failed", path)
	}
	if resp.IsError() {
		return nil, serviceError(path, resp)
	}

	data := resp.Body()
	if len(data) == 0 {
		return nil, errors.NewError().WithCode(errors.CodeRemoteServiceError).WithMessagef("media service %s returned an empty file", path)
	}
	return &Output{
		Data:        data,
		ContentType: resp.Header().Get("Content-Type"),
	}, nil
}

// serviceError extracts the service's error message from an HTTP error
// response. The service reports failures as {"error": "..."}.
func serviceError(path string, resp *resty.Response) error {
	detail := strings.TrimSpace(resp.String())
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Error != "" {
		detail = body.Error
	}
	if len(detail) > 300 {
		detail = detail[:300]
	}
	return errors.NewError().WithCode(errors.CodeRemoteServiceError).WithMessagef("media service %s failed with status %d: %s", path, resp.StatusCode(), detail)
}

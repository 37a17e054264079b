// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package provider

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/synthome-dev/synthome/pkg/errors"
	"github.com/synthome-dev/synthome/pkg/media"
)

// Params keys consumed by the core rather than the model
var reservedParamKeys = map[string]bool{
	"provider":       true,
	"modelId":        true,
	"sendJobWebhook": true,
}

// Model is one catalog entry: which provider serves it, what it
// produces, how completion is observed, and the JSON Schema its options
// are validated against.
type Model struct {
	ID               string
	Provider         string
	Type             string
	Version          string
	SupportsWebhooks bool
	DefaultStrategy  string
	OptionSchema     json.RawMessage
}

// Strategy returns the waiting strategy for this model. Models that
// declare webhook support wait on callbacks; everything else polls.
func (m *Model) Strategy() string {
	if m.DefaultStrategy != "" {
		return m.DefaultStrategy
	}
	if m.SupportsWebhooks {
		return StrategyWebhook
	}
	return StrategyPolling
}

// Catalog is the model registry. Compiled option schemas are cached so
// repeated validations of the same model skip recompilation.
type Catalog struct {
	mutex   sync.RWMutex
	models  map[string]*Model
	schemas *cache.Cache
}

func NewCatalog(models ...*Model) *Catalog {
	c := &Catalog{
		models:  make(map[string]*Model),
		schemas: cache.New(30*time.Minute, time.Hour),
	}
	for _, m := range models {
		c.Register(m)
	}
	return c
}

func (c *Catalog) Register(m *Model) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.models[m.ID] = m
}

func (c *Catalog) Get(id string) (*Model, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	m, ok := c.models[id]
	if !ok {
		return nil, errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessagef("unknown model '%s'", id)
	}
	return m, nil
}

// ProviderParams strips the core's control keys so only model options
// reach the provider and the schema.
func ProviderParams(params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for key, value := range params {
		if reservedParamKeys[key] {
			continue
		}
		out[key] = value
	}
	return out
}

// ValidateParams checks the model options against the model's declared
// schema. Models without a schema accept anything.
func (c *Catalog) ValidateParams(m *Model, params map[string]interface{}) error {
	if len(m.OptionSchema) == 0 {
		return nil
	}
	schema, err := c.compiledSchema(m)
	if err != nil {
		return err
	}

	// Round-trip through JSON so the instance matches what the schema
	// library expects regardless of how the map was built.
	raw, err := json.Marshal(ProviderParams(params))
	if err != nil {
		return errors.NewError().WithCode(errors.RequestParameterInvalid).WithError(err).WithMessagef("params for model '%s' are not serializable", m.ID)
	}
	var instance interface{}
	if err := json.Unmarshal(raw, &instance); err != nil {
		return errors.NewError().WithCode(errors.InternalError).WithError(err).WithMessage("failed to decode params")
	}

	if err := schema.Validate(instance); err != nil {
		return errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessagef("params validation failed for model '%s': %v", m.ID, err)
	}
	return nil
}

func (c *Catalog) compiledSchema(m *Model) (*jsonschema.Schema, error) {
	if cached, ok := c.schemas.Get(m.ID); ok {
		return cached.(*jsonschema.Schema), nil
	}

	var doc interface{}
	if err := json.Unmarshal(m.OptionSchema, &doc); err != nil {
		return nil, errors.NewError().WithCode(errors.InternalError).WithError(err).WithMessagef("option schema of model '%s' is malformed", m.ID)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("options.json", doc); err != nil {
		return nil, errors.NewError().WithCode(errors.InternalError).WithError(err).WithMessagef("option schema of model '%s' is not loadable", m.ID)
	}
	schema, err := compiler.Compile("options.json")
	if err != nil {
		return nil, errors.NewError().WithCode(errors.InternalError).WithError(err).WithMessagef("option schema of model '%s' does not compile", m.ID)
	}

	c.schemas.Set(m.ID, schema, cache.DefaultExpiration)
	return schema, nil
}

// DefaultCatalog returns the built-in model set. Deployments extend it
// at bootstrap.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		&Model{
			ID:               "wan-video/wan-2.2-t2v-fast",
			Provider:         "replicate",
			Type:             media.TypeVideo,
			SupportsWebhooks: true,
			OptionSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"prompt": {"type": "string", "minLength": 1},
					"image": {"type": "string"},
					"duration": {"type": "number", "minimum": 1, "maximum": 30},
					"resolution": {"type": "string", "enum": ["480p", "720p", "1080p"]}
				},
				"required": ["prompt"]
			}`),
		},
		&Model{
			ID:               "black-forest-labs/flux-schnell",
			Provider:         "replicate",
			Type:             media.TypeImage,
			SupportsWebhooks: true,
			OptionSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"prompt": {"type": "string", "minLength": 1},
					"aspect_ratio": {"type": "string"},
					"output_format": {"type": "string", "enum": ["png", "jpg", "webp"]}
				},
				"required": ["prompt"]
			}`),
		},
		&Model{
			ID:               "minimax/speech-02-turbo",
			Provider:         "replicate",
			Type:             media.TypeAudio,
			SupportsWebhooks: true,
			OptionSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"text": {"type": "string", "minLength": 1},
					"voice_id": {"type": "string"},
					"speed": {"type": "number", "minimum": 0.5, "maximum": 2}
				},
				"required": ["text"]
			}`),
		},
		&Model{
			ID:               "851-labs/background-remover",
			Provider:         "replicate",
			Type:             media.TypeImage,
			Version:          "a029dff38972b5fda4ec5d75d7d1cd25aeff621d2cf4946a41055d7db66b80bc",
			SupportsWebhooks: false,
			OptionSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"image": {"type": "string", "minLength": 1}
				},
				"required": ["image"]
			}`),
		},
		&Model{
			ID:               "arielreplicate/robust_video_matting",
			Provider:         "replicate",
			Type:             media.TypeVideo,
			Version:          "73d2128a371922d5d1abf0712a1d974be0e4e2358cc1218e4e34714767232bac",
			SupportsWebhooks: false,
			OptionSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"video": {"type": "string", "minLength": 1}
				},
				"required": ["video"]
			}`),
		},
		&Model{
			ID:               "luma/reframe-video",
			Provider:         "replicate",
			Type:             media.TypeVideo,
			SupportsWebhooks: true,
			OptionSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"video": {"type": "string", "minLength": 1},
					"aspectRatio": {"type": "string", "enum": ["16:9", "9:16", "1:1", "4:3", "3:4"]}
				},
				"required": ["video"]
			}`),
		},
		&Model{
			ID:               "sync/lipsync-2",
			Provider:         "replicate",
			Type:             media.TypeVideo,
			SupportsWebhooks: true,
			OptionSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"video": {"type": "string", "minLength": 1},
					"audio": {"type": "string", "minLength": 1}
				},
				"required": ["video", "audio"]
			}`),
		},
		&Model{
			ID:               "openai/whisper",
			Provider:         "replicate",
			Type:             media.TypeTranscript,
			Version:          "cdd97b257f93cb89dede1c7584e3f3dfc969571b357dbcee08e793740bedd854",
			SupportsWebhooks: false,
			DefaultStrategy:  StrategyPolling,
			OptionSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"audio": {"type": "string", "minLength": 1},
					"language": {"type": "string"}
				},
				"required": ["audio"]
			}`),
		},
		&Model{
			ID:               "fal-ai/flux/schnell",
			Provider:         "fal",
			Type:             media.TypeImage,
			SupportsWebhooks: true,
			OptionSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"prompt": {"type": "string", "minLength": 1},
					"image_size": {"type": "string"},
					"num_images": {"type": "integer", "minimum": 1, "maximum": 4}
				},
				"required": ["prompt"]
			}`),
		},
		&Model{
			ID:               "fal-ai/ltx-video",
			Provider:         "fal",
			Type:             media.TypeVideo,
			SupportsWebhooks: false,
			OptionSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"prompt": {"type": "string", "minLength": 1},
					"image_url": {"type": "string"},
					"num_frames": {"type": "integer", "minimum": 1}
				},
				"required": ["prompt"]
			}`),
		},
		&Model{
			ID:               "fal-ai/whisper",
			Provider:         "fal",
			Type:             media.TypeTranscript,
			SupportsWebhooks: false,
			DefaultStrategy:  StrategyPolling,
			OptionSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"audio_url": {"type": "string", "minLength": 1},
					"task": {"type": "string", "enum": ["transcribe", "translate"]}
				},
				"required": ["audio_url"]
			}`),
		},
	)
}

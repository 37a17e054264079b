// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package clientsets

import (
	"context"
	"sync"

	"github.com/synthome-dev/synthome/pkg/config"
	"github.com/synthome-dev/synthome/pkg/logger/log"
	"github.com/synthome-dev/synthome/pkg/mediaservice"
	"github.com/synthome-dev/synthome/pkg/provider"
	"github.com/synthome-dev/synthome/pkg/sql"
	"github.com/synthome-dev/synthome/pkg/storage"
)

/// ClientSets bundles the process-wide clients for external systems:
// the object store, the media service, and the generation providers.
type ClientSets struct {
	Store     storage.Store
	Transfer  *storage.Transfer
	Media     *mediaservice.Client
	Providers *provider.Registry
	Catalog   *provider.Catalog
}

var (
	mu      sync.RWMutex
	current *ClientSets
)

// InitClientSets connects the database and builds the client bundle
// from configuration. Storage is optional; without it provider outputs
// stay at their provider-hosted URLs.
func InitClientSets(ctx context.Context, cfg *config.Config) error {
	dbConf, err := cfg.GetDatabaseConfig()
	if err != nil {
		return err
	}
	if _, err := sql.InitDefault(*dbConf); err != nil {
		return err
	}

	sets := &ClientSets{
		Media:   mediaservice.NewFromConfig(cfg.Media),
		Catalog: provider.DefaultCatalog(),
	}

	if err := cfg.Storage.Validate(); err != nil {
		log.GlobalLogger().Warnf("object storage not configured, provider outputs will not be rehomed: %v", err)
	} else {
		store, err := storage.NewMinioStore(cfg.Storage)
		if err != nil {
			return err
		}
		sets.Store = store
		sets.Transfer = storage.NewTransfer(store, nil)
	}

	registry := provider.NewRegistry()
	for name, providerConf := range cfg.Providers {
		providerConf := providerConf
		switch name {
		case "replicate":
			registry.Register(provider.NewReplicate(&providerConf))
		case "fal":
			registry.Register(provider.NewFal(&providerConf))
		default:
			log.GlobalLogger().Warnf("ignoring unknown provider '%s' in configuration", name)
			continue
		}
		registry.SetCredentials(name, providerConf.APIKey, providerConf.WebhookSecret)
		log.GlobalLogger().Infof("registered provider %s", name)
	}
	sets.Providers = registry

	Set(sets)
	return nil
}

// Get returns the process-wide client bundle
func Get() *ClientSets {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Set replaces the process-wide client bundle. Tests use this.
func Set(sets *ClientSets) {
	mu.Lock()
	defer mu.Unlock()
	current = sets
}

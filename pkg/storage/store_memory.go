// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/synthome-dev/synthome/pkg/errors"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryStore is an in-process Store used by tests and local runs.
type MemoryStore struct {
	mutex   sync.RWMutex
	objects map[string]memoryObject
	baseURL string
}

func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = "https://cdn.invalid"
	}
	return &MemoryStore{
		objects: make(map[string]memoryObject),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (s *MemoryStore) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", errors.NewError().WithCode(errors.InternalError).WithError(err).WithMessagef("failed to read object '%s'", key)
	}
	return s.UploadBytes(ctx, key, data, contentType)
}

func (s *MemoryStore) UploadBytes(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	s.mutex.Lock()
	s.objects[key] = memoryObject{data: append([]byte(nil), data...), contentType: contentType}
	s.mutex.Unlock()
	return s.URL(ctx, key)
}

func (s *MemoryStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	data, err := s.DownloadBytes(ctx, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStore) DownloadBytes(ctx context.Context, key string) ([]byte, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	object, ok := s.objects[key]
	if !ok {
		return nil, errors.NewError().WithCode(errors.RequestDataNotExisted).WithMessagef("object '%s' not found", key)
	}
	return append([]byte(nil), object.data...), nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *MemoryStore) URL(ctx context.Context, key string) (string, error) {
	return s.baseURL + "/" + key, nil
}

// ContentType reports the stored content type, empty when absent.
func (s *MemoryStore) ContentType(key string) string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.objects[key].contentType
}

// Len reports the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.objects)
}

// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package storage

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/synthome-dev/synthome/pkg/config"
	"github.com/synthome-dev/synthome/pkg/errors"
	"github.com/synthome-dev/synthome/pkg/logger/log"
)

const presignExpiry = 7 * 24 * time.Hour

// MinioStore implements Store on any S3-compatible endpoint.
type MinioStore struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewMinioStore connects to the configured endpoint and ensures the
// bucket exists. Bucket creation failures are logged rather than fatal
// so startup does not depend on bucket-admin permissions.
func NewMinioStore(cfg *config.StorageConfig) (*MinioStore, error) {
	if cfg == nil {
		return nil, errors.NewError().WithCode(errors.CodeLackOfConfig).WithMessage("storage config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewError().WithCode(errors.CodeLackOfConfig).WithError(err).WithMessage("storage config incomplete")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, errors.NewError().WithCode(errors.CodeInitializeError).WithError(err).WithMessage("failed to create storage client")
	}

	store := &MinioStore{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		log.GlobalLogger().Warnf("failed to check bucket %s: %v", cfg.Bucket, err)
	} else if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			log.GlobalLogger().Warnf("failed to create bucket %s: %v", cfg.Bucket, err)
		} else {
			log.GlobalLogger().Infof("created storage bucket %s", cfg.Bucket)
		}
	}

	return store, nil
}

func (s *MinioStore) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", errors.NewError().WithCode(errors.CodeRemoteServiceError).WithError(err).WithMessagef("failed to upload object '%s'", key)
	}
	return s.URL(ctx, key)
}

func (s *MinioStore) UploadBytes(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	return s.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}

func (s *MinioStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.NewError().WithCode(errors.CodeRemoteServiceError).WithError(err).WithMessagef("failed to download object '%s'", key)
	}
	// GetObject is lazy; stat now so missing keys fail here instead of
	// on the first read.
	if _, err := object.Stat(); err != nil {
		object.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, errors.NewError().WithCode(errors.RequestDataNotExisted).WithMessagef("object '%s' not found", key)
		}
		return nil, errors.NewError().WithCode(errors.CodeRemoteServiceError).WithError(err).WithMessagef("failed to download object '%s'", key)
	}
	return object, nil
}

func (s *MinioStore) DownloadBytes(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.NewError().WithCode(errors.CodeRemoteServiceError).WithError(err).WithMessagef("failed to read object '%s'", key)
	}
	return data, nil
}

func (s *MinioStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, errors.NewError().WithCode(errors.CodeRemoteServiceError).WithError(err).WithMessagef("failed to stat object '%s'", key)
	}
	return true, nil
}

func (s *MinioStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return errors.NewError().WithCode(errors.CodeRemoteServiceError).WithError(err).WithMessagef("failed to delete object '%s'", key)
	}
	return nil
}

// URL prefers the configured public base, which fronts the bucket with
// a CDN. Without one it falls back to a presigned link.
func (s *MinioStore) URL(ctx context.Context, key string) (string, error) {
	if s.publicURL != "" {
		return s.publicURL + "/" + key, nil
	}
	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, key, presignExpiry, url.Values{})
	if err != nil {
		return "", errors.NewError().WithCode(errors.CodeRemoteServiceError).WithError(err).WithMessagef("failed to presign object '%s'", key)
	}
	return presigned.String(), nil
}

// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Store is the object storage surface used by operation handlers and the
// gateway. Upload returns the stored object's public URL. A size of -1
// streams the reader without a known length.
type Store interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error)
	UploadBytes(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	DownloadBytes(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	URL(ctx context.Context, key string) (string, error)
}

// JobOutputKey is the canonical location of a job's final artifact.
// Keys are deterministic so a retried job overwrites its own output
// instead of accumulating copies.
func JobOutputKey(executionID, jobID, ext string) string {
	return fmt.Sprintf("executions/%s/%s/output.%s", executionID, jobID, strings.TrimPrefix(ext, "."))
}

// ScratchKey locates an intermediate artifact produced while building
// a job's output, kept next to the output for the same overwrite
// semantics.
func ScratchKey(executionID, jobID, filename string) string {
	return fmt.Sprintf("executions/%s/%s/%s", executionID, jobID, filename)
}

// TranscriptKey locates a normalized word-timing transcript document.
func TranscriptKey(id string) string {
	return fmt.Sprintf("transcripts/%s.json", id)
}

// AudioKey locates an extracted audio track.
func AudioKey(id string) string {
	return fmt.Sprintf("audio/%s.mp3", id)
}

// CaptionKey locates a subtitle-burned video.
func CaptionKey(id string) string {
	return fmt.Sprintf("captions/%s.mp4", id)
}

// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package sql

import (
	"context"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"github.com/synthome-dev/synthome/pkg/logger/log"
)

const slowQueryThreshold = 5 * time.Second

// NullLogger silences gorm's default logging. Slow queries are still
// surfaced through the global logger.
type NullLogger struct{}

func (NullLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface {
	return NullLogger{}
}

func (NullLogger) Info(ctx context.Context, msg string, data ...interface{}) {}

func (NullLogger) Warn(ctx context.Context, msg string, data ...interface{}) {}

func (NullLogger) Error(ctx context.Context, msg string, data ...interface{}) {}

func (NullLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	if elapsed < slowQueryThreshold {
		return
	}
	sql, rows := fc()
	log.Warnf("Slow query (%v, %d rows): %s", elapsed, rows, sql)
}

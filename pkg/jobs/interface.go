// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package jobs

import (
	"context"
)

// Job is one scheduled background task. Schedule uses cron syntax,
// including the @every shorthand.
type Job interface {
	Name() string
	Schedule() string
	Run(ctx context.Context) error
}

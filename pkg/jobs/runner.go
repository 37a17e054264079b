// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package jobs

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/synthome-dev/synthome/pkg/logger/log"
	"github.com/synthome-dev/synthome/pkg/utils/goroutineUtil"
)

// Start schedules the given jobs and returns the running cron. The
// cron stops when the context ends. A job error is logged and the next
// tick runs anyway; a panic costs only that tick.
func Start(ctx context.Context, jobs ...Job) (*cron.Cron, error) {
	c := cron.New()
	for _, job := range jobs {
		job := job
		_, err := c.AddFunc(job.Schedule(), func() {
			defer goroutineUtil.RecoverFunc(nil)()
			if err := job.Run(ctx); err != nil {
				log.GlobalLogger().Errorf("job %s: %v", job.Name(), err)
			}
		})
		if err != nil {
			return nil, err
		}
		log.GlobalLogger().Infof("scheduled job %s (%s)", job.Name(), job.Schedule())
	}
	c.Start()

	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	return c, nil
}

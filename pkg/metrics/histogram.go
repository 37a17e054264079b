// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type HistogramVec struct {
	histogram *prometheus.HistogramVec
}

func NewHistogramVec(metricsName, help string, labels []string, opts ...OptsFunc) *HistogramVec {
	opt := &mOpts{
		name: metricsName,
		help: help,
	}
	for _, optsFunc := range opts {
		optsFunc(opt)
	}
	histogramOpt := opt.GetHistogramOpts()
	cc := prometheus.NewHistogramVec(histogramOpt, labels)
	prometheus.MustRegister(cc)

	return &HistogramVec{
		histogram: cc,
	}
}

func (self *HistogramVec) Observe(v float64, labels ...string) {
	self.histogram.WithLabelValues(labels...).Observe(v)
}

func (self *HistogramVec) ObserveSince(start time.Time, labels ...string) {
	self.histogram.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
}

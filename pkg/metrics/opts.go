// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const defaultNamespace = "synthome"

var defaultBuckets = []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .5, 1, 2.5, 5, 10, 60, 600, 3600}

type mOpts struct {
	name          string
	help          string
	namespace     *string
	labels        map[string]string
	withoutSuffix bool
	buckets       []float64
}

type OptsFunc func(*mOpts)

func WithNamespace(namespace string) OptsFunc {
	return func(o *mOpts) {
		o.namespace = &namespace
	}
}

func WithConstLabels(labels map[string]string) OptsFunc {
	return func(o *mOpts) {
		o.labels = labels
	}
}

func WithoutSuffix() OptsFunc {
	return func(o *mOpts) {
		o.withoutSuffix = true
	}
}

func WithBuckets(buckets []float64) OptsFunc {
	return func(o *mOpts) {
		o.buckets = buckets
	}
}

func (o *mOpts) getNamespace() string {
	if o.namespace != nil {
		return *o.namespace
	}
	return defaultNamespace
}

func (o *mOpts) getName(suffix string) string {
	if o.withoutSuffix {
		return o.name
	}
	return o.name + suffix
}

func (o *mOpts) getHelp(kind string) string {
	help := o.help
	if help == "" {
		help = o.name
	}
	return fmt.Sprintf("%s (%s)", help, kind)
}

func (o *mOpts) GetCounterOpts() prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   o.getNamespace(),
		Name:        o.getName("_c"),
		Help:        o.getHelp("counters"),
		ConstLabels: o.labels,
	}
}

func (o *mOpts) GetGaugeOpts() prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   o.getNamespace(),
		Name:        o.getName("_g"),
		Help:        o.getHelp("gauges"),
		ConstLabels: o.labels,
	}
}

func (o *mOpts) GetHistogramOpts() prometheus.HistogramOpts {
	buckets := o.buckets
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}
	return prometheus.HistogramOpts{
		Namespace:   o.getNamespace(),
		Name:        o.getName("_h"),
		Help:        o.getHelp("histograms"),
		ConstLabels: o.labels,
		Buckets:     buckets,
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry centralizes the otel.Tracer(...) and promauto metric
// constructors every package in this module would otherwise declare at its
// own package level, under one fixed namespace and tracer prefix.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerPrefix and namespace match the scheme matcher.go established first
// ("catalogmatch.mbmapper.<package>" tracers, "mbmapper" metric namespace);
// everything added after it reuses the same scheme through this package.
const (
	tracerPrefix = "catalogmatch.mbmapper."
	namespace    = "mbmapper"
)

// Tracer returns the otel.Tracer for one package, named consistently with
// the rest of the module.
func Tracer(component string) trace.Tracer {
	return otel.Tracer(tracerPrefix + component)
}

// NewCounterVec registers a CounterVec under the shared namespace.
func NewCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

// NewCounter registers a plain Counter under the shared namespace.
func NewCounter(subsystem, name, help string) prometheus.Counter {
	return promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

// NewHistogram registers a Histogram under the shared namespace.
func NewHistogram(subsystem, name, help string) prometheus.Histogram {
	return promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

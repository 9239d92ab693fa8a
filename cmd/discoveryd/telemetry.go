// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// initTelemetry wires the OTel SDK for the demo process: spans to stdout
// when traceEnabled, and an OTel meter bridged into the Prometheus
// registry served on metricsAddr (empty disables the endpoint). The
// returned shutdown func flushes both providers.
func initTelemetry(ctx context.Context, traceEnabled bool, metricsAddr string, logger *slog.Logger) (func(context.Context) error, error) {
	shutdowns := make([]func(context.Context) error, 0, 2)

	if traceEnabled {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("telemetry: stdout trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(tp)
		shutdowns = append(shutdowns, tp.Shutdown)
	}

	if metricsAddr != "" {
		exporter, err := otelprom.New()
		if err != nil {
			return nil, fmt.Errorf("telemetry: prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
		otel.SetMeterProvider(mp)
		shutdowns = append(shutdowns, mp.Shutdown)

		recordBuildInfo(otel.Meter("discoveryd"))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics endpoint failed", slog.String("error", err.Error()))
			}
		}()
		shutdowns = append(shutdowns, srv.Shutdown)
		logger.Info("serving metrics", slog.String("addr", metricsAddr+"/metrics"))
	}

	return func(ctx context.Context) error {
		var firstErr error
		for _, fn := range shutdowns {
			if err := fn(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}, nil
}

// recordBuildInfo publishes a constant gauge so scrapes can tell the
// process is up and which telemetry path it came through.
func recordBuildInfo(meter metric.Meter) {
	gauge, err := meter.Int64Gauge("discoveryd_up",
		metric.WithDescription("1 while the discoveryd process is running."))
	if err != nil {
		return
	}
	gauge.Record(context.Background(), 1)
}

package metrics

import (
	"context"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Probe and tooling services are served on the same port but not measured
var unmeasuredServices = []string{
	"/grpc.health.v1.Health/",
	"/grpc.reflection.",
}

func measured(fullMethod string) bool {
	for _, prefix := range unmeasuredServices {
		if strings.HasPrefix(fullMethod, prefix) {
			return false
		}
	}
	return true
}

// UnaryServerInterceptor records request counts, latency and failures per
// method. Failures are labelled with their gRPC status code. A decision that
// denies access is a successful call; only rejected calls count as errors.
func UnaryServerInterceptor(collector *Collector, exporter *PrometheusExporter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		method := info.FullMethod
		if !measured(method) {
			return handler(ctx, req)
		}

		collector.RecordRequest(method)
		if exporter != nil {
			exporter.RecordRequest(method)
		}

		started := time.Now()
		resp, err := handler(ctx, req)
		elapsed := time.Since(started).Seconds()

		collector.RecordDuration(method, elapsed)
		if exporter != nil {
			exporter.RecordDuration(method, elapsed)
		}

		if err != nil {
			collector.RecordError(method)
			if exporter != nil {
				exporter.RecordError(method, status.Code(err).String())
			}
		}
		return resp, err
	}
}

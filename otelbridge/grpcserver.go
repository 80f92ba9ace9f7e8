package otelbridge

import (
	"context"

	collectormetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"

	"github.com/vobbilis/mytsdb-sub000/errs"
	"github.com/vobbilis/mytsdb-sub000/filterstore"
	"github.com/vobbilis/mytsdb-sub000/log"
	"github.com/vobbilis/mytsdb-sub000/series"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GRPCServer hosts the OTLP MetricsService/Export RPC of spec §6.4,
// converting each ExportMetricsServiceRequest through Bridge and
// writing the resulting series through the filtering decorator (C7).
// Per-metric conversion failures are counted in Bridge.Dropped and
// skipped; they do not fail the RPC and are not logged individually.
// A storage write error other than invalid-argument fails it INTERNAL.
type GRPCServer struct {
	collectormetricspb.UnimplementedMetricsServiceServer

	bridge *Bridge
	store  *filterstore.FilterStore
	lg     *log.Logger
}

// NewGRPCServer constructs the OTLP gRPC receiver writing through store.
func NewGRPCServer(store *filterstore.FilterStore, lg *log.Logger) *GRPCServer {
	if lg == nil {
		lg = log.NewDiscardLogger()
	}
	return &GRPCServer{bridge: New(), store: store, lg: lg}
}

// Export implements opentelemetry.proto.collector.metrics.v1.MetricsService.
func (s *GRPCServer) Export(ctx context.Context, req *collectormetricspb.ExportMetricsServiceRequest) (*collectormetricspb.ExportMetricsServiceResponse, error) {
	seriesList, err := s.bridge.Convert(req.GetResourceMetrics())
	if err != nil {
		s.lg.Error("otlp export conversion failed", log.KVErr(err))
		return nil, status.Error(codes.Internal, err.Error())
	}
	var writeErr error
	for _, ts := range seriesList {
		if err := s.write(ts); err != nil {
			writeErr = err
		}
	}
	if writeErr != nil {
		return nil, status.Error(codes.Internal, writeErr.Error())
	}
	return &collectormetricspb.ExportMetricsServiceResponse{}, nil
}

func (s *GRPCServer) write(ts *series.TimeSeries) error {
	if err := s.store.Write(ts); err != nil {
		if errs.KindOf(err) == errs.InvalidArgument {
			s.lg.Warn("dropping invalid otlp series", log.KVErr(err))
			return nil
		}
		return err
	}
	return nil
}

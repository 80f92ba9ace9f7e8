// Package flightingest implements the Arrow Flight ingester of spec
// §4.12: a DoPut server accepting record batches of
// {timestamp, value, tags}, batching contiguous same-tag rows into one
// write call to storage to amortize per-sample overhead. No teacher
// analogue speaks Arrow Flight; apache/arrow/go/v15 is grounded on the
// wider example pack's manifests (DataDog-datadog-agent,
// srikantbadri-cockroach) which depend on it for columnar transport.
package flightingest

import (
	"context"
	"io"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/flight"

	"github.com/vobbilis/mytsdb-sub000/errs"
	"github.com/vobbilis/mytsdb-sub000/filterstore"
	"github.com/vobbilis/mytsdb-sub000/labels"
	"github.com/vobbilis/mytsdb-sub000/log"
	"github.com/vobbilis/mytsdb-sub000/series"
)

// Server implements flight.FlightServer's DoPut, accepting columnar
// record batches and writing them through the filtering decorator.
type Server struct {
	flight.BaseFlightServer

	store *filterstore.FilterStore
	lg    *log.Logger
}

// New constructs a flight ingest server writing through store.
func New(store *filterstore.FilterStore, lg *log.Logger) *Server {
	if lg == nil {
		lg = log.NewDiscardLogger()
	}
	return &Server{store: store, lg: lg}
}

// DoPut consumes a stream of FlightData, decoding each as an Arrow
// record batch and converting rows into series writes (spec §4.12).
func (s *Server) DoPut(stream flight.FlightService_DoPutServer) error {
	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, err, "opening flight record reader")
	}
	defer reader.Release()

	descriptorName := flightDescriptorMetricName(stream)

	for reader.Next() {
		rec := reader.Record()
		if err := s.ingestRecord(rec, descriptorName); err != nil {
			return err
		}
	}
	if err := reader.Err(); err != nil && err != io.EOF {
		return errs.Wrap(errs.Internal, err, "reading flight record batch")
	}
	return stream.Send(&flight.PutResult{})
}

// flightDescriptorMetricName extracts a fallback __name__ from the
// flight descriptor's path, used when a batch carries no tags column
// naming the metric (spec §4.12: "Missing __name__ is defaulted from
// the Flight descriptor path").
func flightDescriptorMetricName(stream flight.FlightService_DoPutServer) string {
	if fd, err := stream.Recv(); err == nil && fd.FlightDescriptor != nil && len(fd.FlightDescriptor.Path) > 0 {
		return fd.FlightDescriptor.Path[len(fd.FlightDescriptor.Path)-1]
	}
	return ""
}

// ingestRecord converts one record batch into writes, coalescing
// contiguous rows sharing identical tag maps into a single series
// write (spec §4.12 "significantly reducing per-sample overhead").
func (s *Server) ingestRecord(rec arrow.Record, defaultName string) error {
	tsCol, valCol, tagCols, mapTagCol, err := resolveColumns(rec)
	if err != nil {
		return err
	}

	var (
		curKey    string
		curSeries *series.TimeSeries
	)
	flush := func() error {
		if curSeries == nil || len(curSeries.Samples()) == 0 {
			return nil
		}
		return s.store.Write(curSeries)
	}

	n := int(rec.NumRows())
	for i := 0; i < n; i++ {
		if tsCol.IsNull(i) || valCol.IsNull(i) {
			continue
		}
		ts := tsCol.Value(i)
		val := valCol.Value(i)
		tags := rowTags(mapTagCol, tagCols, i)
		if _, ok := tags[labels.MetricName]; !ok && defaultName != "" {
			tags[labels.MetricName] = defaultName
		}
		key := canonicalTagKey(tags)

		if key != curKey {
			if err := flush(); err != nil {
				return err
			}
			lbls, err := labels.FromMap(tags)
			if err != nil {
				s.lg.Warn("skipping flight row with invalid labels", log.KVErr(err))
				curSeries = nil
				curKey = key
				continue
			}
			curSeries = series.New(lbls)
			curKey = key
		}
		if curSeries == nil {
			continue
		}
		if err := curSeries.AddSample(ts, val); err != nil {
			s.lg.Warn("skipping out-of-order flight row", log.KVErr(err))
		}
	}
	return flush()
}

func canonicalTagKey(tags map[string]string) string {
	l, err := labels.FromMap(tags)
	if err != nil {
		return ""
	}
	return l.CanonicalString()
}

// rowTags merges a row's tags from the Map<Utf8,Utf8> "tags" column (if
// the batch carries one) with any additional plain Utf8 label columns,
// the latter taking precedence on key collision.
func rowTags(mapTagCol *array.Map, tagCols map[string]*array.String, row int) map[string]string {
	out := mapColumnTags(mapTagCol, row)
	for name, col := range tagCols {
		if col.IsNull(row) {
			continue
		}
		out[name] = col.Value(row)
	}
	return out
}

// mapColumnTags extracts the key/value pairs the Map<Utf8,Utf8> "tags"
// column carries for row, per spec §6.5's primary batch schema. A Map
// array is physically a list of key/value entries per row; ValueOffsets
// bounds that row's slice of the shared keys/items arrays.
func mapColumnTags(m *array.Map, row int) map[string]string {
	out := make(map[string]string)
	if m == nil || m.IsNull(row) {
		return out
	}
	keys, ok := m.Keys().(*array.String)
	if !ok {
		return out
	}
	items, ok := m.Items().(*array.String)
	if !ok {
		return out
	}
	start, end := m.ValueOffsets(row)
	for j := start; j < end; j++ {
		idx := int(j)
		if keys.IsNull(idx) || items.IsNull(idx) {
			continue
		}
		out[keys.Value(idx)] = items.Value(idx)
	}
	return out
}

// resolveColumns locates the required timestamp/value columns, the
// optional Map<Utf8,Utf8> "tags" column, and any additional Utf8 label
// columns, per spec §4.12/§6.5's column contract.
func resolveColumns(rec arrow.Record) (*array.Int64, *array.Float64, map[string]*array.String, *array.Map, error) {
	schema := rec.Schema()
	var tsCol *array.Int64
	var valCol *array.Float64
	var mapTagCol *array.Map
	tagCols := make(map[string]*array.String)

	for i, f := range schema.Fields() {
		col := rec.Column(i)
		switch f.Name {
		case "timestamp":
			c, ok := col.(*array.Int64)
			if !ok {
				return nil, nil, nil, nil, errs.New(errs.InvalidArgument, "timestamp column must be int64")
			}
			tsCol = c
		case "value":
			c, ok := col.(*array.Float64)
			if !ok {
				return nil, nil, nil, nil, errs.New(errs.InvalidArgument, "value column must be float64")
			}
			valCol = c
		case "tags":
			c, ok := col.(*array.Map)
			if !ok {
				return nil, nil, nil, nil, errs.New(errs.InvalidArgument, "tags column must be Map<Utf8,Utf8>")
			}
			mapTagCol = c
		default:
			if c, ok := col.(*array.String); ok {
				tagCols[f.Name] = c
			}
		}
	}
	if tsCol == nil || valCol == nil {
		return nil, nil, nil, nil, errs.New(errs.InvalidArgument, "record batch missing required timestamp/value columns")
	}
	return tsCol, valCol, tagCols, mapTagCol, nil
}

package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	"google.golang.org/protobuf/proto"

	"github.com/vobbilis/mytsdb-sub000/errs"
	"github.com/vobbilis/mytsdb-sub000/filterstore"
	"github.com/vobbilis/mytsdb-sub000/histogram"
	"github.com/vobbilis/mytsdb-sub000/labels"
	"github.com/vobbilis/mytsdb-sub000/log"
	"github.com/vobbilis/mytsdb-sub000/otelbridge"
	"github.com/vobbilis/mytsdb-sub000/promremote"
	"github.com/vobbilis/mytsdb-sub000/storage"
)

// maxBody bounds request bodies, mirroring the teacher's handler.maxBody
// guard against unbounded reads (HttpIngester/handlers.go).
const maxBody = 64 << 20

// Server is the HTTP surface of spec §6.1/§4.11: write/read/label/
// health/metrics handlers wired to a filtering store and auth chain,
// dispatched the way the teacher's handler.ServeHTTP does (per-path
// config lookup, method check, auth check, then body handling).
type Server struct {
	store   *filterstore.FilterStore
	auth    Authenticator
	bridge  *otelbridge.Bridge
	limiter *tenantLimiter
	lg      *log.Logger
	mux     *http.ServeMux
}

// NewServer builds the handler mux. auth is applied to /api/v1/write,
// /api/v1/read, /api/v1/otlp/metrics and /api/v1/histogram/quantile;
// the label, /health and /metrics endpoints are left open.
func NewServer(store *filterstore.FilterStore, auth Authenticator, lg *log.Logger) *Server {
	if auth == nil {
		auth = None{}
	}
	if lg == nil {
		lg = log.NewDiscardLogger()
	}
	s := &Server{store: store, auth: auth, bridge: otelbridge.New(), lg: lg, mux: http.NewServeMux()}
	s.mux.HandleFunc("/api/v1/write", s.handleWrite)
	s.mux.HandleFunc("/api/v1/read", s.handleRead)
	s.mux.HandleFunc("/api/v1/otlp/metrics", s.handleOTLPMetrics)
	s.mux.HandleFunc("/api/v1/histogram/quantile", s.handleHistogramQuantile)
	s.mux.HandleFunc("/api/v1/label/", s.handleLabelValues)
	s.mux.HandleFunc("/api/v1/labels", s.handleLabelNames)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/metrics", s.handleMetrics)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": msg})
}

func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) bool {
	if err := s.auth.Authenticate(r); err != nil {
		writeJSONError(w, http.StatusUnauthorized, err.Error())
		return false
	}
	return true
}

// handleWrite implements spec §4.11's write handler pseudocode.
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireAuth(w, r) {
		return
	}
	if !s.checkRateLimit(w, r) {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "reading body: "+err.Error())
		return
	}
	if r.Header.Get("Content-Encoding") == "snappy" {
		body, err = promremote.DecompressSnappy(body)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	wireSeries, err := promremote.DecodeWriteRequest(body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "decoding write request: "+err.Error())
		return
	}
	series, err := promremote.SeriesFromWrite(wireSeries)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, ts := range series {
		if err := s.store.Write(ts); err != nil {
			status := http.StatusBadRequest
			if errs.KindOf(err) == errs.ResourceExhausted {
				status = http.StatusServiceUnavailable
			}
			writeJSONError(w, status, err.Error())
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("{}"))
}

// acceptsSnappy reports whether the client advertised Accept-Encoding:
// snappy (§4.11). Response compression is keyed on this header, separate
// from Content-Encoding which only governs request decompression.
func acceptsSnappy(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "snappy")
}

// handleRead implements the ReadRequest/ReadResponse remote-read flow
// (spec §6.1).
func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireAuth(w, r) {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "reading body: "+err.Error())
		return
	}
	if r.Header.Get("Content-Encoding") == "snappy" {
		body, err = promremote.DecompressSnappy(body)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	queries, err := promremote.DecodeReadRequest(body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "decoding read request: "+err.Error())
		return
	}

	results := make([][]promremote.WireSeries, 0, len(queries))
	for _, q := range queries {
		matchers, err := promremote.MatchersFromWire(q.Matchers)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		matched, err := s.store.Query(matchers, q.StartMS, q.EndMS)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		results = append(results, queryResultsToWire(matched))
	}

	respBody := promremote.EncodeReadResponse(results)
	if acceptsSnappy(r) {
		respBody = promremote.CompressSnappy(respBody)
		w.Header().Set("Content-Encoding", "snappy")
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(respBody)
}

// handleOTLPMetrics accepts an OTLP ExportMetricsServiceRequest body
// (protobuf) over HTTP, as an alternative ingestion path to the gRPC
// OTLP receiver wired in cmd/tsdbd (spec §4.10).
func (s *Server) handleOTLPMetrics(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireAuth(w, r) {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	var md metricspb.MetricsData
	if err := proto.Unmarshal(body, &md); err != nil {
		writeJSONError(w, http.StatusBadRequest, "decoding OTLP metrics: "+err.Error())
		return
	}
	seriesList, err := s.bridge.Convert(md.GetResourceMetrics())
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, ts := range seriesList {
		if err := s.store.Write(ts); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("{}"))
}

// histogramQuantileRequest is the JSON body for /api/v1/histogram/quantile:
// matchers select the series, [start_ms,end_ms) bounds the samples fed into
// the sketch, and quantile is the value requested. alpha picks the
// exponential sketch's relative-error bound (C3); when buckets is set
// instead, a fixed-bucket histogram (C3) is built over those bounds.
type histogramQuantileRequest struct {
	Matchers []jsonMatcher `json:"matchers"`
	StartMS  int64         `json:"start_ms"`
	EndMS    int64         `json:"end_ms"`
	Quantile float64       `json:"quantile"`
	Alpha    float64       `json:"alpha"`
	Buckets  []float64     `json:"buckets"`
}

type jsonMatcher struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

func matcherTypeFromJSON(t string) (labels.MatcherType, error) {
	switch t {
	case "=":
		return labels.Equal, nil
	case "!=":
		return labels.NotEqual, nil
	case "=~":
		return labels.RegexMatch, nil
	case "!~":
		return labels.RegexNoMatch, nil
	default:
		return 0, errs.New(errs.InvalidArgument, "unknown matcher type %q", t)
	}
}

// handleHistogramQuantile computes an approximate quantile (plus count/
// sum/min/max) over the sample values of every series matching the
// request, using the C3 histogram structures: an exponential
// relative-error sketch by default, or a fixed-bucket histogram when
// "buckets" is supplied. This is the query-time home for C3, which spec
// §4.3 defines as a standalone structure with no operation of its own in
// §4 beyond add/merge/quantile.
func (s *Server) handleHistogramQuantile(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireAuth(w, r) {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "reading body: "+err.Error())
		return
	}
	var req histogramQuantileRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "decoding request: "+err.Error())
		return
	}

	matchers := make([]*labels.Matcher, 0, len(req.Matchers))
	for _, jm := range req.Matchers {
		mt, err := matcherTypeFromJSON(jm.Type)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		m, err := labels.NewMatcher(mt, jm.Name, jm.Value)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		matchers = append(matchers, m)
	}

	results, err := s.store.Query(matchers, req.StartMS, req.EndMS)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if len(req.Buckets) > 0 {
		h, err := histogram.NewFixed(req.Buckets)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		for _, res := range results {
			for _, sm := range res.Samples {
				if err := h.Add(sm.Val); err != nil {
					writeJSONError(w, http.StatusBadRequest, err.Error())
					return
				}
			}
		}
		writeHistogramResult(w, req.Quantile, h.Count(), h.Sum(), h.Min(), h.Max(), h.Quantile)
		return
	}

	alpha := req.Alpha
	if alpha <= 0 {
		alpha = 0.01
	}
	h, err := histogram.NewExponential(alpha)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, res := range results {
		for _, sm := range res.Samples {
			if sm.Val <= 0 {
				continue
			}
			if err := h.Add(sm.Val, 1); err != nil {
				writeJSONError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
	}
	writeHistogramResult(w, req.Quantile, h.Count(), h.Sum(), h.Min(), h.Max(), h.Quantile)
}

func writeHistogramResult(w http.ResponseWriter, q float64, count uint64, sum, min, max float64, quantileFn func(float64) (float64, error)) {
	est, err := quantileFn(q)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"quantile": est,
		"count":    count,
		"sum":      sum,
		"min":      min,
		"max":      max,
	})
}

func (s *Server) handleLabelNames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	names := s.store.LabelNames()
	writeDataJSON(w, names)
}

func (s *Server) handleLabelValues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	const prefix = "/api/v1/label/"
	const suffix = "/values"
	path := r.URL.Path
	if len(path) <= len(prefix)+len(suffix) || path[len(path)-len(suffix):] != suffix {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	name := path[len(prefix) : len(path)-len(suffix)]
	values := s.store.LabelValues(name)
	writeDataJSON(w, values)
}

func writeDataJSON(w http.ResponseWriter, data []string) {
	if data == nil {
		data = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "success", "data": data})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleMetrics reports JSON server metrics (§6.1), surfacing the
// storage engine's running ingest counters and the filtering
// decorator's drop count rather than stubbing the endpoint out.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	stats := s.store.Stats()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"samples_written": stats.SamplesWritten,
		"samples_dropped": stats.SamplesDropped,
		"write_errors":    stats.WriteErrors,
		"series_count":    stats.SeriesCount,
		"shard_queue_max": stats.ShardQueueMax,
		"rules_dropped":   s.store.DroppedCount(),
	})
}

func queryResultsToWire(results []storage.QueryResult) []promremote.WireSeries {
	out := make([]promremote.WireSeries, 0, len(results))
	for _, r := range results {
		ws := promremote.WireSeries{}
		r.Labels.IterOrdered(func(k, v string) {
			ws.Labels = append(ws.Labels, promremote.WireLabel{Name: k, Value: v})
		})
		for _, sm := range r.Samples {
			ws.Samples = append(ws.Samples, promremote.WireSample{Value: sm.Val, TimestampMS: sm.TS})
		}
		out = append(out, ws)
	}
	return out
}

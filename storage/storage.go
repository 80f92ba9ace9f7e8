package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/vobbilis/mytsdb-sub000/block"
	"github.com/vobbilis/mytsdb-sub000/errs"
	"github.com/vobbilis/mytsdb-sub000/labels"
	"github.com/vobbilis/mytsdb-sub000/log"
	"github.com/vobbilis/mytsdb-sub000/series"
)

// instanceIDFile persists the generated instance id in data_dir,
// mirroring the teacher's Ingester-UUID, which is generated once and
// then written back so it survives restarts (ingest/config/config.go's
// uuidParam handling).
const instanceIDFile = "INSTANCE_ID"

// Storage is the core engine of spec §4.6: a series registry, N-shard
// write routing, and label/matcher query resolution over block.Engine
// persistence.
type Storage struct {
	cfg        Config
	lg         *log.Logger
	instanceID string

	reg    *registry
	eng    *block.Engine
	shards []*shard
	reads  singleflight.Group

	closed atomic.Bool

	samplesWritten atomic.Uint64
	samplesDropped atomic.Uint64
	writeErrors    atomic.Uint64
}

// Init creates/opens data_dir and recovers existing blocks (spec §4.6
// "init"). Fails invalid-argument on empty dir or non-positive
// block_duration_ms.
func Init(cfg Config, lg *log.Logger) (*Storage, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	if lg == nil {
		lg = log.NewDiscardLogger()
	}

	eng, err := block.NewEngine(cfg.toBlockConfig(), lg)
	if err != nil {
		return nil, err
	}
	if err := eng.RecoverMaxBlockID(); err != nil {
		return nil, errs.Wrap(errs.Internal, err, "recovering block id counter")
	}
	eng.Start()

	instanceID, err := loadOrCreateInstanceID(cfg.DataDir)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "resolving storage instance id")
	}

	s := &Storage{
		cfg:        cfg,
		lg:         lg,
		instanceID: instanceID,
		reg:        newRegistry(),
		eng:        eng,
	}
	s.shards = make([]*shard, cfg.Shards)
	for i := range s.shards {
		s.shards[i] = newShard(cfg.ShardQueueDepth)
	}

	if err := s.recover(); err != nil {
		return nil, errs.Wrap(errs.Internal, err, "recovering sealed blocks")
	}
	return s, nil
}

// loadOrCreateInstanceID reads data_dir/INSTANCE_ID, generating and
// persisting a new one on first start, mirroring the teacher's
// generate-once-then-persist Ingester-UUID pattern.
func loadOrCreateInstanceID(dataDir string) (string, error) {
	p := filepath.Join(dataDir, instanceIDFile)
	b, err := os.ReadFile(p)
	if err == nil {
		return strings.TrimSpace(string(b)), nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}
	id := uuid.New().String()
	if err := os.WriteFile(p, []byte(id+"\n"), 0644); err != nil {
		return "", err
	}
	return id, nil
}

// InstanceID returns this storage instance's persisted identity,
// stable across restarts of the same data_dir.
func (s *Storage) InstanceID() string {
	return s.instanceID
}

// recover reconstructs the registry and per-series sealed lists from
// whatever block.Engine.LoadAll finds on disk.
func (s *Storage) recover() error {
	sealed, err := s.eng.LoadAll()
	if err != nil {
		return err
	}
	bySeries := make(map[uint64][]*block.Sealed)
	labelsByFP := make(map[uint64]labels.Labels)
	for _, sb := range sealed {
		bySeries[sb.SeriesFP] = append(bySeries[sb.SeriesFP], sb)
		labelsByFP[sb.SeriesFP] = sb.Labels
	}
	for fp, blocks := range bySeries {
		sb := s.reg.getOrCreate(fp, labelsByFP[fp])
		sb.AttachRecovered(blocks)
	}
	return nil
}

// Write applies every sample in ts to its series, all under that
// series' append lock so they are atomic with respect to readers of
// the same series (spec §4.6 "write"). Samples for different series
// within the same call may land on different shards and carry no
// relative ordering guarantee.
func (s *Storage) Write(ts *series.TimeSeries) error {
	if s.closed.Load() {
		return errs.New(errs.Unavailable, "storage is closed")
	}
	if ts == nil || ts.Labels().Len() == 0 {
		return errs.New(errs.InvalidArgument, "series must carry at least one label")
	}
	fp := ts.Labels().Fingerprint()
	sh := shardFor(s.shards, fp)

	errCh := make(chan error, 1)
	err := sh.submit(func() {
		errCh <- s.applyWrite(fp, ts)
	})
	if err != nil {
		s.writeErrors.Add(1)
		return err
	}
	werr := <-errCh
	if werr != nil {
		s.writeErrors.Add(1)
	}
	return werr
}

func (s *Storage) applyWrite(fp uint64, ts *series.TimeSeries) error {
	sb := s.reg.getOrCreate(fp, ts.Labels())
	limits := s.eng.Limits()
	for _, sm := range ts.Samples() {
		if sm.TS < 0 {
			return errs.New(errs.InvalidArgument, "negative timestamp %d rejected", sm.TS)
		}
		sealed, err := sb.Append(sm.TS, sm.Val, limits, s.eng.NextBlockID)
		if err != nil {
			return err
		}
		if sealed != nil {
			s.eng.Enqueue(sealed)
		}
		s.samplesWritten.Add(1)
	}
	return nil
}

// Read materializes the full series matching lbls in [t0,t1) (§4.6
// "read"). Concurrent identical reads (same fingerprint and range) are
// coalesced via singleflight so a popular series under read pressure
// does a single pass over its blocks rather than one per caller.
func (s *Storage) Read(lbls labels.Labels, t0, t1 int64) ([]series.Sample, error) {
	fp := lbls.Fingerprint()
	sb, ok := s.reg.get(fp)
	if !ok {
		return []series.Sample{}, nil
	}
	key := fmt.Sprintf("%d:%d:%d", fp, t0, t1)
	v, err, _ := s.reads.Do(key, func() (interface{}, error) {
		return sb.Read(t0, t1)
	})
	if err != nil {
		return nil, err
	}
	return v.([]series.Sample), nil
}

// QueryResult is one matched series with its materialized samples.
type QueryResult struct {
	Labels  labels.Labels
	Samples []series.Sample
}

// Query resolves all series whose labels satisfy every matcher (AND),
// narrowing first via the inverted __name__ index when an equality
// matcher on __name__ is present (§4.6 "Query resolution"), then
// applies the remaining matchers (including any regex matchers)
// linearly over the narrowed candidate set.
func (s *Storage) Query(matchers []*labels.Matcher, t0, t1 int64) ([]QueryResult, error) {
	if t1 < t0 {
		return nil, errs.New(errs.InvalidArgument, "inverted range [%d,%d)", t0, t1)
	}
	deadline := time.Now().Add(time.Duration(s.cfg.QueryTimeoutMS) * time.Millisecond)

	var candidates []*block.SeriesBlocks
	if name, ok := exactNameMatcher(matchers); ok {
		for _, fp := range s.reg.candidatesForName(name) {
			if sb, ok := s.reg.get(fp); ok {
				candidates = append(candidates, sb)
			}
		}
	} else {
		candidates = s.reg.all()
	}

	out := make([]QueryResult, 0, len(candidates))
	var sampleCount int64
	for _, sb := range candidates {
		if time.Now().After(deadline) {
			return nil, errs.New(errs.DeadlineExceeded, "query exceeded query_timeout_ms=%d", s.cfg.QueryTimeoutMS)
		}
		if !labels.MatchAll(matchers, sb.Labels) {
			continue
		}
		samples, err := sb.Read(t0, t1)
		if err != nil {
			return nil, err
		}
		sampleCount += int64(len(samples))
		if sampleCount > s.cfg.MaxSamplesPerQuery {
			return nil, errs.New(errs.ResourceExhausted, "query exceeded max_samples_per_query=%d", s.cfg.MaxSamplesPerQuery)
		}
		out = append(out, QueryResult{Labels: sb.Labels, Samples: samples})
	}
	return out, nil
}

func exactNameMatcher(matchers []*labels.Matcher) (string, bool) {
	for _, m := range matchers {
		if m.Name == labels.MetricName && m.Type == labels.Equal {
			return m.Value, true
		}
	}
	return "", false
}

// LabelNames returns the union of label keys across all series (§4.6).
func (s *Storage) LabelNames() []string {
	return s.reg.labelNames()
}

// LabelValues returns the union of values observed for name (§4.6).
func (s *Storage) LabelValues(name string) []string {
	return s.reg.labelValues(name)
}

// DeleteSeries removes all series matching matchers, tombstoning
// their fingerprints and deleting their on-disk blocks (§4.6
// "delete_series").
func (s *Storage) DeleteSeries(matchers []*labels.Matcher) (int, error) {
	n := 0
	for _, sb := range s.reg.all() {
		if !labels.MatchAll(matchers, sb.Labels) {
			continue
		}
		for _, b := range sb.SealedBlocks() {
			if err := s.eng.DeleteBlock(b.BlockID); err != nil {
				s.lg.Warn("failed deleting block during delete_series", log.KV("block", b.BlockID), log.KVErr(err))
			}
		}
		s.reg.delete(sb.FP)
		n++
	}
	return n, nil
}

// Compact runs SeriesBlocks.Compact over every series, bounded by
// max_concurrent_compactions via the engine's semaphore (§4.6 "compact").
func (s *Storage) Compact() error {
	var g errgroup.Group
	for _, sb := range s.reg.all() {
		sb := sb
		s.eng.AcquireCompactionSlot()
		g.Go(func() error {
			defer s.eng.ReleaseCompactionSlot()
			return sb.Compact(s.eng.MaxBlockBytes(), s.eng.NextBlockID)
		})
	}
	return g.Wait()
}

// Flush forces every series' head block to seal and enqueues the
// results for persistence (§4.6 "flush").
func (s *Storage) Flush() error {
	for _, sb := range s.reg.all() {
		sealed, err := sb.SealHead(s.eng.NextBlockID)
		if err != nil {
			return err
		}
		if sealed != nil {
			s.eng.Enqueue(sealed)
		}
	}
	return nil
}

// RetentionSweep drops sealed blocks entirely before cutoff across all
// series and deletes their on-disk files (resolves SPEC_FULL.md's
// retention Open Question: physical delete, not tombstone-only).
func (s *Storage) RetentionSweep(cutoff int64) (int, error) {
	n := 0
	for _, sb := range s.reg.all() {
		dropped := sb.DropBlocksBefore(cutoff)
		for _, b := range dropped {
			if err := s.eng.DeleteBlock(b.BlockID); err != nil {
				s.lg.Warn("failed deleting block during retention sweep", log.KV("block", b.BlockID), log.KVErr(err))
			}
			n++
		}
	}
	return n, nil
}

// Close stops the shard workers and the background flusher, flushing
// pending heads first (§4.6 "close").
func (s *Storage) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.Flush(); err != nil {
		s.lg.Warn("flush during close reported an error", log.KVErr(err))
	}
	for _, sh := range s.shards {
		sh.close()
	}
	return s.eng.Close()
}

// Stats reports running ingest counters for the HTTP /metrics surface.
type Stats struct {
	SamplesWritten uint64
	SamplesDropped uint64
	WriteErrors    uint64
	SeriesCount    int
	ShardQueueMax  int
}

func (s *Storage) Stats() Stats {
	max := 0
	for _, sh := range s.shards {
		if n := len(sh.queue); n > max {
			max = n
		}
	}
	return Stats{
		SamplesWritten: s.samplesWritten.Load(),
		SamplesDropped: s.samplesDropped.Load(),
		WriteErrors:    s.writeErrors.Load(),
		SeriesCount:    len(s.reg.all()),
		ShardQueueMax:  max,
	}
}

// IncDropped records a sample dropped upstream of storage (e.g. by the
// filtering decorator), for unified /metrics reporting.
func (s *Storage) IncDropped(n uint64) {
	s.samplesDropped.Add(n)
}

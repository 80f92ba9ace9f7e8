package block

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vobbilis/mytsdb-sub000/errs"
	"github.com/vobbilis/mytsdb-sub000/log"
)

// Config configures the Engine's flush/compact behavior (spec §6.6).
type Config struct {
	DataDir                  string
	BlockDurationMS          int64
	MaxBlockRecords          int
	MaxBlockBytes            int64
	EnableCompression        bool
	MaxConcurrentCompactions int
	FlushQueueDepth          int
}

// flushJob is one sealed block awaiting disk persistence.
type flushJob struct {
	blockID uint64
	sealed  *Sealed
}

// Engine owns block-id assignment and the background flusher that
// persists sealed blocks under Config.DataDir. Disk-write failures mark
// the flush as failed and retry with exponential backoff (§4.5); the
// sealed block stays resident in its SeriesBlocks' sealed list the whole
// time, so queries are unaffected by flush lag.
type Engine struct {
	cfg     Config
	lg      *log.Logger
	blockID atomic.Uint64

	flushCh  chan flushJob
	closeCh  chan struct{}
	wg       sync.WaitGroup
	compSem  chan struct{}
}

// NewEngine validates cfg and opens (creating if absent) DataDir.
func NewEngine(cfg Config, lg *log.Logger) (*Engine, error) {
	if cfg.DataDir == "" {
		return nil, errs.New(errs.InvalidArgument, "data_dir must not be empty")
	}
	if cfg.BlockDurationMS <= 0 {
		return nil, errs.New(errs.InvalidArgument, "block_duration_ms must be positive")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, errs.Wrap(errs.Internal, err, "creating data_dir %q", cfg.DataDir)
	}
	if cfg.FlushQueueDepth <= 0 {
		cfg.FlushQueueDepth = 10000
	}
	if cfg.MaxConcurrentCompactions <= 0 {
		cfg.MaxConcurrentCompactions = 2
	}
	if lg == nil {
		lg = log.NewDiscardLogger()
	}
	e := &Engine{
		cfg:     cfg,
		lg:      lg,
		flushCh: make(chan flushJob, cfg.FlushQueueDepth),
		closeCh: make(chan struct{}),
		compSem: make(chan struct{}, cfg.MaxConcurrentCompactions),
	}
	return e, nil
}

// Limits returns the head-block limits derived from the engine config.
func (e *Engine) Limits() Limits {
	return Limits{
		BlockDurationMS: e.cfg.BlockDurationMS,
		MaxRecords:      e.cfg.MaxBlockRecords,
		MaxBytes:        e.cfg.MaxBlockBytes,
	}
}

// MaxBlockBytes exposes the compaction size ceiling.
func (e *Engine) MaxBlockBytes() int64 {
	return e.cfg.MaxBlockBytes
}

// NextBlockID returns the next monotonically assigned block id.
func (e *Engine) NextBlockID() uint64 {
	return e.blockID.Add(1)
}

// RecoverMaxBlockID scans DataDir and advances the counter past the
// largest block id found, so IDs stay monotonic across restarts.
func (e *Engine) RecoverMaxBlockID() error {
	entries, err := os.ReadDir(e.cfg.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Wrap(errs.Internal, err, "reading data_dir")
	}
	var max uint64
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		b, err := hex.DecodeString(ent.Name())
		if err != nil || len(b) != 8 {
			continue
		}
		id := beUint64(b)
		if id > max {
			max = id
		}
	}
	for {
		cur := e.blockID.Load()
		if cur >= max {
			break
		}
		if e.blockID.CompareAndSwap(cur, max) {
			break
		}
	}
	return nil
}

func beUint64(b []byte) (v uint64) {
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return
}

func blockDir(dataDir string, blockID uint64) string {
	b := []byte{
		byte(blockID >> 56), byte(blockID >> 48), byte(blockID >> 40), byte(blockID >> 32),
		byte(blockID >> 24), byte(blockID >> 16), byte(blockID >> 8), byte(blockID),
	}
	return filepath.Join(dataDir, hex.EncodeToString(b))
}

// Start launches the background flusher goroutine.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.flusherLoop()
}

// Enqueue submits a just-sealed block for asynchronous flush. It never
// blocks: if the flush queue is full the caller (storage write path) has
// already applied backpressure upstream, so we drop to a synchronous
// attempt here as a last resort rather than silently losing the block.
func (e *Engine) Enqueue(s *Sealed) {
	select {
	case e.flushCh <- flushJob{blockID: s.BlockID, sealed: s}:
	default:
		if err := e.flushOne(s); err != nil {
			e.lg.Error("synchronous flush fallback failed", log.KV("block", s.BlockID), log.KVErr(err))
		}
	}
}

// QueueDepth reports the number of blocks currently waiting to be flushed,
// used by storage to decide when to fail writes fast (§5 backpressure).
func (e *Engine) QueueDepth() int {
	return len(e.flushCh)
}

func (e *Engine) flusherLoop() {
	defer e.wg.Done()
	for {
		select {
		case job := <-e.flushCh:
			e.flushWithRetry(job)
		case <-e.closeCh:
			// drain remaining jobs synchronously before exiting
			for {
				select {
				case job := <-e.flushCh:
					e.flushWithRetry(job)
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) flushWithRetry(job flushJob) {
	backoff := 50 * time.Millisecond
	const maxBackoff = 5 * time.Second
	for attempt := 0; ; attempt++ {
		if err := e.flushOne(job.sealed); err == nil {
			return
		} else {
			e.lg.Warn("block flush failed, retrying", log.KV("block", job.blockID), log.KV("attempt", attempt), log.KVErr(err))
		}
		select {
		case <-time.After(backoff):
		case <-e.closeCh:
			return
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// flushOne encodes and writes one sealed block to data_dir/<blockID>/block.dat.
func (e *Engine) flushOne(s *Sealed) error {
	dir := blockDir(e.cfg.DataDir, s.BlockID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.Internal, err, "creating block dir")
	}
	buf, err := s.Encode(e.cfg.EnableCompression)
	if err != nil {
		return errs.Wrap(errs.Internal, err, "encoding block %d", s.BlockID)
	}
	tmp := filepath.Join(dir, "block.dat.tmp")
	final := filepath.Join(dir, "block.dat")
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return errs.Wrap(errs.Internal, err, "writing block %d", s.BlockID)
	}
	if err := os.Rename(tmp, final); err != nil {
		return errs.Wrap(errs.Internal, err, "renaming block %d", s.BlockID)
	}
	return nil
}

// DeleteBlock removes a block's on-disk directory (physical retention,
// see SPEC_FULL.md Open Question: retention).
func (e *Engine) DeleteBlock(blockID uint64) error {
	dir := blockDir(e.cfg.DataDir, blockID)
	if err := os.RemoveAll(dir); err != nil {
		return errs.Wrap(errs.Internal, err, "deleting block %d", blockID)
	}
	return nil
}

// LoadAll scans DataDir and decodes every well-formed block, for use by
// storage.Init's recovery path. Corrupt blocks are skipped with a logged
// warning rather than failing recovery for the whole engine (§4.5: other
// series remain queryable).
func (e *Engine) LoadAll() ([]*Sealed, error) {
	entries, err := os.ReadDir(e.cfg.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.Internal, err, "reading data_dir")
	}
	var out []*Sealed
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		p := filepath.Join(e.cfg.DataDir, ent.Name(), "block.dat")
		buf, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		s, err := DecodeSealed(buf)
		if err != nil {
			e.lg.Warn("skipping corrupt block on recovery", log.KV("dir", ent.Name()), log.KVErr(err))
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// AcquireCompactionSlot blocks until a compaction slot is available,
// bounding concurrent compactions to MaxConcurrentCompactions.
func (e *Engine) AcquireCompactionSlot() {
	e.compSem <- struct{}{}
}

// ReleaseCompactionSlot releases a previously acquired slot.
func (e *Engine) ReleaseCompactionSlot() {
	<-e.compSem
}

// Close stops the flusher after draining pending jobs.
func (e *Engine) Close() error {
	close(e.closeCh)
	e.wg.Wait()
	return nil
}

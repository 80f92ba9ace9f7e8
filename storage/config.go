// Package storage implements the core engine (spec §4.6): a series
// registry keyed by label-set fingerprint, N-shard write routing
// grounded on the teacher's IngestMuxer connection-shard model
// (ingest/muxer.go), and label/matcher query resolution via an
// inverted __name__ index.
package storage

import (
	"runtime"

	"github.com/vobbilis/mytsdb-sub000/block"
	"github.com/vobbilis/mytsdb-sub000/errs"
)

// Config configures a Storage instance.
type Config struct {
	DataDir                  string
	BlockDurationMS          int64
	MaxBlockRecords          int
	MaxBlockBytes            int64
	EnableCompression        bool
	MaxConcurrentCompactions int
	FlushQueueDepth          int

	// Shards is the number of write-routing worker shards. Zero means
	// runtime.NumCPU(), matching §5's "N write-shard workers (N = CPU
	// count)".
	Shards int

	// ShardQueueDepth bounds each shard's write queue. Exceeding it
	// fails writes fast with resource-exhausted (§5 backpressure).
	ShardQueueDepth int

	// QueryTimeoutMS bounds wall-clock time spent resolving a single
	// Query call. Zero means the §6.6 default (30s). Exceeded queries
	// fail deadline-exceeded (§5, §6.6).
	QueryTimeoutMS int64

	// MaxSamplesPerQuery bounds the total number of samples a single
	// Query call may materialize across all matched series. Zero means
	// the §6.6 default (1,000,000). Exceeded queries fail
	// resource-exhausted (§5, §6.6).
	MaxSamplesPerQuery int64
}

func (c *Config) setDefaults() {
	if c.Shards <= 0 {
		c.Shards = runtime.NumCPU()
		if c.Shards < 1 {
			c.Shards = 1
		}
	}
	if c.ShardQueueDepth <= 0 {
		c.ShardQueueDepth = 10000
	}
	if c.QueryTimeoutMS <= 0 {
		c.QueryTimeoutMS = 30_000
	}
	if c.MaxSamplesPerQuery <= 0 {
		c.MaxSamplesPerQuery = 1_000_000
	}
}

func (c Config) validate() error {
	if c.DataDir == "" {
		return errs.New(errs.InvalidArgument, "data_dir must not be empty")
	}
	if c.BlockDurationMS <= 0 {
		return errs.New(errs.InvalidArgument, "block_duration_ms must be positive")
	}
	return nil
}

func (c Config) toBlockConfig() block.Config {
	return block.Config{
		DataDir:                  c.DataDir,
		BlockDurationMS:          c.BlockDurationMS,
		MaxBlockRecords:          c.MaxBlockRecords,
		MaxBlockBytes:            c.MaxBlockBytes,
		EnableCompression:        c.EnableCompression,
		MaxConcurrentCompactions: c.MaxConcurrentCompactions,
		FlushQueueDepth:          c.FlushQueueDepth,
	}
}

// Package config implements the ambient configuration stack of spec
// §6.6: an INI-style config file loaded via github.com/gravwell/gcfg,
// grounded on the teacher's ingest/config package (IngestConfig +
// LoadConfigFile pattern). A tsdbcore config file has a [Global]
// section for the §6.6 option table plus [Auth] and [Listen] sections
// for the ambient HTTP/OTLP/Flight surface the teacher's HttpIngester
// main.go wires up from its own config sections.
package config

import (
	"bytes"
	"io"
	"os"

	"github.com/gravwell/gcfg"

	"github.com/vobbilis/mytsdb-sub000/errs"
	"github.com/vobbilis/mytsdb-sub000/httpapi"
	"github.com/vobbilis/mytsdb-sub000/storage"
)

// maxConfigSize mirrors the teacher's loader.go guard against absurdly
// large config files.
const maxConfigSize int64 = 4 * 1024 * 1024

// Field names follow gcfg's Title_Case convention, matching the
// teacher's IngestConfig struct fields (ingest/config/config.go).

type globalSection struct {
	Data_Directory             string
	Block_Size                 int64
	Max_Blocks_Per_Series      int
	Cache_Size_Bytes           int64
	Block_Duration_MS          int64
	Retention_Period_MS        int64
	Enable_Compression         bool
	Max_Concurrent_Compactions int
	Query_Timeout_MS           int64
	Max_Samples_Per_Query      int64
	Shards                     int
	Shard_Queue_Depth          int
	Flush_Queue_Depth          int
	Derived_Metric_Scan_MS     int64

	// Write_Rate_Limit_Per_Second and Write_Rate_Limit_Burst configure
	// per-tenant write throttling on /api/v1/write. Zero disables
	// limiting (the teacher's ingest/muxer.go rate limiter is likewise
	// off by default).
	Write_Rate_Limit_Per_Second float64
	Write_Rate_Limit_Burst      int
}

type authSection struct {
	// Mode selects the authenticator: "none" (default), "basic",
	// "bearer", "header", or "composite" (basic/header/bearer combined
	// per Composite_Mode, mirroring HttpIngester/main.go registering
	// multiple authHandlers).
	Mode           string
	Basic_User     string
	Basic_Password string
	Bearer_Secret  string
	Header_Name    string
	Header_Value   string
	// Composite_Mode is "any" (default, first success wins) or "all"
	// (every configured member must succeed), per spec §6.3.
	Composite_Mode string
}

type listenSection struct {
	HTTP_Address   string
	OTLP_Address   string
	Flight_Address string
}

// fileLayout is the shape gcfg.ReadStringInto populates: one field per
// INI section, matching the teacher's `[global]`-headed config files.
type fileLayout struct {
	Global globalSection
	Auth   authSection
	Listen listenSection
}

// Config is the parsed, defaulted, and validated configuration used to
// wire up cmd/tsdbd.
type Config struct {
	Global globalSection
	Auth   authSection
	Listen listenSection
}

// LoadConfigFile reads and parses an INI config file, mirroring the
// teacher's config.LoadConfigFile(v interface{}, p string) error
// (ingest/config/loader.go): open, size-check, read fully, then hand
// the bytes to gcfg.
func LoadConfigFile(p string) (*Config, error) {
	fin, err := os.Open(p)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, err, "opening config file")
	}
	defer fin.Close()

	fi, err := fin.Stat()
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "statting config file")
	}
	if fi.Size() > maxConfigSize {
		return nil, errs.New(errs.InvalidArgument, "config file exceeds %d bytes", maxConfigSize)
	}

	bb := bytes.NewBuffer(nil)
	n, err := io.Copy(bb, fin)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "reading config file")
	}
	if n != fi.Size() {
		return nil, errs.New(errs.Internal, "short read of config file")
	}

	return parse(bb.String())
}

func parse(text string) (*Config, error) {
	var fl fileLayout
	if err := gcfg.ReadStringInto(&fl, text); err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, err, "parsing config")
	}
	cfg := &Config{Global: fl.Global, Auth: fl.Auth, Listen: fl.Listen}
	cfg.setDefaults()
	if err := cfg.verify(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults fills the §6.6 default table for any option left at its
// INI zero value, mirroring IngestConfig.loadDefaults.
func (c *Config) setDefaults() {
	g := &c.Global
	if g.Data_Directory == "" {
		g.Data_Directory = "data"
	}
	if g.Block_Size <= 0 {
		g.Block_Size = 64 << 20
	}
	if g.Max_Blocks_Per_Series <= 0 {
		g.Max_Blocks_Per_Series = 1024
	}
	if g.Cache_Size_Bytes <= 0 {
		g.Cache_Size_Bytes = 1 << 30
	}
	if g.Block_Duration_MS <= 0 {
		g.Block_Duration_MS = 2 * 60 * 60 * 1000
	}
	if g.Retention_Period_MS <= 0 {
		g.Retention_Period_MS = 7 * 24 * 60 * 60 * 1000
	}
	if g.Max_Concurrent_Compactions <= 0 {
		g.Max_Concurrent_Compactions = 2
	}
	if g.Query_Timeout_MS <= 0 {
		g.Query_Timeout_MS = 30_000
	}
	if g.Max_Samples_Per_Query <= 0 {
		g.Max_Samples_Per_Query = 1_000_000
	}
	if g.Flush_Queue_Depth <= 0 {
		g.Flush_Queue_Depth = 1024
	}
	if g.Derived_Metric_Scan_MS <= 0 {
		g.Derived_Metric_Scan_MS = 1000
	}
	// Shards and Shard_Queue_Depth are left at zero to let
	// storage.Config.setDefaults pick runtime.NumCPU(), matching §5.
	if c.Auth.Mode == "" {
		c.Auth.Mode = "none"
	}
	if c.Auth.Composite_Mode == "" {
		c.Auth.Composite_Mode = "any"
	}
	if c.Listen.HTTP_Address == "" {
		c.Listen.HTTP_Address = ":8080"
	}
	if c.Listen.OTLP_Address == "" {
		c.Listen.OTLP_Address = ":4317"
	}
	if c.Listen.Flight_Address == "" {
		c.Listen.Flight_Address = ":8815"
	}
}

// verify validates the loaded options, mirroring IngestConfig.Verify's
// reject-on-invalid-argument style.
func (c *Config) verify() error {
	if c.Global.Data_Directory == "" {
		return errs.New(errs.InvalidArgument, "data_directory must not be empty")
	}
	switch c.Auth.Mode {
	case "none", "basic", "bearer", "header", "composite":
	default:
		return errs.New(errs.InvalidArgument, "unknown auth mode %q", c.Auth.Mode)
	}
	switch c.Auth.Composite_Mode {
	case "any", "all":
	default:
		return errs.New(errs.InvalidArgument, "unknown composite_mode %q", c.Auth.Composite_Mode)
	}
	if c.Auth.Mode == "basic" && (c.Auth.Basic_User == "" || c.Auth.Basic_Password == "") {
		return errs.New(errs.InvalidArgument, "basic auth requires basic_user and basic_password")
	}
	if c.Auth.Mode == "bearer" && c.Auth.Bearer_Secret == "" {
		return errs.New(errs.InvalidArgument, "bearer auth requires bearer_secret")
	}
	if c.Auth.Mode == "header" && (c.Auth.Header_Name == "" || c.Auth.Header_Value == "") {
		return errs.New(errs.InvalidArgument, "header auth requires header_name and header_value")
	}
	return nil
}

// ToStorageConfig projects the §6.6 option table onto storage.Config.
func (c *Config) ToStorageConfig() storage.Config {
	return storage.Config{
		DataDir:                  c.Global.Data_Directory,
		BlockDurationMS:          c.Global.Block_Duration_MS,
		MaxBlockRecords:          0,
		MaxBlockBytes:            c.Global.Block_Size,
		EnableCompression:        c.Global.Enable_Compression,
		MaxConcurrentCompactions: c.Global.Max_Concurrent_Compactions,
		FlushQueueDepth:          c.Global.Flush_Queue_Depth,
		Shards:                   c.Global.Shards,
		ShardQueueDepth:          c.Global.Shard_Queue_Depth,
		QueryTimeoutMS:           c.Global.Query_Timeout_MS,
		MaxSamplesPerQuery:       c.Global.Max_Samples_Per_Query,
	}
}

// ToAuthenticator builds the httpapi.Authenticator named by [Auth]
// mode, mirroring HttpIngester/main.go's auth-handler registration.
func (c *Config) ToAuthenticator() httpapi.Authenticator {
	switch c.Auth.Mode {
	case "basic":
		return httpapi.Basic{User: c.Auth.Basic_User, Pass: c.Auth.Basic_Password}
	case "bearer":
		return httpapi.Bearer{Secret: []byte(c.Auth.Bearer_Secret)}
	case "header":
		return httpapi.Header{Name: c.Auth.Header_Name, Value: c.Auth.Header_Value}
	case "composite":
		var auths []httpapi.Authenticator
		if c.Auth.Basic_User != "" {
			auths = append(auths, httpapi.Basic{User: c.Auth.Basic_User, Pass: c.Auth.Basic_Password})
		}
		if c.Auth.Header_Name != "" {
			auths = append(auths, httpapi.Header{Name: c.Auth.Header_Name, Value: c.Auth.Header_Value})
		}
		if c.Auth.Bearer_Secret != "" {
			auths = append(auths, httpapi.Bearer{Secret: []byte(c.Auth.Bearer_Secret)})
		}
		mode := httpapi.Any
		if c.Auth.Composite_Mode == "all" {
			mode = httpapi.All
		}
		return httpapi.Composite{Authenticators: auths, Mode: mode}
	default:
		return httpapi.None{}
	}
}

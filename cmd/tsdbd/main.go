/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Command tsdbd wires the full core engine together, grounded on the
// teacher's HttpIngester/main.go: flag-parsed config file, a logger
// that outlives everything else, config-driven component construction,
// and a blocking ListenAndServe with graceful shutdown on signal.
package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	collectormetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	"google.golang.org/grpc"

	"github.com/apache/arrow/go/v15/arrow/flight"

	"github.com/vobbilis/mytsdb-sub000/config"
	"github.com/vobbilis/mytsdb-sub000/filterstore"
	"github.com/vobbilis/mytsdb-sub000/flightingest"
	"github.com/vobbilis/mytsdb-sub000/httpapi"
	"github.com/vobbilis/mytsdb-sub000/log"
	"github.com/vobbilis/mytsdb-sub000/otelbridge"
	"github.com/vobbilis/mytsdb-sub000/rules"
	"github.com/vobbilis/mytsdb-sub000/scheduler"
	"github.com/vobbilis/mytsdb-sub000/storage"
	"github.com/vobbilis/mytsdb-sub000/version"
)

const defaultConfigLoc = `/opt/tsdbcore/etc/tsdbcore.conf`

var (
	confLoc = flag.String("config-file", defaultConfigLoc, "Location for configuration file")
	verbose = flag.Bool("v", false, "Display verbose status updates to stdout")
	ver     = flag.Bool("version", false, "Print the version information and exit")
	lg      *log.Logger
)

func init() {
	flag.Parse()
	if *ver {
		version.PrintVersion(os.Stdout)
		os.Exit(0)
	}
	lg = log.New(os.Stderr) // DO NOT close this, it will prevent backtraces from firing
}

func main() {
	cfg, err := config.LoadConfigFile(*confLoc)
	if err != nil {
		lg.Fatal("failed to load config file", log.KV("path", *confLoc), log.KVErr(err))
	}
	debugout("loaded config from %s", *confLoc)

	st, err := storage.Init(cfg.ToStorageConfig(), lg)
	if err != nil {
		lg.Fatal("failed to initialize storage", log.KVErr(err))
	}
	defer st.Close()

	mgr := rules.NewManager()
	fs := filterstore.New(st, mgr)

	sched := scheduler.New(fs, nil, lg)
	sched.Start()
	defer sched.Stop()

	auth := cfg.ToAuthenticator()
	apiSrv := httpapi.NewServer(fs, auth, lg)
	if cfg.Global.Write_Rate_Limit_Per_Second > 0 {
		apiSrv.EnableRateLimit(cfg.Global.Write_Rate_Limit_Per_Second, cfg.Global.Write_Rate_Limit_Burst)
	}
	httpSrv := &http.Server{
		Addr:         cfg.Listen.HTTP_Address,
		Handler:      apiSrv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	collectormetricspb.RegisterMetricsServiceServer(grpcSrv, otelbridge.NewGRPCServer(fs, lg))
	flight.RegisterFlightServiceServer(grpcSrv, flightingest.New(fs, lg))

	go func() {
		debugout("serving HTTP on %s", cfg.Listen.HTTP_Address)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Error("http server exited", log.KVErr(err))
		}
	}()

	otlpLis, err := net.Listen("tcp", cfg.Listen.OTLP_Address)
	if err != nil {
		lg.Fatal("failed to bind otlp/flight listener", log.KV("addr", cfg.Listen.OTLP_Address), log.KVErr(err))
	}
	go func() {
		debugout("serving OTLP+Flight gRPC on %s", cfg.Listen.OTLP_Address)
		if err := grpcSrv.Serve(otlpLis); err != nil {
			lg.Error("grpc server exited", log.KVErr(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	debugout("shutting down")
	grpcSrv.GracefulStop()
	_ = httpSrv.Close()
	if err := st.Flush(); err != nil {
		lg.Error("final flush failed", log.KVErr(err))
	}
}

func debugout(format string, args ...interface{}) {
	if !*verbose {
		return
	}
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

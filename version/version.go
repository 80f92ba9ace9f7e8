// Package version reports the build version of the tsdb core binaries.
package version

import (
	"fmt"
	"io"
)

const (
	MajorVersion int = 0
	MinorVersion int = 1
	PointVersion int = 0
)

// BuildDate is overridden at link time via -ldflags, e.g.:
//
//	go build -ldflags "-X github.com/vobbilis/mytsdb-sub000/version.BuildDate=2026-07-30"
var BuildDate string = "unknown"

func String() string {
	return fmt.Sprintf("%d.%d.%d", MajorVersion, MinorVersion, PointVersion)
}

func PrintVersion(wtr io.Writer) {
	fmt.Fprintf(wtr, "Version:\t%s\n", String())
	fmt.Fprintf(wtr, "BuildDate:\t%s\n", BuildDate)
}

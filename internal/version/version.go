// Package version holds build metadata for the simon binary. The variables are
// set with -ldflags "-X github.com/HerbHall/simon/internal/version.Version=...".
package version

import (
	"fmt"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info is the one-line banner printed by simon -version.
func Info() string {
	return fmt.Sprintf("simon %s (commit: %s, built: %s, go: %s, %s/%s)",
		Version, GitCommit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short returns the bare version, e.g. "0.3.1" or "dev".
func Short() string {
	return Version
}

// Map is the version block embedded in the /health response.
func Map() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}

// NewCollector returns a constant <namespace>_build_info gauge carrying the
// build metadata as labels.
func NewCollector(namespace string) prometheus.Collector {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "A metric with a constant '1' value labeled by version, revision and goversion.",
		ConstLabels: prometheus.Labels{
			"version":   Version,
			"revision":  GitCommit,
			"goversion": runtime.Version(),
		},
	})
	g.Set(1)
	return g
}

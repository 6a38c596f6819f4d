package version

import (
	"runtime"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInfo(t *testing.T) {
	info := Info()
	if !strings.HasPrefix(info, "simon dev") {
		t.Errorf("Info() should start with 'simon dev', got: %s", info)
	}
	if !strings.Contains(info, runtime.Version()) {
		t.Errorf("Info() should contain Go version, got: %s", info)
	}
}

func TestShort(t *testing.T) {
	if got := Short(); got != "dev" {
		t.Errorf("Short() = %q, want %q (default)", got, "dev")
	}
}

func TestMap(t *testing.T) {
	m := Map()

	requiredKeys := []string{"version", "git_commit", "build_date", "go_version", "os", "arch"}
	for _, key := range requiredKeys {
		if _, ok := m[key]; !ok {
			t.Errorf("Map() missing key %q", key)
		}
	}

	if m["version"] != "dev" {
		t.Errorf("Map()[\"version\"] = %q, want %q", m["version"], "dev")
	}
	if m["go_version"] != runtime.Version() {
		t.Errorf("Map()[\"go_version\"] = %q, want %q", m["go_version"], runtime.Version())
	}
}

func TestNewCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector("simon")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	want := `
# HELP simon_build_info A metric with a constant '1' value labeled by version, revision and goversion.
# TYPE simon_build_info gauge
simon_build_info{goversion="` + runtime.Version() + `",revision="unknown",version="dev"} 1
`
	if err := promtestutil.GatherAndCompare(reg, strings.NewReader(want), "simon_build_info"); err != nil {
		t.Error(err)
	}
}

package profiler

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestProfilerService(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_requests_total",
		Help: "Test counter.",
	})
	registry.MustRegister(counter)
	counter.Add(3)

	reported := make(chan struct{}, 1)
	svc, err := NewService(ServiceOpts{
		Port:          18199,
		StatsInterval: 10 * time.Millisecond,
		Datadir:       t.TempDir(),
		Gatherer:      registry,
		Reporters: []Reporter{func() map[string]interface{} {
			select {
			case reported <- struct{}{}:
			default:
			}
			return map[string]interface{}{"sessions_active": 0}
		}},
	})
	require.NoError(t, err)

	require.NoError(t, svc.Start())
	select {
	case <-reported:
	case <-time.After(time.Second):
		t.Fatal("stats never reported")
	}
	svc.Stop()

	entries, err := os.ReadDir(svc.opts.Datadir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, strings.HasSuffix(entries[0].Name(), dumpFileExt))

	buf, err := os.ReadFile(svc.opts.Datadir + "/" + entries[0].Name())
	require.NoError(t, err)
	require.Contains(t, string(buf), "test_requests_total 3")
}

func TestInvalidServiceOpts(t *testing.T) {
	tests := []struct {
		name string
		opts ServiceOpts
	}{
		{"missing datadir", ServiceOpts{Port: 18199, StatsInterval: time.Second}},
		{"port too low", ServiceOpts{Port: 80, StatsInterval: time.Second, Datadir: "stats"}},
		{"port too high", ServiceOpts{Port: 60000, StatsInterval: time.Second, Datadir: "stats"}},
		{"missing interval", ServiceOpts{Port: 18199, Datadir: "stats"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewService(tt.opts)
			require.Error(t, err)
		})
	}
}

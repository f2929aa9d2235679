package profiler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
	log "github.com/sirupsen/logrus"
)

const (
	minPort = 1024
	maxPort = 49151

	gigabyte = 1 << 30

	dumpFileExt = ".prom"
)

// Reporter returns a snapshot of application stats, logged along with the
// runtime ones at every interval.
type Reporter func() map[string]interface{}

// ServiceOpts holds configuration options for the profiler service.
//   - Port - the port of the pprof and metrics endpoints.
//   - StatsInterval - how often stats are logged.
//   - Datadir - where metrics are dumped when the service stops.
//   - Reporters - (optional) sources of application stats.
type ServiceOpts struct {
	Port          int
	StatsInterval time.Duration
	Datadir       string
	Reporters     []Reporter
	Gatherer      prometheus.Gatherer
}

func (o ServiceOpts) validate() error {
	if len(o.Datadir) == 0 {
		return fmt.Errorf("missing profiler datadir")
	}
	if o.Port < minPort || o.Port > maxPort {
		return fmt.Errorf("port must be in range [%d, %d]", minPort, maxPort)
	}
	if o.StatsInterval <= 0 {
		return fmt.Errorf("stats interval must be positive")
	}
	return nil
}

func (o ServiceOpts) address() string {
	return fmt.Sprintf(":%d", o.Port)
}

// ProfilerService serves pprof and prometheus metrics, and periodically logs
// memory and application stats.
type ProfilerService struct {
	opts     ServiceOpts
	gatherer prometheus.Gatherer
	server   *http.Server

	stopFn context.CancelFunc
	wg     *sync.WaitGroup

	log  func(format string, a ...interface{})
	warn func(err error, format string, a ...interface{})
}

func NewService(opts ServiceOpts) (*ProfilerService, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	logFn := func(format string, a ...interface{}) {
		format = fmt.Sprintf("profiler: %s", format)
		log.Debugf(format, a...)
	}
	warnFn := func(err error, format string, a ...interface{}) {
		format = fmt.Sprintf("profiler: %s", format)
		log.WithError(err).Warnf(format, a...)
	}
	return &ProfilerService{
		opts:     opts,
		gatherer: gatherer,
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		wg:   &sync.WaitGroup{},
		log:  logFn,
		warn: warnFn,
	}, nil
}

// Start binds the profiler port and starts logging stats.
func (s *ProfilerService) Start() error {
	lis, err := net.Listen("tcp", s.opts.address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.address(), err)
	}

	runtime.SetBlockProfileRate(1)
	go func() {
		if err := s.server.Serve(lis); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.warn(err, "server stopped unexpectedly")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	s.stopFn = cancel
	s.wg.Add(1)
	go s.logStats(ctx)

	s.log("start at url http://localhost:%d/debug/pprof/", s.opts.Port)
	s.log("metrics exposed at http://localhost:%d/metrics", s.opts.Port)
	return nil
}

// Stop stops the profiler after dumping the current metrics to file.
func (s *ProfilerService) Stop() {
	if s.stopFn != nil {
		s.stopFn()
		s.wg.Wait()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.server.Shutdown(ctx)

	path, err := s.dumpMetrics()
	if err != nil {
		s.warn(err, "failed to dump metrics")
	} else {
		s.log("dumped metrics to %s", path)
	}
	s.log("stop")
}

func (s *ProfilerService) logStats(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.WithFields(s.stats()).Info("profiler: stats")
		}
	}
}

func (s *ProfilerService) stats() log.Fields {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	fields := log.Fields{
		"total_alloc_gb": fmt.Sprintf("%.3f", toGigabytes(memStats.TotalAlloc)),
		"heap_alloc_gb":  fmt.Sprintf("%.3f", toGigabytes(memStats.HeapAlloc)),
		"mallocs":        memStats.Mallocs,
		"frees":          memStats.Frees,
		"goroutines":     runtime.NumGoroutine(),
	}
	for _, report := range s.opts.Reporters {
		for k, v := range report() {
			fields[k] = v
		}
	}
	return fields
}

// dumpMetrics writes the gathered metrics in text exposition format to a new
// file of the datadir and returns its path.
func (s *ProfilerService) dumpMetrics() (string, error) {
	if err := os.MkdirAll(s.opts.Datadir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(
		s.opts.Datadir, time.Now().UTC().Format("20060102T150405Z")+dumpFileExt,
	)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return "", err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	families, err := s.gatherer.Gather()
	if err != nil {
		return "", err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(writer, mf); err != nil {
			return "", err
		}
	}
	return path, nil
}

func toGigabytes(bytes uint64) float64 {
	return float64(bytes) / gigabyte
}

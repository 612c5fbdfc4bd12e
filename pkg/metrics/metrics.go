// Package metrics is a small Prometheus-compatible registry of counters,
// gauges and histograms. Labels are baked into the metric name and the
// registry renders the text exposition format at /metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuckets are the default histogram buckets (in seconds).
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Counter is a monotonically increasing counter.
type Counter struct{ n atomic.Int64 }

func (c *Counter) Inc()         { c.n.Add(1) }
func (c *Counter) Add(n int64)  { c.n.Add(n) }
func (c *Counter) Value() int64 { return c.n.Load() }

// Gauge can go up and down.
type Gauge struct{ n atomic.Int64 }

func (g *Gauge) Set(n int64)  { g.n.Store(n) }
func (g *Gauge) Inc()         { g.n.Add(1) }
func (g *Gauge) Dec()         { g.n.Add(-1) }
func (g *Gauge) Value() int64 { return g.n.Load() }

// Histogram counts observations into fixed upper bounds. Bucket counts are
// kept cumulative, as they are exposed.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	cum    []uint64
	sum    float64
	total  uint64
}

func newHistogram(bounds []float64) *Histogram {
	b := append([]float64(nil), bounds...)
	sort.Float64s(b)
	return &Histogram{bounds: b, cum: make([]uint64, len(b))}
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := sort.SearchFloat64s(h.bounds, v); i < len(h.bounds); i++ {
		h.cum[i]++
	}
	h.sum += v
	h.total++
}

// Since observes the seconds elapsed since t.
func (h *Histogram) Since(t time.Time) { h.Observe(time.Since(t).Seconds()) }

func (h *Histogram) snapshot() (bounds []float64, cum []uint64, sum float64, total uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bounds, append([]uint64(nil), h.cum...), h.sum, h.total
}

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

// family groups every labelled series sharing one base name.
type family struct {
	name   string
	help   string
	kind   kind
	series map[string]any // label set -> *Counter, *Gauge or *Histogram
}

// Registry holds named metrics. Families render in registration order.
type Registry struct {
	mu       sync.Mutex
	families map[string]*family
	order    []*family
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{families: make(map[string]*family)}
}

// lookup returns the series for name, creating it with mk on first use.
// Registering one base name under two kinds is a programming error.
func lookup[T any](r *Registry, name, help string, k kind, mk func() *T) *T {
	base, labels := splitName(name)
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.families[base]
	if !ok {
		f = &family{name: base, kind: k, series: make(map[string]any)}
		r.families[base] = f
		r.order = append(r.order, f)
	}
	if f.kind != k {
		panic(fmt.Sprintf("metrics: %s is a %s, not a %s", base, f.kind, k))
	}
	if f.help == "" {
		f.help = help
	}
	if m, ok := f.series[labels].(*T); ok {
		return m
	}
	m := mk()
	f.series[labels] = m
	return m
}

// Counter returns (or creates) the counter called name. Labels added with
// WithLabels make each combination a distinct series of one family.
func (r *Registry) Counter(name, help string) *Counter {
	return lookup(r, name, help, kindCounter, func() *Counter { return &Counter{} })
}

// Gauge returns (or creates) a gauge.
func (r *Registry) Gauge(name, help string) *Gauge {
	return lookup(r, name, help, kindGauge, func() *Gauge { return &Gauge{} })
}

// Histogram returns (or creates) a histogram. Nil buckets use DefaultBuckets.
func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	return lookup(r, name, help, kindHistogram, func() *Histogram { return newHistogram(buckets) })
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// WithLabels returns a metric name with labels appended, e.g.
// WithLabels("foo", "k", "v") => `foo{k="v"}`. Values are escaped. An odd
// number of label arguments leaves the name unchanged.
func WithLabels(name string, kvs ...string) string {
	if len(kvs) == 0 || len(kvs)%2 != 0 {
		return name
	}
	pairs := make([]string, 0, len(kvs)/2)
	for i := 0; i < len(kvs); i += 2 {
		pairs = append(pairs, kvs[i]+`="`+labelEscaper.Replace(kvs[i+1])+`"`)
	}
	return name + "{" + strings.Join(pairs, ",") + "}"
}

// splitName separates `foo{k="v"}` into "foo" and `k="v"`.
func splitName(name string) (base, labels string) {
	i := strings.IndexByte(name, '{')
	if i < 0 {
		return name, ""
	}
	return name[:i], strings.TrimSuffix(name[i+1:], "}")
}

func braced(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

// Render returns the Prometheus text exposition format output.
func (r *Registry) Render() string {
	var b strings.Builder
	r.writeTo(&b)
	return b.String()
}

func (r *Registry) writeTo(w io.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range r.order {
		if f.help != "" {
			fmt.Fprintf(w, "# HELP %s %s\n", f.name, f.help)
		}
		fmt.Fprintf(w, "# TYPE %s %s\n", f.name, f.kind)

		sets := make([]string, 0, len(f.series))
		for l := range f.series {
			sets = append(sets, l)
		}
		sort.Strings(sets)
		for _, l := range sets {
			switch m := f.series[l].(type) {
			case *Counter:
				fmt.Fprintf(w, "%s%s %d\n", f.name, braced(l), m.Value())
			case *Gauge:
				fmt.Fprintf(w, "%s%s %d\n", f.name, braced(l), m.Value())
			case *Histogram:
				writeHistogram(w, f.name, l, m)
			}
		}
	}
}

func writeHistogram(w io.Writer, name, labels string, h *Histogram) {
	bounds, cum, sum, total := h.snapshot()
	le := func(bound string) string {
		if labels == "" {
			return `{le="` + bound + `"}`
		}
		return `{le="` + bound + `",` + labels + "}"
	}
	for i, bound := range bounds {
		fmt.Fprintf(w, "%s_bucket%s %d\n", name, le(fmt.Sprintf("%g", bound)), cum[i])
	}
	fmt.Fprintf(w, "%s_bucket%s %d\n", name, le("+Inf"), total)
	fmt.Fprintf(w, "%s_sum%s %g\n", name, braced(labels), sum)
	fmt.Fprintf(w, "%s_count%s %d\n", name, braced(labels), total)
}

// Handler serves the registry in the text exposition format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		io.WriteString(w, r.Render())
	})
}

// Serve serves /metrics and a liveness check at / on addr until ctx is done,
// then shuts the server down.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "ok\n")
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ServeAsync runs Serve in a goroutine and logs a failure to listen.
func (r *Registry) ServeAsync(ctx context.Context, addr string, log *slog.Logger) {
	go func() {
		if err := r.Serve(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
}

// CollectRuntime samples goroutine count and heap usage into gauges named
// <prefix>_goroutines and <prefix>_heap_bytes every interval until ctx is done.
func (r *Registry) CollectRuntime(ctx context.Context, prefix string, interval time.Duration) {
	goroutines := r.Gauge(prefix+"_goroutines", "Number of goroutines")
	heap := r.Gauge(prefix+"_heap_bytes", "Bytes of allocated heap objects")
	sample := func() {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		goroutines.Set(int64(runtime.NumGoroutine()))
		heap.Set(int64(ms.HeapAlloc))
	}
	sample()
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				sample()
			}
		}
	}()
}

package pipeline

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for a build run.
type Metrics struct {
	Registry             *prometheus.Registry
	NodesTotal           *prometheus.CounterVec
	SidecarErrorsTotal   prometheus.Counter
	Products             prometheus.Gauge
	CollisionsTotal      prometheus.Counter
	ImagesRewrittenTotal prometheus.Counter
	PagesWrittenTotal    prometheus.Counter
	DanglingRefsTotal    prometheus.Counter
	ErrorsTotal          *prometheus.CounterVec
	StageDuration        *prometheus.HistogramVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	nodes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_nodes_crawled_total",
			Help: "File-system entries visited by the crawler.",
		},
		[]string{"kind"},
	)
	sidecarErrors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_sidecar_errors_total",
			Help: "Product sidecars that could not be decoded.",
		},
	)
	products := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_products",
			Help: "Products in the last built catalog.",
		},
	)
	collisions := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_id_collisions_total",
			Help: "Product ids that needed a numeric suffix.",
		},
	)
	rewritten := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_images_rewritten_total",
			Help: "Image URLs rewritten to thumbnail links.",
		},
	)
	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_pages_written_total",
			Help: "Page files written.",
		},
	)
	dangling := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_dangling_references_total",
			Help: "Cross-references to ids missing from the catalog.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_build_errors_total",
			Help: "Build failures by error type.",
		},
		[]string{"error_type"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_stage_duration_seconds",
			Help:    "Wall time spent in each build stage.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	registry.MustRegister(nodes, sidecarErrors, products, collisions, rewritten, pages, dangling, errorsTotal, stageDuration)

	return &Metrics{
		Registry:             registry,
		NodesTotal:           nodes,
		SidecarErrorsTotal:   sidecarErrors,
		Products:             products,
		CollisionsTotal:      collisions,
		ImagesRewrittenTotal: rewritten,
		PagesWrittenTotal:    pages,
		DanglingRefsTotal:    dangling,
		ErrorsTotal:          errorsTotal,
		StageDuration:        stageDuration,
	}
}

// AddNodes records crawled entries of one kind.
func (m *Metrics) AddNodes(kind string, n int) {
	if m == nil {
		return
	}
	m.NodesTotal.WithLabelValues(kind).Add(float64(n))
}

// AddSidecarErrors records malformed sidecars.
func (m *Metrics) AddSidecarErrors(n int) {
	if m == nil {
		return
	}
	m.SidecarErrorsTotal.Add(float64(n))
}

// SetProducts records the catalog size.
func (m *Metrics) SetProducts(n int) {
	if m == nil {
		return
	}
	m.Products.Set(float64(n))
}

// AddCollisions records suffixed ids.
func (m *Metrics) AddCollisions(n int) {
	if m == nil {
		return
	}
	m.CollisionsTotal.Add(float64(n))
}

// AddImagesRewritten records rewritten image URLs.
func (m *Metrics) AddImagesRewritten(n int) {
	if m == nil {
		return
	}
	m.ImagesRewrittenTotal.Add(float64(n))
}

// IncPages increments the pages written counter.
func (m *Metrics) IncPages() {
	if m == nil {
		return
	}
	m.PagesWrittenTotal.Inc()
}

// AddDanglingRefs records unresolved cross-references.
func (m *Metrics) AddDanglingRefs(n int) {
	if m == nil {
		return
	}
	m.DanglingRefsTotal.Add(float64(n))
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// WriteTextfile dumps the registry in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := ensureDir(path); err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

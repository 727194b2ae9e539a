package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder exports sale outcomes to Prometheus.
type Recorder struct {
	registry      *prometheus.Registry
	salesCreated  prometheus.Counter
	salesFailed   *prometheus.CounterVec
	txDuration    *prometheus.HistogramVec
	unitsReserved prometheus.Counter
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		salesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sales_created_total",
			Help: "Sales committed.",
		}),
		salesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sales_failed_total",
			Help: "Sales aborted, by error kind and the state they reached.",
		}, []string{"kind", "state"}),
		txDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sale_transaction_duration_seconds",
			Help:    "Time spent creating a sale, by outcome.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"outcome"}),
		unitsReserved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stock_units_reserved_total",
			Help: "Stock units taken by committed sales.",
		}),
	}
	r.registry.MustRegister(
		r.salesCreated,
		r.salesFailed,
		r.txDuration,
		r.unitsReserved,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) SaleCreated(units int, elapsed time.Duration) {
	r.salesCreated.Inc()
	r.unitsReserved.Add(float64(units))
	r.txDuration.WithLabelValues("committed").Observe(elapsed.Seconds())
}

func (r *Recorder) SaleFailed(kind, state string, elapsed time.Duration) {
	r.salesFailed.WithLabelValues(kind, state).Inc()
	r.txDuration.WithLabelValues("aborted").Observe(elapsed.Seconds())
}

// Handler serves the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

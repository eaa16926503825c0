// Package metrics exposes engine measurements to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nemonet1337/stockwise/pkg/inventory"
)

// Collector implements inventory.Metrics on a private Prometheus registry
// 専用レジストリ上でinventory.Metricsを実装
type Collector struct {
	registry *prometheus.Registry

	operationsCreated  *prometheus.CounterVec
	allocations        *prometheus.CounterVec
	allocationDuration *prometheus.HistogramVec
	transitions        *prometheus.CounterVec
	productStock       *prometheus.GaugeVec
}

var _ inventory.Metrics = (*Collector)(nil)

// NewCollector creates and registers all engine metrics under namespace
// 名前空間配下に全メトリクスを作成・登録
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		operationsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_created_total",
			Help:      "Number of operations created, by type.",
		}, []string{"type"}),
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocations_total",
			Help:      "Number of allocation lines processed, by type and result.",
		}, []string{"type", "result"}),
		allocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "allocation_duration_seconds",
			Help:      "Duration of single-line allocations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Number of operation status transitions.",
		}, []string{"from", "to"}),
		productStock: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "product_stock",
			Help:      "Last recomputed stock per product.",
		}, []string{"product_id"}),
	}

	registry.MustRegister(
		c.operationsCreated,
		c.allocations,
		c.allocationDuration,
		c.transitions,
		c.productStock,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
// Prometheus形式でメトリクスを公開するハンドラー
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) OperationCreated(opType inventory.OperationType) {
	c.operationsCreated.WithLabelValues(string(opType)).Inc()
}

func (c *Collector) AllocationObserved(opType inventory.OperationType, duration time.Duration, err error) {
	c.allocationDuration.WithLabelValues(string(opType)).Observe(duration.Seconds())
	c.allocations.WithLabelValues(string(opType), Result(err)).Inc()
}

func (c *Collector) StatusChanged(from, to inventory.OperationStatus) {
	c.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (c *Collector) StockRecomputed(productID string, stock int64) {
	c.productStock.WithLabelValues(productID).Set(float64(stock))
}

// Result classifies an allocation error into a low-cardinality label
// 割り当てエラーをラベル値に分類
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, inventory.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, inventory.ErrDuplicateLot):
		return "duplicate_lot"
	case errors.Is(err, inventory.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, inventory.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

package di

import (
	"net/http"

	"github.com/samber/do/v2"

	"github.com/planbridge/planbridge/internal/metrics"
)

// MetricsService owns the export pipeline: a bounded queue feeding a
// Prometheus registry, or a no-op sink when metrics are disabled. The queue
// exists in both modes so the usage recorder always has a live sink.
type MetricsService struct {
	Prom  *metrics.Prometheus // nil when metrics are disabled
	Queue *metrics.Queue
}

// NewMetrics builds the metrics pipeline from configuration.
func NewMetrics(i do.Injector) (*MetricsService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	logSvc := do.MustInvoke[*LoggerService](i)

	mcfg := cfgSvc.Config.Metrics
	if mcfg.Disabled {
		queue := metrics.NewQueue(metrics.Discard, mcfg.GetQueueSize(), *logSvc.Logger)
		return &MetricsService{Queue: queue}, nil
	}

	prom := metrics.NewPrometheus()
	queue := metrics.NewQueue(prom, mcfg.GetQueueSize(), *logSvc.Logger)
	prom.ObserveQueueDrops(queue.Dropped)

	return &MetricsService{Prom: prom, Queue: queue}, nil
}

// Handler returns the scrape endpoint, or nil when metrics are disabled.
func (m *MetricsService) Handler() http.Handler {
	if m.Prom == nil {
		return nil
	}
	return m.Prom.Handler()
}

// Shutdown drains the queue and stops its worker.
func (m *MetricsService) Shutdown() error {
	return m.Queue.Close()
}

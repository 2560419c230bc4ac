package di

import (
	"fmt"

	"github.com/samber/do/v2"

	"github.com/planbridge/planbridge/internal/usage"
)

// UsageService wraps the outcome recorder for DI.
type UsageService struct {
	Recorder *usage.Recorder
}

// NewUsage builds the recorder over the store and metrics queue.
func NewUsage(i do.Injector) (*UsageService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	logSvc := do.MustInvoke[*LoggerService](i)
	storeSvc := do.MustInvoke[*StoreService](i)
	metricsSvc := do.MustInvoke[*MetricsService](i)

	loc, err := cfgSvc.Config.Usage.GetLocation()
	if err != nil {
		return nil, fmt.Errorf("invalid usage timezone: %w", err)
	}

	recorder := usage.NewRecorder(
		storeSvc.Store,
		metricsSvc.Queue,
		cfgSvc.Config.Usage.GetWeekStart(),
		loc,
		*logSvc.Logger,
	)

	return &UsageService{Recorder: recorder}, nil
}

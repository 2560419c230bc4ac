package di

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/do/v2"

	"github.com/planbridge/planbridge/internal/storage"
)

// storeConnectTimeout bounds the initial pool construction and ping.
const storeConnectTimeout = 30 * time.Second

// StoreService wraps the Postgres-backed store for DI.
type StoreService struct {
	Store *storage.Postgres
}

// NewStore connects to Postgres and verifies the connection.
func NewStore(i do.Injector) (*StoreService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	logSvc := do.MustInvoke[*LoggerService](i)

	ctx, cancel := context.WithTimeout(context.Background(), storeConnectTimeout)
	defer cancel()

	store, err := storage.NewPostgres(ctx, &cfgSvc.Config.Database, *logSvc.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &StoreService{Store: store}, nil
}

// Shutdown closes the connection pool.
func (s *StoreService) Shutdown() error {
	s.Store.Close()
	return nil
}

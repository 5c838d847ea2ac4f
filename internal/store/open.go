// Package store selects a categorization.Store backend from configuration.
package store

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-categorizer/internal/categorization"
	"github.com/dvloznov/finance-categorizer/internal/config"
	infraBQ "github.com/dvloznov/finance-categorizer/internal/infra/bigquery"
	"github.com/dvloznov/finance-categorizer/internal/store/inmemory"
	"github.com/dvloznov/finance-categorizer/internal/store/sqlstore"
)

// Open returns the store configured by cfg. SQL backends are migrated on open.
func Open(ctx context.Context, cfg config.StoreConfig) (categorization.Store, error) {
	var (
		s   categorization.Store
		err error
	)
	switch cfg.Backend {
	case config.StoreMemory:
		return inmemory.NewStore(), nil
	case config.StoreSQLite, config.StorePostgres:
		dialect := sqlstore.DialectSQLite
		if cfg.Backend == config.StorePostgres {
			dialect = sqlstore.DialectPostgres
		}
		var sqlStore *sqlstore.Store
		sqlStore, err = sqlstore.Open(ctx, dialect, cfg.DSN)
		s = sqlStore
	case config.StoreBigQuery:
		var bqStore *infraBQ.Store
		bqStore, err = infraBQ.NewStore(ctx, cfg.ProjectID, cfg.Dataset)
		s = bqStore
	default:
		return nil, fmt.Errorf("Open: unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("Open: %s store: %w", cfg.Backend, err)
	}
	return s, nil
}

package store

import (
	"context"
	"testing"

	"github.com/dvloznov/finance-categorizer/internal/config"
	"github.com/dvloznov/finance-categorizer/internal/store/inmemory"
	"github.com/dvloznov/finance-categorizer/internal/store/sqlstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	mem, err := Open(ctx, config.StoreConfig{Backend: config.StoreMemory})
	require.NoError(t, err)
	assert.IsType(t, &inmemory.Store{}, mem)

	sql, err := Open(ctx, config.StoreConfig{Backend: config.StoreSQLite, DSN: "file:open_test?mode=memory&cache=shared"})
	require.NoError(t, err)
	assert.IsType(t, &sqlstore.Store{}, sql)
	assert.NoError(t, sql.Close())

	_, err = Open(ctx, config.StoreConfig{Backend: "cassandra"})
	assert.Error(t, err)
}

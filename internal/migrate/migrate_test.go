package migrate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bher20/meterbill/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpThenDownSQLite(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "meterbill.db")

	require.NoError(t, Up(ctx, "sqlite", dsn))
	v, err := Version(ctx, "sqlite", dsn)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	// The gorm storage must work against the migrated schema without AutoMigrate.
	st, err := storage.NewGormStorage("sqlite", dsn)
	require.NoError(t, err)
	p := storage.Property{OwnerID: "u1", Name: "Flat"}
	require.NoError(t, st.CreateProperty(ctx, &p))
	key := storage.ChargeKey{PropertyID: p.ID, Year: 2024, Month: 1, ResourceType: storage.Gas}
	require.NoError(t, st.AccumulateCharge(ctx, key, decimal.NewFromInt(2), decimal.NewFromInt(3)))
	require.NoError(t, st.AccumulateCharge(ctx, key, decimal.NewFromInt(2), decimal.NewFromInt(3)))
	charges, err := st.ListMonthlyCharges(ctx, storage.ChargeFilter{})
	require.NoError(t, err)
	require.Len(t, charges, 1)
	assert.True(t, charges[0].Amount.Equal(decimal.NewFromInt(6)))
	require.NoError(t, st.Close())

	require.NoError(t, Down(ctx, "sqlite", dsn))
	v, err = Version(ctx, "sqlite", dsn)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestMemoryDriverRejected(t *testing.T) {
	assert.Error(t, Up(context.Background(), "memory", ""))
}

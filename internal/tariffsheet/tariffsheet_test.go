package tariffsheet

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bher20/meterbill/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sheet = `
MUNICIPAL UTILITY TARIFF SCHEDULE 2024

Electricity: 6.50 per kWh from 2024-01-01 to 2024-12-31
Cold water: 44,80 per m³ from 2024-01-01
Hot water - 219.40 from 2024-09-01
Heating: 1895 per Gcal from 2024-10-01 until 2025-04-30

Notes: rates include VAT.
`

func TestParseText(t *testing.T) {
	rows, err := ParseText(sheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, storage.Electricity, rows[0].ResourceType)
	assert.True(t, rows[0].ValuePerUnit.Equal(decimal.RequireFromString("6.50")))
	assert.Equal(t, "kWh", rows[0].Unit)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), rows[0].ValidFrom)
	require.NotNil(t, rows[0].ValidTo)
	assert.Equal(t, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), *rows[0].ValidTo)

	assert.Equal(t, storage.ColdWater, rows[1].ResourceType)
	assert.True(t, rows[1].ValuePerUnit.Equal(decimal.RequireFromString("44.80")))
	assert.Nil(t, rows[1].ValidTo)

	assert.Equal(t, storage.HotWater, rows[2].ResourceType)
	assert.Equal(t, "m³", rows[2].Unit)

	assert.Equal(t, storage.Heating, rows[3].ResourceType)
	require.NotNil(t, rows[3].ValidTo)
}

func TestParseText_Errors(t *testing.T) {
	_, err := ParseText("nothing to see here")
	assert.ErrorIs(t, err, ErrNoTariffs)

	_, err = ParseText("Gas: 7.95 per m³ from 2024-05-01 to 2024-01-01")
	assert.ErrorContains(t, err, "before valid from")

	_, err = ParseText("Electricity: 6.505 per kWh from 2024-01-01")
	assert.ErrorContains(t, err, "more than 2 decimal places")

	_, err = ParseText("Cold water: 44,805 from 2024-01-01")
	assert.ErrorContains(t, err, "more than 2 decimal places")
}

func TestParse_PlainText(t *testing.T) {
	rows, err := Parse([]byte("gas - 7.95 from 2024-09-01"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, storage.Gas, rows[0].ResourceType)
}

func TestParse_BrokenPDF(t *testing.T) {
	_, err := Parse([]byte("%PDF-1.4\nnot really a pdf"))
	assert.Error(t, err)
}

func TestImport_UpsertsByResourceAndValidFrom(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()

	rows, err := ParseText(sheet)
	require.NoError(t, err)
	imported, err := Import(ctx, st, rows)
	require.NoError(t, err)
	assert.Len(t, imported, 4)

	rows, err = ParseText("Electricity: 6.75 per kWh from 2024-01-01 to 2024-12-31")
	require.NoError(t, err)
	_, err = Import(ctx, st, rows)
	require.NoError(t, err)

	tariffs, err := st.ListTariffs(ctx, storage.TariffFilter{ResourceType: storage.Electricity})
	require.NoError(t, err)
	require.Len(t, tariffs, 1)
	assert.True(t, tariffs[0].ValuePerUnit.Equal(decimal.RequireFromString("6.75")))
}

func TestArchive(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 3, 5, 10, 20, 30, 0, time.UTC)
	path, err := Archive(dir, "/uploads/tariffs.pdf", []byte("data"), now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20240305T102030-tariffs.pdf"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
}

package billing

import (
	"context"
	"testing"
	"time"

	"github.com/bher20/meterbill/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	st    storage.Storage
	svc   *Service
	prop  storage.Property
	meter storage.Meter
}

// newFixture builds a fixture over the in-memory store. Tests that seed
// charges directly use it through mem.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, storage.NewMemory())
}

func (f *fixture) mem() *storage.MemoryStorage { return f.st.(*storage.MemoryStorage) }

func newFixtureOn(t *testing.T, st storage.Storage) *fixture {
	t.Helper()
	ctx := context.Background()
	svc := NewService(st)
	svc.SetClock(func() time.Time { return time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC) })

	p := storage.Property{OwnerID: "owner", Name: "Flat", Address: "Street 1"}
	require.NoError(t, st.CreateProperty(ctx, &p))
	m := storage.Meter{PropertyID: p.ID, ResourceType: storage.Electricity, Unit: "kWh", SerialNumber: "EL-001", IsActive: true}
	require.NoError(t, st.CreateMeter(ctx, &m))
	return &fixture{st: st, svc: svc, prop: p, meter: m}
}

// backends runs fn once per storage implementation that needs no external service.
func backends(t *testing.T, fn func(t *testing.T, f *fixture)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, newFixtureOn(t, storage.NewMemory()))
	})
	t.Run("sqlite", func(t *testing.T) {
		gs, err := storage.NewGormStorage("sqlite", ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { gs.Close() })
		require.NoError(t, gs.Migrate(context.Background()))
		fn(t, newFixtureOn(t, gs))
	})
}

func (f *fixture) tariff(t *testing.T, rt storage.ResourceType, rate string, from time.Time, to *time.Time) storage.Tariff {
	t.Helper()
	tr := storage.Tariff{ResourceType: rt, ValuePerUnit: dec(rate), ValidFrom: from, ValidTo: to}
	require.NoError(t, f.st.CreateTariff(context.Background(), &tr))
	return tr
}

func (f *fixture) reading(t *testing.T, value string, d time.Time) Outcome {
	t.Helper()
	r := storage.Reading{MeterID: f.meter.ID, Value: dec(value), ReadingDate: d}
	out, err := f.svc.CreateReading(context.Background(), &r)
	require.NoError(t, err)
	return out
}

func (f *fixture) charges(t *testing.T) []storage.MonthlyCharge {
	t.Helper()
	cs, err := f.st.ListMonthlyCharges(context.Background(), storage.ChargeFilter{PropertyIDs: []uint{f.prop.ID}})
	require.NoError(t, err)
	return cs
}

func TestSelectTariff(t *testing.T) {
	end := day(2024, 3, 31)
	tariffs := []storage.Tariff{
		{ID: 1, ResourceType: storage.Electricity, ValuePerUnit: dec("5.00"), ValidFrom: day(2024, 1, 1)},
		{ID: 2, ResourceType: storage.Electricity, ValuePerUnit: dec("6.00"), ValidFrom: day(2024, 2, 1), ValidTo: &end},
		{ID: 3, ResourceType: storage.Gas, ValuePerUnit: dec("9.00"), ValidFrom: day(2024, 3, 1)},
		{ID: 4, ResourceType: storage.Electricity, ValuePerUnit: dec("7.00"), ValidFrom: day(2024, 2, 1), ValidTo: &end},
	}

	tests := []struct {
		name   string
		rt     storage.ResourceType
		on     time.Time
		wantID uint
	}{
		{"before any tariff", storage.Electricity, day(2023, 12, 31), 0},
		{"only open tariff", storage.Electricity, day(2024, 1, 15), 1},
		{"latest start wins, tie to highest id", storage.Electricity, day(2024, 2, 10), 4},
		{"valid_to is inclusive", storage.Electricity, day(2024, 3, 31), 4},
		{"after window falls back", storage.Electricity, day(2024, 4, 1), 1},
		{"other resource", storage.Gas, day(2024, 3, 1), 3},
		{"no tariff for resource", storage.Heating, day(2024, 3, 1), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectTariff(tariffs, tt.rt, tt.on)
			if tt.wantID == 0 {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}

func TestResolveTariff_RejectsUnknownResource(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ResolveTariff(context.Background(), "steam", day(2024, 1, 1))
	assert.ErrorIs(t, err, ErrInvalidResource)
}

func TestCreateReading_ChargesDeltaTimesTariff(t *testing.T) {
	backends(t, func(t *testing.T, f *fixture) {
		f.tariff(t, storage.Electricity, "6.50", day(2024, 1, 1), nil)

		assert.Equal(t, OutcomeBaseline, f.reading(t, "100.000", day(2024, 3, 1)))
		assert.Empty(t, f.charges(t))

		assert.Equal(t, OutcomeCharged, f.reading(t, "125.500", day(2024, 3, 31)))
		cs := f.charges(t)
		require.Len(t, cs, 1)
		assert.Equal(t, 2024, cs[0].Year)
		assert.Equal(t, 3, cs[0].Month)
		assert.Equal(t, storage.Electricity, cs[0].ResourceType)
		assert.True(t, cs[0].Consumption.Equal(dec("25.5")), cs[0].Consumption.String())
		assert.True(t, cs[0].Amount.Equal(dec("165.75")), cs[0].Amount.String())
	})
}

func TestCreateReading_AccumulatesWithinMonth(t *testing.T) {
	backends(t, func(t *testing.T, f *fixture) {
		f.tariff(t, storage.Electricity, "2.00", day(2024, 1, 1), nil)

		f.reading(t, "10", day(2024, 4, 1))
		f.reading(t, "15", day(2024, 4, 10))
		f.reading(t, "22", day(2024, 4, 20))
		f.reading(t, "30", day(2024, 5, 2))

		cs := f.charges(t)
		require.Len(t, cs, 2)
		assert.Equal(t, 4, cs[0].Month)
		assert.True(t, cs[0].Consumption.Equal(dec("12")))
		assert.True(t, cs[0].Amount.Equal(dec("24")))
		assert.Equal(t, 5, cs[1].Month)
		assert.True(t, cs[1].Consumption.Equal(dec("8")))
	})
}

func TestCreateReading_NoTariffAndNoConsumption(t *testing.T) {
	backends(t, func(t *testing.T, f *fixture) {
		f.reading(t, "50", day(2024, 1, 1))
		assert.Equal(t, OutcomeNoTariff, f.reading(t, "60", day(2024, 1, 31)))

		f.tariff(t, storage.Electricity, "1.00", day(2024, 1, 1), nil)
		assert.Equal(t, OutcomeNoConsumption, f.reading(t, "60", day(2024, 2, 10)))
		// A dial rollback clamps to zero.
		assert.Equal(t, OutcomeNoConsumption, f.reading(t, "40", day(2024, 2, 20)))
		assert.Empty(t, f.charges(t))
	})
}

func TestCreateReading_SameDayUsesLatestPrevious(t *testing.T) {
	backends(t, func(t *testing.T, f *fixture) {
		f.tariff(t, storage.Electricity, "1.00", day(2024, 1, 1), nil)

		f.reading(t, "10", day(2024, 2, 1))
		f.reading(t, "12", day(2024, 2, 1))
		assert.Equal(t, OutcomeCharged, f.reading(t, "20", day(2024, 2, 5)))

		cs := f.charges(t)
		require.Len(t, cs, 1)
		assert.True(t, cs[0].Consumption.Equal(dec("8")), cs[0].Consumption.String())
	})
}

func TestCreateReading_UnknownMeterFails(t *testing.T) {
	backends(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		r := storage.Reading{MeterID: 999, Value: dec("1"), ReadingDate: day(2024, 1, 1)}
		_, err := f.svc.CreateReading(ctx, &r)
		assert.ErrorIs(t, err, ErrNotFound)

		// The reading insert is rolled back with the failed application.
		got, err := f.st.GetReading(ctx, r.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
		readings, err := f.st.ListReadings(ctx, storage.ReadingFilter{})
		require.NoError(t, err)
		assert.Empty(t, readings)
	})
}

func TestCreateReading_FractionalAmountsStayExact(t *testing.T) {
	backends(t, func(t *testing.T, f *fixture) {
		f.tariff(t, storage.Electricity, "1.00", day(2024, 1, 1), nil)

		f.reading(t, "0", day(2024, 2, 1))
		f.reading(t, "0.1", day(2024, 2, 10))
		f.reading(t, "0.3", day(2024, 2, 20))

		cs := f.charges(t)
		require.Len(t, cs, 1)
		assert.Equal(t, "0.3", cs[0].Consumption.String())
		assert.Equal(t, "0.3", cs[0].Amount.String())
		assert.Equal(t, "0.30", cs[0].Amount.StringFixed(2))
	})
}

func TestDescribeReading(t *testing.T) {
	backends(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.tariff(t, storage.Electricity, "6.50", day(2024, 1, 1), nil)

		first := storage.Reading{MeterID: f.meter.ID, Value: dec("100"), ReadingDate: day(2024, 3, 1)}
		_, err := f.svc.CreateReading(ctx, &first)
		require.NoError(t, err)
		second := storage.Reading{MeterID: f.meter.ID, Value: dec("125.5"), ReadingDate: day(2024, 3, 31)}
		_, err = f.svc.CreateReading(ctx, &second)
		require.NoError(t, err)

		d, err := f.svc.DescribeReading(ctx, first)
		require.NoError(t, err)
		assert.Nil(t, d.ConsumptionDelta)
		assert.Nil(t, d.AmountValue)
		assert.Equal(t, "Electricity", d.ResourceLabel)
		assert.Equal(t, "kWh", d.Unit)

		d, err = f.svc.DescribeReading(ctx, second)
		require.NoError(t, err)
		require.NotNil(t, d.ConsumptionDelta)
		require.NotNil(t, d.AmountValue)
		assert.True(t, d.ConsumptionDelta.Equal(dec("25.5")))
		assert.True(t, d.AmountValue.Equal(dec("165.75")))
	})
}

func TestForecast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.svc.Forecast(ctx, f.prop.ID, DefaultLookback)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	put := func(y, m int, rt storage.ResourceType, amount string) {
		f.mem().PutMonthlyCharge(storage.MonthlyCharge{PropertyID: f.prop.ID, Year: y, Month: m, ResourceType: rt, Amount: dec(amount)})
	}
	put(2024, 1, storage.Electricity, "1000")
	put(2024, 3, storage.Electricity, "100")
	put(2024, 3, storage.Gas, "50")
	put(2024, 4, storage.Electricity, "200")
	put(2024, 5, storage.Electricity, "300")
	// Current month is excluded.
	put(2024, 6, storage.Electricity, "9999")

	got, err = f.svc.Forecast(ctx, f.prop.ID, DefaultLookback)
	require.NoError(t, err)
	assert.True(t, got.Round(2).Equal(dec("216.67")), got.String())

	got, err = f.svc.Forecast(ctx, f.prop.ID, 1)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("300")))
}

func TestAnalytics_SummaryAndBuckets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	water := storage.Meter{PropertyID: f.prop.ID, ResourceType: storage.ColdWater, Unit: "m³", IsActive: true}
	require.NoError(t, f.st.CreateMeter(ctx, &water))

	f.mem().PutMonthlyCharge(storage.MonthlyCharge{PropertyID: f.prop.ID, Year: 2024, Month: 1, ResourceType: storage.Electricity, Consumption: dec("120.5"), Amount: dec("780")})
	f.mem().PutMonthlyCharge(storage.MonthlyCharge{PropertyID: f.prop.ID, Year: 2024, Month: 2, ResourceType: storage.ColdWater, Consumption: dec("15"), Amount: dec("650")})
	f.mem().PutMonthlyCharge(storage.MonthlyCharge{PropertyID: f.prop.ID, Year: 2023, Month: 12, ResourceType: storage.Electricity, Consumption: dec("1"), Amount: dec("5")})
	require.NoError(t, f.st.CreatePayment(ctx, &storage.Payment{PropertyID: f.prop.ID, Year: 2024, Month: 1, Amount: dec("700"), PaidAt: day(2024, 2, 10)}))
	require.NoError(t, f.st.CreatePayment(ctx, &storage.Payment{PropertyID: f.prop.ID, Year: 2024, Month: 1, Amount: dec("80"), PaidAt: day(2024, 2, 12)}))

	rep, err := f.svc.Analytics(ctx, Query{
		OwnerID:     "owner",
		PropertyIDs: []uint{f.prop.ID},
		Start:       storage.Period{Year: 2024, Month: 1},
		End:         storage.Period{Year: 2024, Month: 12},
	})
	require.NoError(t, err)

	require.Len(t, rep.Monthly, 2)
	assert.Equal(t, "2024-01", rep.Monthly[0].Month)
	assert.InDelta(t, 780.0, rep.Monthly[0].CumulativeAmount, 1e-9)
	assert.InDelta(t, 1430.0, rep.Monthly[1].CumulativeAmount, 1e-9)

	assert.InDelta(t, 1430.0, rep.Summary.TotalAmount, 1e-9)
	assert.InDelta(t, 135.5, rep.Summary.TotalConsumption, 1e-9)
	assert.InDelta(t, 1430.0/60, rep.Summary.AverageDailyAmount, 1e-9)
	require.NotNil(t, rep.Summary.PeakMonth)
	assert.Equal(t, "2024-01", *rep.Summary.PeakMonth)

	require.Len(t, rep.Summary.Resources, 2)
	assert.Equal(t, storage.Electricity, rep.Summary.Resources[0].ResourceType)
	assert.Equal(t, "kWh", rep.Summary.Resources[0].Unit)
	assert.Equal(t, "m³", rep.Summary.Resources[1].Unit)

	require.Len(t, rep.MonthlyByResource, 2)
	require.Len(t, rep.Comparison, 1)
	assert.Equal(t, "Flat", rep.Comparison[0].PropertyName)

	require.Len(t, rep.Payments, 1)
	assert.InDelta(t, 780.0, rep.Payments[0].Total, 1e-9)

	// Forecast averages Feb, Jan and Dec: (650 + 780 + 5) / 3.
	assert.InDelta(t, 1435.0/3, rep.ForecastAmount, 1e-6)
}

func TestAnalytics_PeakTieGoesToEarliestMonth(t *testing.T) {
	f := newFixture(t)
	for _, m := range []int{3, 5, 4} {
		f.mem().PutMonthlyCharge(storage.MonthlyCharge{PropertyID: f.prop.ID, Year: 2024, Month: m, ResourceType: storage.Electricity, Amount: dec("150")})
	}
	f.mem().PutMonthlyCharge(storage.MonthlyCharge{PropertyID: f.prop.ID, Year: 2024, Month: 1, ResourceType: storage.Electricity, Amount: dec("90")})

	rep, err := f.svc.Analytics(context.Background(), Query{
		OwnerID: "owner",
		Start:   storage.Period{Year: 2024, Month: 1},
		End:     storage.Period{Year: 2024, Month: 12},
	})
	require.NoError(t, err)
	require.NotNil(t, rep.Summary.PeakMonth)
	assert.Equal(t, "2024-03", *rep.Summary.PeakMonth)
}

func TestAnalytics_EmptyPeriodHasNoPeak(t *testing.T) {
	f := newFixture(t)
	rep, err := f.svc.Analytics(context.Background(), Query{
		OwnerID: "owner",
		Start:   storage.Period{Year: 2020, Month: 1},
		End:     storage.Period{Year: 2020, Month: 12},
	})
	require.NoError(t, err)
	assert.Empty(t, rep.Monthly)
	assert.Nil(t, rep.Summary.PeakMonth)
	assert.Zero(t, rep.Summary.AverageDailyAmount)
}

func TestAnalytics_ForeignSelectionHasNoProperties(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Analytics(context.Background(), Query{
		OwnerID:     "someone-else",
		PropertyIDs: []uint{f.prop.ID},
		Start:       storage.Period{Year: 2024, Month: 1},
		End:         storage.Period{Year: 2024, Month: 12},
	})
	assert.ErrorIs(t, err, ErrNoProperties)
}

func TestValidationError(t *testing.T) {
	err := Invalid("meter", "not yours").Add("value", "required")
	assert.Equal(t, "validation failed: meter: not yours; value: required", err.Error())
}

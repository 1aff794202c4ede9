package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// backends returns every Storage implementation that can run without external services.
func backends(t *testing.T) map[string]Storage {
	t.Helper()
	gs, err := NewGormStorage("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, gs.Migrate(context.Background()))
	t.Cleanup(func() { gs.Close() })
	return map[string]Storage{
		"memory": NewMemory(),
		"sqlite": gs,
	}
}

func seedMeter(t *testing.T, st Storage, owner string) (Property, Meter) {
	t.Helper()
	ctx := context.Background()
	p := Property{OwnerID: owner, Name: "Flat", Address: "Main st 1"}
	require.NoError(t, st.CreateProperty(ctx, &p))
	m := Meter{PropertyID: p.ID, ResourceType: Electricity, Unit: "kWh", SerialNumber: "EL-1", IsActive: true}
	require.NoError(t, st.CreateMeter(ctx, &m))
	return p, m
}

func TestAccumulateCharge_CreatesThenIncrements(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p, _ := seedMeter(t, st, "u1")
			key := ChargeKey{PropertyID: p.ID, Year: 2024, Month: 3, ResourceType: Electricity}

			require.NoError(t, st.AccumulateCharge(ctx, key, decimal.RequireFromString("25.5"), decimal.RequireFromString("165.75")))
			require.NoError(t, st.AccumulateCharge(ctx, key, decimal.RequireFromString("10"), decimal.RequireFromString("65")))

			charges, err := st.ListMonthlyCharges(ctx, ChargeFilter{PropertyIDs: []uint{p.ID}})
			require.NoError(t, err)
			require.Len(t, charges, 1)
			assert.True(t, charges[0].Consumption.Equal(decimal.RequireFromString("35.5")), "consumption %s", charges[0].Consumption)
			assert.True(t, charges[0].Amount.Equal(decimal.RequireFromString("230.75")), "amount %s", charges[0].Amount)
		})
	}
}

func TestAccumulateCharge_FractionalSumsStayExact(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p, _ := seedMeter(t, st, "u1")
			key := ChargeKey{PropertyID: p.ID, Year: 2024, Month: 2, ResourceType: Electricity}

			require.NoError(t, st.AccumulateCharge(ctx, key, decimal.RequireFromString("0.1"), decimal.RequireFromString("0.10")))
			require.NoError(t, st.AccumulateCharge(ctx, key, decimal.RequireFromString("0.2"), decimal.RequireFromString("0.20")))
			for i := 0; i < 7; i++ {
				require.NoError(t, st.AccumulateCharge(ctx, key, decimal.RequireFromString("0.001"), decimal.RequireFromString("0.07")))
			}

			charges, err := st.ListMonthlyCharges(ctx, ChargeFilter{PropertyIDs: []uint{p.ID}})
			require.NoError(t, err)
			require.Len(t, charges, 1)
			assert.Equal(t, "0.307", charges[0].Consumption.String())
			assert.Equal(t, "0.79", charges[0].Amount.String())

			got, err := st.GetMonthlyCharge(ctx, charges[0].ID)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "0.79", got.Amount.String())
		})
	}
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p, m := seedMeter(t, st, "u1")
			key := ChargeKey{PropertyID: p.ID, Year: 2024, Month: 5, ResourceType: Electricity}
			boom := errors.New("boom")

			var r Reading
			err := st.Transaction(ctx, func(tx Storage) error {
				r = Reading{MeterID: m.ID, Value: decimal.NewFromInt(7), ReadingDate: date(2024, 5, 2)}
				require.NoError(t, tx.CreateReading(ctx, &r))
				require.NoError(t, tx.AccumulateCharge(ctx, key, decimal.NewFromInt(1), decimal.NewFromInt(5)))
				return boom
			})
			require.ErrorIs(t, err, boom)

			got, err := st.GetReading(ctx, r.ID)
			require.NoError(t, err)
			assert.Nil(t, got)
			charges, err := st.ListMonthlyCharges(ctx, ChargeFilter{PropertyIDs: []uint{p.ID}})
			require.NoError(t, err)
			assert.Empty(t, charges)

			// The store keeps working after a rollback.
			require.NoError(t, st.Transaction(ctx, func(tx Storage) error {
				return tx.AccumulateCharge(ctx, key, decimal.NewFromInt(1), decimal.NewFromInt(5))
			}))
			charges, err = st.ListMonthlyCharges(ctx, ChargeFilter{PropertyIDs: []uint{p.ID}})
			require.NoError(t, err)
			assert.Len(t, charges, 1)
		})
	}
}

func TestAccumulateCharge_ConcurrentWritersDoNotLoseUpdates(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p, _ := seedMeter(t, st, "u1")
			key := ChargeKey{PropertyID: p.ID, Year: 2024, Month: 1, ResourceType: Gas}

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					assert.NoError(t, st.AccumulateCharge(ctx, key, decimal.NewFromInt(1), decimal.NewFromInt(2)))
				}()
			}
			wg.Wait()

			charges, err := st.ListMonthlyCharges(ctx, ChargeFilter{PropertyIDs: []uint{p.ID}})
			require.NoError(t, err)
			require.Len(t, charges, 1)
			assert.True(t, charges[0].Consumption.Equal(decimal.NewFromInt(20)))
			assert.True(t, charges[0].Amount.Equal(decimal.NewFromInt(40)))
		})
	}
}

func TestPreviousReading_PrefersLatestDateThenLatestCreated(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, m := seedMeter(t, st, "u1")
			base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

			older := Reading{MeterID: m.ID, Value: decimal.NewFromInt(10), ReadingDate: date(2024, 2, 1), CreatedAt: base}
			first := Reading{MeterID: m.ID, Value: decimal.NewFromInt(20), ReadingDate: date(2024, 2, 15), CreatedAt: base}
			second := Reading{MeterID: m.ID, Value: decimal.NewFromInt(25), ReadingDate: date(2024, 2, 15), CreatedAt: base.Add(time.Hour)}
			later := Reading{MeterID: m.ID, Value: decimal.NewFromInt(30), ReadingDate: date(2024, 3, 1), CreatedAt: base}
			for _, r := range []*Reading{&older, &first, &second, &later} {
				require.NoError(t, st.CreateReading(ctx, r))
			}

			prev, err := st.PreviousReading(ctx, m.ID, date(2024, 3, 1))
			require.NoError(t, err)
			require.NotNil(t, prev)
			assert.Equal(t, second.ID, prev.ID)

			none, err := st.PreviousReading(ctx, m.ID, date(2024, 2, 1))
			require.NoError(t, err)
			assert.Nil(t, none)
		})
	}
}

func TestListProperties_FiltersByOwnerAndIDs(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			mine, _ := seedMeter(t, st, "alice")
			seedMeter(t, st, "bob")

			list, err := st.ListProperties(ctx, PropertyFilter{OwnerID: "alice"})
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, mine.ID, list[0].ID)

			none, err := st.ListProperties(ctx, PropertyFilter{OwnerID: "alice", IDs: []uint{}})
			require.NoError(t, err)
			assert.Empty(t, none)

			meters, err := st.ListMeters(ctx, MeterFilter{PropertyIDs: []uint{}})
			require.NoError(t, err)
			assert.Empty(t, meters)
		})
	}
}

func TestUpsertTariff_UpdatesByResourceAndValidFrom(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tr := Tariff{ResourceType: Gas, ValuePerUnit: decimal.RequireFromString("5.95"), ValidFrom: date(2023, 1, 1)}
			require.NoError(t, st.UpsertTariff(ctx, &tr))

			end := date(2023, 8, 31)
			again := Tariff{ResourceType: Gas, ValuePerUnit: decimal.RequireFromString("6.10"), ValidFrom: date(2023, 1, 1), ValidTo: &end}
			require.NoError(t, st.UpsertTariff(ctx, &again))
			assert.Equal(t, tr.ID, again.ID)

			list, err := st.ListTariffs(ctx, TariffFilter{ResourceType: Gas})
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.True(t, list[0].ValuePerUnit.Equal(decimal.RequireFromString("6.10")))
			require.NotNil(t, list[0].ValidTo)
		})
	}
}

func TestListMonthlyCharges_PeriodRange(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p, _ := seedMeter(t, st, "u1")
			for _, per := range []Period{{2023, 12}, {2024, 1}, {2024, 6}, {2025, 1}} {
				key := ChargeKey{PropertyID: p.ID, Year: per.Year, Month: per.Month, ResourceType: Electricity}
				require.NoError(t, st.AccumulateCharge(ctx, key, decimal.NewFromInt(1), decimal.NewFromInt(1)))
			}

			got, err := st.ListMonthlyCharges(ctx, ChargeFilter{
				PropertyIDs: []uint{p.ID},
				From:        &Period{2024, 1},
				To:          &Period{2024, 12},
			})
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, 1, got[0].Month)
			assert.Equal(t, 6, got[1].Month)
		})
	}
}

func TestDeleteProperty_Cascades(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p, m := seedMeter(t, st, "u1")
			require.NoError(t, st.CreateReading(ctx, &Reading{MeterID: m.ID, Value: decimal.NewFromInt(1), ReadingDate: date(2024, 1, 1)}))
			require.NoError(t, st.CreatePayment(ctx, &Payment{PropertyID: p.ID, Year: 2024, Month: 1, Amount: decimal.NewFromInt(5), PaidAt: date(2024, 1, 10)}))
			require.NoError(t, st.AccumulateCharge(ctx, ChargeKey{p.ID, 2024, 1, Electricity}, decimal.NewFromInt(1), decimal.NewFromInt(1)))

			require.NoError(t, st.DeleteProperty(ctx, p.ID))

			got, err := st.GetMeter(ctx, m.ID)
			require.NoError(t, err)
			assert.Nil(t, got)
			readings, err := st.ListReadings(ctx, ReadingFilter{MeterID: m.ID})
			require.NoError(t, err)
			assert.Empty(t, readings)
			charges, err := st.ListMonthlyCharges(ctx, ChargeFilter{PropertyIDs: []uint{p.ID}})
			require.NoError(t, err)
			assert.Empty(t, charges)
			payments, err := st.ListPayments(ctx, PaymentFilter{PropertyIDs: []uint{p.ID}})
			require.NoError(t, err)
			assert.Empty(t, payments)
		})
	}
}

func TestMemoryCreateUser_RejectsDuplicateUsername(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateUser(ctx, User{ID: "1", Username: "alice"}))
	err := m.CreateUser(ctx, User{ID: "2", Username: "alice"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestMemoryTransaction_NestedRunsInline(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	err := m.Transaction(ctx, func(tx Storage) error {
		return tx.Transaction(ctx, func(inner Storage) error {
			return inner.CreateProperty(ctx, &Property{OwnerID: "u", Name: "n"})
		})
	})
	require.NoError(t, err)
	list, err := m.ListProperties(ctx, PropertyFilter{OwnerID: "u"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

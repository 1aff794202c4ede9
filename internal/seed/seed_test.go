package seed

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/bher20/meterbill/internal/auth"
	"github.com/bher20/meterbill/internal/billing"
	"github.com/bher20/meterbill/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var fixedNow = time.Date(2025, 5, 17, 9, 30, 0, 0, time.UTC)

func TestMonthEnd(t *testing.T) {
	assert.Equal(t, time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC), MonthEnd(fixedNow, 1))
	assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), MonthEnd(fixedNow, 3))
	assert.Equal(t, time.Date(2024, 9, 30, 0, 0, 0, 0, time.UTC), MonthEnd(fixedNow, 8))
}

func TestEnsureDemo(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	svc := billing.NewService(st)
	svc.SetClock(func() time.Time { return fixedNow })
	p := NewProvisioner(st, svc, "test")
	p.now = func() time.Time { return fixedNow }

	other := &storage.User{ID: "u-other", Username: "alice"}
	created, err := p.EnsureDemo(ctx, other)
	require.NoError(t, err)
	assert.False(t, created)

	demo := &storage.User{ID: "u-demo", Username: "test"}
	created, err = p.EnsureDemo(ctx, demo)
	require.NoError(t, err)
	assert.True(t, created)

	props, err := st.ListProperties(ctx, storage.PropertyFilter{OwnerID: demo.ID})
	require.NoError(t, err)
	require.Len(t, props, 3)
	ids := []uint{props[0].ID, props[1].ID, props[2].ID}

	meters, err := st.ListMeters(ctx, storage.MeterFilter{PropertyIDs: ids})
	require.NoError(t, err)
	assert.Len(t, meters, 9)

	readings, err := st.ListReadings(ctx, storage.ReadingFilter{PropertyIDs: ids})
	require.NoError(t, err)
	assert.Len(t, readings, 72)

	tariffs, err := st.ListTariffs(ctx, storage.TariffFilter{})
	require.NoError(t, err)
	assert.Len(t, tariffs, 10)

	// The first electricity meter: 8 readings, the first is a baseline.
	first := props[0].ID
	charges, err := st.ListMonthlyCharges(ctx, storage.ChargeFilter{PropertyIDs: []uint{first}, ResourceType: storage.Electricity})
	require.NoError(t, err)
	require.Len(t, charges, 7)
	// 2025-04-30 reading: delta 165.4 at the open window rate 7.10.
	last := charges[len(charges)-1]
	assert.Equal(t, 2025, last.Year)
	assert.Equal(t, 4, last.Month)
	assert.True(t, last.Consumption.Equal(dec("165.4")), last.Consumption.String())
	assert.True(t, last.Amount.Equal(dec("1174.34")), last.Amount.String())

	// Running again is a no-op.
	created, err = p.EnsureDemo(ctx, demo)
	require.NoError(t, err)
	assert.False(t, created)
	readings, err = st.ListReadings(ctx, storage.ReadingFilter{PropertyIDs: ids})
	require.NoError(t, err)
	assert.Len(t, readings, 72)
}

func TestSamplerSeed(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	authSvc, err := auth.NewService(st, auth.Options{AccessTTL: time.Hour})
	require.NoError(t, err)
	svc := billing.NewService(st)
	s := NewSampler(st, authSvc, svc, rand.New(rand.NewSource(42)))
	s.now = func() time.Time { return fixedNow }

	res, err := s.Seed(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Properties)
	// History depths: 18, 12, 12 (min), 15, 12, 12 (min), times meters per property.
	assert.Equal(t, 18*3+12*3+12*3+15*4+12*3+12*2, res.Readings)
	assert.Greater(t, res.Payments, 0)

	_, err = authSvc.Authenticate(ctx, SampleUsername, SamplePassword)
	require.NoError(t, err)

	meters, err := st.ListMeters(ctx, storage.MeterFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, meters)
	assert.Regexp(t, `^ELX-\d{2}-01$`, meters[0].SerialNumber)

	payments, err := st.ListPayments(ctx, storage.PaymentFilter{})
	require.NoError(t, err)
	for _, p := range payments {
		assert.Equal(t, 10, p.PaidAt.Day())
		assert.Equal(t, paymentComment, p.Comment)
	}

	// A second run keeps existing history and only resets the password.
	again, err := s.Seed(ctx, 12)
	require.NoError(t, err)
	assert.Zero(t, again.Readings)
	assert.Zero(t, again.Payments)
	assert.Equal(t, res.User.ID, again.User.ID)
}

func TestSeasonalMultiplier(t *testing.T) {
	assert.True(t, seasonalMultiplier(storage.Heating, time.January).Equal(dec("1.55")))
	assert.True(t, seasonalMultiplier(storage.Gas, time.July).Equal(dec("0.65")))
	assert.True(t, seasonalMultiplier(storage.Electricity, time.April).Equal(dec("0.92")))
	assert.True(t, seasonalMultiplier(storage.HotWater, time.August).Equal(dec("1.35")))
	assert.True(t, seasonalMultiplier(storage.ColdWater, time.December).Equal(dec("0.85")))
}

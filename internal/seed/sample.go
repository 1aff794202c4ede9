package seed

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/bher20/meterbill/internal/billing"
	"github.com/bher20/meterbill/internal/storage"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	SampleUsername = "test"
	SamplePassword = "test1234"
	sampleEmail    = "test@example.com"
	paymentComment = "auto-generated demo payment"
)

// Accounts creates and updates login users.
type Accounts interface {
	Register(ctx context.Context, username, password, email, role string) (*storage.User, error)
	SetPassword(ctx context.Context, u *storage.User, password string) error
}

type sampleProfile struct {
	name         string
	address      string
	resources    []storage.ResourceType
	usageFactor  string
	extraMonths  int
	installedAgo int
}

var sampleProfiles = []sampleProfile{
	{"Canal eco loft", "120 Bypass Canal", []storage.ResourceType{storage.Electricity, storage.ColdWater, storage.HotWater}, "1.35", 6, 620},
	{"City tower smart flat", "8 Embankment Road, Tower Federation", []storage.ResourceType{storage.Electricity, storage.ColdWater, storage.Heating}, "1.15", 0, 480},
	{"Lakeside geo dome", "Kharamgol Cape", []storage.ResourceType{storage.Electricity, storage.ColdWater, storage.Gas}, "0.85", -6, 540},
	{"Sunny Valley farm", "7 Valley Lane", []storage.ResourceType{storage.Electricity, storage.ColdWater, storage.HotWater, storage.Gas}, "1.65", 3, 780},
	{"North VR coworking", "14 Leningrad Street", []storage.ResourceType{storage.Electricity, storage.HotWater, storage.Heating}, "1.05", 0, 410},
	{"Highway cold storage", "Highway M-4, km 102", []storage.ResourceType{storage.Electricity, storage.ColdWater}, "1.5", -3, 690},
}

var sampleTariffs = []tariffWindow{
	{
		From: dayRef{YearsBack: 3, Month: 1, Day: 1},
		To:   &dayRef{YearsBack: 2, Month: 12, Day: 31},
		Rates: map[string]string{
			"electricity": "5.40", "cold_water": "38.90", "hot_water": "188.10", "gas": "6.10", "heating": "1600.00",
		},
	},
	{
		From: dayRef{YearsBack: 1, Month: 9, Day: 1},
		Rates: map[string]string{
			"electricity": "6.95", "cold_water": "44.80", "hot_water": "219.40", "gas": "7.95", "heating": "1895.00",
		},
	},
}

var serialPrefix = map[storage.ResourceType]string{
	storage.Electricity: "ELX",
	storage.ColdWater:   "CWX",
	storage.HotWater:    "HWX",
	storage.Gas:         "GSX",
	storage.Heating:     "HTX",
}

var baseUsage = map[storage.ResourceType]decimal.Decimal{
	storage.Electricity: decimal.NewFromInt(95),
	storage.ColdWater:   decimal.RequireFromString("7.5"),
	storage.HotWater:    decimal.RequireFromString("5.1"),
	storage.Gas:         decimal.NewFromInt(62),
	storage.Heating:     decimal.RequireFromString("1.3"),
}

// Sampler generates a multi-year dataset for the sample user.
type Sampler struct {
	st       storage.Storage
	accounts Accounts
	billing  *billing.Service
	rng      *rand.Rand
	now      func() time.Time
}

func NewSampler(st storage.Storage, accounts Accounts, svc *billing.Service, rng *rand.Rand) *Sampler {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Sampler{st: st, accounts: accounts, billing: svc, rng: rng, now: time.Now}
}

// SampleResult summarizes a Seed run.
type SampleResult struct {
	User       *storage.User
	Properties int
	Readings   int
	Payments   int
}

// Seed creates or resets the sample user and fills missing history. It is
// safe to run repeatedly: existing properties, meters with readings and paid
// months are left alone.
func (s *Sampler) Seed(ctx context.Context, months int) (*SampleResult, error) {
	u, err := s.ensureUser(ctx)
	if err != nil {
		return nil, err
	}
	res := &SampleResult{User: u}
	today := billing.Day(s.now())

	if err := upsertTariffs(ctx, s.st, sampleTariffs, today); err != nil {
		return nil, err
	}

	existing, err := s.st.ListProperties(ctx, storage.PropertyFilter{OwnerID: u.ID})
	if err != nil {
		return nil, err
	}
	byName := map[string]storage.Property{}
	for _, p := range existing {
		byName[p.Name] = p
	}

	for _, prof := range sampleProfiles {
		prop, ok := byName[prof.name]
		if !ok {
			prop = storage.Property{OwnerID: u.ID, Name: prof.name, Address: prof.address}
			if err := s.st.CreateProperty(ctx, &prop); err != nil {
				return nil, fmt.Errorf("create property %q: %w", prof.name, err)
			}
		} else if prop.Address != prof.address {
			prop.Address = prof.address
			if err := s.st.UpdateProperty(ctx, &prop); err != nil {
				return nil, err
			}
		}
		res.Properties++

		factor := decimal.RequireFromString(prof.usageFactor)
		history := months + prof.extraMonths
		if history < 12 {
			history = 12
		}

		meters, err := s.st.ListMeters(ctx, storage.MeterFilter{PropertyIDs: []uint{prop.ID}})
		if err != nil {
			return nil, err
		}
		for idx, rt := range prof.resources {
			m, err := s.ensureMeter(ctx, prop, meters, rt, idx+1, prof.installedAgo, today)
			if err != nil {
				return nil, err
			}
			readings, err := s.st.ListReadings(ctx, storage.ReadingFilter{MeterID: m.ID})
			if err != nil {
				return nil, err
			}
			if len(readings) > 0 {
				continue
			}
			n, err := s.seedReadings(ctx, m, history, factor, today)
			if err != nil {
				return nil, err
			}
			res.Readings += n
		}

		n, err := s.ensurePayments(ctx, prop)
		if err != nil {
			return nil, err
		}
		res.Payments += n
	}

	log.Info().
		Str("username", u.Username).
		Int("properties", res.Properties).
		Int("readings", res.Readings).
		Int("payments", res.Payments).
		Msg("sample data seeded")
	return res, nil
}

func (s *Sampler) ensureUser(ctx context.Context) (*storage.User, error) {
	u, err := s.st.GetUserByUsername(ctx, SampleUsername)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return s.accounts.Register(ctx, SampleUsername, SamplePassword, sampleEmail, "")
	}
	if err := s.accounts.SetPassword(ctx, u, SamplePassword); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Sampler) ensureMeter(ctx context.Context, prop storage.Property, meters []storage.Meter, rt storage.ResourceType, idx, installedAgo int, today time.Time) (storage.Meter, error) {
	for _, m := range meters {
		if m.ResourceType == rt {
			return m, nil
		}
	}
	installed := today.AddDate(0, 0, -(installedAgo + idx*11))
	m := storage.Meter{
		PropertyID:   prop.ID,
		ResourceType: rt,
		Unit:         rt.DefaultUnit(),
		SerialNumber: fmt.Sprintf("%s-%02d-%02d", serialPrefix[rt], prop.ID, idx),
		InstalledAt:  &installed,
		IsActive:     true,
	}
	if err := s.st.CreateMeter(ctx, &m); err != nil {
		return m, fmt.Errorf("create meter: %w", err)
	}
	return m, nil
}

// seedReadings writes one month-end reading per month, starting months back.
func (s *Sampler) seedReadings(ctx context.Context, m storage.Meter, months int, factor decimal.Decimal, today time.Time) (int, error) {
	start := decimal.NewFromFloat(18 + s.rng.Float64()*(140-18))
	value := start.Mul(factor).Round(3)

	for i := 0; i < months; i++ {
		end := MonthEnd(today, months-i)
		value = value.Add(s.monthlyUsage(m.ResourceType, end.Month(), factor))
		r := storage.Reading{MeterID: m.ID, Value: value.Round(3), ReadingDate: end}
		if _, err := s.billing.CreateReading(ctx, &r); err != nil {
			return i, fmt.Errorf("sample reading: %w", err)
		}
	}
	return months, nil
}

func (s *Sampler) monthlyUsage(rt storage.ResourceType, month time.Month, factor decimal.Decimal) decimal.Decimal {
	jitter := decimal.NewFromFloat(-0.25 + s.rng.Float64()*0.55)
	return baseUsage[rt].
		Mul(seasonalMultiplier(rt, month)).
		Mul(decimal.NewFromInt(1).Add(jitter)).
		Mul(factor)
}

func seasonalMultiplier(rt storage.ResourceType, month time.Month) decimal.Decimal {
	winter := month == time.December || month == time.January || month == time.February
	summer := month == time.June || month == time.July || month == time.August
	pick := func(w, s, other string) decimal.Decimal {
		switch {
		case winter:
			return decimal.RequireFromString(w)
		case summer:
			return decimal.RequireFromString(s)
		}
		return decimal.RequireFromString(other)
	}
	switch rt {
	case storage.Gas, storage.Heating:
		return pick("1.55", "0.65", "1.05")
	case storage.Electricity:
		return pick("1.22", "1.1", "0.92")
	case storage.ColdWater, storage.HotWater:
		return pick("0.85", "1.35", "1")
	}
	return decimal.NewFromInt(1)
}

// ensurePayments pays 95% of every charged month that has no payment yet.
func (s *Sampler) ensurePayments(ctx context.Context, prop storage.Property) (int, error) {
	charges, err := s.st.ListMonthlyCharges(ctx, storage.ChargeFilter{PropertyIDs: []uint{prop.ID}})
	if err != nil {
		return 0, err
	}
	payments, err := s.st.ListPayments(ctx, storage.PaymentFilter{PropertyIDs: []uint{prop.ID}})
	if err != nil {
		return 0, err
	}
	paid := map[storage.Period]bool{}
	for _, p := range payments {
		paid[storage.Period{Year: p.Year, Month: p.Month}] = true
	}

	totals := map[storage.Period]decimal.Decimal{}
	for _, c := range charges {
		k := storage.Period{Year: c.Year, Month: c.Month}
		totals[k] = totals[k].Add(c.Amount)
	}
	periods := make([]storage.Period, 0, len(totals))
	for k := range totals {
		periods = append(periods, k)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Index() < periods[j].Index() })

	share := decimal.RequireFromString("0.95")
	created := 0
	for _, k := range periods {
		if paid[k] {
			continue
		}
		p := storage.Payment{
			PropertyID: prop.ID,
			Year:       k.Year,
			Month:      k.Month,
			Amount:     totals[k].Mul(share).Round(2),
			PaidAt:     time.Date(k.Year, time.Month(k.Month), 10, 0, 0, 0, 0, time.UTC),
			Comment:    paymentComment,
		}
		if err := s.st.CreatePayment(ctx, &p); err != nil {
			return created, fmt.Errorf("create payment: %w", err)
		}
		created++
	}
	return created, nil
}

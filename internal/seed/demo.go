// Package seed provisions demo and sample datasets.
package seed

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/bher20/meterbill/internal/billing"
	"github.com/bher20/meterbill/internal/storage"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed demo.yaml
var demoYAML []byte

type dayRef struct {
	YearsBack int `yaml:"years_back"`
	Month     int `yaml:"month"`
	Day       int `yaml:"day"`
}

func (d dayRef) on(today time.Time) time.Time {
	return time.Date(today.Year()-d.YearsBack, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
}

type tariffWindow struct {
	From  dayRef            `yaml:"from"`
	To    *dayRef           `yaml:"to"`
	Rates map[string]string `yaml:"rates"`
}

type demoMeter struct {
	Resource string   `yaml:"resource"`
	Serial   string   `yaml:"serial"`
	Unit     string   `yaml:"unit"`
	Start    string   `yaml:"start"`
	Plan     []string `yaml:"plan"`
}

type demoProperty struct {
	Name    string      `yaml:"name"`
	Address string      `yaml:"address"`
	Meters  []demoMeter `yaml:"meters"`
}

type demoDataset struct {
	TariffWindows []tariffWindow `yaml:"tariff_windows"`
	MeterAgeDays  int            `yaml:"meter_age_days"`
	Properties    []demoProperty `yaml:"properties"`
}

func loadDemo() (*demoDataset, error) {
	var ds demoDataset
	if err := yaml.Unmarshal(demoYAML, &ds); err != nil {
		return nil, fmt.Errorf("parse demo dataset: %w", err)
	}
	return &ds, nil
}

// Provisioner fills an empty demo account with properties, meters, readings
// and tariffs so that a first login shows populated dashboards.
type Provisioner struct {
	st       storage.Storage
	billing  *billing.Service
	username string
	now      func() time.Time

	mu sync.Mutex
}

func NewProvisioner(st storage.Storage, svc *billing.Service, demoUsername string) *Provisioner {
	return &Provisioner{st: st, billing: svc, username: demoUsername, now: time.Now}
}

// EnsureDemo provisions the dataset when u is the demo user and owns no
// properties yet. It reports whether anything was created.
func (p *Provisioner) EnsureDemo(ctx context.Context, u *storage.User) (bool, error) {
	if p == nil || p.username == "" || u == nil || u.Username != p.username {
		return false, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	owned, err := p.st.ListProperties(ctx, storage.PropertyFilter{OwnerID: u.ID})
	if err != nil {
		return false, err
	}
	if len(owned) > 0 {
		return false, nil
	}

	ds, err := loadDemo()
	if err != nil {
		return false, err
	}
	today := billing.Day(p.now())

	if err := upsertTariffs(ctx, p.st, ds.TariffWindows, today); err != nil {
		return false, err
	}

	installed := today.AddDate(0, 0, -ds.MeterAgeDays)
	for _, dp := range ds.Properties {
		prop := storage.Property{OwnerID: u.ID, Name: dp.Name, Address: dp.Address}
		if err := p.st.CreateProperty(ctx, &prop); err != nil {
			return false, fmt.Errorf("create property %q: %w", dp.Name, err)
		}
		for _, dm := range dp.Meters {
			rt := storage.ResourceType(dm.Resource)
			if !rt.Valid() {
				return false, fmt.Errorf("demo meter %s: %w", dm.Serial, billing.ErrInvalidResource)
			}
			installedAt := installed
			m := storage.Meter{
				PropertyID:   prop.ID,
				ResourceType: rt,
				Unit:         dm.Unit,
				SerialNumber: dm.Serial,
				InstalledAt:  &installedAt,
				IsActive:     true,
			}
			if err := p.st.CreateMeter(ctx, &m); err != nil {
				return false, fmt.Errorf("create meter %s: %w", dm.Serial, err)
			}
			if err := p.emitHistory(ctx, m, dm, today); err != nil {
				return false, err
			}
		}
	}

	log.Info().Str("username", u.Username).Int("properties", len(ds.Properties)).Msg("demo data provisioned")
	return true, nil
}

// emitHistory writes one reading per planned delta, dated at the month ends
// leading up to the current month.
func (p *Provisioner) emitHistory(ctx context.Context, m storage.Meter, dm demoMeter, today time.Time) error {
	value, err := decimal.NewFromString(dm.Start)
	if err != nil {
		return fmt.Errorf("demo meter %s start: %w", dm.Serial, err)
	}
	periods := len(dm.Plan)
	for idx, raw := range dm.Plan {
		delta, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("demo meter %s plan: %w", dm.Serial, err)
		}
		value = value.Add(delta)
		r := storage.Reading{
			MeterID:     m.ID,
			Value:       value.Round(3),
			ReadingDate: MonthEnd(today, periods-idx),
		}
		if _, err := p.billing.CreateReading(ctx, &r); err != nil {
			return fmt.Errorf("demo reading for %s: %w", dm.Serial, err)
		}
	}
	return nil
}

func upsertTariffs(ctx context.Context, st storage.Storage, windows []tariffWindow, today time.Time) error {
	for _, w := range windows {
		from := w.From.on(today)
		var to *time.Time
		if w.To != nil {
			t := w.To.on(today)
			to = &t
		}
		for _, rt := range storage.ResourceTypes {
			raw, ok := w.Rates[string(rt)]
			if !ok {
				continue
			}
			rate, err := decimal.NewFromString(raw)
			if err != nil {
				return fmt.Errorf("tariff %s: %w", rt, err)
			}
			t := storage.Tariff{ResourceType: rt, ValuePerUnit: rate, ValidFrom: from, ValidTo: to}
			if err := st.UpsertTariff(ctx, &t); err != nil {
				return fmt.Errorf("upsert tariff %s: %w", rt, err)
			}
		}
	}
	return nil
}

// MonthEnd returns the last day of the month monthsBack months before today's month.
func MonthEnd(today time.Time, monthsBack int) time.Time {
	first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, -monthsBack+1, -1)
}

package billing

import (
	"context"
	"fmt"

	"github.com/bher20/meterbill/internal/metrics"
	"github.com/bher20/meterbill/internal/storage"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Outcome describes what applying a reading did to the monthly charges.
type Outcome string

const (
	OutcomeBaseline      Outcome = "baseline"
	OutcomeNoTariff      Outcome = "no_tariff"
	OutcomeNoConsumption Outcome = "no_consumption"
	OutcomeCharged       Outcome = "charged"
)

type application struct {
	outcome  Outcome
	resource storage.ResourceType
	amount   decimal.Decimal
}

// ApplyReading charges the consumption between r and the previous reading of
// its meter to the month of r. The reading must already be stored. Applying
// the same reading twice counts its delta twice.
func (s *Service) ApplyReading(ctx context.Context, r storage.Reading) (Outcome, error) {
	res, err := applyReading(ctx, s.st, r)
	if err != nil {
		return "", err
	}
	res.record()
	return res.outcome, nil
}

// CreateReading stores r and applies it in one transaction.
func (s *Service) CreateReading(ctx context.Context, r *storage.Reading) (Outcome, error) {
	r.ReadingDate = Day(r.ReadingDate)
	var res application
	err := s.st.Transaction(ctx, func(tx storage.Storage) error {
		if err := tx.CreateReading(ctx, r); err != nil {
			return fmt.Errorf("create reading: %w", err)
		}
		var err error
		res, err = applyReading(ctx, tx, *r)
		return err
	})
	if err != nil {
		return "", err
	}
	res.record()
	log.Debug().
		Uint("reading_id", r.ID).
		Uint("meter_id", r.MeterID).
		Str("outcome", string(res.outcome)).
		Str("amount", res.amount.StringFixed(2)).
		Msg("reading processed")
	return res.outcome, nil
}

func applyReading(ctx context.Context, st storage.Storage, r storage.Reading) (application, error) {
	m, err := st.GetMeter(ctx, r.MeterID)
	if err != nil {
		return application{}, fmt.Errorf("get meter %d: %w", r.MeterID, err)
	}
	if m == nil {
		return application{}, fmt.Errorf("meter %d: %w", r.MeterID, ErrNotFound)
	}
	res := application{resource: m.ResourceType}

	day := Day(r.ReadingDate)
	prev, err := st.PreviousReading(ctx, r.MeterID, day)
	if err != nil {
		return res, fmt.Errorf("previous reading: %w", err)
	}
	if prev == nil {
		res.outcome = OutcomeBaseline
		return res, nil
	}
	delta := r.Value.Sub(prev.Value)
	if delta.IsNegative() {
		delta = decimal.Zero
	}

	tariff, err := resolveTariff(ctx, st, m.ResourceType, day)
	if err != nil {
		return res, err
	}
	if tariff == nil {
		res.outcome = OutcomeNoTariff
		return res, nil
	}
	if !delta.IsPositive() {
		res.outcome = OutcomeNoConsumption
		return res, nil
	}

	res.amount = delta.Mul(tariff.ValuePerUnit).RoundBank(2)
	key := storage.ChargeKey{
		PropertyID:   m.PropertyID,
		Year:         day.Year(),
		Month:        int(day.Month()),
		ResourceType: m.ResourceType,
	}
	if err := st.AccumulateCharge(ctx, key, delta, res.amount); err != nil {
		return res, fmt.Errorf("accumulate charge: %w", err)
	}
	res.outcome = OutcomeCharged
	return res, nil
}

func (a application) record() {
	metrics.ReadingsProcessedTotal.WithLabelValues(string(a.outcome)).Inc()
	if a.outcome == OutcomeCharged {
		metrics.ChargedAmountTotal.WithLabelValues(string(a.resource)).Add(a.amount.InexactFloat64())
	}
}

// ReadingDetail carries the display fields derived for a reading.
type ReadingDetail struct {
	Meter         storage.Meter
	ResourceLabel string
	Unit          string
	// ConsumptionDelta is nil without a previous reading or when the dial did not advance.
	ConsumptionDelta *decimal.Decimal
	// AmountValue is nil when there is no delta or no tariff.
	AmountValue *decimal.Decimal
}

// DescribeReading computes the derived fields shown next to a reading.
// It never changes stored charges.
func (s *Service) DescribeReading(ctx context.Context, r storage.Reading) (*ReadingDetail, error) {
	m, err := s.st.GetMeter(ctx, r.MeterID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("meter %d: %w", r.MeterID, ErrNotFound)
	}
	d := &ReadingDetail{Meter: *m, ResourceLabel: m.ResourceType.Label(), Unit: m.Unit}

	prev, err := s.st.PreviousReading(ctx, r.MeterID, Day(r.ReadingDate))
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return d, nil
	}
	delta := r.Value.Sub(prev.Value)
	if !delta.IsPositive() {
		return d, nil
	}
	d.ConsumptionDelta = &delta

	tariff, err := s.ResolveTariff(ctx, m.ResourceType, r.ReadingDate)
	if err != nil || tariff == nil {
		return d, err
	}
	amount := delta.Mul(tariff.ValuePerUnit)
	d.AmountValue = &amount
	return d, nil
}

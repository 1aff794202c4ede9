package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Properties

func (s *GormStorage) ListProperties(ctx context.Context, f PropertyFilter) ([]Property, error) {
	if matchesNone(f.IDs) {
		return nil, nil
	}
	q := s.db.WithContext(ctx).Order("id")
	if f.OwnerID != "" {
		q = q.Where("owner_id = ?", f.OwnerID)
	}
	if len(f.IDs) > 0 {
		q = q.Where("id IN ?", f.IDs)
	}
	var out []Property
	return out, q.Find(&out).Error
}

func (s *GormStorage) GetProperty(ctx context.Context, id uint) (*Property, error) {
	return first[Property](s.db.WithContext(ctx), "id = ?", id)
}

func (s *GormStorage) CreateProperty(ctx context.Context, p *Property) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *GormStorage) UpdateProperty(ctx context.Context, p *Property) error {
	return s.db.WithContext(ctx).Save(p).Error
}

// DeleteProperty removes the property with its meters, readings, charges and payments.
func (s *GormStorage) DeleteProperty(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		meterIDs := tx.Model(&Meter{}).Select("id").Where("property_id = ?", id)
		if err := tx.Where("meter_id IN (?)", meterIDs).Delete(&Reading{}).Error; err != nil {
			return err
		}
		if err := tx.Where("property_id = ?", id).Delete(&Meter{}).Error; err != nil {
			return err
		}
		if err := tx.Where("property_id = ?", id).Delete(&MonthlyCharge{}).Error; err != nil {
			return err
		}
		if err := tx.Where("property_id = ?", id).Delete(&Payment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Property{}, id).Error
	})
}

// Meters

func (s *GormStorage) ListMeters(ctx context.Context, f MeterFilter) ([]Meter, error) {
	if matchesNone(f.PropertyIDs) {
		return nil, nil
	}
	q := s.db.WithContext(ctx).Order("id")
	if len(f.PropertyIDs) > 0 {
		q = q.Where("property_id IN ?", f.PropertyIDs)
	}
	if f.ResourceType != "" {
		q = q.Where("resource_type = ?", f.ResourceType)
	}
	var out []Meter
	return out, q.Find(&out).Error
}

func (s *GormStorage) GetMeter(ctx context.Context, id uint) (*Meter, error) {
	return first[Meter](s.db.WithContext(ctx), "id = ?", id)
}

func (s *GormStorage) CreateMeter(ctx context.Context, m *Meter) error {
	return s.db.WithContext(ctx).Create(m).Error
}

func (s *GormStorage) UpdateMeter(ctx context.Context, m *Meter) error {
	return s.db.WithContext(ctx).Save(m).Error
}

func (s *GormStorage) DeleteMeter(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("meter_id = ?", id).Delete(&Reading{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Meter{}, id).Error
	})
}

// Readings

func (s *GormStorage) ListReadings(ctx context.Context, f ReadingFilter) ([]Reading, error) {
	if matchesNone(f.PropertyIDs) {
		return nil, nil
	}
	q := s.db.WithContext(ctx).Order("reading_date desc, created_at desc, id desc")
	if len(f.PropertyIDs) > 0 {
		q = q.Where("meter_id IN (?)", s.db.Model(&Meter{}).Select("id").Where("property_id IN ?", f.PropertyIDs))
	}
	if f.MeterID != 0 {
		q = q.Where("meter_id = ?", f.MeterID)
	}
	var out []Reading
	return out, q.Find(&out).Error
}

func (s *GormStorage) GetReading(ctx context.Context, id uint) (*Reading, error) {
	return first[Reading](s.db.WithContext(ctx), "id = ?", id)
}

func (s *GormStorage) CreateReading(ctx context.Context, r *Reading) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(r).Error
}

func (s *GormStorage) UpdateReading(ctx context.Context, r *Reading) error {
	return s.db.WithContext(ctx).Save(r).Error
}

func (s *GormStorage) DeleteReading(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&Reading{}, id).Error
}

func (s *GormStorage) PreviousReading(ctx context.Context, meterID uint, before time.Time) (*Reading, error) {
	q := s.db.WithContext(ctx).
		Where("meter_id = ? AND reading_date < ?", meterID, before).
		Order("reading_date desc, created_at desc, id desc")
	return first[Reading](q)
}

// Tariffs

func (s *GormStorage) ListTariffs(ctx context.Context, f TariffFilter) ([]Tariff, error) {
	q := s.db.WithContext(ctx).Order("valid_from desc, id desc")
	if f.ResourceType != "" {
		q = q.Where("resource_type = ?", f.ResourceType)
	}
	var out []Tariff
	return out, q.Find(&out).Error
}

func (s *GormStorage) GetTariff(ctx context.Context, id uint) (*Tariff, error) {
	return first[Tariff](s.db.WithContext(ctx), "id = ?", id)
}

func (s *GormStorage) CreateTariff(ctx context.Context, t *Tariff) error {
	return s.db.WithContext(ctx).Create(t).Error
}

func (s *GormStorage) UpdateTariff(ctx context.Context, t *Tariff) error {
	return s.db.WithContext(ctx).Save(t).Error
}

func (s *GormStorage) DeleteTariff(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&Tariff{}, id).Error
}

func (s *GormStorage) UpsertTariff(ctx context.Context, t *Tariff) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if s.driver == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		existing, err := first[Tariff](q, "resource_type = ? AND valid_from = ?", t.ResourceType, t.ValidFrom)
		if err != nil {
			return err
		}
		if existing == nil {
			return tx.Create(t).Error
		}
		t.ID = existing.ID
		return tx.Save(t).Error
	})
}

// Monthly charges

func (s *GormStorage) ListMonthlyCharges(ctx context.Context, f ChargeFilter) ([]MonthlyCharge, error) {
	if matchesNone(f.PropertyIDs) {
		return nil, nil
	}
	q := s.db.WithContext(ctx).Order("year, month, property_id, id")
	if len(f.PropertyIDs) > 0 {
		q = q.Where("property_id IN ?", f.PropertyIDs)
	}
	if f.Year != 0 {
		q = q.Where("year = ?", f.Year)
	}
	if f.Month != 0 {
		q = q.Where("month = ?", f.Month)
	}
	if f.ResourceType != "" {
		q = q.Where("resource_type = ?", f.ResourceType)
	}
	if f.From != nil {
		q = q.Where("year * 12 + month - 1 >= ?", f.From.Index())
	}
	if f.To != nil {
		q = q.Where("year * 12 + month - 1 <= ?", f.To.Index())
	}
	var out []MonthlyCharge
	return out, q.Find(&out).Error
}

func (s *GormStorage) GetMonthlyCharge(ctx context.Context, id uint) (*MonthlyCharge, error) {
	return first[MonthlyCharge](s.db.WithContext(ctx), "id = ?", id)
}

// AccumulateCharge adds consumption and amount to the charge for key,
// creating it on first use. On postgres it is a single INSERT ... ON CONFLICT
// DO UPDATE. SQLite keeps DECIMAL columns as REAL, so there the sum is done
// with decimals inside a transaction instead of in SQL.
func (s *GormStorage) AccumulateCharge(ctx context.Context, key ChargeKey, consumption, amount decimal.Decimal) error {
	charge := MonthlyCharge{
		PropertyID:   key.PropertyID,
		Year:         key.Year,
		Month:        key.Month,
		ResourceType: key.ResourceType,
		Consumption:  consumption,
		Amount:       amount,
		GeneratedAt:  time.Now().UTC(),
	}
	if s.driver == "sqlite" {
		return s.accumulateExact(ctx, charge)
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "property_id"}, {Name: "year"}, {Name: "month"}, {Name: "resource_type"},
		},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"consumption": gorm.Expr("monthly_charges.consumption + ?", consumption),
			"amount":      gorm.Expr("monthly_charges.amount + ?", amount),
		}),
	}).Create(&charge).Error
}

func (s *GormStorage) accumulateExact(ctx context.Context, charge MonthlyCharge) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := first[MonthlyCharge](tx,
			"property_id = ? AND year = ? AND month = ? AND resource_type = ?",
			charge.PropertyID, charge.Year, charge.Month, charge.ResourceType)
		if err != nil {
			return err
		}
		if existing == nil {
			return tx.Create(&charge).Error
		}
		return tx.Model(&MonthlyCharge{}).Where("id = ?", existing.ID).Updates(map[string]interface{}{
			"consumption": existing.Consumption.Add(charge.Consumption).Round(3),
			"amount":      existing.Amount.Add(charge.Amount).Round(2),
		}).Error
	})
}

// Payments

func (s *GormStorage) ListPayments(ctx context.Context, f PaymentFilter) ([]Payment, error) {
	if matchesNone(f.PropertyIDs) {
		return nil, nil
	}
	q := s.db.WithContext(ctx).Order("paid_at desc, created_at desc, id desc")
	if len(f.PropertyIDs) > 0 {
		q = q.Where("property_id IN ?", f.PropertyIDs)
	}
	var out []Payment
	return out, q.Find(&out).Error
}

func (s *GormStorage) GetPayment(ctx context.Context, id uint) (*Payment, error) {
	return first[Payment](s.db.WithContext(ctx), "id = ?", id)
}

func (s *GormStorage) CreatePayment(ctx context.Context, p *Payment) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *GormStorage) UpdatePayment(ctx context.Context, p *Payment) error {
	return s.db.WithContext(ctx).Save(p).Error
}

func (s *GormStorage) DeletePayment(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&Payment{}, id).Error
}

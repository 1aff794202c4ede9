package storage

import "gorm.io/gorm"

// SQLite returns DECIMAL columns as float64, so values read back are rounded
// to their column scale.

func (r *Reading) AfterFind(*gorm.DB) error {
	r.Value = r.Value.Round(3)
	return nil
}

func (t *Tariff) AfterFind(*gorm.DB) error {
	t.ValuePerUnit = t.ValuePerUnit.Round(2)
	return nil
}

func (c *MonthlyCharge) AfterFind(*gorm.DB) error {
	c.Consumption = c.Consumption.Round(3)
	c.Amount = c.Amount.Round(2)
	return nil
}

func (p *Payment) AfterFind(*gorm.DB) error {
	p.Amount = p.Amount.Round(2)
	return nil
}

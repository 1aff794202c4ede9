package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bher20/meterbill/internal/billing"
	"github.com/bher20/meterbill/internal/storage"
	"github.com/shopspring/decimal"
)

type userDTO struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

func toUserDTO(u *storage.User) userDTO {
	return userDTO{ID: u.ID, Username: u.Username, Email: u.Email}
}

type meterDTO struct {
	ID           uint                 `json:"id"`
	Property     uint                 `json:"property"`
	ResourceType storage.ResourceType `json:"resource_type"`
	Unit         string               `json:"unit"`
	SerialNumber string               `json:"serial_number"`
	InstalledAt  *string              `json:"installed_at"`
	IsActive     bool                 `json:"is_active"`
}

func toMeterDTO(m storage.Meter) meterDTO {
	return meterDTO{
		ID:           m.ID,
		Property:     m.PropertyID,
		ResourceType: m.ResourceType,
		Unit:         m.Unit,
		SerialNumber: m.SerialNumber,
		InstalledAt:  formatDatePtr(m.InstalledAt),
		IsActive:     m.IsActive,
	}
}

type readingDTO struct {
	ID               uint      `json:"id"`
	Meter            uint      `json:"meter"`
	Value            string    `json:"value"`
	ReadingDate      string    `json:"reading_date"`
	CreatedAt        time.Time `json:"created_at"`
	MeterDetail      meterDTO  `json:"meter_detail"`
	ResourceLabel    string    `json:"resource_label"`
	Unit             string    `json:"unit"`
	ConsumptionDelta *string   `json:"consumption_delta"`
	AmountValue      *string   `json:"amount_value"`
}

func toReadingDTO(r storage.Reading, d *billing.ReadingDetail) readingDTO {
	out := readingDTO{
		ID:            r.ID,
		Meter:         r.MeterID,
		Value:         r.Value.StringFixed(3),
		ReadingDate:   formatDate(r.ReadingDate),
		CreatedAt:     r.CreatedAt,
		MeterDetail:   toMeterDTO(d.Meter),
		ResourceLabel: d.ResourceLabel,
		Unit:          d.Unit,
	}
	if d.ConsumptionDelta != nil {
		s := d.ConsumptionDelta.StringFixed(3)
		out.ConsumptionDelta = &s
	}
	if d.AmountValue != nil {
		s := d.AmountValue.StringFixed(2)
		out.AmountValue = &s
	}
	return out
}

type tariffDTO struct {
	ID           uint                 `json:"id"`
	ResourceType storage.ResourceType `json:"resource_type"`
	ValuePerUnit string               `json:"value_per_unit"`
	ValidFrom    string               `json:"valid_from"`
	ValidTo      *string              `json:"valid_to"`
}

func toTariffDTO(t storage.Tariff) tariffDTO {
	return tariffDTO{
		ID:           t.ID,
		ResourceType: t.ResourceType,
		ValuePerUnit: t.ValuePerUnit.StringFixed(2),
		ValidFrom:    formatDate(t.ValidFrom),
		ValidTo:      formatDatePtr(t.ValidTo),
	}
}

type chargeDTO struct {
	ID           uint                 `json:"id"`
	Property     uint                 `json:"property"`
	Year         int                  `json:"year"`
	Month        int                  `json:"month"`
	ResourceType storage.ResourceType `json:"resource_type"`
	Consumption  string               `json:"consumption"`
	Amount       string               `json:"amount"`
	GeneratedAt  time.Time            `json:"generated_at"`
}

func toChargeDTO(c storage.MonthlyCharge) chargeDTO {
	return chargeDTO{
		ID:           c.ID,
		Property:     c.PropertyID,
		Year:         c.Year,
		Month:        c.Month,
		ResourceType: c.ResourceType,
		Consumption:  c.Consumption.StringFixed(3),
		Amount:       c.Amount.StringFixed(2),
		GeneratedAt:  c.GeneratedAt,
	}
}

type paymentDTO struct {
	ID        uint      `json:"id"`
	Property  uint      `json:"property"`
	Year      int       `json:"year"`
	Month     int       `json:"month"`
	Amount    string    `json:"amount"`
	PaidAt    string    `json:"paid_at"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

func toPaymentDTO(p storage.Payment) paymentDTO {
	return paymentDTO{
		ID:        p.ID,
		Property:  p.PropertyID,
		Year:      p.Year,
		Month:     p.Month,
		Amount:    p.Amount.StringFixed(2),
		PaidAt:    formatDate(p.PaidAt),
		Comment:   p.Comment,
		CreatedAt: p.CreatedAt,
	}
}

// nullableDate tells an absent date field apart from an explicit null.
type nullableDate struct {
	Set   bool
	Value *string
}

func (d *nullableDate) UnmarshalJSON(b []byte) error {
	d.Set = true
	if string(b) == "null" {
		d.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	d.Value = &s
	return nil
}

// resolve parses the date, returning nil for an explicit null.
func (d nullableDate) resolve(verr *billing.ValidationError, field string) *time.Time {
	if d.Value == nil {
		return nil
	}
	t, err := parseDate(*d.Value)
	if err != nil {
		verr.Add(field, "Date has wrong format. Use YYYY-MM-DD.")
		return nil
	}
	return &t
}

const requiredMsg = "This field is required."

// requireDate parses a mandatory date field.
func requireDate(verr *billing.ValidationError, field string, raw *string) time.Time {
	if raw == nil {
		verr.Add(field, requiredMsg)
		return time.Time{}
	}
	t, err := parseDate(*raw)
	if err != nil {
		verr.Add(field, "Date has wrong format. Use YYYY-MM-DD.")
	}
	return t
}

// checkDecimal validates a non-negative decimal with at most maxDigits digits
// of which places follow the point.
func checkDecimal(verr *billing.ValidationError, field string, d decimal.Decimal, maxDigits, places int32) {
	if d.IsNegative() {
		verr.Add(field, "Ensure this value is greater than or equal to 0.")
		return
	}
	if !d.Round(places).Equal(d) {
		verr.Add(field, fmt.Sprintf("Ensure that there are no more than %d decimal places.", places))
		return
	}
	if len(d.Truncate(0).String()) > int(maxDigits-places) {
		verr.Add(field, fmt.Sprintf("Ensure that there are no more than %d digits before the decimal point.", maxDigits-places))
	}
}

func checkText(verr *billing.ValidationError, field, value string, maxLen int, required bool) {
	if required && strings.TrimSpace(value) == "" {
		verr.Add(field, "This field may not be blank.")
		return
	}
	if len([]rune(value)) > maxLen {
		verr.Add(field, fmt.Sprintf("Ensure this field has no more than %d characters.", maxLen))
	}
}

func checkResource(verr *billing.ValidationError, field string, rt storage.ResourceType) {
	if !rt.Valid() {
		verr.Add(field, fmt.Sprintf("%q is not a valid choice.", string(rt)))
	}
}

func checkMonth(verr *billing.ValidationError, field string, month int) {
	if month < 1 || month > 12 {
		verr.Add(field, "Ensure this value is between 1 and 12.")
	}
}

func failed(verr *billing.ValidationError) error {
	if len(verr.Fields) == 0 {
		return nil
	}
	return verr
}

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrDuplicate is returned when a unique key such as a username is taken.
var ErrDuplicate = errors.New("storage: duplicate key")

// Storage abstracts persistence for accounts, metering and billing data.
//
// Get* methods return (nil, nil) when the row does not exist.
type Storage interface {
	// Users and tokens
	CreateUser(ctx context.Context, u User) error
	UpdateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	CreateToken(ctx context.Context, t Token) error
	GetTokenByHash(ctx context.Context, hash string) (*Token, error)
	UpdateTokenLastUsed(ctx context.Context, id string) error
	DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error)

	// Casbin
	LoadCasbinRules(ctx context.Context) ([]CasbinRule, error)
	AddCasbinRule(ctx context.Context, rule CasbinRule) error
	RemoveCasbinRule(ctx context.Context, rule CasbinRule) error

	// Properties
	ListProperties(ctx context.Context, f PropertyFilter) ([]Property, error)
	GetProperty(ctx context.Context, id uint) (*Property, error)
	CreateProperty(ctx context.Context, p *Property) error
	UpdateProperty(ctx context.Context, p *Property) error
	DeleteProperty(ctx context.Context, id uint) error

	// Meters
	ListMeters(ctx context.Context, f MeterFilter) ([]Meter, error)
	GetMeter(ctx context.Context, id uint) (*Meter, error)
	CreateMeter(ctx context.Context, m *Meter) error
	UpdateMeter(ctx context.Context, m *Meter) error
	DeleteMeter(ctx context.Context, id uint) error

	// Readings
	ListReadings(ctx context.Context, f ReadingFilter) ([]Reading, error)
	GetReading(ctx context.Context, id uint) (*Reading, error)
	CreateReading(ctx context.Context, r *Reading) error
	UpdateReading(ctx context.Context, r *Reading) error
	DeleteReading(ctx context.Context, id uint) error
	// PreviousReading returns the newest reading of the meter dated strictly
	// before the given day, preferring the latest created on equal dates.
	PreviousReading(ctx context.Context, meterID uint, before time.Time) (*Reading, error)

	// Tariffs
	ListTariffs(ctx context.Context, f TariffFilter) ([]Tariff, error)
	GetTariff(ctx context.Context, id uint) (*Tariff, error)
	CreateTariff(ctx context.Context, t *Tariff) error
	UpdateTariff(ctx context.Context, t *Tariff) error
	DeleteTariff(ctx context.Context, id uint) error
	// UpsertTariff inserts or updates the tariff keyed by (resource type, valid from).
	UpsertTariff(ctx context.Context, t *Tariff) error

	// Monthly charges
	ListMonthlyCharges(ctx context.Context, f ChargeFilter) ([]MonthlyCharge, error)
	GetMonthlyCharge(ctx context.Context, id uint) (*MonthlyCharge, error)
	// AccumulateCharge atomically creates the charge for key if missing and
	// adds consumption and amount to it.
	AccumulateCharge(ctx context.Context, key ChargeKey, consumption, amount decimal.Decimal) error

	// Payments
	ListPayments(ctx context.Context, f PaymentFilter) ([]Payment, error)
	GetPayment(ctx context.Context, id uint) (*Payment, error)
	CreatePayment(ctx context.Context, p *Payment) error
	UpdatePayment(ctx context.Context, p *Payment) error
	DeletePayment(ctx context.Context, id uint) error

	// Jobs
	UpdateScheduledJob(ctx context.Context, job ScheduledJob) error

	// Transaction runs fn against a Storage bound to a single transaction.
	Transaction(ctx context.Context, fn func(tx Storage) error) error

	Ping(ctx context.Context) error
	// Close releases any resources (no-op for in-memory).
	Close() error
}

// PropertyFilter narrows ListProperties. Zero values do not filter.
type PropertyFilter struct {
	OwnerID string
	IDs     []uint
}

// MeterFilter narrows ListMeters. A non-nil empty PropertyIDs matches nothing.
type MeterFilter struct {
	PropertyIDs  []uint
	ResourceType ResourceType
}

// ReadingFilter narrows ListReadings. A non-nil empty PropertyIDs matches nothing.
type ReadingFilter struct {
	PropertyIDs []uint
	MeterID     uint
}

// TariffFilter narrows ListTariffs.
type TariffFilter struct {
	ResourceType ResourceType
}

// Period is a (year, month) pair.
type Period struct {
	Year  int
	Month int
}

// Index returns a sortable integer for the period.
func (p Period) Index() int { return p.Year*12 + p.Month - 1 }

// ChargeFilter narrows ListMonthlyCharges. A non-nil empty PropertyIDs matches nothing.
type ChargeFilter struct {
	PropertyIDs  []uint
	Year         int
	Month        int
	ResourceType ResourceType
	From         *Period
	To           *Period
}

// PaymentFilter narrows ListPayments. A non-nil empty PropertyIDs matches nothing.
type PaymentFilter struct {
	PropertyIDs []uint
}

// ChargeKey identifies a MonthlyCharge row.
type ChargeKey struct {
	PropertyID   uint
	Year         int
	Month        int
	ResourceType ResourceType
}

func matchesNone(ids []uint) bool { return ids != nil && len(ids) == 0 }

func containsID(ids []uint, id uint) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

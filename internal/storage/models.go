package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// ResourceType is the utility a meter measures.
type ResourceType string

const (
	Electricity ResourceType = "electricity"
	ColdWater   ResourceType = "cold_water"
	HotWater    ResourceType = "hot_water"
	Gas         ResourceType = "gas"
	Heating     ResourceType = "heating"
)

// ResourceTypes lists every resource in display order.
var ResourceTypes = []ResourceType{Electricity, ColdWater, HotWater, Gas, Heating}

var resourceLabels = map[ResourceType]string{
	Electricity: "Electricity",
	ColdWater:   "Cold water",
	HotWater:    "Hot water",
	Gas:         "Gas",
	Heating:     "Heating",
}

// Valid reports whether r is one of the known resource types.
func (r ResourceType) Valid() bool {
	_, ok := resourceLabels[r]
	return ok
}

// Label returns the human readable name of the resource.
func (r ResourceType) Label() string {
	if l, ok := resourceLabels[r]; ok {
		return l
	}
	return string(r)
}

var resourceUnits = map[ResourceType]string{
	Electricity: "kWh",
	ColdWater:   "m³",
	HotWater:    "m³",
	Gas:         "m³",
	Heating:     "Gcal",
}

// DefaultUnit is the unit assigned to a meter created without one.
func (r ResourceType) DefaultUnit() string {
	if u, ok := resourceUnits[r]; ok {
		return u
	}
	return "kWh"
}

// Order returns the position of r in ResourceTypes, or len(ResourceTypes) if unknown.
func (r ResourceType) Order() int {
	for i, rt := range ResourceTypes {
		if rt == r {
			return i
		}
	}
	return len(ResourceTypes)
}

// User represents a registered user in the system.
type User struct {
	ID           string    `json:"id" gorm:"primaryKey;column:id"`
	Username     string    `json:"username" gorm:"uniqueIndex;column:username;size:150"`
	Email        string    `json:"email" gorm:"column:email"`
	PasswordHash string    `json:"-" gorm:"column:password_hash"`
	Role         string    `json:"role" gorm:"column:role"`
	CreatedAt    time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"column:updated_at"`
}

// Token kinds.
const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"
)

// Token represents an issued bearer token. Only the sha256 hash is stored.
type Token struct {
	ID         string     `json:"id" gorm:"primaryKey;column:id"`
	UserID     string     `json:"user_id" gorm:"index;column:user_id"`
	Kind       string     `json:"kind" gorm:"column:kind"`
	TokenHash  string     `json:"-" gorm:"uniqueIndex;column:token_hash"`
	Role       string     `json:"role" gorm:"column:role"`
	CreatedAt  time.Time  `json:"created_at" gorm:"column:created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" gorm:"column:expires_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" gorm:"column:last_used_at"`
}

// CasbinRule represents a policy rule for RBAC.
type CasbinRule struct {
	ID    uint   `gorm:"primaryKey"`
	PType string `json:"ptype" gorm:"column:ptype"`
	V0    string `json:"v0" gorm:"column:v0"`
	V1    string `json:"v1" gorm:"column:v1"`
	V2    string `json:"v2" gorm:"column:v2"`
	V3    string `json:"v3" gorm:"column:v3"`
	V4    string `json:"v4" gorm:"column:v4"`
	V5    string `json:"v5" gorm:"column:v5"`
}

// Property is a billable object owned by a single user.
type Property struct {
	ID        uint      `json:"id" gorm:"primaryKey;column:id"`
	OwnerID   string    `json:"-" gorm:"index;column:owner_id"`
	Name      string    `json:"name" gorm:"column:name;size:255"`
	Address   string    `json:"address" gorm:"column:address;size:500"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
}

// Meter is installed at a property and measures one resource.
type Meter struct {
	ID           uint         `json:"id" gorm:"primaryKey;column:id"`
	PropertyID   uint         `json:"property" gorm:"index;column:property_id"`
	ResourceType ResourceType `json:"resource_type" gorm:"column:resource_type;size:32"`
	Unit         string       `json:"unit" gorm:"column:unit;size:32"`
	SerialNumber string       `json:"serial_number" gorm:"column:serial_number;size:100"`
	InstalledAt  *time.Time   `json:"installed_at" gorm:"column:installed_at;type:date"`
	IsActive     bool         `json:"is_active" gorm:"column:is_active"`
}

// Reading is a cumulative dial value taken on a date.
type Reading struct {
	ID          uint            `json:"id" gorm:"primaryKey;column:id"`
	MeterID     uint            `json:"meter" gorm:"index;column:meter_id"`
	Value       decimal.Decimal `json:"value" gorm:"column:value;type:decimal(12,3)"`
	ReadingDate time.Time       `json:"reading_date" gorm:"column:reading_date;type:date;index"`
	CreatedAt   time.Time       `json:"created_at" gorm:"column:created_at"`
}

// Tariff is a price per unit for a resource over [ValidFrom, ValidTo].
// A nil ValidTo means the tariff is open ended.
type Tariff struct {
	ID           uint            `json:"id" gorm:"primaryKey;column:id"`
	ResourceType ResourceType    `json:"resource_type" gorm:"column:resource_type;size:32;index"`
	ValuePerUnit decimal.Decimal `json:"value_per_unit" gorm:"column:value_per_unit;type:decimal(10,2)"`
	ValidFrom    time.Time       `json:"valid_from" gorm:"column:valid_from;type:date"`
	ValidTo      *time.Time      `json:"valid_to" gorm:"column:valid_to;type:date"`
}

// Covers reports whether the tariff applies on day d.
func (t Tariff) Covers(d time.Time) bool {
	if t.ValidFrom.After(d) {
		return false
	}
	return t.ValidTo == nil || !t.ValidTo.Before(d)
}

// MonthlyCharge accumulates consumption and amount for one
// property, month and resource.
type MonthlyCharge struct {
	ID           uint            `json:"id" gorm:"primaryKey;column:id"`
	PropertyID   uint            `json:"property" gorm:"column:property_id;uniqueIndex:idx_monthly_charge_period,priority:1"`
	Year         int             `json:"year" gorm:"column:year;uniqueIndex:idx_monthly_charge_period,priority:2"`
	Month        int             `json:"month" gorm:"column:month;uniqueIndex:idx_monthly_charge_period,priority:3"`
	ResourceType ResourceType    `json:"resource_type" gorm:"column:resource_type;size:32;uniqueIndex:idx_monthly_charge_period,priority:4"`
	Consumption  decimal.Decimal `json:"consumption" gorm:"column:consumption;type:decimal(12,3);default:0"`
	Amount       decimal.Decimal `json:"amount" gorm:"column:amount;type:decimal(12,2);default:0"`
	GeneratedAt  time.Time       `json:"generated_at" gorm:"column:generated_at"`
}

// Payment is money paid for a property and billing month.
type Payment struct {
	ID         uint            `json:"id" gorm:"primaryKey;column:id"`
	PropertyID uint            `json:"property" gorm:"index;column:property_id"`
	Year       int             `json:"year" gorm:"column:year"`
	Month      int             `json:"month" gorm:"column:month"`
	Amount     decimal.Decimal `json:"amount" gorm:"column:amount;type:decimal(12,2)"`
	PaidAt     time.Time       `json:"paid_at" gorm:"column:paid_at;type:date"`
	Comment    string          `json:"comment" gorm:"column:comment"`
	CreatedAt  time.Time       `json:"created_at" gorm:"column:created_at"`
}

// ScheduledJob records the last run of a background job.
type ScheduledJob struct {
	Name           string    `gorm:"primaryKey;column:name"`
	LastRunAt      time.Time `gorm:"column:last_run_at"`
	LastDurationMs int64     `gorm:"column:last_duration_ms"`
	LastSuccess    bool      `gorm:"column:last_success"`
	LastError      string    `gorm:"column:last_error"`
}

package storage

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStorage is an in-memory Storage implementation, useful for tests and
// simple single-process deployments.
type MemoryStorage struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	users      map[string]User
	tokens     map[string]Token
	rules      []CasbinRule
	properties map[uint]Property
	meters     map[uint]Meter
	readings   map[uint]Reading
	tariffs    map[uint]Tariff
	charges    map[uint]MonthlyCharge
	payments   map[uint]Payment
	jobs       map[string]ScheduledJob

	nextID uint
}

// NewMemory returns an empty MemoryStorage.
func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		users:      make(map[string]User),
		tokens:     make(map[string]Token),
		properties: make(map[uint]Property),
		meters:     make(map[uint]Meter),
		readings:   make(map[uint]Reading),
		tariffs:    make(map[uint]Tariff),
		charges:    make(map[uint]MonthlyCharge),
		payments:   make(map[uint]Payment),
		jobs:       make(map[string]ScheduledJob),
	}
}

func (m *MemoryStorage) Close() error { return nil }

func (m *MemoryStorage) Ping(ctx context.Context) error { return nil }

// Transaction serializes fn against other transactions. When fn returns an
// error or panics the store is restored to its state before fn ran.
func (m *MemoryStorage) Transaction(ctx context.Context, fn func(tx Storage) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	committed := false
	defer func() {
		if !committed {
			m.restore(snap)
		}
	}()
	if err := fn(memoryTx{m}); err != nil {
		return err
	}
	committed = true
	return nil
}

type memorySnapshot struct {
	users      map[string]User
	tokens     map[string]Token
	rules      []CasbinRule
	properties map[uint]Property
	meters     map[uint]Meter
	readings   map[uint]Reading
	tariffs    map[uint]Tariff
	charges    map[uint]MonthlyCharge
	payments   map[uint]Payment
	jobs       map[string]ScheduledJob
	nextID     uint
}

func (m *MemoryStorage) snapshot() memorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memorySnapshot{
		users:      maps.Clone(m.users),
		tokens:     maps.Clone(m.tokens),
		rules:      slices.Clone(m.rules),
		properties: maps.Clone(m.properties),
		meters:     maps.Clone(m.meters),
		readings:   maps.Clone(m.readings),
		tariffs:    maps.Clone(m.tariffs),
		charges:    maps.Clone(m.charges),
		payments:   maps.Clone(m.payments),
		jobs:       maps.Clone(m.jobs),
		nextID:     m.nextID,
	}
}

func (m *MemoryStorage) restore(s memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = s.users
	m.tokens = s.tokens
	m.rules = s.rules
	m.properties = s.properties
	m.meters = s.meters
	m.readings = s.readings
	m.tariffs = s.tariffs
	m.charges = s.charges
	m.payments = s.payments
	m.jobs = s.jobs
	m.nextID = s.nextID
}

// memoryTx is the Storage handed to transaction callbacks; nested
// transactions run inline.
type memoryTx struct {
	*MemoryStorage
}

func (t memoryTx) Transaction(ctx context.Context, fn func(tx Storage) error) error {
	return fn(t)
}

// id returns the next identifier. Callers hold m.mu.
func (m *MemoryStorage) id() uint {
	m.nextID++
	return m.nextID
}

// Users

func (m *MemoryStorage) CreateUser(ctx context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return ErrDuplicate
		}
	}
	m.users[u.ID] = u
	return nil
}

func (m *MemoryStorage) UpdateUser(ctx context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *MemoryStorage) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *MemoryStorage) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) ListUsers(ctx context.Context) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// Tokens

func (m *MemoryStorage) CreateToken(ctx context.Context, t Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[t.ID] = t
	return nil
}

func (m *MemoryStorage) GetTokenByHash(ctx context.Context, hash string) (*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tokens {
		if t.TokenHash == hash {
			cp := t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) UpdateTokenLastUsed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[id]; ok {
		now := time.Now().UTC()
		t.LastUsedAt = &now
		m.tokens[id] = t
	}
	return nil
}

func (m *MemoryStorage) DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.tokens {
		if t.ExpiresAt != nil && t.ExpiresAt.Before(before) {
			delete(m.tokens, id)
			n++
		}
	}
	return n, nil
}

// Casbin

func (m *MemoryStorage) LoadCasbinRules(ctx context.Context) ([]CasbinRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CasbinRule, len(m.rules))
	copy(out, m.rules)
	return out, nil
}

func (m *MemoryStorage) AddCasbinRule(ctx context.Context, rule CasbinRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule.ID = m.id()
	m.rules = append(m.rules, rule)
	return nil
}

func (m *MemoryStorage) RemoveCasbinRule(ctx context.Context, rule CasbinRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rules[:0]
	for _, r := range m.rules {
		r2 := r
		r2.ID = rule.ID
		if r2 == rule {
			continue
		}
		kept = append(kept, r)
	}
	m.rules = kept
	return nil
}

// Properties

func (m *MemoryStorage) ListProperties(ctx context.Context, f PropertyFilter) ([]Property, error) {
	if matchesNone(f.IDs) {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Property
	for _, p := range m.properties {
		if f.OwnerID != "" && p.OwnerID != f.OwnerID {
			continue
		}
		if len(f.IDs) > 0 && !containsID(f.IDs, p.ID) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStorage) GetProperty(ctx context.Context, id uint) (*Property, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.properties[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryStorage) CreateProperty(ctx context.Context, p *Property) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.id()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.properties[p.ID] = *p
	return nil
}

func (m *MemoryStorage) UpdateProperty(ctx context.Context, p *Property) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.properties[p.ID] = *p
	return nil
}

func (m *MemoryStorage) DeleteProperty(ctx context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for mid, mt := range m.meters {
		if mt.PropertyID == id {
			m.deleteMeterLocked(mid)
		}
	}
	for cid, c := range m.charges {
		if c.PropertyID == id {
			delete(m.charges, cid)
		}
	}
	for pid, p := range m.payments {
		if p.PropertyID == id {
			delete(m.payments, pid)
		}
	}
	delete(m.properties, id)
	return nil
}

// Meters

func (m *MemoryStorage) ListMeters(ctx context.Context, f MeterFilter) ([]Meter, error) {
	if matchesNone(f.PropertyIDs) {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Meter
	for _, mt := range m.meters {
		if len(f.PropertyIDs) > 0 && !containsID(f.PropertyIDs, mt.PropertyID) {
			continue
		}
		if f.ResourceType != "" && mt.ResourceType != f.ResourceType {
			continue
		}
		out = append(out, mt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStorage) GetMeter(ctx context.Context, id uint) (*Meter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mt, ok := m.meters[id]
	if !ok {
		return nil, nil
	}
	return &mt, nil
}

func (m *MemoryStorage) CreateMeter(ctx context.Context, mt *Meter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt.ID = m.id()
	m.meters[mt.ID] = *mt
	return nil
}

func (m *MemoryStorage) UpdateMeter(ctx context.Context, mt *Meter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meters[mt.ID] = *mt
	return nil
}

func (m *MemoryStorage) DeleteMeter(ctx context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteMeterLocked(id)
	return nil
}

func (m *MemoryStorage) deleteMeterLocked(id uint) {
	for rid, r := range m.readings {
		if r.MeterID == id {
			delete(m.readings, rid)
		}
	}
	delete(m.meters, id)
}

// Readings

func (m *MemoryStorage) ListReadings(ctx context.Context, f ReadingFilter) ([]Reading, error) {
	if matchesNone(f.PropertyIDs) {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Reading
	for _, r := range m.readings {
		if f.MeterID != 0 && r.MeterID != f.MeterID {
			continue
		}
		if len(f.PropertyIDs) > 0 && !containsID(f.PropertyIDs, m.meters[r.MeterID].PropertyID) {
			continue
		}
		out = append(out, r)
	}
	sortReadingsDesc(out)
	return out, nil
}

func sortReadingsDesc(rs []Reading) {
	sort.Slice(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if !a.ReadingDate.Equal(b.ReadingDate) {
			return a.ReadingDate.After(b.ReadingDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}

func (m *MemoryStorage) GetReading(ctx context.Context, id uint) (*Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.readings[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *MemoryStorage) CreateReading(ctx context.Context, r *Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.id()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	m.readings[r.ID] = *r
	return nil
}

func (m *MemoryStorage) UpdateReading(ctx context.Context, r *Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings[r.ID] = *r
	return nil
}

func (m *MemoryStorage) DeleteReading(ctx context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.readings, id)
	return nil
}

func (m *MemoryStorage) PreviousReading(ctx context.Context, meterID uint, before time.Time) (*Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var candidates []Reading
	for _, r := range m.readings {
		if r.MeterID == meterID && r.ReadingDate.Before(before) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sortReadingsDesc(candidates)
	return &candidates[0], nil
}

// Tariffs

func (m *MemoryStorage) ListTariffs(ctx context.Context, f TariffFilter) ([]Tariff, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Tariff
	for _, t := range m.tariffs {
		if f.ResourceType != "" && t.ResourceType != f.ResourceType {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ValidFrom.Equal(out[j].ValidFrom) {
			return out[i].ValidFrom.After(out[j].ValidFrom)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *MemoryStorage) GetTariff(ctx context.Context, id uint) (*Tariff, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tariffs[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *MemoryStorage) CreateTariff(ctx context.Context, t *Tariff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = m.id()
	m.tariffs[t.ID] = *t
	return nil
}

func (m *MemoryStorage) UpdateTariff(ctx context.Context, t *Tariff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tariffs[t.ID] = *t
	return nil
}

func (m *MemoryStorage) DeleteTariff(ctx context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tariffs, id)
	return nil
}

func (m *MemoryStorage) UpsertTariff(ctx context.Context, t *Tariff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.tariffs {
		if existing.ResourceType == t.ResourceType && existing.ValidFrom.Equal(t.ValidFrom) {
			t.ID = id
			m.tariffs[id] = *t
			return nil
		}
	}
	t.ID = m.id()
	m.tariffs[t.ID] = *t
	return nil
}

// Monthly charges

func (m *MemoryStorage) ListMonthlyCharges(ctx context.Context, f ChargeFilter) ([]MonthlyCharge, error) {
	if matchesNone(f.PropertyIDs) {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []MonthlyCharge
	for _, c := range m.charges {
		if len(f.PropertyIDs) > 0 && !containsID(f.PropertyIDs, c.PropertyID) {
			continue
		}
		if f.Year != 0 && c.Year != f.Year {
			continue
		}
		if f.Month != 0 && c.Month != f.Month {
			continue
		}
		if f.ResourceType != "" && c.ResourceType != f.ResourceType {
			continue
		}
		idx := Period{c.Year, c.Month}.Index()
		if f.From != nil && idx < f.From.Index() {
			continue
		}
		if f.To != nil && idx > f.To.Index() {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Month != b.Month {
			return a.Month < b.Month
		}
		if a.PropertyID != b.PropertyID {
			return a.PropertyID < b.PropertyID
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (m *MemoryStorage) GetMonthlyCharge(ctx context.Context, id uint) (*MonthlyCharge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.charges[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *MemoryStorage) AccumulateCharge(ctx context.Context, key ChargeKey, consumption, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.charges {
		if c.PropertyID == key.PropertyID && c.Year == key.Year && c.Month == key.Month && c.ResourceType == key.ResourceType {
			c.Consumption = c.Consumption.Add(consumption)
			c.Amount = c.Amount.Add(amount)
			m.charges[id] = c
			return nil
		}
	}
	c := MonthlyCharge{
		ID:           m.id(),
		PropertyID:   key.PropertyID,
		Year:         key.Year,
		Month:        key.Month,
		ResourceType: key.ResourceType,
		Consumption:  consumption,
		Amount:       amount,
		GeneratedAt:  time.Now().UTC(),
	}
	m.charges[c.ID] = c
	return nil
}

// PutMonthlyCharge stores a charge row as is. It exists for fixtures; the
// application only writes charges through AccumulateCharge.
func (m *MemoryStorage) PutMonthlyCharge(c MonthlyCharge) MonthlyCharge {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == 0 {
		c.ID = m.id()
	}
	if c.GeneratedAt.IsZero() {
		c.GeneratedAt = time.Now().UTC()
	}
	m.charges[c.ID] = c
	return c
}

// Payments

func (m *MemoryStorage) ListPayments(ctx context.Context, f PaymentFilter) ([]Payment, error) {
	if matchesNone(f.PropertyIDs) {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Payment
	for _, p := range m.payments {
		if len(f.PropertyIDs) > 0 && !containsID(f.PropertyIDs, p.PropertyID) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.PaidAt.Equal(b.PaidAt) {
			return a.PaidAt.After(b.PaidAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return out, nil
}

func (m *MemoryStorage) GetPayment(ctx context.Context, id uint) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryStorage) CreatePayment(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.id()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.payments[p.ID] = *p
	return nil
}

func (m *MemoryStorage) UpdatePayment(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = *p
	return nil
}

func (m *MemoryStorage) DeletePayment(ctx context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.payments, id)
	return nil
}

// Jobs

func (m *MemoryStorage) UpdateScheduledJob(ctx context.Context, job ScheduledJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.Name] = job
	return nil
}

// ScheduledJob returns the last recorded run of the named job.
func (m *MemoryStorage) ScheduledJob(name string) (ScheduledJob, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[name]
	return job, ok
}

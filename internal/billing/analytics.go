package billing

import (
	"context"
	"fmt"
	"sort"

	"github.com/bher20/meterbill/internal/storage"
	"github.com/shopspring/decimal"
)

// Query selects the charges an analytics report covers.
type Query struct {
	OwnerID string
	// PropertyIDs restricts the owner's properties when non-empty.
	PropertyIDs  []uint
	ResourceType storage.ResourceType
	Start        storage.Period
	End          storage.Period
}

type Report struct {
	Period            ReportPeriod     `json:"period"`
	Monthly           []MonthBucket    `json:"monthly"`
	MonthlyByResource []ResourceMonth  `json:"monthly_by_resource"`
	Summary           Summary          `json:"summary"`
	Comparison        []PropertyTotals `json:"comparison"`
	Payments          []PaymentTotal   `json:"payments"`
	ForecastAmount    float64          `json:"forecast_amount"`
}

type ReportPeriod struct {
	StartYear  int `json:"start_year"`
	StartMonth int `json:"start_month"`
	EndYear    int `json:"end_year"`
	EndMonth   int `json:"end_month"`
}

type MonthBucket struct {
	Month            string       `json:"month"`
	Items            []BucketItem `json:"items"`
	TotalAmount      float64      `json:"total_amount"`
	TotalConsumption float64      `json:"total_consumption"`
	CumulativeAmount float64      `json:"cumulative_amount"`
}

type BucketItem struct {
	Property     uint                 `json:"property"`
	ResourceType storage.ResourceType `json:"resource_type"`
	Consumption  float64              `json:"consumption"`
	Amount       float64              `json:"amount"`
}

type ResourceMonth struct {
	Month        string               `json:"month"`
	ResourceType storage.ResourceType `json:"resource_type"`
	Consumption  float64              `json:"consumption"`
	Amount       float64              `json:"amount"`
}

type Summary struct {
	TotalAmount        float64         `json:"total_amount"`
	TotalConsumption   float64         `json:"total_consumption"`
	AverageDailyAmount float64         `json:"average_daily_amount"`
	PeakMonth          *string         `json:"peak_month"`
	Resources          []ResourceTotal `json:"resources"`
}

type ResourceTotal struct {
	ResourceType     storage.ResourceType `json:"resource_type"`
	TotalConsumption float64              `json:"total_consumption"`
	TotalAmount      float64              `json:"total_amount"`
	Unit             string               `json:"unit"`
}

type PropertyTotals struct {
	PropertyID       uint    `json:"property_id"`
	PropertyName     string  `json:"property_name"`
	TotalAmount      float64 `json:"total_amount"`
	TotalConsumption float64 `json:"total_consumption"`
}

type PaymentTotal struct {
	Year  int     `json:"year"`
	Month int     `json:"month"`
	Total float64 `json:"total"`
}

type sums struct {
	consumption decimal.Decimal
	amount      decimal.Decimal
}

func (s *sums) add(c storage.MonthlyCharge) {
	s.consumption = s.consumption.Add(c.Consumption)
	s.amount = s.amount.Add(c.Amount)
}

// Analytics aggregates the monthly charges of the owner's selected properties
// over the inclusive period [q.Start, q.End].
func (s *Service) Analytics(ctx context.Context, q Query) (*Report, error) {
	if q.ResourceType != "" && !q.ResourceType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidResource, q.ResourceType)
	}
	pf := storage.PropertyFilter{OwnerID: q.OwnerID}
	if len(q.PropertyIDs) > 0 {
		pf.IDs = q.PropertyIDs
	}
	props, err := s.st.ListProperties(ctx, pf)
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	if len(props) == 0 {
		return nil, ErrNoProperties
	}
	ids := make([]uint, len(props))
	names := make(map[uint]string, len(props))
	for i, p := range props {
		ids[i] = p.ID
		names[p.ID] = p.Name
	}

	start, end := q.Start, q.End
	charges, err := s.st.ListMonthlyCharges(ctx, storage.ChargeFilter{
		PropertyIDs:  ids,
		ResourceType: q.ResourceType,
		From:         &start,
		To:           &end,
	})
	if err != nil {
		return nil, fmt.Errorf("list charges: %w", err)
	}
	sort.SliceStable(charges, func(i, j int) bool {
		pi := storage.Period{Year: charges[i].Year, Month: charges[i].Month}
		pj := storage.Period{Year: charges[j].Year, Month: charges[j].Month}
		return pi.Index() < pj.Index()
	})

	rep := &Report{
		Period: ReportPeriod{
			StartYear:  q.Start.Year,
			StartMonth: q.Start.Month,
			EndYear:    q.End.Year,
			EndMonth:   q.End.Month,
		},
		Monthly:           []MonthBucket{},
		MonthlyByResource: []ResourceMonth{},
		Comparison:        []PropertyTotals{},
		Payments:          []PaymentTotal{},
	}

	type monthAcc struct {
		bucket     MonthBucket
		total      sums
		byResource map[storage.ResourceType]*sums
	}
	var months []*monthAcc
	byMonth := map[string]*monthAcc{}
	byResource := map[storage.ResourceType]*sums{}
	byProperty := map[uint]*sums{}
	var grand sums

	for _, c := range charges {
		key := fmt.Sprintf("%04d-%02d", c.Year, c.Month)
		m, ok := byMonth[key]
		if !ok {
			m = &monthAcc{
				bucket:     MonthBucket{Month: key, Items: []BucketItem{}},
				byResource: map[storage.ResourceType]*sums{},
			}
			byMonth[key] = m
			months = append(months, m)
		}
		m.bucket.Items = append(m.bucket.Items, BucketItem{
			Property:     c.PropertyID,
			ResourceType: c.ResourceType,
			Consumption:  c.Consumption.InexactFloat64(),
			Amount:       c.Amount.InexactFloat64(),
		})
		m.total.add(c)
		if m.byResource[c.ResourceType] == nil {
			m.byResource[c.ResourceType] = &sums{}
		}
		m.byResource[c.ResourceType].add(c)
		if byResource[c.ResourceType] == nil {
			byResource[c.ResourceType] = &sums{}
		}
		byResource[c.ResourceType].add(c)
		if byProperty[c.PropertyID] == nil {
			byProperty[c.PropertyID] = &sums{}
		}
		byProperty[c.PropertyID].add(c)
		grand.add(c)
	}

	running := decimal.Zero
	var peak *string
	var peakAmount decimal.Decimal
	for _, m := range months {
		running = running.Add(m.total.amount)
		m.bucket.TotalAmount = m.total.amount.InexactFloat64()
		m.bucket.TotalConsumption = m.total.consumption.InexactFloat64()
		m.bucket.CumulativeAmount = running.InexactFloat64()
		rep.Monthly = append(rep.Monthly, m.bucket)
		if peak == nil || m.total.amount.GreaterThan(peakAmount) {
			month := m.bucket.Month
			peak = &month
			peakAmount = m.total.amount
		}
		for _, rt := range storage.ResourceTypes {
			if v, ok := m.byResource[rt]; ok {
				rep.MonthlyByResource = append(rep.MonthlyByResource, ResourceMonth{
					Month:        m.bucket.Month,
					ResourceType: rt,
					Consumption:  v.consumption.InexactFloat64(),
					Amount:       v.amount.InexactFloat64(),
				})
			}
		}
	}

	units, err := s.unitsByResource(ctx, ids)
	if err != nil {
		return nil, err
	}
	days := int64(len(months) * 30)
	if days == 0 {
		days = 1
	}
	rep.Summary = Summary{
		TotalAmount:        grand.amount.InexactFloat64(),
		TotalConsumption:   grand.consumption.InexactFloat64(),
		AverageDailyAmount: grand.amount.Div(decimal.NewFromInt(days)).InexactFloat64(),
		PeakMonth:          peak,
		Resources:          []ResourceTotal{},
	}
	for _, rt := range storage.ResourceTypes {
		if v, ok := byResource[rt]; ok {
			rep.Summary.Resources = append(rep.Summary.Resources, ResourceTotal{
				ResourceType:     rt,
				TotalConsumption: v.consumption.InexactFloat64(),
				TotalAmount:      v.amount.InexactFloat64(),
				Unit:             units[rt],
			})
		}
	}

	for _, id := range ids {
		if v, ok := byProperty[id]; ok {
			rep.Comparison = append(rep.Comparison, PropertyTotals{
				PropertyID:       id,
				PropertyName:     names[id],
				TotalAmount:      v.amount.InexactFloat64(),
				TotalConsumption: v.consumption.InexactFloat64(),
			})
		}
	}

	if rep.Payments, err = s.paymentTotals(ctx, ids); err != nil {
		return nil, err
	}

	forecastSum := decimal.Zero
	for _, id := range ids {
		f, err := s.Forecast(ctx, id, DefaultLookback)
		if err != nil {
			return nil, fmt.Errorf("forecast property %d: %w", id, err)
		}
		forecastSum = forecastSum.Add(f)
	}
	rep.ForecastAmount = forecastSum.Div(decimal.NewFromInt(int64(len(ids)))).InexactFloat64()

	return rep, nil
}

// unitsByResource maps each resource to the unit of its lowest-id meter among the properties.
func (s *Service) unitsByResource(ctx context.Context, propertyIDs []uint) (map[storage.ResourceType]string, error) {
	meters, err := s.st.ListMeters(ctx, storage.MeterFilter{PropertyIDs: propertyIDs})
	if err != nil {
		return nil, fmt.Errorf("list meters: %w", err)
	}
	units := map[storage.ResourceType]string{}
	for _, m := range meters {
		if _, ok := units[m.ResourceType]; !ok {
			units[m.ResourceType] = m.Unit
		}
	}
	return units, nil
}

func (s *Service) paymentTotals(ctx context.Context, propertyIDs []uint) ([]PaymentTotal, error) {
	payments, err := s.st.ListPayments(ctx, storage.PaymentFilter{PropertyIDs: propertyIDs})
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	totals := map[storage.Period]decimal.Decimal{}
	for _, p := range payments {
		k := storage.Period{Year: p.Year, Month: p.Month}
		totals[k] = totals[k].Add(p.Amount)
	}
	periods := make([]storage.Period, 0, len(totals))
	for k := range totals {
		periods = append(periods, k)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Index() < periods[j].Index() })

	out := make([]PaymentTotal, 0, len(periods))
	for _, k := range periods {
		out = append(out, PaymentTotal{Year: k.Year, Month: k.Month, Total: totals[k].InexactFloat64()})
	}
	return out, nil
}

package billing

import (
	"context"
	"sort"

	"github.com/bher20/meterbill/internal/storage"
	"github.com/shopspring/decimal"
)

// DefaultLookback is the number of closed months averaged by Forecast.
const DefaultLookback = 3

// Forecast estimates next month's bill for a property as the mean monthly
// total over the newest lookback months, leaving out the current month.
// It returns zero when there is no history.
func (s *Service) Forecast(ctx context.Context, propertyID uint, lookback int) (decimal.Decimal, error) {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	charges, err := s.st.ListMonthlyCharges(ctx, storage.ChargeFilter{PropertyIDs: []uint{propertyID}})
	if err != nil {
		return decimal.Zero, err
	}

	now := s.now()
	current := storage.Period{Year: now.Year(), Month: int(now.Month())}
	totals := map[storage.Period]decimal.Decimal{}
	for _, c := range charges {
		p := storage.Period{Year: c.Year, Month: c.Month}
		if p == current {
			continue
		}
		totals[p] = totals[p].Add(c.Amount)
	}
	if len(totals) == 0 {
		return decimal.Zero, nil
	}

	periods := make([]storage.Period, 0, len(totals))
	for p := range totals {
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Index() > periods[j].Index() })
	if len(periods) > lookback {
		periods = periods[:lookback]
	}

	sum := decimal.Zero
	for _, p := range periods {
		sum = sum.Add(totals[p])
	}
	return sum.Div(decimal.NewFromInt(int64(len(periods)))), nil
}

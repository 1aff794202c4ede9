package cron

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"sort"
	"time"

	"github.com/bher20/meterbill/internal/billing"
	"github.com/bher20/meterbill/internal/storage"
	"github.com/shopspring/decimal"
)

// Statement is one user's bill for a closed month.
type Statement struct {
	Username   string
	Period     storage.Period
	Properties []PropertyStatement
	Total      decimal.Decimal
	Paid       decimal.Decimal
}

// PropertyStatement lists the charges and payments of one property.
type PropertyStatement struct {
	Property storage.Property
	Charges  []storage.MonthlyCharge
	Payments []storage.Payment
	Total    decimal.Decimal
	Paid     decimal.Decimal
	Forecast decimal.Decimal
}

// Due is the amount still owed for the month. It is never negative.
func (s Statement) Due() decimal.Decimal {
	d := s.Total.Sub(s.Paid)
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// PreviousPeriod returns the month before the one containing now.
func PreviousPeriod(now time.Time) storage.Period {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	return storage.Period{Year: first.Year(), Month: int(first.Month())}
}

// BuildStatement collects the statement of user for period. It returns nil
// when the user owns no properties.
func BuildStatement(ctx context.Context, st storage.Storage, svc *billing.Service, user storage.User, period storage.Period) (*Statement, error) {
	props, err := st.ListProperties(ctx, storage.PropertyFilter{OwnerID: user.ID})
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	if len(props) == 0 {
		return nil, nil
	}

	out := &Statement{Username: user.Username, Period: period}
	for _, p := range props {
		ps := PropertyStatement{Property: p}

		charges, err := st.ListMonthlyCharges(ctx, storage.ChargeFilter{
			PropertyIDs: []uint{p.ID},
			Year:        period.Year,
			Month:       period.Month,
		})
		if err != nil {
			return nil, fmt.Errorf("list charges: %w", err)
		}
		sort.Slice(charges, func(i, j int) bool {
			return charges[i].ResourceType.Order() < charges[j].ResourceType.Order()
		})
		ps.Charges = charges
		for _, c := range charges {
			ps.Total = ps.Total.Add(c.Amount)
		}

		payments, err := st.ListPayments(ctx, storage.PaymentFilter{PropertyIDs: []uint{p.ID}})
		if err != nil {
			return nil, fmt.Errorf("list payments: %w", err)
		}
		for _, pay := range payments {
			if pay.Year == period.Year && pay.Month == period.Month {
				ps.Payments = append(ps.Payments, pay)
				ps.Paid = ps.Paid.Add(pay.Amount)
			}
		}

		forecast, err := svc.Forecast(ctx, p.ID, billing.DefaultLookback)
		if err != nil {
			return nil, fmt.Errorf("forecast property %d: %w", p.ID, err)
		}
		ps.Forecast = forecast.Round(2)

		out.Total = out.Total.Add(ps.Total)
		out.Paid = out.Paid.Add(ps.Paid)
		out.Properties = append(out.Properties, ps)
	}
	return out, nil
}

// Subject is the email subject line of the statement.
func (s Statement) Subject() string {
	month := time.Month(s.Period.Month).String()
	return fmt.Sprintf("Utility statement for %s %d", month, s.Period.Year)
}

var statementTmpl = template.Must(template.New("statement").Funcs(template.FuncMap{
	"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
	"qty":   func(d decimal.Decimal) string { return d.StringFixed(3) },
	"date":  func(t time.Time) string { return t.Format("2006-01-02") },
}).Parse(`<html><body>
<h2>{{.Subject}}</h2>
<p>Hello {{.Username}},</p>
{{range .Properties}}
<h3>{{.Property.Name}}</h3>
{{if .Charges}}<table>
<tr><th>Resource</th><th>Consumption</th><th>Amount</th></tr>
{{range .Charges}}<tr><td>{{.ResourceType.Label}}</td><td>{{qty .Consumption}}</td><td>{{money .Amount}}</td></tr>
{{end}}</table>{{else}}<p>No charges this month.</p>{{end}}
{{range .Payments}}<p>Payment {{money .Amount}} on {{date .PaidAt}}</p>
{{end}}<p>Charged {{money .Total}}, paid {{money .Paid}}. Next month forecast: {{money .Forecast}}</p>
{{end}}
<p><strong>Total {{money .Total}}, paid {{money .Paid}}, due {{money .Due}}</strong></p>
</body></html>
`))

// Render returns the statement as an HTML email body.
func (s Statement) Render() (string, error) {
	var buf bytes.Buffer
	if err := statementTmpl.Execute(&buf, s); err != nil {
		return "", err
	}
	return buf.String(), nil
}

package cron

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bher20/meterbill/internal/alerting"
	"github.com/bher20/meterbill/internal/billing"
	"github.com/bher20/meterbill/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMail struct {
	to, subject, body string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	fail map[string]error
}

func (f *fakeMailer) SendEmail(ctx context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[to]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentMail{to, subject, body})
	return nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fixture creates alice (two properties), bob (one property) and carol
// (no email). Charges exist for Jan..Mar 2024.
func fixture(t *testing.T) *storage.MemoryStorage {
	t.Helper()
	ctx := context.Background()
	st := storage.NewMemory()

	users := []storage.User{
		{ID: "u-alice", Username: "alice", Email: "alice@example.com", Role: "owner"},
		{ID: "u-bob", Username: "bob", Email: "bob@example.com", Role: "owner"},
		{ID: "u-carol", Username: "carol", Role: "owner"},
	}
	for _, u := range users {
		require.NoError(t, st.CreateUser(ctx, u))
	}

	props := map[string][]uint{}
	for _, owner := range []string{"u-alice", "u-alice", "u-bob", "u-carol"} {
		p := storage.Property{OwnerID: owner, Name: "Flat of " + owner}
		require.NoError(t, st.CreateProperty(ctx, &p))
		props[owner] = append(props[owner], p.ID)
	}

	for _, ids := range props {
		for _, id := range ids {
			for month := 1; month <= 3; month++ {
				st.PutMonthlyCharge(storage.MonthlyCharge{PropertyID: id, Year: 2024, Month: month, ResourceType: storage.ColdWater, Consumption: dec("4.000"), Amount: dec("180.00")})
				st.PutMonthlyCharge(storage.MonthlyCharge{PropertyID: id, Year: 2024, Month: month, ResourceType: storage.Electricity, Consumption: dec("100.000"), Amount: dec("650.00")})
			}
		}
	}
	require.NoError(t, st.CreatePayment(ctx, &storage.Payment{
		PropertyID: props["u-alice"][0], Year: 2024, Month: 3, Amount: dec("500.00"),
		PaidAt: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
	}))
	return st
}

func newJob(st storage.Storage, mailer *fakeMailer, alerter *alerting.Alerter) *StatementJob {
	svc := billing.NewService(st)
	now := func() time.Time { return time.Date(2024, 4, 1, 6, 0, 0, 0, time.UTC) }
	svc.SetClock(now)
	j := NewStatementJob(st, svc, mailer, alerter)
	j.now = now
	return j
}

func TestPreviousPeriod(t *testing.T) {
	assert.Equal(t, storage.Period{Year: 2024, Month: 3}, PreviousPeriod(time.Date(2024, 4, 1, 6, 0, 0, 0, time.UTC)))
	assert.Equal(t, storage.Period{Year: 2023, Month: 12}, PreviousPeriod(time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC)))
}

func TestBuildStatement(t *testing.T) {
	ctx := context.Background()
	st := fixture(t)
	svc := billing.NewService(st)
	svc.SetClock(func() time.Time { return time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC) })

	alice, err := st.GetUser(ctx, "u-alice")
	require.NoError(t, err)

	stmt, err := BuildStatement(ctx, st, svc, *alice, storage.Period{Year: 2024, Month: 3})
	require.NoError(t, err)
	require.NotNil(t, stmt)
	require.Len(t, stmt.Properties, 2)

	first := stmt.Properties[0]
	require.Len(t, first.Charges, 2)
	assert.Equal(t, storage.Electricity, first.Charges[0].ResourceType)
	assert.True(t, first.Total.Equal(dec("830.00")))
	assert.True(t, first.Paid.Equal(dec("500.00")))
	assert.True(t, first.Forecast.Equal(dec("830.00")))

	assert.True(t, stmt.Total.Equal(dec("1660.00")))
	assert.True(t, stmt.Due().Equal(dec("1160.00")))
	assert.Equal(t, "Utility statement for March 2024", stmt.Subject())

	body, err := stmt.Render()
	require.NoError(t, err)
	assert.Contains(t, body, "Hello alice")
	assert.Contains(t, body, "Payment 500.00 on 2024-03-10")
	assert.Contains(t, body, "due 1160.00")
}

func TestBuildStatement_NoProperties(t *testing.T) {
	st := storage.NewMemory()
	stmt, err := BuildStatement(context.Background(), st, billing.NewService(st), storage.User{ID: "nobody"}, storage.Period{Year: 2024, Month: 3})
	require.NoError(t, err)
	assert.Nil(t, stmt)
}

func TestRunOnce_SendsAndRecordsJob(t *testing.T) {
	st := fixture(t)
	mailer := &fakeMailer{}

	require.NoError(t, newJob(st, mailer, nil).RunOnce(context.Background()))

	require.Len(t, mailer.sent, 2)
	recipients := []string{mailer.sent[0].to, mailer.sent[1].to}
	assert.ElementsMatch(t, []string{"alice@example.com", "bob@example.com"}, recipients)

	job, ok := st.ScheduledJob(StatementJobName)
	require.True(t, ok)
	assert.True(t, job.LastSuccess)
	assert.Empty(t, job.LastError)
}

func TestRunOnce_FailureIsAlerted(t *testing.T) {
	st := fixture(t)
	mailer := &fakeMailer{fail: map[string]error{"bob@example.com": errors.New("mailbox full")}}

	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	err := newJob(st, mailer, alerting.NewAlerter(alerting.Config{WebhookURL: srv.URL})).RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "mailbox full")
	assert.Len(t, mailer.sent, 1)

	job, ok := st.ScheduledJob(StatementJobName)
	require.True(t, ok)
	assert.False(t, job.LastSuccess)
	assert.Contains(t, job.LastError, "bob")

	require.NotNil(t, got)
	assert.Equal(t, StatementJobName, got["job_name"])
	assert.EqualValues(t, 2, got["total_count"])
	assert.EqualValues(t, 1, got["failed_count"])
}

func TestRun_InvalidSchedule(t *testing.T) {
	st := storage.NewMemory()
	err := Run(context.Background(), newJob(st, &fakeMailer{}, nil).Job("not a schedule"))
	assert.ErrorContains(t, err, "invalid schedule")
	assert.ErrorContains(t, err, StatementJobName)
}

type countingPurger struct{ calls int }

func (p *countingPurger) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	p.calls++
	return 3, nil
}

func TestPurgeTokensJob(t *testing.T) {
	p := &countingPurger{}
	job := PurgeTokensJob("@hourly", p)
	assert.Equal(t, "purge_tokens", job.Name)
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, p.calls)
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, PurgeTokensJob("@hourly", &countingPurger{})) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

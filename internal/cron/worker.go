// Package cron runs scheduled background jobs such as monthly statements.
package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bher20/meterbill/internal/alerting"
	"github.com/bher20/meterbill/internal/billing"
	"github.com/bher20/meterbill/internal/metrics"
	"github.com/bher20/meterbill/internal/notification"
	"github.com/bher20/meterbill/internal/storage"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	StatementJobName = "monthly_statements"

	statementLockKey int64 = 42
)

// locker is implemented by storages that can serialise jobs across replicas.
type locker interface {
	AcquireAdvisoryLock(ctx context.Context, key int64) (release func(), ok bool, err error)
}

// StatementJob emails every user with an email address the statement of the previous month.
type StatementJob struct {
	st      storage.Storage
	billing *billing.Service
	mailer  notification.Mailer
	alerter *alerting.Alerter
	now     func() time.Time
}

func NewStatementJob(st storage.Storage, svc *billing.Service, mailer notification.Mailer, alerter *alerting.Alerter) *StatementJob {
	return &StatementJob{st: st, billing: svc, mailer: mailer, alerter: alerter, now: time.Now}
}

// Run sends the statements once. The returned alert summarises the run; the
// error is non-nil when any statement failed.
func (j *StatementJob) Run(ctx context.Context) (alerting.JobAlert, error) {
	started := j.now()
	period := PreviousPeriod(started)
	alert := alerting.JobAlert{JobName: StatementJobName, Timestamp: started}

	users, err := j.st.ListUsers(ctx)
	if err != nil {
		return alert, fmt.Errorf("list users: %w", err)
	}

	var errs []error
	for _, u := range users {
		if u.Email == "" {
			continue
		}
		stmt, err := BuildStatement(ctx, j.st, j.billing, u, period)
		if err == nil && stmt == nil {
			continue
		}
		alert.Total++
		if err == nil {
			err = j.send(ctx, u, stmt)
		}
		if err != nil {
			alert.Failed++
			alert.Failures = append(alert.Failures, alerting.Failure{Subject: u.Username, Error: err.Error()})
			errs = append(errs, fmt.Errorf("statement for %s: %w", u.Username, err))
			log.Error().Err(err).Str("user", u.Username).Msg("cron: statement failed")
			continue
		}
		alert.Succeeded++
	}
	alert.Duration = time.Since(started)
	return alert, errors.Join(errs...)
}

func (j *StatementJob) send(ctx context.Context, u storage.User, stmt *Statement) error {
	body, err := stmt.Render()
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	return j.mailer.SendEmail(ctx, u.Email, stmt.Subject(), body)
}

// RunOnce executes the job under the advisory lock when the storage offers
// one and records metrics, the scheduled_jobs row and any alert.
func (j *StatementJob) RunOnce(ctx context.Context) error {
	started := time.Now()

	if l, ok := j.st.(locker); ok {
		release, got, err := l.AcquireAdvisoryLock(ctx, statementLockKey)
		if err != nil {
			metrics.UpdateJobMetrics(StatementJobName, started, err)
			return fmt.Errorf("acquire advisory lock: %w", err)
		}
		if !got {
			log.Info().Str("job", StatementJobName).Msg("cron: advisory lock held by another worker, skipping run")
			return nil
		}
		defer release()
	}

	alert, runErr := j.Run(ctx)

	metrics.UpdateJobMetrics(StatementJobName, started, runErr)
	dur := time.Since(started)
	job := storage.ScheduledJob{
		Name:           StatementJobName,
		LastRunAt:      started,
		LastDurationMs: dur.Milliseconds(),
		LastSuccess:    runErr == nil,
	}
	if runErr != nil {
		job.LastError = runErr.Error()
	}
	if err := j.st.UpdateScheduledJob(ctx, job); err != nil {
		log.Error().Err(err).Msg("cron: update scheduled_jobs failed")
	}

	if alert.Failed > 0 && j.alerter != nil {
		if err := j.alerter.Send(ctx, alert); err != nil {
			log.Error().Err(err).Msg("cron: send alert failed")
		}
	}

	if runErr != nil {
		log.Warn().Err(runErr).Dur("duration", dur).Int("sent", alert.Succeeded).Int("failed", alert.Failed).
			Msgf("cron: job %s completed with errors", StatementJobName)
	} else {
		log.Info().Dur("duration", dur).Int("sent", alert.Succeeded).
			Msgf("cron: job %s completed successfully", StatementJobName)
	}
	return runErr
}

// Job is a unit of work run on a standard five field cron schedule.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Job returns the statement job bound to schedule.
func (j *StatementJob) Job(schedule string) Job {
	return Job{Name: StatementJobName, Schedule: schedule, Run: j.RunOnce}
}

// TokenPurger deletes expired tokens.
type TokenPurger interface {
	PurgeExpiredTokens(ctx context.Context) (int64, error)
}

// PurgeTokensJob removes expired access and refresh tokens.
func PurgeTokensJob(schedule string, p TokenPurger) Job {
	const name = "purge_tokens"
	return Job{Name: name, Schedule: schedule, Run: func(ctx context.Context) error {
		started := time.Now()
		n, err := p.PurgeExpiredTokens(ctx)
		metrics.UpdateJobMetrics(name, started, err)
		if err != nil {
			return err
		}
		log.Info().Int64("deleted", n).Msg("cron: expired tokens purged")
		return nil
	}}
}

// Run schedules jobs and blocks until ctx is cancelled.
func Run(ctx context.Context, jobs ...Job) error {
	c := cron.New()
	names := make(map[cron.EntryID]string, len(jobs))
	for _, job := range jobs {
		job := job
		id, err := c.AddFunc(job.Schedule, func() {
			if err := job.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Str("job", job.Name).Msg("cron: job failed")
			}
		})
		if err != nil {
			return fmt.Errorf("invalid schedule %q for %s: %w", job.Schedule, job.Name, err)
		}
		names[id] = job.Name
	}

	c.Start()
	log.Info().Int("jobs", len(jobs)).Msg("cron worker starting")
	for _, e := range c.Entries() {
		log.Info().Time("next_run", e.Next).Str("job", names[e.ID]).Msg("cron: scheduled")
	}

	<-ctx.Done()
	<-c.Stop().Done()
	log.Info().Msg("cron worker stopped")
	return nil
}

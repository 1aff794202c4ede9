// Package billing turns meter readings into monthly charges and reports on them.
package billing

import (
	"time"

	"github.com/bher20/meterbill/internal/storage"
)

type Service struct {
	st  storage.Storage
	now func() time.Time
}

func NewService(st storage.Storage) *Service {
	return &Service{st: st, now: time.Now}
}

// SetClock replaces the time source used for "current month" decisions.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

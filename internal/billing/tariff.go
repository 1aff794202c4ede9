package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/bher20/meterbill/internal/storage"
)

// SelectTariff picks the tariff for resource rt in force on day d.
// Among covering tariffs the latest ValidFrom wins and equal starts go
// to the highest id. It returns nil when nothing covers d.
func SelectTariff(tariffs []storage.Tariff, rt storage.ResourceType, d time.Time) *storage.Tariff {
	d = Day(d)
	var best *storage.Tariff
	for i := range tariffs {
		t := &tariffs[i]
		if t.ResourceType != rt || !t.Covers(d) {
			continue
		}
		if best == nil ||
			t.ValidFrom.After(best.ValidFrom) ||
			(t.ValidFrom.Equal(best.ValidFrom) && t.ID > best.ID) {
			best = t
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

func (s *Service) ResolveTariff(ctx context.Context, rt storage.ResourceType, d time.Time) (*storage.Tariff, error) {
	return resolveTariff(ctx, s.st, rt, d)
}

func resolveTariff(ctx context.Context, st storage.Storage, rt storage.ResourceType, d time.Time) (*storage.Tariff, error) {
	if !rt.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidResource, rt)
	}
	tariffs, err := st.ListTariffs(ctx, storage.TariffFilter{ResourceType: rt})
	if err != nil {
		return nil, fmt.Errorf("list tariffs: %w", err)
	}
	return SelectTariff(tariffs, rt, d), nil
}

package memory

import (
	"context"
	"sort"

	"github.com/goodtune/dtxcloud/internal/storage"
)

type statsStore struct {
	s *Store
}

func (st *statsStore) Upsert(ctx context.Context, stats storage.DailyStatistics) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	if st.s.StatsUpsertHook != nil {
		if err := st.s.StatsUpsertHook(stats); err != nil {
			return err
		}
	}

	key := storage.DayKey{UserID: stats.UserID, DeviceID: stats.DeviceID, Date: stats.StatDate}
	st.s.stats[key] = stats
	return nil
}

func (st *statsStore) List(ctx context.Context, filter storage.StatsFilter) ([]storage.DailyStatistics, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()

	rows := []storage.DailyStatistics{}
	for key, row := range st.s.stats {
		if filter.UserID != "" && key.UserID != filter.UserID {
			continue
		}
		if filter.DeviceID != "" && key.DeviceID != filter.DeviceID {
			continue
		}
		if filter.From != "" && key.Date < filter.From {
			continue
		}
		if filter.To != "" && key.Date > filter.To {
			continue
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].StatDate != rows[j].StatDate {
			return rows[i].StatDate < rows[j].StatDate
		}
		return rows[i].DeviceID < rows[j].DeviceID
	})
	return rows, nil
}

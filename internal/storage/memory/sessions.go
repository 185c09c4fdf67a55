package memory

import (
	"context"
	"sort"
	"time"

	"github.com/goodtune/dtxcloud/internal/clock"
	"github.com/goodtune/dtxcloud/internal/storage"
)

type sessionStore struct {
	s *Store
}

func (ss *sessionStore) InsertIfAbsent(ctx context.Context, session storage.UsageSession) (bool, error) {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()

	if ss.s.SessionInsertHook != nil {
		if err := ss.s.SessionInsertHook(session); err != nil {
			return false, err
		}
	}

	if _, exists := ss.s.sessions[session.ID]; exists {
		return false, nil
	}
	ss.s.sessions[session.ID] = session
	ss.s.stamp(session.ID)
	return true, nil
}

func (ss *sessionStore) InsertBatterySamples(ctx context.Context, samples []storage.BatterySample) error {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()

	if ss.s.SampleInsertHook != nil {
		if err := ss.s.SampleInsertHook(samples); err != nil {
			return err
		}
	}

	for _, sample := range samples {
		if _, ok := ss.s.sessions[sample.SessionID]; !ok {
			return storage.ErrNotFound
		}
	}
	for _, sample := range samples {
		ss.s.samples[sample.SessionID] = append(ss.s.samples[sample.SessionID], sample)
	}
	return nil
}

func (ss *sessionStore) BatterySamples(ctx context.Context, sessionID string) ([]storage.BatterySample, error) {
	ss.s.mu.RLock()
	defer ss.s.mu.RUnlock()

	samples := append([]storage.BatterySample{}, ss.s.samples[sessionID]...)
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].ElapsedSeconds < samples[j].ElapsedSeconds
	})
	return samples, nil
}

func (ss *sessionStore) Get(ctx context.Context, id string) (*storage.UsageSession, error) {
	ss.s.mu.RLock()
	defer ss.s.mu.RUnlock()

	session, ok := ss.s.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &session, nil
}

func (ss *sessionStore) Delete(ctx context.Context, id, userID string) error {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()

	session, ok := ss.s.sessions[id]
	if !ok || session.UserID != userID {
		return storage.ErrNotFound
	}
	delete(ss.s.sessions, id)
	delete(ss.s.samples, id)
	return nil
}

func (ss *sessionStore) match(filter storage.SessionFilter) []storage.UsageSession {
	var matched []storage.UsageSession
	for _, session := range ss.s.sessions {
		if filter.UserID != "" && session.UserID != filter.UserID {
			continue
		}
		if filter.DeviceID != "" && session.DeviceID != filter.DeviceID {
			continue
		}
		if filter.Since != nil && session.StartTime.Before(*filter.Since) {
			continue
		}
		if filter.Before != nil && !session.StartTime.Before(*filter.Before) {
			continue
		}
		matched = append(matched, session)
	}
	return matched
}

func (ss *sessionStore) List(ctx context.Context, filter storage.SessionFilter) ([]storage.UsageSession, int, error) {
	ss.s.mu.RLock()
	defer ss.s.mu.RUnlock()

	matched := ss.match(filter)
	sort.Slice(matched, func(i, j int) bool {
		return ss.s.newerFirst(matched[i].ID, matched[j].ID, matched[i].StartTime.UnixNano(), matched[j].StartTime.UnixNano())
	})

	return storage.Page(matched, filter.Limit, filter.Offset), len(matched), nil
}

func (ss *sessionStore) Count(ctx context.Context, filter storage.SessionFilter) (int, error) {
	ss.s.mu.RLock()
	defer ss.s.mu.RUnlock()

	return len(ss.match(filter)), nil
}

func (ss *sessionStore) CountUsers(ctx context.Context, since time.Time) (int, error) {
	ss.s.mu.RLock()
	defer ss.s.mu.RUnlock()

	users := make(map[string]struct{})
	for _, session := range ss.match(storage.SessionFilter{Since: &since}) {
		users[session.UserID] = struct{}{}
	}
	return len(users), nil
}

func (ss *sessionStore) Averages(ctx context.Context) (float64, float64, error) {
	ss.s.mu.RLock()
	defer ss.s.mu.RUnlock()

	if len(ss.s.sessions) == 0 {
		return 0, 0, nil
	}
	var duration, completion int
	for _, session := range ss.s.sessions {
		duration += session.WorkingDuration
		completion += session.CompletionPercent
	}
	n := float64(len(ss.s.sessions))
	return float64(duration) / n, float64(completion) / n, nil
}

func (ss *sessionStore) DayKeys(ctx context.Context, since time.Time) ([]storage.DayKey, error) {
	ss.s.mu.RLock()
	defer ss.s.mu.RUnlock()

	seen := make(map[storage.DayKey]struct{})
	keys := []storage.DayKey{}
	for _, session := range ss.match(storage.SessionFilter{Since: &since}) {
		key := storage.DayKey{
			UserID:   session.UserID,
			DeviceID: session.DeviceID,
			Date:     clock.DateString(session.StartTime),
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Date != keys[j].Date {
			return keys[i].Date < keys[j].Date
		}
		if keys[i].UserID != keys[j].UserID {
			return keys[i].UserID < keys[j].UserID
		}
		return keys[i].DeviceID < keys[j].DeviceID
	})
	return keys, nil
}

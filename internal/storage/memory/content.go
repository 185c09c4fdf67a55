package memory

import (
	"context"
	"sort"

	"github.com/goodtune/dtxcloud/internal/storage"
)

type announcementStore struct {
	s *Store
}

func (a *announcementStore) Create(ctx context.Context, announcement storage.Announcement) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	if _, exists := a.s.announcements[announcement.ID]; exists {
		return storage.ErrConflict
	}
	a.s.announcements[announcement.ID] = announcement
	a.s.stamp(announcement.ID)
	return nil
}

func (a *announcementStore) Get(ctx context.Context, id string) (*storage.Announcement, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()

	announcement, ok := a.s.announcements[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &announcement, nil
}

func (a *announcementStore) Update(ctx context.Context, announcement storage.Announcement) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	if _, ok := a.s.announcements[announcement.ID]; !ok {
		return storage.ErrNotFound
	}
	a.s.announcements[announcement.ID] = announcement
	return nil
}

func (a *announcementStore) Delete(ctx context.Context, id string) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	if _, ok := a.s.announcements[id]; !ok {
		return storage.ErrNotFound
	}
	delete(a.s.announcements, id)
	return nil
}

func (a *announcementStore) List(ctx context.Context, publishedOnly bool) ([]storage.Announcement, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()

	announcements := []storage.Announcement{}
	for _, announcement := range a.s.announcements {
		if publishedOnly && !announcement.IsPublished {
			continue
		}
		announcements = append(announcements, announcement)
	}

	sort.Slice(announcements, func(i, j int) bool {
		ai, aj := announcements[i], announcements[j]
		ti, tj := ai.CreatedAt, aj.CreatedAt
		if publishedOnly && ai.PublishedAt != nil && aj.PublishedAt != nil {
			ti, tj = *ai.PublishedAt, *aj.PublishedAt
		}
		return a.s.newerFirst(ai.ID, aj.ID, ti.UnixNano(), tj.UnixNano())
	})
	return announcements, nil
}

type adminLogStore struct {
	s *Store
}

func (l *adminLogStore) Append(ctx context.Context, entry storage.AdminLog) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	if l.s.AdminLogHook != nil {
		if err := l.s.AdminLogHook(entry); err != nil {
			return err
		}
	}

	l.s.adminLogs = append(l.s.adminLogs, entry)
	l.s.stamp(entry.ID)
	return nil
}

func (l *adminLogStore) List(ctx context.Context, filter storage.AdminLogFilter) ([]storage.AdminLog, int, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	var matched []storage.AdminLog
	for _, entry := range l.s.adminLogs {
		if filter.Action != "" && !storage.ContainsFold(entry.Action, filter.Action) {
			continue
		}
		if filter.TargetType != "" && entry.TargetType != filter.TargetType {
			continue
		}
		if filter.AdminID != "" && entry.AdminID != filter.AdminID {
			continue
		}
		matched = append(matched, entry)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return l.s.newerFirst(matched[i].ID, matched[j].ID, matched[i].CreatedAt.UnixNano(), matched[j].CreatedAt.UnixNano())
	})

	return storage.Page(matched, filter.Limit, filter.Offset), len(matched), nil
}

type goalStore struct {
	s *Store
}

func (g *goalStore) Create(ctx context.Context, goal storage.Goal) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()

	if _, exists := g.s.goals[goal.ID]; exists {
		return storage.ErrConflict
	}
	g.s.goals[goal.ID] = goal
	g.s.stamp(goal.ID)
	return nil
}

func (g *goalStore) Get(ctx context.Context, id string) (*storage.Goal, error) {
	g.s.mu.RLock()
	defer g.s.mu.RUnlock()

	goal, ok := g.s.goals[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &goal, nil
}

func (g *goalStore) Update(ctx context.Context, goal storage.Goal) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()

	if _, ok := g.s.goals[goal.ID]; !ok {
		return storage.ErrNotFound
	}
	g.s.goals[goal.ID] = goal
	return nil
}

func (g *goalStore) Delete(ctx context.Context, id string) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()

	if _, ok := g.s.goals[id]; !ok {
		return storage.ErrNotFound
	}
	delete(g.s.goals, id)
	return nil
}

func (g *goalStore) ListByUser(ctx context.Context, userID string) ([]storage.Goal, error) {
	g.s.mu.RLock()
	defer g.s.mu.RUnlock()

	goals := []storage.Goal{}
	for _, goal := range g.s.goals {
		if goal.UserID == userID {
			goals = append(goals, goal)
		}
	}
	sort.Slice(goals, func(i, j int) bool {
		return g.s.newerFirst(goals[i].ID, goals[j].ID, goals[i].CreatedAt.UnixNano(), goals[j].CreatedAt.UnixNano())
	})
	return goals, nil
}

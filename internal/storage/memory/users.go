package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/goodtune/dtxcloud/internal/storage"
)

type userStore struct {
	s *Store
}

func (u *userStore) Create(ctx context.Context, user storage.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	if _, exists := u.s.users[user.ID]; exists {
		return storage.ErrConflict
	}
	for _, existing := range u.s.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return storage.ErrConflict
		}
	}
	u.s.users[user.ID] = user
	u.s.stamp(user.ID)
	return nil
}

func (u *userStore) Get(ctx context.Context, id string) (*storage.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()

	user, ok := u.s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &user, nil
}

func (u *userStore) GetByEmail(ctx context.Context, email string) (*storage.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()

	for _, user := range u.s.users {
		if strings.EqualFold(user.Email, email) {
			return &user, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (u *userStore) Update(ctx context.Context, user storage.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	if _, ok := u.s.users[user.ID]; !ok {
		return storage.ErrNotFound
	}
	u.s.users[user.ID] = user
	return nil
}

func (u *userStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	user, ok := u.s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	user.LastLoginAt = &at
	u.s.users[id] = user
	return nil
}

func (u *userStore) List(ctx context.Context, filter storage.UserFilter) ([]storage.User, int, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()

	var matched []storage.User
	for _, user := range u.s.users {
		if filter.Search != "" &&
			!storage.ContainsFold(user.Email, filter.Search) &&
			!storage.ContainsFold(user.Name, filter.Search) {
			continue
		}
		matched = append(matched, user)
	}

	sort.Slice(matched, func(i, j int) bool {
		return u.s.newerFirst(matched[i].ID, matched[j].ID, matched[i].CreatedAt.UnixNano(), matched[j].CreatedAt.UnixNano())
	})

	return storage.Page(matched, filter.Limit, filter.Offset), len(matched), nil
}

func (u *userStore) Count(ctx context.Context, since *time.Time) (int, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()

	count := 0
	for _, user := range u.s.users {
		if since != nil && user.CreatedAt.Before(*since) {
			continue
		}
		count++
	}
	return count, nil
}

func (u *userStore) HasAdmin(ctx context.Context) (bool, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()

	for _, user := range u.s.users {
		if user.IsAdmin() {
			return true, nil
		}
	}
	return false, nil
}

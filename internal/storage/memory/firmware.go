package memory

import (
	"context"
	"sort"

	"github.com/goodtune/dtxcloud/internal/storage"
)

type firmwareStore struct {
	s *Store
}

func (f *firmwareStore) Create(ctx context.Context, fw storage.FirmwareVersion) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	if _, exists := f.s.firmware[fw.ID]; exists {
		return storage.ErrConflict
	}
	for _, existing := range f.s.firmware {
		if existing.VersionCode == fw.VersionCode {
			return storage.ErrConflict
		}
	}
	f.s.firmware[fw.ID] = fw
	f.s.stamp(fw.ID)
	return nil
}

func (f *firmwareStore) Get(ctx context.Context, id string) (*storage.FirmwareVersion, error) {
	f.s.mu.RLock()
	defer f.s.mu.RUnlock()

	fw, ok := f.s.firmware[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &fw, nil
}

func (f *firmwareStore) Latest(ctx context.Context) (*storage.FirmwareVersion, error) {
	f.s.mu.RLock()
	defer f.s.mu.RUnlock()

	var latest *storage.FirmwareVersion
	for _, fw := range f.s.firmware {
		if !fw.IsActive {
			continue
		}
		if latest == nil || fw.VersionCode > latest.VersionCode {
			candidate := fw
			latest = &candidate
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return latest, nil
}

func (f *firmwareStore) List(ctx context.Context) ([]storage.FirmwareVersion, error) {
	f.s.mu.RLock()
	defer f.s.mu.RUnlock()

	versions := []storage.FirmwareVersion{}
	for _, fw := range f.s.firmware {
		versions = append(versions, fw)
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].VersionCode > versions[j].VersionCode
	})
	return versions, nil
}

type rolloutStore struct {
	s *Store
}

func (r *rolloutStore) Create(ctx context.Context, rollout storage.FirmwareRollout) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.firmware[rollout.FirmwareVersionID]; !ok {
		return storage.ErrNotFound
	}
	if _, exists := r.s.rollouts[rollout.ID]; exists {
		return storage.ErrConflict
	}
	r.s.rollouts[rollout.ID] = rollout
	r.s.stamp(rollout.ID)
	return nil
}

func (r *rolloutStore) Get(ctx context.Context, id string) (*storage.FirmwareRollout, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rollout, ok := r.s.rollouts[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &rollout, nil
}

func (r *rolloutStore) Update(ctx context.Context, rollout storage.FirmwareRollout) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.rollouts[rollout.ID]; !ok {
		return storage.ErrNotFound
	}
	r.s.rollouts[rollout.ID] = rollout
	return nil
}

func (r *rolloutStore) sorted(keep func(storage.FirmwareRollout) bool) []storage.FirmwareRollout {
	rollouts := []storage.FirmwareRollout{}
	for _, rollout := range r.s.rollouts {
		if keep(rollout) {
			rollouts = append(rollouts, rollout)
		}
	}
	sort.Slice(rollouts, func(i, j int) bool {
		return r.s.newerFirst(rollouts[i].ID, rollouts[j].ID, rollouts[i].CreatedAt.UnixNano(), rollouts[j].CreatedAt.UnixNano())
	})
	return rollouts
}

func (r *rolloutStore) List(ctx context.Context) ([]storage.RolloutView, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rollouts := r.sorted(func(storage.FirmwareRollout) bool { return true })
	views := make([]storage.RolloutView, 0, len(rollouts))
	for _, rollout := range rollouts {
		fw := r.s.firmware[rollout.FirmwareVersionID]
		views = append(views, storage.RolloutView{
			FirmwareRollout:     rollout,
			FirmwareVersion:     fw.Version,
			FirmwareVersionCode: fw.VersionCode,
		})
	}
	return views, nil
}

func (r *rolloutStore) LatestActive(ctx context.Context, firmwareVersionID string) (*storage.FirmwareRollout, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rollouts := r.sorted(func(rollout storage.FirmwareRollout) bool {
		return rollout.FirmwareVersionID == firmwareVersionID && rollout.Status == storage.RolloutActive
	})
	if len(rollouts) == 0 {
		return nil, storage.ErrNotFound
	}
	return &rollouts[0], nil
}

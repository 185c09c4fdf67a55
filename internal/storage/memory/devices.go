package memory

import (
	"context"
	"sort"
	"time"

	"github.com/goodtune/dtxcloud/internal/storage"
)

type deviceStore struct {
	s *Store
}

func (d *deviceStore) Create(ctx context.Context, device storage.Device) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()

	if _, exists := d.s.devices[device.ID]; exists {
		return storage.ErrConflict
	}
	for _, existing := range d.s.devices {
		if existing.SerialNumber == device.SerialNumber {
			return storage.ErrConflict
		}
	}
	d.s.devices[device.ID] = device
	d.s.stamp(device.ID)
	return nil
}

func (d *deviceStore) Get(ctx context.Context, id string) (*storage.Device, error) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()

	device, ok := d.s.devices[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &device, nil
}

func (d *deviceStore) GetOwned(ctx context.Context, id, userID string) (*storage.Device, error) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()

	device, ok := d.s.devices[id]
	if !ok || device.UserID != userID {
		return nil, storage.ErrNotFound
	}
	return &device, nil
}

func (d *deviceStore) ListByUser(ctx context.Context, userID string) ([]storage.Device, error) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()

	devices := []storage.Device{}
	for _, device := range d.s.devices {
		if device.UserID == userID {
			devices = append(devices, device)
		}
	}
	d.sortNewest(devices)
	return devices, nil
}

func (d *deviceStore) List(ctx context.Context, filter storage.DeviceFilter) ([]storage.Device, int, error) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()

	var matched []storage.Device
	for _, device := range d.s.devices {
		if filter.Search != "" &&
			!storage.ContainsFold(device.SerialNumber, filter.Search) &&
			!storage.ContainsFold(device.ModelName, filter.Search) {
			continue
		}
		matched = append(matched, device)
	}
	d.sortNewest(matched)

	return storage.Page(matched, filter.Limit, filter.Offset), len(matched), nil
}

func (d *deviceStore) sortNewest(devices []storage.Device) {
	sort.Slice(devices, func(i, j int) bool {
		return d.s.newerFirst(devices[i].ID, devices[j].ID, devices[i].RegisteredAt.UnixNano(), devices[j].RegisteredAt.UnixNano())
	})
}

func (d *deviceStore) Update(ctx context.Context, device storage.Device) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()

	if _, ok := d.s.devices[device.ID]; !ok {
		return storage.ErrNotFound
	}
	d.s.devices[device.ID] = device
	return nil
}

func (d *deviceStore) Transfer(ctx context.Context, transfer storage.DeviceTransfer) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()

	device, ok := d.s.devices[transfer.DeviceID]
	if !ok || device.UserID != transfer.FromUserID {
		return storage.ErrNotFound
	}

	d.s.transfers = append(d.s.transfers, transfer)
	device.UserID = transfer.ToUserID
	device.UpdatedAt = transfer.CreatedAt
	d.s.devices[device.ID] = device
	return nil
}

func (d *deviceStore) IncrementSessions(ctx context.Context, id string, n int, syncedAt time.Time) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()

	device, ok := d.s.devices[id]
	if !ok {
		return storage.ErrNotFound
	}
	device.TotalSessions += n
	device.LastSyncedAt = &syncedAt
	device.UpdatedAt = syncedAt
	d.s.devices[id] = device
	return nil
}

func (d *deviceStore) Count(ctx context.Context, filter storage.DeviceCountFilter) (int, error) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()

	count := 0
	for _, device := range d.s.devices {
		if filter.UserID != "" && device.UserID != filter.UserID {
			continue
		}
		if filter.ActiveOnly && !device.IsActive {
			continue
		}
		if filter.Since != nil && device.RegisteredAt.Before(*filter.Since) {
			continue
		}
		count++
	}
	return count, nil
}

func (d *deviceStore) FirmwareDistribution(ctx context.Context) (map[string]int, error) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()

	dist := make(map[string]int)
	for _, device := range d.s.devices {
		if !device.IsActive {
			continue
		}
		version := "unknown"
		if device.FirmwareVersion != nil && *device.FirmwareVersion != "" {
			version = *device.FirmwareVersion
		}
		dist[version]++
	}
	return dist, nil
}

package crdt

import (
	"fmt"
	"math"
	"sync"

	"github.com/iudanet/peersync/internal/models"
)

// GlobalClock глобальные векторные часы устройства.
// Собственная координата растет только через Next + Observe на пути локальной операции,
// остальные координаты только увеличиваются через Observe.
type GlobalClock struct {
	clock    models.VectorClock
	deviceID string
	mu       sync.Mutex
}

// NewGlobalClock создает пустые часы для устройства
func NewGlobalClock(deviceID string) *GlobalClock {
	return &GlobalClock{
		clock:    make(models.VectorClock),
		deviceID: deviceID,
	}
}

// Next возвращает снимок часов с собственной координатой +1, не меняя сами часы.
// Часы продвигаются, когда операция с этим снимком принята (Observe).
func (gc *GlobalClock) Next() (models.VectorClock, error) {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	if gc.clock[gc.deviceID] == math.MaxUint64 {
		return nil, fmt.Errorf("%w: local counter overflow", ErrInvalidOperation)
	}
	next := gc.clock.Clone()
	next[gc.deviceID]++
	return next, nil
}

// Observe поднимает часы до поточечного максимума с remote
func (gc *GlobalClock) Observe(remote models.VectorClock) {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	gc.clock.Merge(remote)
}

// Snapshot возвращает копию текущих часов
func (gc *GlobalClock) Snapshot() models.VectorClock {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	return gc.clock.Clone()
}

// Counter возвращает собственную координату устройства
func (gc *GlobalClock) Counter() uint64 {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	return gc.clock[gc.deviceID]
}

// DeviceID возвращает идентификатор владельца часов
func (gc *GlobalClock) DeviceID() string {
	return gc.deviceID
}

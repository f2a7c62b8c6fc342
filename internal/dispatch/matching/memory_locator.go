package matching

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ridedispatch/internal/dispatch/domain"
)

// MemoryLocator keeps the latest driver positions in process. It serves both
// sides of the location flow: the ingest path writes through the
// domain.LocationSink methods, the matcher reads through Locate.
type MemoryLocator struct {
	mu        sync.RWMutex
	positions map[uuid.UUID]domain.DriverPosition
}

// NewMemoryLocator constructs an empty locator.
func NewMemoryLocator() *MemoryLocator {
	return &MemoryLocator{positions: make(map[uuid.UUID]domain.DriverPosition)}
}

// Locate returns the last known position. An unseen driver resolves as
// unknown and unavailable rather than an error.
func (m *MemoryLocator) Locate(_ context.Context, driverID uuid.UUID) (domain.DriverPosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[driverID]
	if !ok {
		return domain.DriverPosition{DriverID: driverID}, nil
	}
	return pos, nil
}

// UpdateLocation stores the driver's coordinates.
func (m *MemoryLocator) UpdateLocation(_ context.Context, driverID uuid.UUID, point domain.GeoPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos := m.positions[driverID]
	pos.DriverID = driverID
	pos.Point = point
	pos.Known = true
	pos.Updated = time.Now().UTC()
	m.positions[driverID] = pos
	return nil
}

// SetAvailability flips the driver's availability flag.
func (m *MemoryLocator) SetAvailability(_ context.Context, driverID uuid.UUID, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos := m.positions[driverID]
	pos.DriverID = driverID
	pos.Available = available
	pos.Updated = time.Now().UTC()
	m.positions[driverID] = pos
	return nil
}

package consultation

import (
	"context"
	"errors"
	"strconv"
	"sync"
)

var ErrJourneyNotFound = errors.New("journey not found")

// JourneyRepository persists finalized journeys. Ids are opaque strings.
type JourneyRepository interface {
	Store(ctx context.Context, j Journey) (string, error)
	Fetch(ctx context.Context, id string) (*Journey, error)
}

type memoryRepo struct {
	mu       sync.RWMutex
	next     int
	journeys map[string]Journey
}

// NewMemoryRepository returns a process-local journey store. Ids are assigned
// monotonically starting at "1".
func NewMemoryRepository() JourneyRepository {
	return &memoryRepo{journeys: make(map[string]Journey)}
}

func (r *memoryRepo) Store(_ context.Context, j Journey) (string, error) {
	j.Normalize()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	id := strconv.Itoa(r.next)
	r.journeys[id] = j
	return id, nil
}

func (r *memoryRepo) Fetch(_ context.Context, id string) (*Journey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.journeys[id]
	if !ok {
		return nil, ErrJourneyNotFound
	}
	return &j, nil
}

package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/NagabhushanAdiga/shop-e/internal/repositories"
)

// CounterRepository hands out sequence values under a single lock.
type CounterRepository struct {
	mu     sync.Mutex
	values map[string]int64
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

func NewCounterRepository() *CounterRepository {
	return &CounterRepository{values: make(map[string]int64)}
}

func (r *CounterRepository) Next(_ context.Context, counterID string, step int64) (int64, error) {
	const op = "memory.counters.next"
	counterID = strings.TrimSpace(counterID)
	if counterID == "" {
		return 0, repositories.NewCounterError(op, repositories.CounterErrorInvalidInput, counterID, nil)
	}
	if step <= 0 {
		step = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[counterID] += step
	return r.values[counterID], nil
}

// Package inventory implements stock adjustment for action.update_inventory nodes.
package inventory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Ingenimax/workflow-engine/pkg/workflow"
)

// stockError is a permanent adjustment failure
type stockError struct {
	msg string
}

func (e *stockError) Error() string   { return e.msg }
func (e *stockError) Permanent() bool { return true }

var (
	// ErrUnknownSKU is returned when the sku has no stock record
	ErrUnknownSKU error = &stockError{msg: "unknown sku"}

	// ErrInsufficientStock is returned when a delta would make stock negative
	ErrInsufficientStock error = &stockError{msg: "insufficient stock"}
)

// Memory keeps stock in process. Adjustments carrying an idempotency key are
// applied once; repeats return the quantity recorded the first time.
type Memory struct {
	mu      sync.Mutex
	stock   map[string]int
	applied map[string]int
}

// NewMemory creates an in-memory inventory seeded with stock
func NewMemory(stock map[string]int) *Memory {
	m := &Memory{stock: make(map[string]int, len(stock)), applied: make(map[string]int)}
	for sku, qty := range stock {
		m.stock[sku] = qty
	}
	return m
}

// Adjust implements InventoryAdjuster
func (m *Memory) Adjust(ctx context.Context, sku string, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, hasKey := workflow.IdempotencyKeyFromContext(ctx)
	if hasKey {
		if qty, ok := m.applied[key]; ok {
			return qty, nil
		}
	}

	qty, ok := m.stock[sku]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSKU, sku)
	}
	if qty+delta < 0 {
		return 0, fmt.Errorf("%w: %s has %d, delta %d", ErrInsufficientStock, sku, qty, delta)
	}
	m.stock[sku] = qty + delta
	if hasKey {
		m.applied[key] = qty + delta
	}
	return qty + delta, nil
}

// SetStock sets the quantity of a sku
func (m *Memory) SetStock(_ context.Context, sku string, qty int) error {
	m.mu.Lock()
	m.stock[sku] = qty
	m.mu.Unlock()
	return nil
}

// Stock returns the quantity of a sku
func (m *Memory) Stock(_ context.Context, sku string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	qty, ok := m.stock[sku]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSKU, sku)
	}
	return qty, nil
}

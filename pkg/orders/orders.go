// Package orders implements order status updates for action.update_order_status nodes.
package orders

import (
	"context"
	"fmt"
	"sync"

	"github.com/Ingenimax/workflow-engine/pkg/interfaces"
)

// orderError is a permanent update failure
type orderError struct {
	msg string
}

func (e *orderError) Error() string   { return e.msg }
func (e *orderError) Permanent() bool { return true }

// ErrUnknownOrder is returned when no order has the given id
var ErrUnknownOrder error = &orderError{msg: "unknown order"}

// Memory keeps order statuses in process
type Memory struct {
	mu       sync.Mutex
	statuses map[string]string
}

// NewMemory creates an in-memory order store seeded with statuses by order id
func NewMemory(statuses map[string]string) *Memory {
	m := &Memory{statuses: make(map[string]string, len(statuses))}
	for id, s := range statuses {
		m.statuses[id] = s
	}
	return m
}

// UpdateOrderStatus implements OrderUpdater
func (m *Memory) UpdateOrderStatus(_ context.Context, orderID, status string) (*interfaces.OrderStatusChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.statuses[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	m.statuses[orderID] = status
	return &interfaces.OrderStatusChange{OrderID: orderID, Previous: prev, Status: status}, nil
}

// Status returns the status of an order
func (m *Memory) Status(_ context.Context, orderID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.statuses[orderID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	return s, nil
}

// SetStatus creates or overwrites an order
func (m *Memory) SetStatus(_ context.Context, orderID, status string) error {
	m.mu.Lock()
	m.statuses[orderID] = status
	m.mu.Unlock()
	return nil
}

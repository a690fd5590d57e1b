package interfaces

import "context"

// InventoryAdjuster applies stock deltas for action.update_inventory.
// Implementations must be safe for concurrent use by many runs.
type InventoryAdjuster interface {
	// Adjust applies delta to the stock of sku and returns the new quantity.
	// The idempotency key, when present in ctx, identifies retries of the same attempt.
	Adjust(ctx context.Context, sku string, delta int) (int, error)
}

// OrderStatusChange reports the result of an OrderUpdater call
type OrderStatusChange struct {
	OrderID  string `json:"orderId"`
	Previous string `json:"previous"`
	Status   string `json:"status"`
}

// OrderUpdater changes order statuses for action.update_order_status.
// Setting the status an order already has is not an error.
type OrderUpdater interface {
	UpdateOrderStatus(ctx context.Context, orderID, status string) (*OrderStatusChange, error)
}

// Notification is a message delivered through a Notifier
type Notification struct {
	Channel   string
	Recipient string
	Subject   string
	Message   string
}

// Notifier delivers notifications over one channel
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Issue is the payload of an IssueCreator call
type Issue struct {
	Owner  string
	Repo   string
	Title  string
	Body   string
	Labels []string
}

// IssueRef identifies a created issue
type IssueRef struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// IssueCreator opens issues in a tracker
type IssueCreator interface {
	CreateIssue(ctx context.Context, issue Issue) (*IssueRef, error)
}

// QuotaLimiter enforces per-organization token budgets for AI nodes
type QuotaLimiter interface {
	// Check returns an error when orgID cannot spend estimated more tokens
	Check(ctx context.Context, orgID string, estimated int) error

	// Record adds used tokens to the organization's counter
	Record(ctx context.Context, orgID string, used int) error
}

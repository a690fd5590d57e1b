package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/Ingenimax/workflow-engine/pkg/expression"
	"github.com/Ingenimax/workflow-engine/pkg/interfaces"
	"github.com/Ingenimax/workflow-engine/pkg/workflow"
)

// ChannelSlack is the notifier channel used by action.slack
const ChannelSlack = "slack"

// InventoryConnector applies stock deltas through the host's InventoryAdjuster
type InventoryConnector struct {
	adjuster interfaces.InventoryAdjuster
}

// NewInventoryConnector creates an inventory connector
func NewInventoryConnector(adjuster interfaces.InventoryAdjuster) *InventoryConnector {
	return &InventoryConnector{adjuster: adjuster}
}

// Ports implements Connector
func (c *InventoryConnector) Ports() []string { return []string{workflow.PortOut} }

// Execute implements Connector
func (c *InventoryConnector) Execute(ctx context.Context, inv Invocation) Result {
	data, ok := inv.Node.Data.(*workflow.UpdateInventoryAction)
	if !ok {
		return Fatalf("unexpected data %T for %s", inv.Node.Data, inv.Node.Type)
	}
	if c.adjuster == nil {
		return Fatalf("no inventory adjuster is configured")
	}

	sku, err := inv.Interpolate(data.SKU)
	if err != nil {
		return Fatal(fmt.Errorf("sku: %w", err))
	}

	qty, err := c.adjuster.Adjust(ctx, sku, data.Delta)
	if err != nil {
		return FromCapabilityError(fmt.Errorf("failed to adjust stock of %s: %w", sku, err))
	}
	return Success(map[string]interface{}{
		"sku":      sku,
		"delta":    data.Delta,
		"quantity": qty,
	}, "")
}

// TransferConnector moves stock between warehouses as a debit of the source
// followed by a credit of the destination. Warehouse stock is addressed as
// "<warehouse>/<sku>" on the InventoryAdjuster. Each leg carries its own
// idempotency key derived from the node's, so a retry after a failed credit
// does not debit twice.
type TransferConnector struct {
	adjuster interfaces.InventoryAdjuster
}

// NewTransferConnector creates a stock transfer connector
func NewTransferConnector(adjuster interfaces.InventoryAdjuster) *TransferConnector {
	return &TransferConnector{adjuster: adjuster}
}

// Ports implements Connector
func (c *TransferConnector) Ports() []string { return []string{workflow.PortOut} }

// WarehouseSKU is the inventory key of a sku held in a warehouse
func WarehouseSKU(warehouse, sku string) string {
	return warehouse + "/" + sku
}

// Execute implements Connector
func (c *TransferConnector) Execute(ctx context.Context, inv Invocation) Result {
	data, ok := inv.Node.Data.(*workflow.TransferStockAction)
	if !ok {
		return Fatalf("unexpected data %T for %s", inv.Node.Data, inv.Node.Type)
	}
	if c.adjuster == nil {
		return Fatalf("no inventory adjuster is configured")
	}

	t := *data
	var err error
	scope := inv.Scope()
	for _, f := range []*string{&t.SKU, &t.FromWarehouse, &t.ToWarehouse} {
		if *f, err = expression.Interpolate(*f, scope); err != nil {
			return Fatal(err)
		}
	}
	if t.FromWarehouse == t.ToWarehouse {
		return Fatalf("cannot transfer %s within warehouse %s", t.SKU, t.FromWarehouse)
	}
	from, to := WarehouseSKU(t.FromWarehouse, t.SKU), WarehouseSKU(t.ToWarehouse, t.SKU)

	fromQty, err := c.adjuster.Adjust(leg(ctx, "debit"), from, -t.Quantity)
	if err != nil {
		return FromCapabilityError(fmt.Errorf("failed to debit %s: %w", from, err))
	}
	toQty, err := c.adjuster.Adjust(leg(ctx, "credit"), to, t.Quantity)
	if err != nil {
		if !IsPermanent(err) {
			return Retryable(fmt.Errorf("failed to credit %s: %w", to, err))
		}
		// the credit can never land, so put the debited units back
		if _, rerr := c.adjuster.Adjust(leg(ctx, "refund"), from, t.Quantity); rerr != nil {
			return Retryable(fmt.Errorf("failed to refund %s after rejected credit: %w", from, rerr))
		}
		return Fatal(fmt.Errorf("failed to credit %s: %w", to, err))
	}

	return Success(map[string]interface{}{
		"sku":      t.SKU,
		"quantity": t.Quantity,
		"from":     map[string]interface{}{"warehouse": t.FromWarehouse, "quantity": fromQty},
		"to":       map[string]interface{}{"warehouse": t.ToWarehouse, "quantity": toQty},
	}, "")
}

// leg derives a per-step idempotency key from the node's key
func leg(ctx context.Context, step string) context.Context {
	key, ok := workflow.IdempotencyKeyFromContext(ctx)
	if !ok {
		return ctx
	}
	return workflow.WithIdempotencyKey(ctx, key+":"+step)
}

// OrderStatusConnector sets order statuses through the host's OrderUpdater
type OrderStatusConnector struct {
	orders interfaces.OrderUpdater
}

// NewOrderStatusConnector creates an order status connector
func NewOrderStatusConnector(orders interfaces.OrderUpdater) *OrderStatusConnector {
	return &OrderStatusConnector{orders: orders}
}

// Ports implements Connector
func (c *OrderStatusConnector) Ports() []string { return []string{workflow.PortOut} }

// Execute implements Connector
func (c *OrderStatusConnector) Execute(ctx context.Context, inv Invocation) Result {
	data, ok := inv.Node.Data.(*workflow.OrderStatusAction)
	if !ok {
		return Fatalf("unexpected data %T for %s", inv.Node.Data, inv.Node.Type)
	}
	if c.orders == nil {
		return Fatalf("no order store is configured")
	}

	orderID, err := inv.Interpolate(data.OrderID)
	if err != nil {
		return Fatal(fmt.Errorf("orderId: %w", err))
	}
	status, err := inv.Interpolate(data.Status)
	if err != nil {
		return Fatal(fmt.Errorf("status: %w", err))
	}
	status = strings.ToLower(strings.TrimSpace(status))
	if !workflow.ValidOrderStatus(status) {
		return Fatalf("status %q is not a known order status", status)
	}

	change, err := c.orders.UpdateOrderStatus(ctx, orderID, status)
	if err != nil {
		return FromCapabilityError(fmt.Errorf("failed to update order %s: %w", orderID, err))
	}
	return Success(map[string]interface{}{
		"orderId":  change.OrderID,
		"previous": change.Previous,
		"status":   change.Status,
	}, "")
}

// NotifyConnector delivers action.notify and action.slack nodes through
// notifiers keyed by channel
type NotifyConnector struct {
	notifiers      map[string]interfaces.Notifier
	defaultChannel string
}

// NewNotifyConnector creates a notify connector. Nodes without a channel use defaultChannel.
func NewNotifyConnector(notifiers map[string]interfaces.Notifier, defaultChannel string) *NotifyConnector {
	return &NotifyConnector{notifiers: notifiers, defaultChannel: defaultChannel}
}

// Ports implements Connector
func (c *NotifyConnector) Ports() []string { return []string{workflow.PortOut} }

// Execute implements Connector
func (c *NotifyConnector) Execute(ctx context.Context, inv Invocation) Result {
	var n interfaces.Notification
	switch d := inv.Node.Data.(type) {
	case *workflow.NotifyAction:
		n = interfaces.Notification{Channel: d.Channel, Recipient: d.Recipient, Subject: d.Subject, Message: d.Message}
	case *workflow.SlackAction:
		n = interfaces.Notification{Channel: ChannelSlack, Recipient: d.Channel, Message: d.Message}
	default:
		return Fatalf("unexpected data %T for %s", inv.Node.Data, inv.Node.Type)
	}
	if n.Channel == "" {
		n.Channel = c.defaultChannel
	}

	notifier, ok := c.notifiers[n.Channel]
	if !ok {
		return Fatalf("no notifier is configured for channel %q", n.Channel)
	}

	var err error
	scope := inv.Scope()
	for _, f := range []*string{&n.Recipient, &n.Subject, &n.Message} {
		if *f, err = expression.Interpolate(*f, scope); err != nil {
			return Fatal(err)
		}
	}

	if err := notifier.Notify(ctx, n); err != nil {
		return FromCapabilityError(fmt.Errorf("failed to notify over %s: %w", n.Channel, err))
	}
	return Success(map[string]interface{}{
		"channel":   n.Channel,
		"recipient": n.Recipient,
		"message":   n.Message,
	}, "")
}

// IssueConnector opens an issue for action.github
type IssueConnector struct {
	issues interfaces.IssueCreator
}

// NewIssueConnector creates an issue connector
func NewIssueConnector(issues interfaces.IssueCreator) *IssueConnector {
	return &IssueConnector{issues: issues}
}

// Ports implements Connector
func (c *IssueConnector) Ports() []string { return []string{workflow.PortOut} }

// Execute implements Connector
func (c *IssueConnector) Execute(ctx context.Context, inv Invocation) Result {
	data, ok := inv.Node.Data.(*workflow.GitHubAction)
	if !ok {
		return Fatalf("unexpected data %T for %s", inv.Node.Data, inv.Node.Type)
	}
	if c.issues == nil {
		return Fatalf("no issue tracker is configured")
	}

	issue := interfaces.Issue{
		Owner:  data.Owner,
		Repo:   data.Repo,
		Title:  data.Title,
		Body:   data.Body,
		Labels: data.Labels,
	}
	var err error
	scope := inv.Scope()
	for _, f := range []*string{&issue.Title, &issue.Body} {
		if *f, err = expression.Interpolate(*f, scope); err != nil {
			return Fatal(err)
		}
	}

	ref, err := c.issues.CreateIssue(ctx, issue)
	if err != nil {
		return FromCapabilityError(fmt.Errorf("failed to create issue in %s/%s: %w", issue.Owner, issue.Repo, err))
	}
	return Success(map[string]interface{}{
		"number": ref.Number,
		"url":    ref.URL,
	}, "")
}

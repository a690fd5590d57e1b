package workflow

import (
	"encoding/json"
	"fmt"
)

// NodeData is the type specific configuration of a node. The concrete type is
// selected by the node's type tag.
type NodeData interface {
	NodeType() NodeType
}

// Meta holds the editor fields every node carries
type Meta struct {
	Label       string `json:"label,omitempty"`
	Description string `json:"description,omitempty"`
}

// ManualTrigger starts a run on explicit invocation
type ManualTrigger struct {
	Meta
}

// ScheduleTrigger starts a run on a cron tick driven by the host scheduler
type ScheduleTrigger struct {
	Meta
	Cron     string `json:"cron"`
	Timezone string `json:"timezone,omitempty"`
}

// EventTrigger starts a run when an event with a matching name is fired
type EventTrigger struct {
	Meta
	EventName string `json:"eventName"`
}

// HTTPAction issues an HTTP request
type HTTPAction struct {
	Meta
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      interface{}       `json:"body,omitempty"`
	TimeoutMs int64             `json:"timeoutMs,omitempty"`
}

// DelayAction suspends the branch for a fixed duration
type DelayAction struct {
	Meta
	DurationMs int64 `json:"durationMs"`
}

// NotifyAction sends a notification over a host channel
type NotifyAction struct {
	Meta
	Channel   string `json:"channel,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Message   string `json:"message"`
}

// SlackAction posts a message to Slack
type SlackAction struct {
	Meta
	Channel string `json:"channel,omitempty"`
	Message string `json:"message"`
}

// GitHubAction opens an issue in a repository
type GitHubAction struct {
	Meta
	Owner  string   `json:"owner"`
	Repo   string   `json:"repo"`
	Title  string   `json:"title"`
	Body   string   `json:"body,omitempty"`
	Labels []string `json:"labels,omitempty"`
}

// UpdateInventoryAction applies a stock delta to a product
type UpdateInventoryAction struct {
	Meta
	SKU   string `json:"sku"`
	Delta int    `json:"delta"`
}

// TransferStockAction moves quantity units of a sku between two warehouses
type TransferStockAction struct {
	Meta
	SKU           string `json:"sku"`
	Quantity      int    `json:"quantity"`
	FromWarehouse string `json:"fromWarehouse"`
	ToWarehouse   string `json:"toWarehouse"`
}

// OrderStatusAction sets the status of an order
type OrderStatusAction struct {
	Meta
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

// Order statuses accepted by action.update_order_status
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

// ValidOrderStatus reports whether s is a known order status
func ValidOrderStatus(s string) bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// IfCondition selects the true or false port from an expression
type IfCondition struct {
	Meta
	Expression string `json:"expression"`
}

// PromptAI sends a single prompt to a model
type PromptAI struct {
	Meta
	Model        string   `json:"model,omitempty"`
	Prompt       string   `json:"prompt"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
}

// MemoryConfig configures conversation memory for an agent node
type MemoryConfig struct {
	// Type is "buffer" (in-process) or "redis"
	Type       string `json:"type,omitempty"`
	SessionKey string `json:"sessionKey,omitempty"`
	WindowSize int    `json:"windowSize,omitempty"`
}

// AgentAI runs a model with instructions and optional memory
type AgentAI struct {
	Meta
	Model        string        `json:"model,omitempty"`
	Prompt       string        `json:"prompt"`
	Instructions string        `json:"instructions,omitempty"`
	Temperature  *float64      `json:"temperature,omitempty"`
	Memory       *MemoryConfig `json:"memory,omitempty"`
	MemoryNodeID string        `json:"memoryNodeId,omitempty"`
}

// MemoryAI is configuration only and is never executed
type MemoryAI struct {
	Meta
	MemoryConfig
}

// UnknownData keeps the raw payload of a type tag this build does not know
type UnknownData struct {
	Type NodeType
	Raw  json.RawMessage
}

func (ManualTrigger) NodeType() NodeType         { return NodeTypeManualTrigger }
func (ScheduleTrigger) NodeType() NodeType       { return NodeTypeScheduleTrigger }
func (EventTrigger) NodeType() NodeType          { return NodeTypeEventTrigger }
func (HTTPAction) NodeType() NodeType            { return NodeTypeHTTP }
func (DelayAction) NodeType() NodeType           { return NodeTypeDelay }
func (NotifyAction) NodeType() NodeType          { return NodeTypeNotify }
func (SlackAction) NodeType() NodeType           { return NodeTypeSlack }
func (GitHubAction) NodeType() NodeType          { return NodeTypeGitHub }
func (UpdateInventoryAction) NodeType() NodeType { return NodeTypeUpdateInventory }
func (TransferStockAction) NodeType() NodeType   { return NodeTypeTransferStock }
func (OrderStatusAction) NodeType() NodeType     { return NodeTypeOrderStatus }
func (IfCondition) NodeType() NodeType           { return NodeTypeIf }
func (PromptAI) NodeType() NodeType              { return NodeTypePrompt }
func (AgentAI) NodeType() NodeType               { return NodeTypeAgent }
func (MemoryAI) NodeType() NodeType              { return NodeTypeMemory }
func (u UnknownData) NodeType() NodeType         { return u.Type }

// MarshalJSON writes the raw payload back unchanged
func (u UnknownData) MarshalJSON() ([]byte, error) {
	if len(u.Raw) == 0 {
		return []byte("{}"), nil
	}
	return u.Raw, nil
}

var dataFactories = map[NodeType]func() NodeData{
	NodeTypeManualTrigger:   func() NodeData { return &ManualTrigger{} },
	NodeTypeScheduleTrigger: func() NodeData { return &ScheduleTrigger{} },
	NodeTypeEventTrigger:    func() NodeData { return &EventTrigger{} },
	NodeTypeHTTP:            func() NodeData { return &HTTPAction{} },
	NodeTypeDelay:           func() NodeData { return &DelayAction{} },
	NodeTypeNotify:          func() NodeData { return &NotifyAction{} },
	NodeTypeSlack:           func() NodeData { return &SlackAction{} },
	NodeTypeGitHub:          func() NodeData { return &GitHubAction{} },
	NodeTypeUpdateInventory: func() NodeData { return &UpdateInventoryAction{} },
	NodeTypeTransferStock:   func() NodeData { return &TransferStockAction{} },
	NodeTypeOrderStatus:     func() NodeData { return &OrderStatusAction{} },
	NodeTypeIf:              func() NodeData { return &IfCondition{} },
	NodeTypePrompt:          func() NodeData { return &PromptAI{} },
	NodeTypeAgent:           func() NodeData { return &AgentAI{} },
	NodeTypeMemory:          func() NodeData { return &MemoryAI{} },
}

// KnownNodeTypes returns every type tag with a typed data payload
func KnownNodeTypes() []NodeType {
	out := make([]NodeType, 0, len(dataFactories))
	for t := range dataFactories {
		out = append(out, t)
	}
	return out
}

func decodeNodeData(t NodeType, raw json.RawMessage) (NodeData, error) {
	factory, ok := dataFactories[t]
	if !ok {
		return UnknownData{Type: t, Raw: append(json.RawMessage(nil), raw...)}, nil
	}

	data := factory()
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, data); err != nil {
			return nil, fmt.Errorf("invalid %s data: %w", t, err)
		}
	}
	return data, nil
}

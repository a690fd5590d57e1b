package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NodeType is the tag identifying a node's category and behavior, e.g. "condition.if"
type NodeType string

const (
	NodeTypeManualTrigger   NodeType = "trigger.manual"
	NodeTypeScheduleTrigger NodeType = "trigger.schedule"
	NodeTypeEventTrigger    NodeType = "trigger.event"

	NodeTypeHTTP            NodeType = "action.http"
	NodeTypeDelay           NodeType = "action.delay"
	NodeTypeNotify          NodeType = "action.notify"
	NodeTypeSlack           NodeType = "action.slack"
	NodeTypeGitHub          NodeType = "action.github"
	NodeTypeUpdateInventory NodeType = "action.update_inventory"
	NodeTypeTransferStock   NodeType = "action.transfer_stock"
	NodeTypeOrderStatus     NodeType = "action.update_order_status"

	NodeTypeIf NodeType = "condition.if"

	NodeTypePrompt NodeType = "ai.prompt"
	NodeTypeAgent  NodeType = "ai.agent"
	NodeTypeMemory NodeType = "ai.memory"
)

// Category groups node types
type Category string

const (
	CategoryTrigger   Category = "trigger"
	CategoryAction    Category = "action"
	CategoryCondition Category = "condition"
	CategoryAI        Category = "ai"
)

// Category derives the category from the type tag prefix
func (t NodeType) Category() Category {
	prefix, _, _ := strings.Cut(string(t), ".")
	return Category(prefix)
}

// IsTrigger reports whether the type is an entry point
func (t NodeType) IsTrigger() bool {
	return t.Category() == CategoryTrigger
}

// Port names
const (
	PortOut   = "out"
	PortTrue  = "true"
	PortFalse = "false"
)

// Position is the editor canvas position, ignored by the engine
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node represents a node in the workflow graph
type Node struct {
	ID       string   `json:"id"`
	Type     NodeType `json:"type"`
	Category Category `json:"category,omitempty"`
	Data     NodeData `json:"data,omitempty"`
	Position Position `json:"position"`
}

// Edge represents a connection between nodes in the workflow graph
type Edge struct {
	ID         string `json:"id"`
	Source     string `json:"source"`
	Target     string `json:"target"`
	SourcePort string `json:"sourcePort,omitempty"`
	// Condition is reserved for edge level gating and is not evaluated
	Condition string `json:"condition,omitempty"`
}

// Definition is the persisted graph produced by the editor
type Definition struct {
	Version int    `json:"version"`
	Nodes   []Node `json:"nodes"`
	Edges   []Edge `json:"edges"`
}

type rawNode struct {
	ID       string          `json:"id"`
	Type     NodeType        `json:"type"`
	Category Category        `json:"category,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Position Position        `json:"position"`
}

// UnmarshalJSON decodes the type specific data payload keyed by the node type
func (n *Node) UnmarshalJSON(b []byte) error {
	var raw rawNode
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	data, err := decodeNodeData(raw.Type, raw.Data)
	if err != nil {
		return fmt.Errorf("node %q: %w", raw.ID, err)
	}

	*n = Node{
		ID:       raw.ID,
		Type:     raw.Type,
		Category: raw.Category,
		Data:     data,
		Position: raw.Position,
	}
	return nil
}

// Clone returns a deep copy of the definition
func (d *Definition) Clone() (*Definition, error) {
	if d == nil {
		return nil, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot definition: %w", err)
	}
	var out Definition
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("failed to snapshot definition: %w", err)
	}
	return &out, nil
}

// NodeByID returns the node with the given id
func (d *Definition) NodeByID(id string) (*Node, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// Triggers returns the trigger nodes of the given type in definition order
func (d *Definition) Triggers(t NodeType) []*Node {
	var out []*Node
	for i := range d.Nodes {
		if d.Nodes[i].Type == t {
			out = append(out, &d.Nodes[i])
		}
	}
	return out
}

package workflow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const branchingJSON = `{
  "version": 1,
  "nodes": [
    {"id": "t1", "type": "trigger.manual", "category": "trigger", "data": {"label": "Start"}, "position": {"x": 0, "y": 0}},
    {"id": "c1", "type": "condition.if", "category": "condition", "data": {"expression": "input.total > 1000"}, "position": {"x": 0, "y": 100}},
    {"id": "n1", "type": "action.notify", "category": "action", "data": {"message": "big order"}, "position": {"x": -100, "y": 200}},
    {"id": "h1", "type": "action.http", "category": "action", "data": {"method": "POST", "url": "http://example.com"}, "position": {"x": 100, "y": 200}},
    {"id": "orphan", "type": "action.delay", "category": "action", "data": {"durationMs": 10}, "position": {"x": 500, "y": 500}}
  ],
  "edges": [
    {"id": "e1", "source": "t1", "target": "c1"},
    {"id": "e2", "source": "c1", "target": "n1", "sourcePort": "true"},
    {"id": "e3", "source": "c1", "target": "h1", "sourcePort": "false"}
  ]
}`

func mustParse(t *testing.T, s string) *Definition {
	t.Helper()
	def, err := ParseDefinition([]byte(s))
	require.NoError(t, err)
	return def
}

func node(id string, typ NodeType, data NodeData) Node {
	return Node{ID: id, Type: typ, Data: data}
}

func edge(id, src, dst, port string) Edge {
	return Edge{ID: id, Source: src, Target: dst, SourcePort: port}
}

func TestValidate(t *testing.T) {
	t.Run("editor shape builds a graph", func(t *testing.T) {
		g, err := Validate(mustParse(t, branchingJSON))
		require.NoError(t, err)

		assert.Equal(t, []string{"t1", "c1", "n1", "h1"}, g.TopologicalOrder("t1"))
		assert.Equal(t, []string{"n1"}, g.Successors("c1", PortTrue))
		assert.Equal(t, []string{"h1"}, g.Successors("c1", PortFalse))
		assert.Equal(t, []string{PortOut}, g.Ports("t1"))

		pred, ok := g.Predecessor("t1", "c1")
		require.True(t, ok)
		assert.Equal(t, "t1", pred)

		n, ok := g.Node("c1")
		require.True(t, ok)
		assert.Equal(t, "input.total > 1000", n.Data.(*IfCondition).Expression)
	})

	t.Run("triggers may share a successor", func(t *testing.T) {
		def := &Definition{
			Nodes: []Node{
				node("manual", NodeTypeManualTrigger, &ManualTrigger{}),
				node("created", NodeTypeEventTrigger, &EventTrigger{EventName: "order.created"}),
				node("check", NodeTypeIf, &IfCondition{Expression: "input.total > 100"}),
				node("a", NodeTypeNotify, &NotifyAction{Message: "big"}),
				node("b", NodeTypeNotify, &NotifyAction{Message: "small"}),
			},
			Edges: []Edge{
				edge("e1", "manual", "check", ""),
				edge("e2", "created", "check", ""),
				edge("e3", "check", "a", PortTrue),
				edge("e4", "check", "b", PortFalse),
			},
		}
		g, err := Validate(def)
		require.NoError(t, err)

		assert.Equal(t, []string{"manual", "check", "a", "b"}, g.TopologicalOrder("manual"))
		assert.Equal(t, []string{"created", "check", "a", "b"}, g.TopologicalOrder("created"))

		pred, ok := g.Predecessor("manual", "check")
		require.True(t, ok)
		assert.Equal(t, "manual", pred)
		pred, ok = g.Predecessor("created", "check")
		require.True(t, ok)
		assert.Equal(t, "created", pred)
	})

	t.Run("fan in inside one trigger subgraph is still rejected", func(t *testing.T) {
		def := &Definition{
			Nodes: []Node{
				node("manual", NodeTypeManualTrigger, &ManualTrigger{}),
				node("created", NodeTypeEventTrigger, &EventTrigger{EventName: "order.created"}),
				node("wait", NodeTypeDelay, &DelayAction{DurationMs: 1}),
				node("a", NodeTypeNotify, &NotifyAction{Message: "done"}),
			},
			Edges: []Edge{
				edge("e1", "manual", "a", ""),
				edge("e2", "created", "wait", ""),
				edge("e3", "created", "a", ""),
				edge("e4", "wait", "a", ""),
			},
		}
		_, err := Validate(def)
		var gerr *GraphError
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, GraphErrorFanIn, gerr.Kind)
		assert.Equal(t, "a", gerr.NodeID)
		assert.Equal(t, "e4", gerr.EdgeID)
	})

	t.Run("order status may be templated", func(t *testing.T) {
		def := &Definition{
			Nodes: []Node{
				node("t", NodeTypeManualTrigger, &ManualTrigger{}),
				node("o", NodeTypeOrderStatus, &OrderStatusAction{OrderID: "{{ trigger.id }}", Status: "{{ trigger.next }}"}),
				node("mv", NodeTypeTransferStock, &TransferStockAction{SKU: "A", Quantity: 1, FromWarehouse: "w1", ToWarehouse: "w2"}),
			},
			Edges: []Edge{edge("e1", "t", "o", ""), edge("e2", "o", "mv", "")},
		}
		_, err := Validate(def)
		require.NoError(t, err)
	})

	t.Run("idempotent", func(t *testing.T) {
		def := mustParse(t, branchingJSON)
		g1, err := Validate(def)
		require.NoError(t, err)
		g2, err := Validate(def)
		require.NoError(t, err)
		assert.Equal(t, g1, g2)
	})

	t.Run("snapshot is independent of the source definition", func(t *testing.T) {
		def := mustParse(t, branchingJSON)
		g, err := Validate(def)
		require.NoError(t, err)

		def.Nodes[1].Data.(*IfCondition).Expression = "false"
		n, _ := g.Node("c1")
		assert.Equal(t, "input.total > 1000", n.Data.(*IfCondition).Expression)
	})

	t.Run("category is inferred", func(t *testing.T) {
		def := &Definition{Nodes: []Node{node("t", NodeTypeManualTrigger, &ManualTrigger{})}}
		g, err := Validate(def)
		require.NoError(t, err)
		n, _ := g.Node("t")
		assert.Equal(t, CategoryTrigger, n.Category)
	})

	t.Run("unreachable nodes are inert", func(t *testing.T) {
		def := &Definition{
			Nodes: []Node{
				node("t", NodeTypeManualTrigger, &ManualTrigger{}),
				node("x", NodeType("custom.unknown"), UnknownData{Type: "custom.unknown"}),
				node("y", NodeTypeNotify, &NotifyAction{}),
				node("z", NodeTypeNotify, &NotifyAction{}),
			},
			Edges: []Edge{
				edge("e1", "x", "y", ""),
				edge("e2", "y", "x", ""),
				edge("e3", "z", "y", ""),
			},
		}
		g, err := Validate(def)
		require.NoError(t, err)
		assert.Equal(t, []string{"t"}, g.TopologicalOrder("t"))
	})

	t.Run("orders are kept per trigger", func(t *testing.T) {
		def := &Definition{
			Nodes: []Node{
				node("m", NodeTypeManualTrigger, &ManualTrigger{}),
				node("ev", NodeTypeEventTrigger, &EventTrigger{EventName: "order.created"}),
				node("a", NodeTypeNotify, &NotifyAction{Message: "a"}),
				node("b", NodeTypeNotify, &NotifyAction{Message: "b"}),
			},
			Edges: []Edge{edge("e1", "m", "a", ""), edge("e2", "ev", "b", "")},
		}
		g, err := Validate(def)
		require.NoError(t, err)
		assert.Equal(t, []string{"m", "a"}, g.TopologicalOrder("m"))
		assert.Equal(t, []string{"ev", "b"}, g.TopologicalOrder("ev"))
		require.Len(t, g.Triggers(NodeTypeEventTrigger), 1)
		assert.Equal(t, "ev", g.Triggers(NodeTypeEventTrigger)[0].ID)
	})

	t.Run("memory node is folded into the agent", func(t *testing.T) {
		def := &Definition{
			Nodes: []Node{
				node("t", NodeTypeManualTrigger, &ManualTrigger{}),
				node("agent", NodeTypeAgent, &AgentAI{Prompt: "hi", MemoryNodeID: "mem"}),
				node("mem", NodeTypeMemory, &MemoryAI{MemoryConfig: MemoryConfig{Type: "redis", SessionKey: "s", WindowSize: 5}}),
			},
			Edges: []Edge{edge("e1", "t", "agent", "")},
		}
		g, err := Validate(def)
		require.NoError(t, err)

		n, _ := g.Node("agent")
		mem := n.Data.(*AgentAI).Memory
		require.NotNil(t, mem)
		assert.Equal(t, "redis", mem.Type)
		assert.Equal(t, 5, mem.WindowSize)
		assert.Nil(t, def.Nodes[1].Data.(*AgentAI).Memory)
	})
}

func TestValidateErrors(t *testing.T) {
	trigger := node("t", NodeTypeManualTrigger, &ManualTrigger{})
	notify := func(id string) Node { return node(id, NodeTypeNotify, &NotifyAction{Message: id}) }
	cond := node("c", NodeTypeIf, &IfCondition{Expression: "true"})

	tests := []struct {
		name string
		def  *Definition
		opts []ValidateOption
		kind GraphErrorKind
	}{
		{
			name: "dangling target",
			def:  &Definition{Nodes: []Node{trigger}, Edges: []Edge{edge("e1", "t", "missing", "")}},
			kind: GraphErrorDanglingEdge,
		},
		{
			name: "dangling source on an unreachable edge",
			def:  &Definition{Nodes: []Node{trigger, notify("a")}, Edges: []Edge{edge("e1", "ghost", "a", "")}},
			kind: GraphErrorDanglingEdge,
		},
		{
			name: "duplicate node id",
			def:  &Definition{Nodes: []Node{trigger, notify("a"), notify("a")}},
			kind: GraphErrorDuplicateID,
		},
		{
			name: "category mismatch",
			def:  &Definition{Nodes: []Node{{ID: "t", Type: NodeTypeManualTrigger, Category: CategoryAction, Data: &ManualTrigger{}}}},
			kind: GraphErrorInvalidNode,
		},
		{
			name: "cycle",
			def: &Definition{
				Nodes: []Node{trigger, notify("a"), cond},
				Edges: []Edge{edge("e1", "t", "c", ""), edge("e2", "c", "a", "true"), edge("e3", "a", "c", "")},
			},
			kind: GraphErrorCycle,
		},
		{
			name: "self loop",
			def: &Definition{
				Nodes: []Node{trigger, cond},
				Edges: []Edge{edge("e1", "t", "c", ""), edge("e2", "c", "c", "false")},
			},
			kind: GraphErrorCycle,
		},
		{
			name: "fan in",
			def: &Definition{
				Nodes: []Node{trigger, cond, notify("a")},
				Edges: []Edge{edge("e1", "t", "c", ""), edge("e2", "c", "a", "true"), edge("e3", "c", "a", "false")},
			},
			kind: GraphErrorFanIn,
		},
		{
			name: "unknown port",
			def: &Definition{
				Nodes: []Node{trigger, cond, notify("a")},
				Edges: []Edge{edge("e1", "t", "c", ""), edge("e2", "c", "a", "maybe")},
			},
			kind: GraphErrorUnknownPort,
		},
		{
			name: "branching edge without port",
			def: &Definition{
				Nodes: []Node{trigger, cond, notify("a")},
				Edges: []Edge{edge("e1", "t", "c", ""), edge("e2", "c", "a", "")},
			},
			kind: GraphErrorUnknownPort,
		},
		{
			name: "unknown reachable type",
			def: &Definition{
				Nodes: []Node{trigger, node("x", "action.teleport", UnknownData{Type: "action.teleport"})},
				Edges: []Edge{edge("e1", "t", "x", "")},
			},
			kind: GraphErrorUnknownNodeType,
		},
		{
			name: "edge into trigger",
			def: &Definition{
				Nodes: []Node{trigger, node("t2", NodeTypeManualTrigger, &ManualTrigger{})},
				Edges: []Edge{edge("e1", "t", "t2", "")},
			},
			kind: GraphErrorInvalidEdge,
		},
		{
			name: "memory wired with an edge",
			def: &Definition{
				Nodes: []Node{trigger, node("m", NodeTypeMemory, &MemoryAI{})},
				Edges: []Edge{edge("e1", "t", "m", "")},
			},
			kind: GraphErrorMemoryEdge,
		},
		{
			name: "memory reference to a non memory node",
			def: &Definition{
				Nodes: []Node{trigger, notify("a"), node("ag", NodeTypeAgent, &AgentAI{Prompt: "p", MemoryNodeID: "a"})},
				Edges: []Edge{edge("e1", "t", "ag", "")},
			},
			kind: GraphErrorInvalidNode,
		},
		{
			name: "missing expression",
			def: &Definition{
				Nodes: []Node{trigger, node("c", NodeTypeIf, &IfCondition{})},
				Edges: []Edge{edge("e1", "t", "c", "")},
			},
			kind: GraphErrorInvalidNode,
		},
		{
			name: "transfer within one warehouse",
			def: &Definition{
				Nodes: []Node{trigger, node("mv", NodeTypeTransferStock, &TransferStockAction{SKU: "A", Quantity: 2, FromWarehouse: "w1", ToWarehouse: "w1"})},
				Edges: []Edge{edge("e1", "t", "mv", "")},
			},
			kind: GraphErrorInvalidNode,
		},
		{
			name: "transfer of nothing",
			def: &Definition{
				Nodes: []Node{trigger, node("mv", NodeTypeTransferStock, &TransferStockAction{SKU: "A", FromWarehouse: "w1", ToWarehouse: "w2"})},
				Edges: []Edge{edge("e1", "t", "mv", "")},
			},
			kind: GraphErrorInvalidNode,
		},
		{
			name: "unknown order status",
			def: &Definition{
				Nodes: []Node{trigger, node("o", NodeTypeOrderStatus, &OrderStatusAction{OrderID: "1", Status: "lost"})},
				Edges: []Edge{edge("e1", "t", "o", "")},
			},
			kind: GraphErrorInvalidNode,
		},
		{
			name: "strict branches",
			def: &Definition{
				Nodes: []Node{trigger, cond, notify("a")},
				Edges: []Edge{edge("e1", "t", "c", ""), edge("e2", "c", "a", "true")},
			},
			opts: []ValidateOption{WithStrictBranches()},
			kind: GraphErrorIncompleteBranch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Validate(tt.def, tt.opts...)
			require.Error(t, err)
			assert.Nil(t, g)
			assert.True(t, IsGraphError(err))
			assert.Equal(t, tt.kind, GraphErrorKindOf(err))
		})
	}
}

func TestValidateCycle(t *testing.T) {
	t.Run("reports the cycle path", func(t *testing.T) {
		def := &Definition{
			Nodes: []Node{
				node("t", NodeTypeManualTrigger, &ManualTrigger{}),
				node("a", NodeTypeNotify, &NotifyAction{Message: "a"}),
				node("b", NodeTypeNotify, &NotifyAction{Message: "b"}),
				node("c", NodeTypeNotify, &NotifyAction{Message: "c"}),
			},
			Edges: []Edge{
				edge("e1", "t", "a", ""),
				edge("e2", "a", "b", ""),
				edge("e3", "b", "c", ""),
				edge("e4", "c", "b", ""),
			},
		}

		_, err := Validate(def)
		ge, ok := AsGraphError(err)
		require.True(t, ok)
		assert.Equal(t, GraphErrorCycle, ge.Kind)
		assert.Equal(t, []string{"b", "c", "b"}, ge.Path)
		assert.Contains(t, ge.Error(), "b -> c -> b")
	})

	t.Run("cycle unreachable from any trigger is inert", func(t *testing.T) {
		def := &Definition{
			Nodes: []Node{
				node("t", NodeTypeManualTrigger, &ManualTrigger{}),
				node("a", NodeTypeNotify, &NotifyAction{Message: "a"}),
				node("b", NodeTypeNotify, &NotifyAction{Message: "b"}),
			},
			Edges: []Edge{
				edge("e1", "a", "b", ""),
				edge("e2", "b", "a", ""),
			},
		}
		_, err := Validate(def)
		require.NoError(t, err)
	})
}

func TestNodeJSON(t *testing.T) {
	t.Run("unknown type keeps raw data", func(t *testing.T) {
		in := `{"id":"x","type":"action.sheets","data":{"sheetId":"abc"},"position":{"x":1,"y":2}}`
		var n Node
		require.NoError(t, json.Unmarshal([]byte(in), &n))

		u, ok := n.Data.(UnknownData)
		require.True(t, ok)
		assert.JSONEq(t, `{"sheetId":"abc"}`, string(u.Raw))

		out, err := json.Marshal(n)
		require.NoError(t, err)
		assert.Contains(t, string(out), `"sheetId":"abc"`)
	})

	t.Run("invalid data is an error", func(t *testing.T) {
		in := `{"id":"d","type":"action.delay","data":{"durationMs":"soon"}}`
		var n Node
		assert.Error(t, json.Unmarshal([]byte(in), &n))
	})

	t.Run("missing data decodes to zero config", func(t *testing.T) {
		var n Node
		require.NoError(t, json.Unmarshal([]byte(`{"id":"m","type":"trigger.manual"}`), &n))
		assert.IsType(t, &ManualTrigger{}, n.Data)
	})
}

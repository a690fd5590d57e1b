package workflow

import (
	"fmt"
	"strings"
)

// PortResolver declares the source ports of a node type. The connector
// registry implements it so custom node types participate in validation.
type PortResolver interface {
	SourcePorts(t NodeType) ([]string, bool)
}

// PortResolverFunc adapts a function to PortResolver
type PortResolverFunc func(t NodeType) ([]string, bool)

// SourcePorts implements PortResolver
func (f PortResolverFunc) SourcePorts(t NodeType) ([]string, bool) { return f(t) }

// DefaultPorts resolves the source ports of the built-in node types
var DefaultPorts PortResolver = PortResolverFunc(defaultSourcePorts)

func defaultSourcePorts(t NodeType) ([]string, bool) {
	switch t {
	case NodeTypeIf:
		return []string{PortTrue, PortFalse}, true
	case NodeTypeMemory:
		return nil, true
	}
	if _, ok := dataFactories[t]; ok {
		return []string{PortOut}, true
	}
	return nil, false
}

// ValidateOption configures Validate
type ValidateOption func(*validateOptions)

type validateOptions struct {
	strictBranches bool
	ports          PortResolver
}

// WithStrictBranches requires every branching node to have an edge on each of its ports
func WithStrictBranches() ValidateOption {
	return func(o *validateOptions) {
		o.strictBranches = true
	}
}

// WithPortResolver sets the resolver used to look up node ports
func WithPortResolver(r PortResolver) ValidateOption {
	return func(o *validateOptions) {
		if r != nil {
			o.ports = r
		}
	}
}

// ValidatedGraph is an immutable, structurally sound snapshot of a definition.
// It is safe to share across concurrent runs.
type ValidatedGraph struct {
	definition *Definition
	nodes      map[string]*Node
	ports      map[string][]string
	outgoing   map[string][]Edge
	incoming   map[string]map[string]Edge
	triggers   []string
	orders     map[string][]string
}

// Validate checks the definition and builds a ValidatedGraph from a snapshot of it.
// The first structural problem found is returned as a *GraphError.
func Validate(def *Definition, opts ...ValidateOption) (*ValidatedGraph, error) {
	options := &validateOptions{ports: DefaultPorts}
	for _, opt := range opts {
		opt(options)
	}

	if def == nil {
		return nil, newGraphError(GraphErrorInvalidNode, "", "", "definition is nil")
	}

	snapshot, err := def.Clone()
	if err != nil {
		return nil, err
	}

	g := &ValidatedGraph{
		definition: snapshot,
		nodes:      make(map[string]*Node, len(snapshot.Nodes)),
		ports:      make(map[string][]string),
		outgoing:   make(map[string][]Edge),
		incoming:   make(map[string]map[string]Edge),
		orders:     make(map[string][]string),
	}

	if err := g.indexNodes(); err != nil {
		return nil, err
	}
	if err := g.checkEdges(); err != nil {
		return nil, err
	}

	reachable := g.reachableFrom(g.triggers...)

	if err := g.resolvePorts(reachable, options.ports); err != nil {
		return nil, err
	}
	if err := g.linkEdges(reachable); err != nil {
		return nil, err
	}
	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	if err := g.checkFanIn(); err != nil {
		return nil, err
	}
	if options.strictBranches {
		if err := g.checkBranches(reachable); err != nil {
			return nil, err
		}
	}
	if err := g.foldMemory(reachable); err != nil {
		return nil, err
	}
	if err := g.checkData(reachable); err != nil {
		return nil, err
	}

	for _, id := range g.triggers {
		g.orders[id] = g.topoOrder(id)
	}
	return g, nil
}

func (g *ValidatedGraph) indexNodes() error {
	for i := range g.definition.Nodes {
		n := &g.definition.Nodes[i]
		if n.ID == "" {
			return newGraphError(GraphErrorInvalidNode, "", "", "node at index %d has no id", i)
		}
		if _, dup := g.nodes[n.ID]; dup {
			return newGraphError(GraphErrorDuplicateID, n.ID, "", "node id is used more than once")
		}
		if n.Type == "" {
			return newGraphError(GraphErrorInvalidNode, n.ID, "", "node has no type")
		}
		if n.Category == "" {
			n.Category = n.Type.Category()
		} else if n.Category != n.Type.Category() {
			return newGraphError(GraphErrorInvalidNode, n.ID, "",
				"category %q does not match type %q", n.Category, n.Type)
		}
		g.nodes[n.ID] = n
		if n.Type.IsTrigger() {
			g.triggers = append(g.triggers, n.ID)
		}
	}
	return nil
}

func (g *ValidatedGraph) checkEdges() error {
	seen := make(map[string]bool, len(g.definition.Edges))
	for i, e := range g.definition.Edges {
		if e.ID == "" {
			return newGraphError(GraphErrorInvalidEdge, "", "", "edge at index %d has no id", i)
		}
		if seen[e.ID] {
			return newGraphError(GraphErrorDuplicateID, "", e.ID, "edge id is used more than once")
		}
		seen[e.ID] = true

		if _, ok := g.nodes[e.Source]; !ok {
			return newGraphError(GraphErrorDanglingEdge, e.Source, e.ID, "source node %q does not exist", e.Source)
		}
		if _, ok := g.nodes[e.Target]; !ok {
			return newGraphError(GraphErrorDanglingEdge, e.Target, e.ID, "target node %q does not exist", e.Target)
		}
	}
	return nil
}

// reachableFrom walks raw edges, so it is usable before edges are linked
func (g *ValidatedGraph) reachableFrom(roots ...string) map[string]bool {
	adj := make(map[string][]string)
	for _, e := range g.definition.Edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
	}

	seen := make(map[string]bool)
	queue := append([]string(nil), roots...)
	for _, r := range roots {
		seen[r] = true
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adj[id] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}

func (g *ValidatedGraph) resolvePorts(reachable map[string]bool, resolver PortResolver) error {
	for _, n := range g.definition.Nodes {
		if !reachable[n.ID] {
			continue
		}
		ports, ok := resolver.SourcePorts(n.Type)
		if !ok {
			return newGraphError(GraphErrorUnknownNodeType, n.ID, "", "no connector is registered for type %q", n.Type)
		}
		g.ports[n.ID] = append([]string(nil), ports...)
	}
	return nil
}

func (g *ValidatedGraph) linkEdges(reachable map[string]bool) error {
	for _, e := range g.definition.Edges {
		if !reachable[e.Source] {
			continue
		}
		src, dst := g.nodes[e.Source], g.nodes[e.Target]

		if src.Type == NodeTypeMemory || dst.Type == NodeTypeMemory {
			return newGraphError(GraphErrorMemoryEdge, dst.ID, e.ID,
				"memory nodes are configuration only; reference them with memoryNodeId")
		}
		if dst.Type.IsTrigger() {
			return newGraphError(GraphErrorInvalidEdge, dst.ID, e.ID, "trigger nodes cannot have incoming edges")
		}

		port, err := g.normalizePort(src, e)
		if err != nil {
			return err
		}
		e.SourcePort = port

		g.outgoing[e.Source] = append(g.outgoing[e.Source], e)
	}
	return nil
}

// checkFanIn runs once per trigger: only one trigger fires per run, so two
// triggers may share a successor as long as each subgraph stays single-parent.
func (g *ValidatedGraph) checkFanIn() error {
	for _, t := range g.triggers {
		sub := g.reachableLinked(t)
		parents := make(map[string]Edge)
		for _, e := range g.definition.Edges {
			if !sub[e.Source] {
				continue
			}
			if first, dup := parents[e.Target]; dup {
				return newGraphError(GraphErrorFanIn, e.Target, e.ID,
					"node already has an incoming edge %q", first.ID)
			}
			parents[e.Target] = e
		}
		g.incoming[t] = parents
	}
	return nil
}

func (g *ValidatedGraph) normalizePort(src *Node, e Edge) (string, error) {
	ports := g.ports[src.ID]
	switch {
	case len(ports) == 0:
		return "", newGraphError(GraphErrorUnknownPort, src.ID, e.ID, "node type %q has no output ports", src.Type)
	case e.SourcePort == "" && len(ports) == 1:
		return ports[0], nil
	case e.SourcePort == "":
		return "", newGraphError(GraphErrorUnknownPort, src.ID, e.ID,
			"sourcePort is required, expected one of [%s]", strings.Join(ports, ", "))
	}
	for _, p := range ports {
		if p == e.SourcePort {
			return p, nil
		}
	}
	return "", newGraphError(GraphErrorUnknownPort, src.ID, e.ID,
		"port %q is not one of [%s]", e.SourcePort, strings.Join(ports, ", "))
}

func (g *ValidatedGraph) checkBranches(reachable map[string]bool) error {
	for _, n := range g.definition.Nodes {
		if !reachable[n.ID] || len(g.ports[n.ID]) < 2 {
			continue
		}
		for _, p := range g.ports[n.ID] {
			if len(g.Successors(n.ID, p)) == 0 {
				return newGraphError(GraphErrorIncompleteBranch, n.ID, "", "port %q has no outgoing edge", p)
			}
		}
	}
	return nil
}

// foldMemory copies referenced ai.memory configuration inline into ai.agent nodes
func (g *ValidatedGraph) foldMemory(reachable map[string]bool) error {
	for _, n := range g.definition.Nodes {
		if !reachable[n.ID] {
			continue
		}
		agent, ok := n.Data.(*AgentAI)
		if !ok || agent.MemoryNodeID == "" {
			continue
		}
		ref, ok := g.nodes[agent.MemoryNodeID]
		if !ok {
			return newGraphError(GraphErrorInvalidNode, n.ID, "", "memory node %q does not exist", agent.MemoryNodeID)
		}
		mem, ok := ref.Data.(*MemoryAI)
		if !ok {
			return newGraphError(GraphErrorInvalidNode, n.ID, "", "node %q is not an ai.memory node", agent.MemoryNodeID)
		}
		if agent.Memory == nil {
			cfg := mem.MemoryConfig
			agent.Memory = &cfg
		}
	}
	return nil
}

func (g *ValidatedGraph) checkData(reachable map[string]bool) error {
	for _, n := range g.definition.Nodes {
		if !reachable[n.ID] {
			continue
		}
		if err := validateNodeData(n.Data); err != nil {
			return newGraphError(GraphErrorInvalidNode, n.ID, "", "%s", err.Error())
		}
	}
	return nil
}

func validateNodeData(data NodeData) error {
	switch d := data.(type) {
	case *ScheduleTrigger:
		if strings.TrimSpace(d.Cron) == "" {
			return fmt.Errorf("cron is required")
		}
	case *EventTrigger:
		if d.EventName == "" {
			return fmt.Errorf("eventName is required")
		}
	case *HTTPAction:
		if d.URL == "" {
			return fmt.Errorf("url is required")
		}
		if d.TimeoutMs < 0 {
			return fmt.Errorf("timeoutMs must not be negative")
		}
	case *DelayAction:
		if d.DurationMs < 0 {
			return fmt.Errorf("durationMs must not be negative")
		}
	case *UpdateInventoryAction:
		if d.SKU == "" {
			return fmt.Errorf("sku is required")
		}
	case *TransferStockAction:
		if d.SKU == "" || d.FromWarehouse == "" || d.ToWarehouse == "" {
			return fmt.Errorf("sku, fromWarehouse and toWarehouse are required")
		}
		if d.Quantity <= 0 {
			return fmt.Errorf("quantity must be positive")
		}
		if d.FromWarehouse == d.ToWarehouse {
			return fmt.Errorf("fromWarehouse and toWarehouse must differ")
		}
	case *OrderStatusAction:
		if d.OrderID == "" {
			return fmt.Errorf("orderId is required")
		}
		// templated statuses are checked when the node runs
		if !strings.Contains(d.Status, "{{") && !ValidOrderStatus(d.Status) {
			return fmt.Errorf("status %q is not a known order status", d.Status)
		}
	case *GitHubAction:
		if d.Owner == "" || d.Repo == "" || d.Title == "" {
			return fmt.Errorf("owner, repo and title are required")
		}
	case *IfCondition:
		if strings.TrimSpace(d.Expression) == "" {
			return fmt.Errorf("expression is required")
		}
	case *PromptAI:
		if d.Prompt == "" {
			return fmt.Errorf("prompt is required")
		}
	case *AgentAI:
		if d.Prompt == "" {
			return fmt.Errorf("prompt is required")
		}
		if d.Memory != nil && d.Memory.WindowSize < 0 {
			return fmt.Errorf("memory windowSize must not be negative")
		}
	}
	return nil
}

// checkAcyclic runs a depth-first search with a recursion stack from each trigger
func (g *ValidatedGraph) checkAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))
	var stack []string
	var cycle []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, e := range g.outgoing[id] {
			switch color[e.Target] {
			case white:
				if dfs(e.Target) {
					return true
				}
			case gray:
				for i, s := range stack {
					if s == e.Target {
						cycle = append(append([]string(nil), stack[i:]...), e.Target)
						break
					}
				}
				return true
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, t := range g.triggers {
		if color[t] == white && dfs(t) {
			return &GraphError{
				Kind:    GraphErrorCycle,
				NodeID:  cycle[0],
				Path:    cycle,
				Message: "graph reachable from a trigger must be acyclic",
			}
		}
	}
	return nil
}

// topoOrder applies Kahn's algorithm to the subgraph reachable from the trigger.
// Ties keep edge definition order.
func (g *ValidatedGraph) topoOrder(trigger string) []string {
	sub := g.reachableLinked(trigger)

	indeg := make(map[string]int, len(sub))
	for id := range sub {
		for _, e := range g.outgoing[id] {
			indeg[e.Target]++
		}
	}

	queue := []string{trigger}
	order := make([]string, 0, len(sub))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, e := range g.outgoing[id] {
			indeg[e.Target]--
			if indeg[e.Target] == 0 {
				queue = append(queue, e.Target)
			}
		}
	}
	return order
}

func (g *ValidatedGraph) reachableLinked(root string) map[string]bool {
	seen := map[string]bool{root: true}
	queue := []string{root}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.outgoing[id] {
			if !seen[e.Target] {
				seen[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}
	return seen
}

// Definition returns the snapshot the graph was built from
func (g *ValidatedGraph) Definition() *Definition {
	return g.definition
}

// Node returns a node by id
func (g *ValidatedGraph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Ports returns the source ports of a reachable node
func (g *ValidatedGraph) Ports(id string) []string {
	return g.ports[id]
}

// Outgoing returns the linked outgoing edges of a node in definition order
func (g *ValidatedGraph) Outgoing(id string) []Edge {
	return g.outgoing[id]
}

// Successors returns the targets of edges leaving id on port. An empty port
// selects every outgoing edge.
func (g *ValidatedGraph) Successors(id, port string) []string {
	var out []string
	for _, e := range g.outgoing[id] {
		if port == "" || e.SourcePort == port {
			out = append(out, e.Target)
		}
	}
	return out
}

// Predecessor returns the source of the single incoming edge of id when
// trigger fires
func (g *ValidatedGraph) Predecessor(trigger, id string) (string, bool) {
	e, ok := g.incoming[trigger][id]
	if !ok {
		return "", false
	}
	return e.Source, true
}

// Triggers returns trigger nodes in definition order, optionally filtered by type
func (g *ValidatedGraph) Triggers(types ...NodeType) []*Node {
	var out []*Node
	for _, id := range g.triggers {
		n := g.nodes[id]
		if len(types) == 0 {
			out = append(out, n)
			continue
		}
		for _, t := range types {
			if n.Type == t {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

// TopologicalOrder returns the reachable subgraph of a trigger in topological
// order, the trigger first
func (g *ValidatedGraph) TopologicalOrder(trigger string) []string {
	return g.orders[trigger]
}

package workflow

import (
	"time"
)

// RunStatus represents the lifecycle state of a run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible
func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed || s == RunStatusCancelled
}

// NodeStatus represents the state of a single node attempt
type NodeStatus string

const (
	NodeStatusPending NodeStatus = "pending"
	NodeStatusRunning NodeStatus = "running"
	NodeStatusSuccess NodeStatus = "success"
	NodeStatusFailed  NodeStatus = "failed"
)

// TriggerKind identifies how a run was started
type TriggerKind string

const (
	TriggerKindManual   TriggerKind = "manual"
	TriggerKindSchedule TriggerKind = "schedule"
	TriggerKindEvent    TriggerKind = "event"
)

// NodeType returns the trigger node type fired by this kind
func (k TriggerKind) NodeType() NodeType {
	switch k {
	case TriggerKindSchedule:
		return NodeTypeScheduleTrigger
	case TriggerKindEvent:
		return NodeTypeEventTrigger
	default:
		return NodeTypeManualTrigger
	}
}

// Run is one execution instance of a workflow
type Run struct {
	ID          string      `json:"id"`
	WorkflowID  string      `json:"workflowId"`
	OrgID       string      `json:"orgId,omitempty"`
	TriggerID   string      `json:"triggerId"`
	TriggerKind TriggerKind `json:"triggerKind"`
	Payload     interface{} `json:"payload,omitempty"`
	Status      RunStatus   `json:"status"`
	Logs        []RunLog    `json:"logs"`
	Error       string      `json:"error,omitempty"`
	StartedAt   time.Time   `json:"startedAt"`
	FinishedAt  *time.Time  `json:"finishedAt,omitempty"`
}

// RunLog records one node execution attempt. Seq is the start order within the run.
type RunLog struct {
	Seq        int         `json:"seq"`
	NodeID     string      `json:"nodeId"`
	NodeType   NodeType    `json:"nodeType"`
	Status     NodeStatus  `json:"status"`
	Attempt    int         `json:"attempt"`
	Transient  bool        `json:"transient,omitempty"`
	Port       string      `json:"port,omitempty"`
	Output     interface{} `json:"output,omitempty"`
	Error      string      `json:"error,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	FinishedAt *time.Time  `json:"finishedAt,omitempty"`
}

// Clone returns a copy whose log slice is independent of the original.
// Output values are shared.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	out := *r
	out.Logs = append([]RunLog(nil), r.Logs...)
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}

// LogsFor returns the log entries of a node in start order
func (r *Run) LogsFor(nodeID string) []RunLog {
	var out []RunLog
	for _, l := range r.Logs {
		if l.NodeID == nodeID {
			out = append(out, l)
		}
	}
	return out
}

package connector

import (
	"net/http"

	"github.com/Ingenimax/workflow-engine/pkg/interfaces"
	"github.com/Ingenimax/workflow-engine/pkg/workflow"
)

// Host holds the side-effecting capabilities the application injects into the
// built-in connectors. Every field is optional; nodes whose capability is
// missing fail with a fatal error when they run.
type Host struct {
	HTTPClient     *http.Client
	Inventory      interfaces.InventoryAdjuster
	Orders         interfaces.OrderUpdater
	Model          interfaces.ModelClient
	Quota          interfaces.QuotaLimiter
	Memories       map[string]interfaces.Memory
	Notifiers      map[string]interfaces.Notifier
	DefaultChannel string
	Issues         interfaces.IssueCreator
}

// RegisterBuiltins registers a connector for every built-in executable node type
func RegisterBuiltins(r *Registry, host Host) error {
	notify := NewNotifyConnector(host.Notifiers, host.DefaultChannel)
	ai := NewAIConnector(host.Model, host.Quota, host.Memories)

	builtins := []struct {
		t workflow.NodeType
		c Connector
	}{
		{workflow.NodeTypeIf, NewIfConnector()},
		{workflow.NodeTypeDelay, DelayConnector{}},
		{workflow.NodeTypeHTTP, NewHTTPConnector(host.HTTPClient)},
		{workflow.NodeTypeUpdateInventory, NewInventoryConnector(host.Inventory)},
		{workflow.NodeTypeTransferStock, NewTransferConnector(host.Inventory)},
		{workflow.NodeTypeOrderStatus, NewOrderStatusConnector(host.Orders)},
		{workflow.NodeTypeNotify, notify},
		{workflow.NodeTypeSlack, notify},
		{workflow.NodeTypeGitHub, NewIssueConnector(host.Issues)},
		{workflow.NodeTypePrompt, ai},
		{workflow.NodeTypeAgent, ai},
	}
	for _, b := range builtins {
		if err := r.Register(b.t, b.c); err != nil {
			return err
		}
	}
	return nil
}

// NewBuiltinRegistry creates a registry populated with the built-in connectors
func NewBuiltinRegistry(host Host) (*Registry, error) {
	r := NewRegistry()
	if err := RegisterBuiltins(r, host); err != nil {
		return nil, err
	}
	return r, nil
}

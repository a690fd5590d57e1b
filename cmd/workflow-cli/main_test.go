package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ingenimax/workflow-engine/pkg/workflow"
)

const restockYAML = `
id: restock
definition:
  version: 1
  nodes:
    - id: start
      type: trigger.manual
      data: {}
    - id: low
      type: condition.if
      data:
        expression: "trigger.qty < 5"
    - id: alert
      type: action.slack
      data:
        channel: "#ops"
        message: "low stock: {{trigger.qty}}"
  edges:
    - id: e1
      source: start
      target: low
    - id: e2
      source: low
      target: alert
      sourcePort: "true"
`

const fulfilYAML = `
id: fulfil
definition:
  version: 1
  nodes:
    - id: start
      type: trigger.manual
      data: {}
    - id: move
      type: action.transfer_stock
      data:
        sku: "{{trigger.sku}}"
        quantity: 2
        fromWarehouse: central
        toWarehouse: "{{trigger.store}}"
    - id: ship
      type: action.update_order_status
      data:
        orderId: "{{trigger.order}}"
        status: shipped
    - id: low
      type: condition.if
      data:
        expression: "move.from.quantity < 5"
    - id: alert
      type: action.slack
      data:
        channel: "#ops"
        message: "central low on {{move.sku}}: {{move.from.quantity}}"
  edges:
    - id: e1
      source: start
      target: move
    - id: e2
      source: move
      target: ship
    - id: e3
      source: ship
      target: low
    - id: e4
      source: low
      target: alert
      sourcePort: "true"
`

const cyclicJSON = `{"version": 1,
	"nodes": [
		{"id": "start", "type": "trigger.manual", "data": {}},
		{"id": "a", "type": "action.delay", "data": {"durationMs": 1}},
		{"id": "b", "type": "action.delay", "data": {"durationMs": 1}}
	],
	"edges": [
		{"id": "e1", "source": "start", "target": "a"},
		{"id": "e2", "source": "a", "target": "b"},
		{"id": "e3", "source": "b", "target": "a"}
	]}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestValidateCommand(t *testing.T) {
	t.Run("valid workflow prints trigger plans", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, run(context.Background(), []string{"validate", writeFile(t, "restock.yaml", restockYAML)}, &out))
		assert.Contains(t, out.String(), "restock is valid")
		assert.Contains(t, out.String(), `"start"`)
	})

	t.Run("cycle is reported with exit code 1", func(t *testing.T) {
		var out bytes.Buffer
		err := run(context.Background(), []string{"validate", writeFile(t, "loop.json", cyclicJSON)}, &out)
		assert.Equal(t, exitError{code: 1}, err)
		assert.True(t, strings.HasPrefix(out.String(), "invalid:"))
	})

	t.Run("usage errors", func(t *testing.T) {
		var out bytes.Buffer
		assert.Equal(t, exitError{code: 2}, run(context.Background(), nil, &out))
		assert.Equal(t, exitError{code: 2}, run(context.Background(), []string{"validate"}, &out))
		assert.Equal(t, exitError{code: 2}, run(context.Background(), []string{"deploy"}, &out))
	})
}

func TestRunCommand(t *testing.T) {
	path := writeFile(t, "restock.yaml", restockYAML)

	tests := []struct {
		name       string
		args       []string
		wantErr    error
		wantAlert  bool
		wantStatus workflow.RunStatus
	}{
		{
			name:       "true branch notifies",
			args:       []string{"run", path, "--payload", `{"qty": 2}`},
			wantAlert:  true,
			wantStatus: workflow.RunStatusSuccess,
		},
		{
			name:       "false branch stays quiet",
			args:       []string{"run", path, "--payload", `{"qty": 50}`},
			wantStatus: workflow.RunStatusSuccess,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, run(context.Background(), tt.args, &out))

			text := out.String()
			assert.Equal(t, tt.wantAlert, strings.Contains(text, "[slack -> #ops]  low stock: 2"))

			var result workflow.Run
			require.NoError(t, json.Unmarshal([]byte(text[strings.Index(text, "{"):]), &result))
			assert.Equal(t, tt.wantStatus, result.Status)
			assert.Equal(t, "restock", result.WorkflowID)
		})
	}

	t.Run("bad arguments", func(t *testing.T) {
		var out bytes.Buffer
		assert.Error(t, run(context.Background(), []string{"run", path, "--payload", "{nope"}, &out))
		assert.Error(t, run(context.Background(), []string{"run", path, "--trigger", "webhook"}, &out))
		assert.Error(t, run(context.Background(), []string{"run", path, "--trigger", "event"}, &out))
		assert.Error(t, run(context.Background(), []string{"run", filepath.Join(t.TempDir(), "missing.json")}, &out))
	})
}

func TestRunFulfilment(t *testing.T) {
	path := writeFile(t, "fulfil.yaml", fulfilYAML)

	var out bytes.Buffer
	err := run(context.Background(), []string{"run", path,
		"--payload", `{"sku": "A1", "store": "east", "order": "1001"}`,
		"--stock", `{"central/A1": 6, "east/A1": 0}`,
		"--orders", `{"1001": "processing"}`,
	}, &out)
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "central low on A1: 4")

	var result workflow.Run
	require.NoError(t, json.Unmarshal([]byte(text[strings.Index(text, "{"):]), &result))
	assert.Equal(t, workflow.RunStatusSuccess, result.Status)

	t.Run("unknown order fails the run", func(t *testing.T) {
		var out bytes.Buffer
		err := run(context.Background(), []string{"run", path,
			"--payload", `{"sku": "A1", "store": "east", "order": "404"}`,
			"--stock", `{"central/A1": 6, "east/A1": 0}`,
		}, &out)
		assert.Equal(t, exitError{code: 1}, err)
	})
}

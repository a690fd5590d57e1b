package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/Ingenimax/workflow-engine/pkg/interfaces"
	"github.com/Ingenimax/workflow-engine/pkg/workflow"
)

const (
	defaultMemoryType   = "buffer"
	defaultMemoryWindow = 10
	defaultSessionKey   = "default"
)

// EstimateTokens approximates the token count of a text at four characters per token
func EstimateTokens(texts ...string) int {
	n := 0
	for _, t := range texts {
		n += len(t)
	}
	return (n + 3) / 4
}

// AIConnector runs ai.prompt and ai.agent nodes against a ModelClient, with
// optional org quota enforcement and conversation memory
type AIConnector struct {
	model    interfaces.ModelClient
	quota    interfaces.QuotaLimiter
	memories map[string]interfaces.Memory
}

// NewAIConnector creates an AI connector. quota and memories may be nil.
func NewAIConnector(model interfaces.ModelClient, quota interfaces.QuotaLimiter, memories map[string]interfaces.Memory) *AIConnector {
	return &AIConnector{model: model, quota: quota, memories: memories}
}

// Ports implements Connector
func (c *AIConnector) Ports() []string { return []string{workflow.PortOut} }

type aiRequest struct {
	model       string
	prompt      string
	system      string
	temperature *float64
	memory      *workflow.MemoryConfig
}

// Execute implements Connector
func (c *AIConnector) Execute(ctx context.Context, inv Invocation) Result {
	if c.model == nil {
		return Fatalf("no model client is configured")
	}

	var req aiRequest
	switch d := inv.Node.Data.(type) {
	case *workflow.PromptAI:
		req = aiRequest{model: d.Model, prompt: d.Prompt, system: d.SystemPrompt, temperature: d.Temperature}
	case *workflow.AgentAI:
		req = aiRequest{model: d.Model, prompt: d.Prompt, system: d.Instructions, temperature: d.Temperature, memory: d.Memory}
	default:
		return Fatalf("unexpected data %T for %s", inv.Node.Data, inv.Node.Type)
	}

	prompt, err := inv.Interpolate(req.prompt)
	if err != nil {
		return Fatal(fmt.Errorf("prompt: %w", err))
	}
	system, err := inv.Interpolate(req.system)
	if err != nil {
		return Fatal(fmt.Errorf("instructions: %w", err))
	}

	var (
		mem     interfaces.Memory
		session interfaces.SessionKey
	)
	if req.memory != nil {
		mem, session, err = c.session(inv, req.memory)
		if err != nil {
			return Fatal(err)
		}
	}

	orgID := ""
	if inv.Exec != nil {
		orgID = inv.Exec.OrgID
	}

	// a retry after a failed bookkeeping step reuses the completion
	done := c.pending(inv)
	if done == nil {
		completion, res := c.generate(ctx, req, prompt, system, orgID, mem, session)
		if completion == nil {
			return res
		}
		done = &aiCompletion{completion: completion}
		if inv.Exec != nil {
			inv.Exec.SetScratch(inv.Node.ID, done)
		}
	}

	if c.quota != nil && !done.recorded {
		if err := c.quota.Record(ctx, orgID, done.completion.TotalTokens()); err != nil {
			return FromCapabilityError(fmt.Errorf("failed to record token usage: %w", err))
		}
		done.recorded = true
	}

	if mem != nil {
		now := time.Now().UTC()
		err := mem.AddMessage(ctx, session,
			interfaces.Message{Role: interfaces.MessageRoleUser, Content: prompt, Timestamp: now},
			interfaces.Message{Role: interfaces.MessageRoleAssistant, Content: done.completion.Text, Timestamp: now},
		)
		if err != nil {
			return FromCapabilityError(fmt.Errorf("failed to store memory: %w", err))
		}
	}

	if inv.Exec != nil {
		inv.Exec.ClearScratch(inv.Node.ID)
	}
	return Success(done.completion.Text, "")
}

// aiCompletion is a model answer whose usage and memory writes may still be outstanding
type aiCompletion struct {
	completion *interfaces.Completion
	recorded   bool
}

func (c *AIConnector) pending(inv Invocation) *aiCompletion {
	if inv.Exec == nil {
		return nil
	}
	v, _ := inv.Exec.Scratch(inv.Node.ID)
	done, _ := v.(*aiCompletion)
	return done
}

// generate loads history, checks quota and calls the model. A nil completion
// comes with the result to return.
func (c *AIConnector) generate(ctx context.Context, req aiRequest, prompt, system, orgID string,
	mem interfaces.Memory, session interfaces.SessionKey) (*interfaces.Completion, Result) {
	var history []interfaces.Message
	if mem != nil {
		window := req.memory.WindowSize
		if window <= 0 {
			window = defaultMemoryWindow
		}
		var err error
		history, err = mem.GetMessages(ctx, session, interfaces.WithLimit(window))
		if err != nil {
			return nil, FromCapabilityError(fmt.Errorf("failed to load memory: %w", err))
		}
	}

	if c.quota != nil {
		texts := []string{prompt, system}
		for _, m := range history {
			texts = append(texts, m.Content)
		}
		if err := c.quota.Check(ctx, orgID, EstimateTokens(texts...)); err != nil {
			return nil, FromCapabilityError(err)
		}
	}

	opts := []interfaces.GenerateOption{interfaces.WithOrgID(orgID)}
	if req.model != "" {
		opts = append(opts, interfaces.WithModel(req.model))
	}
	if system != "" {
		opts = append(opts, interfaces.WithSystemMessage(system))
	}
	if req.temperature != nil {
		opts = append(opts, interfaces.WithTemperature(*req.temperature))
	}
	if len(history) > 0 {
		opts = append(opts, interfaces.WithHistory(history))
	}

	completion, err := c.model.Generate(ctx, prompt, opts...)
	if err != nil {
		return nil, FromCapabilityError(fmt.Errorf("%s generation failed: %w", c.model.Name(), err))
	}
	if completion == nil {
		return nil, Fatalf("%s returned no completion", c.model.Name())
	}
	return completion, Result{}
}

func (c *AIConnector) session(inv Invocation, cfg *workflow.MemoryConfig) (interfaces.Memory, interfaces.SessionKey, error) {
	kind := cfg.Type
	if kind == "" {
		kind = defaultMemoryType
	}
	mem, ok := c.memories[kind]
	if !ok {
		return nil, interfaces.SessionKey{}, fmt.Errorf("no %q memory is configured", kind)
	}

	name, err := inv.Interpolate(cfg.SessionKey)
	if err != nil {
		return nil, interfaces.SessionKey{}, fmt.Errorf("sessionKey: %w", err)
	}
	if name == "" {
		name = defaultSessionKey
	}

	key := interfaces.SessionKey{Session: name}
	if inv.Exec != nil {
		key.OrgID = inv.Exec.OrgID
		key.WorkflowID = inv.Exec.WorkflowID
	}
	return mem, key, nil
}

// Package schedule runs the host cron loop that fires trigger.schedule nodes.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Ingenimax/workflow-engine/pkg/catalog"
	"github.com/Ingenimax/workflow-engine/pkg/logging"
	"github.com/Ingenimax/workflow-engine/pkg/workflow"
)

// Firer starts a run from a specific trigger node
type Firer interface {
	FireTrigger(ctx context.Context, workflowID, triggerID string, payload interface{}) (string, error)
}

// Entry is one registered schedule
type Entry struct {
	WorkflowID string
	TriggerID  string
	Spec       string
	Next       time.Time
}

// entryKey identifies a schedule trigger. Ids are kept apart rather than
// joined so that no separator can make two triggers collide.
type entryKey struct {
	workflowID string
	triggerID  string
}

type registration struct {
	spec string
	id   cron.EntryID
}

// Scheduler keeps one cron entry per schedule trigger in the catalog
type Scheduler struct {
	cron    *cron.Cron
	parser  cron.Parser
	source  catalog.Source
	firer   Firer
	logger  logging.Logger
	timeout time.Duration

	mu      sync.Mutex
	entries map[entryKey]registration
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithLocation sets the timezone of schedules that do not name one
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		s.cron = cron.New(cron.WithLocation(loc), cron.WithParser(s.parser))
	}
}

// WithFireTimeout bounds how long a tick may take to start its run
func WithFireTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.timeout = d
	}
}

// New creates a scheduler. Call Sync to load schedules and Start to run them.
func New(source catalog.Source, firer Firer, opts ...Option) *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC), cron.WithParser(parser)),
		parser:  parser,
		source:  source,
		firer:   firer,
		logger:  logging.NewNop(),
		timeout: 30 * time.Second,
		entries: make(map[entryKey]registration),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spec renders a schedule trigger as a cron spec, prefixing its timezone
func Spec(t *workflow.ScheduleTrigger) string {
	if t.Timezone == "" {
		return t.Cron
	}
	return "CRON_TZ=" + t.Timezone + " " + t.Cron
}

// Sync reconciles cron entries with the catalog. Unchanged schedules keep
// their entry; invalid ones are skipped and reported in the returned error.
func (s *Scheduler) Sync(ctx context.Context) error {
	workflows, err := s.source.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list workflows: %w", err)
	}

	desired := map[entryKey]string{}
	for _, wf := range workflows {
		for _, n := range wf.Definition.Triggers(workflow.NodeTypeScheduleTrigger) {
			t, ok := n.Data.(*workflow.ScheduleTrigger)
			if !ok {
				continue
			}
			desired[entryKey{workflowID: wf.ID, triggerID: n.ID}] = Spec(t)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, reg := range s.entries {
		if spec, ok := desired[key]; !ok || spec != reg.spec {
			s.cron.Remove(reg.id)
			delete(s.entries, key)
		}
	}

	var errs []error
	for key, spec := range desired {
		if _, ok := s.entries[key]; ok {
			continue
		}
		schedule, err := s.parser.Parse(spec)
		if err != nil {
			errs = append(errs, fmt.Errorf("workflow %s trigger %s: invalid schedule %q: %w", key.workflowID, key.triggerID, spec, err))
			continue
		}
		id := s.cron.Schedule(schedule, s.job(key.workflowID, key.triggerID))
		s.entries[key] = registration{spec: spec, id: id}
	}

	s.logger.Info(ctx, "Schedules synced", map[string]interface{}{
		"schedules": len(s.entries),
		"invalid":   len(errs),
	})
	return errors.Join(errs...)
}

func (s *Scheduler) job(workflowID, triggerID string) cron.Job {
	return cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		runID, err := s.firer.FireTrigger(ctx, workflowID, triggerID, nil)
		if err != nil {
			s.logger.Error(ctx, "Scheduled trigger failed", map[string]interface{}{
				"workflow_id": workflowID,
				"trigger_id":  triggerID,
				"error":       err.Error(),
			})
			return
		}
		s.logger.Info(ctx, "Scheduled run started", map[string]interface{}{
			"workflow_id": workflowID,
			"trigger_id":  triggerID,
			"run_id":      runID,
		})
	})
}

// Entries returns the registered schedules ordered by workflow and trigger
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for key, reg := range s.entries {
		e := s.cron.Entry(reg.id)
		out = append(out, Entry{WorkflowID: key.workflowID, TriggerID: key.triggerID, Spec: reg.spec, Next: e.Next})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WorkflowID != out[j].WorkflowID {
			return out[i].WorkflowID < out[j].WorkflowID
		}
		return out[i].TriggerID < out[j].TriggerID
	})
	return out
}

// RunNow fires a registered schedule immediately
func (s *Scheduler) RunNow(workflowID, triggerID string) error {
	s.mu.Lock()
	reg, ok := s.entries[entryKey{workflowID: workflowID, triggerID: triggerID}]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no schedule for workflow %s trigger %s", workflowID, triggerID)
	}
	s.cron.Entry(reg.id).Job.Run()
	return nil
}

// Start runs the cron loop in its own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the loop and returns a context done when running jobs finish
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

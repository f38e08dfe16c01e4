package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/volunteerhub/volunteerhub/internal/trigger"
	"github.com/volunteerhub/volunteerhub/pkg/cerr"
)

type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
)

// Workflow pairs triggers with an ordered list of actions. Workflows are
// never hard-deleted; pausing is the way to retire one.
type Workflow struct {
	ID          string            `yaml:"id" json:"id"`
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description" json:"description"`
	Triggers    []trigger.Trigger `yaml:"triggers" json:"triggers"`
	Actions     []Action          `yaml:"actions" json:"actions"`
	Status      Status            `yaml:"status" json:"status"`
	OwnerID     string            `yaml:"owner_id" json:"owner_id"`
	CreatedAt   time.Time         `yaml:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `yaml:"updated_at" json:"updated_at"`

	// Maintained by the execution logger only.
	ExecutionCount int64      `yaml:"execution_count" json:"execution_count"`
	LastExecutedAt *time.Time `yaml:"last_executed_at,omitempty" json:"last_executed_at,omitempty"`
}

func (w *Workflow) Active() bool {
	return w.Status == StatusActive
}

type ActionKind string

const (
	ActionSendEmail        ActionKind = "send_email"
	ActionGenerateReport   ActionKind = "generate_report"
	ActionCreateTask       ActionKind = "create_task"
	ActionUpdateRecords    ActionKind = "update_records"
	ActionSendNotification ActionKind = "send_notification"
	ActionAIAnalysis       ActionKind = "ai_analysis"
)

// requiredConfig lists the config keys each action kind cannot run without.
var requiredConfig = map[ActionKind][]string{
	ActionSendEmail:        {"template_id", "recipients"},
	ActionGenerateReport:   {"report_type"},
	ActionCreateTask:       {"title"},
	ActionUpdateRecords:    {"table", "updates"},
	ActionSendNotification: {"message", "recipients"},
	ActionAIAnalysis:       {"analysis_type"},
}

type Action struct {
	Kind   ActionKind     `yaml:"kind" json:"kind"`
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
	// DelayMinutes pauses the firing after this action completes.
	DelayMinutes int `yaml:"delay_minutes,omitempty" json:"delay_minutes,omitempty"`
}

func (a Action) violations(prefix string) []cerr.Violation {
	required, ok := requiredConfig[a.Kind]
	if !ok {
		return []cerr.Violation{{Field: prefix + ".kind", Rule: "action.kind", Message: fmt.Sprintf("unknown action kind %q", a.Kind)}}
	}
	var vs []cerr.Violation
	for _, key := range required {
		if v, ok := a.Config[key]; !ok || v == nil || v == "" {
			vs = append(vs, cerr.Violation{Field: prefix + ".config." + key, Rule: "required", Message: fmt.Sprintf("%s requires %s", a.Kind, key)})
		}
	}
	if a.DelayMinutes < 0 {
		vs = append(vs, cerr.Violation{Field: prefix + ".delay_minutes", Rule: "gte", Message: "delay_minutes must not be negative"})
	}
	return vs
}

// Violations lists everything that would prevent w from being scheduled.
func (w *Workflow) Violations() []cerr.Violation {
	var vs []cerr.Violation
	if strings.TrimSpace(w.Name) == "" {
		vs = append(vs, cerr.Violation{Field: "name", Rule: "required", Message: "name is required"})
	}
	if w.Status != StatusActive && w.Status != StatusPaused {
		vs = append(vs, cerr.Violation{Field: "status", Rule: "enum", Message: fmt.Sprintf("unknown status %q", w.Status)})
	}
	if len(w.Triggers) == 0 {
		vs = append(vs, cerr.Violation{Field: "triggers", Rule: "min_items", Message: "at least one trigger is required"})
	}
	for i, t := range w.Triggers {
		vs = append(vs, t.Violations(fmt.Sprintf("triggers[%d]", i))...)
	}
	if len(w.Actions) == 0 {
		vs = append(vs, cerr.Violation{Field: "actions", Rule: "min_items", Message: "at least one action is required"})
	}
	for i, a := range w.Actions {
		vs = append(vs, a.violations(fmt.Sprintf("actions[%d]", i))...)
	}
	return vs
}

// Validate returns an InvalidArgument error carrying every violation, or
// nil.
func (w *Workflow) Validate() error {
	if vs := w.Violations(); len(vs) > 0 {
		return cerr.NewValidationError("invalid workflow", vs...)
	}
	return nil
}

package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/volunteerhub/volunteerhub/internal/completion"
	"github.com/volunteerhub/volunteerhub/internal/eventbus"
	"github.com/volunteerhub/volunteerhub/internal/mailer"
	"github.com/volunteerhub/volunteerhub/internal/workflow"
	"github.com/volunteerhub/volunteerhub/pkg/recordstore"
)

// Tables written by the built-in actions.
const (
	TableTasks         = "tasks"
	TableNotifications = "notifications"
	TableReports       = "reports"
)

// Deps are the collaborators the built-in handlers talk to.
type Deps struct {
	Records    recordstore.Store
	Mail       mailer.Sender
	Completion completion.Completer
	Bus        *eventbus.Bus
	Clock      clockwork.Clock
	// Location is the zone dates such as due dates and report months are
	// read in. Defaults to UTC.
	Location *time.Location
}

// WithDefaultHandlers registers a handler for every action kind.
func WithDefaultHandlers(d Deps) Option {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	return func(e *Executor) {
		e.handlers[workflow.ActionSendEmail] = HandlerFunc(d.sendEmail)
		e.handlers[workflow.ActionGenerateReport] = HandlerFunc(d.generateReport)
		e.handlers[workflow.ActionCreateTask] = HandlerFunc(d.createTask)
		e.handlers[workflow.ActionUpdateRecords] = HandlerFunc(d.updateRecords)
		e.handlers[workflow.ActionSendNotification] = HandlerFunc(d.sendNotification)
		e.handlers[workflow.ActionAIAnalysis] = HandlerFunc(d.aiAnalysis)
	}
}

func (d Deps) now() time.Time {
	return d.Clock.Now().In(d.Location)
}

func (d Deps) sendEmail(ctx context.Context, req Request) (any, error) {
	recipients := req.strs("recipients")
	if len(recipients) == 0 {
		return nil, errors.New("send_email: no recipients")
	}
	data := maps.Clone(req.Firing.Payload)
	if data == nil {
		data = map[string]any{}
	}
	maps.Copy(data, req.expandValues(req.obj("data")))
	if msg := req.str("custom_message"); msg != "" {
		data["custom_message"] = msg
	}

	templateID := req.str("template_id")
	subject, html, err := mailer.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("send_email: %w", err)
	}
	if err := d.Mail.Send(ctx, mailer.Message{To: recipients, Subject: subject, HTML: html}); err != nil {
		return nil, fmt.Errorf("send_email: %w", err)
	}
	return map[string]any{"template_id": templateID, "recipients": len(recipients), "subject": subject}, nil
}

var priorities = []string{"low", "medium", "high", "urgent"}

func (d Deps) createTask(ctx context.Context, req Request) (any, error) {
	priority := req.str("priority")
	if priority == "" {
		priority = "medium"
	}
	if !slices.Contains(priorities, priority) {
		return nil, fmt.Errorf("create_task: unknown priority %q", priority)
	}
	row := recordstore.Row{
		"title":       req.str("title"),
		"description": req.str("description"),
		"priority":    priority,
		"status":      "pending",
		"workflow_id": req.Workflow.ID,
		"created_by":  req.Workflow.OwnerID,
	}
	if assignee := req.str("assignee"); assignee != "" {
		row["assigned_to"] = assignee
	}
	if due := req.str("due_date"); due != "" {
		if _, err := time.Parse(time.DateOnly, due); err != nil {
			return nil, fmt.Errorf("create_task: due_date %q is not YYYY-MM-DD", due)
		}
		row["due_date"] = due
	} else if days, ok := req.integer("due_in_days"); ok {
		row["due_date"] = d.now().AddDate(0, 0, days).Format(time.DateOnly)
	}

	stored, err := d.Records.Insert(ctx, TableTasks, row)
	if err != nil {
		return nil, fmt.Errorf("create_task: %w", err)
	}
	return map[string]any{"task_id": stored["id"], "title": row["title"]}, nil
}

// updateRecords refuses to run without any condition so a misconfigured
// action cannot rewrite a whole table.
func (d Deps) updateRecords(ctx context.Context, req Request) (any, error) {
	table := req.str("table")
	updates := req.expandValues(req.obj("updates"))
	if len(updates) == 0 {
		return nil, errors.New("update_records: no updates")
	}
	conditions := req.expandValues(req.obj("conditions"))
	if req.boolean("use_event_id") {
		id, ok := req.Firing.Payload["id"]
		if !ok || id == nil {
			return nil, errors.New("update_records: use_event_id set but event payload has no id")
		}
		conditions["id"] = id
	}
	if len(conditions) == 0 {
		return nil, errors.New("update_records: refusing to update without conditions")
	}

	n, err := d.Records.Update(ctx, table, recordstore.Filter(conditions), recordstore.Row(updates))
	if err != nil {
		return nil, fmt.Errorf("update_records: %w", err)
	}
	return map[string]any{"table": table, "updated": n}, nil
}

// sendNotification attempts every recipient and reports each failure.
func (d Deps) sendNotification(ctx context.Context, req Request) (any, error) {
	recipients := req.strs("recipients")
	if len(recipients) == 0 {
		return nil, errors.New("send_notification: no recipients")
	}
	kind := req.str("type")
	if kind == "" {
		kind = "info"
	}
	message := req.str("message")
	actionURL := req.str("action_url")

	var (
		errs []error
		ids  []any
	)
	for _, userID := range recipients {
		row := recordstore.Row{
			"user_id":     userID,
			"message":     message,
			"type":        kind,
			"read":        false,
			"workflow_id": req.Workflow.ID,
		}
		if actionURL != "" {
			row["action_url"] = actionURL
		}
		stored, err := d.Records.Insert(ctx, TableNotifications, row)
		if err != nil {
			errs = append(errs, fmt.Errorf("recipient %s: %w", userID, err))
			continue
		}
		ids = append(ids, stored["id"])
		if d.Bus != nil {
			d.Bus.PublishNew(eventbus.NotificationCreated, map[string]any{
				"notification_id": stored["id"],
				"user_id":         userID,
				"message":         message,
				"type":            kind,
				"action_url":      actionURL,
			})
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("send_notification: %d of %d recipients failed: %w",
			len(errs), len(recipients), errors.Join(errs...))
	}
	return map[string]any{"sent": len(ids), "notification_ids": ids}, nil
}

const analysisSystemPrompt = "You are an analyst for a nonprofit volunteer organisation. " +
	"Answer with concise, actionable insights grounded only in the data provided."

func (d Deps) aiAnalysis(ctx context.Context, req Request) (any, error) {
	analysisType := req.str("analysis_type")
	params, err := json.MarshalIndent(req.obj("parameters"), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("ai_analysis: encode parameters: %w", err)
	}
	prompt := fmt.Sprintf("Analysis type: %s\n\nParameters:\n%s\n", analysisType, params)
	if len(req.Firing.Payload) > 0 {
		payload, err := json.MarshalIndent(req.Firing.Payload, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("ai_analysis: encode event payload: %w", err)
		}
		prompt += fmt.Sprintf("\nTriggering event %q payload:\n%s\n", req.Firing.EventName, payload)
	}

	text, err := d.Completion.Complete(ctx, completion.Request{
		System:   analysisSystemPrompt,
		Messages: []completion.Message{{Role: completion.RoleUser, Content: prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("ai_analysis: %w", err)
	}
	return text, nil
}

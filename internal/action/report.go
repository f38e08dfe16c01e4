package action

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/volunteerhub/volunteerhub/pkg/recordstore"
)

// Tables read by generate_report.
const (
	TableVolunteerHours = "volunteer_hours"
	TableFormResponses  = "form_responses"
	TableVolunteers     = "volunteers"
	TableShifts         = "shifts"
	TableIncidents      = "incidents"
)

type report struct {
	Type    string           `json:"report_type"`
	Summary map[string]any   `json:"summary"`
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

func (d Deps) generateReport(ctx context.Context, req Request) (any, error) {
	format := req.str("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		return nil, fmt.Errorf("generate_report: unknown format %q", format)
	}

	var (
		rep *report
		err error
	)
	switch reportType := req.str("report_type"); reportType {
	case "volunteer_hours":
		rep, err = d.volunteerHours(ctx)
	case "form_responses":
		rep, err = d.formResponses(ctx)
	case "monthly_summary":
		rep, err = d.monthlySummary(ctx, d.reportMonth(req.str("month")))
	default:
		return nil, fmt.Errorf("generate_report: unknown report_type %q", reportType)
	}
	if err != nil {
		return nil, fmt.Errorf("generate_report: %w", err)
	}

	content, err := render(rep, format)
	if err != nil {
		return nil, fmt.Errorf("generate_report: %w", err)
	}
	stored, err := d.Records.Insert(ctx, TableReports, recordstore.Row{
		"report_type":  rep.Type,
		"format":       format,
		"content":      content,
		"generated_at": d.Clock.Now().UTC(),
		"workflow_id":  req.Workflow.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("generate_report: store report: %w", err)
	}
	return map[string]any{
		"report_id":   stored["id"],
		"report_type": rep.Type,
		"format":      format,
		"rows":        len(rep.Rows),
		"summary":     rep.Summary,
	}, nil
}

func (d Deps) volunteerHours(ctx context.Context) (*report, error) {
	rows, err := d.Records.Select(ctx, TableVolunteerHours, nil, 0)
	if err != nil {
		return nil, err
	}
	byVolunteer := map[string]float64{}
	var total float64
	for _, r := range rows {
		hours, _ := recordstore.Number(r["hours"])
		id := fmt.Sprint(r["volunteer_id"])
		byVolunteer[id] += hours
		total += hours
	}
	rep := &report{
		Type:    "volunteer_hours",
		Columns: []string{"volunteer_id", "hours"},
		Summary: map[string]any{"total_hours": total, "volunteers": len(byVolunteer), "entries": len(rows)},
	}
	for id, hours := range byVolunteer {
		rep.Rows = append(rep.Rows, map[string]any{"volunteer_id": id, "hours": hours})
	}
	sort.Slice(rep.Rows, func(i, j int) bool {
		hi, hj := rep.Rows[i]["hours"].(float64), rep.Rows[j]["hours"].(float64)
		if hi != hj {
			return hi > hj
		}
		return rep.Rows[i]["volunteer_id"].(string) < rep.Rows[j]["volunteer_id"].(string)
	})
	return rep, nil
}

func (d Deps) formResponses(ctx context.Context) (*report, error) {
	rows, err := d.Records.Select(ctx, TableFormResponses, nil, 0)
	if err != nil {
		return nil, err
	}
	byForm := map[string]int{}
	for _, r := range rows {
		byForm[fmt.Sprint(r["form_id"])]++
	}
	rep := &report{
		Type:    "form_responses",
		Columns: []string{"form_id", "responses"},
		Summary: map[string]any{"total_responses": len(rows), "forms": len(byForm)},
	}
	ids := make([]string, 0, len(byForm))
	for id := range byForm {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		rep.Rows = append(rep.Rows, map[string]any{"form_id": id, "responses": byForm[id]})
	}
	return rep, nil
}

// reportMonth resolves the month config of monthly_summary. Empty and
// "previous" mean the last full month, so a run on the 1st covers the month
// that just ended.
func (d Deps) reportMonth(month string) string {
	now := d.now()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, d.Location)
	switch month {
	case "", "previous":
		return first.AddDate(0, -1, 0).Format("2006-01")
	case "current":
		return first.Format("2006-01")
	default:
		return month
	}
}

// monthlySummary counts activity whose date falls in month (YYYY-MM).
func (d Deps) monthlySummary(ctx context.Context, month string) (*report, error) {
	if _, err := time.Parse("2006-01", month); err != nil {
		return nil, fmt.Errorf("month %q is not YYYY-MM", month)
	}

	count := func(table, dateColumn string) (int, []recordstore.Row, error) {
		rows, err := d.Records.Select(ctx, table, nil, 0)
		if err != nil {
			return 0, nil, err
		}
		var in []recordstore.Row
		for _, r := range rows {
			if monthOf(r[dateColumn], d.Location) == month {
				in = append(in, r)
			}
		}
		return len(in), in, nil
	}

	newVolunteers, _, err := count(TableVolunteers, "created_at")
	if err != nil {
		return nil, err
	}
	shifts, _, err := count(TableShifts, "date")
	if err != nil {
		return nil, err
	}
	incidents, _, err := count(TableIncidents, "created_at")
	if err != nil {
		return nil, err
	}
	_, hourRows, err := count(TableVolunteerHours, "date")
	if err != nil {
		return nil, err
	}
	var hours float64
	for _, r := range hourRows {
		h, _ := recordstore.Number(r["hours"])
		hours += h
	}

	summary := map[string]any{
		"month":           month,
		"new_volunteers":  newVolunteers,
		"shifts":          shifts,
		"incidents":       incidents,
		"volunteer_hours": hours,
	}
	return &report{
		Type:    "monthly_summary",
		Summary: summary,
		Columns: []string{"metric", "value"},
		Rows: []map[string]any{
			{"metric": "new_volunteers", "value": newVolunteers},
			{"metric": "shifts", "value": shifts},
			{"metric": "incidents", "value": incidents},
			{"metric": "volunteer_hours", "value": hours},
		},
	}, nil
}

// monthOf returns the YYYY-MM in loc of a date column holding a time.Time,
// an RFC 3339 string or a YYYY-MM-DD string. Plain dates carry no zone and
// are taken as they are.
func monthOf(v any, loc *time.Location) string {
	switch t := v.(type) {
	case time.Time:
		return t.In(loc).Format("2006-01")
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed.In(loc).Format("2006-01")
		}
		if parsed, err := time.Parse(time.DateOnly, t); err == nil {
			return parsed.Format("2006-01")
		}
	}
	return ""
}

func render(rep *report, format string) (string, error) {
	if format == "json" {
		data, err := json.Marshal(rep)
		if err != nil {
			return "", fmt.Errorf("encode report: %w", err)
		}
		return string(data), nil
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(rep.Columns); err != nil {
		return "", err
	}
	for _, row := range rep.Rows {
		record := make([]string, len(rep.Columns))
		for i, col := range rep.Columns {
			record[i] = formatCell(row[col])
		}
		if err := w.Write(record); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	return buf.String(), nil
}

func formatCell(v any) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

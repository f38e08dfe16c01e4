package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/volunteerhub/volunteerhub/internal/trigger"
	"github.com/volunteerhub/volunteerhub/internal/workflow"
)

func printNextRuns(w io.Writer, file, timezone string, count int) error {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	var wf workflow.Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return fmt.Errorf("parse %s: %w", file, err)
	}
	if vs := wf.Violations(); len(vs) > 0 {
		msgs := make([]string, len(vs))
		for i, v := range vs {
			msgs[i] = v.Field + ": " + v.Message
		}
		return fmt.Errorf("invalid workflow %s:\n  %s", file, strings.Join(msgs, "\n  "))
	}
	return writeNextRuns(w, &wf, time.Now().In(loc), count)
}

func writeNextRuns(w io.Writer, wf *workflow.Workflow, now time.Time, count int) error {
	fmt.Fprintf(w, "%s (%s)\n", wf.Name, wf.Status)
	for i, t := range wf.Triggers {
		fmt.Fprintf(w, "  trigger %d: %s\n", i, t)
		if t.Kind != trigger.KindTime {
			continue
		}
		times, err := trigger.Upcoming(t, now, count)
		if err != nil {
			return fmt.Errorf("trigger %d: %w", i, err)
		}
		for _, at := range times {
			fmt.Fprintf(w, "    %s\n", at.Format("Mon 2006-01-02 15:04 MST"))
		}
	}
	return nil
}

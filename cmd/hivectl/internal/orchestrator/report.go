// Copyright (C) 2026 Coveline Data (ops@coveline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
)

// =============================================================================
// Status Report
// =============================================================================

// ServiceStatus is one service's line in the report.
type ServiceStatus struct {
	// Name is the service name.
	Name string `json:"name"`

	// ContainerState is the supervisor's view ("running", "exited",
	// "absent").
	ContainerState string `json:"container_state"`

	// ProbeState is the last probe outcome, empty when never probed.
	ProbeState string `json:"probe_state,omitempty"`

	// ProbeDetail explains a non-ready probe.
	ProbeDetail string `json:"probe_detail,omitempty"`

	// Endpoint is the advertised address.
	Endpoint string `json:"endpoint,omitempty"`
}

// StageReport is one stage's line in the report.
type StageReport struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Kind     string `json:"kind,omitempty"`
	Error    string `json:"error,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Hint     string `json:"hint,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// StatusReport is the structured record every run ends with, regardless
// of outcome. A non-zero exit without a report is an orchestrator bug.
type StatusReport struct {
	RunID       string          `json:"run_id"`
	GeneratedAt time.Time       `json:"generated_at"`
	Outcome     string          `json:"outcome"`
	ExitCode    int             `json:"exit_code"`
	Duration    string          `json:"duration"`
	Stages      []StageReport   `json:"stages"`
	Services    []ServiceStatus `json:"services"`

	// SchemaVersion is the verified schema version, empty when the
	// schema stage never completed.
	SchemaVersion string `json:"schema_version,omitempty"`

	// SchemaPhase is the schema state machine's terminal phase.
	SchemaPhase string `json:"schema_phase,omitempty"`

	// BackupRef references the pre-repair snapshot, if one was taken.
	BackupRef string `json:"backup_ref,omitempty"`

	// Planned lists dry-run actions that were not executed.
	Planned []string `json:"planned,omitempty"`
}

// BuildReport assembles the report from a finished run and the
// supervisor's container view.
func BuildReport(run *Run, containers map[string]string, endpoints map[string]string) *StatusReport {
	rep := &StatusReport{
		RunID:       run.ID,
		GeneratedAt: time.Now(),
		Outcome:     string(run.Outcome),
		ExitCode:    run.ExitCode(),
		Duration:    time.Since(run.StartedAt).Round(time.Millisecond).String(),
	}

	for _, st := range run.Stages {
		sr := StageReport{
			Name:   string(st.Stage),
			Status: string(st.Status),
			Detail: st.Detail,
			Hint:   st.Hint,
		}
		if st.Kind != KindNone {
			sr.Kind = string(st.Kind)
		}
		if st.Err != nil {
			sr.Error = st.Err.Error()
		}
		if st.Status != StatusSkipped {
			sr.Duration = st.Duration().Round(time.Millisecond).String()
		}
		rep.Stages = append(rep.Stages, sr)
	}

	names := make(map[string]bool)
	for name := range containers {
		names[name] = true
	}
	for name := range run.Health {
		names[name] = true
	}
	for name := range endpoints {
		names[name] = true
	}
	var sorted []string
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		svc := ServiceStatus{Name: name, Endpoint: endpoints[name]}
		if state, ok := containers[name]; ok {
			svc.ContainerState = state
		} else {
			svc.ContainerState = "absent"
		}
		if res, ok := run.Health[name]; ok {
			svc.ProbeState = string(res.State)
			if !res.Ready() {
				if res.Cause != nil {
					svc.ProbeDetail = res.Cause.Error()
				} else {
					svc.ProbeDetail = res.Reason
				}
			}
		}
		rep.Services = append(rep.Services, svc)
	}

	if run.Schema != nil {
		rep.SchemaPhase = string(run.Schema.Phase)
		rep.BackupRef = run.Schema.BackupRef
		rep.Planned = run.Schema.Planned
		if run.Schema.After != nil {
			rep.SchemaVersion = run.Schema.After.VersionValue
		} else if run.Schema.Before != nil {
			rep.SchemaVersion = run.Schema.Before.VersionValue
		}
	}

	return rep
}

// WriteFile persists the report as JSON under dir, returning the path.
func (r *StatusReport) WriteFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating report dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("report_%s_%s.json",
		r.GeneratedAt.Format("20060102T150405"), r.RunID[:8]))

	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o640); err != nil {
		return "", fmt.Errorf("writing report %s: %w", path, err)
	}
	return path, nil
}

// =============================================================================
// Rendering
// =============================================================================

var (
	headerColor = color.New(color.Bold)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	failColor   = color.New(color.FgRed, color.Bold)
	dimColor    = color.New(color.Faint)
)

// Render writes the operator-facing view of the report. Color is
// handled globally by fatih/color (NO_COLOR, non-TTY detection).
func (r *StatusReport) Render(w io.Writer) {
	headerColor.Fprintf(w, "hivectl run %s\n", r.RunID[:8])

	outcome := r.Outcome
	switch Outcome(r.Outcome) {
	case OutcomeSuccess:
		okColor.Fprintf(w, "outcome: %s", outcome)
	case OutcomePartialFailure:
		warnColor.Fprintf(w, "outcome: %s", outcome)
	default:
		failColor.Fprintf(w, "outcome: %s", outcome)
	}
	fmt.Fprintf(w, "  (exit %d, %s)\n\n", r.ExitCode, r.Duration)

	headerColor.Fprintln(w, "Stages")
	for _, st := range r.Stages {
		marker := renderStatus(st.Status)
		line := fmt.Sprintf("  %s %-24s", marker, st.Name)
		if st.Duration != "" {
			line += dimColor.Sprintf(" %8s", st.Duration)
		}
		fmt.Fprintln(w, line)
		if st.Detail != "" {
			dimColor.Fprintf(w, "      %s\n", st.Detail)
		}
		if st.Error != "" {
			failColor.Fprintf(w, "      %s: %s\n", st.Kind, st.Error)
		}
		if st.Hint != "" {
			warnColor.Fprintf(w, "      hint: %s\n", st.Hint)
		}
	}

	if len(r.Services) > 0 {
		fmt.Fprintln(w)
		headerColor.Fprintln(w, "Services")
		for _, svc := range r.Services {
			state := svc.ContainerState
			probe := svc.ProbeState
			if probe == "" {
				probe = "-"
			}
			line := fmt.Sprintf("  %-18s %-10s probe=%-10s", svc.Name, state, probe)
			if svc.Endpoint != "" {
				line += dimColor.Sprint(svc.Endpoint)
			}
			fmt.Fprintln(w, line)
			if svc.ProbeDetail != "" {
				dimColor.Fprintf(w, "      %s\n", svc.ProbeDetail)
			}
		}
	}

	if r.SchemaPhase != "" {
		fmt.Fprintln(w)
		headerColor.Fprintln(w, "Schema")
		fmt.Fprintf(w, "  phase:   %s\n", r.SchemaPhase)
		if r.SchemaVersion != "" {
			fmt.Fprintf(w, "  version: %s\n", r.SchemaVersion)
		}
		if r.BackupRef != "" {
			fmt.Fprintf(w, "  backup:  %s\n", r.BackupRef)
		}
	}

	if len(r.Planned) > 0 {
		fmt.Fprintln(w)
		headerColor.Fprintln(w, "Planned (dry run, not executed)")
		for _, p := range r.Planned {
			fmt.Fprintf(w, "  - %s\n", p)
		}
	}
}

func renderStatus(status string) string {
	switch StageStatus(status) {
	case StatusOK:
		return okColor.Sprint("✓")
	case StatusFailed:
		return failColor.Sprint("✗")
	default:
		return dimColor.Sprint("·")
	}
}

// Summary returns a one-line result for logs.
func (r *StatusReport) Summary() string {
	parts := []string{r.Outcome}
	if r.SchemaVersion != "" {
		parts = append(parts, "schema "+r.SchemaVersion)
	}
	ready := 0
	for _, svc := range r.Services {
		if svc.ProbeState == "ready" {
			ready++
		}
	}
	if len(r.Services) > 0 {
		parts = append(parts, fmt.Sprintf("%d/%d services ready", ready, len(r.Services)))
	}
	return strings.Join(parts, ", ")
}

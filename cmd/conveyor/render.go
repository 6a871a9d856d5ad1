// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/bureau-foundation/conveyor/lib/buildcause"
	"github.com/bureau-foundation/conveyor/lib/control"
	"github.com/bureau-foundation/conveyor/lib/health"
	"github.com/bureau-foundation/conveyor/lib/material"
	"github.com/bureau-foundation/conveyor/lib/pipelinestate"
	"github.com/bureau-foundation/conveyor/lib/schedule"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	faintStyle   = lipgloss.NewStyle().Faint(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	pausedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	cellStyle    = lipgloss.NewStyle().PaddingRight(2)
)

// newTable returns a borderless table with bold headers.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.HiddenBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderColumn(false).
		BorderHeader(false).
		Headers(headers...).
		StyleFunc(func(row, column int) lipgloss.Style {
			if row == table.HeaderRow {
				return cellStyle.Bold(true)
			}
			return cellStyle
		})
}

func formatResult(result schedule.Result) string {
	style := successStyle
	switch {
	case !result.Success:
		style = errorStyle
	case result.Skipped:
		style = faintStyle
	}
	return style.Render(fmt.Sprintf("%d", result.Status)) + " " + result.Message
}

func renderStatus(status control.StatusResponse, now time.Time) string {
	var out strings.Builder

	fmt.Fprintf(&out, "%s started %s, configuration v%d loaded %s\n",
		headingStyle.Render("conveyor-server"),
		humanize.RelTime(status.StartedAt, now, "ago", "from now"),
		status.ConfigVersion,
		humanize.RelTime(status.ConfigLoadedAt, now, "ago", "from now"),
	)
	for _, issue := range status.ConfigIssues {
		fmt.Fprintf(&out, "%s %s\n", errorStyle.Render("config:"), issue)
	}
	if len(status.Health) > 0 {
		fmt.Fprintf(&out, "\n%s\n", headingStyle.Render("Health"))
		for _, state := range status.Health {
			out.WriteString(renderHealth(state))
		}
	}

	fmt.Fprintf(&out, "\n%s\n", headingStyle.Render("Pipelines"))
	if len(status.Pipelines) == 0 {
		out.WriteString(faintStyle.Render("no pipelines configured") + "\n")
		return out.String()
	}
	pipelines := newTable("PIPELINE", "MATERIALS", "LAST RUN", "STATE", "NEXT TIMER")
	for _, pipeline := range status.Pipelines {
		lastRun := "-"
		if pipeline.LastCounter > 0 {
			lastRun = fmt.Sprintf("#%d %s", pipeline.LastCounter, pipeline.LastLabel)
		}
		nextTimer := "-"
		if !pipeline.NextTimer.IsZero() {
			nextTimer = pipeline.NextTimer.Local().Format(time.DateTime)
		}
		pipelines.Row(pipeline.Name, fmt.Sprint(pipeline.Materials), lastRun, pipelineState(pipeline), nextTimer)
	}
	out.WriteString(pipelines.String())
	out.WriteString("\n")
	return out.String()
}

func renderHealth(state health.State) string {
	label := warningStyle.Render("warning")
	if state.Level == health.LevelError {
		label = errorStyle.Render("error")
	}
	line := fmt.Sprintf("  %s %s: %s\n", label, state.Key, state.Message)
	if state.Detail != "" {
		line += "    " + faintStyle.Render(state.Detail) + "\n"
	}
	return line
}

func pipelineState(pipeline control.PipelineStatus) string {
	var states []string
	if pipeline.Pause != nil {
		paused := "paused"
		if pipeline.Pause.Reason != "" {
			paused += " (" + pipeline.Pause.Reason + ")"
		}
		states = append(states, pausedStyle.Render(paused))
	}
	if pipeline.Triggered {
		states = append(states, "evaluating")
	}
	if pipeline.Queued {
		states = append(states, "queued")
	}
	if len(states) == 0 {
		return "idle"
	}
	return strings.Join(states, ", ")
}

func renderQueue(entries []schedule.Entry, now time.Time) string {
	if len(entries) == 0 {
		return faintStyle.Render("queue is empty") + "\n"
	}
	queue := newTable("PIPELINE", "TRIGGER", "BY", "ENQUEUED", "STATE")
	for _, entry := range entries {
		state := "waiting"
		if entry.Taken {
			state = "instantiating"
		}
		trigger, approver := "-", "-"
		if entry.Cause != nil {
			trigger, approver = string(entry.Cause.Trigger), entry.Cause.Approver
		}
		queue.Row(entry.Pipeline, trigger, approver, humanize.RelTime(entry.EnqueuedAt, now, "ago", "from now"), state)
	}
	return queue.String() + "\n"
}

func renderHistory(response control.HistoryResponse) string {
	var out strings.Builder
	for index, history := range response.Materials {
		if index > 0 {
			out.WriteString("\n")
		}
		name := history.DisplayName
		if history.Name != "" && history.Name != name {
			name = history.Name + " (" + name + ")"
		}
		fmt.Fprintf(&out, "%s %s %s\n", headingStyle.Render(name), faintStyle.Render(string(history.Kind)), faintStyle.Render(shortFingerprint(history.Fingerprint)))
		if len(history.Modifications) == 0 {
			out.WriteString("  " + faintStyle.Render("no modifications recorded") + "\n")
			continue
		}
		modifications := newTable("REVISION", "AUTHOR", "WHEN", "COMMENT")
		for _, modification := range history.Modifications {
			modifications.Row(
				shortRevision(modification),
				orDash(modification.Username),
				modification.ModifiedTime.Local().Format(time.DateTime),
				firstLine(modification.Comment),
			)
		}
		out.WriteString(modifications.String())
		out.WriteString("\n")
	}
	return out.String()
}

func renderInstances(instances []pipelinestate.Instance) string {
	if len(instances) == 0 {
		return faintStyle.Render("no instances") + "\n"
	}
	rows := newTable("COUNTER", "LABEL", "TRIGGER", "BY", "CREATED", "CHANGES")
	for _, instance := range instances {
		trigger, approver, changes := "-", "-", "-"
		if instance.Cause != nil {
			trigger, approver = string(instance.Cause.Trigger), instance.Cause.Approver
			changes = changedMaterials(instance.Cause.Revisions)
		}
		rows.Row(
			fmt.Sprint(instance.Counter),
			instance.Label,
			trigger,
			approver,
			instance.CreatedAt.Local().Format(time.DateTime),
			changes,
		)
	}
	return rows.String() + "\n"
}

// changedMaterials lists the materials marked changed in revisions.
func changedMaterials(revisions buildcause.MaterialRevisions) string {
	var changed []string
	for _, revision := range revisions {
		if revision.IsChanged() {
			changed = append(changed, revision.Material.DisplayName())
		}
	}
	if len(changed) == 0 {
		return "-"
	}
	return strings.Join(changed, ", ")
}

// shortRevision abbreviates commit hashes. Other tokens are short
// enough to show whole.
func shortRevision(modification material.Modification) string {
	if len(modification.Revision) == 40 || len(modification.Revision) == 64 {
		return modification.Revision[:12]
	}
	return modification.Revision
}

func shortFingerprint(fingerprint string) string {
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	return line
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}

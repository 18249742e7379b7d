// Package ui provides terminal rendering helpers for the cq CLI.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/chorequest/chorequest/internal/model"
	"github.com/chorequest/chorequest/internal/queue"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// RenderAccent renders s in the accent color (headings, progress markers).
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass renders s in the success color.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders s in the warning color.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders s in the error color.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderMuted renders s dimmed (secondary detail).
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// RenderHeader renders a column header row.
func RenderHeader(s string) string { return headerStyle.Render(s) }

// FormatPoints renders a signed point value, green for awards and red for
// deductions.
func FormatPoints(points int) string {
	if points < 0 {
		return failStyle.Render(fmt.Sprintf("%d", points))
	}
	return passStyle.Render(fmt.Sprintf("+%d", points))
}

// SyncBadge renders a short marker for a record's sync status.
func SyncBadge(status model.SyncStatus) string {
	if status == model.StatusSynced {
		return passStyle.Render("✓")
	}
	return warnStyle.Render("●")
}

// FormatEntryTable renders reward entries as an aligned table. Category
// names are resolved through categories; unknown IDs print as-is.
func FormatEntryTable(entries []*model.RewardEntry, categories []*model.Category) string {
	names := make(map[string]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-12s %-8s %-12s %-30s %s",
		"DATE", "POINTS", "CATEGORY", "DESCRIPTION", "SYNC")))
	b.WriteString("\n")

	for _, e := range entries {
		name := names[e.CategoryID]
		if name == "" {
			name = e.CategoryID
		}
		desc := e.Description
		if len(desc) > 30 {
			desc = desc[:27] + "..."
		}
		b.WriteString(fmt.Sprintf("%-12s %-8s %-12s %-30s %s\n",
			e.EarnedAt.Local().Format("2006-01-02"),
			FormatPoints(e.Points),
			name,
			desc,
			SyncBadge(e.SyncStatus)))
	}
	return b.String()
}

// FormatCategoryTable renders categories as an aligned table.
func FormatCategoryTable(categories []*model.Category) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-24s %-10s %s", "NAME", "DEFAULT", "SYNC")))
	b.WriteString("\n")

	for _, c := range categories {
		def := ""
		if c.IsDefault {
			def = mutedStyle.Render("default")
		}
		b.WriteString(fmt.Sprintf("%-24s %-10s %s\n", c.Name, def, SyncBadge(c.SyncStatus)))
	}
	return b.String()
}

// FormatQueueCounts renders the sync queue breakdown on one line.
func FormatQueueCounts(counts map[queue.Status]int) string {
	parts := make([]string, 0, 4)
	for _, st := range []queue.Status{queue.StatusPending, queue.StatusProcessing, queue.StatusFailed, queue.StatusCancelled} {
		if n := counts[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, st))
		}
	}
	if len(parts) == 0 {
		return passStyle.Render("queue empty")
	}
	return strings.Join(parts, ", ")
}

// FormatFailedOp renders one parked sync operation for cq sync status.
func FormatFailedOp(op *queue.Op) string {
	lastErr := "unknown"
	if op.LastError != nil {
		lastErr = *op.LastError
	}
	return fmt.Sprintf("%s %s %s/%s %s",
		failStyle.Render("✗"),
		op.Operation,
		op.EntityType,
		op.EntityID,
		mutedStyle.Render(fmt.Sprintf("(%d attempts, last: %s)", op.RetryCount, lastErr)))
}

// FormatRelativeTime renders t relative to now for status displays.
func FormatRelativeTime(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < 0:
		return fmt.Sprintf("in %s", (-d).Round(time.Second))
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%.1fh ago", d.Hours())
	}
}

// Confirm shows an interactive yes/no prompt for destructive operations.
func Confirm(title, description string) (bool, error) {
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if err != nil {
		return false, err
	}
	return ok, nil
}

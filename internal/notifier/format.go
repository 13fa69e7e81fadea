package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"harvestbot/internal/storage"
)

// maxListedTasks bounds the per-task lines in one summary.
const maxListedTasks = 20

// Format renders a run record as a Telegram HTML message.
func Format(rec storage.RunRecord) string {
	var b strings.Builder
	status := "✅ ok"
	if !rec.OK {
		status = "❌ failed"
	}
	took := rec.FinishedAt.Sub(rec.StartedAt).Round(time.Millisecond)
	fmt.Fprintf(&b, "<b>harvestbot run</b> %s\n", status)
	fmt.Fprintf(&b, "trigger: <code>%s</code> (%s)\n", html.EscapeString(rec.Trigger), html.EscapeString(rec.Source))
	fmt.Fprintf(&b, "id: <code>%s</code>, took %s\n", html.EscapeString(rec.ID), took)

	switch {
	case !rec.FullHarvest:
		b.WriteString("full harvest: skipped\n")
	case rec.FullHarvestErr != "":
		fmt.Fprintf(&b, "full harvest: <b>error</b> %s\n", html.EscapeString(rec.FullHarvestErr))
	default:
		b.WriteString("full harvest: ok\n")
	}

	if rec.FetchErr != "" {
		fmt.Fprintf(&b, "task check: <b>fetch failed</b> %s\n", html.EscapeString(rec.FetchErr))
		return strings.TrimRight(b.String(), "\n")
	}
	if len(rec.Tasks) == 0 {
		b.WriteString("task check: no tasks")
		return b.String()
	}

	failed := 0
	for _, t := range rec.Tasks {
		if t.Error != "" {
			failed++
		}
	}
	fmt.Fprintf(&b, "task check: %d invoked, %d failed\n", len(rec.Tasks), failed)
	for i, t := range rec.Tasks {
		if i == maxListedTasks {
			fmt.Fprintf(&b, "… %d more\n", len(rec.Tasks)-i)
			break
		}
		if t.Error != "" {
			fmt.Fprintf(&b, "• #%d ❌ %s\n", t.Number, html.EscapeString(t.Error))
		} else {
			fmt.Fprintf(&b, "• #%d ✅ %s\n", t.Number, time.Duration(t.TookMS)*time.Millisecond)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/sandeepkv93/tasksched/internal/materialize"
	"github.com/sandeepkv93/tasksched/internal/model"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

const stampLayout = "2006-01-02 15:04"

func RenderOccurrences(title string, days []time.Time) string {
	lines := make([]string, 0, len(days))
	for _, d := range days {
		lines = append(lines, fmt.Sprintf("%s  %s", d.Format(model.DateLayout), d.Weekday().String()[:3]))
	}
	body := "no occurrences"
	if len(lines) > 0 {
		body = strings.Join(lines, "\n")
	}
	return strings.Join([]string{
		headerStyle.Render(title),
		panelStyle.Render(body),
		footerStyle.Render(fmt.Sprintf("%d occurrence(s)", len(days))),
	}, "\n")
}

func RenderPlan(title string, plan model.Plan) string {
	if plan.DueAt.IsZero() {
		return strings.Join([]string{
			headerStyle.Render(title),
			footerStyle.Render("no due time, no reminders"),
		}, "\n")
	}

	rows := make([]string, 0, len(plan.Entries)+len(plan.Skipped))
	for _, e := range plan.Entries {
		rows = append(rows, statusStyle.Render(fmt.Sprintf("#%d  %s  %4d min before", e.OffsetIndex, e.FireAt.Format(stampLayout), e.OffsetMinutes)))
	}
	for _, s := range plan.Skipped {
		rows = append(rows, errorStyle.Render(fmt.Sprintf("#%d  %s  skipped (%s)", s.OffsetIndex, s.FireAt.Format(stampLayout), s.Reason)))
	}
	body := "no reminders"
	if len(rows) > 0 {
		body = strings.Join(rows, "\n")
	}
	return strings.Join([]string{
		headerStyle.Render(fmt.Sprintf("%s, due %s", title, plan.DueAt.Format(stampLayout))),
		panelStyle.Render(body),
		footerStyle.Render(fmt.Sprintf("%d scheduled, %d skipped", len(plan.Entries), len(plan.Skipped))),
	}, "\n")
}

func RenderTemplates(templates []model.TaskTemplate) string {
	if len(templates) == 0 {
		return footerStyle.Render("no templates")
	}
	rows := make([]string, 0, len(templates))
	for _, t := range templates {
		watermark := "never"
		if t.LastMaterializedDate != nil {
			watermark = t.LastMaterializedDate.Format(model.DateLayout)
		}
		rows = append(rows, fmt.Sprintf("%-36s  %-24s  %-16s  from %s  last %s",
			t.ID, t.Title, describeRule(t.Rule), t.Anchor.Format(model.DateLayout), watermark))
	}
	return panelStyle.Render(strings.Join(rows, "\n"))
}

func RenderReport(report materialize.Report) string {
	lines := []string{headerStyle.Render("catch-up")}
	for _, res := range report.Results {
		if len(res.Created) == 0 {
			continue
		}
		lines = append(lines, statusStyle.Render(fmt.Sprintf("%s: %d created, %d skipped", res.TemplateID, len(res.Created), len(res.Skipped))))
	}
	for _, f := range report.Invalid {
		lines = append(lines, errorStyle.Render(fmt.Sprintf("%s: invalid rule: %v", f.TemplateID, f.Err)))
	}
	for _, f := range report.Failed {
		lines = append(lines, errorStyle.Render(fmt.Sprintf("%s: error: %v", f.TemplateID, f.Err)))
	}
	lines = append(lines, footerStyle.Render(fmt.Sprintf("%d instance(s) created", len(report.Created()))))
	return strings.Join(lines, "\n")
}

func describeRule(r model.RecurrenceRule) string {
	switch r.Kind {
	case model.RecurrenceCustomWeekdays:
		names := make([]string, 0, len(r.Weekdays))
		for _, d := range r.Weekdays {
			names = append(names, d.String()[:3])
		}
		return strings.Join(names, ",")
	case model.RecurrenceNone:
		return "once"
	default:
		if r.Interval > 1 {
			return fmt.Sprintf("%s/%d", r.Kind, r.Interval)
		}
		return string(r.Kind)
	}
}

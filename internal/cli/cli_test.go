package cli

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sandeepkv93/tasksched/internal/model"
)

func TestParseWeekdays(t *testing.T) {
	days, err := parseWeekdays("Mon, thursday,sun")
	if err != nil {
		t.Fatalf("parse weekdays: %v", err)
	}
	want := []time.Weekday{time.Monday, time.Thursday, time.Sunday}
	if len(days) != len(want) {
		t.Fatalf("expected %v, got %v", want, days)
	}
	for i := range want {
		if days[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, days)
		}
	}
	if _, err := parseWeekdays("mon,funday"); err == nil {
		t.Fatal("expected error for unknown weekday")
	}
}

func TestParseOffsets(t *testing.T) {
	offsets, err := parseOffsets("60, 15,0")
	if err != nil {
		t.Fatalf("parse offsets: %v", err)
	}
	if len(offsets) != 3 || offsets[0] != 60 || offsets[2] != 0 {
		t.Fatalf("unexpected offsets: %v", offsets)
	}
	if _, err := parseOffsets("ten"); err == nil {
		t.Fatal("expected error for non-numeric offset")
	}
}

func TestTemplateFlagsBuild(t *testing.T) {
	now := time.Date(2026, 3, 11, 14, 0, 0, 0, time.UTC)
	flags := templateFlags{
		title:     "Standup",
		kind:      "custom_weekdays",
		weekdays:  "mon,wed,fri",
		timeOfDay: "09:30",
		offsets:   "10",
		mode:      "alarm",
	}
	tmpl, err := flags.build(time.UTC, now)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !tmpl.Anchor.Equal(time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected anchor today, got %s", tmpl.Anchor)
	}
	if tmpl.TimeOfDay == nil || tmpl.TimeOfDay.String() != "09:30" || tmpl.DeliveryMode != model.DeliveryAlarm {
		t.Fatalf("unexpected template: %+v", tmpl)
	}

	flags.weekdays = ""
	if _, err := flags.build(time.UTC, now); !errors.Is(err, model.ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}

	flags.weekdays = "mon"
	flags.offsets = "5,5"
	if _, err := flags.build(time.UTC, now); !errors.Is(err, model.ErrInvalidOffsets) {
		t.Fatalf("expected ErrInvalidOffsets, got %v", err)
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestTemplateAddListPreview(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TASKSCHED_DB_PATH", filepath.Join(dir, "cli.db"))
	t.Setenv("TASKSCHED_LOG_DIR", filepath.Join(dir, "logs"))
	t.Setenv("TASKSCHED_TIMEZONE", "UTC")

	out, err := runCLI(t, "template", "add", "--title", "Pay rent", "--rule", "monthly",
		"--anchor", "2024-01-31", "--time", "08:00", "--offsets", "1440")
	if err != nil {
		t.Fatalf("template add: %v\n%s", err, out)
	}
	id := strings.TrimSpace(out)
	if id == "" {
		t.Fatal("expected template id on stdout")
	}

	out, err = runCLI(t, "template", "list")
	if err != nil {
		t.Fatalf("template list: %v", err)
	}
	if !strings.Contains(out, "Pay rent") || !strings.Contains(out, "monthly") {
		t.Fatalf("expected template in list, got:\n%s", out)
	}

	out, err = runCLI(t, "preview", id, "--after", "2024-01-31", "-n", "2")
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if !strings.Contains(out, "2024-02-29") || !strings.Contains(out, "2024-03-31") {
		t.Fatalf("expected clamped monthly preview, got:\n%s", out)
	}
}

func TestPlanUnknownInstance(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TASKSCHED_DB_PATH", filepath.Join(dir, "cli.db"))
	t.Setenv("TASKSCHED_LOG_DIR", filepath.Join(dir, "logs"))

	if _, err := runCLI(t, "plan", "nope"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestInvalidConfigFails(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TASKSCHED_LOG_DIR", filepath.Join(dir, "logs"))
	t.Setenv("TASKSCHED_DAILY_RUN_AT", "7am")

	if _, err := runCLI(t, "template", "list"); err == nil {
		t.Fatal("expected config validation error")
	}
}

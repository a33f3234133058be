package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sandeepkv93/tasksched/internal/model"
	"github.com/sandeepkv93/tasksched/internal/storage"
	"github.com/sandeepkv93/tasksched/internal/views"
)

type templateFlags struct {
	title      string
	category   string
	kind       string
	interval   int
	weekdays   string
	anchor     string
	timeOfDay  string
	offsets    string
	mode       string
	lockScreen bool
}

func (f templateFlags) build(loc *time.Location, now time.Time) (model.TaskTemplate, error) {
	days, err := parseWeekdays(f.weekdays)
	if err != nil {
		return model.TaskTemplate{}, err
	}
	anchor := model.StartOfDay(now)
	if f.anchor != "" {
		if anchor, err = model.ParseDate(f.anchor, loc); err != nil {
			return model.TaskTemplate{}, fmt.Errorf("anchor must be YYYY-MM-DD: %w", err)
		}
	}
	offsets, err := parseOffsets(f.offsets)
	if err != nil {
		return model.TaskTemplate{}, err
	}
	tmpl := model.TaskTemplate{
		ID:                uuid.NewString(),
		Title:             strings.TrimSpace(f.title),
		Category:          strings.TrimSpace(f.category),
		Rule:              model.NewRule(model.RecurrenceKind(strings.ToLower(f.kind)), f.interval, days...),
		Anchor:            anchor,
		ReminderOffsets:   offsets,
		DeliveryMode:      model.DeliveryMode(strings.ToLower(f.mode)),
		LockScreenVisible: f.lockScreen,
		CreatedAt:         now,
	}
	if f.timeOfDay != "" {
		tod, err := model.ParseTimeOfDay(f.timeOfDay)
		if err != nil {
			return model.TaskTemplate{}, err
		}
		tmpl.TimeOfDay = &tod
	}
	return tmpl, tmpl.Validate()
}

func newTemplateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage recurring task templates",
	}

	var flags templateFlags
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a template",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tmpl, err := flags.build(a.loc, a.now())
			if err != nil {
				return err
			}
			repo, err := a.openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()
			if err := repo.CreateTemplate(cmd.Context(), tmpl); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tmpl.ID)
			return nil
		},
	}
	add.Flags().StringVar(&flags.title, "title", "", "template title")
	add.Flags().StringVar(&flags.category, "category", "", "category")
	add.Flags().StringVar(&flags.kind, "rule", string(model.RecurrenceDaily), "none, daily, weekly, monthly, yearly or custom_weekdays")
	add.Flags().IntVar(&flags.interval, "interval", 1, "step between occurrences")
	add.Flags().StringVar(&flags.weekdays, "weekdays", "", "comma separated weekdays for custom_weekdays, e.g. mon,thu")
	add.Flags().StringVar(&flags.anchor, "anchor", "", "first day, YYYY-MM-DD (defaults to today)")
	add.Flags().StringVar(&flags.timeOfDay, "time", "", "due time, HH:MM")
	add.Flags().StringVar(&flags.offsets, "offsets", "", "reminder offsets in minutes before due, e.g. 60,15")
	add.Flags().StringVar(&flags.mode, "mode", string(model.DeliveryNotification), "notification or alarm")
	add.Flags().BoolVar(&flags.lockScreen, "lock-screen", false, "show the title on the lock screen")
	_ = add.MarkFlagRequired("title")

	var limit, offset int
	list := &cobra.Command{
		Use:   "list",
		Short: "List templates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := a.openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()
			templates, err := repo.ListTemplates(cmd.Context(), storage.TemplateListFilter{Limit: limit, Offset: offset})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), views.RenderTemplates(templates))
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 0, "maximum rows")
	list.Flags().IntVar(&offset, "offset", 0, "rows to skip")

	cmd.AddCommand(add, list)
	return cmd
}

func newPreviewCommand(a *app) *cobra.Command {
	var count int
	var after string
	cmd := &cobra.Command{
		Use:   "preview <template-id>",
		Short: "Show upcoming occurrences of a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()
			tmpl, err := repo.GetTemplate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			from := a.now().AddDate(0, 0, -1)
			if after != "" {
				if from, err = model.ParseDate(after, a.loc); err != nil {
					return fmt.Errorf("after must be YYYY-MM-DD: %w", err)
				}
			}
			days, err := tmpl.Rule.Preview(tmpl.Anchor, from, count)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), views.RenderOccurrences(tmpl.Title, days))
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of occurrences")
	cmd.Flags().StringVar(&after, "after", "", "list occurrences after this day (defaults to yesterday)")
	return cmd
}

func newPlanCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <instance-id>",
		Short: "Show the reminder plan of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()
			inst, err := repo.GetInstance(cmd.Context(), args[0])
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("instance %s not found", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), views.RenderPlan(inst.Title, model.BuildPlan(inst, a.now())))
			return nil
		},
	}
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func parseWeekdays(raw string) ([]time.Weekday, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	out := make([]time.Weekday, 0, 7)
	for _, part := range strings.Split(raw, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if len(name) > 3 {
			name = name[:3]
		}
		d, ok := weekdayNames[name]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", part)
		}
		out = append(out, d)
	}
	return out, nil
}

func parseOffsets(raw string) ([]int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	out := make([]int, 0, model.MaxRemindersPerInstance)
	for _, part := range strings.Split(raw, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("offset %q: %w", part, err)
		}
		out = append(out, v)
	}
	return out, nil
}

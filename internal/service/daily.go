package service

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sandeepkv93/tasksched/internal/model"
)

// DailyTicker runs jobs once a day at a local wall-clock time.
type DailyTicker struct {
	cron *cron.Cron
}

func NewDailyTicker(loc *time.Location) *DailyTicker {
	if loc == nil {
		loc = time.Local
	}
	return &DailyTicker{
		cron: cron.New(cron.WithLocation(loc), cron.WithSeconds()),
	}
}

// ScheduleDaily registers job at the given HH:MM time.
func (d *DailyTicker) ScheduleDaily(at string, job func()) (cron.EntryID, error) {
	spec, err := DailySpec(at)
	if err != nil {
		return 0, err
	}
	return d.cron.AddFunc(spec, job)
}

func (d *DailyTicker) Start() {
	d.cron.Start()
}

func (d *DailyTicker) Stop() {
	ctx := d.cron.Stop()
	<-ctx.Done()
}

// Next returns when the first registered job runs next.
func (d *DailyTicker) Next() time.Time {
	entries := d.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Schedule.Next(time.Now())
}

// DailySpec converts HH:MM into a seconds-precision cron spec.
func DailySpec(at string) (string, error) {
	tod, err := model.ParseTimeOfDay(at)
	if err != nil {
		return "", fmt.Errorf("daily run time %q: %w", at, err)
	}
	// second minute hour dom month dow
	return fmt.Sprintf("0 %d %d * * *", tod.Minute, tod.Hour), nil
}

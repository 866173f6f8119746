// Package report turns a task list into the numbers and groupings the
// dashboard and calendar views show. Everything is computed on derived
// statuses, so an overdue task counts as failed even before it is saved.
package report

import (
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Joseda-hg/socius/internal/model"
	"github.com/Joseda-hg/socius/internal/taskstate"
)

const dueSoonWindow = 24 * time.Hour

type Dashboard struct {
	Total    int
	ByStatus map[model.Status]int
	// Overdue counts tasks that are failed only because this pass derived it.
	Overdue        int
	DueSoon        int
	CompletionRate float64
}

func Summarize(tasks []model.Task, now time.Time) Dashboard {
	d := Dashboard{ByStatus: map[model.Status]int{
		model.StatusPending:    0,
		model.StatusInProgress: 0,
		model.StatusCompleted:  0,
		model.StatusFailed:     0,
	}}
	for _, task := range tasks {
		result := taskstate.Derive(task, now)
		d.Total++
		d.ByStatus[result.Status]++
		if result.Transitioned {
			d.Overdue++
		}
		if result.Status.IsTerminal() {
			continue
		}
		if deadline, ok := task.DeadlineTime(); ok && deadline.Sub(now) <= dueSoonWindow {
			d.DueSoon++
		}
	}
	closed := d.ByStatus[model.StatusCompleted] + d.ByStatus[model.StatusFailed]
	if closed > 0 {
		d.CompletionRate = float64(d.ByStatus[model.StatusCompleted]) / float64(closed)
	}
	return d
}

// Day groups tasks due on one local calendar day. The unscheduled bucket has
// a zero Date and Unscheduled set.
type Day struct {
	Date        time.Time
	Unscheduled bool
	Tasks       []model.Task
}

func (d Day) Label() string {
	if d.Unscheduled {
		return "Unscheduled"
	}
	return d.Date.Format("Mon 02 Jan 2006")
}

func Calendar(tasks []model.Task, loc *time.Location) []Day {
	if loc == nil {
		loc = time.UTC
	}
	type dated struct {
		task     model.Task
		deadline time.Time
	}
	var scheduled []dated
	var unscheduled []model.Task
	for _, task := range tasks {
		deadline, ok := task.DeadlineTime()
		if !ok {
			unscheduled = append(unscheduled, task)
			continue
		}
		scheduled = append(scheduled, dated{task: task, deadline: deadline.In(loc)})
	}
	sort.SliceStable(scheduled, func(i, j int) bool {
		if !scheduled[i].deadline.Equal(scheduled[j].deadline) {
			return scheduled[i].deadline.Before(scheduled[j].deadline)
		}
		return scheduled[i].task.Name < scheduled[j].task.Name
	})

	var days []Day
	for _, item := range scheduled {
		year, month, day := item.deadline.Date()
		date := time.Date(year, month, day, 0, 0, 0, 0, loc)
		if n := len(days); n > 0 && days[n-1].Date.Equal(date) {
			days[n-1].Tasks = append(days[n-1].Tasks, item.task)
			continue
		}
		days = append(days, Day{Date: date, Tasks: []model.Task{item.task}})
	}
	if len(unscheduled) > 0 {
		sort.SliceStable(unscheduled, func(i, j int) bool { return unscheduled[i].Name < unscheduled[j].Name })
		days = append(days, Day{Unscheduled: true, Tasks: unscheduled})
	}
	return days
}

// Relative renders a deadline as "3 hours from now" or "2 days ago"; unparseable
// deadlines come back as "no deadline".
func Relative(deadline string, now time.Time) string {
	t, ok := model.ParseTimestamp(deadline)
	if !ok {
		return "no deadline"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

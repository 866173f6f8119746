// Package taskstate decides which status a task should show and which manual
// status changes an actor may make.
//
// Everything here is pure: callers pass the current time and persist any
// transition themselves.
package taskstate

import (
	"errors"
	"fmt"
	"time"

	"github.com/Joseda-hg/socius/internal/model"
)

// ErrInvalidTransition is returned by Check for any change outside the
// transition table.
var ErrInvalidTransition = errors.New("invalid transition")

// Result is the outcome of Derive.
type Result struct {
	Status       model.Status
	Transitioned bool
	// Evaluable is false when the deadline could not be parsed.
	Evaluable bool
}

// Derive returns the status task should be displayed and persisted with at now.
func Derive(task model.Task, now time.Time) Result {
	deadline, ok := task.DeadlineTime()
	if !ok {
		return Result{Status: task.Status}
	}
	if task.Status.IsTerminal() {
		return Result{Status: task.Status, Evaluable: true}
	}
	if deadline.Before(now) {
		return Result{Status: model.StatusFailed, Transitioned: true, Evaluable: true}
	}
	return Result{Status: task.Status, Evaluable: true}
}

// Outcome reports one transition found by Reconcile.
type Outcome struct {
	TaskID string
	Status model.Status
	Err    error
}

func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// TransitionFunc is called once for every task whose status changed.
type TransitionFunc func(taskID string, status model.Status) error

// Reconcile applies Derive to every task and returns a new slice with the
// derived statuses. Transitioned tasks get UpdatedAt set to now. onTransition
// may be nil; an error from it is recorded on that task's Outcome only.
func Reconcile(tasks []model.Task, now time.Time, onTransition TransitionFunc) ([]model.Task, []Outcome) {
	result := make([]model.Task, len(tasks))
	var outcomes []Outcome
	seen := make(map[string]struct{}, len(tasks))

	for i, task := range tasks {
		derived := Derive(task, now)
		if derived.Transitioned {
			task.Status = derived.Status
			task.UpdatedAt = model.FormatTimestamp(now)
		}
		result[i] = task

		if !derived.Transitioned {
			continue
		}
		if _, dup := seen[task.ID]; dup {
			continue
		}
		seen[task.ID] = struct{}{}

		outcome := Outcome{TaskID: task.ID, Status: derived.Status}
		if onTransition != nil {
			outcome.Err = onTransition(task.ID, derived.Status)
		}
		outcomes = append(outcomes, outcome)
	}

	return result, outcomes
}

// Role is the capacity in which an actor touches a task.
type Role string

const (
	RoleAssignee Role = "assignee"
	RoleLeader   Role = "leader"
)

type edge struct {
	role Role
	from model.Status
	to   model.Status
}

var transitions = map[edge]string{
	{RoleAssignee, model.StatusInProgress, model.StatusPending}: "submit for review",
	{RoleAssignee, model.StatusPending, model.StatusInProgress}: "resume",
	{RoleLeader, model.StatusPending, model.StatusCompleted}:    "approve",
}

// Roles lists the roles actor holds for task. A leader only leads tasks of
// their own team.
func Roles(task model.Task, actor model.Actor) []Role {
	var roles []Role
	if actor.UserID != "" && actor.UserID == task.AssignedTo.ID {
		roles = append(roles, RoleAssignee)
	}
	if actor.TeamLeader && actor.TeamID != "" && actor.TeamID == task.TeamID {
		roles = append(roles, RoleLeader)
	}
	return roles
}

// Check validates a manual transition. The task is evaluated at now, so an
// overdue task is already failed and cannot be moved.
func Check(task model.Task, actor model.Actor, target model.Status, now time.Time) error {
	_, err := lookup(task, actor, target, now)
	return err
}

// Describe returns the action label of an allowed transition, e.g. "approve".
func Describe(task model.Task, actor model.Actor, target model.Status, now time.Time) (string, error) {
	return lookup(task, actor, target, now)
}

func lookup(task model.Task, actor model.Actor, target model.Status, now time.Time) (string, error) {
	if !target.IsValid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, target)
	}
	current := Derive(task, now).Status
	for _, role := range Roles(task, actor) {
		if label, ok := transitions[edge{role, current, target}]; ok {
			return label, nil
		}
	}
	return "", fmt.Errorf("%w: %s -> %s not allowed for this user", ErrInvalidTransition, current, target)
}

// Allowed lists the targets actor may move task to at now.
func Allowed(task model.Task, actor model.Actor, now time.Time) []model.Status {
	var targets []model.Status
	for _, target := range []model.Status{model.StatusPending, model.StatusInProgress, model.StatusCompleted, model.StatusFailed} {
		if Check(task, actor, target, now) == nil {
			targets = append(targets, target)
		}
	}
	return targets
}

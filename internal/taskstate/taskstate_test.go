package taskstate

import (
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Joseda-hg/socius/internal/model"
)

var (
	past   = "2020-01-01T00:00:00Z"
	future = "2099-01-01T00:00:00Z"
	now    = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
)

func task(id string, status model.Status, deadline string) model.Task {
	return model.Task{
		ID:         id,
		Name:       "task " + id,
		Deadline:   deadline,
		Status:     status,
		AssignedTo: model.UserRef{ID: "assignee"},
		TeamID:     "team-1",
		UpdatedAt:  "2019-12-01T00:00:00Z",
	}
}

func TestDeriveTerminalIsSticky(t *testing.T) {
	nows := []time.Time{
		time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
		now,
		time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, status := range []model.Status{model.StatusCompleted, model.StatusFailed} {
		for _, deadline := range []string{past, future, "garbage"} {
			for _, at := range nows {
				got := Derive(task("a", status, deadline), at)
				if got.Status != status || got.Transitioned {
					t.Fatalf("status=%s deadline=%s now=%s: got %+v", status, deadline, at, got)
				}
			}
		}
	}
}

func TestDeriveNonTerminal(t *testing.T) {
	tests := []struct {
		name         string
		status       model.Status
		deadline     string
		want         model.Status
		transitioned bool
	}{
		{"overdue pending", model.StatusPending, past, model.StatusFailed, true},
		{"overdue in progress", model.StatusInProgress, past, model.StatusFailed, true},
		{"future pending", model.StatusPending, future, model.StatusPending, false},
		{"future in progress", model.StatusInProgress, future, model.StatusInProgress, false},
		{"deadline equals now", model.StatusPending, "2025-01-01T00:00:00Z", model.StatusPending, false},
		{"one second late", model.StatusPending, "2024-12-31T23:59:59Z", model.StatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Derive(task("a", tt.status, tt.deadline), now)
			if got.Status != tt.want || got.Transitioned != tt.transitioned {
				t.Fatalf("Derive() = %+v, want status %s transitioned %v", got, tt.want, tt.transitioned)
			}
			if !got.Evaluable {
				t.Fatalf("expected deadline to be evaluable")
			}
		})
	}
}

func TestDeriveUnparseableDeadline(t *testing.T) {
	for _, deadline := range []string{"", "soon", "2020-13-45"} {
		got := Derive(task("a", model.StatusPending, deadline), now)
		if got.Status != model.StatusPending || got.Transitioned || got.Evaluable {
			t.Fatalf("deadline %q: got %+v", deadline, got)
		}
	}
}

func TestDeriveScenarios(t *testing.T) {
	got := Derive(task("a", model.StatusPending, "2020-01-01T00:00:00Z"), now)
	if diff := cmp.Diff(Result{Status: model.StatusFailed, Transitioned: true, Evaluable: true}, got); diff != "" {
		t.Fatalf("overdue pending (-want +got):\n%s", diff)
	}

	got = Derive(task("b", model.StatusInProgress, "2099-01-01T00:00:00Z"), time.Now())
	if got.Status != model.StatusInProgress || got.Transitioned {
		t.Fatalf("future in progress: got %+v", got)
	}

	got = Derive(task("c", model.StatusCompleted, "2020-01-01T00:00:00Z"), time.Now())
	if got.Status != model.StatusCompleted || got.Transitioned {
		t.Fatalf("completed overdue: got %+v", got)
	}
}

func TestReconcileInvokesOnlyForTransitions(t *testing.T) {
	tasks := []model.Task{
		task("A", model.StatusPending, past),
		task("B", model.StatusInProgress, future),
		task("C", model.StatusCompleted, past),
	}
	original := append([]model.Task(nil), tasks...)

	var calls []string
	result, outcomes := Reconcile(tasks, now, func(id string, status model.Status) error {
		if status != model.StatusFailed {
			t.Fatalf("expected failed, got %s", status)
		}
		calls = append(calls, id)
		return nil
	})

	if diff := cmp.Diff([]string{"A"}, calls); diff != "" {
		t.Fatalf("callbacks (-want +got):\n%s", diff)
	}
	if len(outcomes) != 1 || outcomes[0].TaskID != "A" || !outcomes[0].Succeeded() {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}
	if result[0].Status != model.StatusFailed {
		t.Fatalf("expected A failed, got %s", result[0].Status)
	}
	if result[0].UpdatedAt != "2025-01-01T00:00:00Z" {
		t.Fatalf("expected A updated_at to move to now, got %s", result[0].UpdatedAt)
	}
	if result[1].Status != model.StatusInProgress || result[2].Status != model.StatusCompleted {
		t.Fatalf("unexpected statuses: %s, %s", result[1].Status, result[2].Status)
	}
	if diff := cmp.Diff(original, tasks); diff != "" {
		t.Fatalf("input mutated (-want +got):\n%s", diff)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	tasks := []model.Task{
		task("A", model.StatusPending, past),
		task("B", model.StatusInProgress, past),
		task("C", model.StatusInProgress, future),
	}

	first, outcomes := Reconcile(tasks, now, nil)
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(outcomes))
	}

	calls := 0
	second, outcomes := Reconcile(first, now, func(string, model.Status) error {
		calls++
		return nil
	})
	if calls != 0 || len(outcomes) != 0 {
		t.Fatalf("expected no transitions on second pass, got %d calls", calls)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("second pass changed output (-first +second):\n%s", diff)
	}
}

func TestReconcileIsolatesFailures(t *testing.T) {
	tasks := []model.Task{
		task("A", model.StatusPending, past),
		task("B", model.StatusInProgress, past),
	}

	var calls []string
	_, outcomes := Reconcile(tasks, now, func(id string, _ model.Status) error {
		calls = append(calls, id)
		if id == "A" {
			return fmt.Errorf("network down")
		}
		return nil
	})

	sort.Strings(calls)
	if diff := cmp.Diff([]string{"A", "B"}, calls); diff != "" {
		t.Fatalf("callbacks (-want +got):\n%s", diff)
	}
	byID := map[string]Outcome{}
	for _, o := range outcomes {
		byID[o.TaskID] = o
	}
	if byID["A"].Succeeded() {
		t.Fatalf("expected A to fail")
	}
	if !byID["B"].Succeeded() {
		t.Fatalf("expected B to succeed, got %v", byID["B"].Err)
	}
}

func TestReconcileVisitsDuplicateIDsOnce(t *testing.T) {
	tasks := []model.Task{
		task("A", model.StatusPending, past),
		task("A", model.StatusPending, past),
	}
	calls := 0
	result, _ := Reconcile(tasks, now, func(string, model.Status) error {
		calls++
		return nil
	})
	if calls != 1 {
		t.Fatalf("expected 1 callback, got %d", calls)
	}
	if result[0].Status != model.StatusFailed || result[1].Status != model.StatusFailed {
		t.Fatalf("expected both copies failed")
	}
}

func TestCheckAllowList(t *testing.T) {
	assignee := model.Actor{UserID: "assignee"}
	leader := model.Actor{UserID: "boss", TeamID: "team-1", TeamLeader: true}
	otherLeader := model.Actor{UserID: "boss-elsewhere", TeamID: "team-2", TeamLeader: true}
	stranger := model.Actor{UserID: "someone"}

	allowed := map[string]bool{
		"assignee in_progress->pending": true,
		"assignee pending->in_progress": true,
		"leader pending->completed":     true,
	}
	actors := map[string]model.Actor{
		"assignee":     assignee,
		"leader":       leader,
		"other-leader": otherLeader,
		"stranger":     stranger,
	}
	statuses := []model.Status{model.StatusPending, model.StatusInProgress, model.StatusCompleted, model.StatusFailed, "bogus"}

	for actorName, actor := range actors {
		for _, from := range statuses[:4] {
			for _, to := range statuses {
				name := fmt.Sprintf("%s %s->%s", actorName, from, to)
				t.Run(name, func(t *testing.T) {
					subject := task("A", from, future)
					before := subject
					err := Check(subject, actor, to, now)
					if allowed[name] {
						if err != nil {
							t.Fatalf("expected allowed, got %v", err)
						}
					} else if !errors.Is(err, ErrInvalidTransition) {
						t.Fatalf("expected ErrInvalidTransition, got %v", err)
					}
					if diff := cmp.Diff(before, subject); diff != "" {
						t.Fatalf("task mutated (-want +got):\n%s", diff)
					}
				})
			}
		}
	}
}

func TestCheckOverdueTaskIsFailed(t *testing.T) {
	err := Check(task("A", model.StatusInProgress, past), model.Actor{UserID: "assignee"}, model.StatusPending, now)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected overdue task to reject manual transition, got %v", err)
	}
}

func TestLeaderOfAnotherTeamCannotApprove(t *testing.T) {
	subject := task("A", model.StatusPending, future)
	subject.TeamID = "team-y"

	err := Check(subject, model.Actor{UserID: "boss-of-x", TeamID: "team-x", TeamLeader: true}, model.StatusCompleted, now)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if roles := Roles(subject, model.Actor{UserID: "boss-of-x", TeamLeader: true}); len(roles) != 0 {
		t.Fatalf("leader without a team got roles %v", roles)
	}
}

func TestLeaderWhoIsAssignee(t *testing.T) {
	actor := model.Actor{UserID: "assignee", TeamID: "team-1", TeamLeader: true}
	got := Allowed(task("A", model.StatusPending, future), actor, now)
	want := []model.Status{model.StatusInProgress, model.StatusCompleted}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Allowed() (-want +got):\n%s", diff)
	}

	label, err := Describe(task("A", model.StatusPending, future), actor, model.StatusCompleted, now)
	if err != nil || label != "approve" {
		t.Fatalf("expected approve, got %q, %v", label, err)
	}
}

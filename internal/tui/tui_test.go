package tui

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Joseda-hg/socius/internal/backend"
	"github.com/Joseda-hg/socius/internal/cache"
	"github.com/Joseda-hg/socius/internal/db"
	"github.com/Joseda-hg/socius/internal/model"
	"github.com/Joseda-hg/socius/internal/notify"
	"github.com/Joseda-hg/socius/internal/watch"
	"github.com/Joseda-hg/socius/internal/web"
	"github.com/Joseda-hg/socius/internal/workflow"
)

type fixture struct {
	store  *db.Store
	seed   db.SeedResult
	client *backend.Client
	cache  *cache.Cache
	feed   *notify.Feed
}

func TestRefreshBuildsPanes(t *testing.T) {
	f := newFixture(t)
	ui := f.newTestUI(t, model.Actor{UserID: f.seed.Member.ID})

	if len(ui.mine) != 4 {
		t.Fatalf("expected 4 tasks for member, got %d", len(ui.mine))
	}
	if len(ui.team) != 4 {
		t.Fatalf("expected 4 team tasks, got %d", len(ui.team))
	}
	if len(ui.calendar) != 4 {
		t.Fatalf("expected 4 calendar rows, got %d", len(ui.calendar))
	}
	if ui.dashboard.ByStatus[model.StatusFailed] != 1 || ui.dashboard.Overdue != 1 {
		t.Fatalf("expected the overdue task to count as failed, got %+v", ui.dashboard)
	}

	leader := f.newTestUI(t, model.Actor{UserID: f.seed.Leader.ID, TeamID: f.seed.Team.ID, TeamLeader: true})
	if len(leader.mine) != 0 || len(leader.team) != 4 {
		t.Fatalf("leader panes: mine=%d team=%d", len(leader.mine), len(leader.team))
	}
}

func TestSubmitForReviewPersists(t *testing.T) {
	f := newFixture(t)
	ui := f.newTestUI(t, model.Actor{UserID: f.seed.Member.ID})
	ui.focus = viewMine
	ui.selectedMine = 1

	if err := ui.submitForReview(nil, nil); err != nil {
		t.Fatalf("submit for review: %v", err)
	}
	ui.wg.Wait()

	if status := f.taskStatus(t, f.seed.Tasks[1].ID); status != model.StatusPending {
		t.Fatalf("expected pending, got %q", status)
	}
	latest, _ := f.feed.Latest()
	if latest.Level != model.LevelInfo {
		t.Fatalf("expected info notification, got %+v", latest)
	}
}

func TestApproveRequiresLeader(t *testing.T) {
	f := newFixture(t)
	payroll := f.seed.Tasks[2].ID

	t.Run("member", func(t *testing.T) {
		ui := f.newTestUI(t, model.Actor{UserID: f.seed.Member.ID})
		ui.focus = viewMine
		ui.selectedMine = 2

		if err := ui.approve(nil, nil); err != nil {
			t.Fatalf("approve: %v", err)
		}
		ui.wg.Wait()

		if status := f.taskStatus(t, payroll); status != model.StatusPending {
			t.Fatalf("expected task to stay pending, got %q", status)
		}
		latest, _ := f.feed.Latest()
		if latest.Level != model.LevelWarn {
			t.Fatalf("expected warning, got %+v", latest)
		}
	})

	t.Run("leader", func(t *testing.T) {
		ui := f.newTestUI(t, model.Actor{UserID: f.seed.Leader.ID, TeamID: f.seed.Team.ID, TeamLeader: true})
		ui.focus = viewTeam
		ui.selectedTeam = 2

		if err := ui.approve(nil, nil); err != nil {
			t.Fatalf("approve: %v", err)
		}
		ui.wg.Wait()

		if status := f.taskStatus(t, payroll); status != model.StatusCompleted {
			t.Fatalf("expected completed, got %q", status)
		}
	})
}

func TestOverdueTaskCannotBeSubmitted(t *testing.T) {
	f := newFixture(t)
	ui := f.newTestUI(t, model.Actor{UserID: f.seed.Member.ID})
	ui.focus = viewMine
	ui.selectedMine = 0

	if err := ui.submitForReview(nil, nil); err != nil {
		t.Fatalf("submit for review: %v", err)
	}
	ui.wg.Wait()

	if status := f.taskStatus(t, f.seed.Tasks[0].ID); status != model.StatusInProgress {
		t.Fatalf("expected backend copy untouched, got %q", status)
	}
	latest, _ := f.feed.Latest()
	if latest.Level != model.LevelWarn {
		t.Fatalf("expected warning, got %+v", latest)
	}
}

func TestReloadSavesOverdueTasks(t *testing.T) {
	f := newFixture(t)
	ui := f.newTestUI(t, model.Actor{UserID: f.seed.Member.ID})

	if err := ui.reload(nil, nil); err != nil {
		t.Fatalf("reload: %v", err)
	}
	ui.wg.Wait()

	if status := f.taskStatus(t, f.seed.Tasks[0].ID); status != model.StatusFailed {
		t.Fatalf("expected failed, got %q", status)
	}
	if status := f.taskStatus(t, f.seed.Tasks[1].ID); status != model.StatusInProgress {
		t.Fatalf("expected in_progress, got %q", status)
	}
}

func TestMoveAndFocus(t *testing.T) {
	f := newFixture(t)
	ui := f.newTestUI(t, model.Actor{UserID: f.seed.Member.ID})
	ui.focus = viewMine

	for i := 0; i < 10; i++ {
		if err := ui.moveDown(nil, nil); err != nil {
			t.Fatalf("move down: %v", err)
		}
	}
	if ui.selectedMine != 3 {
		t.Fatalf("expected selection clamped to 3, got %d", ui.selectedMine)
	}
	if err := ui.moveUp(nil, nil); err != nil {
		t.Fatalf("move up: %v", err)
	}
	if selected := ui.selectedTask(); selected == nil || selected.ID != f.seed.Tasks[2].ID {
		t.Fatalf("unexpected selection %+v", selected)
	}

	want := []string{viewTeam, viewCalendar, viewDashboard, viewMine}
	for _, name := range want {
		if err := ui.switchFocus(nil, nil); err != nil {
			t.Fatalf("switch focus: %v", err)
		}
		if ui.focus != name {
			t.Fatalf("expected focus %s, got %s", name, ui.focus)
		}
	}
}

func TestComputeLayout(t *testing.T) {
	l := computeLayout(120, 40)
	if l.leftWidth != 48 || l.topHeight != 20 {
		t.Fatalf("unexpected layout %+v", l)
	}
	small := computeLayout(10, 2)
	if small.leftWidth != 20 || small.topHeight != 4 {
		t.Fatalf("unexpected small layout %+v", small)
	}
}

func TestFormatTaskLineShowsDerivedStatus(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	task := model.Task{Name: "Send invoices", Status: model.StatusInProgress, Deadline: "2025-06-01T09:00:00Z"}
	want := "[failed     ] Send invoices (3 hours ago)"
	if got := formatTaskLine(task, now); got != want {
		t.Fatalf("formatTaskLine = %q, want %q", got, want)
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	store := db.NewStore(conn)
	seed, err := store.Seed(context.Background())
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	server := httptest.NewServer(web.NewServer(store).Handler())
	t.Cleanup(server.Close)

	return &fixture{
		store:  store,
		seed:   seed,
		client: backend.New(server.URL),
		cache:  cache.New(),
		feed:   notify.NewFeed(10),
	}
}

func (f *fixture) newTestUI(t *testing.T, actor model.Actor) *UI {
	t.Helper()
	load := func(ctx context.Context) ([]model.Task, error) {
		return f.client.ListTasks(ctx, model.Filter{})
	}
	watcher := watch.New(load, f.client, f.cache, watch.Options{Notifier: f.feed})
	if err := watcher.Refresh(context.Background()); err != nil {
		t.Fatalf("load tasks: %v", err)
	}

	ui := newUI(context.Background(), Deps{
		Cache:    f.cache,
		Watcher:  watcher,
		Workflow: workflow.New(f.cache, f.client, f.feed, nil),
		Feed:     f.feed,
		Actor:    actor,
		TeamID:   f.seed.Team.ID,
		Location: time.UTC,
	})
	ui.refresh()
	return ui
}

func (f *fixture) taskStatus(t *testing.T, taskID string) model.Status {
	t.Helper()
	task, err := f.store.GetTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	return task.Status
}

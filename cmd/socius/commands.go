package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Joseda-hg/socius/internal/cache"
	"github.com/Joseda-hg/socius/internal/config"
	"github.com/Joseda-hg/socius/internal/model"
	"github.com/Joseda-hg/socius/internal/notify"
	"github.com/Joseda-hg/socius/internal/report"
	"github.com/Joseda-hg/socius/internal/taskstate"
	"github.com/Joseda-hg/socius/internal/tui"
	"github.com/Joseda-hg/socius/internal/web"
	"github.com/Joseda-hg/socius/internal/workflow"
)

const shutdownTimeout = 5 * time.Second

func (a *app) tuiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the terminal board (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runTUI(cmd.Context())
		},
	}
}

func (a *app) runTUI(ctx context.Context) error {
	if err := a.requireUser(); err != nil {
		return err
	}
	loc, _ := a.cfg.Location()
	interval, _ := a.cfg.PollEvery()

	c := cache.New()
	feed := notify.NewFeed(50)
	return tui.Run(ctx, tui.Deps{
		Cache:    c,
		Watcher:  a.newWatcher(c, feed),
		Workflow: workflow.New(c, a.client, feed, a.logger.Named("workflow")),
		Feed:     feed,
		Actor:    a.actor(),
		TeamID:   a.cfg.TeamID,
		Location: loc,
		Interval: interval,
		Logger:   a.logger.Named("tui"),
	})
}

func (a *app) serveCmd() *cobra.Command {
	var seed bool
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the development backend on a local sqlite database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port != 0 {
				a.cfg.WebPort = port
			}
			return a.serve(cmd.Context(), seed)
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "create a sample team and tasks first")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	return cmd
}

func (a *app) serve(ctx context.Context, seed bool) error {
	store, closeStore, err := openStore(a.cfg.DBPath)
	if err != nil {
		return err
	}
	defer closeStore()

	if seed {
		result, err := store.Seed(ctx)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		fmt.Printf("%s team %s (%s)\n", Green("seeded"), Bold(result.Team.Name), result.Team.ID)
		fmt.Printf("  leader %s  %s\n", result.Leader.FullName(), Dim(result.Leader.ID))
		fmt.Printf("  member %s  %s\n", result.Member.FullName(), Dim(result.Member.ID))
		if a.cfg.UserID == "" {
			a.cfg.UserID = result.Member.ID
			a.cfg.TeamID = result.Team.ID
			if err := a.saveConfig(); err != nil {
				return err
			}
			fmt.Printf("  %s acting as %s in %s\n", Dim("config:"), result.Member.FullName(), a.configPath)
		}
	}

	addr := net.JoinHostPort("", strconv.Itoa(a.cfg.WebPort))
	server := &http.Server{
		Addr:              addr,
		Handler:           web.NewServer(store, web.WithLogger(a.logger.Named("web")), web.WithToken(a.cfg.APIToken)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", zap.String("addr", addr), zap.String("db", a.cfg.DBPath))
		fmt.Printf("backend running at %s\n", Cyan("http://localhost"+addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	a.logger.Info("shut down signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	a.logger.Info("shut down gracefully")
	return nil
}

func (a *app) saveConfig() error {
	saved, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	saved.UserID = a.cfg.UserID
	saved.TeamID = a.cfg.TeamID
	return config.Save(a.configPath, saved)
}

func (a *app) tasksCmd() *cobra.Command {
	var all bool
	var status string
	var query string
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List tasks with their current status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := model.Filter{Status: model.Status(status), Query: query}
			if !all {
				if err := a.requireUser(); err != nil {
					return err
				}
				filter.AssigneeID = a.cfg.UserID
			}
			if filter.Status != "" && !filter.Status.IsValid() {
				return fmt.Errorf("unknown status %q", status)
			}
			tasks, err := a.client.ListTasks(cmd.Context(), model.Filter{AssigneeID: filter.AssigneeID, Query: filter.Query})
			if err != nil {
				return err
			}

			now := time.Now()
			for _, task := range tasks {
				// filter on the derived status, which the backend may not have yet
				task.Status = taskstate.Derive(task, now).Status
				if !filter.Match(task) {
					continue
				}
				printTask(task, now)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "list every task, not only yours")
	cmd.Flags().StringVarP(&status, "status", "s", "", "only tasks in this status")
	cmd.Flags().StringVarP(&query, "query", "q", "", "search name and description")
	return cmd
}

func printTask(task model.Task, now time.Time) {
	assignee := task.AssignedTo.FullName()
	if assignee == "" {
		assignee = "unassigned"
	}
	fmt.Printf("%s  %s  %s  %s  %s\n",
		statusLabel(task.Status),
		Bold(task.Name),
		report.Relative(task.Deadline, now),
		Dim(assignee),
		Dim(task.ID))
}

func (a *app) reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Mark overdue tasks failed and save them once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := cache.New()
			watcher := a.newWatcher(c, notify.Func(printNotification))
			if err := watcher.Refresh(cmd.Context()); err != nil {
				return err
			}
			result := watcher.ReconcileOnce(cmd.Context())

			if len(result.Transitioned) == 0 {
				fmt.Println(Dim("no overdue tasks"))
			}
			if len(result.Failed) > 0 {
				ids := make([]string, 0, len(result.Failed))
				for taskID := range result.Failed {
					ids = append(ids, taskID)
				}
				sort.Strings(ids)
				return fmt.Errorf("%d of %d status changes not saved: %v", len(ids), len(result.Saved)+len(ids), ids)
			}
			return nil
		},
	}
}

func printNotification(n model.Notification) {
	fmt.Fprintf(os.Stderr, "%s %s\n", levelLabel(n.Level), n.Message)
}

func (a *app) transitionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transition <task-id> <status>",
		Short: "Move a task to pending, in_progress or completed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireUser(); err != nil {
				return err
			}
			target := model.Status(args[1])
			if !target.IsValid() {
				return fmt.Errorf("unknown status %q", args[1])
			}

			task, err := a.client.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			c := cache.New()
			c.Replace([]model.Task{task})

			svc := workflow.New(c, a.client, notify.Func(printNotification), a.logger.Named("workflow"))
			saved, err := svc.RequestTransition(cmd.Context(), task.ID, a.actor(), target)
			if err != nil {
				if errors.Is(err, taskstate.ErrInvalidTransition) {
					if allowed := taskstate.Allowed(task, a.actor(), time.Now()); len(allowed) > 0 {
						fmt.Fprintf(os.Stderr, "%s %v\n", Dim("allowed:"), allowed)
					}
				}
				return err
			}
			printTask(saved, time.Now())
			return nil
		},
	}
}

func (a *app) dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Summarize the tasks you and your team can see",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tasks, err := a.loadVisibleTasks(cmd.Context())
			if err != nil {
				return err
			}
			d := report.Summarize(tasks, time.Now())
			fmt.Printf("%s %d tasks\n", Bold("Dashboard"), d.Total)
			for _, status := range []model.Status{model.StatusInProgress, model.StatusPending, model.StatusCompleted, model.StatusFailed} {
				fmt.Printf("  %s %d\n", statusLabel(status), d.ByStatus[status])
			}
			fmt.Printf("  %-11s %d\n", "due in 24h", d.DueSoon)
			fmt.Printf("  %-11s %d\n", "overdue", d.Overdue)
			fmt.Printf("  %-11s %.0f%%\n", "completion", d.CompletionRate*100)
			return nil
		},
	}
}

func (a *app) calendarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "calendar",
		Short: "Show tasks grouped by deadline day",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tasks, err := a.loadVisibleTasks(cmd.Context())
			if err != nil {
				return err
			}
			loc, _ := a.cfg.Location()
			now := time.Now()
			for _, day := range report.Calendar(tasks, loc) {
				fmt.Println(Cyan(day.Label()))
				for _, task := range day.Tasks {
					due := ""
					if deadline, ok := task.DeadlineTime(); ok {
						due = deadline.In(loc).Format("15:04")
					}
					fmt.Printf("  %5s  %s  %s\n", due, statusLabel(taskstate.Derive(task, now).Status), task.Name)
				}
			}
			return nil
		},
	}
}

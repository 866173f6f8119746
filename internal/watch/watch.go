// Package watch keeps the task cache current while a view is open: it loads
// tasks, flips overdue ones to failed and saves those changes, once on start
// and then on every tick until its context is cancelled.
package watch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Joseda-hg/socius/internal/cache"
	"github.com/Joseda-hg/socius/internal/model"
	"github.com/Joseda-hg/socius/internal/notify"
	"github.com/Joseda-hg/socius/internal/taskstate"
)

// Loader fetches the tasks a view shows.
type Loader func(ctx context.Context) ([]model.Task, error)

type StatusUpdater interface {
	UpdateTaskStatus(ctx context.Context, taskID string, status model.Status) (model.Task, error)
}

type Options struct {
	Interval time.Duration
	// RefreshEvery reloads from the backend every N ticks; 0 never reloads
	// once the first load succeeded.
	RefreshEvery  int
	MaxConcurrent int
	Notifier      notify.Notifier
	Logger        *zap.Logger
}

type Watcher struct {
	load     Loader
	backend  StatusUpdater
	cache    *cache.Cache
	opts     Options
	notifier notify.Notifier
	logger   *zap.Logger

	now       func() time.Time
	newTicker func(time.Duration) (<-chan time.Time, func())

	mu       sync.Mutex
	loaded   bool
	unsynced map[string]model.Status
}

func New(load Loader, backend StatusUpdater, c *cache.Cache, opts Options) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		load:      load,
		backend:   backend,
		cache:     c,
		opts:      opts,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
		newTicker: realTicker,
		unsynced:  make(map[string]model.Status),
	}
}

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	ticker := time.NewTicker(d)
	return ticker.C, ticker.Stop
}

// Run loads and reconciles immediately, then again on every tick. It returns
// when ctx is done; no work continues after it returns.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Debug("watcher started", zap.Duration("interval", w.opts.Interval))
	w.refresh(ctx)
	w.ReconcileOnce(ctx)

	ticks, stop := w.newTicker(w.opts.Interval)
	defer stop()

	count := 0
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("watcher stopped")
			return nil
		case <-ticks:
			count++
			if !w.isLoaded() || (w.opts.RefreshEvery > 0 && count%w.opts.RefreshEvery == 0) {
				w.refresh(ctx)
			}
			w.ReconcileOnce(ctx)
		}
	}
}

// Refresh reloads the cache from the backend.
func (w *Watcher) Refresh(ctx context.Context) error {
	tasks, err := w.load(ctx)
	if err != nil {
		return err
	}
	w.cache.Replace(tasks)
	w.mu.Lock()
	w.loaded = true
	w.mu.Unlock()
	return nil
}

func (w *Watcher) refresh(ctx context.Context) {
	if err := w.Refresh(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Warn("load tasks failed", zap.Error(err))
		notify.Error(w.notifier, "", fmt.Sprintf("Could not load tasks: %v", err))
	}
}

func (w *Watcher) isLoaded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loaded
}

// Report describes one reconciliation pass.
type Report struct {
	Transitioned []string
	Saved        []string
	Failed       map[string]error
}

// ReconcileOnce derives every cached task's status at the current time,
// updates the cache, and saves the transitions. A save failure affects only
// its own task; the task keeps showing the derived status and the save is
// retried on the next pass.
func (w *Watcher) ReconcileOnce(ctx context.Context) Report {
	now := w.now()
	report := Report{Failed: map[string]error{}}

	current := w.cache.List(model.Filter{})
	byID := make(map[string]model.Task, len(current))
	for _, task := range current {
		byID[task.ID] = task
	}

	derived, _ := taskstate.Reconcile(current, now, func(taskID string, status model.Status) error {
		report.Transitioned = append(report.Transitioned, taskID)
		return nil
	})
	for _, task := range derived {
		if task.Status == byID[task.ID].Status {
			continue
		}
		before := byID[task.ID]
		next := task
		w.cache.UpdateIf(task.ID, func(cached model.Task) (model.Task, bool) {
			return next, cached == before
		})
	}
	for _, task := range current {
		if _, ok := task.DeadlineTime(); !ok {
			w.logger.Debug("deadline not evaluable", zap.String("task_id", task.ID), zap.String("deadline", task.Deadline))
		}
	}

	pending := w.pendingSaves(report.Transitioned)
	if len(pending) == 0 {
		return report
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(w.opts.MaxConcurrent)
	for taskID, status := range pending {
		g.Go(func() error {
			err := w.save(ctx, taskID, status)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[taskID] = err
			} else {
				report.Saved = append(report.Saved, taskID)
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(report.Saved)

	for _, taskID := range report.Transitioned {
		if _, failed := report.Failed[taskID]; failed {
			continue
		}
		name := taskID
		if task, ok := w.cache.Get(taskID); ok {
			name = task.Name
		}
		notify.Info(w.notifier, taskID, fmt.Sprintf("%s passed its deadline and was marked failed", name))
	}
	return report
}

// pendingSaves merges this pass's transitions with earlier failed saves.
func (w *Watcher) pendingSaves(transitioned []string) map[string]model.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	pending := make(map[string]model.Status, len(transitioned)+len(w.unsynced))
	for taskID, status := range w.unsynced {
		task, ok := w.cache.Get(taskID)
		if !ok || task.Status != status {
			// someone else changed it since; theirs wins
			delete(w.unsynced, taskID)
			continue
		}
		pending[taskID] = status
	}
	for _, taskID := range transitioned {
		pending[taskID] = model.StatusFailed
	}
	return pending
}

func (w *Watcher) save(ctx context.Context, taskID string, status model.Status) error {
	saved, err := w.backend.UpdateTaskStatus(ctx, taskID, status)
	if err != nil {
		w.mu.Lock()
		w.unsynced[taskID] = status
		w.mu.Unlock()
		if ctx.Err() == nil {
			w.logger.Warn("save derived status failed",
				zap.String("task_id", taskID),
				zap.String("status", string(status)),
				zap.Error(err))
			notify.Warn(w.notifier, taskID, fmt.Sprintf("Could not save status of task %s: %v", taskID, err))
		}
		return err
	}

	w.mu.Lock()
	delete(w.unsynced, taskID)
	w.mu.Unlock()
	w.cache.UpdateIf(taskID, func(cached model.Task) (model.Task, bool) {
		return saved, cached.Status == status
	})
	return nil
}

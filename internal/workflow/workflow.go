// Package workflow performs manual status changes requested by a user.
//
// Changes are applied to the cache optimistically and rolled back if the
// backend refuses or cannot be reached.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Joseda-hg/socius/internal/cache"
	"github.com/Joseda-hg/socius/internal/model"
	"github.com/Joseda-hg/socius/internal/notify"
	"github.com/Joseda-hg/socius/internal/taskstate"
)

var ErrUnknownTask = errors.New("unknown task")

type StatusUpdater interface {
	UpdateTaskStatus(ctx context.Context, taskID string, status model.Status) (model.Task, error)
}

type Service struct {
	cache    *cache.Cache
	backend  StatusUpdater
	notifier notify.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func New(c *cache.Cache, backend StatusUpdater, notifier notify.Notifier, logger *zap.Logger) *Service {
	if notifier == nil {
		notifier = notify.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{cache: c, backend: backend, notifier: notifier, logger: logger, now: time.Now}
}

// RequestTransition moves a cached task to target on behalf of actor.
// Rejected transitions return an error wrapping taskstate.ErrInvalidTransition
// and leave the cache untouched.
func (s *Service) RequestTransition(ctx context.Context, taskID string, actor model.Actor, target model.Status) (model.Task, error) {
	previous, ok := s.cache.Get(taskID)
	if !ok {
		return model.Task{}, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}

	now := s.now()
	label, err := taskstate.Describe(previous, actor, target, now)
	if err != nil {
		notify.Warn(s.notifier, taskID, fmt.Sprintf("%s: %v", previous.Name, err))
		return model.Task{}, err
	}

	optimistic := previous
	optimistic.Status = target
	optimistic.UpdatedAt = model.FormatTimestamp(now)
	s.cache.Upsert(optimistic)

	saved, err := s.backend.UpdateTaskStatus(ctx, taskID, target)
	if err != nil {
		s.rollback(optimistic, previous)
		s.logger.Warn("status change failed",
			zap.String("task_id", taskID),
			zap.String("target", string(target)),
			zap.Error(err))
		notify.Error(s.notifier, taskID, fmt.Sprintf("Could not %s %q: %v", label, previous.Name, err))
		return model.Task{}, fmt.Errorf("%s %s: %w", label, taskID, err)
	}

	s.cache.UpdateIf(taskID, func(current model.Task) (model.Task, bool) {
		return saved, sameVersion(current, optimistic)
	})
	s.logger.Info("status changed",
		zap.String("task_id", taskID),
		zap.String("from", string(previous.Status)),
		zap.String("to", string(saved.Status)))
	notify.Info(s.notifier, taskID, fmt.Sprintf("%s: %s", previous.Name, label))
	return saved, nil
}

// rollback restores previous unless something newer replaced the optimistic copy.
func (s *Service) rollback(optimistic, previous model.Task) {
	s.cache.UpdateIf(previous.ID, func(current model.Task) (model.Task, bool) {
		return previous, sameVersion(current, optimistic)
	})
}

func sameVersion(a, b model.Task) bool {
	return a.Status == b.Status && a.UpdatedAt == b.UpdatedAt
}

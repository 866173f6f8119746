// Package notify carries short user-facing messages (success, rejected
// transition, failed save) from background work to whatever is on screen.
package notify

import (
	"sync"
	"time"

	"github.com/Joseda-hg/socius/internal/model"
)

type Notifier interface {
	Notify(n model.Notification)
}

// Func adapts a plain function to Notifier.
type Func func(n model.Notification)

func (f Func) Notify(n model.Notification) {
	f(n)
}

// Discard drops every notification.
var Discard Notifier = Func(func(model.Notification) {})

// Feed keeps the most recent notifications in memory.
type Feed struct {
	mu       sync.Mutex
	items    []model.Notification
	limit    int
	now      func() time.Time
	OnNotify func(n model.Notification)
}

func NewFeed(limit int) *Feed {
	if limit <= 0 {
		limit = 20
	}
	return &Feed{limit: limit, now: time.Now}
}

func (f *Feed) Notify(n model.Notification) {
	if n.At.IsZero() {
		n.At = f.now()
	}
	if n.Level == "" {
		n.Level = model.LevelInfo
	}

	f.mu.Lock()
	f.items = append(f.items, n)
	if len(f.items) > f.limit {
		f.items = append([]model.Notification(nil), f.items[len(f.items)-f.limit:]...)
	}
	hook := f.OnNotify
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
}

// Latest returns the newest notification, if any.
func (f *Feed) Latest() (model.Notification, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == 0 {
		return model.Notification{}, false
	}
	return f.items[len(f.items)-1], true
}

// List returns a copy of the retained notifications, oldest first.
func (f *Feed) List() []model.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Notification(nil), f.items...)
}

func Info(n Notifier, taskID, message string) {
	n.Notify(model.Notification{Level: model.LevelInfo, TaskID: taskID, Message: message})
}

func Warn(n Notifier, taskID, message string) {
	n.Notify(model.Notification{Level: model.LevelWarn, TaskID: taskID, Message: message})
}

func Error(n Notifier, taskID, message string) {
	n.Notify(model.Notification{Level: model.LevelError, TaskID: taskID, Message: message})
}

// Package cache holds the single in-memory copy of task data shared by every
// view. Writers replace or upsert tasks; views subscribe and redraw.
package cache

import (
	"sync"

	"github.com/Joseda-hg/socius/internal/model"
)

// Event is sent to subscribers after a write. Events are coalesced, so a
// subscriber should re-read the cache rather than rely on the payload alone.
type Event struct {
	TaskIDs []string
}

type Cache struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]model.Task

	subMu  sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func New() *Cache {
	return &Cache{
		byID: make(map[string]model.Task),
		subs: make(map[int]chan Event),
	}
}

// Replace swaps the whole task set, keeping the given order.
func (c *Cache) Replace(tasks []model.Task) {
	c.mu.Lock()
	c.order = make([]string, 0, len(tasks))
	c.byID = make(map[string]model.Task, len(tasks))
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		if _, ok := c.byID[task.ID]; !ok {
			c.order = append(c.order, task.ID)
			ids = append(ids, task.ID)
		}
		c.byID[task.ID] = task
	}
	c.mu.Unlock()

	c.publish(Event{TaskIDs: ids})
}

// Upsert stores tasks, appending unknown ids at the end.
func (c *Cache) Upsert(tasks ...model.Task) {
	if len(tasks) == 0 {
		return
	}
	c.mu.Lock()
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		if _, ok := c.byID[task.ID]; !ok {
			c.order = append(c.order, task.ID)
		}
		c.byID[task.ID] = task
		ids = append(ids, task.ID)
	}
	c.mu.Unlock()

	c.publish(Event{TaskIDs: ids})
}

// UpdateIf atomically replaces the cached task with fn's result when fn
// returns true. It reports whether a write happened.
func (c *Cache) UpdateIf(id string, fn func(current model.Task) (model.Task, bool)) bool {
	c.mu.Lock()
	current, ok := c.byID[id]
	if !ok {
		c.mu.Unlock()
		return false
	}
	next, write := fn(current)
	if !write {
		c.mu.Unlock()
		return false
	}
	next.ID = id
	c.byID[id] = next
	c.mu.Unlock()

	c.publish(Event{TaskIDs: []string{id}})
	return true
}

func (c *Cache) Get(id string) (model.Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	task, ok := c.byID[id]
	return task, ok
}

// List returns the tasks matching filter in load order.
func (c *Cache) List(filter model.Filter) []model.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]model.Task, 0, len(c.order))
	for _, id := range c.order {
		task := c.byID[id]
		if filter.Match(task) {
			result = append(result, task)
		}
	}
	return result
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Subscribe returns a channel signalled after writes and a func that
// unsubscribes and closes it.
func (c *Cache) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 1)

	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
			close(ch)
		})
	}
}

func (c *Cache) publish(event Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- event:
		default:
			// a signal is already pending; merge ids into it
			select {
			case pending := <-ch:
				pending.TaskIDs = append(pending.TaskIDs, event.TaskIDs...)
				ch <- pending
			default:
				ch <- event
			}
		}
	}
}

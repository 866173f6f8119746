package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Joseda-hg/socius/internal/model"
)

func TestReplaceKeepsOrderAndFilters(t *testing.T) {
	c := New()
	c.Replace([]model.Task{
		{ID: "b", Name: "Beta", Status: model.StatusPending, AssignedTo: model.UserRef{ID: "u1"}},
		{ID: "a", Name: "Alpha", Status: model.StatusCompleted, AssignedTo: model.UserRef{ID: "u2"}},
		{ID: "c", Name: "Gamma", Status: model.StatusPending, AssignedTo: model.UserRef{ID: "u1"}},
	})

	require.Equal(t, 3, c.Len())

	all := c.List(model.Filter{})
	require.Equal(t, []string{"b", "a", "c"}, ids(all))

	mine := c.List(model.Filter{AssigneeID: "u1"})
	require.Equal(t, []string{"b", "c"}, ids(mine))

	c.Replace([]model.Task{{ID: "z"}})
	require.Equal(t, 1, c.Len())
	_, ok := c.Get("a")
	require.False(t, ok)
}

func TestUpsertReplacesInPlace(t *testing.T) {
	c := New()
	c.Replace([]model.Task{{ID: "a", Status: model.StatusPending}, {ID: "b"}})
	c.Upsert(model.Task{ID: "a", Status: model.StatusFailed}, model.Task{ID: "c"})

	got, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, model.StatusFailed, got.Status)
	require.Equal(t, []string{"a", "b", "c"}, ids(c.List(model.Filter{})))
}

func TestUpdateIf(t *testing.T) {
	c := New()
	c.Replace([]model.Task{{ID: "a", Status: model.StatusPending, UpdatedAt: "v1"}})

	wrote := c.UpdateIf("a", func(current model.Task) (model.Task, bool) {
		if current.UpdatedAt != "v0" {
			return current, false
		}
		current.Status = model.StatusFailed
		return current, true
	})
	require.False(t, wrote)

	wrote = c.UpdateIf("a", func(current model.Task) (model.Task, bool) {
		current.Status = model.StatusFailed
		return current, true
	})
	require.True(t, wrote)
	got, _ := c.Get("a")
	require.Equal(t, model.StatusFailed, got.Status)

	require.False(t, c.UpdateIf("missing", func(current model.Task) (model.Task, bool) {
		return current, true
	}))
}

func TestSubscribeCoalescesEvents(t *testing.T) {
	c := New()
	events, cancel := c.Subscribe()
	defer cancel()

	c.Upsert(model.Task{ID: "a"})
	c.Upsert(model.Task{ID: "b"})
	c.Upsert(model.Task{ID: "c"})

	event := <-events
	require.Equal(t, []string{"a", "b", "c"}, event.TaskIDs)

	select {
	case extra := <-events:
		t.Fatalf("expected a single coalesced event, got %+v", extra)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	c := New()
	events, cancel := c.Subscribe()
	cancel()
	cancel()

	_, open := <-events
	require.False(t, open)

	// writes after unsubscribe must not panic
	c.Upsert(model.Task{ID: "a"})
}

func ids(tasks []model.Task) []string {
	result := make([]string, 0, len(tasks))
	for _, task := range tasks {
		result = append(result, task.ID)
	}
	return result
}

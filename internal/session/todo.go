package session

import (
	"fmt"
	"strings"

	"github.com/opencode-ai/streamd/pkg/types"
)

// OrderingGap is the spacing between todo ordering keys after a rebalance
// and for items appended at either end of the list.
const OrderingGap = 1024

// PlanTodos applies a todo list update to the current list.
//
// desired is the complete list in display order. Items with a zero id are
// new and receive ids starting at nextID. Existing items keep their ordering
// key while it still sorts correctly; moved and new items get a key between
// their neighbours. When neighbouring keys leave no room the whole list is
// renumbered with OrderingGap spacing.
//
// PlanTodos returns the list with ids and ordering keys assigned and the
// next free id.
func PlanTodos(current, desired []types.Todo, nextID int) ([]types.Todo, int, error) {
	if nextID < 1 {
		nextID = 1
	}

	existing := make(map[int]types.Todo, len(current))
	for _, t := range current {
		existing[t.ID] = t
		if t.ID >= nextID {
			nextID = t.ID + 1
		}
	}

	planned := make([]types.Todo, len(desired))
	seen := make(map[int]bool, len(desired))
	inProgress := 0
	for i, t := range desired {
		if !t.Status.Valid() {
			return nil, nextID, fmt.Errorf("todo %q: unknown status %q", t.Content, t.Status)
		}
		if t.Status == types.TodoInProgress {
			inProgress++
		}
		if t.ID < 0 {
			return nil, nextID, fmt.Errorf("todo %q: invalid id %d", t.Content, t.ID)
		}
		if t.ID != 0 && seen[t.ID] {
			return nil, nextID, fmt.Errorf("todo id %d listed twice", t.ID)
		}
		seen[t.ID] = true
		planned[i] = t
	}
	if inProgress > 1 {
		return nil, nextID, fmt.Errorf("%w (got %d)", ErrMultipleInProgress, inProgress)
	}

	// Ids first, so a new item can never take the id of an item further down.
	for i := range planned {
		if planned[i].ID == 0 {
			continue
		}
		if planned[i].ID >= nextID {
			nextID = planned[i].ID + 1
		}
	}
	for i := range planned {
		if planned[i].ID == 0 {
			planned[i].ID = nextID
			nextID++
		}
	}

	// Keep the keys of existing items that are still in ascending order.
	keep := make([]bool, len(planned))
	last, haveLast := 0, false
	for i, t := range planned {
		prev, ok := existing[t.ID]
		if !ok {
			continue
		}
		if !haveLast || prev.Ordering > last {
			planned[i].Ordering = prev.Ordering
			keep[i] = true
			last, haveLast = prev.Ordering, true
		}
	}

	if !fillOrdering(planned, keep) {
		rebalance(planned)
	}
	return planned, nextID, nil
}

// fillOrdering assigns keys to every item not marked in keep, spreading each
// run evenly between the kept keys around it. It reports false when a run
// does not fit.
func fillOrdering(todos []types.Todo, keep []bool) bool {
	i := 0
	for i < len(todos) {
		if keep[i] {
			i++
			continue
		}
		start := i
		for i < len(todos) && !keep[i] {
			i++
		}
		n := i - start

		var lo, hi int
		switch {
		case start > 0 && i < len(todos):
			lo, hi = todos[start-1].Ordering, todos[i].Ordering
		case start > 0:
			lo = todos[start-1].Ordering
			hi = lo + OrderingGap*(n+1)
		case i < len(todos):
			hi = todos[i].Ordering
			lo = hi - OrderingGap*(n+1)
		default:
			lo, hi = 0, OrderingGap*(n+1)
		}

		if n == 1 {
			mid, ok := Midpoint(lo, hi)
			if !ok {
				return false
			}
			todos[start].Ordering = mid
			continue
		}

		step := (hi - lo) / (n + 1)
		if step < 1 {
			return false
		}
		for k := 0; k < n; k++ {
			todos[start+k].Ordering = lo + step*(k+1)
		}
	}
	return true
}

func rebalance(todos []types.Todo) {
	for i := range todos {
		todos[i].Ordering = (i + 1) * OrderingGap
	}
}

// Midpoint returns the key halfway between lo and hi, or false when they are
// adjacent and a rebalance is needed.
func Midpoint(lo, hi int) (int, bool) {
	if hi-lo < 2 {
		return 0, false
	}
	return lo + (hi-lo)/2, true
}

// RenderTodos formats a todo snapshot for model context. Removed items are
// left out; an empty result means there is nothing to show.
func RenderTodos(todos []types.Todo) string {
	var lines []string
	for _, t := range todos {
		switch t.Status {
		case types.TodoCompleted:
			lines = append(lines, fmt.Sprintf("- [x] %s", t.Content))
		case types.TodoInProgress:
			lines = append(lines, fmt.Sprintf("- [>] %s (%s)", t.Content, t.ActiveForm))
		case types.TodoPending:
			lines = append(lines, fmt.Sprintf("- [ ] %s", t.Content))
		}
	}
	if len(lines) == 0 {
		return ""
	}

	return "<todo_list>\n" + strings.Join(lines, "\n") + "\n</todo_list>"
}

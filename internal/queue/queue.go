// Package queue manages the playback queue.
package queue

import (
	"errors"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/samber/mo"

	"github.com/austinkregel/local-media/playerd/internal/types"
)

// ErrNotFound is returned when an item is not in the queue
var ErrNotFound = errors.New("queue: item not found")

// Selection is the current item and when it was last selected
type Selection[T any] struct {
	Item      T         `json:"item"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ChangeCallback is called when the queue state changes
type ChangeCallback func()

// MediaQueue is an ordered set of items with shuffle, repeat and a current
// selection. Items are identified by value, so each appears at most once.
type MediaQueue[T comparable] struct {
	mu        sync.RWMutex
	items     []T
	effective []T // items, or a seeded permutation of them while shuffled
	shuffle   bool
	seed      uint64
	repeat    types.RepeatMode
	selection mo.Option[Selection[T]]
	onChange  ChangeCallback

	newSeed func() uint64
	now     func() time.Time
}

// New creates an empty queue
func New[T comparable]() *MediaQueue[T] {
	return &MediaQueue[T]{
		newSeed: rand.Uint64,
		now:     time.Now,
	}
}

// SetOnChange sets a callback to be called when the queue state changes
func (q *MediaQueue[T]) SetOnChange(callback ChangeCallback) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onChange = callback
}

// update runs fn under the lock and notifies when it reports a change
func (q *MediaQueue[T]) update(fn func() bool) bool {
	q.mu.Lock()
	changed := fn()
	callback := q.onChange
	q.mu.Unlock()

	if changed && callback != nil {
		callback()
	}
	return changed
}

// Add appends items that are not queued yet
func (q *MediaQueue[T]) Add(items ...T) {
	q.update(func() bool {
		added := false
		for _, item := range items {
			if slices.Contains(q.items, item) {
				continue
			}
			q.items = append(q.items, item)
			q.effective = append(q.effective, item)
			added = true
		}
		return added
	})
}

// Delete removes item. A deleted selection moves to the next item, else
// the previous one, else nothing.
func (q *MediaQueue[T]) Delete(item T) bool {
	return q.update(func() bool {
		at := slices.Index(q.effective, item)
		if at < 0 {
			return false
		}
		q.items = slices.DeleteFunc(q.items, func(v T) bool { return v == item })
		q.effective = slices.Delete(q.effective, at, at+1)

		if sel, ok := q.selection.Get(); ok && sel.Item == item {
			switch {
			case at < len(q.effective):
				q.selectLocked(q.effective[at])
			case at > 0:
				q.selectLocked(q.effective[at-1])
			default:
				q.selection = mo.None[Selection[T]]()
			}
		}
		return true
	})
}

// Replace swaps from for to in place, keeping the selection on it
func (q *MediaQueue[T]) Replace(from, to T) error {
	err := ErrNotFound
	q.update(func() bool {
		i := slices.Index(q.items, from)
		if i < 0 {
			return false
		}
		if from != to && slices.Contains(q.items, to) {
			err = errors.New("queue: replacement is already queued")
			return false
		}
		err = nil
		q.items[i] = to
		q.effective[slices.Index(q.effective, from)] = to
		if sel, ok := q.selection.Get(); ok && sel.Item == from {
			q.selectLocked(to)
		}
		return true
	})
	return err
}

// Clear removes every item and the selection
func (q *MediaQueue[T]) Clear() {
	q.update(func() bool {
		q.items, q.effective = nil, nil
		q.selection = mo.None[Selection[T]]()
		return true
	})
}

// Select makes item current; None clears the selection
func (q *MediaQueue[T]) Select(item mo.Option[T]) error {
	var err error
	q.update(func() bool {
		v, ok := item.Get()
		if !ok {
			q.selection = mo.None[Selection[T]]()
			return true
		}
		if !slices.Contains(q.items, v) {
			err = ErrNotFound
			return false
		}
		q.selectLocked(v)
		return true
	})
	return err
}

func (q *MediaQueue[T]) selectLocked(item T) {
	q.selection = mo.Some(Selection[T]{Item: item, UpdatedAt: q.now()})
}

// Next advances the selection per the repeat mode and returns the new
// selection. It returns false when there is nowhere to go.
func (q *MediaQueue[T]) Next() (T, bool) {
	return q.move(nextIndex)
}

// Previous steps the selection back per the repeat mode
func (q *MediaQueue[T]) Previous() (T, bool) {
	return q.move(previousIndex)
}

func (q *MediaQueue[T]) move(step func(idx, n int, mode types.RepeatMode) (int, bool)) (T, bool) {
	var (
		item  T
		moved bool
	)
	q.update(func() bool {
		idx, ok := step(q.indexLocked(), len(q.effective), q.repeat)
		if !ok {
			return false
		}
		item, moved = q.effective[idx], true
		q.selectLocked(item)
		return true
	})
	return item, moved
}

// indexLocked returns the selection's position in the effective list or -1
func (q *MediaQueue[T]) indexLocked() int {
	sel, ok := q.selection.Get()
	if !ok {
		return -1
	}
	return slices.Index(q.effective, sel.Item)
}

// nextIndex computes where Next goes from idx (-1 for no selection)
func nextIndex(idx, n int, mode types.RepeatMode) (int, bool) {
	switch {
	case n == 0:
		return -1, false
	case idx < 0:
		return 0, true
	case mode == types.RepeatSingle:
		return idx, true
	case idx+1 < n:
		return idx + 1, true
	case mode == types.RepeatCircular:
		return (idx + 1) % n, true
	default:
		return idx, false
	}
}

// previousIndex computes where Previous goes from idx (-1 for no selection)
func previousIndex(idx, n int, mode types.RepeatMode) (int, bool) {
	switch {
	case n == 0 || idx < 0:
		return -1, false
	case mode == types.RepeatSingle:
		return idx, true
	case idx > 0:
		return idx - 1, true
	case mode == types.RepeatCircular:
		return (idx - 1 + n) % n, true
	default:
		return idx, false
	}
}

// HasNext reports whether Next would select something
func (q *MediaQueue[T]) HasNext() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, ok := nextIndex(q.indexLocked(), len(q.effective), q.repeat)
	return ok
}

// HasPrevious reports whether Previous would select something
func (q *MediaQueue[T]) HasPrevious() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, ok := previousIndex(q.indexLocked(), len(q.effective), q.repeat)
	return ok
}

// SetShuffleEnabled toggles shuffle. Enabling draws a new seed and
// permutes the items once, putting the selected item first.
func (q *MediaQueue[T]) SetShuffleEnabled(enabled bool) {
	q.update(func() bool {
		if enabled == q.shuffle {
			return false
		}
		q.shuffle = enabled
		if !enabled {
			q.effective = slices.Clone(q.items)
			return true
		}

		q.seed = q.newSeed()
		q.effective = permute(q.items, q.seed)
		if at := q.indexLocked(); at > 0 {
			q.effective[0], q.effective[at] = q.effective[at], q.effective[0]
		}
		return true
	})
}

// permute returns the permutation of items derived from seed
func permute[T any](items []T, seed uint64) []T {
	out := slices.Clone(items)
	r := rand.New(rand.NewPCG(seed, seed>>1|1))
	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// ShuffleEnabled returns whether shuffle is enabled
func (q *MediaQueue[T]) ShuffleEnabled() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.shuffle
}

// SetRepeatMode sets the repeat mode
func (q *MediaQueue[T]) SetRepeatMode(mode types.RepeatMode) {
	q.update(func() bool {
		changed := q.repeat != mode
		q.repeat = mode
		return changed
	})
}

// RepeatMode returns the current repeat mode
func (q *MediaQueue[T]) RepeatMode() types.RepeatMode {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.repeat
}

// Selection returns the current selection
func (q *MediaQueue[T]) Selection() mo.Option[Selection[T]] {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.selection
}

// Current returns the selected item, if any
func (q *MediaQueue[T]) Current() mo.Option[T] {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if sel, ok := q.selection.Get(); ok {
		return mo.Some(sel.Item)
	}
	return mo.None[T]()
}

// Items returns the items in insertion order
func (q *MediaQueue[T]) Items() []T {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return slices.Clone(q.items)
}

// EffectiveItems returns the items in play order
func (q *MediaQueue[T]) EffectiveItems() []T {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return slices.Clone(q.effective)
}

// Position returns the selection's index in play order (-1 when nothing is
// selected) and the queue size
func (q *MediaQueue[T]) Position() (int, int) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.indexLocked(), len(q.items)
}

// Snapshot is the persistable state of a queue
type Snapshot[T any] struct {
	Items     []T              `json:"items"`
	Effective []T              `json:"effective,omitempty"`
	Shuffle   bool             `json:"shuffle"`
	Seed      uint64           `json:"seed,omitempty"`
	Repeat    types.RepeatMode `json:"repeat"`
	Selected  mo.Option[T]     `json:"selected"`
}

// Snapshot captures the queue state
func (q *MediaQueue[T]) Snapshot() Snapshot[T] {
	q.mu.RLock()
	defer q.mu.RUnlock()

	snap := Snapshot[T]{
		Items:   slices.Clone(q.items),
		Shuffle: q.shuffle,
		Seed:    q.seed,
		Repeat:  q.repeat,
	}
	if q.shuffle {
		snap.Effective = slices.Clone(q.effective)
	}
	if sel, ok := q.selection.Get(); ok {
		snap.Selected = mo.Some(sel.Item)
	}
	return snap
}

// Restore replaces the queue state with snap. Duplicate items are dropped
// and a stored play order that does not match the items is regenerated.
func (q *MediaQueue[T]) Restore(snap Snapshot[T]) {
	q.update(func() bool {
		q.items = lo.Uniq(snap.Items)
		q.shuffle = snap.Shuffle
		q.seed = snap.Seed
		q.repeat = snap.Repeat
		q.effective = slices.Clone(q.items)

		if q.shuffle {
			if isPermutation(snap.Effective, q.items) {
				q.effective = slices.Clone(snap.Effective)
			} else {
				q.effective = permute(q.items, q.seed)
			}
		}

		q.selection = mo.None[Selection[T]]()
		if v, ok := snap.Selected.Get(); ok && slices.Contains(q.items, v) {
			q.selectLocked(v)
		}
		return true
	})
}

func isPermutation[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	return len(lo.Intersect(a, b)) == len(b) && len(lo.Uniq(a)) == len(a)
}

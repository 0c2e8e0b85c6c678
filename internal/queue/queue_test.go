package queue

import (
	"errors"
	"slices"
	"testing"

	"github.com/samber/mo"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/austinkregel/local-media/playerd/internal/types"
)

func newIntQueue(items ...int) *MediaQueue[int] {
	q := New[int]()
	q.newSeed = func() uint64 { return 42 }
	q.Add(items...)
	return q
}

func current(q *MediaQueue[int]) int {
	return q.Current().OrElse(-1)
}

func TestNavigation(t *testing.T) {
	Convey("Given items 1, 2, 3 with 1 selected", t, func() {
		q := newIntQueue(1, 2, 3)
		So(q.Select(mo.Some(1)), ShouldBeNil)

		Convey("With repeat none, next stops at the end", func() {
			q.SetRepeatMode(types.RepeatNone)
			q.Next()
			So(current(q), ShouldEqual, 2)
			q.Next()
			So(current(q), ShouldEqual, 3)
			So(q.HasNext(), ShouldBeFalse)

			_, moved := q.Next()
			So(moved, ShouldBeFalse)
			So(current(q), ShouldEqual, 3)
		})

		Convey("With repeat none, previous stops at the start", func() {
			So(q.HasPrevious(), ShouldBeFalse)
			_, moved := q.Previous()
			So(moved, ShouldBeFalse)
			So(current(q), ShouldEqual, 1)
		})

		Convey("With repeat circular, next wraps to the first item", func() {
			q.SetRepeatMode(types.RepeatCircular)
			q.Next()
			q.Next()
			item, moved := q.Next()
			So(moved, ShouldBeTrue)
			So(item, ShouldEqual, 1)
			So(q.HasNext(), ShouldBeTrue)
		})

		Convey("With repeat circular, previous wraps to the last item", func() {
			q.SetRepeatMode(types.RepeatCircular)
			item, moved := q.Previous()
			So(moved, ShouldBeTrue)
			So(item, ShouldEqual, 3)
		})

		Convey("With repeat single, next and previous stay put", func() {
			q.SetRepeatMode(types.RepeatSingle)
			item, moved := q.Next()
			So(moved, ShouldBeTrue)
			So(item, ShouldEqual, 1)
			item, moved = q.Previous()
			So(moved, ShouldBeTrue)
			So(item, ShouldEqual, 1)
		})
	})

	Convey("Given a queue with nothing selected", t, func() {
		q := newIntQueue(7, 8)

		Convey("Next selects the first item", func() {
			So(q.HasNext(), ShouldBeTrue)
			item, moved := q.Next()
			So(moved, ShouldBeTrue)
			So(item, ShouldEqual, 7)
		})

		Convey("Previous does nothing", func() {
			So(q.HasPrevious(), ShouldBeFalse)
			_, moved := q.Previous()
			So(moved, ShouldBeFalse)
			So(q.Selection().IsAbsent(), ShouldBeTrue)
		})
	})

	Convey("An empty queue has nowhere to go", t, func() {
		q := New[int]()
		So(q.HasNext(), ShouldBeFalse)
		So(q.HasPrevious(), ShouldBeFalse)
		_, moved := q.Next()
		So(moved, ShouldBeFalse)
	})
}

func TestIndexFunctions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		step     func(int, int, types.RepeatMode) (int, bool)
		idx, n   int
		mode     types.RepeatMode
		want     int
		wantMove bool
	}{
		{"next none middle", nextIndex, 1, 3, types.RepeatNone, 2, true},
		{"next none end", nextIndex, 2, 3, types.RepeatNone, 2, false},
		{"next circular end", nextIndex, 2, 3, types.RepeatCircular, 0, true},
		{"next single", nextIndex, 1, 3, types.RepeatSingle, 1, true},
		{"next unselected", nextIndex, -1, 3, types.RepeatSingle, 0, true},
		{"next empty", nextIndex, -1, 0, types.RepeatCircular, -1, false},
		{"previous none start", previousIndex, 0, 3, types.RepeatNone, 0, false},
		{"previous circular start", previousIndex, 0, 3, types.RepeatCircular, 2, true},
		{"previous middle", previousIndex, 2, 3, types.RepeatNone, 1, true},
		{"previous unselected", previousIndex, -1, 3, types.RepeatCircular, -1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, moved := tt.step(tt.idx, tt.n, tt.mode)
			if got != tt.want || moved != tt.wantMove {
				t.Errorf("got %d/%v, want %d/%v", got, moved, tt.want, tt.wantMove)
			}
		})
	}
}

func TestShuffle(t *testing.T) {
	Convey("Given ten items with 4 selected", t, func() {
		q := newIntQueue(0, 1, 2, 3, 4, 5, 6, 7, 8, 9)
		So(q.Select(mo.Some(4)), ShouldBeNil)

		Convey("Enabling shuffle permutes the play order and keeps the selection first", func() {
			q.SetShuffleEnabled(true)
			effective := q.EffectiveItems()
			So(effective[0], ShouldEqual, 4)
			So(current(q), ShouldEqual, 4)

			sorted := slices.Clone(effective)
			slices.Sort(sorted)
			So(sorted, ShouldResemble, q.Items())

			Convey("Mutations do not reshuffle", func() {
				q.Add(10)
				after := q.EffectiveItems()
				So(after[:10], ShouldResemble, effective)
				So(after[10], ShouldEqual, 10)
			})

			Convey("Disabling shuffle restores the original order and selection", func() {
				q.SetShuffleEnabled(false)
				So(q.EffectiveItems(), ShouldResemble, q.Items())
				So(current(q), ShouldEqual, 4)
			})
		})

		Convey("The same seed yields the same permutation", func() {
			a := newIntQueue(0, 1, 2, 3, 4, 5, 6, 7, 8, 9)
			b := newIntQueue(0, 1, 2, 3, 4, 5, 6, 7, 8, 9)
			a.SetShuffleEnabled(true)
			b.SetShuffleEnabled(true)
			So(a.EffectiveItems(), ShouldResemble, b.EffectiveItems())
		})
	})
}

func TestDelete(t *testing.T) {
	Convey("Given items 1, 2, 3", t, func() {
		q := newIntQueue(1, 2, 3)

		Convey("Deleting the selected item selects the next one", func() {
			So(q.Select(mo.Some(2)), ShouldBeNil)
			So(q.Delete(2), ShouldBeTrue)
			So(current(q), ShouldEqual, 3)
			So(q.Items(), ShouldResemble, []int{1, 3})
		})

		Convey("Deleting the selected last item selects the previous one", func() {
			So(q.Select(mo.Some(3)), ShouldBeNil)
			q.Delete(3)
			So(current(q), ShouldEqual, 2)
		})

		Convey("Deleting the only item clears the selection", func() {
			q.Delete(1)
			q.Delete(2)
			So(q.Select(mo.Some(3)), ShouldBeNil)
			q.Delete(3)
			So(q.Selection().IsAbsent(), ShouldBeTrue)
		})

		Convey("Deleting an unselected item keeps the selection", func() {
			So(q.Select(mo.Some(3)), ShouldBeNil)
			q.Delete(1)
			So(current(q), ShouldEqual, 3)
		})

		Convey("Deleting a missing item reports false", func() {
			So(q.Delete(9), ShouldBeFalse)
		})
	})
}

func TestMutations(t *testing.T) {
	t.Parallel()
	q := newIntQueue(1, 2, 3)

	changes := 0
	q.SetOnChange(func() { changes++ })

	q.Add(2, 4)
	if got := q.Items(); !slices.Equal(got, []int{1, 2, 3, 4}) {
		t.Errorf("got %v, want duplicates skipped", got)
	}

	if err := q.Select(mo.Some(2)); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if err := q.Replace(2, 20); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if got := current(q); got != 20 {
		t.Errorf("got selection %d, want 20", got)
	}
	if err := q.Replace(99, 5); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want %v", err, ErrNotFound)
	}
	if err := q.Replace(1, 3); err == nil {
		t.Error("expected replacing with a queued item to fail")
	}
	if err := q.Select(mo.Some(99)); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want %v", err, ErrNotFound)
	}

	if err := q.Select(mo.None[int]()); err != nil || q.Selection().IsPresent() {
		t.Errorf("expected None to clear the selection, got %v", err)
	}

	q.Clear()
	if idx, n := q.Position(); idx != -1 || n != 0 {
		t.Errorf("got position %d/%d after Clear, want -1/0", idx, n)
	}
	if changes != 5 {
		t.Errorf("got %d change notifications, want 5", changes)
	}
}

func TestSelectionTimestamp(t *testing.T) {
	t.Parallel()
	q := newIntQueue(1, 2)
	q.Next()
	first, _ := q.Selection().Get()

	q.SetRepeatMode(types.RepeatSingle)
	q.Next()
	second, _ := q.Selection().Get()

	if second.Item != first.Item {
		t.Errorf("got %d, want %d", second.Item, first.Item)
	}
	if second.UpdatedAt.Before(first.UpdatedAt) {
		t.Error("expected repeat to refresh the selection time")
	}
}

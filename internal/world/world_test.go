package world

import (
	"errors"
	"testing"

	"github.com/danmuck/replica/internal/entity"
	"github.com/danmuck/replica/internal/testutil/testlog"
)

func TestChangeTicksTrackInsertAndMutate(t *testing.T) {
	testlog.Start(t)

	w := New()
	e := w.Spawn()
	if err := w.Insert(e, 1, 10); err != nil {
		t.Fatalf("insert: %v", err)
	}
	first := w.ChangeTick()
	w.AdvanceChangeTick()

	if err := w.Mutate(e, 1, 11); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	now := w.ChangeTick()

	var got ComponentInfo
	w.Components(e, func(c ComponentInfo) { got = c })
	if got.AddedSince(first, now) {
		t.Fatalf("expected insert to be before since tick")
	}
	if !got.ChangedSince(first, now) {
		t.Fatalf("expected change after since tick")
	}
	if got.Value != 11 {
		t.Fatalf("unexpected value=%v", got.Value)
	}
	if err := w.Mutate(e, 2, 1); !errors.Is(err, ErrNoComponent) {
		t.Fatalf("expected ErrNoComponent, got %v", err)
	}
}

func TestHooksFireOnRemoveAndDespawn(t *testing.T) {
	testlog.Start(t)

	w := New()
	var removed []ComponentID
	var despawned []entity.Entity
	w.OnRemove(func(_ entity.Entity, id ComponentID) { removed = append(removed, id) })
	w.OnDespawn(func(e entity.Entity) { despawned = append(despawned, e) })

	e := w.Spawn()
	_ = w.Insert(e, 3, "x")
	if !w.Remove(e, 3) || w.Remove(e, 3) {
		t.Fatalf("unexpected remove results")
	}
	if !w.Despawn(e) || w.Despawn(e) {
		t.Fatalf("unexpected despawn results")
	}
	if len(removed) != 1 || removed[0] != 3 {
		t.Fatalf("unexpected removed=%v", removed)
	}
	if len(despawned) != 1 || despawned[0] != e {
		t.Fatalf("unexpected despawned=%v", despawned)
	}
}

func TestReplicatedIterationIsOrdered(t *testing.T) {
	testlog.Start(t)

	w := New()
	var want []entity.Entity
	for i := 0; i < 8; i++ {
		e := w.Spawn()
		if i%2 == 0 {
			_ = w.SetReplicated(e)
			want = append(want, e)
		}
	}
	var got []entity.Entity
	w.Replicated(func(e entity.Entity) { got = append(got, e) })
	if len(got) != len(want) {
		t.Fatalf("unexpected count=%d want=%d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected order got=%v want=%v", got, want)
		}
	}
}

func TestReserveMaterializesOnInsert(t *testing.T) {
	testlog.Start(t)

	w := New()
	e := w.Reserve()
	if !w.Contains(e) || !w.IsReserved(e) {
		t.Fatalf("expected reserved entity")
	}
	_ = w.Insert(e, 1, 1)
	if w.IsReserved(e) {
		t.Fatalf("expected insert to materialize")
	}
}

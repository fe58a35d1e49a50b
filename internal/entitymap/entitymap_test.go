package entitymap

import (
	"math/rand"
	"testing"

	"github.com/danmuck/replica/internal/entity"
	"github.com/danmuck/replica/internal/testutil/testlog"
)

func checkInverse(t *testing.T, m *Map) {
	t.Helper()
	if len(m.toClient) != len(m.toServer) {
		t.Fatalf("unexpected cardinality to_client=%d to_server=%d", len(m.toClient), len(m.toServer))
	}
	for server, client := range m.toClient {
		if back, ok := m.toServer[client]; !ok || back != server {
			t.Fatalf("unexpected inverse server=%v client=%v back=%v ok=%v", server, client, back, ok)
		}
	}
}

func TestGetOrCreateSpawnsOnce(t *testing.T) {
	testlog.Start(t)

	m := New()
	spawned := 0
	spawn := func() entity.Entity {
		spawned++
		return entity.New(100, 0)
	}
	server := entity.New(1, 0)
	first := m.GetOrCreate(server, spawn)
	second := m.GetOrCreate(server, spawn)
	if first != second || spawned != 1 {
		t.Fatalf("unexpected get_or_create first=%v second=%v spawned=%d", first, second, spawned)
	}
	if back, ok := m.ToServer(first); !ok || back != server {
		t.Fatalf("unexpected reverse lookup=%v ok=%v", back, ok)
	}
}

func TestRemoveEitherSideRemovesBoth(t *testing.T) {
	testlog.Start(t)

	m := New()
	m.Insert(entity.New(1, 0), entity.New(10, 0))
	m.Insert(entity.New(2, 0), entity.New(20, 0))

	if client, ok := m.RemoveByServer(entity.New(1, 0)); !ok || client != entity.New(10, 0) {
		t.Fatalf("unexpected remove by server client=%v ok=%v", client, ok)
	}
	if server, ok := m.RemoveByClient(entity.New(20, 0)); !ok || server != entity.New(2, 0) {
		t.Fatalf("unexpected remove by client server=%v ok=%v", server, ok)
	}
	if m.Len() != 0 {
		t.Fatalf("unexpected len=%d", m.Len())
	}
	checkInverse(t, m)
}

func TestConflictingInsertNewerWins(t *testing.T) {
	testlog.Start(t)

	m := New()
	m.Insert(entity.New(1, 0), entity.New(10, 0))
	m.Insert(entity.New(1, 0), entity.New(11, 0))
	if _, ok := m.ToServer(entity.New(10, 0)); ok {
		t.Fatalf("expected stale reverse entry to be removed")
	}

	m.Insert(entity.New(2, 0), entity.New(11, 0))
	if _, ok := m.ToClient(entity.New(1, 0)); ok {
		t.Fatalf("expected stale forward entry to be removed")
	}
	if client, _ := m.ToClient(entity.New(2, 0)); client != entity.New(11, 0) {
		t.Fatalf("unexpected client=%v", client)
	}
	checkInverse(t, m)
}

func TestInverseInvariantUnderRandomOps(t *testing.T) {
	testlog.Start(t)

	rng := rand.New(rand.NewSource(42))
	m := New()
	pick := func() entity.Entity {
		return entity.New(uint32(rng.Intn(32)), uint32(rng.Intn(2)))
	}
	for i := 0; i < 5000; i++ {
		switch rng.Intn(5) {
		case 0, 1:
			m.Insert(pick(), pick())
		case 2:
			m.RemoveByServer(pick())
		case 3:
			m.RemoveByClient(pick())
		case 4:
			m.GetOrCreate(pick(), pick)
		}
		checkInverse(t, m)
	}
	m.Clear()
	checkInverse(t, m)
	if m.Len() != 0 {
		t.Fatalf("unexpected len after clear=%d", m.Len())
	}
}

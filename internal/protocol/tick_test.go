package protocol

import (
	"math"
	"math/rand"
	"testing"

	"github.com/danmuck/replica/internal/testutil/testlog"
)

func TestTickOrderingWraps(t *testing.T) {
	testlog.Start(t)

	max := Tick(math.MaxUint32)
	if !max.Less(max.Next()) {
		t.Fatalf("expected max < max+1 after wrap")
	}
	if max.Next() != 0 {
		t.Fatalf("unexpected wrap value=%d", max.Next())
	}
	if !Tick(0).Greater(max) {
		t.Fatalf("expected 0 > max across wrap")
	}
	if Tick(5).Compare(5) != 0 {
		t.Fatalf("expected equal ticks to compare 0")
	}
	if Tick(5).Since(max) != 6 {
		t.Fatalf("unexpected distance=%d", Tick(5).Since(max))
	}
}

func TestTickCompareMatchesSignedDifference(t *testing.T) {
	testlog.Start(t)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10000; i++ {
		base := Tick(rng.Uint32())
		delta := int64(rng.Int63n(math.MaxInt32)) - math.MaxInt32/2
		other := Tick(uint32(int64(base) + delta))

		want := 0
		if delta > 0 {
			want = -1
		} else if delta < 0 {
			want = 1
		}
		if got := base.Compare(other); got != want {
			t.Fatalf("unexpected compare base=%d other=%d delta=%d got=%d", base, other, delta, got)
		}
	}
}

func TestMutateIndexAdvanceWraps(t *testing.T) {
	testlog.Start(t)

	idx := MutateIndex(math.MaxUint16)
	if got := idx.Advance(); got != math.MaxUint16 {
		t.Fatalf("unexpected advance return=%d", got)
	}
	if idx != 0 {
		t.Fatalf("unexpected wrapped index=%d", idx)
	}
}

func TestUpdateFlagsLast(t *testing.T) {
	testlog.Start(t)

	if UpdateFlags(0).Last() != 0 {
		t.Fatalf("expected empty flags to have no last")
	}
	flags := UpdateMappings | UpdateRemovals
	if flags.Last() != UpdateRemovals {
		t.Fatalf("unexpected last=%v", flags.Last())
	}
	all := UpdateMappings | UpdateDespawns | UpdateRemovals | UpdateChanges
	if all.Last() != UpdateChanges {
		t.Fatalf("unexpected last=%v", all.Last())
	}
	if all.String() != "mappings|despawns|removals|changes" {
		t.Fatalf("unexpected string=%q", all.String())
	}
}

func TestChannelDelivery(t *testing.T) {
	testlog.Start(t)

	for _, ch := range []Channel{ChannelUpdates, ChannelAcks, ChannelHandshake, ChannelServerEvents, ChannelClientEvents} {
		if ch.Delivery() != Reliable || !ch.Valid() {
			t.Fatalf("expected %s to be a valid reliable channel", ch)
		}
	}
	if ChannelMutations.Delivery() != Unreliable {
		t.Fatalf("expected mutations to be unreliable")
	}
	if Channel(9).Valid() || Channel(9).String() != "channel(9)" {
		t.Fatalf("unexpected unknown channel handling")
	}
}

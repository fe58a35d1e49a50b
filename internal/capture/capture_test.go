package capture

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/replica/internal/backend"
	"github.com/danmuck/replica/internal/client"
	"github.com/danmuck/replica/internal/demo"
	"github.com/danmuck/replica/internal/entity"
	"github.com/danmuck/replica/internal/protocol"
	"github.com/danmuck/replica/internal/server"
	"github.com/danmuck/replica/internal/testutil/testlog"
	"github.com/danmuck/replica/internal/world"
	"github.com/google/uuid"
)

func TestRecordsRoundTrip(t *testing.T) {
	testlog.Start(t)

	path := filepath.Join(t.TempDir(), "caps", "run.cap.zst")
	w, err := Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := backend.NewClientID()
	at := time.Unix(1700000000, 42)
	want := []Record{
		{Dir: Outbound, Channel: protocol.ChannelUpdates, Client: id, At: at, Payload: []byte{1, 2, 3}},
		{Dir: Inbound, Channel: protocol.ChannelAcks, Client: id, At: at.Add(time.Millisecond), Payload: []byte{}},
		{Dir: Outbound, Channel: protocol.ChannelMutations, Client: id, At: at.Add(2 * time.Millisecond), Payload: bytes.Repeat([]byte{9}, 4096)},
	}
	for _, rec := range want {
		if err := w.Write(rec); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if w.Records() != 3 {
		t.Fatalf("expected 3 records, got %d", w.Records())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := w.Write(want[0]); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()
	for i, exp := range want {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if got.Dir != exp.Dir || got.Channel != exp.Channel || got.Client != exp.Client || !got.At.Equal(exp.At) || !bytes.Equal(got.Payload, exp.Payload) {
			t.Fatalf("record %d mismatch got=%+v", i, got)
		}
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReaderRejectsForeignStream(t *testing.T) {
	testlog.Start(t)

	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data := buf.Bytes()
	if _, err := NewReader(bytes.NewReader(data)); err != nil {
		t.Fatalf("empty capture should open: %v", err)
	}

	buf.Reset()
	enc, _ := NewWriter(&buf)
	_ = enc.Write(Record{Dir: Direction(7), Channel: protocol.ChannelUpdates})
	_ = enc.Close()
	r, err := NewReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	if _, err := r.Next(); !errors.Is(err, ErrBadDirection) {
		t.Fatalf("expected ErrBadDirection, got %v", err)
	}
	_ = r.Close()
}

func TestReplayRebuildsClientMirror(t *testing.T) {
	testlog.Start(t)

	var buf bytes.Buffer
	rec, err := NewWriter(&buf)
	if err != nil {
		t.Fatalf("writer: %v", err)
	}

	lb := backend.NewLoopback(1200, nil)
	serverWorld := world.New()
	srv := server.New(serverWorld, demo.Registry(), server.DefaultConfig())
	sim := demo.NewSim(serverWorld, 8, 3)
	sim.RespawnEvery = 20

	liveWorld := world.New()
	live := client.New(lb.Connect(), client.NewReceiver(liveWorld, demo.Registry(), client.DefaultConfig()), srv.ProtocolHash())
	send := server.SendTo(lb, rec)
	for i := 0; i < 80; i++ {
		srv.Poll(lb, rec)
		sim.Step(srv.Tick().Next())
		if err := srv.Step(send); err != nil {
			t.Fatalf("server step: %v", err)
		}
		if err := live.Step(); err != nil {
			t.Fatalf("client step: %v", err)
		}
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	r, err := NewReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	defer r.Close()
	replayWorld := world.New()
	recv := client.NewReceiver(replayWorld, demo.Registry(), client.DefaultConfig())
	stats, err := Replay(r, uuid.Nil, recv)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if stats.Applied == 0 || stats.Skipped == 0 {
		t.Fatalf("expected applied messages and skipped acks, got %+v", stats)
	}
	if stats.LastTick != live.Receiver().UpdateTick() {
		t.Fatalf("replay tick %d, live tick %d", stats.LastTick, live.Receiver().UpdateTick())
	}

	liveMap := live.Receiver().Entities()
	if recv.Entities().Len() != liveMap.Len() {
		t.Fatalf("replay has %d entities, live has %d", recv.Entities().Len(), liveMap.Len())
	}
	liveMap.Range(func(remote, local entity.Entity) bool {
		replayed, ok := recv.Entities().ToClient(remote)
		if !ok {
			t.Fatalf("entity %v missing from replay", remote)
		}
		for _, id := range []world.ComponentID{demo.PositionID, demo.VelocityID, demo.LabelID} {
			want, has := liveWorld.Get(local, id)
			got, gotHas := replayWorld.Get(replayed, id)
			if has != gotHas || want != got {
				t.Fatalf("entity %v component %d differs want=%v got=%v", remote, id, want, got)
			}
		}
		return true
	})
}

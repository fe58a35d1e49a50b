package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/replica/internal/capture"
	"github.com/danmuck/replica/internal/client"
	"github.com/danmuck/replica/internal/demo"
	"github.com/danmuck/replica/internal/world"
	"github.com/google/uuid"
)

func main() {
	path := flag.String("capture", "", "capture file written by replicad or replica-client")
	clientID := flag.String("client", "", "client id to follow (default: first client in the capture)")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "missing -capture")
		os.Exit(2)
	}
	id := uuid.Nil
	if *clientID != "" {
		parsed, err := uuid.Parse(*clientID)
		if err != nil {
			fmt.Fprintln(os.Stderr, "parse -client:", err)
			os.Exit(2)
		}
		id = parsed
	}

	r, err := capture.Open(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open capture:", err)
		os.Exit(1)
	}
	defer r.Close()

	w := world.New()
	recv := client.NewReceiver(w, demo.Registry(), client.DefaultConfig())
	stats, err := capture.Replay(r, id, recv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	rs := recv.Stats()
	fmt.Printf("replay ok: records=%d applied=%d skipped=%d acks=%d tick=%d\n",
		stats.Records, stats.Applied, stats.Skipped, stats.Acks, stats.LastTick)
	fmt.Printf("mirror: %s mappings=%d despawns=%d buffered=%d duplicates=%d stale=%d\n",
		demo.Summary(w), rs.Mappings, rs.Despawns, recv.Buffered(), rs.Duplicates, rs.Stale)
}

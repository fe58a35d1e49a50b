// Package capture records replication traffic to a zstd-compressed file
// and reads it back for replay.
//
// A capture starts with the 8-byte magic "RPLCAP01" followed by records:
//
//	dir u8 | channel u8 | client [16]byte | unix nanos u64 | len u32 | payload
//
// Integers are little endian.
package capture

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/danmuck/replica/internal/backend"
	"github.com/danmuck/replica/internal/protocol"
	"github.com/klauspost/compress/zstd"
)

const (
	Magic     = "RPLCAP01"
	headerLen = 1 + 1 + 16 + 8 + 4
	// MaxPayload bounds a single recorded message on read.
	MaxPayload = 16 << 20
)

var (
	ErrBadMagic        = errors.New("capture: bad magic")
	ErrBadDirection    = errors.New("capture: bad direction")
	ErrPayloadTooLarge = errors.New("capture: payload too large")
	ErrClosed          = errors.New("capture: writer closed")
)

type Direction uint8

const (
	// Outbound is server to client.
	Outbound Direction = iota + 1
	// Inbound is received by whoever wrote the capture.
	Inbound
)

func (d Direction) String() string {
	switch d {
	case Outbound:
		return "out"
	case Inbound:
		return "in"
	default:
		return fmt.Sprintf("dir(%d)", uint8(d))
	}
}

type Record struct {
	Dir     Direction
	Channel protocol.Channel
	Client  backend.ClientID
	At      time.Time
	Payload []byte
}

// Writer appends records. It satisfies both server.Recorder and
// client.Recorder and is safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer
	now func() time.Time

	records uint64
}

// Create truncates path and writes the capture header.
func Create(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("capture.Create: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("capture.Create: %w", err)
	}
	w, err := NewWriter(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	w.f = f
	return w, nil
}

// NewWriter writes a capture to out. Close does not close out.
func NewWriter(out io.Writer) (*Writer, error) {
	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("capture.NewWriter: %w", err)
	}
	w := &Writer{
		enc: enc,
		w:   bufio.NewWriterSize(enc, 128*1024),
		now: time.Now,
	}
	if _, err := w.w.WriteString(Magic); err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("capture.NewWriter: %w", err)
	}
	return w, nil
}

func (w *Writer) RecordOutbound(client backend.ClientID, ch protocol.Channel, msg []byte) error {
	return w.Write(Record{Dir: Outbound, Channel: ch, Client: client, Payload: msg})
}

func (w *Writer) RecordInbound(client backend.ClientID, ch protocol.Channel, msg []byte) error {
	return w.Write(Record{Dir: Inbound, Channel: ch, Client: client, Payload: msg})
}

// Write appends r. A zero At is stamped with the current time.
func (w *Writer) Write(r Record) error {
	if len(r.Payload) > MaxPayload {
		return ErrPayloadTooLarge
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return ErrClosed
	}
	at := r.At
	if at.IsZero() {
		at = w.now()
	}

	var hdr [headerLen]byte
	hdr[0] = byte(r.Dir)
	hdr[1] = byte(r.Channel)
	copy(hdr[2:18], r.Client[:])
	binary.LittleEndian.PutUint64(hdr[18:26], uint64(at.UnixNano()))
	binary.LittleEndian.PutUint32(hdr[26:30], uint32(len(r.Payload)))
	if _, err := w.w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.w.Write(r.Payload); err != nil {
		return err
	}
	w.records++
	return nil
}

func (w *Writer) Records() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.records
}

// Flush pushes buffered records through the compressor.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return ErrClosed
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	err := w.w.Flush()
	if cerr := w.enc.Close(); err == nil {
		err = cerr
	}
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
		w.f = nil
	}
	w.w = nil
	w.enc = nil
	return err
}

// Reader iterates the records of a capture.
type Reader struct {
	dec *zstd.Decoder
	r   *bufio.Reader
	f   *os.File
}

func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture.Open: %w", err)
	}
	r, err := NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r.f = f
	return r, nil
}

func NewReader(in io.Reader) (*Reader, error) {
	dec, err := zstd.NewReader(in)
	if err != nil {
		return nil, fmt.Errorf("capture.NewReader: %w", err)
	}
	r := &Reader{dec: dec, r: bufio.NewReader(dec)}
	var magic [len(Magic)]byte
	if _, err := io.ReadFull(r.r, magic[:]); err != nil {
		dec.Close()
		return nil, fmt.Errorf("capture.NewReader: %w", err)
	}
	if string(magic[:]) != Magic {
		dec.Close()
		return nil, ErrBadMagic
	}
	return r, nil
}

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() (Record, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("capture.Next header: %w", err)
	}
	dir := Direction(hdr[0])
	if dir != Outbound && dir != Inbound {
		return Record{}, ErrBadDirection
	}
	ch := protocol.Channel(hdr[1])
	if !ch.Valid() {
		return Record{}, protocol.ErrUnknownChannel
	}
	size := binary.LittleEndian.Uint32(hdr[26:30])
	if size > MaxPayload {
		return Record{}, ErrPayloadTooLarge
	}
	rec := Record{
		Dir:     dir,
		Channel: ch,
		At:      time.Unix(0, int64(binary.LittleEndian.Uint64(hdr[18:26]))),
		Payload: make([]byte, size),
	}
	copy(rec.Client[:], hdr[2:18])
	if _, err := io.ReadFull(r.r, rec.Payload); err != nil {
		return Record{}, fmt.Errorf("capture.Next payload: %w", err)
	}
	return rec, nil
}

func (r *Reader) Close() error {
	r.dec.Close()
	if r.f != nil {
		return r.f.Close()
	}
	return nil
}

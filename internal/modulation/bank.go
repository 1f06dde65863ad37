package modulation

import (
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"time"

	"github.com/star/gnsssynth/internal/aligned"
	"github.com/star/gnsssynth/internal/codes"
	"github.com/star/gnsssynth/internal/gnss"
	"github.com/star/gnsssynth/internal/lock"
	"github.com/star/gnsssynth/internal/metrics"
)

// ErrRecycled is returned when rendering into a slice that was already recycled.
var ErrRecycled = errors.New("modulation: slice already recycled")

// maxPooledPerClass bounds the free buffers kept per size class.
const maxPooledPerClass = 32

// Key identifies one rendered component of one satellite signal in one slice.
type Key struct {
	Slice     time.Time
	Signal    string
	PRN       int
	Component codes.Component
}

// Sequence is a rendered chip stream. Chips[i] is rendered element
// FirstElement+i. It stays valid until its slice is recycled.
type Sequence struct {
	Key          Key
	FirstElement int64
	Chips        []int8

	buf  *aligned.Buffer[int8]
	refs int
}

type sliceEntry struct {
	sequences map[Key]*Sequence
	recycled  bool
}

// Bank is the pool of rendered sequences of a simulation run.
type Bank struct {
	mu     *lock.Mutex
	codes  codes.Source
	nav    codes.NavData
	slices map[int64]*sliceEntry
	free   map[int][]*aligned.Buffer[int8]
	inUse  int
	logger *slog.Logger
}

// NewBank creates an empty bank rendering codes from src modulated by nav.
func NewBank(src codes.Source, nav codes.NavData, logger *slog.Logger) *Bank {
	return &Bank{
		mu:     lock.New("modulation-bank", 0),
		codes:  src,
		nav:    nav,
		slices: make(map[int64]*sliceEntry),
		free:   make(map[int][]*aligned.Buffer[int8]),
		logger: logger,
	}
}

// Request describes one sequence to render.
type Request struct {
	Slice        time.Time
	Signal       gnss.Signal
	PRN          int
	Component    codes.Component
	FirstElement int64
	Count        int
}

// Acquire returns the sequence for req, rendering it on first use, and
// takes a reference on it. Repeated requests for the same key within a
// slice return the same Sequence and must cover the same element range.
func (b *Bank) Acquire(req Request) (*Sequence, error) {
	if req.Count <= 0 {
		return nil, fmt.Errorf("modulation: %s PRN %d: element count %d must be positive", req.Signal.Name, req.PRN, req.Count)
	}
	key := Key{Slice: req.Slice, Signal: req.Signal.Name, PRN: req.PRN, Component: req.Component}

	if err := b.mu.Lock(); err != nil {
		return nil, err
	}
	defer b.mu.Unlock()

	entry := b.slices[req.Slice.UnixNano()]
	if entry == nil {
		entry = &sliceEntry{sequences: make(map[Key]*Sequence)}
		b.slices[req.Slice.UnixNano()] = entry
	}
	if entry.recycled {
		return nil, fmt.Errorf("%w: %s", ErrRecycled, req.Slice.Format(time.RFC3339Nano))
	}

	if seq, ok := entry.sequences[key]; ok {
		if seq.FirstElement != req.FirstElement || len(seq.Chips) != req.Count {
			return nil, fmt.Errorf("modulation: %s PRN %d %s requested with a different range", req.Signal.Name, req.PRN, req.Component)
		}
		seq.refs++
		return seq, nil
	}

	code, err := b.codes.Code(req.Signal, req.PRN, req.Component)
	if err != nil {
		return nil, err
	}
	buf := b.take(req.Count)
	chips := buf.Slice()[:req.Count]
	if err := Render(chips, req.Signal, code, req.PRN, req.Component, b.nav, req.FirstElement); err != nil {
		b.put(buf)
		return nil, err
	}

	seq := &Sequence{Key: key, FirstElement: req.FirstElement, Chips: chips, buf: buf, refs: 1}
	entry.sequences[key] = seq
	b.inUse++
	metrics.SetBankBuffers(b.inUse)
	return seq, nil
}

// Release drops one reference. The buffer returns to the pool when the last
// reference goes.
func (b *Bank) Release(seq *Sequence) error {
	if err := b.mu.Lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	entry := b.slices[seq.Key.Slice.UnixNano()]
	if entry == nil || entry.sequences[seq.Key] != seq {
		return nil
	}
	seq.refs--
	if seq.refs <= 0 {
		b.drop(entry, seq)
	}
	return nil
}

// Recycle returns every buffer of a slice to the pool, whatever its
// reference count, and refuses further rendering for that slice. It must be
// called once per slice after generation finished, including slices that
// rendered nothing.
func (b *Bank) Recycle(slice time.Time) (int, error) {
	if err := b.mu.Lock(); err != nil {
		return 0, err
	}
	defer b.mu.Unlock()

	entry := b.slices[slice.UnixNano()]
	if entry == nil {
		entry = &sliceEntry{sequences: make(map[Key]*Sequence)}
		b.slices[slice.UnixNano()] = entry
	}
	if entry.recycled {
		return 0, fmt.Errorf("%w: %s", ErrRecycled, slice.Format(time.RFC3339Nano))
	}
	n := len(entry.sequences)
	for _, seq := range entry.sequences {
		b.drop(entry, seq)
	}
	entry.recycled = true
	b.logger.Debug("slice buffers recycled", "slice", slice, "sequences", n, "in_use", b.inUse)
	return n, nil
}

// Forget removes the bookkeeping of recycled slices older than before.
func (b *Bank) Forget(before time.Time) error {
	if err := b.mu.Lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	cut := before.UnixNano()
	for k, entry := range b.slices {
		if k < cut && entry.recycled {
			delete(b.slices, k)
		}
	}
	return nil
}

// InUse returns the number of live sequences.
func (b *Bank) InUse() (int, error) {
	if err := b.mu.Lock(); err != nil {
		return 0, err
	}
	defer b.mu.Unlock()
	return b.inUse, nil
}

func (b *Bank) drop(entry *sliceEntry, seq *Sequence) {
	delete(entry.sequences, seq.Key)
	b.put(seq.buf)
	seq.buf = nil
	seq.Chips = nil
	b.inUse--
	metrics.SetBankBuffers(b.inUse)
}

// sizeClass rounds n up to a power of two.
func sizeClass(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

func (b *Bank) take(n int) *aligned.Buffer[int8] {
	class := sizeClass(n)
	if list := b.free[class]; len(list) > 0 {
		buf := list[len(list)-1]
		b.free[class] = list[:len(list)-1]
		return buf
	}
	return aligned.New[int8](class)
}

func (b *Bank) put(buf *aligned.Buffer[int8]) {
	if buf == nil {
		return
	}
	class := buf.Len()
	if len(b.free[class]) >= maxPooledPerClass {
		buf.Close()
		return
	}
	b.free[class] = append(b.free[class], buf)
}

// Package arena owns the per-worker activation and gradient buffers of a network.
//
// Every buffer is addressed through a Handle. A handle names one logical
// buffer and resolves to a private, zeroed slice for each worker, so a
// worker only ever touches its own memory. Layers never allocate activation
// memory themselves: the orchestrator allocates one handle per edge of the
// layer chain and hands the same handle to the producer and the consumer.
package arena

import (
	"fmt"
	"unsafe"
)

// Align is the byte alignment of every slice handed out by an Arena.
const Align = 32

// Handle identifies a buffer allocated from an Arena.
type Handle int

// Invalid is the zero Handle; it is never returned by Alloc.
const Invalid Handle = 0

type slab struct {
	name  string
	size  int
	views [][]float32
}

// Edge records that a buffer written by Producer is read by Consumer.
type Edge struct {
	Handle   Handle
	Producer string
	Consumer string
}

// Arena allocates aligned per-worker buffers.
type Arena struct {
	workers int
	slabs   []slab
	edges   []Edge
}

// New returns an arena serving the given number of workers.
func New(workers int) *Arena {
	if workers <= 0 {
		workers = 1
	}
	// slot 0 backs Invalid
	return &Arena{workers: workers, slabs: make([]slab, 1)}
}

// Workers returns the number of per-worker copies of each buffer.
func (a *Arena) Workers() int {
	return a.workers
}

// Alloc reserves a named buffer of size float32 values for every worker.
func (a *Arena) Alloc(name string, size int) Handle {
	s := slab{name: name, size: size, views: make([][]float32, a.workers)}
	for w := range s.views {
		s.views[w] = Aligned(size)
	}
	a.slabs = append(a.slabs, s)
	return Handle(len(a.slabs) - 1)
}

// View returns worker's private slice for h.
func (a *Arena) View(h Handle, worker int) []float32 {
	return a.slab(h).views[worker]
}

// Views returns the slices of h indexed by worker.
func (a *Arena) Views(h Handle) [][]float32 {
	return a.slab(h).views
}

// Size returns the length of the buffer behind h.
func (a *Arena) Size(h Handle) int {
	return a.slab(h).size
}

// Name returns the name h was allocated with.
func (a *Arena) Name(h Handle) string {
	return a.slab(h).name
}

// Len returns the number of allocated handles.
func (a *Arena) Len() int {
	return len(a.slabs) - 1
}

// Connect records a producer/consumer edge over h.
func (a *Arena) Connect(h Handle, producer, consumer string) {
	a.slab(h)
	a.edges = append(a.edges, Edge{Handle: h, Producer: producer, Consumer: consumer})
}

// Edges returns the recorded buffer graph in insertion order.
func (a *Arena) Edges() []Edge {
	out := make([]Edge, len(a.edges))
	copy(out, a.edges)
	return out
}

func (a *Arena) slab(h Handle) *slab {
	if h <= Invalid || int(h) >= len(a.slabs) {
		panic(fmt.Sprintf("arena: invalid handle %d", h))
	}
	return &a.slabs[h]
}

// Aligned returns a zeroed slice of n float32 values whose first element
// sits on an Align-byte boundary.
func Aligned(n int) []float32 {
	const pad = Align / 4
	buf := make([]float32, n+pad)
	if n == 0 {
		return buf[:0]
	}
	off := 0
	if rem := uintptr(unsafe.Pointer(&buf[0])) % Align; rem != 0 {
		off = int((Align - rem) / 4)
	}
	return buf[off : off+n : off+n]
}

// Clear zeroes s.
func Clear(s []float32) {
	for i := range s {
		s[i] = 0
	}
}

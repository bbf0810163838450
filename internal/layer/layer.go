// Package layer provides the convolutional network layers.
//
// A layer owns its parameters, its optimizer state and its per-worker
// gradient accumulators. Activation and delta buffers belong to the arena
// and are handed to the layer when the network is wired.
package layer

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/blas/blas32"

	"github.com/FlavioCFOliveira/GoConvNet/internal/activations"
	"github.com/FlavioCFOliveira/GoConvNet/internal/arena"
	"github.com/FlavioCFOliveira/GoConvNet/internal/kernel"
	"github.com/FlavioCFOliveira/GoConvNet/internal/opt"
)

var (
	// ErrInvalidShape is returned when layer dimensions are inconsistent.
	ErrInvalidShape = errors.New("layer: invalid shape")
	// ErrNotBound is reported when a layer is used before Bind.
	ErrNotBound = errors.New("layer: not bound")
	// ErrBatchNotInitialized is returned by Update without a prior InitBatch.
	ErrBatchNotInitialized = errors.New("layer: update without InitBatch")
	// ErrBatchSize is returned by Update for a non-positive batch size.
	ErrBatchSize = errors.New("layer: batch size must be positive")
)

// Layer is one stage of a convolutional network.
//
// Forward and BackProp only touch the buffers of the given worker, so
// different workers may run them concurrently. InitBatch and Update touch
// shared state and must not overlap with any worker.
type Layer interface {
	Shape() Shape
	Kind() Kind

	// Bind attaches the layer to its arena buffers. It is called once.
	Bind(a *arena.Arena, io IO) error

	Forward(worker int)
	BackProp(worker int)

	// InitBatch clears every worker's gradient accumulators.
	InitBatch()
	// Update folds the accumulated gradients into the parameters.
	Update(batchSize int, learningRate float32) error

	NumParams() int
}

// Kind tells the layer variants apart.
type Kind int

const (
	KindConv Kind = iota
	KindDepthwise
	KindPointwise
	KindPool
	KindLinear
)

var kindNames = [...]string{"conv", "depthwise", "pointwise", "pool", "linear"}

// String returns the lower-case name of the layer kind.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Shape is the geometry of a layer. Volumes are square: Len is the side
// length and Depth the number of channels. Pad is the zero halo the layer
// expects around its input; OutPad is the halo around its output buffer and
// equals the next layer's Pad once the network is wired.
type Shape struct {
	KernelLen int
	InLen     int
	InDepth   int
	OutLen    int
	OutDepth  int
	Pad       int
	OutPad    int
}

// InPadLen returns the side length of the padded input buffer.
func (s Shape) InPadLen() int { return s.InLen + 2*s.Pad }

// InputSize is the length of the padded input buffer.
func (s Shape) InputSize() int {
	p := s.InPadLen()
	return p * p * s.InDepth
}

// OutputSize is the number of output values, without the halo.
func (s Shape) OutputSize() int { return s.OutLen * s.OutLen * s.OutDepth }

// OutBufferSize is the length of the output buffer including its halo.
func (s Shape) OutBufferSize() int {
	p := s.OutLen + 2*s.OutPad
	return p * p * s.OutDepth
}

// DeltaOutSize is the length of the gradient passed to the previous layer.
func (s Shape) DeltaOutSize() int { return s.InLen * s.InLen * s.InDepth }

func (s Shape) conv() kernel.ConvShape {
	return kernel.ConvShape{
		K:        s.KernelLen,
		InLen:    s.InLen,
		InDepth:  s.InDepth,
		Pad:      s.Pad,
		OutLen:   s.OutLen,
		OutDepth: s.OutDepth,
		OutPad:   s.OutPad,
	}
}

// IO names the arena buffers a layer reads and writes.
type IO struct {
	// Name prefixes the buffers the layer allocates for itself.
	Name string

	In       arena.Handle // padded input, written by the previous layer
	Out      arena.Handle // output with an OutPad halo, read by the next layer
	DeltaIn  arena.Handle // gradient of the output, written by the next layer
	DeltaOut arena.Handle // gradient of the input, read by the previous layer

	OutPad int
}

type options struct {
	kern kernel.Kernel
	seed int64
}

// Option configures a layer at construction.
type Option func(*options)

// WithKernel selects the arithmetic backend. The default is kernel.Default().
func WithKernel(k kernel.Kernel) Option {
	return func(o *options) { o.kern = k }
}

// WithSeed fixes the weight initialisation.
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

func newOptions(opts []Option) options {
	o := options{seed: time.Now().UnixNano()}
	for _, fn := range opts {
		fn(&o)
	}
	if o.kern == nil {
		o.kern = kernel.Default()
	}
	return o
}

// Base holds what every layer has in common: shape, activation, parameters
// with their optimizer state, and the buffers handed out by the arena.
type Base struct {
	shape Shape
	kind  Kind
	act   activations.Func
	kern  kernel.Kernel

	weights []float32
	biases  []float32
	wOpt    *opt.Adam
	bOpt    *opt.Adam

	arena *arena.Arena
	io    IO
	wGrad arena.Handle
	bGrad arena.Handle

	bound      bool
	batchReady bool
}

func newBase(kind Kind, s Shape, act activations.Func, numWeights, numBiases int, o options) (Base, error) {
	if err := act.Validate(); err != nil {
		return Base{}, err
	}
	if s.KernelLen <= 0 || s.InLen <= 0 || s.InDepth <= 0 || s.OutLen <= 0 || s.OutDepth <= 0 {
		return Base{}, fmt.Errorf("%w: %s %+v", ErrInvalidShape, kind, s)
	}
	b := Base{
		shape:   s,
		kind:    kind,
		act:     act,
		kern:    o.kern,
		weights: make([]float32, numWeights),
		biases:  make([]float32, numBiases),
		wOpt:    opt.NewAdam(numWeights),
		bOpt:    opt.NewAdam(numBiases),
	}

	// Glorot uniform; biases start at zero.
	m := math.Sqrt(6 / float64(s.KernelLen*s.KernelLen*(s.InDepth+s.OutDepth)))
	rng := rand.New(rand.NewSource(o.seed))
	for i := range b.weights {
		b.weights[i] = float32((rng.Float64()*2 - 1) * m)
	}
	return b, nil
}

// Shape returns the layer geometry.
func (b *Base) Shape() Shape { return b.shape }
// Kind returns the layer variant.
func (b *Base) Kind() Kind   { return b.kind }

// Activation returns the activation applied to the layer output.
func (b *Base) Activation() activations.Func { return b.act }

// NumParams returns the number of trainable values.
func (b *Base) NumParams() int { return len(b.weights) + len(b.biases) }

// bind validates the handles against the shape and allocates the gradient
// accumulators.
func (b *Base) bind(a *arena.Arena, io IO) error {
	if b.bound {
		return fmt.Errorf("layer %s: already bound", io.Name)
	}
	b.shape.OutPad = io.OutPad
	checks := []struct {
		what string
		h    arena.Handle
		want int
	}{
		{"input", io.In, b.shape.InputSize()},
		{"output", io.Out, b.shape.OutBufferSize()},
		{"delta in", io.DeltaIn, b.shape.OutputSize()},
		{"delta out", io.DeltaOut, b.shape.DeltaOutSize()},
	}
	for _, c := range checks {
		if c.h == arena.Invalid {
			return fmt.Errorf("%w: %s %s buffer missing", ErrInvalidShape, io.Name, c.what)
		}
		if got := a.Size(c.h); got != c.want {
			return fmt.Errorf("%w: %s %s buffer has %d values, want %d", ErrInvalidShape, io.Name, c.what, got, c.want)
		}
	}
	b.arena = a
	b.io = io
	if len(b.weights) > 0 {
		b.wGrad = a.Alloc(io.Name+".wgrad", len(b.weights))
		b.bGrad = a.Alloc(io.Name+".bgrad", len(b.biases))
	}
	b.bound = true
	return nil
}

func (b *Base) mustBeBound() {
	if !b.bound {
		panic(fmt.Errorf("%w: %s", ErrNotBound, b.kind))
	}
}

// InitBatch clears the per-worker gradient accumulators and marks the
// batch as started.
func (b *Base) InitBatch() {
	b.mustBeBound()
	if len(b.weights) > 0 {
		for _, g := range b.arena.Views(b.wGrad) {
			arena.Clear(g)
		}
		for _, g := range b.arena.Views(b.bGrad) {
			arena.Clear(g)
		}
	}
	b.batchReady = true
}

// Update sums the per-worker accumulators into worker 0's and takes one
// Adam step. A second Update needs a fresh InitBatch.
func (b *Base) Update(batchSize int, learningRate float32) error {
	if !b.bound {
		return fmt.Errorf("%w: %s", ErrNotBound, b.kind)
	}
	if !b.batchReady {
		return fmt.Errorf("%w: %s", ErrBatchNotInitialized, b.io.Name)
	}
	if batchSize <= 0 {
		return fmt.Errorf("%w: got %d", ErrBatchSize, batchSize)
	}
	b.batchReady = false
	if len(b.weights) == 0 {
		return nil
	}
	wg := reduce(b.arena.Views(b.wGrad))
	bg := reduce(b.arena.Views(b.bGrad))
	b.wOpt.Step(b.weights, wg, batchSize, learningRate)
	b.bOpt.Step(b.biases, bg, batchSize, learningRate)
	return nil
}

// reduce adds every worker's accumulator into the first and returns it.
func reduce(views [][]float32) []float32 {
	dst := blas32.Vector{N: len(views[0]), Inc: 1, Data: views[0]}
	for _, v := range views[1:] {
		blas32.Axpy(1, blas32.Vector{N: len(v), Inc: 1, Data: v}, dst)
	}
	return views[0]
}

// Weights returns the shared weight slice.
func (b *Base) Weights() []float32 { return b.weights }

// Biases returns the shared bias slice.
func (b *Base) Biases() []float32 { return b.biases }

// WeightGrad returns worker's weight gradient accumulator.
func (b *Base) WeightGrad(worker int) []float32 {
	b.mustBeBound()
	if len(b.weights) == 0 {
		return nil
	}
	return b.arena.View(b.wGrad, worker)
}

// BiasGrad returns worker's bias gradient accumulator.
func (b *Base) BiasGrad(worker int) []float32 {
	b.mustBeBound()
	if len(b.biases) == 0 {
		return nil
	}
	return b.arena.View(b.bGrad, worker)
}

// Input returns worker's padded input buffer.
func (b *Base) Input(worker int) []float32 {
	b.mustBeBound()
	return b.arena.View(b.io.In, worker)
}

// Output returns worker's output buffer, halo included.
func (b *Base) Output(worker int) []float32 {
	b.mustBeBound()
	return b.arena.View(b.io.Out, worker)
}

// DeltaIn returns the gradient of worker's output.
func (b *Base) DeltaIn(worker int) []float32 {
	b.mustBeBound()
	return b.arena.View(b.io.DeltaIn, worker)
}

// DeltaOut returns the gradient propagated to the previous layer.
func (b *Base) DeltaOut(worker int) []float32 {
	b.mustBeBound()
	return b.arena.View(b.io.DeltaOut, worker)
}

// Kernel returns the arithmetic backend in use.
func (b *Base) Kernel() kernel.Kernel { return b.kern }

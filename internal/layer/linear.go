package layer

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/FlavioCFOliveira/GoConvNet/internal/activations"
	"github.com/FlavioCFOliveira/GoConvNet/internal/arena"
)

// Linear is a fully connected layer over the flattened input volume.
// Weight [x][y] connects input x to output y.
type Linear struct {
	Base

	pre   arena.Handle // pre-activation sums
	delta arena.Handle
}

// NewLinear creates a layer mapping inSize inputs to outSize outputs.
func NewLinear(inSize, outSize int, act activations.Func, opts ...Option) (*Linear, error) {
	if inSize <= 0 || outSize <= 0 {
		return nil, fmt.Errorf("%w: linear %d -> %d", ErrInvalidShape, inSize, outSize)
	}
	s := Shape{KernelLen: 1, InLen: 1, InDepth: inSize, OutLen: 1, OutDepth: outSize}
	b, err := newBase(KindLinear, s, act, inSize*outSize, outSize, newOptions(opts))
	if err != nil {
		return nil, err
	}
	return &Linear{Base: b}, nil
}

// Bind attaches the layer to its arena buffers.
func (l *Linear) Bind(a *arena.Arena, io IO) error {
	if err := l.bind(a, io); err != nil {
		return err
	}
	l.pre = a.Alloc(io.Name+".pre", l.shape.OutDepth)
	l.delta = a.Alloc(io.Name+".delta", l.shape.OutDepth)
	return nil
}

func (l *Linear) matrix(data []float32) blas32.General {
	return blas32.General{Rows: l.shape.InDepth, Cols: l.shape.OutDepth, Stride: l.shape.OutDepth, Data: data}
}

func vector(data []float32) blas32.Vector {
	return blas32.Vector{N: len(data), Inc: 1, Data: data}
}

// outIndex maps output y to its place in the (possibly padded) output buffer.
func (l *Linear) outIndex(y int) int {
	return l.shape.conv().Out(0, 0, y)
}

// Forward computes act(W^T x + b) for worker's input.
func (l *Linear) Forward(worker int) {
	l.mustBeBound()
	in := l.arena.View(l.io.In, worker)
	out := l.arena.View(l.io.Out, worker)
	pre := l.arena.View(l.pre, worker)

	copy(pre, l.biases)
	blas32.Gemv(blas.Trans, 1, l.matrix(l.weights), vector(in), 1, vector(pre))
	for y, z := range pre {
		out[l.outIndex(y)] = l.act.Activate(z)
	}
}

// BackProp accumulates worker's weight and bias gradients and writes
// the input gradient.
func (l *Linear) BackProp(worker int) {
	l.mustBeBound()
	in := l.arena.View(l.io.In, worker)
	out := l.arena.View(l.io.Out, worker)
	deltaIn := l.arena.View(l.io.DeltaIn, worker)
	delta := l.arena.View(l.delta, worker)
	wGrad := l.arena.View(l.wGrad, worker)
	bGrad := l.arena.View(l.bGrad, worker)

	for y := range delta {
		delta[y] = deltaIn[y] * l.act.Derivative(out[l.outIndex(y)])
		bGrad[y] += delta[y]
	}
	blas32.Ger(1, vector(in), vector(delta), l.matrix(wGrad))
	blas32.Gemv(blas.NoTrans, 1, l.matrix(l.weights), vector(delta), 0, vector(l.arena.View(l.io.DeltaOut, worker)))
}
